package plugin

import (
	"context"
	"fmt"
	"strings"

	"discflow/internal/services"
)

// Kind is the role a plugin plays in a stage.
type Kind string

const (
	KindDiscReader    Kind = "disc_reader"
	KindMetadata      Kind = "metadata"
	KindAutoDetector  Kind = "auto_detector"
	KindRenamer       Kind = "renamer"
	KindMuxer         Kind = "muxer"
	KindPostProcessor Kind = "post_processor"
)

var kinds = []Kind{
	KindDiscReader,
	KindMetadata,
	KindAutoDetector,
	KindRenamer,
	KindMuxer,
	KindPostProcessor,
}

// Kinds lists the supported plugin kinds.
func Kinds() []Kind {
	out := make([]Kind, len(kinds))
	copy(out, kinds)
	return out
}

// ParseKind resolves a configured kind name.
func ParseKind(value string) (Kind, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for _, k := range kinds {
		if string(k) == normalized {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown plugin kind %q", services.ErrValidation, value)
}

// Reporter receives push-style progress from a running plugin.
type Reporter interface {
	ReportProgress(percent float64, status string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(percent float64, status string)

// ReportProgress implements Reporter.
func (f ReporterFunc) ReportProgress(percent float64, status string) {
	if f != nil {
		f(percent, status)
	}
}

// Plugin is one unit of work invoked by a phase. Invoke blocks until the work
// is finished and must poll ctx to honour cancellation.
type Plugin interface {
	ID() string
	Kind() Kind
	Invoke(ctx context.Context, progress Reporter) error
}

// Func adapts a function to Plugin.
type Func struct {
	PluginID   string
	PluginKind Kind
	Fn         func(ctx context.Context, progress Reporter) error
}

func (f Func) ID() string { return f.PluginID }

func (f Func) Kind() Kind { return f.PluginKind }

// Invoke implements Plugin.
func (f Func) Invoke(ctx context.Context, progress Reporter) error {
	if f.Fn == nil {
		return nil
	}
	return f.Fn(ctx, progress)
}
