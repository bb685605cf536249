package plugin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"discflow/internal/services"
)

// SimulatedOptions configures a Simulated plugin.
type SimulatedOptions struct {
	ID        string
	Kind      Kind
	Steps     int
	StepDelay time.Duration
	// FailAtPercent makes the plugin fail once progress reaches the value.
	// Zero never fails.
	FailAtPercent float64
	// Panic turns the failure into a panic.
	Panic bool
}

// Simulated walks through a fixed number of steps, reporting progress after
// each one. It stands in for real plugins in the demo host and tests.
type Simulated struct {
	opts SimulatedOptions
}

// NewSimulated builds a simulated plugin. Steps default to 10.
func NewSimulated(opts SimulatedOptions) *Simulated {
	if opts.Steps <= 0 {
		opts.Steps = 10
	}
	if opts.StepDelay < 0 {
		opts.StepDelay = 0
	}
	opts.ID = strings.TrimSpace(opts.ID)
	return &Simulated{opts: opts}
}

func (s *Simulated) ID() string { return s.opts.ID }

func (s *Simulated) Kind() Kind { return s.opts.Kind }

// Invoke implements Plugin.
func (s *Simulated) Invoke(ctx context.Context, progress Reporter) error {
	if progress == nil {
		progress = ReporterFunc(nil)
	}
	stage, _ := services.StageFromContext(ctx)
	var timer *time.Timer
	if s.opts.StepDelay > 0 {
		timer = time.NewTimer(s.opts.StepDelay)
		defer timer.Stop()
	}
	for step := 1; step <= s.opts.Steps; step++ {
		if timer != nil {
			if step > 1 {
				timer.Reset(s.opts.StepDelay)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		percent := 100 * float64(step) / float64(s.opts.Steps)
		if s.opts.FailAtPercent > 0 && percent >= s.opts.FailAtPercent {
			msg := fmt.Sprintf("simulated failure at %.0f%%", percent)
			if s.opts.Panic {
				panic(msg)
			}
			return services.Wrap(services.ErrPlugin, stage, s.opts.ID, msg, nil)
		}
		progress.ReportProgress(percent, fmt.Sprintf("%s step %d/%d", s.opts.Kind, step, s.opts.Steps))
	}
	return nil
}
