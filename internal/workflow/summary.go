package workflow

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"discflow/internal/progress"
	"discflow/internal/services"
)

// Summary is the outcome of one stage run as reported back to the caller.
type Summary struct {
	RunID    string
	Stage    string
	Label    string
	Outcome  string
	Duration time.Duration
	Err      error
	// Plugins holds the final snapshot of every plugin the run invoked, in
	// the order they finished.
	Plugins []progress.Snapshot
}

// StageLabel renders a stage name for humans: "post_process" becomes
// "Post Process".
func StageLabel(name string) string {
	name = strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(name))
	if name == "" {
		return ""
	}
	return cases.Title(language.Und).String(name)
}

// collector accumulates the summary of the run in flight. Runner serializes
// runs, so there is at most one.
type collector struct {
	mu      sync.Mutex
	current *Summary
}

func (c *collector) begin(stage string) {
	c.mu.Lock()
	c.current = &Summary{Stage: stage, Label: StageLabel(stage)}
	c.mu.Unlock()
}

func (c *collector) plugin(snap progress.Snapshot) {
	if !snap.State.Terminal() {
		return
	}
	c.mu.Lock()
	if c.current != nil {
		c.current.Plugins = append(c.current.Plugins, snap)
	}
	c.mu.Unlock()
}

func (c *collector) finish(runID string, duration time.Duration, err error) Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Summary{RunID: runID, Outcome: services.Outcome(err), Err: err}
	}
	c.current.RunID = runID
	c.current.Duration = duration
	c.current.Err = err
	c.current.Outcome = services.Outcome(err)
	return *c.current
}

func (c *collector) take() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Summary{}
	}
	out := *c.current
	c.current = nil
	return out
}
