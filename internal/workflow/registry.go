package workflow

import (
	"fmt"
	"time"

	"discflow/internal/config"
	"discflow/internal/plugin"
	"discflow/internal/services"
)

// BuildRegistry instantiates every configured plugin.
func BuildRegistry(cfg *config.Config) (*plugin.Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("%w: config is required", services.ErrConfiguration)
	}
	registry, err := plugin.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, def := range cfg.Plugins {
		kind, err := plugin.ParseKind(def.Kind)
		if err != nil {
			return nil, fmt.Errorf("plugin %q: %w", def.ID, err)
		}
		p := plugin.NewSimulated(plugin.SimulatedOptions{
			ID:            def.ID,
			Kind:          kind,
			Steps:         def.Steps,
			StepDelay:     time.Duration(def.StepDelayMS) * time.Millisecond,
			FailAtPercent: def.FailAtPercent,
			Panic:         def.Panic,
		})
		if err := registry.Register(p); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
