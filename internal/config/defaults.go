package config

const (
	defaultConfigPath       = "~/.config/discflow/config.toml"
	defaultStateDir         = "~/.local/share/discflow"
	defaultLogDir           = "~/.local/share/discflow/logs"
	defaultLogFormat        = "auto"
	defaultLogLevel         = "info"
	defaultProgressBucket   = 10
	defaultMinSampleSize    = 5
	defaultMaxSampleSize    = 10
	defaultCoalesceWindowMS = 100
	defaultMetricsBind      = "127.0.0.1:9477"
	defaultPluginSteps      = 10
	defaultPluginStepDelay  = 250
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Logging: Logging{
			Format:         defaultLogFormat,
			Level:          defaultLogLevel,
			ProgressBucket: defaultProgressBucket,
		},
		Progress: Progress{
			MinSampleSize:    defaultMinSampleSize,
			MaxSampleSize:    defaultMaxSampleSize,
			CoalesceWindowMS: defaultCoalesceWindowMS,
		},
		Metrics: Metrics{
			Enabled: false,
			Bind:    defaultMetricsBind,
		},
		History: History{
			Enabled: true,
		},
		Plugins: []Plugin{
			{ID: "bdrom-reader", Kind: "disc_reader", Steps: 20, StepDelayMS: defaultPluginStepDelay},
			{ID: "metadata-lookup", Kind: "metadata", Steps: 5, StepDelayMS: defaultPluginStepDelay},
			{ID: "feature-detector", Kind: "auto_detector", Steps: 5, StepDelayMS: defaultPluginStepDelay},
			{ID: "title-renamer", Kind: "renamer", Steps: 2, StepDelayMS: defaultPluginStepDelay},
			{ID: "mkv-muxer", Kind: "muxer", Steps: 40, StepDelayMS: defaultPluginStepDelay},
			{ID: "chapter-tagger", Kind: "post_processor", Steps: 4, StepDelayMS: defaultPluginStepDelay},
		},
		Stages: []Stage{
			{Name: "scan", Critical: []string{"bdrom-reader"}, Optional: []string{"metadata-lookup", "feature-detector"}},
			{Name: "convert", Critical: []string{"mkv-muxer"}, Optional: []string{"title-renamer", "chapter-tagger"}},
		},
	}
}
