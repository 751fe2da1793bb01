// Package config loads the engine's YAML/JSON5 configuration, resolving
// $include directives before decoding into the typed Config tree.
package config

import "time"

// Config is the root configuration tree for the engine. It is trimmed to
// the fields the executor, dispatcher, checkpoint store, and subagent
// manager actually read — no fields for tool implementations or surfaces
// that live outside this module (§1 Non-goals).
type Config struct {
	LLM    LLMConfig    `yaml:"llm"`
	Tools  ToolsConfig  `yaml:"tools"`
	Engine EngineConfig `yaml:"engine"`
}

// EngineConfig controls the executor loop, stuck detector, checkpoint
// store, and subagent manager.
type EngineConfig struct {
	// MaxIterations bounds a single invocation's LLM round-trips. Overridable
	// per agent definition.
	MaxIterations int `yaml:"max_iterations"`

	// StuckDetector configures repetition-based loop breaking (§4.4).
	StuckDetector StuckDetectorConfig `yaml:"stuck_detector"`

	// Checkpoint configures the transactional checkpoint store (§4.5).
	Checkpoint CheckpointConfig `yaml:"checkpoint"`

	// Subagents configures the subagent manager (§4.6).
	Subagents SubagentConfig `yaml:"subagents"`
}

// StuckDetectorConfig controls §4.4's FIFO repetition window.
type StuckDetectorConfig struct {
	WindowSize      int    `yaml:"window_size"`
	RepeatThreshold int    `yaml:"repeat_threshold"`
	Action          string `yaml:"action"` // "nudge" | "stop"
}

// CheckpointConfig controls §4.5's persistence and TTL sweep.
type CheckpointConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
	DatabasePath    string        `yaml:"database_path"`
}

// SubagentConfig controls §4.6's spawn limits.
type SubagentConfig struct {
	MaxParallelAgents  int           `yaml:"max_parallel_agents"`
	SubagentTimeout    time.Duration `yaml:"subagent_timeout"`
	MaxIterations      int           `yaml:"max_iterations"`
	MaxDepth           int           `yaml:"max_depth"`
}

// DefaultEngineConfig returns the engine defaults named throughout spec.md §4.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxIterations: 25,
		StuckDetector: StuckDetectorConfig{
			WindowSize:      10,
			RepeatThreshold: 3,
			Action:          "nudge",
		},
		Checkpoint: CheckpointConfig{
			TTL:           24 * time.Hour,
			SweepInterval: time.Hour,
			DatabasePath:  "restflow-checkpoints.db",
		},
		Subagents: SubagentConfig{
			MaxParallelAgents: 5,
			SubagentTimeout:   5 * time.Minute,
			MaxIterations:     10,
			MaxDepth:          3,
		},
	}
}

// LoadConfig reads and decodes the engine configuration at path, resolving
// $include directives and filling unset engine fields with their defaults.
func LoadConfig(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	applyEngineDefaults(&cfg.Engine)
	return cfg, nil
}

func applyEngineDefaults(e *EngineConfig) {
	d := DefaultEngineConfig()
	if e.MaxIterations == 0 {
		e.MaxIterations = d.MaxIterations
	}
	if e.StuckDetector.WindowSize == 0 {
		e.StuckDetector.WindowSize = d.StuckDetector.WindowSize
	}
	if e.StuckDetector.RepeatThreshold == 0 {
		e.StuckDetector.RepeatThreshold = d.StuckDetector.RepeatThreshold
	}
	if e.StuckDetector.Action == "" {
		e.StuckDetector.Action = d.StuckDetector.Action
	}
	if e.Checkpoint.TTL == 0 {
		e.Checkpoint.TTL = d.Checkpoint.TTL
	}
	if e.Checkpoint.SweepInterval == 0 {
		e.Checkpoint.SweepInterval = d.Checkpoint.SweepInterval
	}
	if e.Checkpoint.DatabasePath == "" {
		e.Checkpoint.DatabasePath = d.Checkpoint.DatabasePath
	}
	if e.Subagents.MaxParallelAgents == 0 {
		e.Subagents.MaxParallelAgents = d.Subagents.MaxParallelAgents
	}
	if e.Subagents.SubagentTimeout == 0 {
		e.Subagents.SubagentTimeout = d.Subagents.SubagentTimeout
	}
	if e.Subagents.MaxIterations == 0 {
		e.Subagents.MaxIterations = d.Subagents.MaxIterations
	}
	if e.Subagents.MaxDepth == 0 {
		e.Subagents.MaxDepth = d.Subagents.MaxDepth
	}
}
