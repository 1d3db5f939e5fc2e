// Package config loads the orchestrator's runtime configuration from
// environment variables and an optional YAML file over code defaults,
// layered by spf13/viper. No command-line flag is bound to a config
// field. Every field here is named in spec §6; this package only loads
// them, it neither validates nor interprets them.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/taskswarm/orchestrator/internal/actor"
)

// EnvPrefix is prepended to every environment variable override, e.g.
// ORCH_DEFAULT_CONCURRENCY_LIMIT.
const EnvPrefix = "ORCH"

// Config is the full set of tunables from spec §6.
type Config struct {
	// Storage
	MemoryBaseDir string `mapstructure:"memory_base_dir"`
	AgentDataDir  string `mapstructure:"agent_data_dir"`
	SidecarPath   string `mapstructure:"sidecar_path"`

	// Runtime process defaults
	DefaultRuntimeID    string            `mapstructure:"default_runtime_id"`
	RuntimeEnv          map[string]string `mapstructure:"runtime_env"`
	RuntimeWorkDir      string            `mapstructure:"runtime_work_dir"`

	// Worker/dispatch tunables
	DefaultConcurrencyLimit int           `mapstructure:"default_concurrency_limit"`
	MinBidThreshold         float64       `mapstructure:"min_bid_threshold"`
	BidWindow               time.Duration `mapstructure:"bid_window"`
	KnowledgeRetrievalTimeout time.Duration `mapstructure:"knowledge_retrieval_timeout"`

	// TaskGraph bounds
	MaxDecompositionDepth      int `mapstructure:"max_decomposition_depth"`
	MaxSubtasksPerDecomposition int `mapstructure:"max_subtasks_per_decomposition"`
	MaxNodesPerGraph           int `mapstructure:"max_nodes_per_graph"`

	// Memory
	MemoryCommitDebounce time.Duration `mapstructure:"memory_commit_debounce"`

	// Supervision
	SupervisorMaxRestarts int           `mapstructure:"supervisor_max_restarts"`
	SupervisorWindow      time.Duration `mapstructure:"supervisor_window"`

	// Logging
	LogPath         string `mapstructure:"log_path"`
	LogBufferSize   int    `mapstructure:"log_buffer_size"`

	// Skill profile
	SkillProfileDir string `mapstructure:"skill_profile_dir"`
}

// setDefaults mirrors the numeric defaults named throughout spec §4-§6
// (0.5 min fitness, 500ms bid window, 5s knowledge timeout, 3/10/100
// decomposition bounds, 5s memory debounce, 3 restarts per 60s).
func setDefaults(v *viper.Viper) {
	v.SetDefault("memory_base_dir", "./data/memory")
	v.SetDefault("agent_data_dir", "./data/agents")
	v.SetDefault("sidecar_path", "./data/orchestrator.db")

	v.SetDefault("default_runtime_id", "subprocess")
	v.SetDefault("runtime_work_dir", ".")

	v.SetDefault("default_concurrency_limit", 3)
	v.SetDefault("min_bid_threshold", 0.5)
	v.SetDefault("bid_window", 500*time.Millisecond)
	v.SetDefault("knowledge_retrieval_timeout", 5*time.Second)

	v.SetDefault("max_decomposition_depth", 3)
	v.SetDefault("max_subtasks_per_decomposition", 10)
	v.SetDefault("max_nodes_per_graph", 100)

	v.SetDefault("memory_commit_debounce", 5*time.Second)

	v.SetDefault("supervisor_max_restarts", 3)
	v.SetDefault("supervisor_window", 60*time.Second)

	v.SetDefault("log_path", "")
	v.SetDefault("log_buffer_size", 1000)

	v.SetDefault("skill_profile_dir", "./skills")
}

// Load builds a viper instance bound to EnvPrefix-prefixed environment
// variables and (if present) the file at configPath, applies defaults,
// and unmarshals into a Config. configPath may be empty, in which case
// only env/defaults apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// RestartPolicy builds the actor.RestartPolicy spec §6's supervisor
// fields describe.
func (c *Config) RestartPolicy() actor.RestartPolicy {
	return actor.RestartPolicy{MaxRestarts: c.SupervisorMaxRestarts, Window: c.SupervisorWindow}
}
