// Package config loads warehouse configuration from a YAML file plus the
// environment variable overrides listed in the specification.
package config

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the static deployment configuration, loaded once from a YAML
// file at startup. Cycle tunables live separately in Engine, sourced from
// the environment (see FromEnv).
type Config struct {
	DataDir     string `yaml:"data_dir"`
	StorePath   string `yaml:"store_path"`
	NetworkName string `yaml:"network_name"`
	APIPort     int    `yaml:"api_port"`
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Engine holds the §4.J cycle tunables, sourced from environment variables.
type Engine struct {
	CycleInterval    time.Duration
	FilesPerCycle    int
	CycleTimeout     time.Duration
	GapCheckInterval int
	GapThreshold     time.Duration
	AutoRecoverGaps  bool

	TemplateIndexWorkers     int
	TemplateIndexConcurrency int
	VoteIndexBuildOnStartup  bool
}

// FromEnv builds an Engine config from the environment, applying the
// defaults named in the specification's environment table.
func FromEnv() Engine {
	return Engine{
		CycleInterval:            envDuration("ENGINE_INTERVAL_MS", 30_000*time.Millisecond),
		FilesPerCycle:            envInt("ENGINE_FILES_PER_CYCLE", 3),
		CycleTimeout:             envDuration("ENGINE_CYCLE_TIMEOUT_MS", 300_000*time.Millisecond),
		GapCheckInterval:         envInt("GAP_CHECK_INTERVAL", 10),
		GapThreshold:             envDuration("GAP_THRESHOLD_MS", 120_000*time.Millisecond),
		AutoRecoverGaps:          envBool("AUTO_RECOVER_GAPS", true),
		TemplateIndexWorkers:     envInt("TEMPLATE_INDEX_WORKERS", defaultWorkerCount()),
		TemplateIndexConcurrency: envInt("TEMPLATE_INDEX_CONCURRENCY", 6),
		VoteIndexBuildOnStartup:  envBool("VOTE_INDEX_BUILD_ON_STARTUP", true),
	}
}

// DataRoot returns DATA_DIR, or a platform default if unset.
func DataRoot() string {
	if v := strings.TrimSpace(os.Getenv("DATA_DIR")); v != "" {
		return v
	}
	return "./data"
}

func defaultWorkerCount() int {
	n := runtime.NumCPU() - 1
	if n < 2 {
		n = 2
	}
	if n > 8 {
		n = 8
	}
	return n
}

func envInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func envBool(key string, def bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if raw == "" {
		return def
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return b
}
