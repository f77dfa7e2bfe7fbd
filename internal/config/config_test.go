package config

import (
	"os"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"ENGINE_INTERVAL_MS", "ENGINE_FILES_PER_CYCLE", "ENGINE_CYCLE_TIMEOUT_MS",
		"GAP_CHECK_INTERVAL", "GAP_THRESHOLD_MS", "AUTO_RECOVER_GAPS",
		"TEMPLATE_INDEX_WORKERS", "TEMPLATE_INDEX_CONCURRENCY", "VOTE_INDEX_BUILD_ON_STARTUP",
	} {
		os.Unsetenv(key)
	}

	cfg := FromEnv()

	if cfg.CycleInterval != 30*time.Second {
		t.Errorf("CycleInterval = %v, want 30s", cfg.CycleInterval)
	}
	if cfg.FilesPerCycle != 3 {
		t.Errorf("FilesPerCycle = %d, want 3", cfg.FilesPerCycle)
	}
	if cfg.GapCheckInterval != 10 {
		t.Errorf("GapCheckInterval = %d, want 10", cfg.GapCheckInterval)
	}
	if !cfg.AutoRecoverGaps {
		t.Error("AutoRecoverGaps = false, want true")
	}
	if cfg.TemplateIndexWorkers < 2 || cfg.TemplateIndexWorkers > 8 {
		t.Errorf("TemplateIndexWorkers = %d, want in [2,8]", cfg.TemplateIndexWorkers)
	}
	if !cfg.VoteIndexBuildOnStartup {
		t.Error("VoteIndexBuildOnStartup = false, want true")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	os.Setenv("ENGINE_FILES_PER_CYCLE", "7")
	os.Setenv("AUTO_RECOVER_GAPS", "false")
	os.Setenv("TEMPLATE_INDEX_WORKERS", "4")
	defer func() {
		os.Unsetenv("ENGINE_FILES_PER_CYCLE")
		os.Unsetenv("AUTO_RECOVER_GAPS")
		os.Unsetenv("TEMPLATE_INDEX_WORKERS")
	}()

	cfg := FromEnv()

	if cfg.FilesPerCycle != 7 {
		t.Errorf("FilesPerCycle = %d, want 7", cfg.FilesPerCycle)
	}
	if cfg.AutoRecoverGaps {
		t.Error("AutoRecoverGaps = true, want false")
	}
	if cfg.TemplateIndexWorkers != 4 {
		t.Errorf("TemplateIndexWorkers = %d, want 4", cfg.TemplateIndexWorkers)
	}
}

func TestEnvIntInvalidFallsBackToDefault(t *testing.T) {
	os.Setenv("ENGINE_FILES_PER_CYCLE", "not-a-number")
	defer os.Unsetenv("ENGINE_FILES_PER_CYCLE")

	cfg := FromEnv()
	if cfg.FilesPerCycle != 3 {
		t.Errorf("FilesPerCycle = %d, want default 3 on invalid input", cfg.FilesPerCycle)
	}
}
