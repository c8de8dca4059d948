package startup

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STAGING_DIR", filepath.Join(dir, "staging"))
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "storage"))
	t.Setenv("DATABASE_DIR", filepath.Join(dir, "database"))

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != "8080" {
		t.Errorf("Port = %s, want 8080", config.Port)
	}
	if config.PreviewMaxDim != 2048 {
		t.Errorf("PreviewMaxDim = %d, want 2048", config.PreviewMaxDim)
	}
	if config.ThumbnailSize != 256 {
		t.Errorf("ThumbnailSize = %d, want 256", config.ThumbnailSize)
	}
	if config.SequencePadding != 4 {
		t.Errorf("SequencePadding = %d, want 4", config.SequencePadding)
	}
	if config.StagingTTL != 72*time.Hour {
		t.Errorf("StagingTTL = %s, want 72h", config.StagingTTL)
	}
	if config.DatabasePath != filepath.Join(config.DatabaseDir, "photostage.db") {
		t.Errorf("unexpected DatabasePath: %s", config.DatabasePath)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STAGING_DIR", filepath.Join(dir, "s"))
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "p"))
	t.Setenv("DATABASE_DIR", filepath.Join(dir, "d"))
	t.Setenv("PORT", "9000")
	t.Setenv("PREVIEW_MAX_DIM", "1600")
	t.Setenv("STAGING_TTL", "24h")
	t.Setenv("FILENAME_PATTERN", "{sequence}_{uid}")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != "9000" {
		t.Errorf("Port = %s, want 9000", config.Port)
	}
	if config.PreviewMaxDim != 1600 {
		t.Errorf("PreviewMaxDim = %d, want 1600", config.PreviewMaxDim)
	}
	if config.StagingTTL != 24*time.Hour {
		t.Errorf("StagingTTL = %s, want 24h", config.StagingTTL)
	}
	if config.FilenamePattern != "{sequence}_{uid}" {
		t.Errorf("FilenamePattern = %s", config.FilenamePattern)
	}
}

func TestLoadConfigInvalidValuesFallBack(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("STAGING_DIR", filepath.Join(dir, "s"))
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "p"))
	t.Setenv("DATABASE_DIR", filepath.Join(dir, "d"))
	t.Setenv("PREVIEW_MAX_DIM", "not-a-number")
	t.Setenv("STAGING_TTL", "eventually")
	t.Setenv("METRICS_ENABLED", "maybe")

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.PreviewMaxDim != 2048 {
		t.Errorf("PreviewMaxDim = %d, want default 2048", config.PreviewMaxDim)
	}
	if config.StagingTTL != 72*time.Hour {
		t.Errorf("StagingTTL = %s, want default 72h", config.StagingTTL)
	}
	if !config.MetricsEnabled {
		t.Error("MetricsEnabled should fall back to true")
	}
}

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()
	if info.Version == "" {
		t.Error("Version should not be empty")
	}
	if info.GoVersion == "" {
		t.Error("GoVersion should not be empty")
	}
}
