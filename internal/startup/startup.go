package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"photostage/internal/logging"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// Config holds all application configuration
type Config struct {
	StagingDir  string
	StorageDir  string
	DatabaseDir string
	Port        string

	ExiftoolPath    string
	ExiftoolTimeout time.Duration

	PreviewMaxDim   int
	PreviewQuality  int
	EmbeddedMinDim  int
	ThumbnailSize   int
	EnhanceMaxWidth int

	PathPattern     string
	FilenamePattern string
	SequencePadding int

	StagingTTL time.Duration
	JobWorkers int

	MetricsEnabled bool

	// Derived paths
	DatabasePath string

	// Set when the exiftool binary was found on PATH at startup.
	// Extraction still re-checks per call; this only drives startup logging.
	ExiftoolAvailable bool
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	stagingDir := getEnv("STAGING_DIR", "/staging")
	storageDir := getEnv("STORAGE_DIR", "/storage")
	databaseDir := getEnv("DATABASE_DIR", "/database")
	port := getEnv("PORT", "8080")
	exiftoolPath := getEnv("EXIFTOOL_PATH", "exiftool")
	exiftoolTimeout := getEnvDuration("EXIFTOOL_TIMEOUT", 20*time.Second)
	previewMaxDim := getEnvInt("PREVIEW_MAX_DIM", 2048)
	previewQuality := getEnvInt("PREVIEW_QUALITY", 85)
	embeddedMinDim := getEnvInt("EMBEDDED_MIN_DIM", 1024)
	thumbnailSize := getEnvInt("THUMBNAIL_SIZE", 256)
	enhanceMaxWidth := getEnvInt("ENHANCE_MAX_WIDTH", 4096)
	pathPattern := getEnv("PATH_PATTERN", "{date:%Y}/{date:%m}/{project}")
	filenamePattern := getEnv("FILENAME_PATTERN", "{sequence}-{original}")
	sequencePadding := getEnvInt("SEQUENCE_PADDING", 4)
	stagingTTL := getEnvDuration("STAGING_TTL", 72*time.Hour)
	jobWorkers := getEnvInt("JOB_WORKERS", 0)
	metricsEnabled := getEnvBool("METRICS_ENABLED", true)

	logging.Info("  STAGING_DIR:       %s", stagingDir)
	logging.Info("  STORAGE_DIR:       %s", storageDir)
	logging.Info("  DATABASE_DIR:      %s", databaseDir)
	logging.Info("  PORT:              %s", port)
	logging.Info("  EXIFTOOL_PATH:     %s", exiftoolPath)
	logging.Info("  EXIFTOOL_TIMEOUT:  %s", exiftoolTimeout)
	logging.Info("  PREVIEW_MAX_DIM:   %d", previewMaxDim)
	logging.Info("  EMBEDDED_MIN_DIM:  %d", embeddedMinDim)
	logging.Info("  THUMBNAIL_SIZE:    %d", thumbnailSize)
	logging.Info("  ENHANCE_MAX_WIDTH: %d", enhanceMaxWidth)
	logging.Info("  PATH_PATTERN:      %s", pathPattern)
	logging.Info("  FILENAME_PATTERN:  %s", filenamePattern)
	logging.Info("  SEQUENCE_PADDING:  %d", sequencePadding)
	logging.Info("  STAGING_TTL:       %s", stagingTTL)
	logging.Info("  METRICS_ENABLED:   %v", metricsEnabled)
	logging.Info("  LOG_LEVEL:         %s", logging.GetLevel())

	var err error
	stagingDir, err = filepath.Abs(stagingDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve staging directory path: %w", err)
	}
	storageDir, err = filepath.Abs(storageDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve storage directory path: %w", err)
	}
	databaseDir, err = filepath.Abs(databaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}

	if err := ensureDirectory(stagingDir, "staging"); err != nil {
		return nil, fmt.Errorf("staging directory: %w", err)
	}
	if err := ensureDirectory(storageDir, "storage"); err != nil {
		return nil, fmt.Errorf("storage directory: %w", err)
	}
	if err := ensureDirectory(databaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory: %w", err)
	}

	config := &Config{
		StagingDir:      stagingDir,
		StorageDir:      storageDir,
		DatabaseDir:     databaseDir,
		Port:            port,
		ExiftoolPath:    exiftoolPath,
		ExiftoolTimeout: exiftoolTimeout,
		PreviewMaxDim:   previewMaxDim,
		PreviewQuality:  previewQuality,
		EmbeddedMinDim:  embeddedMinDim,
		ThumbnailSize:   thumbnailSize,
		EnhanceMaxWidth: enhanceMaxWidth,
		PathPattern:     pathPattern,
		FilenamePattern: filenamePattern,
		SequencePadding: sequencePadding,
		StagingTTL:      stagingTTL,
		JobWorkers:      jobWorkers,
		MetricsEnabled:  metricsEnabled,
		DatabasePath:    filepath.Join(databaseDir, "photostage.db"),
	}

	if _, err := exec.LookPath(exiftoolPath); err != nil {
		logging.Warn("  exiftool not found (%v): extraction will use the fallback decoder", err)
	} else {
		config.ExiftoolAvailable = true
		logging.Info("  exiftool found on PATH")
	}

	return config, nil
}

// LogFatal logs a fatal configuration error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		logging.Warn("Invalid integer value for %s: %q, using default: %d", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		logging.Warn("Invalid duration value for %s: %q, using default: %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}
