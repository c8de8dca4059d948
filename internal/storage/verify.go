package storage

import (
	"fmt"
	"os"
	"time"

	"photostage/internal/logging"
)

// VerifyConfig configures retry behavior for write verification.
type VerifyConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultVerifyConfig returns defaults tuned for network filesystems where
// a freshly written file may briefly be invisible to a second stat.
func DefaultVerifyConfig() VerifyConfig {
	return VerifyConfig{
		MaxRetries:     3,
		InitialBackoff: 50 * time.Millisecond,
		MaxBackoff:     500 * time.Millisecond,
	}
}

// VerifyFile stats path directly (no caching layer) and confirms the file
// exists and is non-empty, retrying with exponential backoff. Used after
// preview/thumbnail writes and after permanent-storage copies.
func VerifyFile(path string, config VerifyConfig) error {
	var lastErr error
	backoff := config.InitialBackoff

	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		info, err := os.Stat(path)
		if err == nil && info.Size() > 0 {
			if attempt > 0 {
				logging.Info("verify succeeded on retry %d for %s", attempt, path)
			}
			return nil
		}

		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("file is empty: %s", path)
		}

		if attempt < config.MaxRetries {
			logging.Debug("verify failed for %s, retrying in %v (attempt %d/%d)",
				path, backoff, attempt+1, config.MaxRetries)
			time.Sleep(backoff)

			backoff *= 2
			if backoff > config.MaxBackoff {
				backoff = config.MaxBackoff
			}
		}
	}

	return fmt.Errorf("verification failed for %s: %w", path, lastErr)
}
