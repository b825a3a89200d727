package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

// DefaultRetentionDays bounds how long playback history is kept
const DefaultRetentionDays = 90

// TrackingConfig controls the playback history database
type TrackingConfig struct {
	Enabled      bool   `json:"enabled"`
	DatabasePath string `json:"database_path,omitempty"` // empty = $XDG_STATE_HOME/palace/history.db
	// RetentionDays prunes older events when the database opens; 0 keeps everything
	RetentionDays int `json:"retention_days"`
}

func GetDefaultTrackingConfig() *TrackingConfig {
	return &TrackingConfig{Enabled: true, RetentionDays: DefaultRetentionDays}
}

// Retention returns the history horizon as a duration, 0 meaning forever
func (t *TrackingConfig) Retention() time.Duration {
	if t == nil || t.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(t.RetentionDays) * 24 * time.Hour
}

func (t *TrackingConfig) validate() []string {
	if t != nil && t.RetentionDays < 0 {
		return []string{fmt.Sprintf("tracking retention_days must be >= 0, got %d", t.RetentionDays)}
	}
	return nil
}

// trackingEnv maps environment variables onto a TrackingConfig field
var trackingEnv = []struct {
	name  string
	apply func(*TrackingConfig, string) error
}{
	{"PALACE_TRACKING", func(t *TrackingConfig, v string) error {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		t.Enabled = enabled
		return nil
	}},
	{"PALACE_TRACKING_DB", func(t *TrackingConfig, v string) error {
		t.DatabasePath = v
		return nil
	}},
	{"PALACE_TRACKING_RETENTION_DAYS", func(t *TrackingConfig, v string) error {
		days, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		if days < 0 {
			return errors.New("retention must not be negative")
		}
		t.RetentionDays = days
		return nil
	}},
}

// ApplyTrackingEnvironmentOverrides returns a copy of config with the
// PALACE_TRACKING* variables applied; unparseable values are ignored
func ApplyTrackingEnvironmentOverrides(config *TrackingConfig) *TrackingConfig {
	result := *config
	for _, env := range trackingEnv {
		v := os.Getenv(env.name)
		if v == "" {
			continue
		}
		if err := env.apply(&result, v); err != nil {
			slog.Warn("ignoring invalid tracking environment variable", "name", env.name, "value", v, "error", err)
			continue
		}
		slog.Debug("applied tracking override from environment", "name", env.name, "value", v)
	}
	return &result
}
