package config

import (
	"testing"
	"time"
)

func TestTrackingConfig_DefaultValues(t *testing.T) {
	config := GetDefaultTrackingConfig()
	if !config.Enabled {
		t.Error("tracking should be enabled by default")
	}
	if config.DatabasePath != "" {
		t.Errorf("expected empty database path, got %q", config.DatabasePath)
	}
	if config.RetentionDays != DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", config.RetentionDays, DefaultRetentionDays)
	}
}

func TestTrackingConfig_Retention(t *testing.T) {
	tests := []struct {
		name   string
		config *TrackingConfig
		want   time.Duration
	}{
		{"nil", nil, 0},
		{"zero keeps forever", &TrackingConfig{}, 0},
		{"negative keeps forever", &TrackingConfig{RetentionDays: -3}, 0},
		{"week", &TrackingConfig{RetentionDays: 7}, 7 * 24 * time.Hour},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.config.Retention(); got != tt.want {
				t.Errorf("Retention() = %v, want %v", got, tt.want)
			}
		})
	}

	if errs := (&TrackingConfig{RetentionDays: -1}).validate(); len(errs) != 1 {
		t.Errorf("validate() = %v, want one error", errs)
	}
}

func TestApplyTrackingEnvironmentOverrides_Retention(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"30", 30},
		{"0", 0},
		{"-5", DefaultRetentionDays},
		{"forever", DefaultRetentionDays},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			t.Setenv("PALACE_TRACKING_RETENTION_DAYS", tt.value)
			if got := ApplyTrackingEnvironmentOverrides(GetDefaultTrackingConfig()).RetentionDays; got != tt.want {
				t.Errorf("RetentionDays = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestApplyTrackingEnvironmentOverrides(t *testing.T) {
	tests := []struct {
		name        string
		value       string
		start       bool
		wantEnabled bool
	}{
		{"true", "true", false, true},
		{"false", "false", true, false},
		{"one", "1", false, true},
		{"zero", "0", true, false},
		{"invalid keeps value", "maybe", true, true},
		{"empty keeps value", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("PALACE_TRACKING", tt.value)
			input := &TrackingConfig{Enabled: tt.start}

			result := ApplyTrackingEnvironmentOverrides(input)
			if result.Enabled != tt.wantEnabled {
				t.Errorf("Enabled = %v, want %v", result.Enabled, tt.wantEnabled)
			}
			if input.Enabled != tt.start {
				t.Error("input config was modified")
			}
		})
	}
}

func TestApplyTrackingEnvironmentOverrides_DatabasePath(t *testing.T) {
	t.Setenv("PALACE_TRACKING_DB", "/tmp/history.db")
	result := ApplyTrackingEnvironmentOverrides(GetDefaultTrackingConfig())
	if result.DatabasePath != "/tmp/history.db" {
		t.Errorf("DatabasePath = %q", result.DatabasePath)
	}
}
