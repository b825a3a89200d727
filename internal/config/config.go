package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/afero"

	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/output"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG state path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// TTSConfig points at the synthesis endpoint
type TTSConfig struct {
	Endpoint       string `json:"endpoint"`
	APIKey         string `json:"api_key,omitempty"`
	Provider       string `json:"provider"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// CacheConfig selects the persistent audio cache tier
type CacheConfig struct {
	Store          string `json:"store"` // sqlite, file, redis, minio, none
	Path           string `json:"path"`  // sqlite file or file store directory (empty = XDG cache path)
	RedisAddr      string `json:"redis_addr,omitempty"`
	RedisPassword  string `json:"redis_password,omitempty"`
	RedisDB        int    `json:"redis_db,omitempty"`
	MinioEndpoint  string `json:"minio_endpoint,omitempty"`
	MinioAccessKey string `json:"minio_access_key,omitempty"`
	MinioSecretKey string `json:"minio_secret_key,omitempty"`
	MinioBucket    string `json:"minio_bucket,omitempty"`
	MinioUseSSL    bool   `json:"minio_use_ssl,omitempty"`
	TTLHours       int    `json:"ttl_hours"`
}

// Config represents Palace audio configuration
type Config struct {
	Volume              float64            `json:"volume"`                    // Audio volume (0.0 to 1.0)
	PlaybackRate        float64            `json:"playback_rate"`             // Speed multiplier (0, 4]
	Voice               string             `json:"voice"`                     // Default TTS voice
	Speed               float64            `json:"speed"`                     // Synthesis speed sent to the TTS service
	AudioBackend        string             `json:"audio_backend"`             // Output (auto, speaker, malgo, null)
	RequiresUnlock      *bool              `json:"requires_unlock,omitempty"` // Override the output's unlock requirement
	ProgressIntervalMS  int                `json:"progress_interval_ms"`      // Progress event period while playing
	PrefetchConcurrency int                `json:"prefetch_concurrency"`      // Verses synthesised per batch
	TTS                 TTSConfig          `json:"tts"`
	Cache               CacheConfig        `json:"cache"`
	Tracking            *TrackingConfig    `json:"tracking,omitempty"`
	MetricsAddr         string             `json:"metrics_addr,omitempty"` // Serve /metrics here when set
	LogLevel            string             `json:"log_level"`              // Log level (debug, info, warn, error)
	FileLogging         *FileLoggingConfig `json:"file_logging,omitempty"` // File logging configuration
}

// ProgressInterval returns the progress period as a duration
func (c *Config) ProgressInterval() time.Duration {
	return time.Duration(c.ProgressIntervalMS) * time.Millisecond
}

// TTSTimeout returns the synthesis request timeout
func (c *Config) TTSTimeout() time.Duration {
	return time.Duration(c.TTS.TimeoutSeconds) * time.Second
}

// StoreConfig converts the cache block for cache.OpenStore
func (c *CacheConfig) StoreConfig() cache.StoreConfig {
	return cache.StoreConfig{
		Kind: c.Store,
		Path: c.Path,
		Redis: cache.RedisOptions{
			Addr:     c.RedisAddr,
			Password: c.RedisPassword,
			DB:       c.RedisDB,
		},
		Minio: cache.ObjectOptions{
			Endpoint:  c.MinioEndpoint,
			AccessKey: c.MinioAccessKey,
			SecretKey: c.MinioSecretKey,
			Bucket:    c.MinioBucket,
			UseSSL:    c.MinioUseSSL,
		},
		TTL: time.Duration(c.TTLHours) * time.Hour,
	}
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	GetStatePath(purpose string) string
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
	fs  afero.Fs
}

// NewConfigManager creates a new configuration manager on the OS filesystem
func NewConfigManager() *ConfigManager {
	return NewConfigManagerWithDependencies(NewXDGDirs(), afero.NewOsFs())
}

// NewConfigManagerWithFilesystem creates a manager reading and writing through fsys
func NewConfigManagerWithFilesystem(fsys afero.Fs) *ConfigManager {
	return NewConfigManagerWithDependencies(NewXDGDirs(), fsys)
}

// NewConfigManagerWithDependencies creates a manager with injected XDG paths and filesystem
func NewConfigManagerWithDependencies(xdg XDGInterface, fsys afero.Fs) *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{xdg: xdg, fs: fsys}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		Volume:              1.0,
		PlaybackRate:        1.0,
		Voice:               "nova",
		Speed:               1.0,
		AudioBackend:        output.KindAuto,
		ProgressIntervalMS:  250,
		PrefetchConcurrency: 2,
		TTS: TTSConfig{
			Provider:       "openai",
			TimeoutSeconds: 60,
		},
		Cache: CacheConfig{
			Store: cache.StoreSQLite,
			Path:  "", // Empty = XDG cache path
		},
		Tracking: GetDefaultTrackingConfig(),
		LogLevel: "warn",
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "", // Empty = XDG state path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
	}

	slog.Debug("generated default config",
		"volume", defaultConfig.Volume,
		"voice", defaultConfig.Voice,
		"audio_backend", defaultConfig.AudioBackend,
		"cache_store", defaultConfig.Cache.Store,
		"log_level", defaultConfig.LogLevel)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file. Missing fields
// keep their defaults.
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := afero.ReadFile(cm.fs, filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := cm.GetDefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cm.ValidateConfig(config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"volume", config.Volume,
		"voice", config.Voice,
		"tts_endpoint", config.TTS.Endpoint)

	return config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	if err := cm.ValidateConfig(config); err != nil {
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	if err := cm.fs.MkdirAll(dir, 0755); err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file may carry API keys
	if err := afero.WriteFile(cm.fs, filePath, data, 0600); err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	configPaths := cm.xdg.GetConfigPaths("config.json")

	slog.Debug("searching for config file", "paths", configPaths)

	for i, configPath := range configPaths {
		if exists, _ := afero.Exists(cm.fs, configPath); exists {
			slog.Debug("found config file", "path", configPath, "path_index", i)
			return cm.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults")
	return cm.GetDefaultConfig(), nil
}

// LoadDotEnv loads KEY=value files into the environment without overriding
// variables already set. Missing files are skipped.
func (cm *ConfigManager) LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}

	for _, path := range paths {
		f, err := cm.fs.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				slog.Debug("no .env file", "path", path)
				continue
			}
			return fmt.Errorf("failed to open %s: %w", path, err)
		}

		values, err := godotenv.Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", path, err)
		}

		applied := 0
		for key, value := range values {
			if _, set := os.LookupEnv(key); set {
				continue
			}
			os.Setenv(key, value)
			applied++
		}
		slog.Debug("loaded .env file", "path", path, "variables", len(values), "applied", applied)
	}
	return nil
}

// ValidateConfig validates configuration values
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	if config.Volume < 0.0 || config.Volume > 1.0 {
		errors = append(errors, fmt.Sprintf("volume must be between 0.0 and 1.0, got %f", config.Volume))
	}

	if config.PlaybackRate <= 0 || config.PlaybackRate > 4 {
		errors = append(errors, fmt.Sprintf("playback_rate must be within (0, 4], got %f", config.PlaybackRate))
	}

	if config.Speed <= 0 || config.Speed > 4 {
		errors = append(errors, fmt.Sprintf("speed must be within (0, 4], got %f", config.Speed))
	}

	if strings.TrimSpace(config.Voice) == "" {
		errors = append(errors, "voice cannot be empty")
	}

	if config.ProgressIntervalMS <= 0 {
		errors = append(errors, fmt.Sprintf("progress_interval_ms must be > 0, got %d", config.ProgressIntervalMS))
	}

	if config.PrefetchConcurrency < 1 {
		errors = append(errors, fmt.Sprintf("prefetch_concurrency must be >= 1, got %d", config.PrefetchConcurrency))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		if _, err := parseLogLevel(config.LogLevel); err != nil {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	if !cm.IsValidAudioBackend(config.AudioBackend) {
		errors = append(errors, fmt.Sprintf("invalid audio backend '%s', must be one of: %s",
			config.AudioBackend, strings.Join(cm.GetSupportedAudioBackends(), ", ")))
	}

	errors = append(errors, config.Tracking.validate()...)

	switch config.Cache.Store {
	case "", cache.StoreSQLite, cache.StoreFile, cache.StoreNone:
	case cache.StoreRedis:
		if config.Cache.RedisAddr == "" {
			errors = append(errors, "cache redis_addr is required for the redis store")
		}
	case cache.StoreMinio:
		if config.Cache.MinioEndpoint == "" || config.Cache.MinioBucket == "" {
			errors = append(errors, "cache minio_endpoint and minio_bucket are required for the minio store")
		}
	default:
		errors = append(errors, fmt.Sprintf("invalid cache store '%s'", config.Cache.Store))
	}

	if config.Cache.TTLHours < 0 {
		errors = append(errors, fmt.Sprintf("cache ttl_hours must be >= 0, got %d", config.Cache.TTLHours))
	}

	if config.TTS.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Sprintf("tts timeout_seconds must be >= 0, got %d", config.TTS.TimeoutSeconds))
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}

		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}

		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence
func (cm *ConfigManager) MergeConfigs(base, override *Config) *Config {
	slog.Debug("merging configurations")

	merged := *base

	// Apply overrides (only non-zero values)
	if override.Volume != 0.0 {
		merged.Volume = override.Volume
	}
	if override.PlaybackRate != 0.0 {
		merged.PlaybackRate = override.PlaybackRate
	}
	if override.Voice != "" {
		merged.Voice = override.Voice
	}
	if override.Speed != 0.0 {
		merged.Speed = override.Speed
	}
	if override.AudioBackend != "" {
		merged.AudioBackend = override.AudioBackend
	}
	if override.RequiresUnlock != nil {
		merged.RequiresUnlock = override.RequiresUnlock
	}
	if override.ProgressIntervalMS != 0 {
		merged.ProgressIntervalMS = override.ProgressIntervalMS
	}
	if override.PrefetchConcurrency != 0 {
		merged.PrefetchConcurrency = override.PrefetchConcurrency
	}
	if override.TTS.Endpoint != "" {
		merged.TTS.Endpoint = override.TTS.Endpoint
	}
	if override.TTS.APIKey != "" {
		merged.TTS.APIKey = override.TTS.APIKey
	}
	if override.TTS.Provider != "" {
		merged.TTS.Provider = override.TTS.Provider
	}
	if override.TTS.TimeoutSeconds != 0 {
		merged.TTS.TimeoutSeconds = override.TTS.TimeoutSeconds
	}
	if override.Cache.Store != "" {
		merged.Cache = override.Cache
	}
	if override.Tracking != nil {
		merged.Tracking = override.Tracking
	}
	if override.MetricsAddr != "" {
		merged.MetricsAddr = override.MetricsAddr
	}
	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
	}
	if override.FileLogging != nil {
		merged.FileLogging = override.FileLogging
	}

	slog.Debug("configurations merged successfully")
	return &merged
}

// ApplyEnvironmentOverrides applies PALACE_* environment variables to config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	floatVar := func(name string, dst *float64) {
		if s := os.Getenv(name); s != "" {
			if v, err := strconv.ParseFloat(s, 64); err == nil {
				*dst = v
				slog.Debug("applied override from environment", "variable", name, "value", v)
			} else {
				slog.Warn("invalid environment variable", "variable", name, "value", s, "error", err)
			}
		}
	}
	stringVar := func(name string, dst *string) {
		if s := os.Getenv(name); s != "" {
			*dst = s
			slog.Debug("applied override from environment", "variable", name)
		}
	}

	floatVar("PALACE_VOLUME", &result.Volume)
	floatVar("PALACE_PLAYBACK_RATE", &result.PlaybackRate)
	floatVar("PALACE_SPEED", &result.Speed)
	stringVar("PALACE_VOICE", &result.Voice)
	stringVar("PALACE_LOG_LEVEL", &result.LogLevel)
	stringVar("PALACE_TTS_ENDPOINT", &result.TTS.Endpoint)
	stringVar("PALACE_TTS_API_KEY", &result.TTS.APIKey)
	stringVar("PALACE_CACHE_STORE", &result.Cache.Store)
	stringVar("PALACE_CACHE_PATH", &result.Cache.Path)
	stringVar("PALACE_REDIS_ADDR", &result.Cache.RedisAddr)
	stringVar("PALACE_METRICS_ADDR", &result.MetricsAddr)

	if backend := os.Getenv("PALACE_AUDIO_BACKEND"); backend != "" {
		if cm.IsValidAudioBackend(backend) {
			result.AudioBackend = backend
			slog.Debug("applied audio backend override from environment", "value", backend)
		} else {
			slog.Warn("invalid PALACE_AUDIO_BACKEND environment variable", "value", backend)
		}
	}

	if s := os.Getenv("PALACE_REQUIRES_UNLOCK"); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			result.RequiresUnlock = &v
		} else {
			slog.Warn("invalid PALACE_REQUIRES_UNLOCK environment variable", "value", s, "error", err)
		}
	}

	if result.Tracking == nil {
		result.Tracking = GetDefaultTrackingConfig()
	}
	result.Tracking = ApplyTrackingEnvironmentOverrides(result.Tracking)

	slog.Debug("environment overrides applied")
	return &result
}

func parseLogLevel(logLevel string) (slog.Level, error) {
	switch strings.ToLower(logLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
	}
}

// ApplyLogLevel configures slog with the specified log level on stderr
func (cm *ConfigManager) ApplyLogLevel(logLevel string) error {
	return cm.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level and writer
func (cm *ConfigManager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	level, err := parseLogLevel(logLevel)
	if err != nil {
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ParseLogLevel exposes level parsing for handlers built outside the manager
func (cm *ConfigManager) ParseLogLevel(logLevel string) (slog.Level, error) {
	if logLevel == "" {
		return slog.LevelWarn, nil
	}
	return parseLogLevel(logLevel)
}

// ResolveLogFilePath resolves the log file path under the state directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetStatePath("logs"), "palace.log")
}

// ResolveCachePath resolves the persistent cache location for the configured store
func (cm *ConfigManager) ResolveCachePath(c *CacheConfig) string {
	if c.Path != "" {
		return c.Path
	}
	if c.Store == cache.StoreFile {
		return cm.xdg.GetCachePath("audio")
	}
	return filepath.Join(cm.xdg.GetCachePath(""), "audio.db")
}

// ResolveTrackingPath resolves the history database path
func (cm *ConfigManager) ResolveTrackingPath(t *TrackingConfig) string {
	if t != nil && t.DatabasePath != "" {
		return t.DatabasePath
	}
	return filepath.Join(cm.xdg.GetStatePath(""), "history.db")
}

// GetSupportedAudioBackends returns a list of all supported audio backend types
func (cm *ConfigManager) GetSupportedAudioBackends() []string {
	return output.NewFactory().SupportedKinds()
}

// IsValidAudioBackend checks if an audio backend type is supported
func (cm *ConfigManager) IsValidAudioBackend(backend string) bool {
	return output.NewFactory().IsValidKind(backend)
}
