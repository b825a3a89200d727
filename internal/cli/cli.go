package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"phototheology.app/palace/internal/config"
	"phototheology.app/palace/internal/output"
)

const Version = "0.4.0"

// OutputFactory creates the audio output named by the audio_backend setting
type OutputFactory interface {
	Create(kind string) (output.Output, error)
}

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	configManager    *config.ConfigManager
	outputFactory    OutputFactory
	terminalDetector TerminalDetector
	fs               afero.Fs
}

// NewCLI creates a CLI backed by the OS filesystem and real audio outputs
func NewCLI() *CLI {
	return NewCLIWithDependencies(nil, nil, nil, nil)
}

// NewCLIWithDependencies creates a CLI with injected collaborators. Nil
// arguments fall back to the production implementations.
func NewCLIWithDependencies(cm *config.ConfigManager, outputs OutputFactory, terminal TerminalDetector, fsys afero.Fs) *CLI {
	slog.Debug("creating new CLI instance")

	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if cm == nil {
		cm = config.NewConfigManagerWithFilesystem(fsys)
	}
	if outputs == nil {
		outputs = output.NewFactory()
	}
	if terminal == nil {
		terminal = &DefaultTerminalDetector{}
	}

	rootCmd := &cobra.Command{
		Use:           "palace",
		Short:         "Phototheology Palace audio",
		Long:          "Palace plays Bible audio and commentary, generates speech through the TTS service and manages the local audio cache.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if handled, err := handleVersionFlag(cmd); handled {
				return err
			}
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newPlayCommand())
	rootCmd.AddCommand(newSpeakCommand())
	rootCmd.AddCommand(newPrefetchCommand())
	rootCmd.AddCommand(newCacheCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand())

	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("volume", "", "Set volume (0.0 to 1.0)")
	rootCmd.PersistentFlags().String("rate", "", "Set playback rate (0 to 4)")
	rootCmd.PersistentFlags().String("voice", "", "TTS voice")
	rootCmd.PersistentFlags().String("backend", "", "Audio output (auto, speaker, malgo, null)")
	rootCmd.PersistentFlags().String("cache-store", "", "Persistent cache store (sqlite, file, redis, minio, none)")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Serve Prometheus metrics on this address")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("no-history", false, "Do not record playback history")

	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return &CLI{
		rootCmd:          rootCmd,
		configManager:    cm,
		outputFactory:    outputs,
		terminalDetector: terminal,
		fs:               fsys,
	}
}

type cliContextKey struct{}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(ctx context.Context, cli *CLI) context.Context {
	return context.WithValue(ctx, cliContextKey{}, cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value(cliContextKey{}).(*CLI); ok {
		return cli
	}
	return nil
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "palace version %s\nPhototheology Palace audio engine\n", Version)
}

// handleVersionFlag returns true if --version was given and printed
func handleVersionFlag(cmd *cobra.Command) (bool, error) {
	if version, _ := cmd.Flags().GetBool("version"); version {
		printVersion(cmd.OutOrStdout())
		return true, nil
	}
	return false, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			printVersion(cmd.OutOrStdout())
		},
	}
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	return c.RunContext(context.Background(), args, stdin, stdout, stderr)
}

// RunContext is Run with a caller-controlled context; cancelling it stops playback
func (c *CLI) RunContext(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		printVersion(stdout)
		return 0
	}

	if len(args) > 0 {
		args = args[1:]
	}
	c.rootCmd.SetArgs(args)
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)

	if err := c.rootCmd.ExecuteContext(contextWithCLI(ctx, c)); err != nil {
		slog.Debug("command failed", "error", err)
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// loadAndValidateConfig loads configuration from flags and files, applies overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	volumeStr, _ := cmd.Flags().GetString("volume")
	rateStr, _ := cmd.Flags().GetString("rate")
	voice, _ := cmd.Flags().GetString("voice")
	backend, _ := cmd.Flags().GetString("backend")
	cacheStore, _ := cmd.Flags().GetString("cache-store")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	logLevel, _ := cmd.Flags().GetString("log-level")
	noHistory, _ := cmd.Flags().GetBool("no-history")

	if err := cli.configManager.LoadDotEnv(); err != nil {
		slog.Warn("ignoring unreadable .env file", "error", err)
	}

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configFile, err)
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			slog.Warn("config discovery failed, using defaults", "error", err)
			cfg = cli.configManager.GetDefaultConfig()
		}
	}

	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	if volumeStr != "" {
		vol, err := strconv.ParseFloat(volumeStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid volume value '%s': %w", volumeStr, err)
		}
		cfg.Volume = vol
	}
	if rateStr != "" {
		rate, err := strconv.ParseFloat(rateStr, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid rate value '%s': %w", rateStr, err)
		}
		cfg.PlaybackRate = rate
	}
	if voice != "" {
		cfg.Voice = voice
	}
	if backend != "" {
		cfg.AudioBackend = backend
	}
	if cacheStore != "" {
		cfg.Cache.Store = cacheStore
	}
	if metricsAddr != "" {
		cfg.MetricsAddr = metricsAddr
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if noHistory {
		if cfg.Tracking == nil {
			cfg.Tracking = config.GetDefaultTrackingConfig()
		}
		cfg.Tracking.Enabled = false
	}

	if err := cli.configManager.ValidateConfig(cfg); err != nil {
		return nil, err
	}

	setupLogging(cli.configManager, cfg, cmd.ErrOrStderr())
	slog.Debug("configuration ready",
		"volume", cfg.Volume,
		"rate", cfg.PlaybackRate,
		"voice", cfg.Voice,
		"backend", cfg.AudioBackend,
		"cache_store", cfg.Cache.Store)
	return cfg, nil
}

// setupLogging sends records at the configured level to stderr and, when
// file logging is enabled, everything at debug to a rotating file.
func setupLogging(cm *config.ConfigManager, cfg *config.Config, stderr io.Writer) {
	level, err := cm.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		level = slog.LevelWarn
	}

	handlers := []slog.Handler{
		slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}),
	}

	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		logFilePath := cm.ResolveLogFilePath(cfg.FileLogging.Filename)
		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory", "path", logDir, "error", err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			}
			// file sink writes JSON lines
			handlers = append(handlers, slog.NewJSONHandler(fileWriter, &slog.HandlerOptions{Level: slog.LevelDebug}))
		}
	}

	slog.SetDefault(slog.New(NewTeeHandler(handlers...)))
	slog.Debug("logging setup completed", "level", level.String(), "handlers", len(handlers))
}
