package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/config"
	"phototheology.app/palace/internal/tts"
)

// storeCounter is implemented by stores that can report their size
type storeCounter interface {
	Count(ctx context.Context) (entries int, bytes int64, err error)
}

func newCacheCommand() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the audio cache",
	}
	cacheCmd.AddCommand(newCacheStatsCommand())
	cacheCmd.AddCommand(newCacheClearCommand())
	cacheCmd.AddCommand(newCacheKeyCommand())
	return cacheCmd
}

func newCacheStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the persistent cache location and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := cliFromContext(cmd.Context())
			cfg, err := loadAndValidateConfig(cmd, cli)
			if err != nil {
				return err
			}
			store, path, err := cli.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
			}
			return printCacheStats(cmd.Context(), cmd.OutOrStdout(), cfg.Cache.Store, path, store)
		},
	}
}

func newCacheClearCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every cached audio payload",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := cliFromContext(cmd.Context())
			cfg, err := loadAndValidateConfig(cmd, cli)
			if err != nil {
				return err
			}
			store, _, err := cli.openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			c := cache.New(store)
			defer c.Close()
			if err := c.ClearAll(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Audio cache cleared")
			return nil
		},
	}
}

func newCacheKeyCommand() *cobra.Command {
	var (
		book    string
		chapter int
		verse   int
		depth   string
		voice   string
	)

	cmd := &cobra.Command{
		Use:   "key [text]",
		Short: "Print the cache key for a verse, commentary or text",
		Long: `Print the cache key audio is stored under.

Examples:
  palace cache key --book Genesis --chapter 1 --verse 1
  palace cache key --book Genesis --chapter 1 --depth deep --voice onyx
  palace cache key "Welcome to the palace"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if voice == "" {
				voice = tts.DefaultVoice
			}
			switch {
			case book != "" && chapter > 0 && depth != "":
				fmt.Fprintln(cmd.OutOrStdout(), cache.CommentaryKey(book, chapter, depth, voice))
			case book != "" && chapter > 0 && verse > 0:
				fmt.Fprintln(cmd.OutOrStdout(), cache.VerseKey(book, chapter, verse, voice))
			case len(args) == 1:
				fmt.Fprintln(cmd.OutOrStdout(), cache.TextKey(args[0], voice))
			default:
				return fmt.Errorf("pass text, or --book and --chapter with --verse or --depth")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&book, "book", "", "Bible book")
	cmd.Flags().IntVar(&chapter, "chapter", 0, "Chapter number")
	cmd.Flags().IntVar(&verse, "verse", 0, "Verse number")
	cmd.Flags().StringVar(&depth, "depth", "", "Commentary depth")
	cmd.Flags().StringVar(&voice, "voice", "", "TTS voice")
	return cmd
}

// openStore opens only the persistent tier; a nil store means none is configured
func (c *CLI) openStore(ctx context.Context, cfg *config.Config) (cache.Store, string, error) {
	sc := cfg.Cache.StoreConfig()
	if sc.Kind != cache.StoreNone {
		sc.Path = c.configManager.ResolveCachePath(&cfg.Cache)
	}
	store, err := cache.OpenStore(ctx, c.fs, sc)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s cache store: %w", sc.Kind, err)
	}
	return store, sc.Path, nil
}

func printCacheStats(ctx context.Context, w io.Writer, kind, path string, store cache.Store) error {
	if kind == "" {
		kind = cache.StoreSQLite
	}
	fmt.Fprintf(w, "Store: %s\n", kind)
	if store == nil {
		fmt.Fprintln(w, "No persistent cache configured; audio is cached for one session only")
		return nil
	}
	if path != "" && kind != cache.StoreRedis && kind != cache.StoreMinio {
		fmt.Fprintf(w, "Location: %s\n", path)
	}

	counter, ok := store.(storeCounter)
	if !ok {
		fmt.Fprintln(w, "Size: not reported by this store")
		return nil
	}
	entries, size, err := counter.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count cache entries: %w", err)
	}
	fmt.Fprintf(w, "Entries: %d\n", entries)
	fmt.Fprintf(w, "Size: %s\n", formatBytes(size))
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
