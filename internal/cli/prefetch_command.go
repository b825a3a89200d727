package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"phototheology.app/palace/internal/tts"
)

// ErrNothingToPrefetch is returned when neither a verse file nor verse flags were given
var ErrNothingToPrefetch = errors.New("nothing to prefetch: pass --file or --book, --chapter, --verse and --text")

func newPrefetchCommand() *cobra.Command {
	var (
		file        string
		book        string
		chapter     int
		verse       int
		text        string
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "prefetch",
		Short: "Generate and cache verse audio ahead of playback",
		Long: `Generate speech for verses and store it in the audio cache.

Verses are read from a JSON file holding an array of
{"book", "chapter", "verse", "text"} objects, or given with flags. Verses
already cached are skipped, and one failed verse never stops the rest.

Examples:
  palace prefetch --file genesis-1.json
  palace prefetch --file genesis-1.json --concurrency 4
  palace prefetch --book John --chapter 3 --verse 16 --text "For God so loved the world..."`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := cliFromContext(cmd.Context())
			cfg, err := loadAndValidateConfig(cmd, cli)
			if err != nil {
				return err
			}

			var verses []tts.Verse
			switch {
			case file != "":
				verses, err = loadVerses(cli.fs, file)
				if err != nil {
					return err
				}
			case book != "" && chapter > 0 && verse > 0 && text != "":
				verses = []tts.Verse{{Book: book, Chapter: chapter, Verse: verse, Text: text}}
			default:
				return ErrNothingToPrefetch
			}

			if !cmd.Flags().Changed("concurrency") {
				concurrency = cfg.PrefetchConcurrency
			}

			rt, err := cli.buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			prefetcher, err := rt.prefetcher()
			if err != nil {
				return err
			}

			report := prefetcher.PrefetchVerses(cmd.Context(), verses, cfg.Voice, concurrency)
			printPrefetchReport(cmd.OutOrStdout(), len(verses), report)
			if report.Failed > 0 && report.Cached+report.Skipped == 0 {
				return fmt.Errorf("all %d verses failed to prefetch", report.Failed)
			}
			return cmd.Context().Err()
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file of verses")
	cmd.Flags().StringVar(&book, "book", "", "Bible book")
	cmd.Flags().IntVar(&chapter, "chapter", 0, "Chapter number")
	cmd.Flags().IntVar(&verse, "verse", 0, "Verse number")
	cmd.Flags().StringVar(&text, "text", "", "Verse text")
	cmd.Flags().IntVar(&concurrency, "concurrency", tts.DefaultPrefetchConcurrency, "Verses generated per batch")
	return cmd
}

// loadVerses reads a JSON array of verses from path
func loadVerses(fsys afero.Fs, path string) ([]tts.Verse, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read verse file: %w", err)
	}
	var verses []tts.Verse
	if err := json.Unmarshal(data, &verses); err != nil {
		return nil, fmt.Errorf("failed to parse verse file %s: %w", path, err)
	}
	if len(verses) == 0 {
		return nil, fmt.Errorf("%w: %s holds no verses", ErrNothingToPrefetch, path)
	}
	return verses, nil
}

func printPrefetchReport(w io.Writer, total int, report tts.PrefetchReport) {
	fmt.Fprintf(w, "Prefetched %d verses: %d cached, %d already cached, %d failed\n",
		total, report.Cached, report.Skipped, report.Failed)
	if remaining := total - report.Cached - report.Skipped - report.Failed; remaining > 0 {
		fmt.Fprintf(w, "%d verses not attempted (interrupted)\n", remaining)
	}
}
