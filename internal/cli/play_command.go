package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/miniplayer"
	"phototheology.app/palace/internal/player"
	"phototheology.app/palace/internal/tts"
)

// startFunc begins playback and returns once it has started or failed
type startFunc func(ctx context.Context) error

func newPlayCommand() *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "play <url>",
		Short: "Play an audio URL, file or cached blob",
		Long: `Play an audio source through the configured output.

The source may be an http(s) URL, a data: URL, a file path or a blob: URL
from the audio cache. Playback runs until the track ends or the command is
interrupted.

Examples:
  palace play https://example.com/genesis-1.mp3
  palace play ./psalm-23.wav --volume 0.5 --rate 1.25`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := cliFromContext(cmd.Context())
			cfg, err := loadAndValidateConfig(cmd, cli)
			if err != nil {
				return err
			}
			rt, err := cli.buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			url := args[0]
			start := func(ctx context.Context) error {
				var perr *player.PlaybackError
				if rt.engine.Play(ctx, url, player.OnError(func(e *player.PlaybackError) { perr = e })) {
					return nil
				}
				if perr != nil {
					return perr
				}
				return tts.ErrPlaybackRejected
			}
			return cli.runPlayback(cmd, rt, start, retries)
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 2, "Retries after a retryable failure")
	return cmd
}

func newSpeakCommand() *cobra.Command {
	var (
		book    string
		chapter int
		verse   int
		depth   string
		noPlay  bool
		retries int
	)

	cmd := &cobra.Command{
		Use:   "speak <text>",
		Short: "Read text aloud through the TTS service",
		Long: `Generate speech for text, cache it and play it.

With --book and --chapter the audio is cached under the verse key (with
--verse) or the commentary key (with --depth), so prefetched audio is
reused. Otherwise the key is derived from the text and voice.

Examples:
  palace speak "In the beginning God created the heaven and the earth." --book Genesis --chapter 1 --verse 1
  palace speak "The sanctuary reveals..." --book Exodus --chapter 25 --depth deep
  palace speak "Welcome to the palace" --no-play`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cli := cliFromContext(cmd.Context())
			cfg, err := loadAndValidateConfig(cmd, cli)
			if err != nil {
				return err
			}
			rt, err := cli.buildRuntime(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer rt.Close()

			speaker, err := rt.speaker()
			if err != nil {
				return err
			}

			req := tts.Request{
				Text:    strings.Join(args, " "),
				Voice:   cfg.Voice,
				Speed:   cfg.Speed,
				Book:    book,
				Chapter: chapter,
				Verse:   verse,
			}
			key := speechKey(req, depth)

			if noPlay {
				url, err := speaker.Resolve(cmd.Context(), req, key)
				if err != nil {
					return fmt.Errorf("%s: %w", tts.UserMessage(err), err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			}

			start := func(ctx context.Context) error {
				return speaker.Speak(ctx, req, key)
			}
			return cli.runPlayback(cmd, rt, start, retries)
		},
	}

	cmd.Flags().StringVar(&book, "book", "", "Bible book of the passage")
	cmd.Flags().IntVar(&chapter, "chapter", 0, "Chapter number")
	cmd.Flags().IntVar(&verse, "verse", 0, "Verse number")
	cmd.Flags().StringVar(&depth, "depth", "", "Commentary depth (cached under the commentary key)")
	cmd.Flags().BoolVar(&noPlay, "no-play", false, "Generate and cache only, then print the playable URL")
	cmd.Flags().IntVar(&retries, "retries", 2, "Retries after a retryable failure")
	return cmd
}

// speechKey picks the cache key for a speak request; empty means derive from text
func speechKey(req tts.Request, depth string) string {
	switch {
	case req.Book != "" && req.Chapter > 0 && depth != "":
		return cache.CommentaryKey(req.Book, req.Chapter, depth, req.Voice)
	case req.Book != "" && req.Chapter > 0 && req.Verse > 0:
		return cache.VerseKey(req.Book, req.Chapter, req.Verse, req.Voice)
	default:
		return ""
	}
}

// runPlayback runs start under the error boundary, shows the mini-player
// while the track plays and returns once it ends.
func (c *CLI) runPlayback(cmd *cobra.Command, rt *runtime, start startFunc, retries int) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	tracker := miniplayer.NewTracker(rt.engine)
	shown := make(chan struct{})
	go func() {
		defer close(shown)
		showProgress(out, tracker.Updates(), c.displayFor(out))
	}()

	boundary := miniplayer.NewBoundary(cmd.ErrOrStderr(), miniplayer.WithRetries(retries))
	err := boundary.Run(ctx, func(ctx context.Context) error {
		return playAndWait(ctx, rt.engine, start)
	})

	rt.engine.Sync()
	tracker.Close()
	<-shown

	if err != nil {
		slog.Debug("playback finished with error", "error", err)
		return err
	}
	return nil
}

// playAndWait unlocks the output, starts playback and blocks until the
// track ends, fails, or ctx is cancelled.
func playAndWait(ctx context.Context, e *player.Engine, start startFunc) error {
	// playing from a command counts as the user gesture
	if !e.Unlock(ctx) {
		slog.Debug("output not unlocked, play will report it")
	}
	e.Sync()

	finished := make(chan *player.PlaybackError, 1)
	id := e.On(player.EventStateChange, func(ev player.Event) {
		if ev.State != player.StateIdle && ev.State != player.StateError {
			return
		}
		select {
		case finished <- ev.Err:
		default:
		}
	})
	defer e.Off(id)

	if err := start(ctx); err != nil {
		return err
	}

	select {
	case perr := <-finished:
		if perr != nil {
			return perr
		}
		return nil
	case <-ctx.Done():
		e.Stop()
		return ctx.Err()
	}
}

// showProgress prints mini-player updates until the channel closes. On a
// terminal the line is redrawn in place; otherwise only state changes are
// printed.
func showProgress(w io.Writer, updates <-chan player.Snapshot, d display) {
	var last player.State
	drawn := false
	for snap := range updates {
		if d.interactive {
			miniplayer.Redraw(w, snap, d.width)
			drawn = true
			continue
		}
		if snap.State != last {
			miniplayer.Render(w, snap)
			last = snap.State
		}
	}
	if drawn {
		fmt.Fprintln(w)
	}
}
