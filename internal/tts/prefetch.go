package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/metrics"
)

// DefaultPrefetchConcurrency is the batch size used when none is given
const DefaultPrefetchConcurrency = 2

// ErrCacheFailed is returned when synthesis succeeded but the audio could not be cached
var ErrCacheFailed = errors.New("failed to cache synthesised audio")

// Generator produces playable audio for a request
type Generator interface {
	Generate(ctx context.Context, req Request) (*Result, error)
}

// Verse identifies one verse and its text
type Verse struct {
	Book    string `json:"book"`
	Chapter int    `json:"chapter"`
	Verse   int    `json:"verse"`
	Text    string `json:"text"`
}

// PrefetchReport summarises a batch prefetch
type PrefetchReport struct {
	Cached  int
	Skipped int
	Failed  int
}

// Prefetcher warms the audio cache so later playback starts from memory
type Prefetcher struct {
	gen     Generator
	cache   *cache.Cache
	speed   float64
	metrics *metrics.Metrics
}

// NewPrefetcher creates a prefetcher writing into c
func NewPrefetcher(gen Generator, c *cache.Cache, speed float64, m *metrics.Metrics) *Prefetcher {
	return &Prefetcher{gen: gen, cache: c, speed: speed, metrics: m}
}

// PrefetchVerse synthesises and caches a single verse. A verse already
// cached is left alone.
func (p *Prefetcher) PrefetchVerse(ctx context.Context, v Verse, voice string) error {
	_, err := p.prefetch(ctx, cache.VerseKey(v.Book, v.Chapter, v.Verse, voice), Request{
		Text:    v.Text,
		Voice:   voice,
		Book:    v.Book,
		Chapter: v.Chapter,
		Verse:   v.Verse,
	})
	return err
}

// PrefetchCommentary caches commentary audio for a chapter at a depth
func (p *Prefetcher) PrefetchCommentary(ctx context.Context, book string, chapter int, depth, text, voice string) error {
	_, err := p.prefetch(ctx, cache.CommentaryKey(book, chapter, depth, voice), Request{
		Text:    text,
		Voice:   voice,
		Book:    book,
		Chapter: chapter,
	})
	return err
}

// PrefetchText caches audio for arbitrary text
func (p *Prefetcher) PrefetchText(ctx context.Context, text, voice string) error {
	_, err := p.prefetch(ctx, cache.TextKey(text, voice), Request{Text: text, Voice: voice})
	return err
}

// PrefetchVerses walks verses in fixed-size batches, in order. Each batch
// runs concurrently and completes before the next begins. Failures are
// logged per verse and never abort the walk; cancelling ctx stops it
// between batches.
func (p *Prefetcher) PrefetchVerses(ctx context.Context, verses []Verse, voice string, concurrency int) PrefetchReport {
	if concurrency <= 0 {
		concurrency = DefaultPrefetchConcurrency
	}

	var report PrefetchReport
	for start := 0; start < len(verses); start += concurrency {
		if ctx.Err() != nil {
			slog.Debug("prefetch cancelled", "remaining", len(verses)-start)
			break
		}

		end := min(start+concurrency, len(verses))
		batch := verses[start:end]
		outcomes := make([]outcome, len(batch))

		var g errgroup.Group
		for i, v := range batch {
			g.Go(func() error {
				key := cache.VerseKey(v.Book, v.Chapter, v.Verse, voice)
				o, err := p.prefetch(ctx, key, Request{
					Text:    v.Text,
					Voice:   voice,
					Book:    v.Book,
					Chapter: v.Chapter,
					Verse:   v.Verse,
				})
				if err != nil {
					slog.Warn("verse prefetch failed", "key", key, "error", err)
				}
				outcomes[i] = o
				return nil
			})
		}
		_ = g.Wait()

		for _, o := range outcomes {
			switch o {
			case outcomeCached:
				report.Cached++
			case outcomeSkipped:
				report.Skipped++
			default:
				report.Failed++
			}
		}
	}

	slog.Info("verse prefetch finished",
		"voice", voice,
		"total", len(verses),
		"cached", report.Cached,
		"skipped", report.Skipped,
		"failed", report.Failed)
	return report
}

type outcome int

const (
	outcomeFailed outcome = iota
	outcomeCached
	outcomeSkipped
)

func (p *Prefetcher) prefetch(ctx context.Context, key string, req Request) (o outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			o, err = outcomeFailed, fmt.Errorf("prefetch %s panicked: %v", key, r)
		}
		if o != outcomeSkipped {
			p.metrics.RecordPrefetch(err == nil)
		}
	}()

	if _, ok := p.cache.Get(ctx, key); ok {
		return outcomeSkipped, nil
	}

	req.UseCache = true
	if req.Speed == 0 {
		req.Speed = p.speed
	}
	res, err := p.gen.Generate(ctx, req)
	if err != nil {
		return outcomeFailed, fmt.Errorf("prefetch %s: %w", key, err)
	}
	if !p.cache.CacheFromURL(ctx, key, res.AudioURL) {
		return outcomeFailed, fmt.Errorf("%w: %s", ErrCacheFailed, key)
	}
	slog.Debug("prefetched audio", "key", key, "remote_cached", res.Cached)
	return outcomeCached, nil
}
