package tts

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/player"
)

// ErrPlaybackRejected is returned when the engine refused to start without
// reporting a playback error
var ErrPlaybackRejected = errors.New("playback did not start")

// Speaker reads text aloud: cached audio plays straight from memory,
// anything else is synthesised, cached and then played.
type Speaker struct {
	gen    Generator
	cache  *cache.Cache
	engine *player.Engine
	voice  string
	speed  float64
}

// NewSpeaker creates a speaker playing through engine
func NewSpeaker(gen Generator, c *cache.Cache, engine *player.Engine, voice string, speed float64) *Speaker {
	if voice == "" {
		voice = DefaultVoice
	}
	if speed <= 0 {
		speed = DefaultSpeed
	}
	return &Speaker{gen: gen, cache: c, engine: engine, voice: voice, speed: speed}
}

// Resolve returns a playable URL for req under key, synthesising on a miss.
// An empty key is derived from the text and voice.
func (s *Speaker) Resolve(ctx context.Context, req Request, key string) (string, error) {
	if req.Voice == "" {
		req.Voice = s.voice
	}
	if req.Speed <= 0 {
		req.Speed = s.speed
	}
	if key == "" {
		key = cache.TextKey(req.Text, req.Voice)
	}

	if ref, ok := s.cache.Get(ctx, key); ok {
		slog.Debug("speaking from cache", "key", key)
		return ref.URL, nil
	}

	req.UseCache = true
	res, err := s.gen.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	if s.cache.CacheFromURL(ctx, key, res.AudioURL) {
		if ref, ok := s.cache.Get(ctx, key); ok {
			return ref.URL, nil
		}
	}
	// uncached audio still plays from its origin
	return res.AudioURL, nil
}

// Speak resolves audio for req and plays it, returning once playback has
// started or failed. Load failures come back as *player.PlaybackError; an
// OnError among opts still hears them along with any later failure.
func (s *Speaker) Speak(ctx context.Context, req Request, key string, opts ...player.PlayOption) error {
	url, err := s.Resolve(ctx, req, key)
	if err != nil {
		return err
	}

	var perr *player.PlaybackError
	all := append(slices.Clip(opts), player.OnError(func(e *player.PlaybackError) { perr = e }))
	if s.engine.Play(ctx, url, all...) {
		return nil
	}
	if perr != nil {
		return perr
	}
	return ErrPlaybackRejected
}
