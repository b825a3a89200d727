package tts

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototheology.app/palace/internal/audio"
	"phototheology.app/palace/internal/audio/audiotest"
	"phototheology.app/palace/internal/cache"
	"phototheology.app/palace/internal/output"
	"phototheology.app/palace/internal/player"
)

func newSpeaker(t *testing.T, gen Generator) (*Speaker, *cache.Cache, *player.Engine) {
	t.Helper()
	c := cache.New(nil)
	engine := player.New(output.NewNullOutput(),
		player.WithFetcher(audio.NewFetcher(audio.WithBlobResolver(c))))
	t.Cleanup(func() { engine.Close() })
	return NewSpeaker(gen, c, engine, "", 0), c, engine
}

func wavGenerator(calls *atomic.Int32) Generator {
	clip := audiotest.WAV(500*time.Millisecond, 8000)
	return generatorFunc(func(_ context.Context, req Request) (*Result, error) {
		calls.Add(1)
		return &Result{AudioURL: audio.DataURL("audio/wav", clip), Inline: true}, nil
	})
}

func TestSpeaker_SpeakSynthesisesThenServesFromCache(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	s, c, engine := newSpeaker(t, wavGenerator(&calls))

	require.NoError(t, s.Speak(ctx, Request{Text: "Jesus wept."}, ""))
	assert.Equal(t, player.StatePlaying, engine.State())
	assert.Equal(t, int32(1), calls.Load())

	ref, ok := c.Get(ctx, cache.TextKey("Jesus wept.", DefaultVoice))
	require.True(t, ok)
	assert.Equal(t, ref.URL, engine.Snapshot().URL)
	assert.True(t, strings.HasPrefix(engine.Snapshot().URL, cache.BlobScheme))

	require.NoError(t, s.Speak(ctx, Request{Text: "Jesus wept."}, ""))
	assert.Equal(t, int32(1), calls.Load(), "second request must be served from cache")
}

func TestSpeaker_ExplicitKey(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	s, c, _ := newSpeaker(t, wavGenerator(&calls))

	key := cache.VerseKey("John", 11, 35, "nova")
	require.NoError(t, s.Speak(ctx, Request{Text: "Jesus wept.", Voice: "nova"}, key))
	_, ok := c.Get(ctx, key)
	assert.True(t, ok)
}

func TestSpeaker_GenerateErrorSkipsPlayback(t *testing.T) {
	limited := &RemoteError{Status: 429, Message: "slow down"}
	s, _, engine := newSpeaker(t, generatorFunc(func(context.Context, Request) (*Result, error) {
		return nil, limited
	}))

	err := s.Speak(context.Background(), Request{Text: "x"}, "")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, player.StateIdle, engine.State())
}

func TestSpeaker_PlaybackErrorIsReturned(t *testing.T) {
	s, _, engine := newSpeaker(t, generatorFunc(func(context.Context, Request) (*Result, error) {
		return &Result{AudioURL: audio.DataURL("audio/mpeg", []byte("not audio at all"))}, nil
	}))

	err := s.Speak(context.Background(), Request{Text: "x"}, "")
	var perr *player.PlaybackError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, player.KindDecode, perr.Kind)
	assert.Equal(t, player.StateIdle, engine.State())
}

func TestSpeaker_CallerOnErrorStillRuns(t *testing.T) {
	s, _, _ := newSpeaker(t, generatorFunc(func(context.Context, Request) (*Result, error) {
		return &Result{AudioURL: audio.DataURL("audio/mpeg", []byte("not audio at all"))}, nil
	}))

	var heard *player.PlaybackError
	opts := make([]player.PlayOption, 1, 4)
	opts[0] = player.OnError(func(e *player.PlaybackError) { heard = e })
	spare := opts[:cap(opts)]

	err := s.Speak(context.Background(), Request{Text: "x"}, "", opts...)
	require.Error(t, err)
	require.NotNil(t, heard, "caller handler must be chained, not replaced")
	assert.Equal(t, player.KindDecode, heard.Kind)
	assert.Nil(t, spare[1], "caller's backing array must not be written")
}
