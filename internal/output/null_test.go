package output

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"phototheology.app/palace/internal/audio"
)

func openNull(t *testing.T, d time.Duration) Element {
	t.Helper()
	out := NewNullOutput()
	el, err := out.Open(context.Background(), audio.Silence(d, 8000))
	require.NoError(t, err)
	t.Cleanup(func() { el.Release() })
	return el
}

func TestNullOutput_OpenStartsPaused(t *testing.T) {
	el := openNull(t, 200*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, time.Duration(0), el.Position())
	assert.Equal(t, 200*time.Millisecond, el.Duration())
}

func TestNullOutput_PlaysToEnd(t *testing.T) {
	el := openNull(t, 50*time.Millisecond)
	require.NoError(t, el.Play())

	select {
	case <-el.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("element never finished")
	}
	assert.Equal(t, 50*time.Millisecond, el.Position())
}

func TestNullOutput_PauseHoldsPosition(t *testing.T) {
	el := openNull(t, time.Second)
	require.NoError(t, el.Play())
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, el.Pause())

	held := el.Position()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, held, el.Position())
	assert.Greater(t, held, time.Duration(0))
}

func TestNullOutput_SeekClampsAndRearms(t *testing.T) {
	el := openNull(t, 100*time.Millisecond)

	require.NoError(t, el.Seek(-time.Second))
	assert.Equal(t, time.Duration(0), el.Position())

	require.NoError(t, el.Seek(90*time.Millisecond))
	assert.Equal(t, 90*time.Millisecond, el.Position())

	require.NoError(t, el.Play())
	select {
	case <-el.Done():
	case <-time.After(time.Second):
		t.Fatal("seek near the end should finish quickly")
	}
}

func TestNullOutput_RateSpeedsClock(t *testing.T) {
	el := openNull(t, 400*time.Millisecond)
	require.NoError(t, el.SetPlaybackRate(4))
	require.NoError(t, el.Play())

	select {
	case <-el.Done():
	case <-time.After(300 * time.Millisecond):
		t.Fatal("4x playback of 400ms should finish within 300ms")
	}
}

func TestNullOutput_InvalidValues(t *testing.T) {
	el := openNull(t, time.Second)

	assert.True(t, errors.Is(el.SetVolume(1.5), ErrInvalidValue))
	assert.True(t, errors.Is(el.SetVolume(-0.1), ErrInvalidValue))
	assert.True(t, errors.Is(el.SetPlaybackRate(0), ErrInvalidValue))
	assert.NoError(t, el.SetVolume(0))
	assert.NoError(t, el.SetPlaybackRate(0.5))
}

func TestNullOutput_ReleasedElement(t *testing.T) {
	el := openNull(t, 50*time.Millisecond)
	require.NoError(t, el.Play())
	require.NoError(t, el.Release())
	require.NoError(t, el.Release())

	assert.ErrorIs(t, el.Play(), ErrReleased)
	assert.ErrorIs(t, el.Seek(0), ErrReleased)

	select {
	case <-el.Done():
		t.Fatal("released element must not report completion")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestNullOutput_ClosedAndCancelled(t *testing.T) {
	out := NewNullOutput()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := out.Open(ctx, audio.Silence(time.Second, 8000))
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, out.Unlock(ctx), context.Canceled)

	require.NoError(t, out.Close())
	_, err = out.Open(context.Background(), audio.Silence(time.Second, 8000))
	assert.ErrorIs(t, err, ErrClosed)
}
