//go:build !cgo

package output

import (
	"context"
	"errors"
	"time"

	"phototheology.app/palace/internal/audio"
)

var ErrCGORequired = errors.New(`device audio output requires CGO support.

Rebuild with CGO_ENABLED=1 and a C toolchain installed, or set
"audio_backend": "null" to run without sound`)

const deviceOutputsAvailable = false

// SpeakerOutput is unavailable without cgo
type SpeakerOutput struct{}

func NewSpeakerOutput(time.Duration) (*SpeakerOutput, error) {
	return nil, ErrCGORequired
}

func (o *SpeakerOutput) Name() string                 { return "speaker" }
func (o *SpeakerOutput) RequiresUnlock() bool         { return true }
func (o *SpeakerOutput) Unlock(context.Context) error { return ErrCGORequired }
func (o *SpeakerOutput) Close() error                 { return nil }
func (o *SpeakerOutput) Open(context.Context, *audio.AudioData) (Element, error) {
	return nil, ErrCGORequired
}

// MalgoOutput is unavailable without cgo
type MalgoOutput struct{}

func NewMalgoOutput() (*MalgoOutput, error) {
	return nil, ErrCGORequired
}

func (o *MalgoOutput) Name() string                 { return "malgo" }
func (o *MalgoOutput) RequiresUnlock() bool         { return false }
func (o *MalgoOutput) Unlock(context.Context) error { return ErrCGORequired }
func (o *MalgoOutput) Close() error                 { return nil }
func (o *MalgoOutput) Open(context.Context, *audio.AudioData) (Element, error) {
	return nil, ErrCGORequired
}
