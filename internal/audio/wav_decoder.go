package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/youpy/go-wav"
)

// WavDecoder decodes PCM RIFF/WAVE, the fallback format for TTS voices
// that cannot produce mp3
type WavDecoder struct{}

func NewWavDecoder() *WavDecoder {
	return &WavDecoder{}
}

func (d *WavDecoder) FormatName() string {
	return "WAV"
}

func (d *WavDecoder) CanDecode(filename string) bool {
	return hasExtension(filename, ".wav", ".wave")
}

// Decode reads every frame; frames shorter than the declared channel
// count are padded with silence
func (d *WavDecoder) Decode(reader io.Reader) (*AudioData, error) {
	// go-wav wants a ReadSeeker
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty wav payload", ErrInvalidData)
	}

	r := wav.NewReader(bytes.NewReader(payload))
	hdr, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if hdr.NumChannels == 0 || hdr.SampleRate == 0 {
		return nil, fmt.Errorf("%w: wav header has %d channels at %dHz", ErrInvalidData, hdr.NumChannels, hdr.SampleRate)
	}
	format, err := FormatForBits(int(hdr.BitsPerSample))
	if err != nil {
		return nil, err
	}

	channels := int(hdr.NumChannels)
	w := newPCMWriter(format, len(payload)/format.BytesPerSample())
	frames := 0
	for {
		batch, err := r.ReadSamples()
		for _, frame := range batch {
			for ch := range channels {
				if ch < len(frame.Values) {
					w.put(frame.Values[ch])
				} else {
					w.put(0)
				}
			}
		}
		frames += len(batch)
		if errors.Is(err, io.EOF) || (err == nil && len(batch) == 0) {
			break
		}
		if err != nil {
			slog.Warn("wav stream ended early", "error", err, "frames", frames)
			return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
	}
	if frames == 0 {
		return nil, fmt.Errorf("%w: wav holds no samples", ErrInvalidData)
	}

	clip := w.clip(uint32(hdr.NumChannels), hdr.SampleRate)
	slog.Debug("decoded wav", "frames", frames, "channels", clip.Channels, "sample_rate", clip.SampleRate, "format", format)
	return clip, nil
}
