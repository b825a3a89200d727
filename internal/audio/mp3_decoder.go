package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hajimehoshi/go-mp3"
)

// mp3ReadChunk is the size of each read from the MPEG frame decoder
const mp3ReadChunk = 16 * 1024

// Mp3Decoder decodes MPEG-1/2 Layer III, the format most TTS providers
// return by default
type Mp3Decoder struct{}

func NewMp3Decoder() *Mp3Decoder {
	return &Mp3Decoder{}
}

func (d *Mp3Decoder) FormatName() string {
	return "MP3"
}

func (d *Mp3Decoder) CanDecode(filename string) bool {
	return hasExtension(filename, ".mp3", ".mpeg")
}

// Decode drains the stream into 16-bit stereo PCM, which is the only
// layout go-mp3 produces
func (d *Mp3Decoder) Decode(reader io.Reader) (*AudioData, error) {
	stream, err := mp3.NewDecoder(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: no mp3 frame: %v", ErrInvalidData, err)
	}
	rate := stream.SampleRate()
	if rate <= 0 {
		return nil, fmt.Errorf("%w: mp3 sample rate %d", ErrInvalidData, rate)
	}

	size := mp3ReadChunk
	if n := stream.Length(); n > 0 {
		size = int(n)
	}
	pcm := make([]byte, 0, size)
	chunk := make([]byte, mp3ReadChunk)
	for {
		n, err := stream.Read(chunk)
		pcm = append(pcm, chunk[:n]...)
		if errors.Is(err, io.EOF) || (err == nil && n == 0) {
			break
		}
		if err != nil {
			slog.Warn("mp3 stream ended early", "error", err, "bytes", len(pcm))
			return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
		}
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("%w: mp3 stream holds no samples", ErrInvalidData)
	}

	clip := &AudioData{Samples: pcm, Channels: 2, SampleRate: uint32(rate), Format: FormatS16}
	slog.Debug("decoded mp3", "bytes", len(pcm), "sample_rate", rate, "duration", clip.Duration())
	return clip, nil
}
