package audio

import (
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"strings"
	"time"
)

// Common decoder errors
var (
	ErrInvalidData       = errors.New("invalid audio data")
	ErrReadFailure       = errors.New("failed to read audio data")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	ErrDecodeFailed      = errors.New("audio decode failed")
)

// SampleFormat describes the encoding of one PCM sample in AudioData.Samples
type SampleFormat int

const (
	FormatS16 SampleFormat = iota + 1
	FormatS24
	FormatS32
)

// BytesPerSample returns the width of a single sample
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case FormatS16:
		return 2
	case FormatS24:
		return 3
	case FormatS32:
		return 4
	default:
		return 2
	}
}

// FormatForBits maps a container's bit depth to a SampleFormat
func FormatForBits(bits int) (SampleFormat, error) {
	switch bits {
	case 16:
		return FormatS16, nil
	case 24:
		return FormatS24, nil
	case 32:
		return FormatS32, nil
	default:
		return 0, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedFormat, bits)
	}
}

func (f SampleFormat) String() string {
	switch f {
	case FormatS16:
		return "s16"
	case FormatS24:
		return "s24"
	case FormatS32:
		return "s32"
	default:
		return "unknown"
	}
}

// AudioData represents decoded audio ready for playback
type AudioData struct {
	Samples    []byte       // Interleaved little-endian PCM
	Channels   uint32       // Number of audio channels
	SampleRate uint32       // Sample rate in Hz
	Format     SampleFormat // Sample encoding
}

// BytesPerFrame returns the size of one interleaved frame
func (a *AudioData) BytesPerFrame() int {
	return int(a.Channels) * a.Format.BytesPerSample()
}

// Frames returns the number of complete frames in the clip
func (a *AudioData) Frames() int {
	bpf := a.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return len(a.Samples) / bpf
}

// Duration returns the playing time of the clip at its native rate
func (a *AudioData) Duration() time.Duration {
	if a.SampleRate == 0 {
		return 0
	}
	return time.Duration(a.Frames()) * time.Second / time.Duration(a.SampleRate)
}

// SampleAt returns the sample at frame/channel normalised to [-1, 1]
func (a *AudioData) SampleAt(frame, channel int) float64 {
	if channel >= int(a.Channels) {
		channel = int(a.Channels) - 1
	}
	width := a.Format.BytesPerSample()
	off := frame*a.BytesPerFrame() + channel*width
	if off < 0 || off+width > len(a.Samples) {
		return 0
	}
	b := a.Samples[off : off+width]
	switch a.Format {
	case FormatS24:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
		if v&0x800000 != 0 {
			v |= ^0xFFFFFF
		}
		return float64(v) / (1 << 23)
	case FormatS32:
		v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16 | int32(b[3])<<24
		return float64(v) / (1 << 31)
	default:
		v := int16(b[0]) | int16(b[1])<<8
		return float64(v) / (1 << 15)
	}
}

// Silence builds a clip of zeroed 16-bit stereo samples
func Silence(d time.Duration, sampleRate uint32) *AudioData {
	frames := int(time.Duration(sampleRate) * d / time.Second)
	return &AudioData{
		Samples:    make([]byte, frames*4),
		Channels:   2,
		SampleRate: sampleRate,
		Format:     FormatS16,
	}
}

// pcmWriter packs integer samples into AudioData's little-endian layout
type pcmWriter struct {
	format SampleFormat
	buf    []byte
}

func newPCMWriter(format SampleFormat, samples int) *pcmWriter {
	return &pcmWriter{format: format, buf: make([]byte, 0, samples*format.BytesPerSample())}
}

func (w *pcmWriter) put(v int) {
	for b := 0; b < w.format.BytesPerSample(); b++ {
		w.buf = append(w.buf, byte(v>>(8*b)))
	}
}

func (w *pcmWriter) clip(channels, sampleRate uint32) *AudioData {
	return &AudioData{Samples: w.buf, Channels: channels, SampleRate: sampleRate, Format: w.format}
}

// hasExtension reports whether name ends in one of exts, ignoring case
func hasExtension(name string, exts ...string) bool {
	return slices.Contains(exts, strings.ToLower(path.Ext(name)))
}

// Decoder interface for audio format decoding
type Decoder interface {
	// Decode reads audio data from reader and returns decoded PCM data
	Decode(reader io.Reader) (*AudioData, error)

	// CanDecode checks if this decoder can handle the given filename
	CanDecode(filename string) bool

	// FormatName returns the name of the format this decoder handles
	FormatName() string
}
