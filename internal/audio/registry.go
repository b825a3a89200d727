package audio

import (
	"bytes"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// sniffLimit bounds how much of a payload is inspected for magic bytes
const sniffLimit = 3072

// contentTypes maps detected MIME types to decoder format names.
// mimetype.MIME.Is also matches aliases such as audio/x-wav.
var contentTypes = []struct {
	mime   string
	format string
}{
	{"audio/wav", "WAV"},
	{"audio/mpeg", "MP3"},
	{"audio/aiff", "AIFF"},
}

// DecoderRegistry picks a Decoder for a payload, by magic bytes first and
// by the name's extension second
type DecoderRegistry struct {
	decoders []Decoder
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{}
}

// NewDefaultRegistry registers MP3, WAV and AIFF in that order; MP3 leads
// because synthesized speech is almost always MP3
func NewDefaultRegistry() *DecoderRegistry {
	r := NewDecoderRegistry()
	for _, d := range []Decoder{NewMp3Decoder(), NewWavDecoder(), NewAiffDecoder()} {
		r.Register(d)
	}
	slog.Debug("decoder registry ready", "formats", r.Formats())
	return r
}

// Register appends d; earlier registrations win extension ties
func (r *DecoderRegistry) Register(d Decoder) {
	if d == nil {
		slog.Warn("ignoring nil decoder registration")
		return
	}
	r.decoders = append(r.decoders, d)
}

func (r *DecoderRegistry) Decoders() []Decoder {
	return r.decoders
}

// Formats lists format names in registration order
func (r *DecoderRegistry) Formats() []string {
	names := make([]string, len(r.decoders))
	for i, d := range r.decoders {
		names[i] = d.FormatName()
	}
	return names
}

// ByExtension finds a decoder from name alone. Query strings and fragments
// are dropped so URLs can be passed as-is.
func (r *DecoderRegistry) ByExtension(name string) Decoder {
	if cut := strings.IndexAny(name, "?#"); cut >= 0 {
		name = name[:cut]
	}
	if name == "" {
		return nil
	}
	base := path.Base(name)
	for _, d := range r.decoders {
		if d.CanDecode(base) {
			return d
		}
	}
	return nil
}

// Sniff prefers the payload's magic bytes over its name, since TTS
// endpoints and blob URLs often carry no extension or a misleading one
func (r *DecoderRegistry) Sniff(name string, data []byte) Decoder {
	if len(data) == 0 {
		return r.ByExtension(name)
	}
	detected := mimetype.Detect(data[:min(len(data), sniffLimit)])
	for _, ct := range contentTypes {
		if !detected.Is(ct.mime) {
			continue
		}
		if d := r.byFormat(ct.format); d != nil {
			slog.Debug("format sniffed", "name", name, "mime", detected.String(), "format", ct.format)
			return d
		}
	}
	slog.Debug("no magic match, using extension", "name", name, "mime", detected.String())
	return r.ByExtension(name)
}

func (r *DecoderRegistry) byFormat(format string) Decoder {
	for _, d := range r.decoders {
		if strings.EqualFold(d.FormatName(), format) {
			return d
		}
	}
	return nil
}

// Decode turns an encoded payload into PCM. Every failure wraps
// ErrDecodeFailed together with the underlying cause.
func (r *DecoderRegistry) Decode(name string, data []byte) (*AudioData, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailed, name, ErrInvalidData)
	}
	d := r.Sniff(name, data)
	if d == nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailed, name, ErrUnsupportedFormat)
	}
	clip, err := d.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Error("decode failed", "name", name, "format", d.FormatName(), "size_bytes", len(data), "error", err)
		return nil, fmt.Errorf("%w: %s: %w", ErrDecodeFailed, name, err)
	}
	slog.Debug("decoded", "name", name, "format", d.FormatName(), "channels", clip.Channels, "sample_rate", clip.SampleRate, "duration", clip.Duration())
	return clip, nil
}
