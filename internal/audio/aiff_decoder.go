package audio

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
)

// AiffDecoder decodes uncompressed AIFF, used by locally recorded clips
// and some offline voices
type AiffDecoder struct{}

func NewAiffDecoder() *AiffDecoder {
	return &AiffDecoder{}
}

func (d *AiffDecoder) FormatName() string {
	return "AIFF"
}

func (d *AiffDecoder) CanDecode(filename string) bool {
	return hasExtension(filename, ".aiff", ".aif")
}

// Decode converts the big-endian SSND chunk into little-endian PCM at the
// file's own bit depth
func (d *AiffDecoder) Decode(reader io.Reader) (*AudioData, error) {
	// go-audio/aiff seeks between chunks
	payload, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty aiff payload", ErrInvalidData)
	}

	dec := aiff.NewDecoder(bytes.NewReader(payload))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: not an aiff container", ErrInvalidData)
	}
	if dec.NumChans == 0 || dec.SampleRate == 0 {
		return nil, fmt.Errorf("%w: aiff header has %d channels at %dHz", ErrInvalidData, dec.NumChans, dec.SampleRate)
	}
	format, err := FormatForBits(int(dec.SampleBitDepth()))
	if err != nil {
		return nil, err
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadFailure, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: aiff holds no samples", ErrInvalidData)
	}

	clip := packIntBuffer(buf, format, uint32(dec.NumChans), uint32(dec.SampleRate))
	slog.Debug("decoded aiff", "frames", clip.Frames(), "channels", clip.Channels, "sample_rate", clip.SampleRate, "format", format)
	return clip, nil
}

// packIntBuffer flattens go-audio's interleaved ints into AudioData
func packIntBuffer(buf *goaudio.IntBuffer, format SampleFormat, channels, sampleRate uint32) *AudioData {
	w := newPCMWriter(format, len(buf.Data))
	for _, v := range buf.Data {
		w.put(v)
	}
	return w.clip(channels, sampleRate)
}
