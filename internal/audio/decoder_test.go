package audio

import (
	"bytes"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"
)

// MockDecoder for testing
type MockDecoder struct {
	formatName string
	extensions []string
	shouldFail bool
	returnData *AudioData
}

func (m *MockDecoder) Decode(reader io.Reader) (*AudioData, error) {
	if m.shouldFail {
		return nil, ErrUnsupportedFormat
	}
	if m.returnData != nil {
		return m.returnData, nil
	}
	return &AudioData{
		Samples:    []byte{0x00, 0x01, 0x02, 0x03},
		Channels:   2,
		SampleRate: 44100,
		Format:     FormatS16,
	}, nil
}

func (m *MockDecoder) CanDecode(filename string) bool {
	lower := strings.ToLower(filename)
	for _, ext := range m.extensions {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

func (m *MockDecoder) FormatName() string {
	return m.formatName
}

func TestSampleFormat(t *testing.T) {
	tests := []struct {
		format SampleFormat
		width  int
		name   string
	}{
		{FormatS16, 2, "s16"},
		{FormatS24, 3, "s24"},
		{FormatS32, 4, "s32"},
		{SampleFormat(0), 2, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.format.BytesPerSample(); got != tt.width {
				t.Errorf("BytesPerSample() = %d, want %d", got, tt.width)
			}
			if got := tt.format.String(); got != tt.name {
				t.Errorf("String() = %q, want %q", got, tt.name)
			}
		})
	}
}

func TestFormatForBits(t *testing.T) {
	for bits, want := range map[int]SampleFormat{16: FormatS16, 24: FormatS24, 32: FormatS32} {
		got, err := FormatForBits(bits)
		if err != nil || got != want {
			t.Errorf("FormatForBits(%d) = %v, %v; want %v", bits, got, err, want)
		}
	}
	for _, bits := range []int{0, 8, 12, 64} {
		if _, err := FormatForBits(bits); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("FormatForBits(%d) error = %v, want ErrUnsupportedFormat", bits, err)
		}
	}
}

func TestPCMWriter(t *testing.T) {
	w := newPCMWriter(FormatS24, 2)
	w.put(-1)
	w.put(0x123456)
	clip := w.clip(1, 8000)

	want := []byte{0xFF, 0xFF, 0xFF, 0x56, 0x34, 0x12}
	if !bytes.Equal(clip.Samples, want) {
		t.Errorf("samples = % x, want % x", clip.Samples, want)
	}
	if clip.Frames() != 2 || clip.Format != FormatS24 {
		t.Errorf("clip = %d frames %v, want 2 frames s24", clip.Frames(), clip.Format)
	}
}

func TestAudioDataFramesAndDuration(t *testing.T) {
	tests := []struct {
		name     string
		data     AudioData
		frames   int
		duration time.Duration
	}{
		{
			name:     "stereo s16 one second",
			data:     AudioData{Samples: make([]byte, 4*8000), Channels: 2, SampleRate: 8000, Format: FormatS16},
			frames:   8000,
			duration: time.Second,
		},
		{
			name:     "mono s24 half second",
			data:     AudioData{Samples: make([]byte, 3*500), Channels: 1, SampleRate: 1000, Format: FormatS24},
			frames:   500,
			duration: 500 * time.Millisecond,
		},
		{
			name:     "partial frame ignored",
			data:     AudioData{Samples: make([]byte, 10), Channels: 2, SampleRate: 1000, Format: FormatS16},
			frames:   2,
			duration: 2 * time.Millisecond,
		},
		{
			name:   "zero rate",
			data:   AudioData{Samples: make([]byte, 8), Channels: 2, Format: FormatS16},
			frames: 2,
		},
		{
			name: "zero channels",
			data: AudioData{Samples: make([]byte, 8), SampleRate: 1000, Format: FormatS16},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.data.Frames(); got != tt.frames {
				t.Errorf("Frames() = %d, want %d", got, tt.frames)
			}
			if got := tt.data.Duration(); got != tt.duration {
				t.Errorf("Duration() = %v, want %v", got, tt.duration)
			}
		})
	}
}

func TestAudioDataSampleAt(t *testing.T) {
	const eps = 1e-6

	t.Run("s16", func(t *testing.T) {
		// left = 0x4000 (0.5), right = 0x8000 (-1.0)
		data := &AudioData{Samples: []byte{0x00, 0x40, 0x00, 0x80}, Channels: 2, SampleRate: 8000, Format: FormatS16}
		if got := data.SampleAt(0, 0); math.Abs(got-0.5) > eps {
			t.Errorf("left = %v, want 0.5", got)
		}
		if got := data.SampleAt(0, 1); math.Abs(got+1) > eps {
			t.Errorf("right = %v, want -1", got)
		}
	})

	t.Run("s24 negative", func(t *testing.T) {
		data := &AudioData{Samples: []byte{0x00, 0x00, 0xC0}, Channels: 1, SampleRate: 8000, Format: FormatS24}
		if got := data.SampleAt(0, 0); math.Abs(got+0.5) > eps {
			t.Errorf("SampleAt = %v, want -0.5", got)
		}
	})

	t.Run("s32", func(t *testing.T) {
		data := &AudioData{Samples: []byte{0x00, 0x00, 0x00, 0x40}, Channels: 1, SampleRate: 8000, Format: FormatS32}
		if got := data.SampleAt(0, 0); math.Abs(got-0.5) > eps {
			t.Errorf("SampleAt = %v, want 0.5", got)
		}
	})

	t.Run("mono clip answers every channel", func(t *testing.T) {
		data := &AudioData{Samples: []byte{0x00, 0x40}, Channels: 1, SampleRate: 8000, Format: FormatS16}
		if got := data.SampleAt(0, 1); math.Abs(got-0.5) > eps {
			t.Errorf("SampleAt(0, 1) = %v, want 0.5", got)
		}
	})

	t.Run("out of range is silent", func(t *testing.T) {
		data := &AudioData{Samples: []byte{0x00, 0x40}, Channels: 1, SampleRate: 8000, Format: FormatS16}
		for _, frame := range []int{-1, 1, 100} {
			if got := data.SampleAt(frame, 0); got != 0 {
				t.Errorf("SampleAt(%d, 0) = %v, want 0", frame, got)
			}
		}
	})
}

func TestSilence(t *testing.T) {
	clip := Silence(250*time.Millisecond, 8000)
	if clip.Channels != 2 || clip.Format != FormatS16 || clip.SampleRate != 8000 {
		t.Fatalf("unexpected clip shape: %+v", clip)
	}
	if clip.Frames() != 2000 {
		t.Errorf("Frames() = %d, want 2000", clip.Frames())
	}
	if clip.Duration() != 250*time.Millisecond {
		t.Errorf("Duration() = %v, want 250ms", clip.Duration())
	}
	for i, b := range clip.Samples {
		if b != 0 {
			t.Fatalf("sample byte %d = %d, want 0", i, b)
		}
	}
}

func TestMockDecoderInterface(t *testing.T) {
	decoder := &MockDecoder{formatName: "TEST", extensions: []string{".test", ".tst"}}
	var _ Decoder = decoder

	tests := []struct {
		filename string
		expected bool
	}{
		{"audio.test", true},
		{"sound.TST", true},
		{"music.wav", false},
		{"", false},
		{"audio.test.backup", false},
	}
	for _, tc := range tests {
		if got := decoder.CanDecode(tc.filename); got != tc.expected {
			t.Errorf("CanDecode(%q) = %v, expected %v", tc.filename, got, tc.expected)
		}
	}

	data, err := decoder.Decode(bytes.NewReader([]byte("x")))
	if err != nil || data.Frames() != 1 {
		t.Errorf("Decode() = %+v, %v", data, err)
	}
}

func TestDecoderErrorMessages(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{ErrUnsupportedFormat, "unsupported audio format"},
		{ErrInvalidData, "invalid audio data"},
		{ErrReadFailure, "failed to read audio data"},
		{ErrDecodeFailed, "audio decode failed"},
	}
	for _, tt := range tests {
		if tt.err.Error() != tt.want {
			t.Errorf("got %q, want %q", tt.err.Error(), tt.want)
		}
	}
}
