package output

import (
	"sync"

	"phototheology.app/palace/internal/audio"
)

// pcmStreamer walks a decoded clip frame by frame. It satisfies
// beep.StreamSeeker so the speaker output can mix it directly.
type pcmStreamer struct {
	mu     sync.Mutex
	clip   *audio.AudioData
	frames int
	pos    int
}

func newPCMStreamer(clip *audio.AudioData) *pcmStreamer {
	return &pcmStreamer{clip: clip, frames: clip.Frames()}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (n int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos >= s.frames {
		return 0, false
	}
	stereo := s.clip.Channels > 1
	for i := range samples {
		if s.pos >= s.frames {
			break
		}
		left := s.clip.SampleAt(s.pos, 0)
		right := left
		if stereo {
			right = s.clip.SampleAt(s.pos, 1)
		}
		samples[i][0] = left
		samples[i][1] = right
		s.pos++
		n++
	}
	return n, true
}

func (s *pcmStreamer) Err() error { return nil }

func (s *pcmStreamer) Len() int { return s.frames }

func (s *pcmStreamer) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

func (s *pcmStreamer) Seek(p int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p < 0 {
		p = 0
	}
	if p > s.frames {
		p = s.frames
	}
	s.pos = p
	return nil
}

// applyGain scales interleaved little-endian samples in place
func applyGain(samples []byte, format audio.SampleFormat, gain float64) {
	if gain == 1.0 {
		return
	}
	switch format {
	case audio.FormatS16:
		for i := 0; i+1 < len(samples); i += 2 {
			v := int16(samples[i]) | int16(samples[i+1])<<8
			v = int16(float64(v) * gain)
			samples[i] = byte(v)
			samples[i+1] = byte(v >> 8)
		}
	case audio.FormatS24:
		for i := 0; i+2 < len(samples); i += 3 {
			v := int32(samples[i]) | int32(samples[i+1])<<8 | int32(samples[i+2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF
			}
			v = int32(float64(v) * gain)
			samples[i] = byte(v)
			samples[i+1] = byte(v >> 8)
			samples[i+2] = byte(v >> 16)
		}
	case audio.FormatS32:
		for i := 0; i+3 < len(samples); i += 4 {
			v := int32(samples[i]) | int32(samples[i+1])<<8 | int32(samples[i+2])<<16 | int32(samples[i+3])<<24
			v = int32(float64(v) * gain)
			samples[i] = byte(v)
			samples[i+1] = byte(v >> 8)
			samples[i+2] = byte(v >> 16)
			samples[i+3] = byte(v >> 24)
		}
	}
}
