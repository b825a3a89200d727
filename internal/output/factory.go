package output

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Output kinds accepted by Factory.Create
const (
	KindAuto    = "auto"
	KindSpeaker = "speaker"
	KindMalgo   = "malgo"
	KindNull    = "null"
)

// ErrInvalidKind is returned for unknown output kinds
var ErrInvalidKind = errors.New("invalid audio output kind")

// Factory creates Output instances based on configuration
type Factory struct {
	detect           func() Platform
	devicesAvailable bool
	bufferSize       time.Duration
}

// NewFactory creates a factory with real platform detection
func NewFactory() *Factory {
	return &Factory{
		detect:           func() Platform { return DetectPlatform(HostProbe()) },
		devicesAvailable: deviceOutputsAvailable,
		bufferSize:       100 * time.Millisecond,
	}
}

// NewFactoryWithDependencies creates a factory with a fixed platform for testing
func NewFactoryWithDependencies(plat Platform, devicesAvailable bool) *Factory {
	return &Factory{
		detect:           func() Platform { return plat },
		devicesAvailable: devicesAvailable,
		bufferSize:       100 * time.Millisecond,
	}
}

// Create builds the output for kind; an empty kind means auto
func (f *Factory) Create(kind string) (Output, error) {
	if kind == "" {
		kind = KindAuto
	}
	slog.Debug("creating audio output", "kind", kind)

	if kind == KindAuto {
		kind = f.DetectKind()
		slog.Debug("auto-detection result", "selected_kind", kind)
	}

	switch kind {
	case KindSpeaker:
		out, err := NewSpeakerOutput(f.bufferSize)
		if err != nil {
			return nil, err
		}
		return out, nil
	case KindMalgo:
		out, err := NewMalgoOutput()
		if err != nil {
			return nil, err
		}
		return out, nil
	case KindNull:
		return NewNullOutput(), nil
	default:
		slog.Error("invalid output kind requested", "kind", kind)
		return nil, fmt.Errorf("%w: %s", ErrInvalidKind, kind)
	}
}

// DetectKind resolves what auto would select on this platform
func (f *Factory) DetectKind() string {
	return f.detect().OptimalKind(f.devicesAvailable)
}

// SupportedKinds lists every accepted kind
func (f *Factory) SupportedKinds() []string {
	return []string{KindAuto, KindSpeaker, KindMalgo, KindNull}
}

// IsValidKind checks if kind is supported; empty means auto
func (f *Factory) IsValidKind(kind string) bool {
	if kind == "" {
		return true
	}
	for _, k := range f.SupportedKinds() {
		if k == kind {
			return true
		}
	}
	return false
}
