package player

import (
	"log/slog"
	"sync"

	"phototheology.app/palace/internal/output"
)

var (
	defaultMu     sync.Mutex
	defaultEngine *Engine
)

// Default returns the process-wide engine, creating it on first use with
// the platform's auto-selected output.
func Default() *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultEngine == nil {
		out, err := output.NewFactory().Create(output.KindAuto)
		if err != nil {
			slog.Warn("no audio output available, using silent output", "error", err)
			out = output.NewNullOutput()
		}
		defaultEngine = New(out)
	}
	return defaultEngine
}

// SetDefault installs e as the process-wide engine and returns the one it
// replaced, if any. Call it once at startup, before any consumer runs.
func SetDefault(e *Engine) *Engine {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	prev := defaultEngine
	defaultEngine = e
	return prev
}
