package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const appDir = "palace"

// HomeEnv relocates every palace directory under one root when set
const HomeEnv = "PALACE_HOME"

// XDGDirs resolves palace's config, cache and state directories. Audio
// payloads are disposable and live under the cache home; playback history
// and logs are state.
type XDGDirs struct {
	home string
}

// NewXDGDirs uses $PALACE_HOME when set and the XDG base directories otherwise
func NewXDGDirs() *XDGDirs {
	return NewXDGDirsAt(os.Getenv(HomeEnv))
}

// NewXDGDirsAt roots every directory under home; an empty home means XDG
func NewXDGDirsAt(home string) *XDGDirs {
	if home != "" {
		slog.Debug("using palace home for all directories", "home", home)
	}
	return &XDGDirs{home: home}
}

func (x *XDGDirs) under(xdgBase, kind, purpose string) string {
	base := filepath.Join(xdgBase, appDir)
	if x.home != "" {
		base = filepath.Join(x.home, kind)
	}
	if purpose != "" {
		base = filepath.Join(base, purpose)
	}
	return base
}

// GetConfigPaths returns candidate config file locations in search order:
// the user config dir, then each system config dir. Under $PALACE_HOME only
// the home config dir is searched.
func (x *XDGDirs) GetConfigPaths(filename string) []string {
	if x.home != "" {
		return []string{x.under("", "config", filename)}
	}

	paths := []string{x.under(xdg.ConfigHome, "config", filename)}
	for _, dir := range xdg.ConfigDirs {
		paths = append(paths, x.under(dir, "config", filename))
	}
	slog.Debug("generated config paths", "filename", filename, "total_paths", len(paths))
	return paths
}

// GetCachePath returns the cache directory for a purpose ("" for the root)
func (x *XDGDirs) GetCachePath(purpose string) string {
	return x.under(xdg.CacheHome, "cache", purpose)
}

// GetStatePath returns the state directory for a purpose ("" for the root)
func (x *XDGDirs) GetStatePath(purpose string) string {
	return x.under(xdg.StateHome, "state", purpose)
}
