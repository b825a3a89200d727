package output

import (
	"log/slog"
	"os"
	"strings"
)

// Platform describes the host facts that steer auto output selection
type Platform struct {
	WSL bool
	// Container is set inside docker, podman or kubernetes without a
	// forwarded sound server; such hosts rarely expose a playback device.
	Container bool
}

// Probe supplies host lookups to DetectPlatform
type Probe struct {
	Getenv   func(string) string
	ReadFile func(string) ([]byte, error)
	Exists   func(string) bool
}

// HostProbe reads the real environment and filesystem
func HostProbe() Probe {
	return Probe{
		Getenv:   os.Getenv,
		ReadFile: os.ReadFile,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
}

// DetectPlatform inspects the host through p
func DetectPlatform(p Probe) Platform {
	plat := Platform{
		WSL:       isWSL(p),
		Container: inContainer(p) && !soundServerForwarded(p),
	}
	slog.Debug("platform detected", "wsl", plat.WSL, "container", plat.Container)
	return plat
}

func isWSL(p Probe) bool {
	if distro := p.Getenv("WSL_DISTRO_NAME"); distro != "" {
		slog.Debug("WSL detected via environment variable", "distro", distro)
		return true
	}
	kernel := strings.ToLower(readString(p, "/proc/version"))
	return strings.Contains(kernel, "microsoft") || strings.Contains(kernel, "wsl")
}

func inContainer(p Probe) bool {
	if p.Exists("/.dockerenv") || p.Exists("/run/.containerenv") {
		return true
	}
	cgroup := readString(p, "/proc/1/cgroup")
	for _, marker := range []string{"docker", "kubepods", "containerd", "libpod"} {
		if strings.Contains(cgroup, marker) {
			return true
		}
	}
	return false
}

func soundServerForwarded(p Probe) bool {
	return p.Getenv("PULSE_SERVER") != "" || p.Getenv("PIPEWIRE_REMOTE") != ""
}

func readString(p Probe, path string) string {
	content, err := p.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(content)
}

// OptimalKind picks an output kind for plat given whether this build has
// device outputs at all
func (plat Platform) OptimalKind(devicesAvailable bool) string {
	switch {
	case !devicesAvailable:
		slog.Warn("no device outputs in this build, falling back to silent output")
		return KindNull
	case plat.Container:
		slog.Info("running in a container without a sound server, using silent output")
		return KindNull
	case plat.WSL:
		// raw malgo devices crackle under WSL; the buffered speaker mixer does not
		return KindSpeaker
	default:
		return KindMalgo
	}
}
