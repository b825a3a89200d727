package output

import (
	"errors"
	"os"
	"testing"
)

func TestFactory_DetectKind(t *testing.T) {
	tests := []struct {
		name     string
		platform Platform
		devices  bool
		expected string
	}{
		{"native with devices", Platform{}, true, KindMalgo},
		{"WSL with devices", Platform{WSL: true}, true, KindSpeaker},
		{"container with devices", Platform{Container: true}, true, KindNull},
		{"native without devices", Platform{}, false, KindNull},
		{"WSL without devices", Platform{WSL: true}, false, KindNull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewFactoryWithDependencies(tt.platform, tt.devices)
			if got := f.DetectKind(); got != tt.expected {
				t.Errorf("DetectKind() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFactory_Create(t *testing.T) {
	f := NewFactoryWithDependencies(Platform{}, false)

	t.Run("auto without devices yields null", func(t *testing.T) {
		out, err := f.Create("")
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if out.Name() != KindNull {
			t.Errorf("Name() = %q, want %q", out.Name(), KindNull)
		}
	})

	t.Run("explicit null", func(t *testing.T) {
		out, err := f.Create(KindNull)
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if out.RequiresUnlock() {
			t.Error("null output should not require unlock")
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		out, err := f.Create("pulse")
		if !errors.Is(err, ErrInvalidKind) {
			t.Errorf("Create() error = %v, want ErrInvalidKind", err)
		}
		if out != nil {
			t.Errorf("Create() output = %v, want nil", out)
		}
	})
}

func TestFactory_IsValidKind(t *testing.T) {
	f := NewFactory()
	for _, kind := range []string{"", "auto", "speaker", "malgo", "null"} {
		if !f.IsValidKind(kind) {
			t.Errorf("IsValidKind(%q) = false, want true", kind)
		}
	}
	for _, kind := range []string{"system_command", "AUTO", "web"} {
		if f.IsValidKind(kind) {
			t.Errorf("IsValidKind(%q) = true, want false", kind)
		}
	}
}

func fakeProbe(env map[string]string, files map[string]string) Probe {
	return Probe{
		Getenv: func(key string) string { return env[key] },
		ReadFile: func(path string) ([]byte, error) {
			content, ok := files[path]
			if !ok {
				return nil, os.ErrNotExist
			}
			return []byte(content), nil
		},
		Exists: func(path string) bool {
			_, ok := files[path]
			return ok
		},
	}
}

func TestDetectPlatform(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		files    map[string]string
		expected Platform
	}{
		{"bare linux", nil, map[string]string{"/proc/version": "Linux version 6.5.0-14-generic (buildd@lcy02)"}, Platform{}},
		{"nothing readable", nil, nil, Platform{}},
		{"WSL env var", map[string]string{"WSL_DISTRO_NAME": "Ubuntu"}, nil, Platform{WSL: true}},
		{"WSL kernel", nil, map[string]string{"/proc/version": "Linux version 5.15.90.1-microsoft-standard-WSL2"}, Platform{WSL: true}},
		{"dockerenv", nil, map[string]string{"/.dockerenv": ""}, Platform{Container: true}},
		{"podman", nil, map[string]string{"/run/.containerenv": ""}, Platform{Container: true}},
		{"kubernetes cgroup", nil, map[string]string{"/proc/1/cgroup": "0::/kubepods/besteffort/pod1234"}, Platform{Container: true}},
		{"container with pulse", map[string]string{"PULSE_SERVER": "unix:/run/pulse/native"}, map[string]string{"/.dockerenv": ""}, Platform{}},
		{"container with pipewire", map[string]string{"PIPEWIRE_REMOTE": "pipewire-0"}, map[string]string{"/.dockerenv": ""}, Platform{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectPlatform(fakeProbe(tt.env, tt.files)); got != tt.expected {
				t.Errorf("DetectPlatform() = %+v, want %+v", got, tt.expected)
			}
		})
	}
}
