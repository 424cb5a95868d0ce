package sandbox

import (
	"os"
	"strings"
)

// EnvMarker is exported into every sandbox so code running inside can
// tell it is already isolated. Nested sandboxing is never attempted.
const EnvMarker = "CEPHEID_IN_SANDBOX"

// InSandbox reports whether the current process is already running
// inside a sandbox, either via the explicit marker or by detecting the
// container runtime it was launched under.
func InSandbox() bool {
	if os.Getenv(EnvMarker) == "1" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil && strings.Contains(string(data), "docker") {
		return true
	}
	return false
}
