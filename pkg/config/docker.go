package config

import (
	"os"
	"strings"
	"sync"
)

var (
	dockerOnce sync.Once
	inDocker   bool
)

// IsRunningInDocker reports whether the process is inside a Docker container.
// It checks for /.dockerenv first and falls back to scanning /proc/1/cgroup,
// which still names docker or containerd on cgroup v1 hosts. The result is
// cached for the lifetime of the process.
func IsRunningInDocker() bool {
	dockerOnce.Do(func() {
		if _, err := os.Stat("/.dockerenv"); err == nil {
			inDocker = true
			return
		}
		if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
			s := string(data)
			inDocker = strings.Contains(s, "docker") || strings.Contains(s, "containerd")
		}
	})
	return inDocker
}

// ResolveHostForDocker rewrites loopback hosts to host.docker.internal when
// running inside a container, so that Postgres and Redis instances on the
// host machine stay reachable. Non-loopback hosts pass through unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return "host.docker.internal"
	}
	return host
}
