// Package platform selects and applies OS/arch specific variants of a
// bundle's execution config.
package platform

import (
	"runtime"

	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/util/maps"
)

// Host identifies the platform a bundle runs on, using bundle naming:
// OS is darwin, linux or win32; Arch is arm64 or x86_64.
type Host struct {
	OS   string
	Arch string
}

// Detect returns the Host of the running process.
func Detect() Host {
	return FromGo(runtime.GOOS, runtime.GOARCH)
}

// FromGo maps Go's GOOS/GOARCH names to bundle platform names. Unknown
// values pass through unchanged.
func FromGo(goos, goarch string) Host {
	osName := goos
	if goos == "windows" {
		osName = "win32"
	}
	arch := goarch
	if goarch == "amd64" {
		arch = "x86_64"
	}
	return Host{OS: osName, Arch: arch}
}

// Key returns the exact override key "{os}-{arch}".
func (h Host) Key() string {
	return h.OS + "-" + h.Arch
}

func (h Host) String() string {
	return h.Key()
}

// Select returns the override that applies to h and its key. An exact
// "{os}-{arch}" entry wins over an "{os}" entry.
func Select(overrides map[string]manifest.PlatformOverride, h Host) (manifest.PlatformOverride, string, bool) {
	if o, ok := overrides[h.Key()]; ok {
		return o, h.Key(), true
	}
	if o, ok := overrides[h.OS]; ok {
		return o, h.OS, true
	}
	return manifest.PlatformOverride{}, "", false
}

// Apply returns base with the override for h applied. Only one override
// level is used. Command, URL and Args are replaced when present in the
// override; Env and Headers are merged with override values winning.
// The returned config carries no platform overrides.
func Apply(base manifest.MCPConfig, h Host) manifest.MCPConfig {
	out := base.Clone()
	out.PlatformOverrides = nil

	o, _, ok := Select(base.PlatformOverrides, h)
	if !ok {
		return out
	}
	if o.Command != "" {
		out.Command = o.Command
	}
	if o.URL != "" {
		out.URL = o.URL
	}
	if o.Args != nil {
		out.Args = append([]string{}, o.Args...)
	}
	out.Env = maps.Merge(out.Env, o.Env)
	out.Headers = maps.Merge(out.Headers, o.Headers)
	return out
}
