package platform

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nupi-ai/tool/internal/manifest"
)

func TestFromGo(t *testing.T) {
	tests := []struct {
		goos, goarch string
		want         Host
	}{
		{"darwin", "arm64", Host{"darwin", "arm64"}},
		{"darwin", "amd64", Host{"darwin", "x86_64"}},
		{"linux", "amd64", Host{"linux", "x86_64"}},
		{"windows", "amd64", Host{"win32", "x86_64"}},
		{"windows", "arm64", Host{"win32", "arm64"}},
		{"freebsd", "riscv64", Host{"freebsd", "riscv64"}},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, FromGo(tc.goos, tc.goarch), "%s/%s", tc.goos, tc.goarch)
	}
}

func TestApply_ExactKeyWinsOverOS(t *testing.T) {
	base := manifest.MCPConfig{
		Command: "server",
		PlatformOverrides: map[string]manifest.PlatformOverride{
			"darwin-arm64": {Command: "server-arm64"},
			"darwin":       {Command: "server-darwin"},
		},
	}

	got := Apply(base, Host{"darwin", "arm64"})
	assert.Equal(t, "server-arm64", got.Command)

	got = Apply(base, Host{"darwin", "x86_64"})
	assert.Equal(t, "server-darwin", got.Command)
}

func TestApply_OSOnlyOverrideCoversAllArches(t *testing.T) {
	base := manifest.MCPConfig{
		Command: "server",
		PlatformOverrides: map[string]manifest.PlatformOverride{
			"darwin": {Command: "server-darwin"},
		},
	}
	assert.Equal(t, "server-darwin", Apply(base, Host{"darwin", "x86_64"}).Command)
	assert.Equal(t, "server-darwin", Apply(base, Host{"darwin", "arm64"}).Command)
	assert.Equal(t, "server", Apply(base, Host{"linux", "x86_64"}).Command)
}

func TestApply_NoCascadeBetweenLevels(t *testing.T) {
	base := manifest.MCPConfig{
		Command: "server",
		Env:     map[string]string{"BASE": "1"},
		PlatformOverrides: map[string]manifest.PlatformOverride{
			"linux-x86_64": {Command: "exact"},
			"linux":        {Env: map[string]string{"OS_ONLY": "1"}},
		},
	}
	got := Apply(base, Host{"linux", "x86_64"})
	assert.Equal(t, "exact", got.Command)
	assert.Equal(t, map[string]string{"BASE": "1"}, got.Env)
}

func TestApply_MergesEnvAndHeaders(t *testing.T) {
	base := manifest.MCPConfig{
		Env:     map[string]string{"A": "1", "B": "2"},
		Headers: map[string]string{"X-Base": "b"},
		PlatformOverrides: map[string]manifest.PlatformOverride{
			"linux": {
				Env:     map[string]string{"B": "3", "C": "4"},
				Headers: map[string]string{"X-Linux": "l"},
			},
		},
	}
	got := Apply(base, Host{"linux", "x86_64"})
	assert.Equal(t, map[string]string{"A": "1", "B": "3", "C": "4"}, got.Env)
	assert.Equal(t, map[string]string{"X-Base": "b", "X-Linux": "l"}, got.Headers)
	assert.Equal(t, "2", base.Env["B"], "base must not be mutated")
}

func TestApply_ReplacesArgsWholesale(t *testing.T) {
	base := manifest.MCPConfig{
		Args: []string{"--a", "--b"},
		URL:  "http://base",
		PlatformOverrides: map[string]manifest.PlatformOverride{
			"win32": {Args: []string{"/c"}, URL: "http://win"},
			"linux": {Args: []string{}},
		},
	}
	got := Apply(base, Host{"win32", "x86_64"})
	assert.Equal(t, []string{"/c"}, got.Args)
	assert.Equal(t, "http://win", got.URL)

	got = Apply(base, Host{"linux", "x86_64"})
	assert.Empty(t, got.Args)
	assert.Equal(t, "http://base", got.URL)

	got = Apply(base, Host{"darwin", "arm64"})
	assert.Equal(t, []string{"--a", "--b"}, got.Args)
}

func TestApply_DropsOverrideTable(t *testing.T) {
	base := manifest.MCPConfig{
		Command:           "server",
		PlatformOverrides: map[string]manifest.PlatformOverride{"linux": {}},
	}
	assert.Nil(t, Apply(base, Host{"linux", "x86_64"}).PlatformOverrides)
}
