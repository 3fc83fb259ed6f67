package locator

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ListInstalled
// ---------------------------------------------------------------------------

func TestListInstalled(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	installTool(t, first, "acme/tool@1.0.0")
	installTool(t, first, "acme/tool@2.0.0")
	installTool(t, first, "local")
	installTool(t, first, ".hidden/tool")
	installTool(t, second, "acme/tool")
	installTool(t, second, "other/thing")
	require.NoError(t, os.WriteFile(filepath.Join(second, "README"), []byte("x"), 0o644))

	tools, err := New(Options{SearchRoots: []string{first, second, filepath.Join(first, "missing")}}).ListInstalled()
	require.NoError(t, err)

	var keys []string
	for _, tool := range tools {
		keys = append(keys, tool.Ref.String())
	}
	assert.Equal(t, []string{"acme/tool", "local", "other/thing"}, keys)
	assert.Equal(t, first, tools[0].Root)
	assert.Equal(t, filepath.Join(first, "acme", "tool@1.0.0"), tools[0].Dir)
	assert.Equal(t, second, tools[2].Root)
}

// ---------------------------------------------------------------------------
// Orphans
// ---------------------------------------------------------------------------

func TestOrphans(t *testing.T) {
	root := t.TempDir()
	installTool(t, root, "acme/good")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "empty"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "acme", "junk", "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "acme", "junk", "lib", "x.js"), []byte("x"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dead", "a"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "dead", "b@1.0.0"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".cache", "empty"), 0o755))
	installTool(t, root, "deep/nested/tool")

	want := []string{
		filepath.Join(root, "acme", "empty"),
		filepath.Join(root, "acme", "junk"),
		filepath.Join(root, "dead"),
	}
	if runtime.GOOS != "windows" {
		require.NoError(t, os.Symlink(filepath.Join(root, "gone"), filepath.Join(root, "broken")))
		require.NoError(t, os.Symlink(filepath.Join(root, "acme", "good"), filepath.Join(root, "acme", "alias")))
		want = append([]string{filepath.Join(root, "broken")}, want...)
	}

	orphans, err := New(Options{SearchRoots: []string{root}}).Orphans()
	require.NoError(t, err)
	assert.ElementsMatch(t, want, orphans)
}

func TestOrphans_CleanRoot(t *testing.T) {
	root := t.TempDir()
	installTool(t, root, "acme/tool@1.0.0")
	installTool(t, root, "solo")

	orphans, err := New(Options{SearchRoots: []string{root, filepath.Join(root, "missing")}}).Orphans()
	require.NoError(t, err)
	assert.Empty(t, orphans)
}

// ---------------------------------------------------------------------------
// LoadFromPath
// ---------------------------------------------------------------------------

func TestLoadFromPath(t *testing.T) {
	base := t.TempDir()
	tests := []struct {
		dir  string
		want string
	}{
		{"my-tool", "my-tool"},
		{"My Tool.v2", "my-tool-v2"},
		{"123", "local-tool"},
		{"-x", "local-tool"},
	}
	for _, tc := range tests {
		t.Run(tc.dir, func(t *testing.T) {
			dir := installTool(t, base, tc.dir)
			b, err := LoadFromPath(dir)
			require.NoError(t, err)
			assert.Equal(t, tc.want, b.Ref.String())
			assert.Equal(t, filepath.Join(dir, "manifest.json"), b.ManifestPath)
		})
	}
}

func TestLoadFromPath_NoManifest(t *testing.T) {
	_, err := LoadFromPath(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no manifest.json found")
}

func TestIsPath(t *testing.T) {
	for _, s := range []string{".", "..", "./tool", "../tool", "/abs/tool", "~/tools/x"} {
		assert.True(t, IsPath(s), s)
	}
	for _, s := range []string{"tool", "acme/tool", "acme/tool@1.0.0"} {
		assert.False(t, IsPath(s), s)
	}
}
