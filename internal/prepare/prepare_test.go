package prepare

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/tool/internal/locator"
	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/platform"
	"github.com/nupi-ai/tool/internal/reference"
	"github.com/nupi-ai/tool/internal/resources"
	"github.com/nupi-ai/tool/internal/subst"
	"github.com/nupi-ai/tool/internal/testutil"
	"github.com/nupi-ai/tool/internal/toolconfig"
)

const weatherManifest = `{
  "manifest_version": "0.3",
  "name": "weather",
  "server": {
    "type": "node",
    "mcp_config": {
      "command": "node",
      "args": ["${__dirname}/server.js", "--port", "${system_config.port}", "--units", "${user_config.units}"],
      "env": {
        "API_KEY": "${user_config.api_key}",
        "AUTH": "${bearer(user_config.api_key)}",
        "STATE_DIR": "${system_config.state}"
      },
      "platform_overrides": {
        "win32": {"command": "node.exe", "env": {"SHELL": "cmd"}},
        "linux-arm64": {"args": ["--arm"]}
      }
    }
  },
  "user_config": {
    "api_key": {"type": "string", "required": true, "sensitive": true},
    "units": {"type": "string", "enum": ["metric", "imperial"], "default": "metric"}
  },
  "system_config": {
    "port": {"type": "port", "default": %d},
    "state": {"type": "data_directory"}
  }
}`

// fakeStore is an in-memory ConfigStore.
type fakeStore struct {
	values map[string]map[string]string
	saved  map[string][]toolconfig.Entry
}

func (f *fakeStore) Values(_ context.Context, tool string) (map[string]string, error) {
	return f.values[tool], nil
}

func (f *fakeStore) Set(_ context.Context, tool string, entries ...toolconfig.Entry) error {
	if f.saved == nil {
		f.saved = map[string][]toolconfig.Entry{}
	}
	f.saved[tool] = append(f.saved[tool], entries...)
	return nil
}

func writeBundle(t *testing.T, root, rel, content string) string {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(content), 0o644))
	return dir
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func noEnv(string) (string, bool) { return "", false }

func newPreparer(t *testing.T, root string, host platform.Host) *Preparer {
	t.Helper()
	return &Preparer{
		Resolver:  locator.New(locator.Options{SearchRoots: []string{root}}),
		Allocator: resources.Allocator{DataRoot: filepath.Join(t.TempDir(), "data"), TempRoot: filepath.Join(t.TempDir(), "tmp")},
		Host:      host,
		Bindings:  subst.Bindings{LookupEnv: noEnv},
	}
}

var linuxAMD64 = platform.Host{OS: "linux", Arch: "x86_64"}

// ---------------------------------------------------------------------------
// End to end
// ---------------------------------------------------------------------------

func TestPrepare_EndToEnd(t *testing.T) {
	root := t.TempDir()
	port := freePort(t)
	dir := writeBundle(t, root, "acme/weather@1.2.0", fmt.Sprintf(weatherManifest, port))
	p := newPreparer(t, root, linuxAMD64)

	spec, err := p.Prepare(context.Background(), Request{
		Target:    "weather",
		Overrides: map[string]string{"api_key": "k123"},
	})
	require.NoError(t, err)

	assert.Equal(t, "weather", spec.ToolName)
	assert.Equal(t, "acme/weather@1.2.0", spec.Reference)
	assert.Equal(t, manifest.TransportStdio, spec.Transport)
	assert.Equal(t, "node", spec.Command)
	assert.Equal(t, []string{dir + "/server.js", "--port", strconv.Itoa(port), "--units", "metric"}, spec.Args)
	assert.Equal(t, "k123", spec.Env["API_KEY"])
	assert.Equal(t, "Bearer k123", spec.Env["AUTH"])
	assert.Equal(t, spec.SystemConfig["state"], spec.Env["STATE_DIR"])
	assert.DirExists(t, spec.Env["STATE_DIR"])
	assert.Equal(t, "linux-x86_64", spec.Platform)
	assert.Equal(t, filepath.Join(dir, "manifest.json"), spec.ManifestPath)
	assert.Equal(t, dir, spec.BundleDir)
}

func TestPrepare_OccupiedDefaultPortFallsBack(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, busy))
	p := newPreparer(t, root, linuxAMD64)

	spec, err := p.Prepare(context.Background(), Request{Target: "acme/weather", Overrides: map[string]string{"api_key": "k"}})
	require.NoError(t, err)

	got, err := strconv.Atoi(spec.SystemConfig["port"])
	require.NoError(t, err)
	assert.NotEqual(t, busy, got)
	assert.Equal(t, spec.SystemConfig["port"], spec.Args[2])
}

func TestPrepare_PlatformOverrides(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, freePort(t)))

	t.Run("os only", func(t *testing.T) {
		p := newPreparer(t, root, platform.Host{OS: "win32", Arch: "x86_64"})
		spec, err := p.Prepare(context.Background(), Request{Target: "acme/weather", Overrides: map[string]string{"api_key": "k"}})
		require.NoError(t, err)
		assert.Equal(t, "node.exe", spec.Command)
		assert.Equal(t, "cmd", spec.Env["SHELL"])
		assert.Equal(t, "k", spec.Env["API_KEY"], "base env keys survive the merge")
		assert.Len(t, spec.Args, 5, "args untouched when the override has none")
	})

	t.Run("exact key", func(t *testing.T) {
		p := newPreparer(t, root, platform.Host{OS: "linux", Arch: "arm64"})
		spec, err := p.Prepare(context.Background(), Request{Target: "acme/weather", Overrides: map[string]string{"api_key": "k"}})
		require.NoError(t, err)
		assert.Equal(t, "node", spec.Command)
		assert.Equal(t, []string{"--arm"}, spec.Args)
	})
}

// ---------------------------------------------------------------------------
// User configuration
// ---------------------------------------------------------------------------

func TestPrepare_MissingRequiredUserConfig(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, freePort(t)))
	p := newPreparer(t, root, linuxAMD64)

	_, err := p.Prepare(context.Background(), Request{Target: "acme/weather"})
	var verr *manifest.ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "api_key", verr.Field)
}

func TestPrepare_InvalidEnumRejected(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, freePort(t)))
	p := newPreparer(t, root, linuxAMD64)

	_, err := p.Prepare(context.Background(), Request{
		Target:    "acme/weather",
		Overrides: map[string]string{"api_key": "k", "units": "kelvin"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be one of")
}

func TestPrepare_SavedConfigAndOverrides(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, freePort(t)))
	store := &fakeStore{values: map[string]map[string]string{
		"acme/weather": {"api_key": "saved", "units": "imperial"},
	}}
	p := newPreparer(t, root, linuxAMD64)
	p.Store = store

	spec, err := p.Prepare(context.Background(), Request{Target: "acme/weather"})
	require.NoError(t, err)
	assert.Equal(t, "saved", spec.Env["API_KEY"])
	assert.Equal(t, "imperial", spec.Args[4])

	spec, err = p.Prepare(context.Background(), Request{
		Target:    "weather",
		Overrides: map[string]string{"api_key": "explicit"},
		Save:      true,
	})
	require.NoError(t, err)
	assert.Equal(t, "explicit", spec.Env["API_KEY"])
	assert.Equal(t, "imperial", spec.Args[4])
	assert.Equal(t, []toolconfig.Entry{{Key: "api_key", Value: "explicit", Sensitive: true}}, store.saved["acme/weather"])
}

func TestPrepare_NoSaveWithoutFlag(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, freePort(t)))
	store := &fakeStore{}
	p := newPreparer(t, root, linuxAMD64)
	p.Store = store

	_, err := p.Prepare(context.Background(), Request{Target: "acme/weather", Overrides: map[string]string{"api_key": "k"}})
	require.NoError(t, err)
	assert.Empty(t, store.saved)
}

func TestPrepare_SaveToSQLiteStore(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "acme/weather", fmt.Sprintf(weatherManifest, freePort(t)))
	store := testutil.OpenStore(t)
	p := newPreparer(t, root, linuxAMD64)
	p.Store = store
	ctx := context.Background()

	_, err := p.Prepare(ctx, Request{
		Target:    "acme/weather",
		Overrides: map[string]string{"api_key": "secret", "units": "imperial"},
		Save:      true,
	})
	require.NoError(t, err)

	entries, err := store.List(ctx, "acme/weather")
	require.NoError(t, err)
	assert.Equal(t, []toolconfig.Entry{
		{Key: "api_key", Value: "secret", Sensitive: true},
		{Key: "units", Value: "imperial"},
	}, entries)

	spec, err := p.Prepare(ctx, Request{Target: "weather"})
	require.NoError(t, err)
	assert.Equal(t, "secret", spec.Env["API_KEY"])
}

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

func TestPrepare_NotFound(t *testing.T) {
	p := newPreparer(t, t.TempDir(), linuxAMD64)

	_, err := p.Prepare(context.Background(), Request{Target: "acme/missing"})
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
	assert.Equal(t, "acme/missing", nf.Ref)
}

func TestPrepare_InvalidReference(t *testing.T) {
	p := newPreparer(t, t.TempDir(), linuxAMD64)

	_, err := p.Prepare(context.Background(), Request{Target: "Bad Name"})
	var ierr *reference.InvalidReferenceError
	assert.True(t, errors.As(err, &ierr), "got %v", err)
}

func TestPrepare_TemplateErrorsAreAggregated(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "broken", `{
  "manifest_version": "0.3",
  "server": {"mcp_config": {
    "command": "${MISSING_ONE}",
    "args": ["${nosuch(x)}"],
    "env": {"A": "${user_config.nothing}"}
  }}
}`)
	p := newPreparer(t, root, linuxAMD64)

	_, err := p.Prepare(context.Background(), Request{Target: "broken"})
	var errs subst.Errors
	require.True(t, errors.As(err, &errs), "got %v", err)
	assert.Len(t, errs, 3)
}

func TestPrepare_TransportRequirements(t *testing.T) {
	root := t.TempDir()
	writeBundle(t, root, "remote", `{"manifest_version":"0.3","server":{"transport":"http","mcp_config":{"command":"ignored"}}}`)
	writeBundle(t, root, "local", `{"manifest_version":"0.3","server":{"mcp_config":{"url":"http://x"}}}`)
	writeBundle(t, root, "ok-remote", `{"manifest_version":"0.3","server":{"transport":"http","mcp_config":{"url":"http://${system_config.host}:8080/mcp","headers":{"X-Tool":"${upper('yes')}"}}},"system_config":{"host":{"type":"hostname"}}}`)
	p := newPreparer(t, root, linuxAMD64)

	_, err := p.Prepare(context.Background(), Request{Target: "remote"})
	var incomplete *IncompleteConfigError
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, "url", incomplete.Missing)

	_, err = p.Prepare(context.Background(), Request{Target: "local"})
	require.True(t, errors.As(err, &incomplete), "got %v", err)
	assert.Equal(t, "command", incomplete.Missing)

	spec, err := p.Prepare(context.Background(), Request{Target: "ok-remote"})
	require.NoError(t, err)
	assert.Equal(t, manifest.TransportHTTP, spec.Transport)
	assert.Equal(t, "http://127.0.0.1:8080/mcp", spec.URL)
	assert.Equal(t, map[string]string{"X-Tool": "YES"}, spec.Headers)
}

func TestPrepare_FromPath(t *testing.T) {
	dir := writeBundle(t, t.TempDir(), "My Server", `{"manifest_version":"0.3","server":{"mcp_config":{"command":"${__dirname}/bin/server"}}}`)
	p := newPreparer(t, t.TempDir(), linuxAMD64)

	spec, err := p.Prepare(context.Background(), Request{Target: dir})
	require.NoError(t, err)
	assert.Equal(t, "my-server", spec.ToolName)
	assert.Equal(t, dir+"/bin/server", spec.Command)
}
