package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/prepare"
	toolversion "github.com/nupi-ai/tool/internal/version"
)

const echoManifest = `{
  "manifest_version": "0.3",
  "name": "echo",
  "version": "1.0.0",
  "description": "Echoes things",
  "server": {
    "type": "binary",
    "mcp_config": {
      "command": "${__dirname}/bin/echo",
      "args": ["--name", "${user_config.name}"],
      "env": {"TOKEN": "${user_config.token}", "LEVEL": "${user_config.level}"}
    }
  },
  "user_config": {
    "name": {"type": "string", "required": true},
    "token": {"type": "string", "sensitive": true},
    "level": {"type": "number", "min": 1, "max": 5, "default": 3},
    "unused": {"type": "boolean"}
  }
}`

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// setupHome isolates TOOL_HOME and installs acme/echo under its tools dir.
// NOTE: t.Setenv prevents these tests from calling t.Parallel().
func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("TOOL_HOME", home)
	t.Setenv("TOOL_REGISTRY", "")
	t.Setenv("TOOL_REGISTRY_TOKEN", "")

	dir := filepath.Join(home, "tools", "acme", "echo")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.json"), []byte(echoManifest), 0o644))
	return home
}

// runCLI executes the command tree with args and returns stdout.
func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	root := newRootCommand()
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append([]string{"--no-auto-install"}, args...))
	err := root.ExecuteContext(context.Background())
	return stdout.String(), err
}

func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, err := runCLI(t, "", args...)
	require.NoError(t, err, "tool %s", strings.Join(args, " "))
	return out
}

// ---------------------------------------------------------------------------
// resolve
// ---------------------------------------------------------------------------

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"a=1", "b=x=y", " c =", "a=2"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "x=y", "c": ""}, got)

	for _, bad := range []string{"novalue", "=x"} {
		_, err := parseKeyValues([]string{bad})
		assert.Error(t, err, "parseKeyValues(%q)", bad)
	}

	got, err = parseKeyValues(nil)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestResolveCommandJSON(t *testing.T) {
	home := setupHome(t)

	out := mustRun(t, "resolve", "echo", "-k", "name=bob", "-k", "token=t0k")

	var spec prepare.ExecutionSpec
	require.NoError(t, json.Unmarshal([]byte(out), &spec), out)

	dir := filepath.Join(home, "tools", "acme", "echo")
	assert.Equal(t, dir+"/bin/echo", spec.Command)
	assert.Equal(t, []string{"--name", "bob"}, spec.Args)
	assert.Equal(t, "t0k", spec.Env["TOKEN"])
	assert.Equal(t, "3", spec.Env["LEVEL"])
	assert.Equal(t, "acme/echo", spec.Reference)
	assert.Equal(t, "echo", spec.ToolName)
	assert.Equal(t, manifest.TransportStdio, spec.Transport)
}

func TestResolveCommandYAML(t *testing.T) {
	setupHome(t)

	out := mustRun(t, "resolve", "acme/echo", "-k", "name=bob", "-k", "token=t0k", "--format", "yaml")
	for _, want := range []string{"tool_name: echo", "reference: acme/echo", "- bob", "TOKEN: t0k"} {
		assert.Contains(t, out, want)
	}
}

func TestResolveCommandErrors(t *testing.T) {
	setupHome(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"not installed", []string{"resolve", "acme/nothing"}, "not found"},
		{"invalid reference", []string{"resolve", "Bad Ref"}, "invalid"},
		{"missing required", []string{"resolve", "acme/echo"}, "name"},
		{"out of range", []string{"resolve", "acme/echo", "-k", "name=x", "-k", "level=9"}, "must be <= 5"},
		{"bad pair", []string{"resolve", "acme/echo", "-k", "name"}, "expected key=value"},
		{"bad format", []string{"resolve", "acme/echo", "--format", "xml"}, "unsupported format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestResolveSaveThenReuse(t *testing.T) {
	setupHome(t)

	mustRun(t, "resolve", "acme/echo", "-k", "name=saved", "-k", "token=s3cret", "--save")

	var spec prepare.ExecutionSpec
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "resolve", "echo")), &spec))
	assert.Equal(t, []string{"--name", "saved"}, spec.Args)
	assert.Equal(t, "s3cret", spec.Env["TOKEN"])
}

// ---------------------------------------------------------------------------
// list / info
// ---------------------------------------------------------------------------

func TestListCommandJSON(t *testing.T) {
	home := setupHome(t)

	var rows []listRow
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "list", "--json")), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, "acme/echo", rows[0].Reference)
	assert.Equal(t, filepath.Join(home, "tools"), rows[0].Root)
}

func TestOrphansCommand(t *testing.T) {
	home := setupHome(t)
	empty := filepath.Join(home, "tools", "stale")
	require.NoError(t, os.MkdirAll(empty, 0o755))

	var got struct {
		Orphans []string `json:"orphans"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "orphans", "--json")), &got))
	assert.Equal(t, []string{empty}, got.Orphans)
}

func TestInfoCommand(t *testing.T) {
	setupHome(t)

	var info toolInfo
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "info", "echo", "--json")), &info))
	assert.Equal(t, "acme/echo", info.Reference)
	assert.Equal(t, "1.0.0", info.Version)

	used := map[string]bool{}
	for _, f := range info.UserConfig {
		used[f.Name] = f.Referenced
	}
	assert.Equal(t, map[string]bool{"name": true, "token": true, "level": true, "unused": false}, used)
}

func TestDescribeManifest_Undeclared(t *testing.T) {
	m, err := manifest.Parse([]byte(`{
  "manifest_version": "0.3",
  "server": {"mcp_config": {
    "command": "run",
    "args": ["${default(user_config.missing, 'x')}"],
    "platform_overrides": {"win32": {"env": {"P": "${system_config.port}"}}}
  }}
}`))
	require.NoError(t, err)

	info := describeManifest(m)
	assert.Equal(t, []string{"user_config.missing", "system_config.port"}, info.Undeclared)
	assert.Equal(t, []string{"win32"}, info.Platforms)
}

// ---------------------------------------------------------------------------
// config
// ---------------------------------------------------------------------------

func TestConfigLifecycle(t *testing.T) {
	setupHome(t)

	mustRun(t, "config", "set", "echo", "token", "hunter2")
	mustRun(t, "config", "set", "acme/echo", "name", "alice")

	assert.Equal(t, "hunter2", strings.TrimSpace(mustRun(t, "config", "get", "echo", "token")))

	var listed struct {
		Tool   string      `json:"tool"`
		Values []configRow `json:"values"`
	}
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "config", "list", "echo", "--json")), &listed))
	assert.Equal(t, "acme/echo", listed.Tool)
	assert.Equal(t, []configRow{
		{Key: "name", Value: "alice"},
		{Key: "token", Value: maskedValue, Sensitive: true},
	}, listed.Values)

	assert.Equal(t, "acme/echo", strings.TrimSpace(mustRun(t, "config", "list")))

	mustRun(t, "config", "unset", "echo", "token")
	_, err := runCLI(t, "", "config", "get", "echo", "token")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	mustRun(t, "config", "unset", "acme/echo", "--all")
	assert.Contains(t, mustRun(t, "config", "list", "acme/echo"), "No saved configuration")
}

func TestConfigSetValidates(t *testing.T) {
	setupHome(t)

	_, err := runCLI(t, "", "config", "set", "echo", "nope", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"nope"`)

	_, err = runCLI(t, "", "config", "set", "echo", "level", "high")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a number")
}

func TestConfigSetPromptsWhenValueOmitted(t *testing.T) {
	setupHome(t)

	_, err := runCLI(t, "typed-secret\n", "config", "set", "echo", "token")
	require.NoError(t, err)
	assert.Equal(t, "typed-secret", strings.TrimSpace(mustRun(t, "config", "get", "echo", "token")))
}

func TestConfigUnsetNeedsKeyOrAll(t *testing.T) {
	setupHome(t)

	_, err := runCLI(t, "", "config", "unset", "echo")
	assert.Error(t, err, "no key and no --all")

	_, err = runCLI(t, "", "config", "unset", "echo", "name", "--all")
	assert.Error(t, err, "both key and --all")
}

// ---------------------------------------------------------------------------
// misc
// ---------------------------------------------------------------------------

func TestVersionCommandJSON(t *testing.T) {
	setupHome(t)
	defer toolversion.ForTesting("1.2.3")()

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, "version", "--json")), &got))
	assert.Equal(t, "1.2.3", got["version"])
	assert.Equal(t, "tool/1.2.3", got["user_agent"])
	assert.NotEmpty(t, got["platform"])
}

func TestSchemaCommand(t *testing.T) {
	out := mustRun(t, "schema")

	var schema map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &schema), "schema is not JSON")
	assert.Contains(t, out, "manifest_version")
}
