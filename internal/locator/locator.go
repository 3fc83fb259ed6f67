// Package locator resolves tool references to installed bundles on disk,
// installing them from a registry when allowed.
package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nupi-ai/tool/internal/constants"
	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/reference"
	"github.com/nupi-ai/tool/internal/validate"
)

const (
	maxCandidates  = 5
	maxSuggestions = 3
)

// FetchedBundle is a zip archive returned by a Fetcher together with the
// concrete version it contains.
type FetchedBundle struct {
	Data    []byte
	Version string
}

// Fetcher retrieves bundles from a remote registry. It returns (nil, nil)
// when the registry has no version satisfying ref.
type Fetcher interface {
	FetchTool(ctx context.Context, ref reference.PluginRef) (*FetchedBundle, error)
}

// ResolvedBundle is the outcome of a successful resolution.
type ResolvedBundle struct {
	Manifest     *manifest.Manifest
	ManifestPath string
	// Ref is the canonical reference. It carries an inferred namespace and,
	// for versioned installs, the exact version found on disk.
	Ref reference.PluginRef
	// Installed is set when the bundle was fetched during this call.
	Installed bool
}

// Dir returns the bundle directory.
func (b *ResolvedBundle) Dir() string {
	return filepath.Dir(b.ManifestPath)
}

// AmbiguousReferenceError is returned when a reference without namespace
// matches tools in several namespaces.
type AmbiguousReferenceError struct {
	Requested  string
	Candidates []string
	Suggestion string
}

func (e *AmbiguousReferenceError) Error() string {
	lines := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		lines[i] = "  - " + c
	}
	return fmt.Sprintf("ambiguous reference %q matches multiple tools:\n%s\n%s",
		e.Requested, strings.Join(lines, "\n"), e.Suggestion)
}

// InstallError reports a failed fetch or extraction.
type InstallError struct {
	Op   string
	Path string
	Err  error
}

func (e *InstallError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Options configures a Locator.
type Options struct {
	// SearchRoots are searched in order; the first is the install target.
	SearchRoots []string
	Fetcher     Fetcher
	AutoInstall bool
}

// Locator resolves references against ordered search roots. It keeps no
// state between calls.
type Locator struct {
	roots       []string
	fetcher     Fetcher
	autoInstall bool
}

// New creates a Locator.
func New(opts Options) *Locator {
	return &Locator{
		roots:       append([]string(nil), opts.SearchRoots...),
		fetcher:     opts.Fetcher,
		autoInstall: opts.AutoInstall,
	}
}

// Roots returns the configured search roots.
func (l *Locator) Roots() []string {
	return append([]string(nil), l.roots...)
}

// Resolve finds the bundle for ref. A nil bundle with a nil error means
// nothing matched.
func (l *Locator) Resolve(ctx context.Context, ref reference.PluginRef) (*ResolvedBundle, error) {
	return l.resolve(ctx, ref, l.autoInstall)
}

// ResolveString parses s and resolves it.
func (l *Locator) ResolveString(ctx context.Context, s string) (*ResolvedBundle, error) {
	ref, err := reference.Parse(s)
	if err != nil {
		return nil, err
	}
	return l.Resolve(ctx, ref)
}

func (l *Locator) resolve(ctx context.Context, ref reference.PluginRef, autoInstall bool) (*ResolvedBundle, error) {
	for _, root := range l.roots {
		b, err := l.resolveInRoot(root, ref)
		if err != nil || b != nil {
			return b, err
		}
	}

	if !autoInstall || !ref.HasNamespace() || l.fetcher == nil {
		return nil, nil
	}
	installed, err := l.install(ctx, ref)
	if err != nil || !installed {
		return nil, err
	}
	b, err := l.resolve(ctx, ref, false)
	if b != nil {
		b.Installed = true
	}
	return b, err
}

func (l *Locator) resolveInRoot(root string, ref reference.PluginRef) (*ResolvedBundle, error) {
	if b, err := resolveDirect(root, ref); err != nil || b != nil {
		return b, err
	}
	if ref.HasNamespace() {
		return nil, nil
	}

	matches, err := namespaceCandidates(root, ref)
	if err != nil {
		return nil, err
	}
	switch len(matches) {
	case 0:
		return nil, nil
	case 1:
		return resolveDirect(root, matches[0])
	default:
		return nil, ambiguous(ref, matches)
	}
}

// resolveDirect checks root/[ns/]name, then its versioned siblings.
func resolveDirect(root string, ref reference.PluginRef) (*ResolvedBundle, error) {
	dir := toolDir(root, ref)
	if !ref.HasVersion() && hasManifest(dir) {
		return load(dir, ref)
	}

	vdir, v, err := bestVersion(filepath.Dir(dir), ref)
	if err != nil || vdir == "" {
		return nil, err
	}
	if !hasManifest(vdir) {
		return nil, nil
	}
	return load(vdir, ref.WithVersion(v))
}

// bestVersion returns the highest name@<semver> directory under parent
// that satisfies ref's requirement.
func bestVersion(parent string, ref reference.PluginRef) (string, *semver.Version, error) {
	entries, err := os.ReadDir(parent)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("read %s: %w", parent, err)
	}

	var (
		bestDir string
		best    *semver.Version
	)
	for _, e := range entries {
		name, verStr, ok := strings.Cut(e.Name(), "@")
		if !ok || name != ref.Name() {
			continue
		}
		v, err := semver.StrictNewVersion(verStr)
		if err != nil || !ref.Matches(v) {
			continue
		}
		path := filepath.Join(parent, e.Name())
		if !isDir(path) {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best, bestDir = v, path
		}
	}
	return bestDir, best, nil
}

// namespaceCandidates lists the namespaces under root holding a tool that
// could satisfy ref.
func namespaceCandidates(root string, ref reference.PluginRef) ([]reference.PluginRef, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", root, err)
	}

	var matches []reference.PluginRef
	for _, e := range entries {
		ns := e.Name()
		if strings.HasPrefix(ns, ".") || !validate.Namespace(ns) {
			continue
		}
		nsDir := filepath.Join(root, ns)
		if !isDir(nsDir) {
			continue
		}
		candidate, err := ref.WithNamespace(ns)
		if err != nil {
			continue
		}
		found := !ref.HasVersion() && hasManifest(filepath.Join(nsDir, ref.Name()))
		if !found {
			vdir, _, err := bestVersion(nsDir, ref)
			if err != nil {
				return nil, err
			}
			found = vdir != "" && hasManifest(vdir)
		}
		if found {
			matches = append(matches, candidate)
		}
	}
	return matches, nil
}

func ambiguous(ref reference.PluginRef, matches []reference.PluginRef) error {
	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.String()
	}
	candidates := names
	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	suggest := names
	if len(suggest) > maxSuggestions {
		suggest = suggest[:maxSuggestions]
	}
	return &AmbiguousReferenceError{
		Requested:  ref.String(),
		Candidates: append([]string(nil), candidates...),
		Suggestion: fmt.Sprintf("Did you mean one of: %s?", strings.Join(suggest, ", ")),
	}
}

func toolDir(root string, ref reference.PluginRef) string {
	if ref.HasNamespace() {
		return filepath.Join(root, ref.Namespace(), ref.Name())
	}
	return filepath.Join(root, ref.Name())
}

func load(dir string, ref reference.PluginRef) (*ResolvedBundle, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, err
	}
	return &ResolvedBundle{
		Manifest:     m,
		ManifestPath: filepath.Join(m.BundlePath, constants.ManifestFileName),
		Ref:          ref,
	}, nil
}

func hasManifest(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, constants.ManifestFileName))
	return err == nil && info.Mode().IsRegular()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
