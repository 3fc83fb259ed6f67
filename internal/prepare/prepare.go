// Package prepare turns a tool reference into a placeholder-free execution
// spec: resolve the bundle, merge user configuration, allocate system
// resources, apply platform overrides and evaluate templates.
package prepare

import (
	"context"
	"errors"
	"fmt"

	"github.com/nupi-ai/tool/internal/locator"
	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/platform"
	"github.com/nupi-ai/tool/internal/reference"
	"github.com/nupi-ai/tool/internal/resources"
	"github.com/nupi-ai/tool/internal/subst"
	"github.com/nupi-ai/tool/internal/toolconfig"
	"github.com/nupi-ai/tool/internal/util/maps"
)

// ExecutionSpec is the fully resolved description handed to whatever
// spawns the process or opens the connection.
type ExecutionSpec struct {
	ToolName     string                `json:"tool_name" yaml:"tool_name"`
	Reference    string                `json:"reference" yaml:"reference"`
	Transport    manifest.Transport    `json:"transport" yaml:"transport"`
	Command      string                `json:"command,omitempty" yaml:"command,omitempty"`
	Args         []string              `json:"args,omitempty" yaml:"args,omitempty"`
	Env          map[string]string     `json:"env,omitempty" yaml:"env,omitempty"`
	URL          string                `json:"url,omitempty" yaml:"url,omitempty"`
	Headers      map[string]string     `json:"headers,omitempty" yaml:"headers,omitempty"`
	OAuthConfig  *manifest.OAuthConfig `json:"oauth_config,omitempty" yaml:"oauth_config,omitempty"`
	SystemConfig map[string]string     `json:"system_config,omitempty" yaml:"system_config,omitempty"`
	Platform     string                `json:"platform" yaml:"platform"`
	ManifestPath string                `json:"manifest_path" yaml:"manifest_path"`
	BundleDir    string                `json:"bundle_dir" yaml:"bundle_dir"`
}

// Resolver finds bundles; *locator.Locator implements it.
type Resolver interface {
	Resolve(ctx context.Context, ref reference.PluginRef) (*locator.ResolvedBundle, error)
}

// ConfigStore loads and saves per-tool user configuration;
// *toolconfig.Store implements it.
type ConfigStore interface {
	Values(ctx context.Context, tool string) (map[string]string, error)
	Set(ctx context.Context, tool string, entries ...toolconfig.Entry) error
}

// NotFoundError is returned when no bundle matches the reference.
type NotFoundError struct {
	Ref string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %s not found", e.Ref)
}

// IncompleteConfigError reports a resolved config that cannot be executed
// over its transport.
type IncompleteConfigError struct {
	Transport manifest.Transport
	Missing   string
}

func (e *IncompleteConfigError) Error() string {
	return fmt.Sprintf("%s transport requires %s but the resolved config has none", e.Transport, e.Missing)
}

// Preparer runs the pipeline. Resolver and Allocator are required; Store is
// optional.
type Preparer struct {
	Resolver  Resolver
	Store     ConfigStore
	Allocator resources.Allocator
	Host      platform.Host

	// Bindings supplies host lookups (environment, home directories,
	// clock). Its Dirname, UserConfig and SystemConfig are overwritten.
	Bindings subst.Bindings
}

// Request describes one preparation.
type Request struct {
	// Target is a reference or, when it looks like a path, a bundle
	// directory.
	Target string
	// Overrides are explicit key=value settings; they win over saved
	// configuration.
	Overrides map[string]string
	// Save persists Overrides to the store for next time.
	Save bool
}

// Prepare resolves req.Target and builds its execution spec.
func (p *Preparer) Prepare(ctx context.Context, req Request) (*ExecutionSpec, error) {
	bundle, err := p.locate(ctx, req.Target)
	if err != nil {
		return nil, err
	}
	return p.PrepareBundle(ctx, bundle, req)
}

func (p *Preparer) locate(ctx context.Context, target string) (*locator.ResolvedBundle, error) {
	if locator.IsPath(target) {
		return locator.LoadFromPath(target)
	}
	ref, err := reference.Parse(target)
	if err != nil {
		return nil, err
	}
	bundle, err := p.Resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	if bundle == nil {
		return nil, &NotFoundError{Ref: ref.String()}
	}
	return bundle, nil
}

// PrepareBundle builds the execution spec for an already-resolved bundle.
func (p *Preparer) PrepareBundle(ctx context.Context, bundle *locator.ResolvedBundle, req Request) (*ExecutionSpec, error) {
	m := bundle.Manifest
	key := bundle.Ref.Key()

	user, err := p.userConfig(ctx, key, req.Overrides)
	if err != nil {
		return nil, err
	}
	manifest.ApplyUserConfigDefaults(m.UserConfig, user)
	if err := manifest.ValidateUserConfig(m.UserConfig, user); err != nil {
		return nil, fmt.Errorf("user_config: %w", err)
	}

	if req.Save && p.Store != nil && len(req.Overrides) > 0 {
		if err := p.save(ctx, key, m, req.Overrides); err != nil {
			return nil, err
		}
	}

	system, err := p.Allocator.Allocate(m.SystemConfig)
	if err != nil {
		return nil, err
	}
	if err := manifest.ValidateSystemConfig(m.SystemConfig, system); err != nil {
		return nil, fmt.Errorf("system_config: %w", err)
	}

	host := p.Host
	if host == (platform.Host{}) {
		host = platform.Detect()
	}
	cfg := platform.Apply(m.BaseConfig(), host)

	b := p.Bindings
	b.Dirname = bundle.Dir()
	b.UserConfig = user
	b.SystemConfig = system

	spec := &ExecutionSpec{
		ToolName:     toolName(bundle),
		Reference:    bundle.Ref.String(),
		Transport:    m.TransportOrDefault(),
		OAuthConfig:  cfg.OAuthConfig,
		SystemConfig: system,
		Platform:     host.Key(),
		ManifestPath: bundle.ManifestPath,
		BundleDir:    bundle.Dir(),
	}
	if err := substituteConfig(cfg, b, spec); err != nil {
		return nil, err
	}

	switch spec.Transport {
	case manifest.TransportHTTP:
		if spec.URL == "" {
			return nil, &IncompleteConfigError{Transport: spec.Transport, Missing: "url"}
		}
	default:
		if spec.Command == "" {
			return nil, &IncompleteConfigError{Transport: spec.Transport, Missing: "command"}
		}
	}
	return spec, nil
}

// userConfig layers explicit overrides on top of saved values.
func (p *Preparer) userConfig(ctx context.Context, key string, overrides map[string]string) (map[string]string, error) {
	var saved map[string]string
	if p.Store != nil {
		v, err := p.Store.Values(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("load saved config for %s: %w", key, err)
		}
		saved = v
	}
	user := maps.Merge(saved, overrides)
	if user == nil {
		user = map[string]string{}
	}
	return user, nil
}

func (p *Preparer) save(ctx context.Context, key string, m *manifest.Manifest, overrides map[string]string) error {
	entries := make([]toolconfig.Entry, 0, len(overrides))
	for _, k := range maps.SortedKeys(overrides) {
		entries = append(entries, toolconfig.Entry{
			Key:       k,
			Value:     overrides[k],
			Sensitive: m.UserConfig[k].Sensitive,
		})
	}
	if err := p.Store.Set(ctx, key, entries...); err != nil {
		return fmt.Errorf("save config for %s: %w", key, err)
	}
	return nil
}

// substituteConfig evaluates every templated field of cfg into spec and
// reports all placeholder failures together.
func substituteConfig(cfg manifest.MCPConfig, b subst.Bindings, spec *ExecutionSpec) error {
	var all subst.Errors
	collect := func(err error) {
		var errs subst.Errors
		if errors.As(err, &errs) {
			all = append(all, errs...)
		}
	}

	var err error
	spec.Command, err = subst.Substitute(cfg.Command, b)
	collect(err)
	spec.Args, err = subst.SubstituteSlice(cfg.Args, b)
	collect(err)
	spec.Env, err = subst.SubstituteMap(cfg.Env, b)
	collect(err)
	spec.URL, err = subst.Substitute(cfg.URL, b)
	collect(err)
	spec.Headers, err = subst.SubstituteMap(cfg.Headers, b)
	collect(err)

	if len(all) > 0 {
		return all
	}
	return nil
}

func toolName(b *locator.ResolvedBundle) string {
	if b.Manifest.Name != "" {
		return b.Manifest.Name
	}
	return b.Ref.Name()
}
