// Package manifest defines the bundle manifest read from manifest.json and
// the checks applied to it and to the configuration values it declares.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"

	"github.com/nupi-ai/tool/internal/constants"
	"github.com/nupi-ai/tool/internal/util/maps"
)

// Transport selects how the runtime connector talks to the server.
type Transport string

const (
	TransportStdio Transport = "stdio"
	TransportHTTP  Transport = "http"
)

// SystemFieldType enumerates the resource slots a manifest may declare.
type SystemFieldType string

const (
	SystemPort          SystemFieldType = "port"
	SystemHostname      SystemFieldType = "hostname"
	SystemTempDirectory SystemFieldType = "temp_directory"
	SystemDataDirectory SystemFieldType = "data_directory"
)

// UserFieldType enumerates user supplied configuration value types.
type UserFieldType string

const (
	UserString    UserFieldType = "string"
	UserNumber    UserFieldType = "number"
	UserBoolean   UserFieldType = "boolean"
	UserDirectory UserFieldType = "directory"
	UserFile      UserFieldType = "file"
)

// Manifest is the decoded manifest.json of a bundle.
type Manifest struct {
	ManifestVersion string                       `json:"manifest_version" validate:"required" jsonschema:"required"`
	Name            string                       `json:"name,omitempty"`
	Version         string                       `json:"version,omitempty"`
	DisplayName     string                       `json:"display_name,omitempty"`
	Description     string                       `json:"description,omitempty"`
	Author          *Author                      `json:"author,omitempty"`
	License         string                       `json:"license,omitempty"`
	Homepage        string                       `json:"homepage,omitempty"`
	Keywords        []string                     `json:"keywords,omitempty"`
	Server          Server                       `json:"server" jsonschema:"required"`
	Tools           []ToolInfo                   `json:"tools,omitempty"`
	UserConfig      map[string]UserConfigField   `json:"user_config,omitempty" validate:"omitempty,dive"`
	SystemConfig    map[string]SystemConfigField `json:"system_config,omitempty" validate:"omitempty,dive"`
	Meta            map[string]any               `json:"_meta,omitempty"`

	// BundlePath is the directory the manifest was loaded from.
	BundlePath string `json:"-"`
}

type Author struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Server describes how the bundle's MCP server is started.
type Server struct {
	Type       string     `json:"type,omitempty" validate:"omitempty,oneof=node python binary" jsonschema:"enum=node,enum=python,enum=binary"`
	Transport  Transport  `json:"transport,omitempty" validate:"omitempty,oneof=stdio http" jsonschema:"enum=stdio,enum=http"`
	EntryPoint string     `json:"entry_point,omitempty"`
	MCPConfig  *MCPConfig `json:"mcp_config,omitempty"`
}

// MCPConfig is the base execution template. Values may contain ${...}
// placeholders.
type MCPConfig struct {
	Command           string                      `json:"command,omitempty"`
	Args              []string                    `json:"args,omitempty"`
	Env               map[string]string           `json:"env,omitempty"`
	URL               string                      `json:"url,omitempty"`
	Headers           map[string]string           `json:"headers,omitempty"`
	OAuthConfig       *OAuthConfig                `json:"oauth_config,omitempty"`
	PlatformOverrides map[string]PlatformOverride `json:"platform_overrides,omitempty"`
}

// PlatformOverride replaces or merges parts of MCPConfig on a matching host.
// A nil Args leaves the base args alone; an empty non-nil Args clears them.
type PlatformOverride struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

type OAuthConfig struct {
	ClientID         string   `json:"clientId,omitempty"`
	AuthorizationURL string   `json:"authorizationUrl,omitempty"`
	TokenURL         string   `json:"tokenUrl,omitempty"`
	Scopes           []string `json:"scopes,omitempty"`
}

// UserConfigField declares a value the user supplies.
type UserConfigField struct {
	Type        UserFieldType `json:"type" validate:"required,oneof=string number boolean directory file" jsonschema:"enum=string,enum=number,enum=boolean,enum=directory,enum=file"`
	Title       string        `json:"title,omitempty"`
	Description string        `json:"description,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Default     any           `json:"default,omitempty"`
	Multiple    bool          `json:"multiple,omitempty"`
	Sensitive   bool          `json:"sensitive,omitempty"`
	Enum        []string      `json:"enum,omitempty"`
	Min         *float64      `json:"min,omitempty"`
	Max         *float64      `json:"max,omitempty"`
}

// SystemConfigField declares a resource slot filled at prepare time.
type SystemConfigField struct {
	Type        SystemFieldType `json:"type" validate:"required,oneof=port hostname temp_directory data_directory" jsonschema:"enum=port,enum=hostname,enum=temp_directory,enum=data_directory"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Required    bool            `json:"required,omitempty"`
	Default     any             `json:"default,omitempty"`
}

// Load reads and validates <dir>/manifest.json.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, constants.ManifestFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	m.BundlePath = abs
	return m, nil
}

// Parse decodes and validates manifest JSON.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// TransportOrDefault returns the declared transport, stdio when unset.
func (m *Manifest) TransportOrDefault() Transport {
	if m.Server.Transport == "" {
		return TransportStdio
	}
	return m.Server.Transport
}

// BaseConfig returns a copy of server.mcp_config, or an empty config when the
// manifest has none.
func (m *Manifest) BaseConfig() MCPConfig {
	if m.Server.MCPConfig == nil {
		return MCPConfig{}
	}
	return m.Server.MCPConfig.Clone()
}

// SensitiveKeys lists user_config keys marked sensitive, sorted.
func (m *Manifest) SensitiveKeys() []string {
	var keys []string
	for k, f := range m.UserConfig {
		if f.Sensitive {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of c.
func (c MCPConfig) Clone() MCPConfig {
	out := c
	out.Args = slices.Clone(c.Args)
	out.Env = maps.Clone(c.Env)
	out.Headers = maps.Clone(c.Headers)
	if c.PlatformOverrides != nil {
		out.PlatformOverrides = make(map[string]PlatformOverride, len(c.PlatformOverrides))
		for k, o := range c.PlatformOverrides {
			o.Args = slices.Clone(o.Args)
			o.Env = maps.Clone(o.Env)
			o.Headers = maps.Clone(o.Headers)
			out.PlatformOverrides[k] = o
		}
	}
	if c.OAuthConfig != nil {
		oc := *c.OAuthConfig
		oc.Scopes = slices.Clone(oc.Scopes)
		out.OAuthConfig = &oc
	}
	return out
}
