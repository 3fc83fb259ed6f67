package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/nupi-ai/tool/internal/constants"
	"github.com/nupi-ai/tool/internal/validate"
)

// Config is the runtime configuration handed to the locator, the resource
// allocator and the registry client.
type Config struct {
	// SearchRoots are scanned in order; earlier roots shadow later ones and
	// the first root receives registry installs.
	SearchRoots   []string
	DataRoot      string
	TempRoot      string
	ConfigDB      string
	RegistryURL   string
	RegistryToken string
	AutoInstall   bool

	// Source is the config file that was applied, if any.
	Source string
}

// File is the on-disk shape of config.toml / config.yaml.
type File struct {
	SearchRoots []string     `toml:"search_roots" yaml:"search_roots" validate:"omitempty,dive,required"`
	DataRoot    string       `toml:"data_root" yaml:"data_root"`
	TempRoot    string       `toml:"temp_root" yaml:"temp_root"`
	ConfigDB    string       `toml:"config_db" yaml:"config_db"`
	AutoInstall *bool        `toml:"auto_install" yaml:"auto_install"`
	Registry    RegistryFile `toml:"registry" yaml:"registry"`
}

// RegistryFile is the [registry] table.
type RegistryFile struct {
	URL   string `toml:"url" yaml:"url" validate:"omitempty,http_url"`
	Token string `toml:"token" yaml:"token"`
}

// Options controls Load.
type Options struct {
	// ConfigFile is an explicit file path. When empty, config.toml and then
	// config.yaml under the tool home are tried.
	ConfigFile string
	// WorkDir is used to find the project-local search root. Defaults to
	// the process working directory.
	WorkDir string
}

var fileValidator = validator.New(validator.WithRequiredStructEnabled())

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Default returns the configuration without any file or environment
// overrides other than TOOL_HOME.
func Default(workDir string) *Config {
	p := GetPaths()
	var roots []string
	if workDir != "" {
		if project := ProjectToolsDir(workDir); isDir(project) {
			roots = append(roots, project)
		}
	}
	roots = append(roots, p.ToolsDir)

	return &Config{
		SearchRoots: roots,
		DataRoot:    p.DataDir,
		TempRoot:    p.TempDir,
		ConfigDB:    p.ConfigDB,
		RegistryURL: constants.DefaultRegistryURL,
		AutoInstall: true,
	}
}

// Load builds the configuration: defaults, then the config file, then
// TOOL_REGISTRY and TOOL_REGISTRY_TOKEN.
func Load(opts Options) (*Config, error) {
	workDir := opts.WorkDir
	if workDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("get working directory: %w", err)
		}
		workDir = wd
	}
	cfg := Default(workDir)

	path, err := locateFile(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		f, err := ReadFile(path)
		if err != nil {
			return nil, err
		}
		cfg.apply(f)
		cfg.Source = path
	}

	if v := strings.TrimSpace(os.Getenv(constants.EnvRegistry)); v != "" {
		cfg.RegistryURL = v
	}
	if v := strings.TrimSpace(os.Getenv(constants.EnvRegistryToken)); v != "" {
		cfg.RegistryToken = v
	}

	cfg.RegistryURL = strings.TrimRight(cfg.RegistryURL, "/")
	if err := validate.HTTPURL(cfg.RegistryURL); err != nil {
		return nil, fmt.Errorf("invalid registry URL: %w", err)
	}
	if err := validate.RejectPrivateURL(cfg.RegistryURL); err != nil {
		log.Printf("[Config] WARNING: %v", err)
	}
	return cfg, nil
}

// ReadFile decodes and validates a config file. The format follows the
// extension: .toml, or .yaml/.yml. ${VAR} references are expanded from the
// environment before decoding.
func ReadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	expanded := expandEnvVars(string(data))

	var f File
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(expanded, &f)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("parse config %s: unknown key %q", path, undecoded[0].String())
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewBufferString(expanded))
		dec.KnownFields(true)
		if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("config %s: unsupported format (want .toml or .yaml)", path)
	}

	if err := fileValidator.Struct(&f); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &f, nil
}

func (c *Config) apply(f *File) {
	if len(f.SearchRoots) > 0 {
		roots := make([]string, 0, len(f.SearchRoots))
		for _, r := range f.SearchRoots {
			roots = append(roots, ExpandPath(strings.TrimSpace(r)))
		}
		c.SearchRoots = roots
	}
	if f.DataRoot != "" {
		c.DataRoot = ExpandPath(f.DataRoot)
	}
	if f.TempRoot != "" {
		c.TempRoot = ExpandPath(f.TempRoot)
	}
	if f.ConfigDB != "" {
		c.ConfigDB = ExpandPath(f.ConfigDB)
	}
	if f.AutoInstall != nil {
		c.AutoInstall = *f.AutoInstall
	}
	if f.Registry.URL != "" {
		c.RegistryURL = f.Registry.URL
	}
	if f.Registry.Token != "" {
		c.RegistryToken = f.Registry.Token
	}
}

func locateFile(explicit string) (string, error) {
	if explicit != "" {
		path := ExpandPath(explicit)
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return path, nil
	}

	p := GetPaths()
	hasTOML, hasYAML := fileExists(p.TOMLFile), fileExists(p.YAMLFile)
	switch {
	case hasTOML && hasYAML:
		log.Printf("[Config] WARNING: both %s and %s exist, using %s", p.TOMLFile, p.YAMLFile, p.TOMLFile)
		return p.TOMLFile, nil
	case hasTOML:
		return p.TOMLFile, nil
	case hasYAML:
		return p.YAMLFile, nil
	}
	return "", nil
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
