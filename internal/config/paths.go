package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/nupi-ai/tool/internal/constants"
)

// Paths contains the on-disk layout rooted at the tool home directory.
type Paths struct {
	Home     string // Tool home directory (~/.tool or $TOOL_HOME)
	ToolsDir string // User-global search root
	DataDir  string // Persistent data root for data_directory slots
	TempDir  string // Temp root for temp_directory slots
	ConfigDB string // SQLite store for saved tool configuration
	TOMLFile string // Optional config.toml
	YAMLFile string // Optional config.yaml
}

// GetPaths returns the layout for the current home directory.
func GetPaths() Paths {
	home := GetToolHome()
	return Paths{
		Home:     home,
		ToolsDir: filepath.Join(home, constants.ToolsDirName),
		DataDir:  filepath.Join(home, constants.DataDirName),
		TempDir:  filepath.Join(os.TempDir(), constants.TempDirName),
		ConfigDB: filepath.Join(home, constants.ConfigDBFileName),
		TOMLFile: filepath.Join(home, "config.toml"),
		YAMLFile: filepath.Join(home, "config.yaml"),
	}
}

// GetToolHome returns the tool home directory. TOOL_HOME overrides the
// default ~/.tool.
func GetToolHome() string {
	if v := strings.TrimSpace(os.Getenv(constants.EnvHome)); v != "" {
		return ExpandPath(v)
	}
	userHome, _ := os.UserHomeDir()
	return filepath.Join(userHome, constants.HomeDirName)
}

// ProjectToolsDir returns the project-local search root for workDir.
func ProjectToolsDir(workDir string) string {
	return filepath.Join(workDir, constants.HomeDirName, constants.ToolsDirName)
}

// ExpandPath expands ~ to the user home directory.
func ExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) == 1 {
			return home
		}
		if path[1] == '/' || path[1] == os.PathSeparator {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// EnsureDirs creates the home, tools and data directories if they do not exist.
func EnsureDirs(p Paths) error {
	for _, dir := range []string{p.Home, p.ToolsDir, p.DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
