package constants

// On-disk layout of the tool home directory.
const (
	HomeDirName      = ".tool"
	ToolsDirName     = "tools"
	DataDirName      = "data"
	TempDirName      = "tool"
	ManifestFileName = "manifest.json"
	ConfigDBFileName = "config.db"
)

// Environment variables read by the configuration layer.
const (
	EnvHome          = "TOOL_HOME"
	EnvRegistry      = "TOOL_REGISTRY"
	EnvRegistryToken = "TOOL_REGISTRY_TOKEN"
)

// DefaultRegistryURL is used when neither the config file nor TOOL_REGISTRY
// sets a registry.
const DefaultRegistryURL = "https://tool.store"

const (
	// BundleTempFilePattern is the filename template used for bundle
	// downloads in the system temp directory.
	BundleTempFilePattern = "tool-bundle-*.download"

	// LocalToolName is used when a directory name sanitizes to nothing.
	LocalToolName = "local-tool"
)
