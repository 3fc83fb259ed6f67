package locator

import (
	"fmt"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/nupi-ai/tool/internal/constants"
	"github.com/nupi-ai/tool/internal/reference"
)

// LoadFromPath loads the bundle in dir directly, without search roots. The
// reference is derived from the directory name.
func LoadFromPath(dir string) (*ResolvedBundle, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if !hasManifest(abs) {
		return nil, fmt.Errorf("no %s found in %s", constants.ManifestFileName, abs)
	}
	return load(abs, refFromDirName(filepath.Base(abs)))
}

func refFromDirName(base string) reference.PluginRef {
	sanitized := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			return r
		}
		return '-'
	}, strings.ToLower(base))

	if ref, err := reference.Parse(sanitized); err == nil {
		return ref
	}
	return reference.MustParse(constants.LocalToolName)
}

// IsPath reports whether s names a filesystem location rather than a
// reference.
func IsPath(s string) bool {
	return s == "." || s == ".." ||
		strings.HasPrefix(s, "./") || strings.HasPrefix(s, "../") ||
		strings.HasPrefix(s, "/") || strings.HasPrefix(s, "~") ||
		filepath.IsAbs(s)
}
