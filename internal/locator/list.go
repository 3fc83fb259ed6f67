package locator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nupi-ai/tool/internal/reference"
)

// InstalledTool is one entry of ListInstalled.
type InstalledTool struct {
	Ref reference.PluginRef
	// Dir is the first bundle directory seen for the tool.
	Dir string
	// Root is the search root Dir was found under.
	Root string
}

// ListInstalled reports one entry per [namespace/]name across all roots.
// Version suffixes are stripped; earlier roots shadow later ones.
func (l *Locator) ListInstalled() ([]InstalledTool, error) {
	var tools []InstalledTool
	seen := map[string]bool{}
	for _, root := range l.roots {
		if err := collectTools(root, root, "", &tools, seen); err != nil {
			return nil, err
		}
	}
	return tools, nil
}

func collectTools(root, dir, namespace string, tools *[]InstalledTool, seen map[string]bool) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", dir, err)
	}

	for _, e := range entries {
		entryName := e.Name()
		if strings.HasPrefix(entryName, ".") {
			continue
		}
		path := filepath.Join(dir, entryName)
		if !isDir(path) {
			continue
		}

		if !hasManifest(path) {
			if namespace == "" {
				if err := collectTools(root, path, entryName, tools, seen); err != nil {
					return err
				}
			}
			continue
		}

		name, _, _ := strings.Cut(entryName, "@")
		ref, err := reference.New(name)
		if err != nil {
			continue
		}
		if namespace != "" {
			if ref, err = ref.WithNamespace(namespace); err != nil {
				continue
			}
		}
		if seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true
		*tools = append(*tools, InstalledTool{Ref: ref, Dir: path, Root: root})
	}
	return nil
}

// Orphans lists entries under the search roots that hold no tool: dangling
// symlinks, empty directories, and directories with no manifest anywhere
// below them. A directory whose children are all invalid is reported in
// place of those children. Nothing is removed.
func (l *Locator) Orphans() ([]string, error) {
	var out []string
	for _, root := range l.roots {
		orphans, _, err := collectOrphans(root)
		if err != nil {
			return nil, err
		}
		out = append(out, orphans...)
	}
	return out, nil
}

// collectOrphans returns the orphaned entries below dir and whether dir
// holds at least one valid tool.
func collectOrphans(dir string) (orphans []string, hasTool bool, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", dir, err)
	}

	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		path := filepath.Join(dir, e.Name())

		if e.Type()&os.ModeSymlink != 0 {
			info, statErr := os.Stat(path)
			switch {
			case statErr != nil:
				orphans = append(orphans, path)
			case !info.IsDir():
			case hasManifest(path):
				hasTool = true
			default:
				// Symlinked directories are not descended into.
				orphans = append(orphans, path)
			}
			continue
		}
		if !e.IsDir() {
			continue
		}
		if hasManifest(path) {
			hasTool = true
			continue
		}

		sub, subHasTool, err := collectOrphans(path)
		if err != nil {
			return nil, false, err
		}
		if subHasTool {
			hasTool = true
			orphans = append(orphans, sub...)
		} else {
			orphans = append(orphans, path)
		}
	}
	return orphans, hasTool, nil
}
