package locator

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/nupi-ai/tool/internal/reference"
)

const (
	maxArchiveSize      = 500 * 1024 * 1024      // 500 MB per file
	maxTotalExtractSize = 2 * 1024 * 1024 * 1024 // 2 GB cumulative extraction limit
	maxFileCount        = 10000
)

// Install fetches ref from the registry and extracts it under the first
// search root, regardless of the auto-install setting. It returns nil when
// the registry has no matching version.
func (l *Locator) Install(ctx context.Context, ref reference.PluginRef) (*ResolvedBundle, error) {
	if !ref.HasNamespace() {
		return nil, &reference.InvalidReferenceError{Input: ref.String(), Reason: "a namespace is required to install from the registry"}
	}
	if l.fetcher == nil {
		return nil, &InstallError{Op: "install", Path: ref.String(), Err: errors.New("no registry configured")}
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

// install writes <first root>/<ns>/<name>@<version>. Concurrent installs of
// the same reference are not coordinated.
func (l *Locator) install(ctx context.Context, ref reference.PluginRef) (bool, error) {
	if len(l.roots) == 0 {
		return false, &InstallError{Op: "install", Path: ref.String(), Err: errors.New("no search roots configured")}
	}

	fb, err := l.fetcher.FetchTool(ctx, ref)
	if err != nil {
		return false, &InstallError{Op: "fetch", Path: ref.String(), Err: err}
	}
	if fb == nil {
		return false, nil
	}
	if _, err := semver.StrictNewVersion(fb.Version); err != nil {
		return false, &InstallError{Op: "fetch", Path: ref.String(), Err: fmt.Errorf("registry returned invalid version %q: %w", fb.Version, err)}
	}

	target := filepath.Join(l.roots[0], ref.Namespace(), ref.Name()+"@"+fb.Version)
	_, statErr := os.Stat(target)
	created := errors.Is(statErr, os.ErrNotExist)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return false, &InstallError{Op: "create directory", Path: target, Err: err}
	}
	if err := ExtractZip(fb.Data, target); err != nil {
		if created {
			_ = os.RemoveAll(target)
		}
		return false, &InstallError{Op: "extract", Path: target, Err: err}
	}
	return true, nil
}

// ExtractZip unpacks a zip archive into destDir. Entries escaping destDir,
// symlinks, and oversized archives are rejected. Unix permission bits are
// restored on platforms that support them.
func ExtractZip(data []byte, destDir string) error {
	r, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("open zip: %w", err)
	}

	cleanDest := filepath.Clean(destDir)
	count := 0
	var totalSize int64

	for _, f := range r.File {
		count++
		if count > maxFileCount {
			return fmt.Errorf("archive contains too many files (max %d)", maxFileCount)
		}

		if f.Mode()&fs.ModeSymlink != 0 {
			return fmt.Errorf("archive contains symlink (not allowed): %s", f.Name)
		}

		target := filepath.Join(cleanDest, filepath.FromSlash(f.Name))
		if f.FileInfo().IsDir() && target == cleanDest {
			continue
		}
		// Prevent zip slip
		if !strings.HasPrefix(target, cleanDest+string(os.PathSeparator)) {
			return fmt.Errorf("invalid path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if mkErr := os.MkdirAll(target, 0o755); mkErr != nil {
				return fmt.Errorf("create directory %s: %w", f.Name, mkErr)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", f.Name, err)
		}

		written, err := writeEntry(f, target)
		if err != nil {
			return err
		}
		totalSize += written
		if totalSize > maxTotalExtractSize {
			return fmt.Errorf("archive exceeds total extraction limit (%d bytes)", maxTotalExtractSize)
		}
	}
	return nil
}

func writeEntry(f *zip.File, target string) (int64, error) {
	outFile, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		outFile.Close()
		return 0, err
	}

	written, copyErr := io.Copy(outFile, io.LimitReader(rc, maxArchiveSize+1))
	rc.Close()
	closeErr := outFile.Close()
	if copyErr != nil {
		return 0, fmt.Errorf("write %s: %w", f.Name, copyErr)
	}
	if closeErr != nil {
		return 0, fmt.Errorf("close extracted file %s: %w", f.Name, closeErr)
	}
	if written > maxArchiveSize {
		return 0, fmt.Errorf("file %s exceeds maximum size (%d bytes)", f.Name, maxArchiveSize)
	}

	if runtime.GOOS != "windows" {
		perm := f.Mode().Perm()
		if perm == 0 {
			perm = 0o644
		}
		if err := os.Chmod(target, perm); err != nil {
			return 0, fmt.Errorf("set permissions on %s: %w", f.Name, err)
		}
	}
	return written, nil
}
