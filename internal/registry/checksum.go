package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/nupi-ai/tool/internal/constants"
)

// errNoChecksum is returned when verifySHA256 is called with an empty expected hash.
var errNoChecksum = errors.New("no SHA-256 checksum provided")

type tempBundle struct {
	path string
}

// downloadToTemp streams body into a temp file under dir (the system temp
// directory when empty), enforcing maxBundleSize.
func downloadToTemp(body io.Reader, dir string) (*tempBundle, error) {
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create temp dir: %w", err)
		}
	}
	tmpFile, err := os.CreateTemp(dir, constants.BundleTempFilePattern)
	if err != nil {
		return nil, err
	}

	// Ensure temp file is cleaned up on any error path.
	success := false
	tb := &tempBundle{path: tmpFile.Name()}
	defer func() {
		if !success {
			tmpFile.Close()
			tb.remove()
		}
	}()

	lr := io.LimitReader(body, maxBundleSize+1) // read one extra byte to detect truncation
	n, err := io.Copy(tmpFile, lr)
	if err != nil {
		return nil, err
	}
	if n > maxBundleSize {
		return nil, fmt.Errorf("bundle exceeds maximum size (%d bytes)", maxBundleSize)
	}

	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("finalize download: %w", err)
	}
	success = true
	return tb, nil
}

func (t *tempBundle) read() ([]byte, error) {
	return os.ReadFile(t.path)
}

func (t *tempBundle) remove() {
	if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
		log.Printf("[Registry] WARNING: failed to remove temp file %s: %v", t.path, err)
	}
}

func verifySHA256(path, expected string) error {
	expected = strings.TrimSpace(strings.ToLower(expected))
	expected = strings.TrimPrefix(expected, "sha256:")
	if expected == "" {
		return errNoChecksum
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return err
	}

	actual := hex.EncodeToString(h.Sum(nil))
	if actual != expected {
		return fmt.Errorf("SHA-256 mismatch: expected %s, got %s", expected, actual)
	}
	return nil
}
