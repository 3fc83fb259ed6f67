// Package crypto encrypts sensitive tool configuration values at rest with
// AES-256-GCM, using a key file stored next to the database.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	KeySize     = 32 // AES-256
	KeyFileName = ".secrets.key"
	// EncPrefix marks encrypted values in the database.
	EncPrefix = "enc:v1:"
)

// LoadKey reads an existing encryption key from keyPath.
// Returns nil, nil if the file doesn't exist (key not yet created).
func LoadKey(keyPath string) ([]byte, error) {
	f, err := os.Open(keyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("toolconfig: read encryption key: %w", err)
	}
	defer f.Close()

	// Permissions are checked on the open descriptor. Windows reports
	// synthetic mode bits, so the check is skipped there.
	if runtime.GOOS != "windows" {
		if info, statErr := f.Stat(); statErr == nil {
			if perm := info.Mode().Perm(); perm&0o077 != 0 {
				log.Printf("[ToolConfig] WARNING: encryption key %s has overly permissive mode 0%o (expected 0600)", keyPath, perm)
			}
		}
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("toolconfig: read encryption key: %w", err)
	}
	if len(data) != KeySize {
		return nil, fmt.Errorf("toolconfig: encryption key at %s has invalid size %d (expected %d)", keyPath, len(data), KeySize)
	}
	return data, nil
}

// CreateKey generates a new 32-byte AES key and writes it to keyPath.
//
// The key is written to a temp file and then hard-linked to keyPath.
// os.Link fails with EEXIST if another process created the key first, in
// which case that key is loaded and returned instead.
//
// Callers must verify that no encrypted values exist before calling this.
func CreateKey(keyPath string) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("toolconfig: generate encryption key: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(keyPath), KeyFileName+".tmp.*")
	if err != nil {
		return nil, fmt.Errorf("toolconfig: create encryption key temp: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer os.Remove(tmpPath)

	if _, err := tmpFile.Write(key); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("toolconfig: write encryption key temp: %w", err)
	}
	if err := tmpFile.Chmod(0o600); err != nil {
		tmpFile.Close()
		return nil, fmt.Errorf("toolconfig: chmod encryption key temp: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return nil, fmt.Errorf("toolconfig: close encryption key temp: %w", err)
	}

	if err := os.Link(tmpPath, keyPath); err != nil {
		if os.IsExist(err) {
			raceKey, loadErr := LoadKey(keyPath)
			if loadErr != nil {
				return nil, loadErr
			}
			if raceKey == nil {
				return nil, fmt.Errorf("toolconfig: encryption key %s disappeared after race", keyPath)
			}
			return raceKey, nil
		}
		return nil, fmt.Errorf("toolconfig: link encryption key: %w", err)
	}
	return key, nil
}

// KeyPath returns the path for the encryption key relative to the DB.
func KeyPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), KeyFileName)
}

// HasEncryptedValues reports whether tool_config holds any enc:v1: values.
// A new key must never be created while such rows exist.
func HasEncryptedValues(ctx context.Context, db *sql.DB) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tool_config WHERE value LIKE ?`,
		EncPrefix+"%",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("toolconfig: check encrypted values: %w", err)
	}
	return count > 0, nil
}

// EncryptValue encrypts plaintext using AES-256-GCM and returns a prefixed base64 string.
func EncryptValue(key []byte, plaintext string) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return EncPrefix + base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(key []byte, stored string) (string, error) {
	if !strings.HasPrefix(stored, EncPrefix) {
		return "", fmt.Errorf("toolconfig: value is not encrypted (missing %s prefix)", EncPrefix)
	}

	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, EncPrefix))
	if err != nil {
		return "", fmt.Errorf("toolconfig: decode encrypted value: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("toolconfig: encrypted value too short")
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("toolconfig: decrypt value: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
