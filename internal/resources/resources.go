// Package resources allocates concrete OS resources for the system_config
// slots a manifest declares.
package resources

import (
	"errors"
	"fmt"
	"math"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/nupi-ai/tool/internal/manifest"
	"github.com/nupi-ai/tool/internal/util/maps"
)

// DefaultHostname is used for hostname slots without a default.
const DefaultHostname = "127.0.0.1"

// AllocationError reports a slot that could not be filled.
type AllocationError struct {
	Field string
	Type  manifest.SystemFieldType
	Err   error
}

func (e *AllocationError) Error() string {
	return fmt.Sprintf("allocate %s %q: %v", e.Type, e.Field, e.Err)
}

func (e *AllocationError) Unwrap() error { return e.Err }

// Allocator fills system_config slots. Every call allocates fresh values.
type Allocator struct {
	DataRoot string
	TempRoot string
}

// Allocate returns a concrete value for every declared slot. Slots are
// processed in key order; the first failure aborts the allocation.
func (a Allocator) Allocate(schema map[string]manifest.SystemConfigField) (map[string]string, error) {
	values := make(map[string]string, len(schema))
	for _, name := range maps.SortedKeys(schema) {
		field := schema[name]
		v, err := a.allocate(field)
		if err != nil {
			return nil, &AllocationError{Field: name, Type: field.Type, Err: err}
		}
		values[name] = v
	}
	return values, nil
}

func (a Allocator) allocate(field manifest.SystemConfigField) (string, error) {
	switch field.Type {
	case manifest.SystemPort:
		preferred, err := portDefault(field.Default)
		if err != nil {
			return "", err
		}
		port, err := ReservePort(preferred)
		if err != nil {
			return "", err
		}
		return strconv.Itoa(port), nil
	case manifest.SystemHostname:
		if field.Default != nil {
			if s := manifest.DefaultString(field.Default); s != "" {
				return s, nil
			}
		}
		return DefaultHostname, nil
	case manifest.SystemDataDirectory:
		return createUniqueDir(a.DataRoot)
	case manifest.SystemTempDirectory:
		return createUniqueDir(a.TempRoot)
	default:
		return "", fmt.Errorf("unsupported system_config type %q", field.Type)
	}
}

// ReservePort probes 127.0.0.1 for a free port. The preferred port is tried
// first when non-zero; otherwise, or when it is busy, the OS picks one.
// The listener is closed before returning, so another process may claim the
// port before the caller binds it.
func ReservePort(preferred int) (int, error) {
	if preferred > 0 {
		if port, err := probe(preferred); err == nil {
			return port, nil
		}
	}
	return probe(0)
}

func probe(port int) (int, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(DefaultHostname, strconv.Itoa(port)))
	if err != nil {
		return 0, err
	}
	addr := ln.Addr().(*net.TCPAddr)
	if err := ln.Close(); err != nil {
		return 0, err
	}
	return addr.Port, nil
}

// portDefault reads a port default given as a JSON number or numeric string.
func portDefault(v any) (int, error) {
	switch d := v.(type) {
	case nil:
		return 0, nil
	case float64:
		if d != math.Trunc(d) || d < 1 || d > 65535 {
			return 0, fmt.Errorf("invalid default port %v", d)
		}
		return int(d), nil
	case int:
		if d < 1 || d > 65535 {
			return 0, fmt.Errorf("invalid default port %d", d)
		}
		return d, nil
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return 0, nil
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 65535 {
			return 0, fmt.Errorf("invalid default port %q", d)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("invalid default port %v", v)
	}
}

func createUniqueDir(root string) (string, error) {
	if root == "" {
		return "", errors.New("no root directory configured")
	}
	dir := filepath.Join(root, uuid.NewString())
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return "", err
	}
	return abs, nil
}
