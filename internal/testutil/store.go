package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/nupi-ai/tool/internal/toolconfig"
)

// OpenStore creates a temporary tool config store and closes it when the
// test ends.
func OpenStore(t *testing.T) *toolconfig.Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "config.db")
	store, err := toolconfig.Open(context.Background(), toolconfig.Options{DBPath: dbPath})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}
