package locator

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// ExtractZip
// ---------------------------------------------------------------------------

func TestExtractZip_Files(t *testing.T) {
	data := buildZip(t, map[string]string{
		"manifest.json":  minimalManifest,
		"server/main.js": "console.log('hi')",
	}, nil)

	destDir := t.TempDir()
	require.NoError(t, ExtractZip(data, destDir))

	got, err := os.ReadFile(filepath.Join(destDir, "server", "main.js"))
	require.NoError(t, err)
	assert.Equal(t, "console.log('hi')", string(got))
}

func TestExtractZip_DirectoryEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("./")
	require.NoError(t, err)
	_, err = zw.Create("assets/")
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	destDir := t.TempDir()
	require.NoError(t, ExtractZip(buf.Bytes(), destDir))
	assert.DirExists(t, filepath.Join(destDir, "assets"))
}

func TestExtractZip_ZipSlipPrevention(t *testing.T) {
	data := buildZip(t, map[string]string{
		"../../../etc/evil.txt": "malicious content",
	}, nil)

	err := ExtractZip(data, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid path")
}

func TestExtractZip_SymlinkRejection(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	hdr := &zip.FileHeader{Name: "evil-link"}
	hdr.SetMode(os.ModeSymlink | 0o777)
	w, err := zw.CreateHeader(hdr)
	require.NoError(t, err)
	// The body of a symlink entry in zip is the target path.
	_, err = w.Write([]byte("/etc/passwd"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	err = ExtractZip(buf.Bytes(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "symlink")
}

func TestExtractZip_FileCountLimit(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i <= maxFileCount; i++ {
		w, err := zw.Create("files/" + strconv.Itoa(i) + ".txt")
		require.NoError(t, err)
		_, err = w.Write([]byte("x"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	err := ExtractZip(buf.Bytes(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "too many files")
}

func TestExtractZip_NotAZip(t *testing.T) {
	err := ExtractZip([]byte("definitely not a zip"), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open zip")
}
