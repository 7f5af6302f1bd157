package operations

import (
	"archive/tar"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTarIntoArchivesFilesUnderRoot(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "pirin-1_20260201_000000")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "priv_validator_state.json"), []byte(`{"height":"1"}`), 0o644))

	var buf bytes.Buffer
	require.NoError(t, tarInto(&buf, root))

	tr := tar.NewReader(&buf)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
	}
	require.Contains(t, names, "pirin-1_20260201_000000")
	require.Contains(t, names, filepath.Join("pirin-1_20260201_000000", "data"))
	require.Contains(t, names, filepath.Join("pirin-1_20260201_000000", "data", "priv_validator_state.json"))
}
