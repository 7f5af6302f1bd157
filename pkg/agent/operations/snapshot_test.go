package operations

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/stretchr/testify/require"
)

func TestSnapshotDirNameFormatsNetworkAndUTCTimestamp(t *testing.T) {
	at := time.Date(2026, 2, 1, 3, 4, 5, 0, time.FixedZone("EST", -5*3600))
	require.Equal(t, "pirin-1_20260201_080405", snapshotDirName("pirin-1", at))
}

func TestCompressSnapshotBackgroundProducesArchive(t *testing.T) {
	dir := t.TempDir()
	snapshotPath := filepath.Join(dir, "pirin-1_20260201_000000")
	require.NoError(t, os.MkdirAll(filepath.Join(snapshotPath, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(snapshotPath, "data", "state.json"), []byte("{}"), 0o644))

	compressSnapshotBackground(snapshotPath)

	archivePath := snapshotPath + ".tar.lz4"
	f, err := os.Open(archivePath)
	require.NoError(t, err)
	defer f.Close()

	zr := lz4.NewReader(f)
	buf := make([]byte, 4)
	_, err = zr.Read(buf)
	require.NoError(t, err)
}
