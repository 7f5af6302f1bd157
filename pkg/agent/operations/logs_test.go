package operations

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTruncateLogZeroesExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out1.log"), []byte("stale content"), 0o644))

	require.NoError(t, TruncateLog(context.Background(), dir))

	info, err := os.Stat(filepath.Join(dir, "out1.log"))
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestTruncateLogMissingFileIsNoop(t *testing.T) {
	require.NoError(t, TruncateLog(context.Background(), t.TempDir()))
}

func TestDeleteAllLogsRemovesFilesNotDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out1.log"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "out2.log"), []byte("b"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "archive"), 0o755))

	require.NoError(t, DeleteAllLogs(context.Background(), dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "archive", entries[0].Name())
}

func TestDeleteAllLogsMissingDirIsNoop(t *testing.T) {
	require.NoError(t, DeleteAllLogs(context.Background(), filepath.Join(t.TempDir(), "missing")))
}
