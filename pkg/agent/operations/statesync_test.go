package operations

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRewriteStatesyncBlockInsertsWhenAbsent(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(configPath, []byte("[rpc]\nladdr = \"tcp://0.0.0.0:26657\"\n"), 0o644))

	require.NoError(t, rewriteStatesyncBlock(configPath, true, "http://a:26657,http://b:26657", 1000, "deadbeef"))

	got, err := os.ReadFile(configPath)
	require.NoError(t, err)
	content := string(got)
	require.Contains(t, content, "[rpc]")
	require.Contains(t, content, "[statesync]")
	require.Contains(t, content, "enable = true")
	require.Contains(t, content, `trust_height = 1000`)
	require.Contains(t, content, `trust_hash = "deadbeef"`)
}

func TestRewriteStatesyncBlockReplacesExistingBlockOnly(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.toml")
	original := "[p2p]\nseeds = \"\"\n\n[statesync]\nenable = false\nrpc_servers = \"\"\ntrust_height = 0\ntrust_hash = \"\"\ntrust_period = \"168h0m0s\"\n\n[consensus]\ntimeout_commit = \"5s\"\n"
	require.NoError(t, os.WriteFile(configPath, []byte(original), 0o644))

	require.NoError(t, rewriteStatesyncBlock(configPath, true, "http://a:26657", 2000, "cafebabe"))

	got, err := os.ReadFile(configPath)
	require.NoError(t, err)
	content := string(got)
	require.Contains(t, content, "[p2p]")
	require.Contains(t, content, "[consensus]")
	require.Contains(t, content, "enable = true")
	require.Contains(t, content, `trust_height = 2000`)
	require.NotContains(t, content, "trust_height = 0")
}

func TestCleanWasmCacheRemovesOnlyCacheDir(t *testing.T) {
	homeDir := t.TempDir()
	cacheDir := filepath.Join(homeDir, "wasm", "wasm", "cache")
	blobDir := filepath.Join(homeDir, "wasm", "wasm", "blobs")
	require.NoError(t, os.MkdirAll(cacheDir, 0o755))
	require.NoError(t, os.MkdirAll(blobDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(blobDir, "module.wasm"), []byte("x"), 0o644))

	require.NoError(t, cleanWasmCache(homeDir))

	_, err := os.Stat(cacheDir)
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(blobDir, "module.wasm"))
	require.NoError(t, err)
}

func TestCleanWasmCacheMissingDirIsNoop(t *testing.T) {
	require.NoError(t, cleanWasmCache(t.TempDir()))
}

func TestFetchBlockHeightParsesStatusResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"sync_info": map[string]any{"latest_block_height": "12345"}},
		})
	}))
	defer ts.Close()

	height, err := fetchBlockHeight(context.Background(), ts.Client(), ts.URL)
	require.NoError(t, err)
	require.Equal(t, int64(12345), height)
}

func TestWaitForHeightIncreaseTimesOutWithoutProgress(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"sync_info": map[string]any{"latest_block_height": "100"}},
		})
	}))
	defer ts.Close()

	err := waitForHeightIncrease(context.Background(), ts.URL, time.Nanosecond)
	require.ErrorContains(t, err, "timed out")
}
