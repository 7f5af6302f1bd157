package manager

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchTrustParams(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"sync_info":{"latest_block_height":"10500"}}}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "8500", r.URL.Query().Get("height"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"block_id":{"hash":"DEADBEEF"}}}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := NewStateSyncCoordinator()
	height, hash, err := s.FetchTrustParams(context.Background(), ts.URL, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(8500), height)
	require.Equal(t, "DEADBEEF", hash)
}

func TestFetchTrustParamsClampsOffsetAboveLatestHeight(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"sync_info":{"latest_block_height":"100"}}}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "1", r.URL.Query().Get("height"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"block_id":{"hash":"GENESISHASH"}}}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := NewStateSyncCoordinator()
	height, hash, err := s.FetchTrustParams(context.Background(), ts.URL, 2000)
	require.NoError(t, err)
	require.Equal(t, int64(1), height)
	require.Equal(t, "GENESISHASH", hash)
}

func TestFetchTrustParamsEmptyHashIsError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"sync_info":{"latest_block_height":"10500"}}}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"result":{"block_id":{"hash":""}}}`))
	})
	ts := httptest.NewServer(mux)
	defer ts.Close()

	s := NewStateSyncCoordinator()
	_, _, err := s.FetchTrustParams(context.Background(), ts.URL, 2000)
	require.Error(t, err)
}

func TestDetermineDaemonBinary(t *testing.T) {
	cases := []struct {
		network string
		want    string
	}{
		{"pirin-1", "nolusd"},
		{"nolus-1", "nolusd"},
		{"osmosis-1", "osmosisd"},
		{"neutron-1", "neutrond"},
		{"rila", "rila"},
		{"cosmoshub-4", "gaiad"},
		{"solana-mainnet", "agave-validator"},
		{"juno-1", "junod"},
		{"noprefix", "noprefixd"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, DetermineDaemonBinary(tc.network), tc.network)
	}
}
