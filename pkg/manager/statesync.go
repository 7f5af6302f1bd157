package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// StateSyncCoordinator resolves the two pieces of a state-sync request
// the agent cannot determine for itself: the trust height/hash pair
// (fetched from the node's own current chain state) and the daemon
// binary name (inferred from the network id). Grounded on
// original_source/manager/src/state_sync/mod.rs and rpc.rs.
type StateSyncCoordinator struct {
	client *http.Client
}

// NewStateSyncCoordinator constructs a coordinator with its own short
// RPC timeout, independent of AgentClient's (this talks to the node's
// RPC port, not its agent).
func NewStateSyncCoordinator() *StateSyncCoordinator {
	return &StateSyncCoordinator{client: &http.Client{Timeout: 5 * time.Second}}
}

// FetchTrustParams queries rpcURL for the current block height, then
// the block hash at (height - offset), the pair state-sync needs to
// trust a snapshot instead of replaying from genesis.
func (s *StateSyncCoordinator) FetchTrustParams(ctx context.Context, rpcURL string, offset int64) (height int64, hash string, err error) {
	latest, err := s.fetchLatestHeight(ctx, rpcURL)
	if err != nil {
		return 0, "", fmt.Errorf("statesync: fetch latest height: %w", err)
	}

	trustHeight := latest - offset
	if trustHeight < 1 {
		trustHeight = 1
	}

	trustHash, err := s.fetchBlockHash(ctx, rpcURL, trustHeight)
	if err != nil {
		return 0, "", fmt.Errorf("statesync: fetch block hash at %d: %w", trustHeight, err)
	}

	return trustHeight, trustHash, nil
}

func (s *StateSyncCoordinator) fetchLatestHeight(ctx context.Context, rpcURL string) (int64, error) {
	var status struct {
		Result struct {
			SyncInfo struct {
				LatestBlockHeight string `json:"latest_block_height"`
			} `json:"sync_info"`
		} `json:"result"`
	}
	if err := s.getJSON(ctx, rpcURL+"/status", &status); err != nil {
		return 0, err
	}
	return strconv.ParseInt(status.Result.SyncInfo.LatestBlockHeight, 10, 64)
}

func (s *StateSyncCoordinator) fetchBlockHash(ctx context.Context, rpcURL string, height int64) (string, error) {
	var block struct {
		Result struct {
			BlockID struct {
				Hash string `json:"hash"`
			} `json:"block_id"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/block?height=%d", rpcURL, height)
	if err := s.getJSON(ctx, url, &block); err != nil {
		return "", err
	}
	if block.Result.BlockID.Hash == "" {
		return "", fmt.Errorf("statesync: empty block hash in response")
	}
	return block.Result.BlockID.Hash, nil
}

func (s *StateSyncCoordinator) getJSON(ctx context.Context, url string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("rpc %s returned status %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

// DetermineDaemonBinary maps a network id to its chain daemon binary
// name, the same per-prefix convention the original service used so
// operators don't need to list it per node in config.
func DetermineDaemonBinary(network string) string {
	switch {
	case strings.HasPrefix(network, "pirin"), strings.HasPrefix(network, "nolus"):
		return "nolusd"
	case strings.HasPrefix(network, "osmosis"):
		return "osmosisd"
	case strings.HasPrefix(network, "neutron"):
		return "neutrond"
	case strings.HasPrefix(network, "rila"):
		return "rila"
	case strings.HasPrefix(network, "cosmos"):
		return "gaiad"
	case strings.HasPrefix(network, "solana"):
		return "agave-validator"
	default:
		prefix := strings.SplitN(network, "-", 2)[0]
		if prefix == "" {
			prefix = network
		}
		return prefix + "d"
	}
}
