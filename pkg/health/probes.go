package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ProbeResult is what a network-family probe extracts from one RPC
// round trip, independent of the JSON-RPC shape underneath.
type ProbeResult struct {
	Height           int64
	CatchingUp       bool
	ValidatorAddress string
}

// ProbeFunc performs one liveness probe against rpcURL.
type ProbeFunc func(ctx context.Context, client *http.Client, rpcURL string) (ProbeResult, error)

// probeTable dispatches by network-family tag rather than a class
// hierarchy (spec §9: "a small sum-typed table keyed by the tag
// returning the probe function. Avoid class hierarchies.").
var probeTable = map[string]ProbeFunc{
	"cosmos": probeCosmos,
	"solana": probeSolana,
}

var solanaPrefixes = []string{"solana", "mainnet-beta", "testnet", "devnet"}

// NetworkFamily classifies a network name into the tag used to look
// up a ProbeFunc (spec §4.5: "Solana-family (network name starts with
// solana|mainnet-beta|testnet|devnet)"; everything else is Cosmos-family).
func NetworkFamily(network string) string {
	lower := strings.ToLower(network)
	for _, prefix := range solanaPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "solana"
		}
	}
	return "cosmos"
}

// ProbeFor returns the probe function for a network name.
func ProbeFor(network string) ProbeFunc {
	return probeTable[NetworkFamily(network)]
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

func postJSONRPC(ctx context.Context, client *http.Client, rpcURL string, req jsonRPCRequest, out any) error {
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, rpcURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health: rpc call to %s failed: %w", rpcURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: rpc call to %s returned status %d", rpcURL, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// probeCosmos POSTs the Tendermint/CometBFT JSON-RPC "status" method
// and extracts latest_block_height, catching_up and the validator
// address, per original_source health/cosmos.rs.
func probeCosmos(ctx context.Context, client *http.Client, rpcURL string) (ProbeResult, error) {
	var resp struct {
		Result struct {
			SyncInfo struct {
				LatestBlockHeight string `json:"latest_block_height"`
				CatchingUp        bool   `json:"catching_up"`
			} `json:"sync_info"`
			ValidatorInfo struct {
				Address string `json:"address"`
			} `json:"validator_info"`
		} `json:"result"`
	}

	if err := postJSONRPC(ctx, client, rpcURL, jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: "status"}, &resp); err != nil {
		return ProbeResult{}, err
	}

	height, _ := strconv.ParseInt(resp.Result.SyncInfo.LatestBlockHeight, 10, 64)
	return ProbeResult{
		Height:           height,
		CatchingUp:       resp.Result.SyncInfo.CatchingUp,
		ValidatorAddress: resp.Result.ValidatorInfo.Address,
	}, nil
}

// probeSolana combines getHealth and getSlot into one ProbeResult.
func probeSolana(ctx context.Context, client *http.Client, rpcURL string) (ProbeResult, error) {
	var healthResp struct {
		Result string `json:"result"`
		Error  *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	healthErr := postJSONRPC(ctx, client, rpcURL, jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: "getHealth"}, &healthResp)

	var slotResp struct {
		Result int64 `json:"result"`
	}
	if err := postJSONRPC(ctx, client, rpcURL, jsonRPCRequest{JSONRPC: "2.0", ID: 2, Method: "getSlot"}, &slotResp); err != nil {
		return ProbeResult{}, err
	}

	// getHealth returning an RPC error (e.g. "node is behind") does not
	// abort the probe: it is reported as catching_up, and the monitor
	// counts a catching-up node as healthy whatever its slot number does.
	catchingUp := healthErr != nil || (healthResp.Error != nil)

	return ProbeResult{
		Height:     slotResp.Result,
		CatchingUp: catchingUp,
	}, nil
}

// newRPCClient builds the per-probe HTTP client honouring the
// configured timeout; a fresh client per call keeps connection state
// simple given the fleet's modest size (order 10^2, per spec §5).
func newRPCClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
