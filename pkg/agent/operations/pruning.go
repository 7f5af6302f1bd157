package operations

import (
	"context"
	"fmt"
)

// PruningRequest carries one pruning run's parameters.
type PruningRequest struct {
	ServiceName  string
	PrunerBinary string
	DeployPath   string
	KeepBlocks   int
	KeepVersions int
}

// Prune runs spec §4.7's pruning sequence: stop the service, invoke
// the external pruner binary with keep-blocks/keep-versions, start
// the service. Fails fast on any step.
func Prune(ctx context.Context, req PruningRequest) error {
	if err := StopService(ctx, req.ServiceName); err != nil {
		return fmt.Errorf("operations: stop service: %w", err)
	}

	command := fmt.Sprintf("%s --home '%s' --keep-blocks %d --keep-versions %d",
		req.PrunerBinary, req.DeployPath, req.KeepBlocks, req.KeepVersions)
	if _, err := runShell(ctx, command); err != nil {
		return fmt.Errorf("operations: run pruner: %w", err)
	}

	if err := StartService(ctx, req.ServiceName); err != nil {
		return fmt.Errorf("operations: start service: %w", err)
	}
	return nil
}
