// Package storage persists operation records and health history.
// The only implementation is BoltStore (go.etcd.io/bbolt), the
// teacher's own embedded-KV idiom; the spec leaves the underlying
// engine unspecified, so the teacher's approach is kept (see
// DESIGN.md).
package storage

import (
	"time"

	"github.com/cuemby/fleetops/pkg/types"
)

// Store is the persistence contract used by the manager. Required
// access patterns per spec §6: recent-by-target and recent-by-status
// over operations (both newest first), and recent health history per
// target.
type Store interface {
	// PutOperation upserts an operation record by id.
	PutOperation(op *types.Operation) error

	// UpdateOperationStatus performs the idempotent terminal update
	// described in spec §4.2. Errors here are logged by the caller and
	// never block operation completion.
	UpdateOperationStatus(id string, status types.OperationStatus, completedAt *time.Time, errMsg string) error

	// GetOperation fetches a single record by id.
	GetOperation(id string) (*types.Operation, error)

	// RecentOperations returns up to n records, newest first.
	RecentOperations(n int) ([]*types.Operation, error)

	// OperationsByTarget returns up to n records for one target, newest first.
	OperationsByTarget(target string, n int) ([]*types.Operation, error)

	// OperationsByStatus returns up to n records in one status, newest first.
	OperationsByStatus(status types.OperationStatus, n int) ([]*types.Operation, error)

	// CleanupStuck is the crash-recovery sweep: every record whose
	// status is started/running and whose StartedAt is older than
	// maxAge is forced to failed with a synthetic error. Returns the
	// number of records touched.
	CleanupStuck(maxAge time.Duration) (int, error)

	// PutHealthStatus records one probe cycle's observation and
	// updates the latest-status pointer for the target.
	PutHealthStatus(status *types.HealthStatus) error

	// LatestHealthStatus returns the most recent observation for a target.
	LatestHealthStatus(target string) (*types.HealthStatus, error)

	// HealthHistory returns up to n observations for a target, newest first.
	HealthHistory(target string, n int) ([]*types.HealthStatus, error)

	Close() error
}
