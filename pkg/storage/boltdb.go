package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/fleetops/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketOperations   = []byte("operations")
	bucketOpByTarget   = []byte("op_by_target")
	bucketOpByStatus   = []byte("op_by_status")
	bucketOpByTime     = []byte("op_by_time")
	bucketOpIndexPtr   = []byte("op_index_ptr")
	bucketHealthLatest = []byte("health_latest")
	bucketHealthHist   = []byte("health_history")
)

// BoltStore implements Store using go.etcd.io/bbolt, one bucket per
// entity plus small secondary-index buckets that realise the
// (target, started_at DESC) / (status, started_at DESC) / (target,
// timestamp DESC) access patterns spec §6 calls out, without pulling
// in a SQL engine (see DESIGN.md).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the bbolt database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fleetops.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{
			bucketOperations, bucketOpByTarget, bucketOpByStatus, bucketOpByTime,
			bucketOpIndexPtr, bucketHealthLatest, bucketHealthHist,
		} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("storage: create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// hexTime encodes a time as a fixed-width, lexicographically-ordered
// hex string so bbolt's byte-ordered keys sort chronologically.
func hexTime(t time.Time) string {
	return fmt.Sprintf("%016x", uint64(t.UnixNano()))
}

func targetIndexKey(target string, startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%s", target, hexTime(startedAt), id))
}

func statusIndexKey(status types.OperationStatus, startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s\x00%s\x00%s", status, hexTime(startedAt), id))
}

func timeIndexKey(startedAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("%s\x00%s", hexTime(startedAt), id))
}

// PutOperation upserts the record and (re)builds its secondary index
// entries, removing any stale entries left by a previous status.
func (s *BoltStore) PutOperation(op *types.Operation) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putOperationTx(tx, op)
	})
}

func putOperationTx(tx *bolt.Tx, op *types.Operation) error {
	ops := tx.Bucket(bucketOperations)
	byTarget := tx.Bucket(bucketOpByTarget)
	byStatus := tx.Bucket(bucketOpByStatus)
	byTime := tx.Bucket(bucketOpByTime)
	ptrs := tx.Bucket(bucketOpIndexPtr)

	// Remove stale index entries from a prior version of this record.
	if prev := ptrs.Get([]byte(op.ID)); prev != nil {
		parts := bytes.SplitN(prev, []byte{0}, 2)
		if len(parts) == 2 {
			byTarget.Delete(parts[0])
			byStatus.Delete(parts[1])
		}
	}

	data, err := json.Marshal(op)
	if err != nil {
		return err
	}
	if err := ops.Put([]byte(op.ID), data); err != nil {
		return err
	}

	targetKey := targetIndexKey(op.Target, op.StartedAt, op.ID)
	statusKey := statusIndexKey(op.Status, op.StartedAt, op.ID)
	if err := byTarget.Put(targetKey, []byte(op.ID)); err != nil {
		return err
	}
	if err := byStatus.Put(statusKey, []byte(op.ID)); err != nil {
		return err
	}
	if err := byTime.Put(timeIndexKey(op.StartedAt, op.ID), []byte(op.ID)); err != nil {
		return err
	}
	ptrVal := append(append([]byte{}, targetKey...), 0)
	ptrVal = append(ptrVal, statusKey...)
	return ptrs.Put([]byte(op.ID), ptrVal)
}

// UpdateOperationStatus fetches, mutates and re-persists the record
// through PutOperation so its indices stay consistent.
func (s *BoltStore) UpdateOperationStatus(id string, status types.OperationStatus, completedAt *time.Time, errMsg string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket(bucketOperations)
		data := ops.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("storage: operation %s not found", id)
		}
		var op types.Operation
		if err := json.Unmarshal(data, &op); err != nil {
			return err
		}
		op.Status = status
		op.CompletedAt = completedAt
		op.Error = errMsg
		return putOperationTx(tx, &op)
	})
}

// GetOperation fetches a single record by id.
func (s *BoltStore) GetOperation(id string) (*types.Operation, error) {
	var op types.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketOperations).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("storage: operation %s not found", id)
		}
		return json.Unmarshal(data, &op)
	})
	if err != nil {
		return nil, err
	}
	return &op, nil
}

// scanRecentByPrefix walks a secondary-index bucket backwards from the
// last key sharing prefix, returning up to n values (newest first).
func scanRecentByPrefix(b *bolt.Bucket, prefix []byte, n int) [][]byte {
	c := b.Cursor()
	seek := append(append([]byte{}, prefix...), 0xFF)
	k, v := c.Seek(seek)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	var out [][]byte
	for k != nil && bytes.HasPrefix(k, prefix) && len(out) < n {
		val := make([]byte, len(v))
		copy(val, v)
		out = append(out, val)
		k, v = c.Prev()
	}
	return out
}

func (s *BoltStore) resolveOperations(ids [][]byte) ([]*types.Operation, error) {
	var results []*types.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		ops := tx.Bucket(bucketOperations)
		for _, id := range ids {
			data := ops.Get(id)
			if data == nil {
				continue
			}
			var op types.Operation
			if err := json.Unmarshal(data, &op); err != nil {
				return err
			}
			results = append(results, &op)
		}
		return nil
	})
	return results, err
}

// RecentOperations returns up to n records, newest first.
func (s *BoltStore) RecentOperations(n int) ([]*types.Operation, error) {
	var ids [][]byte
	err := s.db.View(func(tx *bolt.Tx) error {
		ids = scanRecentByPrefix(tx.Bucket(bucketOpByTime), nil, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.resolveOperations(ids)
}

// OperationsByTarget returns up to n records for one target, newest first.
func (s *BoltStore) OperationsByTarget(target string, n int) ([]*types.Operation, error) {
	var ids [][]byte
	prefix := []byte(target + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		ids = scanRecentByPrefix(tx.Bucket(bucketOpByTarget), prefix, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.resolveOperations(ids)
}

// OperationsByStatus returns up to n records in one status, newest first.
func (s *BoltStore) OperationsByStatus(status types.OperationStatus, n int) ([]*types.Operation, error) {
	var ids [][]byte
	prefix := []byte(string(status) + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		ids = scanRecentByPrefix(tx.Bucket(bucketOpByStatus), prefix, n)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.resolveOperations(ids)
}

// CleanupStuck implements the crash-recovery contract of spec §4.2:
// any record claiming to be started/running past maxAge did not
// survive the process that was running it.
func (s *BoltStore) CleanupStuck(maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	count := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		ops := tx.Bucket(bucketOperations)
		var stuck []types.Operation
		c := ops.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var op types.Operation
			if err := json.Unmarshal(v, &op); err != nil {
				continue
			}
			if (op.Status == types.StatusStarted || op.Status == types.StatusRunning) && op.StartedAt.Before(cutoff) {
				stuck = append(stuck, op)
			}
		}
		now := time.Now()
		for _, op := range stuck {
			op.Status = types.StatusFailed
			op.CompletedAt = &now
			op.Error = "marked failed during startup cleanup"
			if err := putOperationTx(tx, &op); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// PutHealthStatus records one probe observation and updates the
// latest-status pointer for the target.
func (s *BoltStore) PutHealthStatus(status *types.HealthStatus) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(status)
		if err != nil {
			return err
		}
		if err := tx.Bucket(bucketHealthLatest).Put([]byte(status.Target), data); err != nil {
			return err
		}
		key := []byte(status.Target + "\x00" + hexTime(status.LastCheck))
		return tx.Bucket(bucketHealthHist).Put(key, data)
	})
}

// LatestHealthStatus returns the most recent observation for a target.
func (s *BoltStore) LatestHealthStatus(target string) (*types.HealthStatus, error) {
	var hs types.HealthStatus
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketHealthLatest).Get([]byte(target))
		if data == nil {
			return fmt.Errorf("storage: no health status for %s", target)
		}
		return json.Unmarshal(data, &hs)
	})
	if err != nil {
		return nil, err
	}
	return &hs, nil
}

// HealthHistory returns up to n observations for a target, newest first.
func (s *BoltStore) HealthHistory(target string, n int) ([]*types.HealthStatus, error) {
	var results []*types.HealthStatus
	prefix := []byte(target + "\x00")
	err := s.db.View(func(tx *bolt.Tx) error {
		values := scanRecentByPrefix(tx.Bucket(bucketHealthHist), prefix, n)
		for _, v := range values {
			var hs types.HealthStatus
			if err := json.Unmarshal(v, &hs); err != nil {
				return err
			}
			results = append(results, &hs)
		}
		return nil
	})
	return results, err
}
