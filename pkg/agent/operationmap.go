package agent

import (
	"fmt"
	"sync"
)

// OperationMap is the agent's local defensive lock: a simple
// target → op_type map that refuses to start a second operation
// while one is active on the same target, independent of the
// manager's own TargetLocks (spec §4.7 — "a local defensive layer").
type OperationMap struct {
	mu     sync.Mutex
	active map[string]string
}

// NewOperationMap constructs an empty OperationMap.
func NewOperationMap() *OperationMap {
	return &OperationMap{active: make(map[string]string)}
}

// TryStart records opType as active for target, or returns an error
// naming the operation already in progress.
func (m *OperationMap) TryStart(target, opType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, busy := m.active[target]; busy {
		return fmt.Errorf("agent: %s already has %s in progress", target, existing)
	}
	m.active[target] = opType
	return nil
}

// End clears target's active operation, if any.
func (m *OperationMap) End(target string) {
	m.mu.Lock()
	delete(m.active, target)
	m.mu.Unlock()
}
