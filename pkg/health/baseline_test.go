package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestBlockProgressionScenarioS3 replays spec §8 scenario S3 literally.
func TestBlockProgressionScenarioS3(t *testing.T) {
	b := NewBaselineTracker()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.True(t, b.Observe("nodeA", 1000, t0)) // probe 1: init

	t1 := t0.Add(4 * time.Minute)
	require.True(t, b.Observe("nodeA", 1000, t1)) // probe 2: grace

	t2 := t1.Add(6 * time.Minute)
	require.False(t, b.Observe("nodeA", 1000, t2)) // probe 3: baseline set

	t3 := t2.Add(time.Minute)
	require.False(t, b.Observe("nodeA", 1000, t3)) // probe 4: still unhealthy

	t4 := t3.Add(time.Minute)
	require.True(t, b.Observe("nodeA", 1001, t4)) // probe 5: recovered
}

func TestBlockProgressionRecoveryRequiresStrictlyExceedingBaseline(t *testing.T) {
	b := NewBaselineTracker()
	t0 := time.Now()
	b.Observe("nodeA", 100, t0)
	b.Observe("nodeA", 100, t0.Add(6*time.Minute))
	snap := b.Snapshot("nodeA")
	require.NotNil(t, snap.UnhealthyBaseline)
	require.Equal(t, int64(100), *snap.UnhealthyBaseline)

	require.False(t, b.Observe("nodeA", 100, t0.Add(7*time.Minute)))
	require.True(t, b.Observe("nodeA", 101, t0.Add(8*time.Minute)))
	require.Nil(t, b.Snapshot("nodeA").UnhealthyBaseline)
}

func TestBlockProgressionGraceDoesNotResetLastUpdated(t *testing.T) {
	b := NewBaselineTracker()
	t0 := time.Now()
	b.Observe("nodeA", 100, t0)

	b.Observe("nodeA", 100, t0.Add(2*time.Minute))
	snap := b.Snapshot("nodeA")
	require.Equal(t, t0, snap.LastUpdated)
	require.Equal(t, int64(100), snap.LastHeight)
}

func TestBlockProgressionIndependentPerNode(t *testing.T) {
	b := NewBaselineTracker()
	t0 := time.Now()
	require.True(t, b.Observe("nodeA", 100, t0))
	require.True(t, b.Observe("nodeB", 50, t0)) // first observation for nodeB: always healthy

	require.False(t, b.Observe("nodeB", 50, t0.Add(6*time.Minute))) // nodeB stalls, baseline set

	snapA := b.Snapshot("nodeA")
	require.Nil(t, snapA.UnhealthyBaseline)
	snapB := b.Snapshot("nodeB")
	require.NotNil(t, snapB.UnhealthyBaseline)
}
