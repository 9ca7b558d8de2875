package runtime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceTracker_FirstSnapshotHasNoCPU(t *testing.T) {
	tracker := newResourceTracker()

	snap := tracker.Snapshot()

	assert.Zero(t, snap.CPUPercent)
	assert.NotZero(t, snap.MemoryBytes)
	assert.Positive(t, snap.Goroutines)
}

func TestResourceTracker_SecondSnapshotIsNonNegative(t *testing.T) {
	tracker := newResourceTracker()
	tracker.Snapshot()
	time.Sleep(10 * time.Millisecond)

	assert.GreaterOrEqual(t, tracker.Snapshot().CPUPercent, 0.0)
}

func TestResourceTracker_NilTracker(t *testing.T) {
	var tracker *resourceTracker
	assert.Equal(t, ResourceUsage{}, tracker.Snapshot())
}

func TestResourceTracker_ZeroValue(t *testing.T) {
	tracker := &resourceTracker{}
	assert.NotZero(t, tracker.Snapshot().MemoryBytes)
}
