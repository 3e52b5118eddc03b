package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOpLocks(t *testing.T) {
	locks := NewOpLocks()

	assert.True(t, locks.TryAcquire("conv-1", OpExtraction))
	assert.False(t, locks.TryAcquire("conv-1", OpExtraction), "second acquire of the same op fails")
	assert.True(t, locks.Held("conv-1", OpExtraction))

	// Different op and different conversation are independent.
	assert.True(t, locks.TryAcquire("conv-1", OpSummary))
	assert.True(t, locks.TryAcquire("conv-2", OpExtraction))

	locks.Release("conv-1", OpExtraction)
	assert.False(t, locks.Held("conv-1", OpExtraction))
	assert.True(t, locks.TryAcquire("conv-1", OpExtraction))
}

func TestOpLocksReleaseUnheldIsNoop(t *testing.T) {
	locks := NewOpLocks()
	locks.Release("conv-1", OpCompression)
	assert.True(t, locks.TryAcquire("conv-1", OpCompression))
}
