package admission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDiscoverFilePermitCapacityIsPositive(t *testing.T) {
	capacity := DiscoverFilePermitCapacity()
	assert.Greater(t, capacity, 0)
}

func TestDefaultReaderThreadsIsPositive(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultReaderThreads(), 1)
}
