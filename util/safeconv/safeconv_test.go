package safeconv

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntSliceToUint32Slice(t *testing.T) {
	out := IntSliceToUint32Slice([]int{-1, 0, 581, math.MaxUint32 + 1})
	assert.Equal(t, []uint32{0, 0, 581, math.MaxUint32}, out)
}

func TestIntOffsetsToUintPairs(t *testing.T) {
	out := IntOffsetsToUintPairs([][]int{{0, 4}, {-1, 2}, {7}, {}})
	assert.Equal(t, [][2]uint{{0, 4}, {0, 2}, {7, 0}, {0, 0}}, out)
}

func TestInt64ToUint32(t *testing.T) {
	assert.Equal(t, uint32(0), Int64ToUint32(-5))
	assert.Equal(t, uint32(581), Int64ToUint32(581))
	assert.Equal(t, uint32(math.MaxUint32), Int64ToUint32(math.MaxInt64))
}

func TestDurationConversions(t *testing.T) {
	assert.Equal(t, uint64(0), DurationToU64(-time.Second))
	assert.Equal(t, uint64(time.Second), DurationToU64(time.Second))
	assert.Equal(t, time.Second, U64ToDuration(uint64(time.Second)))
	assert.Equal(t, time.Duration(math.MaxInt64), U64ToDuration(math.MaxUint64))
}
