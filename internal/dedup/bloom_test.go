package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBloomTestAndPut(t *testing.T) {
	f := NewBandedBloom(4, 1024, 3)
	sig := []uint32{10, 20, 30, 40}

	assert.False(t, f.Test(sig))
	assert.False(t, f.TestAndPut(sig))
	assert.True(t, f.Test(sig))
	assert.True(t, f.TestAndPut(sig))
}

func TestBloomSingleMatchingBandSuffices(t *testing.T) {
	f := NewBandedBloom(4, 1024, 3)
	f.Put([]uint32{10, 20, 30, 40})

	// Same value in band 0 only: still a match.
	assert.True(t, f.Test([]uint32{10, 99, 98, 97}))
	// Band values moved to different bands: bands are independent.
	assert.False(t, f.Test([]uint32{40, 30, 20, 10}))
}

func TestBloomMonotonicity(t *testing.T) {
	f := NewBandedBloom(2, 4096, 3)

	var previous uint
	for i, sig := range [][]uint32{{1, 2}, {3, 4}, {1, 2}, {5, 6}} {
		f.Put(sig)
		count := f.SetBits()
		require.GreaterOrEqual(t, count, previous, "bits regressed at insert %d", i)
		previous = count
	}
}

func TestBloomPositionsAreStable(t *testing.T) {
	f := NewBandedBloom(1, 4096, 5)
	a := f.positions(12345)
	b := f.positions(12345)
	assert.Equal(t, a, b)
	assert.Len(t, a, 5)
	for _, pos := range a {
		assert.Less(t, pos, uint(4096))
	}
}
