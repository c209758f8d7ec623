package tcb

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitmapEmptyReturnsSentinel(t *testing.T) {
	b := NewBitmap()
	assert.Equal(t, PriorityLevels, b.FFS())
	assert.True(t, b.IsEmpty())
}

func TestBitmapSetClearTest(t *testing.T) {
	b := NewBitmap()
	b.Set(200)
	b.Set(10)
	b.Set(128)

	assert.True(t, b.Test(200))
	assert.True(t, b.Test(10))
	assert.False(t, b.Test(11))

	assert.Equal(t, 10, b.FFS(), "lowest numerical priority wins")

	b.Clear(10)
	assert.Equal(t, 128, b.FFS())

	b.Clear(128)
	assert.Equal(t, 200, b.FFS())

	b.Clear(200)
	assert.True(t, b.IsEmpty())
}

func TestBitmapCacheSurvivesNonHighestClear(t *testing.T) {
	b := NewBitmap()
	b.Set(5)
	b.Set(50)
	assert.Equal(t, 5, b.FFS())

	// Clearing a level that isn't the cached highest must not perturb FFS.
	b.Clear(50)
	assert.Equal(t, 5, b.FFS())
}

func TestBitmapReset(t *testing.T) {
	b := NewBitmap()
	b.Set(1)
	b.Set(2)
	b.Reset()
	assert.True(t, b.IsEmpty())
}
