package pressure

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFor(t *testing.T) {
	th := DefaultThresholds

	assert.Equal(t, LevelLow, levelFor(10, th))
	assert.Equal(t, LevelLow, levelFor(59.9, th))
	assert.Equal(t, LevelModerate, levelFor(60, th))
	assert.Equal(t, LevelHigh, levelFor(80, th))
	assert.Equal(t, LevelCritical, levelFor(95, th))
}

func TestAdjustScalesByLevel(t *testing.T) {
	preferred := Quality{Width: 1920, Height: 1080}
	// Plenty of memory: only the level matters.
	const plenty = 64 << 30

	tests := []struct {
		level Level
		want  Quality
	}{
		{LevelLow, Quality{1920, 1080}},
		{LevelModerate, Quality{1632, 918}},
		{LevelHigh, Quality{1344, 756}},
		{LevelCritical, Quality{960, 540}},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, Adjust(preferred, tt.level, 1<<20, plenty))
		})
	}
}

func TestAdjustEvenDimensions(t *testing.T) {
	got := Adjust(Quality{Width: 1280, Height: 718}, LevelHigh, 1<<20, 64<<30)
	assert.Zero(t, got.Width%2)
	assert.Zero(t, got.Height%2)
}

func TestAdjustBumpsLevelWhenMemoryTight(t *testing.T) {
	preferred := Quality{Width: 1920, Height: 1080}

	// A 4 GiB source against 1 GiB available: the write working set does
	// not fit, so moderate behaves like high.
	tight := Adjust(preferred, LevelModerate, 4<<30, 1<<30)
	assert.Equal(t, Adjust(preferred, LevelHigh, 1<<20, 64<<30), tight)

	// Critical has no step above it.
	crit := Adjust(preferred, LevelCritical, 4<<30, 1<<30)
	assert.Equal(t, Quality{960, 540}, crit)
}

func TestAdjustRespectsFloor(t *testing.T) {
	// Scaling a tiny source below the usable floor keeps the preferred
	// size instead.
	preferred := Quality{Width: 320, Height: 240}
	got := Adjust(preferred, LevelCritical, 1<<20, 64<<30)
	assert.Equal(t, preferred, got)
}

func TestAdjustIsPure(t *testing.T) {
	preferred := Quality{Width: 1920, Height: 1080}
	a := Adjust(preferred, LevelHigh, 123, 456)
	b := Adjust(preferred, LevelHigh, 123, 456)
	assert.Equal(t, a, b)
}
