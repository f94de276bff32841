package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestValidate(t *testing.T) {
	base := CompressionRequest{Input: "in.mp4", Output: "out.mp4", Codec: CodecH264}

	t.Run("neither mode", func(t *testing.T) {
		r := base
		assert.ErrorIs(t, r.Validate(), ErrNoCompressionSettings)
	})

	t.Run("both modes", func(t *testing.T) {
		r := base
		r.Preset = PresetMedium
		r.TargetSizeMB = 10
		assert.ErrorIs(t, r.Validate(), ErrNoCompressionSettings)
	})

	t.Run("preset only", func(t *testing.T) {
		r := base
		r.Preset = PresetHigh
		assert.NoError(t, r.Validate())
	})

	t.Run("target size only", func(t *testing.T) {
		r := base
		r.TargetSizeMB = 25
		assert.NoError(t, r.Validate())
	})

	t.Run("bad codec", func(t *testing.T) {
		r := base
		r.TargetSizeMB = 25
		r.Codec = "av1"
		assert.ErrorIs(t, r.Validate(), ErrNoCompressionSettings)
	})

	t.Run("missing paths", func(t *testing.T) {
		r := CompressionRequest{TargetSizeMB: 10, Codec: CodecH264}
		assert.ErrorIs(t, r.Validate(), ErrNoCompressionSettings)
	})
}

func TestUnachievableTargetMessage(t *testing.T) {
	err := UnachievableTarget(1.0, 12)
	assert.ErrorIs(t, err, ErrTargetSizeUnachievable)
	assert.Contains(t, err.Error(), "try at least 12 MB")
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateCompleted.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.True(t, StateCancelled.Terminal())
	assert.False(t, StateRunning.Terminal())
	assert.False(t, StateConfiguring.Terminal())
}
