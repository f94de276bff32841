// Package budget derives an encoding bitrate budget from a target file size.
package budget

import (
	"math"

	"vidcompact/pkg/models"
)

const (
	// DefaultSafetyMargin leaves headroom for container overhead and VBR
	// encoder drift; nominal bitrate x duration always undershoots reality.
	DefaultSafetyMargin = 0.9

	// MinVideoBps is the floor below which output is unusable.
	MinVideoBps = 100_000

	// AudioBps is the fixed AAC budget when audio is kept.
	AudioBps = 128_000
)

// Budget is the computed per-track bitrate allocation.
type Budget struct {
	VideoBitrateBps int
	AudioBitrateBps int
}

// Calculator computes bitrate budgets. The zero value is not usable; use New.
type Calculator struct {
	margin      float64
	minVideoBps int
	audioBps    int
}

// New returns a Calculator. Passing 0 for margin, minVideoBps or audioBps
// selects the default.
func New(margin float64, minVideoBps, audioBps int) *Calculator {
	if margin <= 0 || margin > 1 {
		margin = DefaultSafetyMargin
	}
	if minVideoBps <= 0 {
		minVideoBps = MinVideoBps
	}
	if audioBps <= 0 {
		audioBps = AudioBps
	}
	return &Calculator{margin: margin, minVideoBps: minVideoBps, audioBps: audioBps}
}

// Compute maps (duration, target size, audio policy) to a bitrate budget.
// It fails with ErrTargetSizeUnachievable before any pipeline is built, so
// an infeasible target costs nothing.
func (c *Calculator) Compute(durationSec, targetMB float64, keepAudio bool) (Budget, error) {
	if durationSec <= 0 {
		return Budget{}, models.UnachievableTarget(targetMB, 1)
	}

	audioBps := 0
	if keepAudio {
		audioBps = c.audioBps
	}

	availableBits := targetMB*1_000_000*8 - durationSec*float64(audioBps)
	videoBps := int(math.Floor(availableBits / durationSec * c.margin))

	if videoBps < c.minVideoBps {
		return Budget{}, models.UnachievableTarget(targetMB, c.suggestMB(durationSec, keepAudio))
	}

	return Budget{VideoBitrateBps: videoBps, AudioBitrateBps: audioBps}, nil
}

// suggestMB is the smallest whole-MB target that clears the video floor,
// used to give the user something actionable instead of raw arithmetic.
func (c *Calculator) suggestMB(durationSec float64, keepAudio bool) float64 {
	audioBps := 0.0
	if keepAudio {
		audioBps = float64(c.audioBps)
	}
	bits := durationSec * (float64(c.minVideoBps)/c.margin + audioBps)
	return math.Ceil(bits / 8 / 1_000_000)
}
