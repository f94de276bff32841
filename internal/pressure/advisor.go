// Package pressure scales requested quality down under memory pressure,
// before a session is configured. It is a one-shot input to the pipeline,
// never a live adjustment.
package pressure

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/shirou/gopsutil/v3/mem"
)

// Level is the memory pressure signal.
type Level int

const (
	LevelLow Level = iota
	LevelModerate
	LevelHigh
	LevelCritical
)

func (l Level) String() string {
	switch l {
	case LevelLow:
		return "low"
	case LevelModerate:
		return "moderate"
	case LevelHigh:
		return "high"
	default:
		return "critical"
	}
}

// Empirical per-operation memory multipliers: decoding roughly doubles the
// working set of a source, encode/merge paths hold decoded frames plus
// encoder state.
const (
	ReadMultiplier  = 2.0
	WriteMultiplier = 3.5
)

// Thresholds are the used-memory percentages that map to each level.
type Thresholds struct {
	ModeratePct float64
	HighPct     float64
	CriticalPct float64
}

var DefaultThresholds = Thresholds{ModeratePct: 60, HighPct: 75, CriticalPct: 90}

// Quality is the resolution knob the advisor may scale down.
type Quality struct {
	Width  int
	Height int
}

// Advisor samples system memory and applies the level-dependent scaling.
type Advisor struct {
	th  Thresholds
	log hclog.Logger
}

func NewAdvisor(th Thresholds, log hclog.Logger) *Advisor {
	if th.CriticalPct <= 0 {
		th = DefaultThresholds
	}
	return &Advisor{th: th, log: log.Named("pressure")}
}

// Sample reads current memory state and returns the pressure level plus the
// bytes still available to us.
func (a *Advisor) Sample(ctx context.Context) (Level, uint64, error) {
	v, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return LevelLow, 0, err
	}
	lvl := levelFor(v.UsedPercent, a.th)
	a.log.Debug("memory sampled", "used_pct", v.UsedPercent, "level", lvl.String())
	return lvl, v.Available, nil
}

// Advise returns the resolution the session should actually encode at. It
// bumps the sampled level one step when the estimated working set for a
// write-heavy operation does not fit in available memory.
func (a *Advisor) Advise(ctx context.Context, preferred Quality, sourceBytes int64) Quality {
	lvl, available, err := a.Sample(ctx)
	if err != nil {
		// No telemetry: run at the preferred quality rather than guessing.
		return preferred
	}
	adjusted := Adjust(preferred, lvl, sourceBytes, available)
	if adjusted != preferred {
		a.log.Info("scaled quality under memory pressure",
			"level", lvl.String(),
			"preferred", preferred, "adjusted", adjusted)
	}
	return adjusted
}

func levelFor(usedPct float64, th Thresholds) Level {
	switch {
	case usedPct >= th.CriticalPct:
		return LevelCritical
	case usedPct >= th.HighPct:
		return LevelHigh
	case usedPct >= th.ModeratePct:
		return LevelModerate
	default:
		return LevelLow
	}
}

// scaleFor: critical output is at most half the preferred dimensions.
func scaleFor(l Level) float64 {
	switch l {
	case LevelLow:
		return 1.0
	case LevelModerate:
		return 0.85
	case LevelHigh:
		return 0.7
	default:
		return 0.5
	}
}

// minShortSide is the floor below which output is not usable.
const minShortSide = 144

// Adjust is the pure scaling function: (preferred, level, source size,
// available memory) in, adjusted resolution out. No hidden state.
func Adjust(preferred Quality, level Level, sourceBytes int64, availableBytes uint64) Quality {
	required := uint64(float64(sourceBytes) * WriteMultiplier)
	if availableBytes > 0 && required > availableBytes && level < LevelCritical {
		level++
	}

	scale := scaleFor(level)
	if scale >= 1.0 {
		return preferred
	}

	q := Quality{
		Width:  evenDim(int(float64(preferred.Width) * scale)),
		Height: evenDim(int(float64(preferred.Height) * scale)),
	}

	// Floor at a minimum usable size rather than scaling into postage
	// stamps. If the preferred size is already below the floor, keep it.
	short := q.Width
	if q.Height < short {
		short = q.Height
	}
	if short < minShortSide {
		return preferred
	}
	return q
}

// evenDim rounds down to an even value; encoders reject odd dimensions.
func evenDim(v int) int {
	if v%2 != 0 {
		v--
	}
	return v
}
