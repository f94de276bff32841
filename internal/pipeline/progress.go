package pipeline

import (
	"sync"
	"time"
)

// CopyCeiling caps in-flight progress; the last 5% is reserved for
// container finalization and only reached on successful completion. The
// preset export path applies the same reserve so both paths report
// consistent progress.
const CopyCeiling = 0.95

// Reporter converts video presentation timestamps into a monotonically
// non-decreasing fraction. One Reporter per session; concurrent sessions
// never share one. Audio timestamps are deliberately not fed in: video
// dominates the duration and its reader emits in order, so taking progress
// from video alone keeps the value monotonic without cross-loop ordering.
type Reporter struct {
	mu   sync.Mutex
	frac float64
}

func NewReporter() *Reporter {
	return &Reporter{}
}

// Observe folds a presentation timestamp into the progress fraction and
// returns the current value, clamped to [0, CopyCeiling] and never
// regressing even if timestamps arrive out of order.
func (r *Reporter) Observe(pts, total time.Duration) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if total <= 0 {
		return r.frac
	}
	f := float64(pts) / float64(total)
	if f > CopyCeiling {
		f = CopyCeiling
	}
	if f > r.frac {
		r.frac = f
	}
	return r.frac
}

// Finish reports completion. Only called after finalization succeeds.
func (r *Reporter) Finish() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frac = 1.0
	return r.frac
}

// Fraction returns the current progress value.
func (r *Reporter) Fraction() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frac
}
