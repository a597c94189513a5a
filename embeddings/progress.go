package embeddings

import "math"

// ProgressFunc receives probing progress in [0, 1].
type ProgressFunc func(progress float64)

// Progress milestones of a probing run. Extraction fills [ExtractionStart, ExtractionEnd], training fills
// [TrainingStart, 1].
const (
	ExtractionStart = 0.02
	ExtractionEnd   = 0.5
	TrainingStart   = 0.51
	TrainingSpan    = 0.49

	// extractionSpan keeps every intermediate extraction value at or below ExtractionEnd.
	extractionSpan = ExtractionEnd - ExtractionStart

	// MaxCallbacks bounds the callbacks of one extraction pass. Subscribers may do expensive work per call
	// (e.g. persist progress), so the accuracy of the reported progress is traded for fewer calls.
	MaxCallbacks = 30
)

// Throttle reports the progress of a pass over total items through at most MaxCallbacks calls, plus one
// final call from Done.
type Throttle struct {
	total  int
	every  int
	report ProgressFunc
}

func NewThrottle(total int, report ProgressFunc) *Throttle {
	every := 1
	if total > MaxCallbacks {
		every = int(math.Ceil(float64(total) / MaxCallbacks))
	}
	return &Throttle{total: total, every: every, report: report}
}

// Step is called for every item idx in [0, total).
func (t *Throttle) Step(idx int) {
	if t.report == nil || idx%t.every != 0 {
		return
	}
	t.report(min(ExtractionEnd, ExtractionStart+extractionSpan/float64(max(1, t.total))*float64(idx)))
}

// Done reports the end of the extraction pass.
func (t *Throttle) Done() {
	if t.report != nil {
		t.report(ExtractionEnd)
	}
}

// TrainingProgress maps trainer progress in [0, 1] onto the second half of the probing progress.
func TrainingProgress(progress float64) float64 {
	return TrainingStart + TrainingSpan*progress
}
