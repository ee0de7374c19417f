package usecase

import "time"

// PipelineObserver receives page pipeline events. Implementations must be safe for concurrent use.
type PipelineObserver interface {
	PageRendered()
	PageProcessed(outcome string, elapsed time.Duration)
	SweepStarted()
	SweepSuperseded()
	SweepPaused(paused bool)
	LockContended()
	MaskCacheLookup(hit bool)
}

type nopObserver struct{}

func (nopObserver) PageRendered() {}
func (nopObserver) PageProcessed(string, time.Duration) {}
func (nopObserver) SweepStarted() {}
func (nopObserver) SweepSuperseded() {}
func (nopObserver) SweepPaused(bool) {}
func (nopObserver) LockContended() {}
func (nopObserver) MaskCacheLookup(bool) {}

func observerOrNop(o PipelineObserver) PipelineObserver {
	if o == nil {
		return nopObserver{}
	}
	return o
}
