package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultBatchSize    = 4
	DefaultPageDelay    = 100 * time.Millisecond
	DefaultPollInterval = 500 * time.Millisecond
)

type SchedulerOptions struct {
	BatchSize    int
	PageDelay    time.Duration
	PollInterval time.Duration
	// OnFirstProcessed runs once per sweep after its first newly processed page, with the
	// page the user is viewing at that moment.
	OnFirstProcessed func(ctx context.Context, viewedPage int)
	Logger           *slog.Logger
	Observer         PipelineObserver
}

// SchedulerCursor is a point-in-time view of the scheduler.
type SchedulerCursor struct {
	ViewedPage    int    `json:"viewed_page"`
	ProcessedUpTo int    `json:"processed_up_to"`
	Generation    uint64 `json:"generation"`
	ActiveSweeps  int    `json:"active_sweeps"`
	Paused        bool   `json:"paused"`
}

// BatchScheduler walks a document in batches of pages, pausing whenever it runs too far
// ahead of the page the user is viewing. Starting a sweep supersedes the previous one:
// each sweep carries a generation id and stops at the next page boundary once it is no
// longer the current generation.
type BatchScheduler struct {
	processor  PageProcessor
	totalPages int
	opts       SchedulerOptions
	logger     *slog.Logger
	observer   PipelineObserver

	generation    atomic.Uint64
	viewed        atomic.Int64
	processedUpTo atomic.Int64
	active        atomic.Int32
	// pausedGen is the generation of the sweep waiting for the viewer, 0 when none is.
	pausedGen     atomic.Uint64
	wg            sync.WaitGroup
}

func NewBatchScheduler(processor PageProcessor, totalPages int, opts SchedulerOptions) *BatchScheduler {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PageDelay < 0 {
		opts.PageDelay = 0
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &BatchScheduler{
		processor:  processor,
		totalPages: totalPages,
		opts:       opts,
		logger:     logger,
		observer:   observerOrNop(opts.Observer),
	}
	s.viewed.Store(1)
	return s
}

// SetViewedPage records the page the user is looking at; paused sweeps resume from it.
func (s *BatchScheduler) SetViewedPage(page int) {
	s.viewed.Store(int64(clampPage(page, s.totalPages)))
}

func (s *BatchScheduler) ViewedPage() int {
	return int(s.viewed.Load())
}

// Start supersedes any running sweep and begins a new one at page from.
// The sweep runs until the last page, supersession or ctx cancellation.
func (s *BatchScheduler) Start(ctx context.Context, from int) uint64 {
	from = clampPage(from, s.totalPages)
	gen := s.generation.Add(1)
	s.wg.Add(1)
	s.active.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.active.Add(-1)
		s.sweep(ctx, gen, from)
	}()
	return gen
}

// Jump moves the viewed page and restarts the sweep there.
func (s *BatchScheduler) Jump(ctx context.Context, page int) uint64 {
	s.SetViewedPage(page)
	return s.Start(ctx, page)
}

// Stop supersedes the running sweep without starting a new one.
func (s *BatchScheduler) Stop() {
	s.generation.Add(1)
}

// Wait blocks until every sweep goroutine has returned.
func (s *BatchScheduler) Wait() {
	s.wg.Wait()
}

func (s *BatchScheduler) Cursor() SchedulerCursor {
	return SchedulerCursor{
		ViewedPage:    int(s.viewed.Load()),
		ProcessedUpTo: int(s.processedUpTo.Load()),
		Generation:    s.generation.Load(),
		ActiveSweeps:  int(s.active.Load()),
		Paused:        s.pausedGen.Load() != 0,
	}
}

func (s *BatchScheduler) sweep(ctx context.Context, gen uint64, from int) {
	s.observer.SweepStarted()
	s.logger.Info("sweep_started", "generation", gen, "from", from, "total_pages", s.totalPages, "batch_size", s.opts.BatchSize)

	refreshed := false
	for batchStart := from; batchStart <= s.totalPages; batchStart += s.opts.BatchSize {
		batchEnd := min(batchStart+s.opts.BatchSize-1, s.totalPages)
		for page := batchStart; page <= batchEnd; page++ {
			if !s.isCurrent(ctx, gen) {
				s.superseded(ctx, gen, page)
				return
			}

			outcome, err := s.processor.Process(ctx, page)
			if err != nil {
				s.logger.Warn("sweep_page_failed", "generation", gen, "page", page, "error", err)
				continue
			}
			if outcome != PageProcessed {
				continue
			}
			s.processedUpTo.Store(int64(page))
			if !refreshed {
				refreshed = true
				if s.opts.OnFirstProcessed != nil {
					s.opts.OnFirstProcessed(ctx, s.ViewedPage())
				}
			}
			if !s.pace(ctx) {
				s.superseded(ctx, gen, page+1)
				return
			}
		}

		if batchEnd >= s.totalPages {
			break
		}
		// Pause threshold is the middle of the batch just completed.
		threshold := batchStart + s.opts.BatchSize/2
		if !s.awaitViewer(ctx, gen, threshold) {
			s.superseded(ctx, gen, batchEnd+1)
			return
		}
	}
	s.logger.Info("sweep_finished", "generation", gen, "from", from)
}

func (s *BatchScheduler) isCurrent(ctx context.Context, gen uint64) bool {
	return ctx.Err() == nil && s.generation.Load() == gen
}

func (s *BatchScheduler) superseded(ctx context.Context, gen uint64, nextPage int) {
	if ctx.Err() != nil {
		s.logger.Info("sweep_cancelled", "generation", gen, "next_page", nextPage)
		return
	}
	s.observer.SweepSuperseded()
	s.logger.Info("sweep_superseded", "generation", gen, "next_page", nextPage, "current_generation", s.generation.Load())
}

func (s *BatchScheduler) pace(ctx context.Context) bool {
	if s.opts.PageDelay == 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(s.opts.PageDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// awaitViewer polls until the viewed page reaches threshold. It reports false when the
// sweep was superseded or cancelled while waiting.
func (s *BatchScheduler) awaitViewer(ctx context.Context, gen uint64, threshold int) bool {
	if s.ViewedPage() >= threshold {
		return s.isCurrent(ctx, gen)
	}

	s.pausedGen.Store(gen)
	s.observer.SweepPaused(true)
	defer func() {
		s.pausedGen.CompareAndSwap(gen, 0)
		s.observer.SweepPaused(false)
	}()
	s.logger.Info("sweep_paused", "generation", gen, "threshold", threshold, "viewed_page", s.ViewedPage())

	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
		if s.generation.Load() != gen {
			return false
		}
		if s.ViewedPage() >= threshold {
			s.logger.Info("sweep_resumed", "generation", gen, "viewed_page", s.ViewedPage())
			return true
		}
	}
}

func clampPage(page, total int) int {
	if page < 1 {
		return 1
	}
	if total > 0 && page > total {
		return total
	}
	return page
}
