package usecase

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync/atomic"
	"testing"
	"time"
)

type schedulerFixture struct {
	scheduler  *BatchScheduler
	everything *everythingFake
	results    *resultStoreFake
	refreshes  atomic.Int32
}

func newSchedulerFixture(t *testing.T, pages int, batch int) *schedulerFixture {
	t.Helper()
	f := &schedulerFixture{everything: newEverythingFake(), results: newResultStoreFake()}
	doc := testDocument(pages)
	pipeline := NewPagePipeline(doc, PagePipelineConfig{
		Images:    NewPageImageCache(&rasterFake{width: 4, height: 4}, newBlobFake(), nil, nil, nil),
		Segmenter: f.everything,
		Blobs:     newBlobFake(),
		Results:   f.results,
		Locks:     NewPageLockTable(),
	})
	f.scheduler = NewBatchScheduler(pipeline, pages, SchedulerOptions{
		BatchSize:    batch,
		PollInterval: time.Millisecond,
		OnFirstProcessed: func(context.Context, int) {
			f.refreshes.Add(1)
		},
	})
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func sortedPages(pages []int) []int {
	out := append([]int(nil), pages...)
	sort.Ints(out)
	return out
}

func TestSchedulerBackpressure(t *testing.T) {
	f := newSchedulerFixture(t, 10, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f.scheduler.Start(ctx, 1)
	waitFor(t, "first batch and pause", func() bool {
		return len(f.everything.processedOrder()) == 4 && f.scheduler.Cursor().Paused
	})
	if got := f.everything.processedOrder(); !reflect.DeepEqual(got, []int{1, 2, 3, 4}) {
		t.Fatalf("expected pages 1-4 in order, got %v", got)
	}

	f.scheduler.SetViewedPage(2)
	time.Sleep(30 * time.Millisecond)
	if n := len(f.everything.processedOrder()); n != 4 {
		t.Fatalf("sweep must stay paused below the threshold, processed %d pages", n)
	}

	f.scheduler.SetViewedPage(3)
	waitFor(t, "second batch", func() bool {
		return len(f.everything.processedOrder()) == 8 && f.scheduler.Cursor().Paused
	})

	f.scheduler.SetViewedPage(7)
	f.scheduler.Wait()
	if got := f.everything.processedOrder(); !reflect.DeepEqual(got, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}) {
		t.Fatalf("unexpected processing order %v", got)
	}
	if f.refreshes.Load() != 1 {
		t.Fatalf("expected one viewed-page refresh per sweep, got %d", f.refreshes.Load())
	}
}

func TestSchedulerSkipsPagesWithResults(t *testing.T) {
	f := newSchedulerFixture(t, 4, 4)
	ctx := context.Background()
	f.scheduler.Start(ctx, 1)
	f.scheduler.Wait()

	f.scheduler.Start(ctx, 1)
	f.scheduler.Wait()
	for page := 1; page <= 4; page++ {
		if n := f.everything.callCount(page); n != 1 {
			t.Fatalf("page %d computed %d times", page, n)
		}
	}
	if f.refreshes.Load() != 1 {
		t.Fatalf("a sweep with nothing new to process must not refresh, got %d refreshes", f.refreshes.Load())
	}
}

func TestSchedulerContinuesAfterPageFailure(t *testing.T) {
	f := newSchedulerFixture(t, 4, 4)
	f.everything.failOn[2] = errors.New("model crashed")

	f.scheduler.Start(context.Background(), 1)
	f.scheduler.Wait()

	if got := sortedPages(f.results.pages()); !reflect.DeepEqual(got, []int{1, 3, 4}) {
		t.Fatalf("expected pages 1, 3 and 4 stored, got %v", got)
	}
}

func TestSchedulerJumpSupersedes(t *testing.T) {
	f := newSchedulerFixture(t, 12, 4)
	f.everything.delay = 5 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	oldGen := f.scheduler.Start(ctx, 1)
	waitFor(t, "old sweep progress", func() bool { return len(f.everything.processedOrder()) >= 2 })

	newGen := f.scheduler.Jump(ctx, 6)
	if newGen == oldGen {
		t.Fatalf("expected a new generation")
	}
	f.scheduler.SetViewedPage(12)
	waitFor(t, "jumped sweep to finish", func() bool {
		for page := 6; page <= 12; page++ {
			if f.everything.callCount(page) == 0 {
				return false
			}
		}
		return true
	})
	f.scheduler.Wait()

	for page := 1; page <= 12; page++ {
		if n := f.everything.callCount(page); n > 1 {
			t.Fatalf("page %d computed %d times", page, n)
		}
	}
	cursor := f.scheduler.Cursor()
	if cursor.ActiveSweeps != 0 || cursor.Generation != newGen {
		t.Fatalf("unexpected cursor after jump %+v", cursor)
	}
	// The old sweep stopped at its next page boundary, long before reaching page 5.
	if f.everything.callCount(5) != 0 {
		t.Fatalf("superseded sweep kept running into page 5")
	}
}

func TestSchedulerStopDuringPause(t *testing.T) {
	f := newSchedulerFixture(t, 8, 4)
	f.scheduler.Start(context.Background(), 1)
	waitFor(t, "pause", func() bool { return f.scheduler.Cursor().Paused })

	f.scheduler.Stop()
	f.scheduler.Wait()
	if n := len(f.everything.processedOrder()); n != 4 {
		t.Fatalf("expected stopped sweep to process nothing more, got %d pages", n)
	}
}

func TestSchedulerCancelledContextStopsSweep(t *testing.T) {
	f := newSchedulerFixture(t, 8, 4)
	ctx, cancel := context.WithCancel(context.Background())
	f.scheduler.Start(ctx, 1)
	waitFor(t, "pause", func() bool { return f.scheduler.Cursor().Paused })
	cancel()
	f.scheduler.Wait()
	if f.scheduler.Cursor().ActiveSweeps != 0 {
		t.Fatalf("expected sweep to exit on cancellation")
	}
}

func TestSchedulerSupersededSweepLeavesNewPauseInPlace(t *testing.T) {
	f := newSchedulerFixture(t, 10, 4)
	f.scheduler.opts.PollInterval = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := f.scheduler.Start(ctx, 1)
	waitFor(t, "first sweep paused", func() bool {
		return f.scheduler.Cursor().Paused && f.scheduler.pausedGen.Load() == first
	})

	second := f.scheduler.Start(ctx, 1)
	waitFor(t, "second sweep paused", func() bool { return f.scheduler.pausedGen.Load() == second })
	waitFor(t, "first sweep exit", func() bool { return f.scheduler.Cursor().ActiveSweeps == 1 })

	if !f.scheduler.Cursor().Paused {
		t.Fatal("the running sweep is still waiting for the viewer and must read as paused")
	}
	f.scheduler.Stop()
	f.scheduler.Wait()
	if f.scheduler.Cursor().Paused {
		t.Fatal("expected pause cleared once the last sweep exits")
	}
}
