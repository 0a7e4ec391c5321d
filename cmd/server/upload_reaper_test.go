package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"fanstream-video/internal/models"
)

type manualTicker struct {
	ch      chan time.Time
	stopped bool
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped = true }

func (m *manualTicker) tick() {
	m.ch <- time.Now()
}

type recordingReaper struct {
	mu      sync.Mutex
	cutoffs []time.Time
	result  []models.VideoAsset
	err     error
}

func (r *recordingReaper) ReapStaleUploads(_ context.Context, olderThan time.Time) ([]models.VideoAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cutoffs = append(r.cutoffs, olderThan)
	return r.result, r.err
}

func (r *recordingReaper) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.cutoffs)
}

func (r *recordingReaper) lastCutoff() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cutoffs[len(r.cutoffs)-1]
}

func TestUploadReapWorkerRunsOnTick(t *testing.T) {
	ticker := newManualTicker()
	reaper := &recordingReaper{result: []models.VideoAsset{{ID: "vid-1"}}}
	maxAge := 24 * time.Hour

	stop := startUploadReapWorkerWithTicker(context.Background(), nil, reaper, time.Minute, maxAge,
		func(time.Duration) reapTicker { return ticker })

	before := time.Now().UTC().Add(-maxAge)
	ticker.tick()
	ticker.tick()
	stop()

	if got := reaper.calls(); got != 2 {
		t.Fatalf("reap calls = %d", got)
	}
	cutoff := reaper.lastCutoff()
	if cutoff.Before(before.Add(-time.Minute)) || cutoff.After(time.Now().UTC().Add(-maxAge).Add(time.Minute)) {
		t.Fatalf("cutoff = %v, want roughly now-maxAge", cutoff)
	}
	if !ticker.stopped {
		t.Fatal("ticker not stopped")
	}
}

func TestUploadReapWorkerSurvivesStoreErrors(t *testing.T) {
	ticker := newManualTicker()
	reaper := &recordingReaper{err: context.DeadlineExceeded}

	stop := startUploadReapWorkerWithTicker(context.Background(), nil, reaper, time.Minute, time.Hour,
		func(time.Duration) reapTicker { return ticker })

	ticker.tick()
	ticker.tick()
	stop()

	if got := reaper.calls(); got != 2 {
		t.Fatalf("reap calls = %d, worker must keep running after errors", got)
	}
}

func TestUploadReapWorkerStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	ticker := newManualTicker()
	reaper := &recordingReaper{}

	stop := startUploadReapWorkerWithTicker(ctx, nil, reaper, time.Minute, time.Hour,
		func(time.Duration) reapTicker { return ticker })

	cancel()
	stop() // blocks until the worker goroutine exits

	if !ticker.stopped {
		t.Fatal("ticker not stopped after cancel")
	}
	if reaper.calls() != 0 {
		t.Fatalf("reap calls = %d, want none", reaper.calls())
	}
}

func TestUploadReapWorkerDisabledConfigurations(t *testing.T) {
	reaper := &recordingReaper{}

	stop := startUploadReapWorker(context.Background(), nil, nil, time.Minute, time.Hour)
	stop()

	stop = startUploadReapWorker(context.Background(), nil, reaper, 0, time.Hour)
	stop()
	stop = startUploadReapWorker(context.Background(), nil, reaper, time.Minute, 0)
	stop()
	if reaper.calls() != 0 {
		t.Fatalf("disabled worker performed %d reaps", reaper.calls())
	}
}
