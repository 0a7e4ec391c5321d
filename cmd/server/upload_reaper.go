package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fanstream-video/internal/models"
)

type uploadReaper interface {
	ReapStaleUploads(ctx context.Context, olderThan time.Time) ([]models.VideoAsset, error)
}

type reapTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) reapTicker

// startUploadReapWorker periodically fails pending uploads whose bytes never
// arrived, so abandoned records do not sit in "uploading" forever. The
// returned stop function blocks until the worker exits.
func startUploadReapWorker(ctx context.Context, logger *slog.Logger, store uploadReaper, interval, maxAge time.Duration) func() {
	return startUploadReapWorkerWithTicker(ctx, logger, store, interval, maxAge, func(d time.Duration) reapTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startUploadReapWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	store uploadReaper,
	interval, maxAge time.Duration,
	newTicker tickerFactory,
) func() {
	if store == nil || interval <= 0 || maxAge <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				cutoff := time.Now().UTC().Add(-maxAge)
				reaped, err := store.ReapStaleUploads(workerCtx, cutoff)
				if err != nil {
					if logger != nil {
						logger.Error("failed to reap stale uploads", "error", err)
					}
					continue
				}
				if len(reaped) > 0 && logger != nil {
					logger.Info("reaped stale uploads", "count", len(reaped))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}
