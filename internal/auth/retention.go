// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package auth

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/accountd/pkg/errutil"
)

// DefaultPruneInterval is how often expired tokens are deleted.
const DefaultPruneInterval = time.Hour

// TokenPruner deletes expired tokens. *SessionService implements it.
type TokenPruner interface {
	PruneExpired(ctx context.Context) (int64, error)
}

// PruneRecorder receives the number of tokens removed per cycle.
type PruneRecorder interface {
	RecordPruned(n int64)
}

// RetentionWorker periodically deletes expired session tokens.
type RetentionWorker struct {
	interval time.Duration
	pruner   TokenPruner
	recorder PruneRecorder
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionWorker creates a retention worker. A non-positive interval
// uses DefaultPruneInterval; recorder may be nil.
func NewRetentionWorker(interval time.Duration, pruner TokenPruner, recorder PruneRecorder, opts ...Option) *RetentionWorker {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	o := buildOptions(opts)
	return &RetentionWorker{
		interval: interval,
		pruner:   pruner,
		recorder: recorder,
		logger:   o.logger,
	}
}

// RunOnce executes a single prune cycle and returns the number of tokens
// removed.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int64, error) {
	n, err := w.pruner.PruneExpired(ctx)
	if err != nil {
		return 0, oops.Code("RETENTION_CYCLE_FAILED").Wrap(err)
	}
	if w.recorder != nil {
		w.recorder.RecordPruned(n)
	}
	if n > 0 {
		w.logger.InfoContext(ctx, "pruned expired tokens", "count", n)
	}
	return n, nil
}

// Start runs a cycle immediately and then once per interval until Stop.
func (w *RetentionWorker) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop stops the worker and waits for the running cycle to finish.
func (w *RetentionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.cycle(ctx)
		}
	}
}

func (w *RetentionWorker) cycle(ctx context.Context) {
	if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
		errutil.LogErrorContext(ctx, w.logger, slog.LevelError, "retention cycle failed", err)
	}
}
