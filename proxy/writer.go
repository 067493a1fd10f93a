// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"sentryvolt/sidecar/metrics"
	"sentryvolt/sidecar/shared/logger"
)

// Writer decouples response latency from disk I/O: the proxy hands off
// event and cost persistence as tasks, and a single goroutine drains
// them into the store's single-writer path.
type Writer struct {
	queue chan func(ctx context.Context)
	done  chan struct{}
	log   *logger.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewWriter starts the drain goroutine with the given queue depth.
func NewWriter(depth int) *Writer {
	if depth < 1 {
		depth = 256
	}
	w := &Writer{
		queue: make(chan func(ctx context.Context), depth),
		done:  make(chan struct{}),
		log:   logger.New("side-effect-writer"),
	}
	go w.drain()
	return w
}

func (w *Writer) drain() {
	defer close(w.done)
	for task := range w.queue {
		// Each task gets its own deadline so one stuck write cannot
		// wedge the queue.
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		task(ctx)
		cancel()
	}
}

// Enqueue schedules a side-effect write. When the queue is full the
// task is dropped with a warning rather than blocking the response
// path.
func (w *Writer) Enqueue(task func(ctx context.Context)) {
	if w.closed.Load() {
		return
	}
	select {
	case w.queue <- task:
	default:
		metrics.SideEffectDrops.Inc()
		w.log.Warn("", "", "Side-effect queue full, dropping write", map[string]interface{}{
			"depth": cap(w.queue),
		})
	}
}

// Close stops accepting tasks and waits up to timeout for the queue to
// drain. Returns false if the deadline expired with tasks pending.
func (w *Writer) Close(timeout time.Duration) bool {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.queue)
	})
	select {
	case <-w.done:
		return true
	case <-time.After(timeout):
		w.log.Warn("", "", "Side-effect drain timed out", nil)
		return false
	}
}
