/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package streaming

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"golang.org/x/sync/errgroup"

	"flystream/internal/cache"
	"flystream/internal/logging"
	"flystream/internal/metrics"
)

// DefaultOverEvictionFactor multiplies each partition's eviction share so a
// pass frees enough memory that the next small append does not trigger
// another one.
const DefaultOverEvictionFactor = 5

// evictable is the part of a partition the evictor uses.
type evictable interface {
	CacheSize() uint64
	EvictCache(n uint64) uint64
}

type evictionTask struct {
	target evictable
	bytes  uint64
}

// planEviction splits toReclaim across targets in proportion to their cache
// sizes: target i sheds ceil(size_i / total * toReclaim) * factor bytes.
// Empty caches get no task.
func planEviction(targets []evictable, toReclaim, factor uint64) []evictionTask {
	if toReclaim == 0 || len(targets) == 0 {
		return nil
	}
	if factor == 0 {
		factor = 1
	}
	sizes := make([]uint64, len(targets))
	var total uint64
	for i, t := range targets {
		sizes[i] = t.CacheSize()
		total += sizes[i]
	}
	if total == 0 {
		return nil
	}

	tasks := make([]evictionTask, 0, len(targets))
	for i, t := range targets {
		if sizes[i] == 0 {
			continue
		}
		share := math.Ceil(float64(sizes[i]) / float64(total) * float64(toReclaim))
		tasks = append(tasks, evictionTask{target: t, bytes: uint64(share) * factor})
	}
	return tasks
}

// Evictor keeps the shared cache under its budget. It runs a pass on every
// tick and whenever an append reports the budget exceeded. Each pass
// evicts from every partition concurrently on a bounded worker pool.
type Evictor struct {
	tracker    *cache.MemoryTracker
	partitions func() []*Partition
	factor     uint64
	workers    int
	interval   time.Duration
	metrics    *metrics.Metrics
	logger     *logging.Logger

	trigger chan struct{}
	running sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func newEvictor(tracker *cache.MemoryTracker, partitions func() []*Partition, factor uint64,
	workers int, interval time.Duration, m *metrics.Metrics) *Evictor {
	if workers <= 0 {
		workers = 1
	}
	return &Evictor{
		tracker:    tracker,
		partitions: partitions,
		factor:     factor,
		workers:    workers,
		interval:   interval,
		metrics:    m,
		logger:     logging.NewLogger("evictor"),
		trigger:    make(chan struct{}, 1),
	}
}

// Start starts the background loop. A stopped evictor may be started again.
func (e *Evictor) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.loop(ctx)
	e.logger.Info("Cache evictor started",
		"limit", bytefmt.ByteSize(e.tracker.Limit()), "interval", e.interval, "factor", e.factor)
}

// Stop stops the background loop and waits for a running pass.
func (e *Evictor) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.cancel = nil
	e.wg.Wait()
}

// Notify requests a pass without blocking. Requests made while one is
// pending are merged.
func (e *Evictor) Notify() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

func (e *Evictor) loop(ctx context.Context) {
	defer e.wg.Done()

	interval := e.interval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-e.trigger:
		}
		e.RunOnce(ctx)
	}
}

// RunOnce runs one pass synchronously and returns the bytes freed. It does
// nothing while usage is within the budget.
func (e *Evictor) RunOnce(ctx context.Context) uint64 {
	e.running.Lock()
	defer e.running.Unlock()

	toReclaim := e.tracker.BytesOverLimit()
	if toReclaim == 0 {
		return 0
	}
	start := time.Now()

	parts := e.partitions()
	targets := make([]evictable, len(parts))
	for i, p := range parts {
		targets[i] = p
	}
	tasks := planEviction(targets, toReclaim, e.factor)

	var freed atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, task := range tasks {
		task := task
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			freed.Add(task.target.EvictCache(task.bytes))
			return nil
		})
	}
	g.Wait()

	took := time.Since(start)
	e.metrics.RecordEviction(freed.Load(), took)
	e.metrics.CacheUsage.Set(float64(e.tracker.Usage()))
	e.logger.Debug("Eviction pass finished",
		"over_limit", bytefmt.ByteSize(toReclaim),
		"freed", bytefmt.ByteSize(freed.Load()),
		"partitions", len(tasks),
		"took", took)
	return freed.Load()
}
