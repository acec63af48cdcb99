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
	"sync"
	"time"

	"flystream/internal/logging"
)

// Retention removes sealed segments once all their messages are older than
// the configured expiry. The open segment is never removed, so recent data
// and unsaved messages are unaffected.
type Retention struct {
	expiry     time.Duration
	interval   time.Duration
	partitions func() []*Partition
	logger     *logging.Logger
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

func newRetention(expiry, interval time.Duration, partitions func() []*Partition) *Retention {
	return &Retention{
		expiry:     expiry,
		interval:   interval,
		partitions: partitions,
		logger:     logging.NewLogger("retention"),
	}
}

// Start starts the expiry check.
func (r *Retention) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.cleanupLoop(ctx)
	r.logger.Info("Retention started", "expiry", r.expiry, "interval", r.interval)
}

// Stop stops the expiry check.
func (r *Retention) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	r.cancel = nil
	r.wg.Wait()
}

func (r *Retention) cleanupLoop(ctx context.Context) {
	defer r.wg.Done()

	interval := r.interval
	if interval == 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RunOnce(time.Now())
		}
	}
}

// RunOnce removes the segments expired at now and returns the number of
// messages removed.
func (r *Retention) RunOnce(now time.Time) uint64 {
	if r.expiry <= 0 {
		return 0
	}
	cutoff := now.Add(-r.expiry).UnixMicro()
	if cutoff <= 0 {
		return 0
	}

	var removed uint64
	for _, p := range r.partitions() {
		n, err := p.DeleteExpiredSegments(uint64(cutoff))
		if err != nil {
			r.logger.Warn("Failed to remove expired segments",
				"stream", p.StreamID,
				"topic", p.TopicID,
				"partition", p.ID,
				"error", err)
			continue
		}
		removed += n
	}
	if removed > 0 {
		r.logger.Info("Removed expired messages", "count", removed)
	}
	return removed
}
