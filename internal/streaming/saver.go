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

// Saver periodically flushes write-behind buffers so unsaved messages do not
// wait for the partition threshold indefinitely.
type Saver struct {
	interval time.Duration
	persist  func(context.Context) error
	logger   *logging.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newSaver(interval time.Duration, persist func(context.Context) error) *Saver {
	return &Saver{
		interval: interval,
		persist:  persist,
		logger:   logging.NewLogger("saver"),
	}
}

// Start starts the periodic flush.
func (s *Saver) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("Message saver started", "interval", s.interval)
}

// Stop stops the periodic flush and waits for a running one.
func (s *Saver) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.cancel = nil
	s.wg.Wait()
}

func (s *Saver) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := s.persist(ctx); err != nil {
				s.logger.Error("Failed to save messages", "error", err)
				continue
			}
			s.logger.Debug("Saved messages", "took", time.Since(start))
		}
	}
}
