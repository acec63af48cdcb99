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
	"sync/atomic"
	"testing"
	"time"

	"flystream/internal/cache"
	"flystream/internal/metrics"
)

type fakeCache struct {
	size    uint64
	evicted uint64
}

func (f *fakeCache) CacheSize() uint64 { return f.size }

func (f *fakeCache) EvictCache(n uint64) uint64 {
	if n > f.size {
		n = f.size
	}
	f.size -= n
	f.evicted += n
	return n
}

func TestPlanEvictionIsProportional(t *testing.T) {
	const mb = 1 << 20

	tests := []struct {
		name   string
		factor uint64
		want   []uint64
	}{
		{"no over-eviction", 1, []uint64{150 * mb, 50 * mb}},
		{"default factor", DefaultOverEvictionFactor, []uint64{750 * mb, 250 * mb}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			targets := []evictable{&fakeCache{size: 300 * mb}, &fakeCache{size: 100 * mb}}
			tasks := planEviction(targets, 200*mb, tt.factor)
			if len(tasks) != len(tt.want) {
				t.Fatalf("Expected %d tasks, got %d", len(tt.want), len(tasks))
			}
			for i, task := range tasks {
				if task.target != targets[i] {
					t.Errorf("Task %d targets the wrong cache", i)
				}
				if task.bytes != tt.want[i] {
					t.Errorf("Task %d: expected %d bytes, got %d", i, tt.want[i], task.bytes)
				}
			}
		})
	}
}

func TestPlanEvictionRoundsUp(t *testing.T) {
	targets := []evictable{&fakeCache{size: 1}, &fakeCache{size: 2}}
	tasks := planEviction(targets, 1, 1)
	if len(tasks) != 2 || tasks[0].bytes != 1 || tasks[1].bytes != 1 {
		t.Errorf("Expected every cache to shed at least one byte, got %+v", tasks)
	}
}

func TestPlanEvictionSkipsEmptyCaches(t *testing.T) {
	empty := &fakeCache{}
	full := &fakeCache{size: 1000}
	tasks := planEviction([]evictable{empty, full}, 100, 5)
	if len(tasks) != 1 || tasks[0].target != full || tasks[0].bytes != 500 {
		t.Errorf("Unexpected plan: %+v", tasks)
	}

	if tasks := planEviction([]evictable{empty}, 100, 5); tasks != nil {
		t.Errorf("Expected no tasks when every cache is empty, got %+v", tasks)
	}
	if tasks := planEviction([]evictable{full}, 0, 5); tasks != nil {
		t.Errorf("Expected no tasks with nothing to reclaim, got %+v", tasks)
	}
}

func TestEvictorRunOnceBringsUsageUnderLimit(t *testing.T) {
	// Size the budget after a first fill so the test does not depend on
	// the exact per-message overhead.
	sizing := cache.NewMemoryTracker(1 << 30)
	pp := newTestPartition(t, t.TempDir(), testPartitionOptions(sizing))
	pp.Append(payloads("x", 100))
	perPartition := sizing.Usage()

	tracker := cache.NewMemoryTracker(perPartition)
	opts := testPartitionOptions(tracker)
	parts := []*Partition{
		newTestPartition(t, t.TempDir(), opts),
		newTestPartition(t, t.TempDir(), opts),
	}
	for _, p := range parts {
		p.Append(payloads("x", 100))
	}
	if !tracker.Exceeded() {
		t.Fatalf("Expected the budget to be exceeded: usage %d limit %d", tracker.Usage(), tracker.Limit())
	}

	e := newEvictor(tracker, func() []*Partition { return parts }, DefaultOverEvictionFactor, 2, time.Hour, metrics.New())
	freed := e.RunOnce(context.Background())
	if freed == 0 {
		t.Fatal("Expected bytes to be freed")
	}
	if tracker.Exceeded() {
		t.Errorf("Usage %d still over limit %d", tracker.Usage(), tracker.Limit())
	}
	for _, p := range parts {
		assertCacheIsSuffix(t, p)
		got, _, err := p.Read(0, 100)
		if err != nil || len(got) != 100 {
			t.Errorf("Evicted messages must still be readable from disk: %d (err=%v)", len(got), err)
		}
	}

	if again := e.RunOnce(context.Background()); again != 0 {
		t.Errorf("Expected no work under the limit, freed %d", again)
	}
}

func TestEvictorNotifyTriggersPass(t *testing.T) {
	tracker := cache.NewMemoryTracker(1)
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(tracker))
	p.Append(payloads("x", 10))

	e := newEvictor(tracker, func() []*Partition { return []*Partition{p} }, 1, 1, time.Hour, metrics.New())
	e.Start()
	defer e.Stop()
	e.Notify()
	e.Notify()

	deadline := time.Now().Add(5 * time.Second)
	for p.CacheSize() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("Cache not evicted, %d bytes left", p.CacheSize())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSaverPersistsOnInterval(t *testing.T) {
	var calls atomic.Int32
	s := newSaver(10*time.Millisecond, func(context.Context) error {
		calls.Add(1)
		return nil
	})
	waitForCalls := func(n int32) {
		t.Helper()
		deadline := time.Now().Add(5 * time.Second)
		for calls.Load() < n {
			if time.Now().After(deadline) {
				t.Fatalf("Saver did not run, %d calls", calls.Load())
			}
			time.Sleep(5 * time.Millisecond)
		}
	}

	s.Start()
	waitForCalls(2)
	s.Stop()
	s.Stop()

	// A stopped saver runs again after a restart.
	s.Start()
	waitForCalls(calls.Load() + 2)
	s.Stop()
}

func TestRetentionRunOnce(t *testing.T) {
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(cache.NewMemoryTracker(1<<30)))
	for i := 0; i < 3; i++ {
		p.Append(payloads("m", 10))
	}

	r := newRetention(0, time.Minute, func() []*Partition { return []*Partition{p} })
	if n := r.RunOnce(time.Now().Add(time.Hour)); n != 0 {
		t.Errorf("Expected no expiry without a limit, removed %d", n)
	}

	r = newRetention(time.Hour, time.Minute, func() []*Partition { return []*Partition{p} })
	if n := r.RunOnce(time.Now()); n != 0 {
		t.Errorf("Expected fresh messages to be kept, removed %d", n)
	}
	if n := r.RunOnce(time.Now().Add(2 * time.Hour)); n != 20 {
		t.Errorf("Expected the two sealed segments to expire, removed %d", n)
	}
	if p.NextOffset() != 30 {
		t.Errorf("Expiry must not change the next offset, got %d", p.NextOffset())
	}
}
