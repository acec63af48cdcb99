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

/*
Package cache holds recently appended messages in memory.

MEMORY ACCOUNTING:
==================
A single MemoryTracker is shared by every partition cache of a System. It
holds the total bytes of cached messages and the configured limit. Usage may
exceed the limit briefly: appends never block on the cache, and the System's
evictor brings usage back under the limit.

	Partition A cache ──┐
	Partition B cache ──┼──► MemoryTracker (usage / limit)
	Partition C cache ──┘

PARTITION CACHE:
================
A PartitionCache is the contiguous tail of one partition's offsets. It only
grows at the end and shrinks from the front, so its content is always
[FirstOffset, LastOffset] with no holes.
*/
package cache

import "sync/atomic"

// MemoryTracker accounts for the bytes held by all partition caches.
// It is safe for concurrent use.
type MemoryTracker struct {
	usage atomic.Int64
	limit uint64
}

// NewMemoryTracker creates a tracker with the given byte limit.
func NewMemoryTracker(limit uint64) *MemoryTracker {
	return &MemoryTracker{limit: limit}
}

// Increment adds n bytes to the usage.
func (t *MemoryTracker) Increment(n uint64) {
	t.usage.Add(int64(n))
}

// Decrement removes n bytes from the usage. Usage never drops below zero.
func (t *MemoryTracker) Decrement(n uint64) {
	for {
		cur := t.usage.Load()
		next := cur - int64(n)
		if next < 0 {
			next = 0
		}
		if t.usage.CompareAndSwap(cur, next) {
			return
		}
	}
}

// Usage returns the bytes currently held.
func (t *MemoryTracker) Usage() uint64 {
	return uint64(t.usage.Load())
}

// Limit returns the configured byte limit.
func (t *MemoryTracker) Limit() uint64 {
	return t.limit
}

// WillFit reports whether n more bytes fit under the limit.
func (t *MemoryTracker) WillFit(n uint64) bool {
	return t.Usage()+n <= t.limit
}

// Exceeded reports whether usage is above the limit.
func (t *MemoryTracker) Exceeded() bool {
	return t.Usage() > t.limit
}

// BytesOverLimit returns how far usage is above the limit, or 0.
func (t *MemoryTracker) BytesOverLimit() uint64 {
	if u := t.Usage(); u > t.limit {
		return u - t.limit
	}
	return 0
}
