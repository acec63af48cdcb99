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

package cache

import (
	"errors"
	"fmt"

	"flystream/internal/storage"
)

// ErrNotContiguous is returned when appended messages do not continue the
// cached range.
var ErrNotContiguous = errors.New("cache: messages are not contiguous with the cached range")

// PartitionCache is an in-memory window over the newest messages of one
// partition. It is not safe for concurrent use; the owning partition
// serializes access with its own lock.
type PartitionCache struct {
	tracker *MemoryTracker

	// messages[head:] is the live window.
	messages []*storage.Message
	head     int
	size     uint64
}

// NewPartitionCache creates an empty cache accounted against tracker.
func NewPartitionCache(tracker *MemoryTracker) *PartitionCache {
	return &PartitionCache{tracker: tracker}
}

// Append adds messages to the end of the cache. The first message must
// follow LastOffset unless the cache is empty.
func (c *PartitionCache) Append(msgs []*storage.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	if c.Len() > 0 {
		if want := c.LastOffset() + 1; msgs[0].Offset != want {
			return fmt.Errorf("%w: got offset %d, expected %d", ErrNotContiguous, msgs[0].Offset, want)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].Offset != msgs[i-1].Offset+1 {
			return fmt.Errorf("%w: offset %d follows %d", ErrNotContiguous, msgs[i].Offset, msgs[i-1].Offset)
		}
	}

	var added uint64
	for _, m := range msgs {
		added += m.Size()
	}
	c.messages = append(c.messages, msgs...)
	c.size += added
	c.tracker.Increment(added)
	return nil
}

// Len returns the number of cached messages.
func (c *PartitionCache) Len() int {
	return len(c.messages) - c.head
}

// CurrentSize returns the bytes held by the cache.
func (c *PartitionCache) CurrentSize() uint64 {
	return c.size
}

// FirstOffset returns the oldest cached offset. The cache must not be empty.
func (c *PartitionCache) FirstOffset() uint64 {
	return c.messages[c.head].Offset
}

// LastOffset returns the newest cached offset. The cache must not be empty.
func (c *PartitionCache) LastOffset() uint64 {
	return c.messages[len(c.messages)-1].Offset
}

// Contains reports whether every offset in [start, end) is cached.
func (c *PartitionCache) Contains(start, end uint64) bool {
	if c.Len() == 0 || start >= end {
		return false
	}
	return start >= c.FirstOffset() && end-1 <= c.LastOffset()
}

// Range returns the cached messages with offsets in [start, end). The
// returned slice must not be modified.
func (c *PartitionCache) Range(start, end uint64) []*storage.Message {
	if c.Len() == 0 {
		return nil
	}
	first, last := c.FirstOffset(), c.LastOffset()
	if start < first {
		start = first
	}
	if end > last+1 {
		end = last + 1
	}
	if start >= end {
		return nil
	}
	lo := c.head + int(start-first)
	hi := c.head + int(end-first)
	return c.messages[lo:hi:hi]
}

// EvictBySize removes messages from the front until at least n bytes are
// freed, never removing a message with offset >= floor. It returns the bytes
// freed.
func (c *PartitionCache) EvictBySize(n uint64, floor uint64) uint64 {
	var freed uint64
	for freed < n && c.Len() > 0 && c.FirstOffset() < floor {
		freed += c.popFront()
	}
	c.release(freed)
	return freed
}

// EvictUpTo removes every message with offset < off and returns the bytes
// freed.
func (c *PartitionCache) EvictUpTo(off uint64) uint64 {
	var freed uint64
	for c.Len() > 0 && c.FirstOffset() < off {
		freed += c.popFront()
	}
	c.release(freed)
	return freed
}

// TruncateFrom removes every message with offset >= off and returns the
// bytes freed. It undoes an append whose flush failed.
func (c *PartitionCache) TruncateFrom(off uint64) uint64 {
	var freed uint64
	for c.Len() > 0 && c.LastOffset() >= off {
		last := len(c.messages) - 1
		freed += c.messages[last].Size()
		c.messages[last] = nil
		c.messages = c.messages[:last]
	}
	c.release(freed)
	return freed
}

// Clear empties the cache.
func (c *PartitionCache) Clear() uint64 {
	freed := c.size
	c.messages = nil
	c.head = 0
	c.release(freed)
	return freed
}

func (c *PartitionCache) popFront() uint64 {
	m := c.messages[c.head]
	c.messages[c.head] = nil
	c.head++
	return m.Size()
}

func (c *PartitionCache) release(freed uint64) {
	if freed == 0 {
		return
	}
	c.size -= freed
	c.tracker.Decrement(freed)
	if c.Len() == 0 {
		c.messages = c.messages[:0]
		c.head = 0
		return
	}
	// Compact once the dead prefix dominates the backing array.
	if c.head > len(c.messages)/2 {
		n := copy(c.messages, c.messages[c.head:])
		for i := n; i < len(c.messages); i++ {
			c.messages[i] = nil
		}
		c.messages = c.messages[:n]
		c.head = 0
	}
}
