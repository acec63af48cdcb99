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
Log manages the chain of segments that holds one partition's durable data.

ARCHITECTURE:
=============

	Log
	 ├── Segment 0 (offsets 0-999) [sealed]
	 │    ├── 00000000000000000000.log
	 │    └── 00000000000000000000.index
	 ├── Segment 1000 (offsets 1000-1999) [sealed]
	 └── Segment 2000 (offsets 2000-...) [open]

SEGMENT MANAGEMENT:
===================
- Only the newest segment receives writes
- A full segment is sealed and a new one started before the next write, so
  a batch is never split across segments
- Sealed segments are read-only and are only ever removed whole

OFFSET SPACE:
=============
Segments cover contiguous, non-overlapping offset ranges. The base offset
of each segment equals the next offset of the one before it. Reads locate
the segment with a binary search on base offsets.

RECOVERY:
=========
OpenLog lists the directory, opens every segment but the newest as sealed
and the newest as open, and verifies the chain has no gaps. A gap fails with
ErrCorruptState.
*/
package storage

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// Log manages the segments of one partition.
type Log struct {
	// mu protects segments. RWMutex allows concurrent reads.
	mu sync.RWMutex

	// Dir is the directory containing segment files.
	Dir string

	// Config contains segment size limits.
	Config Config

	persister Persister

	// segments is ordered by base offset; the last one is open.
	segments []*Segment
}

// OpenLog creates or opens the log stored in dir. The directory must exist.
func OpenLog(dir string, c Config, persister Persister) (*Log, error) {
	l := &Log{
		Dir:       dir,
		Config:    c.withDefaults(),
		persister: persister,
	}
	if err := l.setup(); err != nil {
		l.closeSegments()
		return nil, err
	}
	return l, nil
}

func (l *Log) setup() error {
	baseOffsets, err := ListSegments(l.Dir)
	if err != nil {
		return fmt.Errorf("%w: list segments in %s: %v", ErrReadFailed, l.Dir, err)
	}

	for i, base := range baseOffsets {
		active := i == len(baseOffsets)-1
		s, err := OpenSegment(l.Dir, base, l.Config, l.persister, active)
		if err != nil {
			return err
		}
		if n := len(l.segments); n > 0 && l.segments[n-1].NextOffset() != base {
			s.Close()
			return fmt.Errorf("%w: %s: segment %d does not follow segment ending at %d",
				ErrCorruptState, l.Dir, base, l.segments[n-1].NextOffset())
		}
		l.segments = append(l.segments, s)
	}

	if len(l.segments) == 0 {
		return l.newSegment(0)
	}
	return nil
}

// Append writes a batch whose offsets continue the log. A full open segment
// is sealed and replaced before the write. On failure the log is unchanged.
func (l *Log) Append(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	active := l.active()
	if active.IsSealed() || active.IsFull() {
		if err := active.Seal(); err != nil {
			return err
		}
		if err := l.newSegment(active.NextOffset()); err != nil {
			return fmt.Errorf("%w: roll segment: %v", ErrWriteFailed, err)
		}
		active = l.active()
	}
	return active.Append(msgs)
}

// ReadRange returns the messages with offsets in [start, end) that are
// retained by the log.
func (l *Log) ReadRange(start, end uint64) ([]*Message, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if end > l.nextOffset() {
		end = l.nextOffset()
	}
	if start < l.segments[0].BaseOffset() {
		return nil, fmt.Errorf("%w: %d is below the lowest retained offset %d",
			ErrOffsetOutOfRange, start, l.segments[0].BaseOffset())
	}
	if start >= end {
		return nil, nil
	}

	var msgs []*Message
	for i := l.segmentFor(start); i < len(l.segments) && start < end; i++ {
		s := l.segments[i]
		part, err := s.ReadRange(start, end)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, part...)
		start = s.NextOffset()
	}
	return msgs, nil
}

// segmentFor returns the index of the segment that holds off. The caller
// guarantees off is not below the first base offset.
func (l *Log) segmentFor(off uint64) int {
	i := sort.Search(len(l.segments), func(i int) bool {
		return l.segments[i].BaseOffset() > off
	})
	return i - 1
}

// FindByTimestamp returns the first offset whose timestamp is at or after ts.
// The boolean is false when every retained message is older.
func (l *Log) FindByTimestamp(ts uint64) (uint64, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, s := range l.segments {
		if s.MessageCount() == 0 || s.EndTimestamp() < ts {
			continue
		}
		return s.FindByTimestamp(ts)
	}
	return 0, false, nil
}

// LowestOffset returns the lowest offset still retained by the log.
func (l *Log) LowestOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.segments[0].BaseOffset()
}

// NextOffset returns the offset the next durable message will receive.
func (l *Log) NextOffset() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.nextOffset()
}

func (l *Log) nextOffset() uint64 {
	return l.active().NextOffset()
}

// LastTimestamp returns the timestamp of the newest retained message, or 0
// when the log is empty.
func (l *Log) LastTimestamp() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for i := len(l.segments) - 1; i >= 0; i-- {
		if s := l.segments[i]; s.MessageCount() > 0 {
			return s.EndTimestamp()
		}
	}
	return 0
}

// SizeBytes returns the total size of the log's data files.
func (l *Log) SizeBytes() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total uint64
	for _, s := range l.segments {
		total += s.SizeBytes()
	}
	return total
}

// SegmentCount returns the number of segments in the log.
func (l *Log) SegmentCount() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.segments)
}

// DeleteSegmentsBefore removes every sealed segment whose messages all have
// offsets below offset, and returns the number of messages removed. The open
// segment is never removed.
func (l *Log) DeleteSegmentsBefore(offset uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var removed uint64
	n := 0
	for n < len(l.segments)-1 && l.segments[n].NextOffset() <= offset {
		s := l.segments[n]
		if err := s.Remove(); err != nil {
			l.segments = l.segments[n:]
			return removed, fmt.Errorf("%w: remove segment %d: %v", ErrWriteFailed, s.BaseOffset(), err)
		}
		removed += s.MessageCount()
		n++
	}
	l.segments = l.segments[n:]
	return removed, nil
}

// ExpiredBefore returns the offset up to which sealed segments hold only
// messages with timestamps below ts. Passing the result to
// DeleteSegmentsBefore removes those segments.
func (l *Log) ExpiredBefore(ts uint64) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	boundary := l.segments[0].BaseOffset()
	for _, s := range l.segments[:len(l.segments)-1] {
		if s.MessageCount() > 0 && s.EndTimestamp() >= ts {
			break
		}
		boundary = s.NextOffset()
	}
	return boundary
}

// Reset removes every segment and starts an empty log at offset 0.
func (l *Log) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, s := range l.segments {
		if err := s.Remove(); err != nil {
			return fmt.Errorf("%w: remove segment %d: %v", ErrWriteFailed, s.BaseOffset(), err)
		}
	}
	l.segments = nil
	return l.newSegment(0)
}

// Sync flushes the open segment.
func (l *Log) Sync() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active().Sync()
}

// Close closes all segments in the log.
// After Close, the Log should not be used.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeSegments()
}

func (l *Log) closeSegments() error {
	var firstErr error
	for _, s := range l.segments {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Remove closes the log and deletes its directory.
func (l *Log) Remove() error {
	if err := l.Close(); err != nil {
		return err
	}
	return os.RemoveAll(l.Dir)
}

func (l *Log) active() *Segment {
	return l.segments[len(l.segments)-1]
}

func (l *Log) newSegment(off uint64) error {
	s, err := OpenSegment(l.Dir, off, l.Config, l.persister, true)
	if err != nil {
		return err
	}
	l.segments = append(l.segments, s)
	return nil
}
