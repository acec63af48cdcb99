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
	"bytes"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"flystream/internal/cache"
	"flystream/internal/logging"
	"flystream/internal/metrics"
	"flystream/internal/storage"
)

// partitionOptions are the shared collaborators injected into every
// partition by the System.
type partitionOptions struct {
	storage                storage.Config
	persister              storage.Persister
	tracker                *cache.MemoryTracker
	codec                  *storage.PayloadCodec
	metrics                *metrics.Metrics
	messagesRequiredToSave uint64
	cacheEnabled           bool
}

// Partition is one ordered, append-only log. Appends take the write lock and
// are strictly serialized; reads take the read lock.
//
// Offsets below durableOffset are in the segment log. Offsets in
// [durableOffset, nextOffset) exist only in the cache until the next flush.
// The cache always holds [durableOffset, nextOffset) and possibly an older
// contiguous prefix kept for hot reads.
type Partition struct {
	StreamID uint32
	TopicID  uint32
	ID       uint32
	Path     string

	mu            sync.RWMutex
	log           *storage.Log
	cache         *cache.PartitionCache
	opts          partitionOptions
	nextOffset    uint64
	durableOffset uint64
	lastTimestamp uint64
	deleted       bool
	logger        *logging.Logger
}

// openPartition creates or recovers the partition stored in path.
func openPartition(streamID, topicID, id uint32, path string, opts partitionOptions) (*Partition, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCannotCreateDirectory, path, err)
	}
	log, err := storage.OpenLog(path, opts.storage, opts.persister)
	if err != nil {
		return nil, fmt.Errorf("partition %d of topic %d in stream %d: %w", id, topicID, streamID, err)
	}
	if opts.messagesRequiredToSave == 0 {
		opts.messagesRequiredToSave = 1
	}

	next := log.NextOffset()
	return &Partition{
		StreamID:      streamID,
		TopicID:       topicID,
		ID:            id,
		Path:          path,
		log:           log,
		cache:         cache.NewPartitionCache(opts.tracker),
		opts:          opts,
		nextOffset:    next,
		durableOffset: next,
		lastTimestamp: log.LastTimestamp(),
		logger: logging.NewLogger("partition").With(
			"stream", streamID, "topic", topicID, "partition", id),
	}, nil
}

// Append assigns the next offsets to msgs and stores them. The batch either
// commits as a whole or fails with no visible change.
func (p *Partition) Append(msgs []AppendMessage) (OffsetRange, error) {
	if len(msgs) == 0 {
		return OffsetRange{}, fmt.Errorf("%w: empty batch", ErrInvalid)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return OffsetRange{}, fmt.Errorf("%w: partition %d was deleted", ErrNotFound, p.ID)
	}

	base := p.nextOffset
	ts := uint64(time.Now().UnixMicro())
	if ts < p.lastTimestamp {
		ts = p.lastTimestamp
	}

	batch := make([]*storage.Message, len(msgs))
	var size uint64
	for i, am := range msgs {
		payload, flags, err := p.opts.codec.Encode(am.Payload)
		if err != nil {
			return OffsetRange{}, fmt.Errorf("%w: encode payload: %v", ErrWriteFailed, err)
		}
		id := am.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch[i] = &storage.Message{
			Offset:    base + uint64(i),
			Timestamp: ts,
			ID:        id,
			Flags:     flags,
			Key:       bytes.Clone(am.Key),
			Headers:   storage.CloneHeaders(am.Headers),
			Payload:   payload,
		}
		size += batch[i].Size()
	}

	if err := p.cache.Append(batch); err != nil {
		return OffsetRange{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	p.nextOffset = base + uint64(len(batch))

	if p.nextOffset-p.durableOffset >= p.opts.messagesRequiredToSave {
		if err := p.flushLocked(); err != nil {
			// Earlier unsaved batches stay cached for the next flush.
			p.cache.TruncateFrom(base)
			p.nextOffset = base
			return OffsetRange{}, err
		}
	}
	p.lastTimestamp = ts
	p.opts.metrics.RecordAppend(len(batch), size)

	return OffsetRange{PartitionID: p.ID, First: base, Last: p.nextOffset - 1}, nil
}

// flushLocked writes the unsaved suffix of the cache to the segment log.
// The caller holds the write lock.
func (p *Partition) flushLocked() error {
	if p.durableOffset == p.nextOffset {
		return nil
	}
	pending := p.cache.Range(p.durableOffset, p.nextOffset)
	start := time.Now()
	err := p.log.Append(pending)
	p.opts.metrics.RecordFlush(len(pending), time.Since(start), err)
	if err != nil {
		return fmt.Errorf("partition %d: flush offsets [%d, %d): %w", p.ID, p.durableOffset, p.nextOffset, err)
	}
	p.durableOffset = p.nextOffset
	if !p.opts.cacheEnabled {
		p.cache.EvictUpTo(p.durableOffset)
	}
	return nil
}

// PersistMessages flushes every unsaved message to the segment log and syncs
// the open segment.
func (p *Partition) PersistMessages() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.deleted {
		return nil
	}
	if err := p.flushLocked(); err != nil {
		return err
	}
	return p.log.Sync()
}

// Read returns up to count messages starting at offset, with payloads
// decoded. A start below the lowest retained offset fails with
// ErrOffsetOutOfRange; a start at or after the next offset returns nothing.
// The boolean reports whether the cache served the whole range.
func (p *Partition) Read(offset uint64, count uint32) ([]*storage.Message, bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.deleted {
		return nil, false, fmt.Errorf("%w: partition %d was deleted", ErrNotFound, p.ID)
	}
	if lowest := p.log.LowestOffset(); offset < lowest {
		return nil, false, fmt.Errorf("%w: offset %d is below the lowest retained offset %d",
			ErrOffsetOutOfRange, offset, lowest)
	}
	end := offset + uint64(count)
	if end < offset || end > p.nextOffset {
		end = p.nextOffset
	}
	if offset >= end {
		return nil, false, nil
	}

	var raw []*storage.Message
	fromCache := p.cache.Contains(offset, end)
	if fromCache {
		raw = p.cache.Range(offset, end)
	} else {
		// The cache always covers the unsaved tail, so the disk read stops
		// where the cache starts.
		split := end
		if p.cache.Len() > 0 && p.cache.FirstOffset() < split {
			split = p.cache.FirstOffset()
		}
		if split < offset {
			split = offset
		}
		disk, err := p.log.ReadRange(offset, split)
		if err != nil {
			return nil, false, err
		}
		raw = append(disk, p.cache.Range(split, end)...)
	}

	out := make([]*storage.Message, len(raw))
	for i, m := range raw {
		d, err := p.opts.codec.DecodeMessage(m)
		if err != nil {
			return nil, false, fmt.Errorf("partition %d offset %d: %w", p.ID, m.Offset, err)
		}
		out[i] = d
	}
	return out, fromCache, nil
}

// OffsetForTimestamp returns the first offset whose timestamp is at or after
// ts, or the next offset when every message is older.
func (p *Partition) OffsetForTimestamp(ts uint64) (uint64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	off, found, err := p.log.FindByTimestamp(ts)
	if err != nil {
		return 0, err
	}
	if found {
		return off, nil
	}
	for _, m := range p.cache.Range(p.durableOffset, p.nextOffset) {
		if m.Timestamp >= ts {
			return m.Offset, nil
		}
	}
	return p.nextOffset, nil
}

// EvictCache removes up to n bytes of cached messages from the oldest end.
// Messages not yet in the segment log are never evicted. It returns the
// bytes freed.
func (p *Partition) EvictCache(n uint64) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cache.EvictBySize(n, p.durableOffset)
}

// CacheSize returns the bytes held by the partition's cache.
func (p *Partition) CacheSize() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cache.CurrentSize()
}

// DeleteSegmentsBefore removes sealed segments whose messages all precede
// offset. Unsaved messages are never affected. It returns the number of
// messages removed.
func (p *Partition) DeleteSegmentsBefore(offset uint64) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.deleted {
		return 0, nil
	}
	if offset > p.durableOffset {
		offset = p.durableOffset
	}
	removed, err := p.log.DeleteSegmentsBefore(offset)
	p.cache.EvictUpTo(p.log.LowestOffset())
	if removed > 0 {
		p.logger.Info("Removed segments", "messages", removed, "lowest_offset", p.log.LowestOffset())
	}
	return removed, err
}

// DeleteExpiredSegments removes sealed segments whose messages are all older
// than cutoff (microseconds) and returns the number of messages removed.
func (p *Partition) DeleteExpiredSegments(cutoff uint64) (uint64, error) {
	return p.DeleteSegmentsBefore(p.log.ExpiredBefore(cutoff))
}

// Purge drops every message and restarts the partition at offset 0.
func (p *Partition) Purge() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cache.Clear()
	if err := p.log.Reset(); err != nil {
		return err
	}
	p.nextOffset = 0
	p.durableOffset = 0
	return nil
}

// Offsets returns the next offset and the durable offset.
func (p *Partition) Offsets() (next, durable uint64) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.nextOffset, p.durableOffset
}

// NextOffset returns the offset the next appended message will receive.
func (p *Partition) NextOffset() uint64 {
	next, _ := p.Offsets()
	return next
}

// PartitionStats describes a partition.
type PartitionStats struct {
	ID             uint32
	NextOffset     uint64
	DurableOffset  uint64
	LowestOffset   uint64
	Segments       int
	SizeBytes      uint64
	CacheBytes     uint64
	CachedMessages int
}

// Stats returns a snapshot of the partition's state.
func (p *Partition) Stats() PartitionStats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PartitionStats{
		ID:             p.ID,
		NextOffset:     p.nextOffset,
		DurableOffset:  p.durableOffset,
		LowestOffset:   p.log.LowestOffset(),
		Segments:       p.log.SegmentCount(),
		SizeBytes:      p.log.SizeBytes(),
		CacheBytes:     p.cache.CurrentSize(),
		CachedMessages: p.cache.Len(),
	}
}

// close releases the cache and closes the segment files. Unsaved messages
// are lost; callers persist first.
func (p *Partition) close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache.Clear()
	return p.log.Close()
}

// remove deletes the partition's files. Further operations fail with
// ErrNotFound.
func (p *Partition) remove() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deleted = true
	p.cache.Clear()
	return p.log.Remove()
}
