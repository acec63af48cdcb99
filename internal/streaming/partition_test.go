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
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"flystream/internal/cache"
	"flystream/internal/crypto"
	"flystream/internal/metrics"
	"flystream/internal/storage"
)

// failingPersister fails every write while fail is set.
type failingPersister struct {
	storage.FilePersister
	fail atomic.Bool
}

func (p *failingPersister) Append(f *os.File, b []byte) error {
	if p.fail.Load() {
		return errors.New("disk full")
	}
	return p.FilePersister.Append(f, b)
}

// syncFailingPersister writes every Append and then reports a flush failure
// while fail is set.
type syncFailingPersister struct {
	storage.FsyncPersister
	fail atomic.Bool
}

func (p *syncFailingPersister) Append(f *os.File, b []byte) error {
	if err := p.FsyncPersister.Append(f, b); err != nil {
		return err
	}
	if p.fail.Load() {
		return fmt.Errorf("fsync %s: input/output error", f.Name())
	}
	return nil
}

func testPartitionOptions(tracker *cache.MemoryTracker) partitionOptions {
	return partitionOptions{
		storage: storage.Config{Segment: storage.SegmentConfig{
			MaxStoreBytes:     1 << 20,
			MaxMessages:       10,
			IndexInitialBytes: 1024,
		}},
		persister:              storage.FilePersister{},
		tracker:                tracker,
		metrics:                metrics.New(),
		messagesRequiredToSave: 1,
		cacheEnabled:           true,
	}
}

func newTestPartition(t *testing.T, dir string, opts partitionOptions) *Partition {
	t.Helper()
	p, err := openPartition(1, 1, 0, dir, opts)
	if err != nil {
		t.Fatalf("openPartition failed: %v", err)
	}
	t.Cleanup(func() { p.close() })
	return p
}

func payloads(prefix string, n int) []AppendMessage {
	msgs := make([]AppendMessage, n)
	for i := range msgs {
		msgs[i] = AppendMessage{Payload: []byte(fmt.Sprintf("%s-%d", prefix, i))}
	}
	return msgs
}

// assertCacheIsSuffix checks that the cache holds a contiguous range ending
// at the partition's last offset, and covers every unsaved message.
func assertCacheIsSuffix(t *testing.T, p *Partition) {
	t.Helper()
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.cache.Len() == 0 {
		if p.durableOffset != p.nextOffset {
			t.Fatalf("empty cache with unsaved offsets [%d, %d)", p.durableOffset, p.nextOffset)
		}
		return
	}
	first, last := p.cache.FirstOffset(), p.cache.LastOffset()
	if last != p.nextOffset-1 {
		t.Fatalf("cache ends at %d, next offset is %d", last, p.nextOffset)
	}
	if first > p.durableOffset {
		t.Fatalf("cache starts at %d above durable offset %d", first, p.durableOffset)
	}
	for i, m := range p.cache.Range(first, last+1) {
		if m.Offset != first+uint64(i) {
			t.Fatalf("cache gap: position %d holds offset %d", i, m.Offset)
		}
	}
}

func TestPartitionAppendAssignsContiguousOffsets(t *testing.T) {
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(cache.NewMemoryTracker(1<<30)))

	var want uint64
	for i, n := range []int{1, 3, 7, 2} {
		r, err := p.Append(payloads("m", n))
		if err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
		if r.First != want || r.Last != want+uint64(n)-1 || r.Count() != uint64(n) {
			t.Errorf("Append %d: got range [%d, %d], want first %d count %d", i, r.First, r.Last, want, n)
		}
		want += uint64(n)
	}
	if p.NextOffset() != want {
		t.Errorf("Expected next offset %d, got %d", want, p.NextOffset())
	}
	assertCacheIsSuffix(t, p)
}

func TestPartitionReadYourWrite(t *testing.T) {
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(cache.NewMemoryTracker(1<<30)))

	in := []AppendMessage{
		{Key: []byte("k1"), Payload: []byte("a"), Headers: map[string][]byte{"h": []byte("v")}},
		{Payload: []byte("b")},
		{Payload: []byte("c")},
	}
	r, err := p.Append(in)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, fromCache, err := p.Read(r.First, uint32(r.Count()))
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if !fromCache {
		t.Error("Expected the fresh batch to be served from the cache")
	}
	if len(got) != len(in) {
		t.Fatalf("Expected %d messages, got %d", len(in), len(got))
	}
	for i, m := range got {
		if !bytes.Equal(m.Payload, in[i].Payload) {
			t.Errorf("Message %d: payload %q, want %q", i, m.Payload, in[i].Payload)
		}
		if m.Offset != r.First+uint64(i) {
			t.Errorf("Message %d: offset %d", i, m.Offset)
		}
	}
	if string(got[0].Key) != "k1" || string(got[0].Headers["h"]) != "v" {
		t.Errorf("Key or headers lost: %+v", got[0])
	}
	if got[0].ID == got[1].ID {
		t.Error("Expected distinct message ids")
	}
}

func TestPartitionTimestampsNeverDecrease(t *testing.T) {
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(cache.NewMemoryTracker(1<<30)))
	for i := 0; i < 20; i++ {
		p.Append(payloads("m", 2))
	}
	got, _, _ := p.Read(0, 40)
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp < got[i-1].Timestamp {
			t.Fatalf("Timestamp decreased at offset %d", got[i].Offset)
		}
	}
}

func TestPartitionReadPolicy(t *testing.T) {
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	opts.cacheEnabled = false
	p := newTestPartition(t, t.TempDir(), opts)
	for i := 0; i < 3; i++ {
		p.Append(payloads("m", 10))
	}
	if removed, err := p.DeleteSegmentsBefore(10); err != nil || removed != 10 {
		t.Fatalf("DeleteSegmentsBefore = %d, %v", removed, err)
	}

	if _, _, err := p.Read(5, 10); !errors.Is(err, ErrOffsetOutOfRange) {
		t.Errorf("Expected ErrOffsetOutOfRange below the lowest offset, got %v", err)
	}
	got, _, err := p.Read(30, 10)
	if err != nil || len(got) != 0 {
		t.Errorf("Expected empty read at the next offset, got %d messages (err=%v)", len(got), err)
	}
	got, _, err = p.Read(25, 100)
	if err != nil || len(got) != 5 {
		t.Errorf("Expected end clamped to 5 messages, got %d (err=%v)", len(got), err)
	}
}

func TestPartitionWriteFailureDoesNotAdvanceOffset(t *testing.T) {
	tracker := cache.NewMemoryTracker(1 << 30)
	opts := testPartitionOptions(tracker)
	persister := &failingPersister{}
	opts.persister = persister
	p := newTestPartition(t, t.TempDir(), opts)

	if _, err := p.Append(payloads("ok", 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	sizeBefore := p.CacheSize()

	persister.fail.Store(true)
	_, err := p.Append(payloads("lost", 2))
	if !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Expected ErrWriteFailed, got %v", err)
	}
	if KindOf(err) != KindWriteFailed {
		t.Errorf("Expected KindWriteFailed, got %s", KindOf(err))
	}
	if p.NextOffset() != 3 {
		t.Errorf("Offset advanced to %d after failed append", p.NextOffset())
	}
	if p.CacheSize() != sizeBefore || tracker.Usage() != sizeBefore {
		t.Errorf("Cache not rolled back: size %d tracker %d want %d", p.CacheSize(), tracker.Usage(), sizeBefore)
	}
	assertCacheIsSuffix(t, p)

	persister.fail.Store(false)
	r, err := p.Append(payloads("retry", 1))
	if err != nil || r.First != 3 {
		t.Fatalf("Append after recovery = %+v, %v; want first offset 3", r, err)
	}
	got, _, _ := p.Read(0, 10)
	if len(got) != 4 || string(got[3].Payload) != "retry-0" {
		t.Errorf("Unexpected contents after retry: %d messages", len(got))
	}
}

func TestPartitionFsyncFailureDoesNotAdvanceOffset(t *testing.T) {
	dir := t.TempDir()
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	persister := &syncFailingPersister{}
	opts.persister = persister
	p, err := openPartition(1, 1, 0, dir, opts)
	if err != nil {
		t.Fatalf("openPartition failed: %v", err)
	}

	if _, err := p.Append(payloads("ok", 3)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	storePath, _ := storage.SegmentFileNames(dir, 0)
	before, _ := os.Stat(storePath)

	persister.fail.Store(true)
	_, err = p.Append(payloads("lost", 2))
	if !errors.Is(err, ErrWriteFailed) || KindOf(err) != KindWriteFailed {
		t.Fatalf("Expected ErrWriteFailed, got %v", err)
	}
	persister.fail.Store(false)

	if p.NextOffset() != 3 {
		t.Errorf("Offset advanced to %d after failed fsync", p.NextOffset())
	}
	after, _ := os.Stat(storePath)
	if after.Size() != before.Size() {
		t.Errorf("Expected the store truncated to %d bytes, got %d", before.Size(), after.Size())
	}
	assertCacheIsSuffix(t, p)

	r, err := p.Append(payloads("retry", 1))
	if err != nil || r.First != 3 {
		t.Fatalf("Append after recovery = %+v, %v; want first offset 3", r, err)
	}
	if err := p.PersistMessages(); err != nil {
		t.Fatalf("PersistMessages failed: %v", err)
	}
	p.close()

	reopened := newTestPartition(t, dir, opts)
	got, _, err := reopened.Read(0, 10)
	if err != nil || len(got) != 4 || string(got[3].Payload) != "retry-0" {
		t.Errorf("Expected 4 durable messages ending with retry-0, got %d (err=%v)", len(got), err)
	}
}

func TestPartitionWriteBehindFailureKeepsEarlierBatches(t *testing.T) {
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	persister := &failingPersister{}
	opts.persister = persister
	opts.messagesRequiredToSave = 5
	p := newTestPartition(t, t.TempDir(), opts)

	// Three unsaved messages stay in the cache.
	p.Append(payloads("early", 3))
	persister.fail.Store(true)
	if _, err := p.Append(payloads("late", 2)); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Expected ErrWriteFailed, got %v", err)
	}
	if next, durable := p.Offsets(); next != 3 || durable != 0 {
		t.Errorf("Expected next=3 durable=0, got next=%d durable=%d", next, durable)
	}

	persister.fail.Store(false)
	if err := p.PersistMessages(); err != nil {
		t.Fatalf("PersistMessages failed: %v", err)
	}
	if next, durable := p.Offsets(); next != 3 || durable != 3 {
		t.Errorf("Expected next=3 durable=3, got next=%d durable=%d", next, durable)
	}
}

func TestPartitionEvictionKeepsUnsavedMessages(t *testing.T) {
	tracker := cache.NewMemoryTracker(1 << 30)
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(tracker))

	p.Append(payloads("durable", 950))
	p.opts.messagesRequiredToSave = 1000
	p.Append(payloads("unsaved", 50))

	if next, durable := p.Offsets(); next != 1000 || durable != 950 {
		t.Fatalf("Expected next=1000 durable=950, got next=%d durable=%d", next, durable)
	}

	freed := p.EvictCache(1 << 40)
	if freed == 0 {
		t.Error("Expected durable messages to be evicted")
	}
	p.mu.RLock()
	first := p.cache.FirstOffset()
	p.mu.RUnlock()
	if first != 950 {
		t.Errorf("Expected cache to start at 950, got %d", first)
	}
	if tracker.Usage() != p.CacheSize() {
		t.Errorf("Tracker %d does not match cache size %d", tracker.Usage(), p.CacheSize())
	}
	assertCacheIsSuffix(t, p)

	got, fromCache, err := p.Read(900, 100)
	if err != nil {
		t.Fatalf("Read across disk and cache failed: %v", err)
	}
	if fromCache || len(got) != 100 {
		t.Fatalf("Expected 100 merged messages, got %d (fromCache=%v)", len(got), fromCache)
	}
	for i, m := range got {
		if m.Offset != 900+uint64(i) {
			t.Fatalf("Expected offset %d, got %d", 900+i, m.Offset)
		}
	}
	if string(got[50].Payload) != "unsaved-0" {
		t.Errorf("Unexpected payload at 950: %q", got[50].Payload)
	}
}

func TestPartitionCacheDisabled(t *testing.T) {
	tracker := cache.NewMemoryTracker(1 << 30)
	opts := testPartitionOptions(tracker)
	opts.cacheEnabled = false
	p := newTestPartition(t, t.TempDir(), opts)

	p.Append(payloads("m", 5))
	if p.CacheSize() != 0 || tracker.Usage() != 0 {
		t.Errorf("Expected empty cache, got %d bytes (tracker %d)", p.CacheSize(), tracker.Usage())
	}
	got, fromCache, err := p.Read(0, 5)
	if err != nil || len(got) != 5 || fromCache {
		t.Errorf("Read = %d messages, fromCache=%v, err=%v", len(got), fromCache, err)
	}
}

func TestPartitionRecovery(t *testing.T) {
	dir := t.TempDir()
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))

	p, err := openPartition(1, 1, 0, dir, opts)
	if err != nil {
		t.Fatalf("openPartition failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		p.Append(payloads(fmt.Sprintf("b%d", i), 7))
	}
	want, _, _ := p.Read(0, 100)
	lastTS := want[len(want)-1].Timestamp
	p.close()

	for round := 0; round < 2; round++ {
		p, err := openPartition(1, 1, 0, dir, opts)
		if err != nil {
			t.Fatalf("Reopen %d failed: %v", round, err)
		}
		if p.NextOffset() != 35 {
			t.Errorf("Reopen %d: next offset %d, want 35", round, p.NextOffset())
		}
		if p.lastTimestamp != lastTS {
			t.Errorf("Reopen %d: last timestamp %d, want %d", round, p.lastTimestamp, lastTS)
		}
		got, _, err := p.Read(0, 100)
		if err != nil || len(got) != len(want) {
			t.Fatalf("Reopen %d: read %d messages (err=%v)", round, len(got), err)
		}
		for i := range got {
			if !bytes.Equal(got[i].Payload, want[i].Payload) || got[i].ID != want[i].ID {
				t.Errorf("Reopen %d: message %d differs", round, i)
			}
		}
		p.close()
	}
}

func TestPartitionMessagesAreImmutable(t *testing.T) {
	dir := t.TempDir()
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	opts.messagesRequiredToSave = 10

	p, err := openPartition(1, 1, 0, dir, opts)
	if err != nil {
		t.Fatalf("openPartition failed: %v", err)
	}
	payload, key, header := []byte("aaaa"), []byte("key"), []byte("val")
	if _, err := p.Append([]AppendMessage{{Key: key, Payload: payload, Headers: map[string][]byte{"h": header}}}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	copy(payload, "ZZZZ")
	copy(key, "ZZZ")
	copy(header, "ZZZ")

	check := func(stage string, m *storage.Message) {
		t.Helper()
		if string(m.Payload) != "aaaa" || string(m.Key) != "key" || string(m.Headers["h"]) != "val" {
			t.Errorf("%s: got payload %q key %q header %q, want the appended bytes",
				stage, m.Payload, m.Key, m.Headers["h"])
		}
	}

	got, fromCache, err := p.Read(0, 1)
	if err != nil || len(got) != 1 || !fromCache {
		t.Fatalf("Read = %d messages, cache %v, err %v", len(got), fromCache, err)
	}
	check("after the producer reused its buffers", got[0])

	got[0].Payload[0] = 'X'
	got[0].Key[0] = 'X'
	got[0].Headers["h"][0] = 'X'
	again, _, _ := p.Read(0, 1)
	check("after a reader modified its result", again[0])

	if err := p.PersistMessages(); err != nil {
		t.Fatalf("PersistMessages failed: %v", err)
	}
	p.close()

	reopened := newTestPartition(t, dir, opts)
	durable, fromCache, err := reopened.Read(0, 1)
	if err != nil || len(durable) != 1 || fromCache {
		t.Fatalf("Read after reopen = %d messages, cache %v, err %v", len(durable), fromCache, err)
	}
	check("after restart", durable[0])
}

func TestPartitionPersistMessages(t *testing.T) {
	dir := t.TempDir()
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	opts.messagesRequiredToSave = 1000

	p, _ := openPartition(1, 1, 0, dir, opts)
	p.Append(payloads("m", 10))
	if _, durable := p.Offsets(); durable != 0 {
		t.Fatalf("Expected nothing durable before persist, got %d", durable)
	}
	if err := p.PersistMessages(); err != nil {
		t.Fatalf("PersistMessages failed: %v", err)
	}
	p.close()

	p, _ = openPartition(1, 1, 0, dir, opts)
	defer p.close()
	if p.NextOffset() != 10 {
		t.Errorf("Expected 10 messages after reopen, got %d", p.NextOffset())
	}
}

func TestPartitionOffsetForTimestamp(t *testing.T) {
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	opts.messagesRequiredToSave = 4
	p := newTestPartition(t, t.TempDir(), opts)
	for i := 0; i < 6; i++ {
		p.Append(payloads("m", 1))
	}
	all, _, _ := p.Read(0, 6)

	// Offsets 4 and 5 are unsaved and only in the cache.
	for _, m := range all {
		off, err := p.OffsetForTimestamp(m.Timestamp)
		if err != nil {
			t.Fatalf("OffsetForTimestamp failed: %v", err)
		}
		if off > m.Offset || all[off].Timestamp != m.Timestamp {
			t.Errorf("OffsetForTimestamp(%d) = %d, message at %d", m.Timestamp, off, m.Offset)
		}
	}
	if off, _ := p.OffsetForTimestamp(all[5].Timestamp + 1); off != 6 {
		t.Errorf("Expected next offset for a future timestamp, got %d", off)
	}
}

func TestPartitionEncryptedPayloads(t *testing.T) {
	key, _ := crypto.GenerateKey()
	enc, err := crypto.NewAESGCM(key)
	if err != nil {
		t.Fatalf("NewAESGCM failed: %v", err)
	}
	codec, err := storage.NewPayloadCodec(nil, 0, enc)
	if err != nil {
		t.Fatalf("NewPayloadCodec failed: %v", err)
	}
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	opts.codec = codec
	p := newTestPartition(t, t.TempDir(), opts)

	p.Append([]AppendMessage{{Payload: []byte("top-secret-payload")}})

	p.mu.RLock()
	cached := p.cache.Range(0, 1)[0]
	p.mu.RUnlock()
	if bytes.Contains(cached.Payload, []byte("top-secret")) || cached.Flags&storage.FlagEncrypted == 0 {
		t.Error("Expected the cached payload to be encrypted")
	}

	got, _, err := p.Read(0, 1)
	if err != nil || string(got[0].Payload) != "top-secret-payload" {
		t.Errorf("Read = %v, %v", got, err)
	}
	if got[0] == cached {
		t.Error("Decoded message must not alias the cached one")
	}
}

func TestPartitionConcurrentAppends(t *testing.T) {
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(cache.NewMemoryTracker(1<<30)))

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	ranges := make(chan OffsetRange, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				r, err := p.Append(payloads(fmt.Sprintf("w%d", w), 2))
				if err != nil {
					t.Errorf("Append failed: %v", err)
					return
				}
				ranges <- r
			}
		}(w)
	}
	wg.Wait()
	close(ranges)

	seen := make(map[uint64]bool)
	for r := range ranges {
		for off := r.First; off <= r.Last; off++ {
			if seen[off] {
				t.Fatalf("Offset %d assigned twice", off)
			}
			seen[off] = true
		}
	}
	total := uint64(writers * perWriter * 2)
	if uint64(len(seen)) != total || p.NextOffset() != total {
		t.Errorf("Expected %d offsets, got %d (next %d)", total, len(seen), p.NextOffset())
	}
	got, _, _ := p.Read(0, uint32(total))
	for i, m := range got {
		if m.Offset != uint64(i) {
			t.Fatalf("Read out of order at %d: offset %d", i, m.Offset)
		}
	}
	assertCacheIsSuffix(t, p)
}

func TestPartitionPurge(t *testing.T) {
	tracker := cache.NewMemoryTracker(1 << 30)
	p := newTestPartition(t, t.TempDir(), testPartitionOptions(tracker))
	p.Append(payloads("m", 25))

	if err := p.Purge(); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	st := p.Stats()
	if st.NextOffset != 0 || st.Segments != 1 || st.CacheBytes != 0 || tracker.Usage() != 0 {
		t.Errorf("Unexpected stats after purge: %+v (tracker %d)", st, tracker.Usage())
	}
	r, err := p.Append(payloads("again", 1))
	if err != nil || r.First != 0 {
		t.Errorf("Append after purge = %+v, %v", r, err)
	}
}

func TestPartitionDeleteExpiredSegments(t *testing.T) {
	opts := testPartitionOptions(cache.NewMemoryTracker(1 << 30))
	p := newTestPartition(t, t.TempDir(), opts)
	for i := 0; i < 3; i++ {
		p.Append(payloads("m", 10))
	}
	removed, err := p.DeleteExpiredSegments(p.lastTimestamp + 1)
	if err != nil {
		t.Fatalf("DeleteExpiredSegments failed: %v", err)
	}
	if removed != 20 || p.Stats().LowestOffset != 20 {
		t.Errorf("Expected 20 removed and lowest 20, got %d and %d", removed, p.Stats().LowestOffset)
	}
	assertCacheIsSuffix(t, p)
}
