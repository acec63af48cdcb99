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
Segment combines a Store and Index to manage a contiguous range of a
partition's offsets.

SEGMENT LIFECYCLE:
==================
1. Created when a partition is created or the previous segment is full
2. Receives appends while it is the partition's open segment
3. Sealed when it reaches MaxStoreBytes or MaxMessages; a sealed segment
   is never written again
4. Removed by retention, purge or deletion of its partition

FILE NAMING:
============
Files are named with the zero-padded base offset:
{baseOffset:020d}.log and {baseOffset:020d}.index. Padding keeps a
directory listing in offset order.

RECOVERY:
=========
OpenSegment validates the index against the store. When they agree the index
is used as-is. Otherwise the store is scanned from the start and the index is
rebuilt. During the scan:
  - a torn or checksum-failing record in the open segment is truncated away
    together with everything after it, and a warning is logged
  - the same condition in a sealed segment fails with ErrCorruptState
  - a record whose offset breaks the contiguous sequence fails with
    ErrCorruptState in any segment
*/
package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"flystream/internal/logging"
)

const (
	storeSuffix = ".log"
	indexSuffix = ".index"
)

// Segment manages a store and index pair for a range of messages.
type Segment struct {
	dir string

	// baseOffset is the first offset in this segment.
	baseOffset uint64

	// nextOffset is the offset the next appended message will receive.
	nextOffset uint64

	store     *Store
	index     *Index
	persister Persister
	config    Config

	sealed bool

	startTimestamp uint64
	endTimestamp   uint64

	logger *logging.Logger
}

// SegmentFileNames returns the store and index paths of the segment starting
// at baseOffset in dir.
func SegmentFileNames(dir string, baseOffset uint64) (string, string) {
	name := fmt.Sprintf("%020d", baseOffset)
	return filepath.Join(dir, name+storeSuffix), filepath.Join(dir, name+indexSuffix)
}

// ListSegments returns the base offsets of the segments stored in dir, in
// ascending order.
func ListSegments(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var offsets []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), storeSuffix) {
			continue
		}
		off, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), storeSuffix), 10, 64)
		if err != nil {
			continue
		}
		offsets = append(offsets, off)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}

// OpenSegment creates or opens the segment starting at baseOffset. Only the
// partition's newest segment is opened with active set; the others are
// opened sealed.
func OpenSegment(dir string, baseOffset uint64, c Config, persister Persister, active bool) (*Segment, error) {
	c = c.withDefaults()
	s := &Segment{
		dir:        dir,
		baseOffset: baseOffset,
		nextOffset: baseOffset,
		persister:  persister,
		config:     c,
		logger:     logging.NewLogger("segment"),
	}

	storePath, indexPath := SegmentFileNames(dir, baseOffset)
	var err error
	if s.store, err = OpenStore(storePath, persister); err != nil {
		return nil, err
	}
	indexFile, err := os.OpenFile(indexPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		s.store.Close()
		return nil, err
	}
	if s.index, err = NewIndex(indexFile, c.Segment.IndexInitialBytes); err != nil {
		indexFile.Close()
		s.store.Close()
		return nil, err
	}

	if err := s.recover(active); err != nil {
		s.Close()
		return nil, err
	}
	s.sealed = !active
	return s, nil
}

func (s *Segment) recover(active bool) error {
	if s.store.Size() == 0 {
		s.index.Reset(0)
		return nil
	}
	if n := s.index.Entries(); n > 0 {
		if first, last, ok := s.indexMatchesStore(n); ok {
			s.nextOffset = s.baseOffset + n
			s.startTimestamp = first.Timestamp
			s.endTimestamp = last.Timestamp
			return nil
		}
	}
	return s.rebuild(active)
}

// indexMatchesStore checks that the last index entry points at a valid
// record with the expected offset that ends exactly at the end of the store.
func (s *Segment) indexMatchesStore(entries uint64) (*Message, *Message, bool) {
	_, pos, err := s.index.Read(-1)
	if err != nil {
		return nil, nil, false
	}
	rec, err := s.store.Read(pos)
	if err != nil || pos+lenWidth+uint64(len(rec)) != s.store.Size() {
		return nil, nil, false
	}
	last, err := DecodeMessage(rec)
	if err != nil || last.Offset != s.baseOffset+entries-1 {
		return nil, nil, false
	}
	rec, err = s.store.Read(0)
	if err != nil {
		return nil, nil, false
	}
	first, err := DecodeMessage(rec)
	if err != nil || first.Offset != s.baseOffset {
		return nil, nil, false
	}
	return first, last, true
}

// rebuild scans the store from the start and rewrites the index.
func (s *Segment) rebuild(active bool) error {
	s.index.Reset(0)
	size := s.store.Size()
	r := bufio.NewReaderSize(io.NewSectionReader(s.store.File, 0, int64(size)), 256*1024)

	var pos uint64
	expected := s.baseOffset
	lenBuf := make([]byte, lenWidth)
	for pos < size {
		m, n, err := readRecord(r, lenBuf, size-pos)
		if err == nil && m.Offset != expected {
			return fmt.Errorf("%w: %s: record at position %d has offset %d, expected %d",
				ErrCorruptState, s.store.Name(), pos, m.Offset, expected)
		}
		if err != nil {
			if !active || !(errors.Is(err, errTornRecord) || errors.Is(err, errChecksumMismatch)) {
				return fmt.Errorf("%w: %s: position %d: %v", ErrCorruptState, s.store.Name(), pos, err)
			}
			s.logger.Warn("Truncating invalid segment tail",
				"file", s.store.Name(),
				"position", pos,
				"dropped_bytes", size-pos,
				"reason", err.Error())
			if err := s.store.Truncate(pos); err != nil {
				return fmt.Errorf("%w: truncate %s: %v", ErrCorruptState, s.store.Name(), err)
			}
			break
		}
		if err := s.index.Write(uint32(expected-s.baseOffset), pos); err != nil {
			return err
		}
		if expected == s.baseOffset {
			s.startTimestamp = m.Timestamp
		}
		s.endTimestamp = m.Timestamp
		pos += n
		expected++
	}
	s.nextOffset = expected
	return s.index.Sync()
}

// readRecord reads one framed record from r. remaining is the number of
// bytes left in the store and bounds the declared length.
func readRecord(r io.Reader, lenBuf []byte, remaining uint64) (*Message, uint64, error) {
	if remaining < lenWidth {
		return nil, 0, errTornRecord
	}
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errTornRecord, err)
	}
	n := enc.Uint64(lenBuf)
	if n > remaining-lenWidth {
		return nil, 0, errTornRecord
	}
	rec := make([]byte, n)
	if _, err := io.ReadFull(r, rec); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", errTornRecord, err)
	}
	m, err := DecodeMessage(rec)
	if err != nil {
		return nil, 0, err
	}
	return m, lenWidth + n, nil
}

// Append writes a batch of messages whose offsets continue the segment's
// sequence. The batch is written with one persister call; on failure the
// segment is left exactly as it was.
func (s *Segment) Append(msgs []*Message) error {
	if s.sealed {
		return ErrSegmentSealed
	}
	if len(msgs) == 0 {
		return nil
	}
	records := make([][]byte, len(msgs))
	for i, m := range msgs {
		if m.Offset != s.nextOffset+uint64(i) {
			return fmt.Errorf("%w: message offset %d does not follow %d",
				ErrWriteFailed, m.Offset, s.nextOffset+uint64(i)-1)
		}
		records[i] = EncodeMessage(m)
	}

	prevEntries := s.index.Entries()
	prevSize := s.store.Size()
	positions, err := s.store.AppendBatch(records)
	if err != nil {
		return err
	}
	for i, pos := range positions {
		if err := s.index.Write(uint32(msgs[i].Offset-s.baseOffset), pos); err != nil {
			s.index.Reset(prevEntries)
			if terr := s.store.Truncate(prevSize); terr != nil {
				return fmt.Errorf("%w: index: %v (rollback: %v)", ErrWriteFailed, err, terr)
			}
			return fmt.Errorf("%w: index: %v", ErrWriteFailed, err)
		}
	}

	if s.nextOffset == s.baseOffset {
		s.startTimestamp = msgs[0].Timestamp
	}
	s.endTimestamp = msgs[len(msgs)-1].Timestamp
	s.nextOffset += uint64(len(msgs))
	return nil
}

// Read retrieves a message by its absolute offset.
func (s *Segment) Read(off uint64) (*Message, error) {
	msgs, err := s.ReadRange(off, off+1)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrOffsetOutOfRange, off)
	}
	return msgs[0], nil
}

// ReadRange returns the messages with offsets in [start, end), clamped to the
// segment's range. The span is read from the store with a single ReadAt.
func (s *Segment) ReadRange(start, end uint64) ([]*Message, error) {
	if start < s.baseOffset {
		start = s.baseOffset
	}
	if end > s.nextOffset {
		end = s.nextOffset
	}
	if start >= end {
		return nil, nil
	}

	_, startPos, err := s.index.Read(int64(start - s.baseOffset))
	if err != nil {
		return nil, fmt.Errorf("%w: index lookup of %d in %s: %v", ErrReadFailed, start, s.index.Name(), err)
	}
	endPos := s.store.Size()
	if end < s.nextOffset {
		if _, endPos, err = s.index.Read(int64(end - s.baseOffset)); err != nil {
			return nil, fmt.Errorf("%w: index lookup of %d in %s: %v", ErrReadFailed, end, s.index.Name(), err)
		}
	}

	buf := make([]byte, endPos-startPos)
	if _, err := s.store.ReadAt(buf, int64(startPos)); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrReadFailed, s.store.Name(), err)
	}

	msgs := make([]*Message, 0, end-start)
	for p := uint64(0); p < uint64(len(buf)); {
		if p+lenWidth > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: %s: truncated length at %d", ErrReadFailed, s.store.Name(), startPos+p)
		}
		n := enc.Uint64(buf[p:])
		p += lenWidth
		if p+n > uint64(len(buf)) {
			return nil, fmt.Errorf("%w: %s: truncated record at %d", ErrReadFailed, s.store.Name(), startPos+p)
		}
		m, err := DecodeMessage(buf[p : p+n])
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrReadFailed, s.store.Name(), err)
		}
		msgs = append(msgs, m)
		p += n
	}
	return msgs, nil
}

// FindByTimestamp returns the first offset whose timestamp is at or after ts.
// The boolean is false when every message in the segment is older.
func (s *Segment) FindByTimestamp(ts uint64) (uint64, bool, error) {
	count := s.nextOffset - s.baseOffset
	if count == 0 || s.endTimestamp < ts {
		return 0, false, nil
	}
	if s.startTimestamp >= ts {
		return s.baseOffset, true, nil
	}
	var searchErr error
	i := sort.Search(int(count), func(i int) bool {
		if searchErr != nil {
			return true
		}
		m, err := s.Read(s.baseOffset + uint64(i))
		if err != nil {
			searchErr = err
			return true
		}
		return m.Timestamp >= ts
	})
	if searchErr != nil {
		return 0, false, searchErr
	}
	return s.baseOffset + uint64(i), true, nil
}

// IsFull reports whether the segment reached its size or count limit.
func (s *Segment) IsFull() bool {
	if s.store.Size() >= s.config.Segment.MaxStoreBytes {
		return true
	}
	return s.config.Segment.MaxMessages > 0 && s.nextOffset-s.baseOffset >= s.config.Segment.MaxMessages
}

// Seal flushes the segment and makes it read-only.
func (s *Segment) Seal() error {
	if s.sealed {
		return nil
	}
	if err := s.index.Sync(); err != nil {
		return fmt.Errorf("%w: seal %s: %v", ErrWriteFailed, s.index.Name(), err)
	}
	if err := s.store.Sync(); err != nil {
		return fmt.Errorf("%w: seal %s: %v", ErrWriteFailed, s.store.Name(), err)
	}
	s.sealed = true
	return nil
}

// Sync flushes pending store and index data through the persister.
func (s *Segment) Sync() error {
	if err := s.index.Sync(); err != nil {
		return err
	}
	return s.store.Sync()
}

// Close closes the segment's index and store files.
func (s *Segment) Close() error {
	if err := s.index.Close(); err != nil {
		return err
	}
	return s.store.Close()
}

// Remove closes the segment and deletes its files from disk.
func (s *Segment) Remove() error {
	if err := s.Close(); err != nil {
		return err
	}
	if err := s.persister.Delete(s.index.Name()); err != nil {
		return err
	}
	return s.persister.Delete(s.store.Name())
}

// BaseOffset returns the first offset of the segment.
func (s *Segment) BaseOffset() uint64 { return s.baseOffset }

// NextOffset returns the offset the next appended message would receive.
func (s *Segment) NextOffset() uint64 { return s.nextOffset }

// MessageCount returns the number of messages in the segment.
func (s *Segment) MessageCount() uint64 { return s.nextOffset - s.baseOffset }

// SizeBytes returns the size of the data file.
func (s *Segment) SizeBytes() uint64 { return s.store.Size() }

// IsSealed reports whether the segment no longer accepts appends.
func (s *Segment) IsSealed() bool { return s.sealed }

// StartTimestamp returns the timestamp of the first message, or 0.
func (s *Segment) StartTimestamp() uint64 { return s.startTimestamp }

// EndTimestamp returns the timestamp of the last message, or 0.
func (s *Segment) EndTimestamp() uint64 { return s.endTimestamp }
