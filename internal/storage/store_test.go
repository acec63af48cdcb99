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

package storage

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func TestStoreAppendBatchAndRead(t *testing.T) {
	s, err := OpenStore(filepath.Join(t.TempDir(), "test.log"), FilePersister{})
	if err != nil {
		t.Fatalf("OpenStore failed: %v", err)
	}
	defer s.Close()

	records := [][]byte{[]byte("first"), []byte("second"), []byte("third")}
	positions, err := s.AppendBatch(records)
	if err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}

	var want uint64
	for i, r := range records {
		if positions[i] != want {
			t.Errorf("Record %d: expected position %d, got %d", i, want, positions[i])
		}
		got, err := s.Read(positions[i])
		if err != nil {
			t.Fatalf("Read(%d) failed: %v", positions[i], err)
		}
		if !bytes.Equal(got, r) {
			t.Errorf("Record %d: expected %q, got %q", i, r, got)
		}
		want += lenWidth + uint64(len(r))
	}
	if s.Size() != want {
		t.Errorf("Expected size %d, got %d", want, s.Size())
	}
}

func TestStoreReopenKeepsSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.log")
	s, _ := OpenStore(path, FsyncPersister{})
	if _, err := s.AppendBatch([][]byte{[]byte("persisted")}); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	size := s.Size()
	s.Close()

	s, err := OpenStore(path, FsyncPersister{})
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer s.Close()
	if s.Size() != size {
		t.Errorf("Expected size %d after reopen, got %d", size, s.Size())
	}
	got, err := s.Read(0)
	if err != nil || string(got) != "persisted" {
		t.Errorf("Expected %q, got %q (err=%v)", "persisted", got, err)
	}
}

func TestStoreFailedAppendLeavesNoTrace(t *testing.T) {
	p := &failingPersister{}
	s, _ := OpenStore(filepath.Join(t.TempDir(), "test.log"), p)
	defer s.Close()

	if _, err := s.AppendBatch([][]byte{[]byte("ok")}); err != nil {
		t.Fatalf("AppendBatch failed: %v", err)
	}
	size := s.Size()

	p.fail = true
	if _, err := s.AppendBatch([][]byte{[]byte("lost"), []byte("lost too")}); !errors.Is(err, ErrWriteFailed) {
		t.Fatalf("Expected ErrWriteFailed, got %v", err)
	}
	if s.Size() != size {
		t.Errorf("Expected size %d after failed append, got %d", size, s.Size())
	}
}

func TestStoreTruncate(t *testing.T) {
	s, _ := OpenStore(filepath.Join(t.TempDir(), "test.log"), FilePersister{})
	defer s.Close()

	positions, _ := s.AppendBatch([][]byte{[]byte("keep"), []byte("drop")})
	if err := s.Truncate(positions[1]); err != nil {
		t.Fatalf("Truncate failed: %v", err)
	}
	if s.Size() != positions[1] {
		t.Errorf("Expected size %d, got %d", positions[1], s.Size())
	}
	if _, err := s.Read(positions[1]); err == nil {
		t.Error("Expected error reading truncated record")
	}
}

func TestNewPersister(t *testing.T) {
	if got := NewPersister(true).Name(); got != "fsync" {
		t.Errorf("Expected fsync persister, got %s", got)
	}
	if got := NewPersister(false).Name(); got != "buffered" {
		t.Errorf("Expected buffered persister, got %s", got)
	}
}
