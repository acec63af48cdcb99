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
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sort"
	"strconv"
	"sync/atomic"
	"time"
)

// Partitioning selects the partition an append goes to.
type Partitioning struct {
	Kind        PartitioningKind
	PartitionID uint32
	Key         []byte
}

// PartitioningKind enumerates partition selection strategies.
type PartitioningKind uint8

const (
	// PartitionBalanced picks partitions round-robin.
	PartitionBalanced PartitioningKind = iota
	// PartitionByID targets an explicit partition.
	PartitionByID
	// PartitionByKey hashes a key so equal keys share a partition.
	PartitionByKey
)

// Balanced returns round-robin partitioning.
func Balanced() Partitioning { return Partitioning{Kind: PartitionBalanced} }

// ToPartition targets partition id.
func ToPartition(id uint32) Partitioning { return Partitioning{Kind: PartitionByID, PartitionID: id} }

// ByKey hashes key to pick the partition.
func ByKey(key []byte) Partitioning { return Partitioning{Kind: PartitionByKey, Key: key} }

// ConsumerGroup is a named reader identity whose offsets are shared by its
// members.
type ConsumerGroup struct {
	ID   uint32
	Name string
}

// Topic is a named collection of partitions within a stream. Its structure
// is guarded by the System lock; partitions guard their own contents.
type Topic struct {
	StreamID  uint32
	ID        uint32
	Name      string
	CreatedAt time.Time
	Path      string

	// partitions[i].ID == i
	partitions []*Partition

	groups      map[uint32]*ConsumerGroup
	groupNames  map[string]uint32
	nextGroupID uint32

	rrCounter atomic.Uint64
}

func newTopic(streamID, id uint32, name, streamPath string, createdAt time.Time) *Topic {
	return &Topic{
		StreamID:    streamID,
		ID:          id,
		Name:        name,
		CreatedAt:   createdAt,
		Path:        filepath.Join(streamPath, "topics", strconv.FormatUint(uint64(id), 10)),
		groups:      make(map[uint32]*ConsumerGroup),
		groupNames:  make(map[string]uint32),
		nextGroupID: 1,
	}
}

func (t *Topic) partitionPath(id uint32) string {
	return filepath.Join(t.Path, "partitions", strconv.FormatUint(uint64(id), 10))
}

// Partitions returns the topic's partitions ordered by id.
func (t *Topic) Partitions() []*Partition {
	out := make([]*Partition, len(t.partitions))
	copy(out, t.partitions)
	return out
}

// PartitionCount returns the number of partitions.
func (t *Topic) PartitionCount() int { return len(t.partitions) }

// Partition returns partition id.
func (t *Topic) Partition(id uint32) (*Partition, error) {
	if int(id) >= len(t.partitions) {
		return nil, fmt.Errorf("%w: partition %d of topic %d (topic has %d)", ErrNotFound, id, t.ID, len(t.partitions))
	}
	return t.partitions[id], nil
}

// selectPartition resolves a partitioning strategy to a partition.
func (t *Topic) selectPartition(p Partitioning) (*Partition, error) {
	n := uint64(len(t.partitions))
	if n == 0 {
		return nil, fmt.Errorf("%w: topic %d has no partitions", ErrNotFound, t.ID)
	}
	switch p.Kind {
	case PartitionByID:
		return t.Partition(p.PartitionID)
	case PartitionByKey:
		if len(p.Key) == 0 {
			return nil, fmt.Errorf("%w: empty partitioning key", ErrInvalid)
		}
		h := fnv.New32a()
		h.Write(p.Key)
		return t.partitions[uint64(h.Sum32())%n], nil
	default:
		return t.partitions[(t.rrCounter.Add(1)-1)%n], nil
	}
}

// addPartitions opens count new partitions after the existing ones.
func (t *Topic) addPartitions(count uint32, opts partitionOptions) ([]*Partition, error) {
	added := make([]*Partition, 0, count)
	for i := uint32(0); i < count; i++ {
		id := uint32(len(t.partitions))
		p, err := openPartition(t.StreamID, t.ID, id, t.partitionPath(id), opts)
		if err != nil {
			for _, a := range added {
				a.remove()
			}
			t.partitions = t.partitions[:len(t.partitions)-len(added)]
			return nil, err
		}
		t.partitions = append(t.partitions, p)
		added = append(added, p)
	}
	return added, nil
}

// removePartitions deletes the count highest partitions and returns their
// ids.
func (t *Topic) removePartitions(count uint32) ([]uint32, error) {
	if int(count) > len(t.partitions) {
		return nil, fmt.Errorf("%w: cannot delete %d of %d partitions", ErrInvalid, count, len(t.partitions))
	}
	keep := len(t.partitions) - int(count)
	var ids []uint32
	var firstErr error
	for _, p := range t.partitions[keep:] {
		ids = append(ids, p.ID)
		if err := p.remove(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for i := keep; i < len(t.partitions); i++ {
		t.partitions[i] = nil
	}
	t.partitions = t.partitions[:keep]
	return ids, firstErr
}

// ConsumerGroups returns the topic's groups ordered by id.
func (t *Topic) ConsumerGroups() []*ConsumerGroup {
	out := make([]*ConsumerGroup, 0, len(t.groups))
	for _, g := range t.groups {
		c := *g
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ConsumerGroup resolves a group identifier.
func (t *Topic) ConsumerGroup(id Identifier) (*ConsumerGroup, error) {
	return resolve(id, t.groups, t.groupNames, "consumer group")
}

func (t *Topic) addGroup(g *ConsumerGroup) {
	t.groups[g.ID] = g
	t.groupNames[g.Name] = g.ID
	if g.ID >= t.nextGroupID {
		t.nextGroupID = g.ID + 1
	}
}

func (t *Topic) removeGroup(g *ConsumerGroup) {
	delete(t.groups, g.ID)
	delete(t.groupNames, g.Name)
}

// TopicStats describes a topic.
type TopicStats struct {
	ID             uint32
	Name           string
	CreatedAt      time.Time
	Partitions     []PartitionStats
	Messages       uint64
	SizeBytes      uint64
	ConsumerGroups int
}

// Stats returns a snapshot of the topic and its partitions.
func (t *Topic) Stats() TopicStats {
	st := TopicStats{
		ID:             t.ID,
		Name:           t.Name,
		CreatedAt:      t.CreatedAt,
		ConsumerGroups: len(t.groups),
	}
	for _, p := range t.partitions {
		ps := p.Stats()
		st.Partitions = append(st.Partitions, ps)
		st.Messages += ps.NextOffset - ps.LowestOffset
		st.SizeBytes += ps.SizeBytes
	}
	return st
}
