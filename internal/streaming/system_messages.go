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
	"errors"
	"fmt"

	"flystream/internal/auth"
	"flystream/internal/metastore"
	"flystream/internal/storage"
)

// PollingKind enumerates where a poll starts.
type PollingKind uint8

const (
	// PollOffset starts at an explicit offset.
	PollOffset PollingKind = iota
	// PollFirst starts at the lowest retained offset.
	PollFirst
	// PollLast returns the newest count messages.
	PollLast
	// PollNext starts at the consumer's stored offset, or the lowest
	// retained offset when none is stored.
	PollNext
	// PollTimestamp starts at the first message at or after a timestamp.
	PollTimestamp
)

// PollingStrategy selects the first offset of a poll.
type PollingStrategy struct {
	Kind  PollingKind
	Value uint64
}

// AtOffset polls from offset.
func AtOffset(offset uint64) PollingStrategy { return PollingStrategy{Kind: PollOffset, Value: offset} }

// First polls from the lowest retained offset.
func First() PollingStrategy { return PollingStrategy{Kind: PollFirst} }

// Last polls the newest messages.
func Last() PollingStrategy { return PollingStrategy{Kind: PollLast} }

// Next polls from the consumer's stored offset.
func Next() PollingStrategy { return PollingStrategy{Kind: PollNext} }

// AtTimestamp polls from the first message at or after ts (microseconds).
func AtTimestamp(ts uint64) PollingStrategy { return PollingStrategy{Kind: PollTimestamp, Value: ts} }

// PolledMessages is the result of a poll.
type PolledMessages struct {
	PartitionID uint32
	// NextOffset is the partition's next offset at poll time.
	NextOffset uint64
	Messages   []*storage.Message
}

// AppendMessages appends a batch to the partition chosen by partitioning and
// returns the offsets assigned to it.
func (s *System) AppendMessages(ctx context.Context, session *auth.Session, streamID, topicID Identifier,
	partitioning Partitioning, msgs []AppendMessage) (OffsetRange, error) {
	if len(msgs) == 0 {
		return OffsetRange{}, fmt.Errorf("%w: no messages", ErrInvalid)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return OffsetRange{}, err
	}
	if err := s.authorize(session, auth.PermissionSendMessages, st.ID); err != nil {
		return OffsetRange{}, err
	}
	p, err := t.selectPartition(partitioning)
	if err != nil {
		return OffsetRange{}, err
	}
	r, err := p.Append(msgs)
	if err != nil {
		return OffsetRange{}, err
	}

	s.metrics.CacheUsage.Set(float64(s.tracker.Usage()))
	if s.tracker.Exceeded() {
		s.evictor.Notify()
	}
	return r, nil
}

// PollMessages reads up to count messages from a partition. With
// autoCommit the consumer's offset is moved past the last returned message.
func (s *System) PollMessages(ctx context.Context, session *auth.Session, consumer Consumer,
	streamID, topicID Identifier, partitionID uint32, strategy PollingStrategy,
	count uint32, autoCommit bool) (*PolledMessages, error) {
	if count == 0 {
		return nil, fmt.Errorf("%w: count must be positive", ErrInvalid)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, auth.PermissionPollMessages, st.ID); err != nil {
		return nil, err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return nil, err
	}
	key, err := s.offsetKey(t, consumer, partitionID)
	if err != nil {
		return nil, err
	}

	stats := p.Stats()
	var start uint64
	switch strategy.Kind {
	case PollOffset:
		start = strategy.Value
	case PollFirst:
		start = stats.LowestOffset
	case PollLast:
		start = stats.LowestOffset
		if stats.NextOffset > start+uint64(count) {
			start = stats.NextOffset - uint64(count)
		}
	case PollNext:
		start = stats.LowestOffset
		stored, err := s.meta.Offset(key)
		switch {
		case err == nil:
			if stored > start {
				start = stored
			}
		case !errors.Is(err, metastore.ErrNotFound):
			return nil, fmt.Errorf("%w: load consumer offset: %v", ErrReadFailed, err)
		}
	case PollTimestamp:
		if start, err = p.OffsetForTimestamp(strategy.Value); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: polling kind %d", ErrInvalid, strategy.Kind)
	}

	msgs, fromCache, err := p.Read(start, count)
	if err != nil {
		return nil, err
	}
	if len(msgs) > 0 {
		var bytes uint64
		for _, m := range msgs {
			bytes += m.Size()
		}
		s.metrics.RecordPoll(len(msgs), bytes, fromCache)
	}

	if autoCommit && len(msgs) > 0 {
		if err := s.meta.StoreOffset(key, msgs[len(msgs)-1].Offset+1); err != nil {
			return nil, fmt.Errorf("%w: store consumer offset: %v", ErrWriteFailed, err)
		}
	}
	return &PolledMessages{PartitionID: partitionID, NextOffset: stats.NextOffset, Messages: msgs}, nil
}

// StoreConsumerOffset stores the next offset to deliver to a consumer. The
// offset may not exceed the partition's next offset.
func (s *System) StoreConsumerOffset(ctx context.Context, session *auth.Session, consumer Consumer,
	streamID, topicID Identifier, partitionID uint32, offset uint64) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionPollMessages, st.ID); err != nil {
		return err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return err
	}
	key, err := s.offsetKey(t, consumer, partitionID)
	if err != nil {
		return err
	}
	if next := p.NextOffset(); offset > next {
		return fmt.Errorf("%w: offset %d is beyond the next offset %d of partition %d",
			ErrOffsetOutOfRange, offset, next, partitionID)
	}
	if err := s.meta.StoreOffset(key, offset); err != nil {
		return fmt.Errorf("%w: store consumer offset: %v", ErrWriteFailed, err)
	}
	return nil
}

// GetConsumerOffset returns a consumer's stored offset. The boolean is false
// when nothing was stored.
func (s *System) GetConsumerOffset(ctx context.Context, session *auth.Session, consumer Consumer,
	streamID, topicID Identifier, partitionID uint32) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return 0, false, err
	}
	if err := s.authorize(session, auth.PermissionPollMessages, st.ID); err != nil {
		return 0, false, err
	}
	if _, err := t.Partition(partitionID); err != nil {
		return 0, false, err
	}
	key, err := s.offsetKey(t, consumer, partitionID)
	if err != nil {
		return 0, false, err
	}
	offset, err := s.meta.Offset(key)
	if errors.Is(err, metastore.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: load consumer offset: %v", ErrReadFailed, err)
	}
	return offset, true, nil
}

// offsetKey resolves a consumer to its metastore key. Groups must exist.
func (s *System) offsetKey(t *Topic, c Consumer, partitionID uint32) (metastore.OffsetKey, error) {
	key := metastore.OffsetKey{StreamID: t.StreamID, TopicID: t.ID, Kind: c.Kind, PartitionID: partitionID}
	switch c.Kind {
	case ConsumerKindSingle:
		if !c.ID.IsNumeric() || c.ID.ID == 0 {
			return key, fmt.Errorf("%w: consumer id must be a positive number", ErrInvalid)
		}
		key.ConsumerID = c.ID.ID
	case ConsumerKindGroup:
		g, err := t.ConsumerGroup(c.ID)
		if err != nil {
			return key, err
		}
		key.ConsumerID = g.ID
	default:
		return key, fmt.Errorf("%w: consumer kind %d", ErrInvalid, c.Kind)
	}
	return key, nil
}

// CreateConsumerGroup creates a consumer group. An id of 0 picks the next
// free id in the topic.
func (s *System) CreateConsumerGroup(ctx context.Context, session *auth.Session, streamID, topicID Identifier,
	id uint32, name string) (ConsumerGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return ConsumerGroup{}, err
	}
	if err := s.authorize(session, auth.PermissionPollMessages, st.ID); err != nil {
		return ConsumerGroup{}, err
	}
	if err := validName(name); err != nil {
		return ConsumerGroup{}, err
	}
	if _, exists := t.groupNames[name]; exists {
		return ConsumerGroup{}, fmt.Errorf("%w: consumer group %q", ErrAlreadyExists, name)
	}
	if id == 0 {
		id = t.nextGroupID
	}
	if _, exists := t.groups[id]; exists {
		return ConsumerGroup{}, fmt.Errorf("%w: consumer group %d", ErrAlreadyExists, id)
	}

	rec := metastore.ConsumerGroupRecord{StreamID: int32(st.ID), TopicID: int32(t.ID), ID: int32(id), Name: name}
	if err := s.meta.SaveConsumerGroup(rec); err != nil {
		return ConsumerGroup{}, fmt.Errorf("%w: save consumer group: %v", ErrWriteFailed, err)
	}
	g := &ConsumerGroup{ID: id, Name: name}
	t.addGroup(g)
	return *g, nil
}

// DeleteConsumerGroup deletes a consumer group and its stored offsets.
func (s *System) DeleteConsumerGroup(ctx context.Context, session *auth.Session, streamID, topicID, groupID Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionPollMessages, st.ID); err != nil {
		return err
	}
	g, err := t.ConsumerGroup(groupID)
	if err != nil {
		return err
	}
	if err := s.meta.DeleteConsumerGroup(st.ID, t.ID, g.ID); err != nil {
		return fmt.Errorf("%w: delete consumer group: %v", ErrWriteFailed, err)
	}
	t.removeGroup(g)
	return nil
}

// GetConsumerGroups returns the consumer groups of a topic ordered by id.
func (s *System) GetConsumerGroups(ctx context.Context, session *auth.Session, streamID, topicID Identifier) ([]*ConsumerGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, auth.PermissionReadTopics, st.ID); err != nil {
		return nil, err
	}
	return t.ConsumerGroups(), nil
}
