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
	"fmt"
	"os"
	"time"

	"flystream/internal/auth"
	"flystream/internal/metastore"
)

// CreateStream creates a stream. An id of 0 picks the next free id.
func (s *System) CreateStream(ctx context.Context, session *auth.Session, id uint32, name string) (StreamStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(session, auth.PermissionManageStreams, 0); err != nil {
		return StreamStats{}, err
	}
	if err := validName(name); err != nil {
		return StreamStats{}, err
	}
	if _, exists := s.streamNames[name]; exists {
		return StreamStats{}, fmt.Errorf("%w: stream %q", ErrAlreadyExists, name)
	}
	if id == 0 {
		id = s.nextStreamID
	}
	if _, exists := s.streams[id]; exists {
		return StreamStats{}, fmt.Errorf("%w: stream %d", ErrAlreadyExists, id)
	}

	st := newStream(id, name, s.streamsPath, time.Now())
	if err := os.MkdirAll(st.Path, 0755); err != nil {
		return StreamStats{}, fmt.Errorf("%w: %s: %v", ErrCannotCreateDirectory, st.Path, err)
	}
	rec := metastore.StreamRecord{ID: int32(id), Name: name, CreatedAt: st.CreatedAt.UnixMicro()}
	if err := s.meta.SaveStream(rec); err != nil {
		os.RemoveAll(st.Path)
		return StreamStats{}, fmt.Errorf("%w: save stream: %v", ErrWriteFailed, err)
	}
	s.addStream(st)
	s.updateGauges()
	s.logger.Info("Created stream", "id", id, "name", name)
	return st.Stats(), nil
}

// UpdateStream renames a stream.
func (s *System) UpdateStream(ctx context.Context, session *auth.Session, streamID Identifier, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stream(streamID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageStreams, st.ID); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	if name == st.Name {
		return nil
	}
	if _, exists := s.streamNames[name]; exists {
		return fmt.Errorf("%w: stream %q", ErrAlreadyExists, name)
	}
	rec := metastore.StreamRecord{ID: int32(st.ID), Name: name, CreatedAt: st.CreatedAt.UnixMicro()}
	if err := s.meta.SaveStream(rec); err != nil {
		return fmt.Errorf("%w: save stream: %v", ErrWriteFailed, err)
	}
	delete(s.streamNames, st.Name)
	st.Name = name
	s.streamNames[name] = st.ID
	return nil
}

// DeleteStream deletes a stream with all its topics, partitions, groups and
// stored offsets.
func (s *System) DeleteStream(ctx context.Context, session *auth.Session, streamID Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stream(streamID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageStreams, st.ID); err != nil {
		return err
	}
	if err := s.meta.DeleteStream(st.ID); err != nil {
		return fmt.Errorf("%w: delete stream: %v", ErrWriteFailed, err)
	}
	delete(s.streams, st.ID)
	delete(s.streamNames, st.Name)
	s.updateGauges()

	var firstErr error
	for _, p := range st.partitions() {
		if err := p.remove(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := os.RemoveAll(st.Path); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.users.RemoveStream(st.ID); err != nil && firstErr == nil {
		firstErr = err
	}
	if firstErr != nil {
		return fmt.Errorf("%w: delete stream %d files: %v", ErrWriteFailed, st.ID, firstErr)
	}
	s.logger.Info("Deleted stream", "id", st.ID, "name", st.Name)
	return nil
}

// GetStream returns a snapshot of a stream.
func (s *System) GetStream(ctx context.Context, session *auth.Session, streamID Identifier) (StreamStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.stream(streamID)
	if err != nil {
		return StreamStats{}, err
	}
	if err := s.authorize(session, auth.PermissionReadStreams, st.ID); err != nil {
		return StreamStats{}, err
	}
	return st.Stats(), nil
}

// GetStreams returns snapshots of every stream ordered by id.
func (s *System) GetStreams(ctx context.Context, session *auth.Session) ([]StreamStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.authorize(session, auth.PermissionReadStreams, 0); err != nil {
		return nil, err
	}
	var out []StreamStats
	for _, st := range s.sortedStreams() {
		out = append(out, st.Stats())
	}
	return out, nil
}

// PurgeStream removes every message of every topic of a stream.
func (s *System) PurgeStream(ctx context.Context, session *auth.Session, streamID Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stream(streamID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageStreams, st.ID); err != nil {
		return err
	}
	for _, t := range st.Topics() {
		if err := s.purgeTopic(t); err != nil {
			return err
		}
	}
	return nil
}

// CreateTopic creates a topic with partitionCount partitions. An id of 0
// picks the next free id in the stream.
func (s *System) CreateTopic(ctx context.Context, session *auth.Session, streamID Identifier,
	id uint32, name string, partitionCount uint32) (TopicStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.stream(streamID)
	if err != nil {
		return TopicStats{}, err
	}
	if err := s.authorize(session, auth.PermissionManageTopics, st.ID); err != nil {
		return TopicStats{}, err
	}
	if err := validName(name); err != nil {
		return TopicStats{}, err
	}
	if _, exists := st.topicNames[name]; exists {
		return TopicStats{}, fmt.Errorf("%w: topic %q in stream %d", ErrAlreadyExists, name, st.ID)
	}
	if id == 0 {
		id = st.nextTopicID
	}
	if _, exists := st.topics[id]; exists {
		return TopicStats{}, fmt.Errorf("%w: topic %d in stream %d", ErrAlreadyExists, id, st.ID)
	}

	t := newTopic(st.ID, id, name, st.Path, time.Now())
	if _, err := t.addPartitions(partitionCount, s.partitionOpt); err != nil {
		os.RemoveAll(t.Path)
		return TopicStats{}, err
	}
	if err := s.saveTopic(t); err != nil {
		t.removePartitions(uint32(len(t.partitions)))
		os.RemoveAll(t.Path)
		return TopicStats{}, err
	}
	st.addTopic(t)
	s.updateGauges()
	s.logger.Info("Created topic", "stream", st.ID, "id", id, "name", name, "partitions", partitionCount)
	return t.Stats(), nil
}

// UpdateTopic renames a topic.
func (s *System) UpdateTopic(ctx context.Context, session *auth.Session, streamID, topicID Identifier, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageTopics, st.ID); err != nil {
		return err
	}
	if err := validName(name); err != nil {
		return err
	}
	if name == t.Name {
		return nil
	}
	if _, exists := st.topicNames[name]; exists {
		return fmt.Errorf("%w: topic %q in stream %d", ErrAlreadyExists, name, st.ID)
	}
	old := t.Name
	t.Name = name
	if err := s.saveTopic(t); err != nil {
		t.Name = old
		return err
	}
	delete(st.topicNames, old)
	st.topicNames[name] = t.ID
	return nil
}

// DeleteTopic deletes a topic with its partitions, groups and offsets.
func (s *System) DeleteTopic(ctx context.Context, session *auth.Session, streamID, topicID Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageTopics, st.ID); err != nil {
		return err
	}
	if err := s.meta.DeleteTopic(st.ID, t.ID); err != nil {
		return fmt.Errorf("%w: delete topic: %v", ErrWriteFailed, err)
	}
	st.removeTopic(t)
	s.updateGauges()

	_, err = t.removePartitions(uint32(len(t.partitions)))
	if rmErr := os.RemoveAll(t.Path); rmErr != nil && err == nil {
		err = rmErr
	}
	if err != nil {
		return fmt.Errorf("%w: delete topic %d files: %v", ErrWriteFailed, t.ID, err)
	}
	s.logger.Info("Deleted topic", "stream", st.ID, "id", t.ID, "name", t.Name)
	return nil
}

// GetTopic returns a snapshot of a topic.
func (s *System) GetTopic(ctx context.Context, session *auth.Session, streamID, topicID Identifier) (TopicStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return TopicStats{}, err
	}
	if err := s.authorize(session, auth.PermissionReadTopics, st.ID); err != nil {
		return TopicStats{}, err
	}
	return t.Stats(), nil
}

// GetTopics returns snapshots of a stream's topics ordered by id.
func (s *System) GetTopics(ctx context.Context, session *auth.Session, streamID Identifier) ([]TopicStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, err := s.stream(streamID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(session, auth.PermissionReadTopics, st.ID); err != nil {
		return nil, err
	}
	var out []TopicStats
	for _, t := range st.Topics() {
		out = append(out, t.Stats())
	}
	return out, nil
}

// PurgeTopic removes every message of a topic and resets its partitions
// and stored offsets to zero.
func (s *System) PurgeTopic(ctx context.Context, session *auth.Session, streamID, topicID Identifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageTopics, st.ID); err != nil {
		return err
	}
	return s.purgeTopic(t)
}

func (s *System) purgeTopic(t *Topic) error {
	for _, p := range t.partitions {
		if err := p.Purge(); err != nil {
			return err
		}
	}
	if err := s.meta.DeleteTopicOffsets(t.StreamID, t.ID); err != nil {
		return fmt.Errorf("%w: delete offsets: %v", ErrWriteFailed, err)
	}
	s.logger.Info("Purged topic", "stream", t.StreamID, "id", t.ID)
	return nil
}

// CreatePartitions adds count partitions to a topic.
func (s *System) CreatePartitions(ctx context.Context, session *auth.Session, streamID, topicID Identifier, count uint32) error {
	if count == 0 {
		return fmt.Errorf("%w: partition count must be positive", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageTopics, st.ID); err != nil {
		return err
	}
	added, err := t.addPartitions(count, s.partitionOpt)
	if err != nil {
		return err
	}
	if err := s.saveTopic(t); err != nil {
		t.removePartitions(uint32(len(added)))
		return err
	}
	s.updateGauges()
	return nil
}

// DeletePartitions removes the count highest partitions of a topic together
// with their stored offsets.
func (s *System) DeletePartitions(ctx context.Context, session *auth.Session, streamID, topicID Identifier, count uint32) error {
	if count == 0 {
		return fmt.Errorf("%w: partition count must be positive", ErrInvalid)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	st, t, err := s.topic(streamID, topicID)
	if err != nil {
		return err
	}
	if err := s.authorize(session, auth.PermissionManageTopics, st.ID); err != nil {
		return err
	}
	if int(count) > len(t.partitions) {
		return fmt.Errorf("%w: topic %d has %d partitions", ErrInvalid, t.ID, len(t.partitions))
	}
	ids, removeErr := t.removePartitions(count)
	if err := s.saveTopic(t); err != nil {
		return err
	}
	if err := s.meta.DeleteTopicOffsets(st.ID, t.ID, ids...); err != nil {
		return fmt.Errorf("%w: delete offsets: %v", ErrWriteFailed, err)
	}
	s.updateGauges()
	if removeErr != nil {
		return fmt.Errorf("%w: remove partition files: %v", ErrWriteFailed, removeErr)
	}
	return nil
}

func (s *System) saveTopic(t *Topic) error {
	rec := metastore.TopicRecord{
		StreamID:   int32(t.StreamID),
		ID:         int32(t.ID),
		Name:       t.Name,
		Partitions: int32(len(t.partitions)),
		CreatedAt:  t.CreatedAt.UnixMicro(),
	}
	if err := s.meta.SaveTopic(rec); err != nil {
		return fmt.Errorf("%w: save topic: %v", ErrWriteFailed, err)
	}
	return nil
}
