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
	"path/filepath"
	"sort"
	"strconv"
	"time"
)

// Stream is the top-level named collection of topics.
type Stream struct {
	ID        uint32
	Name      string
	CreatedAt time.Time
	Path      string

	topics      map[uint32]*Topic
	topicNames  map[string]uint32
	nextTopicID uint32
}

func newStream(id uint32, name, streamsPath string, createdAt time.Time) *Stream {
	return &Stream{
		ID:          id,
		Name:        name,
		CreatedAt:   createdAt,
		Path:        filepath.Join(streamsPath, strconv.FormatUint(uint64(id), 10)),
		topics:      make(map[uint32]*Topic),
		topicNames:  make(map[string]uint32),
		nextTopicID: 1,
	}
}

// Topic resolves a topic identifier.
func (s *Stream) Topic(id Identifier) (*Topic, error) {
	return resolve(id, s.topics, s.topicNames, "topic")
}

// Topics returns the stream's topics ordered by id.
func (s *Stream) Topics() []*Topic {
	out := make([]*Topic, 0, len(s.topics))
	for _, t := range s.topics {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Stream) addTopic(t *Topic) {
	s.topics[t.ID] = t
	s.topicNames[t.Name] = t.ID
	if t.ID >= s.nextTopicID {
		s.nextTopicID = t.ID + 1
	}
}

func (s *Stream) removeTopic(t *Topic) {
	delete(s.topics, t.ID)
	delete(s.topicNames, t.Name)
}

// partitions returns every partition of every topic.
func (s *Stream) partitions() []*Partition {
	var out []*Partition
	for _, t := range s.topics {
		out = append(out, t.partitions...)
	}
	return out
}

// StreamStats describes a stream.
type StreamStats struct {
	ID        uint32
	Name      string
	CreatedAt time.Time
	Topics    []TopicStats
	Messages  uint64
	SizeBytes uint64
}

// Stats returns a snapshot of the stream and its topics.
func (s *Stream) Stats() StreamStats {
	st := StreamStats{ID: s.ID, Name: s.Name, CreatedAt: s.CreatedAt}
	for _, t := range s.Topics() {
		ts := t.Stats()
		st.Topics = append(st.Topics, ts)
		st.Messages += ts.Messages
		st.SizeBytes += ts.SizeBytes
	}
	return st
}
