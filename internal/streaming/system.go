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
Package streaming implements FlyStream's storage engine: streams, topics and
partitions on top of the segment log, the shared message cache and the
metadata store.

HIERARCHY:
==========

	System
	 └── Streams (map[uint32]*Stream, name index)
	      └── Topics (map[uint32]*Topic, name index, consumer groups)
	           └── Partitions ([]*Partition, ids 0..n-1)
	                ├── storage.Log (segments on disk)
	                └── cache.PartitionCache (newest messages)

LOCKING:
========
Two tiers. The System RWMutex protects the existence of streams, topics,
partitions and groups: structural changes take it exclusively, appends,
polls and offset commits take it shared. Each Partition has its own RWMutex
protecting its log, cache and offsets, so appends to different partitions
proceed in parallel and appends to one partition are strictly ordered.

DATA DIRECTORY STRUCTURE:
=========================

	{data_dir}/
	 ├── metadata/                      LevelDB: version, streams, topics,
	 │                                  groups, offsets, users
	 └── streams/{stream}/topics/{topic}/partitions/{partition}/
	      ├── 00000000000000000000.log
	      └── 00000000000000000000.index

BACKGROUND WORK:
================
- Evictor: keeps the shared cache under cache.size, evicting from each
  partition in proportion to its share of the cache
- Saver: flushes write-behind buffers every message_saver.interval
- Retention: removes sealed segments older than retention.message_expiry
*/
package streaming

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"golang.org/x/sync/errgroup"

	"flystream/internal/auth"
	"flystream/internal/cache"
	"flystream/internal/compression"
	"flystream/internal/config"
	"flystream/internal/crypto"
	"flystream/internal/logging"
	"flystream/internal/metastore"
	"flystream/internal/metrics"
	"flystream/internal/storage"
)

// StorageVersion is the on-disk format version recorded in the metastore.
const StorageVersion = "1"

// Option configures a System.
type Option func(*System)

// WithPermissioner replaces the user-backed permission gate.
func WithPermissioner(p auth.Permissioner) Option {
	return func(s *System) { s.permissioner = p }
}

// WithMetrics makes the System record into m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *System) { s.metrics = m }
}

// WithBcryptCost sets the password hashing cost of the user store.
func WithBcryptCost(cost int) Option {
	return func(s *System) { s.bcryptCost = cost }
}

// System owns every stream and the resources shared by their partitions.
type System struct {
	mu sync.RWMutex

	config       *config.Config
	basePath     string
	streamsPath  string
	metadataPath string

	streams      map[uint32]*Stream
	streamNames  map[string]uint32
	nextStreamID uint32

	meta         *metastore.Store
	users        *auth.UserStore
	permissioner auth.Permissioner
	bcryptCost   int

	tracker      *cache.MemoryTracker
	partitionOpt partitionOptions
	metrics      *metrics.Metrics
	evictor      *Evictor
	saver        *Saver
	retention    *Retention
	logger       *logging.Logger

	started bool
}

// NewSystem creates a System from cfg. It performs no I/O; call Init to
// recover state from disk.
func NewSystem(cfg *config.Config, opts ...Option) (*System, error) {
	algo, err := compression.ParseType(cfg.Compression.Algorithm)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	var compressor compression.Compressor
	if algo != compression.None {
		if compressor, err = compression.New(algo, cfg.Compression.Level); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	var encryptor crypto.Encryptor
	if cfg.IsEncryptionEnabled() {
		e, err := crypto.NewAESGCM(cfg.Encryption.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: encryption key: %v", ErrInvalid, err)
		}
		encryptor = e
	}
	codec, err := storage.NewPayloadCodec(compressor, int(cfg.Compression.MinSize), encryptor)
	if err != nil {
		return nil, err
	}

	s := &System{
		config:       cfg,
		basePath:     cfg.System.DataDir,
		streamsPath:  filepath.Join(cfg.System.DataDir, "streams"),
		metadataPath: filepath.Join(cfg.System.DataDir, "metadata"),
		streams:      make(map[uint32]*Stream),
		streamNames:  make(map[string]uint32),
		nextStreamID: 1,
		tracker:      cache.NewMemoryTracker(uint64(cfg.Cache.Size)),
		logger:       logging.NewLogger("system"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	s.metrics.CacheLimit.Set(float64(cfg.Cache.Size))

	s.partitionOpt = partitionOptions{
		storage: storage.Config{Segment: storage.SegmentConfig{
			MaxStoreBytes:     uint64(cfg.Segment.Size),
			MaxMessages:       cfg.Segment.Messages,
			IndexInitialBytes: uint64(cfg.Segment.IndexInitialSize),
		}},
		persister:              storage.NewPersister(cfg.Partition.EnforceFsync),
		tracker:                s.tracker,
		codec:                  codec,
		metrics:                s.metrics,
		messagesRequiredToSave: uint64(cfg.Partition.MessagesRequiredToSave),
		cacheEnabled:           cfg.Cache.Enabled,
	}

	factor := cfg.Cache.OverEvictionFactor
	if factor == 0 {
		factor = DefaultOverEvictionFactor
	}
	s.evictor = newEvictor(s.tracker, s.allPartitions, factor,
		cfg.Cache.EvictionWorkers, cfg.Cache.EvictionInterval.Std(), s.metrics)
	s.saver = newSaver(cfg.MessageSaver.Interval.Std(), s.PersistAll)
	s.retention = newRetention(cfg.Retention.MessageExpiry.Std(), cfg.Retention.CheckInterval.Std(), s.allPartitions)
	return s, nil
}

// Metrics returns the System's collectors.
func (s *System) Metrics() *metrics.Metrics { return s.metrics }

// MemoryTracker returns the tracker shared by every partition cache.
func (s *System) MemoryTracker() *cache.MemoryTracker { return s.tracker }

// Ping fails with ErrNotStarted unless the System is initialized.
func (s *System) Ping() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.meta == nil {
		return ErrNotStarted
	}
	return nil
}

// Init creates the data directory layout, checks the storage version,
// loads users and recovers every stream, topic and partition from disk.
func (s *System) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta != nil {
		return nil
	}
	start := time.Now()
	s.logger.Info("Initializing system",
		"data_dir", s.basePath,
		"persister", s.partitionOpt.persister.Name(),
		"cache", bytefmt.ByteSize(s.tracker.Limit()),
		"encryption", s.partitionOpt.codec.Encrypted())

	for _, dir := range []string{s.basePath, s.streamsPath, s.metadataPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrCannotCreateDirectory, dir, err)
		}
	}

	meta, err := metastore.Open(s.metadataPath, s.config.Partition.EnforceFsync)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	if err := s.recover(ctx, meta); err != nil {
		s.closeStreams()
		meta.Close()
		s.streams = make(map[uint32]*Stream)
		s.streamNames = make(map[string]uint32)
		s.nextStreamID = 1
		return err
	}
	s.meta = meta
	s.updateGauges()

	took := time.Since(start)
	s.metrics.RecoverySeconds.Set(took.Seconds())
	s.logger.Info("System initialized",
		"streams", len(s.streams),
		"partitions", len(s.partitionsLocked()),
		"took", took)
	return nil
}

func (s *System) recover(ctx context.Context, meta *metastore.Store) error {
	version, err := meta.Version()
	switch {
	case errors.Is(err, metastore.ErrNotFound):
		if err := meta.SetVersion(StorageVersion); err != nil {
			return fmt.Errorf("%w: store version: %v", ErrWriteFailed, err)
		}
	case err != nil:
		return fmt.Errorf("%w: load version: %v", ErrReadFailed, err)
	case version != StorageVersion:
		return fmt.Errorf("%w: storage version %q, expected %q", ErrCorruptState, version, StorageVersion)
	}

	s.users = auth.NewUserStore(meta, s.bcryptCost)
	if err := s.users.Load(); err != nil {
		return fmt.Errorf("%w: %v", ErrReadFailed, err)
	}
	created, err := s.users.EnsureRoot(s.config.RootUser.Username, s.config.RootUser.Password)
	if err != nil {
		return fmt.Errorf("%w: create root user: %v", ErrWriteFailed, err)
	}
	if created {
		s.logger.Info("Created root user", "username", s.config.RootUser.Username)
	}
	if s.permissioner == nil {
		s.permissioner = auth.NewAuthorizer(s.users)
	}

	type pending struct {
		topic *Topic
		index int
	}
	var work []pending

	streams, err := meta.Streams()
	if err != nil {
		return fmt.Errorf("%w: load streams: %v", ErrReadFailed, err)
	}
	for _, sr := range streams {
		st := newStream(uint32(sr.ID), sr.Name, s.streamsPath, time.UnixMicro(sr.CreatedAt))
		topics, err := meta.Topics(st.ID)
		if err != nil {
			return fmt.Errorf("%w: load topics of stream %d: %v", ErrReadFailed, st.ID, err)
		}
		for _, tr := range topics {
			t := newTopic(st.ID, uint32(tr.ID), tr.Name, st.Path, time.UnixMicro(tr.CreatedAt))
			groups, err := meta.ConsumerGroups(st.ID, t.ID)
			if err != nil {
				return fmt.Errorf("%w: load groups of topic %d: %v", ErrReadFailed, t.ID, err)
			}
			for _, gr := range groups {
				t.addGroup(&ConsumerGroup{ID: uint32(gr.ID), Name: gr.Name})
			}
			t.partitions = make([]*Partition, tr.Partitions)
			for i := range t.partitions {
				work = append(work, pending{topic: t, index: i})
			}
			st.addTopic(t)
		}
		s.addStream(st)
	}

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, w := range work {
		w := w
		g.Go(func() error {
			id := uint32(w.index)
			p, err := openPartition(w.topic.StreamID, w.topic.ID, id, w.topic.partitionPath(id), s.partitionOpt)
			if err != nil {
				return err
			}
			w.topic.partitions[w.index] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return nil
}

// Start starts the background evictor, message saver and retention loops.
func (s *System) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return ErrNotStarted
	}
	if s.started {
		return nil
	}
	s.started = true
	if s.config.Cache.Enabled {
		s.evictor.Start()
	}
	if s.config.MessageSaver.Enabled {
		s.saver.Start()
	}
	if s.config.Retention.MessageExpiry > 0 {
		s.retention.Start()
	}
	return nil
}

// Shutdown stops background work, persists every unsaved message and closes
// all files.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	s.started = false
	s.mu.Unlock()

	if started {
		s.retention.Stop()
		s.saver.Stop()
		s.evictor.Stop()
	}

	persistErr := s.PersistAll(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return persistErr
	}
	closeErr := s.closeStreams()
	if err := s.meta.Close(); err != nil && closeErr == nil {
		closeErr = err
	}
	s.meta = nil
	s.streams = make(map[uint32]*Stream)
	s.streamNames = make(map[string]uint32)
	s.nextStreamID = 1
	s.logger.Info("System stopped")
	if persistErr != nil {
		return persistErr
	}
	return closeErr
}

// PersistAll flushes the unsaved messages of every partition to its segment
// log.
func (s *System) PersistAll(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for _, p := range s.partitionsLocked() {
		g.Go(p.PersistMessages)
	}
	return g.Wait()
}

// ExpireNow runs one retention pass at now and returns the number of
// messages removed.
func (s *System) ExpireNow(now time.Time) uint64 {
	return s.retention.RunOnce(now)
}

// EvictNow runs one eviction pass synchronously and returns the bytes freed.
func (s *System) EvictNow(ctx context.Context) uint64 {
	return s.evictor.RunOnce(ctx)
}

func (s *System) closeStreams() error {
	var firstErr error
	for _, p := range s.partitionsLocked() {
		if err := p.close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// allPartitions snapshots every partition under the read lock.
func (s *System) allPartitions() []*Partition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.partitionsLocked()
}

func (s *System) partitionsLocked() []*Partition {
	var out []*Partition
	for _, st := range s.streams {
		for _, p := range st.partitions() {
			if p != nil {
				out = append(out, p)
			}
		}
	}
	return out
}

func (s *System) addStream(st *Stream) {
	s.streams[st.ID] = st
	s.streamNames[st.Name] = st.ID
	if st.ID >= s.nextStreamID {
		s.nextStreamID = st.ID + 1
	}
}

func (s *System) stream(id Identifier) (*Stream, error) {
	return resolve(id, s.streams, s.streamNames, "stream")
}

func (s *System) topic(streamID, topicID Identifier) (*Stream, *Topic, error) {
	st, err := s.stream(streamID)
	if err != nil {
		return nil, nil, err
	}
	t, err := st.Topic(topicID)
	if err != nil {
		return nil, nil, err
	}
	return st, t, nil
}

// authorize checks the session against the permission gate. The caller
// holds s.mu.
func (s *System) authorize(session *auth.Session, perm auth.Permission, streamID uint32) error {
	if s.meta == nil {
		return ErrNotStarted
	}
	if !session.IsAuthenticated() {
		return auth.ErrUnauthenticated
	}
	return s.permissioner.Authorize(session.UserID, perm, streamID)
}

func (s *System) updateGauges() {
	var topics, partitions int
	for _, st := range s.streams {
		topics += len(st.topics)
		for _, t := range st.topics {
			partitions += len(t.partitions)
		}
	}
	s.metrics.Streams.Set(float64(len(s.streams)))
	s.metrics.Topics.Set(float64(topics))
	s.metrics.Partitions.Set(float64(partitions))
}

// sortedStreams returns the streams ordered by id.
func (s *System) sortedStreams() []*Stream {
	out := make([]*Stream, 0, len(s.streams))
	for _, st := range s.streams {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func validName(name string) error {
	if name == "" || len(name) > 255 {
		return fmt.Errorf("%w: name must be 1 to 255 bytes", ErrInvalid)
	}
	return nil
}
