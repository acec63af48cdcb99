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
Package config provides configuration management for FlyStream.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (FLYSTREAM_* prefix)
3. Configuration file (JSON, or YAML when the file ends in .yaml/.yml)
4. Default values (lowest priority)

CONFIGURATION CATEGORIES:
=========================
- System: data_dir
- Logging: level, json
- Partition: enforce_fsync, messages_required_to_save
- Segment: size, messages, index_initial_size
- Cache: enabled, size, eviction_interval, over_eviction_factor
- Message saver: enabled, interval
- Security: encryption at rest, root user
- Compression: algorithm, level, min_size
- Observability: metrics

EXAMPLE CONFIGURATION FILE:
===========================

	system:
	  data_dir: /var/lib/flystream
	partition:
	  enforce_fsync: true
	  messages_required_to_save: 1000
	cache:
	  size: 4 GB
	  eviction_interval: 5s

ENVIRONMENT VARIABLES:
======================
Every setting that matters in a container can be set with a FLYSTREAM_
variable, e.g. FLYSTREAM_DATA_DIR=/data FLYSTREAM_CACHE_SIZE="2 GB".
The encryption key is only ever read from FLYSTREAM_ENCRYPTION_KEY.
*/
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"flystream/internal/compression"
	"flystream/internal/crypto"
)

// Environment variable names
const (
	EnvDataDir                = "FLYSTREAM_DATA_DIR"
	EnvLogLevel               = "FLYSTREAM_LOG_LEVEL"
	EnvLogJSON                = "FLYSTREAM_LOG_JSON"
	EnvEnforceFsync           = "FLYSTREAM_ENFORCE_FSYNC"
	EnvMessagesRequiredToSave = "FLYSTREAM_MESSAGES_REQUIRED_TO_SAVE"
	EnvSegmentSize            = "FLYSTREAM_SEGMENT_SIZE"
	EnvSegmentMessages        = "FLYSTREAM_SEGMENT_MESSAGES"
	EnvCacheEnabled           = "FLYSTREAM_CACHE_ENABLED"
	EnvCacheSize              = "FLYSTREAM_CACHE_SIZE"
	EnvCacheEvictionInterval  = "FLYSTREAM_CACHE_EVICTION_INTERVAL"
	EnvMessageSaverEnabled    = "FLYSTREAM_MESSAGE_SAVER_ENABLED"
	EnvMessageSaverInterval   = "FLYSTREAM_MESSAGE_SAVER_INTERVAL"
	EnvEncryptionEnabled      = "FLYSTREAM_ENCRYPTION_ENABLED"
	EnvEncryptionKey          = "FLYSTREAM_ENCRYPTION_KEY"
	EnvCompression            = "FLYSTREAM_COMPRESSION"
	EnvMessageExpiry          = "FLYSTREAM_MESSAGE_EXPIRY"
	EnvMetricsEnabled         = "FLYSTREAM_METRICS_ENABLED"
	EnvMetricsAddr            = "FLYSTREAM_METRICS_ADDR"
	EnvRootUsername           = "FLYSTREAM_ROOT_USERNAME"
	EnvRootPassword           = "FLYSTREAM_ROOT_PASSWORD"
)

// DefaultConfigPaths are searched in order when no file is given.
var DefaultConfigPaths = []string{
	"/etc/flystream/flystream.yaml",
	"$HOME/.config/flystream/flystream.yaml",
	"./flystream.yaml",
	"./flystream.json",
}

// SystemConfig holds process-wide paths.
type SystemConfig struct {
	DataDir string `json:"data_dir" yaml:"data_dir"` // Root of all persisted state
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"` // debug, info, warn, error
	JSON  bool   `json:"json" yaml:"json"`   // JSON lines instead of console output
}

// PartitionConfig holds durability settings shared by every partition.
type PartitionConfig struct {
	EnforceFsync           bool   `json:"enforce_fsync" yaml:"enforce_fsync"`                         // Flush every write to stable storage
	MessagesRequiredToSave uint32 `json:"messages_required_to_save" yaml:"messages_required_to_save"` // Unsaved messages that trigger a flush (1 = write-through)
}

// SegmentConfig holds segment rolling settings.
type SegmentConfig struct {
	Size             ByteSize `json:"size" yaml:"size"`                             // Data file size that seals a segment
	Messages         uint64   `json:"messages" yaml:"messages"`                     // Message count that seals a segment (0 = unlimited)
	IndexInitialSize ByteSize `json:"index_initial_size" yaml:"index_initial_size"` // Initial index pre-allocation
}

// CacheConfig holds the in-memory message cache settings.
type CacheConfig struct {
	Enabled            bool     `json:"enabled" yaml:"enabled"`                           // Keep recently appended messages in memory
	Size               ByteSize `json:"size" yaml:"size"`                                 // Budget shared by all partitions
	EvictionInterval   Duration `json:"eviction_interval" yaml:"eviction_interval"`       // Period of the background eviction check
	OverEvictionFactor uint64   `json:"over_eviction_factor" yaml:"over_eviction_factor"` // Multiplier applied to each partition's share
	EvictionWorkers    int      `json:"eviction_workers" yaml:"eviction_workers"`         // Partitions evicted in parallel
}

// MessageSaverConfig holds the periodic flush of write-behind buffers.
type MessageSaverConfig struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Interval Duration `json:"interval" yaml:"interval"`
}

// RetentionConfig holds time-based removal of old segments.
type RetentionConfig struct {
	MessageExpiry Duration `json:"message_expiry" yaml:"message_expiry"` // Age after which sealed segments are removed (0 = keep forever)
	CheckInterval Duration `json:"check_interval" yaml:"check_interval"` // Period of the expiry check
}

// EncryptionConfig holds encryption-at-rest settings.
type EncryptionConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"` // Encrypt payloads with AES-256-GCM
	Key     string `json:"-" yaml:"-"`             // MUST be set via FLYSTREAM_ENCRYPTION_KEY (never stored in config files)
}

// CompressionConfig holds payload compression settings.
type CompressionConfig struct {
	Algorithm string   `json:"algorithm" yaml:"algorithm"` // none, gzip, lz4, snappy, zstd
	Level     int      `json:"level" yaml:"level"`         // Algorithm specific, 0 = default
	MinSize   ByteSize `json:"min_size" yaml:"min_size"`   // Smaller payloads are stored as-is
}

// MetricsConfig holds Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

// RootUserConfig holds the credentials of the user created on first start.
type RootUserConfig struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Config is the complete FlyStream configuration.
type Config struct {
	System       SystemConfig       `json:"system" yaml:"system"`
	Logging      LoggingConfig      `json:"logging" yaml:"logging"`
	Partition    PartitionConfig    `json:"partition" yaml:"partition"`
	Segment      SegmentConfig      `json:"segment" yaml:"segment"`
	Cache        CacheConfig        `json:"cache" yaml:"cache"`
	MessageSaver MessageSaverConfig `json:"message_saver" yaml:"message_saver"`
	Retention    RetentionConfig    `json:"retention" yaml:"retention"`
	Encryption   EncryptionConfig   `json:"encryption" yaml:"encryption"`
	Compression  CompressionConfig  `json:"compression" yaml:"compression"`
	Metrics      MetricsConfig      `json:"metrics" yaml:"metrics"`
	RootUser     RootUserConfig     `json:"root_user" yaml:"root_user"`

	// Metadata
	ConfigFile string `json:"-" yaml:"-"`
}

// DefaultConfig returns defaults.
func DefaultConfig() *Config {
	return &Config{
		System: SystemConfig{
			DataDir: GetDefaultDataDir(),
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Partition: PartitionConfig{
			EnforceFsync:           false,
			MessagesRequiredToSave: 1, // Write-through
		},
		Segment: SegmentConfig{
			Size:             1 << 30, // 1GB
			Messages:         0,
			IndexInitialSize: 1 << 20, // 1MB
		},
		Cache: CacheConfig{
			Enabled:            true,
			Size:               defaultCacheSize(),
			EvictionInterval:   Duration(5 * time.Second),
			OverEvictionFactor: 5,
			EvictionWorkers:    defaultEvictionWorkers(),
		},
		MessageSaver: MessageSaverConfig{
			Enabled:  true,
			Interval: Duration(30 * time.Second),
		},
		Retention: RetentionConfig{
			MessageExpiry: 0,
			CheckInterval: Duration(time.Minute),
		},
		Compression: CompressionConfig{
			Algorithm: "none",
			MinSize:   1024, // Only compress payloads >= 1KB
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9094",
		},
		RootUser: RootUserConfig{
			Username: "flystream",
			Password: "flystream",
		},
	}
}

// defaultCacheSize is 256MB per CPU, bounded to [64MB, 4GB].
func defaultCacheSize() ByteSize {
	size := ByteSize(runtime.NumCPU()) * 256 << 20
	if size < 64<<20 {
		size = 64 << 20
	}
	if size > 4<<30 {
		size = 4 << 30
	}
	return size
}

// defaultEvictionWorkers scales with CPU count (min 1, max 16).
func defaultEvictionWorkers() int {
	n := runtime.NumCPU()
	if n > 16 {
		n = 16
	}
	return n
}

// GetDefaultDataDir returns the default data directory.
func GetDefaultDataDir() string {
	if os.Getuid() == 0 {
		return "/var/lib/flystream"
	}
	if home := os.Getenv("HOME"); home != "" {
		return filepath.Join(home, ".local", "share", "flystream")
	}
	return "./local_data"
}

// Manager handles configuration loading.
type Manager struct {
	config *Config
	mu     sync.RWMutex
}

var globalManager = &Manager{
	config: DefaultConfig(),
}

// Global returns the global manager.
func Global() *Manager {
	return globalManager
}

// NewManager returns a manager holding the defaults.
func NewManager() *Manager {
	return &Manager{config: DefaultConfig()}
}

// Get returns a copy of current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	return &cfg
}

// Set updates the config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// LoadFromFile loads configuration from a JSON or YAML file on top of the
// defaults.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// FindConfigFile returns the first existing file from DefaultConfigPaths,
// or "" when there is none.
func FindConfigFile() string {
	for _, p := range DefaultConfigPaths {
		p = os.ExpandEnv(p)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// LoadFromEnv loads configuration from environment variables. Malformed
// values are reported rather than ignored.
func (m *Manager) LoadFromEnv() error {
	cfg := m.Get()

	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.System.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
	if err := envBool(EnvLogJSON, &cfg.Logging.JSON); err != nil {
		return err
	}
	if err := envBool(EnvEnforceFsync, &cfg.Partition.EnforceFsync); err != nil {
		return err
	}
	if v := os.Getenv(EnvMessagesRequiredToSave); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMessagesRequiredToSave, err)
		}
		cfg.Partition.MessagesRequiredToSave = uint32(n)
	}
	if err := envSize(EnvSegmentSize, &cfg.Segment.Size); err != nil {
		return err
	}
	if v := os.Getenv(EnvSegmentMessages); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSegmentMessages, err)
		}
		cfg.Segment.Messages = n
	}
	if err := envBool(EnvCacheEnabled, &cfg.Cache.Enabled); err != nil {
		return err
	}
	if err := envSize(EnvCacheSize, &cfg.Cache.Size); err != nil {
		return err
	}
	if err := envDuration(EnvCacheEvictionInterval, &cfg.Cache.EvictionInterval); err != nil {
		return err
	}
	if err := envBool(EnvMessageSaverEnabled, &cfg.MessageSaver.Enabled); err != nil {
		return err
	}
	if err := envDuration(EnvMessageSaverInterval, &cfg.MessageSaver.Interval); err != nil {
		return err
	}
	if err := envDuration(EnvMessageExpiry, &cfg.Retention.MessageExpiry); err != nil {
		return err
	}
	if err := envBool(EnvEncryptionEnabled, &cfg.Encryption.Enabled); err != nil {
		return err
	}
	if v := os.Getenv(EnvEncryptionKey); v != "" {
		cfg.Encryption.Key = v
	}
	if v := os.Getenv(EnvCompression); v != "" {
		cfg.Compression.Algorithm = v
	}
	if err := envBool(EnvMetricsEnabled, &cfg.Metrics.Enabled); err != nil {
		return err
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv(EnvRootUsername); v != "" {
		cfg.RootUser.Username = v
	}
	if v := os.Getenv(EnvRootPassword); v != "" {
		cfg.RootUser.Password = v
	}

	m.Set(cfg)
	return nil
}

func envBool(name string, dst *bool) error {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}

func envSize(name string, dst *ByteSize) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	b, err := ParseByteSize(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = b
	return nil
}

func envDuration(name string, dst *Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	*dst = Duration(d)
	return nil
}

// Load builds the configuration from defaults, the file at path (if not
// empty), and the environment, then validates it.
func Load(path string) (*Config, error) {
	m := NewManager()
	if path != "" {
		if err := m.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := m.LoadFromEnv(); err != nil {
		return nil, err
	}
	cfg := m.Get()
	cfg.Finalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize performs final configuration adjustments after loading.
func (c *Config) Finalize() {
	if c.Partition.MessagesRequiredToSave == 0 {
		c.Partition.MessagesRequiredToSave = 1
	}
	if c.Cache.EvictionWorkers <= 0 {
		c.Cache.EvictionWorkers = 1
	}
	c.System.DataDir = filepath.Clean(c.System.DataDir)
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if c.System.DataDir == "" {
		return fmt.Errorf("system.data_dir is required")
	}
	if c.Partition.MessagesRequiredToSave == 0 {
		return fmt.Errorf("partition.messages_required_to_save must be at least 1")
	}
	if c.Segment.Size < 1024 {
		return fmt.Errorf("segment.size must be at least 1KB, got %s", c.Segment.Size)
	}

	if c.Cache.Enabled {
		if c.Cache.Size == 0 {
			return fmt.Errorf("cache.size must be positive when the cache is enabled")
		}
		if c.Cache.EvictionInterval <= 0 {
			return fmt.Errorf("cache.eviction_interval must be positive")
		}
		if c.Cache.OverEvictionFactor == 0 {
			return fmt.Errorf("cache.over_eviction_factor must be at least 1")
		}
	}

	if c.MessageSaver.Enabled && c.MessageSaver.Interval <= 0 {
		return fmt.Errorf("message_saver.interval must be positive")
	}

	if c.Retention.MessageExpiry < 0 {
		return fmt.Errorf("retention.message_expiry must not be negative")
	}
	if c.Retention.MessageExpiry > 0 && c.Retention.CheckInterval <= 0 {
		return fmt.Errorf("retention.check_interval must be positive when message_expiry is set")
	}

	// SECURITY: Encryption key must ONLY be provided via environment variable
	if c.Encryption.Enabled {
		if c.Encryption.Key == "" {
			return fmt.Errorf("%s environment variable is required when encryption is enabled.\n"+
				"  Generate a key with: openssl rand -hex 32", EnvEncryptionKey)
		}
		if err := crypto.ValidateKey(c.Encryption.Key); err != nil {
			return fmt.Errorf("%s: %w", EnvEncryptionKey, err)
		}
	}

	if _, err := compression.ParseType(c.Compression.Algorithm); err != nil {
		return fmt.Errorf("compression.algorithm: %w", err)
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr is required when metrics are enabled")
	}

	if c.RootUser.Username == "" || c.RootUser.Password == "" {
		return fmt.Errorf("root_user.username and root_user.password are required")
	}

	return nil
}

// IsEncryptionEnabled returns true if encryption is properly configured and enabled.
func (c *Config) IsEncryptionEnabled() bool {
	return c.Encryption.Enabled && c.Encryption.Key != ""
}
