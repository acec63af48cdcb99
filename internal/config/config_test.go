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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Partition.MessagesRequiredToSave != 1 {
		t.Errorf("Expected write-through default, got %d", cfg.Partition.MessagesRequiredToSave)
	}
	if cfg.Cache.OverEvictionFactor != 5 {
		t.Errorf("Expected over-eviction factor 5, got %d", cfg.Cache.OverEvictionFactor)
	}
	if cfg.Segment.Size != 1<<30 {
		t.Errorf("Expected segment size 1GB, got %s", cfg.Segment.Size)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	validKey := "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"valid default config", func(c *Config) {}, false},
		{"missing data_dir", func(c *Config) { c.System.DataDir = "" }, true},
		{"zero messages_required_to_save", func(c *Config) { c.Partition.MessagesRequiredToSave = 0 }, true},
		{"tiny segment", func(c *Config) { c.Segment.Size = 10 }, true},
		{"cache without size", func(c *Config) { c.Cache.Size = 0 }, true},
		{"disabled cache without size", func(c *Config) { c.Cache.Enabled = false; c.Cache.Size = 0 }, false},
		{"zero over-eviction factor", func(c *Config) { c.Cache.OverEvictionFactor = 0 }, true},
		{"saver without interval", func(c *Config) { c.MessageSaver.Interval = 0 }, true},
		{"expiry without check interval", func(c *Config) {
			c.Retention.MessageExpiry = Duration(time.Hour)
			c.Retention.CheckInterval = 0
		}, true},
		{"encryption without key", func(c *Config) { c.Encryption.Enabled = true }, true},
		{"encryption with short key", func(c *Config) {
			c.Encryption.Enabled = true
			c.Encryption.Key = "tooshort"
		}, true},
		{"encryption with valid key", func(c *Config) {
			c.Encryption.Enabled = true
			c.Encryption.Key = validKey
		}, false},
		{"unknown compression", func(c *Config) { c.Compression.Algorithm = "brotli" }, true},
		{"metrics without addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "" }, true},
		{"missing root password", func(c *Config) { c.RootUser.Password = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flystream.yaml")
	content := `
system:
  data_dir: /tmp/flystream-test
partition:
  enforce_fsync: true
  messages_required_to_save: 100
segment:
  size: 64MB
cache:
  enabled: true
  size: 2 GB
  eviction_interval: 250ms
compression:
  algorithm: zstd
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	m := NewManager()
	if err := m.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	cfg := m.Get()

	if cfg.System.DataDir != "/tmp/flystream-test" {
		t.Errorf("Expected data_dir from file, got %s", cfg.System.DataDir)
	}
	if !cfg.Partition.EnforceFsync || cfg.Partition.MessagesRequiredToSave != 100 {
		t.Errorf("Unexpected partition config %+v", cfg.Partition)
	}
	if cfg.Segment.Size != 64<<20 {
		t.Errorf("Expected 64MB segment, got %d", cfg.Segment.Size)
	}
	if cfg.Cache.Size != 2<<30 {
		t.Errorf("Expected 2GB cache, got %d", cfg.Cache.Size)
	}
	if cfg.Cache.EvictionInterval.Std() != 250*time.Millisecond {
		t.Errorf("Expected 250ms interval, got %s", cfg.Cache.EvictionInterval)
	}
	// Unset fields keep their defaults.
	if cfg.Cache.OverEvictionFactor != 5 {
		t.Errorf("Expected default over-eviction factor, got %d", cfg.Cache.OverEvictionFactor)
	}
	if cfg.ConfigFile != path {
		t.Errorf("Expected ConfigFile %s, got %s", path, cfg.ConfigFile)
	}
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flystream.json")
	content := `{
  "system": {"data_dir": "/tmp/fs-json"},
  "cache": {"size": 1048576, "eviction_interval": 2000},
  "message_saver": {"interval": "10s"}
}`
	os.WriteFile(path, []byte(content), 0644)

	m := NewManager()
	if err := m.LoadFromFile(path); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	cfg := m.Get()
	if cfg.Cache.Size != 1<<20 {
		t.Errorf("Expected 1MB cache, got %d", cfg.Cache.Size)
	}
	if cfg.Cache.EvictionInterval.Std() != 2*time.Second {
		t.Errorf("Expected 2s interval, got %s", cfg.Cache.EvictionInterval)
	}
	if cfg.MessageSaver.Interval.Std() != 10*time.Second {
		t.Errorf("Expected 10s saver interval, got %s", cfg.MessageSaver.Interval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvDataDir, "/env/data")
	t.Setenv(EnvEnforceFsync, "true")
	t.Setenv(EnvMessagesRequiredToSave, "50")
	t.Setenv(EnvCacheSize, "512MB")
	t.Setenv(EnvCacheEvictionInterval, "1s")
	t.Setenv(EnvEncryptionKey, "secret-from-env")
	t.Setenv(EnvMessageExpiry, "72h")

	m := NewManager()
	if err := m.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv failed: %v", err)
	}
	cfg := m.Get()

	if cfg.System.DataDir != "/env/data" {
		t.Errorf("Expected data dir from env, got %s", cfg.System.DataDir)
	}
	if !cfg.Partition.EnforceFsync || cfg.Partition.MessagesRequiredToSave != 50 {
		t.Errorf("Unexpected partition config %+v", cfg.Partition)
	}
	if cfg.Cache.Size != 512<<20 {
		t.Errorf("Expected 512MB cache, got %d", cfg.Cache.Size)
	}
	if cfg.Encryption.Key != "secret-from-env" {
		t.Error("Expected encryption key from env")
	}
	if cfg.Retention.MessageExpiry.Std() != 72*time.Hour {
		t.Errorf("Expected 72h expiry, got %s", cfg.Retention.MessageExpiry)
	}
}

func TestLoadFromEnvRejectsMalformedValues(t *testing.T) {
	t.Setenv(EnvEnforceFsync, "maybe")
	if err := NewManager().LoadFromEnv(); err == nil {
		t.Error("Expected error for malformed boolean")
	}
}

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		in   string
		want ByteSize
	}{
		{"1024", 1024},
		{"4 GB", 4 << 30},
		{"4GB", 4 << 30},
		{"512M", 512 << 20},
		{"10K", 10 << 10},
	}
	for _, tt := range tests {
		got, err := ParseByteSize(tt.in)
		if err != nil {
			t.Errorf("ParseByteSize(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseByteSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
	if _, err := ParseByteSize("lots"); err == nil {
		t.Error("Expected error for invalid size")
	}
}

func TestLoadValidates(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	t.Setenv(EnvCompression, "brotli")
	if _, err := Load(""); err == nil {
		t.Error("Expected Load to fail validation")
	}
}
