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

package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func expectLines(t *testing.T, body string, lines ...string) {
	t.Helper()
	for _, want := range lines {
		if !strings.Contains(body, want+"\n") {
			t.Errorf("Expected %q in output", want)
		}
	}
}

func TestRecordAppendAndPoll(t *testing.T) {
	m := New()
	m.RecordAppend(3, 300)
	m.RecordPoll(2, 200, true)
	m.RecordPoll(1, 100, false)

	expectLines(t, scrape(t, m),
		"flystream_messages_appended_total 3",
		"flystream_bytes_appended_total 300",
		"flystream_messages_polled_total 3",
		"flystream_cache_hits_total 1",
		"flystream_cache_misses_total 1",
	)
}

func TestRecordFlush(t *testing.T) {
	m := New()
	m.RecordFlush(10, time.Millisecond, nil)
	m.RecordFlush(5, time.Millisecond, errors.New("disk full"))

	expectLines(t, scrape(t, m),
		"flystream_flushes_total 1",
		"flystream_flushed_messages_total 10",
		"flystream_flush_failures_total 1",
		"flystream_flush_duration_seconds_count 1",
	)
}

func TestIndependentRegistries(t *testing.T) {
	a, b := New(), New()
	a.RecordAppend(1, 1)
	expectLines(t, scrape(t, b), "flystream_messages_appended_total 0")
}

func TestRecordEviction(t *testing.T) {
	m := New()
	m.RecordEviction(4096, 2*time.Millisecond)
	m.CacheUsage.Set(1024)

	expectLines(t, scrape(t, m),
		"flystream_cache_evicted_bytes_total 4096",
		"flystream_cache_usage_bytes 1024",
		"flystream_cache_eviction_passes_total 1",
	)
}
