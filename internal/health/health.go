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
Package health reports whether the storage engine can serve requests.

Checks are plain functions registered by name. RunChecks evaluates all of
them and reduces their results to one status: any unhealthy check makes the
whole response unhealthy, otherwise any degraded check makes it degraded.

	checker := health.NewChecker(banner.Version)
	checker.RegisterCheck("storage", health.StorageCheck(sys.Ping))
	mux.Handle("/health", checker.Handler())
*/
package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Status is the outcome of a check.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the result of one check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// CheckFunc evaluates one aspect of the system.
type CheckFunc func() CheckResult

// Response is the aggregated result of every check.
type Response struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version"`
	Uptime    string                 `json:"uptime"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// Checker runs registered checks.
type Checker struct {
	mu      sync.RWMutex
	version string
	started time.Time
	checks  map[string]CheckFunc
}

// NewChecker creates a checker reporting version.
func NewChecker(version string) *Checker {
	return &Checker{
		version: version,
		started: time.Now(),
		checks:  make(map[string]CheckFunc),
	}
}

// RegisterCheck adds or replaces the check called name.
func (c *Checker) RegisterCheck(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// RunChecks evaluates every check in name order.
func (c *Checker) RunChecks() Response {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()
	sort.Strings(names)

	resp := Response{
		Status:    StatusHealthy,
		Version:   c.version,
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(names)),
	}
	for _, name := range names {
		r := checks[name]()
		resp.Checks[name] = r
		switch {
		case r.Status == StatusUnhealthy:
			resp.Status = StatusUnhealthy
		case r.Status == StatusDegraded && resp.Status == StatusHealthy:
			resp.Status = StatusDegraded
		}
	}
	return resp
}

// IsHealthy reports whether no check is unhealthy.
func (c *Checker) IsHealthy() bool {
	return c.RunChecks().Status != StatusUnhealthy
}

// Handler serves the check results as JSON. Unhealthy responses use status
// 503 so load balancers take the node out of rotation.
func (c *Checker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := c.RunChecks()
		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	})
}

// StorageCheck is unhealthy while ping fails.
func StorageCheck(ping func() error) CheckFunc {
	return func() CheckResult {
		if err := ping(); err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
		}
		return CheckResult{Status: StatusHealthy}
	}
}

// MemoryCheck is degraded while usage (percent) is above threshold.
func MemoryCheck(threshold float64, usage func() float64) CheckFunc {
	return func() CheckResult {
		u := usage()
		if u > threshold {
			return CheckResult{
				Status:  StatusDegraded,
				Message: fmt.Sprintf("cache usage %.1f%% is above %.0f%%", u, threshold),
			}
		}
		return CheckResult{Status: StatusHealthy}
	}
}
