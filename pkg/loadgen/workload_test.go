/*
 * Copyright (c) 2026, LoadLab contributors.
 *
 * LoadLab licenses this file to you under the Apache License,
 * Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.
 * You may obtain a copy of the License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package loadgen

import (
	"encoding/json"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validWorkload() *Workload {
	w := defaultWorkload()
	w.TargetBaseURL = "http://localhost:8080"
	w.Rate = 10
	w.Duration = time.Second
	w.Endpoints = []Endpoint{{Name: "health", Method: "GET", Path: "/health", Weight: 1}}
	return w
}

func TestWorkloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Workload)
		wantErr string
	}{
		{"valid open", func(w *Workload) {}, ""},
		{"valid closed", func(w *Workload) {
			w.Mode = ModeClosed
			w.Rate = 0
			w.Concurrency = 4
		}, ""},
		{"relative url", func(w *Workload) { w.TargetBaseURL = "localhost:8080" }, "absolute http(s) URL"},
		{"bad scheme", func(w *Workload) { w.TargetBaseURL = "ftp://x" }, "absolute http(s) URL"},
		{"unknown mode", func(w *Workload) { w.Mode = "burst" }, "mode must be"},
		{"open without rate", func(w *Workload) { w.Rate = 0 }, "rate > 0"},
		{"rate above cap", func(w *Workload) { w.Rate = MaxRate + 1 }, "rate must be at most"},
		{"max_pending above cap", func(w *Workload) { w.MaxPending = MaxPendingLimit + 1 }, "max_pending must be at most"},
		{"open with concurrency", func(w *Workload) { w.Concurrency = 4 }, "closed-mode setting"},
		{"closed without concurrency", func(w *Workload) {
			w.Mode = ModeClosed
			w.Rate = 0
		}, "concurrency > 0"},
		{"closed with rate", func(w *Workload) {
			w.Mode = ModeClosed
			w.Concurrency = 2
		}, "open-mode setting"},
		{"zero duration", func(w *Workload) { w.Duration = 0 }, "duration must be positive"},
		{"zero client timeout", func(w *Workload) { w.ClientTimeout = 0 }, "client_timeout"},
		{"no endpoints", func(w *Workload) { w.Endpoints = nil }, "at least one endpoint"},
		{"duplicate endpoint name", func(w *Workload) {
			w.Endpoints = append(w.Endpoints, Endpoint{Name: "health", Path: "/h2"})
		}, "duplicate endpoint name"},
		{"bad method", func(w *Workload) { w.Endpoints[0].Method = "FETCH" }, "unknown method"},
		{"relative path", func(w *Workload) { w.Endpoints[0].Path = "health" }, "must start with '/'"},
		{"negative weight", func(w *Workload) { w.Endpoints[0].Weight = -1 }, "weight must be positive"},
		{"payload on GET", func(w *Workload) { w.Endpoints[0].Payload = `{}` }, "body-bearing method"},
		{"payload not JSON", func(w *Workload) {
			w.Endpoints[0].Method = "POST"
			w.Endpoints[0].Payload = `{"a":`
		}, "valid JSON"},
		{"ramp in open mode", func(w *Workload) {
			w.Ramp = &Ramp{Start: 1, Step: 1, Interval: time.Second}
		}, "closed mode only"},
		{"ramp start above concurrency", func(w *Workload) {
			w.Mode = ModeClosed
			w.Rate = 0
			w.Concurrency = 2
			w.Ramp = &Ramp{Start: 5, Step: 1, Interval: time.Second}
		}, "must not exceed concurrency"},
		{"abort threshold without window", func(w *Workload) {
			w.AbortThreshold = 5
			w.AbortWindow = 0
		}, "abort_window"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := validWorkload()
			tc.mutate(w)
			err := w.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrWorkload)
				assert.Contains(t, err.Error(), tc.wantErr)
			}
		})
	}
}

func TestWorkloadDefaults(t *testing.T) {
	w := validWorkload()
	w.Endpoints[0].Method = ""
	w.Endpoints[0].Weight = 0
	require.NoError(t, w.Validate())

	assert.Equal(t, "GET", w.Endpoints[0].Method)
	assert.Equal(t, 1, w.Endpoints[0].Weight)
	assert.Equal(t, 20, w.MaxPending, "default max_pending is 2x rate")

	w = validWorkload()
	w.Rate = 3
	require.NoError(t, w.Validate())
	assert.Equal(t, 16, w.MaxPending, "max_pending floor")

	w = validWorkload()
	w.Rate = MaxRate
	require.NoError(t, w.Validate())
	assert.Equal(t, MaxPendingLimit, w.MaxPending, "derived max_pending is clamped")
}

func TestLoadWorkloadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target_base_url: http://localhost:8080
mode: open
rate: 50
duration: 10s
report_interval: 500ms
endpoints:
  - name: health
    path: /health
  - name: create
    method: POST
    path: /apps
    weight: 3
    payload: '{"kind":"synthetic","seq":{{seq}},"id":"{{uuid}}"}'
`), 0o600))

	w, err := LoadWorkload(path)
	require.NoError(t, err)
	assert.Equal(t, 50, w.Rate)
	assert.Equal(t, 10*time.Second, w.Duration)
	assert.Equal(t, 500*time.Millisecond, w.ReportInterval)
	assert.Equal(t, 5*time.Second, w.GracePeriod, "default")
	require.Len(t, w.Endpoints, 2)
	assert.Equal(t, "GET", w.Endpoints[0].Method)
	assert.Equal(t, 3, w.Endpoints[1].Weight)
}

func TestLoadWorkloadEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "workload.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target_base_url: http://localhost:8080
rate: 50
duration: 10s
endpoints:
  - name: health
    path: /health
`), 0o600))

	t.Setenv("LOADGEN_RATE", "200")
	t.Setenv("LOADGEN_CLIENT__TIMEOUT", "2s")

	w, err := LoadWorkload(path)
	require.NoError(t, err)
	assert.Equal(t, 200, w.Rate)
	assert.Equal(t, 2*time.Second, w.ClientTimeout)
}

func TestRenderPayload(t *testing.T) {
	out := RenderPayload(`{"seq":{{seq}},"again":{{seq}},"id":"{{uuid}}"}`, 42)
	assert.True(t, json.Valid([]byte(out)), "rendered payload: %s", out)
	assert.Contains(t, out, `"seq":42`)
	assert.Contains(t, out, `"again":42`)
	assert.NotContains(t, out, "{{")
}

func TestWeightedPick(t *testing.T) {
	w := validWorkload()
	w.Endpoints = []Endpoint{
		{Name: "a", Path: "/a", Weight: 1},
		{Name: "b", Path: "/b", Weight: 9},
	}
	require.NoError(t, w.Validate())

	rng := rand.New(rand.NewSource(3))
	counts := map[string]int{}
	total := w.totalWeight()
	for i := 0; i < 10000; i++ {
		counts[w.pick(rng.Intn(total)).Name]++
	}

	ratio := float64(counts["b"]) / float64(counts["a"]+counts["b"])
	assert.InDelta(t, 0.9, ratio, 0.03)
}
