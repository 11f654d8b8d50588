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

// Package loadgen drives configurable HTTP load against a target: a
// YAML workload describes what to send, the runner paces it in open or
// closed loop, and a worker pool records every outcome.
package loadgen

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/loadlab/loadlab/pkg/config"
)

// ErrWorkload is wrapped by all workload validation errors.
var ErrWorkload = errors.New("workload error")

// EnvPrefix for environment overrides of workload fields.
const EnvPrefix = "LOADGEN_"

// Pacing modes.
const (
	ModeOpen   = "open"   // fixed request rate, unbounded concurrency
	ModeClosed = "closed" // fixed concurrency, rate set by the target
)

// Upper bounds on pacing settings. MaxRate keeps the open-loop tick
// interval at a microsecond or more; MaxPendingLimit bounds the dispatch
// queue and its worker goroutines.
const (
	MaxRate         = 1_000_000
	MaxPendingLimit = 65_536
)

// Ramp grows the active worker count stepwise in closed mode.
type Ramp struct {
	Start    int           `koanf:"start"`
	Step     int           `koanf:"step"`
	Interval time.Duration `koanf:"interval"`
}

// Endpoint is one weighted request shape.
type Endpoint struct {
	Name    string `koanf:"name"`
	Method  string `koanf:"method"`
	Path    string `koanf:"path"`
	Weight  int    `koanf:"weight"`
	Payload string `koanf:"payload"`
}

// Workload is the full description of one load run.
type Workload struct {
	TargetBaseURL  string        `koanf:"target_base_url"`
	Mode           string        `koanf:"mode"`
	Rate           int           `koanf:"rate"`
	Concurrency    int           `koanf:"concurrency"`
	Duration       time.Duration `koanf:"duration"`
	GracePeriod    time.Duration `koanf:"grace_period"`
	ReportInterval time.Duration `koanf:"report_interval"`
	ClientTimeout  time.Duration `koanf:"client_timeout"`
	MaxPending     int           `koanf:"max_pending"`
	AbortThreshold int           `koanf:"abort_threshold"`
	AbortWindow    time.Duration `koanf:"abort_window"`
	SkipProbe      bool          `koanf:"skip_probe"`
	Ramp           *Ramp         `koanf:"ramp"`
	Endpoints      []Endpoint    `koanf:"endpoints"`
}

func defaultWorkload() *Workload {
	return &Workload{
		Mode:           ModeOpen,
		GracePeriod:    5 * time.Second,
		ReportInterval: time.Second,
		ClientTimeout:  5 * time.Second,
		AbortWindow:    time.Second,
	}
}

// LoadWorkload reads a workload from a YAML file, applies environment
// overrides (LOADGEN_ prefix), and validates the result.
func LoadWorkload(path string) (*Workload, error) {
	w := defaultWorkload()

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: failed to load workload file: %v", ErrWorkload, err)
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(s, EnvPrefix)
		s = strings.ToLower(s)
		s = strings.ReplaceAll(s, "__", "%UNDERSCORE%")
		s = strings.ReplaceAll(s, "_", ".")
		return strings.ReplaceAll(s, "%UNDERSCORE%", "_")
	}), nil); err != nil {
		return nil, fmt.Errorf("%w: failed to load environment variables: %v", ErrWorkload, err)
	}

	if err := k.UnmarshalWithConf("", w, koanf.UnmarshalConf{
		DecoderConfig: &mapstructure.DecoderConfig{
			TagName:          "koanf",
			WeaklyTypedInput: true,
			Result:           w,
			DecodeHook:       config.DurationDecodeHook(),
		},
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to unmarshal workload: %v", ErrWorkload, err)
	}

	if err := w.Validate(); err != nil {
		return nil, err
	}
	return w, nil
}

var bodyMethods = map[string]bool{"POST": true, "PUT": true, "PATCH": true}

var workloadMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "DELETE": true, "PATCH": true,
	"HEAD": true, "OPTIONS": true, "TRACE": true, "CONNECT": true,
}

// Validate applies defaults and checks the workload for errors.
func (w *Workload) Validate() error {
	u, err := url.Parse(w.TargetBaseURL)
	if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: target_base_url must be an absolute http(s) URL, got %q", ErrWorkload, w.TargetBaseURL)
	}

	switch w.Mode {
	case ModeOpen:
		if w.Rate <= 0 {
			return fmt.Errorf("%w: open mode requires rate > 0", ErrWorkload)
		}
		if w.Rate > MaxRate {
			return fmt.Errorf("%w: rate must be at most %d", ErrWorkload, MaxRate)
		}
		if w.Concurrency > 0 {
			return fmt.Errorf("%w: concurrency is a closed-mode setting", ErrWorkload)
		}
		if w.MaxPending == 0 {
			w.MaxPending = 2 * w.Rate
			if w.MaxPending < 16 {
				w.MaxPending = 16
			}
			if w.MaxPending > MaxPendingLimit {
				w.MaxPending = MaxPendingLimit
			}
		}
		if w.MaxPending < 1 {
			return fmt.Errorf("%w: max_pending must be positive", ErrWorkload)
		}
		if w.MaxPending > MaxPendingLimit {
			return fmt.Errorf("%w: max_pending must be at most %d", ErrWorkload, MaxPendingLimit)
		}
	case ModeClosed:
		if w.Concurrency <= 0 {
			return fmt.Errorf("%w: closed mode requires concurrency > 0", ErrWorkload)
		}
		if w.Rate > 0 {
			return fmt.Errorf("%w: rate is an open-mode setting", ErrWorkload)
		}
	default:
		return fmt.Errorf("%w: mode must be %q or %q, got %q", ErrWorkload, ModeOpen, ModeClosed, w.Mode)
	}

	if w.Duration <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrWorkload)
	}
	if w.GracePeriod < 0 {
		return fmt.Errorf("%w: grace_period must not be negative", ErrWorkload)
	}
	if w.ClientTimeout <= 0 {
		return fmt.Errorf("%w: client_timeout must be positive", ErrWorkload)
	}
	if w.AbortThreshold < 0 {
		return fmt.Errorf("%w: abort_threshold must not be negative", ErrWorkload)
	}
	if w.AbortThreshold > 0 && w.AbortWindow <= 0 {
		return fmt.Errorf("%w: abort_window must be positive when abort_threshold is set", ErrWorkload)
	}

	if w.Ramp != nil {
		if w.Mode != ModeClosed {
			return fmt.Errorf("%w: ramp applies to closed mode only", ErrWorkload)
		}
		if w.Ramp.Start <= 0 || w.Ramp.Step <= 0 || w.Ramp.Interval <= 0 {
			return fmt.Errorf("%w: ramp.start, ramp.step and ramp.interval must be positive", ErrWorkload)
		}
		if w.Ramp.Start > w.Concurrency {
			return fmt.Errorf("%w: ramp.start must not exceed concurrency", ErrWorkload)
		}
	}

	if len(w.Endpoints) == 0 {
		return fmt.Errorf("%w: at least one endpoint is required", ErrWorkload)
	}
	seen := make(map[string]bool, len(w.Endpoints))
	for i := range w.Endpoints {
		ep := &w.Endpoints[i]
		if ep.Name == "" {
			return fmt.Errorf("%w: endpoint %d: name is required", ErrWorkload, i)
		}
		if seen[ep.Name] {
			return fmt.Errorf("%w: duplicate endpoint name %q", ErrWorkload, ep.Name)
		}
		seen[ep.Name] = true

		if ep.Method == "" {
			ep.Method = "GET"
		}
		ep.Method = strings.ToUpper(ep.Method)
		if !workloadMethods[ep.Method] {
			return fmt.Errorf("%w: endpoint %q: unknown method %q", ErrWorkload, ep.Name, ep.Method)
		}
		if !strings.HasPrefix(ep.Path, "/") {
			return fmt.Errorf("%w: endpoint %q: path must start with '/'", ErrWorkload, ep.Name)
		}
		if ep.Weight == 0 {
			ep.Weight = 1
		}
		if ep.Weight < 0 {
			return fmt.Errorf("%w: endpoint %q: weight must be positive", ErrWorkload, ep.Name)
		}
		if ep.Payload != "" {
			if !bodyMethods[ep.Method] {
				return fmt.Errorf("%w: endpoint %q: payload requires a body-bearing method", ErrWorkload, ep.Name)
			}
			if rendered := RenderPayload(ep.Payload, 1); !json.Valid([]byte(rendered)) {
				return fmt.Errorf("%w: endpoint %q: payload does not render to valid JSON", ErrWorkload, ep.Name)
			}
		}
	}

	return nil
}

// EndpointNames returns endpoint names in declaration order.
func (w *Workload) EndpointNames() []string {
	names := make([]string, len(w.Endpoints))
	for i, ep := range w.Endpoints {
		names[i] = ep.Name
	}
	return names
}

// totalWeight is only valid after Validate has defaulted zero weights.
func (w *Workload) totalWeight() int {
	total := 0
	for _, ep := range w.Endpoints {
		total += ep.Weight
	}
	return total
}

// pick selects an endpoint by weighted draw; r must be uniform in
// [0, totalWeight).
func (w *Workload) pick(r int) *Endpoint {
	for i := range w.Endpoints {
		r -= w.Endpoints[i].Weight
		if r < 0 {
			return &w.Endpoints[i]
		}
	}
	return &w.Endpoints[len(w.Endpoints)-1]
}

// RenderPayload substitutes {{seq}} and {{uuid}} in a payload template.
func RenderPayload(template string, seq int64) string {
	out := strings.ReplaceAll(template, "{{seq}}", strconv.FormatInt(seq, 10))
	for strings.Contains(out, "{{uuid}}") {
		out = strings.Replace(out, "{{uuid}}", uuid.NewString(), 1)
	}
	return out
}
