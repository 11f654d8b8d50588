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
	"sync"
	"time"
)

// failureWindow trips once a configured number of failures land within a
// sliding time window. Tripping is one-way.
type failureWindow struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	failures  []time.Time

	tripOnce sync.Once
	tripped  chan struct{}
}

func newFailureWindow(threshold int, window time.Duration) *failureWindow {
	return &failureWindow{
		threshold: threshold,
		window:    window,
		tripped:   make(chan struct{}),
	}
}

// observe records one failure and reports whether this observation
// tripped the window.
func (f *failureWindow) observe(now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := now.Add(-f.window)
	kept := f.failures[:0]
	for _, t := range f.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	f.failures = append(kept, now)

	tripped := false
	if len(f.failures) >= f.threshold {
		f.tripOnce.Do(func() {
			close(f.tripped)
			tripped = true
		})
	}
	return tripped
}

// Tripped is closed once the failure threshold is exceeded.
func (f *failureWindow) Tripped() <-chan struct{} {
	return f.tripped
}
