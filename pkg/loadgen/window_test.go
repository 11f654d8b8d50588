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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFailureWindowTripsAtThreshold(t *testing.T) {
	fw := newFailureWindow(3, time.Second)
	now := time.Now()

	assert.False(t, fw.observe(now))
	assert.False(t, fw.observe(now.Add(10*time.Millisecond)))

	select {
	case <-fw.Tripped():
		t.Fatal("tripped below threshold")
	default:
	}

	assert.True(t, fw.observe(now.Add(20*time.Millisecond)))

	select {
	case <-fw.Tripped():
	default:
		t.Fatal("expected tripped channel to be closed")
	}

	// Later failures do not re-trip.
	assert.False(t, fw.observe(now.Add(30*time.Millisecond)))
}

func TestFailureWindowSlides(t *testing.T) {
	fw := newFailureWindow(3, time.Second)
	now := time.Now()

	assert.False(t, fw.observe(now))
	assert.False(t, fw.observe(now.Add(100*time.Millisecond)))
	// Both prior failures have aged out by now.
	assert.False(t, fw.observe(now.Add(2*time.Second)))
	assert.False(t, fw.observe(now.Add(2100*time.Millisecond)))
	assert.True(t, fw.observe(now.Add(2200*time.Millisecond)))
}
