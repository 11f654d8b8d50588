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

// Package stats provides a streaming, concurrency-safe aggregator for
// request outcomes. Recording is lock-free and constant time; memory use
// is fixed regardless of how many outcomes are recorded.
package stats

import (
	"math"
	"math/bits"
	"sync/atomic"
	"time"
)

// Kind classifies a single request outcome.
type Kind int

const (
	OK Kind = iota
	HTTPError
	NetworkError
	Timeout
	Overload
	Cancelled
	numKinds
)

func (k Kind) String() string {
	switch k {
	case OK:
		return "ok"
	case HTTPError:
		return "http_error"
	case NetworkError:
		return "network_error"
	case Timeout:
		return "timeout"
	case Overload:
		return "overload"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Outcome is the record of one issued request.
type Outcome struct {
	Endpoint string
	Kind     Kind
	Status   int
	Latency  time.Duration
}

// Latency histogram with logarithmic buckets. Bucket i covers
// (base<<(i-1), base<<i] with base = 100µs; bucket 0 covers (0, base].
// 21 buckets reach ~105s, everything beyond lands in the overflow slot.
const (
	bucketBase = 100 * time.Microsecond
	numBuckets = 21
)

type histogram struct {
	buckets  [numBuckets + 1]atomic.Int64
	count    atomic.Int64
	sumNanos atomic.Int64
	minNanos atomic.Int64
	maxNanos atomic.Int64
}

func bucketIndex(d time.Duration) int {
	if d <= bucketBase {
		return 0
	}
	n := uint64((d + bucketBase - 1) / bucketBase) // ceil(d/base)
	idx := bits.Len64(n - 1)
	if idx > numBuckets {
		return numBuckets
	}
	return idx
}

// bucketBounds returns the half-open (lo, hi] range covered by bucket i.
func bucketBounds(i int) (lo, hi time.Duration) {
	if i == 0 {
		return 0, bucketBase
	}
	return bucketBase << (i - 1), bucketBase << i
}

func (h *histogram) record(d time.Duration) {
	if d < 0 {
		d = 0
	}
	h.buckets[bucketIndex(d)].Add(1)
	h.count.Add(1)
	h.sumNanos.Add(int64(d))

	for {
		cur := h.minNanos.Load()
		if cur != 0 && int64(d) >= cur {
			break
		}
		if h.minNanos.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
	for {
		cur := h.maxNanos.Load()
		if int64(d) <= cur {
			break
		}
		if h.maxNanos.CompareAndSwap(cur, int64(d)) {
			break
		}
	}
}

// percentiles estimates the requested quantiles by linear interpolation
// inside the containing bucket. counts is a coherent copy of the bucket
// counters taken by the caller.
func percentiles(counts []int64, total int64, qs []float64) []time.Duration {
	out := make([]time.Duration, len(qs))
	if total == 0 {
		return out
	}
	for qi, q := range qs {
		rank := q * float64(total)
		if rank < 1 {
			rank = 1
		}
		var cum int64
		for i, c := range counts {
			if c == 0 {
				continue
			}
			if float64(cum+c) >= rank {
				lo, hi := bucketBounds(i)
				if i == numBuckets {
					// Overflow: no upper bound, report the lower edge.
					out[qi] = lo
					break
				}
				frac := (rank - float64(cum)) / float64(c)
				out[qi] = lo + time.Duration(frac*float64(hi-lo))
				break
			}
			cum += c
		}
	}
	return out
}

// group is the set of counters kept for one endpoint (and for the
// overall totals).
type group struct {
	kinds [numKinds]atomic.Int64
	hist  histogram
}

func (g *group) record(o Outcome) {
	if o.Kind >= 0 && o.Kind < numKinds {
		g.kinds[o.Kind].Add(1)
	}
	// Latency is only meaningful for requests that ran to completion.
	if o.Kind == OK || o.Kind == HTTPError {
		g.hist.record(o.Latency)
	}
}

// GroupStats is the point-in-time view of one group.
type GroupStats struct {
	Count      int64            `json:"count"`
	Kinds      map[string]int64 `json:"kinds"`
	Errors     int64            `json:"errors"`
	ErrorRate  float64          `json:"error_rate"`
	Throughput float64          `json:"throughput_rps"`
	Mean       time.Duration    `json:"mean_ns"`
	Min        time.Duration    `json:"min_ns"`
	Max        time.Duration    `json:"max_ns"`
	P50        time.Duration    `json:"p50_ns"`
	P90        time.Duration    `json:"p90_ns"`
	P95        time.Duration    `json:"p95_ns"`
	P99        time.Duration    `json:"p99_ns"`
}

func (g *group) snapshot(elapsed time.Duration) GroupStats {
	s := GroupStats{Kinds: make(map[string]int64, numKinds)}
	for k := Kind(0); k < numKinds; k++ {
		n := g.kinds[k].Load()
		if n == 0 {
			continue
		}
		s.Kinds[k.String()] = n
		s.Count += n
		if k != OK {
			s.Errors += n
		}
	}
	if s.Count > 0 {
		s.ErrorRate = float64(s.Errors) / float64(s.Count)
	}
	if elapsed > 0 {
		s.Throughput = float64(s.Count) / elapsed.Seconds()
	}

	measured := g.hist.count.Load()
	if measured > 0 {
		counts := make([]int64, numBuckets+1)
		for i := range counts {
			counts[i] = g.hist.buckets[i].Load()
		}
		s.Mean = time.Duration(g.hist.sumNanos.Load() / measured)
		s.Min = time.Duration(g.hist.minNanos.Load())
		s.Max = time.Duration(g.hist.maxNanos.Load())
		ps := percentiles(counts, measured, []float64{0.50, 0.90, 0.95, 0.99})
		s.P50, s.P90, s.P95, s.P99 = ps[0], ps[1], ps[2], ps[3]
	}
	return s
}

// Snapshot is a consistent-enough copy of all counters at one moment.
type Snapshot struct {
	Elapsed   time.Duration         `json:"elapsed_ns"`
	Overall   GroupStats            `json:"overall"`
	Endpoints map[string]GroupStats `json:"endpoints"`
}

// Aggregator accumulates outcomes for a run. The endpoint set is fixed
// at construction so Record never takes a lock or allocates.
type Aggregator struct {
	start     time.Time
	overall   group
	endpoints map[string]*group
	order     []string
}

// NewAggregator creates an aggregator for the named endpoints.
func NewAggregator(endpoints []string) *Aggregator {
	a := &Aggregator{
		start:     time.Now(),
		endpoints: make(map[string]*group, len(endpoints)),
		order:     append([]string(nil), endpoints...),
	}
	for _, name := range endpoints {
		a.endpoints[name] = &group{}
	}
	return a
}

// Start resets the elapsed-time origin. Call it when issuance actually
// begins if setup work (such as a connectivity probe) ran since
// construction; not safe concurrently with Snapshot.
func (a *Aggregator) Start() {
	a.start = time.Now()
}

// Record folds one outcome into the running totals. Safe for concurrent
// use from any number of goroutines.
func (a *Aggregator) Record(o Outcome) {
	a.overall.record(o)
	if g, ok := a.endpoints[o.Endpoint]; ok {
		g.record(o)
	}
}

// EndpointNames returns the endpoint names in declaration order.
func (a *Aggregator) EndpointNames() []string {
	return a.order
}

// Snapshot copies the counters and computes derived statistics.
func (a *Aggregator) Snapshot() Snapshot {
	elapsed := time.Since(a.start)
	snap := Snapshot{
		Elapsed:   elapsed,
		Overall:   a.overall.snapshot(elapsed),
		Endpoints: make(map[string]GroupStats, len(a.endpoints)),
	}
	for name, g := range a.endpoints {
		snap.Endpoints[name] = g.snapshot(elapsed)
	}
	return snap
}

// Rate returns requests per second between two cumulative counts.
func Rate(delta int64, interval time.Duration) float64 {
	if interval <= 0 {
		return math.NaN()
	}
	return float64(delta) / interval.Seconds()
}
