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
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/loadlab/loadlab/pkg/stats"
)

// ErrAborted is returned when the sliding failure window trips.
var ErrAborted = errors.New("run aborted: failure threshold exceeded")

// Runner executes one workload from start to final snapshot.
type Runner struct {
	workload    *Workload
	client      *http.Client
	agg         *stats.Aggregator
	window      *failureWindow // nil when aborting is disabled
	log         *zap.Logger
	seq         atomic.Int64
	totalWeight int
}

// NewRunner prepares a runner for the given validated workload.
func NewRunner(w *Workload, log *zap.Logger) *Runner {
	r := &Runner{
		workload: w,
		client: &http.Client{
			Timeout: w.ClientTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        256,
				MaxIdleConnsPerHost: 256,
			},
		},
		agg:         stats.NewAggregator(w.EndpointNames()),
		log:         log,
		totalWeight: w.totalWeight(),
	}
	if w.AbortThreshold > 0 {
		r.window = newFailureWindow(w.AbortThreshold, w.AbortWindow)
	}
	return r
}

// Aggregator exposes the runner's live statistics.
func (r *Runner) Aggregator() *stats.Aggregator {
	return r.agg
}

// Probe issues a single GET to the target's /health before the run.
func (r *Runner) Probe(ctx context.Context) error {
	url := strings.TrimRight(r.workload.TargetBaseURL, "/") + "/health"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", url, err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("probe %s: unexpected status %d", url, resp.StatusCode)
	}
	return nil
}

// Run drives the workload until its duration elapses, the context is
// cancelled, or the failure window trips. It always drains in-flight
// requests for up to the grace period before returning the final
// snapshot. A context cancellation is a clean shutdown, not an error.
func (r *Runner) Run(ctx context.Context) (stats.Snapshot, error) {
	w := r.workload

	// Elapsed time and throughput are measured from here, not from
	// construction; the startup probe must not count.
	r.agg.Start()

	// Requests get their own lifetime so that stopping issuance does not
	// kill what is already in flight; the grace timer does that.
	reqCtx, cancelReq := context.WithCancel(context.Background())
	defer cancelReq()

	if w.ReportInterval > 0 {
		progressDone := make(chan struct{})
		defer close(progressDone)
		go r.progressLoop(progressDone)
	}

	var tripCh <-chan struct{}
	if r.window != nil {
		tripCh = r.window.Tripped()
	}

	var wg sync.WaitGroup
	var aborted bool

	r.log.Info("Starting load run",
		zap.String("target", w.TargetBaseURL),
		zap.String("mode", w.Mode),
		zap.Int("rate", w.Rate),
		zap.Int("concurrency", w.Concurrency),
		zap.Duration("duration", w.Duration),
		zap.Int("endpoints", len(w.Endpoints)),
	)

	switch w.Mode {
	case ModeOpen:
		aborted = r.runOpen(ctx, reqCtx, tripCh, &wg)
	case ModeClosed:
		aborted = r.runClosed(ctx, reqCtx, tripCh, &wg)
	}

	// Drain: give in-flight requests the grace period, then cancel.
	r.log.Info("Issuance stopped, draining in-flight requests",
		zap.Duration("grace_period", w.GracePeriod))
	grace := time.AfterFunc(w.GracePeriod, cancelReq)
	wg.Wait()
	grace.Stop()

	snap := r.agg.Snapshot()
	if aborted {
		return snap, ErrAborted
	}
	return snap, nil
}

// runOpen paces issuance with a ticker at 1/rate. A full dispatch queue
// records Overload instead of blocking the tick loop, so the pace never
// drifts behind a slow target.
func (r *Runner) runOpen(ctx, reqCtx context.Context, tripCh <-chan struct{}, wg *sync.WaitGroup) bool {
	w := r.workload

	tasks := make(chan task, w.MaxPending)
	for i := 0; i < w.MaxPending; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				r.finish(execute(reqCtx, r.client, w.TargetBaseURL, t))
			}
		}()
	}

	ticker := time.NewTicker(time.Second / time.Duration(w.Rate))
	defer ticker.Stop()
	durTimer := time.NewTimer(w.Duration)
	defer durTimer.Stop()

	aborted := false
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-durTimer.C:
			break loop
		case <-tripCh:
			aborted = true
			break loop
		case <-ticker.C:
			t := r.nextTask()
			select {
			case tasks <- t:
			default:
				r.finish(stats.Outcome{Endpoint: t.endpoint.Name, Kind: stats.Overload})
			}
		}
	}
	close(tasks)
	return aborted
}

// runClosed keeps a fixed number of workers looping build-send-record.
// With a ramp, the worker count grows stepwise up to the configured
// concurrency.
func (r *Runner) runClosed(ctx, reqCtx context.Context, tripCh <-chan struct{}, wg *sync.WaitGroup) bool {
	w := r.workload

	issueCtx, stopIssue := context.WithCancel(context.Background())
	defer stopIssue()

	startWorker := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for issueCtx.Err() == nil {
				r.finish(execute(reqCtx, r.client, w.TargetBaseURL, r.nextTask()))
			}
		}()
	}

	active := w.Concurrency
	if w.Ramp != nil {
		active = w.Ramp.Start
	}
	for i := 0; i < active; i++ {
		startWorker()
	}

	if w.Ramp != nil {
		go func() {
			ticker := time.NewTicker(w.Ramp.Interval)
			defer ticker.Stop()
			for current := active; current < w.Concurrency; {
				select {
				case <-issueCtx.Done():
					return
				case <-ticker.C:
					step := w.Ramp.Step
					if current+step > w.Concurrency {
						step = w.Concurrency - current
					}
					for i := 0; i < step; i++ {
						startWorker()
					}
					current += step
					r.log.Info("Ramped up workers", zap.Int("active", current))
				}
			}
		}()
	}

	durTimer := time.NewTimer(w.Duration)
	defer durTimer.Stop()

	aborted := false
	select {
	case <-ctx.Done():
	case <-durTimer.C:
	case <-tripCh:
		aborted = true
	}
	stopIssue()
	return aborted
}

func (r *Runner) nextTask() task {
	seq := r.seq.Add(1)
	return task{endpoint: r.workload.pick(rand.Intn(r.totalWeight)), seq: seq}
}

func (r *Runner) finish(o stats.Outcome) {
	r.agg.Record(o)
	if o.Kind != stats.OK && r.window != nil {
		if r.window.observe(time.Now()) {
			r.log.Warn("Failure threshold exceeded",
				zap.Int("threshold", r.workload.AbortThreshold),
				zap.Duration("window", r.workload.AbortWindow))
		}
	}
}

// progressLoop logs interval throughput until the run finishes.
func (r *Runner) progressLoop(done <-chan struct{}) {
	ticker := time.NewTicker(r.workload.ReportInterval)
	defer ticker.Stop()

	var lastCount, lastErrors int64
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			snap := r.agg.Snapshot()
			delta := snap.Overall.Count - lastCount
			r.log.Info("Progress",
				zap.Float64("rps", stats.Rate(delta, r.workload.ReportInterval)),
				zap.Int64("total", snap.Overall.Count),
				zap.Int64("interval_errors", snap.Overall.Errors-lastErrors),
				zap.Duration("mean", snap.Overall.Mean),
				zap.Duration("p95", snap.Overall.P95),
			)
			lastCount = snap.Overall.Count
			lastErrors = snap.Overall.Errors
		}
	}
}
