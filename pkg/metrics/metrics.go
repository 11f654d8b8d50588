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

package metrics

import (
	"runtime"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const (
	namespace = "mockapi"
)

// Enabled indicates whether metrics collection is enabled.
// Set once at startup via SetEnabled; not modified afterwards.
var Enabled bool

var (
	once     sync.Once
	registry *prometheus.Registry

	HTTPRequestsTotal          CounterVec
	HTTPRequestDurationSeconds HistogramVec
	ConcurrentRequests         Gauge
	DelayedRequestsTotal       CounterVec
	RouteMissesTotal           CounterVec
	AppRecordsTotal            Gauge
	PanicRecoveriesTotal       Counter

	Up         Gauge
	Goroutines GaugeFunc
)

// SetEnabled sets whether metrics collection is enabled.
// Must be called before Init for proper effect.
func SetEnabled(e bool) {
	Enabled = e
}

// Metric variables start as noops so instrumented code is safe to run
// before Init; Init replaces them with real collectors when enabled.
func init() {
	initMetrics()
}

// initMetrics initializes all metric variables.
// Must run after SetEnabled so disabled metrics become noops.
func initMetrics() {
	HTTPRequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDurationSeconds = newHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		},
		[]string{"method", "route"},
	)

	ConcurrentRequests = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "concurrent_requests",
			Help:      "Number of concurrent HTTP requests",
		},
	)

	DelayedRequestsTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delayed_requests_total",
			Help:      "Total number of requests that served a configured artificial delay",
		},
		[]string{"route"},
	)

	RouteMissesTotal = newCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_misses_total",
			Help:      "Total number of requests that resolved to no configured route",
		},
		[]string{"kind"},
	)

	AppRecordsTotal = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "app_records_total",
			Help:      "Number of application records in the in-memory store",
		},
	)

	PanicRecoveriesTotal = newCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "panic_recoveries_total",
			Help:      "Total number of panic recoveries",
		},
	)

	Up = newGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "up",
			Help:      "Mock API liveness indicator (1=up, 0=down)",
		},
	)

	Goroutines = newGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
		func() float64 {
			return float64(runtime.NumGoroutine())
		},
	)
}

func initRegistry() {
	registry = prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	registerCounterVec(HTTPRequestsTotal)
	registerHistogramVec(HTTPRequestDurationSeconds)
	registerGauge(ConcurrentRequests)
	registerCounterVec(DelayedRequestsTotal)
	registerCounterVec(RouteMissesTotal)
	registerGauge(AppRecordsTotal)
	registerCounter(PanicRecoveriesTotal)
	registerGauge(Up)
	registerGaugeFunc(Goroutines)

	Up.Set(1)
}

func registerCounter(v Counter) {
	if !Enabled {
		return
	}
	if c, ok := v.(prometheus.Counter); ok {
		registry.MustRegister(c)
	}
}

func registerCounterVec(v CounterVec) {
	if !Enabled {
		return
	}
	if w, ok := v.(*counterVecWrapper); ok {
		registry.MustRegister(w.CounterVec)
	}
}

func registerHistogramVec(v HistogramVec) {
	if !Enabled {
		return
	}
	if w, ok := v.(*histogramVecWrapper); ok {
		registry.MustRegister(w.HistogramVec)
	}
}

func registerGauge(v Gauge) {
	if !Enabled {
		return
	}
	if g, ok := v.(prometheus.Gauge); ok {
		registry.MustRegister(g)
	}
}

func registerGaugeFunc(v GaugeFunc) {
	if !Enabled || v == nil {
		return
	}
	registry.MustRegister(v)
}

// Init initializes the metrics registry with all collectors.
// Must be called after SetEnabled.
func Init() *prometheus.Registry {
	once.Do(func() {
		initMetrics()

		if !Enabled {
			registry = prometheus.NewRegistry()
			return
		}
		initRegistry()
	})

	return registry
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	if registry == nil {
		return Init()
	}
	return registry
}
