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
	"github.com/prometheus/client_golang/prometheus"
)

// Counter wraps prometheus.Counter with a noop implementation when disabled
type Counter interface {
	Inc()
	Add(float64)
}

// CounterVec wraps prometheus.CounterVec with a noop implementation when disabled
type CounterVec interface {
	WithLabelValues(labels ...string) Counter
}

// Histogram wraps prometheus.Histogram with a noop implementation when disabled
type Histogram interface {
	Observe(float64)
}

// HistogramVec wraps prometheus.HistogramVec with a noop implementation when disabled
type HistogramVec interface {
	WithLabelValues(labels ...string) Histogram
}

// Gauge wraps prometheus.Gauge with a noop implementation when disabled
type Gauge interface {
	Set(float64)
	Inc()
	Dec()
	Add(float64)
	Sub(float64)
}

// GaugeFunc wraps prometheus.GaugeFunc for callback-based gauges
type GaugeFunc interface {
	prometheus.Metric
	prometheus.Collector
}

type noopCounter struct{}

func (noopCounter) Inc()        {}
func (noopCounter) Add(float64) {}

type noopCounterVec struct{}

func (noopCounterVec) WithLabelValues(...string) Counter { return safeNoopCounter }

type noopHistogram struct{}

func (noopHistogram) Observe(float64) {}

type noopHistogramVec struct{}

func (noopHistogramVec) WithLabelValues(...string) Histogram { return safeNoopHistogram }

type noopGauge struct{}

func (noopGauge) Set(float64) {}
func (noopGauge) Inc()        {}
func (noopGauge) Dec()        {}
func (noopGauge) Add(float64) {}
func (noopGauge) Sub(float64) {}

// Safe singleton instances, always valid to call methods on
var (
	safeNoopCounter   Counter   = noopCounter{}
	safeNoopHistogram Histogram = noopHistogram{}
	safeNoopGauge     Gauge     = noopGauge{}
)

// counterVecWrapper adapts prometheus.CounterVec to the CounterVec interface
type counterVecWrapper struct {
	*prometheus.CounterVec
}

func (c *counterVecWrapper) WithLabelValues(labels ...string) Counter {
	return c.CounterVec.WithLabelValues(labels...)
}

// histogramVecWrapper adapts prometheus.HistogramVec to the HistogramVec interface
type histogramVecWrapper struct {
	*prometheus.HistogramVec
}

func (h *histogramVecWrapper) WithLabelValues(labels ...string) Histogram {
	return h.HistogramVec.WithLabelValues(labels...)
}

func newCounter(opts prometheus.CounterOpts) Counter {
	if Enabled {
		return prometheus.NewCounter(opts)
	}
	return safeNoopCounter
}

func newCounterVec(opts prometheus.CounterOpts, labelNames []string) CounterVec {
	if Enabled {
		return &counterVecWrapper{prometheus.NewCounterVec(opts, labelNames)}
	}
	return noopCounterVec{}
}

func newHistogramVec(opts prometheus.HistogramOpts, labelNames []string) HistogramVec {
	if Enabled {
		return &histogramVecWrapper{prometheus.NewHistogramVec(opts, labelNames)}
	}
	return noopHistogramVec{}
}

func newGauge(opts prometheus.GaugeOpts) Gauge {
	if Enabled {
		return prometheus.NewGauge(opts)
	}
	return safeNoopGauge
}

func newGaugeFunc(opts prometheus.GaugeOpts, f func() float64) GaugeFunc {
	if Enabled {
		return prometheus.NewGaugeFunc(opts, f)
	}
	// Registration skips nil GaugeFuncs when disabled
	return nil
}
