// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics 进程内所有prometheus指标，使用独立的registry
//
// 所有方法在接收者为nil时什么都不做，不需要指标的测试可以直接传nil
//
type Metrics struct {
	registry *prometheus.Registry

	rtmpSessions      prometheus.Gauge
	ingestConnections *prometheus.CounterVec
	partsPublished    *prometheus.CounterVec
	renditionFailures *prometheus.CounterVec
	edgeRequests      *prometheus.CounterVec
	edgeLatency       *prometheus.HistogramVec
	blockingReloads   *prometheus.CounterVec
	rateLimited       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		rtmpSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lallive_rtmp_sessions",
			Help: "Number of rtmp publish sessions currently connected",
		}),
		ingestConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lallive_ingest_connections_total",
			Help: "Ingest connections by final state",
		}, []string{"state"}),
		partsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lallive_parts_published_total",
			Help: "LL-HLS parts written to the object store and announced in the manifest",
		}, []string{"rendition"}),
		renditionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lallive_rendition_failures_total",
			Help: "Renditions that stopped publishing because of an error",
		}, []string{"rendition"}),
		edgeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lallive_edge_requests_total",
			Help: "Edge http requests by route and status code",
		}, []string{"route", "code"}),
		edgeLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lallive_edge_request_seconds",
			Help:    "Edge http request latency, blocking requests included",
			Buckets: []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 6},
		}, []string{"route"}),
		blockingReloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lallive_edge_blocking_reloads_total",
			Help: "Blocking playlist reloads by outcome",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lallive_edge_rate_limited_total",
			Help: "Requests rejected by the edge rate limiter",
		}),
	}
	m.registry.MustRegister(
		m.rtmpSessions,
		m.ingestConnections,
		m.partsPublished,
		m.renditionFailures,
		m.edgeRequests,
		m.edgeLatency,
		m.blockingReloads,
		m.rateLimited,
	)
	return m
}

// 阻塞刷新的结果
const (
	ReloadAdvanced  = "advanced"
	ReloadTimeout   = "timeout"
	ReloadCompleted = "completed"
)

func (m *Metrics) IncRtmpSessions() {
	if m == nil {
		return
	}
	m.rtmpSessions.Inc()
}

func (m *Metrics) DecRtmpSessions() {
	if m == nil {
		return
	}
	m.rtmpSessions.Dec()
}

func (m *Metrics) IncIngestConnection(state string) {
	if m == nil {
		return
	}
	m.ingestConnections.WithLabelValues(state).Inc()
}

func (m *Metrics) IncPartsPublished(rendition string) {
	if m == nil {
		return
	}
	m.partsPublished.WithLabelValues(rendition).Inc()
}

func (m *Metrics) IncRenditionFailure(rendition string) {
	if m == nil {
		return
	}
	m.renditionFailures.WithLabelValues(rendition).Inc()
}

func (m *Metrics) ObserveEdgeRequest(route string, code int, cost time.Duration) {
	if m == nil {
		return
	}
	m.edgeRequests.WithLabelValues(route, statusLabel(code)).Inc()
	m.edgeLatency.WithLabelValues(route).Observe(cost.Seconds())
}

func (m *Metrics) IncBlockingReload(outcome string) {
	if m == nil {
		return
	}
	m.blockingReloads.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	}
	return "2xx"
}
