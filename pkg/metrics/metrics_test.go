// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/q191201771/naza/pkg/assert"
)

func TestMetrics(t *testing.T) {
	m := New()
	m.IncPartsPublished("video_source")
	m.IncPartsPublished("video_source")
	m.IncIngestConnection("stopped")
	m.IncBlockingReload(ReloadTimeout)
	m.ObserveEdgeRequest("playlist", 404, 10*time.Millisecond)
	m.IncRtmpSessions()
	m.IncRtmpSessions()
	m.DecRtmpSessions()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.partsPublished.WithLabelValues("video_source")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestConnections.WithLabelValues("stopped")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.edgeRequests.WithLabelValues("playlist", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.rtmpSessions))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	assert.Equal(t, true, strings.Contains(string(body), `lallive_edge_blocking_reloads_total{outcome="timeout"} 1`))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.IncPartsPublished("audio_source")
	m.IncRateLimited()
	m.ObserveEdgeRequest("media", 200, time.Second)
}
