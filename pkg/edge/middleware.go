// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package edge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/metrics"
)

type ctxKey int

const ctxKeyUniqueKey ctxKey = 1

// responseWriter 记录状态码和写入的字节数
type responseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.size += n
	return n, err
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// accessLog 每个请求一个unique key，结束时打日志并记录指标，route使用chi的路由模板
func accessLog(m *metrics.Metrics) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			uk := base.GenUkEdgeRequest()
			wrap := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(wrap, r.WithContext(context.WithValue(r.Context(), ctxKeyUniqueKey, uk)))

			cost := time.Since(start)
			route := "unknown"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveEdgeRequest(route, wrap.status, cost)
			Log.Debugf("[%s] %s %s. status=%d, size=%d, cost=%dms", uk, r.Method, r.URL.Path, wrap.status, wrap.size, cost.Milliseconds())
		})
	}
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if base.AddCors2EdgeFlag {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", "*")
			h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Set("Access-Control-Expose-Headers", headerRateLimitRemaining+", "+headerRateLimitReset)
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func uniqueKeyOf(r *http.Request) string {
	if uk, ok := r.Context().Value(ctxKeyUniqueKey).(string); ok {
		return uk
	}
	return base.UkPreEdgeRequest
}

// clientIp
//
// @param hops: 可信代理的层数，从header的最右边往左数第hops个就是客户端地址
//
func clientIp(r *http.Request, header string, hops int) string {
	if hops > 0 {
		if v := r.Header.Get(header); v != "" {
			items := strings.Split(v, ",")
			if i := len(items) - hops; i >= 0 {
				return strings.TrimSpace(items[i])
			}
			return strings.TrimSpace(items[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// accessTokenOf Authorization: Bearer，或者query参数token
func accessTokenOf(r *http.Request) string {
	if v := r.Header.Get("Authorization"); strings.HasPrefix(v, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(v, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

// ----- response ------------------------------------------------------------------------------------------------------

type errorResp struct {
	ErrorCode int    `json:"error_code"`
	Desp      string `json:"desp"`
}

type finishedResp struct {
	Finished bool `json:"finished"`
}

// statusOf 按错误分类映射http状态码
func statusOf(err error) int {
	if errors.Is(err, base.ErrTokenTarget) || errors.Is(err, base.ErrSessionRevoked) {
		return http.StatusForbidden
	}
	switch base.KindOf(err) {
	case base.KindAuth:
		return http.StatusUnauthorized
	case base.KindNotFound:
		return http.StatusNotFound
	case base.KindResourceLimit:
		return http.StatusTooManyRequests
	case base.KindProtocol:
		return http.StatusBadRequest
	case base.KindTimeout:
		return http.StatusGatewayTimeout
	case base.KindUpstream:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func feedbackError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= 500 {
		Log.Errorf("[%s] %s failed. err=%+v", uniqueKeyOf(r), r.URL.Path, err)
	} else {
		Log.Debugf("[%s] %s rejected. status=%d, err=%v", uniqueKeyOf(r), r.URL.Path, code, err)
	}
	feedbackJson(w, code, errorResp{ErrorCode: code, Desp: err.Error()})
}

func feedbackJson(w http.ResponseWriter, code int, v interface{}) {
	b, err := json.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeJson)
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(code)
	_, _ = w.Write(b)
}

func feedbackFinished(w http.ResponseWriter, finished bool) {
	feedbackJson(w, http.StatusNotFound, finishedResp{Finished: finished})
}
