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
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/store"
)

type Server struct {
	addr    string
	option  Option
	repo    model.Repository
	kv      store.KV
	objects store.ObjectStore

	signer      *TokenSigner
	limiter     RateLimiter
	revocations *revocationCache
	router      chi.Router

	ln  net.Listener
	srv *http.Server
}

func NewServer(addr string, repo model.Repository, kv store.KV, objects store.ObjectStore, modOptions ...ModOption) (*Server, error) {
	option := defaultOption
	for _, fn := range modOptions {
		fn(&option)
	}
	if option.SessionTtlMs <= 0 || option.SessionTtlMs > maxSessionTtlMs {
		option.SessionTtlMs = maxSessionTtlMs
	}

	s := &Server{
		addr:        addr,
		option:      option,
		repo:        repo,
		kv:          kv,
		objects:     objects,
		signer:      option.Signer,
		limiter:     option.Limiter,
		revocations: newRevocationCache(repo, time.Duration(option.RevocationCacheMs)*time.Millisecond),
	}
	if s.signer == nil {
		var err error
		if s.signer, err = GenerateTokenSigner(); err != nil {
			return nil, err
		}
		Log.Warnf("edge signing key not configured, generated a temporary one. alg=%s", s.signer.Alg())
	}
	if s.limiter == nil && option.RateLimit > 0 {
		s.limiter = NewMemoryRateLimiter(option.RateLimit, time.Duration(option.RateLimitWindowMs)*time.Millisecond)
	}

	r := chi.NewRouter()
	r.Use(accessLog(option.Metrics))
	r.Use(cors)
	r.Get("/dvr/*", s.serveDvr)
	r.Route("/{org}", func(r chi.Router) {
		r.Get("/{file}", s.serveOrgFile)
		r.Get("/r/{file}", s.serveRecordingMaster)
		r.Get("/{target}/refresh", s.serveRefresh)
		r.Get("/{target}/{file}", s.serveTargetFile)
	})
	s.router = r
	return s, nil
}

// Handler 不经过Listen直接使用，比如测试或者挂到其他http server上
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Listen() (err error) {
	if s.ln, err = net.Listen("tcp", s.addr); err != nil {
		return
	}
	Log.Infof("start edge server listen. addr=%s", s.addr)
	return
}

// Addr Listen之后实际监听的地址
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) RunLoop() error {
	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	err := s.srv.Serve(s.ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Dispose 等待进行中的请求结束，阻塞请求最多等一个blocking reload的时长
func (s *Server) Dispose() error {
	if s.srv == nil {
		if s.ln != nil {
			return s.ln.Close()
		}
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(s.option.BlockingTimeoutMs+1000)*time.Millisecond)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
