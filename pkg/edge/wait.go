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
	"time"

	"github.com/q191201771/lallive/pkg/store"
)

func (s *Server) getManifest(ctx context.Context, key string) (*store.Manifest, error) {
	b, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return store.DecodeManifest(b)
}

// waitManifest 订阅manifest，直到cond满足、manifest completed、超时三者之一先发生
//
// 超时不是错误，返回最后一次收到的manifest，还没有收到过时为nil。
// 请求被取消时返回ctx的错误，订阅随之释放。
//
// @return ok: cond是否满足
//
func (s *Server) waitManifest(ctx context.Context, key string, timeout time.Duration, cond func(m *store.Manifest) bool) (last *store.Manifest, ok bool, err error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ch, err := s.kv.Subscribe(waitCtx, key)
	if err != nil {
		return nil, false, err
	}
	for {
		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return last, false, ctx.Err()
			}
			return last, false, nil
		case b, alive := <-ch:
			if !alive {
				if ctx.Err() != nil {
					return last, false, ctx.Err()
				}
				return last, false, nil
			}
			m, err := store.DecodeManifest(b)
			if err != nil {
				return last, false, err
			}
			last = m
			if cond(m) {
				return m, true, nil
			}
			if m.Completed {
				return m, false, nil
			}
		}
	}
}

// segmentReady segment已经结束，后面的segment已经出现或者它自己被标记closed
func segmentReady(m *store.Manifest, idx uint32) bool {
	if idx+1 < m.NextSegmentIdx {
		return true
	}
	if idx+1 > m.NextSegmentIdx {
		return false
	}
	seg := m.FindSegment(idx)
	return seg != nil && m.IsSegmentClosed(seg)
}
