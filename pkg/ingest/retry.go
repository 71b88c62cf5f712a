// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package ingest

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/q191201771/lallive/pkg/base"
)

type retrier struct {
	uniqueKey string
	attempts  int
	timeout   time.Duration
}

// do 只重试Upstream类的错误，其他错误（比如NotFound）直接返回
func (r *retrier) do(ctx context.Context, what string, op func(ctx context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 100 * time.Millisecond
	eb.MaxInterval = 2 * time.Second
	eb.MaxElapsedTime = 0
	var b backoff.BackOff = eb
	if r.attempts > 1 {
		b = backoff.WithMaxRetries(b, uint64(r.attempts-1))
	} else {
		b = &backoff.StopBackOff{}
	}

	err := backoff.RetryNotify(func() error {
		opCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		err := op(opCtx)
		if err == nil {
			return nil
		}
		if k := base.KindOf(err); k != base.KindUpstream && k != base.KindUnknown {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(b, ctx), func(err error, d time.Duration) {
		Log.Warnf("[%s] %s failed, retry after %s. err=%+v", r.uniqueKey, what, d, err)
	})
	if err == nil {
		return nil
	}
	if base.KindOf(err) == base.KindUnknown {
		return base.WrapUpstream(err, what)
	}
	return err
}
