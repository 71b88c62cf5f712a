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
	"sync"
	"time"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/redis/go-redis/v9"
)

// Quota 一次计数后的结果
type Quota struct {
	Allowed   bool
	Remaining int
	Reset     time.Duration // 距离窗口结束的时间
}

// RateLimiter 固定窗口计数，多个edge节点共享时使用RedisRateLimiter
type RateLimiter interface {
	Take(ctx context.Context, key string) (Quota, error)
}

// ----- memory --------------------------------------------------------------------------------------------------------

type MemoryRateLimiter struct {
	limit  int
	window time.Duration

	mutex     sync.Mutex
	buckets   map[string]*bucket
	nextSweep time.Time
}

type bucket struct {
	count   int
	resetAt time.Time
}

func NewMemoryRateLimiter(limit int, window time.Duration) *MemoryRateLimiter {
	return &MemoryRateLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

func (l *MemoryRateLimiter) Take(ctx context.Context, key string) (Quota, error) {
	now := time.Now()
	l.mutex.Lock()
	defer l.mutex.Unlock()

	if now.After(l.nextSweep) {
		for k, b := range l.buckets {
			if !now.Before(b.resetAt) {
				delete(l.buckets, k)
			}
		}
		l.nextSweep = now.Add(l.window)
	}

	b, ok := l.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(l.window)}
		l.buckets[key] = b
	}
	if b.count >= l.limit {
		return Quota{Allowed: false, Remaining: 0, Reset: b.resetAt.Sub(now)}, nil
	}
	b.count++
	return Quota{Allowed: true, Remaining: l.limit - b.count, Reset: b.resetAt.Sub(now)}, nil
}

// ----- redis ---------------------------------------------------------------------------------------------------------

// takeScript 计数没有达到上限时才加一，返回 {当前计数, 剩余毫秒, 是否放行}
var takeScript = redis.NewScript(`
local limit = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local n = tonumber(redis.call('GET', KEYS[1]) or '0')
if n >= limit then
  local ttl = redis.call('PTTL', KEYS[1])
  if ttl < 0 then
    redis.call('PEXPIRE', KEYS[1], window)
    ttl = window
  end
  return {n, ttl, 0}
end
n = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], window)
  ttl = window
end
return {n, ttl, 1}
`)

type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	limit  int
	window time.Duration
}

func NewRedisRateLimiter(client redis.UniversalClient, prefix string, limit int, window time.Duration) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: prefix,
		limit:  limit,
		window: window,
	}
}

func (l *RedisRateLimiter) Take(ctx context.Context, key string) (Quota, error) {
	res, err := takeScript.Run(ctx, l.client, []string{l.prefix + "ratelimit:" + key}, l.limit, l.window.Milliseconds()).Int64Slice()
	if err != nil {
		return Quota{}, base.WrapUpstream(err, "redis rate limit")
	}
	if len(res) != 3 {
		return Quota{}, base.NewErrInvalidTag("rate limit script result")
	}
	remaining := l.limit - int(res[0])
	if remaining < 0 {
		remaining = 0
	}
	return Quota{
		Allowed:   res[2] == 1,
		Remaining: remaining,
		Reset:     time.Duration(res[1]) * time.Millisecond,
	}, nil
}
