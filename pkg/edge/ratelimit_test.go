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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/naza/pkg/assert"
	"github.com/redis/go-redis/v9"
)

func testRateLimiter(t *testing.T, l RateLimiter, window time.Duration) {
	ctx := context.Background()
	for i := 2; i >= 0; i-- {
		q, err := l.Take(ctx, "a")
		assert.Equal(t, nil, err)
		assert.Equal(t, true, q.Allowed)
		assert.Equal(t, i, q.Remaining)
		assert.Equal(t, true, q.Reset > 0 && q.Reset <= window)
	}
	q, err := l.Take(ctx, "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, false, q.Allowed)
	assert.Equal(t, 0, q.Remaining)

	// 不同的key互不影响
	q, err = l.Take(ctx, "b")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, q.Allowed)

	// 窗口结束后重新计数
	time.Sleep(window + 50*time.Millisecond)
	q, err = l.Take(ctx, "a")
	assert.Equal(t, nil, err)
	assert.Equal(t, true, q.Allowed)
	assert.Equal(t, 2, q.Remaining)
}

func TestMemoryRateLimiter(t *testing.T) {
	testRateLimiter(t, NewMemoryRateLimiter(3, 200*time.Millisecond), 200*time.Millisecond)
}

// 设置 LALLIVE_TEST_REDIS_ADDR 后才运行
func TestRedisRateLimiter(t *testing.T) {
	addr := os.Getenv("LALLIVE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("LALLIVE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	testRateLimiter(t, NewRedisRateLimiter(client, "lallive_test:"+uuid.NewString()+":", 3, 300*time.Millisecond), 300*time.Millisecond)
}
