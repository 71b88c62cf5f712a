// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/redis/go-redis/v9"
)

// RedisKV 值保存在key下，每次写入同时PUBLISH到同名channel
//
// 存储的值格式为 <rev>:<value>，rev是每个key单调递增的版本号。
// 订阅时先SUBSCRIBE再GET，GET之前已经发布但之后才收到的旧消息按rev丢弃，保证不回退。
//
type RedisKV struct {
	client redis.UniversalClient
	prefix string
}

var setScript = redis.NewScript(`
local rev = redis.call('INCR', KEYS[2])
local v = tostring(rev) .. ':' .. ARGV[1]
redis.call('SET', KEYS[1], v)
redis.call('PUBLISH', KEYS[3], v)
return rev
`)

func NewRedisKV(client redis.UniversalClient, prefix string) *RedisKV {
	return &RedisKV{
		client: client,
		prefix: prefix,
	}
}

func (kv *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := kv.client.Get(ctx, kv.valueKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w. key=%s", base.ErrKeyNotFound, key)
		}
		return nil, base.WrapUpstream(err, "redis get")
	}
	_, v, err := splitRev(raw)
	return v, err
}

func (kv *RedisKV) Set(ctx context.Context, key string, value []byte) error {
	keys := []string{kv.valueKey(key), kv.revKey(key), kv.channel(key)}
	if err := setScript.Run(ctx, kv.client, keys, value).Err(); err != nil {
		return base.WrapUpstream(err, "redis set")
	}
	return nil
}

func (kv *RedisKV) Delete(ctx context.Context, key string) error {
	if err := kv.client.Del(ctx, kv.valueKey(key), kv.revKey(key)).Err(); err != nil {
		return base.WrapUpstream(err, "redis del")
	}
	return nil
}

func (kv *RedisKV) Subscribe(ctx context.Context, key string) (<-chan []byte, error) {
	ps := kv.client.Subscribe(ctx, kv.channel(key))
	// 等待订阅确认，之后的publish一定能收到
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, base.WrapUpstream(err, "redis subscribe")
	}

	var lastRev uint64
	m := newMailbox()
	raw, err := kv.client.Get(ctx, kv.valueKey(key)).Bytes()
	switch {
	case err == nil:
		rev, v, err := splitRev(raw)
		if err != nil {
			_ = ps.Close()
			return nil, err
		}
		lastRev = rev
		m.offer(v)
	case errors.Is(err, redis.Nil):
	default:
		_ = ps.Close()
		return nil, base.WrapUpstream(err, "redis get")
	}

	go func() {
		defer close(m.ch)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				rev, v, err := splitRev([]byte(msg.Payload))
				if err != nil {
					Log.Warnf("invalid kv message. channel=%s, err=%+v", msg.Channel, err)
					continue
				}
				if rev <= lastRev {
					continue
				}
				lastRev = rev
				m.offer(v)
			}
		}
	}()
	return m.ch, nil
}

func (kv *RedisKV) valueKey(key string) string { return kv.prefix + key }
func (kv *RedisKV) revKey(key string) string   { return kv.prefix + key + ":rev" }
func (kv *RedisKV) channel(key string) string  { return kv.prefix + "kv:" + key }

func splitRev(raw []byte) (uint64, []byte, error) {
	i := bytes.IndexByte(raw, ':')
	if i <= 0 {
		return 0, nil, base.NewErrInvalidTag("kv value without revision")
	}
	rev, err := strconv.ParseUint(string(raw[:i]), 10, 64)
	if err != nil {
		return 0, nil, base.NewErrInvalidTag("kv value revision")
	}
	return rev, raw[i+1:], nil
}
