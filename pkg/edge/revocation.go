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

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/model"
)

// revocationCache 每个媒体请求都要检查撤销记录，按(组织, target)短时间缓存
type revocationCache struct {
	repo model.Repository
	ttl  time.Duration

	mutex   sync.Mutex
	entries map[revocationKey]revocationEntry
}

type revocationKey struct {
	org    uuid.UUID
	target uuid.UUID
}

type revocationEntry struct {
	items    []model.Revocation
	expireAt time.Time
}

func newRevocationCache(repo model.Repository, ttl time.Duration) *revocationCache {
	return &revocationCache{
		repo:    repo,
		ttl:     ttl,
		entries: make(map[revocationKey]revocationEntry),
	}
}

func (c *revocationCache) list(ctx context.Context, org, target uuid.UUID) ([]model.Revocation, error) {
	if c.ttl <= 0 {
		return c.repo.ListRevocations(ctx, org, target)
	}

	k := revocationKey{org: org, target: target}
	now := time.Now()
	c.mutex.Lock()
	e, ok := c.entries[k]
	c.mutex.Unlock()
	if ok && now.Before(e.expireAt) {
		return e.items, nil
	}

	items, err := c.repo.ListRevocations(ctx, org, target)
	if err != nil {
		return nil, err
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if len(c.entries) > 4096 {
		for key, v := range c.entries {
			if !now.Before(v.expireAt) {
				delete(c.entries, key)
			}
		}
	}
	c.entries[k] = revocationEntry{items: items, expireAt: now.Add(c.ttl)}
	return items, nil
}
