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
	"fmt"
	"sync"

	"github.com/q191201771/lallive/pkg/base"
)

// mailbox 容量为1的投递通道，满时用新值替换旧值，连续相同的值不重复投递
//
// 只允许一个生产者
//
type mailbox struct {
	ch   chan []byte
	last []byte
	sent bool
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan []byte, 1)}
}

func (m *mailbox) offer(v []byte) {
	if m.sent && bytes.Equal(m.last, v) {
		return
	}
	m.last = v
	m.sent = true
	for {
		select {
		case m.ch <- v:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// MemoryKV 进程内的KV，单进程部署和测试使用
type MemoryKV struct {
	mutex  sync.Mutex
	values map[string][]byte
	subs   map[string]map[*mailbox]struct{}
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{
		values: make(map[string][]byte),
		subs:   make(map[string]map[*mailbox]struct{}),
	}
}

func (kv *MemoryKV) Get(ctx context.Context, key string) ([]byte, error) {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	v, ok := kv.values[key]
	if !ok {
		return nil, fmt.Errorf("%w. key=%s", base.ErrKeyNotFound, key)
	}
	return v, nil
}

func (kv *MemoryKV) Set(ctx context.Context, key string, value []byte) error {
	v := append([]byte(nil), value...)

	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	kv.values[key] = v
	for m := range kv.subs[key] {
		m.offer(v)
	}
	return nil
}

func (kv *MemoryKV) Delete(ctx context.Context, key string) error {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	delete(kv.values, key)
	return nil
}

func (kv *MemoryKV) Subscribe(ctx context.Context, key string) (<-chan []byte, error) {
	m := newMailbox()

	kv.mutex.Lock()
	if kv.subs[key] == nil {
		kv.subs[key] = make(map[*mailbox]struct{})
	}
	kv.subs[key][m] = struct{}{}
	if v, ok := kv.values[key]; ok {
		m.offer(v)
	}
	kv.mutex.Unlock()

	go func() {
		<-ctx.Done()
		kv.mutex.Lock()
		delete(kv.subs[key], m)
		if len(kv.subs[key]) == 0 {
			delete(kv.subs, key)
		}
		close(m.ch)
		kv.mutex.Unlock()
	}()
	return m.ch, nil
}

// SubscriberCount 当前订阅者数量，用于测试和统计
func (kv *MemoryKV) SubscriberCount(key string) int {
	kv.mutex.Lock()
	defer kv.mutex.Unlock()
	return len(kv.subs[key])
}
