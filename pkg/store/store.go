// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package store 两个存储平面：保存媒体字节的对象存储，以及保存manifest并可订阅的KV
//
// 每个manifest key只有一个写者（拥有该连接的ingest controller），多个读者（edge）。
// 生产环境KV使用redis，对象存储使用磁盘，测试时全部使用内存实现。
//
package store

import (
	"context"

	"github.com/q191201771/lallive/pkg/base"
)

var Log = base.Log

// ObjectStore 同一个key重复Put是幂等的，单key读强一致
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error

	// Get key不存在时返回 base.ErrObjectNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// KV 可订阅的key value，同一个key后写覆盖先写
type KV interface {
	// Get key不存在时返回 base.ErrKeyNotFound
	Get(ctx context.Context, key string) ([]byte, error)

	Set(ctx context.Context, key string, value []byte) error

	Delete(ctx context.Context, key string) error

	// Subscribe 订阅时先投递当前值（如果存在），之后按写入顺序投递每次变化
	//
	// 消费者慢时只保留最新值，连续相同的值只投递一次。
	// ctx结束后channel被关闭。
	//
	Subscribe(ctx context.Context, key string) (<-chan []byte, error)
}

type ObjectStoreType int

const (
	ObjectStoreTypeDisk ObjectStoreType = iota + 1
	ObjectStoreTypeMemory
)

type KvType int

const (
	KvTypeMemory KvType = iota + 1
	KvTypeRedis
)
