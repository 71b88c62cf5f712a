// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/filesystemlayer"
	"github.com/q191201771/naza/pkg/unique"
)

// FslObjectStore 基于naza filesystemlayer的对象存储，key映射为root下的相对路径
//
// 写入时先写临时文件再rename，读到的永远是完整的对象
//
type FslObjectStore struct {
	fsl  filesystemlayer.IFileSystemLayer
	root string

	// 内存类型的filesystemlayer没有目录的概念，这里记录已经写入的key，用于Exists
	mutex sync.Mutex
	keys  map[string]struct{}

	tmpUk *unique.SingleGenerator
}

func NewFslObjectStore(t ObjectStoreType, root string) *FslObjectStore {
	ft := filesystemlayer.FslTypeDisk
	if t == ObjectStoreTypeMemory {
		ft = filesystemlayer.FslTypeMemory
	}
	return &FslObjectStore{
		fsl:   filesystemlayer.FslFactory(ft),
		root:  root,
		keys:  make(map[string]struct{}),
		tmpUk: unique.NewSingleGenerator("TMP"),
	}
}

func NewMemoryObjectStore() *FslObjectStore {
	return NewFslObjectStore(ObjectStoreTypeMemory, "/lallive")
}

func (s *FslObjectStore) Put(ctx context.Context, key string, data []byte) error {
	filename, err := s.filename(key)
	if err != nil {
		return err
	}
	if s.fsl.Type() == filesystemlayer.FslTypeDisk {
		if err := s.fsl.MkdirAll(filepath.Dir(filename), 0777); err != nil {
			return base.WrapUpstream(err, "mkdir")
		}
	}
	tmp := filename + "." + s.tmpUk.GenUniqueKey()
	if err := s.fsl.WriteFile(tmp, data, 0666); err != nil {
		return base.WrapUpstream(err, "write object")
	}
	if err := s.fsl.Rename(tmp, filename); err != nil {
		_ = s.fsl.Remove(tmp)
		return base.WrapUpstream(err, "rename object")
	}

	s.mutex.Lock()
	s.keys[key] = struct{}{}
	s.mutex.Unlock()
	return nil
}

func (s *FslObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	filename, err := s.filename(key)
	if err != nil {
		return nil, err
	}
	b, err := s.fsl.ReadFile(filename)
	if err != nil {
		if s.isNotExist(err) {
			return nil, fmt.Errorf("%w. key=%s", base.ErrObjectNotFound, key)
		}
		return nil, base.WrapUpstream(err, "read object")
	}
	return b, nil
}

func (s *FslObjectStore) Delete(ctx context.Context, key string) error {
	filename, err := s.filename(key)
	if err != nil {
		return err
	}
	s.mutex.Lock()
	delete(s.keys, key)
	s.mutex.Unlock()
	if err := s.fsl.Remove(filename); err != nil && !s.isNotExist(err) {
		return base.WrapUpstream(err, "remove object")
	}
	return nil
}

func (s *FslObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	s.mutex.Lock()
	_, ok := s.keys[key]
	s.mutex.Unlock()
	if ok || s.fsl.Type() == filesystemlayer.FslTypeMemory {
		return ok, nil
	}
	filename, err := s.filename(key)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(filename)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, base.WrapUpstream(err, "stat object")
}

func (s *FslObjectStore) filename(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", base.NewErrInvalidTag(fmt.Sprintf("invalid object key. key=%s", key))
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// 内存类型只有不存在这一种错误
func (s *FslObjectStore) isNotExist(err error) bool {
	return os.IsNotExist(err) || s.fsl.Type() == filesystemlayer.FslTypeMemory
}
