// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package store

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
)

// KeyPrefix 对象存储和KV的key前缀
//
// 直播: org/<O>/room/<R>/conn/<C>
// 录制: org/<O>/recording/<RID>
//
type KeyPrefix string

func ConnPrefix(org, room, conn uuid.UUID) KeyPrefix {
	return KeyPrefix(fmt.Sprintf("org/%s/room/%s/conn/%s", hex(org), hex(room), hex(conn)))
}

func RecordingPrefix(org, recording uuid.UUID) KeyPrefix {
	return KeyPrefix(fmt.Sprintf("org/%s/recording/%s", hex(org), hex(recording)))
}

func (p KeyPrefix) Init(r base.Rendition) string {
	return fmt.Sprintf("%s/rendition/%s/init", p, r)
}

func (p KeyPrefix) Part(r base.Rendition, idx uint32) string {
	return fmt.Sprintf("%s/rendition/%s/part/%d", p, r, idx)
}

func (p KeyPrefix) Segment(r base.Rendition, idx uint32) string {
	return fmt.Sprintf("%s/rendition/%s/segment/%d", p, r, idx)
}

func (p KeyPrefix) Screenshot(idx uint32) string {
	return fmt.Sprintf("%s/screenshot/%d", p, idx)
}

// Manifest rendition的manifest在KV中的key
func (p KeyPrefix) Manifest(r base.Rendition) string {
	return fmt.Sprintf("%s/rendition/%s/manifest", p, r)
}

// ScreenshotIdx 最新截图序号在KV中的key
func (p KeyPrefix) ScreenshotIdx() string {
	return string(p) + "/screenshot"
}

func (p KeyPrefix) String() string {
	return string(p)
}

func hex(id uuid.UUID) string {
	return fmt.Sprintf("%x", id[:])
}
