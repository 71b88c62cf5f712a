// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package ingest

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
)

const streamKeyPrefix = "live_"

// StreamKey live_<房间id的32位hex>_<secret>
type StreamKey struct {
	RoomID uuid.UUID
	Secret string
}

// ParseStreamKey
//
// @param s: publish信令中的stream name，可以带?query后缀
//
func ParseStreamKey(s string) (StreamKey, error) {
	if i := strings.IndexByte(s, '?'); i != -1 {
		s = s[:i]
	}
	if !strings.HasPrefix(s, streamKeyPrefix) {
		return StreamKey{}, fmt.Errorf("%w. missing prefix", base.ErrInvalidStreamKey)
	}
	items := strings.SplitN(s[len(streamKeyPrefix):], "_", 2)
	if len(items) != 2 || len(items[0]) != 32 || items[1] == "" {
		return StreamKey{}, fmt.Errorf("%w. bad layout", base.ErrInvalidStreamKey)
	}
	id, err := uuid.Parse(items[0])
	if err != nil {
		return StreamKey{}, fmt.Errorf("%w. room id=%s, err=%v", base.ErrInvalidStreamKey, items[0], err)
	}
	return StreamKey{RoomID: id, Secret: items[1]}, nil
}

// Match secret是否和房间当前的stream key一致
func (k StreamKey) Match(secret string) bool {
	return subtle.ConstantTimeCompare([]byte(k.Secret), []byte(secret)) == 1
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s%x_%s", streamKeyPrefix, k.RoomID[:], k.Secret)
}
