// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"testing"

	"github.com/q191201771/naza/pkg/assert"
)

func TestRendition(t *testing.T) {
	r, ok := ParseRendition("video_hd")
	assert.Equal(t, true, ok)
	assert.Equal(t, RenditionVideoHd, r)
	assert.Equal(t, true, r.IsVideo())
	assert.Equal(t, false, r.IsAudio())
	assert.Equal(t, false, r.IsSource())

	assert.Equal(t, true, RenditionAudioSource.IsSource())
	assert.Equal(t, true, RenditionAudioSource.IsAudio())
	assert.Equal(t, 4, RenditionAudioSource.Order())

	_, ok = ParseRendition("video_4k")
	assert.Equal(t, false, ok)
}
