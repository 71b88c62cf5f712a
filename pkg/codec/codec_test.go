// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package codec

import (
	"testing"

	"github.com/q191201771/lallive/pkg/av1"
	"github.com/q191201771/lallive/pkg/avc"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

var (
	spsBaseline720 = []byte{
		0x67, 0x42, 0xC0, 0x1F, 0xEC, 0x80, 0x28, 0x02, 0xDD, 0x08, 0x00, 0x00, 0x03, 0x00, 0x08, 0x00,
		0x00, 0x03, 0x01, 0xE4, 0x20,
	}
	pps = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}

	av1SeqHeaderObu = []byte{
		0x0A, 0x14, 0x04, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x7B, 0x00, 0x00, 0x08, 0x55, 0x77,
		0xF8, 0x6E, 0x61, 0x3C, 0xC4, 0x20,
	}
)

func TestParse(t *testing.T) {
	b := avc.NewDecoderConfigurationRecord(spsBaseline720, pps).Marshal()
	h, err := Parse(KindAvc, b)
	assert.Equal(t, nil, err)
	assert.Equal(t, KindAvc, h.Kind())
	assert.Equal(t, b, h.Marshal())
	vh := h.(VideoHeader)
	assert.Equal(t, uint32(1280), vh.Width())
	assert.Equal(t, uint32(720), vh.Height())
	assert.Equal(t, float64(30), vh.Fps())
	assert.Equal(t, "avc1.42c01f", vh.CodecString())
	assert.Equal(t, "avc1", vh.SampleEntryType())

	ccr, err := av1.NewCodecConfigurationRecord(av1SeqHeaderObu)
	assert.Equal(t, nil, err)
	h, err = Parse(KindAv1, ccr.Marshal())
	assert.Equal(t, nil, err)
	vh = h.(VideoHeader)
	assert.Equal(t, uint32(1920), vh.Width())
	assert.Equal(t, "av01.0.08M.08", vh.CodecString())

	h, err = Parse(KindAac, []byte{0x12, 0x10})
	assert.Equal(t, nil, err)
	a := h.(*Aac)
	assert.Equal(t, 44100, a.SampleRate())
	assert.Equal(t, 2, a.Channels())
	assert.Equal(t, "mp4a.40.2", a.CodecString())
	assert.Equal(t, false, KindAac.IsVideo())

	_, err = Parse(KindUnknown, b)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
	_, err = Parse(KindHevc, b[:3])
	assert.Equal(t, base.ErrTruncated, err)
}
