// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"math"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

// baseline 1280x720 30fps
var goldenSpsBaseline = []byte{
	0x67, 0x42, 0xC0, 0x1F, 0xEC, 0x80, 0x28, 0x02, 0xDD, 0x08, 0x00, 0x00, 0x03, 0x00, 0x08, 0x00,
	0x00, 0x03, 0x01, 0xE4, 0x20,
}

// high 1920x1088 裁剪到1080，29.97fps，sar 4:3
var goldenSpsHigh = []byte{
	0x67, 0x64, 0x00, 0x28, 0xAC, 0xD9, 0x00, 0x78, 0x02, 0x27, 0xE5, 0xFF, 0xC0, 0x01, 0x00, 0x00,
	0xC4, 0x00, 0x00, 0x0F, 0xA4, 0x00, 0x03, 0xA9, 0x82, 0x10,
}

var goldenPps = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}

func TestParseSps(t *testing.T) {
	sps, err := ParseSps(goldenSpsBaseline)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(66), sps.ProfileIdc)
	assert.Equal(t, uint8(31), sps.LevelIdc)
	assert.Equal(t, uint32(1280), sps.Width())
	assert.Equal(t, uint32(720), sps.Height())
	assert.Equal(t, float64(30), sps.Fps())

	sps, err = ParseSps(goldenSpsHigh)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(100), sps.ProfileIdc)
	assert.Equal(t, uint32(1), sps.ChromaFormatIdc)
	assert.Equal(t, uint32(1920), sps.Width())
	assert.Equal(t, uint32(1080), sps.Height())
	assert.Equal(t, uint16(4), sps.SarWidth)
	assert.Equal(t, uint16(3), sps.SarHeight)
	assert.Equal(t, true, math.Abs(sps.Fps()-29.97) < 0.01)

	ctx, err := ParseSpsContext(goldenSpsHigh)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(40), ctx.Level)
	assert.Equal(t, uint32(1080), ctx.Height)
}

func TestParseSps_Corner(t *testing.T) {
	_, err := ParseSps([]byte{0x67, 0x42})
	assert.Equal(t, base.ErrTruncated, err)

	_, err = ParseSps(goldenPps)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))

	// 截断在宽高之前
	_, err = ParseSps(goldenSpsBaseline[:6])
	assert.Equal(t, base.ErrTruncated, err)
}

func TestDecoderConfigurationRecord(t *testing.T) {
	dcr := NewDecoderConfigurationRecord(goldenSpsBaseline, goldenPps)
	b := dcr.Marshal()
	assert.Equal(t, []byte{0x01, 0x42, 0xC0, 0x1F, 0xFF, 0xE1, 0x00, byte(len(goldenSpsBaseline))}, b[:8])

	dcr2, err := ParseDecoderConfigurationRecord(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, dcr, dcr2)
	assert.Equal(t, b, dcr2.Marshal())
	assert.Equal(t, 4, dcr2.NaluLengthSize())

	// high profile带扩展字段
	high := NewDecoderConfigurationRecord(goldenSpsHigh, goldenPps)
	high.HighProfileExt = &HighProfileExt{ChromaFormat: 1}
	b = high.Marshal()
	assert.Equal(t, []byte{0xFD, 0xF8, 0xF8, 0x00}, b[len(b)-4:])
	high2, err := ParseDecoderConfigurationRecord(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, high, high2)
	assert.Equal(t, b, high2.Marshal())
}

func TestDecoderConfigurationRecord_Corner(t *testing.T) {
	b := NewDecoderConfigurationRecord(goldenSpsBaseline, goldenPps).Marshal()
	for i := 0; i < len(b)-1; i++ {
		_, err := ParseDecoderConfigurationRecord(b[:i])
		assert.Equal(t, base.ErrTruncated, err)
	}
	bad := append([]byte{}, b...)
	bad[0] = 2
	_, err := ParseDecoderConfigurationRecord(bad)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestIterateNaluAvcc(t *testing.T) {
	nals := []byte{0, 0, 0, 2, 0x65, 0x88, 0, 0, 0, 1, 0x06}
	var types []uint8
	err := IterateNaluAvcc(nals, 4, func(nal []byte) bool {
		types = append(types, ParseNaluType(nal[0]))
		return true
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, []uint8{NaluTypeIdrSlice, NaluTypeSei}, types)
	assert.Equal(t, true, HasIdrNalu(nals))
	assert.Equal(t, false, HasIdrNalu(nals[6:]))
	assert.Equal(t, "IDR", ParseNaluTypeReadable(0x65))

	annexb, err := Avcc2Annexb(nals)
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte{0, 0, 0, 1, 0x65, 0x88, 0, 0, 0, 1, 0x06}, annexb)

	err = IterateNaluAvcc([]byte{0, 0, 0, 9, 0x65}, 4, func(nal []byte) bool { return true })
	assert.Equal(t, base.ErrTruncated, err)
}

func TestRemoveEmulationPrevention(t *testing.T) {
	assert.Equal(t, []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, RemoveEmulationPrevention([]byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x00}))
	assert.Equal(t, []byte{0x01, 0x03}, RemoveEmulationPrevention([]byte{0x01, 0x03}))
}
