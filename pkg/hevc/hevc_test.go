// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package hevc

import (
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

// main profile, level 3.1, 1920x1088, conformance window 裁剪到1080
var goldenSps1080 = []byte{
	0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
	0x00, 0x5D, 0xA0, 0x03, 0xC0, 0x80, 0x11, 0x07, 0xCB, 0x96,
}

// 两个时域层，带sub layer profile/level
var goldenSps720 = []byte{
	0x42, 0x01, 0x03, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03,
	0x00, 0x5D, 0xC0, 0x00, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00,
	0x00, 0x03, 0x00, 0x5A, 0xA0, 0x02, 0x80, 0x80, 0x2D, 0x16, 0x58,
}

var (
	goldenVps = []byte{0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF}
	goldenPps = []byte{0x44, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
)

func TestParseSps(t *testing.T) {
	sps, err := ParseSps(goldenSps1080)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(1), sps.GeneralProfileIdc)
	assert.Equal(t, uint8(93), sps.GeneralLevelIdc)
	assert.Equal(t, uint32(0x60000000), sps.GeneralProfileCompatibilityFlags)
	assert.Equal(t, uint64(0x900000000000), sps.GeneralConstraintIndicatorFlags)
	assert.Equal(t, uint32(1), sps.ChromaFormatIdc)
	assert.Equal(t, uint32(1088), sps.PicHeightInLumaSamples)
	assert.Equal(t, uint32(1920), sps.Width())
	assert.Equal(t, uint32(1080), sps.Height())

	sps, err = ParseSps(goldenSps720)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(1), sps.MaxSubLayersMinus1)
	assert.Equal(t, uint32(1280), sps.Width())
	assert.Equal(t, uint32(720), sps.Height())
}

func TestParseSps_Corner(t *testing.T) {
	_, err := ParseSps(goldenSps1080[:10])
	assert.Equal(t, base.ErrTruncated, err)
	_, err = ParseSps(goldenVps)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestDecoderConfigurationRecord(t *testing.T) {
	dcr, err := NewDecoderConfigurationRecord(goldenVps, goldenSps1080, goldenPps)
	assert.Equal(t, nil, err)
	dcr.AvgFrameRate = 30 * 256
	b := dcr.Marshal()
	assert.Equal(t, byte(0x01), b[0])
	assert.Equal(t, byte(0x01), b[1])
	assert.Equal(t, byte(93), b[12])
	assert.Equal(t, byte(3), b[22])

	dcr2, err := ParseDecoderConfigurationRecord(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, dcr, dcr2)
	assert.Equal(t, b, dcr2.Marshal())
	assert.Equal(t, float64(30), dcr2.Fps())
	assert.Equal(t, goldenSps1080, dcr2.FindNalu(NaluTypeSps))
	assert.Equal(t, goldenPps, dcr2.FindNalu(NaluTypePps))
	assert.Equal(t, nil, dcr2.FindNalu(NaluTypeSei))
	assert.Equal(t, 4, dcr2.NaluLengthSize())

	for i := 0; i < len(b)-1; i++ {
		_, err := ParseDecoderConfigurationRecord(b[:i])
		assert.Equal(t, base.ErrTruncated, err)
	}
}

func TestNaluType(t *testing.T) {
	assert.Equal(t, NaluTypeSps, ParseNaluType(0x42))
	assert.Equal(t, NaluTypeVps, ParseNaluType(0x40))
	assert.Equal(t, "IDR", ParseNaluTypeReadable(0x26))
	assert.Equal(t, true, HasIrapNalu([]byte{0, 0, 0, 2, 0x26, 0x01}))
	assert.Equal(t, false, HasIrapNalu([]byte{0, 0, 0, 2, 0x02, 0x01}))
}
