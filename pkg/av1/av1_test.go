// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package av1

import (
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

// main profile, level 4.0, 1920x1080, 30fps timing info
var goldenSeqHeaderObu = []byte{
	0x0A, 0x14, 0x04, 0x00, 0x00, 0x00, 0x04, 0x00, 0x00, 0x00, 0x7B, 0x00, 0x00, 0x08, 0x55, 0x77,
	0xF8, 0x6E, 0x61, 0x3C, 0xC4, 0x20,
}

var temporalDelimiter = []byte{0x12, 0x00}

func TestParseSequenceHeader(t *testing.T) {
	sh, err := ParseSequenceHeader(goldenSeqHeaderObu)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint8(0), sh.SeqProfile)
	assert.Equal(t, uint8(8), sh.SeqLevelIdx0)
	assert.Equal(t, uint32(1920), sh.Width())
	assert.Equal(t, uint32(1080), sh.Height())
	assert.Equal(t, float64(30), sh.Fps())
	assert.Equal(t, uint8(8), sh.BitDepth)
	assert.Equal(t, uint8(1), sh.SubsamplingX)
	assert.Equal(t, uint8(1), sh.SubsamplingY)
	assert.Equal(t, uint8(1), sh.ColorRange)
	assert.Equal(t, uint8(cpUnspecified), sh.ColorPrimaries)

	_, err = ParseSequenceHeader(goldenSeqHeaderObu[:10])
	assert.Equal(t, base.ErrTruncated, err)
	_, err = ParseSequenceHeader(temporalDelimiter)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestCodecConfigurationRecord(t *testing.T) {
	ccr, err := NewCodecConfigurationRecord(goldenSeqHeaderObu)
	assert.Equal(t, nil, err)
	b := ccr.Marshal()
	assert.Equal(t, []byte{0x81, 0x08, 0x0C, 0x00}, b[:4])
	assert.Equal(t, goldenSeqHeaderObu, b[4:])

	ccr2, err := ParseCodecConfigurationRecord(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, ccr, ccr2)
	assert.Equal(t, b, ccr2.Marshal())

	sh, err := ccr2.SequenceHeader()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint32(1080), sh.Height())

	_, err = ParseCodecConfigurationRecord(b[:3])
	assert.Equal(t, base.ErrTruncated, err)
	_, err = ParseCodecConfigurationRecord([]byte{0x01, 0x08, 0x0C, 0x00})
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestObus(t *testing.T) {
	tu := append(append([]byte{}, temporalDelimiter...), goldenSeqHeaderObu...)
	var types []uint8
	err := IterateObus(tu, func(obu Obu) bool {
		types = append(types, obu.Header.Type)
		return true
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, []uint8{ObuTypeTemporalDelimiter, ObuTypeSequenceHeader}, types)
	assert.Equal(t, true, HasKeyFrame(tu))
	assert.Equal(t, false, HasKeyFrame(temporalDelimiter))
	assert.Equal(t, goldenSeqHeaderObu, FindSequenceHeader(tu))

	stripped, err := StripTemporalDelimiter(tu)
	assert.Equal(t, nil, err)
	assert.Equal(t, goldenSeqHeaderObu, stripped)

	err = IterateObus(goldenSeqHeaderObu[:8], func(obu Obu) bool { return true })
	assert.Equal(t, base.ErrTruncated, err)
}

func TestLeb128(t *testing.T) {
	for _, v := range []uint64{0, 1, 127, 128, 300, 1 << 20, 1<<56 - 1} {
		b := AppendLeb128(nil, v)
		v2, n, err := ReadLeb128(b)
		assert.Equal(t, nil, err)
		assert.Equal(t, len(b), n)
		assert.Equal(t, v, v2)
	}
	assert.Equal(t, []byte{0xAC, 0x02}, AppendLeb128(nil, 300))
	_, _, err := ReadLeb128([]byte{0x80})
	assert.Equal(t, base.ErrTruncated, err)
}
