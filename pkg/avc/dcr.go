// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// DecoderConfigurationRecord
//
// H.264-AVC-ISO_IEC_14496-15.pdf
// 5.2.4 Decoder configuration information
//
// rtmp/flv avc seq header去掉头部5字节后就是它，mp4中avcC box的payload也是它
//
type DecoderConfigurationRecord struct {
	ConfigurationVersion uint8
	AvcProfileIndication uint8
	ProfileCompatibility uint8
	AvcLevelIndication   uint8
	LengthSizeMinusOne   uint8

	Sps [][]byte
	Pps [][]byte

	// 只有High系列profile并且后面还有数据时才存在
	HighProfileExt *HighProfileExt
}

type HighProfileExt struct {
	ChromaFormat         uint8
	BitDepthLumaMinus8   uint8
	BitDepthChromaMinus8 uint8
	SpsExt               [][]byte
}

func NewDecoderConfigurationRecord(sps, pps []byte) *DecoderConfigurationRecord {
	dcr := &DecoderConfigurationRecord{
		ConfigurationVersion: 1,
		LengthSizeMinusOne:   3,
		Sps:                  [][]byte{sps},
		Pps:                  [][]byte{pps},
	}
	if len(sps) >= 4 {
		dcr.AvcProfileIndication = sps[1]
		dcr.ProfileCompatibility = sps[2]
		dcr.AvcLevelIndication = sps[3]
	}
	return dcr
}

// ParseDecoderConfigurationRecord
//
// @param b: 函数调用结束后，返回值中的sps、pps等字段是b的子切片
//
func ParseDecoderConfigurationRecord(b []byte) (*DecoderConfigurationRecord, error) {
	if len(b) < 7 {
		return nil, base.ErrTruncated
	}
	dcr := &DecoderConfigurationRecord{
		ConfigurationVersion: b[0],
		AvcProfileIndication: b[1],
		ProfileCompatibility: b[2],
		AvcLevelIndication:   b[3],
		LengthSizeMinusOne:   b[4] & 0x03,
	}
	if dcr.ConfigurationVersion != 1 {
		return nil, base.NewErrInvalidTag("avcC configuration version")
	}

	pos := 5
	var err error
	numSps := int(b[pos] & 0x1f)
	pos++
	if dcr.Sps, pos, err = readParamSets(b, pos, numSps); err != nil {
		return nil, err
	}
	if pos >= len(b) {
		return nil, base.ErrTruncated
	}
	numPps := int(b[pos])
	pos++
	if dcr.Pps, pos, err = readParamSets(b, pos, numPps); err != nil {
		return nil, err
	}

	if isHighProfile(dcr.AvcProfileIndication) && len(b)-pos >= 4 {
		ext := &HighProfileExt{
			ChromaFormat:         b[pos] & 0x03,
			BitDepthLumaMinus8:   b[pos+1] & 0x07,
			BitDepthChromaMinus8: b[pos+2] & 0x07,
		}
		numSpsExt := int(b[pos+3])
		pos += 4
		if ext.SpsExt, _, err = readParamSets(b, pos, numSpsExt); err != nil {
			return nil, err
		}
		dcr.HighProfileExt = ext
	}
	return dcr, nil
}

// Marshal 保留位写1
func (dcr *DecoderConfigurationRecord) Marshal() []byte {
	out := make([]byte, 0, 16+dcr.paramSetsSize())
	out = append(out,
		dcr.ConfigurationVersion,
		dcr.AvcProfileIndication,
		dcr.ProfileCompatibility,
		dcr.AvcLevelIndication,
		0xFC|dcr.LengthSizeMinusOne,
		0xE0|uint8(len(dcr.Sps)))
	for _, s := range dcr.Sps {
		out = putLength16(out, len(s))
		out = append(out, s...)
	}
	out = append(out, uint8(len(dcr.Pps)))
	for _, p := range dcr.Pps {
		out = putLength16(out, len(p))
		out = append(out, p...)
	}
	if ext := dcr.HighProfileExt; ext != nil {
		out = append(out,
			0xFC|ext.ChromaFormat,
			0xF8|ext.BitDepthLumaMinus8,
			0xF8|ext.BitDepthChromaMinus8,
			uint8(len(ext.SpsExt)))
		for _, s := range ext.SpsExt {
			out = putLength16(out, len(s))
			out = append(out, s...)
		}
	}
	return out
}

// NaluLengthSize AVCC格式中nalu长度字段的字节数
func (dcr *DecoderConfigurationRecord) NaluLengthSize() int {
	return int(dcr.LengthSizeMinusOne) + 1
}

func (dcr *DecoderConfigurationRecord) paramSetsSize() int {
	n := 0
	for _, s := range dcr.Sps {
		n += 2 + len(s)
	}
	for _, p := range dcr.Pps {
		n += 2 + len(p)
	}
	return n
}

func readParamSets(b []byte, pos int, num int) ([][]byte, int, error) {
	var ret [][]byte
	for i := 0; i < num; i++ {
		if len(b)-pos < 2 {
			return nil, pos, base.ErrTruncated
		}
		l := int(bele.BeUint16(b[pos:]))
		pos += 2
		if len(b)-pos < l {
			return nil, pos, base.ErrTruncated
		}
		ret = append(ret, b[pos:pos+l])
		pos += l
	}
	return ret, pos, nil
}

func isHighProfile(profile uint8) bool {
	switch profile {
	case 100, 110, 122, 144:
		return true
	}
	return false
}
