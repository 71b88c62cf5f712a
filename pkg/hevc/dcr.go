// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package hevc

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

const dcrHeaderSize = 23

// DecoderConfigurationRecord
//
// ISO_IEC_14496-15 8.3.3.1.2 Syntax
//
// 保留位在Marshal时写1
//
type DecoderConfigurationRecord struct {
	ConfigurationVersion             uint8
	GeneralProfileSpace              uint8
	GeneralTierFlag                  uint8
	GeneralProfileIdc                uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralConstraintIndicatorFlags  uint64 // 48 bit
	GeneralLevelIdc                  uint8
	MinSpatialSegmentationIdc        uint16
	ParallelismType                  uint8
	ChromaFormat                     uint8
	BitDepthLumaMinus8               uint8
	BitDepthChromaMinus8             uint8
	AvgFrameRate                     uint16 // 单位 帧/(256秒)，0表示未指定
	ConstantFrameRate                uint8
	NumTemporalLayers                uint8
	TemporalIdNested                 uint8
	LengthSizeMinusOne               uint8

	Arrays []NaluArray
}

type NaluArray struct {
	ArrayCompleteness uint8
	NaluType          uint8
	Nalus             [][]byte
}

// NewDecoderConfigurationRecord 通过vps sps pps构造，profile等字段从sps中获取
func NewDecoderConfigurationRecord(vps, sps, pps []byte) (*DecoderConfigurationRecord, error) {
	ctx, err := ParseSps(sps)
	if err != nil {
		return nil, err
	}
	return &DecoderConfigurationRecord{
		ConfigurationVersion:             1,
		GeneralProfileSpace:              ctx.GeneralProfileSpace,
		GeneralTierFlag:                  ctx.GeneralTierFlag,
		GeneralProfileIdc:                ctx.GeneralProfileIdc,
		GeneralProfileCompatibilityFlags: ctx.GeneralProfileCompatibilityFlags,
		GeneralConstraintIndicatorFlags:  ctx.GeneralConstraintIndicatorFlags,
		GeneralLevelIdc:                  ctx.GeneralLevelIdc,
		ChromaFormat:                     uint8(ctx.ChromaFormatIdc),
		BitDepthLumaMinus8:               uint8(ctx.BitDepthLumaMinus8),
		BitDepthChromaMinus8:             uint8(ctx.BitDepthChromaMinus8),
		NumTemporalLayers:                ctx.MaxSubLayersMinus1 + 1,
		TemporalIdNested:                 ctx.TemporalIdNestingFlag,
		LengthSizeMinusOne:               3,
		Arrays: []NaluArray{
			{ArrayCompleteness: 1, NaluType: NaluTypeVps, Nalus: [][]byte{vps}},
			{ArrayCompleteness: 1, NaluType: NaluTypeSps, Nalus: [][]byte{sps}},
			{ArrayCompleteness: 1, NaluType: NaluTypePps, Nalus: [][]byte{pps}},
		},
	}, nil
}

func ParseDecoderConfigurationRecord(b []byte) (*DecoderConfigurationRecord, error) {
	if len(b) < dcrHeaderSize {
		return nil, base.ErrTruncated
	}
	dcr := &DecoderConfigurationRecord{
		ConfigurationVersion:             b[0],
		GeneralProfileSpace:              b[1] >> 6,
		GeneralTierFlag:                  (b[1] >> 5) & 0x01,
		GeneralProfileIdc:                b[1] & 0x1F,
		GeneralProfileCompatibilityFlags: bele.BeUint32(b[2:]),
		GeneralConstraintIndicatorFlags:  uint64(bele.BeUint16(b[6:]))<<32 | uint64(bele.BeUint32(b[8:])),
		GeneralLevelIdc:                  b[12],
		MinSpatialSegmentationIdc:        bele.BeUint16(b[13:]) & 0x0FFF,
		ParallelismType:                  b[15] & 0x03,
		ChromaFormat:                     b[16] & 0x03,
		BitDepthLumaMinus8:               b[17] & 0x07,
		BitDepthChromaMinus8:             b[18] & 0x07,
		AvgFrameRate:                     bele.BeUint16(b[19:]),
		ConstantFrameRate:                b[21] >> 6,
		NumTemporalLayers:                (b[21] >> 3) & 0x07,
		TemporalIdNested:                 (b[21] >> 2) & 0x01,
		LengthSizeMinusOne:               b[21] & 0x03,
	}
	if dcr.ConfigurationVersion != 1 {
		return nil, base.NewErrInvalidTag("hvcC configuration version")
	}

	numOfArrays := int(b[22])
	pos := dcrHeaderSize
	for i := 0; i < numOfArrays; i++ {
		if len(b)-pos < 3 {
			return nil, base.ErrTruncated
		}
		arr := NaluArray{
			ArrayCompleteness: b[pos] >> 7,
			NaluType:          b[pos] & 0x3F,
		}
		numNalus := int(bele.BeUint16(b[pos+1:]))
		pos += 3
		for j := 0; j < numNalus; j++ {
			if len(b)-pos < 2 {
				return nil, base.ErrTruncated
			}
			l := int(bele.BeUint16(b[pos:]))
			pos += 2
			if len(b)-pos < l {
				return nil, base.ErrTruncated
			}
			arr.Nalus = append(arr.Nalus, b[pos:pos+l])
			pos += l
		}
		dcr.Arrays = append(dcr.Arrays, arr)
	}
	return dcr, nil
}

func (dcr *DecoderConfigurationRecord) Marshal() []byte {
	out := make([]byte, dcrHeaderSize, 128)
	out[0] = dcr.ConfigurationVersion
	out[1] = dcr.GeneralProfileSpace<<6 | (dcr.GeneralTierFlag&0x01)<<5 | dcr.GeneralProfileIdc&0x1F
	bele.BePutUint32(out[2:], dcr.GeneralProfileCompatibilityFlags)
	bele.BePutUint16(out[6:], uint16(dcr.GeneralConstraintIndicatorFlags>>32))
	bele.BePutUint32(out[8:], uint32(dcr.GeneralConstraintIndicatorFlags))
	out[12] = dcr.GeneralLevelIdc
	bele.BePutUint16(out[13:], 0xF000|dcr.MinSpatialSegmentationIdc)
	out[15] = 0xFC | dcr.ParallelismType
	out[16] = 0xFC | dcr.ChromaFormat
	out[17] = 0xF8 | dcr.BitDepthLumaMinus8
	out[18] = 0xF8 | dcr.BitDepthChromaMinus8
	bele.BePutUint16(out[19:], dcr.AvgFrameRate)
	out[21] = dcr.ConstantFrameRate<<6 | (dcr.NumTemporalLayers&0x07)<<3 | (dcr.TemporalIdNested&0x01)<<2 | dcr.LengthSizeMinusOne&0x03
	out[22] = uint8(len(dcr.Arrays))

	var l [2]byte
	for _, arr := range dcr.Arrays {
		out = append(out, arr.ArrayCompleteness<<7|arr.NaluType&0x3F)
		bele.BePutUint16(l[:], uint16(len(arr.Nalus)))
		out = append(out, l[:]...)
		for _, nal := range arr.Nalus {
			bele.BePutUint16(l[:], uint16(len(nal)))
			out = append(out, l[:]...)
			out = append(out, nal...)
		}
	}
	return out
}

// FindNalu 第一个指定类型的nalu，没有时返回nil
func (dcr *DecoderConfigurationRecord) FindNalu(typ uint8) []byte {
	for _, arr := range dcr.Arrays {
		if arr.NaluType == typ && len(arr.Nalus) > 0 {
			return arr.Nalus[0]
		}
	}
	return nil
}

// Fps avgFrameRate非0时有效
func (dcr *DecoderConfigurationRecord) Fps() float64 {
	return float64(dcr.AvgFrameRate) / 256
}

func (dcr *DecoderConfigurationRecord) NaluLengthSize() int {
	return int(dcr.LengthSizeMinusOne) + 1
}
