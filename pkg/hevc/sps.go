// Copyright 2022, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package hevc

import (
	"github.com/q191201771/lallive/pkg/avc"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
)

// Sps 只解析到bit depth为止，更后面的字段（vui等）上层用不到
//
// ISO_IEC_23008-2_2013.pdf
// 7.3.2.2.1 General sequence parameter set RBSP syntax
// 7.3.3 Profile, tier and level syntax
//
type Sps struct {
	VpsId                 uint8
	MaxSubLayersMinus1    uint8
	TemporalIdNestingFlag uint8

	GeneralProfileSpace              uint8
	GeneralTierFlag                  uint8
	GeneralProfileIdc                uint8
	GeneralProfileCompatibilityFlags uint32
	GeneralConstraintIndicatorFlags  uint64
	GeneralLevelIdc                  uint8

	SpsId                   uint32
	ChromaFormatIdc         uint32
	SeparateColourPlaneFlag uint8
	PicWidthInLumaSamples   uint32
	PicHeightInLumaSamples  uint32
	ConfWinLeftOffset       uint32
	ConfWinRightOffset      uint32
	ConfWinTopOffset        uint32
	ConfWinBottomOffset     uint32
	BitDepthLumaMinus8      uint32
	BitDepthChromaMinus8    uint32
}

func ParseSps(nal []byte) (Sps, error) {
	var sps Sps
	if len(nal) < 3 {
		return sps, base.ErrTruncated
	}
	if ParseNaluType(nal[0]) != NaluTypeSps {
		return sps, base.NewErrInvalidTag("not sps nalu")
	}
	br := nazabits.NewBitReader(avc.RemoveEmulationPrevention(nal[2:]))
	var err error
	u8 := func(n uint) uint8 {
		if err != nil {
			return 0
		}
		var v uint8
		v, err = br.ReadBits8(n)
		return v
	}
	u32 := func(n uint) uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = br.ReadBits32(n)
		return v
	}
	ue := func() uint32 {
		if err != nil {
			return 0
		}
		var v uint32
		v, err = br.ReadGolomb()
		return v
	}

	sps.VpsId = u8(4)
	sps.MaxSubLayersMinus1 = u8(3)
	sps.TemporalIdNestingFlag = u8(1)

	// profile_tier_level(1, sps_max_sub_layers_minus1)
	sps.GeneralProfileSpace = u8(2)
	sps.GeneralTierFlag = u8(1)
	sps.GeneralProfileIdc = u8(5)
	sps.GeneralProfileCompatibilityFlags = u32(32)
	sps.GeneralConstraintIndicatorFlags = uint64(u32(16))<<32 | uint64(u32(32))
	sps.GeneralLevelIdc = u8(8)

	subLayerProfilePresent := make([]uint8, sps.MaxSubLayersMinus1)
	subLayerLevelPresent := make([]uint8, sps.MaxSubLayersMinus1)
	for i := range subLayerProfilePresent {
		subLayerProfilePresent[i] = u8(1)
		subLayerLevelPresent[i] = u8(1)
	}
	if sps.MaxSubLayersMinus1 > 0 {
		for i := sps.MaxSubLayersMinus1; i < 8; i++ {
			u8(2) // reserved_zero_2bits
		}
	}
	for i := range subLayerProfilePresent {
		if subLayerProfilePresent[i] == 1 {
			// profile_space ... constraint flags, 88 bit
			u32(32)
			u32(32)
			u32(24)
		}
		if subLayerLevelPresent[i] == 1 {
			u8(8)
		}
	}

	sps.SpsId = ue()
	sps.ChromaFormatIdc = ue()
	if sps.ChromaFormatIdc == 3 {
		sps.SeparateColourPlaneFlag = u8(1)
	}
	sps.PicWidthInLumaSamples = ue()
	sps.PicHeightInLumaSamples = ue()
	if u8(1) == 1 { // conformance_window_flag
		sps.ConfWinLeftOffset = ue()
		sps.ConfWinRightOffset = ue()
		sps.ConfWinTopOffset = ue()
		sps.ConfWinBottomOffset = ue()
	}
	sps.BitDepthLumaMinus8 = ue()
	sps.BitDepthChromaMinus8 = ue()
	if err != nil {
		return sps, base.ErrTruncated
	}
	if sps.ChromaFormatIdc > 3 {
		return sps, base.NewErrInvalidTag("chroma format idc")
	}
	return sps, nil
}

func (sps *Sps) subWidthHeightC() (uint32, uint32) {
	if sps.SeparateColourPlaneFlag == 1 {
		return 1, 1
	}
	switch sps.ChromaFormatIdc {
	case 1:
		return 2, 2
	case 2:
		return 2, 1
	}
	return 1, 1
}

// Width 去掉conformance window之后的宽
func (sps *Sps) Width() uint32 {
	sw, _ := sps.subWidthHeightC()
	crop := sw * (sps.ConfWinLeftOffset + sps.ConfWinRightOffset)
	if crop >= sps.PicWidthInLumaSamples {
		return sps.PicWidthInLumaSamples
	}
	return sps.PicWidthInLumaSamples - crop
}

func (sps *Sps) Height() uint32 {
	_, sh := sps.subWidthHeightC()
	crop := sh * (sps.ConfWinTopOffset + sps.ConfWinBottomOffset)
	if crop >= sps.PicHeightInLumaSamples {
		return sps.PicHeightInLumaSamples
	}
	return sps.PicHeightInLumaSamples - crop
}
