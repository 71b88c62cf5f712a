// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
)

// Sps
//
// ISO-14496-10.pdf
// 7.3.2.1.1 Sequence parameter set data syntax
// E.1.1 VUI parameters syntax
//
type Sps struct {
	ProfileIdc      uint8
	ConstraintFlags uint8
	LevelIdc        uint8
	SpsId           uint32

	ChromaFormatIdc           uint32
	SeparateColourPlaneFlag   uint8
	BitDepthLumaMinus8        uint32
	BitDepthChromaMinus8      uint32
	ScalingMatrixPresentFlag  uint8
	Log2MaxFrameNumMinus4     uint32
	PicOrderCntType           uint32
	MaxNumRefFrames           uint32
	PicWidthInMbsMinusOne     uint32
	PicHeightInMapUnitsMinus1 uint32
	FrameMbsOnlyFlag          uint8
	FrameCroppingFlag         uint8
	FrameCropLeftOffset       uint32
	FrameCropRightOffset      uint32
	FrameCropTopOffset        uint32
	FrameCropBottomOffset     uint32

	VuiParametersPresentFlag uint8
	SarWidth                 uint16
	SarHeight                uint16
	VideoFullRangeFlag       uint8
	TimingInfoPresentFlag    uint8
	NumUnitsInTick           uint32
	TimeScale                uint32
	FixedFrameRateFlag       uint8
}

// Context 上层关心的派生值
type Context struct {
	Profile uint8
	Level   uint8
	Width   uint32
	Height  uint32
	Fps     float64 // 0 表示sps中没有timing信息
}

// 带错误粘滞的bit reader，出错后后续读取全部返回0
type rbspReader struct {
	br  nazabits.BitReader
	err error
}

func (r *rbspReader) u8(n uint) uint8 {
	if r.err != nil {
		return 0
	}
	var v uint8
	v, r.err = r.br.ReadBits8(n)
	return v
}

func (r *rbspReader) u16(n uint) uint16 {
	if r.err != nil {
		return 0
	}
	var v uint16
	v, r.err = r.br.ReadBits16(n)
	return v
}

func (r *rbspReader) u32(n uint) uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	v, r.err = r.br.ReadBits32(n)
	return v
}

func (r *rbspReader) ue() uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	v, r.err = r.br.ReadGolomb()
	return v
}

func (r *rbspReader) se() int32 {
	v := r.ue()
	if v&1 == 1 {
		return int32((v + 1) / 2)
	}
	return -int32(v / 2)
}

// ParseSps
//
// @param nal: 包含1字节nal header的sps，不包含start code或长度前缀
//
func ParseSps(nal []byte) (Sps, error) {
	var sps Sps
	if len(nal) < 4 {
		return sps, base.ErrTruncated
	}
	if ParseNaluType(nal[0]) != NaluTypeSps {
		return sps, base.NewErrInvalidTag("not sps nalu")
	}
	r := &rbspReader{br: nazabits.NewBitReader(RemoveEmulationPrevention(nal[1:]))}

	sps.ProfileIdc = r.u8(8)
	sps.ConstraintFlags = r.u8(8)
	sps.LevelIdc = r.u8(8)
	sps.SpsId = r.ue()
	if r.err == nil && sps.SpsId >= 32 {
		return sps, base.NewErrInvalidTag("sps id")
	}

	sps.ChromaFormatIdc = 1
	switch sps.ProfileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		sps.ChromaFormatIdc = r.ue()
		if r.err == nil && sps.ChromaFormatIdc > 3 {
			return sps, base.NewErrInvalidTag("chroma format idc")
		}
		if sps.ChromaFormatIdc == 3 {
			sps.SeparateColourPlaneFlag = r.u8(1)
		}
		sps.BitDepthLumaMinus8 = r.ue()
		sps.BitDepthChromaMinus8 = r.ue()
		r.u8(1) // qpprime_y_zero_transform_bypass_flag
		sps.ScalingMatrixPresentFlag = r.u8(1)
		if sps.ScalingMatrixPresentFlag == 1 {
			n := 8
			if sps.ChromaFormatIdc == 3 {
				n = 12
			}
			for i := 0; i < n; i++ {
				if r.u8(1) == 1 {
					size := 16
					if i >= 6 {
						size = 64
					}
					skipScalingList(r, size)
				}
			}
		}
	}

	sps.Log2MaxFrameNumMinus4 = r.ue()
	sps.PicOrderCntType = r.ue()
	switch sps.PicOrderCntType {
	case 0:
		r.ue() // log2_max_pic_order_cnt_lsb_minus4
	case 1:
		r.u8(1) // delta_pic_order_always_zero_flag
		r.se()  // offset_for_non_ref_pic
		r.se()  // offset_for_top_to_bottom_field
		n := r.ue()
		if n > 255 {
			return sps, base.NewErrInvalidTag("num ref frames in pic order cnt cycle")
		}
		for i := uint32(0); i < n && r.err == nil; i++ {
			r.se()
		}
	case 2:
	default:
		if r.err == nil {
			return sps, base.NewErrInvalidTag("pic order cnt type")
		}
	}

	sps.MaxNumRefFrames = r.ue()
	r.u8(1) // gaps_in_frame_num_value_allowed_flag
	sps.PicWidthInMbsMinusOne = r.ue()
	sps.PicHeightInMapUnitsMinus1 = r.ue()
	sps.FrameMbsOnlyFlag = r.u8(1)
	if sps.FrameMbsOnlyFlag == 0 {
		r.u8(1) // mb_adaptive_frame_field_flag
	}
	r.u8(1) // direct_8x8_inference_flag
	sps.FrameCroppingFlag = r.u8(1)
	if sps.FrameCroppingFlag == 1 {
		sps.FrameCropLeftOffset = r.ue()
		sps.FrameCropRightOffset = r.ue()
		sps.FrameCropTopOffset = r.ue()
		sps.FrameCropBottomOffset = r.ue()
	}
	if r.err != nil {
		return sps, base.ErrTruncated
	}

	// vui读取失败不影响宽高，按没有vui处理
	sps.VuiParametersPresentFlag = r.u8(1)
	if sps.VuiParametersPresentFlag == 1 {
		parseVui(r, &sps)
		if r.err != nil {
			base.Log.Warnf("parse sps vui failed, ignore. err=%+v", r.err)
			sps.TimingInfoPresentFlag = 0
		}
	}
	return sps, nil
}

func parseVui(r *rbspReader, sps *Sps) {
	if r.u8(1) == 1 { // aspect_ratio_info_present_flag
		idc := r.u8(8)
		if idc == 255 { // Extended_SAR
			sps.SarWidth = r.u16(16)
			sps.SarHeight = r.u16(16)
		}
	}
	if r.u8(1) == 1 { // overscan_info_present_flag
		r.u8(1)
	}
	if r.u8(1) == 1 { // video_signal_type_present_flag
		r.u8(3) // video_format
		sps.VideoFullRangeFlag = r.u8(1)
		if r.u8(1) == 1 { // colour_description_present_flag
			r.u8(8)
			r.u8(8)
			r.u8(8)
		}
	}
	if r.u8(1) == 1 { // chroma_loc_info_present_flag
		r.ue()
		r.ue()
	}
	sps.TimingInfoPresentFlag = r.u8(1)
	if sps.TimingInfoPresentFlag == 1 {
		sps.NumUnitsInTick = r.u32(32)
		sps.TimeScale = r.u32(32)
		sps.FixedFrameRateFlag = r.u8(1)
	}
}

func skipScalingList(r *rbspReader, size int) {
	last, next := int32(8), int32(8)
	for j := 0; j < size && r.err == nil; j++ {
		if next != 0 {
			next = (last + r.se() + 256) % 256
		}
		if next != 0 {
			last = next
		}
	}
}

// Width 裁剪之后的宽
func (sps *Sps) Width() uint32 {
	w := (sps.PicWidthInMbsMinusOne + 1) * 16
	cropX, _ := sps.cropUnit()
	crop := cropX * (sps.FrameCropLeftOffset + sps.FrameCropRightOffset)
	if crop >= w {
		return w
	}
	return w - crop
}

// Height 裁剪之后的高
func (sps *Sps) Height() uint32 {
	h := (2 - uint32(sps.FrameMbsOnlyFlag)) * (sps.PicHeightInMapUnitsMinus1 + 1) * 16
	_, cropY := sps.cropUnit()
	crop := cropY * (sps.FrameCropTopOffset + sps.FrameCropBottomOffset)
	if crop >= h {
		return h
	}
	return h - crop
}

// Fps 来自vui timing，没有时返回0
func (sps *Sps) Fps() float64 {
	if sps.TimingInfoPresentFlag == 0 || sps.NumUnitsInTick == 0 {
		return 0
	}
	return float64(sps.TimeScale) / float64(2*sps.NumUnitsInTick)
}

func (sps *Sps) cropUnit() (uint32, uint32) {
	chromaArrayType := sps.ChromaFormatIdc
	if sps.SeparateColourPlaneFlag == 1 {
		chromaArrayType = 0
	}
	var subWidthC, subHeightC uint32
	switch chromaArrayType {
	case 1:
		subWidthC, subHeightC = 2, 2
	case 2:
		subWidthC, subHeightC = 2, 1
	default:
		subWidthC, subHeightC = 1, 1
	}
	if chromaArrayType == 0 {
		return 1, 2 - uint32(sps.FrameMbsOnlyFlag)
	}
	return subWidthC, subHeightC * (2 - uint32(sps.FrameMbsOnlyFlag))
}

func ParseSpsContext(nal []byte) (Context, error) {
	sps, err := ParseSps(nal)
	if err != nil {
		return Context{}, err
	}
	return Context{
		Profile: sps.ProfileIdc,
		Level:   sps.LevelIdc,
		Width:   sps.Width(),
		Height:  sps.Height(),
		Fps:     sps.Fps(),
	}, nil
}
