// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package av1

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
)

const (
	colorPrimariesBt709        = 1
	transferCharacteristicSrgb = 13
	matrixCoefficientsIdentity = 0

	cpUnspecified = 2
)

// SequenceHeader
//
// av1-spec.pdf
// 5.5 Sequence header OBU syntax
//
// 只保留上层需要的字段
//
type SequenceHeader struct {
	SeqProfile               uint8
	StillPicture             uint8
	ReducedStillPictureHdr   uint8
	SeqLevelIdx0             uint8
	SeqTier0                 uint8
	TimingInfoPresentFlag    uint8
	NumUnitsInDisplayTick    uint32
	TimeScale                uint32
	EqualPictureInterval     uint8
	NumTicksPerPictureMinus1 uint32

	MaxFrameWidthMinus1  uint32
	MaxFrameHeightMinus1 uint32

	HighBitdepth            uint8
	TwelveBit               uint8
	BitDepth                uint8
	MonoChrome              uint8
	ColorPrimaries          uint8
	TransferCharacteristics uint8
	MatrixCoefficients      uint8
	ColorRange              uint8
	SubsamplingX            uint8
	SubsamplingY            uint8
	ChromaSamplePosition    uint8
}

func (sh *SequenceHeader) Width() uint32 {
	return sh.MaxFrameWidthMinus1 + 1
}

func (sh *SequenceHeader) Height() uint32 {
	return sh.MaxFrameHeightMinus1 + 1
}

// Fps 没有timing info时返回0
func (sh *SequenceHeader) Fps() float64 {
	if sh.TimingInfoPresentFlag == 0 || sh.NumUnitsInDisplayTick == 0 {
		return 0
	}
	ticks := float64(sh.NumUnitsInDisplayTick)
	if sh.EqualPictureInterval == 1 {
		ticks *= float64(sh.NumTicksPerPictureMinus1) + 1
	}
	return float64(sh.TimeScale) / ticks
}

type bitReader struct {
	br  nazabits.BitReader
	err error
}

func (r *bitReader) f(n uint) uint32 {
	if r.err != nil {
		return 0
	}
	var v uint32
	v, r.err = r.br.ReadBits32(n)
	return v
}

func (r *bitReader) f8(n uint) uint8 {
	return uint8(r.f(n))
}

// 4.10.3 uvlc()
func (r *bitReader) uvlc() uint32 {
	leadingZeros := uint(0)
	for r.err == nil {
		if r.f(1) == 1 {
			break
		}
		leadingZeros++
	}
	if leadingZeros >= 32 {
		return 1<<32 - 1
	}
	if leadingZeros == 0 {
		return 0
	}
	return r.f(leadingZeros) + (1 << leadingZeros) - 1
}

// ParseSequenceHeader
//
// @param obu: 完整的sequence header obu，包含obu header
//
func ParseSequenceHeader(obu []byte) (sh SequenceHeader, err error) {
	h, n, err := ParseObuHeader(obu)
	if err != nil {
		return sh, err
	}
	if h.Type != ObuTypeSequenceHeader {
		return sh, base.NewErrInvalidTag("not sequence header obu")
	}
	payload := obu[n:]
	if h.HasSizeField == 1 {
		size, m, err := ReadLeb128(payload)
		if err != nil {
			return sh, err
		}
		if uint64(len(payload)-m) < size {
			return sh, base.ErrTruncated
		}
		payload = payload[m : m+int(size)]
	}
	return ParseSequenceHeaderPayload(payload)
}

func ParseSequenceHeaderPayload(payload []byte) (sh SequenceHeader, err error) {
	r := &bitReader{br: nazabits.NewBitReader(payload)}

	sh.SeqProfile = r.f8(3)
	sh.StillPicture = r.f8(1)
	sh.ReducedStillPictureHdr = r.f8(1)
	if sh.ReducedStillPictureHdr == 1 {
		sh.SeqLevelIdx0 = r.f8(5)
	} else {
		sh.TimingInfoPresentFlag = r.f8(1)
		var decoderModelInfoPresent uint8
		var bufferDelayLength uint
		if sh.TimingInfoPresentFlag == 1 {
			sh.NumUnitsInDisplayTick = r.f(32)
			sh.TimeScale = r.f(32)
			sh.EqualPictureInterval = r.f8(1)
			if sh.EqualPictureInterval == 1 {
				sh.NumTicksPerPictureMinus1 = r.uvlc()
			}
			decoderModelInfoPresent = r.f8(1)
			if decoderModelInfoPresent == 1 {
				bufferDelayLength = uint(r.f(5)) + 1
				r.f(32) // num_units_in_decoding_tick
				r.f(5)  // buffer_removal_time_length_minus_1
				r.f(5)  // frame_presentation_time_length_minus_1
			}
		}
		initialDisplayDelayPresent := r.f8(1)
		cnt := int(r.f(5)) + 1
		for i := 0; i < cnt && r.err == nil; i++ {
			r.f(12) // operating_point_idc
			level := r.f8(5)
			var tier uint8
			if level > 7 {
				tier = r.f8(1)
			}
			if i == 0 {
				sh.SeqLevelIdx0 = level
				sh.SeqTier0 = tier
			}
			if decoderModelInfoPresent == 1 {
				if r.f(1) == 1 {
					r.f(bufferDelayLength) // decoder_buffer_delay
					r.f(bufferDelayLength) // encoder_buffer_delay
					r.f(1)                 // low_delay_mode_flag
				}
			}
			if initialDisplayDelayPresent == 1 {
				if r.f(1) == 1 {
					r.f(4)
				}
			}
		}
	}

	frameWidthBits := uint(r.f(4)) + 1
	frameHeightBits := uint(r.f(4)) + 1
	sh.MaxFrameWidthMinus1 = r.f(frameWidthBits)
	sh.MaxFrameHeightMinus1 = r.f(frameHeightBits)
	var frameIdNumbersPresent uint32
	if sh.ReducedStillPictureHdr == 0 {
		frameIdNumbersPresent = r.f(1)
	}
	if frameIdNumbersPresent == 1 {
		r.f(4)
		r.f(3)
	}
	r.f(1) // use_128x128_superblock
	r.f(1) // enable_filter_intra
	r.f(1) // enable_intra_edge_filter
	if sh.ReducedStillPictureHdr == 0 {
		r.f(1) // enable_interintra_compound
		r.f(1) // enable_masked_compound
		r.f(1) // enable_warped_motion
		r.f(1) // enable_dual_filter
		enableOrderHint := r.f(1)
		if enableOrderHint == 1 {
			r.f(1) // enable_jnt_comp
			r.f(1) // enable_ref_frame_mvs
		}
		// seq_choose_screen_content_tools为1时是SELECT_SCREEN_CONTENT_TOOLS(2)
		var forceScreenContentTools uint32 = 2
		if r.f(1) == 0 {
			forceScreenContentTools = r.f(1)
		}
		if forceScreenContentTools > 0 {
			if r.f(1) == 0 { // seq_choose_integer_mv
				r.f(1) // seq_force_integer_mv
			}
		}
		if enableOrderHint == 1 {
			r.f(3) // order_hint_bits_minus_1
		}
	}
	r.f(1) // enable_superres
	r.f(1) // enable_cdef
	r.f(1) // enable_restoration
	parseColorConfig(r, &sh)
	r.f(1) // film_grain_params_present

	if r.err != nil {
		return sh, base.ErrTruncated
	}
	return sh, nil
}

// 5.5.2 Color config syntax
func parseColorConfig(r *bitReader, sh *SequenceHeader) {
	sh.HighBitdepth = r.f8(1)
	sh.BitDepth = 8
	if sh.SeqProfile == 2 && sh.HighBitdepth == 1 {
		sh.TwelveBit = r.f8(1)
		if sh.TwelveBit == 1 {
			sh.BitDepth = 12
		} else {
			sh.BitDepth = 10
		}
	} else if sh.HighBitdepth == 1 {
		sh.BitDepth = 10
	}
	if sh.SeqProfile != 1 {
		sh.MonoChrome = r.f8(1)
	}
	if r.f(1) == 1 { // color_description_present_flag
		sh.ColorPrimaries = r.f8(8)
		sh.TransferCharacteristics = r.f8(8)
		sh.MatrixCoefficients = r.f8(8)
	} else {
		sh.ColorPrimaries = cpUnspecified
		sh.TransferCharacteristics = cpUnspecified
		sh.MatrixCoefficients = cpUnspecified
	}
	if sh.MonoChrome == 1 {
		sh.ColorRange = r.f8(1)
		sh.SubsamplingX, sh.SubsamplingY = 1, 1
		return
	}
	if sh.ColorPrimaries == colorPrimariesBt709 &&
		sh.TransferCharacteristics == transferCharacteristicSrgb &&
		sh.MatrixCoefficients == matrixCoefficientsIdentity {
		sh.ColorRange = 1
	} else {
		sh.ColorRange = r.f8(1)
		switch sh.SeqProfile {
		case 0:
			sh.SubsamplingX, sh.SubsamplingY = 1, 1
		case 1:
		default:
			if sh.BitDepth == 12 {
				sh.SubsamplingX = r.f8(1)
				if sh.SubsamplingX == 1 {
					sh.SubsamplingY = r.f8(1)
				}
			} else {
				sh.SubsamplingX = 1
			}
		}
		if sh.SubsamplingX == 1 && sh.SubsamplingY == 1 {
			sh.ChromaSamplePosition = r.f8(2)
		}
	}
	r.f(1) // separate_uv_delta_q
}
