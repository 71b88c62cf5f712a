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
)

const configMarkerVersion = 0x81

// CodecConfigurationRecord
//
// https://aomediacodec.github.io/av1-isobmff/#av1codecconfigurationrecord
// enhanced rtmp中av1的SequenceStart payload，以及mp4中av1C box的payload
//
type CodecConfigurationRecord struct {
	SeqProfile           uint8
	SeqLevelIdx0         uint8
	SeqTier0             uint8
	HighBitdepth         uint8
	TwelveBit            uint8
	MonoChrome           uint8
	ChromaSubsamplingX   uint8
	ChromaSubsamplingY   uint8
	ChromaSamplePosition uint8

	InitialPresentationDelayPresent uint8
	InitialPresentationDelayMinus1  uint8

	ConfigObus []byte
}

// NewCodecConfigurationRecord 通过sequence header obu构造
func NewCodecConfigurationRecord(seqHeaderObu []byte) (*CodecConfigurationRecord, error) {
	sh, err := ParseSequenceHeader(seqHeaderObu)
	if err != nil {
		return nil, err
	}
	return &CodecConfigurationRecord{
		SeqProfile:           sh.SeqProfile,
		SeqLevelIdx0:         sh.SeqLevelIdx0,
		SeqTier0:             sh.SeqTier0,
		HighBitdepth:         sh.HighBitdepth,
		TwelveBit:            sh.TwelveBit,
		MonoChrome:           sh.MonoChrome,
		ChromaSubsamplingX:   sh.SubsamplingX,
		ChromaSubsamplingY:   sh.SubsamplingY,
		ChromaSamplePosition: sh.ChromaSamplePosition,
		ConfigObus:           seqHeaderObu,
	}, nil
}

func ParseCodecConfigurationRecord(b []byte) (*CodecConfigurationRecord, error) {
	if len(b) < 4 {
		return nil, base.ErrTruncated
	}
	if b[0] != configMarkerVersion {
		return nil, base.NewErrInvalidTag("av1C marker or version")
	}
	ccr := &CodecConfigurationRecord{
		SeqProfile:                      b[1] >> 5,
		SeqLevelIdx0:                    b[1] & 0x1F,
		SeqTier0:                        b[2] >> 7,
		HighBitdepth:                    (b[2] >> 6) & 0x01,
		TwelveBit:                       (b[2] >> 5) & 0x01,
		MonoChrome:                      (b[2] >> 4) & 0x01,
		ChromaSubsamplingX:              (b[2] >> 3) & 0x01,
		ChromaSubsamplingY:              (b[2] >> 2) & 0x01,
		ChromaSamplePosition:            b[2] & 0x03,
		InitialPresentationDelayPresent: (b[3] >> 4) & 0x01,
		InitialPresentationDelayMinus1:  b[3] & 0x0F,
	}
	if len(b) > 4 {
		ccr.ConfigObus = b[4:]
	}
	return ccr, nil
}

func (ccr *CodecConfigurationRecord) Marshal() []byte {
	out := make([]byte, 4, 4+len(ccr.ConfigObus))
	out[0] = configMarkerVersion
	out[1] = ccr.SeqProfile<<5 | ccr.SeqLevelIdx0&0x1F
	out[2] = ccr.SeqTier0<<7 | ccr.HighBitdepth<<6 | ccr.TwelveBit<<5 | ccr.MonoChrome<<4 |
		ccr.ChromaSubsamplingX<<3 | ccr.ChromaSubsamplingY<<2 | ccr.ChromaSamplePosition&0x03
	out[3] = ccr.InitialPresentationDelayPresent<<4 | ccr.InitialPresentationDelayMinus1&0x0F
	return append(out, ccr.ConfigObus...)
}

// SequenceHeader 从configOBUs中解析sequence header
func (ccr *CodecConfigurationRecord) SequenceHeader() (SequenceHeader, error) {
	obu := FindSequenceHeader(ccr.ConfigObus)
	if obu == nil {
		return SequenceHeader{}, base.NewErrInvalidTag("av1C without sequence header")
	}
	return ParseSequenceHeader(obu)
}
