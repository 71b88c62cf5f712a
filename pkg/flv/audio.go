// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package flv

import "github.com/q191201771/lallive/pkg/base"

type AudioHeader struct {
	SoundFormat   uint8
	SoundRate     uint8 // 0 5.5k, 1 11k, 2 22k, 3 44k；aac以AudioSpecificConfig为准
	SoundSize     uint8 // 0 8bit, 1 16bit
	SoundType     uint8 // 0 mono, 1 stereo
	AacPacketType uint8
	HeaderSize    int
}

func (h AudioHeader) IsAac() bool {
	return h.SoundFormat == SoundFormatAac
}

func (h AudioHeader) IsAacSeqHeader() bool {
	return h.IsAac() && h.AacPacketType == AacPacketTypeSeqHeader
}

func (h AudioHeader) IsAacRaw() bool {
	return h.IsAac() && h.AacPacketType == AacPacketTypeRaw
}

// ParseAudioHeader 解析音频tag body的头部
//
// @param payload: tag body，不包含11字节的tag header
//
func ParseAudioHeader(payload []byte) (h AudioHeader, err error) {
	if len(payload) < 1 {
		return h, base.ErrTruncated
	}
	h.SoundFormat = payload[0] >> 4
	h.SoundRate = (payload[0] >> 2) & 0x3
	h.SoundSize = (payload[0] >> 1) & 0x1
	h.SoundType = payload[0] & 0x1
	h.HeaderSize = 1
	if h.SoundFormat != SoundFormatAac {
		return h, nil
	}
	if len(payload) < 2 {
		return h, base.ErrTruncated
	}
	h.AacPacketType = payload[1]
	if h.AacPacketType != AacPacketTypeSeqHeader && h.AacPacketType != AacPacketTypeRaw {
		return h, base.NewErrInvalidTag("unknown aac packet type")
	}
	h.HeaderSize = 2
	return h, nil
}

func PackAudioHeader(h AudioHeader) []byte {
	b0 := h.SoundFormat<<4 | (h.SoundRate&0x3)<<2 | (h.SoundSize&0x1)<<1 | h.SoundType&0x1
	if h.SoundFormat != SoundFormatAac {
		return []byte{b0}
	}
	return []byte{b0, h.AacPacketType}
}
