// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package flv

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// VideoHeader 视频tag body的头部
//
// legacy和enhanced两种格式解析后统一为该结构体，PacketType使用enhanced的取值：
// legacy的AVCPacketType 0/1/2 分别对应 SequenceStart/CodedFrames/SequenceEnd
//
type VideoHeader struct {
	FrameType       uint8
	Codec           VideoCodec
	Enhanced        bool
	PacketType      uint8
	CompositionTime int32 // 毫秒，pts = dts + cts
	HeaderSize      int   // body中头部所占字节数，之后是sequence header或者帧数据
}

func (h VideoHeader) IsKeyFrame() bool {
	return h.FrameType == FrameTypeKey
}

func (h VideoHeader) IsSequenceHeader() bool {
	return h.PacketType == PacketTypeSequenceStart
}

func (h VideoHeader) IsCodedFrames() bool {
	return h.PacketType == PacketTypeCodedFrames || h.PacketType == PacketTypeCodedFramesX
}

func (h VideoHeader) IsSequenceEnd() bool {
	return h.PacketType == PacketTypeSequenceEnd
}

// ParseVideoHeader 解析视频tag body的头部
//
// @param payload: tag body，不包含11字节的tag header
//
func ParseVideoHeader(payload []byte) (h VideoHeader, err error) {
	if len(payload) < 1 {
		return h, base.ErrTruncated
	}

	if payload[0]&exHeaderFlag != 0 {
		return parseEnhancedVideoHeader(payload)
	}

	h.FrameType = payload[0] >> 4
	switch payload[0] & 0xF {
	case CodecIdAvc:
		h.Codec = VideoCodecAvc
	case CodecIdHevc:
		h.Codec = VideoCodecHevc
	default:
		return h, base.NewErrInvalidTag("unsupported video codec id")
	}
	if h.FrameType == FrameTypeCommand {
		h.PacketType = PacketTypeMetadata
		h.HeaderSize = 1
		return h, nil
	}
	if len(payload) < 5 {
		return h, base.ErrTruncated
	}
	switch payload[1] {
	case AvcPacketTypeSeqHeader:
		h.PacketType = PacketTypeSequenceStart
	case AvcPacketTypeNalu:
		h.PacketType = PacketTypeCodedFrames
	case AvcPacketTypeEndOfSeq:
		h.PacketType = PacketTypeSequenceEnd
	default:
		return h, base.NewErrInvalidTag("unknown avc packet type")
	}
	h.CompositionTime = readSi24(payload[2:])
	h.HeaderSize = 5
	return h, nil
}

func parseEnhancedVideoHeader(payload []byte) (h VideoHeader, err error) {
	if len(payload) < 5 {
		return h, base.ErrTruncated
	}
	h.Enhanced = true
	h.FrameType = (payload[0] >> 4) & 0x7
	h.PacketType = payload[0] & 0xF

	var fourcc [4]byte
	copy(fourcc[:], payload[1:5])
	switch fourcc {
	case FourCcAvc:
		h.Codec = VideoCodecAvc
	case FourCcHevc:
		h.Codec = VideoCodecHevc
	case FourCcAv1:
		h.Codec = VideoCodecAv1
	default:
		return h, base.NewErrInvalidTag("unsupported video fourcc")
	}
	h.HeaderSize = 5

	switch h.PacketType {
	case PacketTypeCodedFrames:
		// av1没有cts字段
		if h.Codec != VideoCodecAv1 {
			if len(payload) < 8 {
				return h, base.ErrTruncated
			}
			h.CompositionTime = readSi24(payload[5:])
			h.HeaderSize = 8
		}
	case PacketTypeSequenceStart, PacketTypeSequenceEnd, PacketTypeCodedFramesX, PacketTypeMetadata,
		PacketTypeMpeg2TsSequenceStart:
	default:
		return h, base.NewErrInvalidTag("unknown enhanced packet type")
	}
	return h, nil
}

// PackVideoHeader 按照VideoHeader生成tag body的头部
//
// 非enhanced时只支持avc和hevc
//
func PackVideoHeader(h VideoHeader) []byte {
	if !h.Enhanced {
		out := make([]byte, 5)
		codecId := CodecIdAvc
		if h.Codec == VideoCodecHevc {
			codecId = CodecIdHevc
		}
		out[0] = h.FrameType<<4 | codecId
		switch h.PacketType {
		case PacketTypeSequenceStart:
			out[1] = AvcPacketTypeSeqHeader
		case PacketTypeSequenceEnd:
			out[1] = AvcPacketTypeEndOfSeq
		default:
			out[1] = AvcPacketTypeNalu
		}
		bele.BePutUint24(out[2:], uint32(h.CompositionTime)&0xFFFFFF)
		return out
	}

	size := 5
	if h.PacketType == PacketTypeCodedFrames && h.Codec != VideoCodecAv1 {
		size = 8
	}
	out := make([]byte, size)
	out[0] = exHeaderFlag | (h.FrameType&0x7)<<4 | h.PacketType&0xF
	switch h.Codec {
	case VideoCodecAvc:
		copy(out[1:], FourCcAvc[:])
	case VideoCodecHevc:
		copy(out[1:], FourCcHevc[:])
	case VideoCodecAv1:
		copy(out[1:], FourCcAv1[:])
	}
	if size == 8 {
		bele.BePutUint24(out[5:], uint32(h.CompositionTime)&0xFFFFFF)
	}
	return out
}

func readSi24(b []byte) int32 {
	v := int32(bele.BeUint24(b))
	if v&0x800000 != 0 {
		v -= 0x1000000
	}
	return v
}
