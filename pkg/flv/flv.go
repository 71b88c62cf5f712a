// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package flv FLV tag的解析与打包，包含enhanced-rtmp的FourCC视频tag
package flv

const (
	TagTypeAudio    uint8 = 8
	TagTypeVideo    uint8 = 9
	TagTypeMetadata uint8 = 18

	TagHeaderSize        = 11
	PrevTagSizeFieldSize = 4
	FileHeaderSize       = 9
)

// spec-video_file_format_spec_v10.pdf
// Video tags
//   VIDEODATA
//     FrameType UB[4]
//     CodecId   UB[4]
//   AVCVIDEOPACKET
//     AVCPacketType   UI8
//     CompositionTime SI24
//     Data            UI8[n]
const (
	FrameTypeKey             uint8 = 1
	FrameTypeInter           uint8 = 2
	FrameTypeDisposableInter uint8 = 3
	FrameTypeGenerated       uint8 = 4
	FrameTypeCommand         uint8 = 5

	CodecIdAvc  uint8 = 7
	CodecIdHevc uint8 = 12 // 非标准，但国内推流端普遍这么用

	AvcPacketTypeSeqHeader uint8 = 0
	AvcPacketTypeNalu      uint8 = 1
	AvcPacketTypeEndOfSeq  uint8 = 2
)

// enhanced-rtmp v1
//   IsExHeader      UB[1]
//   FrameType       UB[3]
//   PacketType      UB[4]
//   FourCC          UI32
const (
	PacketTypeSequenceStart        uint8 = 0
	PacketTypeCodedFrames          uint8 = 1
	PacketTypeSequenceEnd          uint8 = 2
	PacketTypeCodedFramesX         uint8 = 3
	PacketTypeMetadata             uint8 = 4
	PacketTypeMpeg2TsSequenceStart uint8 = 5

	exHeaderFlag uint8 = 0x80
)

var (
	FourCcAv1  = [4]byte{'a', 'v', '0', '1'}
	FourCcHevc = [4]byte{'h', 'v', 'c', '1'}
	FourCcAvc  = [4]byte{'a', 'v', 'c', '1'}
)

// Audio tags
//   AUDIODATA
//     SoundFormat UB[4]
//     SoundRate   UB[2]
//     SoundSize   UB[1]
//     SoundType   UB[1]
//   AACAUDIODATA
//     AACPacketType UI8
//     Data          UI8[n]
const (
	SoundFormatAac uint8 = 10 // 注意，视频的CodecId是后4位，音频是前4位

	AacPacketTypeSeqHeader uint8 = 0
	AacPacketTypeRaw       uint8 = 1
)

// VideoCodec 视频编码类型，legacy的CodecId和enhanced的FourCC统一映射到这里
type VideoCodec uint8

const (
	VideoCodecUnknown VideoCodec = iota
	VideoCodecAvc
	VideoCodecHevc
	VideoCodecAv1
)

func (c VideoCodec) String() string {
	switch c {
	case VideoCodecAvc:
		return "avc"
	case VideoCodecHevc:
		return "hevc"
	case VideoCodecAv1:
		return "av1"
	}
	return "unknown"
}
