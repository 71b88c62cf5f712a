// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package innertest

// stream.go
// 合成的 avc + aac 推流数据，各个包的测试共用

import (
	"math"

	"github.com/q191201771/lallive/pkg/aac"
	"github.com/q191201771/lallive/pkg/avc"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/flv"
)

var (
	// SpsBaseline720 baseline 1280x720 30fps
	SpsBaseline720 = []byte{
		0x67, 0x42, 0xC0, 0x1F, 0xEC, 0x80, 0x28, 0x02, 0xDD, 0x08, 0x00, 0x00, 0x03, 0x00, 0x08, 0x00,
		0x00, 0x03, 0x01, 0xE4, 0x20,
	}
	Pps = []byte{0x68, 0xEB, 0xE3, 0xCB, 0x22, 0xC0}

	// Asc44100 aac lc 44100 stereo
	Asc44100 = aac.MakeAsc(aac.AotAacLc, 44100, 2)
)

type StreamOption struct {
	DurationMs   int
	Fps          int
	GopMs        int
	SampleRate   int
	WithMetadata bool
	// BaseTs 第一个tag的时间戳
	BaseTs uint32
}

var DefaultStreamOption = StreamOption{
	DurationMs:   1000,
	Fps:          30,
	GopMs:        2000,
	SampleRate:   44100,
	WithMetadata: true,
}

func AvcSeqHeaderTag(ts uint32) flv.Tag {
	h := flv.PackVideoHeader(flv.VideoHeader{FrameType: flv.FrameTypeKey, Codec: flv.VideoCodecAvc, PacketType: flv.PacketTypeSequenceStart})
	payload := append(h, avc.NewDecoderConfigurationRecord(SpsBaseline720, Pps).Marshal()...)
	return newTag(flv.TagTypeVideo, ts, payload)
}

func AacSeqHeaderTag(ts uint32) flv.Tag {
	h := flv.PackAudioHeader(flv.AudioHeader{SoundFormat: flv.SoundFormatAac, SoundRate: 3, SoundSize: 1, SoundType: 1, AacPacketType: flv.AacPacketTypeSeqHeader})
	return newTag(flv.TagTypeAudio, ts, append(h, Asc44100...))
}

func MetadataTag(width, height, fps int) flv.Tag {
	b, _ := flv.BuildMetadata(flv.Metadata{Width: float64(width), Height: float64(height), FrameRate: float64(fps), VideoCodecId: 7, AudioCodecId: 10})
	return newTag(flv.TagTypeMetadata, 0, b)
}

// VideoFrameTag 一个avcc格式的nalu，关键帧为idr，否则为non-idr slice
func VideoFrameTag(ts uint32, keyframe bool, size int) flv.Tag {
	ft := flv.FrameTypeInter
	naluType := uint8(avc.NaluTypeSlice)
	if keyframe {
		ft = flv.FrameTypeKey
		naluType = avc.NaluTypeIdrSlice
	}
	h := flv.PackVideoHeader(flv.VideoHeader{FrameType: ft, Codec: flv.VideoCodecAvc, PacketType: flv.PacketTypeCodedFrames})
	nal := make([]byte, 4+size)
	nal[0], nal[1], nal[2], nal[3] = byte(size>>24), byte(size>>16), byte(size>>8), byte(size)
	nal[4] = 0x60 | naluType
	for i := 5; i < len(nal); i++ {
		nal[i] = byte(i)
	}
	return newTag(flv.TagTypeVideo, ts, append(h, nal...))
}

func AudioFrameTag(ts uint32, size int) flv.Tag {
	h := flv.PackAudioHeader(flv.AudioHeader{SoundFormat: flv.SoundFormatAac, SoundRate: 3, SoundSize: 1, SoundType: 1, AacPacketType: flv.AacPacketTypeRaw})
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return newTag(flv.TagTypeAudio, ts, append(h, data...))
}

// GenAvcAacTags 生成metadata，sequence header，以及按时间戳交织的音视频帧
func GenAvcAacTags(opt StreamOption) []flv.Tag {
	var tags []flv.Tag
	if opt.WithMetadata {
		tags = append(tags, MetadataTag(1280, 720, opt.Fps))
	}
	tags = append(tags, AvcSeqHeaderTag(opt.BaseTs), AacSeqHeaderTag(opt.BaseTs))

	frameMs := 1000 / float64(opt.Fps)
	audioMs := float64(1024*1000) / float64(opt.SampleRate)
	gopFrames := int(math.Round(float64(opt.GopMs) / frameMs))
	vi, ai := 0, 0
	for {
		vts := math.Round(float64(vi) * frameMs)
		ats := math.Round(float64(ai) * audioMs)
		if int(vts) >= opt.DurationMs && int(ats) >= opt.DurationMs {
			break
		}
		if int(vts) < opt.DurationMs && (vts <= ats || int(ats) >= opt.DurationMs) {
			tags = append(tags, VideoFrameTag(opt.BaseTs+uint32(vts), vi%gopFrames == 0, 200+vi%50))
			vi++
		} else {
			tags = append(tags, AudioFrameTag(opt.BaseTs+uint32(ats), 100+ai%20))
			ai++
		}
	}
	return tags
}

// ToRtmpMsg flv tag转换为rtmp message，用于推流
func ToRtmpMsg(tag flv.Tag) base.RtmpMsg {
	return tag.RtmpMsg()
}

func newTag(typ uint8, ts uint32, payload []byte) flv.Tag {
	return flv.Tag{
		Header: flv.TagHeader{
			Type:      typ,
			DataSize:  uint32(len(payload)),
			Timestamp: ts,
		},
		Payload: payload,
	}
}
