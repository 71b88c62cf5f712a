// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package transmux 输入一个连接的flv tag流，输出fmp4的init segment以及每个sample一个的moof+mdat
package transmux

import (
	"fmt"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/codec"
	"github.com/q191201771/lallive/pkg/flv"
)

var Log = base.Log

type Track uint8

const (
	TrackVideo Track = 1
	TrackAudio Track = 2
)

func (t Track) String() string {
	switch t {
	case TrackVideo:
		return "video"
	case TrackAudio:
		return "audio"
	}
	return fmt.Sprintf("track%d", uint8(t))
}

const (
	// DefaultMaxTagsBeforeInit 连接开始后这么多个tag内还没有收齐音视频sequence header则失败
	DefaultMaxTagsBeforeInit = 30

	// DefaultFps sps和onMetaData中都没有帧率时使用
	DefaultFps = 30.0

	// videoFrameTicks 视频timescale为fps*1000，一帧固定为1000
	videoFrameTicks = 1000

	// aacFrameSamples 一个aac帧的采样数
	aacFrameSamples = 1024

	movieTimescale = 1000
)

// InitSegment
//
// Raw 包含两个track，给转码器作为输入
// Video Audio 是单track的init，给source rendition直接发布
//
type InitSegment struct {
	Raw   []byte
	Video []byte
	Audio []byte

	VideoCodec     codec.VideoHeader
	AudioCodec     *codec.Aac
	VideoTimescale uint32
	AudioTimescale uint32
	Fps            float64

	// Metadata 没有收到onMetaData时为零值
	Metadata flv.Metadata
}

// Codecs RFC 6381, 用于master playlist的CODECS属性
func (s *InitSegment) Codecs() string {
	return s.VideoCodec.CodecString() + "," + s.AudioCodec.CodecString()
}

func (s *InitSegment) TrackInit(track Track) []byte {
	if track == TrackVideo {
		return s.Video
	}
	return s.Audio
}

func (s *InitSegment) Timescale(track Track) uint32 {
	if track == TrackVideo {
		return s.VideoTimescale
	}
	return s.AudioTimescale
}

// Fragment 一个sample对应的输出
type Fragment struct {
	Track     Track
	Keyframe  bool // 音频永远为false
	Timestamp uint32

	DecodeTime     uint64 // 单位为track的timescale
	Duration       uint32
	Timescale      uint32
	SequenceNumber uint32

	// Raw 一个moof两个traf，另一个track的traf没有sample
	Raw []byte

	// TrackData 一个moof只有本track的traf
	TrackData []byte
}

func (f *Fragment) DurationSeconds() float64 {
	return float64(f.Duration) / float64(f.Timescale)
}

func (f *Fragment) DecodeTimeSeconds() float64 {
	return float64(f.DecodeTime) / float64(f.Timescale)
}

// State 断线重连后继续之前的时间线
type State struct {
	VideoDecodeTime uint64
	AudioDecodeTime uint64
	SequenceNumber  uint32
}

type Observer interface {
	// OnInitSegment 整个生命周期只回调一次
	OnInitSegment(init *InitSegment) error

	// OnFragment
	//
	// @param frag: 回调结束后内部不再使用，上层可以持有
	//
	OnFragment(frag *Fragment) error
}
