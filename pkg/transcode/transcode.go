// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package transcode 把源fmp4流转换成每个rendition一路的fmp4流
//
// source rendition直接透传transmuxer的单track输出（Passthrough），
// 其他rendition交给外部编解码库（ffmpeg）完成解码、缩放、重采样和编码（FfmpegTranscoder）。
//
package transcode

import (
	"context"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/transmux"
)

var Log = base.Log

type VideoConfig struct {
	Width   uint32
	Height  uint32
	Fps     float64
	Bitrate uint32 // bit/s

	// Profile avc profile_idc，0表示由编码器决定
	Profile uint8
	// Level avc level_idc，比如31
	Level uint8
}

type AudioConfig struct {
	SampleRate uint32
	Channels   uint8
	Bitrate    uint32

	// ObjectType aac AudioObjectType
	ObjectType uint8
}

// Target 一路输出，Video和Audio二选一
type Target struct {
	Rendition base.Rendition
	Video     *VideoConfig
	Audio     *AudioConfig
}

func (t *Target) Bandwidth() uint32 {
	if t.Video != nil {
		return t.Video.Bitrate
	}
	if t.Audio != nil {
		return t.Audio.Bitrate
	}
	return 0
}

// TrackInit 一个rendition的init segment以及播放列表需要的描述信息
type TrackInit struct {
	Raw       []byte
	TrackId   uint32
	Timescale uint32
	Codecs    string
	Width     uint32
	Height    uint32
	Fps       float64
	Bandwidth uint32
}

// TrackFragment 一个rendition的一个moof+mdat，只包含一个track
type TrackFragment struct {
	Raw        []byte
	TrackId    uint32
	DecodeTime uint64
	Duration   uint64
	Timescale  uint32
	Keyframe   bool
}

func (f *TrackFragment) DurationSeconds() float64 {
	return float64(f.Duration) / float64(f.Timescale)
}

func (f *TrackFragment) DecodeTimeSeconds() float64 {
	return float64(f.DecodeTime) / float64(f.Timescale)
}

// Sink 转码输出的接收方，每个rendition的回调只会在同一个goroutine中串行发生
type Sink interface {
	OnTrackInit(r base.Rendition, init *TrackInit) error
	OnTrackFragment(r base.Rendition, frag *TrackFragment) error

	// OnTrackFailed 该rendition不会再有输出，其他rendition不受影响
	OnTrackFailed(r base.Rendition, err error)
}

// Transcoder 输入是transmuxer的两track fmp4流
type Transcoder interface {
	UniqueKey() string

	// Renditions 输出哪些rendition
	Renditions() []base.Rendition

	Start(ctx context.Context, init *transmux.InitSegment) error

	// WriteFragment 返回错误表示输入已经丢失，所有输出都失败
	WriteFragment(frag *transmux.Fragment) error

	// Close 关闭输入，等待输出全部结束
	Close() error
}
