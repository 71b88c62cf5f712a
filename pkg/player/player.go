// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package player 观众侧每个rendition一个TrackRunner
//
// TrackRunner轮询edge的json形式playlist，按播放器的缓冲需要请求part或者segment，
// 把init、媒体数据以及不连续事件交给播放器。
//
package player

import (
	"net/http"

	"github.com/q191201771/lallive/pkg/base"
)

var Log = base.Log

type Option struct {
	// LowLatency 为true时按part请求，最多3个请求同时进行，否则只请求完整的segment，同时只有1个请求
	LowLatency bool

	// DvrEnabled 播放位置落后直播点超过DvrThresholdSec时，改为从dvr地址按segment请求
	DvrEnabled      bool
	DvrThresholdSec float64

	// ErrorBackoffMs 第n次连续出错后等待 ErrorBackoffMs*n 毫秒
	ErrorBackoffMs int

	// MaxErrorCount 连续出错达到这个次数后track停止
	MaxErrorCount int

	// InflightTimeoutMs 单个请求超过这个时长认为失败并重试
	InflightTimeoutMs int

	// RefreshIntervalMs 两次session refresh之间的最小间隔
	RefreshIntervalMs int

	Client *http.Client
}

var defaultOption = Option{
	LowLatency:        true,
	DvrEnabled:        true,
	DvrThresholdSec:   30,
	ErrorBackoffMs:    500,
	MaxErrorCount:     10,
	InflightTimeoutMs: 6000,
	RefreshIntervalMs: 60000,
}

type ModOption func(option *Option)

// PlayerState 播放器的当前状态，由TrackRunner在每轮调度时读取
type PlayerState interface {
	// CurrentTime 当前播放位置，秒，和playlist中的start_time同一个时间轴
	CurrentTime() float64

	// TargetBuffer 希望在当前播放位置之后缓冲多少秒
	TargetBuffer() float64
}

// ----- event ---------------------------------------------------------------------------------------------------------

type Event interface {
	isEvent()
}

type InitEvent struct {
	Data []byte
}

type MediaEvent struct {
	Data      []byte
	StartTime float64
	EndTime   float64
	Duration  float64

	// DecodeTime 第一个track的tfdt，解析失败时为0
	DecodeTime uint64

	Idx  uint32
	Part bool
}

// DiscontinuityEvent 请求的时间区间不连续，播放器需要清空解码器
type DiscontinuityEvent struct {
	GapStart float64
	GapEnd   float64
}

// FatalEvent track停止，之后不会再有其他事件
type FatalEvent struct {
	Err error
}

func (InitEvent) isEvent()          {}
func (MediaEvent) isEvent()         {}
func (DiscontinuityEvent) isEvent() {}
func (FatalEvent) isEvent()         {}
