// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package ingest 一次直播推流的完整生命周期
//
// 鉴权stream key，创建connection，驱动transmuxer和转码，把每个rendition的fmp4输出切成
// LL-HLS的part和segment，写对象存储和manifest KV，断线时决定可恢复还是结束。
//
package ingest

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/metrics"
	"github.com/q191201771/lallive/pkg/transcode"
)

var Log = base.Log

// TranscoderFactory 为非source rendition创建转码器，targets至少有一个
type TranscoderFactory func(sink transcode.Sink, targets []transcode.Target) transcode.Transcoder

type Option struct {
	// PartTargetMs 视频part的目标时长
	PartTargetMs int

	// AudioPartTargetMs 纯音频rendition的part目标时长
	AudioPartTargetMs int

	// SegmentTargetMs 纯音频rendition的segment目标时长，视频segment总是在关键帧处切分
	SegmentTargetMs int

	// ResumeWindowMs 非正常断开后等待重连的时长
	ResumeWindowMs int

	// ConnectionTtlMs connection的ended_at相对最新媒体时间的延长量
	ConnectionTtlMs int

	// HeartbeatIntervalMs 更新ended_at的最小间隔
	HeartbeatIntervalMs int

	// ScreenshotIntervalMs 截图间隔，0表示不截图
	ScreenshotIntervalMs int

	// ManifestWindow manifest中最多保留的segment个数
	ManifestWindow int

	// UpstreamAttempts 写对象存储、KV、数据库的最大尝试次数
	UpstreamAttempts int

	// UpstreamTimeoutMs 单次上游操作的超时
	UpstreamTimeoutMs int

	Upscale transcode.Upscale

	// FpsCap 转码输出的最大帧率，0表示不限制
	FpsCap float64

	TranscoderFactory TranscoderFactory
	Screenshotter     transcode.Screenshotter
	Metrics           *metrics.Metrics
}

var defaultOption = Option{
	PartTargetMs:         250,
	AudioPartTargetMs:    250,
	SegmentTargetMs:      2000,
	ResumeWindowMs:       20000,
	ConnectionTtlMs:      300 * 1000,
	HeartbeatIntervalMs:  5000,
	ScreenshotIntervalMs: 5000,
	ManifestWindow:       30,
	UpstreamAttempts:     5,
	UpstreamTimeoutMs:    5000,
	Upscale:              transcode.UpscaleNo,
	FpsCap:               60,
}

type ModOption func(option *Option)

// DefaultOption 返回默认配置的拷贝
func DefaultOption() Option {
	return defaultOption
}
