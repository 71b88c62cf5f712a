// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

// FrameRateLimiter 按时间戳丢帧，使输出帧率不超过目标帧率
//
// 容忍半个输入帧间隔的抖动，否则30fps降到15fps时整数毫秒时间戳会被多丢一帧
//
type FrameRateLimiter struct {
	intervalMs  float64
	toleranceMs float64

	started bool
	nextMs  float64
}

// NewFrameRateLimiter
//
// @param srcFps: 输入帧率，未知时填0
// @param dstFps: 目标帧率，<=0表示不限制
//
func NewFrameRateLimiter(srcFps, dstFps float64) *FrameRateLimiter {
	l := &FrameRateLimiter{}
	if dstFps > 0 && (srcFps <= 0 || dstFps < srcFps) {
		l.intervalMs = 1000 / dstFps
	}
	if srcFps > 0 {
		l.toleranceMs = 500 / srcFps
	}
	return l
}

// Accept 时间戳为tsMs的帧是否保留
func (l *FrameRateLimiter) Accept(tsMs int64) bool {
	if l.intervalMs == 0 {
		return true
	}
	ts := float64(tsMs)
	if !l.started {
		l.started = true
		l.nextMs = ts + l.intervalMs
		return true
	}
	if ts+l.toleranceMs < l.nextMs {
		return false
	}
	l.nextMs += l.intervalMs
	// 时间戳跳变后重新对齐
	if l.nextMs <= ts {
		l.nextMs = ts + l.intervalMs
	}
	return true
}

// OutputFps 实际输出帧率
func OutputFps(srcFps, dstFps float64) float64 {
	if dstFps <= 0 || (srcFps > 0 && srcFps < dstFps) {
		return srcFps
	}
	return dstFps
}
