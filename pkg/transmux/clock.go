// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transmux

import (
	"fmt"
	"math"

	"github.com/q191201771/lallive/pkg/base"
)

const maxTimestampJump = int64(1) << 31

// trackClock 把rtmp的毫秒时间戳换算成track timescale下的decode time和duration
//
// rtmp时间戳是整数毫秒，比如aac 48000的一帧是21.333ms，时间戳间隔会是21, 21, 22。
// 间隔和理想帧长相差不超过1ms时直接使用理想帧长，其他情况按毫秒换算并保留余数，避免累计误差。
//
type trackClock struct {
	timescale  uint32
	frameTicks uint32
	frameMs    float64

	decodeTime uint64
	lastTs     uint32
	started    bool
	rem        uint64
}

func newTrackClock(timescale, frameTicks uint32, decodeTime uint64) *trackClock {
	return &trackClock{
		timescale:  timescale,
		frameTicks: frameTicks,
		frameMs:    float64(frameTicks) * 1000 / float64(timescale),
		decodeTime: decodeTime,
	}
}

// next 返回当前sample的decode time和duration，然后推进时钟
//
// @param baseTs: 两个track中第一个sample的时间戳，track的第一个sample相对它偏移，保持音视频同步
//
func (c *trackClock) next(ts uint32, baseTs uint32) (decodeTime uint64, duration uint32, err error) {
	if !c.started {
		c.started = true
		c.lastTs = ts
		if ts > baseTs && ts-baseTs < uint32(maxTimestampJump) {
			c.decodeTime += uint64(ts-baseTs) * uint64(c.timescale) / 1000
		}
		decodeTime = c.decodeTime
		c.decodeTime += uint64(c.frameTicks)
		return decodeTime, c.frameTicks, nil
	}
	decodeTime = c.decodeTime

	diff := int64(ts) - int64(c.lastTs)
	if diff < -maxTimestampJump || diff > maxTimestampJump {
		return 0, 0, fmt.Errorf("%w. last=%d, curr=%d", base.ErrTimestampWrap, c.lastTs, ts)
	}
	if diff < 0 {
		// 小幅回退不更新lastTs
		Log.Warnf("timestamp rollback, treat as zero duration. last=%d, curr=%d", c.lastTs, ts)
		return decodeTime, 0, nil
	}
	c.lastTs = ts

	if math.Abs(float64(diff)-c.frameMs) <= 1 {
		duration = c.frameTicks
	} else {
		v := uint64(diff)*uint64(c.timescale) + c.rem
		duration = uint32(v / 1000)
		c.rem = v % 1000
	}
	c.decodeTime += uint64(duration)
	return decodeTime, duration, nil
}

// ticks 毫秒换算成timescale，用于composition time offset
func (c *trackClock) ticks(ms int32) int32 {
	return int32(math.Round(float64(ms) * float64(c.timescale) / 1000))
}
