// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

import (
	"context"
	"strings"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/innertest"
	"github.com/q191201771/lallive/pkg/mp4"
	"github.com/q191201771/lallive/pkg/transmux"
	"github.com/q191201771/naza/pkg/assert"
)

func TestComputeScaling(t *testing.T) {
	in := Size{100, 100}
	scales := []uint32{32, 64, 96, 128}
	assert.Equal(t, []Size{{32, 32}, {64, 64}, {96, 96}}, ComputeScaling(in, AspectRatio{1, 1}, scales, UpscaleNo))
	assert.Equal(t, []Size{{32, 32}, {64, 64}, {96, 96}, {100, 100}}, ComputeScaling(in, AspectRatio{1, 1}, scales, UpscaleNoPreserveSource))
	assert.Equal(t, []Size{{32, 32}, {64, 64}, {96, 96}, {128, 128}}, ComputeScaling(in, AspectRatio{1, 1}, scales, UpscaleYes))

	assert.Equal(t, []Size{{640, 360}, {1280, 720}, {1920, 1080}},
		ComputeScaling(Size{1280, 720}, AspectRatio{16, 9}, []uint32{360, 720, 1080}, UpscaleYes))
	assert.Equal(t, []Size{{640, 360}, {1280, 720}},
		ComputeScaling(Size{1280, 720}, AspectRatio{16, 9}, []uint32{1080, 720, 360}, UpscaleNo))

	// 竖屏时scale是宽
	assert.Equal(t, []Size{{360, 640}},
		ComputeScaling(Size{720, 1280}, AspectRatio{9, 16}, []uint32{360}, UpscaleNo))

	// 输入尺寸已经在结果中时不重复
	assert.Equal(t, []Size{{1280, 720}},
		ComputeScaling(Size{1280, 720}, AspectRatio{16, 9}, []uint32{720}, UpscaleNoPreserveSource))
}

func TestBuildTargets(t *testing.T) {
	renditions := []base.Rendition{
		base.RenditionVideoSource, base.RenditionVideoHd, base.RenditionVideoSd, base.RenditionAudioSource, base.RenditionAudioMd,
	}
	targets, dropped := BuildTargets(renditions, Size{854, 480}, 60, UpscaleNo, 30)
	assert.Equal(t, []base.Rendition{base.RenditionVideoHd}, dropped)
	assert.Equal(t, 2, len(targets))
	assert.Equal(t, base.RenditionVideoSd, targets[0].Rendition)
	assert.Equal(t, uint32(854), targets[0].Video.Width)
	assert.Equal(t, uint32(480), targets[0].Video.Height)
	assert.Equal(t, 30.0, targets[0].Video.Fps)
	assert.Equal(t, uint32(2000*1000), targets[0].Bandwidth())
	assert.Equal(t, base.RenditionAudioMd, targets[1].Rendition)
	assert.Equal(t, uint32(48000), targets[1].Audio.SampleRate)
}

func TestFrameRateLimiter(t *testing.T) {
	l := NewFrameRateLimiter(30, 15)
	var kept []int64
	for _, ts := range []int64{0, 33, 67, 100, 133, 167, 200, 233, 267, 300} {
		if l.Accept(ts) {
			kept = append(kept, ts)
		}
	}
	assert.Equal(t, []int64{0, 67, 133, 200, 267}, kept)

	// 目标帧率不小于输入帧率时不丢帧
	l = NewFrameRateLimiter(30, 60)
	for _, ts := range []int64{0, 33, 67} {
		assert.Equal(t, true, l.Accept(ts))
	}

	// 时间戳跳变后重新对齐
	l = NewFrameRateLimiter(30, 1)
	assert.Equal(t, true, l.Accept(0))
	assert.Equal(t, false, l.Accept(500))
	assert.Equal(t, true, l.Accept(10000))
	assert.Equal(t, false, l.Accept(10500))
	assert.Equal(t, true, l.Accept(11000))

	assert.Equal(t, 30.0, OutputFps(30, 60))
	assert.Equal(t, 15.0, OutputFps(30, 15))
	assert.Equal(t, 30.0, OutputFps(30, 0))
}

func TestMapProfile(t *testing.T) {
	p, ok := MapAvcProfile(66)
	assert.Equal(t, true, ok)
	assert.Equal(t, "baseline", p)
	p, _ = MapAvcProfile(77)
	assert.Equal(t, "main", p)
	p, _ = MapAvcProfile(100)
	assert.Equal(t, "high", p)
	_, ok = MapAvcProfile(44)
	assert.Equal(t, false, ok)

	assert.Equal(t, "3.1", MapAvcLevel(31))
	assert.Equal(t, "4.0", MapAvcLevel(40))
	assert.Equal(t, "5.1", MapAvcLevel(51))

	p, _ = MapAacProfile(2)
	assert.Equal(t, "aac_low", p)
	p, _ = MapAacProfile(5)
	assert.Equal(t, "aac_he", p)
	_, ok = MapAacProfile(42)
	assert.Equal(t, false, ok)
}

func TestBuildFfmpegArgs(t *testing.T) {
	targets := sortTargets([]Target{
		{Rendition: base.RenditionAudioHd, Audio: &AudioConfig{SampleRate: 48000, Channels: 2, Bitrate: 128000, ObjectType: 2}},
		{Rendition: base.RenditionVideoLd, Video: &VideoConfig{Width: 640, Height: 360, Fps: 30, Bitrate: 1000000, Profile: 100, Level: 30}},
		{Rendition: base.RenditionVideoHd, Video: &VideoConfig{Width: 1280, Height: 720, Fps: 30, Bitrate: 4000000, Profile: 100, Level: 31}},
	})
	assert.Equal(t, base.RenditionVideoHd, targets[0].Rendition)
	assert.Equal(t, base.RenditionVideoLd, targets[1].Rendition)
	assert.Equal(t, base.RenditionAudioHd, targets[2].Rendition)

	args := strings.Join(BuildFfmpegArgs(DefaultFfmpegOption, targets, 60), " ")
	assert.Equal(t, true, strings.HasPrefix(args, "-hide_banner -loglevel warning -f mp4 -i pipe:0 "))
	assert.Equal(t, true, strings.Contains(args,
		"-filter_complex [0:v]scale=1280:720,split=2[s0][c0];[s0]fps=30[v0];[c0]scale=640:360,fps=30[v1] "))
	assert.Equal(t, true, strings.Contains(args,
		"-map [v0] -c:v libx264 -preset veryfast -profile:v high -level:v 3.1 -b:v 4000000 -maxrate 4000000 -bufsize 4000000 -g 60 -bf 0 -an -f mp4 -movflags "+MovFlags+" pipe:3"))
	assert.Equal(t, true, strings.Contains(args, "-map [v1] "))
	assert.Equal(t, true, strings.Contains(args, " pipe:4"))
	assert.Equal(t, true, strings.HasSuffix(args,
		"-map 0:a -c:a aac -profile:a aac_low -b:a 128000 -ar 48000 -ac 2 -vn -f mp4 -movflags "+MovFlags+" pipe:5"))

	// 只有音频时没有filter graph
	args = strings.Join(BuildFfmpegArgs(DefaultFfmpegOption, targets[2:], 30), " ")
	assert.Equal(t, false, strings.Contains(args, "-filter_complex"))
	assert.Equal(t, true, strings.HasSuffix(args, "pipe:3"))
}

func TestParseEncoders(t *testing.T) {
	out := []byte(`Encoders:
 V..... = Video
 A..... = Audio
 ------
 V....D libx264              libx264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)
 A....D aac                  AAC (Advanced Audio Coding)
`)
	m := parseEncoders(out)
	assert.Equal(t, 2, len(m))
	_, ok := m["libx264"]
	assert.Equal(t, true, ok)
	_, ok = m["aac"]
	assert.Equal(t, true, ok)
}

type sinkCollector struct {
	inits  map[base.Rendition]*TrackInit
	frags  map[base.Rendition][]*TrackFragment
	failed map[base.Rendition]error
}

func newSinkCollector() *sinkCollector {
	return &sinkCollector{
		inits:  make(map[base.Rendition]*TrackInit),
		frags:  make(map[base.Rendition][]*TrackFragment),
		failed: make(map[base.Rendition]error),
	}
}

func (s *sinkCollector) OnTrackInit(r base.Rendition, init *TrackInit) error {
	s.inits[r] = init
	return nil
}

func (s *sinkCollector) OnTrackFragment(r base.Rendition, frag *TrackFragment) error {
	s.frags[r] = append(s.frags[r], frag)
	return nil
}

func (s *sinkCollector) OnTrackFailed(r base.Rendition, err error) {
	s.failed[r] = err
}

type transmuxBridge struct {
	tc Transcoder
}

func (b *transmuxBridge) OnInitSegment(init *transmux.InitSegment) error {
	return b.tc.Start(context.Background(), init)
}

func (b *transmuxBridge) OnFragment(frag *transmux.Fragment) error {
	return b.tc.WriteFragment(frag)
}

func TestPassthrough(t *testing.T) {
	sink := newSinkCollector()
	p := NewPassthrough(sink, []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource, base.RenditionVideoHd})
	assert.Equal(t, []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource}, p.Renditions())

	tm := transmux.NewTransmuxer(&transmuxBridge{tc: p})
	for _, tag := range innertest.GenAvcAacTags(innertest.DefaultStreamOption) {
		assert.Equal(t, nil, tm.FeedTag(tag))
	}
	assert.Equal(t, nil, p.Close())

	vi := sink.inits[base.RenditionVideoSource]
	assert.IsNotNil(t, vi)
	assert.Equal(t, uint32(1), vi.TrackId)
	assert.Equal(t, uint32(30000), vi.Timescale)
	assert.Equal(t, "avc1.42c01f", vi.Codecs)
	assert.Equal(t, uint32(1280), vi.Width)
	assert.Equal(t, uint32(720), vi.Height)
	ai := sink.inits[base.RenditionAudioSource]
	assert.Equal(t, uint32(2), ai.TrackId)
	assert.Equal(t, "mp4a.40.2", ai.Codecs)

	// 单track init可以被DescribeInit解析出同样的信息
	boxes, err := mp4.Unmarshal(vi.Raw)
	assert.Equal(t, nil, err)
	desc, err := DescribeInit(vi.Raw, boxes[1].(*mp4.Container))
	assert.Equal(t, nil, err)
	assert.Equal(t, vi.Codecs, desc.Codecs)
	assert.Equal(t, vi.Timescale, desc.Timescale)
	assert.Equal(t, vi.Width, desc.Width)
	boxes, _ = mp4.Unmarshal(ai.Raw)
	desc, err = DescribeInit(ai.Raw, boxes[1].(*mp4.Container))
	assert.Equal(t, nil, err)
	assert.Equal(t, "mp4a.40.2", desc.Codecs)
	assert.Equal(t, uint32(44100), desc.Timescale)

	vf := sink.frags[base.RenditionVideoSource]
	assert.Equal(t, 30, len(vf))
	assert.Equal(t, true, vf[0].Keyframe)
	assert.Equal(t, false, vf[1].Keyframe)
	assert.Equal(t, uint64(1000), vf[1].Duration)
	assert.Equal(t, uint64(1000), vf[1].DecodeTime)
	assert.Equal(t, 44, len(sink.frags[base.RenditionAudioSource]))
	assert.Equal(t, 0, len(sink.frags[base.RenditionVideoHd]))
	assert.Equal(t, 0, len(sink.failed))
}
