// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

import (
	"fmt"
	"math"
	"sort"

	"github.com/q191201771/lallive/pkg/base"
)

type Size struct {
	Width  uint32
	Height uint32
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

func (s Size) short() uint32 {
	if s.Width < s.Height {
		return s.Width
	}
	return s.Height
}

type AspectRatio struct {
	Num uint32
	Den uint32
}

func AspectOf(s Size) AspectRatio {
	return AspectRatio{Num: s.Width, Den: s.Height}
}

type Upscale int

const (
	// UpscaleNo 只输出不大于输入的尺寸
	UpscaleNo Upscale = iota
	// UpscaleNoPreserveSource 同UpscaleNo，并且保证输入尺寸本身也在输出中
	UpscaleNoPreserveSource
	// UpscaleYes 所有尺寸都输出
	UpscaleYes
)

// ComputeScaling 按短边计算每个scale对应的输出尺寸，结果按从小到大排列
//
// 横屏时scale是高，竖屏时scale是宽，另一边按aspect换算并取偶数
//
func ComputeScaling(input Size, aspect AspectRatio, scales []uint32, upscale Upscale) []Size {
	if aspect.Num == 0 || aspect.Den == 0 {
		aspect = AspectOf(input)
	}
	landscape := aspect.Num >= aspect.Den

	var out []Size
	seen := make(map[Size]struct{})
	add := func(s Size) {
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	for _, scale := range scales {
		if upscale != UpscaleYes && scale > input.short() {
			continue
		}
		var s Size
		if landscape {
			s = Size{Width: even(float64(scale) * float64(aspect.Num) / float64(aspect.Den)), Height: scale}
		} else {
			s = Size{Width: scale, Height: even(float64(scale) * float64(aspect.Den) / float64(aspect.Num))}
		}
		add(s)
	}
	if upscale == UpscaleNoPreserveSource {
		add(input)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].short() != out[j].short() {
			return out[i].short() < out[j].short()
		}
		return out[i].Width < out[j].Width
	})
	return out
}

func even(v float64) uint32 {
	return uint32(math.Round(v/2)) * 2
}

// DefaultTarget 每个rendition的默认配置，video的尺寸按短边给出
type DefaultTarget struct {
	Scale      uint32
	Bitrate    uint32
	SampleRate uint32
	Channels   uint8
}

var DefaultTargets = map[base.Rendition]DefaultTarget{
	base.RenditionVideoHd: {Scale: 720, Bitrate: 4000 * 1000},
	base.RenditionVideoSd: {Scale: 480, Bitrate: 2000 * 1000},
	base.RenditionVideoLd: {Scale: 360, Bitrate: 1000 * 1000},
	base.RenditionAudioHd: {Bitrate: 128 * 1000, SampleRate: 48000, Channels: 2},
	base.RenditionAudioMd: {Bitrate: 96 * 1000, SampleRate: 48000, Channels: 2},
}

// BuildTargets 根据输入尺寸计算需要转码的rendition的配置
//
// source rendition以及按upscale规则被放弃的rendition不在返回值中
//
// @return dropped: 因为尺寸不满足被放弃的rendition
//
func BuildTargets(renditions []base.Rendition, input Size, fps float64, upscale Upscale, fpsCap float64) (targets []Target, dropped []base.Rendition) {
	if fpsCap > 0 && fps > fpsCap {
		fps = fpsCap
	}
	for _, r := range renditions {
		if r.IsSource() {
			continue
		}
		dt, ok := DefaultTargets[r]
		if !ok {
			dropped = append(dropped, r)
			continue
		}
		if r.IsAudio() {
			targets = append(targets, Target{
				Rendition: r,
				Audio: &AudioConfig{
					SampleRate: dt.SampleRate,
					Channels:   dt.Channels,
					Bitrate:    dt.Bitrate,
					ObjectType: 2,
				},
			})
			continue
		}
		sizes := ComputeScaling(input, AspectOf(input), []uint32{dt.Scale}, upscale)
		if len(sizes) == 0 {
			dropped = append(dropped, r)
			continue
		}
		targets = append(targets, Target{
			Rendition: r,
			Video: &VideoConfig{
				Width:   sizes[0].Width,
				Height:  sizes[0].Height,
				Fps:     fps,
				Bitrate: dt.Bitrate,
				Profile: 100,
				Level:   levelFor(sizes[0], fps),
			},
		})
	}
	return
}

// levelFor 满足尺寸和帧率的最小avc level
func levelFor(s Size, fps float64) uint8 {
	mbs := float64((s.Width+15)/16) * float64((s.Height+15)/16)
	mbps := mbs * fps
	switch {
	case mbs <= 1620 && mbps <= 40500:
		return 30
	case mbs <= 3600 && mbps <= 108000:
		return 31
	case mbs <= 5120 && mbps <= 216000:
		return 32
	case mbs <= 8192 && mbps <= 245760:
		return 41
	case mbs <= 8704 && mbps <= 522240:
		return 42
	}
	return 51
}
