// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "strings"

// Rendition 一路输出轨道的变体。source为直通，其他为转码
type Rendition string

const (
	RenditionVideoSource Rendition = "video_source"
	RenditionVideoHd     Rendition = "video_hd"
	RenditionVideoSd     Rendition = "video_sd"
	RenditionVideoLd     Rendition = "video_ld"
	RenditionAudioSource Rendition = "audio_source"
	RenditionAudioHd     Rendition = "audio_hd"
	RenditionAudioMd     Rendition = "audio_md"
)

// AllRenditions 按视频在前、音频在后，质量从高到低排列
var AllRenditions = []Rendition{
	RenditionVideoSource,
	RenditionVideoHd,
	RenditionVideoSd,
	RenditionVideoLd,
	RenditionAudioSource,
	RenditionAudioHd,
	RenditionAudioMd,
}

func ParseRendition(s string) (Rendition, bool) {
	for _, r := range AllRenditions {
		if string(r) == s {
			return r, true
		}
	}
	return "", false
}

func (r Rendition) String() string {
	return string(r)
}

func (r Rendition) IsVideo() bool {
	return strings.HasPrefix(string(r), "video_")
}

func (r Rendition) IsAudio() bool {
	return strings.HasPrefix(string(r), "audio_")
}

func (r Rendition) IsSource() bool {
	return strings.HasSuffix(string(r), "_source")
}

// Order 在AllRenditions中的位置，用于稳定排序
func (r Rendition) Order() int {
	for i, v := range AllRenditions {
		if v == r {
			return i
		}
	}
	return len(AllRenditions)
}
