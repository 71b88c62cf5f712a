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

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/transmux"
)

// Passthrough video_source和audio_source，输出就是transmuxer的单track字节
type Passthrough struct {
	uniqueKey string
	sink      Sink
	video     bool
	audio     bool

	init *transmux.InitSegment
}

// NewPassthrough
//
// @param renditions: 只处理其中的source rendition
//
func NewPassthrough(sink Sink, renditions []base.Rendition) *Passthrough {
	p := &Passthrough{
		uniqueKey: base.GenUkTranscoder(),
		sink:      sink,
	}
	for _, r := range renditions {
		switch r {
		case base.RenditionVideoSource:
			p.video = true
		case base.RenditionAudioSource:
			p.audio = true
		}
	}
	return p
}

func (p *Passthrough) UniqueKey() string {
	return p.uniqueKey
}

func (p *Passthrough) Renditions() []base.Rendition {
	var out []base.Rendition
	if p.video {
		out = append(out, base.RenditionVideoSource)
	}
	if p.audio {
		out = append(out, base.RenditionAudioSource)
	}
	return out
}

func (p *Passthrough) Start(ctx context.Context, init *transmux.InitSegment) error {
	p.init = init
	if p.video {
		bandwidth := uint32(init.Metadata.VideoDataRate * 1000)
		if err := p.sink.OnTrackInit(base.RenditionVideoSource, &TrackInit{
			Raw:       init.Video,
			TrackId:   uint32(transmux.TrackVideo),
			Timescale: init.VideoTimescale,
			Codecs:    init.VideoCodec.CodecString(),
			Width:     init.VideoCodec.Width(),
			Height:    init.VideoCodec.Height(),
			Fps:       init.Fps,
			Bandwidth: bandwidth,
		}); err != nil {
			return err
		}
	}
	if p.audio {
		bandwidth := uint32(init.Metadata.AudioDataRate * 1000)
		if err := p.sink.OnTrackInit(base.RenditionAudioSource, &TrackInit{
			Raw:       init.Audio,
			TrackId:   uint32(transmux.TrackAudio),
			Timescale: init.AudioTimescale,
			Codecs:    init.AudioCodec.CodecString(),
			Bandwidth: bandwidth,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Passthrough) WriteFragment(frag *transmux.Fragment) error {
	var r base.Rendition
	switch {
	case frag.Track == transmux.TrackVideo && p.video:
		r = base.RenditionVideoSource
	case frag.Track == transmux.TrackAudio && p.audio:
		r = base.RenditionAudioSource
	default:
		return nil
	}
	return p.sink.OnTrackFragment(r, &TrackFragment{
		Raw:        frag.TrackData,
		TrackId:    uint32(frag.Track),
		DecodeTime: frag.DecodeTime,
		Duration:   uint64(frag.Duration),
		Timescale:  frag.Timescale,
		Keyframe:   frag.Keyframe,
	})
}

func (p *Passthrough) Close() error {
	return nil
}
