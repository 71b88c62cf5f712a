// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transmux

import (
	"github.com/q191201771/lallive/pkg/codec"
	"github.com/q191201771/lallive/pkg/mp4"
)

// ftyp的minor version和ffmpeg保持一致
const ftypMinorVersion = 512

type sample struct {
	track      Track
	decodeTime uint64
	duration   uint32
	cto        int32
	keyframe   bool
	data       []byte
}

func brandOf(kind codec.Kind) string {
	switch kind {
	case codec.KindHevc:
		return "hev1"
	case codec.KindAv1:
		return "av01"
	}
	return "avc1"
}

func newFtyp(video codec.VideoHeader) *mp4.Ftyp {
	return &mp4.Ftyp{
		Type:             "ftyp",
		MajorBrand:       "iso5",
		MinorVersion:     ftypMinorVersion,
		CompatibleBrands: []string{"iso5", "iso6", "mp41", brandOf(video.Kind())},
	}
}

func videoTrak(video codec.VideoHeader, timescale uint32) mp4.Box {
	var config mp4.Box
	switch video.Kind() {
	case codec.KindHevc:
		config = mp4.NewHvcC(video.Marshal())
	case codec.KindAv1:
		config = mp4.NewAv1C(video.Marshal())
	default:
		config = mp4.NewAvcC(video.Marshal())
	}
	w, h := video.Width(), video.Height()
	return mp4.NewContainer("trak",
		mp4.NewTkhd(uint32(TrackVideo), w, h),
		mp4.NewContainer("mdia",
			&mp4.Mdhd{Timescale: timescale, Language: "und"},
			&mp4.Hdlr{HandlerType: mp4.HandlerVideo, Name: "VideoHandler"},
			mp4.NewContainer("minf",
				mp4.NewVmhd(),
				mp4.NewContainer("dinf", &mp4.Dref{}),
				mp4.NewContainer("stbl",
					&mp4.Stsd{Entries: []mp4.Box{mp4.NewVisualSampleEntry(video.SampleEntryType(), uint16(w), uint16(h), config)}},
					&mp4.Stts{}, &mp4.Stsc{}, &mp4.Stsz{}, &mp4.Stco{},
				),
			),
		),
	)
}

func audioTrak(audio *codec.Aac, timescale uint32) mp4.Box {
	return mp4.NewContainer("trak",
		mp4.NewTkhd(uint32(TrackAudio), 0, 0),
		mp4.NewContainer("mdia",
			&mp4.Mdhd{Timescale: timescale, Language: "und"},
			&mp4.Hdlr{HandlerType: mp4.HandlerAudio, Name: "SoundHandler"},
			mp4.NewContainer("minf",
				&mp4.Smhd{},
				mp4.NewContainer("dinf", &mp4.Dref{}),
				mp4.NewContainer("stbl",
					&mp4.Stsd{Entries: []mp4.Box{mp4.NewAudioSampleEntry("mp4a", uint16(audio.Channels()), timescale, mp4.NewEsds(audio.Marshal()))}},
					&mp4.Stts{}, &mp4.Stsc{}, &mp4.Stsz{}, &mp4.Stco{},
				),
			),
		),
	)
}

func trex(track Track, defaultDuration uint32) *mp4.Trex {
	return &mp4.Trex{TrackId: uint32(track), DefaultSampleDescriptionIndex: 1, DefaultSampleDuration: defaultDuration}
}

func buildInitSegment(video codec.VideoHeader, audio *codec.Aac, videoTimescale, audioTimescale uint32) *InitSegment {
	ftyp := newFtyp(video)
	vtrak := videoTrak(video, videoTimescale)
	atrak := audioTrak(audio, audioTimescale)

	both := mp4.NewContainer("moov",
		mp4.NewMvhd(movieTimescale, 3),
		vtrak,
		atrak,
		mp4.NewContainer("mvex", trex(TrackVideo, videoFrameTicks), trex(TrackAudio, aacFrameSamples)),
	)
	videoOnly := mp4.NewContainer("moov",
		mp4.NewMvhd(movieTimescale, 2),
		vtrak,
		mp4.NewContainer("mvex", trex(TrackVideo, videoFrameTicks)),
	)
	audioOnly := mp4.NewContainer("moov",
		mp4.NewMvhd(movieTimescale, 3),
		atrak,
		mp4.NewContainer("mvex", trex(TrackAudio, aacFrameSamples)),
	)

	return &InitSegment{
		Raw:            mp4.Marshal(ftyp, both),
		Video:          mp4.Marshal(ftyp, videoOnly),
		Audio:          mp4.Marshal(ftyp, audioOnly),
		VideoCodec:     video,
		AudioCodec:     audio,
		VideoTimescale: videoTimescale,
		AudioTimescale: audioTimescale,
	}
}

const trunFlags = mp4.TrunDataOffsetPresent | mp4.TrunSampleDurationPresent | mp4.TrunSampleSizePresent |
	mp4.TrunSampleFlagsPresent | mp4.TrunSampleCompositionTimeOffsetsPresent

func traf(track Track, decodeTime uint64, samples []mp4.TrunSample) (*mp4.Container, *mp4.Trun) {
	trun := &mp4.Trun{FullBox: mp4.FullBox{Version: 1, Flags: trunFlags}, Samples: samples}
	return mp4.NewContainer("traf",
		&mp4.Tfhd{FullBox: mp4.FullBox{Flags: mp4.TfhdDefaultBaseIsMoof}, TrackId: uint32(track)},
		mp4.NewTfdt(decodeTime),
		trun,
	), trun
}

func (s sample) trunSample() mp4.TrunSample {
	flags := mp4.SampleFlagsNonKeyframe
	if s.track == TrackAudio || s.keyframe {
		flags = mp4.SampleFlagsKeyframe
	}
	return mp4.TrunSample{
		Duration:              s.duration,
		Size:                  uint32(len(s.data)),
		Flags:                 flags,
		CompositionTimeOffset: s.cto,
	}
}

// buildFragment 两个traf，视频在前音频在后，另一个track的traf不带sample
func buildFragment(seq uint32, s sample, otherDecodeTime uint64) []byte {
	videoTime, audioTime := s.decodeTime, otherDecodeTime
	var videoSamples, audioSamples []mp4.TrunSample
	if s.track == TrackVideo {
		videoSamples = []mp4.TrunSample{s.trunSample()}
	} else {
		videoTime, audioTime = otherDecodeTime, s.decodeTime
		audioSamples = []mp4.TrunSample{s.trunSample()}
	}
	vtraf, vtrun := traf(TrackVideo, videoTime, videoSamples)
	atraf, atrun := traf(TrackAudio, audioTime, audioSamples)
	moof := mp4.NewContainer("moof", &mp4.Mfhd{SequenceNumber: seq}, vtraf, atraf)

	// 只有一个sample，data offset都指向mdat的payload起始位置
	offset := int32(moof.Size() + 8)
	vtrun.DataOffset = offset
	atrun.DataOffset = offset
	return mp4.Marshal(moof, &mp4.Mdat{Data: s.data})
}

func buildTrackFragment(seq uint32, s sample) []byte {
	t, trun := traf(s.track, s.decodeTime, []mp4.TrunSample{s.trunSample()})
	moof := mp4.NewContainer("moof", &mp4.Mfhd{SequenceNumber: seq}, t)
	trun.DataOffset = int32(moof.Size() + 8)
	return mp4.Marshal(moof, &mp4.Mdat{Data: s.data})
}
