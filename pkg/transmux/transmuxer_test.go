// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transmux

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/flv"
	"github.com/q191201771/lallive/pkg/innertest"
	"github.com/q191201771/lallive/pkg/mp4"
	"github.com/q191201771/naza/pkg/assert"
)

type collector struct {
	init  *InitSegment
	frags []*Fragment
}

func (c *collector) OnInitSegment(init *InitSegment) error {
	c.init = init
	return nil
}

func (c *collector) OnFragment(frag *Fragment) error {
	c.frags = append(c.frags, frag)
	return nil
}

func feedAll(t *testing.T, tm *Transmuxer, tags []flv.Tag) {
	for _, tag := range tags {
		assert.Equal(t, nil, tm.FeedTag(tag))
	}
}

func TestTransmuxer_Init(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	defer tm.Dispose()

	feedAll(t, tm, innertest.GenAvcAacTags(innertest.DefaultStreamOption))
	assert.IsNotNil(t, c.init)
	assert.Equal(t, uint32(30000), c.init.VideoTimescale)
	assert.Equal(t, uint32(44100), c.init.AudioTimescale)
	assert.Equal(t, "avc1.42c01f,mp4a.40.2", c.init.Codecs())

	boxes, err := mp4.Unmarshal(c.init.Raw)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(boxes))
	ftyp := boxes[0].(*mp4.Ftyp)
	assert.Equal(t, "iso5", ftyp.MajorBrand)
	assert.Equal(t, []string{"iso5", "iso6", "mp41", "avc1"}, ftyp.CompatibleBrands)

	tracks, err := mp4.ParseTracks(boxes[1].(*mp4.Container))
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(tracks))
	assert.Equal(t, uint32(1), tracks[0].TrackId)
	assert.Equal(t, mp4.HandlerVideo, tracks[0].HandlerType)
	assert.Equal(t, uint32(2), tracks[1].TrackId)
	assert.Equal(t, mp4.HandlerAudio, tracks[1].HandlerType)

	// 单track的init
	boxes, err = mp4.Unmarshal(c.init.Video)
	assert.Equal(t, nil, err)
	tracks, _ = mp4.ParseTracks(boxes[1].(*mp4.Container))
	assert.Equal(t, 1, len(tracks))
	assert.Equal(t, uint32(30000), tracks[0].Timescale)
	boxes, err = mp4.Unmarshal(c.init.Audio)
	assert.Equal(t, nil, err)
	tracks, _ = mp4.ParseTracks(boxes[1].(*mp4.Container))
	assert.Equal(t, uint32(2), tracks[0].TrackId)
}

func TestTransmuxer_Fragments(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	feedAll(t, tm, innertest.GenAvcAacTags(innertest.DefaultStreamOption))

	var seq uint32
	var videoCount, audioCount int
	for _, f := range c.frags {
		seq++
		assert.Equal(t, seq, f.SequenceNumber)
		if f.Track == TrackAudio {
			assert.Equal(t, false, f.Keyframe)
			audioCount++
		} else {
			videoCount++
		}

		boxes, err := mp4.Unmarshal(f.Raw)
		assert.Equal(t, nil, err)
		assert.Equal(t, 2, len(boxes))
		moof := boxes[0].(*mp4.Container)
		trafs := moof.FindAll("traf")
		assert.Equal(t, 2, len(trafs))
		traf, _, err := mp4.FindMoofTraf(moof, uint32(f.Track))
		assert.Equal(t, nil, err)
		trun := traf.Find("trun").(*mp4.Trun)
		assert.Equal(t, 1, len(trun.Samples))
		assert.Equal(t, int32(moof.Size()+8), trun.DataOffset)
		assert.Equal(t, f.DecodeTime, traf.Find("tfdt").(*mp4.Tfdt).BaseMediaDecodeTime)
		mdat := boxes[1].(*mp4.Mdat)
		assert.Equal(t, int(trun.Samples[0].Size), len(mdat.Data))

		boxes, err = mp4.Unmarshal(f.TrackData)
		assert.Equal(t, nil, err)
		assert.Equal(t, 1, len(boxes[0].(*mp4.Container).FindAll("traf")))
	}
	assert.Equal(t, 30, videoCount)
	assert.Equal(t, 44, audioCount)
	assert.Equal(t, true, c.frags[0].Keyframe)
	assert.Equal(t, TrackVideo, c.frags[0].Track)
	assert.Equal(t, false, c.frags[2].Keyframe && c.frags[2].Track == TrackVideo)
}

// 时长之和等于输入时间戳的跨度
func TestTransmuxer_DurationSum(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	feedAll(t, tm, innertest.GenAvcAacTags(innertest.StreamOption{DurationMs: 10000, Fps: 30, GopMs: 2000, SampleRate: 44100}))

	var first, last *Fragment
	var sum uint64
	for _, f := range c.frags {
		if f.Track != TrackAudio {
			continue
		}
		if first == nil {
			first = f
			continue
		}
		last = f
		sum += uint64(f.Duration)
	}
	span := uint64(last.Timestamp-first.Timestamp) * 44100 / 1000
	diff := int64(sum) - int64(span)
	if diff < 0 {
		diff = -diff
	}
	// 每帧都是理想帧长，理想帧长和毫秒时间戳换算之间的差距在一帧之内
	assert.Equal(t, true, diff <= 1024)
	assert.Equal(t, uint32(1024), first.Duration)

	for _, f := range c.frags {
		if f.Track == TrackVideo {
			assert.Equal(t, uint32(1000), f.Duration)
		}
	}
	st := tm.State()
	assert.Equal(t, uint64(300*1000), st.VideoDecodeTime)
	assert.Equal(t, uint32(len(c.frags)), st.SequenceNumber)
}

func TestTrackClock(t *testing.T) {
	// 48000的aac，时间戳间隔为21 21 22
	c := newTrackClock(48000, 1024, 0)
	var dts []uint64
	for _, ts := range []uint32{0, 21, 42, 64, 85, 106, 128} {
		dt, d, err := c.next(ts, 0)
		assert.Equal(t, nil, err)
		assert.Equal(t, uint32(1024), d)
		dts = append(dts, dt)
	}
	assert.Equal(t, uint64(6*1024), dts[6])

	// 非理想间隔按毫秒换算，余数累计
	c = newTrackClock(30000, 1000, 0)
	_, _, _ = c.next(1000, 1000)
	_, d, _ := c.next(1100, 1000)
	assert.Equal(t, uint32(3000), d)
	_, d, _ = c.next(1100, 1000)
	assert.Equal(t, uint32(0), d)
	// 小幅回退
	dt, d, err := c.next(1050, 1000)
	assert.Equal(t, nil, err)
	assert.Equal(t, uint32(0), d)
	assert.Equal(t, uint64(4000), dt)

	// 跨越2^31的回退是回绕
	c = newTrackClock(44100, 1024, 0)
	_, _, _ = c.next(0xFFFFFF00, 0xFFFFFF00)
	_, _, err = c.next(10, 0xFFFFFF00)
	assert.Equal(t, true, errors.Is(err, base.ErrTimestampWrap))

	// track的第一个sample相对于base时间戳偏移
	c = newTrackClock(44100, 1024, 0)
	dt, _, _ = c.next(100, 0)
	assert.Equal(t, uint64(4410), dt)
}

func TestTransmuxer_NoSequenceHeaders(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	var err error
	for i := 0; i < DefaultMaxTagsBeforeInit; i++ {
		err = tm.FeedTag(innertest.AudioFrameTag(uint32(i*23), 10))
		if i < DefaultMaxTagsBeforeInit-1 {
			assert.Equal(t, nil, err)
		}
	}
	assert.Equal(t, true, errors.Is(err, base.ErrNoSequenceHeaders))
	assert.Equal(t, 0, len(c.frags))

	// 只有视频sequence header也不行
	c = &collector{}
	tm = NewTransmuxer(c)
	assert.Equal(t, nil, tm.FeedTag(innertest.AvcSeqHeaderTag(0)))
	for i := 1; i < DefaultMaxTagsBeforeInit; i++ {
		err = tm.FeedTag(innertest.VideoFrameTag(uint32(i*33), i == 1, 10))
	}
	assert.Equal(t, true, errors.Is(err, base.ErrNoSequenceHeaders))
	assert.Equal(t, (*InitSegment)(nil), c.init)
}

func TestTransmuxer_Resume(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	feedAll(t, tm, innertest.GenAvcAacTags(innertest.DefaultStreamOption))
	st := tm.State()

	c2 := &collector{}
	tm2 := NewTransmuxer(c2, func(option *Option) {
		option.Resume = &st
	})
	feedAll(t, tm2, innertest.GenAvcAacTags(innertest.DefaultStreamOption))
	assert.Equal(t, c.init.Raw, c2.init.Raw)
	assert.Equal(t, st.SequenceNumber+1, c2.frags[0].SequenceNumber)
	assert.Equal(t, st.VideoDecodeTime, c2.frags[0].DecodeTime)
}

func TestTransmuxer_SequenceHeaderChanged(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	feedAll(t, tm, innertest.GenAvcAacTags(innertest.DefaultStreamOption))

	// 相同的sequence header忽略
	assert.Equal(t, nil, tm.FeedTag(innertest.AvcSeqHeaderTag(2000)))

	tag := innertest.AacSeqHeaderTag(2000)
	tag.Payload = append(tag.Payload[:2], 0x11, 0x90)
	err := tm.FeedTag(tag)
	assert.Equal(t, true, errors.Is(err, base.ErrSequenceHeaderChanged))
}

func TestTransmuxer_UnsupportedAudio(t *testing.T) {
	tm := NewTransmuxer(&collector{})
	err := tm.FeedTag(flv.Tag{Header: flv.TagHeader{Type: flv.TagTypeAudio}, Payload: []byte{0x2F, 0x00}})
	assert.Equal(t, true, errors.Is(err, base.ErrUnsupportedCodec))
}

// 输出可以被FragmentReader重新读取
func TestTransmuxer_FragmentReader(t *testing.T) {
	c := &collector{}
	tm := NewTransmuxer(c)
	feedAll(t, tm, innertest.GenAvcAacTags(innertest.DefaultStreamOption))

	buf := &bytes.Buffer{}
	buf.Write(c.init.Raw)
	for _, f := range c.frags {
		buf.Write(f.Raw)
	}
	fr := mp4.NewFragmentReader(buf)
	_, _, err := fr.ReadInit()
	assert.Equal(t, nil, err)
	for i := 0; ; i++ {
		frag, err := fr.ReadFragment()
		if err == io.EOF {
			assert.Equal(t, len(c.frags), i)
			break
		}
		assert.Equal(t, nil, err)
		ft := frag.Track(uint32(c.frags[i].Track))
		assert.Equal(t, 1, ft.SampleCount)
		assert.Equal(t, c.frags[i].DecodeTime, ft.DecodeTime)
		if c.frags[i].Track == TrackVideo {
			assert.Equal(t, c.frags[i].Keyframe, ft.Keyframe)
		}
	}
}
