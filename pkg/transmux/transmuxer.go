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
	"fmt"
	"math"

	"github.com/q191201771/lallive/pkg/av1"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/codec"
	"github.com/q191201771/lallive/pkg/flv"
)

type Option struct {
	MaxTagsBeforeInit int
	DefaultFps        float64

	// Resume 不为nil时，从这个状态继续tfdt和sequence number
	Resume *State
}

var defaultOption = Option{
	MaxTagsBeforeInit: DefaultMaxTagsBeforeInit,
	DefaultFps:        DefaultFps,
}

type ModOption func(option *Option)

// Transmuxer 输入flv tag，输出fmp4
//
// 先等齐视频和音频的sequence header（以及可选的onMetaData），再生成init segment，
// init之前收到的音视频帧直接丢弃
//
type Transmuxer struct {
	uniqueKey string
	observer  Observer
	option    Option

	tagCount int
	metadata flv.Metadata

	videoSeqHeader []byte
	audioSeqHeader []byte
	video          codec.VideoHeader
	audio          *codec.Aac

	init       *InitSegment
	videoClock *trackClock
	audioClock *trackClock
	baseTs     uint32
	hasBaseTs  bool
	seq        uint32
}

func NewTransmuxer(observer Observer, modOptions ...ModOption) *Transmuxer {
	opt := defaultOption
	for _, fn := range modOptions {
		fn(&opt)
	}
	t := &Transmuxer{
		uniqueKey: base.GenUkTransmuxer(),
		observer:  observer,
		option:    opt,
	}
	if opt.Resume != nil {
		t.seq = opt.Resume.SequenceNumber
	}
	Log.Infof("[%s] lifecycle new transmuxer. resume=%+v", t.uniqueKey, opt.Resume)
	return t
}

func (t *Transmuxer) UniqueKey() string {
	return t.uniqueKey
}

// InitSegment 还没有生成时返回nil
func (t *Transmuxer) InitSegment() *InitSegment {
	return t.init
}

// State 当前的时间线，用于断线重连后继续
func (t *Transmuxer) State() State {
	var s State
	s.SequenceNumber = t.seq
	if t.option.Resume != nil {
		s.VideoDecodeTime = t.option.Resume.VideoDecodeTime
		s.AudioDecodeTime = t.option.Resume.AudioDecodeTime
	}
	if t.videoClock != nil {
		s.VideoDecodeTime = t.videoClock.decodeTime
	}
	if t.audioClock != nil {
		s.AudioDecodeTime = t.audioClock.decodeTime
	}
	return s
}

func (t *Transmuxer) FeedRtmpMsg(msg base.RtmpMsg) error {
	return t.FeedTag(flv.TagFromRtmpMsg(msg))
}

// FeedTag
//
// @param tag: 函数调用结束后，内部不持有tag.Payload
//
func (t *Transmuxer) FeedTag(tag flv.Tag) error {
	if t.init == nil {
		t.tagCount++
	}

	var err error
	switch tag.Header.Type {
	case flv.TagTypeMetadata:
		err = t.feedMetadata(tag)
	case flv.TagTypeVideo:
		err = t.feedVideo(tag)
	case flv.TagTypeAudio:
		err = t.feedAudio(tag)
	default:
		Log.Warnf("[%s] unknown tag type. type=%d", t.uniqueKey, tag.Header.Type)
	}
	if err != nil {
		return err
	}

	if t.init == nil && t.tagCount >= t.option.MaxTagsBeforeInit {
		return fmt.Errorf("%w. tags=%d, video=%t, audio=%t",
			base.ErrNoSequenceHeaders, t.tagCount, t.video != nil, t.audio != nil)
	}
	return nil
}

func (t *Transmuxer) Dispose() {
	Log.Infof("[%s] lifecycle dispose transmuxer. state=%+v", t.uniqueKey, t.State())
}

// ---------------------------------------------------------------------------------------------------------------------

func (t *Transmuxer) feedMetadata(tag flv.Tag) error {
	md, err := flv.ParseMetadata(tag.Payload)
	if err != nil {
		// metadata只是提示，解析失败不影响
		Log.Warnf("[%s] parse metadata failed. err=%+v", t.uniqueKey, err)
		return nil
	}
	t.metadata = md
	return nil
}

func (t *Transmuxer) feedVideo(tag flv.Tag) error {
	vh, err := flv.ParseVideoHeader(tag.Payload)
	if err != nil {
		return err
	}
	body := tag.Payload[vh.HeaderSize:]

	if vh.IsSequenceHeader() {
		return t.onVideoSeqHeader(vh, body)
	}
	if !vh.IsCodedFrames() {
		return nil
	}
	if t.init == nil {
		Log.Debugf("[%s] video frame before init, drop. ts=%d", t.uniqueKey, tag.Header.Timestamp)
		return nil
	}

	if vh.Codec == flv.VideoCodecAv1 {
		if body, err = av1.StripTemporalDelimiter(body); err != nil {
			return err
		}
	}
	if len(body) == 0 {
		return nil
	}
	return t.emit(TrackVideo, tag.Header.Timestamp, vh.CompositionTime, vh.IsKeyFrame(), body)
}

func (t *Transmuxer) feedAudio(tag flv.Tag) error {
	ah, err := flv.ParseAudioHeader(tag.Payload)
	if err != nil {
		return err
	}
	if !ah.IsAac() {
		return fmt.Errorf("%w. sound format=%d", base.ErrUnsupportedCodec, ah.SoundFormat)
	}
	body := tag.Payload[ah.HeaderSize:]

	if ah.IsAacSeqHeader() {
		return t.onAudioSeqHeader(body)
	}
	if t.init == nil {
		Log.Debugf("[%s] audio frame before init, drop. ts=%d", t.uniqueKey, tag.Header.Timestamp)
		return nil
	}
	if len(body) == 0 {
		return nil
	}
	return t.emit(TrackAudio, tag.Header.Timestamp, 0, false, body)
}

func (t *Transmuxer) onVideoSeqHeader(vh flv.VideoHeader, body []byte) error {
	if t.videoSeqHeader != nil {
		if bytes.Equal(t.videoSeqHeader, body) {
			return nil
		}
		if t.init != nil {
			return fmt.Errorf("%w. track=video", base.ErrSequenceHeaderChanged)
		}
	}

	var kind codec.Kind
	switch vh.Codec {
	case flv.VideoCodecAvc:
		kind = codec.KindAvc
	case flv.VideoCodecHevc:
		kind = codec.KindHevc
	case flv.VideoCodecAv1:
		kind = codec.KindAv1
	default:
		return fmt.Errorf("%w. video codec=%s", base.ErrUnsupportedCodec, vh.Codec)
	}
	seqHeader := append([]byte(nil), body...)
	h, err := codec.Parse(kind, seqHeader)
	if err != nil {
		return err
	}
	t.videoSeqHeader = seqHeader
	t.video = h.(codec.VideoHeader)
	Log.Infof("[%s] video seq header. codec=%s, width=%d, height=%d, fps=%.3f",
		t.uniqueKey, t.video.CodecString(), t.video.Width(), t.video.Height(), t.video.Fps())
	return t.tryInit()
}

func (t *Transmuxer) onAudioSeqHeader(body []byte) error {
	if t.audioSeqHeader != nil {
		if bytes.Equal(t.audioSeqHeader, body) {
			return nil
		}
		if t.init != nil {
			return fmt.Errorf("%w. track=audio", base.ErrSequenceHeaderChanged)
		}
	}
	seqHeader := append([]byte(nil), body...)
	h, err := codec.Parse(codec.KindAac, seqHeader)
	if err != nil {
		return err
	}
	a := h.(*codec.Aac)
	if a.SampleRate() == 0 {
		return base.NewErrInvalidTag("aac sample rate")
	}
	t.audioSeqHeader = seqHeader
	t.audio = a
	Log.Infof("[%s] audio seq header. codec=%s, sample rate=%d, channels=%d",
		t.uniqueKey, a.CodecString(), a.SampleRate(), a.Channels())
	return t.tryInit()
}

// fps 优先使用码流中的，其次是onMetaData，最后是默认值
func (t *Transmuxer) fps() float64 {
	if fps := t.video.Fps(); fps > 0 {
		return fps
	}
	if t.metadata.FrameRate > 0 {
		return t.metadata.FrameRate
	}
	return t.option.DefaultFps
}

func (t *Transmuxer) tryInit() error {
	if t.init != nil || t.video == nil || t.audio == nil {
		return nil
	}

	fps := t.fps()
	videoTimescale := uint32(math.Round(fps * 1000))
	audioTimescale := uint32(t.audio.SampleRate())

	var videoStart, audioStart uint64
	if t.option.Resume != nil {
		videoStart = t.option.Resume.VideoDecodeTime
		audioStart = t.option.Resume.AudioDecodeTime
	}
	t.videoClock = newTrackClock(videoTimescale, videoFrameTicks, videoStart)
	t.audioClock = newTrackClock(audioTimescale, aacFrameSamples, audioStart)

	t.init = buildInitSegment(t.video, t.audio, videoTimescale, audioTimescale)
	t.init.Fps = fps
	t.init.Metadata = t.metadata
	Log.Infof("[%s] init segment. codecs=%s, video timescale=%d, audio timescale=%d, size=%d",
		t.uniqueKey, t.init.Codecs(), videoTimescale, audioTimescale, len(t.init.Raw))
	return t.observer.OnInitSegment(t.init)
}

func (t *Transmuxer) emit(track Track, ts uint32, cts int32, keyframe bool, data []byte) error {
	if !t.hasBaseTs {
		t.baseTs = ts
		t.hasBaseTs = true
	}

	clock := t.audioClock
	if track == TrackVideo {
		clock = t.videoClock
	}
	decodeTime, duration, err := clock.next(ts, t.baseTs)
	if err != nil {
		return err
	}

	t.seq++
	s := sample{
		track:      track,
		decodeTime: decodeTime,
		duration:   duration,
		cto:        clock.ticks(cts),
		keyframe:   keyframe,
		data:       data,
	}
	frag := &Fragment{
		Track:          track,
		Keyframe:       keyframe,
		Timestamp:      ts,
		DecodeTime:     decodeTime,
		Duration:       duration,
		Timescale:      clock.timescale,
		SequenceNumber: t.seq,
		Raw:            buildFragment(t.seq, s, t.otherDecodeTime(track)),
		TrackData:      buildTrackFragment(t.seq, s),
	}
	return t.observer.OnFragment(frag)
}

func (t *Transmuxer) otherDecodeTime(track Track) uint64 {
	if track == TrackVideo {
		return t.audioClock.decodeTime
	}
	return t.videoClock.decodeTime
}
