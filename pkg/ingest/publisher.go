// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package ingest

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/mp4"
	"github.com/q191201771/lallive/pkg/store"
	"github.com/q191201771/lallive/pkg/transcode"
)

// publisher 一个rendition的part和segment组装
//
// 每个part的发布顺序：先写对象存储，再写manifest。
// segment对象是它所有part字节的拼接，写在dvrPrefix下。
//
type publisher struct {
	uniqueKey string
	c         *Controller
	rendition base.Rendition
	video     bool

	prefix    store.KeyPrefix
	dvrPrefix store.KeyPrefix
	recording bool

	mutex     sync.Mutex
	init      *transcode.TrackInit
	manifest  *store.Manifest
	timescale uint32

	partTarget uint64 // ticks
	segTarget  uint64 // ticks

	// 当前part
	cur            []byte
	curTicks       uint64
	curStart       uint64
	curIndependent bool

	// 当前segment已经发布的part
	segParts [][]byte
	segTicks uint64

	// 时间线，转码器重启后输出从0开始，需要接到已经发布的时间线后面
	aligned        bool
	hasTimeline    bool
	offset         int64
	nextDecodeTime uint64

	ready     bool
	failed    bool
	completed bool
}

func newPublisher(c *Controller, r base.Rendition, recording bool) *publisher {
	p := &publisher{
		uniqueKey: c.uniqueKey + "/" + string(r),
		c:         c,
		rendition: r,
		video:     r.IsVideo(),
		prefix:    c.prefix,
		dvrPrefix: c.prefix,
		recording: recording,
		manifest: &store.Manifest{
			Version:        store.ManifestVersion,
			TargetDuration: float64(c.option.SegmentTargetMs) / 1000,
			PartTarget:     float64(c.partTargetMs(r)) / 1000,
		},
	}
	if recording {
		p.dvrPrefix = store.RecordingPrefix(c.room.OrganizationID, c.recording.ID)
	}
	p.manifest.DvrPrefix = string(p.dvrPrefix) + "/rendition/" + string(r)
	return p
}

// onTrackInit 同一个rendition在断线重连后会再次收到init，codec参数必须一致
func (p *publisher) onTrackInit(ctx context.Context, init *transcode.TrackInit) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.failed || p.completed {
		return nil
	}

	if p.init != nil {
		if p.init.Codecs != init.Codecs || p.init.Width != init.Width || p.init.Height != init.Height ||
			p.init.Timescale != init.Timescale {
			return fmt.Errorf("%w. rendition=%s, codecs=%s->%s, size=%dx%d->%dx%d", base.ErrSequenceHeaderChanged,
				p.rendition, p.init.Codecs, init.Codecs, p.init.Width, p.init.Height, init.Width, init.Height)
		}
		p.init.TrackId = init.TrackId
		p.aligned = false
		Log.Infof("[%s] track resumed. next decode time=%d", p.uniqueKey, p.nextDecodeTime)
		return nil
	}

	p.init = init
	p.timescale = init.Timescale
	p.partTarget = ticksOf(p.c.partTargetMs(p.rendition), init.Timescale)
	p.segTarget = ticksOf(p.c.option.SegmentTargetMs, init.Timescale)

	if err := p.c.put(ctx, p.prefix.Init(p.rendition), init.Raw); err != nil {
		return err
	}
	if p.dvrPrefix != p.prefix {
		if err := p.c.put(ctx, p.dvrPrefix.Init(p.rendition), init.Raw); err != nil {
			return err
		}
	}
	p.c.setRenditionInfo(store.RenditionInfo{
		Rendition: p.rendition,
		Bandwidth: init.Bandwidth,
		Codecs:    init.Codecs,
		Width:     init.Width,
		Height:    init.Height,
		Fps:       init.Fps,
	})
	p.manifest.InitReady = true
	Log.Infof("[%s] init published. codecs=%s, timescale=%d, size=%dx%d, bandwidth=%d",
		p.uniqueKey, init.Codecs, init.Timescale, init.Width, init.Height, init.Bandwidth)
	return p.writeManifest(ctx)
}

func (p *publisher) onTrackFragment(ctx context.Context, frag *transcode.TrackFragment) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.failed || p.completed {
		return nil
	}
	if p.init == nil {
		return base.NewErrInvalidTag("fragment before init")
	}

	raw, decodeTime, err := p.align(frag)
	if err != nil {
		return err
	}

	if p.video && frag.Keyframe {
		// 关键帧同时结束当前part和segment
		if err := p.flushPart(ctx, true); err != nil {
			return err
		}
	} else if len(p.cur) > 0 && p.curTicks+frag.Duration > p.partTarget {
		if err := p.flushPart(ctx, p.shouldCloseAudioSegment()); err != nil {
			return err
		}
	}

	if len(p.cur) == 0 {
		p.curStart = decodeTime
		p.curIndependent = !p.video || frag.Keyframe
	}
	p.cur = append(p.cur, raw...)
	p.curTicks += frag.Duration

	if p.curTicks >= p.partTarget {
		return p.flushPart(ctx, p.shouldCloseAudioSegment())
	}
	return nil
}

// align 返回接到发布时间线上的fragment字节和tfdt
func (p *publisher) align(frag *transcode.TrackFragment) ([]byte, uint64, error) {
	if !p.aligned {
		p.aligned = true
		p.offset = 0
		if p.hasTimeline {
			p.offset = int64(p.nextDecodeTime) - int64(frag.DecodeTime)
		}
		if p.offset != 0 {
			Log.Infof("[%s] rebase fragments. offset=%d", p.uniqueKey, p.offset)
		}
	}

	raw := frag.Raw
	decodeTime := frag.DecodeTime
	if p.offset != 0 {
		decodeTime = uint64(int64(frag.DecodeTime) + p.offset)
		var err error
		if raw, err = mp4.RebaseFragment(frag.Raw, frag.TrackId, decodeTime); err != nil {
			return nil, 0, err
		}
	}
	p.nextDecodeTime = decodeTime + frag.Duration
	p.hasTimeline = true
	return raw, decodeTime, nil
}

// shouldCloseAudioSegment 纯音频rendition在下一个同样长度的part会超过目标时长时结束segment
func (p *publisher) shouldCloseAudioSegment() bool {
	if p.video {
		return false
	}
	total := p.segTicks + p.curTicks
	return total >= p.segTarget || total+p.curTicks > p.segTarget
}

// flushPart 发布当前part，closeSegment为true时同时结束所在的segment
func (p *publisher) flushPart(ctx context.Context, closeSegment bool) error {
	if len(p.cur) == 0 {
		if closeSegment {
			return p.closeSegment(ctx)
		}
		return nil
	}

	m := p.manifest
	idx := m.NextPartIdx
	data := p.cur
	if err := p.c.put(ctx, p.prefix.Part(p.rendition, idx), data); err != nil {
		return err
	}

	var seg *store.Segment
	if n := len(m.Segments); n > 0 && !m.Segments[n-1].Closed {
		seg = &m.Segments[n-1]
	} else {
		m.Segments = append(m.Segments, store.Segment{
			Idx:       m.NextSegmentIdx,
			StartTime: p.seconds(p.curStart),
		})
		m.NextSegmentIdx++
		seg = &m.Segments[len(m.Segments)-1]
	}
	duration := p.seconds(p.curTicks)
	seg.Parts = append(seg.Parts, store.Part{Idx: idx, Duration: duration, Independent: p.curIndependent})
	seg.Duration += duration
	if duration > m.PartTarget {
		m.PartTarget = duration
	}
	m.NextPartIdx++
	m.PreFetchPartIds = []uint32{m.NextPartIdx}

	p.segParts = append(p.segParts, data)
	p.segTicks += p.curTicks
	independent := p.curIndependent
	p.cur = nil
	p.curTicks = 0

	var closed *store.Segment
	var segData []byte
	if closeSegment {
		var err error
		if closed, segData, err = p.finishSegment(ctx); err != nil {
			return err
		}
	}

	p.trimWindow()
	if err := p.writeManifest(ctx); err != nil {
		return err
	}
	p.c.option.Metrics.IncPartsPublished(string(p.rendition))

	if closed != nil {
		if err := p.onSegmentClosed(ctx, closed, segData); err != nil {
			return err
		}
	}
	if !p.ready && independent {
		p.ready = true
		p.c.onRenditionReady(ctx, p.rendition)
	}
	return nil
}

// closeSegment 结束还在追加part的segment，没有新的part
func (p *publisher) closeSegment(ctx context.Context) error {
	closed, data, err := p.finishSegment(ctx)
	if err != nil || closed == nil {
		return err
	}
	if err := p.writeManifest(ctx); err != nil {
		return err
	}
	return p.onSegmentClosed(ctx, closed, data)
}

// finishSegment 写segment对象并标记closed，manifest由调用方写
func (p *publisher) finishSegment(ctx context.Context) (*store.Segment, []byte, error) {
	m := p.manifest
	n := len(m.Segments)
	if n == 0 || m.Segments[n-1].Closed || len(p.segParts) == 0 {
		return nil, nil, nil
	}
	seg := &m.Segments[n-1]

	size := 0
	for _, b := range p.segParts {
		size += len(b)
	}
	data := make([]byte, 0, size)
	for _, b := range p.segParts {
		data = append(data, b...)
	}
	if err := p.c.put(ctx, p.dvrPrefix.Segment(p.rendition, seg.Idx), data); err != nil {
		return nil, nil, err
	}
	seg.Closed = true
	if d := math.Ceil(seg.Duration); d > m.TargetDuration {
		m.TargetDuration = d
	}
	p.segParts = nil
	p.segTicks = 0
	snapshot := *seg
	snapshot.Parts = append([]store.Part(nil), seg.Parts...)
	return &snapshot, data, nil
}

func (p *publisher) onSegmentClosed(ctx context.Context, seg *store.Segment, data []byte) error {
	if p.recording {
		rs := &model.RecordingSegment{
			RecordingID: p.c.recording.ID,
			Rendition:   p.rendition,
			Idx:         seg.Idx,
			StartTime:   seg.StartTime,
			Duration:    seg.Duration,
			ObjectKey:   p.dvrPrefix.Segment(p.rendition, seg.Idx),
		}
		if err := p.c.retry.do(ctx, "save recording segment", func(ctx context.Context) error {
			return p.c.repo.SaveRecordingSegment(ctx, rs)
		}); err != nil {
			return err
		}
	}
	if p.rendition == base.RenditionVideoSource {
		p.c.onVideoSegmentClosed(p.init.Raw, seg, data)
	}
	return nil
}

func (p *publisher) trimWindow() {
	m := p.manifest
	if p.c.option.ManifestWindow <= 0 || len(m.Segments) <= p.c.option.ManifestWindow {
		return
	}
	drop := len(m.Segments) - p.c.option.ManifestWindow
	m.Segments = append([]store.Segment(nil), m.Segments[drop:]...)
}

func (p *publisher) writeManifest(ctx context.Context) error {
	p.manifest.Renditions = p.c.renditionInfos()
	b := store.EncodeManifest(p.manifest)
	return p.c.retry.do(ctx, "write manifest", func(ctx context.Context) error {
		return p.c.kv.Set(ctx, p.prefix.Manifest(p.rendition), b)
	})
}

// complete 连接结束，发布剩余的part，结束segment，manifest标记completed
func (p *publisher) complete(ctx context.Context) error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.completed {
		return nil
	}
	// 失败时manifest已经写过completed，之后不再修改
	if p.failed {
		p.completed = true
		Log.Infof("[%s] completed after failure. parts=%d, segments=%d",
			p.uniqueKey, p.manifest.NextPartIdx, p.manifest.NextSegmentIdx)
		return nil
	}
	err := p.flushPart(ctx, true)
	p.completed = true
	p.manifest.Completed = true
	p.manifest.PreFetchPartIds = nil
	if werr := p.writeManifest(ctx); err == nil {
		err = werr
	}
	// 录制回放的master playlist从这里拿codec和分辨率
	if p.recording && p.init != nil {
		if perr := p.c.put(ctx, p.dvrPrefix.Manifest(p.rendition), store.EncodeManifest(p.manifest)); err == nil {
			err = perr
		}
	}
	Log.Infof("[%s] completed. parts=%d, segments=%d, err=%v",
		p.uniqueKey, p.manifest.NextPartIdx, p.manifest.NextSegmentIdx, err)
	return err
}

// fail 转码失败只影响这个rendition，manifest立即标记completed
func (p *publisher) fail(ctx context.Context, cause error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.failed || p.completed {
		return
	}
	Log.Warnf("[%s] rendition failed. err=%+v", p.uniqueKey, cause)
	p.failed = true
	p.c.option.Metrics.IncRenditionFailure(string(p.rendition))
	p.c.removeRenditionInfo(p.rendition)
	p.manifest.Completed = true
	p.manifest.PreFetchPartIds = nil
	if err := p.writeManifest(ctx); err != nil {
		Log.Errorf("[%s] write failed manifest error. err=%+v", p.uniqueKey, err)
	}
}

func (p *publisher) isFailed() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.failed
}

func (p *publisher) seconds(ticks uint64) float64 {
	return float64(ticks) / float64(p.timescale)
}

func ticksOf(ms int, timescale uint32) uint64 {
	return uint64(math.Round(float64(ms) * float64(timescale) / 1000))
}
