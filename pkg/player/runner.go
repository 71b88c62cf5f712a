// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package player

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/edge"
	"github.com/q191201771/lallive/pkg/mp4"
	"golang.org/x/sync/errgroup"
)

var (
	// errFinished edge返回404 {"finished":true}，直播已经结束或者有了新的推流
	errFinished = errors.New("lallive.player: track finished")

	// errGone edge返回404 {"finished":false}，part已经滑出窗口或者等待超时
	errGone = errors.New("lallive.player: media not available")
)

type statusError struct {
	code int
	url  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s. status=%d, url=%s", base.ErrPlayerStatus.Error(), e.code, e.url)
}

func (e *statusError) Unwrap() error {
	return base.ErrPlayerStatus
}

type mediaItem struct {
	uri      string
	part     bool
	prefetch bool
	idx      uint32
	start    float64
	duration float64
}

func (m *mediaItem) end() float64 {
	return m.start + m.duration
}

// TrackRunner 一个rendition的拉取状态机
//
// 所有状态只在Run所在的goroutine中修改，只有并发的媒体请求会同时访问errorCount
//
type TrackRunner struct {
	uniqueKey string
	option    Option
	client    *http.Client
	state     PlayerState
	events    chan Event

	playlistUrl *url.URL
	rendition   string // playlist的文件名，refresh后拼接新的session地址
	lastRefresh time.Time

	errorCount atomic.Int32

	playlist *edge.Playlist
	dvr      bool
	started  bool

	// 已经请求到的位置
	cursor      float64
	playStart   float64
	lastEnd     float64
	hasPart     bool
	lastPart    uint32
	hasSegment  bool
	lastSegment uint32

	regions regionSet
}

// NewTrackRunner
//
// @param playlistUrl: rendition playlist的绝对地址，即master playlist中variant的uri按master地址解析后的结果
//
func NewTrackRunner(playlistUrl string, state PlayerState, modOptions ...ModOption) (*TrackRunner, error) {
	option := defaultOption
	for _, fn := range modOptions {
		fn(&option)
	}
	u, err := url.Parse(playlistUrl)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("playlist url must be absolute. url=%s", playlistUrl)
	}
	u.RawQuery = ""
	client := option.Client
	if client == nil {
		client = &http.Client{}
	}
	r := &TrackRunner{
		uniqueKey:   base.GenUkTrackRunner(),
		option:      option,
		client:      client,
		state:       state,
		events:      make(chan Event, 64),
		playlistUrl: u,
		rendition:   path.Base(u.Path),
		lastRefresh: time.Now(),
	}
	Log.Infof("[%s] lifecycle new track runner. url=%s, ll=%t", r.uniqueKey, u.String(), option.LowLatency)
	return r, nil
}

func (r *TrackRunner) UniqueKey() string {
	return r.uniqueKey
}

// Events Run结束后关闭
func (r *TrackRunner) Events() <-chan Event {
	return r.events
}

// Run 阻塞直到track结束
//
// 正常结束和ctx取消返回nil，出错时先发送FatalEvent再返回错误
//
func (r *TrackRunner) Run(ctx context.Context) error {
	defer close(r.events)
	err := r.run(ctx)
	if err == nil || errors.Is(err, errFinished) || ctx.Err() != nil {
		Log.Infof("[%s] track finished. err=%v", r.uniqueKey, err)
		return nil
	}
	Log.Errorf("[%s] track failed. err=%+v", r.uniqueKey, err)
	_ = r.emit(ctx, FatalEvent{Err: err})
	return err
}

func (r *TrackRunner) run(ctx context.Context) error {
	pl, err := r.reload(ctx, false)
	if err != nil {
		return err
	}
	initData, err := r.fetch(ctx, "init", r.resolve(pl.InitUri))
	if err != nil {
		return err
	}
	if err := r.emit(ctx, InitEvent{Data: initData}); err != nil {
		return err
	}
	r.seekTo(r.startTime(pl))

	for {
		if err := r.checkSeek(ctx); err != nil {
			return err
		}
		r.switchDvr(pl)

		blocking := r.option.LowLatency && !r.dvr && !pl.Completed
		items, more := r.pending(pl)
		switch {
		case len(items) > 0:
			if err := r.fetchItems(ctx, items); err != nil {
				return err
			}
		case pl.Completed && !more:
			return nil
		case more || !blocking:
			if err := r.idle(ctx, pl); err != nil {
				return err
			}
		}

		if !pl.Completed {
			if pl, err = r.reload(ctx, blocking); err != nil {
				return err
			}
		}
	}
}

// startTime 直播从最近的位置开始，低延迟模式从最后一个segment开始，标准模式留3个segment
func (r *TrackRunner) startTime(pl *edge.Playlist) float64 {
	if len(pl.Segments) == 0 {
		return 0
	}
	if pl.PlaylistType != edge.PlaylistTypeLive {
		return pl.Segments[0].StartTime
	}
	if r.option.LowLatency {
		return pl.Segments[len(pl.Segments)-1].StartTime
	}
	var closed []edge.PlaylistSegment
	for _, s := range pl.Segments {
		if s.Closed {
			closed = append(closed, s)
		}
	}
	if len(closed) == 0 {
		return pl.Segments[0].StartTime
	}
	i := len(closed) - 3
	if i < 0 {
		i = 0
	}
	return closed[i].StartTime
}

func (r *TrackRunner) seekTo(t float64) {
	r.cursor = t
	r.playStart = t
	r.lastEnd = t
	r.hasPart = false
	r.hasSegment = false
}

// checkSeek 播放位置跳到了没有请求过的区间
func (r *TrackRunner) checkSeek(ctx context.Context) error {
	if !r.started {
		return nil
	}
	ct := r.state.CurrentTime()
	if r.regions.contains(ct) {
		return nil
	}
	// 播放追上了请求位置，属于缓冲不足而不是跳转
	if ct >= r.lastEnd-regionTolerance && ct <= r.lastEnd+r.stallTolerance() {
		return nil
	}

	gapStart, ok := r.regions.before(ct)
	if !ok {
		gapStart = ct
	}
	gapEnd, ok := r.regions.after(ct)
	if !ok || gapStart != ct {
		gapEnd = ct
	}
	Log.Infof("[%s] seek into unclaimed region. time=%.3f, gap=[%.3f, %.3f]", r.uniqueKey, ct, gapStart, gapEnd)
	r.seekTo(ct)
	return r.emit(ctx, DiscontinuityEvent{GapStart: gapStart, GapEnd: gapEnd})
}

func (r *TrackRunner) stallTolerance() float64 {
	if r.playlist != nil && r.playlist.TargetDuration > 1 {
		return r.playlist.TargetDuration
	}
	return 1
}

// switchDvr 落后直播点超过阈值时切换到dvr地址，追上一半阈值后切回
func (r *TrackRunner) switchDvr(pl *edge.Playlist) {
	if !r.option.DvrEnabled || pl.DvrPrefix == "" || pl.PlaylistType != edge.PlaylistTypeLive || len(pl.Segments) == 0 {
		return
	}
	last := pl.Segments[len(pl.Segments)-1]
	behind := last.StartTime + last.Duration - r.state.CurrentTime()

	switch {
	case !r.dvr && behind > r.option.DvrThresholdSec:
		r.dvr = true
	case r.dvr && behind < r.option.DvrThresholdSec/2:
		r.dvr = false
	default:
		return
	}
	Log.Infof("[%s] switch dvr. dvr=%t, behind=%.3f", r.uniqueKey, r.dvr, behind)
	r.cursor = r.lastEnd
	r.hasPart = false
	r.hasSegment = false
}

// ----- schedule ------------------------------------------------------------------------------------------------------

// pending 当前playlist中需要请求的媒体，受播放器目标缓冲限制
//
// @return more: 是否还有因为缓冲已满而暂不请求的媒体
//
func (r *TrackRunner) pending(pl *edge.Playlist) (items []mediaItem, more bool) {
	var candidates []mediaItem
	switch {
	case r.dvr:
		candidates = r.dvrItems(pl)
	case r.option.LowLatency:
		candidates = r.lowLatencyItems(pl)
	default:
		candidates = r.segmentItems(pl)
	}

	limit := math.Max(r.state.CurrentTime(), r.playStart) + r.state.TargetBuffer()
	for _, it := range candidates {
		if !r.wanted(&it) {
			continue
		}
		if it.start >= limit {
			return items, true
		}
		items = append(items, it)
	}
	return items, false
}

func (r *TrackRunner) wanted(it *mediaItem) bool {
	if it.part {
		if r.hasPart {
			return it.idx > r.lastPart
		}
		return it.end() > r.cursor+regionTolerance
	}
	// 开始按part请求后不再回头请求segment
	if r.hasPart {
		return false
	}
	if r.hasSegment && it.idx <= r.lastSegment {
		return false
	}
	if r.regions.covers(it.start, it.end()) {
		return false
	}
	return it.end() > r.cursor+regionTolerance
}

// lowLatencyItems 列出了part的segment按part请求，更早的segment整体请求，最后是预告的part
func (r *TrackRunner) lowLatencyItems(pl *edge.Playlist) []mediaItem {
	var out []mediaItem
	end := 0.0
	for _, s := range pl.Segments {
		if len(s.Parts) == 0 {
			if s.Closed && s.Uri != "" {
				out = append(out, mediaItem{uri: s.Uri, idx: s.Idx, start: s.StartTime, duration: s.Duration})
			}
			end = s.StartTime + s.Duration
			continue
		}
		t := s.StartTime
		for _, p := range s.Parts {
			out = append(out, mediaItem{uri: p.Uri, part: true, idx: p.Idx, start: t, duration: p.Duration})
			t += p.Duration
		}
		end = t
	}
	for _, p := range pl.PreFetch {
		out = append(out, mediaItem{uri: p.Uri, part: true, prefetch: true, idx: p.Idx, start: end, duration: pl.PartTarget})
		end += pl.PartTarget
	}
	return out
}

func (r *TrackRunner) segmentItems(pl *edge.Playlist) []mediaItem {
	var out []mediaItem
	for _, s := range pl.Segments {
		if s.Closed && s.Uri != "" {
			out = append(out, mediaItem{uri: s.Uri, idx: s.Idx, start: s.StartTime, duration: s.Duration})
		}
	}
	return out
}

// dvrItems 从dvr地址按segment请求，窗口之前的segment按target duration估算时间
func (r *TrackRunner) dvrItems(pl *edge.Playlist) []mediaItem {
	if len(pl.Segments) == 0 {
		return nil
	}
	var out []mediaItem
	first := pl.Segments[0]
	td := pl.TargetDuration
	if td <= 0 {
		td = 2
	}
	if r.cursor < first.StartTime {
		back := uint32(math.Ceil((first.StartTime - r.cursor) / td))
		if back > first.Idx {
			back = first.Idx
		}
		for i := first.Idx - back; i < first.Idx; i++ {
			out = append(out, mediaItem{
				uri:      dvrSegmentUri(pl.DvrPrefix, i),
				idx:      i,
				start:    first.StartTime - float64(first.Idx-i)*td,
				duration: td,
			})
		}
	}
	for _, s := range pl.Segments {
		if s.Closed {
			out = append(out, mediaItem{uri: dvrSegmentUri(pl.DvrPrefix, s.Idx), idx: s.Idx, start: s.StartTime, duration: s.Duration})
		}
	}
	return out
}

func dvrSegmentUri(prefix string, idx uint32) string {
	return prefix + "/segment/" + strconv.FormatUint(uint64(idx), 10)
}

// fetchItems 低延迟模式最多3个请求同时进行，其他模式1个，结果按顺序交给播放器
func (r *TrackRunner) fetchItems(ctx context.Context, items []mediaItem) error {
	limit := 1
	if r.option.LowLatency && !r.dvr {
		limit = 3
	}
	results := make([][]byte, len(items))
	errs := make([]error, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i := range items {
		i := i
		g.Go(func() error {
			what := "segment"
			if items[i].part {
				what = "part"
			}
			data, err := r.fetch(gctx, what, r.resolve(items[i].uri))
			if errors.Is(err, errGone) {
				errs[i] = err
				return nil
			}
			results[i] = data
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i := range items {
		it := &items[i]
		if errs[i] != nil {
			// 预告的part等待超时，下一轮继续请求
			if it.prefetch {
				break
			}
			Log.Debugf("[%s] media gone, skip. part=%t, idx=%d", r.uniqueKey, it.part, it.idx)
			r.advance(it)
			continue
		}
		if err := r.deliver(ctx, it, results[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *TrackRunner) deliver(ctx context.Context, it *mediaItem, data []byte) error {
	if r.started && it.start > r.lastEnd+regionTolerance {
		if err := r.emit(ctx, DiscontinuityEvent{GapStart: r.lastEnd, GapEnd: it.start}); err != nil {
			return err
		}
	}
	if err := r.emit(ctx, MediaEvent{
		Data:       data,
		StartTime:  it.start,
		EndTime:    it.end(),
		Duration:   it.duration,
		DecodeTime: decodeTimeOf(data),
		Idx:        it.idx,
		Part:       it.part,
	}); err != nil {
		return err
	}
	r.regions.add(it.start, it.end())
	r.lastEnd = it.end()
	r.started = true
	r.advance(it)
	return nil
}

func (r *TrackRunner) advance(it *mediaItem) {
	if it.part {
		r.hasPart, r.lastPart = true, it.idx
	} else {
		r.hasSegment, r.lastSegment = true, it.idx
	}
	r.cursor = it.end()
}

func (r *TrackRunner) idle(ctx context.Context, pl *edge.Playlist) error {
	d := pl.TargetDuration / 2
	if r.option.LowLatency && pl.PartTarget > 0 {
		d = pl.PartTarget
	}
	wait := time.Duration(d * float64(time.Second))
	if wait < 50*time.Millisecond {
		wait = 50 * time.Millisecond
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ----- http ----------------------------------------------------------------------------------------------------------

// reload 低延迟模式带上_HLS_msn和_HLS_part，请求当前最后一个segment的下一个part
func (r *TrackRunner) reload(ctx context.Context, blocking bool) (*edge.Playlist, error) {
	r.refresh(ctx)

	q := url.Values{}
	q.Set("scuffle_json", "1")
	if blocking && r.playlist != nil && len(r.playlist.Segments) > 0 {
		last := r.playlist.Segments[len(r.playlist.Segments)-1]
		q.Set("_HLS_msn", strconv.FormatUint(uint64(last.Idx), 10))
		q.Set("_HLS_part", strconv.Itoa(len(last.Parts)))
	}
	u := *r.playlistUrl
	u.RawQuery = q.Encode()

	var pl edge.Playlist
	err := r.retry(ctx, "playlist", func(ctx context.Context) error {
		b, err := r.get(ctx, u.String())
		if err != nil {
			return err
		}
		pl = edge.Playlist{}
		if err := json.Unmarshal(b, &pl); err != nil {
			return base.NewErrInvalidTag("playlist json: " + err.Error())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.playlist = &pl
	return &pl, nil
}

type refreshResp struct {
	Session   string `json:"session"`
	ExpiresAt int64  `json:"expires_at"`
}

// refresh 按间隔续期session，之后的playlist使用新的session地址
func (r *TrackRunner) refresh(ctx context.Context) {
	if time.Since(r.lastRefresh) < time.Duration(r.option.RefreshIntervalMs)*time.Millisecond {
		return
	}
	r.lastRefresh = time.Now()
	u := r.playlistUrl.ResolveReference(&url.URL{Path: "refresh"})
	b, err := r.get(ctx, u.String())
	if err != nil {
		Log.Warnf("[%s] refresh session failed. err=%v", r.uniqueKey, err)
		return
	}
	var resp refreshResp
	if err := json.Unmarshal(b, &resp); err != nil || resp.Session == "" {
		Log.Warnf("[%s] invalid refresh response. body=%s", r.uniqueKey, b)
		return
	}
	r.playlistUrl = r.playlistUrl.ResolveReference(&url.URL{Path: "../" + resp.Session + "/" + r.rendition})
	Log.Debugf("[%s] session refreshed. expires=%d", r.uniqueKey, resp.ExpiresAt)
}

func (r *TrackRunner) fetch(ctx context.Context, what string, u string) (data []byte, err error) {
	err = r.retry(ctx, what, func(ctx context.Context) error {
		data, err = r.get(ctx, u)
		return err
	})
	return
}

func (r *TrackRunner) get(ctx context.Context, u string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(r.option.InflightTimeoutMs)*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, requestError(ctx, u, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, requestError(ctx, u, err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return body, nil
	case http.StatusNotFound:
		var f struct {
			Finished *bool `json:"finished"`
		}
		if json.Unmarshal(body, &f) == nil && f.Finished != nil {
			if *f.Finished {
				return nil, errFinished
			}
			return nil, errGone
		}
	}
	return nil, &statusError{code: resp.StatusCode, url: u}
}

func requestError(ctx context.Context, u string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w. url=%s", base.ErrPlayerInflight, u)
	}
	return base.WrapUpstream(err, "http get")
}

// trackBackOff 第n次连续出错后等待 ErrorBackoffMs*n，达到MaxErrorCount后停止
type trackBackOff struct {
	r *TrackRunner
}

func (b *trackBackOff) NextBackOff() time.Duration {
	n := int(b.r.errorCount.Load())
	if n >= b.r.option.MaxErrorCount {
		return backoff.Stop
	}
	return time.Duration(b.r.option.ErrorBackoffMs*n) * time.Millisecond
}

func (b *trackBackOff) Reset() {}

// retry 连续错误计数在track内共享，任何一次成功清零
func (r *TrackRunner) retry(ctx context.Context, what string, op func(ctx context.Context) error) error {
	err := backoff.RetryNotify(func() error {
		err := op(ctx)
		if err == nil {
			r.errorCount.Store(0)
			return nil
		}
		if permanent(err) {
			return backoff.Permanent(err)
		}
		r.errorCount.Add(1)
		return err
	}, backoff.WithContext(&trackBackOff{r: r}, ctx), func(err error, d time.Duration) {
		Log.Warnf("[%s] %s failed, retry after %s. errors=%d, err=%v", r.uniqueKey, what, d, r.errorCount.Load(), err)
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if int(r.errorCount.Load()) >= r.option.MaxErrorCount {
		return fmt.Errorf("%w. what=%s, last=%v", base.ErrPlayerTooManyErrors, what, err)
	}
	return err
}

// permanent 不需要重试的错误，鉴权失败重试也不会成功
func permanent(err error) bool {
	if errors.Is(err, errFinished) || errors.Is(err, errGone) {
		return true
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusUnauthorized || se.code == http.StatusForbidden || se.code == http.StatusBadRequest
	}
	return false
}

func (r *TrackRunner) resolve(uri string) string {
	ref, err := url.Parse(uri)
	if err != nil {
		return uri
	}
	return r.playlistUrl.ResolveReference(ref).String()
}

func (r *TrackRunner) emit(ctx context.Context, e Event) error {
	select {
	case r.events <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// decodeTimeOf 媒体的第一个fragment中第一个track的tfdt
func decodeTimeOf(data []byte) uint64 {
	f, err := mp4.NewFragmentReader(bytes.NewReader(data)).ReadFragment()
	if err != nil || len(f.Tracks) == 0 {
		return 0
	}
	return f.Tracks[0].DecodeTime
}
