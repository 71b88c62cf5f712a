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
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/rtmp"
	"github.com/q191201771/lallive/pkg/store"
	"github.com/q191201771/lallive/pkg/transcode"
	"github.com/q191201771/lallive/pkg/transmux"
	"golang.org/x/sync/errgroup"
)

// Controller 一个connection的生命周期，断线重连时同一个Controller接管新的rtmp session
//
// 一次rtmp session对应一个epoch：transmuxer和转码器随session创建和销毁，
// publisher和manifest跨epoch保持。
//
type Controller struct {
	uniqueKey string
	option    Option
	repo      model.Repository
	kv        store.KV
	objects   store.ObjectStore
	retry     *retrier
	onFinish  func(c *Controller)

	room       *model.Room
	conn       *model.Connection
	recording  *model.Recording
	prefix     store.KeyPrefix
	publishers map[base.Rendition]*publisher

	ctx    context.Context
	cancel context.CancelFunc

	mutex       sync.Mutex
	state       model.ConnectionState
	session     *rtmp.ServerSession
	epoch       *epoch
	tmState     *transmux.State
	resumeTimer *time.Timer
	err         error
	finishing   bool
	done        chan struct{}

	infoMutex sync.Mutex
	infos     map[base.Rendition]store.RenditionInfo

	readyMutex sync.Mutex
	ready      map[base.Rendition]bool
	failed     map[base.Rendition]bool
	live       bool

	heartbeatAt time.Time

	screenshotMutex   sync.Mutex
	screenshotLimiter *transcode.FrameRateLimiter
	screenshotIdx     uint32
	screenshots       *errgroup.Group
}

// epoch 一次rtmp session期间的transmuxer和转码器，回调都发生在session的goroutine中
type epoch struct {
	c           *Controller
	transmuxer  *transmux.Transmuxer
	transcoders []transcode.Transcoder
}

// newController 创建connection，房间进入waiting状态
func newController(ctx context.Context, option Option, repo model.Repository, kv store.KV, objects store.ObjectStore,
	room *model.Room, onFinish func(c *Controller)) (*Controller, error) {

	uk := base.GenUkIngestController()
	c := &Controller{
		uniqueKey:  uk,
		option:     option,
		repo:       repo,
		kv:         kv,
		objects:    objects,
		retry:      &retrier{uniqueKey: uk, attempts: option.UpstreamAttempts, timeout: time.Duration(option.UpstreamTimeoutMs) * time.Millisecond},
		onFinish:   onFinish,
		room:       room,
		publishers: make(map[base.Rendition]*publisher),
		state:      model.ConnectionStateRunning,
		done:       make(chan struct{}),
		infos:      make(map[base.Rendition]store.RenditionInfo),
		ready:      make(map[base.Rendition]bool),
		failed:     make(map[base.Rendition]bool),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	now := time.Now()
	c.conn = &model.Connection{
		ID:             uuid.New(),
		RoomID:         room.ID,
		OrganizationID: room.OrganizationID,
		Renditions:     room.Renditions(),
		State:          model.ConnectionStateRunning,
		StartedAt:      now,
		EndedAt:        now.Add(time.Duration(option.ConnectionTtlMs) * time.Millisecond),
	}
	c.prefix = store.ConnPrefix(room.OrganizationID, room.ID, c.conn.ID)

	if err := c.retry.do(ctx, "create connection", func(ctx context.Context) error {
		return repo.CreateConnection(ctx, c.conn)
	}); err != nil {
		c.cancel()
		return nil, err
	}

	recorded := make(map[base.Rendition]bool)
	if rc := room.RecordingConfig; rc != nil {
		c.recording = &model.Recording{
			ID:             uuid.New(),
			OrganizationID: room.OrganizationID,
			RoomID:         &room.ID,
			ConnectionID:   c.conn.ID,
			Visibility:     room.Visibility,
			S3BucketID:     rc.S3BucketID,
			StartedAt:      now,
		}
		for _, r := range c.conn.Renditions {
			if len(rc.Renditions) == 0 || containsRendition(rc.Renditions, r) {
				c.recording.Renditions = append(c.recording.Renditions, r)
				recorded[r] = true
			}
		}
		if err := c.retry.do(ctx, "create recording", func(ctx context.Context) error {
			return repo.CreateRecording(ctx, c.recording)
		}); err != nil {
			c.cancel()
			return nil, err
		}
	}

	for _, r := range c.conn.Renditions {
		c.publishers[r] = newPublisher(c, r, recorded[r])
	}

	connID := c.conn.ID
	if err := c.retry.do(ctx, "set room waiting", func(ctx context.Context) error {
		return repo.SetRoomLive(ctx, room.ID, model.RoomStatusWaiting, &connID)
	}); err != nil {
		c.cancel()
		return nil, err
	}

	if option.ScreenshotIntervalMs > 0 && option.Screenshotter != nil {
		c.screenshotLimiter = transcode.NewFrameRateLimiter(0, 1000/float64(option.ScreenshotIntervalMs))
		c.screenshots = &errgroup.Group{}
		c.screenshots.SetLimit(1)
	}

	Log.Infof("[%s] lifecycle new ingest controller. room=%s, connection=%s, renditions=%v, recording=%t",
		uk, room.ID, c.conn.ID, c.conn.Renditions, c.recording != nil)
	return c, nil
}

func (c *Controller) UniqueKey() string {
	return c.uniqueKey
}

func (c *Controller) ConnectionID() uuid.UUID {
	return c.conn.ID
}

func (c *Controller) RoomID() uuid.UUID {
	return c.room.ID
}

func (c *Controller) Prefix() store.KeyPrefix {
	return c.prefix
}

func (c *Controller) State() model.ConnectionState {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.state
}

// Done connection进入终态后关闭
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// attach 开始一个新的epoch
func (c *Controller) attach(session *rtmp.ServerSession) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.session = session
	c.epoch = &epoch{c: c}
	c.epoch.transmuxer = transmux.NewTransmuxer(c.epoch, func(option *transmux.Option) {
		option.Resume = c.tmState
	})
	session.SetPubSessionObserver(c)
}

// adopt 重连的session接管处于StoppedResumable状态的connection
func (c *Controller) adopt(ctx context.Context, session *rtmp.ServerSession) error {
	c.mutex.Lock()
	if c.state != model.ConnectionStateStoppedResumable {
		state := c.state
		c.mutex.Unlock()
		return fmt.Errorf("%w. connection=%s, state=%s", base.ErrRoomBusy, c.conn.ID, state)
	}
	if c.resumeTimer != nil && !c.resumeTimer.Stop() {
		// 计时器已经触发，正在结束
		c.mutex.Unlock()
		return fmt.Errorf("%w. connection=%s, resume window passed", base.ErrRoomBusy, c.conn.ID)
	}
	c.resumeTimer = nil
	c.state = model.ConnectionStateRunning
	c.mutex.Unlock()

	if err := c.updateConnection(ctx, model.ConnectionStateRunning, time.Now().Add(time.Duration(c.option.ConnectionTtlMs)*time.Millisecond)); err != nil {
		go c.finish(model.ConnectionStateFailed)
		return err
	}
	Log.Infof("[%s] connection resumed. session=%s", c.uniqueKey, session.UniqueKey())
	c.attach(session)
	return nil
}

// ----- rtmp.PubSessionObserver ---------------------------------------------------------------------------------------

func (c *Controller) OnReadRtmpAvMsg(msg base.RtmpMsg) error {
	c.mutex.Lock()
	ep := c.epoch
	c.mutex.Unlock()
	if ep == nil {
		return nil
	}
	if err := ep.transmuxer.FeedRtmpMsg(msg); err != nil {
		c.setErr(err)
		return err
	}
	return nil
}

// ----- transmux.Observer ---------------------------------------------------------------------------------------------

func (ep *epoch) OnInitSegment(init *transmux.InitSegment) error {
	c := ep.c

	var sources, others []base.Rendition
	for _, r := range c.conn.Renditions {
		if c.publishers[r].isFailed() {
			continue
		}
		if r.IsSource() {
			sources = append(sources, r)
		} else {
			others = append(others, r)
		}
	}

	pt := transcode.NewPassthrough(c, sources)
	if err := pt.Start(c.ctx, init); err != nil {
		return err
	}
	ep.transcoders = append(ep.transcoders, pt)

	if len(others) == 0 {
		return nil
	}
	input := transcode.Size{Width: init.VideoCodec.Width(), Height: init.VideoCodec.Height()}
	targets, dropped := transcode.BuildTargets(others, input, init.Fps, c.option.Upscale, c.option.FpsCap)
	for _, r := range dropped {
		c.OnTrackFailed(r, fmt.Errorf("%w. rendition=%s, input=%s", base.ErrTranscodeNoRendition, r, input))
	}
	if len(targets) == 0 {
		return nil
	}
	if c.option.TranscoderFactory == nil {
		for _, t := range targets {
			c.OnTrackFailed(t.Rendition, fmt.Errorf("%w. no transcoder", base.ErrTranscodeInit))
		}
		return nil
	}
	tc := c.option.TranscoderFactory(c, targets)
	if err := tc.Start(c.ctx, init); err != nil {
		for _, r := range tc.Renditions() {
			c.OnTrackFailed(r, err)
		}
		_ = tc.Close()
		return nil
	}
	ep.transcoders = append(ep.transcoders, tc)
	return nil
}

func (ep *epoch) OnFragment(frag *transmux.Fragment) error {
	c := ep.c
	alive := ep.transcoders[:0]
	for _, tc := range ep.transcoders {
		if err := tc.WriteFragment(frag); err != nil {
			if hasSource(tc.Renditions()) {
				return err
			}
			// 转码器的输入丢失只影响它输出的rendition
			for _, r := range tc.Renditions() {
				c.OnTrackFailed(r, err)
			}
			_ = tc.Close()
			continue
		}
		alive = append(alive, tc)
	}
	ep.transcoders = alive

	if frag.Track == transmux.TrackVideo {
		return c.heartbeat(frag.DecodeTimeSeconds())
	}
	return nil
}

// ----- transcode.Sink ------------------------------------------------------------------------------------------------

func (c *Controller) OnTrackInit(r base.Rendition, init *transcode.TrackInit) error {
	p, ok := c.publishers[r]
	if !ok {
		return fmt.Errorf("%w. rendition=%s", base.ErrTranscodeNoRendition, r)
	}
	return p.onTrackInit(c.ctx, init)
}

func (c *Controller) OnTrackFragment(r base.Rendition, frag *transcode.TrackFragment) error {
	p, ok := c.publishers[r]
	if !ok {
		return fmt.Errorf("%w. rendition=%s", base.ErrTranscodeNoRendition, r)
	}
	err := p.onTrackFragment(c.ctx, frag)
	if err != nil && r.IsSource() {
		return fmt.Errorf("%w. rendition=%s, err=%v", base.ErrSourceFailed, r, err)
	}
	return err
}

func (c *Controller) OnTrackFailed(r base.Rendition, err error) {
	p, ok := c.publishers[r]
	if !ok {
		return
	}
	p.fail(c.ctx, err)
	c.readyMutex.Lock()
	c.failed[r] = true
	c.readyMutex.Unlock()
	c.checkLive(c.ctx)
}

// ---------------------------------------------------------------------------------------------------------------------

// onSessionClosed rtmp session结束，决定connection进入哪个状态
func (c *Controller) onSessionClosed(session *rtmp.ServerSession, sessionErr error) {
	c.mutex.Lock()
	if c.session != session {
		c.mutex.Unlock()
		return
	}
	ep := c.epoch
	c.session = nil
	c.epoch = nil
	c.mutex.Unlock()

	if ep != nil {
		for _, tc := range ep.transcoders {
			_ = tc.Close()
		}
		s := ep.transmuxer.State()
		c.tmState = &s
		ep.transmuxer.Dispose()
	}

	c.mutex.Lock()
	err := c.err
	c.err = nil
	finishing := c.finishing
	c.mutex.Unlock()
	if finishing {
		return
	}

	state := decideState(session.StoppedCleanly(), sessionErr, err)
	Log.Infof("[%s] session closed. session=%s, cleanly=%t, session err=%v, media err=%v, state=%s",
		c.uniqueKey, session.UniqueKey(), session.StoppedCleanly(), sessionErr, err, state)

	if state != model.ConnectionStateStoppedResumable {
		c.finish(state)
		return
	}

	c.mutex.Lock()
	c.state = state
	c.resumeTimer = time.AfterFunc(time.Duration(c.option.ResumeWindowMs)*time.Millisecond, func() {
		c.mutex.Lock()
		if c.state != model.ConnectionStateStoppedResumable {
			c.mutex.Unlock()
			return
		}
		c.resumeTimer = nil
		c.mutex.Unlock()
		Log.Infof("[%s] resume window passed.", c.uniqueKey)
		c.finish(model.ConnectionStateStopped)
	})
	c.mutex.Unlock()

	if err := c.updateConnection(c.ctx, state, time.Now().Add(time.Duration(c.option.ResumeWindowMs)*time.Millisecond)); err != nil {
		Log.Errorf("[%s] update connection error. err=%+v", c.uniqueKey, err)
	}
}

// decideState
//
// 媒体层错误：时间戳回绕和sequence header变化按新的推流处理，其他都是Failed
// 对端正常结束：Stopped
// 网络断开等：StoppedResumable
//
func decideState(cleanly bool, sessionErr error, mediaErr error) model.ConnectionState {
	if mediaErr != nil {
		if errors.Is(mediaErr, base.ErrTimestampWrap) || errors.Is(mediaErr, base.ErrSequenceHeaderChanged) {
			return model.ConnectionStateStopped
		}
		return model.ConnectionStateFailed
	}
	if cleanly || sessionErr == nil {
		return model.ConnectionStateStopped
	}
	switch base.KindOf(sessionErr) {
	case base.KindProtocol, base.KindResourceLimit:
		return model.ConnectionStateFailed
	}
	return model.ConnectionStateStoppedResumable
}

// finish 进入终态：所有manifest标记completed，结束录制，房间下线
func (c *Controller) finish(state model.ConnectionState) {
	c.mutex.Lock()
	if c.finishing {
		c.mutex.Unlock()
		return
	}
	c.finishing = true
	c.state = state
	if c.resumeTimer != nil {
		c.resumeTimer.Stop()
		c.resumeTimer = nil
	}
	c.mutex.Unlock()

	ctx := c.ctx
	if c.screenshots != nil {
		_ = c.screenshots.Wait()
	}
	for _, r := range c.conn.Renditions {
		if err := c.publishers[r].complete(ctx); err != nil {
			Log.Errorf("[%s] complete rendition error. rendition=%s, err=%+v", c.uniqueKey, r, err)
		}
	}

	now := time.Now()
	if err := c.updateConnection(ctx, state, now); err != nil {
		Log.Errorf("[%s] update connection error. err=%+v", c.uniqueKey, err)
	}
	if c.recording != nil {
		if err := c.retry.do(ctx, "end recording", func(ctx context.Context) error {
			return c.repo.EndRecording(ctx, c.recording.ID, now)
		}); err != nil {
			Log.Errorf("[%s] end recording error. err=%+v", c.uniqueKey, err)
		}
	}
	if err := c.retry.do(ctx, "set room offline", func(ctx context.Context) error {
		return c.repo.SetRoomLive(ctx, c.room.ID, model.RoomStatusOffline, nil)
	}); err != nil {
		Log.Errorf("[%s] set room offline error. err=%+v", c.uniqueKey, err)
	}

	c.option.Metrics.IncIngestConnection(string(state))
	Log.Infof("[%s] lifecycle dispose ingest controller. connection=%s, state=%s", c.uniqueKey, c.conn.ID, state)
	c.cancel()
	close(c.done)
	if c.onFinish != nil {
		c.onFinish(c)
	}
}

// shutdown 进程退出时主动结束
func (c *Controller) shutdown() {
	c.mutex.Lock()
	session := c.session
	c.mutex.Unlock()
	if session != nil {
		_ = session.Dispose()
	}
	c.finish(model.ConnectionStateStopped)
}

func (c *Controller) setErr(err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Controller) updateConnection(ctx context.Context, state model.ConnectionState, endedAt time.Time) error {
	return c.retry.do(ctx, "update connection", func(ctx context.Context) error {
		return c.repo.UpdateConnection(ctx, c.conn.ID, state, endedAt)
	})
}

// heartbeat ended_at延长到最新媒体时间之后ConnectionTtlMs
func (c *Controller) heartbeat(mediaSeconds float64) error {
	now := time.Now()
	if now.Sub(c.heartbeatAt) < time.Duration(c.option.HeartbeatIntervalMs)*time.Millisecond {
		return nil
	}
	c.heartbeatAt = now
	endedAt := c.conn.StartedAt.
		Add(time.Duration(mediaSeconds * float64(time.Second))).
		Add(time.Duration(c.option.ConnectionTtlMs) * time.Millisecond)
	return c.updateConnection(c.ctx, model.ConnectionStateRunning, endedAt)
}

func (c *Controller) onRenditionReady(ctx context.Context, r base.Rendition) {
	Log.Infof("[%s] rendition ready. rendition=%s", c.uniqueKey, r)
	c.readyMutex.Lock()
	c.ready[r] = true
	c.readyMutex.Unlock()
	c.checkLive(ctx)
}

// checkLive 所有没有失败的rendition都产生了第一个关键帧之后，房间进入live
func (c *Controller) checkLive(ctx context.Context) {
	c.readyMutex.Lock()
	defer c.readyMutex.Unlock()
	if c.live {
		return
	}
	n := 0
	for r := range c.publishers {
		if c.failed[r] {
			continue
		}
		if !c.ready[r] {
			return
		}
		n++
	}
	if n == 0 {
		return
	}
	c.live = true
	connID := c.conn.ID
	if err := c.retry.do(ctx, "set room live", func(ctx context.Context) error {
		return c.repo.SetRoomLive(ctx, c.room.ID, model.RoomStatusLive, &connID)
	}); err != nil {
		Log.Errorf("[%s] set room live error. err=%+v", c.uniqueKey, err)
		return
	}
	Log.Infof("[%s] room live. room=%s", c.uniqueKey, c.room.ID)
}

// onVideoSegmentClosed 按截图间隔对video_source的segment截图，同一时间最多一个截图任务
func (c *Controller) onVideoSegmentClosed(init []byte, seg *store.Segment, data []byte) {
	if c.screenshots == nil {
		return
	}
	c.screenshotMutex.Lock()
	accept := c.screenshotLimiter.Accept(int64(seg.StartTime * 1000))
	c.screenshotMutex.Unlock()
	if !accept {
		return
	}
	startTime := seg.StartTime
	c.screenshots.TryGo(func() error {
		c.takeScreenshot(init, data, startTime)
		return nil
	})
}

func (c *Controller) takeScreenshot(init []byte, segment []byte, startTime float64) {
	ctx := c.ctx
	jpeg, err := c.option.Screenshotter.Screenshot(ctx, init, segment)
	if err != nil {
		Log.Warnf("[%s] screenshot error. err=%+v", c.uniqueKey, err)
		return
	}

	c.screenshotMutex.Lock()
	idx := c.screenshotIdx
	c.screenshotIdx++
	c.screenshotMutex.Unlock()

	if err := c.put(ctx, c.prefix.Screenshot(idx), jpeg); err != nil {
		Log.Warnf("[%s] put screenshot error. err=%+v", c.uniqueKey, err)
		return
	}
	if c.recording != nil {
		rp := store.RecordingPrefix(c.room.OrganizationID, c.recording.ID)
		key := rp.Screenshot(idx)
		if err := c.put(ctx, key, jpeg); err != nil {
			Log.Warnf("[%s] put recording thumbnail error. err=%+v", c.uniqueKey, err)
			return
		}
		th := &model.RecordingThumbnail{RecordingID: c.recording.ID, Idx: idx, StartTime: startTime, ObjectKey: key}
		if err := c.retry.do(ctx, "save recording thumbnail", func(ctx context.Context) error {
			return c.repo.SaveRecordingThumbnail(ctx, th)
		}); err != nil {
			Log.Warnf("[%s] save recording thumbnail error. err=%+v", c.uniqueKey, err)
		}
	}
	v := []byte(strconv.FormatUint(uint64(idx), 10))
	if err := c.retry.do(ctx, "set screenshot idx", func(ctx context.Context) error {
		return c.kv.Set(ctx, c.prefix.ScreenshotIdx(), v)
	}); err != nil {
		Log.Warnf("[%s] set screenshot idx error. err=%+v", c.uniqueKey, err)
	}
}

func (c *Controller) put(ctx context.Context, key string, data []byte) error {
	return c.retry.do(ctx, "put "+key, func(ctx context.Context) error {
		return c.objects.Put(ctx, key, data)
	})
}

func (c *Controller) partTargetMs(r base.Rendition) int {
	if r.IsAudio() {
		return c.option.AudioPartTargetMs
	}
	return c.option.PartTargetMs
}

func (c *Controller) setRenditionInfo(info store.RenditionInfo) {
	c.infoMutex.Lock()
	defer c.infoMutex.Unlock()
	c.infos[info.Rendition] = info
}

func (c *Controller) removeRenditionInfo(r base.Rendition) {
	c.infoMutex.Lock()
	defer c.infoMutex.Unlock()
	delete(c.infos, r)
}

// renditionInfos 已经发布init并且没有失败的rendition，按rendition顺序
func (c *Controller) renditionInfos() []store.RenditionInfo {
	c.infoMutex.Lock()
	defer c.infoMutex.Unlock()
	out := make([]store.RenditionInfo, 0, len(c.infos))
	for _, info := range c.infos {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Rendition.Order() < out[j].Rendition.Order()
	})
	return out
}

func hasSource(rs []base.Rendition) bool {
	for _, r := range rs {
		if r.IsSource() {
			return true
		}
	}
	return false
}

func containsRendition(rs []base.Rendition, r base.Rendition) bool {
	for _, v := range rs {
		if v == r {
			return true
		}
	}
	return false
}
