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
	"io"
	"math"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/innertest"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/rtmp"
	"github.com/q191201771/lallive/pkg/store"
	"github.com/q191201771/lallive/pkg/transcode"
	"github.com/q191201771/lallive/pkg/transmux"
	"github.com/q191201771/naza/pkg/assert"
)

func TestParseStreamKey(t *testing.T) {
	id := uuid.MustParse("5b9a0c1e-7f3d-4c2a-9e8b-1a2b3c4d5e6f")
	k, err := ParseStreamKey("live_5b9a0c1e7f3d4c2a9e8b1a2b3c4d5e6f_s3cr_et?foo=bar")
	assert.Equal(t, nil, err)
	assert.Equal(t, id, k.RoomID)
	assert.Equal(t, "s3cr_et", k.Secret)
	assert.Equal(t, true, k.Match("s3cr_et"))
	assert.Equal(t, false, k.Match("s3cr"))
	assert.Equal(t, "live_5b9a0c1e7f3d4c2a9e8b1a2b3c4d5e6f_s3cr_et", k.String())

	for _, s := range []string{
		"",
		"live_",
		"vod_5b9a0c1e7f3d4c2a9e8b1a2b3c4d5e6f_s",
		"live_5b9a0c1e7f3d4c2a9e8b1a2b3c4d5e6f",
		"live_5b9a0c1e7f3d4c2a9e8b1a2b3c4d5e6f_",
		"live_5b9a0c1e_s",
		"live_zz9a0c1e7f3d4c2a9e8b1a2b3c4d5e6f_s",
	} {
		_, err := ParseStreamKey(s)
		assert.Equal(t, true, errors.Is(err, base.ErrInvalidStreamKey), s)
		assert.Equal(t, base.KindAuth, base.KindOf(err))
	}
}

func TestRetrier(t *testing.T) {
	ctx := context.Background()
	r := &retrier{uniqueKey: "TEST", attempts: 3, timeout: time.Second}

	n := 0
	err := r.do(ctx, "flaky", func(ctx context.Context) error {
		n++
		if n < 3 {
			return base.WrapUpstream(io.ErrUnexpectedEOF, "flaky")
		}
		return nil
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, n)

	n = 0
	err = r.do(ctx, "down", func(ctx context.Context) error {
		n++
		return io.ErrClosedPipe
	})
	assert.Equal(t, 3, n)
	assert.Equal(t, base.KindUpstream, base.KindOf(err))

	// NotFound不重试
	n = 0
	err = r.do(ctx, "missing", func(ctx context.Context) error {
		n++
		return base.ErrRoomNotFound
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, true, errors.Is(err, base.ErrRoomNotFound))
}

func TestDecideState(t *testing.T) {
	assert.Equal(t, model.ConnectionStateStopped, decideState(true, nil, nil))
	assert.Equal(t, model.ConnectionStateStopped, decideState(false, nil, nil))
	assert.Equal(t, model.ConnectionStateStoppedResumable, decideState(false, io.EOF, nil))
	assert.Equal(t, model.ConnectionStateFailed, decideState(false, base.ErrRtmpPayloadTooLarge, nil))
	assert.Equal(t, model.ConnectionStateFailed, decideState(false, io.EOF, base.ErrSourceFailed))
	assert.Equal(t, model.ConnectionStateStopped, decideState(false, io.EOF, fmt.Errorf("%w. ts=1", base.ErrTimestampWrap)))
}

// ---------------------------------------------------------------------------------------------------------------------

type testEnv struct {
	t       *testing.T
	repo    *model.MemoryRepository
	kv      *store.MemoryKV
	objects store.ObjectStore
	manager *Manager
	server  *rtmp.Server
	room    model.Room
	key     StreamKey
}

func newTestEnv(t *testing.T, modRoom func(room *model.Room), modOptions ...ModOption) *testEnv {
	ctx := context.Background()
	env := &testEnv{
		t:       t,
		repo:    model.NewMemoryRepository(),
		kv:      store.NewMemoryKV(),
		objects: store.NewMemoryObjectStore(),
	}
	org := model.Organization{ID: uuid.New(), Name: "org"}
	env.room = model.Room{
		ID:             uuid.New(),
		OrganizationID: org.ID,
		Name:           "room",
		StreamKey:      "secret",
		Status:         model.RoomStatusOffline,
		Visibility:     model.VisibilityPublic,
	}
	if modRoom != nil {
		modRoom(&env.room)
	}
	assert.Equal(t, nil, env.repo.CreateOrganization(ctx, &org))
	assert.Equal(t, nil, env.repo.CreateRoom(ctx, &env.room))
	assert.Equal(t, nil, env.repo.GrantPermission(ctx, &model.Permission{OrganizationID: org.ID, GoLive: true}))
	env.key = StreamKey{RoomID: env.room.ID, Secret: env.room.StreamKey}

	modOptions = append([]ModOption{func(option *Option) {
		option.ScreenshotIntervalMs = 0
		option.UpstreamAttempts = 2
	}}, modOptions...)
	env.manager = NewManager(env.repo, env.kv, env.objects, modOptions...)
	env.server = rtmp.NewServer(env.manager, "127.0.0.1:0")
	assert.Equal(t, nil, env.server.Listen())
	go env.server.RunLoop()
	return env
}

func (env *testEnv) dispose() {
	env.server.Dispose()
	env.manager.Dispose()
}

func (env *testEnv) push(streamName string, opt innertest.StreamOption) (*rtmp.PushSession, error) {
	ps := rtmp.NewPushSession()
	if err := ps.Push(fmt.Sprintf("rtmp://%s/live/%s", env.server.Addr().String(), streamName)); err != nil {
		return nil, err
	}
	for _, tag := range innertest.GenAvcAacTags(opt) {
		if err := ps.WriteMsg(innertest.ToRtmpMsg(tag)); err != nil {
			return nil, err
		}
	}
	return ps, nil
}

func (env *testEnv) manifest(prefix store.KeyPrefix, r base.Rendition) *store.Manifest {
	b, err := env.kv.Get(context.Background(), prefix.Manifest(r))
	assert.Equal(env.t, nil, err)
	m, err := store.DecodeManifest(b)
	assert.Equal(env.t, nil, err)
	return m
}

func (env *testEnv) getRoom() *model.Room {
	r, err := env.repo.GetRoom(context.Background(), env.room.ID)
	assert.Equal(env.t, nil, err)
	return r
}

func (env *testEnv) connState(id uuid.UUID) model.ConnectionState {
	c, err := env.repo.GetConnection(context.Background(), id)
	assert.Equal(env.t, nil, err)
	return c.State
}

func waitFor(t *testing.T, what string, cond func() bool) {
	for i := 0; i < 500; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("wait timeout. what=%s", what)
}

func waitDone(t *testing.T, c *Controller) {
	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("controller not done. state=%s", c.State())
	}
}

// checkDense part和segment序号从0开始连续，每个part的对象都存在
func checkDense(t *testing.T, env *testEnv, prefix store.KeyPrefix, r base.Rendition, m *store.Manifest) {
	ctx := context.Background()
	var nextPart, nextSeg uint32
	for _, seg := range m.Segments {
		assert.Equal(t, nextSeg, seg.Idx)
		nextSeg++
		assert.Equal(t, true, len(seg.Parts) > 0)
		for _, p := range seg.Parts {
			assert.Equal(t, nextPart, p.Idx)
			nextPart++
			ok, err := env.objects.Exists(ctx, prefix.Part(r, p.Idx))
			assert.Equal(t, nil, err)
			assert.Equal(t, true, ok)
		}
	}
	assert.Equal(t, m.NextPartIdx, nextPart)
	assert.Equal(t, m.NextSegmentIdx, nextSeg)
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 0.05
}

type fakeScreenshotter struct{}

func (fakeScreenshotter) Screenshot(ctx context.Context, init []byte, segment []byte) ([]byte, error) {
	return []byte("jpeg"), nil
}

func TestController_HappyLive(t *testing.T) {
	env := newTestEnv(t, func(room *model.Room) {
		room.RecordingConfig = &model.RecordingConfig{}
	}, func(option *Option) {
		option.ScreenshotIntervalMs = 5000
		option.Screenshotter = fakeScreenshotter{}
	})
	defer env.dispose()
	ctx := context.Background()

	opt := innertest.DefaultStreamOption
	opt.DurationMs = 10000
	ps, err := env.push(env.key.String(), opt)
	assert.Equal(t, nil, err)
	defer ps.Dispose()

	c := env.manager.Controller(env.room.ID)
	assert.IsNotNil(t, c)
	prefix := c.Prefix()
	waitFor(t, "room live", func() bool {
		return env.getRoom().Status == model.RoomStatusLive
	})
	assert.Equal(t, c.ConnectionID(), *env.getRoom().ActiveIngestConnectionID)

	assert.Equal(t, nil, ps.Unpublish())
	waitDone(t, c)

	assert.Equal(t, model.ConnectionStateStopped, env.connState(c.ConnectionID()))
	assert.Equal(t, model.RoomStatusOffline, env.getRoom().Status)
	assert.Equal(t, 0, env.manager.Count())

	vm := env.manifest(prefix, base.RenditionVideoSource)
	assert.Equal(t, true, vm.Completed)
	assert.Equal(t, true, vm.InitReady)
	assert.Equal(t, true, vm.NextPartIdx >= 40)
	assert.Equal(t, uint32(5), vm.NextSegmentIdx)
	checkDense(t, env, prefix, base.RenditionVideoSource, vm)
	for _, seg := range vm.Segments {
		assert.Equal(t, true, seg.Parts[0].Independent)
		assert.Equal(t, true, seg.Closed)
		assert.Equal(t, true, seg.Duration <= 2.0001)
	}
	assert.Equal(t, 0.0, vm.Segments[0].StartTime)
	assert.Equal(t, true, near(vm.Segments[1].StartTime, 2.0))
	for i := 1; i < len(vm.Segments[0].Parts); i++ {
		assert.Equal(t, false, vm.Segments[0].Parts[i].Independent)
		assert.Equal(t, true, vm.Segments[0].Parts[i].Duration <= 0.25)
	}
	assert.Equal(t, 2, len(vm.Renditions))
	assert.Equal(t, base.RenditionVideoSource, vm.Renditions[0].Rendition)
	assert.Equal(t, "avc1.42c01f", vm.Renditions[0].Codecs)
	assert.Equal(t, uint32(1280), vm.Renditions[0].Width)

	am := env.manifest(prefix, base.RenditionAudioSource)
	assert.Equal(t, true, am.Completed)
	assert.Equal(t, true, am.NextPartIdx >= 40)
	checkDense(t, env, prefix, base.RenditionAudioSource, am)
	for _, seg := range am.Segments {
		for _, p := range seg.Parts {
			assert.Equal(t, true, p.Independent)
		}
	}

	init, err := env.objects.Get(ctx, prefix.Init(base.RenditionVideoSource))
	assert.Equal(t, nil, err)
	assert.Equal(t, true, len(init) > 0)

	// 录制：segment对象是part的拼接，写在录制前缀下
	room := env.getRoom()
	assert.Equal(t, true, room.ActiveIngestConnectionID == nil)
	rec := c.recording
	assert.IsNotNil(t, rec)
	gotRec, err := env.repo.GetRecording(ctx, rec.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, gotRec.Ended)
	segs, err := env.repo.ListRecordingSegments(ctx, rec.ID)
	assert.Equal(t, nil, err)
	assert.Equal(t, int(vm.NextSegmentIdx+am.NextSegmentIdx), len(segs))
	rp := store.RecordingPrefix(env.room.OrganizationID, rec.ID)
	assert.Equal(t, rp.Segment(base.RenditionVideoSource, 0), segs[0].ObjectKey)
	assert.Equal(t, string(rp)+"/rendition/video_source", vm.DvrPrefix)
	seg0, err := env.objects.Get(ctx, segs[0].ObjectKey)
	assert.Equal(t, nil, err)
	var concat []byte
	for _, p := range vm.Segments[0].Parts {
		b, err := env.objects.Get(ctx, prefix.Part(base.RenditionVideoSource, p.Idx))
		assert.Equal(t, nil, err)
		concat = append(concat, b...)
	}
	assert.Equal(t, concat, seg0)
	_, err = env.objects.Get(ctx, rp.Init(base.RenditionVideoSource))
	assert.Equal(t, nil, err)

	// 截图
	b, err := env.kv.Get(ctx, prefix.ScreenshotIdx())
	assert.Equal(t, nil, err)
	idx, _ := strconv.Atoi(string(b))
	jpeg, err := env.objects.Get(ctx, prefix.Screenshot(uint32(idx)))
	assert.Equal(t, nil, err)
	assert.Equal(t, []byte("jpeg"), jpeg)
	_, err = env.objects.Get(ctx, rp.Screenshot(0))
	assert.Equal(t, nil, err)
}

// gop比segment目标时长更长时，视频segment只在关键帧结束，纯音频按目标时长结束
func TestController_LongGop(t *testing.T) {
	env := newTestEnv(t, nil)
	defer env.dispose()

	opt := innertest.DefaultStreamOption
	opt.DurationMs = 6000
	opt.GopMs = 3000
	ps, err := env.push(env.key.String(), opt)
	assert.Equal(t, nil, err)
	defer ps.Dispose()

	c := env.manager.Controller(env.room.ID)
	assert.IsNotNil(t, c)
	prefix := c.Prefix()
	waitFor(t, "room live", func() bool {
		return env.getRoom().Status == model.RoomStatusLive
	})
	assert.Equal(t, nil, ps.Unpublish())
	waitDone(t, c)

	vm := env.manifest(prefix, base.RenditionVideoSource)
	checkDense(t, env, prefix, base.RenditionVideoSource, vm)
	assert.Equal(t, uint32(2), vm.NextSegmentIdx)
	assert.Equal(t, true, near(vm.Segments[0].Duration, 3.0))
	assert.Equal(t, true, near(vm.Segments[1].StartTime, 3.0))
	for _, seg := range vm.Segments {
		assert.Equal(t, true, seg.Parts[0].Independent)
		for i := 1; i < len(seg.Parts); i++ {
			assert.Equal(t, false, seg.Parts[i].Independent)
		}
	}

	am := env.manifest(prefix, base.RenditionAudioSource)
	checkDense(t, env, prefix, base.RenditionAudioSource, am)
	assert.Equal(t, true, am.NextSegmentIdx >= 3)
	for _, seg := range am.Segments {
		assert.Equal(t, true, seg.Duration <= 2.0001)
	}
}

func TestController_BadStreamKey(t *testing.T) {
	env := newTestEnv(t, nil)
	defer env.dispose()

	bad := env.key
	bad.Secret = "wrong"
	_, err := env.push(bad.String(), innertest.DefaultStreamOption)
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))

	_, err = env.push("live_nothex", innertest.DefaultStreamOption)
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))

	unknown := StreamKey{RoomID: uuid.New(), Secret: "secret"}
	_, err = env.push(unknown.String(), innertest.DefaultStreamOption)
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))

	assert.Equal(t, 0, env.manager.Count())
	room := env.getRoom()
	assert.Equal(t, model.RoomStatusOffline, room.Status)
	assert.Equal(t, true, room.ActiveIngestConnectionID == nil)
}

func TestController_NoGoLive(t *testing.T) {
	ctx := context.Background()
	repo := model.NewMemoryRepository()
	room := model.Room{ID: uuid.New(), OrganizationID: uuid.New(), StreamKey: "secret"}
	assert.Equal(t, nil, repo.CreateRoom(ctx, &room))
	m := NewManager(repo, store.NewMemoryKV(), store.NewMemoryObjectStore())
	server := rtmp.NewServer(m, "127.0.0.1:0")
	assert.Equal(t, nil, server.Listen())
	go server.RunLoop()
	defer server.Dispose()

	ps := rtmp.NewPushSession()
	err := ps.Push(fmt.Sprintf("rtmp://%s/live/%s", server.Addr().String(), StreamKey{RoomID: room.ID, Secret: "secret"}))
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))
	assert.Equal(t, 0, m.Count())
}

func TestController_Resume(t *testing.T) {
	env := newTestEnv(t, nil, func(option *Option) {
		option.ResumeWindowMs = 3000
	})
	defer env.dispose()

	opt := innertest.DefaultStreamOption
	opt.DurationMs = 3000
	ps, err := env.push(env.key.String(), opt)
	assert.Equal(t, nil, err)
	c := env.manager.Controller(env.room.ID)
	connID := c.ConnectionID()
	waitFor(t, "room live", func() bool {
		return env.getRoom().Status == model.RoomStatusLive
	})

	// 非正常断开
	_ = ps.Dispose()
	waitFor(t, "resumable", func() bool {
		return c.State() == model.ConnectionStateStoppedResumable
	})
	assert.Equal(t, model.ConnectionStateStoppedResumable, env.connState(connID))

	// 正在运行的connection不能被抢占
	ps, err = env.push(env.key.String(), opt)
	assert.Equal(t, nil, err)
	defer ps.Dispose()
	assert.Equal(t, c, env.manager.Controller(env.room.ID))
	assert.Equal(t, model.ConnectionStateRunning, c.State())
	assert.Equal(t, connID, *env.getRoom().ActiveIngestConnectionID)

	other := rtmp.NewPushSession()
	err = other.Push(fmt.Sprintf("rtmp://%s/live/%s", env.server.Addr().String(), env.key))
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))
	_ = other.Dispose()

	assert.Equal(t, nil, ps.Unpublish())
	waitDone(t, c)
	assert.Equal(t, model.ConnectionStateStopped, env.connState(connID))

	m := env.manifest(c.Prefix(), base.RenditionVideoSource)
	assert.Equal(t, true, m.Completed)
	checkDense(t, env, c.Prefix(), base.RenditionVideoSource, m)
	// 0-2 2-3 3-5 5-6
	assert.Equal(t, uint32(4), m.NextSegmentIdx)
	assert.Equal(t, true, near(m.Segments[2].StartTime, 3.0))
	for i := 1; i < len(m.Segments); i++ {
		prev := m.Segments[i-1]
		assert.Equal(t, true, prev.StartTime+prev.Duration-m.Segments[i].StartTime < 0.001)
	}

	am := env.manifest(c.Prefix(), base.RenditionAudioSource)
	checkDense(t, env, c.Prefix(), base.RenditionAudioSource, am)
}

func TestController_ResumeWindowPassed(t *testing.T) {
	env := newTestEnv(t, nil, func(option *Option) {
		option.ResumeWindowMs = 100
	})
	defer env.dispose()

	ps, err := env.push(env.key.String(), innertest.DefaultStreamOption)
	assert.Equal(t, nil, err)
	c := env.manager.Controller(env.room.ID)
	_ = ps.Dispose()
	waitDone(t, c)
	assert.Equal(t, model.ConnectionStateStopped, env.connState(c.ConnectionID()))
	assert.Equal(t, true, env.manifest(c.Prefix(), base.RenditionVideoSource).Completed)

	// 新的推流创建新的connection
	ps, err = env.push(env.key.String(), innertest.DefaultStreamOption)
	assert.Equal(t, nil, err)
	defer ps.Dispose()
	c2 := env.manager.Controller(env.room.ID)
	assert.Equal(t, false, c.ConnectionID() == c2.ConnectionID())
}

// fakeTranscoder 视频target直接转发源的视频track，failRendition初始化失败
type fakeTranscoder struct {
	sink          transcode.Sink
	targets       []transcode.Target
	failRendition base.Rendition
	running       []base.Rendition
}

func (f *fakeTranscoder) UniqueKey() string {
	return "FAKE"
}

func (f *fakeTranscoder) Renditions() []base.Rendition {
	var out []base.Rendition
	for _, t := range f.targets {
		out = append(out, t.Rendition)
	}
	return out
}

func (f *fakeTranscoder) Start(ctx context.Context, init *transmux.InitSegment) error {
	for _, t := range f.targets {
		if t.Rendition == f.failRendition {
			f.sink.OnTrackFailed(t.Rendition, base.ErrTranscodeInit)
			continue
		}
		if t.Video == nil {
			continue
		}
		if err := f.sink.OnTrackInit(t.Rendition, &transcode.TrackInit{
			Raw:       init.Video,
			TrackId:   uint32(transmux.TrackVideo),
			Timescale: init.VideoTimescale,
			Codecs:    init.VideoCodec.CodecString(),
			Width:     t.Video.Width,
			Height:    t.Video.Height,
			Fps:       t.Video.Fps,
			Bandwidth: t.Bandwidth(),
		}); err != nil {
			return err
		}
		f.running = append(f.running, t.Rendition)
	}
	return nil
}

func (f *fakeTranscoder) WriteFragment(frag *transmux.Fragment) error {
	if frag.Track != transmux.TrackVideo {
		return nil
	}
	for _, r := range f.running {
		if err := f.sink.OnTrackFragment(r, &transcode.TrackFragment{
			Raw:        frag.TrackData,
			TrackId:    uint32(frag.Track),
			DecodeTime: frag.DecodeTime,
			Duration:   uint64(frag.Duration),
			Timescale:  frag.Timescale,
			Keyframe:   frag.Keyframe,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeTranscoder) Close() error {
	return nil
}

func TestController_TranscoderPartialFailure(t *testing.T) {
	env := newTestEnv(t, func(room *model.Room) {
		room.TranscodingConfig = &model.TranscodingConfig{
			Renditions: []base.Rendition{base.RenditionVideoHd, base.RenditionVideoSd},
		}
	}, func(option *Option) {
		option.Upscale = transcode.UpscaleYes
		option.TranscoderFactory = func(sink transcode.Sink, targets []transcode.Target) transcode.Transcoder {
			return &fakeTranscoder{sink: sink, targets: targets, failRendition: base.RenditionVideoHd}
		}
	})
	defer env.dispose()

	opt := innertest.DefaultStreamOption
	opt.DurationMs = 3000
	ps, err := env.push(env.key.String(), opt)
	assert.Equal(t, nil, err)
	defer ps.Dispose()
	c := env.manager.Controller(env.room.ID)
	prefix := c.Prefix()

	waitFor(t, "room live", func() bool {
		return env.getRoom().Status == model.RoomStatusLive
	})

	// hd从失败开始就是completed，没有任何part
	hd := env.manifest(prefix, base.RenditionVideoHd)
	assert.Equal(t, true, hd.Completed)
	assert.Equal(t, uint32(0), hd.NextPartIdx)
	hdRaw, err := env.kv.Get(context.Background(), prefix.Manifest(base.RenditionVideoHd))
	assert.Equal(t, nil, err)

	waitFor(t, "source parts", func() bool {
		return env.manifest(prefix, base.RenditionVideoSource).NextPartIdx > 4
	})
	src := env.manifest(prefix, base.RenditionVideoSource)
	assert.Equal(t, false, src.Completed)
	for _, info := range src.Renditions {
		assert.Equal(t, false, info.Rendition == base.RenditionVideoHd)
	}

	assert.Equal(t, nil, ps.Unpublish())
	waitDone(t, c)
	assert.Equal(t, model.ConnectionStateStopped, env.connState(c.ConnectionID()))

	src = env.manifest(prefix, base.RenditionVideoSource)
	sd := env.manifest(prefix, base.RenditionVideoSd)
	assert.Equal(t, true, src.Completed)
	assert.Equal(t, src.NextPartIdx, sd.NextPartIdx)
	checkDense(t, env, prefix, base.RenditionVideoSd, sd)
	// 已经completed的manifest在连接结束时不会被重写
	b, err := env.kv.Get(context.Background(), prefix.Manifest(base.RenditionVideoHd))
	assert.Equal(t, nil, err)
	assert.Equal(t, hdRaw, b)
	assert.Equal(t, 3, len(src.Renditions))
	assert.Equal(t, base.RenditionVideoSd, src.Renditions[1].Rendition)
	assert.Equal(t, uint32(854), src.Renditions[1].Width)
}
