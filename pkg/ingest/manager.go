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
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/rtmp"
	"github.com/q191201771/lallive/pkg/store"
)

var _ rtmp.ServerObserver = &Manager{}

// Manager 所有ingest controller，按房间id索引
//
// 实现 rtmp.ServerObserver，publish信令在这里鉴权
//
type Manager struct {
	option  Option
	repo    model.Repository
	kv      store.KV
	objects store.ObjectStore

	mutex       sync.Mutex
	controllers map[uuid.UUID]*Controller // key: room id
	sessions    map[string]*Controller    // key: rtmp session unique key
}

func NewManager(repo model.Repository, kv store.KV, objects store.ObjectStore, modOptions ...ModOption) *Manager {
	option := defaultOption
	for _, fn := range modOptions {
		fn(&option)
	}
	return &Manager{
		option:      option,
		repo:        repo,
		kv:          kv,
		objects:     objects,
		controllers: make(map[uuid.UUID]*Controller),
		sessions:    make(map[string]*Controller),
	}
}

// ----- rtmp.ServerObserver -------------------------------------------------------------------------------------------

func (m *Manager) OnNewRtmpPubSession(session *rtmp.ServerSession) error {
	Log.Infof("[%s] OnNewRtmpPubSession. app=%s, remote=%s", session.UniqueKey(), session.AppName(), session.RemoteAddr())
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(m.option.UpstreamTimeoutMs)*time.Millisecond)
	defer cancel()

	c, err := m.accept(ctx, session)
	if err != nil {
		Log.Warnf("[%s] reject publish. err=%+v", session.UniqueKey(), err)
		return err
	}

	m.mutex.Lock()
	m.sessions[session.UniqueKey()] = c
	m.mutex.Unlock()
	m.option.Metrics.IncRtmpSessions()
	return nil
}

func (m *Manager) OnDelRtmpPubSession(session *rtmp.ServerSession, err error) {
	m.mutex.Lock()
	c, ok := m.sessions[session.UniqueKey()]
	delete(m.sessions, session.UniqueKey())
	m.mutex.Unlock()
	if !ok {
		return
	}
	m.option.Metrics.DecRtmpSessions()
	c.onSessionClosed(session, err)
}

// ---------------------------------------------------------------------------------------------------------------------

// accept 鉴权，然后创建新的controller或者接管可恢复的controller
func (m *Manager) accept(ctx context.Context, session *rtmp.ServerSession) (*Controller, error) {
	key, err := ParseStreamKey(session.StreamName())
	if err != nil {
		return nil, err
	}
	room, err := m.repo.GetRoom(ctx, key.RoomID)
	if err != nil {
		return nil, err
	}
	if !key.Match(room.StreamKey) {
		return nil, fmt.Errorf("%w. room=%s", base.ErrStreamKeyMismatch, room.ID)
	}
	ok, err := m.repo.CanGoLive(ctx, room.OrganizationID, room.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w. organization=%s, room=%s", base.ErrNoGoLive, room.OrganizationID, room.ID)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if c, ok := m.controllers[room.ID]; ok {
		if err := c.adopt(ctx, session); err != nil {
			return nil, err
		}
		return c, nil
	}

	// 其他节点上还有没有过期的connection
	if room.ActiveIngestConnectionID != nil {
		conn, err := m.repo.GetConnection(ctx, *room.ActiveIngestConnectionID)
		if err == nil && !conn.State.IsTerminal() && conn.EndedAt.After(time.Now()) {
			return nil, fmt.Errorf("%w. room=%s, connection=%s, state=%s", base.ErrRoomBusy, room.ID, conn.ID, conn.State)
		}
	}

	c, err := newController(ctx, m.option, m.repo, m.kv, m.objects, room, m.onControllerFinish)
	if err != nil {
		return nil, err
	}
	m.controllers[room.ID] = c
	c.attach(session)
	return c, nil
}

func (m *Manager) onControllerFinish(c *Controller) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.controllers[c.room.ID] == c {
		delete(m.controllers, c.room.ID)
	}
}

// Controller 房间当前的controller，没有时返回nil
func (m *Manager) Controller(roomID uuid.UUID) *Controller {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.controllers[roomID]
}

func (m *Manager) Count() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.controllers)
}

// Dispose 结束所有controller
func (m *Manager) Dispose() {
	m.mutex.Lock()
	cs := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		cs = append(cs, c)
	}
	m.mutex.Unlock()
	for _, c := range cs {
		c.shutdown()
	}
}
