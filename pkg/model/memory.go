// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package model

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
)

// MemoryRepository 进程内实现，单机部署和测试使用，生产环境使用GormRepository
//
// 读出的行都是拷贝，修改它们不会影响存储
//
type MemoryRepository struct {
	mutex sync.Mutex

	orgs        map[uuid.UUID]Organization
	rooms       map[uuid.UUID]Room
	permissions []Permission
	conns       map[uuid.UUID]Connection
	recordings  map[uuid.UUID]Recording
	segments    map[uuid.UUID]map[segmentKey]RecordingSegment
	thumbnails  map[uuid.UUID]map[uint32]RecordingThumbnail
	keyPairs    map[uuid.UUID]PlaybackKeyPair
	sessions    map[uuid.UUID]PlaybackSession
	revocations []Revocation
}

type segmentKey struct {
	rendition base.Rendition
	idx       uint32
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		orgs:       make(map[uuid.UUID]Organization),
		rooms:      make(map[uuid.UUID]Room),
		conns:      make(map[uuid.UUID]Connection),
		recordings: make(map[uuid.UUID]Recording),
		segments:   make(map[uuid.UUID]map[segmentKey]RecordingSegment),
		thumbnails: make(map[uuid.UUID]map[uint32]RecordingThumbnail),
		keyPairs:   make(map[uuid.UUID]PlaybackKeyPair),
		sessions:   make(map[uuid.UUID]PlaybackSession),
	}
}

func (m *MemoryRepository) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return nil, fmt.Errorf("%w. id=%s", base.ErrRoomNotFound, id)
	}
	return &r, nil
}

func (m *MemoryRepository) SetRoomLive(ctx context.Context, id uuid.UUID, status RoomStatus, connID *uuid.UUID) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.rooms[id]
	if !ok {
		return fmt.Errorf("%w. id=%s", base.ErrRoomNotFound, id)
	}
	r.Status = status
	r.ActiveIngestConnectionID = copyUUID(connID)
	now := time.Now()
	if status == RoomStatusLive {
		r.LastLiveAt = &now
	}
	r.UpdatedAt = now
	m.rooms[id] = r
	return nil
}

func (m *MemoryRepository) CanGoLive(ctx context.Context, orgID, roomID uuid.UUID) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	for _, p := range m.permissions {
		if p.OrganizationID == orgID && (p.RoomID == uuid.Nil || p.RoomID == roomID) && p.GoLive {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryRepository) CreateConnection(ctx context.Context, c *Connection) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	cc := *c
	cc.Renditions = append(cc.Renditions[:0:0], c.Renditions...)
	m.conns[c.ID] = cc
	return nil
}

func (m *MemoryRepository) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return nil, fmt.Errorf("%w. id=%s", base.ErrConnectionNotFound, id)
	}
	return &c, nil
}

func (m *MemoryRepository) UpdateConnection(ctx context.Context, id uuid.UUID, state ConnectionState, endedAt time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	c, ok := m.conns[id]
	if !ok {
		return fmt.Errorf("%w. id=%s", base.ErrConnectionNotFound, id)
	}
	c.State = state
	c.EndedAt = endedAt
	m.conns[id] = c
	return nil
}

func (m *MemoryRepository) CreateRecording(ctx context.Context, r *Recording) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.recordings[r.ID] = *r
	return nil
}

func (m *MemoryRepository) GetRecording(ctx context.Context, id uuid.UUID) (*Recording, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.recordings[id]
	if !ok || r.Deleted {
		return nil, fmt.Errorf("%w. id=%s", base.ErrRecordingNotFound, id)
	}
	return &r, nil
}

func (m *MemoryRepository) EndRecording(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r, ok := m.recordings[id]
	if !ok {
		return fmt.Errorf("%w. id=%s", base.ErrRecordingNotFound, id)
	}
	r.Ended = true
	r.EndedAt = endedAt
	m.recordings[id] = r
	return nil
}

func (m *MemoryRepository) SaveRecordingSegment(ctx context.Context, s *RecordingSegment) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.segments[s.RecordingID] == nil {
		m.segments[s.RecordingID] = make(map[segmentKey]RecordingSegment)
	}
	m.segments[s.RecordingID][segmentKey{s.Rendition, s.Idx}] = *s
	return nil
}

// ListRecordingSegments 按rendition、idx排序
func (m *MemoryRepository) ListRecordingSegments(ctx context.Context, recordingID uuid.UUID) ([]RecordingSegment, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	out := make([]RecordingSegment, 0, len(m.segments[recordingID]))
	for _, s := range m.segments[recordingID] {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rendition != out[j].Rendition {
			return out[i].Rendition.Order() < out[j].Rendition.Order()
		}
		return out[i].Idx < out[j].Idx
	})
	return out, nil
}

func (m *MemoryRepository) SaveRecordingThumbnail(ctx context.Context, t *RecordingThumbnail) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.thumbnails[t.RecordingID] == nil {
		m.thumbnails[t.RecordingID] = make(map[uint32]RecordingThumbnail)
	}
	m.thumbnails[t.RecordingID][t.Idx] = *t
	return nil
}

func (m *MemoryRepository) GetPlaybackKeyPair(ctx context.Context, orgID, id uuid.UUID) (*PlaybackKeyPair, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	k, ok := m.keyPairs[id]
	if !ok || k.OrganizationID != orgID {
		return nil, fmt.Errorf("%w. org=%s, id=%s", base.ErrKeyPairNotFound, orgID, id)
	}
	return &k, nil
}

func (m *MemoryRepository) CreatePlaybackSession(ctx context.Context, s *PlaybackSession) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *MemoryRepository) GetPlaybackSession(ctx context.Context, id uuid.UUID) (*PlaybackSession, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w. id=%s", base.ErrSessionNotFound, id)
	}
	return &s, nil
}

func (m *MemoryRepository) RefreshPlaybackSession(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("%w. id=%s", base.ErrSessionNotFound, id)
	}
	s.ExpiresAt = expiresAt
	m.sessions[id] = s
	return nil
}

func (m *MemoryRepository) ListRevocations(ctx context.Context, orgID, target uuid.UUID) ([]Revocation, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	var out []Revocation
	for _, r := range m.revocations {
		if r.OrganizationID != orgID {
			continue
		}
		if r.RoomID != nil && *r.RoomID != target {
			continue
		}
		if r.RecordingID != nil && *r.RecordingID != target {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// ----- Seeder --------------------------------------------------------------------------------------------------------

func (m *MemoryRepository) CreateOrganization(ctx context.Context, o *Organization) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.orgs[o.ID] = *o
	return nil
}

func (m *MemoryRepository) CreateRoom(ctx context.Context, r *Room) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.rooms[r.ID] = *r
	return nil
}

func (m *MemoryRepository) GrantPermission(ctx context.Context, p *Permission) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	p.ID = uint(len(m.permissions) + 1)
	m.permissions = append(m.permissions, *p)
	return nil
}

func (m *MemoryRepository) CreatePlaybackKeyPair(ctx context.Context, k *PlaybackKeyPair) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.keyPairs[k.ID] = *k
	return nil
}

func (m *MemoryRepository) CreateRevocation(ctx context.Context, r *Revocation) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	r.ID = uint(len(m.revocations) + 1)
	m.revocations = append(m.revocations, *r)
	return nil
}

func copyUUID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
