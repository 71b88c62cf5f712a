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
	"time"

	"github.com/google/uuid"
)

// Repository 媒体链路对关系型存储的全部访问，每个方法是一个短事务
//
// 未找到时返回base中对应的NotFound错误，其他错误都是Upstream
//
type Repository interface {
	GetRoom(ctx context.Context, id uuid.UUID) (*Room, error)

	// SetRoomLive 更新房间状态和当前的ingest连接，connID为nil表示清空
	SetRoomLive(ctx context.Context, id uuid.UUID, status RoomStatus, connID *uuid.UUID) error

	// CanGoLive 组织是否有房间的开播权限
	CanGoLive(ctx context.Context, orgID, roomID uuid.UUID) (bool, error)

	CreateConnection(ctx context.Context, c *Connection) error
	GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error)
	UpdateConnection(ctx context.Context, id uuid.UUID, state ConnectionState, endedAt time.Time) error

	CreateRecording(ctx context.Context, r *Recording) error
	GetRecording(ctx context.Context, id uuid.UUID) (*Recording, error)
	EndRecording(ctx context.Context, id uuid.UUID, endedAt time.Time) error
	SaveRecordingSegment(ctx context.Context, s *RecordingSegment) error
	ListRecordingSegments(ctx context.Context, recordingID uuid.UUID) ([]RecordingSegment, error)
	SaveRecordingThumbnail(ctx context.Context, t *RecordingThumbnail) error

	GetPlaybackKeyPair(ctx context.Context, orgID, id uuid.UUID) (*PlaybackKeyPair, error)

	CreatePlaybackSession(ctx context.Context, s *PlaybackSession) error
	GetPlaybackSession(ctx context.Context, id uuid.UUID) (*PlaybackSession, error)
	RefreshPlaybackSession(ctx context.Context, id uuid.UUID, expiresAt time.Time) error

	// ListRevocations 组织下可能覆盖target的撤销记录
	ListRevocations(ctx context.Context, orgID, target uuid.UUID) ([]Revocation, error)
}

// Seeder 控制面写入的数据，测试和单机部署时通过它初始化
type Seeder interface {
	CreateOrganization(ctx context.Context, o *Organization) error
	CreateRoom(ctx context.Context, r *Room) error
	GrantPermission(ctx context.Context, p *Permission) error
	CreatePlaybackKeyPair(ctx context.Context, k *PlaybackKeyPair) error
	CreateRevocation(ctx context.Context, r *Revocation) error
}

type RepositoryType int

const (
	RepositoryTypeMemory RepositoryType = iota + 1
	RepositoryTypeGorm
)
