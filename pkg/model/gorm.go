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
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// GormRepository postgres上的Repository实现
type GormRepository struct {
	db *gorm.DB
}

// OpenGormRepository
//
// @param autoMigrate 为true时创建或者更新表结构
//
func OpenGormRepository(dsn string, autoMigrate bool) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, base.WrapUpstream(err, "open database")
	}
	if autoMigrate {
		if err := db.AutoMigrate(AllTables...); err != nil {
			return nil, base.WrapUpstream(err, "auto migrate")
		}
	}
	Log.Infof("database opened. auto migrate=%v", autoMigrate)
	return NewGormRepository(db), nil
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (g *GormRepository) GetRoom(ctx context.Context, id uuid.UUID) (*Room, error) {
	var r Room
	if err := g.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, g.wrap(err, base.ErrRoomNotFound, id)
	}
	return &r, nil
}

func (g *GormRepository) SetRoomLive(ctx context.Context, id uuid.UUID, status RoomStatus, connID *uuid.UUID) error {
	updates := map[string]interface{}{
		"status":                      status,
		"active_ingest_connection_id": connID,
	}
	if status == RoomStatusLive {
		updates["last_live_at"] = time.Now()
	}
	tx := g.db.WithContext(ctx).Model(&Room{}).Where("id = ?", id).Updates(updates)
	if tx.Error != nil {
		return base.WrapUpstream(tx.Error, "update room")
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w. id=%s", base.ErrRoomNotFound, id)
	}
	return nil
}

func (g *GormRepository) CanGoLive(ctx context.Context, orgID, roomID uuid.UUID) (bool, error) {
	var count int64
	err := g.db.WithContext(ctx).Model(&Permission{}).
		Where("organization_id = ? AND go_live = ? AND (room_id = ? OR room_id = ?)", orgID, true, roomID, uuid.Nil).
		Count(&count).Error
	if err != nil {
		return false, base.WrapUpstream(err, "query permission")
	}
	return count > 0, nil
}

func (g *GormRepository) CreateConnection(ctx context.Context, c *Connection) error {
	return g.create(ctx, c, "create connection")
}

func (g *GormRepository) GetConnection(ctx context.Context, id uuid.UUID) (*Connection, error) {
	var c Connection
	if err := g.db.WithContext(ctx).First(&c, "id = ?", id).Error; err != nil {
		return nil, g.wrap(err, base.ErrConnectionNotFound, id)
	}
	return &c, nil
}

func (g *GormRepository) UpdateConnection(ctx context.Context, id uuid.UUID, state ConnectionState, endedAt time.Time) error {
	tx := g.db.WithContext(ctx).Model(&Connection{}).Where("id = ?", id).
		Updates(map[string]interface{}{"state": state, "ended_at": endedAt})
	if tx.Error != nil {
		return base.WrapUpstream(tx.Error, "update connection")
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w. id=%s", base.ErrConnectionNotFound, id)
	}
	return nil
}

func (g *GormRepository) CreateRecording(ctx context.Context, r *Recording) error {
	return g.create(ctx, r, "create recording")
}

func (g *GormRepository) GetRecording(ctx context.Context, id uuid.UUID) (*Recording, error) {
	var r Recording
	if err := g.db.WithContext(ctx).First(&r, "id = ? AND deleted = ?", id, false).Error; err != nil {
		return nil, g.wrap(err, base.ErrRecordingNotFound, id)
	}
	return &r, nil
}

func (g *GormRepository) EndRecording(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	err := g.db.WithContext(ctx).Model(&Recording{}).Where("id = ?", id).
		Updates(map[string]interface{}{"ended": true, "ended_at": endedAt}).Error
	if err != nil {
		return base.WrapUpstream(err, "end recording")
	}
	return nil
}

func (g *GormRepository) SaveRecordingSegment(ctx context.Context, s *RecordingSegment) error {
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(s).Error
	if err != nil {
		return base.WrapUpstream(err, "save recording segment")
	}
	return nil
}

func (g *GormRepository) ListRecordingSegments(ctx context.Context, recordingID uuid.UUID) ([]RecordingSegment, error) {
	var out []RecordingSegment
	err := g.db.WithContext(ctx).Where("recording_id = ?", recordingID).Order("rendition, idx").Find(&out).Error
	if err != nil {
		return nil, base.WrapUpstream(err, "list recording segments")
	}
	return out, nil
}

func (g *GormRepository) SaveRecordingThumbnail(ctx context.Context, t *RecordingThumbnail) error {
	err := g.db.WithContext(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(t).Error
	if err != nil {
		return base.WrapUpstream(err, "save recording thumbnail")
	}
	return nil
}

func (g *GormRepository) GetPlaybackKeyPair(ctx context.Context, orgID, id uuid.UUID) (*PlaybackKeyPair, error) {
	var k PlaybackKeyPair
	if err := g.db.WithContext(ctx).First(&k, "id = ? AND organization_id = ?", id, orgID).Error; err != nil {
		return nil, g.wrap(err, base.ErrKeyPairNotFound, id)
	}
	return &k, nil
}

func (g *GormRepository) CreatePlaybackSession(ctx context.Context, s *PlaybackSession) error {
	return g.create(ctx, s, "create playback session")
}

func (g *GormRepository) GetPlaybackSession(ctx context.Context, id uuid.UUID) (*PlaybackSession, error) {
	var s PlaybackSession
	if err := g.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, g.wrap(err, base.ErrSessionNotFound, id)
	}
	return &s, nil
}

func (g *GormRepository) RefreshPlaybackSession(ctx context.Context, id uuid.UUID, expiresAt time.Time) error {
	tx := g.db.WithContext(ctx).Model(&PlaybackSession{}).Where("id = ?", id).Update("expires_at", expiresAt)
	if tx.Error != nil {
		return base.WrapUpstream(tx.Error, "refresh playback session")
	}
	if tx.RowsAffected == 0 {
		return fmt.Errorf("%w. id=%s", base.ErrSessionNotFound, id)
	}
	return nil
}

func (g *GormRepository) ListRevocations(ctx context.Context, orgID, target uuid.UUID) ([]Revocation, error) {
	var out []Revocation
	err := g.db.WithContext(ctx).
		Where("organization_id = ?", orgID).
		Where("room_id IS NULL OR room_id = ?", target).
		Where("recording_id IS NULL OR recording_id = ?", target).
		Find(&out).Error
	if err != nil {
		return nil, base.WrapUpstream(err, "list revocations")
	}
	return out, nil
}

// ----- Seeder --------------------------------------------------------------------------------------------------------

func (g *GormRepository) CreateOrganization(ctx context.Context, o *Organization) error {
	return g.create(ctx, o, "create organization")
}

func (g *GormRepository) CreateRoom(ctx context.Context, r *Room) error {
	return g.create(ctx, r, "create room")
}

func (g *GormRepository) GrantPermission(ctx context.Context, p *Permission) error {
	return g.create(ctx, p, "grant permission")
}

func (g *GormRepository) CreatePlaybackKeyPair(ctx context.Context, k *PlaybackKeyPair) error {
	return g.create(ctx, k, "create playback key pair")
}

func (g *GormRepository) CreateRevocation(ctx context.Context, r *Revocation) error {
	return g.create(ctx, r, "create revocation")
}

func (g *GormRepository) create(ctx context.Context, v interface{}, what string) error {
	if err := g.db.WithContext(ctx).Create(v).Error; err != nil {
		return base.WrapUpstream(err, what)
	}
	return nil
}

func (g *GormRepository) wrap(err error, notFound error, id uuid.UUID) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w. id=%s", notFound, id)
	}
	return base.WrapUpstream(err, "query")
}
