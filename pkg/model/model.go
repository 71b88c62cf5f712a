// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package model 关系型存储中的行，以及访问它们的Repository
//
// 房间、组织、权限这些CRUD属于控制面，这里只保留媒体链路需要读写的部分。
//
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
)

var Log = base.Log

type RoomStatus string

const (
	RoomStatusOffline RoomStatus = "offline"
	RoomStatusWaiting RoomStatus = "waiting"
	RoomStatusLive    RoomStatus = "live"
)

type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

type ConnectionState string

const (
	ConnectionStateRunning          ConnectionState = "running"
	ConnectionStateStoppedResumable ConnectionState = "stopped_resumable"
	ConnectionStateStopped          ConnectionState = "stopped"
	ConnectionStateFailed           ConnectionState = "failed"
)

func (s ConnectionState) IsTerminal() bool {
	return s == ConnectionStateStopped || s == ConnectionStateFailed
}

type TranscodingConfig struct {
	Renditions []base.Rendition `json:"renditions"`
}

type RecordingConfig struct {
	Renditions      []base.Rendition `json:"renditions"`
	LifecyclePolicy string           `json:"lifecycle_policy,omitempty"`
	S3BucketID      string           `json:"s3_bucket_id,omitempty"`
}

type Organization struct {
	ID   uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name string    `gorm:"size:128;not null"`
}

type Room struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index"`
	Name           string     `gorm:"size:128"`
	StreamKey      string     `gorm:"size:64;not null"`
	Status         RoomStatus `gorm:"size:16;not null;default:offline"`
	Visibility     Visibility `gorm:"size:16;not null;default:public"`

	TranscodingConfig *TranscodingConfig `gorm:"serializer:json"`
	RecordingConfig   *RecordingConfig   `gorm:"serializer:json"`

	ActiveIngestConnectionID *uuid.UUID `gorm:"type:uuid"`
	LastLiveAt               *time.Time
	UpdatedAt                time.Time `gorm:"autoUpdateTime"`
}

// Renditions 房间开播时需要输出的rendition，source总是存在
func (r *Room) Renditions() []base.Rendition {
	out := []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource}
	if r.TranscodingConfig == nil {
		return out
	}
	for _, e := range r.TranscodingConfig.Renditions {
		if e.IsSource() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Permission 组织对房间的权限，RoomID为零值表示组织下所有房间
type Permission struct {
	ID             uint      `gorm:"primaryKey"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index"`
	RoomID         uuid.UUID `gorm:"type:uuid"`
	GoLive         bool
}

type Connection struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey"`
	RoomID         uuid.UUID        `gorm:"type:uuid;not null;index"`
	OrganizationID uuid.UUID        `gorm:"type:uuid;not null"`
	Renditions     []base.Rendition `gorm:"serializer:json"`
	State          ConnectionState  `gorm:"size:24;not null"`
	StartedAt      time.Time
	EndedAt        time.Time
}

type Recording struct {
	ID             uuid.UUID        `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID        `gorm:"type:uuid;not null;index"`
	RoomID         *uuid.UUID       `gorm:"type:uuid;index"`
	ConnectionID   uuid.UUID        `gorm:"type:uuid"`
	Visibility     Visibility       `gorm:"size:16;not null;default:public"`
	Deleted        bool             `gorm:"not null;default:false"`
	S3BucketID     string           `gorm:"size:64"`
	Renditions     []base.Rendition `gorm:"serializer:json"`
	StartedAt      time.Time
	EndedAt        time.Time
	Ended          bool
}

type RecordingSegment struct {
	RecordingID uuid.UUID      `gorm:"type:uuid;primaryKey"`
	Rendition   base.Rendition `gorm:"size:16;primaryKey"`
	Idx         uint32         `gorm:"primaryKey;autoIncrement:false"`
	StartTime   float64
	Duration    float64
	ObjectKey   string `gorm:"size:255"`
}

type RecordingThumbnail struct {
	RecordingID uuid.UUID `gorm:"type:uuid;primaryKey"`
	Idx         uint32    `gorm:"primaryKey;autoIncrement:false"`
	StartTime   float64
	ObjectKey   string `gorm:"size:255"`
}

type PlaybackKeyPair struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrganizationID uuid.UUID `gorm:"type:uuid;not null;index"`
	Algorithm      string    `gorm:"size:8;not null"` // ES256 ES384 RS256
	PublicKeyPEM   string    `gorm:"type:text;not null"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime"`
}

// PlaybackSession 一次观看，目标是房间或者录制二选一
type PlaybackSession struct {
	ID                uuid.UUID  `gorm:"type:uuid;primaryKey"`
	OrganizationID    uuid.UUID  `gorm:"type:uuid;not null;index"`
	RoomID            *uuid.UUID `gorm:"type:uuid"`
	RecordingID       *uuid.UUID `gorm:"type:uuid"`
	IssuedAt          time.Time
	ExpiresAt         time.Time
	UserID            *string    `gorm:"size:128"`
	PlaybackKeyPairID *uuid.UUID `gorm:"type:uuid"`
	IPAddress         string     `gorm:"size:64"`
	UserAgent         string     `gorm:"size:512"`
	Referer           string     `gorm:"size:512"`
	Origin            string     `gorm:"size:512"`
}

func (s *PlaybackSession) Target() uuid.UUID {
	if s.RoomID != nil {
		return *s.RoomID
	}
	if s.RecordingID != nil {
		return *s.RecordingID
	}
	return uuid.Nil
}

// Usable 当前时间早于过期时间，并且没有被任意一条撤销记录覆盖
func (s *PlaybackSession) Usable(now time.Time, revocations []Revocation) error {
	if !now.Before(s.ExpiresAt) {
		return fmt.Errorf("%w. session=%s, expires=%s", base.ErrSessionExpired, s.ID, s.ExpiresAt)
	}
	for i := range revocations {
		if revocations[i].Covers(s) {
			return fmt.Errorf("%w. session=%s", base.ErrSessionRevoked, s.ID)
		}
	}
	return nil
}

// Revocation 撤销RevokeBefore之前签发的会话，目标为空表示整个组织，UserID为空表示所有用户
type Revocation struct {
	ID             uint       `gorm:"primaryKey"`
	OrganizationID uuid.UUID  `gorm:"type:uuid;not null;index"`
	RoomID         *uuid.UUID `gorm:"type:uuid"`
	RecordingID    *uuid.UUID `gorm:"type:uuid"`
	UserID         *string    `gorm:"size:128"`
	RevokeBefore   time.Time
}

func (r *Revocation) Covers(s *PlaybackSession) bool {
	if r.OrganizationID != s.OrganizationID {
		return false
	}
	if r.RoomID != nil && (s.RoomID == nil || *r.RoomID != *s.RoomID) {
		return false
	}
	if r.RecordingID != nil && (s.RecordingID == nil || *r.RecordingID != *s.RecordingID) {
		return false
	}
	if r.UserID != nil && (s.UserID == nil || *r.UserID != *s.UserID) {
		return false
	}
	return s.IssuedAt.Before(r.RevokeBefore)
}

// AllTables AutoMigrate使用
var AllTables = []interface{}{
	&Organization{},
	&Room{},
	&Permission{},
	&Connection{},
	&Recording{},
	&RecordingSegment{},
	&RecordingThumbnail{},
	&PlaybackKeyPair{},
	&PlaybackSession{},
	&Revocation{},
}
