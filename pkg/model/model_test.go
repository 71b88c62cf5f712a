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
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

func TestRoom_Renditions(t *testing.T) {
	r := &Room{}
	assert.Equal(t, []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource}, r.Renditions())

	r.TranscodingConfig = &TranscodingConfig{
		Renditions: []base.Rendition{base.RenditionVideoSource, base.RenditionVideoHd, base.RenditionAudioMd},
	}
	assert.Equal(t, []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource, base.RenditionVideoHd, base.RenditionAudioMd}, r.Renditions())
}

func TestPlaybackSession_Usable(t *testing.T) {
	org := uuid.New()
	room := uuid.New()
	user := "u1"
	now := time.Now()
	s := &PlaybackSession{
		ID:             uuid.New(),
		OrganizationID: org,
		RoomID:         &room,
		IssuedAt:       now.Add(-time.Minute),
		ExpiresAt:      now.Add(time.Minute),
		UserID:         &user,
	}
	assert.Equal(t, room, s.Target())
	assert.Equal(t, nil, s.Usable(now, nil))

	err := s.Usable(now.Add(time.Minute), nil)
	assert.Equal(t, true, errors.Is(err, base.ErrSessionExpired))
	assert.Equal(t, base.KindNotFound, base.KindOf(err))

	other := uuid.New()
	otherUser := "u2"
	revocations := []Revocation{
		// 其他组织
		{OrganizationID: uuid.New(), RevokeBefore: now},
		// 其他房间
		{OrganizationID: org, RoomID: &other, RevokeBefore: now},
		// 其他用户
		{OrganizationID: org, RoomID: &room, UserID: &otherUser, RevokeBefore: now},
		// 签发之后才撤销之前的
		{OrganizationID: org, RoomID: &room, RevokeBefore: now.Add(-time.Hour)},
	}
	assert.Equal(t, nil, s.Usable(now, revocations))

	revocations = append(revocations, Revocation{OrganizationID: org, UserID: &user, RevokeBefore: now})
	err = s.Usable(now, revocations)
	assert.Equal(t, true, errors.Is(err, base.ErrSessionRevoked))
	assert.Equal(t, base.KindAuth, base.KindOf(err))
}

func testRepository(t *testing.T, repo Repository, seeder Seeder) {
	ctx := context.Background()
	org := uuid.New()
	room := uuid.New()

	_, err := repo.GetRoom(ctx, room)
	assert.Equal(t, true, errors.Is(err, base.ErrRoomNotFound))

	assert.Equal(t, nil, seeder.CreateOrganization(ctx, &Organization{ID: org, Name: "org"}))
	assert.Equal(t, nil, seeder.CreateRoom(ctx, &Room{
		ID:             room,
		OrganizationID: org,
		StreamKey:      "secret",
		Status:         RoomStatusOffline,
		Visibility:     VisibilityPublic,
	}))

	ok, err := repo.CanGoLive(ctx, org, room)
	assert.Equal(t, nil, err)
	assert.Equal(t, false, ok)
	assert.Equal(t, nil, seeder.GrantPermission(ctx, &Permission{OrganizationID: org, GoLive: true}))
	ok, _ = repo.CanGoLive(ctx, org, room)
	assert.Equal(t, true, ok)
	ok, _ = repo.CanGoLive(ctx, uuid.New(), room)
	assert.Equal(t, false, ok)

	conn := uuid.New()
	now := time.Now().UTC().Truncate(time.Millisecond)
	assert.Equal(t, nil, repo.CreateConnection(ctx, &Connection{
		ID:             conn,
		RoomID:         room,
		OrganizationID: org,
		Renditions:     []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource},
		State:          ConnectionStateRunning,
		StartedAt:      now,
		EndedAt:        now.Add(300 * time.Second),
	}))
	assert.Equal(t, nil, repo.SetRoomLive(ctx, room, RoomStatusLive, &conn))
	r, err := repo.GetRoom(ctx, room)
	assert.Equal(t, nil, err)
	assert.Equal(t, RoomStatusLive, r.Status)
	assert.Equal(t, conn, *r.ActiveIngestConnectionID)

	assert.Equal(t, nil, repo.UpdateConnection(ctx, conn, ConnectionStateStopped, now.Add(time.Second)))
	c, err := repo.GetConnection(ctx, conn)
	assert.Equal(t, nil, err)
	assert.Equal(t, ConnectionStateStopped, c.State)
	assert.Equal(t, true, c.State.IsTerminal())
	assert.Equal(t, 2, len(c.Renditions))

	assert.Equal(t, nil, repo.SetRoomLive(ctx, room, RoomStatusOffline, nil))
	r, _ = repo.GetRoom(ctx, room)
	assert.Equal(t, true, r.ActiveIngestConnectionID == nil)

	rec := uuid.New()
	assert.Equal(t, nil, repo.CreateRecording(ctx, &Recording{ID: rec, OrganizationID: org, RoomID: &room, ConnectionID: conn, Visibility: VisibilityPrivate, StartedAt: now}))
	for i := uint32(0); i < 3; i++ {
		assert.Equal(t, nil, repo.SaveRecordingSegment(ctx, &RecordingSegment{RecordingID: rec, Rendition: base.RenditionVideoSource, Idx: 2 - i, Duration: 2}))
	}
	// 重复保存覆盖
	assert.Equal(t, nil, repo.SaveRecordingSegment(ctx, &RecordingSegment{RecordingID: rec, Rendition: base.RenditionVideoSource, Idx: 0, Duration: 1.5}))
	segs, err := repo.ListRecordingSegments(ctx, rec)
	assert.Equal(t, nil, err)
	assert.Equal(t, 3, len(segs))
	assert.Equal(t, uint32(0), segs[0].Idx)
	assert.Equal(t, 1.5, segs[0].Duration)
	assert.Equal(t, uint32(2), segs[2].Idx)
	assert.Equal(t, nil, repo.SaveRecordingThumbnail(ctx, &RecordingThumbnail{RecordingID: rec, Idx: 0}))
	assert.Equal(t, nil, repo.EndRecording(ctx, rec, now.Add(time.Minute)))
	recording, err := repo.GetRecording(ctx, rec)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, recording.Ended)

	kp := uuid.New()
	assert.Equal(t, nil, seeder.CreatePlaybackKeyPair(ctx, &PlaybackKeyPair{ID: kp, OrganizationID: org, Algorithm: "ES384", PublicKeyPEM: "pem"}))
	k, err := repo.GetPlaybackKeyPair(ctx, org, kp)
	assert.Equal(t, nil, err)
	assert.Equal(t, "ES384", k.Algorithm)
	_, err = repo.GetPlaybackKeyPair(ctx, uuid.New(), kp)
	assert.Equal(t, true, errors.Is(err, base.ErrKeyPairNotFound))

	sid := uuid.New()
	assert.Equal(t, nil, repo.CreatePlaybackSession(ctx, &PlaybackSession{ID: sid, OrganizationID: org, RoomID: &room, IssuedAt: now, ExpiresAt: now.Add(time.Minute)}))
	assert.Equal(t, nil, repo.RefreshPlaybackSession(ctx, sid, now.Add(10*time.Minute)))
	s, err := repo.GetPlaybackSession(ctx, sid)
	assert.Equal(t, nil, err)
	assert.Equal(t, true, s.ExpiresAt.Equal(now.Add(10*time.Minute)))
	_, err = repo.GetPlaybackSession(ctx, uuid.New())
	assert.Equal(t, true, errors.Is(err, base.ErrSessionNotFound))

	other := uuid.New()
	assert.Equal(t, nil, seeder.CreateRevocation(ctx, &Revocation{OrganizationID: org, RoomID: &room, RevokeBefore: now}))
	assert.Equal(t, nil, seeder.CreateRevocation(ctx, &Revocation{OrganizationID: org, RoomID: &other, RevokeBefore: now}))
	assert.Equal(t, nil, seeder.CreateRevocation(ctx, &Revocation{OrganizationID: org, RevokeBefore: now}))
	revs, err := repo.ListRevocations(ctx, org, room)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(revs))
}

func TestMemoryRepository(t *testing.T) {
	m := NewMemoryRepository()
	testRepository(t, m, m)
}

// 设置 LALLIVE_TEST_DSN 后才运行，例如 host=127.0.0.1 user=postgres dbname=lallive_test sslmode=disable
func TestGormRepository(t *testing.T) {
	dsn := os.Getenv("LALLIVE_TEST_DSN")
	if dsn == "" {
		t.Skip("LALLIVE_TEST_DSN not set")
	}
	g, err := OpenGormRepository(dsn, true)
	assert.Equal(t, nil, err)
	testRepository(t, g, g)
}
