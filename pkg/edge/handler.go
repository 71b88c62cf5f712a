// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package edge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/metrics"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/store"
)

const (
	suffixM3u8 = ".m3u8"
	suffixMp4  = ".mp4"
	suffixJpg  = ".jpg"
)

// /{org}/{file}
func (s *Server) serveOrgFile(w http.ResponseWriter, r *http.Request) {
	orgID, err := parseID(chi.URLParam(r, "org"), base.ErrRoomNotFound)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	file := chi.URLParam(r, "file")
	switch {
	case strings.HasSuffix(file, suffixM3u8):
		s.serveRoomMaster(w, r, orgID, strings.TrimSuffix(file, suffixM3u8))
	case strings.HasSuffix(file, suffixJpg):
		s.serveScreenshotRedirect(w, r, orgID, strings.TrimSuffix(file, suffixJpg))
	default:
		http.NotFound(w, r)
	}
}

// /{org}/{target}/{file}
//
// target是session token时file是<rendition>.m3u8，
// target是房间id时file是<媒体token>.mp4或者<截图token>.jpg
//
func (s *Server) serveTargetFile(w http.ResponseWriter, r *http.Request) {
	orgID, err := parseID(chi.URLParam(r, "org"), base.ErrRoomNotFound)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	target := chi.URLParam(r, "target")
	file := chi.URLParam(r, "file")
	switch {
	case strings.HasSuffix(file, suffixM3u8):
		s.serveRenditionPlaylist(w, r, orgID, target, strings.TrimSuffix(file, suffixM3u8))
	case strings.HasSuffix(file, suffixMp4):
		s.serveMedia(w, r, orgID, target, strings.TrimSuffix(file, suffixMp4))
	case strings.HasSuffix(file, suffixJpg):
		s.serveScreenshot(w, r, orgID, target, strings.TrimSuffix(file, suffixJpg))
	default:
		http.NotFound(w, r)
	}
}

// ----- master playlist -----------------------------------------------------------------------------------------------

func (s *Server) serveRoomMaster(w http.ResponseWriter, r *http.Request, orgID uuid.UUID, roomStr string) {
	ctx := r.Context()
	if !s.rateLimit(w, r, s.rateLimitKey(r)) {
		return
	}

	room, err := s.getRoom(ctx, orgID, roomStr)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	access, kp, err := s.authorize(ctx, r, orgID, room.ID, room.Visibility == model.VisibilityPrivate)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if room.ActiveIngestConnectionID == nil {
		feedbackError(w, r, fmt.Errorf("%w. room=%s", base.ErrRoomOffline, room.ID))
		return
	}
	connID := *room.ActiveIngestConnectionID
	infos, err := s.liveRenditionInfos(ctx, store.ConnPrefix(orgID, room.ID, connID))
	if err != nil {
		feedbackError(w, r, err)
		return
	}

	roomID := room.ID
	sess := s.newSession(r, orgID, access, kp)
	sess.RoomID = &roomID
	tok, err := s.issueSession(ctx, sess, &connID)
	if err != nil {
		feedbackError(w, r, err)
		return
	}

	master := &MasterPlaylist{
		Session:   tok,
		ExpiresAt: sess.ExpiresAt.Unix(),
		Variants: buildVariants(infos, func(rendition base.Rendition) string {
			return tok + "/" + string(rendition) + suffixM3u8
		}),
	}
	Log.Infof("[%s] new live session. session=%s, room=%s, conn=%s, ip=%s", uniqueKeyOf(r), sess.ID, room.ID, connID, sess.IPAddress)
	s.feedbackMaster(w, r, master)
}

// /{org}/r/{recording}.m3u8
func (s *Server) serveRecordingMaster(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := parseID(chi.URLParam(r, "org"), base.ErrRecordingNotFound)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	file := chi.URLParam(r, "file")
	if !strings.HasSuffix(file, suffixM3u8) {
		http.NotFound(w, r)
		return
	}
	if !s.rateLimit(w, r, s.rateLimitKey(r)) {
		return
	}

	rec, err := s.getRecording(ctx, orgID, strings.TrimSuffix(file, suffixM3u8))
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	access, kp, err := s.authorize(ctx, r, orgID, rec.ID, rec.Visibility == model.VisibilityPrivate)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	infos, err := s.recordingRenditionInfos(ctx, rec)
	if err != nil {
		feedbackError(w, r, err)
		return
	}

	recID := rec.ID
	sess := s.newSession(r, orgID, access, kp)
	sess.RecordingID = &recID
	tok, err := s.issueSession(ctx, sess, nil)
	if err != nil {
		feedbackError(w, r, err)
		return
	}

	master := &MasterPlaylist{
		Session:   tok,
		ExpiresAt: sess.ExpiresAt.Unix(),
		Variants: buildVariants(infos, func(rendition base.Rendition) string {
			return "../" + tok + "/" + string(rendition) + suffixM3u8
		}),
	}
	Log.Infof("[%s] new recording session. session=%s, recording=%s, ip=%s", uniqueKeyOf(r), sess.ID, rec.ID, sess.IPAddress)
	s.feedbackMaster(w, r, master)
}

// liveRenditionInfos 每个rendition的manifest都带有全部rendition的信息，优先取视频的
func (s *Server) liveRenditionInfos(ctx context.Context, prefix store.KeyPrefix) ([]store.RenditionInfo, error) {
	for _, rendition := range []base.Rendition{base.RenditionVideoSource, base.RenditionAudioSource} {
		m, err := s.getManifest(ctx, prefix.Manifest(rendition))
		if err != nil {
			if errors.Is(err, base.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		if len(m.Renditions) > 0 {
			return m.Renditions, nil
		}
	}
	return nil, fmt.Errorf("%w. prefix=%s", base.ErrMediaNotReady, prefix)
}

// recordingRenditionInfos 录制结束后从对象存储中的最终manifest读取，录制进行中时读直播连接的manifest
func (s *Server) recordingRenditionInfos(ctx context.Context, rec *model.Recording) ([]store.RenditionInfo, error) {
	rp := store.RecordingPrefix(rec.OrganizationID, rec.ID)
	var out []store.RenditionInfo
	for _, rendition := range rec.Renditions {
		var m *store.Manifest
		b, err := s.objects.Get(ctx, rp.Manifest(rendition))
		switch {
		case err == nil:
			if m, err = store.DecodeManifest(b); err != nil {
				return nil, err
			}
		case errors.Is(err, base.ErrObjectNotFound):
			if rec.RoomID != nil {
				m, err = s.getManifest(ctx, store.ConnPrefix(rec.OrganizationID, *rec.RoomID, rec.ConnectionID).Manifest(rendition))
				if err != nil && !errors.Is(err, base.ErrKeyNotFound) {
					return nil, err
				}
			}
		default:
			return nil, err
		}

		info := store.RenditionInfo{Rendition: rendition}
		if m != nil {
			for _, ri := range m.Renditions {
				if ri.Rendition == rendition {
					info = ri
					break
				}
			}
		}
		out = append(out, info)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w. recording=%s", base.ErrMediaNotReady, rec.ID)
	}
	return out, nil
}

func (s *Server) feedbackMaster(w http.ResponseWriter, r *http.Request, m *MasterPlaylist) {
	if wantJson(r) {
		feedbackJson(w, http.StatusOK, m)
		return
	}
	feedbackM3u8(w, m.M3u8())
}

// ----- rendition playlist --------------------------------------------------------------------------------------------

func (s *Server) serveRenditionPlaylist(w http.ResponseWriter, r *http.Request, orgID uuid.UUID, rawSession string, renditionStr string) {
	ctx := r.Context()
	claims, _, err := s.session(ctx, orgID, rawSession)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	rendition, ok := base.ParseRendition(renditionStr)
	if !ok {
		feedbackError(w, r, fmt.Errorf("%w. rendition=%s", base.ErrRenditionAbsent, renditionStr))
		return
	}
	if claims.RecordingID != "" {
		s.serveRecordingPlaylist(w, r, claims, rendition)
		return
	}

	roomID, err1 := uuid.Parse(claims.RoomID)
	connID, err2 := uuid.Parse(claims.ConnectionID)
	if err1 != nil || err2 != nil {
		feedbackError(w, r, fmt.Errorf("%w. room=%s, conn=%s", base.ErrTokenInvalid, claims.RoomID, claims.ConnectionID))
		return
	}
	room, err := s.repo.GetRoom(ctx, roomID)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	// 房间有了新的推流，旧连接的session不再有内容
	if room.ActiveIngestConnectionID != nil && *room.ActiveIngestConnectionID != connID {
		feedbackFinished(w, true)
		return
	}

	msn, part, blocking, err := parseBlockingReload(r.URL.Query())
	if err != nil {
		feedbackError(w, r, err)
		return
	}

	prefix := store.ConnPrefix(orgID, roomID, connID)
	key := prefix.Manifest(rendition)
	var m *store.Manifest
	if blocking {
		var advanced bool
		m, advanced, err = s.waitManifest(ctx, key, time.Duration(s.option.BlockingTimeoutMs)*time.Millisecond, func(m *store.Manifest) bool {
			return m.Advanced(msn, part)
		})
		if err != nil {
			feedbackError(w, r, err)
			return
		}
		outcome := metrics.ReloadTimeout
		if m != nil && m.Completed {
			outcome = metrics.ReloadCompleted
		} else if advanced {
			outcome = metrics.ReloadAdvanced
		}
		s.option.Metrics.IncBlockingReload(outcome)
		if m == nil {
			feedbackError(w, r, fmt.Errorf("%w. key=%s", base.ErrMediaNotReady, key))
			return
		}
	} else {
		if m, err = s.getManifest(ctx, key); err != nil {
			if errors.Is(err, base.ErrKeyNotFound) {
				err = fmt.Errorf("%w. rendition=%s", base.ErrRenditionAbsent, rendition)
			}
			feedbackError(w, r, err)
			return
		}
	}

	uris := &liveUris{
		signer:    s.signer,
		session:   claims,
		rendition: rendition,
		room:      roomID.String(),
	}
	pl, err := buildLivePlaylist(m, uris, s.option.PartSegments, s.dvrUrl(m.DvrPrefix))
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	pl.RenditionReports = s.renditionReports(ctx, prefix, rendition, m.Renditions)
	s.feedbackPlaylist(w, r, pl)
}

// serveRecordingPlaylist 结束的录制是VOD，进行中的是EVENT，segment直接指向dvr地址
func (s *Server) serveRecordingPlaylist(w http.ResponseWriter, r *http.Request, claims *SessionClaims, rendition base.Rendition) {
	ctx := r.Context()
	recID, err := uuid.Parse(claims.RecordingID)
	if err != nil {
		feedbackError(w, r, fmt.Errorf("%w. recording=%s", base.ErrTokenInvalid, claims.RecordingID))
		return
	}
	rec, err := s.repo.GetRecording(ctx, recID)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if rec.Deleted {
		feedbackError(w, r, fmt.Errorf("%w. recording=%s", base.ErrRecordingNotFound, rec.ID))
		return
	}
	if !containsRendition(rec.Renditions, rendition) {
		feedbackError(w, r, fmt.Errorf("%w. recording=%s, rendition=%s", base.ErrRenditionAbsent, rec.ID, rendition))
		return
	}
	segs, err := s.repo.ListRecordingSegments(ctx, rec.ID)
	if err != nil {
		feedbackError(w, r, err)
		return
	}

	rp := store.RecordingPrefix(rec.OrganizationID, rec.ID)
	pl := &Playlist{
		PlaylistType: PlaylistTypeEvent,
		Completed:    rec.Ended,
		InitUri:      s.dvrUrl(rp.Init(rendition)),
		Segments:     make([]PlaylistSegment, 0, len(segs)),
	}
	if rec.Ended {
		pl.PlaylistType = PlaylistTypeVod
	}
	for _, seg := range segs {
		if seg.Rendition != rendition {
			continue
		}
		if len(pl.Segments) == 0 {
			pl.MediaSequence = seg.Idx
		}
		pl.Segments = append(pl.Segments, PlaylistSegment{
			Idx:       seg.Idx,
			StartTime: seg.StartTime,
			Duration:  seg.Duration,
			Closed:    true,
			Uri:       s.dvrUrl(seg.ObjectKey),
		})
		pl.TargetDuration = math.Max(pl.TargetDuration, seg.Duration)
		pl.NextSegmentIdx = seg.Idx + 1
	}
	s.feedbackPlaylist(w, r, pl)
}

func (s *Server) renditionReports(ctx context.Context, prefix store.KeyPrefix, self base.Rendition, infos []store.RenditionInfo) []RenditionReport {
	var out []RenditionReport
	for _, info := range infos {
		if info.Rendition == self {
			continue
		}
		m, err := s.getManifest(ctx, prefix.Manifest(info.Rendition))
		if err != nil {
			continue
		}
		if rr, ok := reportOf(info.Rendition, m); ok {
			out = append(out, rr)
		}
	}
	return out
}

func (s *Server) feedbackPlaylist(w http.ResponseWriter, r *http.Request, pl *Playlist) {
	if wantJson(r) {
		feedbackJson(w, http.StatusOK, pl)
		return
	}
	feedbackM3u8(w, pl.M3u8())
}

// parseBlockingReload _HLS_msn和_HLS_part，只有part没有msn是非法请求
//
// @return part: 没有_HLS_part时为-1
//
func parseBlockingReload(q url.Values) (msn int64, part int64, blocking bool, err error) {
	part = -1
	msnStr := q.Get("_HLS_msn")
	partStr := q.Get("_HLS_part")
	if msnStr == "" {
		if partStr != "" {
			return 0, 0, false, base.NewErrInvalidTag("_HLS_part without _HLS_msn")
		}
		return 0, -1, false, nil
	}
	if msn, err = strconv.ParseInt(msnStr, 10, 64); err != nil || msn < 0 {
		return 0, 0, false, base.NewErrInvalidTag("invalid _HLS_msn")
	}
	if partStr != "" {
		if part, err = strconv.ParseInt(partStr, 10, 64); err != nil || part < 0 {
			return 0, 0, false, base.NewErrInvalidTag("invalid _HLS_part")
		}
	}
	return msn, part, true, nil
}

// liveUris 直播的媒体地址是签名的token，相对于 /{org}/{session}/ 这一层
type liveUris struct {
	signer    *TokenSigner
	session   *SessionClaims
	rendition base.Rendition
	room      string
}

func (u *liveUris) sign(kind MediaKind, idx uint32) (string, error) {
	c := MediaClaims{
		SessionClaims: *u.session,
		Rendition:     u.rendition,
		Kind:          kind,
		Idx:           idx,
	}
	c.Use = TokenUseMedia
	tok, err := u.signer.SignMedia(c)
	if err != nil {
		return "", err
	}
	return "../" + u.room + "/" + tok + suffixMp4, nil
}

func (u *liveUris) initUri() (string, error) {
	return u.sign(MediaKindInit, 0)
}

func (u *liveUris) partUri(idx uint32) (string, error) {
	return u.sign(MediaKindPart, idx)
}

func (u *liveUris) segmentUri(idx uint32) (string, error) {
	return u.sign(MediaKindSegment, idx)
}

// ----- session -------------------------------------------------------------------------------------------------------

type refreshResp struct {
	Session   string `json:"session"`
	ExpiresAt int64  `json:"expires_at"`
}

// /{org}/{session}/refresh 延长session的有效期，返回新的session token
func (s *Server) serveRefresh(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	orgID, err := parseID(chi.URLParam(r, "org"), base.ErrSessionNotFound)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	claims, sess, err := s.session(ctx, orgID, chi.URLParam(r, "target"))
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if !s.rateLimit(w, r, "session:"+claims.SessionID) {
		return
	}

	now := time.Now()
	expiresAt := now.Add(time.Duration(s.option.SessionTtlMs) * time.Millisecond)
	if err := s.repo.RefreshPlaybackSession(ctx, sess.ID, expiresAt); err != nil {
		feedbackError(w, r, err)
		return
	}
	c := *claims
	c.IssuedAt = jwt.NewNumericDate(now)
	c.ExpiresAt = jwt.NewNumericDate(expiresAt)
	tok, err := s.signer.SignSession(c)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	Log.Debugf("[%s] refresh session. session=%s, expires=%s", uniqueKeyOf(r), sess.ID, expiresAt)
	feedbackJson(w, http.StatusOK, refreshResp{Session: tok, ExpiresAt: expiresAt.Unix()})
}

// session 校验session token，并确认数据库中的session仍然可用
func (s *Server) session(ctx context.Context, orgID uuid.UUID, raw string) (*SessionClaims, *model.PlaybackSession, error) {
	claims, err := s.signer.ParseSession(raw)
	if err != nil {
		return nil, nil, err
	}
	if claims.OrganizationID != orgID.String() {
		return nil, nil, fmt.Errorf("%w. organization=%s, expected=%s", base.ErrTokenTarget, claims.OrganizationID, orgID)
	}
	sess, err := s.checkSession(ctx, claims)
	if err != nil {
		return nil, nil, err
	}
	return claims, sess, nil
}

func (s *Server) checkSession(ctx context.Context, c *SessionClaims) (*model.PlaybackSession, error) {
	id, err := uuid.Parse(c.SessionID)
	if err != nil {
		return nil, fmt.Errorf("%w. session=%s", base.ErrTokenInvalid, c.SessionID)
	}
	sess, err := s.repo.GetPlaybackSession(ctx, id)
	if err != nil {
		return nil, err
	}
	revs, err := s.revocations.list(ctx, sess.OrganizationID, sess.Target())
	if err != nil {
		return nil, err
	}
	if err := sess.Usable(time.Now(), revs); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Server) newSession(r *http.Request, orgID uuid.UUID, access *AccessClaims, kp *model.PlaybackKeyPair) *model.PlaybackSession {
	now := time.Now()
	sess := &model.PlaybackSession{
		ID:             uuid.New(),
		OrganizationID: orgID,
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Duration(s.option.SessionTtlMs) * time.Millisecond),
		IPAddress:      clientIp(r, s.option.TrustedHeader, s.option.TrustedHops),
		UserAgent:      r.UserAgent(),
		Referer:        r.Referer(),
		Origin:         r.Header.Get("Origin"),
	}
	if access != nil {
		sess.UserID = access.UserID
	}
	if kp != nil {
		id := kp.ID
		sess.PlaybackKeyPairID = &id
	}
	return sess
}

// issueSession 落库并签发session token，被撤销覆盖的新session直接拒绝
func (s *Server) issueSession(ctx context.Context, sess *model.PlaybackSession, connID *uuid.UUID) (string, error) {
	revs, err := s.revocations.list(ctx, sess.OrganizationID, sess.Target())
	if err != nil {
		return "", err
	}
	if err := sess.Usable(sess.IssuedAt, revs); err != nil {
		return "", err
	}
	if err := s.repo.CreatePlaybackSession(ctx, sess); err != nil {
		return "", err
	}
	return s.signer.SignSession(newSessionClaims(sess, connID))
}

// authorize 私有的房间和录制必须带access token，公开的带了也会校验
func (s *Server) authorize(ctx context.Context, r *http.Request, orgID, target uuid.UUID, private bool) (*AccessClaims, *model.PlaybackKeyPair, error) {
	raw := accessTokenOf(r)
	if raw == "" {
		if private {
			return nil, nil, fmt.Errorf("%w. target=%s", base.ErrTokenRequired, target)
		}
		return nil, nil, nil
	}
	claims, kp, err := verifyAccessToken(ctx, s.repo, orgID, raw)
	if err != nil {
		return nil, nil, err
	}
	if claims.Target() != target {
		return nil, nil, fmt.Errorf("%w. target=%s, expected=%s", base.ErrTokenTarget, claims.Target(), target)
	}
	return claims, kp, nil
}

// ----- rate limit ----------------------------------------------------------------------------------------------------

// rateLimitKey 带access token时按token计数，否则按客户端ip
func (s *Server) rateLimitKey(r *http.Request) string {
	if tok := accessTokenOf(r); tok != "" {
		sum := sha256.Sum256([]byte(tok))
		return "token:" + hex.EncodeToString(sum[:16])
	}
	return "ip:" + clientIp(r, s.option.TrustedHeader, s.option.TrustedHops)
}

// rateLimit 计数后端出错时放行
func (s *Server) rateLimit(w http.ResponseWriter, r *http.Request, key string) bool {
	if s.limiter == nil {
		return true
	}
	q, err := s.limiter.Take(r.Context(), key)
	if err != nil {
		Log.Warnf("[%s] rate limiter error. key=%s, err=%+v", uniqueKeyOf(r), key, err)
		return true
	}
	reset := int(math.Ceil(q.Reset.Seconds()))
	if reset < 0 {
		reset = 0
	}
	w.Header().Set(headerRateLimitRemaining, strconv.Itoa(q.Remaining))
	w.Header().Set(headerRateLimitReset, strconv.Itoa(reset))
	if !q.Allowed {
		s.option.Metrics.IncRateLimited()
		feedbackError(w, r, fmt.Errorf("%w. key=%s", base.ErrRateLimited, key))
		return false
	}
	return true
}

// ---------------------------------------------------------------------------------------------------------------------

func (s *Server) getRoom(ctx context.Context, orgID uuid.UUID, roomStr string) (*model.Room, error) {
	id, err := parseID(roomStr, base.ErrRoomNotFound)
	if err != nil {
		return nil, err
	}
	room, err := s.repo.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	if room.OrganizationID != orgID {
		return nil, fmt.Errorf("%w. room=%s, organization=%s", base.ErrRoomNotFound, id, orgID)
	}
	return room, nil
}

func (s *Server) getRecording(ctx context.Context, orgID uuid.UUID, recStr string) (*model.Recording, error) {
	id, err := parseID(recStr, base.ErrRecordingNotFound)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetRecording(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec.OrganizationID != orgID || rec.Deleted {
		return nil, fmt.Errorf("%w. recording=%s, organization=%s", base.ErrRecordingNotFound, id, orgID)
	}
	return rec, nil
}

// dvrUrl 对象存储key对外的地址
func (s *Server) dvrUrl(key string) string {
	if key == "" {
		return ""
	}
	b := s.option.DvrBaseUrl
	if b == "" {
		b = "/dvr"
	}
	return strings.TrimSuffix(b, "/") + "/" + key
}

func parseID(v string, notFound error) (uuid.UUID, error) {
	id, err := uuid.Parse(v)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w. id=%s", notFound, v)
	}
	return id, nil
}

func containsRendition(rs []base.Rendition, r base.Rendition) bool {
	for _, v := range rs {
		if v == r {
			return true
		}
	}
	return false
}

func wantJson(r *http.Request) bool {
	_, ok := r.URL.Query()[queryJson]
	return ok
}

func feedbackM3u8(w http.ResponseWriter, b []byte) {
	w.Header().Set("Content-Type", contentTypeM3u8)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(b)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(b)
}
