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
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/store"
)

// 媒体内容写入后不再变化
const mediaCacheControl = "public, max-age=31536000, immutable"

// screenshotTokenTtl 截图地址只在跳转后短时间内使用
const screenshotTokenTtl = 60 * time.Second

// /{org}/{room}/{token}.mp4
func (s *Server) serveMedia(w http.ResponseWriter, r *http.Request, orgID uuid.UUID, roomStr string, raw string) {
	ctx := r.Context()
	claims, err := s.signer.ParseMedia(raw, TokenUseMedia)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if claims.OrganizationID != orgID.String() || claims.RoomID != roomStr {
		feedbackError(w, r, fmt.Errorf("%w. organization=%s, room=%s", base.ErrTokenTarget, claims.OrganizationID, claims.RoomID))
		return
	}
	if _, err := s.checkSession(ctx, &claims.SessionClaims); err != nil {
		feedbackError(w, r, err)
		return
	}
	roomID, err1 := uuid.Parse(claims.RoomID)
	connID, err2 := uuid.Parse(claims.ConnectionID)
	if err1 != nil || err2 != nil {
		feedbackError(w, r, fmt.Errorf("%w. room=%s, conn=%s", base.ErrTokenInvalid, claims.RoomID, claims.ConnectionID))
		return
	}
	prefix := store.ConnPrefix(orgID, roomID, connID)

	switch claims.Kind {
	case MediaKindInit:
		data, err := s.objects.Get(ctx, prefix.Init(claims.Rendition))
		if err != nil {
			feedbackError(w, r, err)
			return
		}
		feedbackMedia(w, contentTypeMp4, data)
	case MediaKindPart:
		s.servePart(w, r, prefix, claims.Rendition, claims.Idx)
	case MediaKindSegment:
		s.serveSegment(w, r, prefix, claims.Rendition, claims.Idx)
	default:
		feedbackError(w, r, fmt.Errorf("%w. kind=%s", base.ErrTokenInvalid, claims.Kind))
	}
}

// servePart 还没有产生的part最多等MediaWaitMs，已经滑出窗口的part返回404
func (s *Server) servePart(w http.ResponseWriter, r *http.Request, prefix store.KeyPrefix, rendition base.Rendition, idx uint32) {
	ctx := r.Context()
	key := prefix.Manifest(rendition)
	cond := func(m *store.Manifest) bool {
		return m.NextPartIdx > idx
	}
	m, ready, err := s.waitFor(ctx, key, cond)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if !ready {
		feedbackFinished(w, m != nil && m.Completed)
		return
	}
	if idx < m.FirstVisiblePart() {
		feedbackFinished(w, false)
		return
	}

	data, err := s.objects.Get(ctx, prefix.Part(rendition, idx))
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	feedbackMedia(w, contentTypeMp4, data)
}

// serveSegment 等segment结束后返回，segment对象不存在时把窗口中它的part拼起来
func (s *Server) serveSegment(w http.ResponseWriter, r *http.Request, prefix store.KeyPrefix, rendition base.Rendition, idx uint32) {
	ctx := r.Context()
	key := prefix.Manifest(rendition)
	m, ready, err := s.waitFor(ctx, key, func(m *store.Manifest) bool {
		return segmentReady(m, idx)
	})
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if !ready {
		feedbackFinished(w, m != nil && m.Completed)
		return
	}

	if m.DvrPrefix != "" {
		data, err := s.objects.Get(ctx, fmt.Sprintf("%s/segment/%d", m.DvrPrefix, idx))
		if err == nil {
			feedbackMedia(w, contentTypeMp4, data)
			return
		}
		if !errors.Is(err, base.ErrObjectNotFound) {
			feedbackError(w, r, err)
			return
		}
	}

	seg := m.FindSegment(idx)
	if seg == nil || len(seg.Parts) == 0 {
		feedbackFinished(w, false)
		return
	}
	// 先取第一个part，出错时还能返回正常的错误码
	first, err := s.objects.Get(ctx, prefix.Part(rendition, seg.Parts[0].Idx))
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeMp4)
	w.Header().Set("Cache-Control", mediaCacheControl)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(first); err != nil {
		return
	}
	for _, part := range seg.Parts[1:] {
		data, err := s.objects.Get(ctx, prefix.Part(rendition, part.Idx))
		if err != nil {
			// header已经发出，只能断开
			Log.Warnf("[%s] concat segment part failed. segment=%d, part=%d, err=%+v", uniqueKeyOf(r), idx, part.Idx, err)
			panic(http.ErrAbortHandler)
		}
		if _, err := w.Write(data); err != nil {
			return
		}
	}
}

// waitFor 先直接读一次，不满足时再订阅等待
func (s *Server) waitFor(ctx context.Context, key string, cond func(m *store.Manifest) bool) (*store.Manifest, bool, error) {
	m, err := s.getManifest(ctx, key)
	if err != nil && !errors.Is(err, base.ErrKeyNotFound) {
		return nil, false, err
	}
	if m != nil && cond(m) {
		return m, true, nil
	}
	if m != nil && m.Completed {
		return m, false, nil
	}
	return s.waitManifest(ctx, key, time.Duration(s.option.MediaWaitMs)*time.Millisecond, cond)
}

// ----- screenshot ----------------------------------------------------------------------------------------------------

// /{org}/{room}.jpg 跳转到最新截图的签名地址
func (s *Server) serveScreenshotRedirect(w http.ResponseWriter, r *http.Request, orgID uuid.UUID, roomStr string) {
	ctx := r.Context()
	if !s.rateLimit(w, r, s.rateLimitKey(r)) {
		return
	}
	room, err := s.getRoom(ctx, orgID, roomStr)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if _, _, err := s.authorize(ctx, r, orgID, room.ID, room.Visibility == model.VisibilityPrivate); err != nil {
		feedbackError(w, r, err)
		return
	}
	if room.ActiveIngestConnectionID == nil {
		feedbackError(w, r, fmt.Errorf("%w. room=%s", base.ErrRoomOffline, room.ID))
		return
	}
	connID := *room.ActiveIngestConnectionID
	prefix := store.ConnPrefix(orgID, room.ID, connID)

	b, err := s.kv.Get(ctx, prefix.ScreenshotIdx())
	if err != nil {
		if errors.Is(err, base.ErrKeyNotFound) {
			err = fmt.Errorf("%w. no screenshot yet. room=%s", base.ErrMediaNotReady, room.ID)
		}
		feedbackError(w, r, err)
		return
	}
	idx, err := strconv.ParseUint(string(b), 10, 32)
	if err != nil {
		feedbackError(w, r, fmt.Errorf("invalid screenshot idx. value=%s", b))
		return
	}

	now := time.Now()
	c := MediaClaims{
		SessionClaims: SessionClaims{
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt:  jwt.NewNumericDate(now),
				ExpiresAt: jwt.NewNumericDate(now.Add(screenshotTokenTtl)),
			},
			Use:            TokenUseScreenshot,
			OrganizationID: orgID.String(),
			RoomID:         room.ID.String(),
			ConnectionID:   connID.String(),
		},
		Idx: uint32(idx),
	}
	tok, err := s.signer.SignMedia(c)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.Redirect(w, r, room.ID.String()+"/"+tok+suffixJpg, http.StatusFound)
}

// /{org}/{room}/{token}.jpg
func (s *Server) serveScreenshot(w http.ResponseWriter, r *http.Request, orgID uuid.UUID, roomStr string, raw string) {
	claims, err := s.signer.ParseMedia(raw, TokenUseScreenshot)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	if claims.OrganizationID != orgID.String() || claims.RoomID != roomStr {
		feedbackError(w, r, fmt.Errorf("%w. organization=%s, room=%s", base.ErrTokenTarget, claims.OrganizationID, claims.RoomID))
		return
	}
	roomID, err1 := uuid.Parse(claims.RoomID)
	connID, err2 := uuid.Parse(claims.ConnectionID)
	if err1 != nil || err2 != nil {
		feedbackError(w, r, fmt.Errorf("%w. room=%s, conn=%s", base.ErrTokenInvalid, claims.RoomID, claims.ConnectionID))
		return
	}
	data, err := s.objects.Get(r.Context(), store.ConnPrefix(orgID, roomID, connID).Screenshot(claims.Idx))
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	feedbackMedia(w, contentTypeJpeg, data)
}

// ----- dvr -----------------------------------------------------------------------------------------------------------

// serveDvr 没有配置外部dvr地址时，由edge提供录制的init、segment和截图
//
// key中的uuid不可猜测，和公开读的bucket一样不做鉴权
//
func (s *Server) serveDvr(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if !strings.HasPrefix(key, "org/") || strings.Contains(key, "..") {
		http.NotFound(w, r)
		return
	}
	var contentType string
	switch {
	case strings.HasSuffix(key, "/init") || strings.Contains(key, "/segment/"):
		contentType = contentTypeMp4
	case strings.Contains(key, "/screenshot/"):
		contentType = contentTypeJpeg
	default:
		http.NotFound(w, r)
		return
	}
	data, err := s.objects.Get(r.Context(), key)
	if err != nil {
		feedbackError(w, r, err)
		return
	}
	feedbackMedia(w, contentType, data)
}

func feedbackMedia(w http.ResponseWriter, contentType string, data []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", mediaCacheControl)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
