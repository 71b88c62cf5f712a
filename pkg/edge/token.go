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
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/model"
)

// token的用途，防止把一种token当作另一种使用
const (
	TokenUseSession    = "session"
	TokenUseMedia      = "media"
	TokenUseScreenshot = "screenshot"
)

type MediaKind string

const (
	MediaKindInit    MediaKind = "init"
	MediaKindPart    MediaKind = "part"
	MediaKindSegment MediaKind = "segment"
)

// AccessClaims 观众带来的token，由组织的某个playback key pair签名，header中的kid是key pair id
type AccessClaims struct {
	jwt.RegisteredClaims
	OrganizationID string  `json:"organization_id"`
	RoomID         string  `json:"room_id,omitempty"`
	RecordingID    string  `json:"recording_id,omitempty"`
	UserID         *string `json:"user_id,omitempty"`
}

// Target 房间或者录制的id，两者都没有时返回uuid.Nil
func (c *AccessClaims) Target() uuid.UUID {
	id := c.RoomID
	if id == "" {
		id = c.RecordingID
	}
	v, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil
	}
	return v
}

// SessionClaims edge签发给观众的session token
//
// 直播时带上connection id，新的一次推流会让之前的session url失效
//
type SessionClaims struct {
	jwt.RegisteredClaims
	Use            string `json:"use"`
	SessionID      string `json:"session_id"`
	OrganizationID string `json:"organization_id"`
	RoomID         string `json:"room_id,omitempty"`
	RecordingID    string `json:"recording_id,omitempty"`
	ConnectionID   string `json:"connection_id,omitempty"`
}

// MediaClaims 一个媒体url，内嵌签发它的session
type MediaClaims struct {
	SessionClaims
	Rendition base.Rendition `json:"rendition,omitempty"`
	Kind      MediaKind      `json:"kind,omitempty"`
	Idx       uint32         `json:"idx,omitempty"`
}

func newSessionClaims(s *model.PlaybackSession, connID *uuid.UUID) SessionClaims {
	c := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
		Use:            TokenUseSession,
		SessionID:      s.ID.String(),
		OrganizationID: s.OrganizationID.String(),
	}
	if s.RoomID != nil {
		c.RoomID = s.RoomID.String()
	}
	if s.RecordingID != nil {
		c.RecordingID = s.RecordingID.String()
	}
	if connID != nil {
		c.ConnectionID = connID.String()
	}
	return c
}

// ---------------------------------------------------------------------------------------------------------------------

// TokenSigner edge内部token的签名和校验，P-256使用ES256，P-384使用ES384
//
// 多个edge节点需要配置同一个密钥
//
type TokenSigner struct {
	key    *ecdsa.PrivateKey
	method jwt.SigningMethod
}

func NewTokenSigner(key *ecdsa.PrivateKey) *TokenSigner {
	var method jwt.SigningMethod = jwt.SigningMethodES256
	if key.Curve == elliptic.P384() {
		method = jwt.SigningMethodES384
	}
	return &TokenSigner{
		key:    key,
		method: method,
	}
}

// LoadTokenSigner 从PEM格式的EC私钥创建
func LoadTokenSigner(pemBytes []byte) (*TokenSigner, error) {
	key, err := jwt.ParseECPrivateKeyFromPEM(pemBytes)
	if err != nil {
		return nil, err
	}
	return NewTokenSigner(key), nil
}

func GenerateTokenSigner() (*TokenSigner, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return NewTokenSigner(key), nil
}

func (s *TokenSigner) Alg() string {
	return s.method.Alg()
}

func (s *TokenSigner) SignSession(c SessionClaims) (string, error) {
	c.Use = TokenUseSession
	return jwt.NewWithClaims(s.method, c).SignedString(s.key)
}

func (s *TokenSigner) SignMedia(c MediaClaims) (string, error) {
	return jwt.NewWithClaims(s.method, c).SignedString(s.key)
}

// ParseSession 校验签名、有效期以及 exp-iat 不超过10分钟
func (s *TokenSigner) ParseSession(raw string) (*SessionClaims, error) {
	var c SessionClaims
	if err := s.parse(raw, &c); err != nil {
		return nil, err
	}
	if c.Use != TokenUseSession {
		return nil, fmt.Errorf("%w. use=%s", base.ErrTokenInvalid, c.Use)
	}
	if err := checkLifetime(&c.RegisteredClaims); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseMedia use为media或screenshot
func (s *TokenSigner) ParseMedia(raw string, use string) (*MediaClaims, error) {
	var c MediaClaims
	if err := s.parse(raw, &c); err != nil {
		return nil, err
	}
	if c.Use != use {
		return nil, fmt.Errorf("%w. use=%s, expected=%s", base.ErrTokenInvalid, c.Use, use)
	}
	if err := checkLifetime(&c.RegisteredClaims); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *TokenSigner) parse(raw string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		return &s.key.PublicKey, nil
	}, jwt.WithValidMethods([]string{s.method.Alg()}), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	return tokenError(err)
}

func checkLifetime(c *jwt.RegisteredClaims) error {
	if c.IssuedAt == nil || c.ExpiresAt == nil {
		return fmt.Errorf("%w. missing iat or exp", base.ErrTokenInvalid)
	}
	if c.ExpiresAt.Sub(c.IssuedAt.Time) > maxSessionTtlMs*time.Millisecond {
		return fmt.Errorf("%w. lifetime too long. iat=%s, exp=%s", base.ErrTokenInvalid, c.IssuedAt, c.ExpiresAt)
	}
	return nil
}

func tokenError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w. err=%v", base.ErrSessionExpired, err)
	}
	return fmt.Errorf("%w. err=%v", base.ErrTokenInvalid, err)
}

// ---------------------------------------------------------------------------------------------------------------------

// verifyAccessToken 用kid找到组织的key pair，按key pair登记的算法校验
func verifyAccessToken(ctx context.Context, repo model.Repository, orgID uuid.UUID, raw string) (*AccessClaims, *model.PlaybackKeyPair, error) {
	var unverified AccessClaims
	t, _, err := jwt.NewParser().ParseUnverified(raw, &unverified)
	if err != nil {
		return nil, nil, tokenError(err)
	}
	kid, _ := t.Header["kid"].(string)
	keyID, err := uuid.Parse(kid)
	if err != nil {
		return nil, nil, fmt.Errorf("%w. kid=%s", base.ErrTokenInvalid, kid)
	}
	kp, err := repo.GetPlaybackKeyPair(ctx, orgID, keyID)
	if err != nil {
		return nil, nil, err
	}
	key, err := publicKeyOf(kp)
	if err != nil {
		return nil, nil, err
	}

	var claims AccessClaims
	_, err = jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{kp.Algorithm}), jwt.WithExpirationRequired(), jwt.WithIssuedAt())
	if err != nil {
		return nil, nil, tokenError(err)
	}
	if claims.OrganizationID != orgID.String() {
		return nil, nil, fmt.Errorf("%w. organization=%s, expected=%s", base.ErrTokenTarget, claims.OrganizationID, orgID)
	}
	return &claims, kp, nil
}

func publicKeyOf(kp *model.PlaybackKeyPair) (interface{}, error) {
	pem := []byte(kp.PublicKeyPEM)
	switch kp.Algorithm {
	case jwt.SigningMethodES256.Alg(), jwt.SigningMethodES384.Alg():
		key, err := jwt.ParseECPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("%w. key pair=%s, err=%v", base.ErrTokenInvalid, kp.ID, err)
		}
		return key, nil
	case jwt.SigningMethodRS256.Alg():
		key, err := jwt.ParseRSAPublicKeyFromPEM(pem)
		if err != nil {
			return nil, fmt.Errorf("%w. key pair=%s, err=%v", base.ErrTokenInvalid, kp.ID, err)
		}
		return key, nil
	}
	return nil, fmt.Errorf("%w. key pair=%s, algorithm=%s", base.ErrTokenInvalid, kp.ID, kp.Algorithm)
}
