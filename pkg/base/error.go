// Copyright 2021, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import (
	"errors"
	"fmt"
)

// ErrorKind 错误按关注点分类，而不是按类型名分类
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindProtocol
	KindResourceLimit
	KindUpstream
	KindAuth
	KindNotFound
	KindTimeout
)

func (k ErrorKind) String() string {
	switch k {
	case KindProtocol:
		return "Protocol"
	case KindResourceLimit:
		return "ResourceLimit"
	case KindUpstream:
		return "Upstream"
	case KindAuth:
		return "Auth"
	case KindNotFound:
		return "NotFound"
	case KindTimeout:
		return "Timeout"
	}
	return "Unknown"
}

type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string {
	return e.msg
}

func (e *kindError) Kind() ErrorKind {
	return e.kind
}

func newKindError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// KindOf 沿着wrap链查找第一个带分类的错误
func KindOf(err error) ErrorKind {
	var ke interface{ Kind() ErrorKind }
	if errors.As(err, &ke) {
		return ke.Kind()
	}
	return KindUnknown
}

// WrapUpstream 把存储、KV、数据库等外部依赖返回的错误标记为Upstream
func WrapUpstream(err error, what string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w. what=%s, err=%v", ErrUpstream, what, err)
}

// ----- 通用的 ---------------------------------------------------------------------------------------------------------

var (
	ErrShortBuffer = newKindError(KindProtocol, "lallive: buffer too short")
	ErrUpstream    = newKindError(KindUpstream, "lallive: upstream unavailable")
	ErrTimeout     = newKindError(KindTimeout, "lallive: timeout")
)

// ----- codec: pkg/flv pkg/aac pkg/avc pkg/hevc pkg/av1 pkg/mp4 -------------------------------------------------------

var (
	ErrTruncated  = newKindError(KindProtocol, "lallive.codec: truncated")
	ErrInvalidTag = newKindError(KindProtocol, "lallive.codec: invalid tag")

	ErrSamplingFrequencyIndex = newKindError(KindProtocol, "lallive.aac: invalid sampling frequency index")
	ErrAvc                    = newKindError(KindProtocol, "lallive.avc: fxxk")
	ErrHevc                   = newKindError(KindProtocol, "lallive.hevc: fxxk")
	ErrAv1                    = newKindError(KindProtocol, "lallive.av1: fxxk")
	ErrFlvFileHeader          = newKindError(KindProtocol, "lallive.flv: invalid flv file header")
)

// NewErrInvalidTag 携带原因的ErrInvalidTag，可以用 errors.Is(err, ErrInvalidTag) 判断
func NewErrInvalidTag(reason string) error {
	return fmt.Errorf("%w. reason=%s", ErrInvalidTag, reason)
}

// ----- pkg/rtmp ------------------------------------------------------------------------------------------------------

var (
	ErrAmfInvalidType = newKindError(KindProtocol, "lallive.rtmp: invalid amf0 type")
	ErrAmfTooShort    = newKindError(KindProtocol, "lallive.rtmp: too short to unmarshal amf0 data")
	ErrAmfNotExist    = newKindError(KindProtocol, "lallive.rtmp: not exist")

	ErrRtmpShortBuffer     = newKindError(KindProtocol, "lallive.rtmp: buffer too short")
	ErrRtmpUnexpectedMsg   = newKindError(KindProtocol, "lallive.rtmp: unexpected msg")
	ErrRtmpInvalidChunk    = newKindError(KindProtocol, "lallive.rtmp: invalid chunk size")
	ErrRtmpPlayUnsupported = newKindError(KindProtocol, "lallive.rtmp: play is not supported")
	ErrRtmpMissingApp      = newKindError(KindProtocol, "lallive.rtmp: missing app or stream name")
	ErrRtmpHandshake       = newKindError(KindProtocol, "lallive.rtmp: handshake failed")

	ErrRtmpTooManyHeaders  = newKindError(KindResourceLimit, "lallive.rtmp: too many chunk stream headers")
	ErrRtmpTooManyPartials = newKindError(KindResourceLimit, "lallive.rtmp: too many partial payloads")
	ErrRtmpPayloadTooLarge = newKindError(KindResourceLimit, "lallive.rtmp: partial payload too large")

	ErrRtmpPublishRejected = newKindError(KindAuth, "lallive.rtmp: publish rejected")
)

func NewErrAmfInvalidType(b byte) error {
	return fmt.Errorf("%w. b=%d", ErrAmfInvalidType, b)
}

func NewErrRtmpShortBuffer(need, actual int, msg string) error {
	return fmt.Errorf("%w. need=%d, actual=%d, msg=%s", ErrRtmpShortBuffer, need, actual, msg)
}

func NewErrRtmpInvalidChunkSize(size uint32) error {
	return fmt.Errorf("%w. size=%d", ErrRtmpInvalidChunk, size)
}

// ----- pkg/transmux --------------------------------------------------------------------------------------------------

var (
	ErrNoSequenceHeaders = newKindError(KindProtocol, "lallive.transmux: no sequence headers")
	ErrUnsupportedCodec  = newKindError(KindProtocol, "lallive.transmux: unsupported codec")
	ErrTimestampWrap     = newKindError(KindProtocol, "lallive.transmux: timestamp wrapped, stream reset")

	ErrSequenceHeaderChanged = newKindError(KindProtocol, "lallive.transmux: sequence header changed")
)

// ----- pkg/transcode -------------------------------------------------------------------------------------------------

var (
	ErrTranscodeInit        = newKindError(KindUpstream, "lallive.transcode: encoder init failed")
	ErrTranscodeSourceLost  = newKindError(KindUpstream, "lallive.transcode: source input lost")
	ErrTranscodeNoRendition = newKindError(KindNotFound, "lallive.transcode: rendition not configured")
)

// ----- pkg/store -----------------------------------------------------------------------------------------------------

var (
	ErrObjectNotFound   = newKindError(KindNotFound, "lallive.store: object not found")
	ErrKeyNotFound      = newKindError(KindNotFound, "lallive.store: key not found")
	ErrManifestVersion  = newKindError(KindProtocol, "lallive.store: unknown manifest version")
	ErrManifestTruncate = newKindError(KindProtocol, "lallive.store: manifest truncated")
)

// ----- pkg/model -----------------------------------------------------------------------------------------------------

var (
	ErrRoomNotFound       = newKindError(KindNotFound, "lallive.model: room not found")
	ErrConnectionNotFound = newKindError(KindNotFound, "lallive.model: connection not found")
	ErrRecordingNotFound  = newKindError(KindNotFound, "lallive.model: recording not found")
	ErrKeyPairNotFound    = newKindError(KindAuth, "lallive.model: playback key pair not found")
	ErrSessionNotFound    = newKindError(KindNotFound, "lallive.model: playback session not found")
)

// ----- pkg/ingest ----------------------------------------------------------------------------------------------------

var (
	ErrInvalidStreamKey  = newKindError(KindAuth, "lallive.ingest: invalid stream key")
	ErrStreamKeyMismatch = newKindError(KindAuth, "lallive.ingest: stream key mismatch")
	ErrNoGoLive          = newKindError(KindAuth, "lallive.ingest: missing go live permission")
	ErrRoomBusy          = newKindError(KindAuth, "lallive.ingest: room already has an active connection")
	ErrSourceFailed      = newKindError(KindUpstream, "lallive.ingest: source rendition failed")
)

// ----- pkg/edge ------------------------------------------------------------------------------------------------------

var (
	ErrTokenInvalid    = newKindError(KindAuth, "lallive.edge: invalid token")
	ErrTokenRequired   = newKindError(KindAuth, "lallive.edge: token required")
	ErrTokenTarget     = newKindError(KindAuth, "lallive.edge: token target mismatch")
	ErrSessionExpired  = newKindError(KindNotFound, "lallive.edge: session expired")
	ErrSessionRevoked  = newKindError(KindAuth, "lallive.edge: session revoked")
	ErrRateLimited     = newKindError(KindResourceLimit, "lallive.edge: rate limited")
	ErrRoomOffline     = newKindError(KindNotFound, "lallive.edge: room offline")
	ErrMediaNotReady   = newKindError(KindNotFound, "lallive.edge: media not available")
	ErrRenditionAbsent = newKindError(KindNotFound, "lallive.edge: rendition not found")
)

// ----- pkg/player ----------------------------------------------------------------------------------------------------

var (
	ErrPlayerTooManyErrors = newKindError(KindUpstream, "lallive.player: too many errors")
	ErrPlayerInflight      = newKindError(KindTimeout, "lallive.player: request inflight too long")
	ErrPlayerStatus        = newKindError(KindUpstream, "lallive.player: unexpected http status")
)
