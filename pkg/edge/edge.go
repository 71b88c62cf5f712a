// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package edge 观众侧的http服务
//
// 只读manifest KV和对象存储，把观众的请求翻译成带token校验的读取。
// 直播的master playlist里签发session token，之后的rendition playlist和媒体请求都使用它。
//
package edge

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/metrics"
)

var Log = base.Log

type Option struct {
	// SessionTtlMs session token的有效期，也是每次refresh延长的时长，不能超过10分钟
	SessionTtlMs int

	// BlockingTimeoutMs blocking reload最长等待时间，超时返回当前的playlist
	BlockingTimeoutMs int

	// MediaWaitMs 请求还没有产生的part或segment时最长等待时间
	MediaWaitMs int

	// PartSegments 最近多少个segment在playlist中列出part
	PartSegments int

	// TrustedHops 前面有多少层可信的反向代理，0表示直接使用socket对端地址
	TrustedHops   int
	TrustedHeader string

	// DvrBaseUrl 对象存储对外的地址，为空时由edge自己在/dvr/下提供
	DvrBaseUrl string

	// RateLimit 每个access token（没有时按ip）在窗口内允许的控制面请求数，0表示不限制
	RateLimit         int
	RateLimitWindowMs int

	// RevocationCacheMs 撤销记录在进程内缓存的时长，0表示不缓存
	RevocationCacheMs int

	// Signer 签发和校验edge内部token，为nil时启动时生成临时的ES256密钥
	Signer *TokenSigner

	// Limiter 为nil时使用进程内的计数
	Limiter RateLimiter

	Metrics *metrics.Metrics
}

const maxSessionTtlMs = 10 * 60 * 1000

var defaultOption = Option{
	SessionTtlMs:      maxSessionTtlMs,
	BlockingTimeoutMs: 5000,
	MediaWaitMs:       5000,
	PartSegments:      3,
	TrustedHops:       0,
	TrustedHeader:     "X-Forwarded-For",
	DvrBaseUrl:        "",
	RateLimit:         120,
	RateLimitWindowMs: 60000,
	RevocationCacheMs: 1000,
}

type ModOption func(option *Option)

func DefaultOption() Option {
	return defaultOption
}

const (
	contentTypeM3u8 = "application/vnd.apple.mpegurl"
	contentTypeJson = "application/json"
	contentTypeMp4  = "video/mp4"
	contentTypeJpeg = "image/jpeg"

	headerRateLimitRemaining = "x-ratelimit-remaining"
	headerRateLimitReset     = "x-ratelimit-reset"

	// 带上这个query参数时playlist以json返回
	queryJson = "scuffle_json"
)
