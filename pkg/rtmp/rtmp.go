// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package rtmp 服务端推流会话：握手、chunk合并、AMF0信令
//
// 只支持publish，不支持play
//
package rtmp

const (
	csidProtocolControl = 2
	csidOverConnection  = 3
	csidOverStream      = 5

	CsidAmf   = 5
	CsidAudio = 6
	CsidVideo = 7
)

const (
	tidClientConnect      = 1
	tidClientCreateStream = 2
	tidClientPublish      = 3
)

// basic header 3 | message header 11 | extended ts 4
const maxHeaderSize = 18

// rtmp头中3字节时间戳的最大值
const maxTimestampInMessageHeader uint32 = 0xFFFFFF

const (
	// defaultChunkSize 未收到对端设置chunk size时的默认值
	defaultChunkSize = 128

	MinChunkSize = 128
	MaxChunkSize = 65536
)

// chunk合并时的资源上限，超过任意一个都是致命错误
const (
	MaxChunkStreams    = 100
	MaxPartialPayloads = 4
	MaxPayloadSize     = 10 * 1024 * 1024
)

const (
	// Msid1 publish、onStatus 以及 音视频数据
	Msid1 = 1
)

const (
	peerBandwidthLimitTypeHard    = uint8(0)
	peerBandwidthLimitTypeSoft    = uint8(1)
	peerBandwidthLimitTypeDynamic = uint8(2)
)
