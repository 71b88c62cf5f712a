// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "github.com/q191201771/naza/pkg/nazalog"

var Log = nazalog.GetGlobalLogger()

// ----- rtmp --------------------
var (
	// RtmpServerSessionReadTimeoutMs rtmp server pub session 空闲读超时
	RtmpServerSessionReadTimeoutMs = 2500

	// RtmpServerSessionWriteTimeoutMs rtmp server pub session 写超时
	RtmpServerSessionWriteTimeoutMs = 2000
)

// ----- edge --------------------
var (
	// AddCors2EdgeFlag 是否为edge的响应增加跨域相关的http header
	AddCors2EdgeFlag = true
)
