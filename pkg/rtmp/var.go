// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import "github.com/q191201771/lallive/pkg/base"

var Log = base.Log

// 一些更专业的配置项，暂时只在该源码文件中配置，不提供外部配置接口
var (
	readBufSize               = 4096    // session 读缓冲的大小
	LocalChunkSize            = 4096    // 本端设置的 chunk size
	windowAcknowledgementSize = 5000000 // 本端设置的 window acknowledgement size
	peerBandwidth             = 5000000
)
