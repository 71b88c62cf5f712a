// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package base

import "strings"

// LalliveVersion 整个工程的版本号。注意，该变量由外部脚本修改维护，不要手动在代码中修改
//
const LalliveVersion = "v0.1.0"

// ConfVersion 配置文件的版本号
//
const ConfVersion = "v0.1.0"

var (
	LalliveLibraryName = "lallive"
	LalliveGithubRepo  = "github.com/q191201771/lallive"
	LalliveGithubSite  = "https://github.com/q191201771/lallive"

	// LalliveFullInfo e.g. lallive v0.1.0 (github.com/q191201771/lallive)
	LalliveFullInfo = LalliveLibraryName + " " + LalliveVersion + " (" + LalliveGithubRepo + ")"

	// LalliveVersionDot e.g. 0.1.0
	LalliveVersionDot string

	// LalliveVersionComma e.g. 0,1,0
	LalliveVersionComma string
)

var (
	// RtmpHandshakeWaterMark 植入rtmp握手随机字符串中
	RtmpHandshakeWaterMark string

	// RtmpConnectResultVersion 植入rtmp server中的connect result信令中
	// 注意，有两个object，第一个object中的fmsVer我们保持通用公认的值，在第二个object中植入
	// e.g. 0,1,0
	RtmpConnectResultVersion string

	// EdgeServer e.g. lallive0.1.0
	EdgeServer string

	// PlayerUa e.g. lallive/0.1.0
	PlayerUa string
)

func init() {
	LalliveVersionDot = strings.TrimPrefix(LalliveVersion, "v")
	LalliveVersionComma = strings.Replace(LalliveVersionDot, ".", ",", -1)

	RtmpHandshakeWaterMark = LalliveFullInfo
	RtmpConnectResultVersion = LalliveVersionComma
	EdgeServer = LalliveLibraryName + LalliveVersionDot
	PlayerUa = LalliveLibraryName + "/" + LalliveVersionDot
}
