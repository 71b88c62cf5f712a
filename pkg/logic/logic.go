// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"path/filepath"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/ingest"
	"github.com/q191201771/lallive/pkg/model"
)

var Log = base.Log

type ILalliveServer interface {
	// RunLoop 阻塞直到Dispose或者收到退出信号
	RunLoop() error
	Dispose()
}

// NewLalliveServer 创建一个lallive server
//
// @param modOption: 定制化配置。可变参数，如果不关心，可以不填，具体字段见 Option
func NewLalliveServer(modOption ...ModOption) (ILalliveServer, error) {
	return NewServerManager(modOption...)
}

type Option struct {
	// ConfFilename 配置文件。
	//
	// 注意，如果为空，内部会尝试从 DefaultConfFilenameList 读取默认配置文件
	ConfFilename string

	// ConfRawContent 配置内容，json格式，优先级高于 ConfFilename
	ConfRawContent []byte

	// Repository 业务方自己的数据源。为nil时按配置中的database创建
	Repository model.Repository

	// TranscoderFactory 为nil时按配置中的transcode创建ffmpeg转码器
	TranscoderFactory ingest.TranscoderFactory
}

var defaultOption = Option{}

type ModOption func(option *Option)

// DefaultConfFilenameList 没有指定配置文件时，按顺序作为优先级，找到第一个存在的并使用
var DefaultConfFilenameList = []string{
	filepath.FromSlash("lallive.conf.json"),
	filepath.FromSlash("./conf/lallive.conf.json"),
	filepath.FromSlash("../lallive.conf.json"),
	filepath.FromSlash("../conf/lallive.conf.json"),
	filepath.FromSlash("../../lallive.conf.json"),
	filepath.FromSlash("../../conf/lallive.conf.json"),
}
