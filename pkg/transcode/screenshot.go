// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/q191201771/lallive/pkg/base"
)

// Screenshotter 从一个segment中取第一帧生成jpeg
type Screenshotter interface {
	Screenshot(ctx context.Context, init []byte, segment []byte) ([]byte, error)
}

type FfmpegScreenshotter struct {
	Path string

	// Width 输出宽度，0表示保持原始尺寸
	Width uint32
}

func NewFfmpegScreenshotter(path string, width uint32) *FfmpegScreenshotter {
	return &FfmpegScreenshotter{Path: path, Width: width}
}

func (s *FfmpegScreenshotter) Screenshot(ctx context.Context, init []byte, segment []byte) ([]byte, error) {
	args := []string{"-hide_banner", "-loglevel", "error", "-f", "mp4", "-i", "pipe:0", "-frames:v", "1"}
	if s.Width > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=%d:-2", s.Width))
	}
	args = append(args, "-f", "image2", "-c:v", "mjpeg", "pipe:1")

	cmd := exec.CommandContext(ctx, s.Path, args...)
	in := make([]byte, 0, len(init)+len(segment))
	in = append(in, init...)
	in = append(in, segment...)
	cmd.Stdin = bytes.NewReader(in)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, base.WrapUpstream(fmt.Errorf("%v: %s", err, bytes.TrimSpace(stderr.Bytes())), "ffmpeg screenshot")
	}
	if stdout.Len() == 0 {
		return nil, base.WrapUpstream(fmt.Errorf("empty output"), "ffmpeg screenshot")
	}
	return stdout.Bytes(), nil
}
