// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/flv"
	"github.com/q191201771/lallive/pkg/rtmp"
	"github.com/q191201771/naza/pkg/bininfo"
	"github.com/q191201771/naza/pkg/nazalog"
)

// 将flv文件通过rtmp协议推送至lallive，用于测试ingest
//
// -r 表示当文件推送完毕后，是否循环推送
//
// Usage:
// ./bin/lallivepush -r -i /tmp/test.flv -o rtmp://127.0.0.1:1935/live/<stream key>

func main() {
	defer nazalog.Sync()

	filename, pushUrl, isRecursive := parseFlag()

	ps := rtmp.NewPushSession(func(option *rtmp.PushSessionOption) {
		option.PushTimeoutMs = 5000
	})
	if err := ps.Push(pushUrl); err != nil {
		nazalog.Errorf("push failed. url=%s, err=%+v", pushUrl, err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	nazalog.Infof("[%s] push succ. url=%s", ps.UniqueKey(), pushUrl)

	var baseTs uint32
	for {
		lastTs, err := pushFile(ps, filename, baseTs)
		if err != nil {
			nazalog.Errorf("[%s] push file failed. err=%+v", ps.UniqueKey(), err)
			break
		}
		if !isRecursive {
			break
		}
		baseTs = lastTs + 1
	}

	_ = ps.Unpublish()
	_ = ps.Dispose()
}

// pushFile 按时间戳节奏发送一遍文件，返回最后一个tag的时间戳
func pushFile(ps *rtmp.PushSession, filename string, baseTs uint32) (uint32, error) {
	ffr := flv.NewFileReader(nil)
	if err := ffr.Open(filename); err != nil {
		return baseTs, err
	}
	defer ffr.Dispose()
	if _, err := ffr.ReadFlvHeader(); err != nil {
		return baseTs, err
	}

	var (
		startTs   uint32
		startTime time.Time
		lastTs    = baseTs
		first     = true
	)
	for {
		tag, err := ffr.ReadTag()
		if errors.Is(err, io.EOF) {
			nazalog.Infof("[%s] EOF. last ts=%d", ps.UniqueKey(), lastTs)
			return lastTs, nil
		}
		if err != nil {
			return lastTs, err
		}

		msg := tag.RtmpMsg()
		msg.Header.TimestampAbs += baseTs
		// 时间戳回退的tag沿用上一个时间戳
		if msg.Header.TimestampAbs < lastTs {
			msg.Header.TimestampAbs = lastTs
		}

		if first {
			startTs = msg.Header.TimestampAbs
			startTime = time.Now()
			first = false
		}
		due := startTime.Add(time.Duration(msg.Header.TimestampAbs-startTs) * time.Millisecond)
		if d := time.Until(due); d > 0 {
			time.Sleep(d)
		}

		if err = ps.WriteMsg(msg); err != nil {
			return lastTs, err
		}
		lastTs = msg.Header.TimestampAbs

		select {
		case err = <-ps.WaitChan():
			return lastTs, fmt.Errorf("connection closed by server. err=%w", err)
		default:
		}
	}
}

func parseFlag() (string, string, bool) {
	binInfoFlag := flag.Bool("v", false, "show bin info")
	i := flag.String("i", "", "specify flv file")
	o := flag.String("o", "", "specify rtmp push url")
	r := flag.Bool("r", false, "recursive push if reach end of file")
	flag.Parse()
	if *binInfoFlag {
		_, _ = fmt.Fprint(os.Stderr, bininfo.StringifyMultiLine())
		_, _ = fmt.Fprintln(os.Stderr, base.LalliveFullInfo)
		os.Exit(0)
	}
	if *i == "" || *o == "" {
		flag.Usage()
		_, _ = fmt.Fprintf(os.Stderr, `Example:
  %s -i test.flv -o rtmp://127.0.0.1:1935/live/test
  %s -r -i test.flv -o rtmp://127.0.0.1:1935/live/test
`, os.Args[0], os.Args[0])
		base.OsExitAndWaitPressIfWindows(1)
	}
	return *i, *o, *r
}
