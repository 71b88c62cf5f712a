// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/player"
	"github.com/q191201771/naza/pkg/bininfo"
	"github.com/q191201771/naza/pkg/nazalog"
	"golang.org/x/sync/errgroup"
)

// 模拟观众拉流，每个rendition一个TrackRunner，打印收到的事件，用于测试edge
//
// Usage:
// ./bin/lalliveplay -i http://127.0.0.1:8080/<org>/<room>.m3u8 -t audio_source,video_source -b 3 -d 60

// wallClock 收到第一个媒体数据后，播放位置随墙上时间前进
type wallClock struct {
	mu     sync.Mutex
	buffer float64
	base   float64
	start  time.Time
}

func (c *wallClock) CurrentTime() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start.IsZero() {
		return 0
	}
	return c.base + time.Since(c.start).Seconds()
}

func (c *wallClock) TargetBuffer() float64 {
	return c.buffer
}

func (c *wallClock) onMedia(startTime float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.start.IsZero() {
		c.base = startTime
		c.start = time.Now()
	}
}

func main() {
	defer nazalog.Sync()

	masterUrl, renditions, buffer, duration, lowLatency := parseFlag()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, time.Duration(duration)*time.Second)
		defer cancel()
	}
	go base.RunSignalHandler(ctx, cancel)

	m, err := player.FetchMaster(ctx, nil, masterUrl)
	if err != nil {
		nazalog.Errorf("fetch master playlist failed. url=%s, err=%+v", masterUrl, err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	nazalog.Infof("master playlist. session=%s, variants=%d", m.Session, len(m.Variants))

	clock := &wallClock{buffer: buffer}
	g, gctx := errgroup.WithContext(ctx)
	for _, v := range m.Variants {
		if len(renditions) > 0 && !renditions[string(v.Rendition)] {
			continue
		}
		r, err := player.NewTrackRunner(v.Uri, clock, func(option *player.Option) {
			option.LowLatency = lowLatency
		})
		if err != nil {
			nazalog.Errorf("create track runner failed. uri=%s, err=%+v", v.Uri, err)
			continue
		}
		nazalog.Infof("[%s] start track. rendition=%s, uri=%s", r.UniqueKey(), v.Rendition, v.Uri)
		g.Go(func() error {
			return r.Run(gctx)
		})
		g.Go(func() error {
			consume(r, clock)
			return nil
		})
	}

	if err = g.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		nazalog.Errorf("play failed. err=%+v", err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	nazalog.Info("play done.")
}

func consume(r *player.TrackRunner, clock *wallClock) {
	var bytes, count int
	for e := range r.Events() {
		switch ev := e.(type) {
		case player.InitEvent:
			nazalog.Infof("[%s] init. len=%d", r.UniqueKey(), len(ev.Data))
		case player.MediaEvent:
			clock.onMedia(ev.StartTime)
			bytes += len(ev.Data)
			count++
			nazalog.Debugf("[%s] media. idx=%d, part=%t, start=%.3f, duration=%.3f, len=%d",
				r.UniqueKey(), ev.Idx, ev.Part, ev.StartTime, ev.Duration, len(ev.Data))
		case player.DiscontinuityEvent:
			nazalog.Warnf("[%s] discontinuity. gap=[%.3f, %.3f)", r.UniqueKey(), ev.GapStart, ev.GapEnd)
		case player.FatalEvent:
			nazalog.Errorf("[%s] fatal. err=%+v", r.UniqueKey(), ev.Err)
		}
	}
	nazalog.Infof("[%s] track done. count=%d, bytes=%d", r.UniqueKey(), count, bytes)
}

func parseFlag() (masterUrl string, renditions map[string]bool, buffer float64, duration int, lowLatency bool) {
	binInfoFlag := flag.Bool("v", false, "show bin info")
	i := flag.String("i", "", "specify master playlist url")
	t := flag.String("t", "", "specify renditions, comma separated, empty means all")
	b := flag.Float64("b", 3, "specify target buffer in seconds")
	d := flag.Int("d", 0, "specify play duration in seconds, 0 means until the stream ends")
	ll := flag.Bool("ll", true, "request parts instead of segments")
	flag.Parse()
	if *binInfoFlag {
		_, _ = fmt.Fprint(os.Stderr, bininfo.StringifyMultiLine())
		_, _ = fmt.Fprintln(os.Stderr, base.LalliveFullInfo)
		os.Exit(0)
	}
	if *i == "" {
		flag.Usage()
		_, _ = fmt.Fprintf(os.Stderr, `Example:
  %s -i http://127.0.0.1:8080/<org>/<room>.m3u8
  %s -i http://127.0.0.1:8080/<org>/<room>.m3u8 -t audio_source -ll=false -d 60
`, os.Args[0], os.Args[0])
		base.OsExitAndWaitPressIfWindows(1)
	}
	renditions = make(map[string]bool)
	for _, s := range strings.Split(*t, ",") {
		if s = strings.TrimSpace(s); s != "" {
			renditions[s] = true
		}
	}
	return *i, renditions, *b, *d, *ll
}
