// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/mp4"
	"github.com/q191201771/lallive/pkg/transmux"
	"golang.org/x/sync/errgroup"
)

const MovFlags = "frag_keyframe+frag_every_frame+empty_moov+delay_moov+default_base_moof"

type FfmpegOption struct {
	Path         string
	VideoEncoder string
	AudioEncoder string
	Preset       string
}

var DefaultFfmpegOption = FfmpegOption{
	Path:         "ffmpeg",
	VideoEncoder: "libx264",
	AudioEncoder: "aac",
	Preset:       "veryfast",
}

// FfmpegTranscoder 每个连接一个ffmpeg进程，源流从stdin写入，每个target一个输出管道（fd 3起）
type FfmpegTranscoder struct {
	uniqueKey string
	option    FfmpegOption
	sink      Sink
	targets   []Target

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	outputs errgroup.Group
	running bool
}

func NewFfmpegTranscoder(sink Sink, targets []Target, option FfmpegOption) *FfmpegTranscoder {
	uk := base.GenUkTranscoder()
	Log.Infof("[%s] lifecycle new ffmpeg transcoder. targets=%d", uk, len(targets))
	return &FfmpegTranscoder{
		uniqueKey: uk,
		option:    option,
		sink:      sink,
		targets:   sortTargets(targets),
	}
}

func (t *FfmpegTranscoder) UniqueKey() string {
	return t.uniqueKey
}

func (t *FfmpegTranscoder) Renditions() []base.Rendition {
	out := make([]base.Rendition, 0, len(t.targets))
	for _, target := range t.targets {
		out = append(out, target.Rendition)
	}
	return out
}

func (t *FfmpegTranscoder) Start(ctx context.Context, init *transmux.InitSegment) error {
	// 编码器不可用或者配置不合法的target直接失败，不影响其他target
	encoders, probeErr := probeEncoders(t.option.Path)
	var runnable []Target
	for _, target := range t.targets {
		if err := t.check(target, encoders, probeErr); err != nil {
			Log.Warnf("[%s] target init failed. rendition=%s, err=%+v", t.uniqueKey, target.Rendition, err)
			t.sink.OnTrackFailed(target.Rendition, err)
			continue
		}
		runnable = append(runnable, target)
	}
	t.targets = runnable
	if len(runnable) == 0 {
		return nil
	}

	readers := make([]*os.File, len(runnable))
	writers := make([]*os.File, len(runnable))
	for i := range runnable {
		r, w, err := os.Pipe()
		if err != nil {
			closeFiles(readers[:i])
			closeFiles(writers[:i])
			return base.WrapUpstream(err, "create output pipe")
		}
		readers[i], writers[i] = r, w
	}

	args := BuildFfmpegArgs(t.option, runnable, init.Fps)
	Log.Infof("[%s] start ffmpeg. args=%s", t.uniqueKey, strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, t.option.Path, args...)
	cmd.ExtraFiles = writers
	cmd.Stderr = &logWriter{uniqueKey: t.uniqueKey}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		closeFiles(readers)
		closeFiles(writers)
		return base.WrapUpstream(err, "ffmpeg stdin")
	}
	if err := cmd.Start(); err != nil {
		closeFiles(readers)
		closeFiles(writers)
		for _, target := range runnable {
			t.sink.OnTrackFailed(target.Rendition, fmt.Errorf("%w. err=%v", base.ErrTranscodeInit, err))
		}
		t.targets = nil
		return nil
	}
	// 子进程持有写端，父进程关闭自己的一份，子进程退出后读端才能读到EOF
	closeFiles(writers)

	t.cmd = cmd
	t.stdin = stdin
	t.running = true
	for i := range runnable {
		target, r := runnable[i], readers[i]
		t.outputs.Go(func() error {
			defer r.Close()
			t.readOutput(target, r)
			return nil
		})
	}

	if _, err := stdin.Write(init.Raw); err != nil {
		return fmt.Errorf("%w. err=%v", base.ErrTranscodeSourceLost, err)
	}
	return nil
}

func (t *FfmpegTranscoder) WriteFragment(frag *transmux.Fragment) error {
	if !t.running {
		return nil
	}
	if _, err := t.stdin.Write(frag.Raw); err != nil {
		t.running = false
		return fmt.Errorf("%w. err=%v", base.ErrTranscodeSourceLost, err)
	}
	return nil
}

func (t *FfmpegTranscoder) Close() error {
	if t.cmd == nil {
		return nil
	}
	Log.Infof("[%s] lifecycle dispose ffmpeg transcoder.", t.uniqueKey)
	t.running = false
	_ = t.stdin.Close()
	_ = t.outputs.Wait()
	err := t.cmd.Wait()
	t.cmd = nil
	if err != nil {
		Log.Warnf("[%s] ffmpeg exit. err=%+v", t.uniqueKey, err)
	}
	return nil
}

func (t *FfmpegTranscoder) check(target Target, encoders map[string]struct{}, probeErr error) error {
	if probeErr != nil {
		return fmt.Errorf("%w. probe=%v", base.ErrTranscodeInit, probeErr)
	}
	var encoder string
	switch {
	case target.Video != nil:
		if target.Video.Width == 0 || target.Video.Height == 0 {
			return fmt.Errorf("%w. invalid size", base.ErrTranscodeInit)
		}
		encoder = t.option.VideoEncoder
	case target.Audio != nil:
		encoder = t.option.AudioEncoder
	default:
		return fmt.Errorf("%w. neither video nor audio", base.ErrTranscodeInit)
	}
	if _, ok := encoders[encoder]; !ok {
		return fmt.Errorf("%w. encoder=%s", base.ErrTranscodeInit, encoder)
	}
	return nil
}

func (t *FfmpegTranscoder) readOutput(target Target, r io.Reader) {
	fail := func(err error) {
		t.sink.OnTrackFailed(target.Rendition, err)
		_, _ = io.Copy(io.Discard, r)
	}

	fr := mp4.NewFragmentReader(r)
	raw, moov, err := fr.ReadInit()
	if err != nil {
		fail(fmt.Errorf("%w. rendition=%s, err=%v", base.ErrTranscodeInit, target.Rendition, err))
		return
	}
	ti, err := DescribeInit(raw, moov)
	if err != nil {
		fail(fmt.Errorf("%w. rendition=%s, err=%v", base.ErrTranscodeInit, target.Rendition, err))
		return
	}
	ti.Bandwidth = target.Bandwidth()
	if target.Video != nil && ti.Fps == 0 {
		ti.Fps = target.Video.Fps
	}
	if err := t.sink.OnTrackInit(target.Rendition, ti); err != nil {
		fail(err)
		return
	}

	for {
		frag, err := fr.ReadFragment()
		if err != nil {
			if err == io.EOF {
				return
			}
			fail(fmt.Errorf("%w. rendition=%s, err=%v", base.ErrTranscodeSourceLost, target.Rendition, err))
			return
		}
		ft := frag.Track(ti.TrackId)
		if ft == nil {
			continue
		}
		if err := t.sink.OnTrackFragment(target.Rendition, &TrackFragment{
			Raw:        frag.Raw,
			TrackId:    ti.TrackId,
			DecodeTime: ft.DecodeTime,
			Duration:   ft.Duration,
			Timescale:  ti.Timescale,
			Keyframe:   ft.Keyframe,
		}); err != nil {
			fail(err)
			return
		}
	}
}

// BuildFfmpegArgs 视频target按分辨率从大到小串成缩放链，每一级的输出再经过fps限制
//
// 输出的顺序和targets一致，第i个输出写到fd 3+i
//
func BuildFfmpegArgs(option FfmpegOption, targets []Target, srcFps float64) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-f", "mp4", "-i", "pipe:0"}

	var videos []int
	for i := range targets {
		if targets[i].Video != nil {
			videos = append(videos, i)
		}
	}

	var graph []string
	labels := make(map[int]string)
	in := "[0:v]"
	for n, i := range videos {
		v := targets[i].Video
		fps := OutputFps(srcFps, v.Fps)
		out := fmt.Sprintf("[v%d]", n)
		labels[i] = out
		if n == len(videos)-1 {
			graph = append(graph, fmt.Sprintf("%sscale=%d:%d,fps=%s%s", in, v.Width, v.Height, formatFps(fps), out))
			break
		}
		branch := fmt.Sprintf("[s%d]", n)
		chain := fmt.Sprintf("[c%d]", n)
		graph = append(graph,
			fmt.Sprintf("%sscale=%d:%d,split=2%s%s", in, v.Width, v.Height, branch, chain),
			fmt.Sprintf("%sfps=%s%s", branch, formatFps(fps), out))
		in = chain
	}
	if len(graph) > 0 {
		args = append(args, "-filter_complex", strings.Join(graph, ";"))
	}

	for i, target := range targets {
		fd := 3 + i
		if v := target.Video; v != nil {
			fps := OutputFps(srcFps, v.Fps)
			gop := int(math.Round(2 * fps))
			if gop <= 0 {
				gop = 60
			}
			bitrate := strconv.FormatUint(uint64(v.Bitrate), 10)
			args = append(args, "-map", labels[i], "-c:v", option.VideoEncoder)
			if option.Preset != "" {
				args = append(args, "-preset", option.Preset)
			}
			if p, ok := MapAvcProfile(v.Profile); ok {
				args = append(args, "-profile:v", p)
			}
			if v.Level != 0 {
				args = append(args, "-level:v", MapAvcLevel(v.Level))
			}
			args = append(args,
				"-b:v", bitrate, "-maxrate", bitrate, "-bufsize", bitrate,
				"-g", strconv.Itoa(gop), "-bf", "0", "-an")
		} else if a := target.Audio; a != nil {
			args = append(args, "-map", "0:a", "-c:a", option.AudioEncoder)
			if p, ok := MapAacProfile(a.ObjectType); ok {
				args = append(args, "-profile:a", p)
			}
			args = append(args,
				"-b:a", strconv.FormatUint(uint64(a.Bitrate), 10),
				"-ar", strconv.FormatUint(uint64(a.SampleRate), 10),
				"-ac", strconv.Itoa(int(a.Channels)),
				"-vn")
		}
		args = append(args, "-f", "mp4", "-movflags", MovFlags, fmt.Sprintf("pipe:%d", fd))
	}
	return args
}

// sortTargets 视频按分辨率从大到小在前，音频在后
func sortTargets(targets []Target) []Target {
	out := append([]Target(nil), targets...)
	sort.SliceStable(out, func(i, j int) bool {
		vi, vj := out[i].Video, out[j].Video
		switch {
		case vi != nil && vj != nil:
			return vi.Width*vi.Height > vj.Width*vj.Height
		case vi != nil:
			return true
		}
		return false
	})
	return out
}

func formatFps(fps float64) string {
	return strconv.FormatFloat(fps, 'f', -1, 64)
}

func closeFiles(fs []*os.File) {
	for _, f := range fs {
		if f != nil {
			_ = f.Close()
		}
	}
}

var (
	encodersMutex sync.Mutex
	encodersCache = make(map[string]map[string]struct{})
)

// probeEncoders `ffmpeg -encoders` 的结果，按ffmpeg路径缓存
func probeEncoders(path string) (map[string]struct{}, error) {
	encodersMutex.Lock()
	defer encodersMutex.Unlock()
	if m, ok := encodersCache[path]; ok {
		return m, nil
	}
	out, err := exec.Command(path, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, err
	}
	m := parseEncoders(out)
	if len(m) == 0 {
		return nil, errors.New("no encoder listed")
	}
	encodersCache[path] = m
	return m, nil
}

// parseEncoders 每行形如 " V....D libx264   libx264 H.264 / AVC ..."
func parseEncoders(out []byte) map[string]struct{} {
	m := make(map[string]struct{})
	s := bufio.NewScanner(bytes.NewReader(out))
	started := false
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "------" {
			started = true
			continue
		}
		if !started {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			m[fields[1]] = struct{}{}
		}
	}
	return m
}

// logWriter 把ffmpeg的stderr按行打到日志里
type logWriter struct {
	uniqueKey string
	buf       []byte
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(w.buf[:i]); len(line) > 0 {
			Log.Warnf("[%s] ffmpeg: %s", w.uniqueKey, line)
		}
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}
