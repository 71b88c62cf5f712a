// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/connection"
	"github.com/q191201771/naza/pkg/unique"
)

// PushSession 推流客户端，用于测试和压测工具
type PushSession struct {
	uniqueKey string
	option    PushSessionOption

	conn     connection.Connection
	packer   *MessagePacker
	composer *ChunkComposer

	appName    string
	streamName string

	waitChan chan error
}

type PushSessionOption struct {
	// 从调用Push函数，到收到服务端publish结果信令的超时时间，为0则没有超时
	PushTimeoutMs int

	HandshakeComplexFlag bool
}

var defaultPushSessionOption = PushSessionOption{
	PushTimeoutMs:        10000,
	HandshakeComplexFlag: false,
}

type ModPushSessionOption func(option *PushSessionOption)

var pushSessionUk = unique.NewSingleGenerator("RTMPPUSH")

// 等待的信令已经收到，用于从RunLoop中返回
var errWaitDone = errors.New("lallive.rtmp: wait done")

func NewPushSession(modOptions ...ModPushSessionOption) *PushSession {
	opt := defaultPushSessionOption
	for _, fn := range modOptions {
		fn(&opt)
	}
	return &PushSession{
		uniqueKey: pushSessionUk.GenUniqueKey(),
		option:    opt,
		packer:    NewMessagePacker(),
		composer:  NewChunkComposer(),
		waitChan:  make(chan error, 1),
	}
}

// Push 阻塞直到收到服务端的publish结果信令，或者发生错误
//
// @param rawUrl: e.g. rtmp://127.0.0.1:1935/live/streamkey?k=v
//
func (s *PushSession) Push(rawUrl string) error {
	u, err := url.Parse(rawUrl)
	if err != nil {
		return err
	}
	if u.Scheme != "rtmp" {
		return fmt.Errorf("%w. invalid url scheme. url=%s", base.ErrRtmpMissingApp, rawUrl)
	}
	host := u.Host
	if u.Port() == "" {
		host = net.JoinHostPort(u.Hostname(), "1935")
	}
	path := strings.TrimPrefix(u.Path, "/")
	i := strings.Index(path, "/")
	if i == -1 {
		return fmt.Errorf("%w. url=%s", base.ErrRtmpMissingApp, rawUrl)
	}
	appName, streamName := path[:i], path[i+1:]
	if u.RawQuery != "" {
		streamName += "?" + u.RawQuery
	}
	tcUrl := fmt.Sprintf("rtmp://%s/%s", u.Host, appName)

	conn, err := net.DialTimeout("tcp", host, time.Duration(s.option.PushTimeoutMs)*time.Millisecond)
	if err != nil {
		return err
	}
	return s.PushConn(conn, appName, streamName, tcUrl)
}

// PushConn 在已经建立好的连接上完成握手和publish
func (s *PushSession) PushConn(conn net.Conn, appName, streamName, tcUrl string) error {
	s.appName = appName
	s.streamName = streamName
	s.conn = connection.New(conn, func(option *connection.Option) {
		option.ReadBufSize = readBufSize
	})
	Log.Infof("[%s] lifecycle new rtmp push session. app=%s, stream=%s", s.uniqueKey, appName, streamName)

	if s.option.PushTimeoutMs > 0 {
		_ = conn.SetDeadline(time.Now().Add(time.Duration(s.option.PushTimeoutMs) * time.Millisecond))
	}
	if err := s.doPush(tcUrl); err != nil {
		_ = s.conn.Close()
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	go func() {
		// 读取服务端后续的信令，比如ack，直接丢弃
		s.waitChan <- s.composer.RunLoop(s.conn, func(stream *Stream) error { return nil })
	}()
	return nil
}

func (s *PushSession) doPush(tcUrl string) error {
	if err := NewHandshakeClient(s.option.HandshakeComplexFlag).Do(s.conn); err != nil {
		return err
	}
	Log.Infof("[%s] handshake succ.", s.uniqueKey)

	if err := s.packer.writeChunkSize(s.conn, LocalChunkSize); err != nil {
		return err
	}
	if err := s.packer.writeConnect(s.conn, s.appName, tcUrl); err != nil {
		return err
	}
	if err := s.waitResult(tidClientConnect); err != nil {
		return err
	}
	if err := s.packer.writeCreateStream(s.conn); err != nil {
		return err
	}
	if err := s.waitResult(tidClientCreateStream); err != nil {
		return err
	}
	if err := s.packer.writePublish(s.conn, s.appName, s.streamName, Msid1); err != nil {
		return err
	}
	return s.waitOnStatusPublish()
}

func (s *PushSession) waitResult(tid int) error {
	return s.waitCommand(func(cmd string, gotTid int, stream *Stream) error {
		if cmd == "_result" && gotTid == tid {
			return errWaitDone
		}
		if cmd == "_error" {
			return fmt.Errorf("%w. tid=%d", base.ErrRtmpUnexpectedMsg, gotTid)
		}
		return nil
	})
}

func (s *PushSession) waitOnStatusPublish() error {
	return s.waitCommand(func(cmd string, tid int, stream *Stream) error {
		if cmd != "onStatus" {
			return nil
		}
		if err := stream.msg.readNull(); err != nil {
			return err
		}
		opa, err := stream.msg.readObjectWithType()
		if err != nil {
			return err
		}
		code, _ := opa.FindString("code")
		Log.Infof("[%s] -----> onStatus('%s').", s.uniqueKey, code)
		if code == "NetStream.Publish.Start" {
			return errWaitDone
		}
		return fmt.Errorf("%w. code=%s", base.ErrRtmpPublishRejected, code)
	})
}

func (s *PushSession) waitCommand(onCommand func(cmd string, tid int, stream *Stream) error) error {
	err := s.composer.RunLoop(s.conn, func(stream *Stream) error {
		if stream.header.MsgTypeId != base.RtmpTypeIdCommandMessageAmf0 {
			return nil
		}
		cmd, err := stream.msg.readStringWithType()
		if err != nil {
			return err
		}
		tid, err := stream.msg.readNumberWithType()
		if err != nil {
			return err
		}
		return onCommand(cmd, tid, stream)
	})
	if err == errWaitDone {
		return nil
	}
	return err
}

// WriteMsg 发送音视频或metadata
func (s *PushSession) WriteMsg(msg base.RtmpMsg) error {
	return s.packer.writeAvMsg(s.conn, msg)
}

// WriteRaw 发送业务方自己打包好的chunk数据
func (s *PushSession) WriteRaw(b []byte) error {
	_, err := s.conn.Write(b)
	return err
}

// Unpublish 正常结束推流
func (s *PushSession) Unpublish() error {
	return s.packer.writeDeleteStream(s.conn, Msid1)
}

func (s *PushSession) Dispose() error {
	Log.Infof("[%s] lifecycle dispose rtmp push session.", s.uniqueKey)
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *PushSession) WaitChan() <-chan error {
	return s.waitChan
}

func (s *PushSession) UniqueKey() string {
	return s.uniqueKey
}
