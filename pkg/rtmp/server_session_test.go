// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"net"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

type mockObserver struct {
	reject error
	msgs   []base.RtmpMsg

	app    string
	stream string
}

func (o *mockObserver) OnNewRtmpPubSession(session *ServerSession) error {
	o.app = session.AppName()
	o.stream = session.StreamName()
	if o.reject != nil {
		return o.reject
	}
	session.SetPubSessionObserver(o)
	return nil
}

func (o *mockObserver) OnReadRtmpAvMsg(msg base.RtmpMsg) error {
	o.msgs = append(o.msgs, msg.Clone())
	return nil
}

func startServerSession(obs ServerSessionObserver) (*ServerSession, net.Conn, chan error) {
	sc, cc := net.Pipe()
	session := NewServerSession(obs, sc)
	done := make(chan error, 1)
	go func() {
		done <- session.RunLoop()
	}()
	return session, cc, done
}

func TestServerSession_Publish(t *testing.T) {
	obs := &mockObserver{}
	session, cc, done := startServerSession(obs)
	defer session.Dispose()

	ps := NewPushSession()
	err := ps.PushConn(cc, "live", "live_abc_secret?token=1", "rtmp://127.0.0.1/live")
	assert.Equal(t, nil, err)
	defer ps.Dispose()
	assert.Equal(t, "live", obs.app)
	assert.Equal(t, "live_abc_secret", obs.stream)
	assert.Equal(t, "token=1", session.RawQuery())
	assert.Equal(t, ServerSessionStateReady, session.State())
	assert.Equal(t, true, session.Published())

	meta := &bytes.Buffer{}
	_ = Amf0.WriteString(meta, "@setDataFrame")
	_ = Amf0.WriteString(meta, "onMetaData")
	_ = Amf0.WriteEcmaArray(meta, ObjectPairArray{{Key: "width", Value: 1280}})
	err = ps.WriteMsg(base.RtmpMsg{Header: base.RtmpHeader{MsgTypeId: base.RtmpTypeIdMetadata}, Payload: meta.Bytes()})
	assert.Equal(t, nil, err)

	video := genPayload(5000)
	video[0] = 0x17
	err = ps.WriteMsg(base.RtmpMsg{Header: base.RtmpHeader{MsgTypeId: base.RtmpTypeIdVideo, TimestampAbs: 40}, Payload: video})
	assert.Equal(t, nil, err)
	err = ps.WriteMsg(base.RtmpMsg{Header: base.RtmpHeader{MsgTypeId: base.RtmpTypeIdAudio, TimestampAbs: 43}, Payload: []byte{0xAF, 0x01, 0x21}})
	assert.Equal(t, nil, err)

	assert.Equal(t, nil, ps.Unpublish())
	assert.Equal(t, nil, <-done)
	assert.Equal(t, true, session.StoppedCleanly())

	assert.Equal(t, 3, len(obs.msgs))
	// @setDataFrame 被去掉
	v, _, err := Amf0.ReadString(obs.msgs[0].Payload)
	assert.Equal(t, nil, err)
	assert.Equal(t, "onMetaData", v)
	assert.Equal(t, uint32(len(obs.msgs[0].Payload)), obs.msgs[0].Header.MsgLen)
	assert.Equal(t, video, obs.msgs[1].Payload)
	assert.Equal(t, uint32(40), obs.msgs[1].Header.TimestampAbs)
	assert.Equal(t, true, obs.msgs[2].IsAudio())
	assert.Equal(t, uint32(43), obs.msgs[2].Dts())
}

func TestServerSession_PublishRejected(t *testing.T) {
	obs := &mockObserver{reject: errors.New("stream key mismatch")}
	session, cc, done := startServerSession(obs)
	defer session.Dispose()

	ps := NewPushSession()
	err := ps.PushConn(cc, "live", "live_abc_bad", "rtmp://127.0.0.1/live")
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))

	err = <-done
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPublishRejected))
	assert.Equal(t, base.KindAuth, base.KindOf(err))
	assert.Equal(t, false, session.Published())
	assert.Equal(t, 0, len(obs.msgs))
}

// rawClient 完成握手后，丢弃服务端发送的所有数据
func rawClient(t *testing.T, cc net.Conn) *MessagePacker {
	assert.Equal(t, nil, NewHandshakeClient(false).Do(cc))
	go func() {
		_, _ = io.Copy(ioutil.Discard, cc)
	}()
	return NewMessagePacker()
}

func TestServerSession_PlayUnsupported(t *testing.T) {
	session, cc, done := startServerSession(&mockObserver{})
	defer session.Dispose()
	defer cc.Close()

	packer := rawClient(t, cc)
	assert.Equal(t, nil, packer.writeConnect(cc, "live", "rtmp://127.0.0.1/live"))

	_ = Amf0.WriteString(packer.b, "play")
	_ = Amf0.WriteNumber(packer.b, 4)
	_ = Amf0.WriteNull(packer.b)
	_ = Amf0.WriteString(packer.b, "test")
	assert.Equal(t, nil, packer.flush(cc, csidOverStream, base.RtmpTypeIdCommandMessageAmf0, Msid1))

	err := <-done
	assert.Equal(t, base.ErrRtmpPlayUnsupported, err)
}

func TestServerSession_MissingApp(t *testing.T) {
	session, cc, done := startServerSession(&mockObserver{})
	defer session.Dispose()
	defer cc.Close()

	packer := rawClient(t, cc)
	assert.Equal(t, nil, packer.writeConnect(cc, "", "rtmp://127.0.0.1/"))
	err := <-done
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpMissingApp))
}

func TestServerSession_MissingStreamName(t *testing.T) {
	obs := &mockObserver{}
	session, cc, done := startServerSession(obs)
	defer session.Dispose()
	defer cc.Close()

	packer := rawClient(t, cc)
	assert.Equal(t, nil, packer.writeConnect(cc, "live", "rtmp://127.0.0.1/live"))
	assert.Equal(t, nil, packer.writeCreateStream(cc))
	assert.Equal(t, nil, packer.writePublish(cc, "live", "?token=1", Msid1))
	err := <-done
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpMissingApp))
	// 不会走到上层回调
	assert.Equal(t, "", obs.app)
}

func TestServerSession_AvBeforePublish(t *testing.T) {
	session, cc, done := startServerSession(&mockObserver{})
	defer session.Dispose()
	defer cc.Close()

	packer := rawClient(t, cc)
	assert.Equal(t, nil, packer.writeConnect(cc, "live", "rtmp://127.0.0.1/live"))
	assert.Equal(t, nil, packer.writeAvMsg(cc, base.RtmpMsg{Header: base.RtmpHeader{MsgTypeId: base.RtmpTypeIdVideo}, Payload: []byte{0x17, 0x00}}))
	err := <-done
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpUnexpectedMsg))
}

func TestServerSession_AmfTypeMismatch(t *testing.T) {
	session, cc, done := startServerSession(&mockObserver{})
	defer session.Dispose()
	defer cc.Close()

	packer := rawClient(t, cc)
	// 命令名应该是string
	_ = Amf0.WriteNumber(packer.b, 1)
	assert.Equal(t, nil, packer.flush(cc, csidOverConnection, base.RtmpTypeIdCommandMessageAmf0, 0))
	err := <-done
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestServer(t *testing.T) {
	obs := &mockServerObserver{del: make(chan error, 1)}
	server := NewServer(obs, "127.0.0.1:0")
	assert.Equal(t, nil, server.Listen())
	go server.RunLoop()
	defer server.Dispose()

	ps := NewPushSession()
	err := ps.Push("rtmp://" + server.Addr().String() + "/live/test")
	assert.Equal(t, nil, err)
	_ = ps.Dispose()

	// 没有deleteStream，非正常结束
	err = <-obs.del
	assert.IsNotNil(t, err)
	assert.Equal(t, false, obs.cleanly)
}

type mockServerObserver struct {
	mockObserver
	del     chan error
	cleanly bool
}

func (o *mockServerObserver) OnDelRtmpPubSession(session *ServerSession, err error) {
	o.cleanly = session.StoppedCleanly()
	o.del <- err
}
