// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync/atomic"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/connection"
	"github.com/q191201771/naza/pkg/nazabytes"
)

type ServerSessionObserver interface {
	// OnNewRtmpPubSession 收到publish信令时回调
	//
	// 上层应该在这个回调中鉴权，并调用 SetPubSessionObserver 注册音视频数据的监听
	// 返回非nil表示拒绝推流，session会回复错误状态并关闭
	//
	OnNewRtmpPubSession(session *ServerSession) error
}

type PubSessionObserver interface {
	// OnReadRtmpAvMsg 音频、视频、metadata
	//
	// msg.Payload 的内存块会被复用，回调结束后如果还需要持有，需要自行拷贝
	// 返回非nil时session结束
	//
	OnReadRtmpAvMsg(msg base.RtmpMsg) error
}

type ServerSessionState int32

const (
	ServerSessionStateHandshakeC0C1 ServerSessionState = iota
	ServerSessionStateHandshakeC2
	ServerSessionStateReady
)

func (s ServerSessionState) String() string {
	switch s {
	case ServerSessionStateHandshakeC0C1:
		return "HandshakeC0C1"
	case ServerSessionStateHandshakeC2:
		return "HandshakeC2"
	case ServerSessionStateReady:
		return "Ready"
	}
	return "Unknown"
}

// 对端通过deleteStream正常结束推流
var errDeleteStream = errors.New("lallive.rtmp: delete stream")

// ServerSession 一个推流连接
type ServerSession struct {
	uniqueKey  string
	appName    string
	streamName string
	rawQuery   string
	tcUrl      string

	obs           ServerSessionObserver
	avObs         PubSessionObserver
	hs            HandshakeServer
	chunkComposer *ChunkComposer
	packer        *MessagePacker
	conn          connection.Connection

	state          int32
	published      bool
	stoppedCleanly bool

	peerWinAckSize uint32
	readBytes      uint64
	lastAckBytes   uint64
}

func NewServerSession(obs ServerSessionObserver, conn net.Conn) *ServerSession {
	uk := base.GenUkRtmpServerSession()
	s := &ServerSession{
		uniqueKey:     uk,
		obs:           obs,
		chunkComposer: NewChunkComposer(),
		packer:        NewMessagePacker(),
		conn: connection.New(conn, func(option *connection.Option) {
			option.ReadBufSize = readBufSize
			option.ReadTimeoutMs = base.RtmpServerSessionReadTimeoutMs
			option.WriteTimeoutMs = base.RtmpServerSessionWriteTimeoutMs
		}),
	}
	Log.Infof("[%s] lifecycle new rtmp server session. session=%p, remote addr=%s", uk, s, conn.RemoteAddr().String())
	return s
}

// RunLoop 阻塞直到连接结束
//
// @return 对端通过deleteStream正常结束时返回nil
//
func (s *ServerSession) RunLoop() (err error) {
	if err = s.handshake(); err != nil {
		return err
	}
	err = s.chunkComposer.RunLoop(&countingReader{r: s.conn, n: &s.readBytes}, s.doMsg)
	if err == errDeleteStream {
		return nil
	}
	return err
}

func (s *ServerSession) SetPubSessionObserver(obs PubSessionObserver) {
	s.avObs = obs
}

func (s *ServerSession) Dispose() error {
	Log.Infof("[%s] lifecycle dispose rtmp server session.", s.uniqueKey)
	return s.conn.Close()
}

func (s *ServerSession) UniqueKey() string  { return s.uniqueKey }
func (s *ServerSession) AppName() string    { return s.appName }
func (s *ServerSession) StreamName() string { return s.streamName }
func (s *ServerSession) RawQuery() string   { return s.rawQuery }
func (s *ServerSession) TcUrl() string      { return s.tcUrl }

func (s *ServerSession) State() ServerSessionState {
	return ServerSessionState(atomic.LoadInt32(&s.state))
}

// Published publish已经被上层接受
func (s *ServerSession) Published() bool {
	return s.published
}

// StoppedCleanly 对端是否发送过FCUnpublish或deleteStream
func (s *ServerSession) StoppedCleanly() bool {
	return s.stoppedCleanly
}

func (s *ServerSession) ChunkStat() ChunkComposerStat {
	return s.chunkComposer.Stat()
}

func (s *ServerSession) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

func (s *ServerSession) setState(state ServerSessionState) {
	atomic.StoreInt32(&s.state, int32(state))
}

func (s *ServerSession) handshake() error {
	if err := s.hs.ReadC0C1(s.conn); err != nil {
		return err
	}
	Log.Infof("[%s] -----> Handshake C0+C1.", s.uniqueKey)

	Log.Infof("[%s] <----- Handshake S0+S1+S2.", s.uniqueKey)
	if err := s.hs.WriteS0S1S2(s.conn); err != nil {
		return err
	}
	s.setState(ServerSessionStateHandshakeC2)

	if err := s.hs.ReadC2(s.conn); err != nil {
		return err
	}
	Log.Infof("[%s] -----> Handshake C2.", s.uniqueKey)
	s.setState(ServerSessionStateReady)
	return nil
}

func (s *ServerSession) doMsg(stream *Stream) error {
	if err := s.maybeAck(); err != nil {
		return err
	}

	switch stream.header.MsgTypeId {
	case base.RtmpTypeIdSetChunkSize:
		// chunk composer 已经处理过了
	case base.RtmpTypeIdWinAckSize:
		if stream.msg.len() < 4 {
			return base.NewErrRtmpShortBuffer(4, int(stream.msg.len()), "window acknowledgement size")
		}
		s.peerWinAckSize = bele.BeUint32(stream.msg.bytes())
		Log.Infof("[%s] -----> Window Acknowledgement Size %d.", s.uniqueKey, s.peerWinAckSize)
	case base.RtmpTypeIdBandwidth, base.RtmpTypeIdAck:
		// noop
	case base.RtmpTypeIdUserControl:
		return s.doUserControl(stream)
	case base.RtmpTypeIdCommandMessageAmf0:
		return s.doCommandMessage(stream)
	case base.RtmpTypeIdCommandMessageAmf3:
		return s.doCommandAmf3Message(stream)
	case base.RtmpTypeIdMetadata:
		return s.doDataMessageAmf0(stream)
	case base.RtmpTypeIdAudio, base.RtmpTypeIdVideo:
		if !s.published {
			return fmt.Errorf("%w. read av message before publish. type=%d", base.ErrRtmpUnexpectedMsg, stream.header.MsgTypeId)
		}
		return s.avObs.OnReadRtmpAvMsg(stream.toAvMsg())
	default:
		Log.Warnf("[%s] read unknown message. typeid=%d, %s", s.uniqueKey, stream.header.MsgTypeId, stream.toDebugString())
	}
	return nil
}

// maybeAck 读取的字节数超过对端设置的窗口大小时回复Acknowledgement
func (s *ServerSession) maybeAck() error {
	if s.peerWinAckSize == 0 {
		return nil
	}
	if s.readBytes-s.lastAckBytes < uint64(s.peerWinAckSize) {
		return nil
	}
	s.lastAckBytes = s.readBytes
	return s.packer.writeAcknowledgement(s.conn, uint32(s.readBytes))
}

func (s *ServerSession) doUserControl(stream *Stream) error {
	b := stream.msg.bytes()
	if len(b) < 6 {
		return base.NewErrRtmpShortBuffer(6, len(b), "user control")
	}
	if uint8(bele.BeUint16(b)) == base.RtmpUserControlPingRequest {
		return s.packer.writePingResponse(s.conn, bele.BeUint32(b[2:]))
	}
	return nil
}

func (s *ServerSession) doDataMessageAmf0(stream *Stream) error {
	if !s.published {
		Log.Warnf("[%s] read data message before publish, ignore it.", s.uniqueKey)
		return nil
	}

	val, err := stream.msg.peekStringWithType()
	if err != nil {
		return err
	}

	switch val {
	case "|RtmpSampleAccess":
		Log.Debugf("[%s] -----> |RtmpSampleAccess, ignore it.", s.uniqueKey)
		return nil
	case "@setDataFrame":
		// obs推流时会带上，跳过
		if _, err = stream.msg.readStringWithType(); err != nil {
			return err
		}
		val, err = stream.msg.peekStringWithType()
		if err != nil {
			return err
		}
		if val != "onMetaData" {
			return fmt.Errorf("%w. @setDataFrame followed by %s", base.ErrRtmpUnexpectedMsg, val)
		}
	case "onMetaData":
		// noop
	default:
		Log.Warnf("[%s] read unknown data message, ignore it. val=%s, hex=%s",
			s.uniqueKey, val, hex.Dump(nazabytes.Prefix(stream.msg.bytes(), 32)))
		return nil
	}

	msg := stream.toAvMsg()
	msg.Header.MsgLen = uint32(len(msg.Payload))
	return s.avObs.OnReadRtmpAvMsg(msg)
}

// doCommandAmf3Message 第一个字节是amf3的格式标识，后面按amf0解析
func (s *ServerSession) doCommandAmf3Message(stream *Stream) error {
	if stream.msg.len() == 0 {
		return base.NewErrRtmpShortBuffer(1, 0, "amf3 command")
	}
	stream.msg.consumed(1)
	return s.doCommandMessage(stream)
}

func (s *ServerSession) doCommandMessage(stream *Stream) error {
	cmd, err := stream.msg.readStringWithType()
	if err != nil {
		return err
	}
	tid, err := stream.msg.readNumberWithType()
	if err != nil {
		return err
	}

	switch cmd {
	case "connect":
		return s.doConnect(tid, stream)
	case "createStream":
		return s.doCreateStream(tid, stream)
	case "publish":
		return s.doPublish(tid, stream)
	case "play":
		Log.Errorf("[%s] -----> play, not supported.", s.uniqueKey)
		return base.ErrRtmpPlayUnsupported
	case "FCUnpublish":
		Log.Infof("[%s] -----> FCUnpublish.", s.uniqueKey)
		s.stoppedCleanly = true
	case "deleteStream":
		Log.Infof("[%s] -----> deleteStream.", s.uniqueKey)
		s.stoppedCleanly = true
		return errDeleteStream
	case "releaseStream", "FCPublish", "getStreamLength":
		Log.Debugf("[%s] read command message, ignore it. cmd=%s", s.uniqueKey, cmd)
	default:
		Log.Warnf("[%s] read unknown command message. cmd=%s, %s", s.uniqueKey, cmd, stream.toDebugString())
	}
	return nil
}

func (s *ServerSession) doConnect(tid int, stream *Stream) error {
	val, err := stream.msg.readObjectWithType()
	if err != nil {
		return err
	}
	s.appName, err = val.FindString("app")
	if err != nil || s.appName == "" {
		return fmt.Errorf("%w. connect without app", base.ErrRtmpMissingApp)
	}
	s.tcUrl, _ = val.FindString("tcUrl")
	Log.Infof("[%s] -----> connect('%s'). tcUrl=%s", s.uniqueKey, s.appName, s.tcUrl)

	Log.Infof("[%s] <----- Window Acknowledgement Size %d.", s.uniqueKey, windowAcknowledgementSize)
	if err := s.packer.writeWinAckSize(s.conn, windowAcknowledgementSize); err != nil {
		return err
	}

	Log.Infof("[%s] <----- Set Peer Bandwidth.", s.uniqueKey)
	if err := s.packer.writePeerBandwidth(s.conn, peerBandwidth, peerBandwidthLimitTypeDynamic); err != nil {
		return err
	}

	Log.Infof("[%s] <----- SetChunkSize %d.", s.uniqueKey, LocalChunkSize)
	if err := s.packer.writeChunkSize(s.conn, LocalChunkSize); err != nil {
		return err
	}

	Log.Infof("[%s] <----- _result('NetConnection.Connect.Success').", s.uniqueKey)
	return s.packer.writeConnectResult(s.conn, tid)
}

func (s *ServerSession) doCreateStream(tid int, stream *Stream) error {
	Log.Infof("[%s] -----> createStream().", s.uniqueKey)
	Log.Infof("[%s] <----- _result().", s.uniqueKey)
	return s.packer.writeCreateStreamResult(s.conn, tid)
}

func (s *ServerSession) doPublish(tid int, stream *Stream) (err error) {
	if s.appName == "" {
		return fmt.Errorf("%w. publish before connect", base.ErrRtmpMissingApp)
	}
	if s.published {
		return fmt.Errorf("%w. publish twice", base.ErrRtmpUnexpectedMsg)
	}
	if err = stream.msg.readNull(); err != nil {
		return err
	}
	streamNameWithRawQuery, err := stream.msg.readStringWithType()
	if err != nil {
		return err
	}
	s.streamName = streamNameWithRawQuery
	if i := strings.IndexByte(streamNameWithRawQuery, '?'); i != -1 {
		s.streamName = streamNameWithRawQuery[:i]
		s.rawQuery = streamNameWithRawQuery[i+1:]
	}
	if s.streamName == "" {
		return fmt.Errorf("%w. publish without stream name", base.ErrRtmpMissingApp)
	}

	// 可选的publish type，比如live
	pubType, _ := stream.msg.readStringWithType()
	Log.Infof("[%s] -----> publish('%s'). type=%s", s.uniqueKey, s.streamName, pubType)

	if err = s.obs.OnNewRtmpPubSession(s); err != nil {
		Log.Warnf("[%s] publish rejected. err=%+v", s.uniqueKey, err)
		Log.Infof("[%s] <----- onStatus('NetStream.Publish.BadName').", s.uniqueKey)
		_ = s.packer.writeOnStatusPublishRejected(s.conn, Msid1, "publish rejected")
		return fmt.Errorf("%w. %v", base.ErrRtmpPublishRejected, err)
	}
	if s.avObs == nil {
		return fmt.Errorf("%w. no pub session observer", base.ErrRtmpPublishRejected)
	}
	s.published = true

	Log.Infof("[%s] <----- onStatus('NetStream.Publish.Start').", s.uniqueKey)
	if err = s.packer.writeStreamBegin(s.conn, Msid1); err != nil {
		return err
	}
	return s.packer.writeOnStatusPublish(s.conn, Msid1)
}

type countingReader struct {
	r io.Reader
	n *uint64
}

func (cr *countingReader) Read(p []byte) (int, error) {
	n, err := cr.r.Read(p)
	*cr.n += uint64(n)
	return n, err
}
