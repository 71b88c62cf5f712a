// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"net"
)

type ServerObserver interface {
	// OnNewRtmpPubSession
	//
	// 上层代码应该在这个事件回调中鉴权，并注册音视频数据的监听
	//
	// @return 上层如果想拒绝推流，则回调中返回不为nil的error值
	//
	OnNewRtmpPubSession(session *ServerSession) error

	// OnDelRtmpPubSession 只有 OnNewRtmpPubSession 接受过的session才会回调
	//
	// @param err: session RunLoop的返回值，对端通过deleteStream正常结束时为nil
	//
	OnDelRtmpPubSession(session *ServerSession, err error)
}

type Server struct {
	observer ServerObserver
	addr     string
	ln       net.Listener
}

func NewServer(observer ServerObserver, addr string) *Server {
	return &Server{
		observer: observer,
		addr:     addr,
	}
}

func (server *Server) Listen() (err error) {
	if server.ln, err = net.Listen("tcp", server.addr); err != nil {
		return
	}
	Log.Infof("start rtmp server listen. addr=%s", server.addr)
	return
}

// Addr Listen之后实际监听的地址
func (server *Server) Addr() net.Addr {
	if server.ln == nil {
		return nil
	}
	return server.ln.Addr()
}

func (server *Server) RunLoop() error {
	for {
		conn, err := server.ln.Accept()
		if err != nil {
			return err
		}
		go server.handleTcpConnect(conn)
	}
}

func (server *Server) Dispose() {
	if server.ln == nil {
		return
	}
	if err := server.ln.Close(); err != nil {
		Log.Error(err)
	}
}

func (server *Server) handleTcpConnect(conn net.Conn) {
	Log.Infof("accept a rtmp connection. remoteAddr=%s", conn.RemoteAddr().String())
	session := NewServerSession(server, conn)
	err := session.RunLoop()
	Log.Infof("[%s] rtmp server session done. state=%s, cleanly=%v, err=%+v",
		session.UniqueKey(), session.State(), session.StoppedCleanly(), err)
	_ = session.Dispose()

	if session.Published() {
		server.observer.OnDelRtmpPubSession(session, err)
	}
}

// ----- ServerSessionObserver -----------------------------------------------------------------------------------------

func (server *Server) OnNewRtmpPubSession(session *ServerSession) error {
	return server.observer.OnNewRtmpPubSession(session)
}
