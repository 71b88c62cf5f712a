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
	"fmt"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/nazabytes"
)

const initMsgLen = 4096

type StreamMsg struct {
	buf []byte
	b   uint32 // 读取起始位置
	e   uint32 // 读取结束位置，写入起始位置
}

// Stream 一个chunk stream(csid)上缓存的header，以及正在合并中的message
type Stream struct {
	header base.RtmpHeader
	msg    StreamMsg

	// rtmp chunk header中的时间戳，可能是绝对的，也可能是相对的。上层应该使用header.TimestampAbs
	timestamp uint32
	absTsFlag bool
	hasHeader bool
}

func NewStream() *Stream {
	return &Stream{
		msg: StreamMsg{
			buf: make([]byte, initMsgLen),
		},
	}
}

func (stream *Stream) Header() base.RtmpHeader {
	return stream.header
}

// 序列化成可读字符串，一般用于发生错误时打印日志
func (stream *Stream) toDebugString() string {
	return fmt.Sprintf("header=%+v, b=%d, hex=%s",
		stream.header, stream.msg.b, hex.Dump(nazabytes.Prefix(stream.msg.buf[:stream.msg.e], 64)))
}

// toAvMsg 注意，Payload引用的是Stream内部的内存块，回调结束后会被复用
func (stream *Stream) toAvMsg() base.RtmpMsg {
	return base.RtmpMsg{
		Header:  stream.header,
		Payload: stream.msg.buf[stream.msg.b:stream.msg.e],
	}
}

// 确保可写空间，如果不够会扩容
func (msg *StreamMsg) reserve(n uint32) {
	if uint32(len(msg.buf))-msg.e >= n {
		return
	}
	need := msg.len() + n
	nn := uint32(len(msg.buf))
	if nn == 0 {
		nn = initMsgLen
	}
	for nn < need {
		nn <<= 1
	}
	nb := make([]byte, nn)
	copy(nb, msg.buf[msg.b:msg.e])
	msg.e -= msg.b
	msg.b = 0
	msg.buf = nb
}

// writable reserve之后可写入的内存块
func (msg *StreamMsg) writable(n uint32) []byte {
	msg.reserve(n)
	return msg.buf[msg.e : msg.e+n]
}

// 可读长度
func (msg *StreamMsg) len() uint32 {
	return msg.e - msg.b
}

// 写入数据后调用
func (msg *StreamMsg) produced(n uint32) {
	msg.e += n
}

// 读取数据后调用
func (msg *StreamMsg) consumed(n uint32) {
	msg.b += n
}

// 清空，空闲内存空间保留不释放
func (msg *StreamMsg) clear() {
	msg.b = 0
	msg.e = 0
}

func (msg *StreamMsg) bytes() []byte {
	return msg.buf[msg.b:msg.e]
}

func (msg *StreamMsg) peekStringWithType() (string, error) {
	str, _, err := Amf0.ReadString(msg.bytes())
	return str, err
}

func (msg *StreamMsg) readStringWithType() (string, error) {
	str, l, err := Amf0.ReadString(msg.bytes())
	if err == nil {
		msg.consumed(uint32(l))
	}
	return str, err
}

func (msg *StreamMsg) readNumberWithType() (int, error) {
	val, l, err := Amf0.ReadNumber(msg.bytes())
	if err == nil {
		msg.consumed(uint32(l))
	}
	return int(val), err
}

func (msg *StreamMsg) readObjectWithType() (ObjectPairArray, error) {
	opa, l, err := Amf0.ReadObject(msg.bytes())
	if err == nil {
		msg.consumed(uint32(l))
	}
	return opa, err
}

func (msg *StreamMsg) readNull() error {
	l, err := Amf0.ReadNull(msg.bytes())
	if err == nil {
		msg.consumed(uint32(l))
	}
	return err
}
