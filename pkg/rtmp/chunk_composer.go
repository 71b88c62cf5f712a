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
	"io"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
	"github.com/q191201771/naza/pkg/nazabytes"
	"github.com/q191201771/naza/pkg/nazalog"
)

// ChunkComposerStat 字节统计
//
// 任意时刻都满足 ReadPayloadBytes == MessageBytes + AbortedBytes + PartialBytes()
//
type ChunkComposerStat struct {
	ReadPayloadBytes uint64 // 从chunk中读取的payload字节数，不包含chunk头
	MessageBytes     uint64 // 合并完成的message的字节数
	AbortedBytes     uint64 // 被Abort消息丢弃的字节数
	MessageCount     uint64
}

// ChunkComposer
//
// 读取chunk，并合并chunk，生成message返回给上层
//
// 对端可以控制的资源都有上限：chunk stream数量、同时合并中的message数量、单个message的大小
//
type ChunkComposer struct {
	peerChunkSize uint32
	csid2stream   map[int]*Stream
	partialCount  int

	stat ChunkComposerStat
}

func NewChunkComposer() *ChunkComposer {
	return &ChunkComposer{
		peerChunkSize: defaultChunkSize,
		csid2stream:   make(map[int]*Stream),
	}
}

// SetPeerChunkSize 对端chunk size，必须在[MinChunkSize, MaxChunkSize]范围内
func (c *ChunkComposer) SetPeerChunkSize(val uint32) error {
	if val < MinChunkSize || val > MaxChunkSize {
		return base.NewErrRtmpInvalidChunkSize(val)
	}
	c.peerChunkSize = val
	return nil
}

func (c *ChunkComposer) PeerChunkSize() uint32 {
	return c.peerChunkSize
}

func (c *ChunkComposer) Stat() ChunkComposerStat {
	return c.stat
}

// PartialBytes 所有合并中的message已经读取的字节数
func (c *ChunkComposer) PartialBytes() uint64 {
	var n uint64
	for _, stream := range c.csid2stream {
		n += uint64(stream.msg.len())
	}
	return n
}

func (c *ChunkComposer) PartialCount() int {
	return c.partialCount
}

type OnCompleteMessage func(stream *Stream) error

// RunLoop 将rtmp chunk合并为message
//
// @param cb: 回调结束后，`stream.msg`的内存块会被`ChunkComposer`重复使用。
//            如果业务方需要在回调结束后依然持有，需要自行拷贝。
//            如果cb返回的error不为nil，则`RunLoop`停止阻塞，并返回这个错误。
//
// @return 阻塞直到发生错误
//
func (c *ChunkComposer) RunLoop(reader io.Reader, cb OnCompleteMessage) error {
	var aggregateStream *Stream
	bootstrap := make([]byte, 11)

	for {
		// 5.3.1.1. Chunk Basic Header
		if _, err := io.ReadFull(reader, bootstrap[:1]); err != nil {
			return err
		}

		fmtType := (bootstrap[0] >> 6) & 0x03
		csid := int(bootstrap[0] & 0x3f)

		// csid可能是变长的
		switch csid {
		case 0:
			if _, err := io.ReadFull(reader, bootstrap[:1]); err != nil {
				return err
			}
			csid = 64 + int(bootstrap[0])
		case 1:
			if _, err := io.ReadFull(reader, bootstrap[:2]); err != nil {
				return err
			}
			csid = 64 + int(bootstrap[0]) + int(bootstrap[1])*256
		}

		stream, err := c.getOrCreateStream(csid)
		if err != nil {
			return err
		}

		// fmt 1,2,3 都依赖之前的header
		if fmtType != 0 && !stream.hasHeader {
			return newErrUnexpectedChunk(fmtType, csid, "no previous header")
		}
		// 上一个message还没合并完时，只能收到fmt3
		if fmtType < 2 && stream.msg.len() != 0 {
			return newErrUnexpectedChunk(fmtType, csid, "new message header before previous one completed")
		}

		// 5.3.1.2. Chunk Message Header
		switch fmtType {
		case 0:
			if _, err := io.ReadFull(reader, bootstrap[:11]); err != nil {
				return err
			}
			// 包头中为绝对时间戳
			stream.timestamp = bele.BeUint24(bootstrap)
			stream.header.TimestampAbs = stream.timestamp
			stream.absTsFlag = true
			stream.header.MsgLen = bele.BeUint24(bootstrap[3:])
			stream.header.MsgTypeId = bootstrap[6]
			stream.header.MsgStreamId = int(bele.LeUint32(bootstrap[7:]))
			stream.hasHeader = true
		case 1:
			if _, err := io.ReadFull(reader, bootstrap[:7]); err != nil {
				return err
			}
			// 包头中为相对时间戳
			stream.timestamp = bele.BeUint24(bootstrap)
			stream.header.MsgLen = bele.BeUint24(bootstrap[3:])
			stream.header.MsgTypeId = bootstrap[6]
		case 2:
			if _, err := io.ReadFull(reader, bootstrap[:3]); err != nil {
				return err
			}
			stream.timestamp = bele.BeUint24(bootstrap)
		case 3:
			// noop
		}
		if stream.header.MsgLen > MaxPayloadSize {
			return fmt.Errorf("%w. csid=%d, len=%d", base.ErrRtmpPayloadTooLarge, csid, stream.header.MsgLen)
		}
		if Log.GetOption().Level == nazalog.LevelTrace {
			Log.Tracef("[%p] RTMP_READ chunk.fmt=%d, csid=%d, header=%+v, timestamp=%d",
				c, fmtType, csid, stream.header, stream.timestamp)
		}

		// 5.3.1.3 Extended Timestamp
		// ffmpeg推流时，时间戳超过3字节最大值后，即使是fmt3依然存在ext ts字段，所以这里用 `>=`
		if stream.timestamp >= maxTimestampInMessageHeader {
			if _, err := io.ReadFull(reader, bootstrap[:4]); err != nil {
				return err
			}
			newTs := bele.BeUint32(bootstrap)
			// fmt1,2 为差值，合并完成时再累加
			if fmtType == 0 {
				stream.header.TimestampAbs = newTs
			}
			stream.timestamp = newTs
		}

		neededSize := stream.header.MsgLen - stream.msg.len()
		if neededSize > c.peerChunkSize {
			neededSize = c.peerChunkSize
		}

		wasEmpty := stream.msg.len() == 0
		if _, err := io.ReadFull(reader, stream.msg.writable(neededSize)); err != nil {
			return err
		}
		stream.msg.produced(neededSize)
		c.stat.ReadPayloadBytes += uint64(neededSize)

		if stream.msg.len() != stream.header.MsgLen {
			if wasEmpty {
				if c.partialCount >= MaxPartialPayloads {
					return fmt.Errorf("%w. csid=%d, partials=%d", base.ErrRtmpTooManyPartials, csid, c.partialCount)
				}
				c.partialCount++
			}
			continue
		}
		if !wasEmpty {
			c.partialCount--
		}

		stream.header.Csid = csid
		if !stream.absTsFlag {
			// 取最后一个chunk的时间戳差值
			stream.header.TimestampAbs += stream.timestamp
		}
		stream.absTsFlag = false
		c.stat.MessageBytes += uint64(stream.header.MsgLen)
		c.stat.MessageCount++

		if Log.GetOption().Level == nazalog.LevelTrace {
			Log.Tracef("[%p] RTMP_READ cb. fmt=%d, csid=%d, header=%+v, timestamp=%d, hex=%s",
				c, fmtType, csid, stream.header, stream.timestamp, hex.Dump(nazabytes.Prefix(stream.msg.bytes(), 32)))
		}

		switch stream.header.MsgTypeId {
		case base.RtmpTypeIdSetChunkSize:
			if stream.msg.len() < 4 {
				return base.NewErrRtmpShortBuffer(4, int(stream.msg.len()), "set chunk size")
			}
			// 最高位保留
			val := bele.BeUint32(stream.msg.bytes()) & 0x7FFFFFFF
			if err := c.SetPeerChunkSize(val); err != nil {
				return err
			}
			Log.Infof("[%p] set peer chunk size. size=%d", c, val)
		case base.RtmpTypeIdAbort:
			if stream.msg.len() < 4 {
				return base.NewErrRtmpShortBuffer(4, int(stream.msg.len()), "abort")
			}
			c.abort(int(bele.BeUint32(stream.msg.bytes())))
			stream.msg.clear()
			continue
		case base.RtmpTypeIdAggregateMessage:
			if aggregateStream == nil {
				aggregateStream = NewStream()
			}
			if err := c.splitAggregate(stream, aggregateStream, cb); err != nil {
				return err
			}
			stream.msg.clear()
			continue
		}

		// 回调返回错误时也要清空，调用方可能继续用同一个composer读取后续消息
		err = cb(stream)
		stream.msg.clear()
		if err != nil {
			return err
		}
	}
}

// splitAggregate 把aggregate message拆成多个sub message依次回调
//
// sub message: type 1 | len 3 | ts 3 | ts ext 1 | msid 3 | body | prev size 4
//
func (c *ChunkComposer) splitAggregate(stream *Stream, sub *Stream, cb OnCompleteMessage) error {
	firstSubMessage := true
	baseTimestamp := uint32(0)
	sub.header.Csid = stream.header.Csid

	msg := &stream.msg
	for msg.len() != 0 {
		if msg.len() < 11 {
			return base.NewErrRtmpShortBuffer(11, int(msg.len()), "parse rtmp aggregate sub message header")
		}
		b := msg.bytes()
		sub.header.MsgTypeId = b[0]
		sub.header.MsgLen = bele.BeUint24(b[1:])
		sub.timestamp = bele.BeUint24(b[4:]) + uint32(b[7])<<24
		sub.header.MsgStreamId = int(bele.BeUint24(b[8:]))
		msg.consumed(11)

		if firstSubMessage {
			baseTimestamp = sub.timestamp
			firstSubMessage = false
		}
		sub.header.TimestampAbs = stream.header.TimestampAbs + sub.timestamp - baseTimestamp

		if msg.len() < sub.header.MsgLen {
			return base.NewErrRtmpShortBuffer(int(sub.header.MsgLen), int(msg.len()), "parse rtmp aggregate sub message body")
		}
		body := msg.bytes()[:sub.header.MsgLen]
		sub.msg = StreamMsg{buf: body, e: uint32(len(body))}
		msg.consumed(sub.header.MsgLen)

		if err := cb(sub); err != nil {
			return err
		}

		// 跳过prev size字段
		if msg.len() < 4 {
			return base.NewErrRtmpShortBuffer(4, int(msg.len()), "parse rtmp aggregate prev message size")
		}
		msg.consumed(4)
	}
	return nil
}

// abort 丢弃指定csid上合并了一半的message
func (c *ChunkComposer) abort(csid int) {
	stream, ok := c.csid2stream[csid]
	if !ok || stream.msg.len() == 0 {
		return
	}
	Log.Warnf("[%p] abort partial message. csid=%d, len=%d", c, csid, stream.msg.len())
	c.stat.AbortedBytes += uint64(stream.msg.len())
	c.partialCount--
	stream.msg.clear()
}

func (c *ChunkComposer) getOrCreateStream(csid int) (*Stream, error) {
	stream, exist := c.csid2stream[csid]
	if exist {
		return stream, nil
	}
	if len(c.csid2stream) >= MaxChunkStreams {
		return nil, fmt.Errorf("%w. csid=%d, streams=%d", base.ErrRtmpTooManyHeaders, csid, len(c.csid2stream))
	}
	stream = NewStream()
	c.csid2stream[csid] = stream
	return stream, nil
}

func newErrUnexpectedChunk(fmtType uint8, csid int, reason string) error {
	return fmt.Errorf("%w. fmt=%d, csid=%d, reason=%s", base.ErrRtmpUnexpectedMsg, fmtType, csid, reason)
}
