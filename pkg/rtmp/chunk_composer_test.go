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
	"fmt"
	"io"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
	"github.com/q191201771/naza/pkg/bele"
)

func collect(t *testing.T, c *ChunkComposer, b []byte) ([]base.RtmpMsg, error) {
	var msgs []base.RtmpMsg
	err := c.RunLoop(bytes.NewReader(b), func(stream *Stream) error {
		msgs = append(msgs, stream.toAvMsg().Clone())
		return nil
	})
	return msgs, err
}

func genPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = uint8(i)
	}
	return b
}

func TestChunkComposer_MultiChunk(t *testing.T) {
	payload := genPayload(300)
	h := base.RtmpHeader{Csid: CsidVideo, MsgTypeId: base.RtmpTypeIdVideo, MsgStreamId: Msid1, TimestampAbs: 1000}
	chunks := Message2Chunks(payload, &h, 128)
	// 12 + 128 + 1 + 128 + 1 + 44
	assert.Equal(t, 314, len(chunks))

	c := NewChunkComposer()
	msgs, err := collect(t, c, chunks)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, payload, msgs[0].Payload)
	assert.Equal(t, uint32(300), msgs[0].Header.MsgLen)
	assert.Equal(t, uint32(1000), msgs[0].Header.TimestampAbs)
	assert.Equal(t, CsidVideo, msgs[0].Header.Csid)
	assert.Equal(t, Msid1, msgs[0].Header.MsgStreamId)

	stat := c.Stat()
	assert.Equal(t, uint64(300), stat.ReadPayloadBytes)
	assert.Equal(t, uint64(300), stat.MessageBytes)
	assert.Equal(t, uint64(0), c.PartialBytes())
}

func TestChunkComposer_RelativeTimestamp(t *testing.T) {
	b := []byte{
		// fmt0 csid6 ts=100 len=4 type=8 msid=1
		0x06, 0x00, 0x00, 0x64, 0x00, 0x00, 0x04, 0x08, 0x01, 0x00, 0x00, 0x00,
		0xAF, 0x01, 0x11, 0x11,
		// fmt2 ts delta=40
		0x86, 0x00, 0x00, 0x28,
		0xAF, 0x01, 0x22, 0x22,
		// fmt3 复用上一个delta
		0xC6,
		0xAF, 0x01, 0x33, 0x33,
		// fmt1 ts delta=20 len=2 type=9
		0x46, 0x00, 0x00, 0x14, 0x00, 0x00, 0x02, 0x09,
		0x17, 0x01,
	}
	msgs, err := collect(t, NewChunkComposer(), b)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 4, len(msgs))
	assert.Equal(t, uint32(100), msgs[0].Header.TimestampAbs)
	assert.Equal(t, uint32(140), msgs[1].Header.TimestampAbs)
	assert.Equal(t, uint32(180), msgs[2].Header.TimestampAbs)
	assert.Equal(t, uint32(200), msgs[3].Header.TimestampAbs)
	assert.Equal(t, []byte{0xAF, 0x01, 0x33, 0x33}, msgs[2].Payload)
	assert.Equal(t, base.RtmpTypeIdVideo, msgs[3].Header.MsgTypeId)
	assert.Equal(t, 1, msgs[3].Header.MsgStreamId)
}

func TestChunkComposer_ExtendedTimestamp(t *testing.T) {
	payload := genPayload(300)
	h := base.RtmpHeader{Csid: CsidAudio, MsgTypeId: base.RtmpTypeIdAudio, MsgStreamId: Msid1, TimestampAbs: 0x1000000}
	chunks := Message2Chunks(payload, &h, 128)
	// 每个chunk都带4字节扩展时间戳
	assert.Equal(t, 314+12, len(chunks))

	msgs, err := collect(t, NewChunkComposer(), chunks)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, uint32(0x1000000), msgs[0].Header.TimestampAbs)
	assert.Equal(t, payload, msgs[0].Payload)
}

func TestChunkComposer_ExtendedTimestampDelta(t *testing.T) {
	b := []byte{
		// fmt0 csid6 ts=100 len=2 type=8 msid=1
		0x06, 0x00, 0x00, 0x64, 0x00, 0x00, 0x02, 0x08, 0x01, 0x00, 0x00, 0x00,
		0xAF, 0x01,
		// fmt1 ts delta=0xFFFFFF 扩展 delta=0x1000000
		0x46, 0xFF, 0xFF, 0xFF, 0x00, 0x00, 0x02, 0x08,
		0x01, 0x00, 0x00, 0x00,
		0xAF, 0x01,
		// fmt2 ts delta=10
		0x86, 0x00, 0x00, 0x0A,
		0xAF, 0x01,
	}
	msgs, err := collect(t, NewChunkComposer(), b)
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 3, len(msgs))
	assert.Equal(t, uint32(100), msgs[0].Header.TimestampAbs)
	assert.Equal(t, uint32(100+0x1000000), msgs[1].Header.TimestampAbs)
	assert.Equal(t, uint32(110+0x1000000), msgs[2].Header.TimestampAbs)
}

// 回调返回错误后继续用同一个composer读取，上一个消息不能残留
func TestChunkComposer_ResumeAfterCallbackError(t *testing.T) {
	errStop := errors.New("stop")
	first := Message2Chunks(genPayload(200), &base.RtmpHeader{Csid: csidOverConnection, MsgTypeId: base.RtmpTypeIdCommandMessageAmf0, MsgStreamId: 0}, 128)
	second := Message2Chunks(genPayload(50), &base.RtmpHeader{Csid: csidOverConnection, MsgTypeId: base.RtmpTypeIdCommandMessageAmf0, MsgStreamId: 0}, 128)
	r := bytes.NewReader(append(first, second...))

	c := NewChunkComposer()
	err := c.RunLoop(r, func(stream *Stream) error {
		assert.Equal(t, uint32(200), stream.header.MsgLen)
		return errStop
	})
	assert.Equal(t, errStop, err)
	assert.Equal(t, uint64(0), c.PartialBytes())

	var got []byte
	err = c.RunLoop(r, func(stream *Stream) error {
		got = append([]byte(nil), stream.msg.bytes()...)
		return errStop
	})
	assert.Equal(t, errStop, err)
	assert.Equal(t, genPayload(50), got)
}

func setChunkSizeChunks(size uint32) []byte {
	var b [4]byte
	bele.BePutUint32(b[:], size)
	h := base.RtmpHeader{Csid: csidProtocolControl, MsgTypeId: base.RtmpTypeIdSetChunkSize}
	return Message2Chunks(b[:], &h, defaultChunkSize)
}

func TestChunkComposer_SetChunkSize(t *testing.T) {
	for _, size := range []uint32{127, 65537, 0, 0x7FFFFFFF} {
		_, err := collect(t, NewChunkComposer(), setChunkSizeChunks(size))
		assert.Equal(t, true, errors.Is(err, base.ErrRtmpInvalidChunk), fmt.Sprint(size))
		assert.Equal(t, base.KindProtocol, base.KindOf(err))
	}

	for _, size := range []uint32{128, 4096, 65536} {
		c := NewChunkComposer()
		payload := genPayload(1000)
		h := base.RtmpHeader{Csid: CsidVideo, MsgTypeId: base.RtmpTypeIdVideo, MsgStreamId: Msid1}
		b := append(setChunkSizeChunks(size), Message2Chunks(payload, &h, int(size))...)
		msgs, err := collect(t, c, b)
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, size, c.PeerChunkSize())
		// set chunk size 也会回调给上层
		assert.Equal(t, 2, len(msgs))
		assert.Equal(t, payload, msgs[1].Payload)
	}

	// 最高位保留，需要忽略
	c := NewChunkComposer()
	_, err := collect(t, c, setChunkSizeChunks(0x80000000|4096))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, uint32(4096), c.PeerChunkSize())
}

func TestChunkComposer_TooManyHeaders(t *testing.T) {
	var b []byte
	for csid := 2; csid < 2+MaxChunkStreams+1; csid++ {
		h := base.RtmpHeader{Csid: csid, MsgTypeId: base.RtmpTypeIdAudio, MsgStreamId: Msid1}
		b = append(b, Message2Chunks([]byte{0xAF}, &h, defaultChunkSize)...)
	}
	msgs, err := collect(t, NewChunkComposer(), b)
	assert.Equal(t, MaxChunkStreams, len(msgs))
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpTooManyHeaders))
	assert.Equal(t, base.KindResourceLimit, base.KindOf(err))
}

func TestChunkComposer_TooManyPartials(t *testing.T) {
	var b []byte
	payload := genPayload(200)
	for i := 0; i < MaxPartialPayloads+1; i++ {
		h := base.RtmpHeader{Csid: 10 + i, MsgTypeId: base.RtmpTypeIdVideo, MsgStreamId: Msid1}
		// 只发送第一个chunk
		b = append(b, Message2Chunks(payload, &h, defaultChunkSize)[:12+defaultChunkSize]...)
	}
	c := NewChunkComposer()
	_, err := collect(t, c, b)
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpTooManyPartials))
	assert.Equal(t, base.KindResourceLimit, base.KindOf(err))

	// 正好达到上限时不报错
	c = NewChunkComposer()
	_, err = collect(t, c, b[:MaxPartialPayloads*(12+defaultChunkSize)])
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, MaxPartialPayloads, c.PartialCount())
	assert.Equal(t, uint64(MaxPartialPayloads*defaultChunkSize), c.PartialBytes())
	stat := c.Stat()
	assert.Equal(t, stat.ReadPayloadBytes, stat.MessageBytes+stat.AbortedBytes+c.PartialBytes())
}

func TestChunkComposer_PayloadTooLarge(t *testing.T) {
	var b [12]byte
	b[0] = CsidVideo
	bele.BePutUint24(b[4:], MaxPayloadSize+1)
	b[7] = base.RtmpTypeIdVideo
	_, err := collect(t, NewChunkComposer(), b[:])
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpPayloadTooLarge))

	// 正好等于上限可以接受，之后因为没有数据返回EOF
	bele.BePutUint24(b[4:], MaxPayloadSize)
	_, err = collect(t, NewChunkComposer(), b[:])
	assert.Equal(t, io.EOF, err)
}

func TestChunkComposer_Corner(t *testing.T) {
	// 没有fmt0就收到fmt1
	_, err := collect(t, NewChunkComposer(), []byte{0x46, 0, 0, 0, 0, 0, 1, 8, 0xAF})
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpUnexpectedMsg))

	// 上一个message没有合并完就收到新的fmt0
	payload := genPayload(200)
	h := base.RtmpHeader{Csid: CsidVideo, MsgTypeId: base.RtmpTypeIdVideo, MsgStreamId: Msid1}
	chunks := Message2Chunks(payload, &h, defaultChunkSize)
	b := append(append([]byte{}, chunks[:12+defaultChunkSize]...), chunks...)
	_, err = collect(t, NewChunkComposer(), b)
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpUnexpectedMsg))

	// 空的输入
	_, err = collect(t, NewChunkComposer(), nil)
	assert.Equal(t, io.EOF, err)

	// 回调返回错误时RunLoop立即返回
	myErr := errors.New("mock")
	err = NewChunkComposer().RunLoop(bytes.NewReader(chunks), func(stream *Stream) error {
		return myErr
	})
	assert.Equal(t, myErr, err)
}

func TestChunkComposer_Abort(t *testing.T) {
	payload := genPayload(200)
	h := base.RtmpHeader{Csid: CsidVideo, MsgTypeId: base.RtmpTypeIdVideo, MsgStreamId: Msid1}
	chunks := Message2Chunks(payload, &h, defaultChunkSize)

	var abort [4]byte
	bele.BePutUint32(abort[:], CsidVideo)
	ah := base.RtmpHeader{Csid: csidProtocolControl, MsgTypeId: base.RtmpTypeIdAbort}

	var b []byte
	b = append(b, chunks[:12+defaultChunkSize]...)
	b = append(b, Message2Chunks(abort[:], &ah, defaultChunkSize)...)
	b = append(b, chunks...)

	c := NewChunkComposer()
	msgs, err := collect(t, c, b)
	assert.Equal(t, io.EOF, err)
	// abort消息本身不回调
	assert.Equal(t, 1, len(msgs))
	assert.Equal(t, payload, msgs[0].Payload)
	assert.Equal(t, 0, c.PartialCount())

	stat := c.Stat()
	assert.Equal(t, uint64(defaultChunkSize), stat.AbortedBytes)
	assert.Equal(t, uint64(204), stat.MessageBytes)
	assert.Equal(t, stat.ReadPayloadBytes, stat.MessageBytes+stat.AbortedBytes+c.PartialBytes())
}

func TestChunkComposer_Aggregate(t *testing.T) {
	var agg []byte
	// type | len(3) | ts(3) | ts ext | msid(3) | body | prev size(4)
	agg = append(agg, base.RtmpTypeIdVideo, 0, 0, 3, 0, 0x03, 0xE8, 0, 0, 0, 1)
	agg = append(agg, 0x17, 0x01, 0x00)
	agg = append(agg, 0, 0, 0, 14)
	agg = append(agg, base.RtmpTypeIdAudio, 0, 0, 2, 0, 0x04, 0x10, 0, 0, 0, 1)
	agg = append(agg, 0xAF, 0x01)
	agg = append(agg, 0, 0, 0, 13)

	h := base.RtmpHeader{Csid: CsidVideo, MsgTypeId: base.RtmpTypeIdAggregateMessage, MsgStreamId: Msid1, TimestampAbs: 5000}
	msgs, err := collect(t, NewChunkComposer(), Message2Chunks(agg, &h, defaultChunkSize))
	assert.Equal(t, io.EOF, err)
	assert.Equal(t, 2, len(msgs))
	assert.Equal(t, base.RtmpTypeIdVideo, msgs[0].Header.MsgTypeId)
	assert.Equal(t, uint32(5000), msgs[0].Header.TimestampAbs)
	assert.Equal(t, []byte{0x17, 0x01, 0x00}, msgs[0].Payload)
	assert.Equal(t, base.RtmpTypeIdAudio, msgs[1].Header.MsgTypeId)
	assert.Equal(t, uint32(5040), msgs[1].Header.TimestampAbs)
	assert.Equal(t, []byte{0xAF, 0x01}, msgs[1].Payload)

	// sub message长度超过剩余数据
	agg[3] = 100
	_, err = collect(t, NewChunkComposer(), Message2Chunks(agg, &h, defaultChunkSize))
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpShortBuffer))
}

func TestMessage2Chunks_Csid(t *testing.T) {
	for _, csid := range []int{2, 63, 64, 319, 320, 65599} {
		h := base.RtmpHeader{Csid: csid, MsgTypeId: base.RtmpTypeIdAudio, MsgStreamId: Msid1, TimestampAbs: 10}
		msgs, err := collect(t, NewChunkComposer(), Message2Chunks(genPayload(129), &h, defaultChunkSize))
		assert.Equal(t, io.EOF, err)
		assert.Equal(t, 1, len(msgs))
		assert.Equal(t, csid, msgs[0].Header.Csid)
		assert.Equal(t, 129, len(msgs[0].Payload))
	}
}
