// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package flv

import (
	"io"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

type TagHeader struct {
	Type      uint8  // type
	DataSize  uint32 // body大小，不包含 header 和 prev tag size 字段
	Timestamp uint32 // 绝对时间戳，单位毫秒
	StreamId  uint32 // always 0
}

type Tag struct {
	Header  TagHeader
	Payload []byte // 不包含 tag header 和 prev tag size
}

func (tag Tag) IsAudio() bool {
	return tag.Header.Type == TagTypeAudio
}

func (tag Tag) IsVideo() bool {
	return tag.Header.Type == TagTypeVideo
}

func (tag Tag) IsMetadata() bool {
	return tag.Header.Type == TagTypeMetadata
}

// TagFromRtmpMsg rtmp的音视频message和flv tag的body是一一对应的
//
// @param msg: 函数调用结束后，内部不持有msg的内存块
//
func TagFromRtmpMsg(msg base.RtmpMsg) Tag {
	payload := make([]byte, len(msg.Payload))
	copy(payload, msg.Payload)
	return Tag{
		Header: TagHeader{
			Type:      msg.Header.MsgTypeId,
			DataSize:  uint32(len(payload)),
			Timestamp: msg.Header.TimestampAbs,
		},
		Payload: payload,
	}
}

// RtmpMsg 转换为rtmp message，payload与tag共享内存
func (tag Tag) RtmpMsg() base.RtmpMsg {
	return base.RtmpMsg{
		Header: base.RtmpHeader{
			MsgLen:       uint32(len(tag.Payload)),
			MsgTypeId:    tag.Header.Type,
			TimestampAbs: tag.Header.Timestamp,
		},
		Payload: tag.Payload,
	}
}

// ParseTagHeader 解析11字节的tag header
func ParseTagHeader(b []byte) (TagHeader, error) {
	var h TagHeader
	if len(b) < TagHeaderSize {
		return h, base.ErrTruncated
	}
	h.Type = b[0]
	switch h.Type {
	case TagTypeAudio, TagTypeVideo, TagTypeMetadata:
	default:
		return h, base.NewErrInvalidTag("unknown tag type")
	}
	h.DataSize = bele.BeUint24(b[1:])
	h.Timestamp = (uint32(b[7]) << 24) + bele.BeUint24(b[4:])
	h.StreamId = bele.BeUint24(b[8:])
	return h, nil
}

// PackTagHeader 序列化11字节的tag header
func PackTagHeader(h TagHeader, out []byte) {
	out[0] = h.Type
	bele.BePutUint24(out[1:], h.DataSize)
	bele.BePutUint24(out[4:], h.Timestamp&0xFFFFFF)
	out[7] = uint8(h.Timestamp >> 24)
	bele.BePutUint24(out[8:], h.StreamId)
}

// PackTag 打包一个序列化后的 tag 二进制buffer，包含 tag header，body，prev tag size
func PackTag(t uint8, timestamp uint32, in []byte) []byte {
	out := make([]byte, TagHeaderSize+len(in)+PrevTagSizeFieldSize)
	PackTagHeader(TagHeader{Type: t, DataSize: uint32(len(in)), Timestamp: timestamp}, out)
	copy(out[TagHeaderSize:], in)
	bele.BePutUint32(out[TagHeaderSize+len(in):], uint32(TagHeaderSize+len(in)))
	return out
}

// ParseTag 从完整的tag二进制（header + body + prev tag size）中解析出tag
//
// @return 第二个返回值为消耗的字节数
//
func ParseTag(b []byte) (Tag, int, error) {
	var tag Tag
	h, err := ParseTagHeader(b)
	if err != nil {
		return tag, 0, err
	}
	total := TagHeaderSize + int(h.DataSize) + PrevTagSizeFieldSize
	if len(b) < total {
		return tag, 0, base.ErrTruncated
	}
	if bele.BeUint32(b[total-PrevTagSizeFieldSize:]) != uint32(TagHeaderSize+int(h.DataSize)) {
		return tag, 0, base.NewErrInvalidTag("prev tag size mismatch")
	}
	tag.Header = h
	tag.Payload = b[TagHeaderSize : TagHeaderSize+int(h.DataSize)]
	return tag, total, nil
}

// ReadTag 从流中读取一个完整的tag
func ReadTag(rd io.Reader) (tag Tag, err error) {
	rawHeader := make([]byte, TagHeaderSize)
	if _, err = io.ReadFull(rd, rawHeader); err != nil {
		return
	}
	if tag.Header, err = ParseTagHeader(rawHeader); err != nil {
		return
	}

	buf := make([]byte, int(tag.Header.DataSize)+PrevTagSizeFieldSize)
	if _, err = io.ReadFull(rd, buf); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return
	}
	tag.Payload = buf[:tag.Header.DataSize]
	return
}
