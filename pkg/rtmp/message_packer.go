// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

// message_packer.go
// 打包并发送 rtmp 信令

import (
	"bytes"
	"io"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// MessagePacker
//
// bytes.Buffer.Write 返回的 error 永远为 nil，所以本文件中所有对 b 的写操作都不判断返回值
//
type MessagePacker struct {
	b         *bytes.Buffer
	chunkSize int
}

func NewMessagePacker() *MessagePacker {
	return &MessagePacker{
		b:         &bytes.Buffer{},
		chunkSize: defaultChunkSize,
	}
}

// flush 将b中的message body切分成chunk后写入writer
func (packer *MessagePacker) flush(writer io.Writer, csid int, typeId uint8, streamId int) error {
	h := base.RtmpHeader{
		Csid:        csid,
		MsgTypeId:   typeId,
		MsgStreamId: streamId,
	}
	chunks := Message2Chunks(packer.b.Bytes(), &h, packer.chunkSize)
	packer.b.Reset()
	_, err := writer.Write(chunks)
	return err
}

func (packer *MessagePacker) writeProtocolControlMessage(writer io.Writer, typeId uint8, val int) error {
	_ = bele.WriteBe(packer.b, uint32(val))
	return packer.flush(writer, csidProtocolControl, typeId, 0)
}

// writeChunkSize 之后本端发送的message都使用新的chunk size切分
func (packer *MessagePacker) writeChunkSize(writer io.Writer, val int) error {
	if err := packer.writeProtocolControlMessage(writer, base.RtmpTypeIdSetChunkSize, val); err != nil {
		return err
	}
	packer.chunkSize = val
	return nil
}

func (packer *MessagePacker) writeWinAckSize(writer io.Writer, val int) error {
	return packer.writeProtocolControlMessage(writer, base.RtmpTypeIdWinAckSize, val)
}

func (packer *MessagePacker) writeAcknowledgement(writer io.Writer, seqNum uint32) error {
	return packer.writeProtocolControlMessage(writer, base.RtmpTypeIdAck, int(seqNum))
}

func (packer *MessagePacker) writePeerBandwidth(writer io.Writer, val int, limitType uint8) error {
	_ = bele.WriteBe(packer.b, uint32(val))
	_ = packer.b.WriteByte(limitType)
	return packer.flush(writer, csidProtocolControl, base.RtmpTypeIdBandwidth, 0)
}

func (packer *MessagePacker) writeStreamBegin(writer io.Writer, streamId int) error {
	_ = bele.WriteBe(packer.b, uint16(base.RtmpUserControlStreamBegin))
	_ = bele.WriteBe(packer.b, uint32(streamId))
	return packer.flush(writer, csidProtocolControl, base.RtmpTypeIdUserControl, 0)
}

func (packer *MessagePacker) writePingResponse(writer io.Writer, timestamp uint32) error {
	_ = bele.WriteBe(packer.b, uint16(base.RtmpUserControlPingResponse))
	_ = bele.WriteBe(packer.b, timestamp)
	return packer.flush(writer, csidProtocolControl, base.RtmpTypeIdUserControl, 0)
}

func (packer *MessagePacker) writeConnect(writer io.Writer, appName, tcUrl string) error {
	_ = Amf0.WriteString(packer.b, "connect")
	_ = Amf0.WriteNumber(packer.b, float64(tidClientConnect))

	objs := ObjectPairArray{
		{Key: "app", Value: appName},
		{Key: "type", Value: "nonprivate"},
		{Key: "flashVer", Value: "FMLE/3.0 (compatible; lallive)"},
		{Key: "tcUrl", Value: tcUrl},
	}
	_ = Amf0.WriteObject(packer.b, objs)
	return packer.flush(writer, csidOverConnection, base.RtmpTypeIdCommandMessageAmf0, 0)
}

func (packer *MessagePacker) writeConnectResult(writer io.Writer, tid int) error {
	_ = Amf0.WriteString(packer.b, "_result")
	_ = Amf0.WriteNumber(packer.b, float64(tid))
	objs := ObjectPairArray{
		{Key: "fmsVer", Value: "FMS/3,0,1,123"},
		{Key: "capabilities", Value: 31},
	}
	_ = Amf0.WriteObject(packer.b, objs)
	objs = ObjectPairArray{
		{Key: "level", Value: "status"},
		{Key: "code", Value: "NetConnection.Connect.Success"},
		{Key: "description", Value: "Connection succeeded."},
		{Key: "objectEncoding", Value: 0},
		{Key: "version", Value: base.RtmpConnectResultVersion},
	}
	_ = Amf0.WriteObject(packer.b, objs)
	return packer.flush(writer, csidOverConnection, base.RtmpTypeIdCommandMessageAmf0, 0)
}

func (packer *MessagePacker) writeCreateStream(writer io.Writer) error {
	_ = Amf0.WriteString(packer.b, "createStream")
	_ = Amf0.WriteNumber(packer.b, float64(tidClientCreateStream))
	_ = Amf0.WriteNull(packer.b)
	return packer.flush(writer, csidOverConnection, base.RtmpTypeIdCommandMessageAmf0, 0)
}

func (packer *MessagePacker) writeCreateStreamResult(writer io.Writer, tid int) error {
	_ = Amf0.WriteString(packer.b, "_result")
	_ = Amf0.WriteNumber(packer.b, float64(tid))
	_ = Amf0.WriteNull(packer.b)
	_ = Amf0.WriteNumber(packer.b, float64(Msid1))
	return packer.flush(writer, csidOverConnection, base.RtmpTypeIdCommandMessageAmf0, 0)
}

func (packer *MessagePacker) writePublish(writer io.Writer, appName string, streamName string, streamId int) error {
	_ = Amf0.WriteString(packer.b, "publish")
	_ = Amf0.WriteNumber(packer.b, float64(tidClientPublish))
	_ = Amf0.WriteNull(packer.b)
	_ = Amf0.WriteString(packer.b, streamName)
	_ = Amf0.WriteString(packer.b, appName)
	return packer.flush(writer, csidOverStream, base.RtmpTypeIdCommandMessageAmf0, streamId)
}

func (packer *MessagePacker) writeDeleteStream(writer io.Writer, streamId int) error {
	_ = Amf0.WriteString(packer.b, "deleteStream")
	_ = Amf0.WriteNumber(packer.b, 0)
	_ = Amf0.WriteNull(packer.b)
	_ = Amf0.WriteNumber(packer.b, float64(streamId))
	return packer.flush(writer, csidOverConnection, base.RtmpTypeIdCommandMessageAmf0, 0)
}

func (packer *MessagePacker) writeOnStatusPublish(writer io.Writer, streamId int) error {
	return packer.writeOnStatus(writer, streamId, "status", "NetStream.Publish.Start", "Start publishing")
}

// writeOnStatusPublishRejected 推流被拒绝，比如stream key鉴权失败
func (packer *MessagePacker) writeOnStatusPublishRejected(writer io.Writer, streamId int, description string) error {
	return packer.writeOnStatus(writer, streamId, "error", "NetStream.Publish.BadName", description)
}

func (packer *MessagePacker) writeOnStatus(writer io.Writer, streamId int, level, code, description string) error {
	_ = Amf0.WriteString(packer.b, "onStatus")
	_ = Amf0.WriteNumber(packer.b, 0)
	_ = Amf0.WriteNull(packer.b)
	objs := ObjectPairArray{
		{Key: "level", Value: level},
		{Key: "code", Value: code},
		{Key: "description", Value: description},
	}
	_ = Amf0.WriteObject(packer.b, objs)
	return packer.flush(writer, csidOverStream, base.RtmpTypeIdCommandMessageAmf0, streamId)
}

// writeAvMsg 客户端发送音视频数据，使用独立的csid
func (packer *MessagePacker) writeAvMsg(writer io.Writer, msg base.RtmpMsg) error {
	h := msg.Header
	switch h.MsgTypeId {
	case base.RtmpTypeIdAudio:
		h.Csid = CsidAudio
	case base.RtmpTypeIdVideo:
		h.Csid = CsidVideo
	default:
		h.Csid = CsidAmf
	}
	h.MsgStreamId = Msid1
	_, err := writer.Write(Message2Chunks(msg.Payload, &h, packer.chunkSize))
	return err
}
