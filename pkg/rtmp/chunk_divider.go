// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// Message2Chunks 将一个message切分成chunk
//
// 第一个chunk使用fmt0，后续chunk使用fmt3，不参考前一个message的头
//
// @param header: 使用header中的 Csid MsgTypeId MsgStreamId TimestampAbs，MsgLen使用len(message)
//
func Message2Chunks(message []byte, header *base.RtmpHeader, chunkSize int) []byte {
	numOfChunk := len(message) / chunkSize
	if len(message)%chunkSize != 0 || numOfChunk == 0 {
		numOfChunk++
	}

	out := make([]byte, 0, len(message)+maxHeaderSize*numOfChunk)

	ts := header.TimestampAbs
	extTs := ts >= maxTimestampInMessageHeader

	// fmt0
	out = appendBasicHeader(out, 0, header.Csid)
	var mh [11]byte
	if extTs {
		bele.BePutUint24(mh[:], maxTimestampInMessageHeader)
	} else {
		bele.BePutUint24(mh[:], ts)
	}
	bele.BePutUint24(mh[3:], uint32(len(message)))
	mh[6] = header.MsgTypeId
	bele.LePutUint32(mh[7:], uint32(header.MsgStreamId))
	out = append(out, mh[:]...)
	if extTs {
		out = appendUint32(out, ts)
	}

	for i := 0; i < numOfChunk; i++ {
		if i != 0 {
			out = appendBasicHeader(out, 3, header.Csid)
			if extTs {
				out = appendUint32(out, ts)
			}
		}
		b := i * chunkSize
		e := b + chunkSize
		if e > len(message) {
			e = len(message)
		}
		out = append(out, message[b:e]...)
	}
	return out
}

func appendBasicHeader(out []byte, fmtType uint8, csid int) []byte {
	switch {
	case csid >= 2 && csid <= 63:
		return append(out, fmtType<<6|uint8(csid))
	case csid >= 64 && csid <= 319:
		return append(out, fmtType<<6, uint8(csid-64))
	default:
		return append(out, fmtType<<6|1, uint8(csid-64), uint8((csid-64)>>8))
	}
}

func appendUint32(out []byte, v uint32) []byte {
	var b [4]byte
	bele.BePutUint32(b[:], v)
	return append(out, b[:]...)
}
