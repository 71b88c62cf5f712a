// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package av1

import (
	"github.com/q191201771/lallive/pkg/base"
)

// av1-spec.pdf
// 5.3.1 General OBU syntax
// 5.3.2 OBU header syntax
const (
	ObuTypeSequenceHeader       uint8 = 1
	ObuTypeTemporalDelimiter    uint8 = 2
	ObuTypeFrameHeader          uint8 = 3
	ObuTypeTileGroup            uint8 = 4
	ObuTypeMetadata             uint8 = 5
	ObuTypeFrame                uint8 = 6
	ObuTypeRedundantFrameHeader uint8 = 7
	ObuTypeTileList             uint8 = 8
	ObuTypePadding              uint8 = 15
)

type ObuHeader struct {
	Type          uint8
	ExtensionFlag uint8
	HasSizeField  uint8
	TemporalId    uint8
	SpatialId     uint8
}

// Obu 一个完整的obu
type Obu struct {
	Header ObuHeader
	Raw    []byte // header + size + payload
	Data   []byte // 仅payload
}

// ParseObuHeader
//
// @return n: header占用的字节数，1或2
//
func ParseObuHeader(b []byte) (h ObuHeader, n int, err error) {
	if len(b) < 1 {
		return h, 0, base.ErrTruncated
	}
	if b[0]&0x80 != 0 {
		return h, 0, base.NewErrInvalidTag("obu forbidden bit")
	}
	h.Type = (b[0] >> 3) & 0x0F
	h.ExtensionFlag = (b[0] >> 2) & 0x01
	h.HasSizeField = (b[0] >> 1) & 0x01
	n = 1
	if h.ExtensionFlag == 1 {
		if len(b) < 2 {
			return h, 0, base.ErrTruncated
		}
		h.TemporalId = b[1] >> 5
		h.SpatialId = (b[1] >> 3) & 0x03
		n = 2
	}
	return h, n, nil
}

// ReadLeb128
//
// @return n: 消耗的字节数
//
func ReadLeb128(b []byte) (v uint64, n int, err error) {
	for i := 0; i < 8; i++ {
		if i >= len(b) {
			return 0, 0, base.ErrTruncated
		}
		v |= uint64(b[i]&0x7f) << (uint(i) * 7)
		if b[i]&0x80 == 0 {
			return v, i + 1, nil
		}
	}
	return 0, 0, base.NewErrInvalidTag("leb128 too long")
}

func AppendLeb128(out []byte, v uint64) []byte {
	for {
		b := uint8(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
		} else {
			return append(out, b)
		}
	}
}

// IterateObus 遍历low overhead bitstream format的obu序列，每个obu都必须带size字段
// 最后一个obu可以不带size，此时payload一直到b的结尾
func IterateObus(b []byte, handler func(obu Obu) bool) error {
	pos := 0
	for pos < len(b) {
		h, n, err := ParseObuHeader(b[pos:])
		if err != nil {
			return err
		}
		start := pos
		pos += n
		size := uint64(len(b) - pos)
		if h.HasSizeField == 1 {
			var m int
			size, m, err = ReadLeb128(b[pos:])
			if err != nil {
				return err
			}
			pos += m
		}
		if uint64(len(b)-pos) < size {
			return base.ErrTruncated
		}
		end := pos + int(size)
		if !handler(Obu{Header: h, Raw: b[start:end], Data: b[pos:end]}) {
			return nil
		}
		pos = end
	}
	return nil
}

// StripTemporalDelimiter mp4 av01 sample中不应该包含temporal delimiter
//
// @return 不含temporal delimiter时直接返回b，否则返回新申请的内存块
//
func StripTemporalDelimiter(b []byte) ([]byte, error) {
	found := false
	if err := IterateObus(b, func(obu Obu) bool {
		if obu.Header.Type == ObuTypeTemporalDelimiter {
			found = true
			return false
		}
		return true
	}); err != nil {
		return nil, err
	}
	if !found {
		return b, nil
	}
	out := make([]byte, 0, len(b))
	err := IterateObus(b, func(obu Obu) bool {
		if obu.Header.Type != ObuTypeTemporalDelimiter {
			out = append(out, obu.Raw...)
		}
		return true
	})
	return out, err
}

// HasKeyFrame 粗略判断：含有sequence header的TU认为是关键帧
func HasKeyFrame(b []byte) bool {
	var ret bool
	_ = IterateObus(b, func(obu Obu) bool {
		if obu.Header.Type == ObuTypeSequenceHeader {
			ret = true
			return false
		}
		return true
	})
	return ret
}

// FindSequenceHeader 返回第一个sequence header obu（包含header），没有时返回nil
func FindSequenceHeader(b []byte) []byte {
	var ret []byte
	_ = IterateObus(b, func(obu Obu) bool {
		if obu.Header.Type == ObuTypeSequenceHeader {
			ret = obu.Raw
			return false
		}
		return true
	})
	return ret
}
