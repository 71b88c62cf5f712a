// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package avc

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

var NaluStartCode4 = []byte{0x0, 0x0, 0x0, 0x1}

const (
	NaluTypeSlice    uint8 = 1
	NaluTypeIdrSlice uint8 = 5
	NaluTypeSei      uint8 = 6
	NaluTypeSps      uint8 = 7
	NaluTypePps      uint8 = 8
	NaluTypeAud      uint8 = 9  // Access Unit Delimiter
	NaluTypeFd       uint8 = 12 // Filler Data
	NaluTypeSpsExt   uint8 = 13
)

var NaluTypeMapping = map[uint8]string{
	NaluTypeSlice:    "SLICE",
	NaluTypeIdrSlice: "IDR",
	NaluTypeSei:      "SEI",
	NaluTypeSps:      "SPS",
	NaluTypePps:      "PPS",
	NaluTypeAud:      "AUD",
	NaluTypeFd:       "FD",
}

func ParseNaluType(v uint8) uint8 {
	return v & 0x1f
}

func ParseNaluTypeReadable(v uint8) string {
	b, ok := NaluTypeMapping[ParseNaluType(v)]
	if !ok {
		return "unknown"
	}
	return b
}

// IterateNaluAvcc 遍历AVCC格式（长度前缀）的nalu
//
// @param nals:           rtmp/flv video tag去掉头部之后的部分，或者mp4 sample
// @param lengthSize:     长度字段的字节数，通常为4，也即 LengthSizeMinusOne + 1
// @param handler:        返回false时停止遍历
//
// @return err: 长度字段越界时返回 base.ErrTruncated
//
func IterateNaluAvcc(nals []byte, lengthSize int, handler func(nal []byte) bool) error {
	if lengthSize < 1 || lengthSize > 4 {
		return base.NewErrInvalidTag("nalu length size")
	}
	pos := 0
	for pos < len(nals) {
		if len(nals)-pos < lengthSize {
			return base.ErrTruncated
		}
		var l int
		for i := 0; i < lengthSize; i++ {
			l = l<<8 | int(nals[pos+i])
		}
		pos += lengthSize
		if len(nals)-pos < l {
			return base.ErrTruncated
		}
		if !handler(nals[pos : pos+l]) {
			return nil
		}
		pos += l
	}
	return nil
}

// HasIdrNalu AVCC格式的sample中是否含有IDR
func HasIdrNalu(nals []byte) bool {
	var ret bool
	_ = IterateNaluAvcc(nals, 4, func(nal []byte) bool {
		if len(nal) > 0 && ParseNaluType(nal[0]) == NaluTypeIdrSlice {
			ret = true
			return false
		}
		return true
	})
	return ret
}

// Avcc2Annexb 把4字节长度前缀替换为start code，用于调试工具导出裸流
func Avcc2Annexb(nals []byte) ([]byte, error) {
	out := make([]byte, 0, len(nals))
	err := IterateNaluAvcc(nals, 4, func(nal []byte) bool {
		out = append(out, NaluStartCode4...)
		out = append(out, nal...)
		return true
	})
	return out, err
}

// RemoveEmulationPrevention 去除防竞争字节 0x00 0x00 0x03 中的0x03，得到rbsp
//
// @return 新申请的内存块
//
func RemoveEmulationPrevention(nal []byte) []byte {
	out := make([]byte, 0, len(nal))
	zeros := 0
	for _, b := range nal {
		if zeros >= 2 && b == 0x03 {
			zeros = 0
			continue
		}
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
		out = append(out, b)
	}
	return out
}

func putLength16(out []byte, n int) []byte {
	var b [2]byte
	bele.BePutUint16(b[:], uint16(n))
	return append(out, b[:]...)
}
