// Copyright 2020, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package hevc

import (
	"github.com/q191201771/lallive/pkg/avc"
)

// ISO_IEC_23008-2_2013.pdf
// Table 7-1 – NAL unit type codes and NAL unit type classes
const (
	NaluTypeSliceTrailN uint8 = 0
	NaluTypeSliceTrailR uint8 = 1
	NaluTypeSliceBlaWlp uint8 = 16
	NaluTypeSliceIdr    uint8 = 19
	NaluTypeSliceIdrNlp uint8 = 20
	NaluTypeSliceCranut uint8 = 21
	NaluTypeVps         uint8 = 32
	NaluTypeSps         uint8 = 33
	NaluTypePps         uint8 = 34
	NaluTypeAud         uint8 = 35
	NaluTypeSei         uint8 = 39
	NaluTypeSeiSuffix   uint8 = 40
)

var NaluTypeMapping = map[uint8]string{
	NaluTypeSliceTrailN: "TrailN",
	NaluTypeSliceTrailR: "TrailR",
	NaluTypeSliceIdr:    "IDR",
	NaluTypeSliceIdrNlp: "IDRNLP",
	NaluTypeSliceCranut: "CRANUT",
	NaluTypeVps:         "VPS",
	NaluTypeSps:         "SPS",
	NaluTypePps:         "PPS",
	NaluTypeAud:         "AUD",
	NaluTypeSei:         "SEI",
	NaluTypeSeiSuffix:   "SEI",
}

// ParseNaluType 6 bit in middle
// 0*** ***0
func ParseNaluType(v uint8) uint8 {
	return (v & 0x7E) >> 1
}

func ParseNaluTypeReadable(v uint8) string {
	b, ok := NaluTypeMapping[ParseNaluType(v)]
	if !ok {
		return "unknown"
	}
	return b
}

// IsIrapNalu BLA/IDR/CRA 以及保留的IRAP类型
func IsIrapNalu(typ uint8) bool {
	return typ >= NaluTypeSliceBlaWlp && typ <= 23
}

// HasIrapNalu 4字节长度前缀格式的sample中是否含有关键帧nalu
func HasIrapNalu(nals []byte) bool {
	var ret bool
	_ = avc.IterateNaluAvcc(nals, 4, func(nal []byte) bool {
		if len(nal) > 0 && IsIrapNalu(ParseNaluType(nal[0])) {
			ret = true
			return false
		}
		return true
	})
	return ret
}
