// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package aac

import (
	"fmt"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/nazabits"
)

// AudioSpecificConfig(asc)
// keywords: Seq Header,
// e.g.  rtmp, flv, mp4 esds

const (
	AotAacMain = 1
	AotAacLc   = 2
	AotAacSsr  = 3
	AotAacLtp  = 4
	AotSbr     = 5
	AotPs      = 29

	aotEscape        = 31
	freqIndexExplict = 15

	minAscLength = 2

	// SamplesPerFrame 一个aac帧包含的采样数
	SamplesPerFrame = 1024
)

var samplingFrequencies = []uint32{96000, 88200, 64000, 48000, 44100, 32000, 24000, 22050, 16000, 12000, 11025, 8000, 7350}

// AscContext
//
// <ISO_IEC_14496-3.pdf>
// <1.6.2.1 AudioSpecificConfig>, <page 33/110>
// <1.5.1.1 Audio Object type definition>, <page 23/110>
// <1.6.3.3 samplingFrequencyIndex>, <page 35/110>
// <1.6.3.4 channelConfiguration>
// --------------------------------------------------------
// audio object type      [5b] 1=AAC MAIN  2=AAC LC, 31时后跟6b扩展
// samplingFrequencyIndex [4b] 3=48000  4=44100  6=24000  5=32000  11=11025, 15时后跟24b频率
// channelConfiguration   [4b] 1=center front speaker  2=left, right front speakers
// 以下只有object type为5(SBR)或29(PS)时存在
// extensionSamplingFrequencyIndex [4b]
// audioObjectType                 [5b]
//
// 其余的GASpecificConfig等字段不解析，原样保存，保证Pack(Unpack(b))与b一致
//
type AscContext struct {
	AudioObjectType        uint8
	SamplingFrequencyIndex uint8
	SamplingFrequency      uint32 // 只有SamplingFrequencyIndex为15时有效
	ChannelConfiguration   uint8

	ExtensionSamplingFrequencyIndex uint8
	ExtensionSamplingFrequency      uint32
	CoreObjectType                  uint8 // HE-AAC时，真正编码使用的object type

	tail     []uint8 // 未解析的剩余bit，每个元素存放一个bit
	hasExtra bool
}

func NewAscContext(asc []byte) (*AscContext, error) {
	var ascCtx AscContext
	if err := ascCtx.Unpack(asc); err != nil {
		return nil, err
	}
	return &ascCtx, nil
}

// Unpack
//
// @param asc: AAC Audio Specifc Config
//             注意，如果是rtmp/flv的message/tag，应去除Seq Header头部的2个字节
//             函数调用结束后，内部不持有该内存块
//
func (ascCtx *AscContext) Unpack(asc []byte) (err error) {
	if len(asc) < minAscLength {
		return base.ErrTruncated
	}
	*ascCtx = AscContext{}

	br := nazabits.NewBitReader(asc)
	consumed := 0
	read8 := func(n uint) uint8 {
		if err != nil {
			return 0
		}
		var v uint8
		v, err = br.ReadBits8(n)
		consumed += int(n)
		return v
	}
	read24 := func() uint32 {
		hi := read8(8)
		mid := read8(8)
		lo := read8(8)
		return uint32(hi)<<16 | uint32(mid)<<8 | uint32(lo)
	}
	readAot := func() uint8 {
		aot := read8(5)
		if aot == aotEscape {
			aot = 32 + read8(6)
		}
		return aot
	}

	ascCtx.AudioObjectType = readAot()
	ascCtx.SamplingFrequencyIndex = read8(4)
	if ascCtx.SamplingFrequencyIndex == freqIndexExplict {
		ascCtx.SamplingFrequency = read24()
	}
	ascCtx.ChannelConfiguration = read8(4)
	if ascCtx.AudioObjectType == AotSbr || ascCtx.AudioObjectType == AotPs {
		ascCtx.hasExtra = true
		ascCtx.ExtensionSamplingFrequencyIndex = read8(4)
		if ascCtx.ExtensionSamplingFrequencyIndex == freqIndexExplict {
			ascCtx.ExtensionSamplingFrequency = read24()
		}
		ascCtx.CoreObjectType = readAot()
	}
	if err != nil {
		return base.ErrTruncated
	}
	if ascCtx.SamplingFrequencyIndex != freqIndexExplict && int(ascCtx.SamplingFrequencyIndex) >= len(samplingFrequencies) {
		return fmt.Errorf("%w. index=%d", base.ErrSamplingFrequencyIndex, ascCtx.SamplingFrequencyIndex)
	}

	remain := len(asc)*8 - consumed
	ascCtx.tail = make([]uint8, 0, remain)
	for i := 0; i < remain; i++ {
		ascCtx.tail = append(ascCtx.tail, read8(1))
	}
	if err != nil {
		return base.ErrTruncated
	}
	return nil
}

// Pack
//
// @return asc: 内存块为独立新申请；函数调用结束后，内部不持有该内存块
//
func (ascCtx *AscContext) Pack() (asc []byte) {
	bits := ascCtx.headerBits() + len(ascCtx.tail)
	asc = make([]byte, (bits+7)/8)
	bw := nazabits.NewBitWriter(asc)
	write24 := func(v uint32) {
		bw.WriteBits8(8, uint8(v>>16))
		bw.WriteBits8(8, uint8(v>>8))
		bw.WriteBits8(8, uint8(v))
	}
	writeAot := func(aot uint8) {
		if aot >= 32 {
			bw.WriteBits8(5, aotEscape)
			bw.WriteBits8(6, aot-32)
		} else {
			bw.WriteBits8(5, aot)
		}
	}

	writeAot(ascCtx.AudioObjectType)
	bw.WriteBits8(4, ascCtx.SamplingFrequencyIndex)
	if ascCtx.SamplingFrequencyIndex == freqIndexExplict {
		write24(ascCtx.SamplingFrequency)
	}
	bw.WriteBits8(4, ascCtx.ChannelConfiguration)
	if ascCtx.hasExtra || ascCtx.AudioObjectType == AotSbr || ascCtx.AudioObjectType == AotPs {
		bw.WriteBits8(4, ascCtx.ExtensionSamplingFrequencyIndex)
		if ascCtx.ExtensionSamplingFrequencyIndex == freqIndexExplict {
			write24(ascCtx.ExtensionSamplingFrequency)
		}
		writeAot(ascCtx.CoreObjectType)
	}
	for _, b := range ascCtx.tail {
		bw.WriteBits8(1, b)
	}
	return
}

func (ascCtx *AscContext) headerBits() int {
	aotBits := func(aot uint8) int {
		if aot >= 32 {
			return 11
		}
		return 5
	}
	n := aotBits(ascCtx.AudioObjectType) + 4 + 4
	if ascCtx.SamplingFrequencyIndex == freqIndexExplict {
		n += 24
	}
	if ascCtx.hasExtra || ascCtx.AudioObjectType == AotSbr || ascCtx.AudioObjectType == AotPs {
		n += 4 + aotBits(ascCtx.CoreObjectType)
		if ascCtx.ExtensionSamplingFrequencyIndex == freqIndexExplict {
			n += 24
		}
	}
	return n
}

// GetSamplingFrequency 采样率。显式SBR信令时返回扩展后的输出采样率
func (ascCtx *AscContext) GetSamplingFrequency() (int, error) {
	if ascCtx.hasExtra {
		if ascCtx.ExtensionSamplingFrequencyIndex == freqIndexExplict {
			return int(ascCtx.ExtensionSamplingFrequency), nil
		}
		if int(ascCtx.ExtensionSamplingFrequencyIndex) < len(samplingFrequencies) {
			return int(samplingFrequencies[ascCtx.ExtensionSamplingFrequencyIndex]), nil
		}
	}
	if ascCtx.SamplingFrequencyIndex == freqIndexExplict {
		return int(ascCtx.SamplingFrequency), nil
	}
	if int(ascCtx.SamplingFrequencyIndex) < len(samplingFrequencies) {
		return int(samplingFrequencies[ascCtx.SamplingFrequencyIndex]), nil
	}
	return -1, fmt.Errorf("%w. index=%d", base.ErrSamplingFrequencyIndex, ascCtx.SamplingFrequencyIndex)
}

// GetChannels 声道数。channelConfiguration为7时是7.1声道
func (ascCtx *AscContext) GetChannels() int {
	switch ascCtx.ChannelConfiguration {
	case 7:
		return 8
	default:
		return int(ascCtx.ChannelConfiguration)
	}
}

// SamplingFrequencyIndexOf 采样率对应的index，不在表中时返回15
func SamplingFrequencyIndexOf(freq int) uint8 {
	for i, f := range samplingFrequencies {
		if int(f) == freq {
			return uint8(i)
		}
	}
	return freqIndexExplict
}

// MakeAsc 生成最简单的AAC-LC AudioSpecificConfig
func MakeAsc(aot uint8, sampleRate int, channels int) []byte {
	ctx := AscContext{
		AudioObjectType:        aot,
		SamplingFrequencyIndex: SamplingFrequencyIndexOf(sampleRate),
		ChannelConfiguration:   uint8(channels),
	}
	if ctx.SamplingFrequencyIndex == freqIndexExplict {
		ctx.SamplingFrequency = uint32(sampleRate)
	}
	// GASpecificConfig: frameLengthFlag, dependsOnCoreCoder, extensionFlag 均为0，之后补齐到字节
	total := ctx.headerBits() + 3
	ctx.tail = make([]uint8, 3+(8-total%8)%8)
	return ctx.Pack()
}
