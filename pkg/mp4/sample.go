// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mp4

import (
	"fmt"

	"github.com/q191201771/lallive/pkg/base"
)

// ----- stsd ----------------------------------------------------------------------------------------------------------

type Stsd struct {
	FullBox
	Entries []Box
}

func (b *Stsd) BoxType() string { return "stsd" }
func (b *Stsd) Size() int       { return fullBoxHeaderSize + 4 + childrenSize(b.Entries) }

func (b *Stsd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "stsd", b.FullBox)
	w.U32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		e.Encode(w)
	}
}

func decodeStsd(typ string, r *Reader) (Box, error) {
	b := &Stsd{FullBox: r.FullBox()}
	n := r.U32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	entries, err := decodeChildren(r.Rest())
	if err != nil {
		return nil, err
	}
	if len(entries) != int(n) {
		return nil, base.NewErrInvalidTag(fmt.Sprintf("stsd entry count mismatch. declared=%d, actual=%d", n, len(entries)))
	}
	b.Entries = entries
	return b, nil
}

// ----- VisualSampleEntry ---------------------------------------------------------------------------------------------

// VisualSampleEntry avc1 avc3 hev1 hvc1 av01
//
// Children 一般是avcC/hvcC/av1C，可能还有btrt pasp等
//
type VisualSampleEntry struct {
	Type               string
	DataReferenceIndex uint16
	Width              uint16
	Height             uint16
	HorizResolution    uint32
	VertResolution     uint32
	FrameCount         uint16
	CompressorName     string
	Depth              uint16
	Children           []Box
}

func NewVisualSampleEntry(typ string, width, height uint16, children ...Box) *VisualSampleEntry {
	return &VisualSampleEntry{
		Type:               typ,
		DataReferenceIndex: 1,
		Width:              width,
		Height:             height,
		HorizResolution:    0x00480000,
		VertResolution:     0x00480000,
		FrameCount:         1,
		Depth:              0x0018,
		Children:           children,
	}
}

func (b *VisualSampleEntry) BoxType() string { return b.Type }
func (b *VisualSampleEntry) Size() int       { return boxHeaderSize + 78 + childrenSize(b.Children) }

func (b *VisualSampleEntry) Encode(w *Writer) {
	w.BoxHeader(b.Size(), b.Type)
	w.Zeros(6)
	w.U16(b.DataReferenceIndex)
	w.Zeros(16)
	w.U16(b.Width)
	w.U16(b.Height)
	w.U32(b.HorizResolution)
	w.U32(b.VertResolution)
	w.U32(0)
	w.U16(b.FrameCount)
	// compressorname 第一个字节是长度
	var name [32]byte
	n := copy(name[1:], b.CompressorName)
	name[0] = uint8(n)
	w.Write(name[:])
	w.U16(b.Depth)
	w.U16(0xFFFF)
	for _, c := range b.Children {
		c.Encode(w)
	}
}

// Find 第一个指定类型的子box
func (b *VisualSampleEntry) Find(typ string) Box {
	for _, c := range b.Children {
		if c.BoxType() == typ {
			return c
		}
	}
	return nil
}

func decodeVisualSampleEntry(typ string, r *Reader) (Box, error) {
	b := &VisualSampleEntry{Type: typ}
	r.Skip(6)
	b.DataReferenceIndex = r.U16()
	r.Skip(16)
	b.Width = r.U16()
	b.Height = r.U16()
	b.HorizResolution = r.U32()
	b.VertResolution = r.U32()
	r.Skip(4)
	b.FrameCount = r.U16()
	name := r.Bytes(32)
	if name != nil {
		n := int(name[0])
		if n > 31 {
			n = 31
		}
		b.CompressorName = string(name[1 : 1+n])
	}
	b.Depth = r.U16()
	r.Skip(2)
	if r.Err() != nil {
		return nil, r.Err()
	}
	children, err := decodeChildren(r.Rest())
	if err != nil {
		return nil, err
	}
	b.Children = children
	return b, nil
}

// ----- AudioSampleEntry ----------------------------------------------------------------------------------------------

type AudioSampleEntry struct {
	Type               string
	DataReferenceIndex uint16
	ChannelCount       uint16
	SampleSize         uint16
	// SampleRate 16.16定点数
	SampleRate uint32
	Children   []Box
}

func NewAudioSampleEntry(typ string, channels uint16, sampleRate uint32, children ...Box) *AudioSampleEntry {
	return &AudioSampleEntry{
		Type:               typ,
		DataReferenceIndex: 1,
		ChannelCount:       channels,
		SampleSize:         16,
		SampleRate:         sampleRate << 16,
		Children:           children,
	}
}

func (b *AudioSampleEntry) BoxType() string { return b.Type }
func (b *AudioSampleEntry) Size() int       { return boxHeaderSize + 28 + childrenSize(b.Children) }

func (b *AudioSampleEntry) Encode(w *Writer) {
	w.BoxHeader(b.Size(), b.Type)
	w.Zeros(6)
	w.U16(b.DataReferenceIndex)
	w.Zeros(8)
	w.U16(b.ChannelCount)
	w.U16(b.SampleSize)
	w.U32(0)
	w.U32(b.SampleRate)
	for _, c := range b.Children {
		c.Encode(w)
	}
}

func (b *AudioSampleEntry) Find(typ string) Box {
	for _, c := range b.Children {
		if c.BoxType() == typ {
			return c
		}
	}
	return nil
}

func decodeAudioSampleEntry(typ string, r *Reader) (Box, error) {
	b := &AudioSampleEntry{Type: typ}
	r.Skip(6)
	b.DataReferenceIndex = r.U16()
	r.Skip(8)
	b.ChannelCount = r.U16()
	b.SampleSize = r.U16()
	r.Skip(4)
	b.SampleRate = r.U32()
	if r.Err() != nil {
		return nil, r.Err()
	}
	children, err := decodeChildren(r.Rest())
	if err != nil {
		return nil, err
	}
	b.Children = children
	return b, nil
}

// ----- esds ----------------------------------------------------------------------------------------------------------

const (
	descTagEs                = 0x03
	descTagDecoderConfig     = 0x04
	descTagDecoderSpecific   = 0x05
	descTagSlConfig          = 0x06
	ObjectTypeAac            = 0x40
	StreamTypeAudio          = 0x05
	esdsDefaultSlConfigValue = 0x02
)

// Esds ISO_IEC_14496-1 ES_Descriptor，只保留mp4a需要的字段
type Esds struct {
	FullBox
	EsId                uint16
	ObjectType          uint8
	StreamType          uint8
	BufferSizeDb        uint32
	MaxBitrate          uint32
	AvgBitrate          uint32
	DecoderSpecificInfo []byte
}

func NewEsds(asc []byte) *Esds {
	return &Esds{
		EsId:                1,
		ObjectType:          ObjectTypeAac,
		StreamType:          StreamTypeAudio,
		DecoderSpecificInfo: asc,
	}
}

func (b *Esds) BoxType() string { return "esds" }

func (b *Esds) Size() int {
	return fullBoxHeaderSize + descSize(b.esDescPayloadSize())
}

func (b *Esds) decSpecificPayloadSize() int { return len(b.DecoderSpecificInfo) }
func (b *Esds) decConfigPayloadSize() int   { return 13 + descSize(b.decSpecificPayloadSize()) }
func (b *Esds) esDescPayloadSize() int      { return 3 + descSize(b.decConfigPayloadSize()) + descSize(1) }

func (b *Esds) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "esds", b.FullBox)

	writeDescHeader(w, descTagEs, b.esDescPayloadSize())
	w.U16(b.EsId)
	w.U8(0)

	writeDescHeader(w, descTagDecoderConfig, b.decConfigPayloadSize())
	w.U8(b.ObjectType)
	w.U8(b.StreamType<<2 | 0x01)
	w.U24(b.BufferSizeDb)
	w.U32(b.MaxBitrate)
	w.U32(b.AvgBitrate)

	writeDescHeader(w, descTagDecoderSpecific, b.decSpecificPayloadSize())
	w.Write(b.DecoderSpecificInfo)

	writeDescHeader(w, descTagSlConfig, 1)
	w.U8(esdsDefaultSlConfigValue)
}

func decodeEsds(typ string, r *Reader) (Box, error) {
	b := &Esds{FullBox: r.FullBox()}
	es, err := readDesc(r, descTagEs)
	if err != nil {
		return nil, err
	}
	b.EsId = es.U16()
	flags := es.U8()
	if flags&0x80 != 0 {
		es.Skip(2)
	}
	if flags&0x40 != 0 {
		es.Skip(int(es.U8()))
	}
	if flags&0x20 != 0 {
		es.Skip(2)
	}
	dc, err := readDesc(es, descTagDecoderConfig)
	if err != nil {
		return nil, err
	}
	b.ObjectType = dc.U8()
	b.StreamType = dc.U8() >> 2
	b.BufferSizeDb = dc.U24()
	b.MaxBitrate = dc.U32()
	b.AvgBitrate = dc.U32()
	if dc.Err() != nil {
		return nil, dc.Err()
	}
	if dc.Len() > 0 {
		ds, err := readDesc(dc, descTagDecoderSpecific)
		if err != nil {
			return nil, err
		}
		if d := ds.Rest(); len(d) > 0 {
			b.DecoderSpecificInfo = d
		}
	}
	return b, nil
}

// 长度字段每字节7比特，最高位表示后面还有
func descSize(payload int) int {
	return 1 + descLenSize(payload) + payload
}

func descLenSize(n int) int {
	size := 1
	for n >= 0x80 {
		n >>= 7
		size++
	}
	return size
}

func writeDescHeader(w *Writer, tag uint8, payload int) {
	w.U8(tag)
	n := descLenSize(payload)
	for i := n - 1; i >= 0; i-- {
		v := uint8(payload>>(7*uint(i))) & 0x7F
		if i > 0 {
			v |= 0x80
		}
		w.U8(v)
	}
}

// readDesc 读取指定tag的descriptor，返回只包含其payload的Reader
func readDesc(r *Reader, tag uint8) (*Reader, error) {
	t := r.U8()
	var size int
	for i := 0; i < 4; i++ {
		c := r.U8()
		size = size<<7 | int(c&0x7F)
		if c&0x80 == 0 {
			break
		}
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	if t != tag {
		return nil, base.NewErrInvalidTag(fmt.Sprintf("esds descriptor tag. expected=%d, actual=%d", tag, t))
	}
	payload := r.Bytes(size)
	if r.Err() != nil {
		return nil, r.Err()
	}
	return NewReader(payload), nil
}

// ----- btrt ----------------------------------------------------------------------------------------------------------

type Btrt struct {
	BufferSizeDb uint32
	MaxBitrate   uint32
	AvgBitrate   uint32
}

func (b *Btrt) BoxType() string { return "btrt" }
func (b *Btrt) Size() int       { return boxHeaderSize + 12 }

func (b *Btrt) Encode(w *Writer) {
	w.BoxHeader(b.Size(), "btrt")
	w.U32(b.BufferSizeDb)
	w.U32(b.MaxBitrate)
	w.U32(b.AvgBitrate)
}

func decodeBtrt(typ string, r *Reader) (Box, error) {
	b := &Btrt{BufferSizeDb: r.U32(), MaxBitrate: r.U32(), AvgBitrate: r.U32()}
	return b, r.Err()
}

func init() {
	registerDecoder(decodeStsd, "stsd")
	registerDecoder(decodeVisualSampleEntry, "avc1", "avc3", "hev1", "hvc1", "av01")
	registerDecoder(decodeAudioSampleEntry, "mp4a")
	registerDecoder(decodeEsds, "esds")
	registerDecoder(decodeBtrt, "btrt")
}
