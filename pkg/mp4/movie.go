// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mp4

import (
	"github.com/q191201771/lallive/pkg/base"
)

// UnityMatrix 单位变换矩阵，mvhd和tkhd共用
var UnityMatrix = [9]uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}

// ----- ftyp / styp ---------------------------------------------------------------------------------------------------

type Ftyp struct {
	// Type ftyp或styp，为空时按ftyp处理
	Type             string
	MajorBrand       string
	MinorVersion     uint32
	CompatibleBrands []string
}

func (b *Ftyp) BoxType() string {
	if b.Type == "" {
		return "ftyp"
	}
	return b.Type
}

func (b *Ftyp) Size() int { return boxHeaderSize + 8 + 4*len(b.CompatibleBrands) }

func (b *Ftyp) Encode(w *Writer) {
	w.BoxHeader(b.Size(), b.BoxType())
	w.FourCC(b.MajorBrand)
	w.U32(b.MinorVersion)
	for _, brand := range b.CompatibleBrands {
		w.FourCC(brand)
	}
}

func decodeFtyp(typ string, r *Reader) (Box, error) {
	b := &Ftyp{Type: typ, MajorBrand: r.FourCC(), MinorVersion: r.U32()}
	for r.Err() == nil && r.Len() >= 4 {
		b.CompatibleBrands = append(b.CompatibleBrands, r.FourCC())
	}
	return b, r.Err()
}

// ----- mvhd ----------------------------------------------------------------------------------------------------------

type Mvhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	Rate             uint32
	Volume           uint16
	Matrix           [9]uint32
	NextTrackId      uint32
}

func NewMvhd(timescale uint32, nextTrackId uint32) *Mvhd {
	return &Mvhd{
		Timescale:   timescale,
		Rate:        0x00010000,
		Volume:      0x0100,
		Matrix:      UnityMatrix,
		NextTrackId: nextTrackId,
	}
}

func (b *Mvhd) BoxType() string { return "mvhd" }

func (b *Mvhd) Size() int {
	if b.Version == 1 {
		return fullBoxHeaderSize + 108
	}
	return fullBoxHeaderSize + 96
}

func (b *Mvhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "mvhd", b.FullBox)
	if b.Version == 1 {
		w.U64(b.CreationTime)
		w.U64(b.ModificationTime)
		w.U32(b.Timescale)
		w.U64(b.Duration)
	} else {
		w.U32(uint32(b.CreationTime))
		w.U32(uint32(b.ModificationTime))
		w.U32(b.Timescale)
		w.U32(uint32(b.Duration))
	}
	w.U32(b.Rate)
	w.U16(b.Volume)
	w.Zeros(10)
	for _, m := range b.Matrix {
		w.U32(m)
	}
	// pre_defined
	w.Zeros(24)
	w.U32(b.NextTrackId)
}

func decodeMvhd(typ string, r *Reader) (Box, error) {
	b := &Mvhd{FullBox: r.FullBox()}
	if b.Version == 1 {
		b.CreationTime = r.U64()
		b.ModificationTime = r.U64()
		b.Timescale = r.U32()
		b.Duration = r.U64()
	} else {
		b.CreationTime = uint64(r.U32())
		b.ModificationTime = uint64(r.U32())
		b.Timescale = r.U32()
		b.Duration = uint64(r.U32())
	}
	b.Rate = r.U32()
	b.Volume = r.U16()
	r.Skip(10)
	for i := range b.Matrix {
		b.Matrix[i] = r.U32()
	}
	r.Skip(24)
	b.NextTrackId = r.U32()
	return b, r.Err()
}

// ----- tkhd ----------------------------------------------------------------------------------------------------------

const (
	TkhdFlagEnabled   = 0x000001
	TkhdFlagInMovie   = 0x000002
	TkhdFlagInPreview = 0x000004
)

type Tkhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	TrackId          uint32
	Duration         uint64
	Layer            uint16
	AlternateGroup   uint16
	Volume           uint16
	Matrix           [9]uint32
	// Width Height 16.16定点数
	Width  uint32
	Height uint32
}

// NewTkhd 视频轨道width height非0，音频轨道volume为1.0
func NewTkhd(trackId uint32, width, height uint32) *Tkhd {
	b := &Tkhd{
		FullBox: FullBox{Flags: TkhdFlagEnabled | TkhdFlagInMovie},
		TrackId: trackId,
		Matrix:  UnityMatrix,
		Width:   width << 16,
		Height:  height << 16,
	}
	if width == 0 && height == 0 {
		b.Volume = 0x0100
		b.AlternateGroup = 1
	}
	return b
}

func (b *Tkhd) BoxType() string { return "tkhd" }

func (b *Tkhd) Size() int {
	if b.Version == 1 {
		return fullBoxHeaderSize + 92
	}
	return fullBoxHeaderSize + 80
}

func (b *Tkhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "tkhd", b.FullBox)
	if b.Version == 1 {
		w.U64(b.CreationTime)
		w.U64(b.ModificationTime)
		w.U32(b.TrackId)
		w.U32(0)
		w.U64(b.Duration)
	} else {
		w.U32(uint32(b.CreationTime))
		w.U32(uint32(b.ModificationTime))
		w.U32(b.TrackId)
		w.U32(0)
		w.U32(uint32(b.Duration))
	}
	w.Zeros(8)
	w.U16(b.Layer)
	w.U16(b.AlternateGroup)
	w.U16(b.Volume)
	w.U16(0)
	for _, m := range b.Matrix {
		w.U32(m)
	}
	w.U32(b.Width)
	w.U32(b.Height)
}

func decodeTkhd(typ string, r *Reader) (Box, error) {
	b := &Tkhd{FullBox: r.FullBox()}
	if b.Version == 1 {
		b.CreationTime = r.U64()
		b.ModificationTime = r.U64()
		b.TrackId = r.U32()
		r.Skip(4)
		b.Duration = r.U64()
	} else {
		b.CreationTime = uint64(r.U32())
		b.ModificationTime = uint64(r.U32())
		b.TrackId = r.U32()
		r.Skip(4)
		b.Duration = uint64(r.U32())
	}
	r.Skip(8)
	b.Layer = r.U16()
	b.AlternateGroup = r.U16()
	b.Volume = r.U16()
	r.Skip(2)
	for i := range b.Matrix {
		b.Matrix[i] = r.U32()
	}
	b.Width = r.U32()
	b.Height = r.U32()
	return b, r.Err()
}

// ----- mdhd ----------------------------------------------------------------------------------------------------------

type Mdhd struct {
	FullBox
	CreationTime     uint64
	ModificationTime uint64
	Timescale        uint32
	Duration         uint64
	// Language ISO-639-2/T，三个小写字母
	Language string
}

func (b *Mdhd) BoxType() string { return "mdhd" }

func (b *Mdhd) Size() int {
	if b.Version == 1 {
		return fullBoxHeaderSize + 32
	}
	return fullBoxHeaderSize + 20
}

func (b *Mdhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "mdhd", b.FullBox)
	if b.Version == 1 {
		w.U64(b.CreationTime)
		w.U64(b.ModificationTime)
		w.U32(b.Timescale)
		w.U64(b.Duration)
	} else {
		w.U32(uint32(b.CreationTime))
		w.U32(uint32(b.ModificationTime))
		w.U32(b.Timescale)
		w.U32(uint32(b.Duration))
	}
	w.U16(packLanguage(b.Language))
	w.U16(0)
}

func decodeMdhd(typ string, r *Reader) (Box, error) {
	b := &Mdhd{FullBox: r.FullBox()}
	if b.Version == 1 {
		b.CreationTime = r.U64()
		b.ModificationTime = r.U64()
		b.Timescale = r.U32()
		b.Duration = r.U64()
	} else {
		b.CreationTime = uint64(r.U32())
		b.ModificationTime = uint64(r.U32())
		b.Timescale = r.U32()
		b.Duration = uint64(r.U32())
	}
	b.Language = unpackLanguage(r.U16())
	r.Skip(2)
	return b, r.Err()
}

// 每个字母5比特，值为 字母-0x60
func packLanguage(lang string) uint16 {
	if len(lang) != 3 {
		lang = "und"
	}
	return uint16(lang[0]-0x60)<<10 | uint16(lang[1]-0x60)<<5 | uint16(lang[2]-0x60)
}

func unpackLanguage(v uint16) string {
	return string([]byte{
		byte(v>>10&0x1F) + 0x60,
		byte(v>>5&0x1F) + 0x60,
		byte(v&0x1F) + 0x60,
	})
}

// ----- hdlr ----------------------------------------------------------------------------------------------------------

const (
	HandlerVideo = "vide"
	HandlerAudio = "soun"
)

type Hdlr struct {
	FullBox
	HandlerType string
	Name        string
}

func (b *Hdlr) BoxType() string { return "hdlr" }
func (b *Hdlr) Size() int       { return fullBoxHeaderSize + 20 + len(b.Name) + 1 }

func (b *Hdlr) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "hdlr", b.FullBox)
	w.U32(0)
	w.FourCC(b.HandlerType)
	w.Zeros(12)
	w.Write([]byte(b.Name))
	w.U8(0)
}

func decodeHdlr(typ string, r *Reader) (Box, error) {
	b := &Hdlr{FullBox: r.FullBox()}
	r.Skip(4)
	b.HandlerType = r.FourCC()
	r.Skip(12)
	name := r.Rest()
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	b.Name = string(name)
	return b, r.Err()
}

// ----- vmhd / smhd ---------------------------------------------------------------------------------------------------

type Vmhd struct {
	FullBox
	GraphicsMode uint16
	Opcolor      [3]uint16
}

func NewVmhd() *Vmhd {
	return &Vmhd{FullBox: FullBox{Flags: 1}}
}

func (b *Vmhd) BoxType() string { return "vmhd" }
func (b *Vmhd) Size() int       { return fullBoxHeaderSize + 8 }

func (b *Vmhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "vmhd", b.FullBox)
	w.U16(b.GraphicsMode)
	for _, c := range b.Opcolor {
		w.U16(c)
	}
}

func decodeVmhd(typ string, r *Reader) (Box, error) {
	b := &Vmhd{FullBox: r.FullBox(), GraphicsMode: r.U16()}
	for i := range b.Opcolor {
		b.Opcolor[i] = r.U16()
	}
	return b, r.Err()
}

type Smhd struct {
	FullBox
	Balance uint16
}

func (b *Smhd) BoxType() string { return "smhd" }
func (b *Smhd) Size() int       { return fullBoxHeaderSize + 4 }

func (b *Smhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "smhd", b.FullBox)
	w.U16(b.Balance)
	w.U16(0)
}

func decodeSmhd(typ string, r *Reader) (Box, error) {
	b := &Smhd{FullBox: r.FullBox(), Balance: r.U16()}
	r.Skip(2)
	return b, r.Err()
}

// ----- dref ----------------------------------------------------------------------------------------------------------

// Dref 只支持一个自包含的url条目
type Dref struct {
	FullBox
}

func (b *Dref) BoxType() string { return "dref" }
func (b *Dref) Size() int       { return fullBoxHeaderSize + 4 + fullBoxHeaderSize }

func (b *Dref) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "dref", b.FullBox)
	w.U32(1)
	// url box, flags=1表示媒体数据在同一文件中
	w.FullBoxHeader(fullBoxHeaderSize, "url ", FullBox{Flags: 1})
}

func decodeDref(typ string, r *Reader) (Box, error) {
	b := &Dref{FullBox: r.FullBox()}
	if n := r.U32(); r.Err() == nil && n != 1 {
		return nil, base.NewErrInvalidTag("dref entry count")
	}
	r.Rest()
	return b, r.Err()
}

// ----- stts / stsc / stsz / stco -------------------------------------------------------------------------------------

// 以下几个box在fmp4的init segment中都是空表，但仍然完整支持条目的编解码

type SttsEntry struct {
	SampleCount uint32
	SampleDelta uint32
}

type Stts struct {
	FullBox
	Entries []SttsEntry
}

func (b *Stts) BoxType() string { return "stts" }
func (b *Stts) Size() int       { return fullBoxHeaderSize + 4 + 8*len(b.Entries) }

func (b *Stts) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "stts", b.FullBox)
	w.U32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.U32(e.SampleCount)
		w.U32(e.SampleDelta)
	}
}

func decodeStts(typ string, r *Reader) (Box, error) {
	b := &Stts{FullBox: r.FullBox()}
	n := r.U32()
	if err := checkCount(r, n, 8); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		b.Entries = append(b.Entries, SttsEntry{SampleCount: r.U32(), SampleDelta: r.U32()})
	}
	return b, r.Err()
}

type StscEntry struct {
	FirstChunk             uint32
	SamplesPerChunk        uint32
	SampleDescriptionIndex uint32
}

type Stsc struct {
	FullBox
	Entries []StscEntry
}

func (b *Stsc) BoxType() string { return "stsc" }
func (b *Stsc) Size() int       { return fullBoxHeaderSize + 4 + 12*len(b.Entries) }

func (b *Stsc) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "stsc", b.FullBox)
	w.U32(uint32(len(b.Entries)))
	for _, e := range b.Entries {
		w.U32(e.FirstChunk)
		w.U32(e.SamplesPerChunk)
		w.U32(e.SampleDescriptionIndex)
	}
}

func decodeStsc(typ string, r *Reader) (Box, error) {
	b := &Stsc{FullBox: r.FullBox()}
	n := r.U32()
	if err := checkCount(r, n, 12); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		b.Entries = append(b.Entries, StscEntry{FirstChunk: r.U32(), SamplesPerChunk: r.U32(), SampleDescriptionIndex: r.U32()})
	}
	return b, r.Err()
}

type Stsz struct {
	FullBox
	// SampleSize 非0时所有sample大小相同，EntrySizes为空
	SampleSize  uint32
	SampleCount uint32
	EntrySizes  []uint32
}

func (b *Stsz) BoxType() string { return "stsz" }
func (b *Stsz) Size() int       { return fullBoxHeaderSize + 8 + 4*len(b.EntrySizes) }

func (b *Stsz) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "stsz", b.FullBox)
	w.U32(b.SampleSize)
	w.U32(b.SampleCount)
	for _, s := range b.EntrySizes {
		w.U32(s)
	}
}

func decodeStsz(typ string, r *Reader) (Box, error) {
	b := &Stsz{FullBox: r.FullBox(), SampleSize: r.U32(), SampleCount: r.U32()}
	if b.SampleSize == 0 {
		if err := checkCount(r, b.SampleCount, 4); err != nil {
			return nil, err
		}
		for i := uint32(0); i < b.SampleCount; i++ {
			b.EntrySizes = append(b.EntrySizes, r.U32())
		}
	}
	return b, r.Err()
}

type Stco struct {
	FullBox
	ChunkOffsets []uint32
}

func (b *Stco) BoxType() string { return "stco" }
func (b *Stco) Size() int       { return fullBoxHeaderSize + 4 + 4*len(b.ChunkOffsets) }

func (b *Stco) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "stco", b.FullBox)
	w.U32(uint32(len(b.ChunkOffsets)))
	for _, o := range b.ChunkOffsets {
		w.U32(o)
	}
}

func decodeStco(typ string, r *Reader) (Box, error) {
	b := &Stco{FullBox: r.FullBox()}
	n := r.U32()
	if err := checkCount(r, n, 4); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		b.ChunkOffsets = append(b.ChunkOffsets, r.U32())
	}
	return b, r.Err()
}

// ----- trex ----------------------------------------------------------------------------------------------------------

type Trex struct {
	FullBox
	TrackId                       uint32
	DefaultSampleDescriptionIndex uint32
	DefaultSampleDuration         uint32
	DefaultSampleSize             uint32
	DefaultSampleFlags            uint32
}

func (b *Trex) BoxType() string { return "trex" }
func (b *Trex) Size() int       { return fullBoxHeaderSize + 20 }

func (b *Trex) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "trex", b.FullBox)
	w.U32(b.TrackId)
	w.U32(b.DefaultSampleDescriptionIndex)
	w.U32(b.DefaultSampleDuration)
	w.U32(b.DefaultSampleSize)
	w.U32(b.DefaultSampleFlags)
}

func decodeTrex(typ string, r *Reader) (Box, error) {
	b := &Trex{
		FullBox:                       r.FullBox(),
		TrackId:                       r.U32(),
		DefaultSampleDescriptionIndex: r.U32(),
		DefaultSampleDuration:         r.U32(),
		DefaultSampleSize:             r.U32(),
		DefaultSampleFlags:            r.U32(),
	}
	return b, r.Err()
}

// checkCount 条目数声明超过剩余字节时直接报错，避免按恶意的count分配内存
func checkCount(r *Reader, n uint32, entrySize int) error {
	if r.Err() != nil {
		return r.Err()
	}
	if uint64(n)*uint64(entrySize) > uint64(r.Len()) {
		return base.ErrTruncated
	}
	return nil
}

func init() {
	registerDecoder(decodeFtyp, "ftyp", "styp")
	registerDecoder(decodeMvhd, "mvhd")
	registerDecoder(decodeTkhd, "tkhd")
	registerDecoder(decodeMdhd, "mdhd")
	registerDecoder(decodeHdlr, "hdlr")
	registerDecoder(decodeVmhd, "vmhd")
	registerDecoder(decodeSmhd, "smhd")
	registerDecoder(decodeDref, "dref")
	registerDecoder(decodeStts, "stts")
	registerDecoder(decodeStsc, "stsc")
	registerDecoder(decodeStsz, "stsz")
	registerDecoder(decodeStco, "stco")
	registerDecoder(decodeTrex, "trex")
}
