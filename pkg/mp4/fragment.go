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

const (
	// SampleFlagsKeyframe sample_depends_on=2
	SampleFlagsKeyframe uint32 = 0x02000000
	// SampleFlagsNonKeyframe sample_depends_on=1, sample_is_non_sync_sample=1
	SampleFlagsNonKeyframe uint32 = 0x01010000

	sampleIsNonSyncSample uint32 = 0x00010000
)

// IsKeyframeFlags
func IsKeyframeFlags(flags uint32) bool {
	return flags&sampleIsNonSyncSample == 0
}

// ----- mfhd ----------------------------------------------------------------------------------------------------------

type Mfhd struct {
	FullBox
	SequenceNumber uint32
}

func (b *Mfhd) BoxType() string { return "mfhd" }
func (b *Mfhd) Size() int       { return fullBoxHeaderSize + 4 }

func (b *Mfhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "mfhd", b.FullBox)
	w.U32(b.SequenceNumber)
}

func decodeMfhd(typ string, r *Reader) (Box, error) {
	b := &Mfhd{FullBox: r.FullBox(), SequenceNumber: r.U32()}
	return b, r.Err()
}

// ----- tfhd ----------------------------------------------------------------------------------------------------------

const (
	TfhdBaseDataOffsetPresent         = 0x000001
	TfhdSampleDescriptionIndexPresent = 0x000002
	TfhdDefaultSampleDurationPresent  = 0x000008
	TfhdDefaultSampleSizePresent      = 0x000010
	TfhdDefaultSampleFlagsPresent     = 0x000020
	TfhdDurationIsEmpty               = 0x010000
	TfhdDefaultBaseIsMoof             = 0x020000
)

// Tfhd 可选字段是否存在由Flags决定
type Tfhd struct {
	FullBox
	TrackId                uint32
	BaseDataOffset         uint64
	SampleDescriptionIndex uint32
	DefaultSampleDuration  uint32
	DefaultSampleSize      uint32
	DefaultSampleFlags     uint32
}

func (b *Tfhd) BoxType() string { return "tfhd" }

func (b *Tfhd) Size() int {
	n := fullBoxHeaderSize + 4
	if b.Flags&TfhdBaseDataOffsetPresent != 0 {
		n += 8
	}
	if b.Flags&TfhdSampleDescriptionIndexPresent != 0 {
		n += 4
	}
	if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
		n += 4
	}
	if b.Flags&TfhdDefaultSampleSizePresent != 0 {
		n += 4
	}
	if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		n += 4
	}
	return n
}

func (b *Tfhd) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "tfhd", b.FullBox)
	w.U32(b.TrackId)
	if b.Flags&TfhdBaseDataOffsetPresent != 0 {
		w.U64(b.BaseDataOffset)
	}
	if b.Flags&TfhdSampleDescriptionIndexPresent != 0 {
		w.U32(b.SampleDescriptionIndex)
	}
	if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
		w.U32(b.DefaultSampleDuration)
	}
	if b.Flags&TfhdDefaultSampleSizePresent != 0 {
		w.U32(b.DefaultSampleSize)
	}
	if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		w.U32(b.DefaultSampleFlags)
	}
}

func decodeTfhd(typ string, r *Reader) (Box, error) {
	b := &Tfhd{FullBox: r.FullBox(), TrackId: r.U32()}
	if b.Flags&TfhdBaseDataOffsetPresent != 0 {
		b.BaseDataOffset = r.U64()
	}
	if b.Flags&TfhdSampleDescriptionIndexPresent != 0 {
		b.SampleDescriptionIndex = r.U32()
	}
	if b.Flags&TfhdDefaultSampleDurationPresent != 0 {
		b.DefaultSampleDuration = r.U32()
	}
	if b.Flags&TfhdDefaultSampleSizePresent != 0 {
		b.DefaultSampleSize = r.U32()
	}
	if b.Flags&TfhdDefaultSampleFlagsPresent != 0 {
		b.DefaultSampleFlags = r.U32()
	}
	return b, r.Err()
}

// ----- tfdt ----------------------------------------------------------------------------------------------------------

type Tfdt struct {
	FullBox
	BaseMediaDecodeTime uint64
}

// NewTfdt 总是使用version 1
func NewTfdt(decodeTime uint64) *Tfdt {
	return &Tfdt{FullBox: FullBox{Version: 1}, BaseMediaDecodeTime: decodeTime}
}

func (b *Tfdt) BoxType() string { return "tfdt" }

func (b *Tfdt) Size() int {
	if b.Version == 1 {
		return fullBoxHeaderSize + 8
	}
	return fullBoxHeaderSize + 4
}

func (b *Tfdt) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "tfdt", b.FullBox)
	if b.Version == 1 {
		w.U64(b.BaseMediaDecodeTime)
	} else {
		w.U32(uint32(b.BaseMediaDecodeTime))
	}
}

func decodeTfdt(typ string, r *Reader) (Box, error) {
	b := &Tfdt{FullBox: r.FullBox()}
	if b.Version == 1 {
		b.BaseMediaDecodeTime = r.U64()
	} else {
		b.BaseMediaDecodeTime = uint64(r.U32())
	}
	return b, r.Err()
}

// ----- trun ----------------------------------------------------------------------------------------------------------

const (
	TrunDataOffsetPresent                   = 0x000001
	TrunFirstSampleFlagsPresent             = 0x000004
	TrunSampleDurationPresent               = 0x000100
	TrunSampleSizePresent                   = 0x000200
	TrunSampleFlagsPresent                  = 0x000400
	TrunSampleCompositionTimeOffsetsPresent = 0x000800
)

type TrunSample struct {
	Duration uint32
	Size     uint32
	Flags    uint32
	// CompositionTimeOffset version 1时为有符号数
	CompositionTimeOffset int32
}

type Trun struct {
	FullBox
	DataOffset       int32
	FirstSampleFlags uint32
	Samples          []TrunSample
}

func (b *Trun) BoxType() string { return "trun" }

func (b *Trun) sampleSize() int {
	n := 0
	for _, f := range []uint32{TrunSampleDurationPresent, TrunSampleSizePresent, TrunSampleFlagsPresent, TrunSampleCompositionTimeOffsetsPresent} {
		if b.Flags&f != 0 {
			n += 4
		}
	}
	return n
}

func (b *Trun) Size() int {
	n := fullBoxHeaderSize + 4
	if b.Flags&TrunDataOffsetPresent != 0 {
		n += 4
	}
	if b.Flags&TrunFirstSampleFlagsPresent != 0 {
		n += 4
	}
	return n + b.sampleSize()*len(b.Samples)
}

func (b *Trun) Encode(w *Writer) {
	w.FullBoxHeader(b.Size(), "trun", b.FullBox)
	w.U32(uint32(len(b.Samples)))
	if b.Flags&TrunDataOffsetPresent != 0 {
		w.U32(uint32(b.DataOffset))
	}
	if b.Flags&TrunFirstSampleFlagsPresent != 0 {
		w.U32(b.FirstSampleFlags)
	}
	for _, s := range b.Samples {
		if b.Flags&TrunSampleDurationPresent != 0 {
			w.U32(s.Duration)
		}
		if b.Flags&TrunSampleSizePresent != 0 {
			w.U32(s.Size)
		}
		if b.Flags&TrunSampleFlagsPresent != 0 {
			w.U32(s.Flags)
		}
		if b.Flags&TrunSampleCompositionTimeOffsetsPresent != 0 {
			w.U32(uint32(s.CompositionTimeOffset))
		}
	}
}

func decodeTrun(typ string, r *Reader) (Box, error) {
	b := &Trun{FullBox: r.FullBox()}
	n := r.U32()
	if b.Flags&TrunDataOffsetPresent != 0 {
		b.DataOffset = int32(r.U32())
	}
	if b.Flags&TrunFirstSampleFlagsPresent != 0 {
		b.FirstSampleFlags = r.U32()
	}
	if err := checkCount(r, n, b.sampleSize()); err != nil {
		return nil, err
	}
	for i := uint32(0); i < n; i++ {
		var s TrunSample
		if b.Flags&TrunSampleDurationPresent != 0 {
			s.Duration = r.U32()
		}
		if b.Flags&TrunSampleSizePresent != 0 {
			s.Size = r.U32()
		}
		if b.Flags&TrunSampleFlagsPresent != 0 {
			s.Flags = r.U32()
		}
		if b.Flags&TrunSampleCompositionTimeOffsetsPresent != 0 {
			s.CompositionTimeOffset = int32(r.U32())
		}
		b.Samples = append(b.Samples, s)
	}
	return b, r.Err()
}

// SampleFlagsAt 第i个sample的flags，trun中没有时返回false
func (b *Trun) SampleFlagsAt(i int) (uint32, bool) {
	if i == 0 && b.Flags&TrunFirstSampleFlagsPresent != 0 {
		return b.FirstSampleFlags, true
	}
	if b.Flags&TrunSampleFlagsPresent != 0 && i < len(b.Samples) {
		return b.Samples[i].Flags, true
	}
	return 0, false
}

// ----- mdat ----------------------------------------------------------------------------------------------------------

type Mdat struct {
	Data []byte
}

func (b *Mdat) BoxType() string { return "mdat" }
func (b *Mdat) Size() int       { return boxHeaderSize + len(b.Data) }

func (b *Mdat) Encode(w *Writer) {
	w.BoxHeader(b.Size(), "mdat")
	w.Write(b.Data)
}

func decodeMdat(typ string, r *Reader) (Box, error) {
	return &Mdat{Data: r.Rest()}, r.Err()
}

// ---------------------------------------------------------------------------------------------------------------------

// FindMoofTraf 返回moof中指定track的traf，trackId为0时返回第一个
func FindMoofTraf(moof *Container, trackId uint32) (*Container, *Tfhd, error) {
	for _, box := range moof.FindAll("traf") {
		traf := box.(*Container)
		tfhd, ok := traf.Find("tfhd").(*Tfhd)
		if !ok {
			return nil, nil, base.NewErrInvalidTag("traf without tfhd")
		}
		if trackId == 0 || tfhd.TrackId == trackId {
			return traf, tfhd, nil
		}
	}
	return nil, nil, base.NewErrInvalidTag("traf not found")
}

func init() {
	registerDecoder(decodeMfhd, "mfhd")
	registerDecoder(decodeTfhd, "tfhd")
	registerDecoder(decodeTfdt, "tfdt")
	registerDecoder(decodeTrun, "trun")
	registerDecoder(decodeMdat, "mdat")
}
