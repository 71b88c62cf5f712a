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
	"io"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

// MaxStreamBoxSize 从字节流中读取的单个box的上限
const MaxStreamBoxSize = 64 * 1024 * 1024

type TrackInfo struct {
	TrackId     uint32
	Timescale   uint32
	HandlerType string
	trex        *Trex
}

type FragmentTrack struct {
	TrackId     uint32
	DecodeTime  uint64
	Duration    uint64
	SampleCount int
	// Keyframe 第一个sample是否是同步sample
	Keyframe bool
}

// Fragment 一个moof+mdat，Raw包含moof之前的styp等box
type Fragment struct {
	Raw            []byte
	SequenceNumber uint32
	Tracks         []FragmentTrack
}

// Track 指定track的信息，没有时返回nil
func (f *Fragment) Track(trackId uint32) *FragmentTrack {
	for i := range f.Tracks {
		if f.Tracks[i].TrackId == trackId {
			return &f.Tracks[i]
		}
	}
	return nil
}

// FragmentReader 把一个fmp4字节流（比如ffmpeg的输出管道）切分成init和fragment
//
// 使用方式：先调用一次 ReadInit，然后循环调用 ReadFragment 直到返回io.EOF
//
type FragmentReader struct {
	r      io.Reader
	tracks []TrackInfo
	header [16]byte
}

func NewFragmentReader(r io.Reader) *FragmentReader {
	return &FragmentReader{r: r}
}

// ReadInit 读取ftyp+moov
//
// @return initSeg: ftyp和moov的原始字节，moov之前的其他box也包含在内
//
func (fr *FragmentReader) ReadInit() (initSeg []byte, moov *Container, err error) {
	for {
		typ, raw, err := fr.readBox()
		if err != nil {
			if err == io.EOF && len(initSeg) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, nil, err
		}
		initSeg = append(initSeg, raw...)
		if typ != "moov" {
			continue
		}
		boxes, err := Unmarshal(raw)
		if err != nil {
			return nil, nil, err
		}
		moov = boxes[0].(*Container)
		fr.tracks, err = ParseTracks(moov)
		if err != nil {
			return nil, nil, err
		}
		return initSeg, moov, nil
	}
}

func (fr *FragmentReader) Tracks() []TrackInfo {
	return fr.tracks
}

// ReadFragment 读取下一个moof+mdat
func (fr *FragmentReader) ReadFragment() (*Fragment, error) {
	var raw []byte
	var moof *Container
	for {
		typ, b, err := fr.readBox()
		if err != nil {
			if err == io.EOF && len(raw) > 0 {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
		raw = append(raw, b...)
		switch typ {
		case "moof":
			boxes, err := Unmarshal(b)
			if err != nil {
				return nil, err
			}
			moof = boxes[0].(*Container)
		case "mdat":
			if moof == nil {
				return nil, base.NewErrInvalidTag("mdat before moof")
			}
			return fr.classify(raw, moof)
		}
	}
}

func (fr *FragmentReader) classify(raw []byte, moof *Container) (*Fragment, error) {
	f := &Fragment{Raw: raw}
	if mfhd, ok := moof.Find("mfhd").(*Mfhd); ok {
		f.SequenceNumber = mfhd.SequenceNumber
	}
	for _, box := range moof.FindAll("traf") {
		traf := box.(*Container)
		tfhd, ok := traf.Find("tfhd").(*Tfhd)
		if !ok {
			return nil, base.NewErrInvalidTag("traf without tfhd")
		}
		ft := FragmentTrack{TrackId: tfhd.TrackId}
		if tfdt, ok := traf.Find("tfdt").(*Tfdt); ok {
			ft.DecodeTime = tfdt.BaseMediaDecodeTime
		}
		trex := fr.trex(tfhd.TrackId)

		defaultDuration := tfhd.DefaultSampleDuration
		if tfhd.Flags&TfhdDefaultSampleDurationPresent == 0 && trex != nil {
			defaultDuration = trex.DefaultSampleDuration
		}
		defaultFlags, hasDefaultFlags := tfhd.DefaultSampleFlags, tfhd.Flags&TfhdDefaultSampleFlagsPresent != 0
		if !hasDefaultFlags && trex != nil {
			defaultFlags, hasDefaultFlags = trex.DefaultSampleFlags, true
		}

		first := true
		for _, tb := range traf.FindAll("trun") {
			trun := tb.(*Trun)
			for i, s := range trun.Samples {
				if trun.Flags&TrunSampleDurationPresent != 0 {
					ft.Duration += uint64(s.Duration)
				} else {
					ft.Duration += uint64(defaultDuration)
				}
				if first {
					flags, ok := trun.SampleFlagsAt(i)
					if !ok {
						flags, ok = defaultFlags, hasDefaultFlags
					}
					// 没有任何flags信息时，按同步sample处理
					ft.Keyframe = !ok || IsKeyframeFlags(flags)
					first = false
				}
			}
			ft.SampleCount += len(trun.Samples)
		}
		f.Tracks = append(f.Tracks, ft)
	}
	return f, nil
}

func (fr *FragmentReader) trex(trackId uint32) *Trex {
	for _, t := range fr.tracks {
		if t.TrackId == trackId {
			return t.trex
		}
	}
	return nil
}

func (fr *FragmentReader) readBox() (typ string, raw []byte, err error) {
	// 在box边界上遇到的io.EOF原样返回
	if _, err = io.ReadFull(fr.r, fr.header[:8]); err != nil {
		return "", nil, err
	}
	size := uint64(bele.BeUint32(fr.header[:]))
	typ = string(fr.header[4:8])
	hs := 8
	if size == 1 {
		if _, err = io.ReadFull(fr.r, fr.header[8:16]); err != nil {
			return "", nil, unexpected(err)
		}
		size = bele.BeUint64(fr.header[8:])
		hs = 16
	}
	// size为0表示直到流结束，直播流中不允许
	if size < uint64(hs) || size > MaxStreamBoxSize {
		return "", nil, base.NewErrInvalidTag(fmt.Sprintf("invalid box size in stream. type=%s, size=%d", typ, size))
	}
	raw = make([]byte, size)
	copy(raw, fr.header[:hs])
	if _, err = io.ReadFull(fr.r, raw[hs:]); err != nil {
		return "", nil, unexpected(err)
	}
	return typ, raw, nil
}

func unexpected(err error) error {
	if err == io.EOF {
		return io.ErrUnexpectedEOF
	}
	return err
}

// ParseTracks 从moov中取出每个track的id timescale handler
func ParseTracks(moov *Container) ([]TrackInfo, error) {
	var ret []TrackInfo
	for _, box := range moov.FindAll("trak") {
		trak := box.(*Container)
		tkhd, ok := trak.Find("tkhd").(*Tkhd)
		if !ok {
			return nil, base.NewErrInvalidTag("trak without tkhd")
		}
		mdhd, ok := trak.FindPath("mdia", "mdhd").(*Mdhd)
		if !ok {
			return nil, base.NewErrInvalidTag("trak without mdhd")
		}
		ti := TrackInfo{TrackId: tkhd.TrackId, Timescale: mdhd.Timescale}
		if hdlr, ok := trak.FindPath("mdia", "hdlr").(*Hdlr); ok {
			ti.HandlerType = hdlr.HandlerType
		}
		if mvex, ok := moov.Find("mvex").(*Container); ok {
			for _, tb := range mvex.FindAll("trex") {
				if trex := tb.(*Trex); trex.TrackId == ti.TrackId {
					ti.trex = trex
				}
			}
		}
		ret = append(ret, ti)
	}
	return ret, nil
}

// RebaseFragment 把fragment中指定track的tfdt改写为decodeTime，并修正数据偏移
//
// 用于把一个从0开始计时的fmp4流接到已经发布的时间线后面
//
// @param raw: 包含moof和mdat，moof之前可以有styp等box
//
func RebaseFragment(raw []byte, trackId uint32, decodeTime uint64) ([]byte, error) {
	boxes, err := Unmarshal(raw)
	if err != nil {
		return nil, err
	}
	var moof *Container
	for _, b := range boxes {
		if c, ok := b.(*Container); ok && c.Type == "moof" {
			moof = c
			break
		}
	}
	if moof == nil {
		return nil, base.NewErrInvalidTag("fragment without moof")
	}
	oldSize := moof.Size()

	traf, _, err := FindMoofTraf(moof, trackId)
	if err != nil {
		return nil, err
	}
	if tfdt, ok := traf.Find("tfdt").(*Tfdt); ok {
		tfdt.Version = 1
		tfdt.BaseMediaDecodeTime = decodeTime
	} else {
		// tfdt紧跟在tfhd之后
		children := make([]Box, 0, len(traf.Children)+1)
		children = append(children, traf.Children[0], NewTfdt(decodeTime))
		traf.Children = append(children, traf.Children[1:]...)
	}

	delta := moof.Size() - oldSize
	if delta != 0 {
		for _, box := range moof.FindAll("traf") {
			t := box.(*Container)
			tfhd, ok := t.Find("tfhd").(*Tfhd)
			if !ok {
				return nil, base.NewErrInvalidTag("traf without tfhd")
			}
			if tfhd.Flags&TfhdBaseDataOffsetPresent != 0 {
				tfhd.BaseDataOffset += uint64(delta)
				continue
			}
			for _, tb := range t.FindAll("trun") {
				if trun := tb.(*Trun); trun.Flags&TrunDataOffsetPresent != 0 {
					trun.DataOffset += int32(delta)
				}
			}
		}
	}
	return Marshal(boxes...), nil
}
