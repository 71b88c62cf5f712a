// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package mp4

import (
	"bytes"
	"io"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

var testAsc = []byte{0x12, 0x10}

func testInitBoxes() []Box {
	ftyp := &Ftyp{Type: "ftyp", MajorBrand: "iso5", MinorVersion: 512, CompatibleBrands: []string{"iso5", "iso6", "mp41", "avc1"}}
	video := NewContainer("trak",
		NewTkhd(1, 1280, 720),
		NewContainer("mdia",
			&Mdhd{Timescale: 30000, Language: "und"},
			&Hdlr{HandlerType: HandlerVideo, Name: "VideoHandler"},
			NewContainer("minf",
				NewVmhd(),
				NewContainer("dinf", &Dref{}),
				NewContainer("stbl",
					&Stsd{Entries: []Box{NewVisualSampleEntry("avc1", 1280, 720, NewAvcC([]byte{0x01, 0x42, 0xC0, 0x1F}))}},
					&Stts{}, &Stsc{}, &Stsz{}, &Stco{},
				),
			),
		),
	)
	audio := NewContainer("trak",
		NewTkhd(2, 0, 0),
		NewContainer("mdia",
			&Mdhd{Timescale: 44100, Language: "eng"},
			&Hdlr{HandlerType: HandlerAudio, Name: "SoundHandler"},
			NewContainer("minf",
				&Smhd{},
				NewContainer("dinf", &Dref{}),
				NewContainer("stbl",
					&Stsd{Entries: []Box{NewAudioSampleEntry("mp4a", 2, 44100, NewEsds(testAsc))}},
					&Stts{}, &Stsc{}, &Stsz{}, &Stco{},
				),
			),
		),
	)
	mvex := NewContainer("mvex",
		&Trex{TrackId: 1, DefaultSampleDescriptionIndex: 1, DefaultSampleDuration: 1000},
		&Trex{TrackId: 2, DefaultSampleDescriptionIndex: 1, DefaultSampleDuration: 1024},
	)
	return []Box{ftyp, NewContainer("moov", NewMvhd(1000, 3), video, audio, mvex)}
}

// testFragment 两个traf，每个traf一个sample
func testFragment(seq uint32, videoTime, audioTime uint64, keyframe bool, videoData, audioData []byte) []byte {
	flags := SampleFlagsNonKeyframe
	if keyframe {
		flags = SampleFlagsKeyframe
	}
	trunFlags := uint32(TrunDataOffsetPresent | TrunSampleDurationPresent | TrunSampleSizePresent | TrunSampleFlagsPresent | TrunSampleCompositionTimeOffsetsPresent)
	vtrun := &Trun{FullBox: FullBox{Version: 1, Flags: trunFlags}, Samples: []TrunSample{{Duration: 1000, Size: uint32(len(videoData)), Flags: flags}}}
	atrun := &Trun{FullBox: FullBox{Version: 1, Flags: trunFlags}, Samples: []TrunSample{{Duration: 1024, Size: uint32(len(audioData)), Flags: SampleFlagsKeyframe}}}
	moof := NewContainer("moof",
		&Mfhd{SequenceNumber: seq},
		NewContainer("traf", &Tfhd{FullBox: FullBox{Flags: TfhdDefaultBaseIsMoof}, TrackId: 1}, NewTfdt(videoTime), vtrun),
		NewContainer("traf", &Tfhd{FullBox: FullBox{Flags: TfhdDefaultBaseIsMoof}, TrackId: 2}, NewTfdt(audioTime), atrun),
	)
	vtrun.DataOffset = int32(moof.Size() + boxHeaderSize)
	atrun.DataOffset = vtrun.DataOffset + int32(len(videoData))
	return Marshal(moof, &Mdat{Data: append(append([]byte{}, videoData...), audioData...)})
}

func TestRoundTrip(t *testing.T) {
	golden := []Box{
		&Ftyp{Type: "styp", MajorBrand: "msdh", CompatibleBrands: []string{"msdh", "msix"}},
		&Mvhd{FullBox: FullBox{Version: 1}, CreationTime: 1 << 40, Timescale: 1000, Duration: 1 << 33, Rate: 0x00010000, Volume: 0x0100, Matrix: UnityMatrix, NextTrackId: 3},
		NewMvhd(90000, 2),
		&Tkhd{FullBox: FullBox{Version: 1, Flags: 3}, TrackId: 7, Duration: 1 << 35, Matrix: UnityMatrix, Width: 1920 << 16, Height: 1080 << 16},
		NewTkhd(2, 0, 0),
		&Mdhd{FullBox: FullBox{Version: 1}, Timescale: 48000, Duration: 1 << 34, Language: "jpn"},
		&Mdhd{Timescale: 48000, Language: "und"},
		&Hdlr{HandlerType: HandlerVideo, Name: "VideoHandler"},
		&Hdlr{HandlerType: HandlerAudio},
		&Vmhd{FullBox: FullBox{Flags: 1}, GraphicsMode: 1, Opcolor: [3]uint16{1, 2, 3}},
		&Smhd{Balance: 0x0100},
		&Dref{},
		&Stts{Entries: []SttsEntry{{SampleCount: 3, SampleDelta: 1000}, {SampleCount: 1, SampleDelta: 999}}},
		&Stsc{Entries: []StscEntry{{FirstChunk: 1, SamplesPerChunk: 4, SampleDescriptionIndex: 1}}},
		&Stsz{SampleCount: 3, EntrySizes: []uint32{10, 20, 30}},
		&Stsz{SampleSize: 512, SampleCount: 9},
		&Stco{ChunkOffsets: []uint32{48, 1048}},
		&Stsd{Entries: []Box{NewVisualSampleEntry("hvc1", 1920, 1080, NewHvcC([]byte{0x01, 0x02}), &Btrt{MaxBitrate: 6000000, AvgBitrate: 4000000})}},
		&VisualSampleEntry{Type: "av01", DataReferenceIndex: 1, Width: 640, Height: 360, HorizResolution: 0x00480000, VertResolution: 0x00480000, FrameCount: 1, CompressorName: "lallive", Depth: 0x18, Children: []Box{NewAv1C([]byte{0x81, 0x08, 0x0C, 0x00})}},
		NewAudioSampleEntry("mp4a", 1, 48000, NewEsds([]byte{0x11, 0x88})),
		&Esds{EsId: 2, ObjectType: ObjectTypeAac, StreamType: StreamTypeAudio, BufferSizeDb: 1536, MaxBitrate: 128000, AvgBitrate: 96000, DecoderSpecificInfo: bytes.Repeat([]byte{0xAB}, 200)},
		&Btrt{BufferSizeDb: 1, MaxBitrate: 2, AvgBitrate: 3},
		&Trex{TrackId: 1, DefaultSampleDescriptionIndex: 1, DefaultSampleDuration: 1024, DefaultSampleSize: 4, DefaultSampleFlags: SampleFlagsNonKeyframe},
		&Mfhd{SequenceNumber: 42},
		&Tfhd{FullBox: FullBox{Flags: TfhdDefaultBaseIsMoof}, TrackId: 1},
		&Tfhd{FullBox: FullBox{Flags: 0x3B}, TrackId: 2, BaseDataOffset: 1 << 36, SampleDescriptionIndex: 1, DefaultSampleDuration: 1024, DefaultSampleSize: 371, DefaultSampleFlags: SampleFlagsKeyframe},
		NewTfdt(1 << 40),
		&Tfdt{BaseMediaDecodeTime: 90000},
		&Trun{FullBox: FullBox{Flags: 0x0F05}, DataOffset: 120, FirstSampleFlags: SampleFlagsKeyframe, Samples: []TrunSample{{Duration: 1000, Size: 3, Flags: 1, CompositionTimeOffset: 2000}}},
		&Trun{FullBox: FullBox{Version: 1, Flags: 0x0B01}, DataOffset: -8, Samples: []TrunSample{{Duration: 1, Size: 2, CompositionTimeOffset: -1000}, {Duration: 3, Size: 4}}},
		&Trun{FullBox: FullBox{Flags: 0x0201}, DataOffset: 100},
		&Mdat{Data: []byte{1, 2, 3, 4}},
		&RawBox{Type: "uuid", Data: []byte{9, 9}},
		NewContainer("edts", &RawBox{Type: "elst", Data: []byte{0, 0, 0, 0, 0, 0, 0, 0}}),
	}
	for _, box := range golden {
		b := Marshal(box)
		assert.Equal(t, box.Size(), len(b))
		boxes, err := Unmarshal(b)
		assert.Equal(t, nil, err)
		assert.Equal(t, 1, len(boxes))
		assert.Equal(t, box, boxes[0])
		// 再序列化一次字节不变
		assert.Equal(t, b, Marshal(boxes[0]))
	}

	initBoxes := testInitBoxes()
	b := Marshal(initBoxes...)
	boxes, err := Unmarshal(b)
	assert.Equal(t, nil, err)
	assert.Equal(t, initBoxes, boxes)
}

func TestEsds(t *testing.T) {
	esds := NewEsds(testAsc)
	b := Marshal(esds)
	expected := []byte{
		0x00, 0x00, 0x00, 0x27, 'e', 's', 'd', 's', 0x00, 0x00, 0x00, 0x00,
		0x03, 0x19, 0x00, 0x01, 0x00,
		0x04, 0x11, 0x40, 0x15, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x05, 0x02, 0x12, 0x10,
		0x06, 0x01, 0x02,
	}
	assert.Equal(t, expected, b)

	// 长度字段使用4字节形式的esds也能解析
	long := []byte{
		0x00, 0x00, 0x00, 0x00, 'e', 's', 'd', 's', 0x00, 0x00, 0x00, 0x00,
		0x03, 0x80, 0x80, 0x80, 0x1C, 0x00, 0x01, 0x00,
		0x04, 0x80, 0x80, 0x80, 0x11, 0x40, 0x15, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x05, 0x02, 0x12, 0x10,
		0x06, 0x01, 0x02,
	}
	long[3] = uint8(len(long))
	boxes, err := Unmarshal(long)
	assert.Equal(t, nil, err)
	assert.Equal(t, esds, boxes[0])

	_, err = Unmarshal(append([]byte{0x00, 0x00, 0x00, 0x0E, 'e', 's', 'd', 's', 0, 0, 0, 0}, 0x04, 0x00))
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestLanguage(t *testing.T) {
	assert.Equal(t, uint16(0x55C4), packLanguage("und"))
	assert.Equal(t, "und", unpackLanguage(0x55C4))
	assert.Equal(t, uint16(0x55C4), packLanguage(""))
}

func TestUnmarshalCorner(t *testing.T) {
	b := Marshal(testInitBoxes()...)
	for i := 1; i < 8; i++ {
		_, err := Unmarshal(b[:i])
		assert.Equal(t, base.ErrTruncated, err)
	}
	_, err := Unmarshal(b[:len(b)-1])
	assert.Equal(t, base.ErrTruncated, err)

	// size小于header
	_, err = Unmarshal([]byte{0x00, 0x00, 0x00, 0x04, 'f', 'r', 'e', 'e'})
	assert.Equal(t, base.KindProtocol, base.KindOf(err))

	// 64位size
	large := []byte{0x00, 0x00, 0x00, 0x01, 'f', 'r', 'e', 'e', 0, 0, 0, 0, 0, 0, 0, 0x12, 0xAA, 0xBB}
	boxes, err := Unmarshal(large)
	assert.Equal(t, nil, err)
	assert.Equal(t, &RawBox{Type: "free", Data: []byte{0xAA, 0xBB}}, boxes[0])

	// stsz声明的条目数超过实际数据
	_, err = Unmarshal([]byte{0x00, 0x00, 0x00, 0x14, 's', 't', 's', 'z', 0, 0, 0, 0, 0, 0, 0, 0, 0xFF, 0xFF, 0xFF, 0xFF})
	assert.Equal(t, base.ErrTruncated, err)

	// stsd条目数不匹配
	_, err = Unmarshal([]byte{0x00, 0x00, 0x00, 0x10, 's', 't', 's', 'd', 0, 0, 0, 0, 0, 0, 0, 1})
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestContainerFind(t *testing.T) {
	moov := testInitBoxes()[1].(*Container)
	assert.Equal(t, 2, len(moov.FindAll("trak")))
	mdhd, ok := moov.FindPath("trak", "mdia", "mdhd").(*Mdhd)
	assert.Equal(t, true, ok)
	assert.Equal(t, uint32(30000), mdhd.Timescale)
	assert.Equal(t, nil, moov.FindPath("trak", "tkhd", "mdhd"))
	assert.Equal(t, nil, moov.Find("udta"))

	tracks, err := ParseTracks(moov)
	assert.Equal(t, nil, err)
	assert.Equal(t, 2, len(tracks))
	assert.Equal(t, uint32(44100), tracks[1].Timescale)
	assert.Equal(t, HandlerAudio, tracks[1].HandlerType)
}

func TestFragmentReader(t *testing.T) {
	initSeg := Marshal(testInitBoxes()...)
	var stream []byte
	stream = append(stream, initSeg...)
	f0 := testFragment(1, 0, 0, true, []byte{0x00, 0x00, 0x00, 0x01, 0x65}, []byte{0x21})
	f1 := testFragment(2, 1000, 1024, false, []byte{0x00, 0x00, 0x00, 0x01, 0x41}, []byte{0x21, 0x22})
	stream = append(stream, f0...)
	stream = append(stream, Marshal(&Ftyp{Type: "styp", MajorBrand: "msdh"})...)
	stream = append(stream, f1...)

	fr := NewFragmentReader(bytes.NewReader(stream))
	b, moov, err := fr.ReadInit()
	assert.Equal(t, nil, err)
	assert.Equal(t, initSeg, b)
	assert.Equal(t, "moov", moov.BoxType())
	assert.Equal(t, 2, len(fr.Tracks()))

	frag, err := fr.ReadFragment()
	assert.Equal(t, nil, err)
	assert.Equal(t, f0, frag.Raw)
	assert.Equal(t, uint32(1), frag.SequenceNumber)
	assert.Equal(t, FragmentTrack{TrackId: 1, Duration: 1000, SampleCount: 1, Keyframe: true}, *frag.Track(1))
	assert.Equal(t, FragmentTrack{TrackId: 2, Duration: 1024, SampleCount: 1, Keyframe: true}, *frag.Track(2))

	frag, err = fr.ReadFragment()
	assert.Equal(t, nil, err)
	assert.Equal(t, uint32(2), frag.SequenceNumber)
	assert.Equal(t, len(f1)+16, len(frag.Raw))
	assert.Equal(t, false, frag.Track(1).Keyframe)
	assert.Equal(t, uint64(1000), frag.Track(1).DecodeTime)
	assert.Equal(t, uint64(1024), frag.Track(2).DecodeTime)
	assert.Equal(t, (*FragmentTrack)(nil), frag.Track(3))

	_, err = fr.ReadFragment()
	assert.Equal(t, io.EOF, err)

	// 流在box中间结束
	fr = NewFragmentReader(bytes.NewReader(stream[:len(initSeg)+10]))
	_, _, err = fr.ReadInit()
	assert.Equal(t, nil, err)
	_, err = fr.ReadFragment()
	assert.Equal(t, io.ErrUnexpectedEOF, err)

	// 流中不允许size为0的box
	fr = NewFragmentReader(bytes.NewReader([]byte{0, 0, 0, 0, 'm', 'd', 'a', 't'}))
	_, err = fr.ReadFragment()
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

// trun中没有sample duration和flags时，使用tfhd和trex的默认值
func TestFragmentReaderDefaults(t *testing.T) {
	initSeg := Marshal(testInitBoxes()...)
	trun := &Trun{FullBox: FullBox{Flags: TrunDataOffsetPresent | TrunSampleSizePresent}, Samples: []TrunSample{{Size: 1}, {Size: 1}}}
	moof := NewContainer("moof",
		&Mfhd{SequenceNumber: 9},
		NewContainer("traf", &Tfhd{FullBox: FullBox{Flags: TfhdDefaultBaseIsMoof | TfhdDefaultSampleFlagsPresent}, TrackId: 1, DefaultSampleFlags: SampleFlagsNonKeyframe}, trun),
	)
	trun.DataOffset = int32(moof.Size() + boxHeaderSize)
	frag := Marshal(moof, &Mdat{Data: []byte{1, 2}})

	fr := NewFragmentReader(bytes.NewReader(append(initSeg, frag...)))
	_, _, err := fr.ReadInit()
	assert.Equal(t, nil, err)
	f, err := fr.ReadFragment()
	assert.Equal(t, nil, err)
	// trex默认duration 1000
	assert.Equal(t, FragmentTrack{TrackId: 1, Duration: 2000, SampleCount: 2, Keyframe: false}, f.Tracks[0])
}

func TestRebaseFragment(t *testing.T) {
	videoData := []byte{0x00, 0x00, 0x00, 0x01, 0x65}
	audioData := []byte{0x21}
	raw := testFragment(3, 0, 0, true, videoData, audioData)

	// 原始tfdt使用version 0，改写后变成version 1，moof变大4字节
	boxes, err := Unmarshal(raw)
	assert.Equal(t, nil, err)
	traf, _, err := FindMoofTraf(boxes[0].(*Container), 1)
	assert.Equal(t, nil, err)
	traf.Children[1] = &Tfdt{BaseMediaDecodeTime: 0}
	moof := boxes[0].(*Container)
	for _, tb := range moof.FindAll("traf") {
		tr := tb.(*Container).Find("trun").(*Trun)
		tr.DataOffset -= 4
	}
	raw = Marshal(boxes...)

	out, err := RebaseFragment(raw, 1, 123456789)
	assert.Equal(t, nil, err)
	assert.Equal(t, len(raw)+4, len(out))

	boxes, err = Unmarshal(out)
	assert.Equal(t, nil, err)
	moof = boxes[0].(*Container)
	traf, _, err = FindMoofTraf(moof, 1)
	assert.Equal(t, nil, err)
	assert.Equal(t, NewTfdt(123456789), traf.Find("tfdt"))
	vtrun := traf.Find("trun").(*Trun)
	assert.Equal(t, int32(moof.Size()+boxHeaderSize), vtrun.DataOffset)
	assert.Equal(t, videoData, out[vtrun.DataOffset:int(vtrun.DataOffset)+len(videoData)])

	atraf, _, err := FindMoofTraf(moof, 2)
	assert.Equal(t, nil, err)
	atrun := atraf.Find("trun").(*Trun)
	assert.Equal(t, audioData, out[atrun.DataOffset:int(atrun.DataOffset)+len(audioData)])

	// 没有tfdt时插入
	raw = Marshal(NewContainer("moof", NewContainer("traf", &Tfhd{TrackId: 5}, &Trun{})), &Mdat{Data: []byte{1}})
	out, err = RebaseFragment(raw, 5, 10)
	assert.Equal(t, nil, err)
	boxes, err = Unmarshal(out)
	assert.Equal(t, nil, err)
	traf, _, err = FindMoofTraf(boxes[0].(*Container), 5)
	assert.Equal(t, nil, err)
	assert.Equal(t, NewTfdt(10), traf.Children[1])

	_, err = RebaseFragment(raw, 6, 10)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
	_, err = RebaseFragment(Marshal(&Mdat{Data: []byte{1}}), 1, 10)
	assert.Equal(t, base.KindProtocol, base.KindOf(err))
}

func TestIsKeyframeFlags(t *testing.T) {
	assert.Equal(t, true, IsKeyframeFlags(SampleFlagsKeyframe))
	assert.Equal(t, false, IsKeyframeFlags(SampleFlagsNonKeyframe))
}
