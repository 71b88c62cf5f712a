// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package transcode

import (
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/codec"
	"github.com/q191201771/lallive/pkg/mp4"
)

// DescribeInit 从只有一个track的moov中取出track id、timescale、codecs以及视频宽高
func DescribeInit(raw []byte, moov *mp4.Container) (*TrackInit, error) {
	tracks, err := mp4.ParseTracks(moov)
	if err != nil {
		return nil, err
	}
	if len(tracks) != 1 {
		return nil, base.NewErrInvalidTag("init segment should have exactly one track")
	}
	ti := &TrackInit{
		Raw:       raw,
		TrackId:   tracks[0].TrackId,
		Timescale: tracks[0].Timescale,
	}

	trak, _ := moov.Find("trak").(*mp4.Container)
	stsd, ok := trak.FindPath("mdia", "minf", "stbl", "stsd").(*mp4.Stsd)
	if !ok || len(stsd.Entries) == 0 {
		return nil, base.NewErrInvalidTag("trak without sample entry")
	}
	switch entry := stsd.Entries[0].(type) {
	case *mp4.VisualSampleEntry:
		ti.Width = uint32(entry.Width)
		ti.Height = uint32(entry.Height)
		for _, c := range []struct {
			typ  string
			kind codec.Kind
		}{{"avcC", codec.KindAvc}, {"hvcC", codec.KindHevc}, {"av1C", codec.KindAv1}} {
			box, ok := entry.Find(c.typ).(*mp4.RawBox)
			if !ok {
				continue
			}
			h, err := codec.Parse(c.kind, box.Data)
			if err != nil {
				return nil, err
			}
			vh := h.(codec.VideoHeader)
			ti.Codecs = vh.CodecString()
			ti.Fps = vh.Fps()
			break
		}
	case *mp4.AudioSampleEntry:
		esds, ok := entry.Find("esds").(*mp4.Esds)
		if !ok {
			return nil, base.NewErrInvalidTag("audio sample entry without esds")
		}
		h, err := codec.Parse(codec.KindAac, esds.DecoderSpecificInfo)
		if err != nil {
			return nil, err
		}
		ti.Codecs = h.(*codec.Aac).CodecString()
	default:
		return nil, base.NewErrInvalidTag("unknown sample entry")
	}
	return ti, nil
}
