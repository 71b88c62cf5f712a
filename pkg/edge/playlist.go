// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package edge

import (
	"fmt"
	"math"
	"strings"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/store"
)

const hlsVersion = 9

const (
	PlaylistTypeLive  = ""
	PlaylistTypeEvent = "EVENT"
	PlaylistTypeVod   = "VOD"
)

// Playlist rendition playlist，json形式和m3u8形式由同一份数据生成
//
// Uri都是相对于playlist自身url的地址
//
type Playlist struct {
	PlaylistType     string            `json:"playlist_type,omitempty"`
	MediaSequence    uint32            `json:"media_sequence"`
	TargetDuration   float64           `json:"target_duration"`
	PartTarget       float64           `json:"part_target,omitempty"`
	NextSegmentIdx   uint32            `json:"next_segment_idx"`
	NextPartIdx      uint32            `json:"next_part_idx"`
	Completed        bool              `json:"completed"`
	DvrPrefix        string            `json:"dvr_prefix,omitempty"`
	InitUri          string            `json:"init_uri"`
	Segments         []PlaylistSegment `json:"segments"`
	PreFetch         []PlaylistPart    `json:"pre_fetch,omitempty"`
	RenditionReports []RenditionReport `json:"rendition_reports,omitempty"`
}

type PlaylistSegment struct {
	Idx       uint32         `json:"idx"`
	StartTime float64        `json:"start_time"`
	Duration  float64        `json:"duration"`
	Closed    bool           `json:"closed"`
	Uri       string         `json:"uri,omitempty"`
	Parts     []PlaylistPart `json:"parts,omitempty"`
}

type PlaylistPart struct {
	Idx         uint32  `json:"idx"`
	Duration    float64 `json:"duration,omitempty"`
	Independent bool    `json:"independent,omitempty"`
	Uri         string  `json:"uri"`
}

type RenditionReport struct {
	Rendition base.Rendition `json:"rendition"`
	Uri       string         `json:"uri"`
	LastMsn   uint32         `json:"last_msn"`
	LastPart  int            `json:"last_part"`
}

// MasterPlaylist
type MasterPlaylist struct {
	Session   string    `json:"session"`
	ExpiresAt int64     `json:"expires_at"` // unix秒
	Variants  []Variant `json:"variants"`
}

type Variant struct {
	Rendition base.Rendition `json:"rendition"`
	Uri       string         `json:"uri"`
	Bandwidth uint32         `json:"bandwidth"`
	Codecs    string         `json:"codecs"`
	Width     uint32         `json:"width,omitempty"`
	Height    uint32         `json:"height,omitempty"`
	Fps       float64        `json:"fps,omitempty"`
}

// ---------------------------------------------------------------------------------------------------------------------

// mediaUris 生成媒体地址，直播时每个地址是一个签名的token
type mediaUris interface {
	initUri() (string, error)
	partUri(idx uint32) (string, error)
	segmentUri(idx uint32) (string, error)
}

// buildLivePlaylist
//
// @param partSegments: 最近多少个segment列出part，更早的segment只有完整的segment地址
//
func buildLivePlaylist(m *store.Manifest, uris mediaUris, partSegments int, dvrPrefix string) (*Playlist, error) {
	p := &Playlist{
		PlaylistType:   PlaylistTypeLive,
		TargetDuration: m.TargetDuration,
		PartTarget:     m.PartTarget,
		NextSegmentIdx: m.NextSegmentIdx,
		NextPartIdx:    m.NextPartIdx,
		Completed:      m.Completed,
		DvrPrefix:      dvrPrefix,
		Segments:       make([]PlaylistSegment, 0, len(m.Segments)),
	}
	if len(m.Segments) > 0 {
		p.MediaSequence = m.Segments[0].Idx
	} else {
		p.MediaSequence = m.NextSegmentIdx
	}

	var err error
	if p.InitUri, err = uris.initUri(); err != nil {
		return nil, err
	}

	for i := range m.Segments {
		s := &m.Segments[i]
		ps := PlaylistSegment{
			Idx:       s.Idx,
			StartTime: s.StartTime,
			Duration:  s.Duration,
			Closed:    m.IsSegmentClosed(s),
		}
		if ps.Closed {
			if ps.Uri, err = uris.segmentUri(s.Idx); err != nil {
				return nil, err
			}
		}
		if i >= len(m.Segments)-partSegments {
			for _, part := range s.Parts {
				uri, err := uris.partUri(part.Idx)
				if err != nil {
					return nil, err
				}
				ps.Parts = append(ps.Parts, PlaylistPart{Idx: part.Idx, Duration: part.Duration, Independent: part.Independent, Uri: uri})
			}
		}
		p.Segments = append(p.Segments, ps)
	}

	if !m.Completed {
		for _, idx := range m.PreFetchPartIds {
			uri, err := uris.partUri(idx)
			if err != nil {
				return nil, err
			}
			p.PreFetch = append(p.PreFetch, PlaylistPart{Idx: idx, Uri: uri})
		}
	}
	return p, nil
}

// reportOf rendition report需要的最后一个segment和它的最后一个part
func reportOf(r base.Rendition, m *store.Manifest) (RenditionReport, bool) {
	if len(m.Segments) == 0 {
		return RenditionReport{}, false
	}
	last := m.Segments[len(m.Segments)-1]
	return RenditionReport{
		Rendition: r,
		Uri:       string(r) + ".m3u8",
		LastMsn:   last.Idx,
		LastPart:  len(last.Parts) - 1,
	}, true
}

func (p *Playlist) M3u8() []byte {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", hlsVersion)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", int(math.Ceil(p.TargetDuration)))
	if p.PlaylistType != PlaylistTypeLive {
		fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:%s\n", p.PlaylistType)
	}
	if p.PartTarget > 0 {
		fmt.Fprintf(&b, "#EXT-X-SERVER-CONTROL:CAN-BLOCK-RELOAD=YES,PART-HOLD-BACK=%.3f\n", p.PartTarget*3)
		fmt.Fprintf(&b, "#EXT-X-PART-INF:PART-TARGET=%.3f\n", p.PartTarget)
	}
	fmt.Fprintf(&b, "#EXT-X-MEDIA-SEQUENCE:%d\n", p.MediaSequence)
	fmt.Fprintf(&b, "#EXT-X-MAP:URI=\"%s\"\n", p.InitUri)

	for _, s := range p.Segments {
		for _, part := range s.Parts {
			fmt.Fprintf(&b, "#EXT-X-PART:DURATION=%.5f,URI=\"%s\"", part.Duration, part.Uri)
			if part.Independent {
				b.WriteString(",INDEPENDENT=YES")
			}
			b.WriteString("\n")
		}
		if s.Closed {
			fmt.Fprintf(&b, "#EXTINF:%.5f,\n%s\n", s.Duration, s.Uri)
		}
	}

	for _, part := range p.PreFetch {
		fmt.Fprintf(&b, "#EXT-X-PRELOAD-HINT:TYPE=PART,URI=\"%s\"\n", part.Uri)
	}
	for _, rr := range p.RenditionReports {
		fmt.Fprintf(&b, "#EXT-X-RENDITION-REPORT:URI=\"%s\",LAST-MSN=%d,LAST-PART=%d\n", rr.Uri, rr.LastMsn, rr.LastPart)
	}
	if p.Completed {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return []byte(b.String())
}

// ---------------------------------------------------------------------------------------------------------------------

func buildVariants(infos []store.RenditionInfo, uriOf func(r base.Rendition) string) []Variant {
	out := make([]Variant, 0, len(infos))
	for _, info := range infos {
		out = append(out, Variant{
			Rendition: info.Rendition,
			Uri:       uriOf(info.Rendition),
			Bandwidth: info.Bandwidth,
			Codecs:    info.Codecs,
			Width:     info.Width,
			Height:    info.Height,
			Fps:       info.Fps,
		})
	}
	return out
}

// M3u8 音频rendition放在同一个AUDIO组中，第一个为默认
func (m *MasterPlaylist) M3u8() []byte {
	var audios, videos []Variant
	for _, v := range m.Variants {
		if v.Rendition.IsAudio() {
			audios = append(audios, v)
		} else {
			videos = append(videos, v)
		}
	}

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", hlsVersion)
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	if len(videos) == 0 {
		for _, a := range audios {
			fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"%s\"\n%s\n", bandwidthOf(a), a.Codecs, a.Uri)
		}
		return []byte(b.String())
	}

	for i, a := range audios {
		def := "NO"
		if i == 0 {
			def = "YES"
		}
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=\"audio\",NAME=\"%s\",DEFAULT=%s,AUTOSELECT=YES,URI=\"%s\"\n", a.Rendition, def, a.Uri)
	}
	for _, v := range videos {
		bandwidth := bandwidthOf(v)
		codecs := v.Codecs
		if len(audios) > 0 {
			bandwidth += bandwidthOf(audios[0])
			codecs += "," + audios[0].Codecs
		}
		fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d,CODECS=\"%s\"", bandwidth, codecs)
		if v.Width > 0 && v.Height > 0 {
			fmt.Fprintf(&b, ",RESOLUTION=%dx%d", v.Width, v.Height)
		}
		if v.Fps > 0 {
			fmt.Fprintf(&b, ",FRAME-RATE=%.3f", v.Fps)
		}
		if len(audios) > 0 {
			b.WriteString(",AUDIO=\"audio\"")
		}
		fmt.Fprintf(&b, "\n%s\n", v.Uri)
	}
	return []byte(b.String())
}

// bandwidthOf 推流端没有在metadata中给出码率时按分辨率估算
func bandwidthOf(v Variant) uint32 {
	if v.Bandwidth > 0 {
		return v.Bandwidth
	}
	if v.Rendition.IsAudio() {
		return 128 * 1000
	}
	fps := v.Fps
	if fps <= 0 {
		fps = 30
	}
	return uint32(float64(v.Width) * float64(v.Height) * fps * 0.1)
}
