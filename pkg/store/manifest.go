// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package store

import (
	"github.com/q191201771/lallive/pkg/base"
)

const ManifestVersion = 1

// Part 一个fmp4 fragment（moof+mdat）
type Part struct {
	Idx         uint32
	Duration    float64 // 秒
	Independent bool
}

// Segment 连续的若干个part，以关键帧或者目标时长为边界
type Segment struct {
	Idx       uint32
	StartTime float64 // 相对连接开始，秒
	Duration  float64
	Parts     []Part

	// Closed 不再追加part
	Closed bool
}

func (s *Segment) LastPart() Part {
	return s.Parts[len(s.Parts)-1]
}

// RenditionInfo master playlist和rendition report需要的信息
type RenditionInfo struct {
	Rendition base.Rendition
	Bandwidth uint32
	Codecs    string
	Width     uint32
	Height    uint32
	Fps       float64
}

// Manifest 每个rendition一份，ingest controller写入KV，edge订阅
type Manifest struct {
	Version        uint32
	Segments       []Segment
	NextSegmentIdx uint32
	NextPartIdx    uint32
	Completed      bool
	DvrPrefix      string

	// PreFetchPartIds ingest即将产生的下一个part
	PreFetchPartIds []uint32

	TargetDuration float64
	PartTarget     float64

	// InitReady init segment已经写入对象存储
	InitReady bool

	Renditions []RenditionInfo
}

// FirstVisiblePart 窗口中最早的part，比它更早的part对edge不可见
func (m *Manifest) FirstVisiblePart() uint32 {
	for _, s := range m.Segments {
		if len(s.Parts) > 0 {
			return s.Parts[0].Idx
		}
	}
	return m.NextPartIdx
}

// FindPart 返回part以及它所属的segment
func (m *Manifest) FindPart(idx uint32) (*Segment, *Part) {
	for i := range m.Segments {
		s := &m.Segments[i]
		if len(s.Parts) == 0 || idx < s.Parts[0].Idx || idx > s.LastPart().Idx {
			continue
		}
		return s, &s.Parts[idx-s.Parts[0].Idx]
	}
	return nil, nil
}

func (m *Manifest) FindSegment(idx uint32) *Segment {
	for i := range m.Segments {
		if m.Segments[i].Idx == idx {
			return &m.Segments[i]
		}
	}
	return nil
}

// IsSegmentClosed 最后一个segment在manifest未完成时可能还在追加part
func (m *Manifest) IsSegmentClosed(s *Segment) bool {
	return m.Completed || s.Closed
}

// Advanced 相对于(msn, part)是否有新的内容，用于blocking reload
//
// NextSegmentIdx是已经创建的segment数量，最后一个segment可能还在追加part。
// msn小于NextSegmentIdx时立即返回，msn是正在追加的segment并且带了part时，等到该part出现。
// part为-1表示请求中没有_HLS_part。
//
func (m *Manifest) Advanced(msn int64, part int64) bool {
	if m.Completed {
		return true
	}
	if int64(m.NextSegmentIdx) > msn+1 {
		return true
	}
	if int64(m.NextSegmentIdx) < msn+1 {
		return false
	}
	// msn是当前正在追加的segment
	if part < 0 {
		return true
	}
	s := m.FindSegment(uint32(msn))
	if s == nil {
		return false
	}
	return int64(len(s.Parts)) > part
}

func (m *Manifest) Clone() *Manifest {
	out := *m
	out.Segments = make([]Segment, len(m.Segments))
	for i, s := range m.Segments {
		out.Segments[i] = s
		out.Segments[i].Parts = append([]Part(nil), s.Parts...)
	}
	out.PreFetchPartIds = append([]uint32(nil), m.PreFetchPartIds...)
	out.Renditions = append([]RenditionInfo(nil), m.Renditions...)
	return &out
}
