// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package store

import (
	"fmt"
	"math"

	"github.com/q191201771/lallive/pkg/base"
	"google.golang.org/protobuf/encoding/protowire"
)

// manifest的二进制格式，使用protobuf wire format，字段号如下：
//
// Manifest
//   1 version           varint
//   2 segments          bytes, repeated Segment
//   3 next_segment_idx  varint
//   4 next_part_idx     varint
//   5 completed         varint
//   6 dvr_prefix        bytes
//   7 pre_fetch_part_ids packed varint
//   8 target_duration   fixed64(double)
//   9 part_target       fixed64(double)
//  10 renditions        bytes, repeated RenditionInfo
//  11 init_ready        varint
//
// Segment: 1 idx, 2 start_time, 3 duration, 4 parts(repeated Part), 5 closed
// Part: 1 idx, 2 duration, 3 independent
// RenditionInfo: 1 rendition, 2 bandwidth, 3 codecs, 4 width, 5 height, 6 fps
//
// 不认识的字段直接跳过，新增字段只能追加字段号

const (
	fieldManifestVersion        protowire.Number = 1
	fieldManifestSegments       protowire.Number = 2
	fieldManifestNextSegmentIdx protowire.Number = 3
	fieldManifestNextPartIdx    protowire.Number = 4
	fieldManifestCompleted      protowire.Number = 5
	fieldManifestDvrPrefix      protowire.Number = 6
	fieldManifestPreFetch       protowire.Number = 7
	fieldManifestTargetDuration protowire.Number = 8
	fieldManifestPartTarget     protowire.Number = 9
	fieldManifestRenditions     protowire.Number = 10
	fieldManifestInitReady      protowire.Number = 11
)

func EncodeManifest(m *Manifest) []byte {
	var b []byte
	b = appendVarint(b, fieldManifestVersion, ManifestVersion)
	for i := range m.Segments {
		b = protowire.AppendTag(b, fieldManifestSegments, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSegment(&m.Segments[i]))
	}
	b = appendVarint(b, fieldManifestNextSegmentIdx, uint64(m.NextSegmentIdx))
	b = appendVarint(b, fieldManifestNextPartIdx, uint64(m.NextPartIdx))
	b = appendBool(b, fieldManifestCompleted, m.Completed)
	if m.DvrPrefix != "" {
		b = protowire.AppendTag(b, fieldManifestDvrPrefix, protowire.BytesType)
		b = protowire.AppendString(b, m.DvrPrefix)
	}
	if len(m.PreFetchPartIds) > 0 {
		var packed []byte
		for _, id := range m.PreFetchPartIds {
			packed = protowire.AppendVarint(packed, uint64(id))
		}
		b = protowire.AppendTag(b, fieldManifestPreFetch, protowire.BytesType)
		b = protowire.AppendBytes(b, packed)
	}
	b = appendDouble(b, fieldManifestTargetDuration, m.TargetDuration)
	b = appendDouble(b, fieldManifestPartTarget, m.PartTarget)
	for i := range m.Renditions {
		b = protowire.AppendTag(b, fieldManifestRenditions, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeRenditionInfo(&m.Renditions[i]))
	}
	b = appendBool(b, fieldManifestInitReady, m.InitReady)
	return b
}

func DecodeManifest(b []byte) (*Manifest, error) {
	m := &Manifest{}
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == fieldManifestVersion && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.Version = uint32(x)
			return n, nil
		case num == fieldManifestSegments && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			s, err := decodeSegment(raw)
			if err != nil {
				return 0, err
			}
			m.Segments = append(m.Segments, s)
			return n, nil
		case num == fieldManifestNextSegmentIdx && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.NextSegmentIdx = uint32(x)
			return n, nil
		case num == fieldManifestNextPartIdx && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.NextPartIdx = uint32(x)
			return n, nil
		case num == fieldManifestCompleted && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.Completed = protowire.DecodeBool(x)
			return n, nil
		case num == fieldManifestDvrPrefix && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			m.DvrPrefix = s
			return n, nil
		case num == fieldManifestPreFetch && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			for len(raw) > 0 {
				x, k := protowire.ConsumeVarint(raw)
				if k < 0 {
					return k, nil
				}
				m.PreFetchPartIds = append(m.PreFetchPartIds, uint32(x))
				raw = raw[k:]
			}
			return n, nil
		case num == fieldManifestTargetDuration && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			m.TargetDuration = math.Float64frombits(x)
			return n, nil
		case num == fieldManifestPartTarget && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			m.PartTarget = math.Float64frombits(x)
			return n, nil
		case num == fieldManifestRenditions && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			ri, err := decodeRenditionInfo(raw)
			if err != nil {
				return 0, err
			}
			m.Renditions = append(m.Renditions, ri)
			return n, nil
		case num == fieldManifestInitReady && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			m.InitReady = protowire.DecodeBool(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	if err != nil {
		return nil, err
	}
	if m.Version != ManifestVersion {
		return nil, fmt.Errorf("%w. version=%d", base.ErrManifestVersion, m.Version)
	}
	return m, nil
}

func encodeSegment(s *Segment) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(s.Idx))
	b = appendDouble(b, 2, s.StartTime)
	b = appendDouble(b, 3, s.Duration)
	for _, p := range s.Parts {
		var pb []byte
		pb = appendVarint(pb, 1, uint64(p.Idx))
		pb = appendDouble(pb, 2, p.Duration)
		pb = appendBool(pb, 3, p.Independent)
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	b = appendBool(b, 5, s.Closed)
	return b
}

func decodeSegment(b []byte) (Segment, error) {
	var s Segment
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			s.Idx = uint32(x)
			return n, nil
		case num == 2 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			s.StartTime = math.Float64frombits(x)
			return n, nil
		case num == 3 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			s.Duration = math.Float64frombits(x)
			return n, nil
		case num == 4 && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(v)
			if n < 0 {
				return n, nil
			}
			p, err := decodePart(raw)
			if err != nil {
				return 0, err
			}
			s.Parts = append(s.Parts, p)
			return n, nil
		case num == 5 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			s.Closed = protowire.DecodeBool(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	return s, err
}

func decodePart(b []byte) (Part, error) {
	var p Part
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			p.Idx = uint32(x)
			return n, nil
		case num == 2 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			p.Duration = math.Float64frombits(x)
			return n, nil
		case num == 3 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			p.Independent = protowire.DecodeBool(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	return p, err
}

func encodeRenditionInfo(ri *RenditionInfo) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, ri.Rendition.String())
	b = appendVarint(b, 2, uint64(ri.Bandwidth))
	if ri.Codecs != "" {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, ri.Codecs)
	}
	b = appendVarint(b, 4, uint64(ri.Width))
	b = appendVarint(b, 5, uint64(ri.Height))
	b = appendDouble(b, 6, ri.Fps)
	return b
}

func decodeRenditionInfo(b []byte) (RenditionInfo, error) {
	var ri RenditionInfo
	err := consumeFields(b, func(num protowire.Number, typ protowire.Type, v []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			ri.Rendition = base.Rendition(s)
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			ri.Bandwidth = uint32(x)
			return n, nil
		case num == 3 && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(v)
			ri.Codecs = s
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			ri.Width = uint32(x)
			return n, nil
		case num == 5 && typ == protowire.VarintType:
			x, n := protowire.ConsumeVarint(v)
			ri.Height = uint32(x)
			return n, nil
		case num == 6 && typ == protowire.Fixed64Type:
			x, n := protowire.ConsumeFixed64(v)
			ri.Fps = math.Float64frombits(x)
			return n, nil
		}
		return protowire.ConsumeFieldValue(num, typ, v), nil
	})
	return ri, err
}

// consumeFields 遍历b中的所有字段，fn返回消费的字节数，负数表示格式错误
func consumeFields(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w. err=%v", base.ErrManifestTruncate, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		if m < 0 {
			return fmt.Errorf("%w. field=%d, err=%v", base.ErrManifestTruncate, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}
