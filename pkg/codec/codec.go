// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package codec 把各编码格式的sequence header统一成一个接口，上层按Kind分发一次
package codec

import (
	"fmt"

	"github.com/q191201771/lallive/pkg/aac"
	"github.com/q191201771/lallive/pkg/av1"
	"github.com/q191201771/lallive/pkg/avc"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/hevc"
)

type Kind uint8

const (
	KindUnknown Kind = iota
	KindAvc
	KindHevc
	KindAv1
	KindAac
)

func (k Kind) String() string {
	switch k {
	case KindAvc:
		return "avc"
	case KindHevc:
		return "hevc"
	case KindAv1:
		return "av1"
	case KindAac:
		return "aac"
	}
	return "unknown"
}

func (k Kind) IsVideo() bool {
	return k == KindAvc || k == KindHevc || k == KindAv1
}

type Header interface {
	Kind() Kind
	Marshal() []byte
}

// VideoHeader 视频sequence header的派生值
type VideoHeader interface {
	Header
	Width() uint32
	Height() uint32
	// Fps 码流中没有帧率信息时返回0
	Fps() float64
	// SampleEntryType mp4 sample entry的box类型
	SampleEntryType() string
	// CodecString RFC 6381
	CodecString() string
}

// ----- avc -----------------------------------------------------------------------------------------------------------

type Avc struct {
	Dcr *avc.DecoderConfigurationRecord
	Sps avc.Sps
}

func (a *Avc) Kind() Kind              { return KindAvc }
func (a *Avc) Marshal() []byte         { return a.Dcr.Marshal() }
func (a *Avc) Width() uint32           { return a.Sps.Width() }
func (a *Avc) Height() uint32          { return a.Sps.Height() }
func (a *Avc) Fps() float64            { return a.Sps.Fps() }
func (a *Avc) SampleEntryType() string { return "avc1" }
func (a *Avc) CodecString() string {
	return fmt.Sprintf("avc1.%02x%02x%02x", a.Dcr.AvcProfileIndication, a.Dcr.ProfileCompatibility, a.Dcr.AvcLevelIndication)
}

// ----- hevc ----------------------------------------------------------------------------------------------------------

type Hevc struct {
	Dcr *hevc.DecoderConfigurationRecord
	Sps hevc.Sps
}

func (h *Hevc) Kind() Kind              { return KindHevc }
func (h *Hevc) Marshal() []byte         { return h.Dcr.Marshal() }
func (h *Hevc) Width() uint32           { return h.Sps.Width() }
func (h *Hevc) Height() uint32          { return h.Sps.Height() }
func (h *Hevc) Fps() float64            { return h.Dcr.Fps() }
func (h *Hevc) SampleEntryType() string { return "hvc1" }

// CodecString 简化形式，只带profile/tier/level
func (h *Hevc) CodecString() string {
	tier := "L"
	if h.Dcr.GeneralTierFlag == 1 {
		tier = "H"
	}
	return fmt.Sprintf("hvc1.%d.4.%s%d.B0", h.Dcr.GeneralProfileIdc, tier, h.Dcr.GeneralLevelIdc)
}

// ----- av1 -----------------------------------------------------------------------------------------------------------

type Av1 struct {
	Ccr *av1.CodecConfigurationRecord
	Seq av1.SequenceHeader
}

func (a *Av1) Kind() Kind              { return KindAv1 }
func (a *Av1) Marshal() []byte         { return a.Ccr.Marshal() }
func (a *Av1) Width() uint32           { return a.Seq.Width() }
func (a *Av1) Height() uint32          { return a.Seq.Height() }
func (a *Av1) Fps() float64            { return a.Seq.Fps() }
func (a *Av1) SampleEntryType() string { return "av01" }
func (a *Av1) CodecString() string {
	tier := "M"
	if a.Seq.SeqTier0 == 1 {
		tier = "H"
	}
	return fmt.Sprintf("av01.%d.%02d%s.%02d", a.Seq.SeqProfile, a.Seq.SeqLevelIdx0, tier, a.Seq.BitDepth)
}

// ----- aac -----------------------------------------------------------------------------------------------------------

type Aac struct {
	Asc *aac.AscContext
}

func (a *Aac) Kind() Kind      { return KindAac }
func (a *Aac) Marshal() []byte { return a.Asc.Pack() }

func (a *Aac) SampleRate() int {
	sf, err := a.Asc.GetSamplingFrequency()
	if err != nil {
		return 0
	}
	return sf
}

func (a *Aac) Channels() int { return a.Asc.GetChannels() }

func (a *Aac) CodecString() string {
	return fmt.Sprintf("mp4a.40.%d", a.Asc.AudioObjectType)
}

// ---------------------------------------------------------------------------------------------------------------------

// Parse
//
// @param b: avc/hevc为DecoderConfigurationRecord，av1为CodecConfigurationRecord，aac为AudioSpecificConfig
//           返回值可能引用b的内存
//
func Parse(kind Kind, b []byte) (Header, error) {
	switch kind {
	case KindAvc:
		dcr, err := avc.ParseDecoderConfigurationRecord(b)
		if err != nil {
			return nil, err
		}
		if len(dcr.Sps) == 0 || len(dcr.Pps) == 0 {
			return nil, base.NewErrInvalidTag("avcC without sps or pps")
		}
		sps, err := avc.ParseSps(dcr.Sps[0])
		if err != nil {
			return nil, err
		}
		return &Avc{Dcr: dcr, Sps: sps}, nil
	case KindHevc:
		dcr, err := hevc.ParseDecoderConfigurationRecord(b)
		if err != nil {
			return nil, err
		}
		spsNal := dcr.FindNalu(hevc.NaluTypeSps)
		if spsNal == nil {
			return nil, base.NewErrInvalidTag("hvcC without sps")
		}
		sps, err := hevc.ParseSps(spsNal)
		if err != nil {
			return nil, err
		}
		return &Hevc{Dcr: dcr, Sps: sps}, nil
	case KindAv1:
		ccr, err := av1.ParseCodecConfigurationRecord(b)
		if err != nil {
			return nil, err
		}
		seq, err := ccr.SequenceHeader()
		if err != nil {
			return nil, err
		}
		return &Av1{Ccr: ccr, Seq: seq}, nil
	case KindAac:
		asc, err := aac.NewAscContext(b)
		if err != nil {
			return nil, err
		}
		return &Aac{Asc: asc}, nil
	}
	return nil, base.NewErrInvalidTag(fmt.Sprintf("unknown codec kind %d", kind))
}
