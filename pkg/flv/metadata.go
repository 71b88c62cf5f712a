// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package flv

import (
	"bytes"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/rtmp"
)

// Metadata onMetaData中转封装关心的字段，不存在的字段为0
//
// spec-video_file_format_spec_v10.pdf
// onMetaData
// - width           DOUBLE
// - height          DOUBLE
// - videodatarate   DOUBLE, kbps
// - framerate       DOUBLE
// - videocodecid    DOUBLE
// - audiosamplerate DOUBLE
// - audiodatarate   DOUBLE, kbps
// - audiocodecid    DOUBLE
//
type Metadata struct {
	Width           float64
	Height          float64
	FrameRate       float64
	VideoDataRate   float64
	VideoCodecId    float64
	AudioSampleRate float64
	AudioDataRate   float64
	AudioCodecId    float64
}

// ParseMetadata
//
// @param payload: script tag的body，可能以 @setDataFrame 开头
//
func ParseMetadata(payload []byte) (md Metadata, err error) {
	pos := 0
	v, l, err := rtmp.Amf0.ReadString(payload)
	if err != nil {
		return md, err
	}
	pos += l
	if v == "@setDataFrame" {
		v, l, err = rtmp.Amf0.ReadString(payload[pos:])
		if err != nil {
			return md, err
		}
		pos += l
	}
	if v != "onMetaData" {
		return md, base.NewErrInvalidTag("not onMetaData")
	}
	opa, _, err := rtmp.Amf0.ReadObjectOrArray(payload[pos:])
	if err != nil {
		return md, err
	}
	md.Width, _ = opa.FindNumber("width")
	md.Height, _ = opa.FindNumber("height")
	md.FrameRate, _ = opa.FindNumber("framerate")
	md.VideoDataRate, _ = opa.FindNumber("videodatarate")
	md.VideoCodecId, _ = opa.FindNumber("videocodecid")
	md.AudioSampleRate, _ = opa.FindNumber("audiosamplerate")
	md.AudioDataRate, _ = opa.FindNumber("audiodatarate")
	md.AudioCodecId, _ = opa.FindNumber("audiocodecid")
	return md, nil
}

// BuildMetadata 生成onMetaData的script tag body，值为0的字段不写入
func BuildMetadata(md Metadata) ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := rtmp.Amf0.WriteString(buf, "onMetaData"); err != nil {
		return nil, err
	}
	var opa rtmp.ObjectPairArray
	add := func(k string, v float64) {
		if v != 0 {
			opa = append(opa, rtmp.ObjectPair{Key: k, Value: v})
		}
	}
	add("width", md.Width)
	add("height", md.Height)
	add("framerate", md.FrameRate)
	add("videodatarate", md.VideoDataRate)
	add("videocodecid", md.VideoCodecId)
	add("audiosamplerate", md.AudioSampleRate)
	add("audiodatarate", md.AudioDataRate)
	add("audiocodecid", md.AudioCodecId)
	opa = append(opa, rtmp.ObjectPair{Key: "encoder", Value: base.LalliveLibraryName + base.LalliveVersionDot})
	if err := rtmp.Amf0.WriteEcmaArray(buf, opa); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
