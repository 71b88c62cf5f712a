// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

func TestAmf0_WriteNumber_ReadNumber(t *testing.T) {
	cases := []float64{0, 1, 0xff, 0xffff, 0xffffff, 0xffffffff, 1.5, -3.25}
	for _, item := range cases {
		out := &bytes.Buffer{}
		err := Amf0.WriteNumber(out, item)
		assert.Equal(t, nil, err)
		v, l, err := Amf0.ReadNumber(out.Bytes())
		assert.Equal(t, item, v)
		assert.Equal(t, 9, l)
		assert.Equal(t, nil, err)
	}
}

func TestAmf0_WriteString_ReadString(t *testing.T) {
	cases := []string{
		"",
		"lallive",
		strings.Repeat("1", 65535),
		strings.Repeat("1", 65536),
	}
	for _, item := range cases {
		out := &bytes.Buffer{}
		err := Amf0.WriteString(out, item)
		assert.Equal(t, nil, err)
		v, l, err := Amf0.ReadString(out.Bytes())
		assert.Equal(t, item, v)
		assert.Equal(t, out.Len(), l)
		assert.Equal(t, nil, err)
	}
}

func TestAmf0_WriteObject_ReadObject(t *testing.T) {
	opa := ObjectPairArray{
		{Key: "app", Value: "live"},
		{Key: "capabilities", Value: float64(31)},
		{Key: "fpad", Value: false},
		{Key: "nested", Value: ObjectPairArray{{Key: "a", Value: "b"}}},
	}
	out := &bytes.Buffer{}
	err := Amf0.WriteObject(out, opa)
	assert.Equal(t, nil, err)
	v, l, err := Amf0.ReadObject(out.Bytes())
	assert.Equal(t, nil, err)
	assert.Equal(t, out.Len(), l)
	assert.Equal(t, opa, v)

	app, err := v.FindString("app")
	assert.Equal(t, nil, err)
	assert.Equal(t, "live", app)
	c, err := v.FindNumber("capabilities")
	assert.Equal(t, nil, err)
	assert.Equal(t, float64(31), c)
	_, err = v.FindString("capabilities")
	assert.Equal(t, true, errors.Is(err, base.ErrAmfInvalidType))
	_, err = v.FindString("tcUrl")
	assert.Equal(t, true, errors.Is(err, base.ErrAmfNotExist))
}

func TestAmf0_EcmaArray(t *testing.T) {
	opa := ObjectPairArray{
		{Key: "width", Value: float64(1280)},
		{Key: "height", Value: float64(720)},
		{Key: "framerate", Value: float64(30)},
	}
	out := &bytes.Buffer{}
	err := Amf0.WriteEcmaArray(out, opa)
	assert.Equal(t, nil, err)
	v, l, err := Amf0.ReadObjectOrArray(out.Bytes())
	assert.Equal(t, nil, err)
	assert.Equal(t, out.Len(), l)
	assert.Equal(t, opa, v)
}

func TestAmf0_Corner(t *testing.T) {
	_, _, err := Amf0.ReadNumber([]byte{Amf0TypeMarkerString, 0, 0, 0, 0, 0, 0, 0, 0})
	assert.Equal(t, true, errors.Is(err, base.ErrAmfInvalidType))

	_, _, err = Amf0.ReadString([]byte{Amf0TypeMarkerString, 0, 5, 'a'})
	assert.Equal(t, true, errors.Is(err, base.ErrAmfTooShort))

	_, _, err = Amf0.ReadObject([]byte{Amf0TypeMarkerObject, 0, 1, 'a'})
	assert.Equal(t, true, errors.Is(err, base.ErrAmfTooShort))

	// 未知类型不会panic
	_, _, err = Amf0.ReadObject([]byte{Amf0TypeMarkerObject, 0, 1, 'a', 0x11, 0, 0, 9})
	assert.Equal(t, true, errors.Is(err, base.ErrAmfInvalidType))

	_, err = Amf0.ReadNull([]byte{Amf0TypeMarkerUndefined})
	assert.Equal(t, nil, err)

	_, _, err = Amf0.ReadBoolean([]byte{Amf0TypeMarkerBoolean})
	assert.Equal(t, true, errors.Is(err, base.ErrAmfTooShort))
}
