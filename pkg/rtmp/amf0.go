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
	"fmt"
	"io"
	"math"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

const (
	Amf0TypeMarkerNumber      = uint8(0x00)
	Amf0TypeMarkerBoolean     = uint8(0x01)
	Amf0TypeMarkerString      = uint8(0x02)
	Amf0TypeMarkerObject      = uint8(0x03)
	Amf0TypeMarkerNull        = uint8(0x05)
	Amf0TypeMarkerUndefined   = uint8(0x06)
	Amf0TypeMarkerEcmaArray   = uint8(0x08)
	Amf0TypeMarkerObjectEnd   = uint8(0x09)
	Amf0TypeMarkerStrictArray = uint8(0x0a)
	Amf0TypeMarkerDate        = uint8(0x0b)
	Amf0TypeMarkerLongString  = uint8(0x0c)
)

var Amf0TypeMarkerObjectEndBytes = []byte{0, 0, Amf0TypeMarkerObjectEnd}

// 嵌套深度上限，防止恶意构造的数据导致栈溢出
const amf0MaxDepth = 16

type ObjectPair struct {
	Key   string
	Value interface{}
}

type ObjectPairArray []ObjectPair

func (o ObjectPairArray) Find(key string) interface{} {
	for _, op := range o {
		if op.Key == key {
			return op.Value
		}
	}
	return nil
}

func (o ObjectPairArray) FindString(key string) (string, error) {
	for _, op := range o {
		if op.Key == key {
			if s, ok := op.Value.(string); ok {
				return s, nil
			}
			return "", fmt.Errorf("%w. key=%s, value=%v", base.ErrAmfInvalidType, key, op.Value)
		}
	}
	return "", fmt.Errorf("%w. key=%s", base.ErrAmfNotExist, key)
}

func (o ObjectPairArray) FindNumber(key string) (float64, error) {
	for _, op := range o {
		if op.Key == key {
			if n, ok := op.Value.(float64); ok {
				return n, nil
			}
			return 0, fmt.Errorf("%w. key=%s, value=%v", base.ErrAmfInvalidType, key, op.Value)
		}
	}
	return 0, fmt.Errorf("%w. key=%s", base.ErrAmfNotExist, key)
}

type amf0 struct{}

var Amf0 amf0

// ----- write ---------------------------------------------------------------------------------------------------------

func (amf0) WriteNumber(writer io.Writer, val float64) error {
	var b [9]byte
	b[0] = Amf0TypeMarkerNumber
	bele.BePutUint64(b[1:], math.Float64bits(val))
	_, err := writer.Write(b[:])
	return err
}

func (amf0) WriteString(writer io.Writer, val string) error {
	if len(val) < 65536 {
		var b [3]byte
		b[0] = Amf0TypeMarkerString
		bele.BePutUint16(b[1:], uint16(len(val)))
		if _, err := writer.Write(b[:]); err != nil {
			return err
		}
	} else {
		var b [5]byte
		b[0] = Amf0TypeMarkerLongString
		bele.BePutUint32(b[1:], uint32(len(val)))
		if _, err := writer.Write(b[:]); err != nil {
			return err
		}
	}
	_, err := writer.Write([]byte(val))
	return err
}

func (amf0) WriteBoolean(writer io.Writer, val bool) error {
	b := []byte{Amf0TypeMarkerBoolean, 0}
	if val {
		b[1] = 1
	}
	_, err := writer.Write(b)
	return err
}

func (amf0) WriteNull(writer io.Writer) error {
	_, err := writer.Write([]byte{Amf0TypeMarkerNull})
	return err
}

func (amf0) WriteObject(writer io.Writer, opa ObjectPairArray) error {
	if _, err := writer.Write([]byte{Amf0TypeMarkerObject}); err != nil {
		return err
	}
	if err := Amf0.writePairs(writer, opa); err != nil {
		return err
	}
	_, err := writer.Write(Amf0TypeMarkerObjectEndBytes)
	return err
}

func (amf0) WriteEcmaArray(writer io.Writer, opa ObjectPairArray) error {
	var b [5]byte
	b[0] = Amf0TypeMarkerEcmaArray
	bele.BePutUint32(b[1:], uint32(len(opa)))
	if _, err := writer.Write(b[:]); err != nil {
		return err
	}
	if err := Amf0.writePairs(writer, opa); err != nil {
		return err
	}
	_, err := writer.Write(Amf0TypeMarkerObjectEndBytes)
	return err
}

func (amf0) writePairs(writer io.Writer, opa ObjectPairArray) error {
	for i := 0; i < len(opa); i++ {
		var kl [2]byte
		bele.BePutUint16(kl[:], uint16(len(opa[i].Key)))
		if _, err := writer.Write(kl[:]); err != nil {
			return err
		}
		if _, err := writer.Write([]byte(opa[i].Key)); err != nil {
			return err
		}
		var err error
		switch v := opa[i].Value.(type) {
		case string:
			err = Amf0.WriteString(writer, v)
		case int:
			err = Amf0.WriteNumber(writer, float64(v))
		case float64:
			err = Amf0.WriteNumber(writer, v)
		case bool:
			err = Amf0.WriteBoolean(writer, v)
		case nil:
			err = Amf0.WriteNull(writer)
		case ObjectPairArray:
			err = Amf0.WriteObject(writer, v)
		default:
			err = fmt.Errorf("%w. key=%s, value=%v", base.ErrAmfInvalidType, opa[i].Key, v)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// ----- read ----------------------------------------------------------------------------------------------------------

// read类型的方法集合
//
// 从输入参数<b>切片中读取函数名所指定的amf类型数据
// 注意，方法内部不会修改输入参数<b>切片的内容
//
// 返回值如无特殊说明，则
// 第1个参数为读取出的所指定类型的数据
// 第2个参数为读取时从<b>消耗的字节大小
// 第3个参数error，如果不等于nil，表示读取失败

func (amf0) ReadStringWithoutType(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, base.ErrAmfTooShort
	}
	l := int(bele.BeUint16(b))
	if l > len(b)-2 {
		return "", 0, base.ErrAmfTooShort
	}
	return string(b[2 : 2+l]), 2 + l, nil
}

func (amf0) ReadLongStringWithoutType(b []byte) (string, int, error) {
	if len(b) < 4 {
		return "", 0, base.ErrAmfTooShort
	}
	l := int(bele.BeUint32(b))
	if l < 0 || l > len(b)-4 {
		return "", 0, base.ErrAmfTooShort
	}
	return string(b[4 : 4+l]), 4 + l, nil
}

func (amf0) ReadString(b []byte) (val string, l int, err error) {
	if len(b) < 1 {
		return "", 0, base.ErrAmfTooShort
	}
	switch b[0] {
	case Amf0TypeMarkerString:
		val, l, err = Amf0.ReadStringWithoutType(b[1:])
		l++
	case Amf0TypeMarkerLongString:
		val, l, err = Amf0.ReadLongStringWithoutType(b[1:])
		l++
	default:
		err = base.NewErrAmfInvalidType(b[0])
	}
	return
}

func (amf0) ReadNumber(b []byte) (float64, int, error) {
	if len(b) < 9 {
		return 0, 0, base.ErrAmfTooShort
	}
	if b[0] != Amf0TypeMarkerNumber {
		return 0, 0, base.NewErrAmfInvalidType(b[0])
	}
	return bele.BeFloat64(b[1:]), 9, nil
}

func (amf0) ReadBoolean(b []byte) (bool, int, error) {
	if len(b) < 2 {
		return false, 0, base.ErrAmfTooShort
	}
	if b[0] != Amf0TypeMarkerBoolean {
		return false, 0, base.NewErrAmfInvalidType(b[0])
	}
	return b[1] != 0x0, 2, nil
}

func (amf0) ReadNull(b []byte) (int, error) {
	if len(b) < 1 {
		return 0, base.ErrAmfTooShort
	}
	if b[0] != Amf0TypeMarkerNull && b[0] != Amf0TypeMarkerUndefined {
		return 0, base.NewErrAmfInvalidType(b[0])
	}
	return 1, nil
}

func (amf0) ReadObject(b []byte) (ObjectPairArray, int, error) {
	return Amf0.readObject(b, 0)
}

func (amf0) ReadArray(b []byte) (ObjectPairArray, int, error) {
	return Amf0.readArray(b, 0)
}

// ReadObjectOrArray onMetaData可能是object，也可能是ecma array
func (amf0) ReadObjectOrArray(b []byte) (ObjectPairArray, int, error) {
	if len(b) < 1 {
		return nil, 0, base.ErrAmfTooShort
	}
	switch b[0] {
	case Amf0TypeMarkerObject:
		return Amf0.ReadObject(b)
	case Amf0TypeMarkerEcmaArray:
		return Amf0.ReadArray(b)
	}
	return nil, 0, base.NewErrAmfInvalidType(b[0])
}

func (amf0) readObject(b []byte, depth int) (ObjectPairArray, int, error) {
	if len(b) < 1 {
		return nil, 0, base.ErrAmfTooShort
	}
	if b[0] != Amf0TypeMarkerObject {
		return nil, 0, base.NewErrAmfInvalidType(b[0])
	}
	opa, l, err := Amf0.readPairs(b[1:], depth)
	return opa, l + 1, err
}

func (amf0) readArray(b []byte, depth int) (ObjectPairArray, int, error) {
	if len(b) < 5 {
		return nil, 0, base.ErrAmfTooShort
	}
	if b[0] != Amf0TypeMarkerEcmaArray {
		return nil, 0, base.NewErrAmfInvalidType(b[0])
	}
	// 4字节的count不可信，以object end为准
	opa, l, err := Amf0.readPairs(b[5:], depth)
	return opa, l + 5, err
}

func (amf0) readPairs(b []byte, depth int) (ObjectPairArray, int, error) {
	if depth > amf0MaxDepth {
		return nil, 0, fmt.Errorf("%w. nested too deep", base.ErrAmfInvalidType)
	}
	var opa ObjectPairArray
	index := 0
	for {
		if len(b)-index >= 3 && bytes.Equal(b[index:index+3], Amf0TypeMarkerObjectEndBytes) {
			return opa, index + 3, nil
		}

		k, l, err := Amf0.ReadStringWithoutType(b[index:])
		if err != nil {
			return nil, 0, err
		}
		index += l
		v, l, err := Amf0.readAny(b[index:], depth+1)
		if err != nil {
			return nil, 0, err
		}
		index += l
		opa = append(opa, ObjectPair{Key: k, Value: v})
	}
}

// readAny 读取任意类型的值
//
// number -> float64, boolean -> bool, string -> string, object/ecma array -> ObjectPairArray,
// strict array -> []interface{}, null/undefined -> nil, date -> float64(ms)
//
func (amf0) readAny(b []byte, depth int) (interface{}, int, error) {
	if len(b) < 1 {
		return nil, 0, base.ErrAmfTooShort
	}
	switch b[0] {
	case Amf0TypeMarkerNumber:
		return Amf0.ReadNumber(b)
	case Amf0TypeMarkerBoolean:
		return Amf0.ReadBoolean(b)
	case Amf0TypeMarkerString, Amf0TypeMarkerLongString:
		return Amf0.ReadString(b)
	case Amf0TypeMarkerObject:
		return Amf0.readObject(b, depth)
	case Amf0TypeMarkerEcmaArray:
		return Amf0.readArray(b, depth)
	case Amf0TypeMarkerNull, Amf0TypeMarkerUndefined:
		return nil, 1, nil
	case Amf0TypeMarkerDate:
		// 8字节毫秒 + 2字节时区
		if len(b) < 11 {
			return nil, 0, base.ErrAmfTooShort
		}
		return bele.BeFloat64(b[1:]), 11, nil
	case Amf0TypeMarkerStrictArray:
		if len(b) < 5 {
			return nil, 0, base.ErrAmfTooShort
		}
		if depth > amf0MaxDepth {
			return nil, 0, fmt.Errorf("%w. nested too deep", base.ErrAmfInvalidType)
		}
		count := int(bele.BeUint32(b[1:]))
		index := 5
		var arr []interface{}
		for i := 0; i < count; i++ {
			v, l, err := Amf0.readAny(b[index:], depth+1)
			if err != nil {
				return nil, 0, err
			}
			index += l
			arr = append(arr, v)
		}
		return arr, index, nil
	}
	return nil, 0, base.NewErrAmfInvalidType(b[0])
}
