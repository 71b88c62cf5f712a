// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

// Package mp4 ISO-BMFF box的解析与序列化，只覆盖fmp4直播需要的box
//
// ISO_IEC_14496-12_2015.pdf
//
package mp4

import (
	"fmt"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/bele"
)

const (
	boxHeaderSize     = 8
	fullBoxHeaderSize = 12
)

type Box interface {
	BoxType() string
	// Size 包含box header在内的总大小
	Size() int
	Encode(w *Writer)
}

// FullBox version和flags，嵌入到所有full box中
type FullBox struct {
	Version uint8
	Flags   uint32
}

// ----- Writer --------------------------------------------------------------------------------------------------------

type Writer struct {
	b []byte
}

func NewWriter(capacity int) *Writer {
	return &Writer{b: make([]byte, 0, capacity)}
}

func (w *Writer) U8(v uint8) {
	w.b = append(w.b, v)
}

func (w *Writer) U16(v uint16) {
	var b [2]byte
	bele.BePutUint16(b[:], v)
	w.b = append(w.b, b[:]...)
}

func (w *Writer) U24(v uint32) {
	var b [3]byte
	bele.BePutUint24(b[:], v)
	w.b = append(w.b, b[:]...)
}

func (w *Writer) U32(v uint32) {
	var b [4]byte
	bele.BePutUint32(b[:], v)
	w.b = append(w.b, b[:]...)
}

func (w *Writer) U64(v uint64) {
	var b [8]byte
	bele.BePutUint64(b[:], v)
	w.b = append(w.b, b[:]...)
}

func (w *Writer) Zeros(n int) {
	for i := 0; i < n; i++ {
		w.b = append(w.b, 0)
	}
}

func (w *Writer) Write(b []byte) {
	w.b = append(w.b, b...)
}

// FourCC 不足4字节时补空格
func (w *Writer) FourCC(s string) {
	var b = [4]byte{' ', ' ', ' ', ' '}
	copy(b[:], s)
	w.b = append(w.b, b[:]...)
}

func (w *Writer) BoxHeader(size int, typ string) {
	w.U32(uint32(size))
	w.FourCC(typ)
}

func (w *Writer) FullBoxHeader(size int, typ string, fb FullBox) {
	w.BoxHeader(size, typ)
	w.U8(fb.Version)
	w.U24(fb.Flags)
}

func (w *Writer) Bytes() []byte {
	return w.b
}

func (w *Writer) Len() int {
	return len(w.b)
}

// ----- Reader --------------------------------------------------------------------------------------------------------

// Reader 出错后粘滞，后续读取全部返回零值，最后通过 Err 统一检查
type Reader struct {
	b   []byte
	pos int
	err error
}

func NewReader(b []byte) *Reader {
	return &Reader{b: b}
}

func (r *Reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if n < 0 || len(r.b)-r.pos < n {
		r.err = base.ErrTruncated
		return false
	}
	return true
}

func (r *Reader) U8() uint8 {
	if !r.need(1) {
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *Reader) U16() uint16 {
	if !r.need(2) {
		return 0
	}
	v := bele.BeUint16(r.b[r.pos:])
	r.pos += 2
	return v
}

func (r *Reader) U24() uint32 {
	if !r.need(3) {
		return 0
	}
	v := bele.BeUint24(r.b[r.pos:])
	r.pos += 3
	return v
}

func (r *Reader) U32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := bele.BeUint32(r.b[r.pos:])
	r.pos += 4
	return v
}

func (r *Reader) U64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := bele.BeUint64(r.b[r.pos:])
	r.pos += 8
	return v
}

// Bytes 返回的是底层内存的子切片
func (r *Reader) Bytes(n int) []byte {
	if !r.need(n) {
		return nil
	}
	v := r.b[r.pos : r.pos+n]
	r.pos += n
	return v
}

func (r *Reader) Skip(n int) {
	if r.need(n) {
		r.pos += n
	}
}

func (r *Reader) FourCC() string {
	return string(r.Bytes(4))
}

func (r *Reader) FullBox() FullBox {
	return FullBox{Version: r.U8(), Flags: r.U24()}
}

// Rest 剩余所有字节
func (r *Reader) Rest() []byte {
	if r.err != nil {
		return nil
	}
	v := r.b[r.pos:]
	r.pos = len(r.b)
	return v
}

func (r *Reader) Len() int {
	return len(r.b) - r.pos
}

func (r *Reader) Err() error {
	return r.err
}

// ----- 编解码入口 ----------------------------------------------------------------------------------------------------

type decodeFunc func(typ string, r *Reader) (Box, error)

var decoders = map[string]decodeFunc{}

func registerDecoder(f decodeFunc, types ...string) {
	for _, t := range types {
		decoders[t] = f
	}
}

// Marshal 按顺序序列化多个box
func Marshal(boxes ...Box) []byte {
	total := 0
	for _, b := range boxes {
		total += b.Size()
	}
	w := NewWriter(total)
	for _, b := range boxes {
		b.Encode(w)
	}
	return w.Bytes()
}

// Unmarshal 解析b中连续的box，不认识的box解析为 *RawBox
//
// 解析结果可能引用b的内存
//
func Unmarshal(b []byte) ([]Box, error) {
	var ret []Box
	for len(b) > 0 {
		box, n, err := decodeOne(b)
		if err != nil {
			return nil, err
		}
		ret = append(ret, box)
		b = b[n:]
	}
	return ret, nil
}

// ReadBoxHeader
//
// @return size:       box总大小，size字段为0（直到文件末尾）时返回0
// @return headerSize: 8或16
//
func ReadBoxHeader(b []byte) (size uint64, typ string, headerSize int, err error) {
	if len(b) < boxHeaderSize {
		return 0, "", 0, base.ErrTruncated
	}
	size = uint64(bele.BeUint32(b))
	typ = string(b[4:8])
	headerSize = boxHeaderSize
	if size == 1 {
		if len(b) < 16 {
			return 0, "", 0, base.ErrTruncated
		}
		size = bele.BeUint64(b[8:])
		headerSize = 16
	}
	if size != 0 && size < uint64(headerSize) {
		return 0, "", 0, base.NewErrInvalidTag(fmt.Sprintf("box size too small. type=%s, size=%d", typ, size))
	}
	return
}

func decodeOne(b []byte) (Box, int, error) {
	size, typ, hs, err := ReadBoxHeader(b)
	if err != nil {
		return nil, 0, err
	}
	if size == 0 {
		size = uint64(len(b))
	}
	if size > uint64(len(b)) {
		return nil, 0, base.ErrTruncated
	}
	payload := b[hs:size]
	f, ok := decoders[typ]
	if !ok {
		return &RawBox{Type: typ, Data: payload}, int(size), nil
	}
	box, err := f(typ, NewReader(payload))
	if err != nil {
		return nil, 0, err
	}
	return box, int(size), nil
}

func decodeChildren(b []byte) ([]Box, error) {
	return Unmarshal(b)
}

func childrenSize(children []Box) int {
	n := 0
	for _, c := range children {
		n += c.Size()
	}
	return n
}

// ----- RawBox --------------------------------------------------------------------------------------------------------

// RawBox 不解析内容的box，用于avcC/hvcC/av1C以及不认识的box
type RawBox struct {
	Type string
	Data []byte
}

func (b *RawBox) BoxType() string { return b.Type }
func (b *RawBox) Size() int       { return boxHeaderSize + len(b.Data) }
func (b *RawBox) Encode(w *Writer) {
	w.BoxHeader(b.Size(), b.Type)
	w.Write(b.Data)
}

func NewAvcC(dcr []byte) *RawBox { return &RawBox{Type: "avcC", Data: dcr} }
func NewHvcC(dcr []byte) *RawBox { return &RawBox{Type: "hvcC", Data: dcr} }
func NewAv1C(ccr []byte) *RawBox { return &RawBox{Type: "av1C", Data: ccr} }

// ----- Container -----------------------------------------------------------------------------------------------------

// Container 只包含子box的容器box，比如moov trak mdia minf stbl dinf mvex moof traf
type Container struct {
	Type     string
	Children []Box
}

func NewContainer(typ string, children ...Box) *Container {
	return &Container{Type: typ, Children: children}
}

func (c *Container) BoxType() string { return c.Type }
func (c *Container) Size() int       { return boxHeaderSize + childrenSize(c.Children) }
func (c *Container) Encode(w *Writer) {
	w.BoxHeader(c.Size(), c.Type)
	for _, child := range c.Children {
		child.Encode(w)
	}
}

// Find 第一个指定类型的子box，没有时返回nil
func (c *Container) Find(typ string) Box {
	for _, child := range c.Children {
		if child.BoxType() == typ {
			return child
		}
	}
	return nil
}

func (c *Container) FindAll(typ string) []Box {
	var ret []Box
	for _, child := range c.Children {
		if child.BoxType() == typ {
			ret = append(ret, child)
		}
	}
	return ret
}

// FindPath 按路径逐层查找，比如 FindPath("trak", "mdia", "mdhd")
func (c *Container) FindPath(types ...string) Box {
	var cur Box = c
	for _, t := range types {
		cc, ok := cur.(*Container)
		if !ok {
			return nil
		}
		cur = cc.Find(t)
		if cur == nil {
			return nil
		}
	}
	return cur
}

func decodeContainer(typ string, r *Reader) (Box, error) {
	children, err := decodeChildren(r.Rest())
	if err != nil {
		return nil, err
	}
	return &Container{Type: typ, Children: children}, nil
}

func init() {
	registerDecoder(decodeContainer, "moov", "trak", "mdia", "minf", "dinf", "stbl", "mvex", "moof", "traf", "edts")
}
