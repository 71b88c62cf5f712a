// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package flv

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/q191201771/lallive/pkg/base"
)

var flvSignature = []byte{'F', 'L', 'V', 0x01}

// FileReader 读取.flv文件，或者任意flv格式的字节流
type FileReader struct {
	fp *os.File
	r  io.Reader
}

func NewFileReader(r io.Reader) *FileReader {
	return &FileReader{r: bufio.NewReader(r)}
}

func (ffr *FileReader) Open(filename string) (err error) {
	ffr.fp, err = os.Open(filename)
	if err != nil {
		return
	}
	ffr.r = bufio.NewReader(ffr.fp)
	return
}

// ReadFlvHeader 读取9字节的flv header以及紧随其后的4字节 prev tag size 0
func (ffr *FileReader) ReadFlvHeader() ([]byte, error) {
	flvHeader := make([]byte, FileHeaderSize+PrevTagSizeFieldSize)
	if _, err := io.ReadFull(ffr.r, flvHeader); err != nil {
		return nil, err
	}
	if !bytes.Equal(flvHeader[:4], flvSignature) {
		return nil, base.ErrFlvFileHeader
	}
	return flvHeader[:FileHeaderSize], nil
}

func (ffr *FileReader) ReadTag() (Tag, error) {
	return ReadTag(ffr.r)
}

func (ffr *FileReader) Dispose() {
	if ffr.fp != nil {
		_ = ffr.fp.Close()
	}
}

// PackFileHeader 生成flv header，包含 prev tag size 0
func PackFileHeader(hasAudio, hasVideo bool) []byte {
	out := []byte{'F', 'L', 'V', 0x01, 0, 0, 0, 0, 9, 0, 0, 0, 0}
	if hasAudio {
		out[4] |= 0x04
	}
	if hasVideo {
		out[4] |= 0x01
	}
	return out
}
