// Copyright 2019, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package rtmp

import (
	"errors"
	"net"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

func TestHandshake(t *testing.T) {
	for _, complex := range []bool{false, true} {
		sc, cc := net.Pipe()
		var hs HandshakeServer
		done := make(chan error, 1)
		go func() {
			if err := hs.ReadC0C1(sc); err != nil {
				done <- err
				return
			}
			if err := hs.WriteS0S1S2(sc); err != nil {
				done <- err
				return
			}
			done <- hs.ReadC2(sc)
		}()

		err := NewHandshakeClient(complex).Do(cc)
		assert.Equal(t, nil, err)
		assert.Equal(t, nil, <-done)
		assert.Equal(t, !complex, hs.IsSimpleMode())
		_ = sc.Close()
		_ = cc.Close()
	}
}

func TestHandshake_InvalidVersion(t *testing.T) {
	sc, cc := net.Pipe()
	defer sc.Close()
	defer cc.Close()

	go func() {
		c0c1 := make([]byte, c0c1Len)
		c0c1[0] = 6
		_, _ = cc.Write(c0c1)
	}()
	var hs HandshakeServer
	err := hs.ReadC0C1(sc)
	assert.Equal(t, true, errors.Is(err, base.ErrRtmpHandshake))
}

func TestDigest(t *testing.T) {
	c1 := make([]byte, c0c1Len-1)
	random1528(c1[8:])
	copy(c1[4:], clientVersionMockFromFfmpeg)
	offs := (int(c1[8])+int(c1[9])+int(c1[10])+int(c1[11]))%728 + 12
	makeDigestWithoutCenterPart(c1, offs, clientKey[:clientPartKeyLen], c1[offs:])

	assert.Equal(t, offs, findDigest(c1, 8, clientKey[:clientPartKeyLen]))
	assert.Equal(t, -1, findDigest(c1, 8, serverKey[:serverPartKeyLen]))
}
