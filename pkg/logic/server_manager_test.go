// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/naza/pkg/assert"
)

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Equal(t, nil, err)
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func httpGet(u string) (int, string, error) {
	resp, err := http.Get(u)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body), err
}

func TestServerManager(t *testing.T) {
	clearEnv(t)
	rtmpAddr, edgeAddr, metricsAddr := freeAddr(t), freeAddr(t), freeAddr(t)
	raw := fmt.Sprintf(`{
  "conf_version": "v0.1.0",
  "rtmp": {"enable": true, "addr": "%s"},
  "transcode": {"enable": false},
  "store": {"kv_type": "memory", "object_store_type": "memory"},
  "edge": {"enable": true, "addr": "%s"},
  "database": {"type": "memory"},
  "metrics": {"enable": true, "addr": "%s"},
  "log": {"filename": "", "is_to_stdout": true}
}`, rtmpAddr, edgeAddr, metricsAddr)

	repo := model.NewMemoryRepository()
	sm, err := NewServerManager(func(option *Option) {
		option.ConfRawContent = []byte(raw)
		option.Repository = repo
	})
	assert.Equal(t, nil, err)
	assert.Equal(t, edgeAddr, sm.Config().EdgeConfig.Addr)

	done := make(chan error, 1)
	go func() {
		done <- sm.RunLoop()
	}()

	// 等待edge开始服务
	edgeUrl := fmt.Sprintf("http://%s/%s/%s.m3u8", edgeAddr, uuid.New(), uuid.New())
	var code int
	for i := 0; i < 100; i++ {
		if code, _, err = httpGet(edgeUrl); err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusNotFound, code)

	code, body, err := httpGet(fmt.Sprintf("http://%s/metrics", metricsAddr))
	assert.Equal(t, nil, err)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, strings.Contains(body, "lallive_edge_requests_total"))

	conn, err := net.Dial("tcp", rtmpAddr)
	assert.Equal(t, nil, err)
	_ = conn.Close()

	sm.Dispose()
	select {
	case err = <-done:
		assert.Equal(t, nil, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run loop not finished after dispose")
	}
}

func TestServerManager_DisposeBeforeRun(t *testing.T) {
	clearEnv(t)
	sm, err := NewServerManager(func(option *Option) {
		option.ConfRawContent = []byte(`{
  "rtmp": {"enable": false},
  "edge": {"enable": false},
  "metrics": {"enable": false},
  "store": {"object_store_type": "memory"},
  "log": {"filename": ""}
}`)
	})
	assert.Equal(t, nil, err)
	sm.Dispose()
	assert.Equal(t, nil, sm.RunLoop())
}
