// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package player

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/naza/pkg/assert"
)

func TestFetchMaster(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("scuffle_json") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/forbidden.m3u8") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"session":"s1","expires_at":100,"variants":[{"rendition":"audio_source","uri":"s1/audio_source.m3u8"}]}`))
	}))
	defer ts.Close()

	m, err := FetchMaster(context.Background(), nil, ts.URL+"/org/room.m3u8")
	assert.Equal(t, nil, err)
	assert.Equal(t, "s1", m.Session)
	assert.Equal(t, 1, len(m.Variants))
	assert.Equal(t, ts.URL+"/org/s1/audio_source.m3u8", m.Variants[0].Uri)

	_, err = FetchMaster(context.Background(), nil, ts.URL+"/org/forbidden.m3u8")
	assert.Equal(t, true, errors.Is(err, base.ErrPlayerStatus))

	_, err = FetchMaster(context.Background(), nil, "/org/room.m3u8")
	assert.IsNotNil(t, err)
}
