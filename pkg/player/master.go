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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/edge"
)

// FetchMaster 请求json形式的master playlist，返回值中variant的uri已经解析为绝对地址
func FetchMaster(ctx context.Context, client *http.Client, masterUrl string) (*edge.MasterPlaylist, error) {
	if client == nil {
		client = http.DefaultClient
	}
	u, err := url.Parse(masterUrl)
	if err != nil {
		return nil, err
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("master url must be absolute. url=%s", masterUrl)
	}
	q := u.Query()
	q.Set("scuffle_json", "1")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, base.WrapUpstream(err, "get master playlist")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, base.WrapUpstream(err, "read master playlist")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &statusError{code: resp.StatusCode, url: masterUrl}
	}

	var m edge.MasterPlaylist
	if err = json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	u.RawQuery = ""
	for i := range m.Variants {
		ref, err := url.Parse(m.Variants[i].Uri)
		if err != nil {
			return nil, err
		}
		m.Variants[i].Uri = u.ResolveReference(ref).String()
	}
	return &m, nil
}
