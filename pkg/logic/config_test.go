// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"testing"

	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/edge"
	"github.com/q191201771/lallive/pkg/ingest"
	"github.com/q191201771/naza/pkg/assert"
	"github.com/q191201771/naza/pkg/nazalog"
)

// clearEnv 避免运行测试的环境中已经设置的变量影响结果
func clearEnv(t *testing.T) {
	for _, name := range []string{"RTMP_ADDR", "EDGE_ADDR", "METRICS_ADDR", "SIGNING_KEY_FILE", "OBJECT_STORE_ROOT", "REDIS_ADDR", "DATABASE_DSN"} {
		t.Setenv(EnvPrefix+name, "")
	}
}

func TestParseConfig_Default(t *testing.T) {
	clearEnv(t)
	config, err := ParseConfig([]byte(`{}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, base.ConfVersion, config.ConfVersion)
	assert.Equal(t, true, config.RtmpConfig.Enable)
	assert.Equal(t, ":1935", config.RtmpConfig.Addr)
	assert.Equal(t, KvTypeMemory, config.StoreConfig.KvType)
	assert.Equal(t, DatabaseTypeMemory, config.DatabaseConfig.Type)
	assert.Equal(t, ingest.DefaultOption().PartTargetMs, config.IngestConfig.PartTargetMs)
	assert.Equal(t, edge.DefaultOption().BlockingTimeoutMs, config.EdgeConfig.BlockingTimeoutMs)
	assert.Equal(t, edge.DefaultOption().RateLimit, config.EdgeConfig.RateLimit)
	assert.Equal(t, nazalog.LevelDebug, config.LogConfig.Level)
	assert.Equal(t, "./logs/lallive.log", config.LogConfig.Filename)
	assert.Equal(t, true, config.LogConfig.IsToStdout)
}

func TestParseConfig(t *testing.T) {
	clearEnv(t)
	raw := `{
  "conf_version": "v0.1.0",
  "rtmp": {"enable": true, "addr": ":19350"},
  "ingest": {"part_target_ms": 500},
  "transcode": {"enable": false, "upscale": "no_preserve_source"},
  "store": {"kv_type": "redis", "redis_addr": "127.0.0.1:6379", "object_store_type": "memory"},
  "edge": {"addr": ":8088", "rate_limit": 0},
  "log": {"level": 2, "filename": "", "is_to_stdout": false}
}`
	config, err := ParseConfig([]byte(raw))
	assert.Equal(t, nil, err)
	assert.Equal(t, ":19350", config.RtmpConfig.Addr)
	assert.Equal(t, 500, config.IngestConfig.PartTargetMs)
	// 没有出现的字段保持默认值
	assert.Equal(t, ingest.DefaultOption().SegmentTargetMs, config.IngestConfig.SegmentTargetMs)
	assert.Equal(t, false, config.TranscodeConfig.Enable)
	assert.Equal(t, KvTypeRedis, config.StoreConfig.KvType)
	assert.Equal(t, "lallive:", config.StoreConfig.RedisPrefix)
	assert.Equal(t, ":8088", config.EdgeConfig.Addr)
	assert.Equal(t, 0, config.EdgeConfig.RateLimit)
	assert.Equal(t, nazalog.LevelInfo, config.LogConfig.Level)
	assert.Equal(t, "", config.LogConfig.Filename)
	assert.Equal(t, false, config.LogConfig.IsToStdout)
}

func TestParseConfig_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"EDGE_ADDR", "127.0.0.1:18080")
	t.Setenv(EnvPrefix+"REDIS_ADDR", "redis:6379")
	t.Setenv(EnvPrefix+"DATABASE_DSN", "host=db user=lallive")

	config, err := ParseConfig([]byte(`{"edge": {"addr": ":8080"}}`))
	assert.Equal(t, nil, err)
	assert.Equal(t, "127.0.0.1:18080", config.EdgeConfig.Addr)
	assert.Equal(t, KvTypeRedis, config.StoreConfig.KvType)
	assert.Equal(t, "redis:6379", config.StoreConfig.RedisAddr)
	assert.Equal(t, DatabaseTypePostgres, config.DatabaseConfig.Type)
	assert.Equal(t, "host=db user=lallive", config.DatabaseConfig.Dsn)
}

func TestParseConfig_Invalid(t *testing.T) {
	clearEnv(t)
	for _, raw := range []string{
		`{"store": {"kv_type": "etcd"}}`,
		`{"store": {"kv_type": "redis"}}`,
		`{"store": {"object_store_type": "s3"}}`,
		`{"database": {"type": "postgres"}}`,
		`{"transcode": {"upscale": "always"}}`,
		`{"rtmp": `,
	} {
		_, err := ParseConfig([]byte(raw))
		assert.IsNotNil(t, err)
	}
}
