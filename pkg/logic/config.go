// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/edge"
	"github.com/q191201771/lallive/pkg/ingest"
	"github.com/q191201771/lallive/pkg/transcode"
	"github.com/q191201771/naza/pkg/nazajson"
	"github.com/q191201771/naza/pkg/nazalog"
)

const (
	KvTypeMemory = "memory"
	KvTypeRedis  = "redis"

	ObjectStoreTypeDisk   = "disk"
	ObjectStoreTypeMemory = "memory"

	DatabaseTypeMemory   = "memory"
	DatabaseTypePostgres = "postgres"

	UpscaleNo               = "no"
	UpscaleNoPreserveSource = "no_preserve_source"
	UpscaleYes              = "yes"
)

// EnvPrefix 环境变量覆盖配置文件中的部分字段，比如 LALLIVE_RTMP_ADDR
const EnvPrefix = "LALLIVE_"

type Config struct {
	ConfVersion     string          `json:"conf_version"`
	RtmpConfig      RtmpConfig      `json:"rtmp"`
	IngestConfig    IngestConfig    `json:"ingest"`
	TranscodeConfig TranscodeConfig `json:"transcode"`
	StoreConfig     StoreConfig     `json:"store"`
	EdgeConfig      EdgeConfig      `json:"edge"`
	DatabaseConfig  DatabaseConfig  `json:"database"`
	MetricsConfig   MetricsConfig   `json:"metrics"`
	LogConfig       nazalog.Option  `json:"log"`
}

type RtmpConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
}

type IngestConfig struct {
	PartTargetMs         int `json:"part_target_ms"`
	AudioPartTargetMs    int `json:"audio_part_target_ms"`
	SegmentTargetMs      int `json:"segment_target_ms"`
	ResumeWindowMs       int `json:"resume_window_ms"`
	ConnectionTtlMs      int `json:"connection_ttl_ms"`
	HeartbeatIntervalMs  int `json:"heartbeat_interval_ms"`
	ScreenshotIntervalMs int `json:"screenshot_interval_ms"`
	ManifestWindow       int `json:"manifest_window"`
	UpstreamAttempts     int `json:"upstream_attempts"`
	UpstreamTimeoutMs    int `json:"upstream_timeout_ms"`
}

type TranscodeConfig struct {
	// Enable 为false时只输出source rendition
	Enable       bool    `json:"enable"`
	FfmpegPath   string  `json:"ffmpeg_path"`
	VideoEncoder string  `json:"video_encoder"`
	AudioEncoder string  `json:"audio_encoder"`
	Preset       string  `json:"preset"`
	Upscale      string  `json:"upscale"`
	FpsCap       float64 `json:"fps_cap"`

	ScreenshotWidth uint32 `json:"screenshot_width"`
}

type StoreConfig struct {
	KvType        string `json:"kv_type"`
	RedisAddr     string `json:"redis_addr"`
	RedisPassword string `json:"redis_password"`
	RedisDb       int    `json:"redis_db"`
	RedisPrefix   string `json:"redis_prefix"`

	ObjectStoreType string `json:"object_store_type"`
	ObjectStoreRoot string `json:"object_store_root"`
}

type EdgeConfig struct {
	Enable            bool   `json:"enable"`
	Addr              string `json:"addr"`
	SessionTtlMs      int    `json:"session_ttl_ms"`
	BlockingTimeoutMs int    `json:"blocking_timeout_ms"`
	MediaWaitMs       int    `json:"media_wait_ms"`
	PartSegments      int    `json:"part_segments"`
	TrustedHops       int    `json:"trusted_hops"`
	TrustedHeader     string `json:"trusted_header"`
	DvrBaseUrl        string `json:"dvr_base_url"`
	RateLimit         int    `json:"rate_limit"`
	RateLimitWindowMs int    `json:"rate_limit_window_ms"`
	RevocationCacheMs int    `json:"revocation_cache_ms"`
	AddCors           bool   `json:"add_cors"`

	// SigningKeyFile PEM格式的EC私钥，多个edge节点需要使用同一个；为空时启动时临时生成
	SigningKeyFile string `json:"signing_key_file"`
}

type DatabaseConfig struct {
	Type        string `json:"type"`
	Dsn         string `json:"dsn"`
	AutoMigrate bool   `json:"auto_migrate"`
}

type MetricsConfig struct {
	Enable bool   `json:"enable"`
	Addr   string `json:"addr"`
}

// defaultConfig 配置文件中没有出现的字段保持这里的值，各模块的默认值以模块自身的DefaultOption为准
func defaultConfig() *Config {
	io := ingest.DefaultOption()
	eo := edge.DefaultOption()
	return &Config{
		ConfVersion: base.ConfVersion,
		RtmpConfig: RtmpConfig{
			Enable: true,
			Addr:   ":1935",
		},
		IngestConfig: IngestConfig{
			PartTargetMs:         io.PartTargetMs,
			AudioPartTargetMs:    io.AudioPartTargetMs,
			SegmentTargetMs:      io.SegmentTargetMs,
			ResumeWindowMs:       io.ResumeWindowMs,
			ConnectionTtlMs:      io.ConnectionTtlMs,
			HeartbeatIntervalMs:  io.HeartbeatIntervalMs,
			ScreenshotIntervalMs: io.ScreenshotIntervalMs,
			ManifestWindow:       io.ManifestWindow,
			UpstreamAttempts:     io.UpstreamAttempts,
			UpstreamTimeoutMs:    io.UpstreamTimeoutMs,
		},
		TranscodeConfig: TranscodeConfig{
			Enable:          true,
			FfmpegPath:      transcode.DefaultFfmpegOption.Path,
			VideoEncoder:    transcode.DefaultFfmpegOption.VideoEncoder,
			AudioEncoder:    transcode.DefaultFfmpegOption.AudioEncoder,
			Preset:          transcode.DefaultFfmpegOption.Preset,
			Upscale:         UpscaleNo,
			FpsCap:          io.FpsCap,
			ScreenshotWidth: 640,
		},
		StoreConfig: StoreConfig{
			KvType:          KvTypeMemory,
			RedisPrefix:     "lallive:",
			ObjectStoreType: ObjectStoreTypeDisk,
			ObjectStoreRoot: "./lallive_data",
		},
		EdgeConfig: EdgeConfig{
			Enable:            true,
			Addr:              ":8080",
			SessionTtlMs:      eo.SessionTtlMs,
			BlockingTimeoutMs: eo.BlockingTimeoutMs,
			MediaWaitMs:       eo.MediaWaitMs,
			PartSegments:      eo.PartSegments,
			TrustedHops:       eo.TrustedHops,
			TrustedHeader:     eo.TrustedHeader,
			DvrBaseUrl:        eo.DvrBaseUrl,
			RateLimit:         eo.RateLimit,
			RateLimitWindowMs: eo.RateLimitWindowMs,
			RevocationCacheMs: eo.RevocationCacheMs,
			AddCors:           true,
		},
		DatabaseConfig: DatabaseConfig{
			Type:        DatabaseTypeMemory,
			AutoMigrate: true,
		},
		MetricsConfig: MetricsConfig{
			Enable: true,
			Addr:   ":9090",
		},
	}
}

// LoadConfAndInitLog 解析配置并初始化日志，失败时直接退出进程
func LoadConfAndInitLog(rawContent []byte) *Config {
	config, err := ParseConfig(rawContent)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "parse conf failed. err=%+v\n", err)
		base.OsExitAndWaitPressIfWindows(1)
	}

	if err := nazalog.Init(func(option *nazalog.Option) {
		*option = config.LogConfig
	}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "initial log failed. err=%+v\n", err)
		base.OsExitAndWaitPressIfWindows(1)
	}
	Log.Info("initial log succ.")

	if config.ConfVersion != base.ConfVersion {
		Log.Warnf("config version invalid. conf version of lallive=%s, conf version of config file=%s",
			base.ConfVersion, config.ConfVersion)
	}
	Log.Infof("load conf succ. config=%+v", config)
	return config
}

// ParseConfig 解析json配置，填充默认值，再用环境变量覆盖
func ParseConfig(rawContent []byte) (*Config, error) {
	config := defaultConfig()
	if err := json.Unmarshal(rawContent, config); err != nil {
		return nil, err
	}

	j, err := nazajson.New(rawContent)
	if err != nil {
		return nil, err
	}
	if !j.Exist("log.level") {
		config.LogConfig.Level = nazalog.LevelDebug
	}
	if !j.Exist("log.filename") {
		config.LogConfig.Filename = "./logs/lallive.log"
	}
	if !j.Exist("log.is_to_stdout") {
		config.LogConfig.IsToStdout = true
	}
	if !j.Exist("log.is_rotate_daily") {
		config.LogConfig.IsRotateDaily = true
	}
	if !j.Exist("log.short_file_flag") {
		config.LogConfig.ShortFileFlag = true
	}
	if !j.Exist("log.timestamp_flag") {
		config.LogConfig.TimestampFlag = true
	}
	if !j.Exist("log.timestamp_with_ms_flag") {
		config.LogConfig.TimestampWithMsFlag = true
	}
	if !j.Exist("log.level_flag") {
		config.LogConfig.LevelFlag = true
	}
	if !j.Exist("log.assert_behavior") {
		config.LogConfig.AssertBehavior = nazalog.AssertError
	}

	overlayEnv(config)

	if err := config.check(); err != nil {
		return nil, err
	}
	return config, nil
}

// overlayEnv 先加载当前目录下可选的.env文件，已经存在的环境变量不会被覆盖
func overlayEnv(config *Config) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		Log.Warnf("load .env failed. err=%+v", err)
	}

	envString("RTMP_ADDR", &config.RtmpConfig.Addr)
	envString("EDGE_ADDR", &config.EdgeConfig.Addr)
	envString("METRICS_ADDR", &config.MetricsConfig.Addr)
	envString("SIGNING_KEY_FILE", &config.EdgeConfig.SigningKeyFile)
	envString("OBJECT_STORE_ROOT", &config.StoreConfig.ObjectStoreRoot)
	if envString("REDIS_ADDR", &config.StoreConfig.RedisAddr) {
		config.StoreConfig.KvType = KvTypeRedis
	}
	if envString("DATABASE_DSN", &config.DatabaseConfig.Dsn) {
		config.DatabaseConfig.Type = DatabaseTypePostgres
	}
}

func envString(name string, v *string) bool {
	s := os.Getenv(EnvPrefix + name)
	if s == "" {
		return false
	}
	*v = s
	return true
}

func (c *Config) check() error {
	switch c.StoreConfig.KvType {
	case KvTypeMemory:
	case KvTypeRedis:
		if c.StoreConfig.RedisAddr == "" {
			return fmt.Errorf("store.redis_addr required when kv type is redis")
		}
	default:
		return fmt.Errorf("invalid store.kv_type. value=%s", c.StoreConfig.KvType)
	}

	switch c.StoreConfig.ObjectStoreType {
	case ObjectStoreTypeMemory:
	case ObjectStoreTypeDisk:
		if c.StoreConfig.ObjectStoreRoot == "" {
			return fmt.Errorf("store.object_store_root required when object store type is disk")
		}
	default:
		return fmt.Errorf("invalid store.object_store_type. value=%s", c.StoreConfig.ObjectStoreType)
	}

	switch c.DatabaseConfig.Type {
	case DatabaseTypeMemory:
	case DatabaseTypePostgres:
		if c.DatabaseConfig.Dsn == "" {
			return fmt.Errorf("database.dsn required when database type is postgres")
		}
	default:
		return fmt.Errorf("invalid database.type. value=%s", c.DatabaseConfig.Type)
	}

	if _, err := c.TranscodeConfig.upscale(); err != nil {
		return err
	}
	return nil
}

func (c *TranscodeConfig) upscale() (transcode.Upscale, error) {
	switch c.Upscale {
	case UpscaleNo:
		return transcode.UpscaleNo, nil
	case UpscaleNoPreserveSource:
		return transcode.UpscaleNoPreserveSource, nil
	case UpscaleYes:
		return transcode.UpscaleYes, nil
	}
	return transcode.UpscaleNo, fmt.Errorf("invalid transcode.upscale. value=%s", c.Upscale)
}
