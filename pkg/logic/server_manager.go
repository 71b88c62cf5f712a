// Copyright 2023, Chef.  All rights reserved.
// https://github.com/q191201771/lallive
//
// Use of this source code is governed by a MIT-style license
// that can be found in the License file.
//
// Author: Chef (191201771@qq.com)

package logic

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/q191201771/lallive/pkg/base"
	"github.com/q191201771/lallive/pkg/edge"
	"github.com/q191201771/lallive/pkg/ingest"
	"github.com/q191201771/lallive/pkg/metrics"
	"github.com/q191201771/lallive/pkg/model"
	"github.com/q191201771/lallive/pkg/rtmp"
	"github.com/q191201771/lallive/pkg/store"
	"github.com/q191201771/lallive/pkg/transcode"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

type ServerManager struct {
	option          Option
	serverStartTime string
	config          *Config

	redisClient redis.UniversalClient
	repo        model.Repository
	kv          store.KV
	objects     store.ObjectStore
	metrics     *metrics.Metrics

	ingestManager *ingest.Manager
	rtmpServer    *rtmp.Server
	edgeServer    *edge.Server
	metricsServer *http.Server
	metricsLn     net.Listener

	mutex    sync.Mutex
	cancel   context.CancelFunc
	disposed atomic.Bool
	once     sync.Once
}

func NewServerManager(modOption ...ModOption) (*ServerManager, error) {
	sm := &ServerManager{
		serverStartTime: base.ReadableNowTime(),
	}
	sm.option = defaultOption
	for _, fn := range modOption {
		fn(&sm.option)
	}

	rawContent := sm.option.ConfRawContent
	if len(rawContent) == 0 {
		rawContent = base.WrapReadConfigFile(sm.option.ConfFilename, DefaultConfFilenameList, func() {
			_, _ = fmt.Fprintf(os.Stderr, `
Example:
  %s -c %s

Github: %s
`, os.Args[0], filepath.FromSlash("./conf/lallive.conf.json"), base.LalliveGithubSite)
		})
	}
	sm.config = LoadConfAndInitLog(rawContent)
	base.LogoutStartInfo()

	base.AddCors2EdgeFlag = sm.config.EdgeConfig.AddCors
	if sm.config.MetricsConfig.Enable {
		sm.metrics = metrics.New()
	}

	if err := sm.initStore(); err != nil {
		sm.closeUpstream()
		return nil, err
	}
	if err := sm.initRepository(); err != nil {
		sm.closeUpstream()
		return nil, err
	}

	sm.ingestManager = ingest.NewManager(sm.repo, sm.kv, sm.objects, sm.modIngestOption)
	if sm.config.RtmpConfig.Enable {
		sm.rtmpServer = rtmp.NewServer(sm.ingestManager, sm.config.RtmpConfig.Addr)
	}

	if sm.config.EdgeConfig.Enable {
		modEdgeOption, err := sm.edgeOption()
		if err != nil {
			sm.closeUpstream()
			return nil, err
		}
		if sm.edgeServer, err = edge.NewServer(sm.config.EdgeConfig.Addr, sm.repo, sm.kv, sm.objects, modEdgeOption); err != nil {
			sm.closeUpstream()
			return nil, err
		}
	}

	if sm.metrics != nil {
		r := chi.NewRouter()
		r.Handle("/metrics", sm.metrics.Handler())
		sm.metricsServer = &http.Server{Handler: r, ReadHeaderTimeout: 5 * time.Second}
	}
	return sm, nil
}

// ----- implement ILalliveServer interface ----------------------------------------------------------------------------

func (sm *ServerManager) RunLoop() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sm.mutex.Lock()
	sm.cancel = cancel
	sm.mutex.Unlock()
	if sm.disposed.Load() {
		return nil
	}

	if err := sm.listen(); err != nil {
		sm.Dispose()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		base.RunSignalHandler(gctx, sm.Dispose)
		return nil
	})
	if sm.rtmpServer != nil {
		g.Go(func() error {
			return sm.wrapRunLoop("rtmp", sm.rtmpServer.RunLoop())
		})
	}
	if sm.edgeServer != nil {
		g.Go(func() error {
			return sm.wrapRunLoop("edge", sm.edgeServer.RunLoop())
		})
	}
	if sm.metricsServer != nil {
		g.Go(func() error {
			return sm.wrapRunLoop("metrics", sm.metricsServer.Serve(sm.metricsLn))
		})
	}
	g.Go(func() error {
		t := time.NewTicker(10 * time.Second)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				// 任何一个服务出错时关闭其他服务
				sm.Dispose()
				return nil
			case <-t.C:
				Log.Debugf("ingest controller size=%d", sm.ingestManager.Count())
			}
		}
	})

	err := g.Wait()
	Log.Infof("server manager loop done. err=%+v", err)
	return err
}

func (sm *ServerManager) Dispose() {
	sm.once.Do(func() {
		Log.Debug("dispose server manager.")
		sm.disposed.Store(true)

		if sm.rtmpServer != nil {
			sm.rtmpServer.Dispose()
		}
		if sm.edgeServer != nil {
			if err := sm.edgeServer.Dispose(); err != nil {
				Log.Warnf("dispose edge server failed. err=%+v", err)
			}
		}
		if sm.metricsServer != nil {
			_ = sm.metricsServer.Close()
		}
		sm.ingestManager.Dispose()
		sm.closeUpstream()

		sm.mutex.Lock()
		if sm.cancel != nil {
			sm.cancel()
		}
		sm.mutex.Unlock()
	})
}

// ---------------------------------------------------------------------------------------------------------------------

func (sm *ServerManager) Config() *Config {
	return sm.config
}

func (sm *ServerManager) RtmpAddr() net.Addr {
	if sm.rtmpServer == nil {
		return nil
	}
	return sm.rtmpServer.Addr()
}

func (sm *ServerManager) EdgeAddr() net.Addr {
	if sm.edgeServer == nil {
		return nil
	}
	return sm.edgeServer.Addr()
}

func (sm *ServerManager) MetricsAddr() net.Addr {
	if sm.metricsLn == nil {
		return nil
	}
	return sm.metricsLn.Addr()
}

func (sm *ServerManager) listen() error {
	if sm.rtmpServer != nil {
		if err := sm.rtmpServer.Listen(); err != nil {
			return err
		}
	}
	if sm.edgeServer != nil {
		if err := sm.edgeServer.Listen(); err != nil {
			return err
		}
	}
	if sm.metricsServer != nil {
		ln, err := net.Listen("tcp", sm.config.MetricsConfig.Addr)
		if err != nil {
			return err
		}
		sm.metricsLn = ln
		Log.Infof("start metrics server listen. addr=%s", ln.Addr())
	}
	return nil
}

// wrapRunLoop Dispose之后各服务RunLoop返回的关闭错误不算错误
func (sm *ServerManager) wrapRunLoop(name string, err error) error {
	if err == nil || sm.disposed.Load() || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	Log.Errorf("%s server loop break. err=%+v", name, err)
	return err
}

func (sm *ServerManager) initStore() error {
	sc := sm.config.StoreConfig
	switch sc.KvType {
	case KvTypeRedis:
		sm.redisClient = redis.NewClient(&redis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDb,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := sm.redisClient.Ping(ctx).Err(); err != nil {
			return base.WrapUpstream(err, "redis ping")
		}
		sm.kv = store.NewRedisKV(sm.redisClient, sc.RedisPrefix)
		Log.Infof("use redis kv. addr=%s, prefix=%s", sc.RedisAddr, sc.RedisPrefix)
	default:
		sm.kv = store.NewMemoryKV()
		Log.Infof("use memory kv.")
	}

	switch sc.ObjectStoreType {
	case ObjectStoreTypeMemory:
		sm.objects = store.NewMemoryObjectStore()
		Log.Infof("use memory object store.")
	default:
		if err := os.MkdirAll(sc.ObjectStoreRoot, 0777); err != nil {
			return err
		}
		sm.objects = store.NewFslObjectStore(store.ObjectStoreTypeDisk, sc.ObjectStoreRoot)
		Log.Infof("use disk object store. root=%s", sc.ObjectStoreRoot)
	}
	return nil
}

func (sm *ServerManager) initRepository() error {
	if sm.option.Repository != nil {
		sm.repo = sm.option.Repository
		return nil
	}
	dc := sm.config.DatabaseConfig
	switch dc.Type {
	case DatabaseTypePostgres:
		repo, err := model.OpenGormRepository(dc.Dsn, dc.AutoMigrate)
		if err != nil {
			return err
		}
		sm.repo = repo
	default:
		Log.Warnf("use memory repository, rooms and recordings are lost after restart.")
		sm.repo = model.NewMemoryRepository()
	}
	return nil
}

func (sm *ServerManager) modIngestOption(option *ingest.Option) {
	ic := sm.config.IngestConfig
	tc := sm.config.TranscodeConfig
	option.PartTargetMs = ic.PartTargetMs
	option.AudioPartTargetMs = ic.AudioPartTargetMs
	option.SegmentTargetMs = ic.SegmentTargetMs
	option.ResumeWindowMs = ic.ResumeWindowMs
	option.ConnectionTtlMs = ic.ConnectionTtlMs
	option.HeartbeatIntervalMs = ic.HeartbeatIntervalMs
	option.ScreenshotIntervalMs = ic.ScreenshotIntervalMs
	option.ManifestWindow = ic.ManifestWindow
	option.UpstreamAttempts = ic.UpstreamAttempts
	option.UpstreamTimeoutMs = ic.UpstreamTimeoutMs
	option.Upscale, _ = tc.upscale()
	option.FpsCap = tc.FpsCap
	option.Metrics = sm.metrics

	option.TranscoderFactory = sm.option.TranscoderFactory
	if tc.Enable {
		if option.TranscoderFactory == nil {
			ffmpegOption := transcode.FfmpegOption{
				Path:         tc.FfmpegPath,
				VideoEncoder: tc.VideoEncoder,
				AudioEncoder: tc.AudioEncoder,
				Preset:       tc.Preset,
			}
			option.TranscoderFactory = func(sink transcode.Sink, targets []transcode.Target) transcode.Transcoder {
				return transcode.NewFfmpegTranscoder(sink, targets, ffmpegOption)
			}
		}
		option.Screenshotter = transcode.NewFfmpegScreenshotter(tc.FfmpegPath, tc.ScreenshotWidth)
	}
}

func (sm *ServerManager) edgeOption() (edge.ModOption, error) {
	ec := sm.config.EdgeConfig

	var signer *edge.TokenSigner
	if ec.SigningKeyFile != "" {
		pemBytes, err := os.ReadFile(ec.SigningKeyFile)
		if err != nil {
			return nil, err
		}
		if signer, err = edge.LoadTokenSigner(pemBytes); err != nil {
			return nil, fmt.Errorf("load signing key failed. file=%s, err=%w", ec.SigningKeyFile, err)
		}
		Log.Infof("edge signing key loaded. alg=%s", signer.Alg())
	}

	var limiter edge.RateLimiter
	if sm.redisClient != nil && ec.RateLimit > 0 {
		limiter = edge.NewRedisRateLimiter(sm.redisClient, sm.config.StoreConfig.RedisPrefix+"ratelimit:",
			ec.RateLimit, time.Duration(ec.RateLimitWindowMs)*time.Millisecond)
	}

	return func(option *edge.Option) {
		option.SessionTtlMs = ec.SessionTtlMs
		option.BlockingTimeoutMs = ec.BlockingTimeoutMs
		option.MediaWaitMs = ec.MediaWaitMs
		option.PartSegments = ec.PartSegments
		option.TrustedHops = ec.TrustedHops
		option.TrustedHeader = ec.TrustedHeader
		option.DvrBaseUrl = ec.DvrBaseUrl
		option.RateLimit = ec.RateLimit
		option.RateLimitWindowMs = ec.RateLimitWindowMs
		option.RevocationCacheMs = ec.RevocationCacheMs
		option.Signer = signer
		option.Limiter = limiter
		option.Metrics = sm.metrics
	}, nil
}

func (sm *ServerManager) closeUpstream() {
	if sm.redisClient != nil {
		if err := sm.redisClient.Close(); err != nil {
			Log.Warnf("close redis client failed. err=%+v", err)
		}
	}
}
