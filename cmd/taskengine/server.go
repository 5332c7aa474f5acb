package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/taskengine"
	"github.com/BaSui01/taskengine/api/handlers"
	"github.com/BaSui01/taskengine/config"
	"github.com/BaSui01/taskengine/internal/server"
	"github.com/BaSui01/taskengine/internal/telemetry"
	"github.com/BaSui01/taskengine/internal/tlsutil"
)

// =============================================================================
// 🖥️ Server
// =============================================================================

// Server 组合运行时、API 端口与 metrics 端口
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	runtime   *taskengine.Runtime
	telemetry *telemetry.Providers
	registry  *prometheus.Registry
	handler   http.Handler

	httpManager    *server.Manager
	metricsManager *server.Manager

	// 限流器后台清理的生命周期
	limiterCtx    context.Context
	limiterCancel context.CancelFunc
}

// NewServer 初始化全部组件；失败时已创建的资源会被释放
func NewServer(cfg *config.Config, logger *zap.Logger) (_ *Server, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	s.limiterCtx, s.limiterCancel = context.WithCancel(context.Background())
	defer func() {
		if err != nil {
			_ = s.release(context.Background())
		}
	}()

	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s.telemetry, err = telemetry.Init(cfg.Telemetry, Version, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	s.runtime, err = taskengine.New(cfg,
		taskengine.WithLogger(logger),
		taskengine.WithRegisterer(s.registry),
	)
	if err != nil {
		return nil, fmt.Errorf("init runtime: %w", err)
	}

	s.handler, err = s.buildHandler()
	if err != nil {
		return nil, err
	}

	apiCfg := server.DefaultConfig()
	apiCfg.Name = "api"
	apiCfg.Addr = fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	apiCfg.ReadTimeout = cfg.Server.ReadTimeout
	apiCfg.WriteTimeout = cfg.Server.WriteTimeout
	apiCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	if cfg.Server.TLSCertFile != "" && cfg.Server.TLSKeyFile != "" {
		apiCfg.TLSConfig, err = tlsutil.ServerTLSConfig(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load TLS certificate: %w", err)
		}
	}
	s.httpManager = server.NewManager(s.handler, apiCfg, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{Registry: s.registry}))
	metricsCfg := server.DefaultConfig()
	metricsCfg.Name = "metrics"
	metricsCfg.Addr = fmt.Sprintf(":%d", cfg.Server.MetricsPort)
	metricsCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	s.metricsManager = server.NewManager(metricsMux, metricsCfg, logger)

	return s, nil
}

// buildHandler 注册路由并套上中间件链
func (s *Server) buildHandler() (http.Handler, error) {
	mux := http.NewServeMux()

	health := handlers.NewHealthHandler(s.logger).WithVersion(Version)
	health.RegisterCheck(handlers.NewStoreHealthCheck(s.runtime.Ping))
	if s.runtime.RedisEnabled() {
		health.RegisterCheck(handlers.NewRedisHealthCheck(s.runtime.RedisPing))
	}
	health.Register(mux, Version, BuildTime, GitCommit)

	handlers.NewTaskHandler(s.runtime.Engine, s.logger).Register(mux)

	jwtAuth, err := JWTAuth(s.cfg.Auth.JWT, s.logger)
	if err != nil {
		return nil, err
	}
	var apiKeyAuth Middleware
	if jwtAuth == nil {
		apiKeyAuth = APIKeyAuth(s.cfg.Auth.APIKeys, s.logger)
	}

	return Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.runtime.Metrics),
		RequestLogger(s.logger),
		BodyLimit(s.cfg.Server.MaxBodyBytes),
		jwtAuth,
		apiKeyAuth,
		RateLimiter(s.limiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
	), nil
}

// =============================================================================
// 🚀 运行与关闭
// =============================================================================

// Run 阻塞直到 ctx 取消或任一端口异常退出，随后释放全部资源
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting servers",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Strings("backends", s.runtime.Engine.Backends()),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.httpManager.Run(gctx) })
	g.Go(func() error { return s.metricsManager.Run(gctx) })
	runErr := g.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout())
	defer cancel()
	return errors.Join(runErr, s.release(shutdownCtx))
}

func (s *Server) release(ctx context.Context) error {
	s.limiterCancel()
	var errs []error
	if s.runtime != nil {
		errs = append(errs, s.runtime.Close())
	}
	if s.telemetry != nil {
		errs = append(errs, s.telemetry.Shutdown(ctx))
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("shutdown failed", zap.Error(err))
		return err
	}
	s.logger.Info("all services stopped")
	return nil
}

func (s *Server) shutdownTimeout() time.Duration {
	if s.cfg.Server.ShutdownTimeout > 0 {
		return s.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}
