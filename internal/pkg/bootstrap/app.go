// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"nexus/internal/pkg/logger"
	"nexus/internal/pkg/nacos"
	"nexus/internal/pkg/tracing"
	"nexus/internal/pkg/utils"
)

type AppCtx struct {
	Mux   *http.ServeMux
	Nacos *nacos.Client
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	ServiceName      string
	Port             int
	RegisterHandlers func(appCtx AppCtx) // 每个服务注册自己独特的 HTTP 路由

	// Background 是随服务生命周期运行的后台任务（消费者、轮询器等）。
	// ctx 取消后任务必须返回；返回非 nil 错误会触发整个服务关停。
	Background []func(ctx context.Context) error

	// OnShutdown 在收到退出信号后、tracer 关闭前执行，用于释放业务资源。
	OnShutdown func(ctx context.Context)
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	cfg := GetCurrentConfig()

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 服务注册（可选）
	var namingClient *nacos.Client
	var registeredIP string
	if cfg.Infra.Nacos.Enabled {
		namingClient, err = nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to initialize nacos client")
		}

		registeredIP, err = utils.GetOutboundIP()
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to get outbound IP address")
		}
		if err := namingClient.RegisterServiceInstance(info.ServiceName, registeredIP, info.Port); err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to register service with nacos")
		}
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		logger.Logger.Info().Str("service", info.ServiceName).Int("port", info.Port).Msg("✅ HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Fatal().Err(err).Str("addr", server.Addr).Msg("http server failed")
		}
	}()

	// 4. 后台任务
	runCtx, cancelRun := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(runCtx)
	for _, task := range info.Background {
		task := task
		group.Go(func() error { return task(groupCtx) })
	}

	// 任一后台任务失败也走关停流程
	groupDone := make(chan error, 1)
	go func() { groupDone <- group.Wait() }()

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	drained := false
	select {
	case <-quit:
		logger.Logger.Info().Str("service", info.ServiceName).Msg("Shutting down on signal...")
	case err := <-groupDone:
		drained = true
		if err != nil {
			logger.Logger.Error().Err(err).Msg("background task failed, shutting down")
		}
	}
	cancelRun()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 按后进先出的顺序清理
	if namingClient != nil {
		if err := namingClient.DeregisterServiceInstance(info.ServiceName, registeredIP, info.Port); err != nil {
			logger.Logger.Error().Err(err).Msg("Error deregistering from Nacos")
		}
	}

	if info.OnShutdown != nil {
		info.OnShutdown(ctx)
	}

	// 等后台任务退出，但不超过关停窗口
	if !drained {
		select {
		case err := <-groupDone:
			if err != nil && err != context.Canceled {
				logger.Logger.Error().Err(err).Msg("background task exited with error")
			}
		case <-ctx.Done():
			logger.Logger.Warn().Msg("timed out waiting for background tasks")
		}
	}

	if err := tp.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Error shutting down tracer provider")
	}

	if err := server.Shutdown(ctx); err != nil {
		logger.Logger.Error().Err(err).Msg("Error shutting down http server")
	}

	logger.Logger.Info().Str("service", info.ServiceName).Msg("Service gracefully shut down.")
}
