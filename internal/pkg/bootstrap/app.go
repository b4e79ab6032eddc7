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

	"scm/internal/pkg/logger"
	"scm/internal/pkg/nacos"
	"scm/internal/pkg/tracing"
	"scm/internal/pkg/utils"
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

	// Run 承载服务的后台工作：Kafka 消费者、outbox 发布器等。
	// 收到退出信号后 ctx 会被取消，Run 应当在清理完资源后返回。
	Run func(ctx context.Context) error
}

// StartService 封装了所有微服务的通用启动和优雅关停逻辑。
func StartService(info AppInfo) {
	Init()
	logger.Init(info.ServiceName)
	cfg := GetCurrentConfig()
	lg := logger.Ctx(context.Background())

	// 1. Tracer
	tp, err := tracing.InitTracerProvider(info.ServiceName, cfg.Infra.Jaeger.Endpoint)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to initialize tracer provider")
	}

	// 2. 服务注册
	namingClient, err := nacos.NewNacosClient(cfg.Infra.Nacos.ServerAddrs, cfg.Infra.Nacos.Namespace, cfg.Infra.Nacos.Group)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to initialize nacos client")
	}

	ip, err := utils.GetOutboundIP()
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to get outbound IP address")
	}

	if err := namingClient.RegisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		lg.Fatal().Err(err).Msg("failed to register service with nacos")
	}

	// 3. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Nacos: namingClient})
	}
	server := &http.Server{Addr: ":" + strconv.Itoa(info.Port), Handler: mux}
	go func() {
		lg.Info().Msgf("%s listening on :%d", info.ServiceName, info.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal().Err(err).Msgf("could not listen on %s", server.Addr)
		}
	}()

	// 4. 后台任务
	runCtx, cancelRun := context.WithCancel(context.Background())
	g, gCtx := errgroup.WithContext(runCtx)
	if info.Run != nil {
		g.Go(func() error { return info.Run(gCtx) })
	}

	// 5. 优雅关停
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	lg.Info().Msgf("Shutting down service %s...", info.ServiceName)

	cancelRun()
	if err := g.Wait(); err != nil && err != context.Canceled {
		lg.Error().Err(err).Msg("background tasks exited with error")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// 关停顺序与启动相反 (后进先出)
	if err := namingClient.DeregisterServiceInstance(info.ServiceName, ip, info.Port); err != nil {
		lg.Error().Err(err).Msg("error deregistering from Nacos")
	}

	// 确保所有缓冲的 trace 都被发送出去
	if err := tp.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("error shutting down tracer provider")
	}

	if err := server.Shutdown(ctx); err != nil {
		lg.Error().Err(err).Msg("error shutting down http server")
	}

	lg.Info().Msgf("Service %s gracefully shut down.", info.ServiceName)
}

// getEnv 从环境变量中读取配置。
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
