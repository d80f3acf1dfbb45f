// marketd 主程序
// 功能：现货与永续合约撮合、持仓结算、强平与资金费率结算
// 架构：单进程内每个市场一个撮合 Worker，存储可选 MySQL/PostgreSQL 或内存，价格指数来自 Redis，事件经 Kafka 推送
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/wyfcoding/marketcore/internal/market/application"
	"github.com/wyfcoding/marketcore/internal/market/domain"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/messaging"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/persistence/memory"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/persistence/mysql"
	redisrepo "github.com/wyfcoding/marketcore/internal/market/infrastructure/persistence/redis"
	"github.com/wyfcoding/marketcore/internal/market/infrastructure/priceindex"
	"github.com/wyfcoding/marketcore/internal/market/interfaces/consumer"
	httphandler "github.com/wyfcoding/marketcore/internal/market/interfaces/http"
	"github.com/wyfcoding/marketcore/pkg/cache"
	"github.com/wyfcoding/marketcore/pkg/config"
	"github.com/wyfcoding/marketcore/pkg/db"
	"github.com/wyfcoding/marketcore/pkg/idgen"
	"github.com/wyfcoding/marketcore/pkg/logger"
	"github.com/wyfcoding/marketcore/pkg/metrics"
	"github.com/wyfcoding/marketcore/pkg/middleware"
	"github.com/wyfcoding/marketcore/pkg/mq"
	"github.com/wyfcoding/marketcore/pkg/ratelimit"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "configs/marketd/config.toml", "config file path")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "marketd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	// 1. 加载配置
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// 2. 初始化日志
	log, err := logger.Init(cfg.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	logger.Info(ctx, "Starting marketd", "service", cfg.ServiceName, "environment", cfg.Environment)

	checks := make(map[string]httphandler.Check)

	// 3. 初始化存储
	repos, closeStore, err := initRepositories(ctx, cfg, checks)
	if err != nil {
		return err
	}
	defer closeStore()

	// 4. 初始化 Redis 与价格指数
	var (
		publisher consumer.TickPublisher
		index     domain.PriceIndex
		extra     []gin.HandlerFunc
	)
	if cfg.Redis.Enabled {
		redisCache, err := cache.New(cache.Config{
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			MaxPoolSize:  cfg.Redis.MaxPoolSize,
			ConnTimeout:  cfg.Redis.ConnTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize redis: %w", err)
		}
		defer redisCache.Close()
		checks["redis"] = redisCache.Ping

		redisIndex := priceindex.NewRedisIndex(redisCache, cfg.PriceIndex.KeyPrefix)
		publisher, index = redisIndex, redisIndex
		repos.Depth = redisrepo.NewDepthRepository(redisCache, time.Minute)

		if cfg.RateLimit.Enabled {
			limiter := ratelimit.NewRedisRateLimiter(redisCache.Client(), cfg.ServiceName+":ratelimit:")
			extra = append(extra, middleware.GinRateLimit(limiter, ratelimit.Limit{
				Rate:   cfg.RateLimit.Rate,
				Period: time.Second,
				Burst:  max(cfg.RateLimit.Burst, cfg.RateLimit.Rate),
			}))
		}
	} else {
		static := priceindex.NewStaticIndex()
		publisher, index = static, static
		logger.Warn(ctx, "Redis disabled, using in-process price index")
	}
	index = priceindex.NewBreakerIndex(index, priceindex.BreakerConfig{
		Name:      cfg.ServiceName + "-price-index",
		Threshold: cfg.PriceIndex.BreakerThreshold,
		Timeout:   cfg.PriceIndex.BreakerTimeout,
	})

	// 5. 初始化指标与 ID 生成器
	m := metrics.New(cfg.ServiceName)
	ids, err := idgen.NewSnowflake(cfg.Engine.NodeID)
	if err != nil {
		return fmt.Errorf("failed to initialize id generator: %w", err)
	}

	liqCfg, err := liquidationConfig(cfg.Liquidation)
	if err != nil {
		return err
	}

	// 6. 初始化 Kafka
	var (
		notifier  domain.Notifier = domain.NopNotifier{}
		kafkaNoti *messaging.KafkaNotifier
		producer  *mq.KafkaProducer
		kafkaCons *mq.KafkaConsumer
	)
	if cfg.Kafka.Enabled {
		kcfg := mq.KafkaConfig{
			Brokers:        cfg.Kafka.Brokers,
			GroupID:        cfg.Kafka.GroupID,
			SessionTimeout: cfg.Kafka.SessionTimeout,
			MaxRetries:     cfg.Kafka.MaxRetries,
			RetryBackoff:   cfg.Kafka.RetryBackoff,
		}
		producer = mq.NewProducer(kcfg)
		defer producer.Close()
		kafkaNoti = messaging.NewKafkaNotifier(producer, cfg.Kafka.NotificationTopic, cfg.Kafka.BufferSize, m, log)
		notifier = kafkaNoti
		kafkaCons = mq.NewConsumer(kcfg, cfg.Kafka.MarkPriceTopic)
		defer kafkaCons.Close()
	}

	// 7. 初始化应用服务
	services := application.NewServices(application.Dependencies{
		Repos:      repos,
		IDs:        ids,
		Notifier:   notifier,
		PriceIndex: index,
		Metrics:    m,
		Logger:     log,
		Matching: application.MatchingConfig{
			QueueSize:     cfg.Engine.QueueSize,
			SnapshotDepth: cfg.Engine.SnapshotDepth,
		},
		Liquidation: liqCfg,
	})

	if err := services.Matching.Recover(ctx); err != nil {
		services.Stop()
		return fmt.Errorf("failed to recover order books: %w", err)
	}

	// 8. 创建服务器
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = m.Handler()
	}
	httpServer := createHTTPServer(cfg, m, httphandler.NewHandler(services.Matching, checks, metricsHandler).WithMetricsPath(cfg.Metrics.Path), extra...)
	grpcServer, healthServer := createGRPCServer()

	// 9. 启动后台任务与服务器
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return services.Liquidation.Run(gctx, cfg.Liquidation.SweepInterval)
	})
	g.Go(func() error {
		return services.Funding.Run(gctx, cfg.Funding.CheckInterval)
	})
	if kafkaCons != nil {
		dlq := mq.NewDeadLetterQueue(producer, cfg.Kafka.MarkPriceTopic+".dlq")
		priceConsumer := consumer.NewPriceConsumer(kafkaCons, publisher, services.Positions, dlq, consumer.Config{
			MaxTries:       uint(max(cfg.Kafka.MaxRetries, 1)),
			InitialBackoff: time.Duration(cfg.Kafka.RetryBackoff) * time.Millisecond,
		}, log)
		g.Go(func() error { return priceConsumer.Run(gctx) })
	}
	g.Go(func() error {
		logger.Info(gctx, "Starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr())
		if err != nil {
			return fmt.Errorf("failed to listen on grpc address: %w", err)
		}
		logger.Info(gctx, "Starting gRPC server", "addr", cfg.GRPC.Addr())
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	// 10. 优雅关停
	g.Go(func() error {
		<-gctx.Done()
		logger.Info(context.Background(), "Shutting down marketd")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error(shutdownCtx, "HTTP server shutdown error", "error", err)
		}
		grpcServer.GracefulStop()
		return nil
	})

	err = g.Wait()
	services.Stop()
	if kafkaNoti != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if cerr := kafkaNoti.Close(closeCtx); cerr != nil {
			logger.Error(closeCtx, "Failed to flush notifications", "error", cerr)
		}
	}
	if err != nil {
		return err
	}
	logger.Info(context.Background(), "marketd stopped")
	return nil
}

// initRepositories 按驱动选择存储，返回的关闭函数总是非空
func initRepositories(ctx context.Context, cfg *config.Config, checks map[string]httphandler.Check) (application.Repositories, func(), error) {
	if cfg.Database.Driver == "memory" {
		store := memory.NewStore()
		logger.Warn(ctx, "Using in-memory store, state is lost on restart")
		return application.Repositories{
			Tx:           store,
			Currencies:   store.Currencies(),
			Markets:      store.Markets(),
			Orders:       store.Orders(),
			Trades:       store.Trades(),
			Positions:    store.Positions(),
			Funding:      store.Funding(),
			Liquidations: store.Liquidations(),
			Depth:        store.Depth(),
		}, func() {}, nil
	}

	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		return application.Repositories{}, nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	closeDB := func() {
		if err := database.Close(); err != nil {
			logger.Error(context.Background(), "Failed to close database", "error", err)
		}
	}
	checks["database"] = database.Ping

	store := mysql.NewStore(database)
	if cfg.Database.AutoMigrate {
		if err := store.AutoMigrate(ctx); err != nil {
			closeDB()
			return application.Repositories{}, nil, fmt.Errorf("failed to migrate schema: %w", err)
		}
	}
	return application.Repositories{
		Tx:           store,
		Currencies:   store.Currencies(),
		Markets:      store.Markets(),
		Orders:       store.Orders(),
		Trades:       store.Trades(),
		Positions:    store.Positions(),
		Funding:      store.Funding(),
		Liquidations: store.Liquidations(),
	}, closeDB, nil
}

func liquidationConfig(c config.LiquidationConfig) (application.LiquidationConfig, error) {
	var out application.LiquidationConfig
	for _, f := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"fee_rate", c.FeeRate, &out.FeeRate},
		{"slippage", c.Slippage, &out.Slippage},
		{"partial_ratio", c.PartialRatio, &out.PartialRatio},
	} {
		if f.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return out, fmt.Errorf("invalid liquidation.%s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return out, nil
}

// createHTTPServer 创建运维 HTTP 服务器
func createHTTPServer(cfg *config.Config, m *metrics.Metrics, handler *httphandler.Handler, extra ...gin.HandlerFunc) *http.Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.GinRecovery())
	router.Use(middleware.GinLogging())
	router.Use(middleware.GinMetrics(m))
	router.Use(extra...)
	handler.RegisterRoutes(router)

	return &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
}

// createGRPCServer 创建 gRPC 服务器，注册健康检查与反射
func createGRPCServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			middleware.GRPCRecoveryInterceptor(),
			middleware.GRPCLoggingInterceptor(),
		),
	)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(server, healthServer)
	reflection.Register(server)
	return server, healthServer
}
