package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	matchingapp "github.com/wyfcoding/assetexchange/internal/matching/application"
	matchingdomain "github.com/wyfcoding/assetexchange/internal/matching/domain"
	marketredis "github.com/wyfcoding/assetexchange/internal/matching/infrastructure/persistence/redis"
	matchinghttp "github.com/wyfcoding/assetexchange/internal/matching/interfaces/http"
	orderdomain "github.com/wyfcoding/assetexchange/internal/order/domain"
	ordermysql "github.com/wyfcoding/assetexchange/internal/order/infrastructure/persistence/mysql"
	settlementapp "github.com/wyfcoding/assetexchange/internal/settlement/application"
	settlementdomain "github.com/wyfcoding/assetexchange/internal/settlement/domain"
	"github.com/wyfcoding/assetexchange/internal/settlement/infrastructure/messaging"
	walletapp "github.com/wyfcoding/assetexchange/internal/wallet/application"
	walletdomain "github.com/wyfcoding/assetexchange/internal/wallet/domain"
	walletmysql "github.com/wyfcoding/assetexchange/internal/wallet/infrastructure/persistence/mysql"
	wallethttp "github.com/wyfcoding/assetexchange/internal/wallet/interfaces/http"
	"github.com/wyfcoding/assetexchange/pkg/cache"
	"github.com/wyfcoding/assetexchange/pkg/config"
	"github.com/wyfcoding/assetexchange/pkg/db"
	"github.com/wyfcoding/assetexchange/pkg/idgen"
	"github.com/wyfcoding/assetexchange/pkg/logger"
	"github.com/wyfcoding/assetexchange/pkg/metrics"
	"github.com/wyfcoding/assetexchange/pkg/middleware"
	"github.com/wyfcoding/assetexchange/pkg/mq"
)

var configPath = flag.String("config", "configs/config.toml", "config file path")

func main() {
	flag.Parse()
	ctx := context.Background()

	// 1. 初始化配置
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Logger); err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 3. 初始化 ID 生成器
	if err := idgen.Init(cfg.Trading.SnowflakeNode); err != nil {
		logger.Fatal(ctx, "failed to init id generator", "error", err)
	}

	// 4. 初始化指标
	m := metrics.New(cfg.ServiceName)
	if cfg.Metrics.Enabled {
		go m.ExposeHTTP(cfg.Metrics.Port, cfg.Metrics.Path)
	}

	// 5. 初始化基础设施
	database, err := db.Init(cfg.Database)
	if err != nil {
		logger.Fatal(ctx, "failed to connect database", "error", err)
	}
	defer database.Close()

	// Auto Migrate（仅用于开发方便）
	if cfg.Environment == "dev" {
		if err := database.DB.AutoMigrate(
			&orderdomain.Order{},
			&orderdomain.Trade{},
			&walletdomain.Wallet{},
			&walletdomain.LedgerEntry{},
		); err != nil {
			logger.Error(ctx, "failed to migrate database", "error", err)
		}
	}

	redisCache, err := cache.New(cfg.Redis)
	if err != nil {
		logger.Fatal(ctx, "failed to init redis", "error", err)
	}
	defer redisCache.Close()

	producer := mq.NewProducer(cfg.Kafka)
	defer producer.Close()

	// 6. 初始化仓储
	orderRepo := ordermysql.NewOrderRepository(database.DB)
	tradeRepo := ordermysql.NewTradeRepository(database.DB)
	walletRepo := walletmysql.NewWalletRepository(database.DB)
	ledgerRepo := walletmysql.NewLedgerRepository(database.DB)
	marketData := marketredis.NewMarketDataRepository(redisCache)

	// 7. 初始化应用服务
	walletService := walletapp.NewService(walletRepo, ledgerRepo, database, cfg.Trading.MaxConflictRetries)

	fees, err := settlementdomain.NewFeeSchedule(cfg.Trading.MakerFeeRate, cfg.Trading.TakerFeeRate)
	if err != nil {
		logger.Fatal(ctx, "invalid fee schedule", "error", err)
	}
	notifier := messaging.NewKafkaTradeNotifier(producer, cfg.Kafka.TradeTopic)
	coordinator := settlementapp.NewCoordinator(
		orderRepo, tradeRepo, walletService, database,
		fees, cfg.Trading.FeeUserID, notifier, cfg.Trading.MaxConflictRetries,
	)

	engines := make(map[string]*matchingapp.Engine, len(cfg.Trading.Symbols))
	for _, symbol := range cfg.Trading.Symbols {
		instrument, err := matchingdomain.ParseInstrument(symbol)
		if err != nil {
			logger.Fatal(ctx, "invalid trading symbol", "symbol", symbol, "error", err)
		}
		engines[instrument.Symbol] = matchingapp.NewEngine(
			instrument, coordinator, orderRepo, walletService, database,
			marketData, m, cfg.Trading.QueueSize,
		)
	}
	matchingService := matchingapp.NewService(engines, orderRepo, tradeRepo, walletService, database, marketData, m)

	// 重启后从持久化订单重建订单簿
	if err := matchingService.Recover(ctx); err != nil {
		logger.Fatal(ctx, "failed to recover order books", "error", err)
	}

	// 8. 初始化接口层
	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), middleware.Logging(), middleware.Metrics(m))

	matchinghttp.NewTradingHandler(matchingService).RegisterRoutes(router)
	wallethttp.NewWalletHandler(walletService).RegisterRoutes(router)

	// 9. 启动与优雅关闭
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info(ctx, "HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			logger.Info(ctx, "shutting down...")
		case <-gctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error(ctx, "HTTP shutdown failed", "error", err)
		}

		// 先停 HTTP 再停引擎，保证在途提交处理完毕
		matchingService.Stop()
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
	logger.Info(ctx, "server stopped")
}
