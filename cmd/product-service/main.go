// cmd/product-service/main.go
package main

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel"

	"nexus/internal/pkg/bootstrap"
	"nexus/internal/pkg/logger"
	"nexus/internal/pkg/mq"
	"nexus/internal/pkg/redis"
	"nexus/internal/pkg/zookeeper"
	"nexus/internal/service/product/application"
	"nexus/internal/service/product/infrastructure"
	"nexus/internal/service/product/interfaces"
)

const serviceName = "product-service"

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	brokers := strings.Split(cfg.Infra.Kafka.Brokers, ",")

	// 1. 基础设施
	db, err := infrastructure.NewMysqlDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to connect to mysql")
	}

	redisClient, err := redis.NewClient(cfg.Infra.Redis.Addrs)
	if err != nil {
		logger.Logger.Fatal().Err(err).Msg("failed to initialize redis client")
	}

	// 2. 仓储 / 事务边界 / Saga
	tracer := otel.Tracer(serviceName)
	uow := infrastructure.NewGormUnitOfWork(db)
	outboxRepo := infrastructure.NewGormOutboxRepository(db)
	saga := application.NewStockSagaService(uow, tracer)

	// 3. Outbox relay（可选的 ZooKeeper 单实例互斥）
	publisher := infrastructure.NewKafkaPublisher(brokers)
	relay := infrastructure.NewOutboxRelay(
		outboxRepo,
		publisher,
		tracer,
		cfg.App.Outbox.PollInterval.Std(),
		cfg.App.Outbox.BatchSize,
		cfg.App.Outbox.PublishTimeout.Std(),
	)
	if cfg.Infra.Zookeeper.Enabled {
		zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers, 10*time.Second)
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to connect to zookeeper")
		}
		lock, err := zookeeper.NewDistributedLock(zkConn, "outbox-relay")
		if err != nil {
			logger.Logger.Fatal().Err(err).Msg("failed to create relay leader lock")
		}
		relay.WithLeaderLock(lock)
	}

	// 4. 入站消费者
	guard := interfaces.NewIdempotencyGuard(redisClient, cfg.App.Idempotency.TTL.Std())

	orderReader := mq.NewKafkaReader(brokers, cfg.App.Consumer.OrdersTopic, cfg.App.Consumer.GroupID)
	orderConsumer := interfaces.NewOrderConsumerAdapter(orderReader, saga, guard, tracer)

	paymentReader := mq.NewKafkaReader(brokers, cfg.App.Consumer.PaymentsTopic, cfg.App.Consumer.GroupID)
	paymentConsumer := interfaces.NewPaymentConsumerAdapter(paymentReader, saga, guard, tracer)

	stockHandler := interfaces.NewStockHandler(outboxRepo)

	// 5. 启动
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        cfg.Server.Port,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			stockHandler.RegisterRoutes(appCtx.Mux)
		},
		Background: []func(ctx context.Context) error{
			orderConsumer.Run,
			paymentConsumer.Run,
			relay.Run,
		},
		OnShutdown: func(ctx context.Context) {
			orderConsumer.Stop(ctx)
			paymentConsumer.Stop(ctx)
			if err := publisher.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("failed to close kafka publisher")
			}
			if err := redisClient.Close(); err != nil {
				logger.Logger.Error().Err(err).Msg("failed to close redis client")
			}
		},
	})
}
