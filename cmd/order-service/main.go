package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"scm/internal/event"
	"scm/internal/outbox"
	"scm/internal/pkg/bootstrap"
	"scm/internal/pkg/database"
	"scm/internal/pkg/dedup"
	"scm/internal/pkg/logger"
	"scm/internal/pkg/mq"
	"scm/internal/service/order/application"
	"scm/internal/service/order/infrastructure"
	"scm/internal/service/order/interfaces"
	"scm/internal/zookeeper"
)

const (
	serviceName   = "order-service"
	servicePort   = 8081
	consumerGroup = "order-service-group"
)

func main() {
	bootstrap.Init()
	cfg := bootstrap.GetCurrentConfig()
	lg := logger.Ctx(context.Background())

	db, err := database.NewMysqlDB(database.MysqlConfig{
		User:     cfg.Infra.Mysql.User,
		Password: cfg.Infra.Mysql.Password,
		Host:     cfg.Infra.Mysql.Host,
		Port:     cfg.Infra.Mysql.Port,
		Database: cfg.Infra.Mysql.Database,
	})
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to connect mysql")
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Infra.Redis.Addr})

	zkConn, err := zookeeper.Connect(cfg.Infra.Zookeeper.Servers)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to connect zookeeper")
	}
	defer zkConn.Close()

	elector, err := outbox.NewZkElector(zkConn, serviceName)
	if err != nil {
		lg.Fatal().Err(err).Msg("failed to create outbox elector")
	}

	// 订单侧只发订单事件，只消费库存事件。
	transactor := database.NewGormTransactor(db)
	outboxStore := outbox.NewGormStore(db)
	broker := outbox.NewKafkaBroker(cfg.Infra.Kafka.Brokers, event.TopicOrderEvents, event.TopicInventoryEvents)
	defer broker.Close()
	publisher := outbox.NewPublisher(outboxStore, broker, elector)

	orderRepo := infrastructure.NewGormOrderRepository(db)
	orderService := application.NewOrderService(orderRepo, outboxStore, transactor)

	reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, event.TopicInventoryEvents, consumerGroup)
	deduper := dedup.NewRedisDeduper(redisClient, serviceName)
	consumer := interfaces.NewInventoryEventHandler(reader, orderService, deduper)

	handler := interfaces.NewOrderHandler(orderService)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			handler.RegisterRoutes(appCtx.Mux)
		},
		Run: func(ctx context.Context) error {
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error { return publisher.Run(ctx) })
			g.Go(func() error { return consumer.Run(ctx) })
			return g.Wait()
		},
	})
}
