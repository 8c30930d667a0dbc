package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata" // 容器镜像里不一定有时区数据

	"consignsystem/internal/config"
	"consignsystem/internal/handler"
	"consignsystem/internal/infrastructure/authority"
	"consignsystem/internal/infrastructure/cache"
	"consignsystem/internal/infrastructure/database"
	"consignsystem/internal/infrastructure/logger"
	"consignsystem/internal/infrastructure/mq"
	"consignsystem/internal/job"
	"consignsystem/internal/repository"
	"consignsystem/internal/service"
	"consignsystem/pkg/idgen"

	"go.uber.org/zap"
)

func main() {
	configPath := os.Getenv("CONSIGN_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
	}
	cfg := config.LoadConfig(configPath)

	log := logger.New(&cfg.Log)
	defer func() { _ = log.Sync() }()

	if err := idgen.SetNode(cfg.Server.NodeID); err != nil {
		log.Fatal("初始化 ID 生成器失败", zap.Error(err))
	}

	db := database.InitMySQL(&cfg.MySQL, cfg.Log.SQLLevel, log)
	redisClient := cache.InitRedis(&cfg.Redis, log)
	defer redisClient.Close()

	publisher, err := mq.InitKafka(&cfg.Kafka)
	if err != nil {
		log.Fatal("初始化 Kafka 生产者失败", zap.Error(err))
	}
	defer publisher.Close()

	authorityClient, err := authority.NewClient(&cfg.Authority, authority.WithLogger(log))
	if err != nil {
		log.Fatal("初始化外部机构客户端失败", zap.Error(err))
	}

	outboxRepo := repository.NewOutboxRepository(db)
	auditRecorder := service.NewOutboxAuditRecorder(outboxRepo, cfg.Kafka.Topic.Audit, log)
	marginService := service.NewMarginService(db, cfg, authorityClient, service.WithLogger(log))
	consignmentService := service.NewConsignmentService(db, redisClient, cfg, marginService, auditRecorder, service.WithLogger(log))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outboxSender := job.NewOutboxSender(outboxRepo, publisher, cfg.Business.MaxRetryCount, log)
	go outboxSender.Start(ctx)

	router := handler.SetupRouter(handler.NewHandler(marginService, consignmentService, log), log, cfg.Server.Mode)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("服务启动", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("服务启动失败", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("正在关闭服务...")

	// 先停 HTTP，再停后台任务，保证最后一批审计事件能写入 outbox
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("服务关闭异常", zap.Error(err))
	}

	outboxSender.Stop()
	cancel()

	log.Info("服务已关闭")
}
