package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"taskhub/config"
	"taskhub/internal/app"
	"taskhub/internal/engine"
	"taskhub/internal/notify"
	"taskhub/internal/prefs"
	"taskhub/internal/repository"
	"taskhub/internal/session"
	"taskhub/internal/store"
	"taskhub/pkg/db"
	"taskhub/pkg/logger"
	"taskhub/pkg/mq"
	"taskhub/pkg/redis"
)

func main() {
	cfg := config.Load()

	log := logger.NewLogger()
	defer log.Sync()

	log.Info("Starting taskhub...",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("db_host", cfg.DB.Host),
		zap.String("metrics_port", cfg.Metrics.Port),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// DB
	dbConn, err := db.NewConnection(cfg.DB, log)
	if err != nil {
		log.Fatal("Failed to init DB", zap.Error(err))
	}
	defer dbConn.Close()

	userRepo := repository.NewUserRepository(dbConn)
	if err := userRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to ensure users schema", zap.Error(err))
	}

	// 任务存储
	var taskStore store.TaskStore
	switch cfg.Store.Driver {
	case "memory":
		taskStore = store.NewMemoryStore(log)
		log.Info("Using in-memory task store")
	default:
		pgStore := store.NewPostgresStore(dbConn, log)
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatal("Failed to ensure tasks schema", zap.Error(err))
		}
		taskStore = pgStore
	}

	// Redis（主题偏好；不可达时降级为内存）
	rdb := redis.NewRedisClient(cfg.Redis)
	prefStore := prefs.NewStore(rdb, log)

	// MQ（提醒外发；未配置或连接失败时跳过外发）
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			log.Warn("Reminder fan-out disabled", zap.Error(err))
			publisher = nil
		} else {
			defer publisher.Close()
		}
	}
	notifier := notify.NewPublisher(publisher, log)

	// 会话
	provider := session.NewCredentialsProvider(userRepo, cfg.JWT.Secret, 24*time.Hour, log)
	sessionManager := session.NewManager(provider, log)

	// 引擎与协调器
	taskEngine := engine.NewEngine(taskStore, log)
	coordinator := app.New(sessionManager, taskStore, taskEngine, notifier, log)
	coordinator.Start(ctx)
	defer coordinator.Close()

	// Metrics + health
	go serveMetrics(cfg.Metrics.Port, log)

	// 启动登录
	if cfg.Auth.Email != "" {
		login := sessionManager.Login
		if cfg.Auth.Register {
			login = sessionManager.Register
		}
		if err := login(ctx, cfg.Auth.Email, cfg.Auth.Password); err != nil {
			log.Error("Startup login failed",
				zap.Error(err),
				zap.String("auth_error", sessionManager.AuthError()),
			)
		} else if identity := sessionManager.Current(); identity != nil {
			theme := prefStore.Get(ctx, identity.ID)
			log.Info("Logged in",
				zap.String("display_name", identity.DisplayName),
				zap.String("theme", string(theme)),
			)
		}
	}

	<-ctx.Done()
	log.Info("Shutting down taskhub...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sessionManager.Logout(shutdownCtx); err != nil {
		log.Warn("Logout on shutdown failed", zap.Error(err))
	}
}

func serveMetrics(port string, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	log.Info("Metrics server listening", zap.String("port", port))
	// 指标端口失败不致命：核心数据流不依赖它
	if err := http.ListenAndServe(port, mux); err != nil {
		log.Error("Metrics server failed", zap.Error(err))
	}
}
