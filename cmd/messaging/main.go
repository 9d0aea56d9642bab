package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"sudooom.market.messaging/internal/chat"
	"sudooom.market.messaging/internal/config"
	"sudooom.market.messaging/internal/handler"
	"sudooom.market.messaging/internal/health"
	"sudooom.market.messaging/internal/jwt"
	"sudooom.market.messaging/internal/repository"
	"sudooom.market.messaging/internal/router"
	"sudooom.market.messaging/internal/service"
	"sudooom.market.messaging/internal/transport"
	"sudooom.market.messaging/pkg/snowflake"
)

func main() {
	// 本地开发时从 .env 读取环境变量
	_ = godotenv.Load()

	// 加载配置
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	// 初始化日志
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.App.LogLevel),
	}))
	slog.SetDefault(logger)

	// 创建上下文
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 连接 NATS
	natsClient, err := transport.NewClient(cfg.NATS)
	if err != nil {
		logger.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	logger.Info("Connected to NATS", "url", cfg.NATS.URL)

	// 连接 Redis
	redisClient := connectRedis(cfg.Redis)
	defer redisClient.Close()
	logger.Info("Connected to Redis", "host", cfg.Redis.Host)

	// 连接数据库
	db, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		logger.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL", "host", cfg.Database.Host)

	// 本地 ID 生成器
	sf, err := snowflake.NewNode(cfg.App.NodeID)
	if err != nil {
		logger.Error("Failed to create snowflake node", "error", err)
		os.Exit(1)
	}

	// 初始化服务
	messageRepo := repository.NewMessageRepository(db)
	convRepo := repository.NewConversationRepository(db)

	batcher := service.NewMessageBatcher(db, sf, service.MessageBatcherConfig{
		BatchSize:     cfg.Chat.BatchSize,
		FlushInterval: cfg.Chat.FlushInterval,
	})
	batcher.Start(ctx)

	convIndex := service.NewConversationIndex(redisClient)
	publisher := transport.NewPublisher(natsClient)
	messaging := service.NewMessagingService(messageRepo, convRepo, batcher, convIndex, publisher)

	// 会话引擎管理器
	sessionFactory := func(userId int64) *chat.Session {
		return chat.NewSession(userId, messaging, natsClient, publisher, sf, chat.SessionConfig{
			TypingQuietWindow: cfg.Chat.TypingQuietWindow,
			MaxMessageLength:  cfg.Chat.MaxMessageLength,
		})
	}
	sessions := chat.NewSessionManager(sessionFactory, cfg.Chat.SessionIdleTimeout, cfg.Chat.SessionCheckInterval)

	// JWT
	jwtService := jwt.NewService(cfg.Auth.TokenSecret, cfg.Auth.AccessExpire, cfg.Auth.RefreshExpire)

	// HTTP 路由
	chatHandler := handler.NewChatHandler(sessions, messaging)
	wsHandler := handler.NewWSHandler(sessions)
	engine := router.SetupRouter(cfg, jwtService, chatHandler, wsHandler)

	apiServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: engine,
	}

	go func() {
		logger.Info("API server started", "addr", cfg.HTTP.Addr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", "error", err)
		}
	}()

	// 健康检查 HTTP 服务
	healthChecker := health.NewChecker(natsClient.Conn(), redisClient, db, sessions)
	go startHealthServer(cfg.HTTP.HealthAddr, healthChecker, logger)

	logger.Info("Messaging service started", "name", cfg.App.Name)

	// 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("API server shutdown failed", "error", err)
	}
	if err := sessions.Shutdown(shutdownCtx); err != nil {
		logger.Error("Session manager shutdown failed", "error", err)
	}
	cancel()
	batcher.Stop()

	logger.Info("Messaging service stopped")
}

// startHealthServer 启动健康检查 HTTP 服务
func startHealthServer(addr string, healthChecker *health.Checker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/health", healthChecker)
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if healthChecker.IsHealthy(r.Context()) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("Not Ready"))
		}
	})

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	logger.Info("Health check server started", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Health check server failed", "error", err)
	}
}

// parseLogLevel 解析日志级别
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// connectRedis 连接 Redis
func connectRedis(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// connectDatabase 连接 PostgreSQL
func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}

	poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	poolConfig.MinConns = int32(cfg.MaxIdleConns)
	poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	poolConfig.MaxConnIdleTime = 10 * time.Minute

	return pgxpool.NewWithConfig(ctx, poolConfig)
}
