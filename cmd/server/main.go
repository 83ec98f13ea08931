package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/repaircoin/backend/internal/audit"
	"github.com/repaircoin/backend/internal/config"
	"github.com/repaircoin/backend/internal/database"
	"github.com/repaircoin/backend/internal/handlers"
	"github.com/repaircoin/backend/internal/metrics"
	mW "github.com/repaircoin/backend/internal/middleware"
	"github.com/repaircoin/backend/internal/services"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	// Load .env into the process environment; variables already set win
	envErr := godotenv.Load()
	viper.AutomaticEnv()

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")
	viper.BindEnv("app.env", "APP_ENV")
	viper.BindEnv("app.port", "PORT")
	viper.SetDefault("app.port", "8080")

	logger, err := newLogger(viper.GetString("app.env"))
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Info("no .env file loaded, using environment and defaults", zap.Error(envErr))
	}

	secret := viper.GetString("jwt.secret_key")
	if secret == "" {
		logger.Fatal("JWT_SECRET_KEY must be set")
	}

	ledgerCfg := config.LoadLedgerConfig()
	rewardCfg := config.LoadRewardConfig()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	ledgerMetrics := metrics.NewLedgerMetrics(registry)
	auditLogger := audit.NewAuditLogger(logger)

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStartup()

	// Initialize services
	var (
		ledger   services.BalanceLedger
		treasury services.TreasuryReader
	)
	switch ledgerCfg.Backend {
	case config.BackendMemory:
		memLedger := services.NewMemoryBalanceLedger(ledgerCfg, auditLogger, ledgerMetrics, logger)
		ledger, treasury = memLedger, memLedger
		logger.Warn("using in-memory ledger; balances are lost on restart")
	default:
		db, err := database.InitDB(startupCtx, logger)
		if err != nil {
			logger.Fatal("failed to initialize database", zap.Error(err))
		}
		defer db.Close()
		ledger = services.NewShopBalanceService(db, ledgerCfg, auditLogger, ledgerMetrics, logger)
		treasury = services.NewTreasuryService(db)
	}

	var (
		idempotency services.IdempotencyStore
		mintQueue   services.MintQueue
	)
	if redisClient := database.InitRedis(startupCtx, logger); redisClient != nil {
		defer redisClient.Close()
		idempotency = services.NewRedisIdempotencyStore(redisClient, rewardCfg.IdempotencyKey)
		mintQueue = services.NewRedisMintQueue(redisClient, rewardCfg.MintQueueKey)
	} else {
		idempotency = services.NewMemoryIdempotencyStore()
		mintQueue = services.NewMemoryMintQueue()
	}

	rewardService := services.NewRewardService(ledger, idempotency, mintQueue, rewardCfg, auditLogger, ledgerMetrics, logger)

	balanceHandler := handlers.NewShopBalanceHandler(ledger)
	rewardHandler := handlers.NewRewardHandler(rewardService)
	treasuryHandler := handlers.NewTreasuryHandler(treasury)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"status":  "healthy",
			"backend": ledgerCfg.Backend,
		})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware([]byte(secret)))

		r.Route("/shops/{shopId}", func(r chi.Router) {
			r.Use(mW.RequireShopAccess)

			r.Get("/balance", balanceHandler.GetBalance)
			r.Get("/balance/history", balanceHandler.GetHistory)
			r.Post("/balance/purchase", balanceHandler.PurchaseBalance)
			r.Post("/rewards", rewardHandler.IssueReward)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(mW.RequireRole(mW.RoleAdmin))

			r.Post("/shops", balanceHandler.CreateShop)
			r.Get("/treasury", treasuryHandler.GetStats)
		})
	})

	port := viper.GetString("app.port")

	// Start server
	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr), zap.String("ledger_backend", ledgerCfg.Backend))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
		return
	}

	logger.Info("server stopped")
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
