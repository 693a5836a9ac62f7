package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/vestflow/stream-engine/internal/limits"
	"github.com/vestflow/stream-engine/internal/metrics"
	"github.com/vestflow/stream-engine/internal/store"
	"github.com/vestflow/stream-engine/internal/stream"
)

func main() {
	// Load .env if present; real environments set variables directly.
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Deposit limits ---
	maxPerAsset := decimalEnv("MAX_DEPOSIT_PER_ASSET", decimal.New(1, 24))
	maxTotal := decimalEnv("MAX_DEPOSIT_TOTAL", decimal.New(5, 24))
	limiter := limits.NewDepositLimiter(maxPerAsset, maxTotal)

	// --- Stream service configuration ---
	cfg := stream.Config{
		ProtocolFeeRate: decimalEnv("PROTOCOL_FEE_RATE", stream.DefaultProtocolFeeRate),
		MaxFeeRate:      decimalEnv("MAX_FEE_RATE", stream.DefaultMaxFeeRate),
		MaxSegmentCount: intEnv("MAX_SEGMENT_COUNT", stream.DefaultMaxSegmentCount),
	}

	// --- WebSocket hub ---
	wsHub := stream.NewWSHub()
	go wsHub.Run()

	// --- Stream service ---
	streamSvc := stream.NewService(st, limiter, wsHub, cfg)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"stream-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time stream events.
		r.Get("/ws", wsHub.HandleWS)

		// Stream management.
		r.Get("/streams", streamSvc.ListStreams)
		r.Post("/streams", streamSvc.CreateStream)
		r.Get("/streams/{streamID}", streamSvc.GetStream)
		r.Get("/streams/{streamID}/streamed", streamSvc.GetStreamedAmount)
		r.Get("/streams/{streamID}/status", streamSvc.GetStatus)
		r.Get("/streams/{streamID}/ledger", streamSvc.GetLedger)

		// Value movement.
		r.Post("/streams/{streamID}/withdraw", streamSvc.Withdraw)
		r.Post("/streams/{streamID}/cancel", streamSvc.Cancel)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("stream-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down stream-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("stream-engine stopped")
}

// decimalEnv reads a decimal environment variable, falling back on absent or
// malformed values.
func decimalEnv(key string, fallback decimal.Decimal) decimal.Decimal {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		slog.Warn("invalid decimal env value, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}

// intEnv reads an integer environment variable with a fallback.
func intEnv(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		slog.Warn("invalid integer env value, using default", "key", key, "value", raw)
		return fallback
	}
	return v
}
