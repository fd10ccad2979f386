package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	stdlog "log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/patrickmn/go-cache"
	"github.com/username/ledgersync/backend/src/config"
	"github.com/username/ledgersync/backend/src/database"
	"github.com/username/ledgersync/backend/src/handlers"
	"github.com/username/ledgersync/backend/src/logger"
	"github.com/username/ledgersync/backend/src/services"
	"github.com/username/ledgersync/backend/src/store"
	"github.com/username/ledgersync/backend/src/workflow"
	"golang.org/x/time/rate"
)

const (
	statusCacheExpiration      = 15 * time.Minute
	statusCacheCleanupInterval = 30 * time.Minute
)

func proxyHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-Proto") == "https" {
			r.URL.Scheme = "https"
			r.TLS = &tls.ConnectionState{}
		}
		next.ServeHTTP(w, r)
	})
}

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded", "path", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	logger.L.Info("LedgerSync backend server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	database.RunMigrations(config.Cfg.DatabasePath)

	statusCache := cache.New(statusCacheExpiration, statusCacheCleanupInterval)

	storeClient := store.NewClient(config.Cfg.StoreBaseURL, config.Cfg.StoreAuthToken, config.Cfg.StoreRequestTimeout)

	ingestionService := services.NewIngestionService(database.DB, storeClient, services.IngestionConfig{
		BlobPath:      config.Cfg.StoreBlobPath,
		CommitMessage: config.Cfg.CommitMessage,
		FetchRetry: workflow.RetryPolicy{
			MaxAttempts:  config.Cfg.FetchMaxAttempts,
			InitialDelay: config.Cfg.FetchRetryDelay,
			Backoff:      workflow.BackoffLinear,
		},
		CommitRetry: workflow.RetryPolicy{
			MaxAttempts:  config.Cfg.CommitMaxAttempts,
			InitialDelay: config.Cfg.CommitRetryDelay,
			Backoff:      workflow.BackoffLinear,
		},
		ConflictRestarts: config.Cfg.ConflictRestarts,
	})

	resumed, err := ingestionService.Resume(context.Background())
	if err != nil {
		logger.L.Error("Failed to resume incomplete instances", "error", err)
	} else if resumed > 0 {
		logger.L.Info("Resumed incomplete workflow instances", "count", resumed)
	}

	ingestionHandler := handlers.NewIngestionHandler(ingestionService, statusCache)

	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(handlers.ContextualLoggerMiddleware)
	r.Use(proxyHeadersMiddleware)
	r.Use(enableCORS)
	r.Use(rateLimitMiddleware)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"message": "LedgerSync Backend is running"})
	})

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", ingestionHandler.HandleUpload)
		r.Get("/upload/{id}/status", ingestionHandler.HandleStatus)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		stdlog.Fatalf("Failed to start server: %v", err)
	}
}
