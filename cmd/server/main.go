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
	"github.com/mystlabs/backend/docs"
	"github.com/mystlabs/backend/internal/database"
	mW "github.com/mystlabs/backend/internal/middleware"
	"github.com/mystlabs/backend/internal/services"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger"
)

// @title MYST Ledger API
// @version 1.0
// @description Internal currency ledger and prediction-market settlement engine
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	// Initialize config
	viper.SetConfigFile(".env") // explicitly point to .env file
	viper.AutomaticEnv()        // allow environment variables to override .env

	viper.SetEnvPrefix("")

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

	viper.BindEnv("settlement.fee_rate", "SETTLEMENT_FEE_RATE")
	viper.BindEnv("settlement.points_per_myst", "SETTLEMENT_POINTS_PER_MYST")
	viper.BindEnv("withdrawal.fee_rate", "WITHDRAWAL_FEE_RATE")
	viper.BindEnv("withdrawal.exchange_rate", "WITHDRAWAL_EXCHANGE_RATE")
	viper.BindEnv("withdrawal.min_fiat", "WITHDRAWAL_MIN_FIAT")

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Config file not found, using defaults: %v", err)
	}

	// Initialize Swagger docs
	docs.SwaggerInfo.Title = "MYST Ledger API"
	docs.SwaggerInfo.Description = "Internal currency ledger and prediction-market settlement engine"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.Host = "localhost:8080"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Initialize services
	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerService := services.NewLedgerService(db)
	poolRegistry := services.NewPoolRegistry(db)
	accountService := services.NewAccountService(db, ledgerService, poolRegistry)
	bettingService := services.NewBettingService(db, ledgerService)
	settlementService := services.NewSettlementService(db, redisClient, ledgerService, poolRegistry)
	withdrawalService := services.NewWithdrawalService(db, redisClient, ledgerService, poolRegistry)
	grantService := services.NewGrantService(db, ledgerService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Access-Control-Allow-Origin"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/balance", accountService.GetBalanceHandler)
			r.Get("/transactions", accountService.ListTransactionsHandler)
			r.Get("/pools/{poolId}", accountService.GetPoolBalanceHandler)

			r.Get("/markets/{marketId}", bettingService.GetMarketHandler)
			r.Post("/markets/{marketId}/bets", bettingService.PlaceBetHandler)
			r.Post("/markets/{marketId}/resolve", settlementService.ResolveHandler)

			r.Post("/withdrawals", withdrawalService.RequestWithdrawalHandler)
			r.Get("/withdrawals", withdrawalService.ListWithdrawalsHandler)
			r.Put("/withdrawals/{withdrawalId}/ready", withdrawalService.MarkReadyHandler)
			r.Put("/withdrawals/{withdrawalId}/paid", withdrawalService.MarkPaidHandler)

			r.Post("/admin/grants", grantService.GrantHandler)
		})
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

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
		log.Printf("Server starting on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server stopped")
}
