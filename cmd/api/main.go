package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/example/ec-fulfillment/internal/api"
	"github.com/example/ec-fulfillment/internal/app"
	"github.com/example/ec-fulfillment/internal/auth"
	"github.com/example/ec-fulfillment/internal/config"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("[API] Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[API] Invalid config:\n%v", err)
	}

	log.Println("[API] ========================================")
	log.Println("[API] Order Fulfillment - Payment & Shipping Saga")
	log.Println("[API] ========================================")
	log.Printf("[API] Storage: %s", cfg.Storage.Driver)
	log.Printf("[API] Default provider: %s", cfg.Saga.DefaultProvider)
	log.Printf("[API] Intent TTL: %s, auto book: %v", cfg.Saga.IntentTTL, cfg.Saga.AutoBook)

	application, err := app.Build(ctx, cfg, app.NewLogger())
	if err != nil {
		log.Fatalf("[API] Failed to start: %v", err)
	}
	defer application.Close()
	coord := application.Coordinator

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		coord.RunSweeper(ctx, cfg.Saga.SweepInterval)
	}()

	operator := auth.Operator{
		Username:     cfg.Auth.OperatorUsername,
		PasswordHash: cfg.Auth.OperatorPasswordHash,
	}
	operatorTokens := auth.NewOperatorService(cfg.Auth.OperatorJWTSecret, cfg.Auth.OperatorTokenTTL)

	router := api.NewRouter(api.RouterConfig{
		Handlers:       api.NewHandlers(coord),
		Auth:           api.NewAuthHandlers(operator, operatorTokens),
		Customers:      auth.NewSupabaseVerifier(cfg.Auth.SupabaseJWTSecret),
		Operators:      operatorTokens,
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigin:  cfg.Server.AllowedOrigin,
	})

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Println("[API] ========================================")
		log.Printf("[API] Server started on :%s", cfg.Server.Port)
		log.Println("[API] ========================================")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			log.Fatalf("[API] Server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Println("[API] Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[API] Shutdown error: %v", err)
	}

	cancel() // stop the sweeper
	wg.Wait()
	coord.Wait() // let deferred bookings finish
	log.Println("[API] Stopped")
}
