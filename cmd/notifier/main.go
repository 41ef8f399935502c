package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/email"
	"github.com/example/ec-fulfillment/internal/infrastructure/kafka"
	"github.com/example/ec-fulfillment/internal/notification"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("[Notifier] Failed to load config: %v", err)
	}
	if err := cfg.Notify.Validate(); err != nil {
		log.Fatalf("[Notifier] Invalid config:\n%v", err)
	}
	brokers := cfg.Kafka.BrokerList()
	if len(brokers) == 0 {
		log.Fatal("[Notifier] kafka.brokers is required")
	}

	log.Println("[Notifier] ========================================")
	log.Println("[Notifier] Order Fulfillment - Notification Service")
	log.Println("[Notifier] ========================================")
	log.Printf("[Notifier] Kafka: %v", brokers)
	log.Printf("[Notifier] Topic: %s", cfg.Kafka.Topic)
	log.Printf("[Notifier] Group: %s", cfg.Kafka.GroupID)
	log.Printf("[Notifier] SMTP: %s:%s", cfg.Notify.SMTPHost, cfg.Notify.SMTPPort)
	log.Printf("[Notifier] Ops: %s", cfg.Notify.OpsEmail)

	mailer := email.NewService(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort, cfg.Notify.FromEmail, cfg.Notify.SMTPUser, cfg.Notify.SMTPPass)
	handler := notification.NewHandler(mailer, cfg.Notify.OpsEmail)

	consumer := kafka.NewConsumer(brokers, cfg.Kafka.Topic, cfg.Kafka.GroupID)
	defer consumer.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Println("[Notifier] Starting event consumer...")
		if err := consumer.Consume(ctx, handler.HandleEvent); err != nil && ctx.Err() == nil {
			log.Printf("[Notifier] Consumer error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-done:
	}

	log.Println("[Notifier] Shutting down...")
	cancel()
	<-done
}
