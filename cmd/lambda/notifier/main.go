package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/email"
	"github.com/example/ec-fulfillment/internal/infrastructure/kinesis"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/notification"
)

var notificationHandler *notification.Handler

func init() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("[Lambda Notifier] Failed to load config: %v", err)
	}
	if err := cfg.Notify.Validate(); err != nil {
		log.Fatalf("[Lambda Notifier] Invalid config:\n%v", err)
	}

	mailer := email.NewService(cfg.Notify.SMTPHost, cfg.Notify.SMTPPort, cfg.Notify.FromEmail, cfg.Notify.SMTPUser, cfg.Notify.SMTPPass)
	notificationHandler = notification.NewHandler(mailer, cfg.Notify.OpsEmail)

	log.Printf("[Lambda Notifier] Initialized successfully (SMTP: %s:%s)", cfg.Notify.SMTPHost, cfg.Notify.SMTPPort)
}

func handler(ctx context.Context, kinesisEvent events.KinesisEvent) (events.KinesisEventResponse, error) {
	log.Printf("[Lambda Notifier] Received %d records", len(kinesisEvent.Records))

	return kinesis.HandleBatch(ctx, kinesisEvent, func(ctx context.Context, event *store.Event) error {
		eventJSON, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return notificationHandler.HandleEvent(ctx, []byte(event.AggregateID), eventJSON)
	}), nil
}

func main() {
	lambda.Start(handler)
}
