// Package app wires configuration into a running fulfillment coordinator.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/example/ec-fulfillment/internal/config"
	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/idempotency"
	"github.com/example/ec-fulfillment/internal/infrastructure/kafka"
	"github.com/example/ec-fulfillment/internal/infrastructure/store"
	"github.com/example/ec-fulfillment/internal/payment"
	"github.com/example/ec-fulfillment/internal/records"
	"github.com/example/ec-fulfillment/internal/saga"
	"github.com/example/ec-fulfillment/internal/shipping"
)

// Stores groups the three persistence concerns behind one backend.
type Stores struct {
	Events  store.EventStoreInterface
	Dedup   idempotency.Store
	Records records.Store
	closer  func() error
}

// App is a built coordinator plus the resources it holds.
type App struct {
	Coordinator *saga.Coordinator
	closers     []func() error
}

// Close releases stores and the broker connection.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewLogger returns the structured logger used by the coordinator.
func NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
}

// Build connects storage, the optional Kafka publisher and the providers, and
// returns a ready coordinator.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{}

	var publisher store.Publisher
	if brokers := cfg.Kafka.BrokerList(); len(brokers) > 0 {
		producer := kafka.NewProducer(brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, producer.Close)
		publisher = producer
		log.Printf("[App] Publishing events to Kafka %v topic %s", brokers, cfg.Kafka.Topic)
	}

	stores, err := OpenStores(ctx, cfg.Storage, publisher)
	if err != nil {
		a.Close()
		return nil, err
	}
	if stores.closer != nil {
		a.closers = append(a.closers, stores.closer)
	}

	coord, err := saga.New(cfg.SagaConfig(), saga.Deps{
		Orders:    order.NewService(stores.Events),
		Providers: Providers(cfg),
		Carrier:   Carrier(cfg),
		Dedup:     stores.Dedup,
		Records:   stores.Records,
		Logger:    logger,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Coordinator = coord
	return a, nil
}

// OpenStores opens the backend named by the storage driver.
func OpenStores(ctx context.Context, cfg config.StorageConfig, publisher store.Publisher) (*Stores, error) {
	switch cfg.Driver {
	case "", "memory":
		log.Println("[App] Storage: in-memory (state is lost on restart)")
		return &Stores{
			Events:  store.NewEventStore(publisher),
			Dedup:   idempotency.NewMemoryStore(),
			Records: records.NewMemoryStore(),
		}, nil

	case "dynamodb":
		client, err := dynamoClient(ctx, cfg.Dynamo)
		if err != nil {
			return nil, err
		}
		log.Printf("[App] Storage: DynamoDB (%s, %s, %s)", cfg.Dynamo.EventsTable, cfg.Dynamo.DedupTable, cfg.Dynamo.RecordsTable)
		return &Stores{
			Events:  store.NewDynamoEventStore(client, cfg.Dynamo.EventsTable, publisher),
			Dedup:   store.NewDynamoIdempotencyStore(client, cfg.Dynamo.DedupTable),
			Records: store.NewDynamoPaymentRecords(client, cfg.Dynamo.RecordsTable),
		}, nil

	default:
		dialect, err := store.ParseDialect(cfg.Driver)
		if err != nil {
			return nil, err
		}
		db, err := openSQL(ctx, dialect, cfg.DSN)
		if err != nil {
			return nil, err
		}
		log.Printf("[App] Storage: %s", dialect)
		return &Stores{
			Events:  store.NewSQLEventStore(db, dialect, publisher),
			Dedup:   store.NewSQLIdempotencyStore(db, dialect),
			Records: store.NewSQLPaymentRecords(db, dialect),
			closer:  db.Close,
		}, nil
	}
}

func openSQL(ctx context.Context, dialect store.Dialect, dsn string) (*sql.DB, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	db, err := store.Connect(connectCtx, dialect, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}
	if err := store.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func dynamoClient(ctx context.Context, cfg config.DynamoDBConfig) (*dynamodb.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

// Providers returns the enabled payment providers.
func Providers(cfg *config.Config) payment.Registry {
	timeout := cfg.Saga.ProviderTimeout
	var providers []payment.Provider
	if cfg.Razorpay.Enabled() {
		providers = append(providers, payment.NewRazorpay(payment.RazorpayConfig{
			BaseURL:       cfg.Razorpay.BaseURL,
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			Timeout:       timeout,
		}))
	}
	if cfg.Cashfree.Enabled() {
		providers = append(providers, payment.NewCashfree(payment.CashfreeConfig{
			BaseURL:      cfg.Cashfree.BaseURL,
			ClientID:     cfg.Cashfree.ClientID,
			ClientSecret: cfg.Cashfree.ClientSecret,
			NotifyURL:    cfg.Webhook.CallbackURL,
			Timeout:      timeout,
		}))
	}
	return payment.NewRegistry(providers...)
}

func Carrier(cfg *config.Config) *shipping.Delhivery {
	return shipping.NewDelhivery(shipping.DelhiveryConfig{
		BaseURL:        cfg.Delhivery.BaseURL,
		Token:          cfg.Delhivery.Token,
		OriginPincode:  cfg.Delhivery.OriginPincode,
		PickupLocation: cfg.Delhivery.PickupLocation,
		Timeout:        cfg.Saga.ProviderTimeout,
	})
}
