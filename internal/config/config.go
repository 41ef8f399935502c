// Package config holds the service configuration. Values come from defaults,
// an optional YAML file and the environment, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/ec-fulfillment/internal/domain/order"
	"github.com/example/ec-fulfillment/internal/retry"
	"github.com/example/ec-fulfillment/internal/saga"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Saga      SagaConfig      `mapstructure:"saga"`
	Razorpay  RazorpayConfig  `mapstructure:"razorpay"`
	Cashfree  CashfreeConfig  `mapstructure:"cashfree"`
	Delhivery DelhiveryConfig `mapstructure:"delhivery"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	AllowedOrigin  string        `mapstructure:"allowed_origin"`
}

// StorageConfig selects one backend for events, dedup keys and payment
// records. Driver is memory, postgres, sqlite or dynamodb.
type StorageConfig struct {
	Driver string         `mapstructure:"driver"`
	DSN    string         `mapstructure:"dsn"`
	Dynamo DynamoDBConfig `mapstructure:"dynamodb"`
}

type DynamoDBConfig struct {
	Region       string `mapstructure:"region"`
	Endpoint     string `mapstructure:"endpoint"`
	EventsTable  string `mapstructure:"events_table"`
	DedupTable   string `mapstructure:"dedup_table"`
	RecordsTable string `mapstructure:"records_table"`
}

type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
	GroupID string `mapstructure:"group_id"`
}

// BrokerList splits the comma separated broker list.
func (k KafkaConfig) BrokerList() []string {
	var out []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}

type SagaConfig struct {
	Currency               string        `mapstructure:"currency"`
	DefaultProvider        string        `mapstructure:"default_provider"`
	IntentTTL              time.Duration `mapstructure:"intent_ttl"`
	DedupRetention         time.Duration `mapstructure:"dedup_retention"`
	ClaimLease             time.Duration `mapstructure:"claim_lease"`
	ProviderTimeout        time.Duration `mapstructure:"provider_timeout"`
	AutoBook               bool          `mapstructure:"auto_book"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
	SweepBatch             int           `mapstructure:"sweep_batch"`
	DefaultItemWeightGrams int           `mapstructure:"default_item_weight_grams"`
	Retry                  RetryConfig   `mapstructure:"retry"`
}

type RetryConfig struct {
	Base        time.Duration `mapstructure:"base"`
	Cap         time.Duration `mapstructure:"cap"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type RazorpayConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	KeyID         string `mapstructure:"key_id"`
	KeySecret     string `mapstructure:"key_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Enabled reports whether any Razorpay credential is set.
func (r RazorpayConfig) Enabled() bool {
	return r.KeyID != "" || r.KeySecret != ""
}

type CashfreeConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

func (c CashfreeConfig) Enabled() bool {
	return c.ClientID != "" || c.ClientSecret != ""
}

type DelhiveryConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	Token          string `mapstructure:"token"`
	OriginPincode  string `mapstructure:"origin_pincode"`
	PickupLocation string `mapstructure:"pickup_location"`
}

type AuthConfig struct {
	// SupabaseJWTSecret verifies customer access tokens (HS256).
	SupabaseJWTSecret    string        `mapstructure:"supabase_jwt_secret"`
	OperatorJWTSecret    string        `mapstructure:"operator_jwt_secret"`
	OperatorUsername     string        `mapstructure:"operator_username"`
	OperatorPasswordHash string        `mapstructure:"operator_password_hash"`
	OperatorTokenTTL     time.Duration `mapstructure:"operator_token_ttl"`
}

type NotifyConfig struct {
	SMTPHost  string `mapstructure:"smtp_host"`
	SMTPPort  string `mapstructure:"smtp_port"`
	SMTPUser  string `mapstructure:"smtp_user"`
	SMTPPass  string `mapstructure:"smtp_pass"`
	FromEmail string `mapstructure:"from_email"`
	OpsEmail  string `mapstructure:"ops_email"`
}

// Validate checks the settings the notifier needs; the API does not send mail.
func (n NotifyConfig) Validate() error {
	var errs []error
	if n.SMTPHost == "" {
		errs = append(errs, errors.New("notify.smtp_host is required"))
	}
	if n.FromEmail == "" {
		errs = append(errs, errors.New("notify.from_email is required"))
	}
	if n.SMTPUser != "" && n.SMTPPass == "" {
		errs = append(errs, errors.New("notify.smtp_pass is required when smtp_user is set"))
	}
	return errors.Join(errs...)
}

type WebhookConfig struct {
	// CallbackURL is registered with providers that take a per-order notify URL.
	CallbackURL string `mapstructure:"callback_url"`
}

func DefaultConfig() *Config {
	sc := saga.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Port:           "8080",
			RequestTimeout: 60 * time.Second,
			AllowedOrigin:  "*",
		},
		Storage: StorageConfig{
			Driver: "memory",
			Dynamo: DynamoDBConfig{
				Region:       "ap-south-1",
				EventsTable:  "fulfillment-events",
				DedupTable:   "fulfillment-dedup",
				RecordsTable: "fulfillment-payment-records",
			},
		},
		Kafka: KafkaConfig{
			Topic:   "order-events",
			GroupID: "fulfillment-notifier",
		},
		Saga: SagaConfig{
			Currency:               sc.Currency,
			DefaultProvider:        string(sc.DefaultProvider),
			IntentTTL:              sc.IntentTTL,
			DedupRetention:         sc.DedupRetention,
			ClaimLease:             sc.ClaimLease,
			ProviderTimeout:        sc.ProviderTimeout,
			AutoBook:               sc.AutoBook,
			SweepInterval:          time.Minute,
			SweepBatch:             sc.SweepBatch,
			DefaultItemWeightGrams: sc.DefaultItemWeightGrams,
			Retry: RetryConfig{
				Base:        sc.Retry.Base,
				Cap:         sc.Retry.Cap,
				MaxAttempts: sc.Retry.MaxAttempts,
			},
		},
		Razorpay: RazorpayConfig{BaseURL: "https://api.razorpay.com"},
		Cashfree: CashfreeConfig{BaseURL: "https://api.cashfree.com/pg"},
		Delhivery: DelhiveryConfig{
			BaseURL: "https://track.delhivery.com",
		},
		Auth: AuthConfig{
			OperatorUsername: "ops",
			OperatorTokenTTL: 8 * time.Hour,
		},
		Notify: NotifyConfig{
			SMTPPort:  "587",
			FromEmail: "noreply@example.com",
		},
	}
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	var errs []error

	switch c.Storage.Driver {
	case "memory", "dynamodb":
	case "postgres", "sqlite":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("storage.dsn is required for driver %s", c.Storage.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	provider, err := order.ParseProvider(c.Saga.DefaultProvider)
	if err != nil {
		errs = append(errs, fmt.Errorf("saga.default_provider: %w", err))
	}
	if provider == order.ProviderRazorpay || c.Razorpay.Enabled() {
		if c.Razorpay.KeyID == "" || c.Razorpay.KeySecret == "" {
			errs = append(errs, errors.New("razorpay.key_id and razorpay.key_secret are required"))
		}
		if c.Razorpay.WebhookSecret == "" {
			errs = append(errs, errors.New("razorpay.webhook_secret is required"))
		}
	}
	if provider == order.ProviderCashfree || c.Cashfree.Enabled() {
		if c.Cashfree.ClientID == "" || c.Cashfree.ClientSecret == "" {
			errs = append(errs, errors.New("cashfree.client_id and cashfree.client_secret are required"))
		}
	}

	if c.Delhivery.Token == "" {
		errs = append(errs, errors.New("delhivery.token is required"))
	}
	if c.Delhivery.PickupLocation == "" {
		errs = append(errs, errors.New("delhivery.pickup_location is required"))
	}

	if len(c.Auth.SupabaseJWTSecret) < 32 {
		errs = append(errs, errors.New("auth.supabase_jwt_secret must be at least 32 characters"))
	}
	if len(c.Auth.OperatorJWTSecret) < 32 {
		errs = append(errs, errors.New("auth.operator_jwt_secret must be at least 32 characters"))
	}

	if c.Saga.ProviderTimeout <= 0 {
		errs = append(errs, errors.New("saga.provider_timeout must be positive"))
	}
	if c.Saga.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("saga.retry.max_attempts must be at least 1"))
	}
	if budget := c.SagaConfig().Retry.Budget(c.Saga.ProviderTimeout); c.Server.RequestTimeout > 0 && c.Server.RequestTimeout <= budget {
		errs = append(errs, fmt.Errorf("server.request_timeout %s must exceed the provider retry budget %s", c.Server.RequestTimeout, budget))
	}

	return errors.Join(errs...)
}

// SagaConfig converts the saga section into coordinator settings.
func (c *Config) SagaConfig() saga.Config {
	provider, _ := order.ParseProvider(c.Saga.DefaultProvider)
	return saga.Config{
		Currency:        c.Saga.Currency,
		DefaultProvider: provider,
		IntentTTL:       c.Saga.IntentTTL,
		DedupRetention:  c.Saga.DedupRetention,
		ClaimLease:      c.Saga.ClaimLease,
		ProviderTimeout: c.Saga.ProviderTimeout,
		Retry: retry.Policy{
			Base:        c.Saga.Retry.Base,
			Cap:         c.Saga.Retry.Cap,
			MaxAttempts: c.Saga.Retry.MaxAttempts,
		},
		AutoBook:               c.Saga.AutoBook,
		DefaultItemWeightGrams: c.Saga.DefaultItemWeightGrams,
		SweepBatch:             c.Saga.SweepBatch,
	}
}
