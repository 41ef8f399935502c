package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// EnvConfigFile names the variable consulted when no --config path is given.
const EnvConfigFile = "FULFILL_CONFIG"

// Load reads defaults, then the YAML file at path (or $FULFILL_CONFIG) when
// set, then environment variables. razorpay.key_id is read from
// RAZORPAY_KEY_ID, storage.driver from STORAGE_DRIVER and so on.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it during
// Unmarshal.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout)
	v.SetDefault("server.allowed_origin", d.Server.AllowedOrigin)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.dsn", d.Storage.DSN)
	v.SetDefault("storage.dynamodb.region", d.Storage.Dynamo.Region)
	v.SetDefault("storage.dynamodb.endpoint", d.Storage.Dynamo.Endpoint)
	v.SetDefault("storage.dynamodb.events_table", d.Storage.Dynamo.EventsTable)
	v.SetDefault("storage.dynamodb.dedup_table", d.Storage.Dynamo.DedupTable)
	v.SetDefault("storage.dynamodb.records_table", d.Storage.Dynamo.RecordsTable)

	v.SetDefault("kafka.brokers", d.Kafka.Brokers)
	v.SetDefault("kafka.topic", d.Kafka.Topic)
	v.SetDefault("kafka.group_id", d.Kafka.GroupID)

	v.SetDefault("saga.currency", d.Saga.Currency)
	v.SetDefault("saga.default_provider", d.Saga.DefaultProvider)
	v.SetDefault("saga.intent_ttl", d.Saga.IntentTTL)
	v.SetDefault("saga.dedup_retention", d.Saga.DedupRetention)
	v.SetDefault("saga.claim_lease", d.Saga.ClaimLease)
	v.SetDefault("saga.provider_timeout", d.Saga.ProviderTimeout)
	v.SetDefault("saga.auto_book", d.Saga.AutoBook)
	v.SetDefault("saga.sweep_interval", d.Saga.SweepInterval)
	v.SetDefault("saga.sweep_batch", d.Saga.SweepBatch)
	v.SetDefault("saga.default_item_weight_grams", d.Saga.DefaultItemWeightGrams)
	v.SetDefault("saga.retry.base", d.Saga.Retry.Base)
	v.SetDefault("saga.retry.cap", d.Saga.Retry.Cap)
	v.SetDefault("saga.retry.max_attempts", d.Saga.Retry.MaxAttempts)

	v.SetDefault("razorpay.base_url", d.Razorpay.BaseURL)
	v.SetDefault("razorpay.key_id", d.Razorpay.KeyID)
	v.SetDefault("razorpay.key_secret", d.Razorpay.KeySecret)
	v.SetDefault("razorpay.webhook_secret", d.Razorpay.WebhookSecret)

	v.SetDefault("cashfree.base_url", d.Cashfree.BaseURL)
	v.SetDefault("cashfree.client_id", d.Cashfree.ClientID)
	v.SetDefault("cashfree.client_secret", d.Cashfree.ClientSecret)

	v.SetDefault("delhivery.base_url", d.Delhivery.BaseURL)
	v.SetDefault("delhivery.token", d.Delhivery.Token)
	v.SetDefault("delhivery.origin_pincode", d.Delhivery.OriginPincode)
	v.SetDefault("delhivery.pickup_location", d.Delhivery.PickupLocation)

	v.SetDefault("auth.supabase_jwt_secret", d.Auth.SupabaseJWTSecret)
	v.SetDefault("auth.operator_jwt_secret", d.Auth.OperatorJWTSecret)
	v.SetDefault("auth.operator_username", d.Auth.OperatorUsername)
	v.SetDefault("auth.operator_password_hash", d.Auth.OperatorPasswordHash)
	v.SetDefault("auth.operator_token_ttl", d.Auth.OperatorTokenTTL)

	v.SetDefault("notify.smtp_host", d.Notify.SMTPHost)
	v.SetDefault("notify.smtp_port", d.Notify.SMTPPort)
	v.SetDefault("notify.smtp_user", d.Notify.SMTPUser)
	v.SetDefault("notify.smtp_pass", d.Notify.SMTPPass)
	v.SetDefault("notify.from_email", d.Notify.FromEmail)
	v.SetDefault("notify.ops_email", d.Notify.OpsEmail)

	v.SetDefault("webhook.callback_url", d.Webhook.CallbackURL)
}
