package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureModeEnforce = "enforce"
	SignatureModeSkip    = "skip"
)

type Config struct {
	DBConfig struct {
		Host     string `env:"DONATIONS_DB_HOST"`
		Port     int    `env:"DONATIONS_DB_PORT"`
		User     string `env:"DONATIONS_DB_USER"`
		Password string `env:"DONATIONS_DB_PASSWORD"`
		Name     string `env:"DONATIONS_DB_NAME"`
		SSLMode  string `env:"DONATIONS_DB_SSLMODE"`
	}

	HTTPPort int `env:"DONATIONS_HTTP_PORT"`

	KafkaBrokerURL           string `env:"KAFKA_BROKER_URL"`
	KafkaDonationStatusTopic string `env:"KAFKA_DONATION_STATUS_TOPIC"`
	KafkaGatewayEventsTopic  string `env:"KAFKA_GATEWAY_EVENTS_TOPIC"`
	KafkaConsumerGroup       string `env:"KAFKA_CONSUMER_GROUP"`

	GatewayBaseURL   string `env:"GATEWAY_BASE_URL"`
	GatewayKeyID     string `env:"GATEWAY_KEY_ID"`
	GatewayKeySecret string `env:"GATEWAY_KEY_SECRET"`
	WebhookSecret    string `env:"GATEWAY_WEBHOOK_SECRET"`
	SignatureMode    string `env:"GATEWAY_SIGNATURE_MODE"`

	RetryBaseDelay  time.Duration `env:"GATEWAY_RETRY_BASE_DELAY"`
	RetryMaxDelay   time.Duration `env:"GATEWAY_RETRY_MAX_DELAY"`
	RetryMultiplier float64       `env:"GATEWAY_RETRY_MULTIPLIER"`
	RetryMaxRetries int           `env:"GATEWAY_RETRY_MAX_RETRIES"`
	OrderTimeout    time.Duration `env:"GATEWAY_ORDER_TIMEOUT"`
	PollTimeout     time.Duration `env:"GATEWAY_POLL_TIMEOUT"`

	SweepInterval   time.Duration `env:"SWEEP_INTERVAL"`
	SweepBatchSize  int           `env:"SWEEP_BATCH_SIZE"`
	SweepStaleAge   time.Duration `env:"SWEEP_STALE_AGE"`
	SweepExpireAge  time.Duration `env:"SWEEP_EXPIRE_AGE"`
	OutboxInterval  time.Duration `env:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize int           `env:"OUTBOX_BATCH_SIZE"`

	MinDonationAmount   float64  `env:"MIN_DONATION_AMOUNT"`
	SupportedCurrencies []string `env:"SUPPORTED_CURRENCIES"`
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.DBConfig.Host = getEnvOrDefault("DONATIONS_DB_HOST", "localhost")
	cfg.DBConfig.Port = getEnvAsInt("DONATIONS_DB_PORT", 5432)
	cfg.DBConfig.User = getEnvOrDefault("DONATIONS_DB_USER", "user")
	cfg.DBConfig.Password = getEnvOrDefault("DONATIONS_DB_PASSWORD", "password")
	cfg.DBConfig.Name = getEnvOrDefault("DONATIONS_DB_NAME", "donations_db")
	cfg.DBConfig.SSLMode = getEnvOrDefault("DONATIONS_DB_SSLMODE", "disable")

	cfg.HTTPPort = getEnvAsInt("DONATIONS_HTTP_PORT", 8084)

	cfg.KafkaBrokerURL = getEnvOrDefault("KAFKA_BROKER_URL", "localhost:9092")
	cfg.KafkaDonationStatusTopic = getEnvOrDefault("KAFKA_DONATION_STATUS_TOPIC", "donation_status_updates")
	cfg.KafkaGatewayEventsTopic = getEnvOrDefault("KAFKA_GATEWAY_EVENTS_TOPIC", "gateway_payment_events")
	cfg.KafkaConsumerGroup = getEnvOrDefault("KAFKA_CONSUMER_GROUP", "donations-service-group")

	cfg.GatewayBaseURL = getEnvOrDefault("GATEWAY_BASE_URL", "")
	cfg.GatewayKeyID = getEnvOrDefault("GATEWAY_KEY_ID", "")
	cfg.GatewayKeySecret = getEnvOrDefault("GATEWAY_KEY_SECRET", "")
	cfg.WebhookSecret = getEnvOrDefault("GATEWAY_WEBHOOK_SECRET", "")
	cfg.SignatureMode = getEnvOrDefault("GATEWAY_SIGNATURE_MODE", SignatureModeEnforce)
	if cfg.SignatureMode != SignatureModeEnforce && cfg.SignatureMode != SignatureModeSkip {
		return nil, fmt.Errorf("invalid GATEWAY_SIGNATURE_MODE %q: must be %q or %q",
			cfg.SignatureMode, SignatureModeEnforce, SignatureModeSkip)
	}

	cfg.RetryBaseDelay = getEnvAsDuration("GATEWAY_RETRY_BASE_DELAY", 1*time.Second)
	cfg.RetryMaxDelay = getEnvAsDuration("GATEWAY_RETRY_MAX_DELAY", 10*time.Second)
	cfg.RetryMultiplier = getEnvAsFloat("GATEWAY_RETRY_MULTIPLIER", 2)
	cfg.RetryMaxRetries = getEnvAsInt("GATEWAY_RETRY_MAX_RETRIES", 3)
	cfg.OrderTimeout = getEnvAsDuration("GATEWAY_ORDER_TIMEOUT", 30*time.Second)
	cfg.PollTimeout = getEnvAsDuration("GATEWAY_POLL_TIMEOUT", 10*time.Second)

	cfg.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", 5*time.Minute)
	cfg.SweepBatchSize = getEnvAsInt("SWEEP_BATCH_SIZE", 50)
	cfg.SweepStaleAge = getEnvAsDuration("SWEEP_STALE_AGE", 30*time.Minute)
	cfg.SweepExpireAge = getEnvAsDuration("SWEEP_EXPIRE_AGE", 24*time.Hour)
	cfg.OutboxInterval = getEnvAsDuration("OUTBOX_POLL_INTERVAL", 1*time.Second)
	cfg.OutboxBatchSize = getEnvAsInt("OUTBOX_BATCH_SIZE", 10)

	cfg.MinDonationAmount = getEnvAsFloat("MIN_DONATION_AMOUNT", 1)
	cfg.SupportedCurrencies = getEnvAsList("SUPPORTED_CURRENCIES", []string{"INR", "USD", "EUR", "GBP"})

	return cfg, nil
}

func (c *Config) GetDBConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetDBMigrationConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBConfig.User, c.DBConfig.Password, c.DBConfig.Host, c.DBConfig.Port, c.DBConfig.Name, c.DBConfig.SSLMode)
}

func (c *Config) GetKafkaBrokers() []string {
	return strings.Split(c.KafkaBrokerURL, ",")
}

func (c *Config) IsCurrencySupported(currency string) bool {
	currency = strings.ToUpper(currency)
	for _, supported := range c.SupportedCurrencies {
		if currency == supported {
			return true
		}
	}
	return false
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnvOrDefault(key, strconv.Itoa(defaultValue))
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnvOrDefault(key, strconv.FormatFloat(defaultValue, 'f', -1, 64))
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnvOrDefault(key, defaultValue.String())
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnvOrDefault(key, strings.Join(defaultValue, ","))
	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(strings.ToUpper(part))
		if part != "" {
			values = append(values, part)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
