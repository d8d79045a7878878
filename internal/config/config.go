/**
 * @description
 * Configuration management for the wallet service. Settings are read from the
 * environment (and an optional .env file) through Viper and coerced into safe
 * ranges before the service starts.
 *
 * @dependencies
 * - github.com/spf13/viper: Application configuration.
 * - go.uber.org/zap: Warnings about coerced values go to the global logger.
 */

package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config holds all configuration values for the wallet service.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	LedgerDriver             string `mapstructure:"LEDGER_DRIVER"`
	LockTimeoutMS            int    `mapstructure:"LOCK_TIMEOUT_MS"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	SessionKeyPrefix         string `mapstructure:"SESSION_KEY_PREFIX"`
	SessionCookieName        string `mapstructure:"SESSION_COOKIE_NAME"`
	AuthTimeoutMS            int    `mapstructure:"AUTH_TIMEOUT_MS"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	EventsExchange           string `mapstructure:"EVENTS_EXCHANGE"`
	PaymentEventQueue        string `mapstructure:"PAYMENT_EVENT_QUEUE"`
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	SessionSecret            string `mapstructure:"SESSION_SECRET"`
	InternalAPIKey           string `mapstructure:"INTERNAL_API_KEY"`
	AllowedOrigins           string `mapstructure:"ALLOWED_ORIGINS"`
	VoteUnitPrice            int64  `mapstructure:"VOTE_UNIT_PRICE"`
	CoinsPerCurrencyUnit     int64  `mapstructure:"COINS_PER_CURRENCY_UNIT"`
	MinFundAmount            int64  `mapstructure:"MIN_FUND_AMOUNT"`
	MinTransferAmount        int64  `mapstructure:"MIN_TRANSFER_AMOUNT"`
	LoyaltyThreshold         int64  `mapstructure:"LOYALTY_THRESHOLD"`
	LoyaltyReward            int64  `mapstructure:"LOYALTY_REWARD"`
	MaxConnectionsPerAccount int    `mapstructure:"MAX_CONNECTIONS_PER_ACCOUNT"`
	LeaderboardWindowMS      int    `mapstructure:"LEADERBOARD_WINDOW_MS"`
	LeaderboardLimit         int    `mapstructure:"LEADERBOARD_LIMIT"`
	VoteRateLimitPerMinute   int    `mapstructure:"VOTE_RATE_LIMIT_PER_MINUTE"`
	SocketEventsPerSecond    int    `mapstructure:"SOCKET_EVENTS_PER_SECOND"`
	ReconcileSchedule        string `mapstructure:"RECONCILE_SCHEDULE"`
	OutboxPollIntervalMS     int    `mapstructure:"OUTBOX_POLL_INTERVAL_MS"`
	EventEndsAt              string `mapstructure:"EVENT_ENDS_AT"`
	TicketPriceRegular       int64  `mapstructure:"TICKET_PRICE_REGULAR"`
	TicketPriceVIP           int64  `mapstructure:"TICKET_PRICE_VIP"`
	TicketPriceVVIP          int64  `mapstructure:"TICKET_PRICE_VVIP"`
}

// LoadConfig reads configuration from environment variables and an optional
// .env file located at path.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LEDGER_DRIVER", DriverPostgres)
	viper.SetDefault("LOCK_TIMEOUT_MS", 3000)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "votefest:rate_limit")
	viper.SetDefault("SESSION_KEY_PREFIX", "sess:")
	viper.SetDefault("SESSION_COOKIE_NAME", "connect.sid")
	viper.SetDefault("AUTH_TIMEOUT_MS", 2000)
	viper.SetDefault("EVENTS_EXCHANGE", "votefest.events")
	viper.SetDefault("PAYMENT_EVENT_QUEUE", "wallet_service.payment_updates")
	viper.SetDefault("ALLOWED_ORIGINS", "*")
	viper.SetDefault("VOTE_UNIT_PRICE", 10)
	viper.SetDefault("COINS_PER_CURRENCY_UNIT", 10)
	viper.SetDefault("MIN_FUND_AMOUNT", 100)
	viper.SetDefault("MIN_TRANSFER_AMOUNT", 10)
	viper.SetDefault("LOYALTY_THRESHOLD", 600)
	viper.SetDefault("LOYALTY_REWARD", 50)
	viper.SetDefault("MAX_CONNECTIONS_PER_ACCOUNT", 5)
	viper.SetDefault("LEADERBOARD_WINDOW_MS", 3000)
	viper.SetDefault("LEADERBOARD_LIMIT", 20)
	viper.SetDefault("VOTE_RATE_LIMIT_PER_MINUTE", 60)
	viper.SetDefault("SOCKET_EVENTS_PER_SECOND", 10)
	viper.SetDefault("RECONCILE_SCHEDULE", "*/15 * * * *")
	viper.SetDefault("OUTBOX_POLL_INTERVAL_MS", 1000)
	viper.SetDefault("TICKET_PRICE_REGULAR", 2000)
	viper.SetDefault("TICKET_PRICE_VIP", 10000)
	viper.SetDefault("TICKET_PRICE_VVIP", 50000)

	_ = viper.BindEnv("SERVER_PORT", "SERVER_PORT", "PORT")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("LEDGER_DRIVER")
	_ = viper.BindEnv("LOCK_TIMEOUT_MS")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("SESSION_KEY_PREFIX")
	_ = viper.BindEnv("SESSION_COOKIE_NAME")
	_ = viper.BindEnv("AUTH_TIMEOUT_MS")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("PAYMENT_EVENT_QUEUE")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("SESSION_SECRET")
	_ = viper.BindEnv("INTERNAL_API_KEY")
	_ = viper.BindEnv("ALLOWED_ORIGINS")
	_ = viper.BindEnv("VOTE_UNIT_PRICE")
	_ = viper.BindEnv("COINS_PER_CURRENCY_UNIT")
	_ = viper.BindEnv("MIN_FUND_AMOUNT")
	_ = viper.BindEnv("MIN_TRANSFER_AMOUNT")
	_ = viper.BindEnv("LOYALTY_THRESHOLD")
	_ = viper.BindEnv("LOYALTY_REWARD")
	_ = viper.BindEnv("MAX_CONNECTIONS_PER_ACCOUNT")
	_ = viper.BindEnv("LEADERBOARD_WINDOW_MS")
	_ = viper.BindEnv("LEADERBOARD_LIMIT")
	_ = viper.BindEnv("VOTE_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("SOCKET_EVENTS_PER_SECOND")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("OUTBOX_POLL_INTERVAL_MS")
	_ = viper.BindEnv("EVENT_ENDS_AT")
	_ = viper.BindEnv("TICKET_PRICE_REGULAR")
	_ = viper.BindEnv("TICKET_PRICE_VIP")
	_ = viper.BindEnv("TICKET_PRICE_VVIP")

	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			zap.L().Warn("failed to read config file; using environment values", zap.String("component", "config"), zap.Error(err))
		}
	}

	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	config.normalize()
	return
}

func (c *Config) normalize() {
	log := zap.L().With(zap.String("component", "config"))

	c.LedgerDriver = strings.ToLower(strings.TrimSpace(c.LedgerDriver))
	if c.LedgerDriver != DriverPostgres && c.LedgerDriver != DriverMemory {
		log.Warn("unknown ledger driver; falling back to postgres", zap.String("driver", c.LedgerDriver))
		c.LedgerDriver = DriverPostgres
	}
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	c.RabbitMQURL = strings.TrimSpace(c.RabbitMQURL)
	c.InternalAPIKey = strings.TrimSpace(c.InternalAPIKey)
	c.RedisRateLimitPrefix = strings.TrimSpace(c.RedisRateLimitPrefix)
	if c.RedisRateLimitPrefix == "" {
		c.RedisRateLimitPrefix = "votefest:rate_limit"
	}

	if c.LockTimeoutMS <= 0 {
		log.Warn("non-positive lock timeout configured; using default", zap.Int("lock_timeout_ms", c.LockTimeoutMS))
		c.LockTimeoutMS = 3000
	}
	if c.VoteUnitPrice <= 0 {
		log.Warn("non-positive vote unit price configured; using default", zap.Int64("vote_unit_price", c.VoteUnitPrice))
		c.VoteUnitPrice = 10
	}
	if c.CoinsPerCurrencyUnit <= 0 {
		c.CoinsPerCurrencyUnit = 10
	}
	if c.MinFundAmount < 0 {
		c.MinFundAmount = 0
	}
	if c.MinTransferAmount < 0 {
		c.MinTransferAmount = 0
	}
	if c.LoyaltyThreshold <= 0 {
		log.Warn("non-positive loyalty threshold configured; using default", zap.Int64("loyalty_threshold", c.LoyaltyThreshold))
		c.LoyaltyThreshold = 600
	}
	if c.LoyaltyReward < 0 {
		log.Warn("negative loyalty reward configured; coercing to zero", zap.Int64("loyalty_reward", c.LoyaltyReward))
		c.LoyaltyReward = 0
	}
	if c.MaxConnectionsPerAccount <= 0 {
		c.MaxConnectionsPerAccount = 5
	}
	if c.LeaderboardWindowMS <= 0 {
		c.LeaderboardWindowMS = 3000
	}
	if c.LeaderboardLimit <= 0 || c.LeaderboardLimit > 100 {
		c.LeaderboardLimit = 20
	}
	if c.VoteRateLimitPerMinute <= 0 {
		c.VoteRateLimitPerMinute = 60
	}
	if c.SocketEventsPerSecond <= 0 {
		c.SocketEventsPerSecond = 10
	}
	if c.AuthTimeoutMS <= 0 {
		c.AuthTimeoutMS = 2000
	}
	if c.OutboxPollIntervalMS <= 0 {
		c.OutboxPollIntervalMS = 1000
	}
	if strings.TrimSpace(c.EventEndsAt) != "" {
		if _, err := time.Parse(time.RFC3339, strings.TrimSpace(c.EventEndsAt)); err != nil {
			log.Warn("invalid EVENT_ENDS_AT; ticket end-date checks disabled", zap.String("value", c.EventEndsAt), zap.Error(err))
			c.EventEndsAt = ""
		}
	}
}

// LockTimeout returns the row lock wait bound as a duration.
func (c Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}

// LeaderboardWindow returns the leaderboard broadcast throttle window.
func (c Config) LeaderboardWindow() time.Duration {
	return time.Duration(c.LeaderboardWindowMS) * time.Millisecond
}

// AuthTimeout bounds a single connection authentication.
func (c Config) AuthTimeout() time.Duration {
	return time.Duration(c.AuthTimeoutMS) * time.Millisecond
}

// OutboxPollInterval returns how often the outbox dispatcher polls.
func (c Config) OutboxPollInterval() time.Duration {
	return time.Duration(c.OutboxPollIntervalMS) * time.Millisecond
}

// EventEnd returns the configured event end time, if any.
func (c Config) EventEnd() (time.Time, bool) {
	raw := strings.TrimSpace(c.EventEndsAt)
	if raw == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// AllowedOriginList splits ALLOWED_ORIGINS into individual origins.
func (c Config) AllowedOriginList() []string {
	parts := strings.Split(c.AllowedOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
