package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`

	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Debate     DebateConfig     `mapstructure:"debate"`
	Consensus  ConsensusConfig  `mapstructure:"consensus"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Exchange   ExchangeConfig   `mapstructure:"exchange"`
	PriceWatch PriceWatchConfig `mapstructure:"price_watch"`
	Broadcast  BroadcastConfig  `mapstructure:"broadcast"`
	Agents     []AgentEndpoint  `mapstructure:"agents"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type SchedulerConfig struct {
	TickInterval           time.Duration `mapstructure:"tick_interval"`
	DefaultIntervalSeconds int           `mapstructure:"default_interval_seconds"`
	EnableEventTriggers    bool          `mapstructure:"enable_event_triggers"`
	MinTriggerInterval     time.Duration `mapstructure:"min_trigger_interval"`
	GraceTimeout           time.Duration `mapstructure:"grace_timeout"`
	MarkerStaleAfter       time.Duration `mapstructure:"marker_stale_after"`
	CouncilIDs             []uint64      `mapstructure:"council_ids"`
	SymbolsOverride        []string      `mapstructure:"symbols_override"`
	TestMode               bool          `mapstructure:"test_mode"`
}

type DebateConfig struct {
	AgentTimeout time.Duration `mapstructure:"agent_timeout"`
	Round        int           `mapstructure:"round"`
}

type ConsensusConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

type TradingConfig struct {
	RiskFraction       float64       `mapstructure:"risk_fraction"`
	MaxBalanceFraction float64       `mapstructure:"max_balance_fraction"`
	MinNotional        float64       `mapstructure:"min_notional"`
	QuantityStep       string        `mapstructure:"quantity_step"`
	RateLimitBackoff   time.Duration `mapstructure:"rate_limit_backoff"`
	RateLimitAttempts  int           `mapstructure:"rate_limit_attempts"`
	NetworkRetries     int           `mapstructure:"network_retries"`
	NetworkRetryDelay  time.Duration `mapstructure:"network_retry_delay"`
	FeeRate            float64       `mapstructure:"fee_rate"`
}

type ExchangeConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	APIKeyEnv         string        `mapstructure:"api_key_env"`
	APISecretEnv      string        `mapstructure:"api_secret_env"`
	Timeout           time.Duration `mapstructure:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Burst             int           `mapstructure:"burst"`
}

type PriceWatchConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Window       time.Duration `mapstructure:"window"`
	TriggerPct   float64       `mapstructure:"trigger_pct"`
}

type BroadcastConfig struct {
	SubscriberBuffer int           `mapstructure:"subscriber_buffer"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`
	MaxMisses        int           `mapstructure:"max_misses"`
}

// AgentEndpoint wires one agent capability name to its external service.
type AgentEndpoint struct {
	Name    string        `mapstructure:"name"`
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COUNCIL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")

	v.SetDefault("scheduler.tick_interval", "1s")
	v.SetDefault("scheduler.default_interval_seconds", 14400)
	v.SetDefault("scheduler.enable_event_triggers", false)
	v.SetDefault("scheduler.min_trigger_interval", "30m")
	v.SetDefault("scheduler.grace_timeout", "30s")
	v.SetDefault("scheduler.marker_stale_after", "2m")
	v.SetDefault("scheduler.test_mode", false)

	v.SetDefault("debate.agent_timeout", "60s")
	v.SetDefault("debate.round", 1)

	v.SetDefault("consensus.threshold", 0.5)

	v.SetDefault("trading.risk_fraction", 0.1)
	v.SetDefault("trading.max_balance_fraction", 0.95)
	v.SetDefault("trading.min_notional", 10)
	v.SetDefault("trading.quantity_step", "0.001")
	v.SetDefault("trading.rate_limit_backoff", "60s")
	v.SetDefault("trading.rate_limit_attempts", 3)
	v.SetDefault("trading.network_retries", 2)
	v.SetDefault("trading.network_retry_delay", "2s")
	v.SetDefault("trading.fee_rate", 0.001)

	v.SetDefault("exchange.base_url", "https://testnet.binancefuture.com")
	v.SetDefault("exchange.api_key_env", "COUNCIL_EXCHANGE_API_KEY")
	v.SetDefault("exchange.api_secret_env", "COUNCIL_EXCHANGE_API_SECRET")
	v.SetDefault("exchange.timeout", "15s")
	v.SetDefault("exchange.requests_per_minute", 1200)
	v.SetDefault("exchange.burst", 120)

	v.SetDefault("price_watch.enabled", false)
	v.SetDefault("price_watch.poll_interval", "15s")
	v.SetDefault("price_watch.window", "5m")
	v.SetDefault("price_watch.trigger_pct", 1.0)

	v.SetDefault("broadcast.subscriber_buffer", 32)
	v.SetDefault("broadcast.ping_interval", "30s")
	v.SetDefault("broadcast.ping_timeout", "10s")
	v.SetDefault("broadcast.max_misses", 8)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
