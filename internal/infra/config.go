package infra

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"trade_sim/internal/cost"
	"trade_sim/internal/domain"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultFeedURL is the L2 full-book stream the simulator was built against.
const DefaultFeedURL = "wss://ws.gomarket-cpp.goquant.io/ws/l2-orderbook/okx/BTC-USDT-SWAP"

// Config holds every setting of a trade_sim process.
// Load decodes a file over Defaults, then applies TRADESIM_* environment overrides.
type Config struct {
	App struct {
		Name string `yaml:"name" toml:"name"`
	} `yaml:"app" toml:"app"`

	Feed struct {
		URL                   string `yaml:"url" toml:"url"`
		Codec                 string `yaml:"codec" toml:"codec"`
		Symbol                string `yaml:"symbol" toml:"symbol"`
		QueueSize             int    `yaml:"queue_size" toml:"queue_size"`
		MaxProtocolViolations int    `yaml:"max_protocol_violations" toml:"max_protocol_violations"`
		ConnectTimeoutMS      int    `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
		ReadTimeoutMS         int    `yaml:"read_timeout_ms" toml:"read_timeout_ms"`
		ResyncTimeoutMS       int    `yaml:"resync_timeout_ms" toml:"resync_timeout_ms"`
		PingIntervalMS        int    `yaml:"ping_interval_ms" toml:"ping_interval_ms"`
	} `yaml:"feed" toml:"feed"`

	Session struct {
		MaxReconnectAttempts int `yaml:"max_reconnect_attempts" toml:"max_reconnect_attempts"`
		ReconnectBackoffMS   int `yaml:"reconnect_backoff_ms" toml:"reconnect_backoff_ms"`
		MaxBackoffMS         int `yaml:"max_backoff_ms" toml:"max_backoff_ms"`
		VolumeWindowSize     int `yaml:"volume_window_size" toml:"volume_window_size"`
		SlippageWindowSize   int `yaml:"slippage_window_size" toml:"slippage_window_size"`
		VolatilityWindowSize int `yaml:"volatility_window_size" toml:"volatility_window_size"`
	} `yaml:"session" toml:"session"`

	Cost struct {
		Exchange string `yaml:"exchange" toml:"exchange"`
		FeeTier  int    `yaml:"fee_tier" toml:"fee_tier"`
		// Zero fee rates mean "use the exchange's published base rate".
		FeeRateMaker      float64 `yaml:"fee_rate_maker" toml:"fee_rate_maker"`
		FeeRateTaker      float64 `yaml:"fee_rate_taker" toml:"fee_rate_taker"`
		NeutralMakerShare float64 `yaml:"neutral_maker_share" toml:"neutral_maker_share"`
		ImpactModel       string  `yaml:"impact_model" toml:"impact_model"`
		ImpactCoefficient float64 `yaml:"impact_coefficient" toml:"impact_coefficient"`
		Volatility        float64 `yaml:"volatility" toml:"volatility"`
		// VolatilitySource is "realized" (mid-price history, Volatility as
		// fallback) or "fixed".
		VolatilitySource string  `yaml:"volatility_source" toml:"volatility_source"`
		Eta              float64 `yaml:"eta" toml:"eta"`
		Gamma            float64 `yaml:"gamma" toml:"gamma"`
		RiskAversion     float64 `yaml:"risk_aversion" toml:"risk_aversion"`
		SlippageModel    string  `yaml:"slippage_model" toml:"slippage_model"`
		SlippageAlpha    float64 `yaml:"slippage_alpha" toml:"slippage_alpha"`
		SlippageQuantile float64 `yaml:"slippage_quantile" toml:"slippage_quantile"`
	} `yaml:"cost" toml:"cost"`

	// Order is submitted when the session starts; empty Side means none.
	Order struct {
		Side          string `yaml:"side" toml:"side"`
		Quantity      string `yaml:"quantity" toml:"quantity"`
		QuoteQuantity string `yaml:"quote_quantity" toml:"quote_quantity"`
		Urgency       string `yaml:"urgency" toml:"urgency"`
	} `yaml:"order" toml:"order"`

	Storage struct {
		Enabled bool   `yaml:"enabled" toml:"enabled"`
		Path    string `yaml:"path" toml:"path"`
		// RetentionHours prunes older estimates; 0 keeps everything.
		RetentionHours int `yaml:"retention_hours" toml:"retention_hours"`
	} `yaml:"storage" toml:"storage"`

	Redis struct {
		Enabled  bool   `yaml:"enabled" toml:"enabled"`
		Addr     string `yaml:"addr" toml:"addr"`
		Password string `yaml:"password" toml:"password"`
		DB       int    `yaml:"db" toml:"db"`
		Channel  string `yaml:"channel" toml:"channel"`
	} `yaml:"redis" toml:"redis"`

	Logging struct {
		Level string `yaml:"level" toml:"level"`
		Dir   string `yaml:"dir" toml:"dir"`
	} `yaml:"logging" toml:"logging"`
}

// Volatility sources.
const (
	VolatilityFixed    = "fixed"
	VolatilityRealized = "realized"
)

// Defaults returns a Config that runs without any file.
func Defaults() Config {
	var c Config
	c.App.Name = "trade_sim"

	c.Feed.URL = DefaultFeedURL
	c.Feed.Codec = "gomarket"
	c.Feed.Symbol = "BTC-USDT-SWAP"
	c.Feed.QueueSize = 1024
	c.Feed.MaxProtocolViolations = 10
	c.Feed.ConnectTimeoutMS = 10000
	c.Feed.ReadTimeoutMS = 60000
	c.Feed.ResyncTimeoutMS = 5000
	c.Feed.PingIntervalMS = 25000

	c.Session.MaxReconnectAttempts = 5
	c.Session.ReconnectBackoffMS = 1000
	c.Session.MaxBackoffMS = 60000
	c.Session.VolumeWindowSize = 100
	c.Session.SlippageWindowSize = 100
	c.Session.VolatilityWindowSize = 100

	c.Cost.Exchange = "OKX"
	c.Cost.FeeTier = 1
	c.Cost.NeutralMakerShare = 0.5
	c.Cost.ImpactModel = string(cost.ImpactSqrt)
	c.Cost.ImpactCoefficient = 0.1
	c.Cost.Volatility = 0.02
	c.Cost.VolatilitySource = VolatilityRealized
	c.Cost.Eta = 0.1
	c.Cost.Gamma = 0.01
	c.Cost.RiskAversion = 1e-6
	c.Cost.SlippageModel = string(cost.SlippageLinear)
	c.Cost.SlippageAlpha = 0.2
	c.Cost.SlippageQuantile = 0.9

	c.Storage.Path = "data/trade_sim.db"

	c.Redis.Addr = "localhost:6379"
	c.Redis.Channel = "trade_sim:estimates"

	c.Logging.Level = "info"
	c.Logging.Dir = "logs"
	return c
}

// LoadConfig reads path (YAML, or TOML when it ends in .toml) over the defaults,
// loads .env if present, applies environment overrides and validates.
// An empty path uses defaults and environment only.
func LoadConfig(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := decodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()
	overrideWithEnv(&cfg)

	if err := cfg.applyExchangeRates(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyExchangeRates() error {
	schedule, err := cost.LookupSchedule(c.Cost.Exchange)
	if err != nil {
		return &domain.ConfigError{Field: "cost.exchange", Err: err}
	}
	if c.Cost.FeeRateMaker == 0 {
		c.Cost.FeeRateMaker = schedule.Maker.InexactFloat64()
	}
	if c.Cost.FeeRateTaker == 0 {
		c.Cost.FeeRateTaker = schedule.Taker.InexactFloat64()
	}
	return nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	// Feed
	if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return invalid("feed.url", "invalid websocket URL: %q", c.Feed.URL)
	}
	switch strings.ToLower(c.Feed.Codec) {
	case "generic", "gomarket", "okx":
	default:
		return invalid("feed.codec", "unknown codec %q", c.Feed.Codec)
	}
	if c.Feed.QueueSize <= 0 {
		return invalid("feed.queue_size", "must be positive")
	}
	if c.Feed.MaxProtocolViolations <= 0 {
		return invalid("feed.max_protocol_violations", "must be positive")
	}
	if c.Feed.ConnectTimeoutMS <= 0 || c.Feed.ReadTimeoutMS <= 0 || c.Feed.ResyncTimeoutMS <= 0 || c.Feed.PingIntervalMS <= 0 {
		return invalid("feed", "timeouts must be positive")
	}

	// Session
	if c.Session.MaxReconnectAttempts < 0 {
		return invalid("session.max_reconnect_attempts", "must not be negative")
	}
	if c.Session.ReconnectBackoffMS <= 0 {
		return invalid("session.reconnect_backoff_ms", "must be positive")
	}
	if c.Session.VolumeWindowSize <= 0 {
		return invalid("session.volume_window_size", "must be positive")
	}
	if c.Session.SlippageWindowSize <= 0 {
		return invalid("session.slippage_window_size", "must be positive")
	}
	if c.Session.VolatilityWindowSize < 2 {
		return invalid("session.volatility_window_size", "must be at least 2")
	}

	// Cost
	if c.Cost.FeeRateMaker < 0 || c.Cost.FeeRateMaker >= 0.1 {
		return invalid("cost.fee_rate_maker", "out of range: %v", c.Cost.FeeRateMaker)
	}
	if c.Cost.FeeRateTaker < 0 || c.Cost.FeeRateTaker >= 0.1 {
		return invalid("cost.fee_rate_taker", "out of range: %v", c.Cost.FeeRateTaker)
	}
	if c.Cost.NeutralMakerShare < 0 || c.Cost.NeutralMakerShare > 1 {
		return invalid("cost.neutral_maker_share", "must be within [0, 1]")
	}
	if c.Cost.FeeTier < 1 {
		return invalid("cost.fee_tier", "must be at least 1")
	}
	if _, err := cost.ParseImpactModel(c.Cost.ImpactModel); err != nil {
		return &domain.ConfigError{Field: "cost.impact_model", Err: err}
	}
	if c.Cost.ImpactCoefficient < 0 {
		return invalid("cost.impact_coefficient", "must not be negative")
	}
	switch c.Cost.VolatilitySource {
	case VolatilityFixed, VolatilityRealized:
	default:
		return invalid("cost.volatility_source", "unknown source %q", c.Cost.VolatilitySource)
	}
	if _, err := cost.ParseSlippageModel(c.Cost.SlippageModel); err != nil {
		return &domain.ConfigError{Field: "cost.slippage_model", Err: err}
	}
	if c.Cost.SlippageAlpha < 0 {
		return invalid("cost.slippage_alpha", "must not be negative")
	}
	if c.Cost.SlippageQuantile <= 0 || c.Cost.SlippageQuantile > 1 {
		return invalid("cost.slippage_quantile", "must be within (0, 1]")
	}

	// Order
	if _, ok, err := c.DefaultOrder(); ok && err != nil {
		return &domain.ConfigError{Field: "order", Err: err}
	}

	if c.Storage.Enabled && c.Storage.Path == "" {
		return invalid("storage.path", "required when storage is enabled")
	}
	if c.Storage.RetentionHours < 0 {
		return invalid("storage.retention_hours", "must not be negative")
	}
	if c.Redis.Enabled && (c.Redis.Addr == "" || c.Redis.Channel == "") {
		return invalid("redis", "addr and channel are required when redis is enabled")
	}
	return nil
}

// DefaultOrder parses the configured order. ok is false when no order is configured.
func (c *Config) DefaultOrder() (spec domain.OrderSpec, ok bool, err error) {
	if c.Order.Side == "" {
		return domain.OrderSpec{}, false, nil
	}

	side, err := domain.ParseOrderSide(c.Order.Side)
	if err != nil {
		return domain.OrderSpec{}, true, err
	}
	urgency, err := domain.ParseUrgency(c.Order.Urgency)
	if err != nil {
		return domain.OrderSpec{}, true, err
	}
	spec = domain.OrderSpec{Side: side, Urgency: urgency, Symbol: c.Feed.Symbol}

	if c.Order.Quantity != "" {
		if spec.Quantity, err = decimal.NewFromString(c.Order.Quantity); err != nil {
			return domain.OrderSpec{}, true, fmt.Errorf("quantity: %w", err)
		}
	}
	if c.Order.QuoteQuantity != "" {
		if spec.QuoteQuantity, err = decimal.NewFromString(c.Order.QuoteQuantity); err != nil {
			return domain.OrderSpec{}, true, fmt.Errorf("quote_quantity: %w", err)
		}
	}
	if err := spec.Validate(); err != nil {
		return domain.OrderSpec{}, true, err
	}
	return spec, true, nil
}

// Durations

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (c *Config) ConnectTimeout() time.Duration   { return ms(c.Feed.ConnectTimeoutMS) }
func (c *Config) ReadTimeout() time.Duration      { return ms(c.Feed.ReadTimeoutMS) }
func (c *Config) ResyncTimeout() time.Duration    { return ms(c.Feed.ResyncTimeoutMS) }
func (c *Config) PingInterval() time.Duration     { return ms(c.Feed.PingIntervalMS) }
func (c *Config) ReconnectBackoff() time.Duration { return ms(c.Session.ReconnectBackoffMS) }
func (c *Config) MaxBackoff() time.Duration       { return ms(c.Session.MaxBackoffMS) }
func (c *Config) Retention() time.Duration        { return time.Duration(c.Storage.RetentionHours) * time.Hour }

// overrideWithEnv applies TRADESIM_* variables when set.
func overrideWithEnv(cfg *Config) {
	setStr(&cfg.Feed.URL, "TRADESIM_FEED_URL")
	setStr(&cfg.Feed.Codec, "TRADESIM_FEED_CODEC")
	setStr(&cfg.Feed.Symbol, "TRADESIM_FEED_SYMBOL")
	setInt(&cfg.Feed.QueueSize, "TRADESIM_FEED_QUEUE_SIZE")
	setInt(&cfg.Feed.ResyncTimeoutMS, "TRADESIM_RESYNC_TIMEOUT_MS")

	setInt(&cfg.Session.MaxReconnectAttempts, "TRADESIM_MAX_RECONNECT_ATTEMPTS")
	setInt(&cfg.Session.ReconnectBackoffMS, "TRADESIM_RECONNECT_BACKOFF_MS")
	setInt(&cfg.Session.VolumeWindowSize, "TRADESIM_VOLUME_WINDOW_SIZE")

	setStr(&cfg.Cost.Exchange, "TRADESIM_EXCHANGE")
	setInt(&cfg.Cost.FeeTier, "TRADESIM_FEE_TIER")
	setFloat64(&cfg.Cost.FeeRateMaker, "TRADESIM_FEE_RATE_MAKER")
	setFloat64(&cfg.Cost.FeeRateTaker, "TRADESIM_FEE_RATE_TAKER")
	setStr(&cfg.Cost.ImpactModel, "TRADESIM_IMPACT_MODEL")
	setFloat64(&cfg.Cost.ImpactCoefficient, "TRADESIM_IMPACT_COEFFICIENT")
	setStr(&cfg.Cost.VolatilitySource, "TRADESIM_VOLATILITY_SOURCE")
	setStr(&cfg.Cost.SlippageModel, "TRADESIM_SLIPPAGE_MODEL")

	setBool(&cfg.Storage.Enabled, "TRADESIM_STORAGE_ENABLED")
	setStr(&cfg.Storage.Path, "TRADESIM_STORAGE_PATH")
	setInt(&cfg.Storage.RetentionHours, "TRADESIM_STORAGE_RETENTION_HOURS")

	setBool(&cfg.Redis.Enabled, "TRADESIM_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "TRADESIM_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADESIM_REDIS_PASSWORD")

	setStr(&cfg.Logging.Level, "TRADESIM_LOG_LEVEL")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		} else {
			warnEnv(key, v)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		} else {
			warnEnv(key, v)
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		} else {
			warnEnv(key, v)
		}
	}
}

func warnEnv(key, value string) {
	slog.Warn("Invalid environment value ignored", slog.String("key", key), slog.String("value", value))
}
