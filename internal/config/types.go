package config

import (
	"strings"
	"time"

	"voltra/internal/analysis/indicator"
	"voltra/internal/decision"
	"voltra/internal/gateway/binance"
	"voltra/internal/order"
	"voltra/internal/risk"
	"voltra/internal/sentiment"
	"voltra/internal/slippage"
)

// Config 是 Voltra 的主配置载体。
type Config struct {
	App        AppConfig                `mapstructure:"app"`
	Exchange   ExchangeConfig           `mapstructure:"exchange"`
	Market     MarketConfig             `mapstructure:"market"`
	Analysis   AnalysisConfig           `mapstructure:"analysis"`
	Sentiment  SentimentConfig          `mapstructure:"sentiment"`
	Decision   decision.Config          `mapstructure:"decision"`
	Risk       RiskConfig               `mapstructure:"risk"`
	Slippage   slippage.Config          `mapstructure:"slippage"`
	Orders     OrdersConfig             `mapstructure:"orders"`
	RateLimits map[string]RateLimitRule `mapstructure:"rate_limits"`
	Store      StoreConfig              `mapstructure:"store"`
	Notify     NotifyConfig             `mapstructure:"notify"`
	Portfolios []PortfolioSeed          `mapstructure:"portfolios"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
	// TestMode downgrades configuration validation failures from fatal
	// to returned errors.
	TestMode bool `mapstructure:"test_mode"`
}

type ExchangeConfig struct {
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	RESTBaseURL    string `mapstructure:"rest_base_url"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`

	ProxyEnabled bool   `mapstructure:"proxy_enabled"`
	RESTProxyURL string `mapstructure:"rest_proxy_url"`
	WSProxyURL   string `mapstructure:"ws_proxy_url"`

	KeepaliveMinutes int `mapstructure:"keepalive_minutes"`
}

// ToBinance maps the flat config section onto the gateway's config.
func (e ExchangeConfig) ToBinance() binance.Config {
	return binance.Config{
		APIKey:            e.APIKey,
		APISecret:         e.APISecret,
		RESTBaseURL:       e.RESTBaseURL,
		HTTPTimeout:       time.Duration(e.TimeoutSeconds) * time.Second,
		ProxyEnabled:      e.ProxyEnabled,
		RESTProxyURL:      e.RESTProxyURL,
		WSProxyURL:        e.WSProxyURL,
		KeepaliveInterval: time.Duration(e.KeepaliveMinutes) * time.Minute,
	}
}

type MarketConfig struct {
	Interval        string `mapstructure:"interval"`
	CandleLimit     int    `mapstructure:"candle_limit"`
	PreheatLookback int    `mapstructure:"preheat_lookback"`
	// PreheatRPS throttles REST candle fetches during startup preheat.
	PreheatRPS float64 `mapstructure:"preheat_rps"`
}

// AnalysisConfig carries the indicator periods; zero values fall back to
// the indicator package defaults.
type AnalysisConfig struct {
	RSIPeriod       int     `mapstructure:"rsi_period"`
	SMAPeriod       int     `mapstructure:"sma_period"`
	EMAPeriod       int     `mapstructure:"ema_period"`
	MACDFast        int     `mapstructure:"macd_fast"`
	MACDSlow        int     `mapstructure:"macd_slow"`
	MACDSignal      int     `mapstructure:"macd_signal"`
	BollingerPeriod int     `mapstructure:"bollinger_period"`
	BollingerStdDev float64 `mapstructure:"bollinger_std_dev"`
	StochPeriod     int     `mapstructure:"stoch_period"`
	WilliamsPeriod  int     `mapstructure:"williams_period"`
	ATRPeriod       int     `mapstructure:"atr_period"`
}

// ToSettings maps the section onto the indicator settings for a symbol
// and interval.
func (a AnalysisConfig) ToSettings(symbol, interval string) indicator.Settings {
	return indicator.Settings{
		Symbol:     symbol,
		Interval:   interval,
		RSIPeriod:  a.RSIPeriod,
		SMAPeriod:  a.SMAPeriod,
		EMAPeriod:  a.EMAPeriod,
		MACDFast:   a.MACDFast,
		MACDSlow:   a.MACDSlow,
		MACDSignal: a.MACDSignal,
		BBPeriod:   a.BollingerPeriod,
		BBStdDev:   a.BollingerStdDev,
		StochK:     a.StochPeriod,
		WilliamsR:  a.WilliamsPeriod,
		ATRPeriod:  a.ATRPeriod,
	}
}

type SentimentConfig struct {
	Bullish  float64 `mapstructure:"bullish"`
	Bearish  float64 `mapstructure:"bearish"`
	Strong   float64 `mapstructure:"strong"`
	Moderate float64 `mapstructure:"moderate"`
}

func (s SentimentConfig) ToThresholds() sentiment.Thresholds {
	return sentiment.Thresholds{
		Bullish:  s.Bullish,
		Bearish:  s.Bearish,
		Strong:   s.Strong,
		Moderate: s.Moderate,
	}
}

type RiskConfig struct {
	Sizing risk.Config `mapstructure:"sizing"`
	// CorrelationMatrixPath points at the externally computed matrix;
	// empty means all correlations read zero.
	CorrelationMatrixPath string `mapstructure:"correlation_matrix_path"`
	WatchMatrix           bool   `mapstructure:"watch_matrix"`
}

type OrdersConfig struct {
	Validator order.ValidatorConfig `mapstructure:"validator"`
	Rules     order.RulesConfig     `mapstructure:"rules"`

	PollIntervalSeconds   int `mapstructure:"poll_interval_seconds"`
	MonitorTimeoutSeconds int `mapstructure:"monitor_timeout_seconds"`

	RetryMaxAttempts int     `mapstructure:"retry_max_attempts"`
	RetryBaseDelayMS int     `mapstructure:"retry_base_delay_ms"`
	RetryMaxDelayMS  int     `mapstructure:"retry_max_delay_ms"`
	RetryMultiplier  float64 `mapstructure:"retry_multiplier"`

	BreakerThreshold      int `mapstructure:"breaker_threshold"`
	BreakerWindowSeconds  int `mapstructure:"breaker_window_seconds"`
	BreakerTimeoutSeconds int `mapstructure:"breaker_timeout_seconds"`
}

func (o OrdersConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

func (o OrdersConfig) MonitorTimeout() time.Duration {
	return time.Duration(o.MonitorTimeoutSeconds) * time.Second
}

type RateLimitRule struct {
	Limit         int `mapstructure:"limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type StoreConfig struct {
	DatabasePath    string `mapstructure:"database_path"`
	DecisionLogPath string `mapstructure:"decision_log_path"`
	SweepSeconds    int    `mapstructure:"sweep_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
}

// PortfolioSeed declares a portfolio the engine creates at startup when
// it is not already persisted.
type PortfolioSeed struct {
	Name        string       `mapstructure:"name"`
	BudgetTotal float64      `mapstructure:"budget_total"`
	MaxPerSym   float64      `mapstructure:"max_per_symbol"`
	Currency    string       `mapstructure:"currency"`
	MaxSymbols  int          `mapstructure:"max_symbols"`
	StopLossPct float64      `mapstructure:"stop_loss_pct"`
	Symbols     []SymbolSeed `mapstructure:"symbols"`
}

type SymbolSeed struct {
	Symbol        string  `mapstructure:"symbol"`
	AllocationPct float64 `mapstructure:"allocation_pct"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
