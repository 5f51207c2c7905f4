package config

import "strings"

// 默认值常量
const (
	defaultAppEnv         = "dev"
	defaultAppLogLevel    = "info"
	defaultAppHTTPAddr    = ":9991"
	defaultAppLogPath     = "/data/logs/voltra.log"
	defaultMarketInterval = "5m"
	defaultCandleLimit    = 100
	defaultPreheatLook    = 200
	defaultPreheatRPS     = 5.0
	defaultExchangeREST   = "https://api.binance.com"
	defaultPollSeconds    = 2
	defaultMonitorSeconds = 300
	defaultRetryAttempts  = 3
	defaultRetryBaseMS    = 500
	defaultRetryMaxMS     = 10000
	defaultRetryMult      = 2.0
	defaultBreakerN       = 5
	defaultBreakerWindow  = 60
	defaultBreakerCooldow = 30
	defaultDatabasePath   = "/data/db/voltra.db"
	defaultDecisionLog    = "/data/db/decisions.db"
	defaultSweepSeconds   = 60
)

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Exchange.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Orders.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	if len(c.RateLimits) == 0 {
		c.RateLimits = map[string]RateLimitRule{
			"orders":    {Limit: 10, WindowSeconds: 60},
			"queries":   {Limit: 120, WindowSeconds: 60},
			"sentiment": {Limit: 60, WindowSeconds: 60},
		}
	}
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (e *ExchangeConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exchange.rest_base_url", &e.RESTBaseURL, defaultExchangeREST),
		intFieldDefault("exchange.timeout_seconds", &e.TimeoutSeconds, 15),
		intFieldDefault("exchange.keepalive_minutes", &e.KeepaliveMinutes, 30),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.interval", &m.Interval, defaultMarketInterval),
		intFieldDefault("market.candle_limit", &m.CandleLimit, defaultCandleLimit),
		intFieldDefault("market.preheat_lookback", &m.PreheatLookback, defaultPreheatLook),
		fieldDefault{
			key:   "market.preheat_rps",
			need:  func() bool { return m.PreheatRPS <= 0 },
			apply: func() { m.PreheatRPS = defaultPreheatRPS },
		},
	)
}

func (o *OrdersConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("orders.poll_interval_seconds", &o.PollIntervalSeconds, defaultPollSeconds),
		intFieldDefault("orders.monitor_timeout_seconds", &o.MonitorTimeoutSeconds, defaultMonitorSeconds),
		intFieldDefault("orders.retry_max_attempts", &o.RetryMaxAttempts, defaultRetryAttempts),
		intFieldDefault("orders.retry_base_delay_ms", &o.RetryBaseDelayMS, defaultRetryBaseMS),
		intFieldDefault("orders.retry_max_delay_ms", &o.RetryMaxDelayMS, defaultRetryMaxMS),
		fieldDefault{
			key:   "orders.retry_multiplier",
			need:  func() bool { return o.RetryMultiplier <= 0 },
			apply: func() { o.RetryMultiplier = defaultRetryMult },
		},
		intFieldDefault("orders.breaker_threshold", &o.BreakerThreshold, defaultBreakerN),
		intFieldDefault("orders.breaker_window_seconds", &o.BreakerWindowSeconds, defaultBreakerWindow),
		intFieldDefault("orders.breaker_timeout_seconds", &o.BreakerTimeoutSeconds, defaultBreakerCooldow),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.database_path", &s.DatabasePath, defaultDatabasePath),
		stringFieldDefault("store.decision_log_path", &s.DecisionLogPath, defaultDecisionLog),
		intFieldDefault("store.sweep_seconds", &s.SweepSeconds, defaultSweepSeconds),
	)
}

// Helper functions

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
