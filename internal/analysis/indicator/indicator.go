// Package indicator computes the technical snapshot the decision engine
// reads: classic indicators over an OHLCV series plus a vote-counting
// signal fusion.
package indicator

import (
	"math"
	"strings"
	"time"

	"github.com/markcheno/go-talib"

	"voltra/internal/market"
	"voltra/internal/pkg/errs"
)

// Settings 描述计算指标所需的最小配置。
type Settings struct {
	Symbol   string
	Interval string

	RSIPeriod  int
	SMAPeriod  int
	EMAPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	BBPeriod   int
	BBStdDev   float64
	StochK     int
	WilliamsR  int
	ATRPeriod  int

	// Volume-trend thresholds: recent/prior average volume ratio.
	VolumeUpRatio   float64
	VolumeDownRatio float64
}

func (s Settings) withDefaults() Settings {
	if s.RSIPeriod <= 0 {
		s.RSIPeriod = 14
	}
	if s.SMAPeriod <= 0 {
		s.SMAPeriod = 20
	}
	if s.EMAPeriod <= 0 {
		s.EMAPeriod = 20
	}
	if s.MACDFast <= 0 {
		s.MACDFast = 12
	}
	if s.MACDSlow <= 0 {
		s.MACDSlow = 26
	}
	if s.MACDSignal <= 0 {
		s.MACDSignal = 9
	}
	if s.BBPeriod <= 0 {
		s.BBPeriod = 20
	}
	if s.BBStdDev <= 0 {
		s.BBStdDev = 2
	}
	if s.StochK <= 0 {
		s.StochK = 14
	}
	if s.WilliamsR <= 0 {
		s.WilliamsR = 14
	}
	if s.ATRPeriod <= 0 {
		s.ATRPeriod = 14
	}
	if s.VolumeUpRatio <= 0 {
		s.VolumeUpRatio = 1.2
	}
	if s.VolumeDownRatio <= 0 {
		s.VolumeDownRatio = 0.8
	}
	return s
}

// minCandles is the largest lookback any configured indicator needs.
func (s Settings) minCandles() int {
	required := s.MACDSlow + s.MACDSignal
	for _, n := range []int{s.RSIPeriod + 1, s.SMAPeriod, s.EMAPeriod, s.BBPeriod, s.StochK + 3, s.WilliamsR, s.ATRPeriod + 1} {
		if n > required {
			required = n
		}
	}
	return required
}

type MACDValue struct {
	MACD      float64 `json:"macd"`
	Signal    float64 `json:"signal"`
	Histogram float64 `json:"histogram"`
}

type BollingerValue struct {
	Upper  float64 `json:"upper"`
	Middle float64 `json:"middle"`
	Lower  float64 `json:"lower"`
}

type FibLevels struct {
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Level236 float64 `json:"level_236"`
	Level382 float64 `json:"level_382"`
	Level500 float64 `json:"level_500"`
	Level618 float64 `json:"level_618"`
	Level786 float64 `json:"level_786"`
}

type VolumeTrend string

const (
	VolumeIncreasing VolumeTrend = "increasing"
	VolumeDecreasing VolumeTrend = "decreasing"
	VolumeStable     VolumeTrend = "stable"
)

// Snapshot 汇总单个 symbol+interval 的指标输出，是决策引擎读取的
// 唯一技术面来源。
type Snapshot struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Count    int    `json:"count"`

	Price      float64        `json:"price"`
	RSI        float64        `json:"rsi"`
	SMA        float64        `json:"sma"`
	EMA        float64        `json:"ema"`
	MACD       MACDValue      `json:"macd"`
	Bollinger  BollingerValue `json:"bollinger"`
	StochK     float64        `json:"stoch_k"`
	WilliamsR  float64        `json:"williams_r"`
	ATR        float64        `json:"atr"`
	Volume     VolumeTrend    `json:"volume_trend"`
	Fibonacci  FibLevels      `json:"fibonacci"`
	Support    []float64      `json:"support,omitempty"`
	Resistance []float64      `json:"resistance,omitempty"`

	Signal      Signal    `json:"signal"`
	GeneratedAt time.Time `json:"generated_at"`
}

// Score returns the signed technical score in [-1, 1] the decision engine
// consumes: positive bullish, negative bearish.
func (s Snapshot) Score() float64 {
	return s.Signal.Score
}

// Volatility is ATR relative to price, the volatility input for sizing.
func (s Snapshot) Volatility() float64 {
	if s.Price <= 0 {
		return 0
	}
	return s.ATR / s.Price
}

// Analyze 计算全部指标并融合为交易信号。
func Analyze(candles []market.Candle, cfg Settings) (Snapshot, error) {
	cfg = cfg.withDefaults()
	snap := Snapshot{
		Symbol:      strings.ToUpper(strings.TrimSpace(cfg.Symbol)),
		Interval:    cfg.Interval,
		Count:       len(candles),
		GeneratedAt: time.Now(),
	}
	if need := cfg.minCandles(); len(candles) < need {
		return snap, errs.InsufficientData("indicator.analyze",
			"%s needs %d candles, have %d", snap.Symbol, need, len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}
	snap.Price = closes[len(closes)-1]

	snap.RSI = lastValid(sanitizeSeries(talib.Rsi(closes, cfg.RSIPeriod)))
	snap.SMA = lastValid(sanitizeSeries(talib.Sma(closes, cfg.SMAPeriod)))
	snap.EMA = lastValid(trimLeadingZeros(sanitizeSeries(talib.Ema(closes, cfg.EMAPeriod))))

	macd, signal, hist := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	snap.MACD = MACDValue{
		MACD:      lastValid(sanitizeSeries(macd)),
		Signal:    lastValid(sanitizeSeries(signal)),
		Histogram: lastValid(sanitizeSeries(hist)),
	}

	upper, middle, lower := talib.BBands(closes, cfg.BBPeriod, cfg.BBStdDev, cfg.BBStdDev, talib.SMA)
	snap.Bollinger = BollingerValue{
		Upper:  lastValid(sanitizeSeries(upper)),
		Middle: lastValid(sanitizeSeries(middle)),
		Lower:  lastValid(sanitizeSeries(lower)),
	}

	k, _ := talib.Stoch(highs, lows, closes, cfg.StochK, 3, talib.SMA, 3, talib.SMA)
	snap.StochK = lastValid(sanitizeSeries(k))
	snap.WilliamsR = lastValid(sanitizeSeries(talib.WillR(highs, lows, closes, cfg.WilliamsR)))
	snap.ATR = lastValid(sanitizeSeries(talib.Atr(highs, lows, closes, cfg.ATRPeriod)))

	snap.Volume = classifyVolumeTrend(volumes, cfg.VolumeUpRatio, cfg.VolumeDownRatio)
	snap.Fibonacci = fibonacciLevels(highs, lows)
	snap.Support, snap.Resistance = supportResistance(highs, lows, snap.Price)

	snap.Signal = fuseSignals(snap)
	return snap, nil
}

// ComputeATRSeries 单独计算 ATR 序列，给风险评估用。
func ComputeATRSeries(candles []market.Candle, period int) ([]float64, error) {
	if len(candles) == 0 {
		return nil, errs.InsufficientData("indicator.atr", "no candles")
	}
	if period <= 0 {
		period = 14
	}
	if len(candles) < period+1 {
		return nil, errs.InsufficientData("indicator.atr", "need %d candles, have %d", period+1, len(candles))
	}
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	closes := make([]float64, len(candles))
	for i, c := range candles {
		highs[i] = c.High
		lows[i] = c.Low
		closes[i] = c.Close
	}
	series := trimLeadingZeros(sanitizeSeries(talib.Atr(highs, lows, closes, period)))
	if len(series) == 0 {
		return nil, errs.InsufficientData("indicator.atr", "atr series empty")
	}
	return series, nil
}

func sanitizeSeries(src []float64) []float64 {
	out := make([]float64, 0, len(src))
	for _, v := range src {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, round4(v))
	}
	return out
}

// trimLeadingZeros drops TALib's zero-seeded EMA warmup values.
func trimLeadingZeros(series []float64) []float64 {
	start := 0
	for start < len(series) && almostZero(series[start]) {
		start++
	}
	return series[start:]
}

func almostZero(v float64) bool {
	return math.Abs(v) <= 1e-9
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
