// Package sentiment aggregates externally pushed sentiment observations
// into per-symbol snapshots the decision engine reads.
package sentiment

import "time"

type Category string

const (
	CategoryNews   Category = "news"
	CategorySocial Category = "social"
	CategoryMarket Category = "market"
)

type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

type Strength string

const (
	StrengthWeak     Strength = "weak"
	StrengthModerate Strength = "moderate"
	StrengthStrong   Strength = "strong"
)

// Observation 是外部推送的单条情绪观测。
type Observation struct {
	Source     string         `json:"source"`
	Symbol     string         `json:"symbol"`
	Sentiment  float64        `json:"sentiment"`  // [-1, 1]
	Confidence float64        `json:"confidence"` // [0, 1]
	Timestamp  time.Time      `json:"timestamp"`
	Text       string         `json:"text,omitempty"`
	URL        string         `json:"url,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// CategoryScore is the confidence-weighted mean of one source category.
type CategoryScore struct {
	Category   Category `json:"category"`
	Score      float64  `json:"score"`
	Confidence float64  `json:"confidence"`
	Count      int      `json:"count"`
}

// Snapshot 是单个 symbol 的聚合结果，是决策引擎读取的唯一情绪来源。
type Snapshot struct {
	Symbol       string                     `json:"symbol"`
	Score        float64                    `json:"score"` // blended, [-1, 1]
	Trend        Trend                      `json:"trend"`
	Strength     Strength                   `json:"strength"`
	Confidence   float64                    `json:"confidence"`
	Categories   map[Category]CategoryScore `json:"categories,omitempty"`
	Observations int                        `json:"observations"`
	UpdatedAt    time.Time                  `json:"updated_at"`
}

// Neutral is the snapshot returned when no data exists for a symbol.
func Neutral(symbol string) Snapshot {
	return Snapshot{
		Symbol:   symbol,
		Trend:    TrendNeutral,
		Strength: StrengthWeak,
	}
}

// Thresholds drive trend/strength classification of the blended score.
type Thresholds struct {
	Bullish  float64 // score above → bullish
	Bearish  float64 // score below → bearish
	Strong   float64 // |score| above → strong
	Moderate float64 // |score| above → moderate
}

func (t Thresholds) withDefaults() Thresholds {
	if t.Bullish == 0 {
		t.Bullish = 0.2
	}
	if t.Bearish == 0 {
		t.Bearish = -0.2
	}
	if t.Strong == 0 {
		t.Strong = 0.6
	}
	if t.Moderate == 0 {
		t.Moderate = 0.3
	}
	return t
}
