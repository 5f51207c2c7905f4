package indicator

import "math"

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

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

// Vote is one indicator's verdict against current price.
type Vote struct {
	Indicator string `json:"indicator"`
	Direction Trend  `json:"direction"`
	Reason    string `json:"reason"`
}

// Signal is the fused output of all indicator votes.
type Signal struct {
	Trend      Trend    `json:"trend"`
	Strength   Strength `json:"strength"`
	Action     Action   `json:"action"`
	Confidence float64  `json:"confidence"`
	// Score is the signed agreement in [-1, 1]: (+bullish, -bearish).
	Score float64 `json:"score"`
	Votes []Vote  `json:"votes"`
}

// minimum corroborating votes before a buy/sell signal fires
const corroborationFloor = 2

// fuseSignals counts indicator votes. Trend is the majority, strength maps
// from the weighted score, confidence starts at 0.5 and gets a boost per
// corroborating indicator capped at 1.0.
func fuseSignals(s Snapshot) Signal {
	votes := collectVotes(s)

	bullish, bearish := 0, 0
	for _, v := range votes {
		switch v.Direction {
		case TrendBullish:
			bullish++
		case TrendBearish:
			bearish++
		}
	}
	total := len(votes)

	sig := Signal{Trend: TrendNeutral, Strength: StrengthWeak, Action: ActionHold, Confidence: 0.5, Votes: votes}
	if total == 0 {
		return sig
	}

	sig.Score = round4(float64(bullish-bearish) / float64(total))

	corroborating := 0
	switch {
	case bullish > bearish:
		sig.Trend = TrendBullish
		corroborating = bullish
	case bearish > bullish:
		sig.Trend = TrendBearish
		corroborating = bearish
	}

	abs := math.Abs(sig.Score)
	switch {
	case abs > 0.6:
		sig.Strength = StrengthStrong
	case abs > 0.3:
		sig.Strength = StrengthModerate
	}

	sig.Confidence = 0.5 + 0.1*float64(corroborating)
	if sig.Confidence > 1.0 {
		sig.Confidence = 1.0
	}

	if corroborating >= corroborationFloor {
		switch sig.Trend {
		case TrendBullish:
			sig.Action = ActionBuy
		case TrendBearish:
			sig.Action = ActionSell
		}
	}
	return sig
}

func collectVotes(s Snapshot) []Vote {
	votes := make([]Vote, 0, 8)
	add := func(indicator string, dir Trend, reason string) {
		if dir == TrendNeutral {
			return
		}
		votes = append(votes, Vote{Indicator: indicator, Direction: dir, Reason: reason})
	}

	switch {
	case s.RSI > 0 && s.RSI < 30:
		add("rsi", TrendBullish, "oversold")
	case s.RSI > 70:
		add("rsi", TrendBearish, "overbought")
	}

	if s.SMA > 0 {
		if s.Price > s.SMA {
			add("sma", TrendBullish, "price above SMA")
		} else if s.Price < s.SMA {
			add("sma", TrendBearish, "price below SMA")
		}
	}
	if s.EMA > 0 {
		if s.Price > s.EMA {
			add("ema", TrendBullish, "price above EMA")
		} else if s.Price < s.EMA {
			add("ema", TrendBearish, "price below EMA")
		}
	}

	if s.MACD.Histogram > 0 {
		add("macd", TrendBullish, "histogram positive")
	} else if s.MACD.Histogram < 0 {
		add("macd", TrendBearish, "histogram negative")
	}

	if s.Bollinger.Lower > 0 && s.Price < s.Bollinger.Lower {
		add("bollinger", TrendBullish, "price under lower band")
	} else if s.Bollinger.Upper > 0 && s.Price > s.Bollinger.Upper {
		add("bollinger", TrendBearish, "price over upper band")
	}

	switch {
	case s.StochK > 0 && s.StochK < 20:
		add("stoch", TrendBullish, "oversold")
	case s.StochK > 80:
		add("stoch", TrendBearish, "overbought")
	}

	switch {
	case s.WilliamsR != 0 && s.WilliamsR < -80:
		add("williams_r", TrendBullish, "oversold")
	case s.WilliamsR != 0 && s.WilliamsR > -20:
		add("williams_r", TrendBearish, "overbought")
	}

	// Volume corroborates direction: rising volume with the last bar's
	// polarity, falling volume votes nothing.
	if s.Volume == VolumeIncreasing {
		if s.Price > s.SMA && s.SMA > 0 {
			add("volume", TrendBullish, "rising volume above trend")
		} else if s.Price < s.SMA && s.SMA > 0 {
			add("volume", TrendBearish, "rising volume below trend")
		}
	}
	return votes
}
