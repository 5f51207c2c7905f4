package indicator

import "sort"

const (
	volumeLookback = 5
	levelLookback  = 50
)

// classifyVolumeTrend compares the recent average volume against the prior
// window: ratio above upRatio is increasing, below downRatio decreasing.
func classifyVolumeTrend(volumes []float64, upRatio, downRatio float64) VolumeTrend {
	if len(volumes) < volumeLookback*2 {
		return VolumeStable
	}
	recent := volumes[len(volumes)-volumeLookback:]
	prior := volumes[len(volumes)-volumeLookback*2 : len(volumes)-volumeLookback]

	recentAvg := mean(recent)
	priorAvg := mean(prior)
	if priorAvg <= 0 {
		return VolumeStable
	}
	ratio := recentAvg / priorAvg
	switch {
	case ratio > upRatio:
		return VolumeIncreasing
	case ratio < downRatio:
		return VolumeDecreasing
	default:
		return VolumeStable
	}
}

// fibonacciLevels derives retracement levels from the lookback high/low.
func fibonacciLevels(highs, lows []float64) FibLevels {
	high, low := rangeExtrema(highs, lows)
	diff := high - low
	return FibLevels{
		High:     high,
		Low:      low,
		Level236: round4(high - diff*0.236),
		Level382: round4(high - diff*0.382),
		Level500: round4(high - diff*0.5),
		Level618: round4(high - diff*0.618),
		Level786: round4(high - diff*0.786),
	}
}

// supportResistance picks the top-3 distinct recent lows below price as
// support and the top-3 distinct recent highs above price as resistance.
func supportResistance(highs, lows []float64, price float64) (support, resistance []float64) {
	start := 0
	if len(highs) > levelLookback {
		start = len(highs) - levelLookback
	}

	lowSet := make(map[float64]bool)
	for _, v := range lows[start:] {
		v = round4(v)
		if v > 0 && v < price {
			lowSet[v] = true
		}
	}
	highSet := make(map[float64]bool)
	for _, v := range highs[start:] {
		v = round4(v)
		if v > price {
			highSet[v] = true
		}
	}

	support = topN(lowSet, 3, true)
	resistance = topN(highSet, 3, false)
	return support, resistance
}

// topN returns the n values closest to price: descending for supports
// (highest lows first), ascending for resistances (lowest highs first).
func topN(set map[float64]bool, n int, descending bool) []float64 {
	values := make([]float64, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Float64s(values)
	if descending {
		for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
			values[i], values[j] = values[j], values[i]
		}
	}
	if len(values) > n {
		values = values[:n]
	}
	return values
}

func rangeExtrema(highs, lows []float64) (high, low float64) {
	start := 0
	if len(highs) > levelLookback {
		start = len(highs) - levelLookback
	}
	for i := start; i < len(highs); i++ {
		if highs[i] > high {
			high = highs[i]
		}
		if low == 0 || (lows[i] > 0 && lows[i] < low) {
			low = lows[i]
		}
	}
	return high, low
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
