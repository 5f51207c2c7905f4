package sentiment

import (
	"math"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
	symbolpkg "voltra/internal/pkg/symbol"
)

const (
	snapshotHistoryLimit = 100
	observationLimit     = 500
)

// Category base weights before scaling by each category's own confidence.
var baseWeights = map[Category]decimal.Decimal{
	CategoryNews:   dec("0.4"),
	CategorySocial: dec("0.3"),
	CategoryMarket: dec("0.3"),
}

// Aggregator 接收推送的情绪观测并按 symbol 聚合。Ingestion never blocks on
// aggregation: observations land under a short lock, recomputation runs on
// a single worker goroutine fed by a wake channel.
type Aggregator struct {
	thresholds Thresholds

	mu           sync.RWMutex
	tracked      map[string]bool
	observations map[string][]Observation
	latest       map[string]Snapshot
	history      map[string][]Snapshot
	clock        func() time.Time

	wakeCh chan string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewAggregator(thresholds Thresholds) *Aggregator {
	return &Aggregator{
		thresholds:   thresholds.withDefaults(),
		tracked:      make(map[string]bool),
		observations: make(map[string][]Observation),
		latest:       make(map[string]Snapshot),
		history:      make(map[string][]Snapshot),
		clock:        time.Now,
		wakeCh:       make(chan string, 256),
		stopCh:       make(chan struct{}),
	}
}

// Start launches the aggregation worker. Stop with Close.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-a.stopCh:
				return
			case symbol := <-a.wakeCh:
				a.Aggregate(symbol)
			}
		}
	}()
}

func (a *Aggregator) Close() {
	close(a.stopCh)
	a.wg.Wait()
}

// Track registers a symbol for sentiment aggregation.
func (a *Aggregator) Track(symbol string) {
	symbol = normalize(symbol)
	if symbol == "" {
		return
	}
	a.mu.Lock()
	a.tracked[symbol] = true
	a.mu.Unlock()
}

func (a *Aggregator) Untrack(symbol string) {
	symbol = normalize(symbol)
	a.mu.Lock()
	delete(a.tracked, symbol)
	delete(a.observations, symbol)
	delete(a.latest, symbol)
	delete(a.history, symbol)
	a.mu.Unlock()
}

func (a *Aggregator) Tracked() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.tracked))
	for sym := range a.tracked {
		out = append(out, sym)
	}
	return out
}

// Ingest validates and stores one observation, then wakes the aggregation
// worker. Observations for untracked symbols are rejected so pushers find
// out they are feeding a symbol we do not trade.
func (a *Aggregator) Ingest(obs Observation) error {
	if err := validateObservation(obs); err != nil {
		return err
	}
	symbol := normalize(obs.Symbol)
	obs.Symbol = symbol
	if obs.Timestamp.IsZero() {
		obs.Timestamp = a.clock()
	}

	a.mu.Lock()
	if !a.tracked[symbol] {
		a.mu.Unlock()
		logger.Warnf("sentiment: rejecting observation for untracked symbol %s (source=%s)", symbol, obs.Source)
		return errs.Validation("sentiment.ingest", "symbol %s is not tracked", symbol)
	}
	stored := append(a.observations[symbol], obs)
	if len(stored) > observationLimit {
		stored = stored[len(stored)-observationLimit:]
	}
	a.observations[symbol] = stored
	a.mu.Unlock()

	select {
	case a.wakeCh <- symbol:
	default:
		// Worker backlog; the symbol will be recomputed by a later wake.
		logger.Debugf("sentiment: wake channel full for %s", symbol)
	}
	return nil
}

// Aggregate recomputes the snapshot for one symbol from its stored
// observations. Deterministic: the same observation set always yields the
// same snapshot (timestamps aside, see UpdatedAt).
func (a *Aggregator) Aggregate(symbol string) Snapshot {
	symbol = normalize(symbol)

	a.mu.RLock()
	observations := a.observations[symbol]
	obsCopy := make([]Observation, len(observations))
	copy(obsCopy, observations)
	a.mu.RUnlock()

	snap := blend(symbol, obsCopy, a.thresholds)
	snap.UpdatedAt = a.clock()

	a.mu.Lock()
	a.latest[symbol] = snap
	hist := append(a.history[symbol], snap)
	if len(hist) > snapshotHistoryLimit {
		hist = hist[len(hist)-snapshotHistoryLimit:]
	}
	a.history[symbol] = hist
	a.mu.Unlock()
	return snap
}

// Latest returns the current snapshot; symbols without data report the
// neutral zero-confidence result.
func (a *Aggregator) Latest(symbol string) Snapshot {
	symbol = normalize(symbol)
	a.mu.RLock()
	defer a.mu.RUnlock()
	if snap, ok := a.latest[symbol]; ok {
		return snap
	}
	return Neutral(symbol)
}

func (a *Aggregator) History(symbol string) []Snapshot {
	symbol = normalize(symbol)
	a.mu.RLock()
	defer a.mu.RUnlock()
	hist := a.history[symbol]
	out := make([]Snapshot, len(hist))
	copy(out, hist)
	return out
}

// blend computes the category-weighted score: per-category confidence-
// weighted means, blended with base weights scaled by each category's own
// confidence, normalized by total weight.
func blend(symbol string, observations []Observation, th Thresholds) Snapshot {
	if len(observations) == 0 {
		return Neutral(symbol)
	}

	type bucket struct {
		scoreSum  decimal.Decimal
		weightSum decimal.Decimal
		confSum   decimal.Decimal
		count     int
	}
	buckets := make(map[Category]*bucket)
	for _, obs := range observations {
		cat := classifySource(obs.Source)
		b := buckets[cat]
		if b == nil {
			b = &bucket{}
			buckets[cat] = b
		}
		conf := decimal.NewFromFloat(obs.Confidence)
		b.scoreSum = b.scoreSum.Add(decimal.NewFromFloat(obs.Sentiment).Mul(conf))
		b.weightSum = b.weightSum.Add(conf)
		b.confSum = b.confSum.Add(conf)
		b.count++
	}

	categories := make(map[Category]CategoryScore, len(buckets))
	weighted := decimal.Zero
	totalWeight := decimal.Zero
	for cat, b := range buckets {
		if b.weightSum.IsZero() {
			continue
		}
		catScore := b.scoreSum.Div(b.weightSum)
		catConf := b.confSum.Div(decimal.NewFromInt(int64(b.count)))
		categories[cat] = CategoryScore{
			Category:   cat,
			Score:      catScore.InexactFloat64(),
			Confidence: catConf.InexactFloat64(),
			Count:      b.count,
		}
		weight := baseWeights[cat].Mul(catConf)
		weighted = weighted.Add(catScore.Mul(weight))
		totalWeight = totalWeight.Add(weight)
	}
	if totalWeight.IsZero() {
		return Neutral(symbol)
	}

	score := weighted.Div(totalWeight).InexactFloat64()
	confidence := avgConfidence(categories)

	snap := Snapshot{
		Symbol:       symbol,
		Score:        score,
		Confidence:   confidence,
		Categories:   categories,
		Observations: len(observations),
		Trend:        TrendNeutral,
		Strength:     StrengthWeak,
	}
	switch {
	case score > th.Bullish:
		snap.Trend = TrendBullish
	case score < th.Bearish:
		snap.Trend = TrendBearish
	}
	switch abs := math.Abs(score); {
	case abs > th.Strong:
		snap.Strength = StrengthStrong
	case abs > th.Moderate:
		snap.Strength = StrengthModerate
	}
	return snap
}

func avgConfidence(categories map[Category]CategoryScore) float64 {
	if len(categories) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range categories {
		sum += c.Confidence
	}
	return sum / float64(len(categories))
}

func validateObservation(obs Observation) error {
	if strings.TrimSpace(obs.Symbol) == "" {
		return errs.Validation("sentiment.ingest", "symbol is required")
	}
	if strings.TrimSpace(obs.Source) == "" {
		return errs.Validation("sentiment.ingest", "source is required")
	}
	if obs.Sentiment < -1 || obs.Sentiment > 1 {
		return errs.Validation("sentiment.ingest", "sentiment %.3f outside [-1, 1]", obs.Sentiment)
	}
	if obs.Confidence < 0 || obs.Confidence > 1 {
		return errs.Validation("sentiment.ingest", "confidence %.3f outside [0, 1]", obs.Confidence)
	}
	return nil
}

func normalize(symbol string) string {
	if norm := symbolpkg.Normalize(symbol); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func dec(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}
