// Package decision turns technical and sentiment snapshots plus the
// current position into trade decisions via a per (portfolio, symbol)
// state machine: Flat, Entering, Open, Exiting.
package decision

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"voltra/internal/portfolio"
)

type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
	ActionHold Action = "HOLD"
)

type State string

const (
	StateFlat     State = "FLAT"
	StateEntering State = "ENTERING"
	StateOpen     State = "OPEN"
	StateExiting  State = "EXITING"
)

const auditCap = 200

// Config 是决策引擎的阈值与权重,零值回落到默认值。
type Config struct {
	TechnicalEntry  float64 `mapstructure:"technical_entry"`
	SentimentEntry  float64 `mapstructure:"sentiment_entry"`
	ExitThreshold   float64 `mapstructure:"exit_threshold"`
	SentimentWeight float64 `mapstructure:"sentiment_weight"`
	TechnicalWeight float64 `mapstructure:"technical_weight"`
	MinConfidence   float64 `mapstructure:"min_confidence"`
}

func (c Config) withDefaults() Config {
	if c.TechnicalEntry <= 0 {
		c.TechnicalEntry = 0.7
	}
	if c.SentimentEntry <= 0 {
		c.SentimentEntry = 0.3
	}
	if c.ExitThreshold <= 0 {
		c.ExitThreshold = 0.5
	}
	if c.SentimentWeight <= 0 {
		c.SentimentWeight = 0.4
	}
	if c.TechnicalWeight <= 0 {
		c.TechnicalWeight = 0.6
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = 0.6
	}
	return c
}

// Decision is one evaluated tick. AutoExecute reports whether confidence
// cleared the execution gate; low-confidence decisions are still recorded.
type Decision struct {
	PortfolioID    string    `json:"portfolio_id"`
	Symbol         string    `json:"symbol"`
	Action         Action    `json:"action"`
	State          State     `json:"state"`
	Confidence     float64   `json:"confidence"`
	TechnicalScore float64   `json:"technical_score"`
	Sentiment      float64   `json:"sentiment"`
	Reasoning      string    `json:"reasoning"`
	AutoExecute    bool      `json:"auto_execute"`
	Time           time.Time `json:"time"`
}

type key struct{ portfolioID, symbol string }

// Engine holds per-key state and a bounded audit trail.
type Engine struct {
	cfg    Config
	mu     sync.Mutex
	states map[key]State
	audit  []Decision
	clock  func() time.Time
}

func NewEngine(cfg Config) *Engine {
	return &Engine{
		cfg:    cfg.withDefaults(),
		states: make(map[key]State),
		clock:  time.Now,
	}
}

// Evaluate runs one tick of the state machine. The open position, when
// present, is authoritative over any transitional state left behind by a
// previous tick.
func (e *Engine) Evaluate(portfolioID, symbol string, technical, sentiment float64, pos *portfolio.Position) Decision {
	k := key{portfolioID, symbol}
	e.mu.Lock()
	defer e.mu.Unlock()

	state := e.reconcile(k, pos)
	d := Decision{
		PortfolioID:    portfolioID,
		Symbol:         symbol,
		Action:         ActionHold,
		State:          state,
		TechnicalScore: technical,
		Sentiment:      sentiment,
		Time:           e.clock(),
	}

	switch state {
	case StateFlat:
		e.evaluateEntry(&d, k, technical, sentiment)
	case StateOpen:
		e.evaluateExit(&d, k, technical, sentiment, pos)
	default:
		// Entering/Exiting: an order is in flight, hold until it resolves.
		d.Reasoning = fmt.Sprintf("order in flight (%s), holding", strings.ToLower(string(state)))
	}

	d.Confidence = e.confidence(technical, sentiment)
	d.AutoExecute = d.Action != ActionHold && d.Confidence >= e.cfg.MinConfidence
	if d.Action != ActionHold && !d.AutoExecute {
		d.Reasoning += fmt.Sprintf("; confidence %.2f below execution gate %.2f, recorded only",
			d.Confidence, e.cfg.MinConfidence)
	}

	e.audit = append(e.audit, d)
	if len(e.audit) > auditCap {
		e.audit = e.audit[len(e.audit)-auditCap:]
	}
	return d
}

// reconcile trues up stored state against the actual position.
func (e *Engine) reconcile(k key, pos *portfolio.Position) State {
	state, ok := e.states[k]
	if !ok {
		state = StateFlat
	}
	open := pos != nil && pos.Status == portfolio.PositionOpen
	switch {
	case open && (state == StateFlat || state == StateEntering):
		state = StateOpen
	case !open && (state == StateOpen || state == StateExiting):
		state = StateFlat
	}
	e.states[k] = state
	return state
}

// evaluateEntry requires technical and sentiment to agree in sign and
// each clear its own threshold.
func (e *Engine) evaluateEntry(d *Decision, k key, technical, sentiment float64) {
	techOK := math.Abs(technical) >= e.cfg.TechnicalEntry
	sentOK := math.Abs(sentiment) >= e.cfg.SentimentEntry
	agree := technical*sentiment > 0

	switch {
	case techOK && sentOK && agree && technical > 0:
		d.Action = ActionBuy
		d.State = StateEntering
		e.states[k] = StateEntering
		d.Reasoning = fmt.Sprintf("entry long: technical %.2f >= %.2f and sentiment %.2f >= %.2f, signs agree",
			technical, e.cfg.TechnicalEntry, sentiment, e.cfg.SentimentEntry)
	case techOK && sentOK && agree && technical < 0:
		d.Action = ActionSell
		d.State = StateEntering
		e.states[k] = StateEntering
		d.Reasoning = fmt.Sprintf("entry short: technical %.2f <= -%.2f and sentiment %.2f <= -%.2f, signs agree",
			technical, e.cfg.TechnicalEntry, sentiment, e.cfg.SentimentEntry)
	case !agree && techOK && sentOK:
		d.Reasoning = fmt.Sprintf("signals disagree: technical %.2f vs sentiment %.2f", technical, sentiment)
	case !techOK:
		d.Reasoning = fmt.Sprintf("technical %.2f below entry threshold %.2f", technical, e.cfg.TechnicalEntry)
	default:
		d.Reasoning = fmt.Sprintf("sentiment %.2f below entry threshold %.2f", sentiment, e.cfg.SentimentEntry)
	}
}

// evaluateExit is side-aware: a long exits on strongly negative signals,
// a short on the symmetric positive condition.
func (e *Engine) evaluateExit(d *Decision, k key, technical, sentiment float64, pos *portfolio.Position) {
	short := pos != nil && pos.Side == portfolio.SideShort
	var trigger bool
	if short {
		trigger = technical > e.cfg.ExitThreshold || sentiment > e.cfg.ExitThreshold
	} else {
		trigger = technical < -e.cfg.ExitThreshold || sentiment < -e.cfg.ExitThreshold
	}
	if !trigger {
		d.Reasoning = fmt.Sprintf("holding %s: technical %.2f, sentiment %.2f within exit bounds",
			sideWord(short), technical, sentiment)
		return
	}
	if short {
		d.Action = ActionBuy
	} else {
		d.Action = ActionSell
	}
	d.State = StateExiting
	e.states[k] = StateExiting
	d.Reasoning = fmt.Sprintf("exit %s: technical %.2f or sentiment %.2f crossed %.2f",
		sideWord(short), technical, sentiment, e.cfg.ExitThreshold)
}

func sideWord(short bool) string {
	if short {
		return "short"
	}
	return "long"
}

func (e *Engine) confidence(technical, sentiment float64) float64 {
	c := 0.5 + math.Abs(sentiment)*e.cfg.SentimentWeight + math.Abs(technical)*e.cfg.TechnicalWeight
	return math.Min(math.Max(c, 0), 1)
}

// OrderResolved reports the outcome of an in-flight order so the state
// machine can leave its transitional state.
func (e *Engine) OrderResolved(portfolioID, symbol string, filled bool) {
	k := key{portfolioID, symbol}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.states[k] {
	case StateEntering:
		if filled {
			e.states[k] = StateOpen
		} else {
			e.states[k] = StateFlat
		}
	case StateExiting:
		if filled {
			e.states[k] = StateFlat
		} else {
			e.states[k] = StateOpen
		}
	}
}

// CurrentState exposes the machine's view, mainly for the HTTP surface.
func (e *Engine) CurrentState(portfolioID, symbol string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.states[key{portfolioID, symbol}]; ok {
		return s
	}
	return StateFlat
}

// Audit returns recent decisions for a symbol, newest last. Empty symbol
// returns everything.
func (e *Engine) Audit(symbol string) []Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	if symbol == "" {
		return append([]Decision(nil), e.audit...)
	}
	var out []Decision
	for _, d := range e.audit {
		if d.Symbol == symbol {
			out = append(out, d)
		}
	}
	return out
}
