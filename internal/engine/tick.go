package engine

import (
	"context"
	"time"

	"voltra/internal/decision"
	"voltra/internal/gateway/exchange"
	"voltra/internal/logger"
	"voltra/internal/order"
	"voltra/internal/pkg/errs"
	"voltra/internal/portfolio"
	"voltra/internal/risk"
)

var errTickerUnquotable = errs.New(errs.KindExchangeAPI, "engine.ticker", "ticker has no usable last price")

// tick 是一轮完整的决策周期:逐组合、逐 symbol 评估并下单。单个 symbol
// 出错只影响自己,不中断整轮。
func (e *Engine) tick(ctx context.Context) {
	start := e.clock()
	evaluated, placed := 0, 0

	for _, p := range e.deps.Book.List() {
		for _, slot := range p.Symbols {
			if !slot.Active {
				continue
			}
			evaluated++
			if e.evaluateSymbol(ctx, p, slot) {
				placed++
			}
			if ctx.Err() != nil {
				return
			}
		}
	}
	logger.Infof("engine: tick done evaluated=%d placed=%d dur=%s",
		evaluated, placed, e.clock().Sub(start).Truncate(time.Millisecond))
}

func (e *Engine) evaluateSymbol(ctx context.Context, p *portfolio.Portfolio, slot portfolio.PortfolioSymbol) bool {
	symbol := slot.Symbol

	if e.deps.Limiter != nil {
		if res := e.deps.Limiter.Check(queryRateCategory, symbol); !res.Allowed {
			logger.Warnf("engine: query budget exhausted for %s, skipping until %s", symbol, res.ResetAt)
			return false
		}
	}

	snap, err := e.deps.Analysis.Refresh(ctx, symbol, e.cfg.Interval, e.cfg.CandleLimit)
	if err != nil {
		logger.Warnf("engine: refresh %s failed: %v", symbol, err)
		return false
	}
	e.saveSnapshot(ctx, symbol, "technical", snap)

	senti := e.deps.Sentiment.Latest(symbol)
	e.saveSnapshot(ctx, symbol, "sentiment", senti)

	d := e.deps.Decider.Evaluate(p.ID, symbol, snap.Score(), senti.Score, slot.Position)
	if e.deps.Decisions != nil {
		if err := e.deps.Decisions.Append(ctx, d); err != nil {
			logger.Warnf("engine: append decision log failed: %v", err)
		}
	}
	if d.Action == decision.ActionHold || !d.AutoExecute {
		return false
	}

	o, rc, err := e.buildOrder(ctx, p, slot, d, snap.Volatility())
	if err != nil {
		logger.Warnf("engine: build order %s %s failed: %v", d.Action, symbol, err)
		e.deps.Decider.OrderResolved(p.ID, symbol, false)
		return false
	}
	if o == nil {
		e.deps.Decider.OrderResolved(p.ID, symbol, false)
		return false
	}

	if _, err := e.deps.Orders.PlaceOrder(ctx, o, rc); err != nil {
		logger.Warnf("engine: place %s %s failed: %v", o.Side, symbol, err)
		return false
	}
	return true
}

// buildOrder 把一条可执行决策转换为订单与规则上下文。返回 (nil, _, nil)
// 表示该决策被风险侧否决。
func (e *Engine) buildOrder(
	ctx context.Context,
	p *portfolio.Portfolio,
	slot portfolio.PortfolioSymbol,
	d decision.Decision,
	volatility float64,
) (*order.Order, order.RuleContext, error) {
	symbol := slot.Symbol

	ticker, err := e.cachedTicker(ctx, symbol)
	if err != nil {
		return nil, order.RuleContext{}, err
	}
	price := ticker.Last
	if price <= 0 {
		return nil, order.RuleContext{}, errTickerUnquotable
	}
	book, err := e.deps.Gateway.GetOrderBook(ctx, symbol, bookDepth)
	if err != nil {
		logger.Debugf("engine: order book for %s unavailable: %v", symbol, err)
	}

	open := p.OpenPositions()
	var o *order.Order

	switch {
	case d.Action == decision.ActionBuy && slot.Position == nil:
		qty, ok := e.sizeEntry(p, slot, d, price, volatility, open)
		if !ok {
			return nil, order.RuleContext{}, nil
		}
		o = e.newOrder(p.ID, symbol, exchange.SideBuy, qty, price, d)

	case d.Action == decision.ActionSell && slot.Position != nil && slot.Position.Side == portfolio.SideLong:
		o = e.newOrder(p.ID, symbol, exchange.SideSell, slot.Position.Quantity, price, d)

	case d.Action == decision.ActionBuy && slot.Position != nil && slot.Position.Side == portfolio.SideShort:
		o = e.newOrder(p.ID, symbol, exchange.SideBuy, slot.Position.Quantity, price, d)

	default:
		// 现货无法开空,做空入场只留在审计里。
		logger.Debugf("engine: skipping %s %s (unsupported on spot)", d.Action, symbol)
		return nil, order.RuleContext{}, nil
	}

	budget := p.Budget.Total.InexactFloat64()
	projected := projectedRisk(open, budget)
	if budget > 0 {
		projected += o.Notional() / budget
	}

	rc := order.RuleContext{
		Ticker:        &ticker,
		Volatility:    volatility,
		PortfolioRisk: projected,
		OpenPositions: len(open),
		MarketOpen:    true,
	}
	if err == nil && len(book.Bids)+len(book.Asks) > 0 {
		rc.Book = &book
	}
	return o, rc, nil
}

// sizeEntry 跑完整个仓位阶梯并做风险定级,任何一条否决理由都放弃入场。
func (e *Engine) sizeEntry(
	p *portfolio.Portfolio,
	slot portfolio.PortfolioSymbol,
	d decision.Decision,
	price, volatility float64,
	open []*portfolio.Position,
) (float64, bool) {
	budget := p.SymbolBudget(slot.Symbol).InexactFloat64()
	if budget <= 0 {
		logger.Warnf("engine: no budget allocated for %s", slot.Symbol)
		return 0, false
	}

	sized, err := e.deps.Sizer.SizePosition(risk.SizingInput{
		Budget:     budget,
		Confidence: d.Confidence,
		Price:      price,
		Volatility: volatility,
		OpenCount:  len(open),
	})
	if err != nil {
		logger.Warnf("engine: sizing %s failed: %v", slot.Symbol, err)
		return 0, false
	}

	total := p.Budget.Total.InexactFloat64()
	existing := make([]risk.ExistingPosition, 0, len(open))
	for _, pos := range open {
		existing = append(existing, risk.ExistingPosition{
			Symbol: pos.Symbol,
			Risk:   pos.Notional() / total,
		})
	}
	assessment, reasons := e.deps.Sizer.ValidatePosition(risk.AssessInput{
		Symbol:     slot.Symbol,
		Quantity:   sized.Quantity,
		Price:      price,
		Budget:     total,
		Volatility: volatility,
		Existing:   existing,
	})
	if len(reasons) > 0 {
		logger.Warnf("engine: entry %s rejected (level=%s): %v", slot.Symbol, assessment.Level, reasons)
		return 0, false
	}
	logger.Infof("engine: sized %s qty=%.6f method=%s risk=%.4f level=%s",
		slot.Symbol, sized.Quantity, sized.Method, assessment.Total, assessment.Level)
	return sized.Quantity, true
}

func (e *Engine) newOrder(portfolioID, symbol string, side exchange.OrderSide, qty, price float64, d decision.Decision) *order.Order {
	return &order.Order{
		PortfolioID:   portfolioID,
		Symbol:        symbol,
		Side:          side,
		Type:          exchange.TypeMarket,
		Quantity:      qty,
		ExpectedPrice: price,
		Confidence:    d.Confidence,
		Reason:        d.Reasoning,
	}
}

func projectedRisk(open []*portfolio.Position, budget float64) float64 {
	if budget <= 0 {
		return 0
	}
	total := 0.0
	for _, pos := range open {
		total += pos.Notional() / budget
	}
	return total
}
