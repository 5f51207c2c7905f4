package portfolio

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"voltra/internal/logger"
	"voltra/internal/pkg/errs"
)

const maxHistoryEntries = 200

// Repository persists portfolios. Implemented by the gorm store; defined
// here so the manager does not depend on the storage layer.
type Repository interface {
	SavePortfolio(ctx context.Context, p *Portfolio) error
	LoadPortfolios(ctx context.Context) ([]*Portfolio, error)
	DeletePortfolio(ctx context.Context, id string) error
}

// CreateRequest carries the user-facing fields for a new portfolio.
type CreateRequest struct {
	Name        string
	Budget      Budget
	Constraints RiskConstraints
	Symbols     []PortfolioSymbol
}

// Manager 负责组合的全部写路径,读路径返回深拷贝快照。
type Manager struct {
	mu    sync.RWMutex
	repo  Repository
	books map[string]*Portfolio
	clock func() time.Time
	idFn  func() string
}

func NewManager(repo Repository) *Manager {
	return &Manager{
		repo:  repo,
		books: make(map[string]*Portfolio),
		clock: time.Now,
		idFn:  uuid.NewString,
	}
}

// Restore loads persisted portfolios into memory. Called once at startup.
func (m *Manager) Restore(ctx context.Context) error {
	if m.repo == nil {
		return nil
	}
	books, err := m.repo.LoadPortfolios(ctx)
	if err != nil {
		return fmt.Errorf("restore portfolios: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range books {
		m.books[p.ID] = p
	}
	logger.Infof("portfolio manager restored %d portfolios", len(books))
	return nil
}

func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Portfolio, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, errs.Validation("portfolio.create", "name is required")
	}
	if req.Budget.Total.LessThanOrEqual(decimal.Zero) {
		return nil, errs.Validation("portfolio.create", "budget total must be positive")
	}
	if req.Constraints.MaxSymbols <= 0 {
		req.Constraints.MaxSymbols = 10
	}
	if len(req.Symbols) > req.Constraints.MaxSymbols {
		return nil, errs.Validation("portfolio.create",
			"symbol count %d exceeds limit %d", len(req.Symbols), req.Constraints.MaxSymbols)
	}
	total := 0.0
	seen := make(map[string]struct{}, len(req.Symbols))
	for _, s := range req.Symbols {
		if err := validateSlot(s); err != nil {
			return nil, err
		}
		if _, dup := seen[s.Symbol]; dup {
			return nil, errs.Validation("portfolio.create", "duplicate symbol %s", s.Symbol)
		}
		seen[s.Symbol] = struct{}{}
		total += s.AllocationPct
	}
	if total > 100+1e-9 {
		return nil, errs.Validation("portfolio.create",
			"allocations sum to %.2f%%, exceeding 100%%", total)
	}

	now := m.clock()
	p := &Portfolio{
		ID:          m.idFn(),
		Name:        req.Name,
		Budget:      req.Budget,
		Constraints: req.Constraints,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, s := range req.Symbols {
		s.Active = true
		s.Position = nil
		p.Symbols = append(p.Symbols, s)
	}
	m.appendHistory(p, "created", fmt.Sprintf("budget=%s %s, %d symbols",
		p.Budget.Total.String(), p.Budget.Currency, len(p.Symbols)))

	m.mu.Lock()
	m.books[p.ID] = p
	m.mu.Unlock()

	if err := m.persist(ctx, p); err != nil {
		return nil, err
	}
	logger.Infof("portfolio %s (%s) created", p.Name, p.ID)
	return clone(p), nil
}

// Get returns a snapshot of the portfolio.
func (m *Manager) Get(id string) (*Portfolio, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.books[id]
	if !ok {
		return nil, errs.Validation("portfolio.get", "unknown portfolio %s", id)
	}
	return clone(p), nil
}

// List returns snapshots sorted by creation time.
func (m *Manager) List() []*Portfolio {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Portfolio, 0, len(m.books))
	for _, p := range m.books {
		out = append(out, clone(p))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes a portfolio. Refused while any position is open.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	p, ok := m.books[id]
	if !ok {
		m.mu.Unlock()
		return errs.Validation("portfolio.delete", "unknown portfolio %s", id)
	}
	if open := p.OpenPositions(); len(open) > 0 {
		m.mu.Unlock()
		return errs.Validation("portfolio.delete",
			"%d open positions, close them first", len(open))
	}
	delete(m.books, id)
	m.mu.Unlock()

	if m.repo != nil {
		if err := m.repo.DeletePortfolio(ctx, id); err != nil {
			return fmt.Errorf("delete portfolio %s: %w", id, err)
		}
	}
	logger.Infof("portfolio %s deleted", id)
	return nil
}

// AddSymbol appends a new allocation slot.
func (m *Manager) AddSymbol(ctx context.Context, id string, slot PortfolioSymbol) error {
	if err := validateSlot(slot); err != nil {
		return err
	}
	return m.update(ctx, id, func(p *Portfolio) error {
		if p.FindSymbol(slot.Symbol) != nil {
			return errs.Validation("portfolio.add_symbol", "%s already in portfolio", slot.Symbol)
		}
		if len(p.Symbols) >= p.Constraints.MaxSymbols {
			return errs.Validation("portfolio.add_symbol",
				"symbol limit %d reached", p.Constraints.MaxSymbols)
		}
		if p.AllocatedPct()+slot.AllocationPct > 100+1e-9 {
			return errs.Validation("portfolio.add_symbol", "allocation would exceed 100%%")
		}
		slot.Active = true
		slot.Position = nil
		p.Symbols = append(p.Symbols, slot)
		m.appendHistory(p, "symbol_added", fmt.Sprintf("%s at %.1f%%", slot.Symbol, slot.AllocationPct))
		return nil
	})
}

// RemoveSymbol drops a slot. Refused while the slot has an open position.
func (m *Manager) RemoveSymbol(ctx context.Context, id, symbol string) error {
	return m.update(ctx, id, func(p *Portfolio) error {
		idx := -1
		for i := range p.Symbols {
			if p.Symbols[i].Symbol == symbol {
				idx = i
				break
			}
		}
		if idx < 0 {
			return errs.Validation("portfolio.remove_symbol", "%s not in portfolio", symbol)
		}
		if pos := p.Symbols[idx].Position; pos != nil && pos.Status == PositionOpen {
			return errs.Validation("portfolio.remove_symbol", "%s has an open position", symbol)
		}
		p.Symbols = append(p.Symbols[:idx], p.Symbols[idx+1:]...)
		m.appendHistory(p, "symbol_removed", symbol)
		return nil
	})
}

// Reallocate replaces allocation percentages atomically. Symbols absent
// from the map keep their current share.
func (m *Manager) Reallocate(ctx context.Context, id string, allocations map[string]float64) error {
	return m.update(ctx, id, func(p *Portfolio) error {
		next := make([]float64, len(p.Symbols))
		total := 0.0
		for i := range p.Symbols {
			pct := p.Symbols[i].AllocationPct
			if v, ok := allocations[p.Symbols[i].Symbol]; ok {
				pct = v
			}
			if pct < 0 {
				return errs.Validation("portfolio.reallocate", "negative allocation for %s", p.Symbols[i].Symbol)
			}
			if p.Symbols[i].MaxPct > 0 && pct > p.Symbols[i].MaxPct {
				return errs.Validation("portfolio.reallocate",
					"%s allocation %.1f%% above cap %.1f%%", p.Symbols[i].Symbol, pct, p.Symbols[i].MaxPct)
			}
			next[i] = pct
			total += pct
		}
		for sym := range allocations {
			if p.FindSymbol(sym) == nil {
				return errs.Validation("portfolio.reallocate", "%s not in portfolio", sym)
			}
		}
		if total > 100+1e-9 {
			return errs.Validation("portfolio.reallocate",
				"allocations sum to %.2f%%, exceeding 100%%", total)
		}
		for i := range p.Symbols {
			p.Symbols[i].AllocationPct = next[i]
		}
		m.appendHistory(p, "reallocated", fmt.Sprintf("total %.1f%%", total))
		return nil
	})
}

// UpdateBudget changes the funding caps.
func (m *Manager) UpdateBudget(ctx context.Context, id string, budget Budget) error {
	if budget.Total.LessThanOrEqual(decimal.Zero) {
		return errs.Validation("portfolio.update_budget", "budget total must be positive")
	}
	return m.update(ctx, id, func(p *Portfolio) error {
		p.Budget = budget
		m.appendHistory(p, "budget_updated", budget.Total.String()+" "+budget.Currency)
		return nil
	})
}

// SetSymbolActive pauses or resumes trading for one slot.
func (m *Manager) SetSymbolActive(ctx context.Context, id, symbol string, active bool) error {
	return m.update(ctx, id, func(p *Portfolio) error {
		slot := p.FindSymbol(symbol)
		if slot == nil {
			return errs.Validation("portfolio.set_active", "%s not in portfolio", symbol)
		}
		slot.Active = active
		state := "paused"
		if active {
			state = "resumed"
		}
		m.appendHistory(p, "symbol_"+state, symbol)
		return nil
	})
}

// MarkPrice refreshes unrealized P&L for every open position on the symbol.
func (m *Manager) MarkPrice(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.books {
		slot := p.FindSymbol(symbol)
		if slot == nil || slot.Position == nil || slot.Position.Status != PositionOpen {
			continue
		}
		slot.Position.MarkPrice(price)
		refreshUnrealized(p)
	}
}

func (m *Manager) update(ctx context.Context, id string, fn func(*Portfolio) error) error {
	m.mu.Lock()
	p, ok := m.books[id]
	if !ok {
		m.mu.Unlock()
		return errs.Validation("portfolio.update", "unknown portfolio %s", id)
	}
	if err := fn(p); err != nil {
		m.mu.Unlock()
		return err
	}
	p.UpdatedAt = m.clock()
	m.mu.Unlock()
	return m.persist(ctx, p)
}

func (m *Manager) persist(ctx context.Context, p *Portfolio) error {
	if m.repo == nil {
		return nil
	}
	m.mu.RLock()
	snap := clone(p)
	m.mu.RUnlock()
	if err := m.repo.SavePortfolio(ctx, snap); err != nil {
		return fmt.Errorf("persist portfolio %s: %w", p.ID, err)
	}
	return nil
}

func (m *Manager) appendHistory(p *Portfolio, event, detail string) {
	p.History = append(p.History, HistoryEntry{Time: m.clock(), Event: event, Detail: detail})
	if len(p.History) > maxHistoryEntries {
		p.History = p.History[len(p.History)-maxHistoryEntries:]
	}
}

func validateSlot(s PortfolioSymbol) error {
	if strings.TrimSpace(s.Symbol) == "" {
		return errs.Validation("portfolio.symbol", "symbol is required")
	}
	if s.AllocationPct < 0 || s.AllocationPct > 100 {
		return errs.Validation("portfolio.symbol", "allocation must be within [0, 100]")
	}
	if s.MaxPct > 0 && s.MinPct > s.MaxPct {
		return errs.Validation("portfolio.symbol", "min allocation above max")
	}
	return nil
}

func clone(p *Portfolio) *Portfolio {
	cp := *p
	cp.Symbols = make([]PortfolioSymbol, len(p.Symbols))
	for i, s := range p.Symbols {
		cp.Symbols[i] = s
		if s.Position != nil {
			pos := *s.Position
			cp.Symbols[i].Position = &pos
		}
	}
	cp.History = append([]HistoryEntry(nil), p.History...)
	return &cp
}
