package state

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/RobloxGangster/Gigatrader-sub000/pkg/db"
)

// flatTolerance is the |qty| below which a position counts as closed.
const flatTolerance = 1e-9

// Account is the latest account snapshot from the venue.
type Account struct {
	Equity      float64   `json:"equity"`
	Cash        float64   `json:"cash"`
	BuyingPower float64   `json:"buying_power"`
	DayPnL      float64   `json:"day_pnl"`
	Multiplier  float64   `json:"multiplier"`
	Status      string    `json:"status"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Fill is one fill observation applied to a position.
// Exactly one of FillQty (incremental) or FilledQty (cumulative) is normally set.
type Fill struct {
	OrderKey   string
	Symbol     string
	Side       string
	FillQty    *float64
	FilledQty  *float64
	Baseline   float64 // cumulative qty known to be applied already
	Price      float64
	RealizedPL float64
	IsOption   bool
}

// Manager owns positions, the account snapshot and per-order fill progress.
// All mutation goes through its locked methods; positions persist to DB for durability.
type Manager struct {
	// writeMu is held across a position change and its DB write so rows land
	// in mutation order. Taken before mu.
	writeMu sync.Mutex

	mu        sync.RWMutex
	positions map[string]db.Position
	account   Account
	hasEquity bool
	dayPnL    float64
	notional  float64
	lastTrade map[string]time.Time
	applied   map[string]float64
	db        *db.Database
	now       func() time.Time
}

func NewManager(database *db.Database) *Manager {
	return &Manager{
		db:        database,
		positions: make(map[string]db.Position),
		lastTrade: make(map[string]time.Time),
		applied:   make(map[string]float64),
		now:       time.Now,
	}
}

// Load seeds in-memory state from DB on startup.
func (m *Manager) Load(ctx context.Context) error {
	if m.db == nil {
		return nil
	}
	pos, err := m.db.ListPositions(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range pos {
		m.positions[p.Symbol] = p
		m.notional += math.Abs(p.Notional)
	}
	return nil
}

// Position returns the latest in-memory snapshot for a symbol.
func (m *Manager) Position(symbol string) (db.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[strings.ToUpper(symbol)]
	return p, ok
}

// PositionExposure reports signed qty and notional for the risk gate.
func (m *Manager) PositionExposure(symbol string) (qty, notional float64, ok bool) {
	p, ok := m.Position(symbol)
	return p.Qty, p.Notional, ok
}

// Positions returns a snapshot of all positions sorted by symbol.
func (m *Manager) Positions() []db.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]db.Position, 0, len(m.positions))
	for _, p := range m.positions {
		res = append(res, p)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Symbol < res[j].Symbol })
	return res
}

func (m *Manager) OpenPositionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.positions)
}

func (m *Manager) PortfolioNotional() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.notional
}

func (m *Manager) DayPnL() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.dayPnL
}

// AccountEquity returns equity when the venue has reported it.
func (m *Manager) AccountEquity() (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account.Equity, m.hasEquity
}

func (m *Manager) Account() Account {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.account
}

// SetAccount replaces the account snapshot. The venue-reported day P&L, when
// present, becomes the authoritative day P&L.
func (m *Manager) SetAccount(a Account, hasEquity, hasDayPnL bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = m.now().UTC()
	}
	m.account = a
	m.hasEquity = hasEquity && a.Equity > 0
	if hasDayPnL {
		m.dayPnL = a.DayPnL
	}
}

// AddRealized folds realized P&L into day P&L.
func (m *Manager) AddRealized(pl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dayPnL += pl
}

// MarkTrade records the time of the last trade for a symbol (cooldown input).
func (m *Manager) MarkTrade(symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastTrade[strings.ToUpper(symbol)] = m.now()
}

// LastTradeAge returns how long ago symbol last traded.
func (m *Manager) LastTradeAge(symbol string) (time.Duration, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	at, ok := m.lastTrade[strings.ToUpper(symbol)]
	if !ok {
		return 0, false
	}
	return m.now().Sub(at), true
}

// AppliedQty returns how much of an order's fill has already been applied.
func (m *Manager) AppliedQty(orderKey string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.applied[orderKey]
}

// ApplyFill adjusts the position by the unapplied part of a fill and persists it.
// It returns the signed qty change actually applied (0 when nothing was new).
func (m *Manager) ApplyFill(ctx context.Context, f Fill) (float64, error) {
	symbol := strings.ToUpper(f.Symbol)
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()

	var delta float64
	switch {
	case f.FillQty != nil:
		delta = *f.FillQty
		if f.OrderKey != "" {
			m.applied[f.OrderKey] += delta
		}
	case f.FilledQty != nil:
		done := math.Max(m.applied[f.OrderKey], f.Baseline)
		delta = *f.FilledQty - done
		if f.OrderKey != "" {
			m.applied[f.OrderKey] = math.Max(done, *f.FilledQty)
		}
	}
	if delta <= 0 || symbol == "" {
		m.mu.Unlock()
		return 0, nil
	}

	dir := 1.0
	if strings.ToLower(f.Side) == "sell" {
		dir = -1.0
	}
	signed := dir * delta

	prev, existed := m.positions[symbol]
	newQty := prev.Qty + signed
	m.notional -= math.Abs(prev.Notional)
	m.dayPnL += f.RealizedPL
	m.lastTrade[symbol] = m.now()

	var (
		next   db.Position
		closed bool
	)
	if math.Abs(newQty) <= flatTolerance {
		delete(m.positions, symbol)
		closed = true
	} else {
		next = db.Position{
			Symbol:    symbol,
			Qty:       newQty,
			Notional:  newQty * f.Price,
			IsOption:  f.IsOption || (existed && prev.IsOption),
			UpdatedAt: m.now().UTC(),
		}
		m.positions[symbol] = next
		m.notional += math.Abs(next.Notional)
	}
	m.mu.Unlock()

	return signed, m.persist(ctx, symbol, next, closed)
}

// SyncPosition overwrites a position with the venue's view (drift correction).
func (m *Manager) SyncPosition(ctx context.Context, symbol string, qty, price float64, isOption bool) error {
	symbol = strings.ToUpper(symbol)
	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	m.mu.Lock()
	prev := m.positions[symbol]
	m.notional -= math.Abs(prev.Notional)

	var (
		next   db.Position
		closed bool
	)
	if math.Abs(qty) <= flatTolerance {
		delete(m.positions, symbol)
		closed = true
	} else {
		next = db.Position{Symbol: symbol, Qty: qty, Notional: qty * price, IsOption: isOption, UpdatedAt: m.now().UTC()}
		m.positions[symbol] = next
		m.notional += math.Abs(next.Notional)
	}
	m.mu.Unlock()

	if prev.Qty != qty {
		log.Printf("🔄 position drift %s: local=%.4f venue=%.4f", symbol, prev.Qty, qty)
	}
	return m.persist(ctx, symbol, next, closed)
}

func (m *Manager) persist(ctx context.Context, symbol string, p db.Position, closed bool) error {
	if m.db == nil {
		return nil
	}
	if closed {
		return m.db.DeletePosition(ctx, symbol)
	}
	return m.db.UpsertPosition(ctx, p)
}
