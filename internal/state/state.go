// Package state keeps the client's in-memory mirror of server-side trading
// state: live tickers, orders, positions, and account values.
//
// The session's read loop is the only writer; every other goroutine observes
// the model through copying snapshot accessors or the event bus.
package state

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/wire"
)

// Ticker is the live market-data state for one subscribed instrument. All
// price/size fields start unset until the first matching tick arrives.
type Ticker struct {
	ReqID    int64           `json:"req_id"`
	Symbol   string          `json:"symbol"`
	Last     decimal.Decimal `json:"last"`
	Bid      decimal.Decimal `json:"bid"`
	Ask      decimal.Decimal `json:"ask"`
	LastSize decimal.Decimal `json:"last_size"`
	BidSize  decimal.Decimal `json:"bid_size"`
	AskSize  decimal.Decimal `json:"ask_size"`
	Volume   decimal.Decimal `json:"volume"`
	// Updates counts every applied tick event for the instrument.
	Updates   uint64    `json:"updates"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transition is one entry in an order's status log.
type Transition struct {
	Status string          `json:"status"`
	Filled decimal.Decimal `json:"filled"`
	At     time.Time       `json:"at"`
}

// Order mirrors one order known to the server. Orders are never deleted, only
// marked terminal.
type Order struct {
	ID           int64           `json:"id"`
	Symbol       string          `json:"symbol"`
	Action       string          `json:"action"`
	OrderType    string          `json:"order_type"`
	Quantity     decimal.Decimal `json:"quantity"`
	LimitPrice   decimal.Decimal `json:"limit_price"`
	Account      string          `json:"account"`
	PermID       int64           `json:"perm_id"`
	Status       string          `json:"status"`
	Filled       decimal.Decimal `json:"filled"`
	Remaining    decimal.Decimal `json:"remaining"`
	AvgFillPrice decimal.Decimal `json:"avg_fill_price"`
	Terminal     bool            `json:"terminal"`
	Transitions  []Transition    `json:"transitions"`
}

func isTerminalStatus(status string) bool {
	switch status {
	case "Filled", "Cancelled", "ApiCancelled", "Rejected":
		return true
	default:
		return false
	}
}

// Manager applies typed events to the canonical entity mappings and reports
// which entities changed.
type Manager struct {
	mu sync.RWMutex

	tickers       map[int64]*Ticker
	orders        map[int64]*Order
	positions     map[string]protocol.Position
	accountValues map[string]protocol.AccountValue
	accounts      []string
	lastAcctTime  string
}

// NewManager constructs an empty state mirror.
func NewManager() *Manager {
	return &Manager{
		tickers:       make(map[int64]*Ticker),
		orders:        make(map[int64]*Order),
		positions:     make(map[string]protocol.Position),
		accountValues: make(map[string]protocol.AccountValue),
	}
}

// TrackTicker registers a market-data subscription so tick events for reqID
// have a home. Created on first subscription per the subscription lifecycle.
func (m *Manager) TrackTicker(reqID int64, symbol string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tickers[reqID]; exists {
		return
	}
	m.tickers[reqID] = &Ticker{
		ReqID:    reqID,
		Symbol:   symbol,
		Last:     wire.UnsetDecimal,
		Bid:      wire.UnsetDecimal,
		Ask:      wire.UnsetDecimal,
		LastSize: wire.UnsetDecimal,
		BidSize:  wire.UnsetDecimal,
		AskSize:  wire.UnsetDecimal,
		Volume:   wire.UnsetDecimal,
	}
}

// DropTicker removes the ticker on unsubscribe or disconnect.
func (m *Manager) DropTicker(reqID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tickers, reqID)
}

// ClearTickers removes every ticker, used on explicit disconnect.
func (m *Manager) ClearTickers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers = make(map[int64]*Ticker)
}

// Apply mutates the model with one typed event and returns the change
// notifications to publish. Unmatched or non-state events return no changes.
func (m *Manager) Apply(evt protocol.Event) []protocol.StateChange {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e := evt.(type) {
	case protocol.TickPrice:
		return m.applyTickPrice(e)
	case protocol.TickSize:
		return m.applyTickSize(e)
	case protocol.OrderStatus:
		return m.applyOrderStatus(e)
	case protocol.OpenOrder:
		return m.applyOpenOrder(e)
	case protocol.Position:
		return m.applyPosition(e)
	case protocol.PortfolioValue:
		return m.applyPortfolioValue(e)
	case protocol.AccountValue:
		return m.applyAccountValue(e)
	case protocol.AccountUpdateTime:
		m.lastAcctTime = e.Time
		return nil
	case protocol.ManagedAccounts:
		m.accounts = append([]string(nil), e.Accounts...)
		return nil
	default:
		return nil
	}
}

func (m *Manager) applyTickPrice(e protocol.TickPrice) []protocol.StateChange {
	tk, ok := m.tickers[e.ReqID]
	if !ok {
		// Tick for an unsubscribed id, e.g. a late frame after unsubscribe.
		return nil
	}
	switch e.TickType {
	case protocol.TickBid:
		tk.Bid = e.Price
		if !wire.IsUnsetDecimal(e.Size) {
			tk.BidSize = e.Size
		}
	case protocol.TickAsk:
		tk.Ask = e.Price
		if !wire.IsUnsetDecimal(e.Size) {
			tk.AskSize = e.Size
		}
	case protocol.TickLast:
		tk.Last = e.Price
		if !wire.IsUnsetDecimal(e.Size) {
			tk.LastSize = e.Size
		}
	default:
		return nil
	}
	tk.Updates++
	tk.UpdatedAt = time.Now()
	return []protocol.StateChange{{
		Entity: protocol.EntityTicker,
		Key:    tk.Symbol,
		Cause:  protocol.EventTypeTickPrice,
	}}
}

func (m *Manager) applyTickSize(e protocol.TickSize) []protocol.StateChange {
	tk, ok := m.tickers[e.ReqID]
	if !ok {
		return nil
	}
	switch e.TickType {
	case protocol.TickBidSize:
		tk.BidSize = e.Size
	case protocol.TickAskSize:
		tk.AskSize = e.Size
	case protocol.TickLastSize:
		tk.LastSize = e.Size
	case protocol.TickVolume:
		tk.Volume = e.Size
	default:
		return nil
	}
	tk.Updates++
	tk.UpdatedAt = time.Now()
	return []protocol.StateChange{{
		Entity: protocol.EntityTicker,
		Key:    tk.Symbol,
		Cause:  protocol.EventTypeTickSize,
	}}
}

func (m *Manager) applyOrderStatus(e protocol.OrderStatus) []protocol.StateChange {
	ord, ok := m.orders[e.OrderID]
	if !ok {
		// Externally submitted order first reported via status.
		ord = &Order{ID: e.OrderID}
		m.orders[e.OrderID] = ord
	}

	// Idempotence: re-applying the same (status, cumulative fill) tuple must
	// not double-count fills or duplicate log entries.
	if n := len(ord.Transitions); n > 0 {
		last := ord.Transitions[n-1]
		if last.Status == e.Status && last.Filled.Equal(e.Filled) {
			return nil
		}
	}

	ord.Status = e.Status
	ord.Filled = e.Filled
	ord.Remaining = e.Remaining
	ord.AvgFillPrice = e.AvgFillPrice
	if e.PermID != wire.UnsetInt {
		ord.PermID = e.PermID
	}
	ord.Terminal = isTerminalStatus(e.Status)
	ord.Transitions = append(ord.Transitions, Transition{
		Status: e.Status,
		Filled: e.Filled,
		At:     time.Now(),
	})
	return []protocol.StateChange{{
		Entity: protocol.EntityOrder,
		Key:    orderKey(e.OrderID),
		Cause:  protocol.EventTypeOrderStatus,
	}}
}

func (m *Manager) applyOpenOrder(e protocol.OpenOrder) []protocol.StateChange {
	ord, ok := m.orders[e.OrderID]
	if !ok {
		ord = &Order{ID: e.OrderID}
		m.orders[e.OrderID] = ord
	}
	ord.Symbol = e.Symbol
	ord.Action = e.Action
	ord.OrderType = e.OrderType
	ord.Quantity = e.Quantity
	ord.LimitPrice = e.LimitPrice
	ord.Account = e.Account
	if ord.Status == "" {
		ord.Status = e.Status
	}
	return []protocol.StateChange{{
		Entity: protocol.EntityOrder,
		Key:    orderKey(e.OrderID),
		Cause:  protocol.EventTypeOpenOrder,
	}}
}

func (m *Manager) applyPosition(e protocol.Position) []protocol.StateChange {
	// Snapshot semantics: the whole record is replaced, never merged.
	key := positionKey(e.Account, e.Symbol)
	if e.Position.IsZero() {
		delete(m.positions, key)
	} else {
		m.positions[key] = e
	}
	return []protocol.StateChange{{
		Entity: protocol.EntityPosition,
		Key:    key,
		Cause:  protocol.EventTypePosition,
	}}
}

func (m *Manager) applyPortfolioValue(e protocol.PortfolioValue) []protocol.StateChange {
	key := positionKey(e.Account, e.Symbol)
	if e.Position.IsZero() {
		delete(m.positions, key)
	} else {
		m.positions[key] = protocol.Position{
			Account:  e.Account,
			Symbol:   e.Symbol,
			SecType:  e.SecType,
			Position: e.Position,
			AvgCost:  e.AvgCost,
		}
	}
	return []protocol.StateChange{{
		Entity: protocol.EntityPosition,
		Key:    key,
		Cause:  protocol.EventTypePortfolioValue,
	}}
}

func (m *Manager) applyAccountValue(e protocol.AccountValue) []protocol.StateChange {
	key := accountKey(e.Account, e.Key, e.Currency)
	m.accountValues[key] = e
	return []protocol.StateChange{{
		Entity: protocol.EntityAccount,
		Key:    key,
		Cause:  protocol.EventTypeAccountValue,
	}}
}

func orderKey(id int64) string {
	return "order/" + strconv.FormatInt(id, 10)
}

func positionKey(account, symbol string) string {
	return account + "|" + symbol
}

func accountKey(account, key, currency string) string {
	return strings.Join([]string{account, key, currency}, "|")
}
