package state

import (
	"sort"

	"github.com/quantfold/gatewire/internal/protocol"
)

// Snapshot is a point-in-time copy of the full state mirror, suitable for
// serialization.
type Snapshot struct {
	Tickers       []Ticker                `json:"tickers"`
	Orders        []Order                 `json:"orders"`
	Positions     []protocol.Position     `json:"positions"`
	AccountValues []protocol.AccountValue `json:"account_values"`
	Accounts      []string                `json:"accounts"`
	AccountTime   string                  `json:"account_time,omitempty"`
}

// Ticker returns a copy of the ticker for reqID.
func (m *Manager) Ticker(reqID int64) (Ticker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tk, ok := m.tickers[reqID]
	if !ok {
		return Ticker{}, false
	}
	return *tk, true
}

// Tickers returns copies of every live ticker, ordered by request id.
func (m *Manager) Tickers() []Ticker {
	m.mu.RLock()
	out := make([]Ticker, 0, len(m.tickers))
	for _, tk := range m.tickers {
		out = append(out, *tk)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ReqID < out[j].ReqID })
	return out
}

// Order returns a copy of the order with the given id, including its
// transition log.
func (m *Manager) Order(id int64) (Order, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ord, ok := m.orders[id]
	if !ok {
		return Order{}, false
	}
	return copyOrder(ord), true
}

// Orders returns copies of every known order, ordered by id.
func (m *Manager) Orders() []Order {
	m.mu.RLock()
	out := make([]Order, 0, len(m.orders))
	for _, ord := range m.orders {
		out = append(out, copyOrder(ord))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Positions returns the current position snapshot ordered by (account, symbol).
func (m *Manager) Positions() []protocol.Position {
	m.mu.RLock()
	out := make([]protocol.Position, 0, len(m.positions))
	for _, pos := range m.positions {
		out = append(out, pos)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// AccountValues returns the current account metric snapshot ordered by
// (account, key, currency).
func (m *Manager) AccountValues() []protocol.AccountValue {
	m.mu.RLock()
	out := make([]protocol.AccountValue, 0, len(m.accountValues))
	for _, av := range m.accountValues {
		out = append(out, av)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Account != out[j].Account {
			return out[i].Account < out[j].Account
		}
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Currency < out[j].Currency
	})
	return out
}

// Accounts returns the managed account list.
func (m *Manager) Accounts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.accounts...)
}

// AccountUpdateTime returns the timestamp of the latest account-updates batch.
func (m *Manager) AccountUpdateTime() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastAcctTime
}

// Snapshot captures the whole mirror in one consistent view.
func (m *Manager) Snapshot() Snapshot {
	return Snapshot{
		Tickers:       m.Tickers(),
		Orders:        m.Orders(),
		Positions:     m.Positions(),
		AccountValues: m.AccountValues(),
		Accounts:      m.Accounts(),
		AccountTime:   m.AccountUpdateTime(),
	}
}

func copyOrder(ord *Order) Order {
	out := *ord
	out.Transitions = append([]Transition(nil), ord.Transitions...)
	return out
}
