package state

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/wire"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestTickPriceUpdatesInPlace(t *testing.T) {
	m := NewManager()
	m.TrackTicker(90, "AAPL")

	changes := m.Apply(protocol.TickPrice{
		ReqID:    90,
		TickType: protocol.TickLast,
		Price:    dec("150.25"),
		Size:     dec("100"),
	})
	require.Len(t, changes, 1)
	require.Equal(t, protocol.EntityTicker, changes[0].Entity)
	require.Equal(t, "AAPL", changes[0].Key)

	tk, ok := m.Ticker(90)
	require.True(t, ok)
	require.True(t, tk.Last.Equal(dec("150.25")))
	require.True(t, tk.LastSize.Equal(dec("100")))
	require.Equal(t, uint64(1), tk.Updates)
	require.True(t, wire.IsUnsetDecimal(tk.Bid), "bid should stay unset")
}

func TestUpdateCounterMatchesEventCount(t *testing.T) {
	m := NewManager()
	m.TrackTicker(5, "EURUSD")

	prices := []string{"1.0850", "1.0851", "1.0849", "1.0852"}
	for _, p := range prices {
		m.Apply(protocol.TickPrice{ReqID: 5, TickType: protocol.TickBid, Price: dec(p)})
	}
	m.Apply(protocol.TickSize{ReqID: 5, TickType: protocol.TickBidSize, Size: dec("500")})

	tk, ok := m.Ticker(5)
	require.True(t, ok)
	require.Equal(t, uint64(5), tk.Updates)
	require.True(t, tk.Bid.Equal(dec("1.0852")), "bid must be the final event's price")
	require.True(t, tk.BidSize.Equal(dec("500")))
}

func TestTickForUnknownRequestIgnored(t *testing.T) {
	m := NewManager()
	changes := m.Apply(protocol.TickPrice{ReqID: 404, TickType: protocol.TickLast, Price: dec("1")})
	require.Empty(t, changes)
	require.Empty(t, m.Tickers())
}

func TestTickSizeByType(t *testing.T) {
	m := NewManager()
	m.TrackTicker(1, "MSFT")

	m.Apply(protocol.TickSize{ReqID: 1, TickType: protocol.TickAskSize, Size: dec("300")})
	m.Apply(protocol.TickSize{ReqID: 1, TickType: protocol.TickVolume, Size: dec("120000")})

	tk, _ := m.Ticker(1)
	require.True(t, tk.AskSize.Equal(dec("300")))
	require.True(t, tk.Volume.Equal(dec("120000")))
	require.True(t, wire.IsUnsetDecimal(tk.LastSize))
}

func TestDropTickerStopsUpdates(t *testing.T) {
	m := NewManager()
	m.TrackTicker(2, "IBM")
	m.DropTicker(2)

	changes := m.Apply(protocol.TickPrice{ReqID: 2, TickType: protocol.TickLast, Price: dec("10")})
	require.Empty(t, changes)
	_, ok := m.Ticker(2)
	require.False(t, ok)
}

func TestOrderStatusTransitionLog(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.OpenOrder{
		OrderID:    11,
		Symbol:     "AAPL",
		Action:     "BUY",
		Quantity:   dec("100"),
		OrderType:  "LMT",
		LimitPrice: dec("150"),
		Status:     "Submitted",
	})
	m.Apply(protocol.OrderStatus{
		OrderID: 11, Status: "Submitted",
		Filled: dec("0"), Remaining: dec("100"),
	})
	m.Apply(protocol.OrderStatus{
		OrderID: 11, Status: "Filled",
		Filled: dec("100"), Remaining: dec("0"), AvgFillPrice: dec("149.98"),
	})

	ord, ok := m.Order(11)
	require.True(t, ok)
	require.Equal(t, "Filled", ord.Status)
	require.True(t, ord.Filled.Equal(dec("100")))
	require.True(t, ord.Terminal)
	require.Len(t, ord.Transitions, 2)
	require.Equal(t, "Submitted", ord.Transitions[0].Status)
	require.Equal(t, "Filled", ord.Transitions[1].Status)
}

func TestOrderStatusIdempotent(t *testing.T) {
	m := NewManager()
	status := protocol.OrderStatus{
		OrderID: 7, Status: "Filled",
		Filled: dec("100"), Remaining: dec("0"), AvgFillPrice: dec("50"),
	}

	first := m.Apply(status)
	require.Len(t, first, 1)
	second := m.Apply(status)
	require.Empty(t, second, "duplicate status must not produce a change")

	ord, _ := m.Order(7)
	require.Len(t, ord.Transitions, 1)
	require.True(t, ord.Filled.Equal(dec("100")))
}

func TestOrdersNeverDeleted(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.OrderStatus{OrderID: 3, Status: "Cancelled", Filled: dec("0"), Remaining: dec("100")})

	ord, ok := m.Order(3)
	require.True(t, ok)
	require.True(t, ord.Terminal)
	require.Len(t, m.Orders(), 1)
}

func TestPositionSnapshotReplaced(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.Position{Account: "DU1", Symbol: "AAPL", Position: dec("200"), AvgCost: dec("140")})
	m.Apply(protocol.Position{Account: "DU1", Symbol: "AAPL", Position: dec("50"), AvgCost: dec("142")})

	positions := m.Positions()
	require.Len(t, positions, 1)
	require.True(t, positions[0].Position.Equal(dec("50")))
	require.True(t, positions[0].AvgCost.Equal(dec("142")))
}

func TestZeroPositionRemovesRow(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.Position{Account: "DU1", Symbol: "AAPL", Position: dec("200")})
	m.Apply(protocol.Position{Account: "DU1", Symbol: "AAPL", Position: dec("0")})
	require.Empty(t, m.Positions())
}

func TestPortfolioValueFeedsPositions(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.PortfolioValue{
		Account: "DU2", Symbol: "TSLA", SecType: "STK",
		Position: dec("10"), AvgCost: dec("250"),
	})

	positions := m.Positions()
	require.Len(t, positions, 1)
	require.Equal(t, "TSLA", positions[0].Symbol)
	require.True(t, positions[0].Position.Equal(dec("10")))
}

func TestAccountValuesKeyedByCurrency(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.AccountValue{Account: "DU1", Key: "NetLiquidation", Value: "100000", Currency: "USD"})
	m.Apply(protocol.AccountValue{Account: "DU1", Key: "NetLiquidation", Value: "91000", Currency: "EUR"})
	m.Apply(protocol.AccountValue{Account: "DU1", Key: "NetLiquidation", Value: "100500", Currency: "USD"})

	values := m.AccountValues()
	require.Len(t, values, 2)
	require.Equal(t, "91000", values[0].Value)
	require.Equal(t, "100500", values[1].Value)
}

func TestManagedAccountsAndUpdateTime(t *testing.T) {
	m := NewManager()
	m.Apply(protocol.ManagedAccounts{Accounts: []string{"DU1", "DU2"}})
	m.Apply(protocol.AccountUpdateTime{Time: "16:32"})

	require.Equal(t, []string{"DU1", "DU2"}, m.Accounts())
	require.Equal(t, "16:32", m.AccountUpdateTime())
}

func TestClearTickersKeepsOrders(t *testing.T) {
	m := NewManager()
	m.TrackTicker(1, "AAPL")
	m.Apply(protocol.OrderStatus{OrderID: 9, Status: "Submitted", Filled: dec("0"), Remaining: dec("5")})

	m.ClearTickers()
	require.Empty(t, m.Tickers())
	require.Len(t, m.Orders(), 1)
}

func TestSnapshotIsConsistentCopy(t *testing.T) {
	m := NewManager()
	m.TrackTicker(1, "AAPL")
	m.Apply(protocol.TickPrice{ReqID: 1, TickType: protocol.TickLast, Price: dec("150.25")})
	m.Apply(protocol.OrderStatus{OrderID: 2, Status: "Submitted", Filled: dec("0"), Remaining: dec("10")})

	snap := m.Snapshot()
	require.Len(t, snap.Tickers, 1)
	require.Len(t, snap.Orders, 1)

	// Mutating the mirror afterwards must not alter the snapshot.
	m.Apply(protocol.TickPrice{ReqID: 1, TickType: protocol.TickLast, Price: dec("151")})
	require.True(t, snap.Tickers[0].Last.Equal(dec("150.25")))
}
