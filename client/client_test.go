package client

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/gatewire/config"
	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/testserver"
)

func newConnectedClient(t *testing.T, opts testserver.Options) (*Client, *testserver.Server) {
	t.Helper()
	srv, err := testserver.Start(opts)
	require.NoError(t, err)
	t.Cleanup(srv.Close)

	settings := config.Default()
	settings.Gateway.Host = srv.Host()
	settings.Gateway.Port = srv.Port()
	settings.Session.RequestTimeout = 5 * time.Second
	settings.Session.Backoff.InitialInterval = 25 * time.Millisecond
	settings.Session.Backoff.MaxInterval = 100 * time.Millisecond

	cl, err := New(settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = cl.Disconnect() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, cl.Connect(ctx))
	return cl, srv
}

func TestNewRejectsInvalidSettings(t *testing.T) {
	settings := config.Default()
	settings.Gateway.Port = 0
	_, err := New(settings)
	require.Error(t, err)
}

func TestMarketDataSubscription(t *testing.T) {
	cl, srv := newConnectedClient(t, testserver.Options{})
	srv.ScriptTicks("AAPL",
		testserver.Tick{Type: protocol.TickLast, Price: "150.25", Size: "100"},
	)

	reqID, err := cl.SubscribeMarketData(context.Background(),
		Instrument{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		tk, ok := cl.Ticker(reqID)
		return ok && tk.Updates == 1
	}, 2*time.Second, 10*time.Millisecond)

	tk, _ := cl.Ticker(reqID)
	require.Equal(t, "AAPL", tk.Symbol)
	require.Equal(t, "150.25", tk.Last.String())
	require.Equal(t, "100", tk.LastSize.String())

	require.NoError(t, cl.UnsubscribeMarketData(context.Background(), reqID))
	_, ok := cl.Ticker(reqID)
	require.False(t, ok)
}

func TestPlaceOrderLifecycle(t *testing.T) {
	cl, _ := newConnectedClient(t, testserver.Options{FillOrders: true})

	status, err := cl.PlaceOrder(context.Background(),
		Instrument{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"},
		OrderTicket{
			Action:     "BUY",
			Quantity:   decimal.NewFromInt(100),
			OrderType:  "LMT",
			LimitPrice: decimal.RequireFromString("150.00"),
			Account:    "DU12345",
		})
	require.NoError(t, err)
	require.Equal(t, "Submitted", status.Status)

	require.Eventually(t, func() bool {
		ord, ok := cl.Order(status.OrderID)
		return ok && ord.Status == "Filled"
	}, 2*time.Second, 10*time.Millisecond)

	ord, _ := cl.Order(status.OrderID)
	require.True(t, ord.Filled.Equal(decimal.NewFromInt(100)))
	require.True(t, ord.Terminal)
	require.Len(t, ord.Transitions, 2)
	require.Equal(t, "Submitted", ord.Transitions[0].Status)
	require.Equal(t, "Filled", ord.Transitions[1].Status)
}

func TestCancelOrder(t *testing.T) {
	cl, _ := newConnectedClient(t, testserver.Options{FillOrders: false})

	status, err := cl.PlaceOrder(context.Background(),
		Instrument{Symbol: "MSFT", SecType: "STK", Exchange: "SMART", Currency: "USD"},
		OrderTicket{
			Action:     "SELL",
			Quantity:   decimal.NewFromInt(10),
			OrderType:  "LMT",
			LimitPrice: decimal.RequireFromString("500.00"),
		})
	require.NoError(t, err)
	require.Equal(t, "Submitted", status.Status)

	require.NoError(t, cl.CancelOrder(context.Background(), status.OrderID))
	require.Eventually(t, func() bool {
		ord, ok := cl.Order(status.OrderID)
		return ok && ord.Status == "Cancelled" && ord.Terminal
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCurrentTime(t *testing.T) {
	cl, _ := newConnectedClient(t, testserver.Options{})
	now, err := cl.CurrentTime(context.Background())
	require.NoError(t, err)
	require.WithinDuration(t, time.Now(), now, time.Minute)
}

func TestHistoricalData(t *testing.T) {
	cl, _ := newConnectedClient(t, testserver.Options{})

	bars, err := cl.HistoricalData(context.Background(),
		Instrument{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"},
		"20260820 09:32:00", "120 S", "1 min", "TRADES", true)
	require.NoError(t, err)
	require.Len(t, bars.Bars, 2)
	require.Equal(t, "150.25", bars.Bars[0].Close.String())
	require.Equal(t, int64(45), bars.Bars[0].Count)
}

func TestPositionsDownload(t *testing.T) {
	cl, srv := newConnectedClient(t, testserver.Options{})
	srv.ScriptPositions(
		testserver.PositionRow{Account: "DU12345", Symbol: "AAPL", SecType: "STK", Qty: "200", AvgCost: "140.10"},
		testserver.PositionRow{Account: "DU12345", Symbol: "MSFT", SecType: "STK", Qty: "-50", AvgCost: "390.00"},
	)

	rows, err := cl.Positions(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Eventually(t, func() bool {
		return len(cl.PositionsSnapshot()) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAccountUpdates(t *testing.T) {
	cl, _ := newConnectedClient(t, testserver.Options{})

	require.NoError(t, cl.SubscribeAccountUpdates(context.Background(), "DU12345"))
	require.Eventually(t, func() bool {
		return len(cl.AccountValues()) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	values := cl.AccountValues()
	var sawNetLiq bool
	for _, v := range values {
		if v.Key == "NetLiquidation" && v.Currency == "USD" {
			sawNetLiq = true
			require.Equal(t, "250000.00", v.Value)
		}
	}
	require.True(t, sawNetLiq)
	require.NoError(t, cl.UnsubscribeAccountUpdates(context.Background(), "DU12345"))
}

func TestSubscriptionsSurviveReconnect(t *testing.T) {
	cl, srv := newConnectedClient(t, testserver.Options{})

	symbols := []string{"AAPL", "MSFT", "IBM"}
	for _, symbol := range symbols {
		_, err := cl.SubscribeMarketData(context.Background(),
			Instrument{Symbol: symbol, SecType: "STK", Exchange: "SMART", Currency: "USD"})
		require.NoError(t, err)
	}
	require.Eventually(t, func() bool {
		return srv.MarketDataRequests() == len(symbols)
	}, 2*time.Second, 10*time.Millisecond)

	srv.DropConnections()

	require.Eventually(t, func() bool {
		return srv.MarketDataRequests() == 2*len(symbols)
	}, 5*time.Second, 10*time.Millisecond)
	require.Len(t, cl.Tickers(), len(symbols))
}

func TestSnapshotDump(t *testing.T) {
	cl, srv := newConnectedClient(t, testserver.Options{})
	srv.ScriptTicks("AAPL",
		testserver.Tick{Type: protocol.TickLast, Price: "150.25"},
	)
	reqID, err := cl.SubscribeMarketData(context.Background(),
		Instrument{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		tk, ok := cl.Ticker(reqID)
		return ok && tk.Updates > 0
	}, 2*time.Second, 10*time.Millisecond)

	raw, err := cl.DumpSnapshot()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Contains(t, string(raw), "AAPL")
	require.Contains(t, decoded, "tickers")
	require.Contains(t, decoded, "accounts")
}

func TestEventStream(t *testing.T) {
	cl, srv := newConnectedClient(t, testserver.Options{})
	srv.ScriptTicks("AAPL",
		testserver.Tick{Type: protocol.TickLast, Price: "150.25"},
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	subID, ch, err := cl.Events(ctx, protocol.EventTypeTickPrice)
	require.NoError(t, err)
	defer cl.Unsubscribe(subID)

	_, err = cl.SubscribeMarketData(context.Background(),
		Instrument{Symbol: "AAPL", SecType: "STK", Exchange: "SMART", Currency: "USD"})
	require.NoError(t, err)

	select {
	case evt := <-ch:
		tick := evt.(protocol.TickPrice)
		require.Equal(t, "150.25", tick.Price.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for tick event")
	}
}
