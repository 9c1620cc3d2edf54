// Package client is the public entry point: a broker gateway client that
// keeps a synchronized in-memory mirror of market data, orders, positions,
// and account state, and exposes typed events for everything it decodes.
package client

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/quantfold/gatewire/config"
	"github.com/quantfold/gatewire/errs"
	"github.com/quantfold/gatewire/internal/bus/eventbus"
	"github.com/quantfold/gatewire/internal/correlate"
	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/session"
	"github.com/quantfold/gatewire/internal/state"
)

// Instrument aliases the wire-level contract identity for callers.
type Instrument = protocol.Instrument

// OrderTicket aliases the wire-level order parameters for callers.
type OrderTicket = protocol.OrderTicket

// Client owns one gateway session and the state synchronized over it. All
// methods are safe for concurrent use.
type Client struct {
	settings config.Settings
	bus      eventbus.Bus
	st       *state.Manager
	corr     *correlate.Correlator
	sess     *session.Session

	acctMu    sync.Mutex
	acctSubID int64
}

// New builds a client from validated settings. Connect starts the session.
func New(settings config.Settings) (*Client, error) {
	if err := settings.Validate(); err != nil {
		return nil, errs.New("client/new", errs.CodeInvalid, errs.WithCause(err))
	}
	bus := eventbus.NewMemoryBus(eventbus.MemoryConfig{BufferSize: settings.Bus.BufferSize})
	st := state.NewManager()
	corr := correlate.New()
	return &Client{
		settings: settings,
		bus:      bus,
		st:       st,
		corr:     corr,
		sess:     session.New(settings, bus, st, corr),
	}, nil
}

// Connect dials the gateway and blocks until the session is ready or the
// initial attempt fails. Reconnects after that are automatic.
func (c *Client) Connect(ctx context.Context) error {
	return c.sess.Connect(ctx)
}

// Disconnect closes the session permanently and shuts the event bus down.
func (c *Client) Disconnect() error {
	err := c.sess.Close()
	c.bus.Close()
	return err
}

// ConnectionState reports the session lifecycle state.
func (c *Client) ConnectionState() session.State {
	return c.sess.State()
}

// ServerVersion returns the negotiated protocol version.
func (c *Client) ServerVersion() int {
	return c.sess.ServerVersion()
}

// Stats returns connection counters.
func (c *Client) Stats() session.Stats {
	return c.sess.Stats()
}

// Events subscribes to decoded events of the given types; no types means all.
// The subscription ends when ctx is cancelled or Unsubscribe is called.
func (c *Client) Events(ctx context.Context, types ...protocol.EventType) (eventbus.SubscriptionID, <-chan protocol.Event, error) {
	return c.bus.Subscribe(ctx, types...)
}

// Unsubscribe removes an event subscription.
func (c *Client) Unsubscribe(id eventbus.SubscriptionID) {
	c.bus.Unsubscribe(id)
}

// SubscribeMarketData opens a streaming tick subscription and returns the
// request id keying the live ticker. The subscription replays automatically
// after reconnect.
func (c *Client) SubscribeMarketData(ctx context.Context, inst Instrument) (int64, error) {
	reqID := c.corr.NextID()
	c.st.TrackTicker(reqID, inst.Symbol)
	payload := protocol.EncodeReqMktData(reqID, inst, "", false)
	if err := c.sess.Send(ctx, payload); err != nil {
		c.st.DropTicker(reqID)
		return 0, err
	}
	c.sess.RecordSubscription(reqID, "market-data", payload)
	return reqID, nil
}

// UnsubscribeMarketData cancels a tick subscription and drops its ticker.
func (c *Client) UnsubscribeMarketData(ctx context.Context, reqID int64) error {
	c.sess.DropSubscription(reqID)
	c.st.DropTicker(reqID)
	return c.sess.Send(ctx, protocol.EncodeCancelMktData(reqID))
}

// PlaceOrder submits an order and blocks until the first status transition
// arrives. The order keeps updating in the mirror after return; a timeout
// leaves the order live, observable through events and snapshots.
func (c *Client) PlaceOrder(ctx context.Context, inst Instrument, ticket OrderTicket) (protocol.OrderStatus, error) {
	orderID := c.corr.NextID()
	c.corr.Register(orderID, "place-order")
	if err := c.sess.Send(ctx, protocol.EncodePlaceOrder(orderID, inst, ticket)); err != nil {
		c.corr.Fail(orderID, err)
		return protocol.OrderStatus{}, err
	}
	payload, err := c.corr.Await(ctx, orderID, c.settings.Session.RequestTimeout)
	if err != nil {
		return protocol.OrderStatus{}, err
	}
	return payload.(protocol.OrderStatus), nil
}

// CancelOrder requests cancellation and blocks until the next status
// transition for the order arrives.
func (c *Client) CancelOrder(ctx context.Context, orderID int64) error {
	c.corr.Register(orderID, "cancel-order")
	if err := c.sess.Send(ctx, protocol.EncodeCancelOrder(orderID)); err != nil {
		c.corr.Fail(orderID, err)
		return err
	}
	_, err := c.corr.Await(ctx, orderID, c.settings.Session.RequestTimeout)
	return err
}

// RequestOpenOrders asks the server to replay its open orders; results land
// in the mirror and on the event bus.
func (c *Client) RequestOpenOrders(ctx context.Context) error {
	return c.sess.Send(ctx, protocol.EncodeReqOpenOrders())
}

// CurrentTime reads the server clock.
func (c *Client) CurrentTime(ctx context.Context) (time.Time, error) {
	subID, ch, err := c.bus.Subscribe(ctx, protocol.EventTypeCurrentTime)
	if err != nil {
		return time.Time{}, err
	}
	defer c.bus.Unsubscribe(subID)

	if err := c.sess.Send(ctx, protocol.EncodeReqCurrentTime()); err != nil {
		return time.Time{}, err
	}
	timer := time.NewTimer(c.settings.Session.RequestTimeout)
	defer timer.Stop()
	select {
	case evt, ok := <-ch:
		if !ok {
			return time.Time{}, errs.New("client/current_time", errs.CodeConnectionLost,
				errs.WithMessage("event stream closed"))
		}
		return evt.(protocol.CurrentTime).Time, nil
	case <-timer.C:
		return time.Time{}, errs.New("client/current_time", errs.CodeRequestTimeout,
			errs.WithMessage("server clock read timed out"))
	case <-ctx.Done():
		return time.Time{}, errs.New("client/current_time", errs.CodeRequestTimeout,
			errs.WithCause(ctx.Err()))
	}
}

// HistoricalData fetches a bar series and blocks until the full response
// arrives or the request times out.
func (c *Client) HistoricalData(ctx context.Context, inst Instrument, endTime, duration, barSize, whatToShow string, useRTH bool) (protocol.HistoricalData, error) {
	reqID := c.corr.Allocate("historical-data")
	payload := protocol.EncodeReqHistoricalData(reqID, inst, endTime, duration, barSize, whatToShow, useRTH)
	if err := c.sess.Send(ctx, payload); err != nil {
		c.corr.Fail(reqID, err)
		return protocol.HistoricalData{}, err
	}
	result, err := c.corr.Await(ctx, reqID, c.settings.Session.RequestTimeout)
	if err != nil {
		return protocol.HistoricalData{}, err
	}
	return result.(protocol.HistoricalData), nil
}

// Positions downloads the current position snapshot, blocking until the
// server marks the stream complete.
func (c *Client) Positions(ctx context.Context) ([]protocol.Position, error) {
	subID, ch, err := c.bus.Subscribe(ctx, protocol.EventTypePosition, protocol.EventTypePositionEnd)
	if err != nil {
		return nil, err
	}
	defer c.bus.Unsubscribe(subID)

	if err := c.sess.Send(ctx, protocol.EncodeReqPositions()); err != nil {
		return nil, err
	}
	defer func() { _ = c.sess.Send(ctx, protocol.EncodeCancelPositions()) }()

	timer := time.NewTimer(c.settings.Session.RequestTimeout)
	defer timer.Stop()
	var rows []protocol.Position
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return rows, errs.New("client/positions", errs.CodeConnectionLost,
					errs.WithMessage("event stream closed"))
			}
			switch e := evt.(type) {
			case protocol.Position:
				rows = append(rows, e)
			case protocol.PositionEnd:
				return rows, nil
			}
		case <-timer.C:
			return rows, errs.New("client/positions", errs.CodeRequestTimeout,
				errs.WithMessage("position download timed out"))
		case <-ctx.Done():
			return rows, errs.New("client/positions", errs.CodeRequestTimeout,
				errs.WithCause(ctx.Err()))
		}
	}
}

// SubscribeAccountUpdates opens the account value/portfolio stream for the
// account; pass "" for the default account. Replays after reconnect.
func (c *Client) SubscribeAccountUpdates(ctx context.Context, account string) error {
	payload := protocol.EncodeReqAccountUpdates(true, account)
	if err := c.sess.Send(ctx, payload); err != nil {
		return err
	}
	c.acctMu.Lock()
	if c.acctSubID == 0 {
		c.acctSubID = c.corr.NextID()
	}
	id := c.acctSubID
	c.acctMu.Unlock()
	c.sess.RecordSubscription(id, "account-updates", payload)
	return nil
}

// UnsubscribeAccountUpdates ends the account update stream.
func (c *Client) UnsubscribeAccountUpdates(ctx context.Context, account string) error {
	c.acctMu.Lock()
	if c.acctSubID != 0 {
		c.sess.DropSubscription(c.acctSubID)
	}
	c.acctMu.Unlock()
	return c.sess.Send(ctx, protocol.EncodeReqAccountUpdates(false, account))
}

// Ticker returns the live ticker for a market data request id.
func (c *Client) Ticker(reqID int64) (state.Ticker, bool) {
	return c.st.Ticker(reqID)
}

// Tickers returns all live tickers.
func (c *Client) Tickers() []state.Ticker {
	return c.st.Tickers()
}

// Order returns one mirrored order with its transition log.
func (c *Client) Order(orderID int64) (state.Order, bool) {
	return c.st.Order(orderID)
}

// Orders returns all mirrored orders.
func (c *Client) Orders() []state.Order {
	return c.st.Orders()
}

// PositionsSnapshot returns mirrored positions without a server round trip.
func (c *Client) PositionsSnapshot() []protocol.Position {
	return c.st.Positions()
}

// AccountValues returns the mirrored account metrics.
func (c *Client) AccountValues() []protocol.AccountValue {
	return c.st.AccountValues()
}

// ManagedAccounts lists the accounts this session may act on.
func (c *Client) ManagedAccounts() []string {
	return c.st.Accounts()
}

// Snapshot captures the whole mirror at once.
func (c *Client) Snapshot() state.Snapshot {
	return c.st.Snapshot()
}

// DumpSnapshot serializes the mirror for diagnostics.
func (c *Client) DumpSnapshot() ([]byte, error) {
	return json.MarshalIndent(c.Snapshot(), "", "  ")
}
