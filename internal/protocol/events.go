package protocol

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType enumerates the typed event kinds produced by the router.
type EventType string

const (
	EventTypeTickPrice      EventType = "TickPrice"
	EventTypeTickSize       EventType = "TickSize"
	EventTypeOrderStatus    EventType = "OrderStatus"
	EventTypeOpenOrder      EventType = "OpenOrder"
	EventTypeAccountValue   EventType = "AccountValue"
	EventTypePortfolioValue EventType = "PortfolioValue"
	EventTypeAcctUpdateTime EventType = "AccountUpdateTime"
	EventTypeNextValidID    EventType = "NextValidID"
	EventTypeManagedAccts   EventType = "ManagedAccounts"
	EventTypeHistoricalData EventType = "HistoricalData"
	EventTypeCurrentTime    EventType = "CurrentTime"
	EventTypePosition       EventType = "Position"
	EventTypePositionEnd    EventType = "PositionEnd"
	EventTypeServerError    EventType = "ServerError"
	EventTypeDecodeError    EventType = "DecodeError"
	EventTypeUnknown        EventType = "Unknown"
	// EventTypeConnection reports lifecycle transitions (ready, reconnecting,
	// disconnected) on the bus.
	EventTypeConnection EventType = "Connection"
	// EventTypeStateChange notifies that a synchronized entity changed; it
	// carries the entity's identity, not the entity itself.
	EventTypeStateChange EventType = "StateChange"
)

// EntityKind names the synchronized entity classes.
type EntityKind string

const (
	EntityTicker   EntityKind = "ticker"
	EntityOrder    EntityKind = "order"
	EntityPosition EntityKind = "position"
	EntityAccount  EntityKind = "account"
)

// Event is the tagged variant over all decodable message kinds. Events are
// immutable once produced and consumed exactly once by the state synchronizer.
type Event interface {
	Kind() EventType
	// RequestID returns the originating request id, or -1 when the message is
	// not request-scoped.
	RequestID() int64
}

// TickPrice carries a single price update for a subscribed instrument.
type TickPrice struct {
	ReqID    int64           `json:"req_id"`
	TickType int64           `json:"tick_type"`
	Price    decimal.Decimal `json:"price"`
	Size     decimal.Decimal `json:"size"`
	// CanAutoExecute arrives only at message version >= 3.
	CanAutoExecute bool `json:"can_auto_execute"`
}

func (e TickPrice) Kind() EventType  { return EventTypeTickPrice }
func (e TickPrice) RequestID() int64 { return e.ReqID }

// TickSize carries a single size update for a subscribed instrument.
type TickSize struct {
	ReqID    int64           `json:"req_id"`
	TickType int64           `json:"tick_type"`
	Size     decimal.Decimal `json:"size"`
}

func (e TickSize) Kind() EventType  { return EventTypeTickSize }
func (e TickSize) RequestID() int64 { return e.ReqID }

// OrderStatus reports an order lifecycle transition.
type OrderStatus struct {
	OrderID       int64           `json:"order_id"`
	Status        string          `json:"status"`
	Filled        decimal.Decimal `json:"filled"`
	Remaining     decimal.Decimal `json:"remaining"`
	AvgFillPrice  decimal.Decimal `json:"avg_fill_price"`
	PermID        int64           `json:"perm_id"`
	ParentID      int64           `json:"parent_id"`
	LastFillPrice decimal.Decimal `json:"last_fill_price"`
	ClientID      int64           `json:"client_id"`
	WhyHeld       string          `json:"why_held"`
	// MktCapPrice arrives only from servers at or above the market-cap-price
	// protocol version.
	MktCapPrice decimal.Decimal `json:"mkt_cap_price"`
}

func (e OrderStatus) Kind() EventType  { return EventTypeOrderStatus }
func (e OrderStatus) RequestID() int64 { return e.OrderID }

// OpenOrder reports an order known to the server, including externally
// submitted ones.
type OpenOrder struct {
	OrderID    int64           `json:"order_id"`
	Symbol     string          `json:"symbol"`
	SecType    string          `json:"sec_type"`
	Exchange   string          `json:"exchange"`
	Action     string          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderType  string          `json:"order_type"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Status     string          `json:"status"`
	Account    string          `json:"account"`
}

func (e OpenOrder) Kind() EventType  { return EventTypeOpenOrder }
func (e OpenOrder) RequestID() int64 { return e.OrderID }

// AccountValue reports one account metric; snapshot semantics per (account, key, currency).
type AccountValue struct {
	Key      string `json:"key"`
	Value    string `json:"value"`
	Currency string `json:"currency"`
	Account  string `json:"account"`
}

func (e AccountValue) Kind() EventType  { return EventTypeAccountValue }
func (e AccountValue) RequestID() int64 { return -1 }

// PortfolioValue reports one portfolio row for the account-updates stream.
type PortfolioValue struct {
	Symbol        string          `json:"symbol"`
	SecType       string          `json:"sec_type"`
	Position      decimal.Decimal `json:"position"`
	MarketPrice   decimal.Decimal `json:"market_price"`
	MarketValue   decimal.Decimal `json:"market_value"`
	AvgCost       decimal.Decimal `json:"avg_cost"`
	UnrealizedPNL decimal.Decimal `json:"unrealized_pnl"`
	RealizedPNL   decimal.Decimal `json:"realized_pnl"`
	Account       string          `json:"account"`
}

func (e PortfolioValue) Kind() EventType  { return EventTypePortfolioValue }
func (e PortfolioValue) RequestID() int64 { return -1 }

// AccountUpdateTime stamps the most recent account-updates batch.
type AccountUpdateTime struct {
	Time string `json:"time"`
}

func (e AccountUpdateTime) Kind() EventType  { return EventTypeAcctUpdateTime }
func (e AccountUpdateTime) RequestID() int64 { return -1 }

// NextValidID announces the floor for client-allocated request ids.
type NextValidID struct {
	ID int64 `json:"id"`
}

func (e NextValidID) Kind() EventType  { return EventTypeNextValidID }
func (e NextValidID) RequestID() int64 { return -1 }

// ManagedAccounts lists the accounts this session may act on.
type ManagedAccounts struct {
	Accounts []string `json:"accounts"`
}

func (e ManagedAccounts) Kind() EventType  { return EventTypeManagedAccts }
func (e ManagedAccounts) RequestID() int64 { return -1 }

// Bar is one historical aggregation interval.
type Bar struct {
	Time   string          `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume decimal.Decimal `json:"volume"`
	WAP    decimal.Decimal `json:"wap"`
	Count  int64           `json:"count"`
}

// HistoricalData carries a full bar series responding to one request.
type HistoricalData struct {
	ReqID     int64  `json:"req_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Bars      []Bar  `json:"bars"`
}

func (e HistoricalData) Kind() EventType  { return EventTypeHistoricalData }
func (e HistoricalData) RequestID() int64 { return e.ReqID }

// CurrentTime is the server clock reading.
type CurrentTime struct {
	Time time.Time `json:"time"`
}

func (e CurrentTime) Kind() EventType  { return EventTypeCurrentTime }
func (e CurrentTime) RequestID() int64 { return -1 }

// Position reports one (account, instrument) position snapshot.
type Position struct {
	Account  string          `json:"account"`
	Symbol   string          `json:"symbol"`
	SecType  string          `json:"sec_type"`
	Currency string          `json:"currency"`
	Position decimal.Decimal `json:"position"`
	AvgCost  decimal.Decimal `json:"avg_cost"`
}

func (e Position) Kind() EventType  { return EventTypePosition }
func (e Position) RequestID() int64 { return -1 }

// PositionEnd terminates a positions download.
type PositionEnd struct{}

func (e PositionEnd) Kind() EventType  { return EventTypePositionEnd }
func (e PositionEnd) RequestID() int64 { return -1 }

// ServerError is a broker-reported error. ReqID < 0 marks connection-level
// notices not tied to any request.
type ServerError struct {
	ReqID   int64  `json:"req_id"`
	Code    int64  `json:"code"`
	Message string `json:"message"`
}

func (e ServerError) Kind() EventType  { return EventTypeServerError }
func (e ServerError) RequestID() int64 { return e.ReqID }

// DecodeError reports a single malformed frame that was dropped; the stream
// continues.
type DecodeError struct {
	Tag    int64  `json:"tag"`
	Reason string `json:"reason"`
}

func (e DecodeError) Kind() EventType  { return EventTypeDecodeError }
func (e DecodeError) RequestID() int64 { return -1 }

// Unknown preserves messages with unrecognised tags so newer servers do not
// break older clients.
type Unknown struct {
	Tag    int64    `json:"tag"`
	Fields []string `json:"fields"`
}

func (e Unknown) Kind() EventType  { return EventTypeUnknown }
func (e Unknown) RequestID() int64 { return -1 }

// ConnectionState labels connection lifecycle notifications.
type ConnectionState string

const (
	ConnReady        ConnectionState = "ready"
	ConnReconnecting ConnectionState = "reconnecting"
	ConnDisconnected ConnectionState = "disconnected"
	ConnGaveUp       ConnectionState = "reconnect_exhausted"
)

// Connection reports a lifecycle transition on the event bus.
type Connection struct {
	State  ConnectionState `json:"state"`
	Reason string          `json:"reason,omitempty"`
}

func (e Connection) Kind() EventType  { return EventTypeConnection }
func (e Connection) RequestID() int64 { return -1 }

// StateChange announces that the entity identified by (Entity, Key) was
// mutated while applying an event of the given Cause kind. Subscribers fetch
// the entity through snapshot accessors, so high-frequency ticks never force
// copies onto the bus.
type StateChange struct {
	Entity EntityKind `json:"entity"`
	Key    string     `json:"key"`
	Cause  EventType  `json:"cause"`
}

func (e StateChange) Kind() EventType  { return EventTypeStateChange }
func (e StateChange) RequestID() int64 { return -1 }
