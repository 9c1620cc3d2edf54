package protocol

import (
	"github.com/shopspring/decimal"

	"github.com/quantfold/gatewire/internal/wire"
)

// Request message versions. The server decodes each request against the
// version field that leads its payload.
const (
	versionStartAPI          = 2
	versionReqMktData        = 11
	versionCancelMktData     = 2
	versionPlaceOrder        = 45
	versionCancelOrder       = 1
	versionReqOpenOrders     = 1
	versionReqAcctData       = 2
	versionReqIDs            = 1
	versionReqHistoricalData = 6
	versionReqCurrentTime    = 1
	versionReqPositions      = 1
	versionCancelPositions   = 1
)

// Instrument identifies a tradable contract with the fields the wire needs.
type Instrument struct {
	Symbol   string `json:"symbol"`
	SecType  string `json:"sec_type"`
	Exchange string `json:"exchange"`
	Currency string `json:"currency"`
}

// OrderTicket carries the client-side order parameters for placement.
type OrderTicket struct {
	Action     string          `json:"action"`
	Quantity   decimal.Decimal `json:"quantity"`
	OrderType  string          `json:"order_type"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Account    string          `json:"account"`
}

func (i Instrument) encode(b *wire.Builder) {
	b.AddString(i.Symbol).
		AddString(i.SecType).
		AddString(i.Exchange).
		AddString(i.Currency)
}

// EncodeStartAPI builds the START_API payload sent right after the handshake.
func EncodeStartAPI(clientID int64, capabilities string) []byte {
	return wire.NewBuilder().
		AddInt(TagStartAPI).
		AddInt(versionStartAPI).
		AddInt(clientID).
		AddString(capabilities).
		Bytes()
}

// EncodeReqMktData builds a streaming market data subscription request.
func EncodeReqMktData(reqID int64, inst Instrument, genericTicks string, snapshot bool) []byte {
	b := wire.NewBuilder().
		AddInt(TagReqMktData).
		AddInt(versionReqMktData).
		AddInt(reqID)
	inst.encode(b)
	return b.
		AddString(genericTicks).
		AddBool(snapshot).
		Bytes()
}

// EncodeCancelMktData builds a market data cancellation.
func EncodeCancelMktData(reqID int64) []byte {
	return wire.NewBuilder().
		AddInt(TagCancelMktData).
		AddInt(versionCancelMktData).
		AddInt(reqID).
		Bytes()
}

// EncodePlaceOrder builds an order placement request.
func EncodePlaceOrder(orderID int64, inst Instrument, order OrderTicket) []byte {
	b := wire.NewBuilder().
		AddInt(TagPlaceOrder).
		AddInt(versionPlaceOrder).
		AddInt(orderID)
	inst.encode(b)
	return b.
		AddString(order.Action).
		AddDecimal(order.Quantity).
		AddString(order.OrderType).
		AddDecimal(order.LimitPrice).
		AddString(order.Account).
		Bytes()
}

// EncodeCancelOrder builds an order cancellation.
func EncodeCancelOrder(orderID int64) []byte {
	return wire.NewBuilder().
		AddInt(TagCancelOrder).
		AddInt(versionCancelOrder).
		AddInt(orderID).
		Bytes()
}

// EncodeReqOpenOrders requests the open order download.
func EncodeReqOpenOrders() []byte {
	return wire.NewBuilder().
		AddInt(TagReqOpenOrders).
		AddInt(versionReqOpenOrders).
		Bytes()
}

// EncodeReqAccountUpdates toggles the account value/portfolio stream.
func EncodeReqAccountUpdates(subscribe bool, account string) []byte {
	return wire.NewBuilder().
		AddInt(TagReqAcctData).
		AddInt(versionReqAcctData).
		AddBool(subscribe).
		AddString(account).
		Bytes()
}

// EncodeReqIDs asks the server for the next valid order id.
func EncodeReqIDs() []byte {
	return wire.NewBuilder().
		AddInt(TagReqIDs).
		AddInt(versionReqIDs).
		AddInt(1). // number of ids, kept for wire compatibility
		Bytes()
}

// EncodeReqHistoricalData builds a historical bar series request.
func EncodeReqHistoricalData(reqID int64, inst Instrument, endTime, duration, barSize, whatToShow string, useRTH bool) []byte {
	b := wire.NewBuilder().
		AddInt(TagReqHistoricalData).
		AddInt(versionReqHistoricalData).
		AddInt(reqID)
	inst.encode(b)
	return b.
		AddString(endTime).
		AddString(duration).
		AddString(barSize).
		AddString(whatToShow).
		AddBool(useRTH).
		Bytes()
}

// EncodeReqCurrentTime asks for the server clock.
func EncodeReqCurrentTime() []byte {
	return wire.NewBuilder().
		AddInt(TagReqCurrentTime).
		AddInt(versionReqCurrentTime).
		Bytes()
}

// EncodeReqPositions subscribes to the position stream.
func EncodeReqPositions() []byte {
	return wire.NewBuilder().
		AddInt(TagReqPositions).
		AddInt(versionReqPositions).
		Bytes()
}

// EncodeCancelPositions ends the position stream.
func EncodeCancelPositions() []byte {
	return wire.NewBuilder().
		AddInt(TagCancelPositions).
		AddInt(versionCancelPositions).
		Bytes()
}
