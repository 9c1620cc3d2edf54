// Package protocol defines the gateway's message vocabulary: tags, typed
// events, versioned decode routines, and outbound request encoders.
package protocol

// Incoming (server → client) message tags.
const (
	TagTickPrice       int64 = 1
	TagTickSize        int64 = 2
	TagOrderStatus     int64 = 3
	TagErrMsg          int64 = 4
	TagOpenOrder       int64 = 5
	TagAcctValue       int64 = 6
	TagPortfolioValue  int64 = 7
	TagAcctUpdateTime  int64 = 8
	TagNextValidID     int64 = 9
	TagManagedAccts    int64 = 15
	TagHistoricalData  int64 = 17
	TagCurrentTime     int64 = 49
	TagPositionData    int64 = 61
	TagPositionEnd     int64 = 62
)

// Outgoing (client → server) message tags.
const (
	TagReqMktData        int64 = 1
	TagCancelMktData     int64 = 2
	TagPlaceOrder        int64 = 3
	TagCancelOrder       int64 = 4
	TagReqOpenOrders     int64 = 5
	TagReqAcctData       int64 = 6
	TagReqIDs            int64 = 8
	TagReqHistoricalData int64 = 20
	TagReqCurrentTime    int64 = 49
	TagReqPositions      int64 = 61
	TagCancelPositions   int64 = 64
	TagStartAPI          int64 = 71
)

// Client-supported protocol version range, negotiated during the handshake.
const (
	MinClientVersion = 100
	MaxClientVersion = 178
)

// Server version milestones that change message arity.
const (
	// minServerVerUnversionedHistorical drops the per-message version field
	// from historical data responses.
	minServerVerUnversionedHistorical = 124
	// minServerVerMktCapPrice drops the order-status version field and appends
	// the market cap price.
	minServerVerMktCapPrice = 141
)

// Well-known tick value kinds carried by tick price/size messages.
const (
	TickBid      int64 = 1
	TickAsk      int64 = 2
	TickLast     int64 = 4
	TickBidSize  int64 = 0
	TickAskSize  int64 = 3
	TickLastSize int64 = 5
	TickVolume   int64 = 8
)
