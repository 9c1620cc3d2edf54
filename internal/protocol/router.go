package protocol

import (
	"github.com/quantfold/gatewire/errs"
	"github.com/quantfold/gatewire/internal/observability"
	"github.com/quantfold/gatewire/internal/wire"
)

type decodeFn func(r *Router, c *wire.Cursor) (Event, error)

// Router maps each frame's leading tag, combined with the negotiated server
// version, to a decoding routine producing a typed event.
type Router struct {
	serverVersion int
	table         map[int64]decodeFn
}

// NewRouter builds the dispatch table for the negotiated server version.
func NewRouter(serverVersion int) *Router {
	r := &Router{serverVersion: serverVersion}
	r.table = map[int64]decodeFn{
		TagTickPrice:      (*Router).decodeTickPrice,
		TagTickSize:       (*Router).decodeTickSize,
		TagOrderStatus:    (*Router).decodeOrderStatus,
		TagErrMsg:         (*Router).decodeErrMsg,
		TagOpenOrder:      (*Router).decodeOpenOrder,
		TagAcctValue:      (*Router).decodeAcctValue,
		TagPortfolioValue: (*Router).decodePortfolioValue,
		TagAcctUpdateTime: (*Router).decodeAcctUpdateTime,
		TagNextValidID:    (*Router).decodeNextValidID,
		TagManagedAccts:   (*Router).decodeManagedAccts,
		TagHistoricalData: (*Router).decodeHistoricalData,
		TagCurrentTime:    (*Router).decodeCurrentTime,
		TagPositionData:   (*Router).decodePosition,
		TagPositionEnd:    (*Router).decodePositionEnd,
	}
	return r
}

// ServerVersion returns the negotiated version the table was built for.
func (r *Router) ServerVersion() int { return r.serverVersion }

// Route decodes one frame into a typed event. Unknown tags yield an Unknown
// event; decode failures for known tags return a decode error so the caller
// can drop the single frame and continue.
func (r *Router) Route(frame []byte) (Event, error) {
	c := wire.NewCursor(frame)
	tag, err := c.NextInt()
	if err != nil || tag == wire.UnsetInt {
		return nil, errs.New("protocol/route", errs.CodeDecode,
			errs.WithMessage("missing message tag"), errs.WithCause(err))
	}

	decode, ok := r.table[tag]
	if !ok {
		return Unknown{Tag: tag, Fields: c.RemainingFields()}, nil
	}

	evt, err := decode(r, c)
	if err != nil {
		return nil, errs.New("protocol/route", errs.CodeDecode,
			errs.WithMsgTag(tag), errs.WithCause(err))
	}
	if rem := c.Remaining(); rem > 0 {
		// Newer servers may append trailing fields; tolerate and log.
		observability.Log().Debug("field overrun tolerated",
			observability.Field{Key: "tag", Value: tag},
			observability.Field{Key: "extra_fields", Value: rem},
		)
		_ = c.RemainingFields()
	}
	return evt, nil
}

func (r *Router) decodeTickPrice(c *wire.Cursor) (Event, error) {
	version, err := c.NextInt()
	if err != nil {
		return nil, err
	}
	evt := TickPrice{Size: wire.UnsetDecimal}
	if evt.ReqID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.TickType, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.Price, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if version >= 2 {
		if evt.Size, err = c.NextDecimal(); err != nil {
			return nil, err
		}
	}
	if version >= 3 {
		if evt.CanAutoExecute, err = c.NextBool(); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

func (r *Router) decodeTickSize(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	var evt TickSize
	var err error
	if evt.ReqID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.TickType, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.Size, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (r *Router) decodeOrderStatus(c *wire.Cursor) (Event, error) {
	var err error
	if r.serverVersion < minServerVerMktCapPrice {
		if _, err = c.NextInt(); err != nil { // message version
			return nil, err
		}
	}
	evt := OrderStatus{MktCapPrice: wire.UnsetDecimal}
	if evt.OrderID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.Status, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Filled, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.Remaining, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.AvgFillPrice, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.PermID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.ParentID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.LastFillPrice, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.ClientID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.WhyHeld, err = c.NextString(); err != nil {
		return nil, err
	}
	if r.serverVersion >= minServerVerMktCapPrice {
		if evt.MktCapPrice, err = c.NextDecimal(); err != nil {
			return nil, err
		}
	}
	return evt, nil
}

func (r *Router) decodeErrMsg(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	var evt ServerError
	var err error
	if evt.ReqID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.Code, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.Message, err = c.NextString(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (r *Router) decodeOpenOrder(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	var evt OpenOrder
	var err error
	if evt.OrderID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.Symbol, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.SecType, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Exchange, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Action, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Quantity, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.OrderType, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.LimitPrice, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.Status, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Account, err = c.NextString(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (r *Router) decodeAcctValue(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	var evt AccountValue
	var err error
	if evt.Key, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Value, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Currency, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Account, err = c.NextString(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (r *Router) decodePortfolioValue(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	var evt PortfolioValue
	var err error
	if evt.Symbol, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.SecType, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Position, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.MarketPrice, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.MarketValue, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.AvgCost, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.UnrealizedPNL, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.RealizedPNL, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.Account, err = c.NextString(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (r *Router) decodeAcctUpdateTime(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	t, err := c.NextString()
	if err != nil {
		return nil, err
	}
	return AccountUpdateTime{Time: t}, nil
}

func (r *Router) decodeNextValidID(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	id, err := c.NextInt()
	if err != nil {
		return nil, err
	}
	return NextValidID{ID: id}, nil
}

func (r *Router) decodeManagedAccts(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	list, err := c.NextString()
	if err != nil {
		return nil, err
	}
	return ManagedAccounts{Accounts: splitAccounts(list)}, nil
}

func (r *Router) decodeHistoricalData(c *wire.Cursor) (Event, error) {
	var err error
	if r.serverVersion < minServerVerUnversionedHistorical {
		if _, err = c.NextInt(); err != nil { // message version
			return nil, err
		}
	}
	var evt HistoricalData
	if evt.ReqID, err = c.NextInt(); err != nil {
		return nil, err
	}
	if evt.StartDate, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.EndDate, err = c.NextString(); err != nil {
		return nil, err
	}
	count, err := c.NextInt()
	if err != nil {
		return nil, err
	}
	if count > 0 && count != wire.UnsetInt {
		evt.Bars = make([]Bar, 0, count)
		for i := int64(0); i < count; i++ {
			var bar Bar
			if bar.Time, err = c.NextString(); err != nil {
				return nil, err
			}
			if bar.Open, err = c.NextDecimal(); err != nil {
				return nil, err
			}
			if bar.High, err = c.NextDecimal(); err != nil {
				return nil, err
			}
			if bar.Low, err = c.NextDecimal(); err != nil {
				return nil, err
			}
			if bar.Close, err = c.NextDecimal(); err != nil {
				return nil, err
			}
			if bar.Volume, err = c.NextDecimal(); err != nil {
				return nil, err
			}
			if bar.WAP, err = c.NextDecimal(); err != nil {
				return nil, err
			}
			if bar.Count, err = c.NextInt(); err != nil {
				return nil, err
			}
			evt.Bars = append(evt.Bars, bar)
		}
	}
	return evt, nil
}

func (r *Router) decodeCurrentTime(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	t, err := c.NextTime()
	if err != nil {
		return nil, err
	}
	return CurrentTime{Time: t}, nil
}

func (r *Router) decodePosition(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	var evt Position
	var err error
	if evt.Account, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Symbol, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.SecType, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Currency, err = c.NextString(); err != nil {
		return nil, err
	}
	if evt.Position, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	if evt.AvgCost, err = c.NextDecimal(); err != nil {
		return nil, err
	}
	return evt, nil
}

func (r *Router) decodePositionEnd(c *wire.Cursor) (Event, error) {
	if _, err := c.NextInt(); err != nil { // message version
		return nil, err
	}
	return PositionEnd{}, nil
}

func splitAccounts(list string) []string {
	if list == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(list); i++ {
		if i == len(list) || list[i] == ',' {
			if i > start {
				out = append(out, list[start:i])
			}
			start = i + 1
		}
	}
	return out
}
