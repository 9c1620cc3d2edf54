// Package testserver runs an in-process gateway double speaking the real wire
// protocol, for exercising the full client stack over TCP in tests.
package testserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/wire"
	"github.com/quantfold/gatewire/lib/async"
)

// Tick scripts one market data update replayed when a symbol is subscribed.
type Tick struct {
	Type  int64
	Price string
	Size  string
}

// PositionRow scripts one row of the positions download.
type PositionRow struct {
	Account string
	Symbol  string
	SecType string
	Qty     string
	AvgCost string
}

// Options tunes the simulated gateway.
type Options struct {
	ServerVersion int
	Accounts      string
	NextValidID   int64
	// FillOrders makes every placed order fill immediately at its limit price.
	FillOrders bool
}

func (o Options) normalize() Options {
	if o.ServerVersion == 0 {
		o.ServerVersion = 157
	}
	if o.Accounts == "" {
		o.Accounts = "DU12345"
	}
	if o.NextValidID == 0 {
		o.NextValidID = 1
	}
	return o
}

type placedOrder struct {
	id     int64
	inst   protocol.Instrument
	action string
	qty    string
	typ    string
	limit  string
	acct   string
	status string
	filled string
}

type client struct {
	conn net.Conn

	writeMu sync.Mutex
	writer  *wire.FrameWriter

	mu     sync.Mutex
	subs   map[int64]string
	orders map[int64]*placedOrder
}

func (c *client) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writer.WriteFrame(payload)
}

// Server is the simulated gateway. One instance accepts any number of
// sequential or concurrent client connections.
type Server struct {
	opts Options

	lis  net.Listener
	pool *async.Pool
	wg   conc.WaitGroup

	mu          sync.Mutex
	clients     []*client
	ticks       map[string][]Tick
	positions   []PositionRow
	mktDataReqs int
	closed      bool
}

// Start listens on an ephemeral localhost port and serves until Close.
func Start(opts Options) (*Server, error) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("testserver listen: %w", err)
	}
	pool, err := async.NewPool(4, 8)
	if err != nil {
		_ = lis.Close()
		return nil, err
	}
	s := &Server{
		opts:  opts.normalize(),
		lis:   lis,
		pool:  pool,
		ticks: make(map[string][]Tick),
	}
	s.wg.Go(s.acceptLoop)
	return s, nil
}

// Addr returns the host:port the server listens on.
func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Host and Port split the listen address for config plumbing.
func (s *Server) Host() string {
	host, _, _ := net.SplitHostPort(s.Addr())
	return host
}

func (s *Server) Port() int {
	_, portStr, _ := net.SplitHostPort(s.Addr())
	port, _ := strconv.Atoi(portStr)
	return port
}

// ScriptTicks registers market data replayed on subscription to symbol.
func (s *Server) ScriptTicks(symbol string, ticks ...Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks[symbol] = append(s.ticks[symbol], ticks...)
}

// ScriptPositions registers the rows returned by a positions download.
func (s *Server) ScriptPositions(rows ...PositionRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = append(s.positions, rows...)
}

// MarketDataRequests counts REQ_MKT_DATA messages seen across all
// connections, including replays after reconnect.
func (s *Server) MarketDataRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mktDataReqs
}

// DropConnections severs every live connection while keeping the listener
// open, so clients exercise their reconnect path.
func (s *Server) DropConnections() {
	s.mu.Lock()
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()
	for _, c := range clients {
		_ = c.conn.Close()
	}
}

// SendRaw frames an arbitrary payload onto the most recent connection,
// letting tests inject malformed or unknown messages mid-stream.
func (s *Server) SendRaw(payload []byte) error {
	c := s.latest()
	if c == nil {
		return errors.New("testserver: no live connection")
	}
	return c.send(payload)
}

// EmitTick pushes one scripted tick for an already subscribed symbol.
func (s *Server) EmitTick(symbol string, tick Tick) error {
	c := s.latest()
	if c == nil {
		return errors.New("testserver: no live connection")
	}
	c.mu.Lock()
	reqID := int64(-1)
	for id, sym := range c.subs {
		if sym == symbol {
			reqID = id
			break
		}
	}
	c.mu.Unlock()
	if reqID < 0 {
		return fmt.Errorf("testserver: no subscription for %s", symbol)
	}
	return c.send(encodeTick(reqID, tick))
}

// SendError injects a broker error message for the given request id.
func (s *Server) SendError(reqID, code int64, msg string) error {
	c := s.latest()
	if c == nil {
		return errors.New("testserver: no live connection")
	}
	return c.send(wire.NewBuilder().
		AddInt(protocol.TagErrMsg).
		AddInt(2).
		AddInt(reqID).
		AddInt(code).
		AddString(msg).
		Bytes())
}

// Close stops the listener and severs all connections.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	clients := s.clients
	s.clients = nil
	s.mu.Unlock()

	_ = s.lis.Close()
	for _, c := range clients {
		_ = c.conn.Close()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.pool.Shutdown(ctx)
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.lis.Accept()
		if err != nil {
			return
		}
		c := &client{
			conn:   conn,
			writer: wire.NewFrameWriter(conn),
			subs:   make(map[int64]string),
			orders: make(map[int64]*placedOrder),
		}
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close()
			return
		}
		s.clients = append(s.clients, c)
		s.mu.Unlock()

		if err := s.pool.Submit(context.Background(), func(context.Context) error {
			s.serve(c)
			return nil
		}); err != nil {
			_ = conn.Close()
		}
	}
}

func (s *Server) latest() *client {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.clients) == 0 {
		return nil
	}
	return s.clients[len(s.clients)-1]
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	for i, existing := range s.clients {
		if existing == c {
			s.clients = append(s.clients[:i], s.clients[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	_ = c.conn.Close()
}

func (s *Server) serve(c *client) {
	defer s.removeClient(c)

	prefix := make([]byte, 4)
	if _, err := io.ReadFull(c.conn, prefix); err != nil || string(prefix) != "API\x00" {
		return
	}
	reader := wire.NewFrameReader(c.conn, 1<<20)
	if _, err := reader.Next(); err != nil { // client version range
		return
	}
	greeting := wire.NewBuilder().
		AddString(strconv.Itoa(s.opts.ServerVersion)).
		AddString(time.Now().Format("20060102 15:04:05")).
		Bytes()
	if err := c.send(greeting); err != nil {
		return
	}

	for {
		frame, err := reader.Next()
		if err != nil {
			return
		}
		cursor := wire.NewCursor(frame)
		tag, err := cursor.NextInt()
		if err != nil {
			return
		}
		s.handle(c, tag, cursor)
	}
}

func (s *Server) handle(c *client, tag int64, cursor *wire.Cursor) {
	switch tag {
	case protocol.TagStartAPI:
		s.sendSessionOpening(c)
	case protocol.TagReqIDs:
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagNextValidID).AddInt(1).AddInt(s.opts.NextValidID).Bytes())
	case protocol.TagReqCurrentTime:
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagCurrentTime).AddInt(1).AddInt(time.Now().Unix()).Bytes())
	case protocol.TagReqMktData:
		s.handleReqMktData(c, cursor)
	case protocol.TagCancelMktData:
		_, _ = cursor.NextInt() // version
		reqID, err := cursor.NextInt()
		if err == nil {
			c.mu.Lock()
			delete(c.subs, reqID)
			c.mu.Unlock()
		}
	case protocol.TagPlaceOrder:
		s.handlePlaceOrder(c, cursor)
	case protocol.TagCancelOrder:
		s.handleCancelOrder(c, cursor)
	case protocol.TagReqOpenOrders:
		s.handleReqOpenOrders(c)
	case protocol.TagReqAcctData:
		s.handleReqAcctData(c, cursor)
	case protocol.TagReqHistoricalData:
		s.handleReqHistoricalData(c, cursor)
	case protocol.TagReqPositions:
		s.handleReqPositions(c)
	case protocol.TagCancelPositions:
		// stream has no explicit ack
	default:
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagErrMsg).AddInt(2).AddInt(int64(-1)).
			AddInt(501).AddString(fmt.Sprintf("unhandled message type %d", tag)).
			Bytes())
	}
}

func (s *Server) sendSessionOpening(c *client) {
	_ = c.send(wire.NewBuilder().
		AddInt(protocol.TagNextValidID).AddInt(1).AddInt(s.opts.NextValidID).Bytes())
	_ = c.send(wire.NewBuilder().
		AddInt(protocol.TagManagedAccts).AddInt(1).AddString(s.opts.Accounts).Bytes())
}

func (s *Server) handleReqMktData(c *client, cursor *wire.Cursor) {
	_, _ = cursor.NextInt() // version
	reqID, err := cursor.NextInt()
	if err != nil {
		return
	}
	symbol, _ := cursor.NextString()

	c.mu.Lock()
	c.subs[reqID] = symbol
	c.mu.Unlock()

	s.mu.Lock()
	s.mktDataReqs++
	scripted := append([]Tick(nil), s.ticks[symbol]...)
	s.mu.Unlock()

	for _, tick := range scripted {
		_ = c.send(encodeTick(reqID, tick))
	}
}

func (s *Server) handlePlaceOrder(c *client, cursor *wire.Cursor) {
	_, _ = cursor.NextInt() // version
	orderID, err := cursor.NextInt()
	if err != nil {
		return
	}
	var inst protocol.Instrument
	inst.Symbol, _ = cursor.NextString()
	inst.SecType, _ = cursor.NextString()
	inst.Exchange, _ = cursor.NextString()
	inst.Currency, _ = cursor.NextString()
	action, _ := cursor.NextString()
	qty, _ := cursor.NextString()
	orderType, _ := cursor.NextString()
	limit, _ := cursor.NextString()
	acct, _ := cursor.NextString()

	ord := &placedOrder{
		id: orderID, inst: inst, action: action, qty: qty,
		typ: orderType, limit: limit, acct: acct,
		status: "Submitted", filled: "0",
	}
	c.mu.Lock()
	c.orders[orderID] = ord
	c.mu.Unlock()

	_ = c.send(s.encodeOrderStatus(ord, "Submitted", "0", qty, ""))
	if s.opts.FillOrders {
		ord.status = "Filled"
		ord.filled = qty
		_ = c.send(s.encodeOrderStatus(ord, "Filled", qty, "0", limit))
	}
}

func (s *Server) handleCancelOrder(c *client, cursor *wire.Cursor) {
	_, _ = cursor.NextInt() // version
	orderID, err := cursor.NextInt()
	if err != nil {
		return
	}
	c.mu.Lock()
	ord, ok := c.orders[orderID]
	c.mu.Unlock()
	if !ok {
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagErrMsg).AddInt(2).AddInt(orderID).
			AddInt(202).AddString("Order Canceled - Reason: Order not found").
			Bytes())
		return
	}
	ord.status = "Cancelled"
	_ = c.send(s.encodeOrderStatus(ord, "Cancelled", ord.filled, "0", ""))
}

func (s *Server) handleReqOpenOrders(c *client) {
	c.mu.Lock()
	orders := make([]*placedOrder, 0, len(c.orders))
	for _, ord := range c.orders {
		orders = append(orders, ord)
	}
	c.mu.Unlock()
	for _, ord := range orders {
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagOpenOrder).AddInt(1).
			AddInt(ord.id).
			AddString(ord.inst.Symbol).AddString(ord.inst.SecType).
			AddString(ord.inst.Exchange).
			AddString(ord.action).AddString(ord.qty).
			AddString(ord.typ).AddString(ord.limit).
			AddString(ord.status).AddString(ord.acct).
			Bytes())
	}
}

func (s *Server) handleReqAcctData(c *client, cursor *wire.Cursor) {
	_, _ = cursor.NextInt() // version
	subscribe, err := cursor.NextBool()
	if err != nil || !subscribe {
		return
	}
	account, _ := cursor.NextString()
	if account == "" {
		account = s.opts.Accounts
	}
	rows := [][3]string{
		{"AccountCode", account, ""},
		{"NetLiquidation", "250000.00", "USD"},
		{"TotalCashValue", "250000.00", "USD"},
	}
	for _, row := range rows {
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagAcctValue).AddInt(1).
			AddString(row[0]).AddString(row[1]).AddString(row[2]).AddString(account).
			Bytes())
	}
	_ = c.send(wire.NewBuilder().
		AddInt(protocol.TagAcctUpdateTime).AddInt(1).
		AddString(time.Now().Format("15:04")).
		Bytes())
}

func (s *Server) handleReqHistoricalData(c *client, cursor *wire.Cursor) {
	_, _ = cursor.NextInt() // version
	reqID, err := cursor.NextInt()
	if err != nil {
		return
	}
	b := wire.NewBuilder().AddInt(protocol.TagHistoricalData)
	if s.opts.ServerVersion < 124 {
		b.AddInt(3)
	}
	b.AddInt(reqID).
		AddString("20260820 09:30:00").
		AddString("20260820 09:32:00").
		AddInt(2)
	bars := [][8]string{
		{"20260820 09:30:00", "150.00", "150.40", "149.90", "150.25", "1200", "150.10", "45"},
		{"20260820 09:31:00", "150.25", "150.60", "150.20", "150.55", "900", "150.40", "38"},
	}
	for _, bar := range bars {
		b.AddString(bar[0]).AddString(bar[1]).AddString(bar[2]).AddString(bar[3]).
			AddString(bar[4]).AddString(bar[5]).AddString(bar[6]).AddString(bar[7])
	}
	_ = c.send(b.Bytes())
}

func (s *Server) handleReqPositions(c *client) {
	s.mu.Lock()
	rows := append([]PositionRow(nil), s.positions...)
	s.mu.Unlock()
	for _, row := range rows {
		_ = c.send(wire.NewBuilder().
			AddInt(protocol.TagPositionData).AddInt(1).
			AddString(row.Account).AddString(row.Symbol).AddString(row.SecType).
			AddString("USD").AddString(row.Qty).AddString(row.AvgCost).
			Bytes())
	}
	_ = c.send(wire.NewBuilder().
		AddInt(protocol.TagPositionEnd).AddInt(1).Bytes())
}

func (s *Server) encodeOrderStatus(ord *placedOrder, status, filled, remaining, avgPrice string) []byte {
	if avgPrice == "" {
		avgPrice = "0"
	}
	b := wire.NewBuilder().AddInt(protocol.TagOrderStatus)
	if s.opts.ServerVersion < 141 {
		b.AddInt(8)
	}
	b.AddInt(ord.id).
		AddString(status).
		AddString(filled).
		AddString(remaining).
		AddString(avgPrice).
		AddInt(ord.id * 1000). // perm id
		AddInt(0).             // parent id
		AddString(avgPrice).   // last fill price
		AddInt(0).             // client id
		AddString("")          // why held
	if s.opts.ServerVersion >= 141 {
		b.AddEmpty() // market cap price unset
	}
	return b.Bytes()
}

func encodeTick(reqID int64, tick Tick) []byte {
	switch tick.Type {
	case protocol.TickBid, protocol.TickAsk, protocol.TickLast:
		b := wire.NewBuilder().
			AddInt(protocol.TagTickPrice).AddInt(3).
			AddInt(reqID).AddInt(tick.Type).
			AddString(tick.Price)
		if tick.Size == "" {
			b.AddEmpty()
		} else {
			b.AddString(tick.Size)
		}
		return b.AddBool(false).Bytes()
	default:
		return wire.NewBuilder().
			AddInt(protocol.TagTickSize).AddInt(1).
			AddInt(reqID).AddInt(tick.Type).
			AddString(tick.Size).
			Bytes()
	}
}
