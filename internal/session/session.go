// Package session owns the gateway connection lifecycle: dial, handshake,
// the framed read loop, the rate-limited write path, and automatic reconnect
// with subscription replay.
package session

import (
	"context"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/quantfold/gatewire/config"
	"github.com/quantfold/gatewire/errs"
	"github.com/quantfold/gatewire/internal/bus/eventbus"
	"github.com/quantfold/gatewire/internal/correlate"
	"github.com/quantfold/gatewire/internal/state"
	"github.com/quantfold/gatewire/internal/wire"
)

// State labels the connection lifecycle.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "disconnected"
	}
}

// Stats is a snapshot of connection counters.
type Stats struct {
	Connects     uint64    `json:"connects"`
	Reconnects   uint64    `json:"reconnects"`
	FramesIn     uint64    `json:"frames_in"`
	FramesOut    uint64    `json:"frames_out"`
	BytesIn      uint64    `json:"bytes_in"`
	BytesOut     uint64    `json:"bytes_out"`
	DecodeErrors uint64    `json:"decode_errors"`
	PublishDrops uint64    `json:"publish_drops"`
	ConnectedAt  time.Time `json:"connected_at"`
}

// resubscription is a recorded streaming request replayed verbatim after
// reconnect. Replaying the original payload keeps the request id stable, so
// state keyed by it survives the reconnect.
type resubscription struct {
	reqID   int64
	kind    string
	payload []byte
}

// Session drives one gateway connection for one client id.
type Session struct {
	gw   config.GatewayConfig
	cfg  config.SessionConfig
	bus  eventbus.Bus
	st   *state.Manager
	corr *correlate.Correlator

	limiter *rate.Limiter

	ctx    context.Context
	cancel context.CancelFunc

	connMu sync.Mutex
	conn   net.Conn
	writer *wire.FrameWriter

	subsMu sync.Mutex
	subs   map[int64]resubscription

	gate atomic.Pointer[readyGate]

	state         atomic.Int32
	serverVersion atomic.Int32
	serverTime    atomic.Value // string
	lastRead      atomic.Int64 // unix nanos

	statsMu sync.Mutex
	stats   Stats

	closed  atomic.Bool
	done    chan struct{}
	started atomic.Bool
}

// New wires a session over the shared bus, state mirror, and correlator.
func New(settings config.Settings, bus eventbus.Bus, st *state.Manager, corr *correlate.Correlator) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		gw:      settings.Gateway,
		cfg:     settings.Session,
		bus:     bus,
		st:      st,
		corr:    corr,
		limiter: rate.NewLimiter(rate.Limit(settings.Session.WriteRate), settings.Session.WriteBurst),
		ctx:     ctx,
		cancel:  cancel,
		subs:    make(map[int64]resubscription),
		done:    make(chan struct{}),
	}
	s.serverTime.Store("")
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// ServerVersion returns the negotiated protocol version, zero before the first
// handshake completes.
func (s *Session) ServerVersion() int {
	return int(s.serverVersion.Load())
}

// ServerTime returns the server clock string reported during the handshake.
func (s *Session) ServerTime() string {
	v, _ := s.serverTime.Load().(string)
	return v
}

// Connect dials the gateway, completes the handshake, and starts the
// connection loop. It returns once the session is ready or the initial attempt
// fails; reconnects after that are automatic.
func (s *Session) Connect(ctx context.Context) error {
	if s.closed.Load() {
		return errs.New("session/connect", errs.CodeUnavailable, errs.WithMessage("session closed"))
	}
	if !s.started.CompareAndSwap(false, true) {
		return errs.New("session/connect", errs.CodeInvalid, errs.WithMessage("already connected"))
	}

	initial := make(chan error, 1)
	go s.connectLoop(initial)

	select {
	case err := <-initial:
		return err
	case <-ctx.Done():
		s.Close()
		return errs.New("session/connect", errs.CodeHandshake, errs.WithCause(ctx.Err()))
	}
}

// Close disconnects explicitly: no reconnect follows, pending requests fail,
// and live tickers are dropped.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	s.closeConn()
	if s.started.Load() {
		<-s.done
	}
	s.corr.FailAll(errs.New("session/close", errs.CodeConnectionLost,
		errs.WithMessage("client disconnected")))
	s.st.ClearTickers()
	s.subsMu.Lock()
	s.subs = make(map[int64]resubscription)
	s.subsMu.Unlock()
	s.setState(StateDisconnected)
	return nil
}

// Send rate-limits and frames one request payload onto the socket.
func (s *Session) Send(ctx context.Context, payload []byte) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return errs.New("session/send", errs.CodeRequestTimeout, errs.WithCause(err))
	}

	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.writer == nil {
		return errs.New("session/send", errs.CodeConnectionLost,
			errs.WithMessage("not connected"))
	}
	return s.writer.WriteFrame(payload)
}

// RecordSubscription registers a streaming request for replay after reconnect.
func (s *Session) RecordSubscription(reqID int64, kind string, payload []byte) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	s.subs[reqID] = resubscription{
		reqID:   reqID,
		kind:    kind,
		payload: append([]byte(nil), payload...),
	}
}

// DropSubscription forgets a streaming request, on cancel or unsubscribe.
func (s *Session) DropSubscription(reqID int64) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	delete(s.subs, reqID)
}

// SubscriptionCount reports how many streaming requests would replay on
// reconnect.
func (s *Session) SubscriptionCount() int {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	return len(s.subs)
}

func (s *Session) snapshotSubscriptions() []resubscription {
	s.subsMu.Lock()
	out := make([]resubscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	s.subsMu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].reqID < out[j].reqID })
	return out
}

// Stats returns a snapshot of the connection counters.
func (s *Session) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}

func (s *Session) setConn(conn net.Conn, writer *wire.FrameWriter) {
	s.connMu.Lock()
	s.conn = conn
	s.writer = writer
	s.connMu.Unlock()
}

func (s *Session) closeConn() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.writer = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}
