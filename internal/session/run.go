package session

import (
	"context"
	"errors"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sourcegraph/conc"

	"github.com/quantfold/gatewire/errs"
	"github.com/quantfold/gatewire/internal/observability"
	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/wire"
)

// readyGate tracks the two post-handshake messages that must arrive before
// the session counts as ready.
type readyGate struct {
	mu    sync.Mutex
	ids   bool
	accts bool
	done  chan struct{}
}

func newReadyGate() *readyGate {
	return &readyGate{done: make(chan struct{})}
}

func (g *readyGate) markIDs() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids = true
	g.maybeComplete()
}

func (g *readyGate) markAccounts() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.accts = true
	g.maybeComplete()
}

func (g *readyGate) maybeComplete() {
	if g.ids && g.accts {
		select {
		case <-g.done:
		default:
			close(g.done)
		}
	}
}

// connectLoop keeps one live connection per session until close, re-dialing
// with exponential backoff after drops and replaying recorded subscriptions.
func (s *Session) connectLoop(initial chan<- error) {
	defer close(s.done)

	backoffCfg := backoff.NewExponentialBackOff()
	backoffCfg.InitialInterval = s.cfg.Backoff.InitialInterval
	backoffCfg.MaxInterval = s.cfg.Backoff.MaxInterval

	first := true
	var retryStart time.Time

	for {
		select {
		case <-s.ctx.Done():
			s.setState(StateDisconnected)
			return
		default:
		}

		if first {
			s.setState(StateConnecting)
		}

		conn, reader, writer, err := s.establish(s.ctx)
		if err != nil {
			if first {
				s.setState(StateDisconnected)
				initial <- err
				return
			}
			if s.cfg.Backoff.MaxElapsed > 0 && time.Since(retryStart) > s.cfg.Backoff.MaxElapsed {
				s.giveUp(err)
				return
			}
			sleep := backoffCfg.NextBackOff()
			if sleep == backoff.Stop {
				sleep = s.cfg.Backoff.MaxInterval
			}
			observability.Log().Info("reconnect attempt failed",
				observability.Field{Key: "error", Value: err.Error()},
				observability.Field{Key: "retry_in", Value: sleep.String()},
			)
			select {
			case <-s.ctx.Done():
				s.setState(StateDisconnected)
				return
			case <-time.After(sleep):
			}
			continue
		}

		s.setState(StateHandshaking)
		s.setConn(conn, writer)
		gate := newReadyGate()
		s.gate.Store(gate)
		s.markConnected()

		router := protocol.NewRouter(s.ServerVersion())
		connCtx, connCancel := context.WithCancel(s.ctx)
		errCh := make(chan error, 2)
		var wg conc.WaitGroup
		wg.Go(func() { errCh <- s.readLoop(connCtx, router, reader) })
		wg.Go(func() { errCh <- s.heartbeat(connCtx) })

		ready := false
		var loopErr error
		select {
		case <-gate.done:
			ready = true
		case loopErr = <-errCh:
		case <-time.After(s.cfg.HandshakeTimeout):
			loopErr = errs.New("session/handshake", errs.CodeHandshake,
				errs.WithMessage("timed out awaiting session readiness"))
		case <-s.ctx.Done():
		}

		if ready {
			backoffCfg.Reset()
			s.setState(StateReady)
			observability.Log().Info("session ready",
				observability.Field{Key: "server_version", Value: s.ServerVersion()},
				observability.Field{Key: "addr", Value: s.gw.Addr()},
			)
			if first {
				s.publish(protocol.Connection{State: protocol.ConnReady})
				initial <- nil
				first = false
			} else {
				s.resubscribeAll()
				s.publish(protocol.Connection{State: protocol.ConnReady, Reason: "reconnected"})
			}
			loopErr = <-errCh
		}

		connCancel()
		s.closeConn()
		wg.Wait()
		s.accumulateIO(reader, writer)

		if !ready && first {
			s.setState(StateDisconnected)
			if loopErr == nil {
				loopErr = errs.New("session/connect", errs.CodeHandshake,
					errs.WithMessage("connection closed during handshake"))
			}
			initial <- loopErr
			return
		}

		s.corr.FailAll(errs.New("session/run", errs.CodeConnectionLost,
			errs.WithCause(loopErr)))

		if s.ctx.Err() != nil || s.closed.Load() {
			s.setState(StateDisconnected)
			s.publish(protocol.Connection{State: protocol.ConnDisconnected})
			return
		}

		s.setState(StateReconnecting)
		reason := ""
		if loopErr != nil {
			reason = loopErr.Error()
		}
		s.publish(protocol.Connection{State: protocol.ConnReconnecting, Reason: reason})
		s.statsMu.Lock()
		s.stats.Reconnects++
		s.statsMu.Unlock()
		observability.Telemetry().IncCounter("session.reconnects", 1, nil)
		retryStart = time.Now()
	}
}

// readLoop drains frames from the socket and pushes each one through decode,
// correlation, state sync, and bus publication, in that order.
func (s *Session) readLoop(ctx context.Context, router *protocol.Router, reader *wire.FrameReader) error {
	for {
		frame, err := reader.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return errs.New("session/read", errs.CodeConnectionLost,
					errs.WithMessage("server closed connection"))
			}
			return err
		}
		s.lastRead.Store(time.Now().UnixNano())

		evt, err := router.Route(frame)
		if err != nil {
			// A single malformed message is dropped; the stream continues.
			s.statsMu.Lock()
			s.stats.DecodeErrors++
			s.statsMu.Unlock()
			observability.Telemetry().IncCounter("session.decode_errors", 1, nil)
			s.publish(protocol.DecodeError{Tag: msgTagOf(err), Reason: err.Error()})
			continue
		}
		s.dispatch(evt)
	}
}

func msgTagOf(err error) int64 {
	var e *errs.E
	if errors.As(err, &e) {
		return e.MsgTag
	}
	return -1
}

// dispatch applies one decoded event: correlation first, then state, then the
// bus, so a caller woken by Await always observes the already-updated mirror.
func (s *Session) dispatch(evt protocol.Event) {
	switch e := evt.(type) {
	case protocol.NextValidID:
		s.corr.SetFloor(e.ID)
		if g := s.gate.Load(); g != nil {
			g.markIDs()
		}
	case protocol.ManagedAccounts:
		if g := s.gate.Load(); g != nil {
			g.markAccounts()
		}
	case protocol.OrderStatus:
		s.corr.Resolve(e.OrderID, e)
	case protocol.HistoricalData:
		s.corr.Resolve(e.ReqID, e)
	case protocol.ServerError:
		if e.ReqID >= 0 && !isWarningCode(e.Code) {
			s.corr.Fail(e.ReqID, errs.New("session/dispatch", errs.CodeRequestRejected,
				errs.WithReqID(e.ReqID), errs.WithServerError(e.Code, e.Message)))
		} else {
			observability.Log().Info("server notice",
				observability.Field{Key: "code", Value: e.Code},
				observability.Field{Key: "message", Value: e.Message},
			)
		}
	}

	changes := s.st.Apply(evt)
	s.publish(evt)
	for _, change := range changes {
		s.publish(change)
	}
}

// isWarningCode reports broker codes that are informational notices rather
// than request failures, e.g. data farm connectivity messages.
func isWarningCode(code int64) bool {
	switch code {
	case 1101, 1102, 2103, 2104, 2105, 2106, 2107, 2108, 2119, 2158:
		return true
	default:
		return false
	}
}

// heartbeat flags a dead connection when no server traffic arrives within the
// idle window. The connect loop closes the socket, which unblocks the reader.
func (s *Session) heartbeat(ctx context.Context) error {
	interval := s.cfg.HeartbeatIdle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.lastRead.Store(time.Now().UnixNano())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			last := time.Unix(0, s.lastRead.Load())
			if time.Since(last) > s.cfg.HeartbeatIdle {
				return errs.New("session/heartbeat", errs.CodeConnectionLost,
					errs.WithMessage("no server traffic within idle window"))
			}
		}
	}
}

func (s *Session) resubscribeAll() {
	for _, sub := range s.snapshotSubscriptions() {
		if err := s.Send(s.ctx, sub.payload); err != nil {
			observability.Log().Error("resubscribe failed",
				observability.Field{Key: "kind", Value: sub.kind},
				observability.Field{Key: "req_id", Value: sub.reqID},
				observability.Field{Key: "error", Value: err.Error()},
			)
			continue
		}
		observability.Log().Info("resubscribed",
			observability.Field{Key: "kind", Value: sub.kind},
			observability.Field{Key: "req_id", Value: sub.reqID},
		)
	}
}

func (s *Session) giveUp(cause error) {
	err := errs.New("session/reconnect", errs.CodeReconnectExhausted,
		errs.WithMessage("retry budget exhausted"), errs.WithCause(cause))
	observability.Log().Error("reconnect abandoned",
		observability.Field{Key: "error", Value: err.Error()},
	)
	s.corr.FailAll(err)
	s.setState(StateDisconnected)
	s.publish(protocol.Connection{State: protocol.ConnGaveUp, Reason: err.Error()})
}

func (s *Session) markConnected() {
	s.statsMu.Lock()
	s.stats.Connects++
	s.stats.ConnectedAt = time.Now()
	s.statsMu.Unlock()
	observability.Telemetry().IncCounter("session.connects", 1,
		map[string]string{"client_id": strconv.FormatInt(s.gw.ClientID, 10)})
}

func (s *Session) accumulateIO(reader *wire.FrameReader, writer *wire.FrameWriter) {
	framesIn, bytesIn := reader.Stats()
	framesOut, bytesOut := writer.Stats()
	s.statsMu.Lock()
	s.stats.FramesIn += framesIn
	s.stats.BytesIn += bytesIn
	s.stats.FramesOut += framesOut
	s.stats.BytesOut += bytesOut
	s.statsMu.Unlock()
}

func (s *Session) publish(evt protocol.Event) {
	if err := s.bus.Publish(s.ctx, evt); err != nil {
		s.statsMu.Lock()
		s.stats.PublishDrops++
		s.statsMu.Unlock()
		observability.Log().Debug("event dropped",
			observability.Field{Key: "type", Value: string(evt.Kind())},
			observability.Field{Key: "error", Value: err.Error()},
		)
	}
}
