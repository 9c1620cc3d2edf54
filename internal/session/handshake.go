package session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/quantfold/gatewire/errs"
	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/internal/wire"
)

// apiPrefix opens every connection before the framed stream starts.
const apiPrefix = "API\x00"

// establish dials the gateway and runs the version negotiation through the
// START_API request. The returned reader is positioned at the start of the
// regular message stream.
func (s *Session) establish(ctx context.Context) (net.Conn, *wire.FrameReader, *wire.FrameWriter, error) {
	dialer := net.Dialer{Timeout: s.cfg.HandshakeTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.gw.Addr())
	if err != nil {
		return nil, nil, nil, errs.New("session/dial", errs.CodeNetwork,
			errs.WithMessage("dial "+s.gw.Addr()), errs.WithCause(err))
	}

	if err := conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeNetwork, errs.WithCause(err))
	}

	writer := wire.NewFrameWriter(conn)
	reader := wire.NewFrameReader(conn, s.cfg.MaxFrameSize)

	if _, err := conn.Write([]byte(apiPrefix)); err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeNetwork,
			errs.WithMessage("write api prefix"), errs.WithCause(err))
	}
	versionRange := fmt.Sprintf("v%d..%d", protocol.MinClientVersion, protocol.MaxClientVersion)
	if err := writer.WriteFrame([]byte(versionRange)); err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeHandshake,
			errs.WithMessage("send version range"), errs.WithCause(err))
	}

	frame, err := reader.Next()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeHandshake,
			errs.WithMessage("read server greeting"), errs.WithCause(err))
	}
	cursor := wire.NewCursor(frame)
	rawVersion, err := cursor.NextString()
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeHandshake,
			errs.WithMessage("missing server version"), errs.WithCause(err))
	}
	serverVersion, err := strconv.Atoi(rawVersion)
	if err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeHandshake,
			errs.WithMessage("malformed server version "+rawVersion), errs.WithCause(err))
	}
	serverTime, _ := cursor.NextString()

	if serverVersion < protocol.MinClientVersion {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeHandshake,
			errs.WithMessage(fmt.Sprintf("server version %d below supported minimum %d",
				serverVersion, protocol.MinClientVersion)))
	}

	if err := writer.WriteFrame(protocol.EncodeStartAPI(s.gw.ClientID, "")); err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeHandshake,
			errs.WithMessage("send start api"), errs.WithCause(err))
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		_ = conn.Close()
		return nil, nil, nil, errs.New("session/handshake", errs.CodeNetwork, errs.WithCause(err))
	}

	s.serverVersion.Store(int32(serverVersion))
	s.serverTime.Store(serverTime)
	return conn, reader, writer, nil
}
