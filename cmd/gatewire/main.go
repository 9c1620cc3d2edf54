// Command gatewire connects to a broker gateway, streams market data for the
// requested symbols, and mirrors orders and account state until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/quantfold/gatewire/client"
	"github.com/quantfold/gatewire/config"
	"github.com/quantfold/gatewire/internal/observability"
	"github.com/quantfold/gatewire/internal/protocol"
	"github.com/quantfold/gatewire/lib/telemetry"
)

const (
	defaultConfigPath = "config/gatewire.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	symbols := flag.String("symbols", "AAPL", "comma-separated symbols to stream")
	exchange := flag.String("exchange", "SMART", "exchange to route subscriptions through")
	currency := flag.String("currency", "USD", "subscription currency")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(os.Stdout, "gatewire ", log.LstdFlags|log.Lmsgprefix)

	settings, err := config.Load(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	logger.Printf("configuration initialised: gateway=%s clientId=%d",
		settings.Gateway.Addr(), settings.Gateway.ClientID)

	_, telemetryShutdown, err := telemetry.Init(ctx, settings.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	observability.SetLogger(stdlogAdapter{logger})
	if settings.Telemetry.OTLPEndpoint != "" {
		observability.SetMetrics(observability.NewOTelMetrics(settings.Telemetry.ServiceName))
	}

	cl, err := client.New(settings)
	if err != nil {
		logger.Fatalf("build client: %v", err)
	}

	if err := cl.Connect(ctx); err != nil {
		logger.Fatalf("connect: %v", err)
	}
	logger.Printf("session ready: server version %d, accounts %v",
		cl.ServerVersion(), cl.ManagedAccounts())

	subID, events, err := cl.Events(ctx,
		protocol.EventTypeTickPrice,
		protocol.EventTypeOrderStatus,
		protocol.EventTypeConnection,
		protocol.EventTypeServerError,
	)
	if err != nil {
		logger.Fatalf("subscribe events: %v", err)
	}
	defer cl.Unsubscribe(subID)

	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		if symbol == "" {
			continue
		}
		reqID, err := cl.SubscribeMarketData(ctx, client.Instrument{
			Symbol:   symbol,
			SecType:  "STK",
			Exchange: *exchange,
			Currency: *currency,
		})
		if err != nil {
			logger.Fatalf("subscribe %s: %v", symbol, err)
		}
		logger.Printf("streaming %s (request %d)", symbol, reqID)
	}

	logger.Print("gatewire started; awaiting shutdown signal")
	run(ctx, logger, events)
	logger.Print("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if raw, err := cl.DumpSnapshot(); err == nil {
		logger.Printf("final state snapshot:\n%s", raw)
	}
	if err := cl.Disconnect(); err != nil {
		logger.Printf("disconnect: %v", err)
	}
	if err := telemetryShutdown(shutdownCtx); err != nil {
		logger.Printf("telemetry shutdown: %v", err)
	}
	stats := cl.Stats()
	logger.Printf("session stats: connects=%d reconnects=%d frames_in=%d frames_out=%d decode_errors=%d",
		stats.Connects, stats.Reconnects, stats.FramesIn, stats.FramesOut, stats.DecodeErrors)
}

func run(ctx context.Context, logger *log.Logger, events <-chan protocol.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			logEvent(logger, evt)
		}
	}
}

func logEvent(logger *log.Logger, evt protocol.Event) {
	switch e := evt.(type) {
	case protocol.TickPrice:
		logger.Printf("tick req=%d type=%d price=%s", e.ReqID, e.TickType, e.Price)
	case protocol.OrderStatus:
		logger.Printf("order %d: %s filled=%s remaining=%s", e.OrderID, e.Status, e.Filled, e.Remaining)
	case protocol.Connection:
		logger.Printf("connection %s %s", e.State, e.Reason)
	case protocol.ServerError:
		logger.Printf("server error req=%d code=%d: %s", e.ReqID, e.Code, e.Message)
	default:
		logger.Printf("event %s", evt.Kind())
	}
}

// stdlogAdapter routes structured client logs through the command logger.
type stdlogAdapter struct {
	logger *log.Logger
}

func (a stdlogAdapter) Debug(msg string, fields ...observability.Field) { a.print("DEBUG", msg, fields) }
func (a stdlogAdapter) Info(msg string, fields ...observability.Field)  { a.print("INFO", msg, fields) }
func (a stdlogAdapter) Error(msg string, fields ...observability.Field) { a.print("ERROR", msg, fields) }

func (a stdlogAdapter) print(level, msg string, fields []observability.Field) {
	var b strings.Builder
	b.WriteString(level)
	b.WriteString(" ")
	b.WriteString(msg)
	for _, f := range fields {
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	a.logger.Print(b.String())
}
