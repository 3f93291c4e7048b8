package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/amirphl/pairs-trader/internal/tick"
)

const (
	defaultBinanceHost = "stream.binance.com:9443"

	readTimeout    = 90 * time.Second
	pingInterval   = 30 * time.Second
	writeTimeout   = 10 * time.Second
	maxRetryDelay  = 60 * time.Second
	tickChanBuffer = 4096
)

// combinedMessage is one frame of a Binance combined stream:
// {"stream":"btcusdt@trade","data":{...}}.
type combinedMessage struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// tradeEvent is a Binance trade stream payload. Prices and quantities
// arrive as strings.
type tradeEvent struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Price     string `json:"p"`
	Quantity  string `json:"q"`
	TradeTime int64  `json:"T"`
}

// BinanceFeed consumes a combined trade stream for a set of symbols,
// reconnecting with exponential backoff after any failure. Ticks are pushed
// to a buffered channel; connection transitions are reported on Events so
// the ingestion side can force-close open candles on a disconnect.
type BinanceFeed struct {
	host    string
	symbols []string
	logger  zerolog.Logger

	ticks  chan tick.Tick
	events chan Event

	mu        sync.RWMutex
	connected bool
	closed    bool
	cancel    context.CancelFunc

	done chan struct{}
}

// NewBinanceFeed creates a feed for symbols (exchange notation, e.g.
// "BTCUSDT"). host overrides the production endpoint; empty selects the
// default. Tests point it at a local websocket server.
func NewBinanceFeed(host string, symbols []string, logger zerolog.Logger) (*BinanceFeed, error) {
	if len(symbols) == 0 {
		return nil, fmt.Errorf("binance feed needs at least one symbol")
	}
	if host == "" {
		host = defaultBinanceHost
	}
	return &BinanceFeed{
		host:    host,
		symbols: symbols,
		logger:  logger.With().Str("component", "exchange").Logger(),
		ticks:   make(chan tick.Tick, tickChanBuffer),
		events:  make(chan Event, 16),
		done:    make(chan struct{}),
	}, nil
}

func (f *BinanceFeed) Ticks() <-chan tick.Tick { return f.ticks }

func (f *BinanceFeed) Events() <-chan Event { return f.events }

func (f *BinanceFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Start runs the connect/stream/backoff loop on its own goroutine.
func (f *BinanceFeed) Start(ctx context.Context) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	ctx, f.cancel = context.WithCancel(ctx)
	f.mu.Unlock()

	go func() {
		defer close(f.done)
		retryDelay := time.Second
		for {
			err := f.connectAndStream(ctx)
			if ctx.Err() != nil {
				return
			}
			f.setConnected(false)
			f.emit(Event{Type: EventDisconnected, Err: err, At: time.Now().UTC()})
			f.logger.Warn().Err(err).Dur("retry_in", retryDelay).Msg("stream disconnected")

			select {
			case <-ctx.Done():
				return
			case <-time.After(retryDelay):
			}
			retryDelay *= 2
			if retryDelay > maxRetryDelay {
				retryDelay = maxRetryDelay
			}
		}
	}()
}

// Close stops the feed and closes the tick channel once the stream
// goroutine has exited.
func (f *BinanceFeed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
		<-f.done
	}
	close(f.ticks)
	close(f.events)
}

func (f *BinanceFeed) streamURL() string {
	streams := make([]string, len(f.symbols))
	for i, s := range f.symbols {
		streams[i] = strings.ToLower(s) + "@trade"
	}
	base := f.host
	if !strings.Contains(base, "://") {
		base = "wss://" + base
	}
	u, _ := url.Parse(base)
	u.Path = "/stream"
	q := u.Query()
	q.Set("streams", strings.Join(streams, "/"))
	u.RawQuery = q.Encode()
	return u.String()
}

// connectAndStream handles one connection session and returns the error
// that ended it.
func (f *BinanceFeed) connectAndStream(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.streamURL(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.host, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	f.setConnected(true)
	f.emit(Event{Type: EventConnected, At: time.Now().UTC()})
	f.logger.Info().Strs("symbols", f.symbols).Msg("stream connected")

	go f.pingLoop(ctx, conn)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read frame: %w", err)
		}
		t, err := parseTradeFrame(payload)
		if err != nil {
			f.logger.Debug().Err(err).Msg("skipping unparseable frame")
			continue
		}
		select {
		case f.ticks <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *BinanceFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (f *BinanceFeed) setConnected(v bool) {
	f.mu.Lock()
	f.connected = v
	f.mu.Unlock()
}

// emit never blocks; a slow events consumer loses older notifications.
func (f *BinanceFeed) emit(ev Event) {
	select {
	case f.events <- ev:
	default:
	}
}

// parseTradeFrame converts one combined-stream frame into a normalized
// tick.
func parseTradeFrame(payload []byte) (tick.Tick, error) {
	var frame combinedMessage
	if err := json.Unmarshal(payload, &frame); err != nil {
		return tick.Tick{}, fmt.Errorf("decode frame: %w", err)
	}
	var ev tradeEvent
	if err := json.Unmarshal(frame.Data, &ev); err != nil {
		return tick.Tick{}, fmt.Errorf("decode trade: %w", err)
	}
	if ev.EventType != "trade" {
		return tick.Tick{}, fmt.Errorf("unexpected event type %q", ev.EventType)
	}
	price, err := strconv.ParseFloat(ev.Price, 64)
	if err != nil {
		return tick.Tick{}, fmt.Errorf("parse price %q: %w", ev.Price, err)
	}
	quantity, err := strconv.ParseFloat(ev.Quantity, 64)
	if err != nil {
		return tick.Tick{}, fmt.Errorf("parse quantity %q: %w", ev.Quantity, err)
	}
	return tick.Tick{
		Symbol:    strings.ToUpper(ev.Symbol),
		Price:     price,
		Quantity:  quantity,
		Timestamp: time.UnixMilli(ev.TradeTime).UTC(),
	}, nil
}
