package datasource

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"quantcore/pkg/types"
)

const (
	pingInterval     = 50 * time.Second // keep-alive cadence
	readTimeout      = 90 * time.Second // ~2 missed pings triggers reconnect
	maxReconnectWait = 30 * time.Second // cap on exponential backoff
	writeTimeout     = 10 * time.Second // deadline for outgoing messages
	quoteBufferSize  = 256
)

// feedSubscribeMsg is the subscription request sent on (re)connect.
type feedSubscribeMsg struct {
	Operation string   `json:"op"` // "subscribe" or "unsubscribe"
	Symbols   []string `json:"symbols"`
}

// feedQuoteMsg is the incoming quote shape.
type feedQuoteMsg struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
	Time   int64   `json:"time"` // unix seconds
}

// Feed is a realtime quote stream over WebSocket. It reconnects with
// exponential backoff and re-subscribes to all tracked symbols on each
// reconnection. A read deadline catches silent server failures.
type Feed struct {
	url    string
	conn   *websocket.Conn
	connMu sync.Mutex

	subscribedMu sync.RWMutex
	subscribed   map[string]bool

	quoteCh chan types.Quote

	logger *slog.Logger
}

// NewFeed creates a quote feed for wsURL.
func NewFeed(wsURL string, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		url:        wsURL,
		subscribed: make(map[string]bool),
		quoteCh:    make(chan types.Quote, quoteBufferSize),
		logger:     logger.With("component", "feed"),
	}
}

// Quotes returns the read-only quote channel.
func (f *Feed) Quotes() <-chan types.Quote { return f.quoteCh }

// Run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("feed disconnected, reconnecting",
			"error", err,
			"backoff", backoff,
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Subscribe starts streaming quotes for the given symbols.
func (f *Feed) Subscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		f.subscribed[s] = true
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(feedSubscribeMsg{Operation: "subscribe", Symbols: symbols})
}

// Unsubscribe stops streaming quotes for the given symbols.
func (f *Feed) Unsubscribe(symbols []string) error {
	f.subscribedMu.Lock()
	for _, s := range symbols {
		delete(f.subscribed, s)
	}
	f.subscribedMu.Unlock()

	return f.writeJSON(feedSubscribeMsg{Operation: "unsubscribe", Symbols: symbols})
}

// Close shuts the current connection.
func (f *Feed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *Feed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	if err := f.resubscribe(); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.logger.Info("feed connected", "url", f.url)

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

func (f *Feed) resubscribe() error {
	f.subscribedMu.RLock()
	symbols := make([]string, 0, len(f.subscribed))
	for s := range f.subscribed {
		symbols = append(symbols, s)
	}
	f.subscribedMu.RUnlock()

	if len(symbols) == 0 {
		return nil
	}
	return f.writeJSON(feedSubscribeMsg{Operation: "subscribe", Symbols: symbols})
}

func (f *Feed) dispatchMessage(data []byte) {
	var msg feedQuoteMsg
	if err := json.Unmarshal(data, &msg); err != nil || msg.Symbol == "" {
		f.logger.Debug("ignoring non-quote message", "data", string(data))
		return
	}

	quote := types.Quote{
		Symbol:    msg.Symbol,
		Price:     msg.Price,
		Volume:    int64(msg.Volume),
		Timestamp: time.Unix(msg.Time, 0).UTC(),
	}

	select {
	case f.quoteCh <- quote:
	default:
		f.logger.Warn("quote channel full, dropping", "symbol", quote.Symbol)
	}
}

func (f *Feed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.connMu.Lock()
			conn := f.conn
			if conn != nil {
				conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					f.logger.Warn("ping failed", "error", err)
				}
			}
			f.connMu.Unlock()
		}
	}
}

func (f *Feed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()

	if f.conn == nil {
		// not connected yet; the subscription is replayed on connect
		return nil
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}
