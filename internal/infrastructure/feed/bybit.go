package feed

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/crypto_position_engine/internal/domain"
)

// BybitFeed streams public trades from the Bybit v5 websocket and converts
// them into PriceTicks. Reconnects with exponential backoff and replays the
// subscription after every reconnect.
type BybitFeed struct {
	wsURL string
	log   *zap.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	symbols   []string
	callbacks []func(tick domain.PriceTick)
	closed    bool
	done      chan struct{}
}

func NewBybitFeed(wsURL string, log *zap.Logger) *BybitFeed {
	return &BybitFeed{
		wsURL: wsURL,
		log:   log,
		done:  make(chan struct{}),
	}
}

func (f *BybitFeed) OnTick(callback func(tick domain.PriceTick)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, callback)
}

// Subscribe connects on first use and adds the symbols to the public trade
// subscription.
func (f *BybitFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.symbols = append(f.symbols, symbols...)
	if f.conn == nil {
		conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
		if err != nil {
			return err
		}
		f.conn = conn
		go f.readLoop(conn)
	}
	return f.subscribe(f.conn, symbols)
}

func (f *BybitFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.done)
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *BybitFeed) subscribe(conn *websocket.Conn, symbols []string) error {
	if len(symbols) == 0 {
		return nil
	}
	args := make([]string, len(symbols))
	for i, s := range symbols {
		args[i] = "publicTrade." + s
	}
	return conn.WriteJSON(map[string]any{
		"op":   "subscribe",
		"args": args,
	})
}

type tradeMessage struct {
	Topic string `json:"topic"`
	Data  []struct {
		Symbol string          `json:"s"`
		Price  decimal.Decimal `json:"p"`
		Time   int64           `json:"T"` // ms
	} `json:"data"`
}

func (f *BybitFeed) readLoop(conn *websocket.Conn) {
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			f.log.Warn("ws read error", zap.Error(err))
			f.reconnect(conn)
			return
		}

		var msg tradeMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			f.log.Debug("ws unmarshal error", zap.Error(err))
			continue
		}
		if !strings.HasPrefix(msg.Topic, "publicTrade.") {
			continue
		}

		f.mu.Lock()
		callbacks := f.callbacks
		f.mu.Unlock()

		for _, trade := range msg.Data {
			tick := domain.PriceTick{
				Symbol:    trade.Symbol,
				Price:     trade.Price,
				Timestamp: time.UnixMilli(trade.Time),
			}
			for _, cb := range callbacks {
				cb(tick)
			}
		}
	}
}

// reconnect dials until it succeeds or the feed is closed, then re-subscribes.
func (f *BybitFeed) reconnect(old *websocket.Conn) {
	old.Close()
	f.mu.Lock()
	if f.conn == old {
		f.conn = nil
	}
	f.mu.Unlock()

	b := &backoff.Backoff{
		Min:    time.Second,
		Max:    time.Minute,
		Jitter: true,
	}
	for {
		wait := b.Duration()
		select {
		case <-f.done:
			return
		case <-time.After(wait):
		}

		conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
		if err != nil {
			f.log.Warn("ws reconnect failed", zap.Duration("waited", wait), zap.Error(err))
			continue
		}

		f.mu.Lock()
		f.conn = conn
		symbols := f.symbols
		f.mu.Unlock()

		if err := f.subscribe(conn, symbols); err != nil {
			f.log.Warn("ws re-subscribe failed", zap.Error(err))
			conn.Close()
			continue
		}
		f.log.Info("ws reconnected", zap.Int("symbols", len(symbols)))
		go f.readLoop(conn)
		return
	}
}
