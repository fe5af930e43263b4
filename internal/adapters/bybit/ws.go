package bybit

import (
	"context"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfold/venuelink/internal/adapters/shared"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/stream"
)

const (
	channelTicker = "tickers"
	channelTrades = "publicTrade"
	channelBook   = "orderbook"
	bookDepth     = "50"
)

// ensureSession lazily starts the public websocket on first Watch. Bybit
// expects an application-level {"op":"ping"} keepalive.
func (a *Adapter) ensureSession(ctx context.Context) (*stream.Session, error) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session != nil {
		return a.session, nil
	}
	session := stream.NewSession(stream.Config{
		Venue: venueName,
		URL:   a.wsURL,
		BuildSubscribe: func(topics []string) ([]byte, error) {
			return json.Marshal(map[string]any{"op": "subscribe", "args": topics})
		},
		Handler:   a.handleFrame,
		PingFrame: []byte(`{"op":"ping"}`),
		Errors:    a.errors,
	})
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	a.session = session
	return session, nil
}

func (a *Adapter) watch(ctx context.Context, symbol, channel, topic string, fn func(any)) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return err
	}
	session, err := a.ensureSession(ctx)
	if err != nil {
		return err
	}
	key := stream.NormalizeKey(channel, market.Symbol, "")
	if !a.registry.Add(key, fn) {
		return nil
	}
	return session.Subscribe([]string{topic + "." + market.NativeID})
}

// WatchTicker streams ticker updates for the symbol.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, fn exchange.TickerHandler) error {
	return a.watch(ctx, symbol, channelTicker, channelTicker, func(payload any) {
		if ticker, ok := payload.(schema.Ticker); ok {
			fn(ticker)
		}
	})
}

// WatchOrderBook streams assembled depth for the symbol.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, fn exchange.BookHandler) error {
	return a.watch(ctx, symbol, channelBook, channelBook+"."+bookDepth, func(payload any) {
		if book, ok := payload.(schema.OrderBook); ok {
			fn(book)
		}
	})
}

// WatchTrades streams the public tape for the symbol.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, fn exchange.TradeHandler) error {
	return a.watch(ctx, symbol, channelTrades, channelTrades, func(payload any) {
		if trade, ok := payload.(schema.Trade); ok {
			fn(trade)
		}
	})
}

// handleFrame demuxes public stream frames by topic. Topics look like
// "tickers.BTCUSDT" or "orderbook.50.BTCUSDT".
func (a *Adapter) handleFrame(data []byte) {
	var frame struct {
		Topic string          `json:"topic"`
		Type  string          `json:"type"`
		Data  json.RawMessage `json:"data"`
		TS    int64           `json:"ts"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Topic == "" {
		return
	}
	parts := strings.Split(frame.Topic, ".")
	if len(parts) < 2 {
		return
	}
	nativeID := parts[len(parts)-1]
	symbol, ok := a.markets.Canonical(nativeID)
	if !ok {
		return
	}
	switch parts[0] {
	case channelTicker:
		a.dispatchTicker(symbol, frame.Data, frame.TS)
	case channelTrades:
		a.dispatchTrades(symbol, frame.Data)
	case channelBook:
		a.dispatchBook(symbol, frame.Type, frame.Data, frame.TS)
	}
}

func (a *Adapter) dispatchTicker(symbol string, data []byte, ts int64) {
	var payload struct {
		LastPrice    string `json:"lastPrice"`
		Bid1Price    string `json:"bid1Price"`
		Ask1Price    string `json:"ask1Price"`
		Volume24h    string `json:"volume24h"`
		HighPrice24h string `json:"highPrice24h"`
		LowPrice24h  string `json:"lowPrice24h"`
		Price24hPcnt string `json:"price24hPcnt"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	a.registry.Dispatch(stream.NormalizeKey(channelTicker, symbol, ""), schema.Ticker{
		Symbol:    symbol,
		Venue:     venueName,
		Last:      shared.ParseDecimal(payload.LastPrice),
		Bid:       shared.ParseDecimal(payload.Bid1Price),
		Ask:       shared.ParseDecimal(payload.Ask1Price),
		Volume24h: shared.ParseDecimal(payload.Volume24h),
		High24h:   shared.ParseDecimal(payload.HighPrice24h),
		Low24h:    shared.ParseDecimal(payload.LowPrice24h),
		Timestamp: time.UnixMilli(ts),
	})
}

func (a *Adapter) dispatchTrades(symbol string, data []byte) {
	var rows []struct {
		ID    string `json:"i"`
		Price string `json:"p"`
		Size  string `json:"v"`
		Side  string `json:"S"`
		Time  int64  `json:"T"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return
	}
	key := stream.NormalizeKey(channelTrades, symbol, "")
	for _, row := range rows {
		price := shared.ParseDecimal(row.Price)
		amount := shared.ParseDecimal(row.Size)
		a.registry.Dispatch(key, schema.Trade{
			ID:        row.ID,
			Symbol:    symbol,
			Venue:     venueName,
			Side:      parseSide(row.Side),
			Amount:    amount,
			Price:     price,
			Cost:      price.Mul(amount),
			Timestamp: time.UnixMilli(row.Time),
		})
	}
}

// dispatchBook folds snapshot and delta frames through the per-symbol
// assembler and emits the assembled view.
func (a *Adapter) dispatchBook(symbol, frameType string, data []byte, ts int64) {
	var payload struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	a.booksMu.Lock()
	book, ok := a.books[symbol]
	if !ok {
		book = shared.NewBookAssembler()
		a.books[symbol] = book
	}
	a.booksMu.Unlock()

	if strings.EqualFold(frameType, "snapshot") {
		book.ApplySnapshot(payload.Bids, payload.Asks)
	} else {
		book.ApplyDelta(payload.Bids, payload.Asks)
	}
	bids, asks := book.Snapshot()
	a.registry.Dispatch(stream.NormalizeKey(channelBook, symbol, ""), schema.OrderBook{
		Symbol:    symbol,
		Venue:     venueName,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.UnixMilli(ts),
	})
}
