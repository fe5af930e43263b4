package coinbase

import (
	"context"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfold/venuelink/internal/adapters/shared"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/stream"
)

const (
	channelTicker = "ticker"
	channelTrades = "matches"
	channelBook   = "level2_batch"
)

// topicFor encodes a channel/product pair as the session topic string.
func topicFor(channel, productID string) string {
	return channel + ":" + productID
}

// buildSubscribe groups topics back into the feed's channel-keyed subscribe
// message: {"type":"subscribe","channels":[{"name":...,"product_ids":[...]}]}.
func buildSubscribe(topics []string) ([]byte, error) {
	byChannel := make(map[string][]string)
	order := make([]string, 0, len(topics))
	for _, topic := range topics {
		channel, productID, ok := strings.Cut(topic, ":")
		if !ok {
			continue
		}
		if _, seen := byChannel[channel]; !seen {
			order = append(order, channel)
		}
		byChannel[channel] = append(byChannel[channel], productID)
	}
	channels := make([]map[string]any, 0, len(order))
	for _, channel := range order {
		channels = append(channels, map[string]any{
			"name":        channel,
			"product_ids": byChannel[channel],
		})
	}
	return json.Marshal(map[string]any{
		"type":     "subscribe",
		"channels": channels,
	})
}

// ensureSession lazily starts the ws-feed socket on first Watch.
func (a *Adapter) ensureSession(ctx context.Context) (*stream.Session, error) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session != nil {
		return a.session, nil
	}
	session := stream.NewSession(stream.Config{
		Venue:          venueName,
		URL:            a.wsURL,
		BuildSubscribe: buildSubscribe,
		Handler:        a.handleFrame,
		Errors:         a.errors,
	})
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	a.session = session
	return session, nil
}

func (a *Adapter) watch(ctx context.Context, symbol, channel string, fn func(any)) error {
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
	return session.Subscribe([]string{topicFor(channel, market.NativeID)})
}

// WatchTicker streams ticker updates for the symbol.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, fn exchange.TickerHandler) error {
	return a.watch(ctx, symbol, channelTicker, func(payload any) {
		if ticker, ok := payload.(schema.Ticker); ok {
			fn(ticker)
		}
	})
}

// WatchOrderBook streams the assembled level2 book for the symbol.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, fn exchange.BookHandler) error {
	return a.watch(ctx, symbol, channelBook, func(payload any) {
		if book, ok := payload.(schema.OrderBook); ok {
			fn(book)
		}
	})
}

// WatchTrades streams the public tape for the symbol.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, fn exchange.TradeHandler) error {
	return a.watch(ctx, symbol, channelTrades, func(payload any) {
		if trade, ok := payload.(schema.Trade); ok {
			fn(trade)
		}
	})
}

// handleFrame demuxes feed messages by their type field.
func (a *Adapter) handleFrame(data []byte) {
	var head struct {
		Type      string `json:"type"`
		ProductID string `json:"product_id"`
	}
	if err := json.Unmarshal(data, &head); err != nil || head.ProductID == "" {
		return
	}
	symbol, ok := a.markets.Canonical(head.ProductID)
	if !ok {
		return
	}
	switch head.Type {
	case "ticker":
		a.dispatchTicker(symbol, data)
	case "match", "last_match":
		a.dispatchTrade(symbol, data)
	case "snapshot":
		a.dispatchBookSnapshot(symbol, data)
	case "l2update":
		a.dispatchBookUpdate(symbol, data)
	}
}

func (a *Adapter) dispatchTicker(symbol string, data []byte) {
	var payload struct {
		Price     string    `json:"price"`
		BestBid   string    `json:"best_bid"`
		BestAsk   string    `json:"best_ask"`
		Volume24h string    `json:"volume_24h"`
		High24h   string    `json:"high_24h"`
		Low24h    string    `json:"low_24h"`
		Time      time.Time `json:"time"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	a.registry.Dispatch(stream.NormalizeKey(channelTicker, symbol, ""), schema.Ticker{
		Symbol:    symbol,
		Venue:     venueName,
		Last:      shared.ParseDecimal(payload.Price),
		Bid:       shared.ParseDecimal(payload.BestBid),
		Ask:       shared.ParseDecimal(payload.BestAsk),
		Volume24h: shared.ParseDecimal(payload.Volume24h),
		High24h:   shared.ParseDecimal(payload.High24h),
		Low24h:    shared.ParseDecimal(payload.Low24h),
		Timestamp: payload.Time,
	})
}

func (a *Adapter) dispatchTrade(symbol string, data []byte) {
	var payload struct {
		TradeID int64     `json:"trade_id"`
		Price   string    `json:"price"`
		Size    string    `json:"size"`
		Side    string    `json:"side"`
		Time    time.Time `json:"time"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	price := shared.ParseDecimal(payload.Price)
	amount := shared.ParseDecimal(payload.Size)
	// The feed reports the maker side; the aggressor is the opposite.
	side := schema.SideSell
	if parseSide(payload.Side) == schema.SideSell {
		side = schema.SideBuy
	}
	a.registry.Dispatch(stream.NormalizeKey(channelTrades, symbol, ""), schema.Trade{
		ID:        strconv.FormatInt(payload.TradeID, 10),
		Symbol:    symbol,
		Venue:     venueName,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Cost:      price.Mul(amount),
		Timestamp: payload.Time,
	})
}

func (a *Adapter) book(symbol string) *shared.BookAssembler {
	a.booksMu.Lock()
	defer a.booksMu.Unlock()
	book, ok := a.books[symbol]
	if !ok {
		book = shared.NewBookAssembler()
		a.books[symbol] = book
	}
	return book
}

func (a *Adapter) dispatchBookSnapshot(symbol string, data []byte) {
	var payload struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	book := a.book(symbol)
	book.ApplySnapshot(payload.Bids, payload.Asks)
	a.emitBook(symbol, book, time.Now())
}

func (a *Adapter) dispatchBookUpdate(symbol string, data []byte) {
	var payload struct {
		Changes [][]string `json:"changes"`
		Time    time.Time  `json:"time"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	var bids, asks [][]string
	for _, change := range payload.Changes {
		if len(change) < 3 {
			continue
		}
		level := []string{change[1], change[2]}
		if strings.EqualFold(change[0], "buy") {
			bids = append(bids, level)
		} else {
			asks = append(asks, level)
		}
	}
	book := a.book(symbol)
	book.ApplyDelta(bids, asks)
	a.emitBook(symbol, book, payload.Time)
}

func (a *Adapter) emitBook(symbol string, book *shared.BookAssembler, ts time.Time) {
	bids, asks := book.Snapshot()
	a.registry.Dispatch(stream.NormalizeKey(channelBook, symbol, ""), schema.OrderBook{
		Symbol:    symbol,
		Venue:     venueName,
		Bids:      bids,
		Asks:      asks,
		Timestamp: ts,
	})
}
