package binance

import (
	"context"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/quantfold/venuelink/internal/adapters/shared"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/observability"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/stream"
)

const (
	channelTicker = "ticker"
	channelTrades = "trade"
	channelBook   = "depth20"
)

// ensureSession lazily starts the combined-stream socket on first Watch.
func (a *Adapter) ensureSession(ctx context.Context) (*stream.Session, error) {
	a.sessionMu.Lock()
	defer a.sessionMu.Unlock()
	if a.session != nil {
		return a.session, nil
	}
	session := stream.NewSession(stream.Config{
		Venue:          venueName,
		URL:            a.wsURL,
		BuildSubscribe: a.buildControl("SUBSCRIBE"),
		Handler:        a.handleFrame,
		Errors:         a.errors,
	})
	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	a.session = session
	return session, nil
}

func (a *Adapter) buildControl(method string) func([]string) ([]byte, error) {
	return func(topics []string) ([]byte, error) {
		return json.Marshal(map[string]any{
			"method": method,
			"params": topics,
			"id":     a.subID.Add(1),
		})
	}
}

func (a *Adapter) topic(nativeID, channel string) string {
	suffix := channel
	if channel == channelBook {
		suffix = channelBook + "@100ms"
	}
	return strings.ToLower(nativeID) + "@" + suffix
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
	isNew := a.registry.Add(key, fn)
	if !isNew {
		return nil
	}
	return session.Subscribe([]string{a.topic(market.NativeID, channel)})
}

// WatchTicker streams 24h ticker updates for the symbol.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, fn exchange.TickerHandler) error {
	return a.watch(ctx, symbol, channelTicker, func(payload any) {
		if ticker, ok := payload.(schema.Ticker); ok {
			fn(ticker)
		}
	})
}

// WatchOrderBook streams top-20 partial book snapshots for the symbol.
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

// handleFrame demuxes combined-stream frames. The wrapper names the stream,
// which carries both the instrument and the channel.
func (a *Adapter) handleFrame(data []byte) {
	var frame struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Stream == "" {
		return
	}
	parts := strings.SplitN(frame.Stream, "@", 2)
	if len(parts) != 2 {
		return
	}
	symbol, ok := a.markets.Canonical(strings.ToUpper(parts[0]))
	if !ok {
		return
	}
	channel := parts[1]
	switch {
	case channel == channelTicker:
		a.dispatchTicker(symbol, frame.Data)
	case channel == channelTrades:
		a.dispatchTrade(symbol, frame.Data)
	case strings.HasPrefix(channel, channelBook):
		a.dispatchBook(symbol, frame.Data)
	}
}

func (a *Adapter) dispatchTicker(symbol string, data []byte) {
	var payload struct {
		Last      string `json:"c"`
		Bid       string `json:"b"`
		Ask       string `json:"a"`
		Volume    string `json:"v"`
		High      string `json:"h"`
		Low       string `json:"l"`
		ChangePct string `json:"P"`
		EventTime int64  `json:"E"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		observability.Log().Debug("drop malformed ticker frame", observability.F("venue", venueName))
		return
	}
	a.registry.Dispatch(stream.NormalizeKey(channelTicker, symbol, ""), schema.Ticker{
		Symbol:    symbol,
		Venue:     venueName,
		Last:      shared.ParseDecimal(payload.Last),
		Bid:       shared.ParseDecimal(payload.Bid),
		Ask:       shared.ParseDecimal(payload.Ask),
		Volume24h: shared.ParseDecimal(payload.Volume),
		High24h:   shared.ParseDecimal(payload.High),
		Low24h:    shared.ParseDecimal(payload.Low),
		Change24h: shared.ParseDecimal(payload.ChangePct),
		Timestamp: time.UnixMilli(payload.EventTime),
	})
}

func (a *Adapter) dispatchTrade(symbol string, data []byte) {
	var payload struct {
		ID           int64  `json:"t"`
		Price        string `json:"p"`
		Qty          string `json:"q"`
		TradeTime    int64  `json:"T"`
		IsBuyerMaker bool   `json:"m"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	side := schema.SideBuy
	if payload.IsBuyerMaker {
		side = schema.SideSell
	}
	price := shared.ParseDecimal(payload.Price)
	amount := shared.ParseDecimal(payload.Qty)
	a.registry.Dispatch(stream.NormalizeKey(channelTrades, symbol, ""), schema.Trade{
		ID:        strconv.FormatInt(payload.ID, 10),
		Symbol:    symbol,
		Venue:     venueName,
		Side:      side,
		Amount:    amount,
		Price:     price,
		Cost:      price.Mul(amount),
		Timestamp: time.UnixMilli(payload.TradeTime),
	})
}

func (a *Adapter) dispatchBook(symbol string, data []byte) {
	var payload struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	a.registry.Dispatch(stream.NormalizeKey(channelBook, symbol, ""), schema.OrderBook{
		Symbol:    symbol,
		Venue:     venueName,
		Bids:      shared.ParseLevels(payload.Bids),
		Asks:      shared.ParseLevels(payload.Asks),
		Timestamp: time.Now(),
	})
}
