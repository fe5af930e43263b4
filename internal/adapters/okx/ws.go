package okx

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/quantfold/venuelink/internal/adapters/shared"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/stream"
)

const (
	channelTicker = "tickers"
	channelTrades = "trades"
	channelBook   = "books5"
)

// topicFor encodes a channel/instrument pair as the session topic string;
// buildSubscribe decodes it back into the venue's arg objects.
func topicFor(channel, instID string) string {
	return channel + ":" + instID
}

func buildSubscribe(topics []string) ([]byte, error) {
	args := make([]map[string]string, 0, len(topics))
	for _, topic := range topics {
		channel, instID, ok := strings.Cut(topic, ":")
		if !ok {
			continue
		}
		args = append(args, map[string]string{"channel": channel, "instId": instID})
	}
	return json.Marshal(map[string]any{"op": "subscribe", "args": args})
}

// ensureSession lazily starts the public websocket on first Watch. OKX expects
// a bare text "ping" keepalive and answers "pong".
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
		PingFrame:      []byte("ping"),
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

// WatchOrderBook streams five-level book snapshots for the symbol.
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

// handleFrame demuxes data frames by their arg header. Subscription acks and
// "pong" keepalives fall out at the unmarshal stage.
func (a *Adapter) handleFrame(data []byte) {
	var frame struct {
		Arg struct {
			Channel string `json:"channel"`
			InstID  string `json:"instId"`
		} `json:"arg"`
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Arg.Channel == "" || len(frame.Data) == 0 {
		return
	}
	symbol, ok := a.markets.Canonical(frame.Arg.InstID)
	if !ok {
		return
	}
	switch frame.Arg.Channel {
	case channelTicker:
		var rows []tickerRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil || len(rows) == 0 {
			return
		}
		a.registry.Dispatch(stream.NormalizeKey(channelTicker, symbol, ""), a.toTicker(symbol, rows[0]))
	case channelTrades:
		var rows []tradeRow
		if err := json.Unmarshal(frame.Data, &rows); err != nil {
			return
		}
		key := stream.NormalizeKey(channelTrades, symbol, "")
		for _, row := range rows {
			a.registry.Dispatch(key, toTrade(symbol, row))
		}
	case channelBook:
		var rows []struct {
			Bids [][]string `json:"bids"`
			Asks [][]string `json:"asks"`
			TS   string     `json:"ts"`
		}
		if err := json.Unmarshal(frame.Data, &rows); err != nil || len(rows) == 0 {
			return
		}
		a.registry.Dispatch(stream.NormalizeKey(channelBook, symbol, ""), schema.OrderBook{
			Symbol:    symbol,
			Venue:     venueName,
			Bids:      shared.ParseLevels(rows[0].Bids),
			Asks:      shared.ParseLevels(rows[0].Asks),
			Timestamp: parseMs(rows[0].TS),
		})
	}
}
