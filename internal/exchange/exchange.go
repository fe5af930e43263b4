// Package exchange defines the capability contract every venue adapter satisfies.
package exchange

import (
	"context"
	"time"

	"github.com/quantfold/venuelink/internal/schema"
)

// Capabilities flags the optional capability set a venue supports. Callers must
// check these before invoking the corresponding methods; adapters fail fast
// with a not-supported contract error otherwise.
type Capabilities struct {
	Streaming bool
	Futures   bool
	Margin    bool
}

// TickerHandler consumes streamed ticker snapshots.
type TickerHandler func(schema.Ticker)

// BookHandler consumes streamed order book snapshots.
type BookHandler func(schema.OrderBook)

// TradeHandler consumes streamed tape entries.
type TradeHandler func(schema.Trade)

// Exchange is the canonical adapter contract. It is a capability set, not a
// base class: each implementation owns its credentials, market map, and socket
// handle independently.
type Exchange interface {
	// Name returns the registry name this adapter was constructed with.
	Name() string
	// Venue returns the venue identifier, e.g. "binance".
	Venue() string
	Capabilities() Capabilities

	// Connect loads markets and prepares the adapter for calls. Streaming
	// venues open their data session on the first Watch registration.
	Connect(ctx context.Context) error
	// Disconnect tears down sessions and clears the callback registry.
	Disconnect(ctx context.Context) error
	// Connected reports live connection state.
	Connected() bool
	// Ping probes venue reachability without touching account state.
	Ping(ctx context.Context) (time.Duration, error)

	FetchMarkets(ctx context.Context) ([]schema.Market, error)
	FetchTicker(ctx context.Context, symbol string) (schema.Ticker, error)
	FetchOrderBook(ctx context.Context, symbol string, depth int) (schema.OrderBook, error)
	FetchOHLCV(ctx context.Context, symbol string, timeframe schema.Timeframe, since time.Time, limit int) ([]schema.Candle, error)
	FetchTrades(ctx context.Context, symbol string, limit int) ([]schema.Trade, error)

	FetchBalances(ctx context.Context) ([]schema.Balance, error)
	FetchPositions(ctx context.Context) ([]schema.Position, error)

	CreateOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error)
	CancelOrder(ctx context.Context, id, symbol string) error
	FetchOrder(ctx context.Context, id, symbol string) (schema.Order, error)
	FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error)

	// Watch methods register callbacks for streamed data. Venues without the
	// Streaming capability reject these immediately.
	WatchTicker(ctx context.Context, symbol string, fn TickerHandler) error
	WatchOrderBook(ctx context.Context, symbol string, fn BookHandler) error
	WatchTrades(ctx context.Context, symbol string, fn TradeHandler) error
}
