package schema

import (
	"time"

	"github.com/shopspring/decimal"
)

// Credentials carries one venue's API credential bundle. Owned exclusively by
// the adapter constructed with it; never logged or persisted by this layer.
type Credentials struct {
	Key        string
	Secret     string
	Passphrase string
	AccountID  string
	Testnet    bool
}

// Configured reports whether trading credentials are present.
func (c Credentials) Configured() bool {
	return c.Key != "" && c.Secret != ""
}

// Market describes one tradable instrument and its venue-native identity.
type Market struct {
	Symbol          string
	NativeID        string
	Base            string
	Quote           string
	PricePrecision  int
	AmountPrecision int
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	ContractValue   decimal.Decimal
	SettleCurrency  string
	MinLeverage     int
	MaxLeverage     int
	Active          bool
}

// Ticker is a read-only market-data snapshot for one symbol on one venue.
type Ticker struct {
	Symbol    string
	Venue     string
	Last      decimal.Decimal
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Volume24h decimal.Decimal
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	Change24h decimal.Decimal
	Timestamp time.Time
}

// Spread returns ask-bid, or zero when either side is missing.
func (t Ticker) Spread() decimal.Decimal {
	if t.Bid.IsZero() || t.Ask.IsZero() {
		return decimal.Zero
	}
	return t.Ask.Sub(t.Bid)
}

// SpreadPercent returns the spread as a percentage of the bid.
func (t Ticker) SpreadPercent() decimal.Decimal {
	if t.Bid.IsZero() {
		return decimal.Zero
	}
	return t.Spread().Div(t.Bid).Mul(decimal.NewFromInt(100))
}

// Candle is one OHLCV bar keyed by its open timestamp.
type Candle struct {
	OpenTime time.Time
	Open     decimal.Decimal
	High     decimal.Decimal
	Low      decimal.Decimal
	Close    decimal.Decimal
	Volume   decimal.Decimal
}

// BookLevel is one (price, size) entry on a book side.
type BookLevel struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// OrderBook holds both book sides: bids descending, asks ascending.
type OrderBook struct {
	Symbol    string
	Venue     string
	Bids      []BookLevel
	Asks      []BookLevel
	Timestamp time.Time
}

// BestBid returns the top bid level, or false when the side is empty.
func (b OrderBook) BestBid() (BookLevel, bool) {
	if len(b.Bids) == 0 {
		return BookLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask level, or false when the side is empty.
func (b OrderBook) BestAsk() (BookLevel, bool) {
	if len(b.Asks) == 0 {
		return BookLevel{}, false
	}
	return b.Asks[0], true
}

// Side identifies order and trade direction.
type Side string

const (
	// SideBuy marks buy orders and taker-buy trades.
	SideBuy Side = "buy"
	// SideSell marks sell orders and taker-sell trades.
	SideSell Side = "sell"
)

// Valid reports whether the side is recognised.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// Trade is one tape entry.
type Trade struct {
	ID        string
	Symbol    string
	Venue     string
	Side      Side
	Amount    decimal.Decimal
	Price     decimal.Decimal
	Cost      decimal.Decimal
	Fee       decimal.Decimal
	FeeAsset  string
	Timestamp time.Time
}

// Balance reports one currency's funds on one venue.
type Balance struct {
	Venue    string
	Currency string
	Free     decimal.Decimal
	Used     decimal.Decimal
	Total    decimal.Decimal
}

// Consistent reports whether total == free + used within tolerance.
func (b Balance) Consistent() bool {
	return b.Free.Add(b.Used).Sub(b.Total).Abs().LessThan(decimal.New(1, -9))
}

// PositionSide identifies the direction of a derivatives position.
type PositionSide string

const (
	// PositionLong marks long exposure.
	PositionLong PositionSide = "long"
	// PositionShort marks short exposure.
	PositionShort PositionSide = "short"
)

// Position reports derivatives exposure; absent for spot-only venues.
type Position struct {
	Symbol           string
	Venue            string
	Side             PositionSide
	Amount           decimal.Decimal
	EntryPrice       decimal.Decimal
	MarkPrice        decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	Leverage         decimal.Decimal
	LiquidationPrice decimal.Decimal
}

// Timeframe names a canonical candle interval. Adapters translate these into
// each venue's own vocabulary.
type Timeframe string

const (
	// Timeframe1m is one minute.
	Timeframe1m Timeframe = "1m"
	// Timeframe5m is five minutes.
	Timeframe5m Timeframe = "5m"
	// Timeframe15m is fifteen minutes.
	Timeframe15m Timeframe = "15m"
	// Timeframe1h is one hour.
	Timeframe1h Timeframe = "1h"
	// Timeframe4h is four hours.
	Timeframe4h Timeframe = "4h"
	// Timeframe1d is one day.
	Timeframe1d Timeframe = "1d"
)

// Duration returns the interval length, or zero for unknown timeframes.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}
