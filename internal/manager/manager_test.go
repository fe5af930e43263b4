package manager

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
)

// stubExchange is a configurable in-memory adapter for orchestration tests.
type stubExchange struct {
	name      string
	connected bool

	connectErr  error
	tickers     map[string]schema.Ticker
	balances    []schema.Balance
	balancesErr error
	orders      []schema.Order
}

var _ exchange.Exchange = (*stubExchange)(nil)

func (s *stubExchange) Name() string  { return s.name }
func (s *stubExchange) Venue() string { return s.name }
func (s *stubExchange) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{}
}

func (s *stubExchange) Connect(context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	s.connected = true
	return nil
}

func (s *stubExchange) Disconnect(context.Context) error {
	s.connected = false
	return nil
}

func (s *stubExchange) Connected() bool { return s.connected }

func (s *stubExchange) Ping(context.Context) (time.Duration, error) { return time.Millisecond, nil }

func (s *stubExchange) FetchMarkets(context.Context) ([]schema.Market, error) { return nil, nil }

func (s *stubExchange) FetchTicker(_ context.Context, symbol string) (schema.Ticker, error) {
	ticker, ok := s.tickers[symbol]
	if !ok {
		return schema.Ticker{}, errs.UnknownSymbol(s.name, symbol)
	}
	return ticker, nil
}

func (s *stubExchange) FetchOrderBook(context.Context, string, int) (schema.OrderBook, error) {
	return schema.OrderBook{}, errs.NotSupported(s.name, "order book")
}

func (s *stubExchange) FetchOHLCV(context.Context, string, schema.Timeframe, time.Time, int) ([]schema.Candle, error) {
	return nil, errs.NotSupported(s.name, "candles")
}

func (s *stubExchange) FetchTrades(context.Context, string, int) ([]schema.Trade, error) {
	return nil, errs.NotSupported(s.name, "trades")
}

func (s *stubExchange) FetchBalances(context.Context) ([]schema.Balance, error) {
	if s.balancesErr != nil {
		return nil, s.balancesErr
	}
	return s.balances, nil
}

func (s *stubExchange) FetchPositions(context.Context) ([]schema.Position, error) {
	return nil, errs.NotSupported(s.name, "positions")
}

func (s *stubExchange) CreateOrder(_ context.Context, req schema.OrderRequest) (schema.Order, error) {
	order := schema.Order{
		ID:     s.name + "-1",
		Symbol: req.Symbol,
		Venue:  s.name,
		Side:   req.Side,
		Amount: req.Amount,
		Status: schema.OrderOpen,
	}
	s.orders = append(s.orders, order)
	return order, nil
}

func (s *stubExchange) CancelOrder(context.Context, string, string) error { return nil }

func (s *stubExchange) FetchOrder(context.Context, string, string) (schema.Order, error) {
	return schema.Order{}, errs.New(s.name, errs.KindVenue, errs.WithReason(errs.ReasonOrderNotFound))
}

func (s *stubExchange) FetchOpenOrders(context.Context, string) ([]schema.Order, error) {
	return s.orders, nil
}

func (s *stubExchange) WatchTicker(context.Context, string, exchange.TickerHandler) error {
	return errs.NotSupported(s.name, "streaming")
}

func (s *stubExchange) WatchOrderBook(context.Context, string, exchange.BookHandler) error {
	return errs.NotSupported(s.name, "streaming")
}

func (s *stubExchange) WatchTrades(context.Context, string, exchange.TradeHandler) error {
	return errs.NotSupported(s.name, "streaming")
}

func ticker(venue string, bid, ask string) schema.Ticker {
	b := decimal.RequireFromString(bid)
	a := decimal.RequireFromString(ask)
	return schema.Ticker{
		Symbol: "BTC/USDT",
		Venue:  venue,
		Last:   b.Add(a).Div(decimal.NewFromInt(2)),
		Bid:    b,
		Ask:    a,
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	m := New()
	if err := m.Register(&stubExchange{name: "alpha"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := m.Register(&stubExchange{name: "alpha"}); errs.KindOf(err) != errs.KindContract {
		t.Fatalf("duplicate registration must fail, got %v", err)
	}
	if _, err := m.Get("missing"); errs.KindOf(err) != errs.KindContract {
		t.Fatalf("unknown lookup must fail, got %v", err)
	}
}

func TestConnectAllIsolatesFailures(t *testing.T) {
	m := New()
	healthy := &stubExchange{name: "alpha"}
	broken := &stubExchange{
		name:       "beta",
		connectErr: errs.New("beta", errs.KindConnectivity, errs.WithMessage("dial refused")),
	}
	_ = m.Register(healthy)
	_ = m.Register(broken)

	err := m.ConnectAll(context.Background())
	if err == nil {
		t.Fatalf("expected the broken venue's error to surface")
	}
	if !healthy.Connected() {
		t.Fatalf("healthy venue must connect despite the broken one")
	}
}

func TestAggregateBalancesSumsAndSkips(t *testing.T) {
	m := New()
	_ = m.Register(&stubExchange{name: "alpha", balances: []schema.Balance{
		{Venue: "alpha", Currency: "BTC", Free: decimal.RequireFromString("1"), Total: decimal.RequireFromString("1")},
		{Venue: "alpha", Currency: "USDT", Free: decimal.RequireFromString("500"), Total: decimal.RequireFromString("500")},
	}})
	_ = m.Register(&stubExchange{name: "beta", balances: []schema.Balance{
		{Venue: "beta", Currency: "BTC", Free: decimal.RequireFromString("0.5"), Total: decimal.RequireFromString("0.5")},
	}})
	_ = m.Register(&stubExchange{
		name:        "gamma",
		balancesErr: errs.New("gamma", errs.KindConnectivity, errs.WithMessage("timeout")),
	})

	aggregated, err := m.AggregateBalances(context.Background())
	if err != nil {
		t.Fatalf("AggregateBalances: %v", err)
	}
	if len(aggregated) != 2 {
		t.Fatalf("aggregated = %+v", aggregated)
	}
	btc := aggregated[0]
	if btc.Currency != "BTC" || !btc.Total.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("btc = %+v", btc)
	}
	if !btc.PerVenue["alpha"].Equal(decimal.RequireFromString("1")) || !btc.PerVenue["beta"].Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("per-venue tags = %+v", btc.PerVenue)
	}
}

func TestBestPricesSortsBySpreadAndOmitsErrors(t *testing.T) {
	m := New()
	_ = m.Register(&stubExchange{name: "wide", tickers: map[string]schema.Ticker{
		"BTC/USDT": ticker("wide", "64990", "65010"),
	}})
	_ = m.Register(&stubExchange{name: "tight", tickers: map[string]schema.Ticker{
		"BTC/USDT": ticker("tight", "64999", "65001"),
	}})
	_ = m.Register(&stubExchange{name: "unlisted"})

	tickers, err := m.BestPrices(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("BestPrices: %v", err)
	}
	if len(tickers) != 2 {
		t.Fatalf("tickers = %+v", tickers)
	}
	if tickers[0].Venue != "tight" || tickers[1].Venue != "wide" {
		t.Fatalf("sort order wrong: %s, %s", tickers[0].Venue, tickers[1].Venue)
	}
}

func TestFindArbitrageRequiresCrossedQuotes(t *testing.T) {
	m := New()
	_ = m.Register(&stubExchange{name: "alpha", tickers: map[string]schema.Ticker{
		"BTC/USDT": ticker("alpha", "64990", "65000"),
	}})
	_ = m.Register(&stubExchange{name: "beta", tickers: map[string]schema.Ticker{
		"BTC/USDT": ticker("beta", "64995", "65005"),
	}})

	opp, err := m.FindArbitrage(context.Background(), "BTC/USDT", decimal.Zero)
	if err != nil {
		t.Fatalf("FindArbitrage: %v", err)
	}
	if opp != nil {
		t.Fatalf("uncrossed books must yield nil, got %+v", opp)
	}
}

func TestFindArbitrageReportsCrossedPair(t *testing.T) {
	m := New()
	_ = m.Register(&stubExchange{name: "cheap", tickers: map[string]schema.Ticker{
		"BTC/USDT": ticker("cheap", "64000", "64100"),
	}})
	_ = m.Register(&stubExchange{name: "rich", tickers: map[string]schema.Ticker{
		"BTC/USDT": ticker("rich", "65000", "65100"),
	}})

	opp, err := m.FindArbitrage(context.Background(), "BTC/USDT", decimal.RequireFromString("1"))
	if err != nil {
		t.Fatalf("FindArbitrage: %v", err)
	}
	if opp == nil {
		t.Fatalf("expected an opportunity")
	}
	if opp.BuyVenue != "cheap" || opp.SellVenue != "rich" {
		t.Fatalf("venues = %s -> %s", opp.BuyVenue, opp.SellVenue)
	}
	// (65000-64100)/64100 ~= 1.404 percent.
	if opp.SpreadPercent.LessThan(decimal.RequireFromString("1.4")) {
		t.Fatalf("spread = %s", opp.SpreadPercent)
	}

	// Below the widest available spread the same pair must be suppressed.
	opp, err = m.FindArbitrage(context.Background(), "BTC/USDT", decimal.RequireFromString("2"))
	if err != nil {
		t.Fatalf("FindArbitrage: %v", err)
	}
	if opp != nil {
		t.Fatalf("threshold above spread must yield nil, got %+v", opp)
	}
}

func TestPortfolioValuePricesPerVenue(t *testing.T) {
	m := New()
	_ = m.Register(&stubExchange{
		name: "alpha",
		balances: []schema.Balance{
			{Venue: "alpha", Currency: "BTC", Free: decimal.RequireFromString("2"), Total: decimal.RequireFromString("2")},
			{Venue: "alpha", Currency: "USDT", Free: decimal.RequireFromString("1000"), Total: decimal.RequireFromString("1000")},
			{Venue: "alpha", Currency: "DOGE", Free: decimal.RequireFromString("5000"), Total: decimal.RequireFromString("5000")},
		},
		tickers: map[string]schema.Ticker{
			"BTC/USDT": ticker("alpha", "64999", "65001"),
		},
	})

	value, err := m.PortfolioValue(context.Background(), "USDT")
	if err != nil {
		t.Fatalf("PortfolioValue: %v", err)
	}
	// 2 BTC at the 65000 midpoint plus 1000 USDT; unpriced DOGE skipped.
	if !value.Equal(decimal.RequireFromString("131000")) {
		t.Fatalf("value = %s", value)
	}
}

func TestOrderPassThroughRoutesByName(t *testing.T) {
	m := New()
	alpha := &stubExchange{name: "alpha"}
	_ = m.Register(alpha)

	order, err := m.CreateOrder(context.Background(), "alpha", schema.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   schema.OrderTypeMarket,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("1"),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Venue != "alpha" || len(alpha.orders) != 1 {
		t.Fatalf("order not routed: %+v", order)
	}
	if _, err := m.CreateOrder(context.Background(), "ghost", schema.OrderRequest{}); errs.KindOf(err) != errs.KindContract {
		t.Fatalf("unknown venue must fail, got %v", err)
	}
}
