// Package manager orchestrates the registered venue adapters: name-keyed
// lookup, lifecycle fan-out, and the cross-venue aggregate operations.
package manager

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc/pool"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/observability"
	"github.com/quantfold/venuelink/internal/schema"
)

const managerName = "manager"

var hundred = decimal.NewFromInt(100)

// Manager is the venue registry and cross-venue orchestrator. One adapter
// failing never blocks the others: aggregate operations fan out, log, and skip.
type Manager struct {
	mu       sync.RWMutex
	adapters map[string]exchange.Exchange
	order    []string
}

// New returns an empty manager.
func New() *Manager {
	return &Manager{adapters: make(map[string]exchange.Exchange)}
}

// Register adds an adapter under its name. Duplicate names are a caller error.
func (m *Manager) Register(adapter exchange.Exchange) error {
	if adapter == nil {
		return errs.New(managerName, errs.KindContract, errs.WithMessage("nil adapter"))
	}
	name := strings.TrimSpace(adapter.Name())
	if name == "" {
		return errs.New(managerName, errs.KindContract, errs.WithMessage("adapter name required"))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[name]; exists {
		return errs.New(managerName, errs.KindContract,
			errs.WithMessage("adapter "+name+" already registered"))
	}
	m.adapters[name] = adapter
	m.order = append(m.order, name)
	return nil
}

// Unregister removes an adapter without disconnecting it.
func (m *Manager) Unregister(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.adapters[name]; !exists {
		return
	}
	delete(m.adapters, name)
	for i, existing := range m.order {
		if existing == name {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Get returns the adapter registered under name.
func (m *Manager) Get(name string) (exchange.Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapter, ok := m.adapters[name]
	if !ok {
		return nil, errs.New(managerName, errs.KindContract,
			errs.WithMessage("no adapter registered as "+name))
	}
	return adapter, nil
}

// Names lists registered adapter names in registration order.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, len(m.order))
	copy(names, m.order)
	return names
}

func (m *Manager) snapshot() []exchange.Exchange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	adapters := make([]exchange.Exchange, 0, len(m.order))
	for _, name := range m.order {
		adapters = append(adapters, m.adapters[name])
	}
	return adapters
}

// ConnectAll connects every registered adapter concurrently. Each failure is
// reported; the rest still connect.
func (m *Manager) ConnectAll(ctx context.Context) error {
	p := pool.New().WithContext(ctx)
	for _, adapter := range m.snapshot() {
		p.Go(func(ctx context.Context) error {
			if err := adapter.Connect(ctx); err != nil {
				observability.Log().Error("connect failed",
					observability.F("venue", adapter.Name()),
					observability.F("error", err))
				return err
			}
			return nil
		})
	}
	return p.Wait()
}

// DisconnectAll disconnects every registered adapter concurrently.
func (m *Manager) DisconnectAll(ctx context.Context) error {
	p := pool.New().WithContext(ctx)
	for _, adapter := range m.snapshot() {
		p.Go(func(ctx context.Context) error {
			return adapter.Disconnect(ctx)
		})
	}
	return p.Wait()
}

// CreateOrder routes an order to the named venue.
func (m *Manager) CreateOrder(ctx context.Context, venue string, req schema.OrderRequest) (schema.Order, error) {
	adapter, err := m.Get(venue)
	if err != nil {
		return schema.Order{}, err
	}
	return adapter.CreateOrder(ctx, req)
}

// CancelOrder routes a cancel to the named venue.
func (m *Manager) CancelOrder(ctx context.Context, venue, id, symbol string) error {
	adapter, err := m.Get(venue)
	if err != nil {
		return err
	}
	return adapter.CancelOrder(ctx, id, symbol)
}

// FetchOrder routes an order lookup to the named venue.
func (m *Manager) FetchOrder(ctx context.Context, venue, id, symbol string) (schema.Order, error) {
	adapter, err := m.Get(venue)
	if err != nil {
		return schema.Order{}, err
	}
	return adapter.FetchOrder(ctx, id, symbol)
}

// AggregatedBalance sums one currency across venues, keeping the per-venue
// contributions visible.
type AggregatedBalance struct {
	Currency string
	Total    decimal.Decimal
	Free     decimal.Decimal
	PerVenue map[string]decimal.Decimal
}

// AggregateBalances sums balances by currency across every connected venue.
// Venues that fail are logged and skipped.
func (m *Manager) AggregateBalances(ctx context.Context) ([]AggregatedBalance, error) {
	var mu sync.Mutex
	byCurrency := make(map[string]*AggregatedBalance)

	p := pool.New().WithContext(ctx)
	for _, adapter := range m.snapshot() {
		p.Go(func(ctx context.Context) error {
			balances, err := adapter.FetchBalances(ctx)
			if err != nil {
				observability.Log().Error("fetch balances failed",
					observability.F("venue", adapter.Name()),
					observability.F("error", err))
				return nil
			}
			mu.Lock()
			defer mu.Unlock()
			for _, balance := range balances {
				agg, ok := byCurrency[balance.Currency]
				if !ok {
					agg = &AggregatedBalance{
						Currency: balance.Currency,
						PerVenue: make(map[string]decimal.Decimal),
					}
					byCurrency[balance.Currency] = agg
				}
				agg.Total = agg.Total.Add(balance.Total)
				agg.Free = agg.Free.Add(balance.Free)
				agg.PerVenue[adapter.Name()] = agg.PerVenue[adapter.Name()].Add(balance.Total)
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	out := make([]AggregatedBalance, 0, len(byCurrency))
	for _, agg := range byCurrency {
		out = append(out, *agg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

// BestPrices fetches the symbol's ticker on every venue and returns the
// successful quotes sorted by spread, tightest first. Venues that error or do
// not list the symbol are omitted.
func (m *Manager) BestPrices(ctx context.Context, symbol string) ([]schema.Ticker, error) {
	var mu sync.Mutex
	var tickers []schema.Ticker

	p := pool.New().WithContext(ctx)
	for _, adapter := range m.snapshot() {
		p.Go(func(ctx context.Context) error {
			ticker, err := adapter.FetchTicker(ctx, symbol)
			if err != nil {
				observability.Log().Debug("ticker unavailable",
					observability.F("venue", adapter.Name()),
					observability.F("symbol", symbol),
					observability.F("error", err))
				return nil
			}
			mu.Lock()
			tickers = append(tickers, ticker)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(tickers, func(i, j int) bool {
		return tickers[i].Spread().LessThan(tickers[j].Spread())
	})
	return tickers, nil
}

// Opportunity describes a cross-venue price gap: buy on the venue with the
// lowest ask, sell on the venue with the highest bid. Advisory only; no
// execution is attempted.
type Opportunity struct {
	Symbol        string
	BuyVenue      string
	SellVenue     string
	BuyAsk        decimal.Decimal
	SellBid       decimal.Decimal
	SpreadPercent decimal.Decimal
}

// FindArbitrage returns the widest opportunity at or above minSpreadPct, or
// nil when no venue pair crosses. An opportunity exists only when one venue's
// bid exceeds another venue's ask.
func (m *Manager) FindArbitrage(ctx context.Context, symbol string, minSpreadPct decimal.Decimal) (*Opportunity, error) {
	tickers, err := m.BestPrices(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(tickers) < 2 {
		return nil, nil
	}

	var buy, sell *schema.Ticker
	for i := range tickers {
		t := &tickers[i]
		if t.Ask.Sign() > 0 && (buy == nil || t.Ask.LessThan(buy.Ask)) {
			buy = t
		}
		if t.Bid.Sign() > 0 && (sell == nil || t.Bid.GreaterThan(sell.Bid)) {
			sell = t
		}
	}
	if buy == nil || sell == nil || buy.Venue == sell.Venue {
		return nil, nil
	}
	if !sell.Bid.GreaterThan(buy.Ask) {
		return nil, nil
	}
	spreadPct := sell.Bid.Sub(buy.Ask).Div(buy.Ask).Mul(hundred)
	if spreadPct.LessThan(minSpreadPct) {
		return nil, nil
	}
	return &Opportunity{
		Symbol:        symbol,
		BuyVenue:      buy.Venue,
		SellVenue:     sell.Venue,
		BuyAsk:        buy.Ask,
		SellBid:       sell.Bid,
		SpreadPercent: spreadPct,
	}, nil
}

// PortfolioValue prices every balance in quote terms, valuing each asset with
// its own venue's ticker. Assets the venue cannot price are skipped.
func (m *Manager) PortfolioValue(ctx context.Context, quote string) (decimal.Decimal, error) {
	quote = strings.ToUpper(strings.TrimSpace(quote))
	if quote == "" {
		return decimal.Zero, errs.New(managerName, errs.KindContract,
			errs.WithMessage("quote currency required"))
	}

	var mu sync.Mutex
	total := decimal.Zero

	p := pool.New().WithContext(ctx)
	for _, adapter := range m.snapshot() {
		p.Go(func(ctx context.Context) error {
			balances, err := adapter.FetchBalances(ctx)
			if err != nil {
				observability.Log().Error("fetch balances failed",
					observability.F("venue", adapter.Name()),
					observability.F("error", err))
				return nil
			}
			venueValue := decimal.Zero
			for _, balance := range balances {
				if balance.Total.Sign() <= 0 {
					continue
				}
				if balance.Currency == quote {
					venueValue = venueValue.Add(balance.Total)
					continue
				}
				ticker, err := adapter.FetchTicker(ctx, schema.JoinSymbol(balance.Currency, quote))
				if err != nil || ticker.Last.Sign() <= 0 {
					observability.Log().Debug("asset unpriced, skipped",
						observability.F("venue", adapter.Name()),
						observability.F("currency", balance.Currency))
					continue
				}
				venueValue = venueValue.Add(balance.Total.Mul(ticker.Last))
			}
			mu.Lock()
			total = total.Add(venueValue)
			mu.Unlock()
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}
