// Package oanda implements the OANDA v20 forex adapter: bearer-token auth with
// the account id in the request path, REST trading, and price streaming over an
// HTTP chunked newline-delimited JSON body instead of a WebSocket.
package oanda

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/internal/adapters/shared"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/stream"
	"github.com/quantfold/venuelink/internal/transport"
	"golang.org/x/time/rate"
)

const (
	venueName = "oanda"

	liveREST       = "https://api-fxtrade.oanda.com"
	practiceREST   = "https://api-fxpractice.oanda.com"
	liveStream     = "https://stream-fxtrade.oanda.com"
	practiceStream = "https://stream-fxpractice.oanda.com"

	channelTicker = "ticker"
)

// Options configure the adapter.
type Options struct {
	Name        string
	Credentials schema.Credentials
	RESTBaseURL string
	StreamURL   string
	HTTPClient  *http.Client
	RateLimit   float64
	Errors      chan<- error
}

// Adapter is the OANDA implementation of the exchange contract. The v20 API is
// account-scoped, so every private path embeds the configured account id.
type Adapter struct {
	name      string
	creds     schema.Credentials
	rest      *transport.Client
	streamURL string

	markets  *shared.MarketMap
	registry *stream.Registry

	pricesMu sync.Mutex
	prices   *priceStream

	connected atomic.Bool
	errors    chan<- error
}

// New constructs an OANDA adapter from options.
func New(opts Options) *Adapter {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = venueName
	}
	restURL := strings.TrimSpace(opts.RESTBaseURL)
	streamURL := strings.TrimSpace(opts.StreamURL)
	if restURL == "" {
		restURL = liveREST
		if opts.Credentials.Testnet {
			restURL = practiceREST
		}
	}
	if streamURL == "" {
		streamURL = liveStream
		if opts.Credentials.Testnet {
			streamURL = practiceStream
		}
	}
	a := &Adapter{
		name:      name,
		creds:     opts.Credentials,
		streamURL: streamURL,
		markets:   shared.NewMarketMap(),
		registry:  stream.NewRegistry(),
		errors:    opts.Errors,
	}
	a.rest = transport.NewClient(transport.Options{
		Venue:      venueName,
		BaseURL:    restURL,
		HTTPClient: opts.HTTPClient,
		RateLimit:  rate.Limit(opts.RateLimit),
		ParseError: parseVenueError,
	})
	return a
}

// parseVenueError decodes the v20 {"errorMessage": "..."} body.
func parseVenueError(status int, body []byte) *errs.E {
	var payload struct {
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.ErrorMessage == "" {
		return nil
	}
	kind := errs.KindVenue
	reason := errs.ReasonUnknown
	lower := strings.ToLower(payload.ErrorMessage)
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = errs.KindAuth
	case status == http.StatusTooManyRequests:
		kind = errs.KindRateLimited
	case strings.Contains(lower, "insufficient"):
		reason = errs.ReasonInsufficientBalance
	case status == http.StatusNotFound && strings.Contains(lower, "order"):
		reason = errs.ReasonOrderNotFound
	case strings.Contains(lower, "instrument"):
		reason = errs.ReasonUnknownSymbol
	case status >= http.StatusInternalServerError:
		kind = errs.KindConnectivity
	}
	return errs.New(venueName, kind,
		errs.WithReason(reason),
		errs.WithHTTP(status),
		errs.WithRawMessage(payload.ErrorMessage))
}

func (a *Adapter) Name() string  { return a.name }
func (a *Adapter) Venue() string { return venueName }

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{Streaming: true, Margin: true}
}

func (a *Adapter) Connected() bool { return a.connected.Load() }

// authHeaders returns the bearer-token header set every call carries.
func (a *Adapter) authHeaders() (http.Header, error) {
	if a.creds.Key == "" || a.creds.AccountID == "" {
		return nil, errs.New(venueName, errs.KindAuth,
			errs.WithMessage("api token and account id required"))
	}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+a.creds.Key)
	headers.Set("Accept-Datetime-Format", "RFC3339")
	return headers, nil
}

func (a *Adapter) accountPath(suffix string) string {
	return "/v3/accounts/" + a.creds.AccountID + suffix
}

func (a *Adapter) call(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	headers, err := a.authHeaders()
	if err != nil {
		return err
	}
	if len(body) > 0 {
		headers.Set("Content-Type", "application/json")
	}
	timeout := transport.DefaultMarketDataTimeout
	if method != http.MethodGet {
		timeout = transport.DefaultOrderTimeout
	}
	return a.rest.Do(ctx, transport.Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Body:    body,
		Headers: headers,
		Timeout: timeout,
	}, out)
}

// Connect loads tradable instruments and marks the adapter live.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.connected.Load() {
		return nil
	}
	if _, err := a.fetchMarkets(ctx); err != nil {
		return err
	}
	a.connected.Store(true)
	return nil
}

// Disconnect stops the price stream and clears callback registrations.
func (a *Adapter) Disconnect(ctx context.Context) error {
	_ = ctx
	a.pricesMu.Lock()
	if a.prices != nil {
		a.prices.stop()
		a.prices = nil
	}
	a.pricesMu.Unlock()
	a.registry.Clear()
	a.connected.Store(false)
	return nil
}

// Ping measures latency against the account summary endpoint. The v20 API has
// no unauthenticated probe.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.call(ctx, http.MethodGet, a.accountPath("/summary"), nil, nil, nil); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

func (a *Adapter) ensureConnected() error {
	if !a.connected.Load() {
		return errs.NotConnected(venueName)
	}
	return nil
}

func (a *Adapter) fetchMarkets(ctx context.Context) ([]schema.Market, error) {
	var payload struct {
		Instruments []struct {
			Name             string `json:"name"`
			Type             string `json:"type"`
			DisplayPrecision int    `json:"displayPrecision"`
			TradeUnits       int    `json:"tradeUnitsPrecision"`
			MinimumTradeSize string `json:"minimumTradeSize"`
			MaximumOrder     string `json:"maximumOrderUnits"`
		} `json:"instruments"`
	}
	if err := a.call(ctx, http.MethodGet, a.accountPath("/instruments"), nil, nil, &payload); err != nil {
		return nil, err
	}
	markets := make([]schema.Market, 0, len(payload.Instruments))
	for _, row := range payload.Instruments {
		base, quote, ok := splitInstrument(row.Name)
		if !ok {
			continue
		}
		markets = append(markets, schema.Market{
			Symbol:          schema.JoinSymbol(base, quote),
			NativeID:        row.Name,
			Base:            base,
			Quote:           quote,
			PricePrecision:  row.DisplayPrecision,
			AmountPrecision: row.TradeUnits,
			MinAmount:       shared.ParseDecimal(row.MinimumTradeSize),
			MaxAmount:       shared.ParseDecimal(row.MaximumOrder),
			Active:          true,
		})
	}
	a.markets.Replace(markets)
	return markets, nil
}

// FetchMarkets refreshes and returns the instrument catalogue.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]schema.Market, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	return a.fetchMarkets(ctx)
}

func (a *Adapter) resolve(symbol string) (schema.Market, error) {
	market, ok := a.markets.Get(symbol)
	if !ok {
		return schema.Market{}, errs.UnknownSymbol(venueName, symbol)
	}
	return market, nil
}

type priceRow struct {
	Type       string    `json:"type"`
	Instrument string    `json:"instrument"`
	Time       time.Time `json:"time"`
	Tradeable  bool      `json:"tradeable"`
	Bids       []struct {
		Price     string `json:"price"`
		Liquidity int64  `json:"liquidity"`
	} `json:"bids"`
	Asks []struct {
		Price     string `json:"price"`
		Liquidity int64  `json:"liquidity"`
	} `json:"asks"`
}

func (a *Adapter) fetchPricing(ctx context.Context, nativeID string) (priceRow, error) {
	var payload struct {
		Prices []priceRow `json:"prices"`
	}
	query := url.Values{"instruments": {nativeID}}
	if err := a.call(ctx, http.MethodGet, a.accountPath("/pricing"), query, nil, &payload); err != nil {
		return priceRow{}, err
	}
	if len(payload.Prices) == 0 {
		return priceRow{}, errs.New(venueName, errs.KindVenue,
			errs.WithMessage("empty pricing response for "+nativeID))
	}
	return payload.Prices[0], nil
}

// toTicker derives a snapshot from a pricing row. The venue publishes no 24h
// statistics, so last is the bid/ask midpoint and the 24h fields stay zero.
func (a *Adapter) toTicker(symbol string, row priceRow) schema.Ticker {
	ticker := schema.Ticker{
		Symbol:    symbol,
		Venue:     venueName,
		Timestamp: row.Time,
	}
	if len(row.Bids) > 0 {
		ticker.Bid = shared.ParseDecimal(row.Bids[0].Price)
	}
	if len(row.Asks) > 0 {
		ticker.Ask = shared.ParseDecimal(row.Asks[0].Price)
	}
	if ticker.Bid.Sign() > 0 && ticker.Ask.Sign() > 0 {
		ticker.Last = ticker.Bid.Add(ticker.Ask).Div(decimal.NewFromInt(2))
	}
	return ticker
}

// FetchTicker returns the current pricing snapshot for the symbol.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (schema.Ticker, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Ticker{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.Ticker{}, err
	}
	row, err := a.fetchPricing(ctx, market.NativeID)
	if err != nil {
		return schema.Ticker{}, err
	}
	return a.toTicker(market.Symbol, row), nil
}

// FetchOrderBook returns the dealable price ladder. Liquidity amounts are the
// venue's available units at each quote.
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (schema.OrderBook, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.OrderBook{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.OrderBook{}, err
	}
	row, err := a.fetchPricing(ctx, market.NativeID)
	if err != nil {
		return schema.OrderBook{}, err
	}
	book := schema.OrderBook{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Timestamp: row.Time,
	}
	for _, level := range row.Bids {
		book.Bids = append(book.Bids, schema.BookLevel{
			Price:  shared.ParseDecimal(level.Price),
			Amount: decimal.NewFromInt(level.Liquidity),
		})
		if depth > 0 && len(book.Bids) == depth {
			break
		}
	}
	for _, level := range row.Asks {
		book.Asks = append(book.Asks, schema.BookLevel{
			Price:  shared.ParseDecimal(level.Price),
			Amount: decimal.NewFromInt(level.Liquidity),
		})
		if depth > 0 && len(book.Asks) == depth {
			break
		}
	}
	return book, nil
}

// FetchOHLCV returns midpoint candles, oldest first as the venue reports them.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol string, timeframe schema.Timeframe, since time.Time, limit int) ([]schema.Candle, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return nil, err
	}
	granularity, ok := mapTimeframe(timeframe)
	if !ok {
		return nil, errs.NotSupported(venueName, "timeframe "+string(timeframe))
	}
	query := url.Values{
		"granularity": {granularity},
		"price":       {"M"},
	}
	if !since.IsZero() {
		query.Set("from", since.UTC().Format(time.RFC3339))
	}
	if limit > 0 {
		query.Set("count", strconv.Itoa(limit))
	}
	var payload struct {
		Candles []struct {
			Time   time.Time `json:"time"`
			Volume int64     `json:"volume"`
			Mid    struct {
				O string `json:"o"`
				H string `json:"h"`
				L string `json:"l"`
				C string `json:"c"`
			} `json:"mid"`
		} `json:"candles"`
	}
	if err := a.call(ctx, http.MethodGet, "/v3/instruments/"+market.NativeID+"/candles", query, nil, &payload); err != nil {
		return nil, err
	}
	candles := make([]schema.Candle, 0, len(payload.Candles))
	for _, row := range payload.Candles {
		candles = append(candles, schema.Candle{
			OpenTime: row.Time,
			Open:     shared.ParseDecimal(row.Mid.O),
			High:     shared.ParseDecimal(row.Mid.H),
			Low:      shared.ParseDecimal(row.Mid.L),
			Close:    shared.ParseDecimal(row.Mid.C),
			Volume:   decimal.NewFromInt(row.Volume),
		})
	}
	return candles, nil
}

// FetchTrades is unsupported: the venue publishes no public tape.
func (a *Adapter) FetchTrades(ctx context.Context, symbol string, limit int) ([]schema.Trade, error) {
	_, _, _ = ctx, symbol, limit
	return nil, errs.NotSupported(venueName, "public trades")
}

// FetchBalances reports the account currency balance with margin split out.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var payload struct {
		Account struct {
			Currency   string `json:"currency"`
			Balance    string `json:"balance"`
			MarginUsed string `json:"marginUsed"`
		} `json:"account"`
	}
	if err := a.call(ctx, http.MethodGet, a.accountPath("/summary"), nil, nil, &payload); err != nil {
		return nil, err
	}
	total := shared.ParseDecimal(payload.Account.Balance)
	used := shared.ParseDecimal(payload.Account.MarginUsed)
	return []schema.Balance{{
		Venue:    venueName,
		Currency: schema.NormalizeCurrency(payload.Account.Currency),
		Free:     total.Sub(used),
		Used:     used,
		Total:    total,
	}}, nil
}

// FetchPositions reports open forex exposure. The venue keys positions by
// instrument with independent long and short sides.
func (a *Adapter) FetchPositions(ctx context.Context) ([]schema.Position, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var payload struct {
		Positions []struct {
			Instrument string `json:"instrument"`
			Long       struct {
				Units        string `json:"units"`
				AveragePrice string `json:"averagePrice"`
				UnrealizedPL string `json:"unrealizedPL"`
			} `json:"long"`
			Short struct {
				Units        string `json:"units"`
				AveragePrice string `json:"averagePrice"`
				UnrealizedPL string `json:"unrealizedPL"`
			} `json:"short"`
		} `json:"positions"`
	}
	if err := a.call(ctx, http.MethodGet, a.accountPath("/openPositions"), nil, nil, &payload); err != nil {
		return nil, err
	}
	positions := make([]schema.Position, 0, len(payload.Positions))
	for _, row := range payload.Positions {
		symbol := row.Instrument
		if canonical, ok := a.markets.Canonical(row.Instrument); ok {
			symbol = canonical
		}
		if units := shared.ParseDecimal(row.Long.Units); units.Sign() > 0 {
			positions = append(positions, schema.Position{
				Symbol:        symbol,
				Venue:         venueName,
				Side:          schema.PositionLong,
				Amount:        units,
				EntryPrice:    shared.ParseDecimal(row.Long.AveragePrice),
				UnrealizedPnL: shared.ParseDecimal(row.Long.UnrealizedPL),
			})
		}
		if units := shared.ParseDecimal(row.Short.Units); units.Sign() < 0 {
			positions = append(positions, schema.Position{
				Symbol:        symbol,
				Venue:         venueName,
				Side:          schema.PositionShort,
				Amount:        units.Abs(),
				EntryPrice:    shared.ParseDecimal(row.Short.AveragePrice),
				UnrealizedPnL: shared.ParseDecimal(row.Short.UnrealizedPL),
			})
		}
	}
	return positions, nil
}

type orderRow struct {
	ID               string    `json:"id"`
	Type             string    `json:"type"`
	Instrument       string    `json:"instrument"`
	Units            string    `json:"units"`
	Price            string    `json:"price"`
	State            string    `json:"state"`
	CreateTime       time.Time `json:"createTime"`
	FilledTime       time.Time `json:"filledTime"`
	CancelledTime    time.Time `json:"cancelledTime"`
	ClientExtensions struct {
		ID string `json:"id"`
	} `json:"clientExtensions"`
}

// toOrder maps a v20 order. Units are signed: negative means sell. The venue
// reports no partial fill quantity, so FILLED implies fully filled.
func (a *Adapter) toOrder(row orderRow) schema.Order {
	symbol := row.Instrument
	if canonical, ok := a.markets.Canonical(row.Instrument); ok {
		symbol = canonical
	}
	units := shared.ParseDecimal(row.Units)
	side := schema.SideBuy
	if units.Sign() < 0 {
		side = schema.SideSell
	}
	orderType := parseOrderType(row.Type)
	order := schema.Order{
		ID:            row.ID,
		ClientOrderID: row.ClientExtensions.ID,
		Symbol:        symbol,
		Venue:         venueName,
		Type:          orderType,
		Side:          side,
		Amount:        units.Abs(),
		Price:         shared.ParseDecimal(row.Price),
		Status:        mapStatus(row.State),
		CreatedAt:     row.CreateTime,
		UpdatedAt:     row.CreateTime,
	}
	if orderType == schema.OrderTypeStop {
		order.StopPrice = order.Price
		order.Price = decimal.Zero
	}
	if order.Status == schema.OrderClosed {
		order.Filled = order.Amount
		order.AveragePrice = shared.ParseDecimal(row.Price)
	}
	if !row.FilledTime.IsZero() {
		order.UpdatedAt = row.FilledTime
	}
	if !row.CancelledTime.IsZero() {
		order.UpdatedAt = row.CancelledTime
	}
	order.Normalize()
	return order
}

// CreateOrder submits an order. Side is encoded in the sign of units.
func (a *Adapter) CreateOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Order{}, err
	}
	if err := req.Validate(venueName); err != nil {
		return schema.Order{}, err
	}
	market, err := a.resolve(req.Symbol)
	if err != nil {
		return schema.Order{}, err
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	units := req.Amount
	if req.Side == schema.SideSell {
		units = units.Neg()
	}
	body := map[string]any{
		"type":             mapOrderType(req.Type),
		"instrument":       market.NativeID,
		"units":            units.String(),
		"clientExtensions": map[string]string{"id": clientID},
	}
	switch req.Type {
	case schema.OrderTypeMarket:
		body["timeInForce"] = "FOK"
	case schema.OrderTypeStop:
		body["timeInForce"] = "GTC"
		body["price"] = req.StopPrice.String()
	default:
		body["timeInForce"] = "GTC"
		body["price"] = req.Price.String()
	}
	for key, value := range req.Params {
		body[key] = value
	}
	raw, err := json.Marshal(map[string]any{"order": body})
	if err != nil {
		return schema.Order{}, errs.New(venueName, errs.KindContract,
			errs.WithMessage("encode order"), errs.WithCause(err))
	}
	var payload struct {
		OrderCreateTransaction struct {
			ID   string    `json:"id"`
			Time time.Time `json:"time"`
		} `json:"orderCreateTransaction"`
		OrderFillTransaction struct {
			Price string `json:"price"`
		} `json:"orderFillTransaction"`
		OrderCancelTransaction struct {
			Reason string `json:"reason"`
		} `json:"orderCancelTransaction"`
	}
	if err := a.call(ctx, http.MethodPost, a.accountPath("/orders"), nil, raw, &payload); err != nil {
		return schema.Order{}, err
	}
	if reason := payload.OrderCancelTransaction.Reason; reason != "" {
		errReason := errs.ReasonUnknown
		if strings.Contains(strings.ToLower(reason), "insufficient") {
			errReason = errs.ReasonInsufficientBalance
		}
		return schema.Order{}, errs.New(venueName, errs.KindVenue,
			errs.WithReason(errReason),
			errs.WithRawCode(reason),
			errs.WithMessage("order cancelled on submission"))
	}
	order := schema.Order{
		ID:            payload.OrderCreateTransaction.ID,
		ClientOrderID: clientID,
		Symbol:        market.Symbol,
		Venue:         venueName,
		Type:          req.Type,
		Side:          req.Side,
		Amount:        req.Amount,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Status:        schema.OrderOpen,
		CreatedAt:     payload.OrderCreateTransaction.Time,
		UpdatedAt:     payload.OrderCreateTransaction.Time,
	}
	if fill := shared.ParseDecimal(payload.OrderFillTransaction.Price); fill.Sign() > 0 {
		order.Status = schema.OrderClosed
		order.Filled = order.Amount
		order.AveragePrice = fill
	}
	order.Normalize()
	return order, nil
}

// CancelOrder cancels a pending order by venue id.
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	_ = symbol
	return a.call(ctx, http.MethodPut, a.accountPath("/orders/"+id+"/cancel"), nil, nil, nil)
}

// FetchOrder returns the current view of one order.
func (a *Adapter) FetchOrder(ctx context.Context, id, symbol string) (schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Order{}, err
	}
	_ = symbol
	var payload struct {
		Order orderRow `json:"order"`
	}
	if err := a.call(ctx, http.MethodGet, a.accountPath("/orders/"+id), nil, nil, &payload); err != nil {
		return schema.Order{}, err
	}
	return a.toOrder(payload.Order), nil
}

// FetchOpenOrders lists pending orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var nativeID string
	if strings.TrimSpace(symbol) != "" {
		market, err := a.resolve(symbol)
		if err != nil {
			return nil, err
		}
		nativeID = market.NativeID
	}
	var payload struct {
		Orders []orderRow `json:"orders"`
	}
	if err := a.call(ctx, http.MethodGet, a.accountPath("/pendingOrders"), nil, nil, &payload); err != nil {
		return nil, err
	}
	orders := make([]schema.Order, 0, len(payload.Orders))
	for _, row := range payload.Orders {
		if nativeID != "" && row.Instrument != nativeID {
			continue
		}
		orders = append(orders, a.toOrder(row))
	}
	return orders, nil
}

// WatchTicker streams pricing over the chunked HTTP feed.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, fn exchange.TickerHandler) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return err
	}
	if _, err := a.authHeaders(); err != nil {
		return err
	}
	a.registry.Add(stream.NormalizeKey(channelTicker, market.Symbol, ""), func(payload any) {
		if ticker, ok := payload.(schema.Ticker); ok {
			fn(ticker)
		}
	})
	return a.ensurePriceStream(ctx, market.NativeID)
}

// WatchOrderBook is unsupported: the pricing stream carries dealable quotes,
// not book depth.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, fn exchange.BookHandler) error {
	_, _, _ = ctx, symbol, fn
	return errs.NotSupported(venueName, "order book streaming")
}

// WatchTrades is unsupported: the venue publishes no public tape.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, fn exchange.TradeHandler) error {
	_, _, _ = ctx, symbol, fn
	return errs.NotSupported(venueName, "trade streaming")
}

// handlePriceLine demuxes one stream line. Heartbeats keep the connection
// alive and carry no price.
func (a *Adapter) handlePriceLine(data []byte) {
	var row priceRow
	if err := json.Unmarshal(data, &row); err != nil || row.Type != "PRICE" {
		return
	}
	symbol, ok := a.markets.Canonical(row.Instrument)
	if !ok {
		return
	}
	a.registry.Dispatch(stream.NormalizeKey(channelTicker, symbol, ""), a.toTicker(symbol, row))
}
