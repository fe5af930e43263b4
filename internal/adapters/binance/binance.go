// Package binance implements the Binance spot adapter: query-string HMAC
// signing, REST market data and trading, and combined-stream websocket feeds.
package binance

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
	"github.com/quantfold/venuelink/internal/sign"
	"github.com/quantfold/venuelink/internal/stream"
	"github.com/quantfold/venuelink/internal/transport"
	"golang.org/x/time/rate"
)

const (
	venueName = "binance"

	mainnetREST = "https://api.binance.com"
	testnetREST = "https://testnet.binance.vision"
	mainnetWS   = "wss://stream.binance.com:9443/stream"
	testnetWS   = "wss://stream.testnet.binance.vision/stream"

	recvWindow = "5000"
)

// Options configure the adapter. Zero-value URL fields fall back to the
// mainnet or testnet hosts depending on the credential bundle.
type Options struct {
	Name         string
	Credentials  schema.Credentials
	RESTBaseURL  string
	WebsocketURL string
	HTTPClient   *http.Client
	RateLimit    float64
	// Errors receives asynchronous stream errors; may be nil.
	Errors chan<- error
}

// Adapter is the Binance spot implementation of the exchange contract.
type Adapter struct {
	name  string
	creds schema.Credentials
	rest  *transport.Client
	wsURL string

	markets  *shared.MarketMap
	registry *stream.Registry

	sessionMu sync.Mutex
	session   *stream.Session

	connected atomic.Bool
	subID     atomic.Int64
	errors    chan<- error
}

// New constructs a Binance adapter from options.
func New(opts Options) *Adapter {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = venueName
	}
	restURL := strings.TrimSpace(opts.RESTBaseURL)
	wsURL := strings.TrimSpace(opts.WebsocketURL)
	if restURL == "" {
		restURL = mainnetREST
		if opts.Credentials.Testnet {
			restURL = testnetREST
		}
	}
	if wsURL == "" {
		wsURL = mainnetWS
		if opts.Credentials.Testnet {
			wsURL = testnetWS
		}
	}
	limit := rate.Limit(opts.RateLimit)
	a := &Adapter{
		name:     name,
		creds:    opts.Credentials,
		wsURL:    wsURL,
		markets:  shared.NewMarketMap(),
		registry: stream.NewRegistry(),
		errors:   opts.Errors,
	}
	a.rest = transport.NewClient(transport.Options{
		Venue:      venueName,
		BaseURL:    restURL,
		HTTPClient: opts.HTTPClient,
		RateLimit:  limit,
		ParseError: parseVenueError,
	})
	return a
}

// parseVenueError decodes Binance's {"code":-NNNN,"msg":"..."} error body.
func parseVenueError(status int, body []byte) *errs.E {
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Code == 0 {
		return nil
	}
	kind := errs.KindVenue
	reason := errs.ReasonUnknown
	switch payload.Code {
	case -1021, -1022, -2014, -2015:
		kind = errs.KindAuth
	case -1003, -1015:
		kind = errs.KindRateLimited
	case -1121:
		reason = errs.ReasonUnknownSymbol
	case -2010:
		reason = errs.ReasonInsufficientBalance
	case -2011, -2013:
		reason = errs.ReasonOrderNotFound
	}
	if status == http.StatusTooManyRequests || status == http.StatusTeapot {
		kind = errs.KindRateLimited
	}
	return errs.New(venueName, kind,
		errs.WithReason(reason),
		errs.WithHTTP(status),
		errs.WithRawCode(strconv.Itoa(payload.Code)),
		errs.WithRawMessage(payload.Msg))
}

func (a *Adapter) Name() string  { return a.name }
func (a *Adapter) Venue() string { return venueName }

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{Streaming: true}
}

func (a *Adapter) Connected() bool { return a.connected.Load() }

// Connect loads the market catalogue and marks the adapter live.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.connected.Load() {
		return nil
	}
	if _, err := a.FetchMarketsUnlocked(ctx); err != nil {
		return err
	}
	a.connected.Store(true)
	return nil
}

// Disconnect stops the stream session and clears callback registrations.
func (a *Adapter) Disconnect(ctx context.Context) error {
	_ = ctx
	a.sessionMu.Lock()
	if a.session != nil {
		a.session.Stop()
		a.session = nil
	}
	a.sessionMu.Unlock()
	a.registry.Clear()
	a.connected.Store(false)
	return nil
}

// Ping measures venue round-trip latency against the unauthenticated endpoint.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v3/ping"}, nil); err != nil {
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

type exchangeInfo struct {
	Symbols []struct {
		Symbol     string `json:"symbol"`
		Status     string `json:"status"`
		BaseAsset  string `json:"baseAsset"`
		QuoteAsset string `json:"quoteAsset"`
		Filters    []struct {
			FilterType string `json:"filterType"`
			MinQty     string `json:"minQty"`
			MaxQty     string `json:"maxQty"`
			StepSize   string `json:"stepSize"`
			TickSize   string `json:"tickSize"`
		} `json:"filters"`
	} `json:"symbols"`
}

// FetchMarkets refreshes and returns the instrument catalogue.
func (a *Adapter) FetchMarkets(ctx context.Context) ([]schema.Market, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	return a.FetchMarketsUnlocked(ctx)
}

// FetchMarketsUnlocked fetches markets without the connected gate; Connect
// uses it to populate the map before the adapter reports live.
func (a *Adapter) FetchMarketsUnlocked(ctx context.Context) ([]schema.Market, error) {
	var info exchangeInfo
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v3/exchangeInfo"}, &info); err != nil {
		return nil, err
	}
	markets := make([]schema.Market, 0, len(info.Symbols))
	for _, entry := range info.Symbols {
		base := schema.NormalizeCurrency(entry.BaseAsset)
		quote := schema.NormalizeCurrency(entry.QuoteAsset)
		if base == "" || quote == "" {
			continue
		}
		market := schema.Market{
			Symbol:   schema.JoinSymbol(base, quote),
			NativeID: entry.Symbol,
			Base:     base,
			Quote:    quote,
			Active:   strings.EqualFold(entry.Status, "TRADING"),
		}
		for _, filter := range entry.Filters {
			switch filter.FilterType {
			case "LOT_SIZE":
				market.MinAmount = shared.ParseDecimal(filter.MinQty)
				market.MaxAmount = shared.ParseDecimal(filter.MaxQty)
				market.AmountPrecision = shared.PrecisionFromStep(filter.StepSize)
			case "PRICE_FILTER":
				market.PricePrecision = shared.PrecisionFromStep(filter.TickSize)
			}
		}
		markets = append(markets, market)
	}
	a.markets.Replace(markets)
	return markets, nil
}

func (a *Adapter) resolve(symbol string) (schema.Market, error) {
	market, ok := a.markets.Get(symbol)
	if !ok {
		return schema.Market{}, errs.UnknownSymbol(venueName, symbol)
	}
	return market, nil
}

// FetchTicker returns the 24h rolling snapshot for one symbol.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (schema.Ticker, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Ticker{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.Ticker{}, err
	}
	var payload struct {
		LastPrice          string `json:"lastPrice"`
		BidPrice           string `json:"bidPrice"`
		AskPrice           string `json:"askPrice"`
		Volume             string `json:"volume"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		CloseTime          int64  `json:"closeTime"`
	}
	query := url.Values{"symbol": {market.NativeID}}
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v3/ticker/24hr", Query: query}, &payload); err != nil {
		return schema.Ticker{}, err
	}
	return schema.Ticker{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Last:      shared.ParseDecimal(payload.LastPrice),
		Bid:       shared.ParseDecimal(payload.BidPrice),
		Ask:       shared.ParseDecimal(payload.AskPrice),
		Volume24h: shared.ParseDecimal(payload.Volume),
		High24h:   shared.ParseDecimal(payload.HighPrice),
		Low24h:    shared.ParseDecimal(payload.LowPrice),
		Change24h: shared.ParseDecimal(payload.PriceChangePercent),
		Timestamp: time.UnixMilli(payload.CloseTime),
	}, nil
}

// FetchOrderBook returns a depth snapshot, bids descending and asks ascending
// as the venue already orders them.
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (schema.OrderBook, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.OrderBook{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.OrderBook{}, err
	}
	if depth <= 0 {
		depth = 100
	}
	var payload struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
	}
	query := url.Values{
		"symbol": {market.NativeID},
		"limit":  {strconv.Itoa(depth)},
	}
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v3/depth", Query: query}, &payload); err != nil {
		return schema.OrderBook{}, err
	}
	return schema.OrderBook{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Bids:      shared.ParseLevels(payload.Bids),
		Asks:      shared.ParseLevels(payload.Asks),
		Timestamp: a.rest.Now(),
	}, nil
}

// FetchOHLCV returns ascending candles for the timeframe.
func (a *Adapter) FetchOHLCV(ctx context.Context, symbol string, timeframe schema.Timeframe, since time.Time, limit int) ([]schema.Candle, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return nil, err
	}
	interval, ok := mapTimeframe(timeframe)
	if !ok {
		return nil, errs.NotSupported(venueName, "timeframe "+string(timeframe))
	}
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{
		"symbol":   {market.NativeID},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if !since.IsZero() {
		query.Set("startTime", strconv.FormatInt(since.UnixMilli(), 10))
	}
	var rows [][]any
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v3/klines", Query: query}, &rows); err != nil {
		return nil, err
	}
	candles := make([]schema.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		candles = append(candles, schema.Candle{
			OpenTime: time.UnixMilli(int64(openTime)),
			Open:     decimalField(row[1]),
			High:     decimalField(row[2]),
			Low:      decimalField(row[3]),
			Close:    decimalField(row[4]),
			Volume:   decimalField(row[5]),
		})
	}
	return candles, nil
}

func decimalField(v any) decimal.Decimal {
	switch value := v.(type) {
	case string:
		return shared.ParseDecimal(value)
	case float64:
		return decimal.NewFromFloat(value)
	default:
		return decimal.Zero
	}
}

// FetchTrades returns the recent public tape.
func (a *Adapter) FetchTrades(ctx context.Context, symbol string, limit int) ([]schema.Trade, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var rows []struct {
		ID           int64  `json:"id"`
		Price        string `json:"price"`
		Qty          string `json:"qty"`
		QuoteQty     string `json:"quoteQty"`
		Time         int64  `json:"time"`
		IsBuyerMaker bool   `json:"isBuyerMaker"`
	}
	query := url.Values{
		"symbol": {market.NativeID},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v3/trades", Query: query}, &rows); err != nil {
		return nil, err
	}
	trades := make([]schema.Trade, 0, len(rows))
	for _, row := range rows {
		side := schema.SideBuy
		if row.IsBuyerMaker {
			// Buyer was the maker, so the aggressor sold.
			side = schema.SideSell
		}
		trades = append(trades, schema.Trade{
			ID:        strconv.FormatInt(row.ID, 10),
			Symbol:    market.Symbol,
			Venue:     venueName,
			Side:      side,
			Amount:    shared.ParseDecimal(row.Qty),
			Price:     shared.ParseDecimal(row.Price),
			Cost:      shared.ParseDecimal(row.QuoteQty),
			Timestamp: time.UnixMilli(row.Time),
		})
	}
	return trades, nil
}

// signedPath renders path?query&signature=... with the signature over the
// exact encoded parameter string, appended last as the venue requires.
func (a *Adapter) signedPath(path string, params url.Values) (string, http.Header, error) {
	if !a.creds.Configured() {
		return "", nil, errs.New(venueName, errs.KindAuth, errs.WithMessage("credentials required"))
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(a.rest.Now().UnixMilli(), 10))
	params.Set("recvWindow", recvWindow)
	encoded := params.Encode()
	signature := sign.HMACSHA256Hex(a.creds.Secret, encoded)
	headers := http.Header{}
	headers.Set("X-MBX-APIKEY", a.creds.Key)
	return path + "?" + encoded + "&signature=" + signature, headers, nil
}

// FetchBalances returns non-zero spot balances.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	path, headers, err := a.signedPath("/api/v3/account", nil)
	if err != nil {
		return nil, err
	}
	var payload struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: path, Headers: headers}, &payload); err != nil {
		return nil, err
	}
	balances := make([]schema.Balance, 0, len(payload.Balances))
	for _, row := range payload.Balances {
		free := shared.ParseDecimal(row.Free)
		used := shared.ParseDecimal(row.Locked)
		if free.IsZero() && used.IsZero() {
			continue
		}
		balances = append(balances, schema.Balance{
			Venue:    venueName,
			Currency: schema.NormalizeCurrency(row.Asset),
			Free:     free,
			Used:     used,
			Total:    free.Add(used),
		})
	}
	return balances, nil
}

// FetchPositions is unsupported on the spot venue.
func (a *Adapter) FetchPositions(ctx context.Context) ([]schema.Position, error) {
	_ = ctx
	return nil, errs.NotSupported(venueName, "positions")
}

type orderPayload struct {
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	OrigClientOrderID   string `json:"origClientOrderId"`
	Symbol              string `json:"symbol"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	StopPrice           string `json:"stopPrice"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
	TransactTime        int64  `json:"transactTime"`
}

func (a *Adapter) toOrder(payload orderPayload) schema.Order {
	symbol := payload.Symbol
	if canonical, ok := a.markets.Canonical(payload.Symbol); ok {
		symbol = canonical
	}
	clientID := payload.ClientOrderID
	if clientID == "" {
		clientID = payload.OrigClientOrderID
	}
	created := payload.Time
	if created == 0 {
		created = payload.TransactTime
	}
	updated := payload.UpdateTime
	if updated == 0 {
		updated = payload.TransactTime
	}
	order := schema.Order{
		ID:            strconv.FormatInt(payload.OrderID, 10),
		ClientOrderID: clientID,
		Symbol:        symbol,
		Venue:         venueName,
		Type:          parseOrderType(payload.Type),
		Side:          parseSide(payload.Side),
		Amount:        shared.ParseDecimal(payload.OrigQty),
		Price:         shared.ParseDecimal(payload.Price),
		StopPrice:     shared.ParseDecimal(payload.StopPrice),
		Status:        mapStatus(payload.Status),
		Filled:        shared.ParseDecimal(payload.ExecutedQty),
		CreatedAt:     time.UnixMilli(created),
		UpdatedAt:     time.UnixMilli(updated),
	}
	if filled := order.Filled; filled.Sign() > 0 {
		if quote := shared.ParseDecimal(payload.CummulativeQuoteQty); quote.Sign() > 0 {
			order.AveragePrice = quote.Div(filled)
		}
	}
	order.Normalize()
	return order
}

// CreateOrder submits an order; a client order id is generated when the caller
// does not supply one so retries stay idempotent on the venue side.
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
	nativeType, ok := mapOrderType(req.Type)
	if !ok {
		return schema.Order{}, errs.NotSupported(venueName, "order type "+string(req.Type))
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		clientID = uuid.NewString()
	}
	params := url.Values{
		"symbol":           {market.NativeID},
		"side":             {mapSide(req.Side)},
		"type":             {nativeType},
		"quantity":         {req.Amount.String()},
		"newClientOrderId": {clientID},
	}
	if req.Type == schema.OrderTypeLimit || req.Type == schema.OrderTypeStop {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", "GTC")
	}
	if req.Type == schema.OrderTypeStop {
		params.Set("stopPrice", req.StopPrice.String())
	}
	for key, value := range req.Params {
		params.Set(key, value)
	}
	path, headers, err := a.signedPath("/api/v3/order", params)
	if err != nil {
		return schema.Order{}, err
	}
	var payload orderPayload
	if err := a.rest.Do(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    path,
		Headers: headers,
		Timeout: transport.DefaultOrderTimeout,
	}, &payload); err != nil {
		return schema.Order{}, err
	}
	order := a.toOrder(payload)
	if order.ClientOrderID == "" {
		order.ClientOrderID = clientID
	}
	return order, nil
}

// CancelOrder cancels a live order by venue id.
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return err
	}
	params := url.Values{
		"symbol":  {market.NativeID},
		"orderId": {id},
	}
	path, headers, err := a.signedPath("/api/v3/order", params)
	if err != nil {
		return err
	}
	return a.rest.Do(ctx, transport.Request{
		Method:  http.MethodDelete,
		Path:    path,
		Headers: headers,
		Timeout: transport.DefaultOrderTimeout,
	}, nil)
}

// FetchOrder returns the current view of one order.
func (a *Adapter) FetchOrder(ctx context.Context, id, symbol string) (schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Order{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.Order{}, err
	}
	params := url.Values{
		"symbol":  {market.NativeID},
		"orderId": {id},
	}
	path, headers, err := a.signedPath("/api/v3/order", params)
	if err != nil {
		return schema.Order{}, err
	}
	var payload orderPayload
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: path, Headers: headers}, &payload); err != nil {
		return schema.Order{}, err
	}
	return a.toOrder(payload), nil
}

// FetchOpenOrders lists live orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	params := url.Values{}
	if strings.TrimSpace(symbol) != "" {
		market, err := a.resolve(symbol)
		if err != nil {
			return nil, err
		}
		params.Set("symbol", market.NativeID)
	}
	path, headers, err := a.signedPath("/api/v3/openOrders", params)
	if err != nil {
		return nil, err
	}
	var rows []orderPayload
	if err := a.rest.Do(ctx, transport.Request{Method: http.MethodGet, Path: path, Headers: headers}, &rows); err != nil {
		return nil, err
	}
	orders := make([]schema.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, a.toOrder(row))
	}
	return orders, nil
}
