// Package bybit implements the Bybit v5 adapter over the unified linear
// (USDT-margined perpetual) category: header-based HMAC signing, derivatives
// positions, and public websocket feeds.
package bybit

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
	venueName = "bybit"

	mainnetREST = "https://api.bybit.com"
	testnetREST = "https://api-testnet.bybit.com"
	mainnetWS   = "wss://stream.bybit.com/v5/public/linear"
	testnetWS   = "wss://stream-testnet.bybit.com/v5/public/linear"

	category   = "linear"
	recvWindow = "5000"
)

// Options configure the adapter.
type Options struct {
	Name         string
	Credentials  schema.Credentials
	RESTBaseURL  string
	WebsocketURL string
	HTTPClient   *http.Client
	RateLimit    float64
	Errors       chan<- error
}

// Adapter is the Bybit linear-perpetuals implementation of the exchange contract.
type Adapter struct {
	name  string
	creds schema.Credentials
	rest  *transport.Client
	wsURL string

	markets  *shared.MarketMap
	registry *stream.Registry

	sessionMu sync.Mutex
	session   *stream.Session

	booksMu sync.Mutex
	books   map[string]*shared.BookAssembler

	connected atomic.Bool
	errors    chan<- error
}

// New constructs a Bybit adapter from options.
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
	a := &Adapter{
		name:     name,
		creds:    opts.Credentials,
		wsURL:    wsURL,
		markets:  shared.NewMarketMap(),
		registry: stream.NewRegistry(),
		books:    make(map[string]*shared.BookAssembler),
		errors:   opts.Errors,
	}
	a.rest = transport.NewClient(transport.Options{
		Venue:      venueName,
		BaseURL:    restURL,
		HTTPClient: opts.HTTPClient,
		RateLimit:  rate.Limit(opts.RateLimit),
	})
	return a
}

func (a *Adapter) Name() string  { return a.name }
func (a *Adapter) Venue() string { return venueName }

func (a *Adapter) Capabilities() exchange.Capabilities {
	return exchange.Capabilities{Streaming: true, Futures: true}
}

func (a *Adapter) Connected() bool { return a.connected.Load() }

// envelope is Bybit's uniform response wrapper; retCode 0 means success.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func classifyCode(code int, msg string) *errs.E {
	kind := errs.KindVenue
	reason := errs.ReasonUnknown
	switch code {
	case 10003, 10004, 10005, 33004:
		kind = errs.KindAuth
	case 10006, 10018:
		kind = errs.KindRateLimited
	case 110001:
		reason = errs.ReasonOrderNotFound
	case 110004, 110007, 110012:
		reason = errs.ReasonInsufficientBalance
	case 10001:
		if strings.Contains(strings.ToLower(msg), "symbol") {
			reason = errs.ReasonUnknownSymbol
		}
	}
	return errs.New(venueName, kind,
		errs.WithReason(reason),
		errs.WithRawCode(strconv.Itoa(code)),
		errs.WithRawMessage(msg))
}

func (a *Adapter) call(ctx context.Context, req transport.Request, out any) error {
	var env envelope
	if err := a.rest.Do(ctx, req, &env); err != nil {
		return err
	}
	if env.RetCode != 0 {
		return classifyCode(env.RetCode, env.RetMsg)
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Result, out); err != nil {
		return errs.New(venueName, errs.KindVenue,
			errs.WithMessage("decode result"), errs.WithCause(err))
	}
	return nil
}

// signHeaders builds the v5 authentication headers. The signed payload is the
// encoded query for GETs and the JSON body for POSTs.
func (a *Adapter) signHeaders(payload string) (http.Header, error) {
	if !a.creds.Configured() {
		return nil, errs.New(venueName, errs.KindAuth, errs.WithMessage("credentials required"))
	}
	timestamp := strconv.FormatInt(a.rest.Now().UnixMilli(), 10)
	headers := http.Header{}
	headers.Set("X-BAPI-API-KEY", a.creds.Key)
	headers.Set("X-BAPI-TIMESTAMP", timestamp)
	headers.Set("X-BAPI-RECV-WINDOW", recvWindow)
	headers.Set("X-BAPI-SIGN", sign.BybitSign(a.creds.Secret, timestamp, a.creds.Key, recvWindow, payload))
	return headers, nil
}

func (a *Adapter) signedGet(ctx context.Context, path string, query url.Values, out any) error {
	headers, err := a.signHeaders(query.Encode())
	if err != nil {
		return err
	}
	return a.call(ctx, transport.Request{
		Method:  http.MethodGet,
		Path:    path,
		Query:   query,
		Headers: headers,
	}, out)
}

func (a *Adapter) signedPost(ctx context.Context, path string, body any, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errs.New(venueName, errs.KindContract,
			errs.WithMessage("encode body"), errs.WithCause(err))
	}
	headers, err := a.signHeaders(string(raw))
	if err != nil {
		return err
	}
	headers.Set("Content-Type", "application/json")
	return a.call(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    raw,
		Headers: headers,
		Timeout: transport.DefaultOrderTimeout,
	}, out)
}

// Connect loads the instrument catalogue and marks the adapter live.
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
	a.booksMu.Lock()
	a.books = make(map[string]*shared.BookAssembler)
	a.booksMu.Unlock()
	a.connected.Store(false)
	return nil
}

// Ping measures latency against the public server-time endpoint.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/v5/market/time"}, nil); err != nil {
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
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			BaseCoin      string `json:"baseCoin"`
			QuoteCoin     string `json:"quoteCoin"`
			SettleCoin    string `json:"settleCoin"`
			Status        string `json:"status"`
			LotSizeFilter struct {
				MinOrderQty string `json:"minOrderQty"`
				MaxOrderQty string `json:"maxOrderQty"`
				QtyStep     string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
			PriceFilter struct {
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LeverageFilter struct {
				MinLeverage string `json:"minLeverage"`
				MaxLeverage string `json:"maxLeverage"`
			} `json:"leverageFilter"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/v5/market/instruments-info", Query: query}, &result); err != nil {
		return nil, err
	}
	markets := make([]schema.Market, 0, len(result.List))
	for _, entry := range result.List {
		base := schema.NormalizeCurrency(entry.BaseCoin)
		quote := schema.NormalizeCurrency(entry.QuoteCoin)
		if base == "" || quote == "" {
			continue
		}
		minLev, _ := strconv.Atoi(strings.SplitN(entry.LeverageFilter.MinLeverage, ".", 2)[0])
		maxLev, _ := strconv.Atoi(strings.SplitN(entry.LeverageFilter.MaxLeverage, ".", 2)[0])
		markets = append(markets, schema.Market{
			Symbol:          schema.JoinSymbol(base, quote),
			NativeID:        entry.Symbol,
			Base:            base,
			Quote:           quote,
			AmountPrecision: shared.PrecisionFromStep(entry.LotSizeFilter.QtyStep),
			PricePrecision:  shared.PrecisionFromStep(entry.PriceFilter.TickSize),
			MinAmount:       shared.ParseDecimal(entry.LotSizeFilter.MinOrderQty),
			MaxAmount:       shared.ParseDecimal(entry.LotSizeFilter.MaxOrderQty),
			SettleCurrency:  schema.NormalizeCurrency(entry.SettleCoin),
			MinLeverage:     minLev,
			MaxLeverage:     maxLev,
			Active:          strings.EqualFold(entry.Status, "Trading"),
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

// FetchTicker returns the 24h snapshot for one symbol.
func (a *Adapter) FetchTicker(ctx context.Context, symbol string) (schema.Ticker, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Ticker{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.Ticker{}, err
	}
	var result struct {
		List []struct {
			LastPrice    string `json:"lastPrice"`
			Bid1Price    string `json:"bid1Price"`
			Ask1Price    string `json:"ask1Price"`
			Volume24h    string `json:"volume24h"`
			HighPrice24h string `json:"highPrice24h"`
			LowPrice24h  string `json:"lowPrice24h"`
			Price24hPcnt string `json:"price24hPcnt"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "symbol": {market.NativeID}}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/v5/market/tickers", Query: query}, &result); err != nil {
		return schema.Ticker{}, err
	}
	if len(result.List) == 0 {
		return schema.Ticker{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("empty ticker result"))
	}
	row := result.List[0]
	return schema.Ticker{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Last:      shared.ParseDecimal(row.LastPrice),
		Bid:       shared.ParseDecimal(row.Bid1Price),
		Ask:       shared.ParseDecimal(row.Ask1Price),
		Volume24h: shared.ParseDecimal(row.Volume24h),
		High24h:   shared.ParseDecimal(row.HighPrice24h),
		Low24h:    shared.ParseDecimal(row.LowPrice24h),
		// Bybit reports the 24h change as a ratio, the contract wants percent.
		Change24h: shared.ParseDecimal(row.Price24hPcnt).Mul(decimal.NewFromInt(100)),
		Timestamp: a.rest.Now(),
	}, nil
}

// FetchOrderBook returns a depth snapshot.
func (a *Adapter) FetchOrderBook(ctx context.Context, symbol string, depth int) (schema.OrderBook, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.OrderBook{}, err
	}
	market, err := a.resolve(symbol)
	if err != nil {
		return schema.OrderBook{}, err
	}
	if depth <= 0 {
		depth = 50
	}
	var result struct {
		Bids [][]string `json:"b"`
		Asks [][]string `json:"a"`
		TS   int64      `json:"ts"`
	}
	query := url.Values{
		"category": {category},
		"symbol":   {market.NativeID},
		"limit":    {strconv.Itoa(depth)},
	}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/v5/market/orderbook", Query: query}, &result); err != nil {
		return schema.OrderBook{}, err
	}
	return schema.OrderBook{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Bids:      shared.ParseLevels(result.Bids),
		Asks:      shared.ParseLevels(result.Asks),
		Timestamp: time.UnixMilli(result.TS),
	}, nil
}

// FetchOHLCV returns ascending candles; the venue lists newest first.
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
		"category": {category},
		"symbol":   {market.NativeID},
		"interval": {interval},
		"limit":    {strconv.Itoa(limit)},
	}
	if !since.IsZero() {
		query.Set("start", strconv.FormatInt(since.UnixMilli(), 10))
	}
	var result struct {
		List [][]string `json:"list"`
	}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/v5/market/kline", Query: query}, &result); err != nil {
		return nil, err
	}
	candles := make([]schema.Candle, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		start, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		candles = append(candles, schema.Candle{
			OpenTime: time.UnixMilli(start),
			Open:     shared.ParseDecimal(row[1]),
			High:     shared.ParseDecimal(row[2]),
			Low:      shared.ParseDecimal(row[3]),
			Close:    shared.ParseDecimal(row[4]),
			Volume:   shared.ParseDecimal(row[5]),
		})
	}
	return candles, nil
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
	var result struct {
		List []struct {
			ExecID string `json:"execId"`
			Price  string `json:"price"`
			Size   string `json:"size"`
			Side   string `json:"side"`
			Time   string `json:"time"`
		} `json:"list"`
	}
	query := url.Values{
		"category": {category},
		"symbol":   {market.NativeID},
		"limit":    {strconv.Itoa(limit)},
	}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/v5/market/recent-trade", Query: query}, &result); err != nil {
		return nil, err
	}
	trades := make([]schema.Trade, 0, len(result.List))
	for _, row := range result.List {
		price := shared.ParseDecimal(row.Price)
		amount := shared.ParseDecimal(row.Size)
		trades = append(trades, schema.Trade{
			ID:        row.ExecID,
			Symbol:    market.Symbol,
			Venue:     venueName,
			Side:      parseSide(row.Side),
			Amount:    amount,
			Price:     price,
			Cost:      price.Mul(amount),
			Timestamp: parseMs(row.Time),
		})
	}
	return trades, nil
}

func parseMs(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// FetchBalances returns unified-account coin balances.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Coin []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				Locked        string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	query := url.Values{"accountType": {"UNIFIED"}}
	if err := a.signedGet(ctx, "/v5/account/wallet-balance", query, &result); err != nil {
		return nil, err
	}
	var balances []schema.Balance
	for _, account := range result.List {
		for _, coin := range account.Coin {
			total := shared.ParseDecimal(coin.WalletBalance)
			used := shared.ParseDecimal(coin.Locked)
			if total.IsZero() {
				continue
			}
			balances = append(balances, schema.Balance{
				Venue:    venueName,
				Currency: schema.NormalizeCurrency(coin.Coin),
				Free:     total.Sub(used),
				Used:     used,
				Total:    total,
			})
		}
	}
	return balances, nil
}

// FetchPositions returns open linear positions.
func (a *Adapter) FetchPositions(ctx context.Context) ([]schema.Position, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var result struct {
		List []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			AvgPrice      string `json:"avgPrice"`
			MarkPrice     string `json:"markPrice"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			Leverage      string `json:"leverage"`
			LiqPrice      string `json:"liqPrice"`
		} `json:"list"`
	}
	query := url.Values{"category": {category}, "settleCoin": {"USDT"}}
	if err := a.signedGet(ctx, "/v5/position/list", query, &result); err != nil {
		return nil, err
	}
	positions := make([]schema.Position, 0, len(result.List))
	for _, row := range result.List {
		size := shared.ParseDecimal(row.Size)
		if size.IsZero() {
			continue
		}
		symbol := row.Symbol
		if canonical, ok := a.markets.Canonical(row.Symbol); ok {
			symbol = canonical
		}
		side := schema.PositionLong
		if parseSide(row.Side) == schema.SideSell {
			side = schema.PositionShort
		}
		positions = append(positions, schema.Position{
			Symbol:           symbol,
			Venue:            venueName,
			Side:             side,
			Amount:           size,
			EntryPrice:       shared.ParseDecimal(row.AvgPrice),
			MarkPrice:        shared.ParseDecimal(row.MarkPrice),
			UnrealizedPnL:    shared.ParseDecimal(row.UnrealisedPnl),
			Leverage:         shared.ParseDecimal(row.Leverage),
			LiquidationPrice: shared.ParseDecimal(row.LiqPrice),
		})
	}
	return positions, nil
}

type orderRow struct {
	OrderID       string `json:"orderId"`
	OrderLinkID   string `json:"orderLinkId"`
	Symbol        string `json:"symbol"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	OrderStatus   string `json:"orderStatus"`
	AvgPrice      string `json:"avgPrice"`
	CumExecQty    string `json:"cumExecQty"`
	LeavesQty     string `json:"leavesQty"`
	OrderType     string `json:"orderType"`
	StopOrderType string `json:"stopOrderType"`
	TriggerPrice  string `json:"triggerPrice"`
	CreatedTime   string `json:"createdTime"`
	UpdatedTime   string `json:"updatedTime"`
}

func (a *Adapter) toOrder(row orderRow) schema.Order {
	symbol := row.Symbol
	if canonical, ok := a.markets.Canonical(row.Symbol); ok {
		symbol = canonical
	}
	order := schema.Order{
		ID:            row.OrderID,
		ClientOrderID: row.OrderLinkID,
		Symbol:        symbol,
		Venue:         venueName,
		Type:          parseOrderType(row.OrderType, row.StopOrderType),
		Side:          parseSide(row.Side),
		Amount:        shared.ParseDecimal(row.Qty),
		Price:         shared.ParseDecimal(row.Price),
		StopPrice:     shared.ParseDecimal(row.TriggerPrice),
		Status:        mapStatus(row.OrderStatus),
		Filled:        shared.ParseDecimal(row.CumExecQty),
		Remaining:     shared.ParseDecimal(row.LeavesQty),
		AveragePrice:  shared.ParseDecimal(row.AvgPrice),
		CreatedAt:     parseMs(row.CreatedTime),
		UpdatedAt:     parseMs(row.UpdatedTime),
	}
	order.Normalize()
	return order
}

// CreateOrder submits an order; the generated order link id keeps retries
// idempotent on the venue side.
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
	body := map[string]any{
		"category":    category,
		"symbol":      market.NativeID,
		"side":        mapSide(req.Side),
		"orderType":   nativeType,
		"qty":         req.Amount.String(),
		"orderLinkId": clientID,
	}
	if req.Type == schema.OrderTypeLimit || req.Type == schema.OrderTypeStop {
		body["price"] = req.Price.String()
		body["timeInForce"] = "GTC"
	}
	if req.Type == schema.OrderTypeStop {
		body["triggerPrice"] = req.StopPrice.String()
	}
	if req.ReduceOnly {
		body["reduceOnly"] = true
	}
	if req.PostOnly {
		body["timeInForce"] = "PostOnly"
	}
	for key, value := range req.Params {
		body[key] = value
	}
	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	}
	if err := a.signedPost(ctx, "/v5/order/create", body, &result); err != nil {
		return schema.Order{}, err
	}
	// Create echoes ids only; read the full order state back.
	order, err := a.FetchOrder(ctx, result.OrderID, market.Symbol)
	if err != nil {
		order = schema.Order{
			ID:            result.OrderID,
			ClientOrderID: clientID,
			Symbol:        market.Symbol,
			Venue:         venueName,
			Type:          req.Type,
			Side:          req.Side,
			Amount:        req.Amount,
			Price:         req.Price,
			StopPrice:     req.StopPrice,
			Status:        schema.OrderOpen,
			Remaining:     req.Amount,
			CreatedAt:     a.rest.Now(),
			UpdatedAt:     a.rest.Now(),
		}
	}
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
	body := map[string]any{
		"category": category,
		"symbol":   market.NativeID,
		"orderId":  id,
	}
	return a.signedPost(ctx, "/v5/order/cancel", body, nil)
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
	query := url.Values{
		"category": {category},
		"symbol":   {market.NativeID},
		"orderId":  {id},
	}
	var result struct {
		List []orderRow `json:"list"`
	}
	if err := a.signedGet(ctx, "/v5/order/realtime", query, &result); err != nil {
		return schema.Order{}, err
	}
	if len(result.List) == 0 {
		return schema.Order{}, errs.New(venueName, errs.KindVenue,
			errs.WithReason(errs.ReasonOrderNotFound),
			errs.WithMessage("order "+id+" not returned"))
	}
	return a.toOrder(result.List[0]), nil
}

// FetchOpenOrders lists live orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	query := url.Values{"category": {category}, "openOnly": {"0"}}
	if strings.TrimSpace(symbol) != "" {
		market, err := a.resolve(symbol)
		if err != nil {
			return nil, err
		}
		query.Set("symbol", market.NativeID)
	} else {
		query.Set("settleCoin", "USDT")
	}
	var result struct {
		List []orderRow `json:"list"`
	}
	if err := a.signedGet(ctx, "/v5/order/realtime", query, &result); err != nil {
		return nil, err
	}
	orders := make([]schema.Order, 0, len(result.List))
	for _, row := range result.List {
		orders = append(orders, a.toOrder(row))
	}
	return orders, nil
}
