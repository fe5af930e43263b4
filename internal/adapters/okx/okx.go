// Package okx implements the OKX adapter: ISO-timestamp HMAC signing with a
// passphrase header, spot trading, account positions, and public websocket
// channels. Demo trading reuses the production host behind a header.
package okx

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
	venueName = "okx"

	restBase = "https://www.okx.com"
	wsPublic = "wss://ws.okx.com:8443/ws/v5/public"

	instType = "SPOT"
)

var hundred = decimal.NewFromInt(100)

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

// Adapter is the OKX implementation of the exchange contract.
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
	errors    chan<- error
}

// New constructs an OKX adapter from options.
func New(opts Options) *Adapter {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = venueName
	}
	restURL := strings.TrimSpace(opts.RESTBaseURL)
	if restURL == "" {
		restURL = restBase
	}
	wsURL := strings.TrimSpace(opts.WebsocketURL)
	if wsURL == "" {
		wsURL = wsPublic
	}
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

// envelope is OKX's uniform response wrapper; code "0" means success.
type envelope struct {
	Code string          `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func classifyCode(code, msg string) *errs.E {
	kind := errs.KindVenue
	reason := errs.ReasonUnknown
	switch code {
	case "50100", "50101", "50111", "50113", "50114":
		kind = errs.KindAuth
	case "50011", "50013":
		kind = errs.KindRateLimited
	case "51000":
		kind = errs.KindContract
	case "51001":
		reason = errs.ReasonUnknownSymbol
	case "51008", "51119":
		reason = errs.ReasonInsufficientBalance
	case "51603":
		reason = errs.ReasonOrderNotFound
	case "51410":
		reason = errs.ReasonTerminalOrder
	}
	return errs.New(venueName, kind,
		errs.WithReason(reason),
		errs.WithRawCode(code),
		errs.WithRawMessage(msg))
}

func (a *Adapter) call(ctx context.Context, req transport.Request, out any) error {
	var env envelope
	if err := a.rest.Do(ctx, req, &env); err != nil {
		return err
	}
	if env.Code != "" && env.Code != "0" {
		return classifyCode(env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return errs.New(venueName, errs.KindVenue,
			errs.WithMessage("decode data"), errs.WithCause(err))
	}
	return nil
}

// signed issues an authenticated request. The signature covers
// timestamp+method+requestPath(+query)+body with the raw secret, base64 output.
func (a *Adapter) signed(ctx context.Context, method, path string, query url.Values, body []byte, out any) error {
	if !a.creds.Configured() || a.creds.Passphrase == "" {
		return errs.New(venueName, errs.KindAuth, errs.WithMessage("credentials with passphrase required"))
	}
	requestPath := path
	if len(query) > 0 {
		requestPath += "?" + query.Encode()
	}
	timestamp := a.rest.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	headers := http.Header{}
	headers.Set("OK-ACCESS-KEY", a.creds.Key)
	headers.Set("OK-ACCESS-SIGN", sign.TimestampSign(a.creds.Secret, timestamp, method, requestPath, string(body)))
	headers.Set("OK-ACCESS-TIMESTAMP", timestamp)
	headers.Set("OK-ACCESS-PASSPHRASE", a.creds.Passphrase)
	if a.creds.Testnet {
		headers.Set("x-simulated-trading", "1")
	}
	if len(body) > 0 {
		headers.Set("Content-Type", "application/json")
	}
	timeout := transport.DefaultMarketDataTimeout
	if method != http.MethodGet {
		timeout = transport.DefaultOrderTimeout
	}
	return a.call(ctx, transport.Request{
		Method:  method,
		Path:    path,
		Query:   query,
		Body:    body,
		Headers: headers,
		Timeout: timeout,
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
	a.connected.Store(false)
	return nil
}

// Ping measures latency against the public system time endpoint.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v5/public/time"}, nil); err != nil {
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
	var rows []struct {
		InstID   string `json:"instId"`
		BaseCcy  string `json:"baseCcy"`
		QuoteCcy string `json:"quoteCcy"`
		TickSz   string `json:"tickSz"`
		LotSz    string `json:"lotSz"`
		MinSz    string `json:"minSz"`
		State    string `json:"state"`
	}
	query := url.Values{"instType": {instType}}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v5/public/instruments", Query: query}, &rows); err != nil {
		return nil, err
	}
	markets := make([]schema.Market, 0, len(rows))
	for _, row := range rows {
		base := schema.NormalizeCurrency(row.BaseCcy)
		quote := schema.NormalizeCurrency(row.QuoteCcy)
		if base == "" || quote == "" {
			continue
		}
		markets = append(markets, schema.Market{
			Symbol:          schema.JoinSymbol(base, quote),
			NativeID:        row.InstID,
			Base:            base,
			Quote:           quote,
			PricePrecision:  shared.PrecisionFromStep(row.TickSz),
			AmountPrecision: shared.PrecisionFromStep(row.LotSz),
			MinAmount:       shared.ParseDecimal(row.MinSz),
			Active:          strings.EqualFold(row.State, "live"),
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

type tickerRow struct {
	Last   string `json:"last"`
	BidPx  string `json:"bidPx"`
	AskPx  string `json:"askPx"`
	Vol24h string `json:"vol24h"`
	High   string `json:"high24h"`
	Low    string `json:"low24h"`
	Open   string `json:"open24h"`
	TS     string `json:"ts"`
}

func (a *Adapter) toTicker(symbol string, row tickerRow) schema.Ticker {
	ticker := schema.Ticker{
		Symbol:    symbol,
		Venue:     venueName,
		Last:      shared.ParseDecimal(row.Last),
		Bid:       shared.ParseDecimal(row.BidPx),
		Ask:       shared.ParseDecimal(row.AskPx),
		Volume24h: shared.ParseDecimal(row.Vol24h),
		High24h:   shared.ParseDecimal(row.High),
		Low24h:    shared.ParseDecimal(row.Low),
		Timestamp: parseMs(row.TS),
	}
	if open := shared.ParseDecimal(row.Open); open.Sign() > 0 && ticker.Last.Sign() > 0 {
		ticker.Change24h = ticker.Last.Sub(open).Div(open).Mul(hundred)
	}
	return ticker
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
	var rows []tickerRow
	query := url.Values{"instId": {market.NativeID}}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v5/market/ticker", Query: query}, &rows); err != nil {
		return schema.Ticker{}, err
	}
	if len(rows) == 0 {
		return schema.Ticker{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("empty ticker data"))
	}
	return a.toTicker(market.Symbol, rows[0]), nil
}

// FetchOrderBook returns a depth snapshot. OKX levels carry trailing
// liquidity metadata that the shared parser ignores.
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
	var rows []struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		TS   string     `json:"ts"`
	}
	query := url.Values{
		"instId": {market.NativeID},
		"sz":     {strconv.Itoa(depth)},
	}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v5/market/books", Query: query}, &rows); err != nil {
		return schema.OrderBook{}, err
	}
	if len(rows) == 0 {
		return schema.OrderBook{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("empty books data"))
	}
	return schema.OrderBook{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Bids:      shared.ParseLevels(rows[0].Bids),
		Asks:      shared.ParseLevels(rows[0].Asks),
		Timestamp: parseMs(rows[0].TS),
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
	bar, ok := mapTimeframe(timeframe)
	if !ok {
		return nil, errs.NotSupported(venueName, "timeframe "+string(timeframe))
	}
	if limit <= 0 {
		limit = 100
	}
	query := url.Values{
		"instId": {market.NativeID},
		"bar":    {bar},
		"limit":  {strconv.Itoa(limit)},
	}
	if !since.IsZero() {
		// "before" pages towards newer data from the given timestamp.
		query.Set("before", strconv.FormatInt(since.UnixMilli()-1, 10))
	}
	var rows [][]string
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v5/market/candles", Query: query}, &rows); err != nil {
		return nil, err
	}
	candles := make([]schema.Candle, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) < 6 {
			continue
		}
		ts, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		candles = append(candles, schema.Candle{
			OpenTime: time.UnixMilli(ts),
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
	var rows []tradeRow
	query := url.Values{
		"instId": {market.NativeID},
		"limit":  {strconv.Itoa(limit)},
	}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/api/v5/market/trades", Query: query}, &rows); err != nil {
		return nil, err
	}
	trades := make([]schema.Trade, 0, len(rows))
	for _, row := range rows {
		trades = append(trades, toTrade(market.Symbol, row))
	}
	return trades, nil
}

type tradeRow struct {
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	TS      string `json:"ts"`
}

func toTrade(symbol string, row tradeRow) schema.Trade {
	price := shared.ParseDecimal(row.Px)
	amount := shared.ParseDecimal(row.Sz)
	return schema.Trade{
		ID:        row.TradeID,
		Symbol:    symbol,
		Venue:     venueName,
		Side:      parseSide(row.Side),
		Amount:    amount,
		Price:     price,
		Cost:      price.Mul(amount),
		Timestamp: parseMs(row.TS),
	}
}

func parseMs(raw string) time.Time {
	ms, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// FetchBalances returns trading-account balances.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var rows []struct {
		Details []struct {
			Ccy       string `json:"ccy"`
			CashBal   string `json:"cashBal"`
			AvailBal  string `json:"availBal"`
			FrozenBal string `json:"frozenBal"`
		} `json:"details"`
	}
	if err := a.signed(ctx, http.MethodGet, "/api/v5/account/balance", nil, nil, &rows); err != nil {
		return nil, err
	}
	var balances []schema.Balance
	for _, account := range rows {
		for _, detail := range account.Details {
			total := shared.ParseDecimal(detail.CashBal)
			if total.IsZero() {
				continue
			}
			used := shared.ParseDecimal(detail.FrozenBal)
			balances = append(balances, schema.Balance{
				Venue:    venueName,
				Currency: schema.NormalizeCurrency(detail.Ccy),
				Free:     total.Sub(used),
				Used:     used,
				Total:    total,
			})
		}
	}
	return balances, nil
}

// FetchPositions returns open account positions across instrument types.
func (a *Adapter) FetchPositions(ctx context.Context) ([]schema.Position, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var rows []struct {
		InstID  string `json:"instId"`
		PosSide string `json:"posSide"`
		Pos     string `json:"pos"`
		AvgPx   string `json:"avgPx"`
		MarkPx  string `json:"markPx"`
		Upl     string `json:"upl"`
		Lever   string `json:"lever"`
		LiqPx   string `json:"liqPx"`
	}
	if err := a.signed(ctx, http.MethodGet, "/api/v5/account/positions", nil, nil, &rows); err != nil {
		return nil, err
	}
	positions := make([]schema.Position, 0, len(rows))
	for _, row := range rows {
		amount := shared.ParseDecimal(row.Pos)
		if amount.IsZero() {
			continue
		}
		symbol := row.InstID
		if canonical, ok := a.markets.Canonical(row.InstID); ok {
			symbol = canonical
		}
		side := schema.PositionLong
		// Net mode reports direction through the sign of the position size.
		if strings.EqualFold(row.PosSide, "short") || amount.Sign() < 0 {
			side = schema.PositionShort
			amount = amount.Abs()
		}
		positions = append(positions, schema.Position{
			Symbol:           symbol,
			Venue:            venueName,
			Side:             side,
			Amount:           amount,
			EntryPrice:       shared.ParseDecimal(row.AvgPx),
			MarkPrice:        shared.ParseDecimal(row.MarkPx),
			UnrealizedPnL:    shared.ParseDecimal(row.Upl),
			Leverage:         shared.ParseDecimal(row.Lever),
			LiquidationPrice: shared.ParseDecimal(row.LiqPx),
		})
	}
	return positions, nil
}

type orderRow struct {
	OrdID     string `json:"ordId"`
	ClOrdID   string `json:"clOrdId"`
	InstID    string `json:"instId"`
	Px        string `json:"px"`
	Sz        string `json:"sz"`
	Side      string `json:"side"`
	OrdType   string `json:"ordType"`
	State     string `json:"state"`
	AvgPx     string `json:"avgPx"`
	AccFillSz string `json:"accFillSz"`
	CTime     string `json:"cTime"`
	UTime     string `json:"uTime"`
}

func (a *Adapter) toOrder(row orderRow) schema.Order {
	symbol := row.InstID
	if canonical, ok := a.markets.Canonical(row.InstID); ok {
		symbol = canonical
	}
	order := schema.Order{
		ID:            row.OrdID,
		ClientOrderID: row.ClOrdID,
		Symbol:        symbol,
		Venue:         venueName,
		Type:          parseOrderType(row.OrdType),
		Side:          parseSide(row.Side),
		Amount:        shared.ParseDecimal(row.Sz),
		Price:         shared.ParseDecimal(row.Px),
		Status:        mapStatus(row.State),
		Filled:        shared.ParseDecimal(row.AccFillSz),
		AveragePrice:  shared.ParseDecimal(row.AvgPx),
		CreatedAt:     parseMs(row.CTime),
		UpdatedAt:     parseMs(row.UTime),
	}
	order.Normalize()
	return order
}

// CreateOrder submits a spot order in cash mode. Trigger-style stop orders go
// through the venue's separate algo-order surface, which this integration
// does not cover.
func (a *Adapter) CreateOrder(ctx context.Context, req schema.OrderRequest) (schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Order{}, err
	}
	if err := req.Validate(venueName); err != nil {
		return schema.Order{}, err
	}
	if req.Type == schema.OrderTypeStop {
		return schema.Order{}, errs.NotSupported(venueName, "stop orders")
	}
	market, err := a.resolve(req.Symbol)
	if err != nil {
		return schema.Order{}, err
	}
	clientID := req.ClientOrderID
	if clientID == "" {
		// OKX requires alphanumeric client ids up to 32 chars.
		clientID = strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	body := map[string]any{
		"instId":  market.NativeID,
		"tdMode":  "cash",
		"side":    string(req.Side),
		"ordType": string(req.Type),
		"sz":      req.Amount.String(),
		"clOrdId": clientID,
	}
	if req.Type == schema.OrderTypeLimit {
		body["px"] = req.Price.String()
	}
	if req.PostOnly {
		body["ordType"] = "post_only"
		body["px"] = req.Price.String()
	}
	for key, value := range req.Params {
		body[key] = value
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return schema.Order{}, errs.New(venueName, errs.KindContract,
			errs.WithMessage("encode order"), errs.WithCause(err))
	}
	var rows []struct {
		OrdID   string `json:"ordId"`
		ClOrdID string `json:"clOrdId"`
		SCode   string `json:"sCode"`
		SMsg    string `json:"sMsg"`
	}
	if err := a.signed(ctx, http.MethodPost, "/api/v5/trade/order", nil, raw, &rows); err != nil {
		return schema.Order{}, err
	}
	if len(rows) == 0 {
		return schema.Order{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("empty order response"))
	}
	if rows[0].SCode != "" && rows[0].SCode != "0" {
		return schema.Order{}, classifyCode(rows[0].SCode, rows[0].SMsg)
	}
	order, err := a.FetchOrder(ctx, rows[0].OrdID, market.Symbol)
	if err != nil {
		order = schema.Order{
			ID:            rows[0].OrdID,
			ClientOrderID: clientID,
			Symbol:        market.Symbol,
			Venue:         venueName,
			Type:          req.Type,
			Side:          req.Side,
			Amount:        req.Amount,
			Price:         req.Price,
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
	raw, err := json.Marshal(map[string]string{
		"instId": market.NativeID,
		"ordId":  id,
	})
	if err != nil {
		return errs.New(venueName, errs.KindContract,
			errs.WithMessage("encode cancel"), errs.WithCause(err))
	}
	var rows []struct {
		SCode string `json:"sCode"`
		SMsg  string `json:"sMsg"`
	}
	if err := a.signed(ctx, http.MethodPost, "/api/v5/trade/cancel-order", nil, raw, &rows); err != nil {
		return err
	}
	if len(rows) > 0 && rows[0].SCode != "" && rows[0].SCode != "0" {
		return classifyCode(rows[0].SCode, rows[0].SMsg)
	}
	return nil
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
		"instId": {market.NativeID},
		"ordId":  {id},
	}
	var rows []orderRow
	if err := a.signed(ctx, http.MethodGet, "/api/v5/trade/order", query, nil, &rows); err != nil {
		return schema.Order{}, err
	}
	if len(rows) == 0 {
		return schema.Order{}, errs.New(venueName, errs.KindVenue,
			errs.WithReason(errs.ReasonOrderNotFound),
			errs.WithMessage("order "+id+" not returned"))
	}
	return a.toOrder(rows[0]), nil
}

// FetchOpenOrders lists live orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	query := url.Values{"instType": {instType}}
	if strings.TrimSpace(symbol) != "" {
		market, err := a.resolve(symbol)
		if err != nil {
			return nil, err
		}
		query.Set("instId", market.NativeID)
	}
	var rows []orderRow
	if err := a.signed(ctx, http.MethodGet, "/api/v5/trade/orders-pending", query, nil, &rows); err != nil {
		return nil, err
	}
	orders := make([]schema.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, a.toOrder(row))
	}
	return orders, nil
}
