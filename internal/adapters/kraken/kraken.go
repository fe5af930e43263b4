// Package kraken implements the Kraken spot adapter. Kraken wraps every
// response in an {error, result} envelope and authenticates private calls with
// a strictly increasing nonce and a double-hash signature, so signed requests
// serialize through one nonce source per credential set.
package kraken

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
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
	"github.com/quantfold/venuelink/internal/transport"
	"golang.org/x/time/rate"
)

const (
	venueName = "kraken"

	restBase = "https://api.kraken.com"
)

// Options configure the adapter.
type Options struct {
	Name        string
	Credentials schema.Credentials
	RESTBaseURL string
	HTTPClient  *http.Client
	RateLimit   float64
}

// Adapter is the Kraken spot implementation of the exchange contract. The
// venue has no sandbox and this adapter carries no streaming session; Watch
// calls fail fast with a not-supported contract error.
type Adapter struct {
	name  string
	creds schema.Credentials
	rest  *transport.Client

	markets   *shared.MarketMap
	nonces    *sign.NonceSource
	connected atomic.Bool
}

// New constructs a Kraken adapter from options.
func New(opts Options) *Adapter {
	name := strings.TrimSpace(opts.Name)
	if name == "" {
		name = venueName
	}
	restURL := strings.TrimSpace(opts.RESTBaseURL)
	if restURL == "" {
		restURL = restBase
	}
	a := &Adapter{
		name:    name,
		creds:   opts.Credentials,
		markets: shared.NewMarketMap(),
		nonces:  sign.NewNonceSource(nil),
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
	return exchange.Capabilities{}
}

func (a *Adapter) Connected() bool { return a.connected.Load() }

// envelope is Kraken's uniform response wrapper. Failures usually arrive with
// HTTP 200 and a populated error array.
type envelope struct {
	Error  []string        `json:"error"`
	Result json.RawMessage `json:"result"`
}

// classifyError maps a Kraken error string such as "EOrder:Insufficient funds"
// onto the error taxonomy without discarding the original text.
func classifyError(raw string) *errs.E {
	kind := errs.KindVenue
	reason := errs.ReasonUnknown
	lower := strings.ToLower(raw)
	switch {
	case strings.HasPrefix(raw, "EAPI:Invalid key"),
		strings.HasPrefix(raw, "EAPI:Invalid signature"),
		strings.HasPrefix(raw, "EAPI:Invalid nonce"),
		strings.HasPrefix(raw, "EGeneral:Permission denied"):
		kind = errs.KindAuth
	case strings.Contains(lower, "rate limit"):
		kind = errs.KindRateLimited
	case strings.Contains(lower, "insufficient funds"):
		reason = errs.ReasonInsufficientBalance
	case strings.Contains(lower, "unknown order"):
		reason = errs.ReasonOrderNotFound
	case strings.Contains(lower, "unknown asset pair"):
		reason = errs.ReasonUnknownSymbol
	case strings.HasPrefix(raw, "EService:"):
		kind = errs.KindConnectivity
	}
	code, _, _ := strings.Cut(raw, ":")
	return errs.New(venueName, kind,
		errs.WithReason(reason),
		errs.WithRawCode(code),
		errs.WithRawMessage(raw))
}

func (a *Adapter) call(ctx context.Context, req transport.Request, out any) error {
	var env envelope
	if err := a.rest.Do(ctx, req, &env); err != nil {
		return err
	}
	if len(env.Error) > 0 {
		return classifyError(env.Error[0])
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

// private issues a signed POST with a fresh nonce in the form body.
func (a *Adapter) private(ctx context.Context, path string, params url.Values, out any) error {
	if !a.creds.Configured() {
		return errs.New(venueName, errs.KindAuth, errs.WithMessage("credentials required"))
	}
	if params == nil {
		params = url.Values{}
	}
	nonce := strconv.FormatInt(a.nonces.Next(), 10)
	params.Set("nonce", nonce)
	signature, err := sign.KrakenSign(a.creds.Secret, path, nonce, params)
	if err != nil {
		return errs.New(venueName, errs.KindAuth,
			errs.WithMessage("sign request"), errs.WithCause(err))
	}
	headers := http.Header{}
	headers.Set("API-Key", a.creds.Key)
	headers.Set("API-Sign", signature)
	headers.Set("Content-Type", "application/x-www-form-urlencoded")
	return a.call(ctx, transport.Request{
		Method:  http.MethodPost,
		Path:    path,
		Body:    []byte(params.Encode()),
		Headers: headers,
		Timeout: transport.DefaultOrderTimeout,
	}, out)
}

// Connect loads the asset pair catalogue and marks the adapter live.
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

// Disconnect marks the adapter offline; there is no session to tear down.
func (a *Adapter) Disconnect(ctx context.Context) error {
	_ = ctx
	a.connected.Store(false)
	return nil
}

// Ping measures latency against the public time endpoint.
func (a *Adapter) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/0/public/Time"}, nil); err != nil {
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

type assetPair struct {
	Altname      string `json:"altname"`
	WSName       string `json:"wsname"`
	Status       string `json:"status"`
	PairDecimals int    `json:"pair_decimals"`
	LotDecimals  int    `json:"lot_decimals"`
	OrderMin     string `json:"ordermin"`
}

func (a *Adapter) fetchMarkets(ctx context.Context) ([]schema.Market, error) {
	var pairs map[string]assetPair
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/0/public/AssetPairs"}, &pairs); err != nil {
		return nil, err
	}
	markets := make([]schema.Market, 0, len(pairs))
	for _, pair := range pairs {
		legs := strings.Split(pair.WSName, "/")
		if len(legs) != 2 {
			continue
		}
		base := normalizeAsset(legs[0])
		quote := normalizeAsset(legs[1])
		if base == "" || quote == "" {
			continue
		}
		markets = append(markets, schema.Market{
			Symbol:          schema.JoinSymbol(base, quote),
			NativeID:        pair.Altname,
			Base:            base,
			Quote:           quote,
			PricePrecision:  pair.PairDecimals,
			AmountPrecision: pair.LotDecimals,
			MinAmount:       shared.ParseDecimal(pair.OrderMin),
			Active:          pair.Status == "" || strings.EqualFold(pair.Status, "online"),
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

// firstResult unwraps Kraken's pair-keyed result maps, which key the payload
// by the venue's internal pair id rather than the requested altname.
func firstResult[T any](m map[string]T) (T, bool) {
	for _, v := range m {
		return v, true
	}
	var zero T
	return zero, false
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
	var result map[string]struct {
		Ask    []string `json:"a"`
		Bid    []string `json:"b"`
		Last   []string `json:"c"`
		Volume []string `json:"v"`
		High   []string `json:"h"`
		Low    []string `json:"l"`
		Open   string   `json:"o"`
	}
	query := url.Values{"pair": {market.NativeID}}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/0/public/Ticker", Query: query}, &result); err != nil {
		return schema.Ticker{}, err
	}
	payload, ok := firstResult(result)
	if !ok {
		return schema.Ticker{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("empty ticker result"))
	}
	ticker := schema.Ticker{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Last:      firstDecimal(payload.Last),
		Ask:       firstDecimal(payload.Ask),
		Bid:       firstDecimal(payload.Bid),
		Volume24h: secondDecimal(payload.Volume),
		High24h:   secondDecimal(payload.High),
		Low24h:    secondDecimal(payload.Low),
		Timestamp: a.rest.Now(),
	}
	if open := shared.ParseDecimal(payload.Open); open.Sign() > 0 && ticker.Last.Sign() > 0 {
		ticker.Change24h = ticker.Last.Sub(open).Div(open).Mul(decimal.NewFromInt(100))
	}
	return ticker, nil
}

func firstDecimal(values []string) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	return shared.ParseDecimal(values[0])
}

// secondDecimal picks the trailing 24h figure from Kraken's [today, last24h]
// pairs, falling back to the today value.
func secondDecimal(values []string) decimal.Decimal {
	if len(values) > 1 {
		return shared.ParseDecimal(values[1])
	}
	return firstDecimal(values)
}

func parseMixedLevels(raw [][]any) []schema.BookLevel {
	out := make([]schema.BookLevel, 0, len(raw))
	for _, level := range raw {
		if len(level) < 2 {
			continue
		}
		price, okP := level[0].(string)
		amount, okA := level[1].(string)
		if !okP || !okA {
			continue
		}
		out = append(out, schema.BookLevel{
			Price:  shared.ParseDecimal(price),
			Amount: shared.ParseDecimal(amount),
		})
	}
	return out
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
		depth = 100
	}
	var result map[string]struct {
		Bids [][]any `json:"bids"`
		Asks [][]any `json:"asks"`
	}
	query := url.Values{
		"pair":  {market.NativeID},
		"count": {strconv.Itoa(depth)},
	}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/0/public/Depth", Query: query}, &result); err != nil {
		return schema.OrderBook{}, err
	}
	payload, ok := firstResult(result)
	if !ok {
		return schema.OrderBook{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("empty depth result"))
	}
	return schema.OrderBook{
		Symbol:    market.Symbol,
		Venue:     venueName,
		Bids:      parseMixedLevels(payload.Bids),
		Asks:      parseMixedLevels(payload.Asks),
		Timestamp: a.rest.Now(),
	}, nil
}

// FetchOHLCV returns ascending candles; Kraken keys the result by its internal
// pair id alongside a "last" cursor, so rows are picked out of a raw map.
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
	query := url.Values{
		"pair":     {market.NativeID},
		"interval": {interval},
	}
	if !since.IsZero() {
		query.Set("since", strconv.FormatInt(since.Unix(), 10))
	}
	var result map[string]json.RawMessage
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/0/public/OHLC", Query: query}, &result); err != nil {
		return nil, err
	}
	var rows [][]any
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, errs.New(venueName, errs.KindVenue,
				errs.WithMessage("decode ohlc rows"), errs.WithCause(err))
		}
		break
	}
	candles := make([]schema.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		openTime, ok := row[0].(float64)
		if !ok {
			continue
		}
		candles = append(candles, schema.Candle{
			OpenTime: time.Unix(int64(openTime), 0),
			Open:     stringDecimal(row[1]),
			High:     stringDecimal(row[2]),
			Low:      stringDecimal(row[3]),
			Close:    stringDecimal(row[4]),
			Volume:   stringDecimal(row[6]),
		})
		if limit > 0 && len(candles) == limit {
			break
		}
	}
	return candles, nil
}

func stringDecimal(v any) decimal.Decimal {
	s, ok := v.(string)
	if !ok {
		return decimal.Zero
	}
	return shared.ParseDecimal(s)
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
	var result map[string]json.RawMessage
	query := url.Values{"pair": {market.NativeID}}
	if err := a.call(ctx, transport.Request{Method: http.MethodGet, Path: "/0/public/Trades", Query: query}, &result); err != nil {
		return nil, err
	}
	var rows [][]any
	for key, raw := range result {
		if key == "last" {
			continue
		}
		if err := json.Unmarshal(raw, &rows); err != nil {
			return nil, errs.New(venueName, errs.KindVenue,
				errs.WithMessage("decode trade rows"), errs.WithCause(err))
		}
		break
	}
	trades := make([]schema.Trade, 0, len(rows))
	for i, row := range rows {
		if len(row) < 4 {
			continue
		}
		price := stringDecimal(row[0])
		amount := stringDecimal(row[1])
		ts, _ := row[2].(float64)
		sideFlag, _ := row[3].(string)
		side := schema.SideBuy
		if sideFlag == "s" {
			side = schema.SideSell
		}
		id := strconv.Itoa(i)
		if len(row) > 6 {
			if num, ok := row[6].(float64); ok {
				id = strconv.FormatInt(int64(num), 10)
			}
		}
		trades = append(trades, schema.Trade{
			ID:        id,
			Symbol:    market.Symbol,
			Venue:     venueName,
			Side:      side,
			Amount:    amount,
			Price:     price,
			Cost:      price.Mul(amount),
			Timestamp: time.UnixMilli(int64(ts * 1000)),
		})
		if limit > 0 && len(trades) == limit {
			break
		}
	}
	return trades, nil
}

// FetchBalances returns extended balances with the held amount split out.
func (a *Adapter) FetchBalances(ctx context.Context) ([]schema.Balance, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var result map[string]struct {
		Balance   string `json:"balance"`
		HoldTrade string `json:"hold_trade"`
	}
	if err := a.private(ctx, "/0/private/BalanceEx", nil, &result); err != nil {
		return nil, err
	}
	balances := make([]schema.Balance, 0, len(result))
	for asset, row := range result {
		total := shared.ParseDecimal(row.Balance)
		used := shared.ParseDecimal(row.HoldTrade)
		if total.IsZero() {
			continue
		}
		balances = append(balances, schema.Balance{
			Venue:    venueName,
			Currency: normalizeAsset(asset),
			Free:     total.Sub(used),
			Used:     used,
			Total:    total,
		})
	}
	return balances, nil
}

// FetchPositions is unsupported on the spot venue.
func (a *Adapter) FetchPositions(ctx context.Context) ([]schema.Position, error) {
	_ = ctx
	return nil, errs.NotSupported(venueName, "positions")
}

type orderInfo struct {
	Status string `json:"status"`
	Descr  struct {
		Pair      string `json:"pair"`
		Type      string `json:"type"`
		OrderType string `json:"ordertype"`
		Price     string `json:"price"`
		Price2    string `json:"price2"`
	} `json:"descr"`
	Vol     string  `json:"vol"`
	VolExec string  `json:"vol_exec"`
	AvgPx   string  `json:"price"`
	OpenTm  float64 `json:"opentm"`
	CloseTm float64 `json:"closetm"`
	ClRef   string  `json:"cl_ord_id"`
}

func (a *Adapter) toOrder(id string, info orderInfo) schema.Order {
	symbol := info.Descr.Pair
	if canonical, ok := a.markets.Canonical(info.Descr.Pair); ok {
		symbol = canonical
	}
	order := schema.Order{
		ID:            id,
		ClientOrderID: info.ClRef,
		Symbol:        symbol,
		Venue:         venueName,
		Type:          parseOrderType(info.Descr.OrderType),
		Side:          parseSide(info.Descr.Type),
		Amount:        shared.ParseDecimal(info.Vol),
		Price:         shared.ParseDecimal(info.Descr.Price),
		Status:        mapStatus(info.Status),
		Filled:        shared.ParseDecimal(info.VolExec),
		AveragePrice:  shared.ParseDecimal(info.AvgPx),
		CreatedAt:     time.UnixMilli(int64(info.OpenTm * 1000)),
	}
	if info.CloseTm > 0 {
		order.UpdatedAt = time.UnixMilli(int64(info.CloseTm * 1000))
	} else {
		order.UpdatedAt = order.CreatedAt
	}
	order.Normalize()
	return order
}

// CreateOrder submits an order. Kraken echoes only the transaction id, so the
// returned order reflects the accepted request in the open state.
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
		"pair":      {market.NativeID},
		"type":      {string(req.Side)},
		"ordertype": {nativeType},
		"volume":    {req.Amount.String()},
		"cl_ord_id": {clientID},
	}
	switch req.Type {
	case schema.OrderTypeLimit:
		params.Set("price", req.Price.String())
	case schema.OrderTypeStop:
		params.Set("price", req.StopPrice.String())
	}
	for key, value := range req.Params {
		params.Set(key, value)
	}
	var result struct {
		TxID []string `json:"txid"`
	}
	if err := a.private(ctx, "/0/private/AddOrder", params, &result); err != nil {
		return schema.Order{}, err
	}
	if len(result.TxID) == 0 {
		return schema.Order{}, errs.New(venueName, errs.KindVenue, errs.WithMessage("order accepted without txid"))
	}
	order := schema.Order{
		ID:            result.TxID[0],
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
	return order, nil
}

// CancelOrder cancels a live order by transaction id.
func (a *Adapter) CancelOrder(ctx context.Context, id, symbol string) error {
	if err := a.ensureConnected(); err != nil {
		return err
	}
	_ = symbol
	params := url.Values{"txid": {id}}
	return a.private(ctx, "/0/private/CancelOrder", params, nil)
}

// FetchOrder returns the current view of one order.
func (a *Adapter) FetchOrder(ctx context.Context, id, symbol string) (schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return schema.Order{}, err
	}
	_ = symbol
	params := url.Values{"txid": {id}}
	var result map[string]orderInfo
	if err := a.private(ctx, "/0/private/QueryOrders", params, &result); err != nil {
		return schema.Order{}, err
	}
	info, ok := result[id]
	if !ok {
		return schema.Order{}, errs.New(venueName, errs.KindVenue,
			errs.WithReason(errs.ReasonOrderNotFound),
			errs.WithMessage("order "+id+" not returned"))
	}
	return a.toOrder(id, info), nil
}

// FetchOpenOrders lists live orders, optionally filtered to one symbol.
func (a *Adapter) FetchOpenOrders(ctx context.Context, symbol string) ([]schema.Order, error) {
	if err := a.ensureConnected(); err != nil {
		return nil, err
	}
	var result struct {
		Open map[string]orderInfo `json:"open"`
	}
	if err := a.private(ctx, "/0/private/OpenOrders", nil, &result); err != nil {
		return nil, err
	}
	filter := strings.TrimSpace(symbol)
	orders := make([]schema.Order, 0, len(result.Open))
	for id, info := range result.Open {
		order := a.toOrder(id, info)
		if filter != "" && !strings.EqualFold(order.Symbol, filter) {
			continue
		}
		orders = append(orders, order)
	}
	return orders, nil
}

// WatchTicker is unsupported; the venue integration is REST-only.
func (a *Adapter) WatchTicker(ctx context.Context, symbol string, fn exchange.TickerHandler) error {
	_, _, _ = ctx, symbol, fn
	return errs.NotSupported(venueName, "streaming")
}

// WatchOrderBook is unsupported; the venue integration is REST-only.
func (a *Adapter) WatchOrderBook(ctx context.Context, symbol string, fn exchange.BookHandler) error {
	_, _, _ = ctx, symbol, fn
	return errs.NotSupported(venueName, "streaming")
}

// WatchTrades is unsupported; the venue integration is REST-only.
func (a *Adapter) WatchTrades(ctx context.Context, symbol string, fn exchange.TradeHandler) error {
	_, _, _ = ctx, symbol, fn
	return errs.NotSupported(venueName, "streaming")
}
