package bybit

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/sign"
	"github.com/quantfold/venuelink/internal/stream"
)

var _ exchange.Exchange = (*Adapter)(nil)

const instrumentsBody = `{
  "retCode": 0, "retMsg": "OK",
  "result": {
    "list": [
      {
        "symbol": "BTCUSDT", "baseCoin": "BTC", "quoteCoin": "USDT",
        "settleCoin": "USDT", "status": "Trading",
        "lotSizeFilter": {"minOrderQty": "0.001", "maxOrderQty": "100", "qtyStep": "0.001"},
        "priceFilter": {"tickSize": "0.10"},
        "leverageFilter": {"minLeverage": "1", "maxLeverage": "100.00"}
      }
    ]
  }
}`

func newTestAdapter(t *testing.T, extra map[string]http.HandlerFunc, creds schema.Credentials) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v5/market/instruments-info", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(instrumentsBody))
	})
	for path, fn := range extra {
		mux.HandleFunc(path, fn)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return New(Options{Credentials: creds, RESTBaseURL: server.URL})
}

func TestConnectMapsInstrumentMetadata(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	market, ok := adapter.markets.Get("BTC/USDT")
	if !ok {
		t.Fatalf("BTC/USDT not mapped")
	}
	if market.NativeID != "BTCUSDT" || market.SettleCurrency != "USDT" {
		t.Fatalf("market = %+v", market)
	}
	if market.MaxLeverage != 100 {
		t.Fatalf("max leverage = %d", market.MaxLeverage)
	}
	if !adapter.Capabilities().Futures {
		t.Fatalf("bybit must advertise futures capability")
	}
}

func TestFetchTickerConvertsChangeRatioToPercent(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/v5/market/tickers": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"retCode": 0,
				"result": {"list": [{
					"lastPrice": "65000", "bid1Price": "64999", "ask1Price": "65001",
					"volume24h": "1000", "highPrice24h": "66000", "lowPrice24h": "64000",
					"price24hPcnt": "0.0150"
				}]}
			}`))
		},
	}, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ticker, err := adapter.FetchTicker(context.Background(), "BTC/USDT")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if !ticker.Change24h.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("change = %s, want 1.5 percent", ticker.Change24h)
	}
}

func TestFetchOHLCVReversesDescendingRows(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/v5/market/kline": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("interval") != "D" {
				t.Errorf("interval = %q", r.URL.Query().Get("interval"))
			}
			_, _ = w.Write([]byte(`{
				"retCode": 0,
				"result": {"list": [
					["1700086400000", "105", "115", "100", "112", "13"],
					["1700000000000", "100", "110", "90", "105", "42"]
				]}
			}`))
		},
	}, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	candles, err := adapter.FetchOHLCV(context.Background(), "BTC/USDT", schema.Timeframe1d, time.Time{}, 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 2 || !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatalf("candles not ascending: %+v", candles)
	}
}

func TestSignedGetCarriesAuthHeaders(t *testing.T) {
	const secret = "bybit-secret"
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/v5/position/list": func(w http.ResponseWriter, r *http.Request) {
			timestamp := r.Header.Get("X-BAPI-TIMESTAMP")
			want := sign.BybitSign(secret, timestamp, "bybit-key", "5000", r.URL.RawQuery)
			if r.Header.Get("X-BAPI-SIGN") != want {
				t.Errorf("signature mismatch over %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`{
				"retCode": 0,
				"result": {"list": [{
					"symbol": "BTCUSDT", "side": "Buy", "size": "0.5",
					"avgPrice": "64000", "markPrice": "65000",
					"unrealisedPnl": "500", "leverage": "10", "liqPrice": "58000"
				}]}
			}`))
		},
	}, schema.Credentials{Key: "bybit-key", Secret: secret})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	positions, err := adapter.FetchPositions(context.Background())
	if err != nil {
		t.Fatalf("FetchPositions: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %d", len(positions))
	}
	pos := positions[0]
	if pos.Symbol != "BTC/USDT" || pos.Side != schema.PositionLong {
		t.Fatalf("position = %+v", pos)
	}
	if !pos.Leverage.Equal(decimal.RequireFromString("10")) {
		t.Fatalf("leverage = %s", pos.Leverage)
	}
}

func TestCreateOrderSignsJSONBodyAndReadsBack(t *testing.T) {
	const secret = "bybit-secret"
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/v5/order/create": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			timestamp := r.Header.Get("X-BAPI-TIMESTAMP")
			want := sign.BybitSign(secret, timestamp, "bybit-key", "5000", string(body))
			if r.Header.Get("X-BAPI-SIGN") != want {
				t.Errorf("body signature mismatch")
			}
			_, _ = w.Write([]byte(`{"retCode": 0, "result": {"orderId": "abc-123", "orderLinkId": "link-1"}}`))
		},
		"/v5/order/realtime": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"retCode": 0,
				"result": {"list": [{
					"orderId": "abc-123", "orderLinkId": "link-1", "symbol": "BTCUSDT",
					"price": "64000", "qty": "0.5", "side": "Buy",
					"orderStatus": "New", "avgPrice": "0", "cumExecQty": "0",
					"leavesQty": "0.5", "orderType": "Limit",
					"createdTime": "1700000000000", "updatedTime": "1700000000000"
				}]}
			}`))
		},
	}, schema.Credentials{Key: "bybit-key", Secret: secret})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	order, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   schema.OrderTypeLimit,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("0.5"),
		Price:  decimal.RequireFromString("64000"),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "abc-123" || order.Status != schema.OrderOpen || !order.Consistent() {
		t.Fatalf("order = %+v", order)
	}
}

func TestRetCodeErrorMapping(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/v5/order/create": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"retCode": 110007, "retMsg": "ab not enough for new order"}`))
		},
	}, schema.Credentials{Key: "k", Secret: "s"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   schema.OrderTypeMarket,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("100"),
	})
	if errs.ReasonOf(err) != errs.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[string]schema.OrderStatus{
		"New":             schema.OrderOpen,
		"PartiallyFilled": schema.OrderOpen,
		"Filled":          schema.OrderClosed,
		"Cancelled":       schema.OrderCanceled,
		"Rejected":        schema.OrderRejected,
		"Expired":         schema.OrderExpired,
	}
	for raw, want := range cases {
		if got := mapStatus(raw); got != want {
			t.Fatalf("mapStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestBookFrameAssembly(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var books []schema.OrderBook
	adapter.registry.Add(stream.NormalizeKey(channelBook, "BTC/USDT", ""), func(payload any) {
		books = append(books, payload.(schema.OrderBook))
	})
	adapter.handleFrame([]byte(`{
		"topic": "orderbook.50.BTCUSDT", "type": "snapshot", "ts": 1700000000000,
		"data": {"b": [["64000", "1"], ["63999", "2"]], "a": [["64001", "1"]]}
	}`))
	adapter.handleFrame([]byte(`{
		"topic": "orderbook.50.BTCUSDT", "type": "delta", "ts": 1700000000100,
		"data": {"b": [["64000", "0"]], "a": [["64002", "3"]]}
	}`))
	if len(books) != 2 {
		t.Fatalf("dispatched books = %d", len(books))
	}
	final := books[1]
	if bid, _ := final.BestBid(); !bid.Price.Equal(decimal.RequireFromString("63999")) {
		t.Fatalf("best bid after delete = %s", bid.Price)
	}
	if len(final.Asks) != 2 {
		t.Fatalf("asks = %+v", final.Asks)
	}
}

func TestTickerFrameDemux(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var got schema.Ticker
	adapter.registry.Add(stream.NormalizeKey(channelTicker, "BTC/USDT", ""), func(payload any) {
		got = payload.(schema.Ticker)
	})
	adapter.handleFrame([]byte(`{
		"topic": "tickers.BTCUSDT", "type": "snapshot", "ts": 1700000000000,
		"data": {"lastPrice": "65000", "bid1Price": "64999", "ask1Price": "65001"}
	}`))
	if got.Symbol != "BTC/USDT" || !got.Last.Equal(decimal.RequireFromString("65000")) {
		t.Fatalf("ticker = %+v", got)
	}
}
