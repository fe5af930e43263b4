package coinbase

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
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

var testSecret = base64.StdEncoding.EncodeToString([]byte("coinbase-signing-key"))

const productsBody = `[
  {
    "id": "BTC-USD", "base_currency": "BTC", "quote_currency": "USD",
    "base_increment": "0.00000001", "quote_increment": "0.01",
    "base_min_size": "0.0001", "status": "online"
  },
  {
    "id": "ETH-USD", "base_currency": "ETH", "quote_currency": "USD",
    "base_increment": "0.00000001", "quote_increment": "0.01",
    "base_min_size": "0.001", "status": "delisted"
  }
]`

func newTestAdapter(t *testing.T, extra map[string]http.HandlerFunc, creds schema.Credentials) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/products", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(productsBody))
	})
	for path, fn := range extra {
		mux.HandleFunc(path, fn)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return New(Options{Credentials: creds, RESTBaseURL: server.URL})
}

func TestConnectMapsProducts(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	market, ok := adapter.markets.Get("BTC/USD")
	if !ok || market.NativeID != "BTC-USD" {
		t.Fatalf("market = %+v ok=%v", market, ok)
	}
	if market.PricePrecision != 2 || market.AmountPrecision != 8 {
		t.Fatalf("precision = %d/%d", market.PricePrecision, market.AmountPrecision)
	}
	delisted, _ := adapter.markets.Get("ETH/USD")
	if delisted.Active {
		t.Fatalf("delisted product must be inactive")
	}
}

func TestFetchTickerCombinesStats(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/products/BTC-USD/ticker": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"price": "103", "bid": "102.9", "ask": "103.1",
				"volume": "500", "time": "2026-08-20T12:00:00Z"
			}`))
		},
		"/products/BTC-USD/stats": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"open": "100", "high": "105", "low": "99"}`))
		},
	}, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ticker, err := adapter.FetchTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if !ticker.High24h.Equal(decimal.RequireFromString("105")) {
		t.Fatalf("high = %s", ticker.High24h)
	}
	if !ticker.Change24h.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("change = %s, want 3 percent", ticker.Change24h)
	}
}

func TestFetchOHLCVReversesNumericRows(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/products/BTC-USD/candles": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("granularity") != "3600" {
				t.Errorf("granularity = %q", r.URL.Query().Get("granularity"))
			}
			_, _ = w.Write([]byte(`[
				[1700003600, 100, 115, 105, 112, 13],
				[1700000000, 90, 110, 100, 105, 42]
			]`))
		},
	}, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	candles, err := adapter.FetchOHLCV(context.Background(), "BTC/USD", schema.Timeframe1h, time.Time{}, 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 2 || !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatalf("candles not ascending")
	}
	// Row layout is [time, low, high, open, close, volume].
	if !candles[0].Open.Equal(decimal.RequireFromString("100")) || !candles[0].Low.Equal(decimal.RequireFromString("90")) {
		t.Fatalf("candle fields misassigned: %+v", candles[0])
	}
}

func TestFourHourTimeframeNotSupported(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.FetchOHLCV(context.Background(), "BTC/USD", schema.Timeframe4h, time.Time{}, 0)
	if errs.ReasonOf(err) != errs.ReasonNotSupported {
		t.Fatalf("expected not_supported for 4h, got %v", err)
	}
}

func TestSignedRequestUsesDecodedSecret(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/accounts": func(w http.ResponseWriter, r *http.Request) {
			timestamp := r.Header.Get("CB-ACCESS-TIMESTAMP")
			want, err := sign.TimestampSignDecodedSecret(testSecret, timestamp, http.MethodGet, "/accounts", "")
			if err != nil {
				t.Errorf("recompute signature: %v", err)
			}
			if r.Header.Get("CB-ACCESS-SIGN") != want {
				t.Errorf("signature mismatch")
			}
			if r.Header.Get("CB-ACCESS-PASSPHRASE") != "phrase" {
				t.Errorf("passphrase header missing")
			}
			_, _ = w.Write([]byte(`[
				{"currency": "USD", "balance": "1000", "hold": "100", "available": "900"},
				{"currency": "BTC", "balance": "0", "hold": "0", "available": "0"}
			]`))
		},
	}, schema.Credentials{Key: "key", Secret: testSecret, Passphrase: "phrase"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	balances, err := adapter.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 1 {
		t.Fatalf("zero balances must be skipped: %+v", balances)
	}
	if !balances[0].Consistent() {
		t.Fatalf("balance invariant violated: %+v", balances[0])
	}
}

func TestCreateOrderDoneReasonMapping(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/orders": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"client_oid"`) {
				t.Errorf("client_oid missing: %s", body)
			}
			_, _ = w.Write([]byte(`{
				"id": "d0c5340b-6d6c-49d9-b567-48c4bfca13d2",
				"product_id": "BTC-USD", "price": "65000", "size": "0.5",
				"side": "buy", "type": "limit", "status": "pending",
				"filled_size": "0", "executed_value": "0",
				"created_at": "2026-08-20T12:00:00Z"
			}`))
		},
	}, schema.Credentials{Key: "key", Secret: testSecret, Passphrase: "phrase"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	order, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USD",
		Type:   schema.OrderTypeLimit,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("0.5"),
		Price:  decimal.RequireFromString("65000"),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Status != schema.OrderOpen || !order.Consistent() {
		t.Fatalf("order = %+v", order)
	}
	if order.ClientOrderID == "" {
		t.Fatalf("client order id must be backfilled")
	}
}

func TestStatusMappingUsesDoneReason(t *testing.T) {
	if mapStatus("done", "filled") != schema.OrderClosed {
		t.Fatalf("done+filled must map to closed")
	}
	if mapStatus("done", "canceled") != schema.OrderCanceled {
		t.Fatalf("done+canceled must map to canceled")
	}
	if mapStatus("open", "") != schema.OrderOpen {
		t.Fatalf("open must stay open")
	}
}

func TestVenueErrorMessagePreserved(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/orders": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message": "Insufficient funds"}`))
		},
	}, schema.Credentials{Key: "key", Secret: testSecret, Passphrase: "phrase"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USD",
		Type:   schema.OrderTypeMarket,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("10"),
	})
	if errs.ReasonOf(err) != errs.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}
	if !strings.Contains(err.Error(), "Insufficient funds") {
		t.Fatalf("raw message lost: %v", err)
	}
}

func TestSubscribeGroupsProductsByChannel(t *testing.T) {
	frame, err := buildSubscribe([]string{
		topicFor("ticker", "BTC-USD"),
		topicFor("ticker", "ETH-USD"),
		topicFor("matches", "BTC-USD"),
	})
	if err != nil {
		t.Fatalf("buildSubscribe: %v", err)
	}
	text := string(frame)
	if !strings.Contains(text, `"type":"subscribe"`) {
		t.Fatalf("frame = %s", text)
	}
	if !strings.Contains(text, `"name":"ticker"`) || !strings.Contains(text, `"name":"matches"`) {
		t.Fatalf("channels not grouped: %s", text)
	}
}

func TestLevel2FrameAssembly(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var books []schema.OrderBook
	adapter.registry.Add(stream.NormalizeKey(channelBook, "BTC/USD", ""), func(payload any) {
		books = append(books, payload.(schema.OrderBook))
	})
	adapter.handleFrame([]byte(`{
		"type": "snapshot", "product_id": "BTC-USD",
		"bids": [["64000", "1"]], "asks": [["64001", "2"]]
	}`))
	adapter.handleFrame([]byte(`{
		"type": "l2update", "product_id": "BTC-USD",
		"time": "2026-08-20T12:00:00Z",
		"changes": [["buy", "64000", "0"], ["sell", "64002", "1"]]
	}`))
	if len(books) != 2 {
		t.Fatalf("dispatched books = %d", len(books))
	}
	final := books[1]
	if len(final.Bids) != 0 {
		t.Fatalf("deleted bid survived: %+v", final.Bids)
	}
	if len(final.Asks) != 2 {
		t.Fatalf("asks = %+v", final.Asks)
	}
}

func TestMatchFrameInvertsMakerSide(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	var got schema.Trade
	adapter.registry.Add(stream.NormalizeKey(channelTrades, "BTC/USD", ""), func(payload any) {
		got = payload.(schema.Trade)
	})
	adapter.handleFrame([]byte(`{
		"type": "match", "product_id": "BTC-USD", "trade_id": 7,
		"price": "65000", "size": "0.1", "side": "sell",
		"time": "2026-08-20T12:00:00Z"
	}`))
	if got.Side != schema.SideBuy {
		t.Fatalf("maker sell must mean taker buy, got %s", got.Side)
	}
}
