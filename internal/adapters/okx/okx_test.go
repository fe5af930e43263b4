package okx

import (
	"context"
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

const instrumentsBody = `{
  "code": "0", "msg": "",
  "data": [
    {
      "instId": "BTC-USDT", "baseCcy": "BTC", "quoteCcy": "USDT",
      "tickSz": "0.1", "lotSz": "0.00000001", "minSz": "0.00001", "state": "live"
    },
    {
      "instId": "ETH-USDT", "baseCcy": "ETH", "quoteCcy": "USDT",
      "tickSz": "0.01", "lotSz": "0.000001", "minSz": "0.001", "state": "suspend"
    }
  ]
}`

func newTestAdapter(t *testing.T, extra map[string]http.HandlerFunc, creds schema.Credentials) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v5/public/instruments", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(instrumentsBody))
	})
	for path, fn := range extra {
		mux.HandleFunc(path, fn)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return New(Options{Credentials: creds, RESTBaseURL: server.URL})
}

func TestConnectMapsInstruments(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	market, ok := adapter.markets.Get("BTC/USDT")
	if !ok || market.NativeID != "BTC-USDT" {
		t.Fatalf("market = %+v ok=%v", market, ok)
	}
	suspended, _ := adapter.markets.Get("ETH/USDT")
	if suspended.Active {
		t.Fatalf("suspended instrument must be inactive")
	}
}

func TestFetchTickerDerivesChangeFromOpen(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/api/v5/market/ticker": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("instId") != "BTC-USDT" {
				t.Errorf("instId = %q", r.URL.Query().Get("instId"))
			}
			_, _ = w.Write([]byte(`{
				"code": "0",
				"data": [{
					"last": "103", "bidPx": "102.9", "askPx": "103.1",
					"vol24h": "500", "high24h": "105", "low24h": "99",
					"open24h": "100", "ts": "1700000000000"
				}]
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
	if !ticker.Change24h.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("change = %s, want 3 percent", ticker.Change24h)
	}
}

func TestSignedRequestCarriesISOTimestampSignature(t *testing.T) {
	const secret = "okx-secret"
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/api/v5/account/balance": func(w http.ResponseWriter, r *http.Request) {
			timestamp := r.Header.Get("OK-ACCESS-TIMESTAMP")
			if !strings.HasSuffix(timestamp, "Z") {
				t.Errorf("timestamp not ISO8601: %q", timestamp)
			}
			want := sign.TimestampSign(secret, timestamp, http.MethodGet, "/api/v5/account/balance", "")
			if r.Header.Get("OK-ACCESS-SIGN") != want {
				t.Errorf("signature mismatch")
			}
			if r.Header.Get("OK-ACCESS-PASSPHRASE") != "phrase" {
				t.Errorf("passphrase header missing")
			}
			_, _ = w.Write([]byte(`{
				"code": "0",
				"data": [{"details": [
					{"ccy": "USDT", "cashBal": "1000", "availBal": "900", "frozenBal": "100"}
				]}]
			}`))
		},
	}, schema.Credentials{Key: "key", Secret: secret, Passphrase: "phrase"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	balances, err := adapter.FetchBalances(context.Background())
	if err != nil {
		t.Fatalf("FetchBalances: %v", err)
	}
	if len(balances) != 1 || !balances[0].Consistent() {
		t.Fatalf("balances = %+v", balances)
	}
}

func TestSignedRequestRequiresPassphrase(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{Key: "key", Secret: "secret"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.FetchBalances(context.Background())
	if errs.KindOf(err) != errs.KindAuth {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestCreateOrderChecksPerItemCode(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/api/v5/trade/order": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			if !strings.Contains(string(body), `"tdMode":"cash"`) {
				t.Errorf("body = %s", body)
			}
			_, _ = w.Write([]byte(`{
				"code": "0",
				"data": [{"ordId": "", "clOrdId": "", "sCode": "51008", "sMsg": "Order failed. Insufficient USDT balance in account"}]
			}`))
		},
	}, schema.Credentials{Key: "k", Secret: "s", Passphrase: "p"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USDT",
		Type:   schema.OrderTypeMarket,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("10"),
	})
	if errs.ReasonOf(err) != errs.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}
}

func TestStopOrdersNotSupported(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{Key: "k", Secret: "s", Passphrase: "p"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol:    "BTC/USDT",
		Type:      schema.OrderTypeStop,
		Side:      schema.SideSell,
		Amount:    decimal.RequireFromString("1"),
		StopPrice: decimal.RequireFromString("60000"),
	})
	if errs.ReasonOf(err) != errs.ReasonNotSupported {
		t.Fatalf("expected not_supported, got %v", err)
	}
}

func TestFetchOHLCVReversesRows(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/api/v5/market/candles": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("bar") != "1H" {
				t.Errorf("bar = %q", r.URL.Query().Get("bar"))
			}
			_, _ = w.Write([]byte(`{
				"code": "0",
				"data": [
					["1700003600000", "105", "115", "100", "112", "13"],
					["1700000000000", "100", "110", "90", "105", "42"]
				]
			}`))
		},
	}, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	candles, err := adapter.FetchOHLCV(context.Background(), "BTC/USDT", schema.Timeframe1h, time.Time{}, 0)
	if err != nil {
		t.Fatalf("FetchOHLCV: %v", err)
	}
	if len(candles) != 2 || !candles[0].OpenTime.Before(candles[1].OpenTime) {
		t.Fatalf("candles not ascending")
	}
}

func TestSubscribeFrameEncodesArgObjects(t *testing.T) {
	frame, err := buildSubscribe([]string{topicFor("tickers", "BTC-USDT"), topicFor("books5", "ETH-USDT")})
	if err != nil {
		t.Fatalf("buildSubscribe: %v", err)
	}
	text := string(frame)
	if !strings.Contains(text, `"channel":"tickers"`) || !strings.Contains(text, `"instId":"BTC-USDT"`) {
		t.Fatalf("frame = %s", text)
	}
	if !strings.Contains(text, `"op":"subscribe"`) {
		t.Fatalf("frame missing op: %s", text)
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
		"arg": {"channel": "tickers", "instId": "BTC-USDT"},
		"data": [{"last": "65000", "bidPx": "64999", "askPx": "65001", "ts": "1700000000000"}]
	}`))
	if got.Symbol != "BTC/USDT" || !got.Last.Equal(decimal.RequireFromString("65000")) {
		t.Fatalf("ticker = %+v", got)
	}
	// Acks and pongs must not panic the demux.
	adapter.handleFrame([]byte(`{"event": "subscribe", "arg": {"channel": "tickers", "instId": "BTC-USDT"}}`))
	adapter.handleFrame([]byte(`pong`))
}

func TestStatusMapping(t *testing.T) {
	cases := map[string]schema.OrderStatus{
		"live":             schema.OrderOpen,
		"partially_filled": schema.OrderOpen,
		"filled":           schema.OrderClosed,
		"canceled":         schema.OrderCanceled,
		"mmp_canceled":     schema.OrderCanceled,
	}
	for raw, want := range cases {
		if got := mapStatus(raw); got != want {
			t.Fatalf("mapStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}

func TestCancelTerminalOrderRejected(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/api/v5/trade/cancel-order": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{
				"code": "0",
				"data": [{"ordId": "123", "sCode": "51410", "sMsg": "Cancellation failed as the order is already canceled"}]
			}`))
		},
	}, schema.Credentials{Key: "k", Secret: "s", Passphrase: "p"})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := adapter.CancelOrder(context.Background(), "123", "BTC/USDT")
	if errs.ReasonOf(err) != errs.ReasonTerminalOrder {
		t.Fatalf("expected terminal_order, got %v", err)
	}
	if !strings.Contains(err.Error(), "already canceled") {
		t.Fatalf("raw message lost: %v", err)
	}
}
