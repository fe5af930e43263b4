package kraken

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/errs"
	"github.com/quantfold/venuelink/internal/exchange"
	"github.com/quantfold/venuelink/internal/schema"
	"github.com/quantfold/venuelink/internal/sign"
)

var _ exchange.Exchange = (*Adapter)(nil)

// testSecret is a valid base64 key for signature verification in tests.
const testSecret = "a2V5LW1hdGVyaWFsLWZvci1rcmFrZW4tdGVzdHM="

const assetPairsBody = `{
  "error": [],
  "result": {
    "XXBTZUSD": {
      "altname": "XBTUSD", "wsname": "XBT/USD",
      "status": "online", "pair_decimals": 1, "lot_decimals": 8,
      "ordermin": "0.0001"
    },
    "XETHZEUR": {
      "altname": "ETHEUR", "wsname": "ETH/EUR",
      "status": "online", "pair_decimals": 2, "lot_decimals": 8,
      "ordermin": "0.01"
    }
  }
}`

func newTestAdapter(t *testing.T, extra map[string]http.HandlerFunc, creds schema.Credentials) *Adapter {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/0/public/AssetPairs", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(assetPairsBody))
	})
	for path, fn := range extra {
		mux.HandleFunc(path, fn)
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return New(Options{Credentials: creds, RESTBaseURL: server.URL})
}

func TestAssetNormalization(t *testing.T) {
	cases := map[string]string{
		"XXBT": "BTC",
		"XBT":  "BTC",
		"ZUSD": "USD",
		"XETH": "ETH",
		"XDG":  "DOGE",
		"SOL":  "SOL",
	}
	for raw, want := range cases {
		if got := normalizeAsset(raw); got != want {
			t.Fatalf("normalizeAsset(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestConnectMapsPairsToCanonicalSymbols(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	market, ok := adapter.markets.Get("BTC/USD")
	if !ok {
		t.Fatalf("XBT/USD pair did not map to BTC/USD")
	}
	if market.NativeID != "XBTUSD" {
		t.Fatalf("native id = %q", market.NativeID)
	}
	if symbol, _ := adapter.markets.Canonical("XBTUSD"); symbol != "BTC/USD" {
		t.Fatalf("round-trip = %q", symbol)
	}
}

func TestFetchTickerUnwrapsPairKeyedResult(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/0/public/Ticker": func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Query().Get("pair") != "XBTUSD" {
				t.Errorf("pair = %q", r.URL.Query().Get("pair"))
			}
			_, _ = w.Write([]byte(`{
				"error": [],
				"result": {
					"XXBTZUSD": {
						"a": ["65001.0", "1", "1.000"],
						"b": ["65000.0", "2", "2.000"],
						"c": ["65000.5", "0.01"],
						"v": ["120.0", "480.5"],
						"h": ["65500.0", "66000.0"],
						"l": ["64000.0", "63500.0"],
						"o": "64500.0"
					}
				}
			}`))
		},
	}, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	ticker, err := adapter.FetchTicker(context.Background(), "BTC/USD")
	if err != nil {
		t.Fatalf("FetchTicker: %v", err)
	}
	if !ticker.Last.Equal(decimal.RequireFromString("65000.5")) {
		t.Fatalf("last = %s", ticker.Last)
	}
	if !ticker.Volume24h.Equal(decimal.RequireFromString("480.5")) {
		t.Fatalf("volume = %s", ticker.Volume24h)
	}
	if ticker.Change24h.IsZero() {
		t.Fatalf("change must derive from the open price")
	}
}

func TestEnvelopeErrorClassification(t *testing.T) {
	cases := []struct {
		raw    string
		kind   errs.Kind
		reason errs.Reason
	}{
		{"EAPI:Invalid key", errs.KindAuth, errs.ReasonUnknown},
		{"EAPI:Rate limit exceeded", errs.KindRateLimited, errs.ReasonUnknown},
		{"EOrder:Insufficient funds", errs.KindVenue, errs.ReasonInsufficientBalance},
		{"EOrder:Unknown order", errs.KindVenue, errs.ReasonOrderNotFound},
		{"EQuery:Unknown asset pair", errs.KindVenue, errs.ReasonUnknownSymbol},
		{"EService:Unavailable", errs.KindConnectivity, errs.ReasonUnknown},
	}
	for _, tc := range cases {
		err := classifyError(tc.raw)
		if err.Kind != tc.kind || err.Reason != tc.reason {
			t.Fatalf("classifyError(%q) = %s/%s, want %s/%s", tc.raw, err.Kind, err.Reason, tc.kind, tc.reason)
		}
		if err.RawMsg != tc.raw {
			t.Fatalf("raw message lost for %q", tc.raw)
		}
	}
}

func TestPrivateCallSignsWithFreshNonce(t *testing.T) {
	var nonces []string
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/0/private/BalanceEx": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			params, err := url.ParseQuery(string(body))
			if err != nil {
				t.Errorf("parse body: %v", err)
			}
			nonce := params.Get("nonce")
			nonces = append(nonces, nonce)
			want, err := sign.KrakenSign(testSecret, "/0/private/BalanceEx", nonce, params)
			if err != nil {
				t.Errorf("recompute signature: %v", err)
			}
			if r.Header.Get("API-Sign") != want {
				t.Errorf("signature mismatch")
			}
			if r.Header.Get("API-Key") != "api-key" {
				t.Errorf("api key header = %q", r.Header.Get("API-Key"))
			}
			_, _ = w.Write([]byte(`{
				"error": [],
				"result": {
					"XXBT": {"balance": "1.5", "hold_trade": "0.5"},
					"ZUSD": {"balance": "1000", "hold_trade": "0"}
				}
			}`))
		},
	}, schema.Credentials{Key: "api-key", Secret: testSecret})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for range 2 {
		balances, err := adapter.FetchBalances(context.Background())
		if err != nil {
			t.Fatalf("FetchBalances: %v", err)
		}
		for _, balance := range balances {
			if !balance.Consistent() {
				t.Fatalf("balance invariant violated: %+v", balance)
			}
			if balance.Currency == "XXBT" || balance.Currency == "ZUSD" {
				t.Fatalf("currency not normalized: %q", balance.Currency)
			}
		}
	}
	if len(nonces) != 2 || nonces[1] <= nonces[0] {
		t.Fatalf("nonces must be strictly increasing: %v", nonces)
	}
}

func TestCreateOrderReturnsOpenOrderFromTxid(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/0/private/AddOrder": func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			params, _ := url.ParseQuery(string(body))
			if params.Get("pair") != "XBTUSD" || params.Get("ordertype") != "limit" {
				t.Errorf("order params = %v", params)
			}
			if params.Get("cl_ord_id") == "" {
				t.Errorf("client order id not generated")
			}
			_, _ = w.Write([]byte(`{"error": [], "result": {"txid": ["OU22CG-KLAF2-FWUDD7"]}}`))
		},
	}, schema.Credentials{Key: "api-key", Secret: testSecret})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	order, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USD",
		Type:   schema.OrderTypeLimit,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("0.1"),
		Price:  decimal.RequireFromString("65000"),
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.ID != "OU22CG-KLAF2-FWUDD7" || order.Status != schema.OrderOpen {
		t.Fatalf("order = %+v", order)
	}
	if !order.Consistent() {
		t.Fatalf("fill invariant violated: %+v", order)
	}
}

func TestInsufficientFundsSurfacesThroughEnvelope(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/0/private/AddOrder": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error": ["EOrder:Insufficient funds"]}`))
		},
	}, schema.Credentials{Key: "api-key", Secret: testSecret})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	_, err := adapter.CreateOrder(context.Background(), schema.OrderRequest{
		Symbol: "BTC/USD",
		Type:   schema.OrderTypeMarket,
		Side:   schema.SideBuy,
		Amount: decimal.RequireFromString("100"),
	})
	if errs.ReasonOf(err) != errs.ReasonInsufficientBalance {
		t.Fatalf("expected insufficient_balance, got %v", err)
	}
}

func TestWatchMethodsFailFast(t *testing.T) {
	adapter := newTestAdapter(t, nil, schema.Credentials{})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := adapter.WatchTicker(context.Background(), "BTC/USD", func(schema.Ticker) {}); errs.ReasonOf(err) != errs.ReasonNotSupported {
		t.Fatalf("expected not_supported, got %v", err)
	}
	if adapter.Capabilities().Streaming {
		t.Fatalf("kraken must not advertise streaming")
	}
}

func TestTimeframeMapping(t *testing.T) {
	if native, ok := mapTimeframe(schema.Timeframe1h); !ok || native != "60" {
		t.Fatalf("1h mapped to %q", native)
	}
	if _, ok := mapTimeframe(schema.Timeframe("3w")); ok {
		t.Fatalf("unknown timeframe must not map")
	}
}

func TestCancelUnknownOrderRejected(t *testing.T) {
	adapter := newTestAdapter(t, map[string]http.HandlerFunc{
		"/0/private/CancelOrder": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"error": ["EOrder:Unknown order"]}`))
		},
	}, schema.Credentials{Key: "key", Secret: testSecret})
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	err := adapter.CancelOrder(context.Background(), "OABC12-XYZ", "BTC/USD")
	if err == nil {
		t.Fatalf("cancel of a dead order must not report success")
	}
	if errs.ReasonOf(err) != errs.ReasonOrderNotFound {
		t.Fatalf("expected order_not_found, got %v", err)
	}
}
