package schema

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("BTC/USDT")
	if err != nil {
		t.Fatalf("SplitSymbol returned error: %v", err)
	}
	if base != "BTC" || quote != "USDT" {
		t.Fatalf("SplitSymbol = %s/%s", base, quote)
	}
	if JoinSymbol(base, quote) != "BTC/USDT" {
		t.Fatalf("JoinSymbol round trip failed")
	}
}

func TestSplitSymbolRejectsMalformed(t *testing.T) {
	for _, input := range []string{"", "BTCUSDT", "BTC/", "/USDT", "BTC/USD/T", "btc-usdt"} {
		if _, _, err := SplitSymbol(input); err == nil {
			t.Fatalf("SplitSymbol(%q) accepted malformed input", input)
		}
	}
}

func TestSplitSymbolNormalizesCase(t *testing.T) {
	base, quote, err := SplitSymbol(" btc/usdt ")
	if err != nil {
		t.Fatalf("SplitSymbol returned error: %v", err)
	}
	if base != "BTC" || quote != "USDT" {
		t.Fatalf("expected uppercase legs, got %s/%s", base, quote)
	}
}

func TestOrderStatusMachine(t *testing.T) {
	if !OrderOpen.CanTransition(OrderClosed) {
		t.Fatalf("open -> closed must be permitted")
	}
	if !OrderOpen.CanTransition(OrderCanceled) {
		t.Fatalf("open -> canceled must be permitted")
	}
	for _, terminal := range []OrderStatus{OrderClosed, OrderCanceled, OrderExpired, OrderRejected} {
		if !terminal.Terminal() {
			t.Fatalf("%s must be terminal", terminal)
		}
		if terminal.CanTransition(OrderOpen) {
			t.Fatalf("%s -> open must be forbidden", terminal)
		}
	}
	if OrderOpen.Terminal() {
		t.Fatalf("open must not be terminal")
	}
}

func TestOrderFillInvariant(t *testing.T) {
	order := Order{
		Amount:    decimal.RequireFromString("1.5"),
		Filled:    decimal.RequireFromString("0.5"),
		Remaining: decimal.RequireFromString("1.0"),
		Status:    OrderOpen,
	}
	if !order.Consistent() {
		t.Fatalf("expected filled + remaining == amount")
	}
	order.Remaining = decimal.RequireFromString("0.7")
	if order.Consistent() {
		t.Fatalf("inconsistent order reported consistent")
	}
}

func TestOrderNormalizeBackfillsRemaining(t *testing.T) {
	order := Order{
		Amount: decimal.RequireFromString("2"),
		Filled: decimal.RequireFromString("0.5"),
		Status: OrderCanceled,
	}
	order.Normalize()
	if !order.Remaining.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("Normalize remaining = %s", order.Remaining)
	}
	if !order.Consistent() {
		t.Fatalf("normalized order must be consistent")
	}
	// A canceled order keeps its partial fill.
	if order.Filled.IsZero() {
		t.Fatalf("canceled order lost its partial fill")
	}
}

func TestBalanceConsistent(t *testing.T) {
	bal := Balance{
		Free:  decimal.RequireFromString("10.25"),
		Used:  decimal.RequireFromString("4.75"),
		Total: decimal.RequireFromString("15"),
	}
	if !bal.Consistent() {
		t.Fatalf("expected total == free + used")
	}
	bal.Total = decimal.RequireFromString("15.5")
	if bal.Consistent() {
		t.Fatalf("inconsistent balance reported consistent")
	}
}

func TestTickerSpread(t *testing.T) {
	ticker := Ticker{
		Bid: decimal.RequireFromString("100"),
		Ask: decimal.RequireFromString("101"),
	}
	if !ticker.Spread().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("spread = %s", ticker.Spread())
	}
	if !ticker.SpreadPercent().Equal(decimal.NewFromInt(1)) {
		t.Fatalf("spread percent = %s", ticker.SpreadPercent())
	}
	empty := Ticker{}
	if !empty.Spread().IsZero() {
		t.Fatalf("empty ticker spread must be zero")
	}
}

func TestOrderRequestValidate(t *testing.T) {
	valid := OrderRequest{
		Symbol: "BTC/USDT",
		Type:   OrderTypeLimit,
		Side:   SideBuy,
		Amount: decimal.RequireFromString("0.1"),
		Price:  decimal.RequireFromString("50000"),
	}
	if err := valid.Validate("binance"); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	missingPrice := valid
	missingPrice.Price = decimal.Zero
	if err := missingPrice.Validate("binance"); err == nil {
		t.Fatalf("limit order without price accepted")
	}

	badSymbol := valid
	badSymbol.Symbol = "BTCUSDT"
	if err := badSymbol.Validate("binance"); err == nil {
		t.Fatalf("native symbol accepted by contract validation")
	}

	market := valid
	market.Type = OrderTypeMarket
	market.Price = decimal.Zero
	if err := market.Validate("binance"); err != nil {
		t.Fatalf("market order without price rejected: %v", err)
	}
}

func TestTimeframeDuration(t *testing.T) {
	if Timeframe1h.Duration().Minutes() != 60 {
		t.Fatalf("1h duration = %s", Timeframe1h.Duration())
	}
	if Timeframe("3w").Duration() != 0 {
		t.Fatalf("unknown timeframe must report zero duration")
	}
}
