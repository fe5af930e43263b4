package kraken

import (
	"strings"

	"github.com/quantfold/venuelink/internal/schema"
)

// intervals maps canonical timeframes to Kraken's minute counts.
var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1",
	schema.Timeframe5m:  "5",
	schema.Timeframe15m: "15",
	schema.Timeframe1h:  "60",
	schema.Timeframe4h:  "240",
	schema.Timeframe1d:  "1440",
}

func mapTimeframe(tf schema.Timeframe) (string, bool) {
	native, ok := intervals[tf]
	return native, ok
}

// normalizeAsset strips Kraken's legacy X/Z asset-class prefixes and resolves
// its nonstandard tickers, e.g. XXBT -> BTC and ZUSD -> USD.
func normalizeAsset(code string) string {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) > 3 && (c[0] == 'X' || c[0] == 'Z') {
		c = c[1:]
	}
	switch c {
	case "XBT":
		return "BTC"
	case "XDG":
		return "DOGE"
	}
	return c
}

func mapStatus(raw string) schema.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "open":
		return schema.OrderOpen
	case "closed":
		return schema.OrderClosed
	case "canceled":
		return schema.OrderCanceled
	case "expired":
		return schema.OrderExpired
	default:
		return schema.OrderOpen
	}
}

func mapOrderType(ot schema.OrderType) (string, bool) {
	switch ot {
	case schema.OrderTypeLimit:
		return "limit", true
	case schema.OrderTypeMarket:
		return "market", true
	case schema.OrderTypeStop:
		return "stop-loss", true
	default:
		return "", false
	}
}

func parseOrderType(raw string) schema.OrderType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "market":
		return schema.OrderTypeMarket
	case "stop-loss", "stop-loss-limit", "take-profit", "take-profit-limit":
		return schema.OrderTypeStop
	default:
		return schema.OrderTypeLimit
	}
}

func parseSide(raw string) schema.Side {
	if strings.EqualFold(strings.TrimSpace(raw), "sell") {
		return schema.SideSell
	}
	return schema.SideBuy
}
