package okx

import (
	"strings"

	"github.com/quantfold/venuelink/internal/schema"
)

// bars maps canonical timeframes to OKX bar strings, which switch to uppercase
// letters at the hour boundary.
var bars = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1H",
	schema.Timeframe4h:  "4H",
	schema.Timeframe1d:  "1D",
}

func mapTimeframe(tf schema.Timeframe) (string, bool) {
	native, ok := bars[tf]
	return native, ok
}

func mapStatus(raw string) schema.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "live", "partially_filled":
		return schema.OrderOpen
	case "filled":
		return schema.OrderClosed
	case "canceled", "mmp_canceled":
		return schema.OrderCanceled
	default:
		return schema.OrderOpen
	}
}

func parseSide(raw string) schema.Side {
	if strings.EqualFold(strings.TrimSpace(raw), "sell") {
		return schema.SideSell
	}
	return schema.SideBuy
}

func parseOrderType(raw string) schema.OrderType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "market":
		return schema.OrderTypeMarket
	default:
		return schema.OrderTypeLimit
	}
}
