package oanda

import (
	"strings"

	"github.com/quantfold/venuelink/internal/schema"
)

// granularities maps canonical timeframes to OANDA candle granularity codes.
var granularities = map[schema.Timeframe]string{
	schema.Timeframe1m:  "M1",
	schema.Timeframe5m:  "M5",
	schema.Timeframe15m: "M15",
	schema.Timeframe1h:  "H1",
	schema.Timeframe4h:  "H4",
	schema.Timeframe1d:  "D",
}

func mapTimeframe(tf schema.Timeframe) (string, bool) {
	granularity, ok := granularities[tf]
	return granularity, ok
}

// splitInstrument decomposes an underscore instrument name such as EUR_USD.
func splitInstrument(name string) (base, quote string, ok bool) {
	base, quote, ok = strings.Cut(strings.TrimSpace(name), "_")
	if !ok || base == "" || quote == "" {
		return "", "", false
	}
	return strings.ToUpper(base), strings.ToUpper(quote), true
}

func mapStatus(state string) schema.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "PENDING", "TRIGGERED":
		return schema.OrderOpen
	case "FILLED":
		return schema.OrderClosed
	case "CANCELLED":
		return schema.OrderCanceled
	default:
		return schema.OrderOpen
	}
}

func mapOrderType(orderType schema.OrderType) string {
	switch orderType {
	case schema.OrderTypeMarket:
		return "MARKET"
	case schema.OrderTypeStop:
		return "STOP"
	default:
		return "LIMIT"
	}
}

func parseOrderType(raw string) schema.OrderType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MARKET":
		return schema.OrderTypeMarket
	case "STOP", "MARKET_IF_TOUCHED", "STOP_LOSS":
		return schema.OrderTypeStop
	default:
		return schema.OrderTypeLimit
	}
}
