package coinbase

import (
	"strconv"
	"strings"

	"github.com/quantfold/venuelink/internal/schema"
)

// granularities maps canonical timeframes to Coinbase candle granularity
// seconds. The venue offers no four-hour bucket, so 4h does not map.
var granularities = map[schema.Timeframe]int{
	schema.Timeframe1m:  60,
	schema.Timeframe5m:  300,
	schema.Timeframe15m: 900,
	schema.Timeframe1h:  3600,
	schema.Timeframe1d:  86400,
}

func mapTimeframe(tf schema.Timeframe) (string, bool) {
	seconds, ok := granularities[tf]
	if !ok {
		return "", false
	}
	return strconv.Itoa(seconds), true
}

// mapStatus folds status plus done_reason into the canonical machine: "done"
// alone does not distinguish a fill from a cancel.
func mapStatus(status, doneReason string) schema.OrderStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending", "open", "active", "received":
		return schema.OrderOpen
	case "done":
		if strings.EqualFold(strings.TrimSpace(doneReason), "canceled") {
			return schema.OrderCanceled
		}
		return schema.OrderClosed
	case "rejected":
		return schema.OrderRejected
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

func parseOrderType(orderType, stop string) schema.OrderType {
	if strings.TrimSpace(stop) != "" {
		return schema.OrderTypeStop
	}
	if strings.EqualFold(strings.TrimSpace(orderType), "market") {
		return schema.OrderTypeMarket
	}
	return schema.OrderTypeLimit
}
