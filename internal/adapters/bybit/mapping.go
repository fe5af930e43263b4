package bybit

import (
	"strings"

	"github.com/quantfold/venuelink/internal/schema"
)

// intervals maps canonical timeframes to Bybit v5 interval strings, which use
// bare minute counts plus letter codes for day and above.
var intervals = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1",
	schema.Timeframe5m:  "5",
	schema.Timeframe15m: "15",
	schema.Timeframe1h:  "60",
	schema.Timeframe4h:  "240",
	schema.Timeframe1d:  "D",
}

func mapTimeframe(tf schema.Timeframe) (string, bool) {
	native, ok := intervals[tf]
	return native, ok
}

func mapStatus(raw string) schema.OrderStatus {
	switch strings.TrimSpace(raw) {
	case "New", "PartiallyFilled", "Untriggered", "Triggered", "Created":
		return schema.OrderOpen
	case "Filled":
		return schema.OrderClosed
	case "Cancelled", "PartiallyFilledCanceled", "Deactivated":
		return schema.OrderCanceled
	case "Expired":
		return schema.OrderExpired
	case "Rejected":
		return schema.OrderRejected
	default:
		return schema.OrderOpen
	}
}

func mapSide(side schema.Side) string {
	if side == schema.SideSell {
		return "Sell"
	}
	return "Buy"
}

func parseSide(raw string) schema.Side {
	if strings.EqualFold(strings.TrimSpace(raw), "Sell") {
		return schema.SideSell
	}
	return schema.SideBuy
}

func mapOrderType(ot schema.OrderType) (string, bool) {
	switch ot {
	case schema.OrderTypeLimit, schema.OrderTypeStop:
		// Stops submit as conditional limit orders with a trigger price.
		return "Limit", true
	case schema.OrderTypeMarket:
		return "Market", true
	default:
		return "", false
	}
}

func parseOrderType(orderType, stopOrderType string) schema.OrderType {
	if strings.TrimSpace(stopOrderType) != "" && stopOrderType != "UNKNOWN" {
		return schema.OrderTypeStop
	}
	if strings.EqualFold(strings.TrimSpace(orderType), "Market") {
		return schema.OrderTypeMarket
	}
	return schema.OrderTypeLimit
}
