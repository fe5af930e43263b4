package binance

import (
	"strings"

	"github.com/quantfold/venuelink/internal/schema"
)

// timeframes maps canonical intervals to Binance kline interval strings. The
// canonical set happens to match Binance's vocabulary exactly.
var timeframes = map[schema.Timeframe]string{
	schema.Timeframe1m:  "1m",
	schema.Timeframe5m:  "5m",
	schema.Timeframe15m: "15m",
	schema.Timeframe1h:  "1h",
	schema.Timeframe4h:  "4h",
	schema.Timeframe1d:  "1d",
}

func mapTimeframe(tf schema.Timeframe) (string, bool) {
	native, ok := timeframes[tf]
	return native, ok
}

func mapStatus(raw string) schema.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "NEW", "PARTIALLY_FILLED":
		return schema.OrderOpen
	case "FILLED":
		return schema.OrderClosed
	case "CANCELED", "PENDING_CANCEL":
		return schema.OrderCanceled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return schema.OrderExpired
	case "REJECTED":
		return schema.OrderRejected
	default:
		return schema.OrderOpen
	}
}

func mapSide(side schema.Side) string {
	if side == schema.SideSell {
		return "SELL"
	}
	return "BUY"
}

func parseSide(raw string) schema.Side {
	if strings.EqualFold(strings.TrimSpace(raw), "SELL") {
		return schema.SideSell
	}
	return schema.SideBuy
}

func mapOrderType(ot schema.OrderType) (string, bool) {
	switch ot {
	case schema.OrderTypeLimit:
		return "LIMIT", true
	case schema.OrderTypeMarket:
		return "MARKET", true
	case schema.OrderTypeStop:
		return "STOP_LOSS_LIMIT", true
	default:
		return "", false
	}
}

func parseOrderType(raw string) schema.OrderType {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "MARKET":
		return schema.OrderTypeMarket
	case "STOP_LOSS", "STOP_LOSS_LIMIT", "TAKE_PROFIT", "TAKE_PROFIT_LIMIT":
		return schema.OrderTypeStop
	default:
		return schema.OrderTypeLimit
	}
}
