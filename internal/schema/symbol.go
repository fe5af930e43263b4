// Package schema defines the canonical, venue-agnostic data model. Every adapter
// returns these shapes; nothing venue-specific leaks past the adapter boundary.
package schema

import (
	"strings"

	"github.com/quantfold/venuelink/errs"
)

// Symbol is a canonical instrument name in BASE/QUOTE form, e.g. "BTC/USDT".
type Symbol = string

// SplitSymbol extracts the base and quote currency codes from a canonical symbol.
func SplitSymbol(symbol string) (base, quote string, err error) {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return "", "", symbolError("symbol required")
	}
	parts := strings.Split(trimmed, "/")
	if len(parts) != 2 {
		return "", "", symbolError("symbol must follow BASE/QUOTE")
	}
	base = strings.ToUpper(strings.TrimSpace(parts[0]))
	quote = strings.ToUpper(strings.TrimSpace(parts[1]))
	if base == "" || quote == "" {
		return "", "", symbolError("symbol contains empty leg")
	}
	if !isUpperAlnum(base) || !isUpperAlnum(quote) {
		return "", "", symbolError("symbol legs must be uppercase alphanumeric")
	}
	return base, quote, nil
}

// JoinSymbol builds a canonical symbol from base and quote currency codes.
func JoinSymbol(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// ValidSymbol reports whether the symbol parses as canonical BASE/QUOTE.
func ValidSymbol(symbol string) bool {
	_, _, err := SplitSymbol(symbol)
	return err == nil
}

// NormalizeCurrency uppercases and validates a currency identifier, returning
// empty on malformed input.
func NormalizeCurrency(code string) string {
	trimmed := strings.ToUpper(strings.TrimSpace(code))
	if trimmed == "" {
		return ""
	}
	if len(trimmed) < 2 || len(trimmed) > 10 || !isUpperAlnum(trimmed) {
		return ""
	}
	return trimmed
}

func isUpperAlnum(value string) bool {
	for _, r := range value {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}

func symbolError(msg string) error {
	return errs.New("schema", errs.KindContract, errs.WithMessage(msg))
}
