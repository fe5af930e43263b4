// Package errs provides the structured error envelope shared across venuelink.
package errs

import (
	"errors"
	"sort"
	"strconv"
	"strings"
)

// Kind classifies a failure by how callers should react to it.
type Kind string

const (
	// KindConnectivity covers socket, DNS, and timeout failures; retrying the
	// connection is reasonable.
	KindConnectivity Kind = "connectivity"
	// KindAuth covers signing and credential rejections; not retry-recoverable.
	KindAuth Kind = "auth"
	// KindVenue covers business rejections issued by the venue itself.
	KindVenue Kind = "venue"
	// KindContract covers caller mistakes against the adapter contract.
	KindContract Kind = "contract"
	// KindRateLimited indicates the venue throttled the request.
	KindRateLimited Kind = "rate_limited"
)

// Reason refines a Kind with a venue-agnostic failure category.
type Reason string

const (
	// ReasonUnknown captures uncategorized failures.
	ReasonUnknown Reason = "unknown"
	// ReasonNotConnected marks calls made against a disconnected adapter.
	ReasonNotConnected Reason = "not_connected"
	// ReasonNotSupported marks calls against a capability the venue lacks.
	ReasonNotSupported Reason = "not_supported"
	// ReasonUnknownSymbol marks symbol-keyed calls for unpopulated markets.
	ReasonUnknownSymbol Reason = "unknown_symbol"
	// ReasonOrderNotFound indicates the referenced order does not exist.
	ReasonOrderNotFound Reason = "order_not_found"
	// ReasonInsufficientBalance indicates the venue rejected for lack of funds.
	ReasonInsufficientBalance Reason = "insufficient_balance"
	// ReasonTerminalOrder marks mutations attempted on a terminal order.
	ReasonTerminalOrder Reason = "terminal_order"
)

// E is the error envelope every failure crossing the adapter boundary carries:
// kind + venue + the venue's original message, never swallowed.
type E struct {
	Venue   string
	Kind    Kind
	Reason  Reason
	HTTP    int
	RawCode string
	RawMsg  string
	Message string
	Fields  map[string]string

	cause error
}

// Option configures an error envelope.
type Option func(*E)

// New constructs an error envelope for the venue and failure kind.
func New(venue string, kind Kind, opts ...Option) *E {
	e := &E{
		Venue:  strings.TrimSpace(venue),
		Kind:   kind,
		Reason: ReasonUnknown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// WithMessage attaches a human-readable message.
func WithMessage(message string) Option {
	trimmed := strings.TrimSpace(message)
	return func(e *E) {
		e.Message = trimmed
	}
}

// WithReason sets the venue-agnostic failure category.
func WithReason(reason Reason) Option {
	return func(e *E) {
		if strings.TrimSpace(string(reason)) == "" {
			e.Reason = ReasonUnknown
			return
		}
		e.Reason = reason
	}
}

// WithHTTP records the associated HTTP status code.
func WithHTTP(status int) Option {
	return func(e *E) {
		e.HTTP = status
	}
}

// WithRawCode captures the raw venue error code.
func WithRawCode(code string) Option {
	trimmed := strings.TrimSpace(code)
	return func(e *E) {
		e.RawCode = trimmed
	}
}

// WithRawMessage captures the raw venue error message verbatim.
func WithRawMessage(msg string) Option {
	return func(e *E) {
		e.RawMsg = msg
	}
}

// WithCause sets the underlying cause error.
func WithCause(err error) Option {
	return func(e *E) {
		e.cause = err
	}
}

// WithField appends a single venue metadata key/value pair.
func WithField(key, value string) Option {
	return func(e *E) {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			return
		}
		if e.Fields == nil {
			e.Fields = make(map[string]string, 1)
		}
		e.Fields[trimmedKey] = strings.TrimSpace(value)
	}
}

func (e *E) Error() string {
	if e == nil {
		return "<nil>"
	}
	var parts []string

	venue := strings.TrimSpace(e.Venue)
	if venue == "" {
		venue = "unknown"
	}
	parts = append(parts, "venue="+venue)

	kind := strings.TrimSpace(string(e.Kind))
	if kind == "" {
		kind = "unknown"
	}
	parts = append(parts, "kind="+kind)

	if reason := strings.TrimSpace(string(e.Reason)); reason != "" && reason != string(ReasonUnknown) {
		parts = append(parts, "reason="+reason)
	}
	if e.HTTP > 0 {
		parts = append(parts, "http="+strconv.Itoa(e.HTTP))
	}
	if e.Message != "" {
		parts = append(parts, "message="+strconv.Quote(e.Message))
	}
	if e.RawCode != "" {
		parts = append(parts, "raw_code="+strconv.Quote(e.RawCode))
	}
	if e.RawMsg != "" {
		parts = append(parts, "raw_msg="+strconv.Quote(e.RawMsg))
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, k+"="+strconv.Quote(e.Fields[k]))
		}
		parts = append(parts, "fields="+strings.Join(pairs, ","))
	}
	if e.cause != nil {
		parts = append(parts, "cause="+strconv.Quote(e.cause.Error()))
	}

	return strings.Join(parts, " ")
}

func (e *E) Unwrap() error { return e.cause }

// KindOf reports the Kind carried by err, or empty when err is not an envelope.
func KindOf(err error) Kind {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Kind
	}
	return ""
}

// ReasonOf reports the Reason carried by err, or empty when err is not an envelope.
func ReasonOf(err error) Reason {
	var envelope *E
	if errors.As(err, &envelope) {
		return envelope.Reason
	}
	return ""
}

// NotConnected returns the standardized failure for calls on a disconnected adapter.
func NotConnected(venue string) *E {
	return New(venue, KindContract,
		WithReason(ReasonNotConnected),
		WithMessage("adapter not connected"))
}

// NotSupported returns the standardized failure for unsupported capabilities.
func NotSupported(venue, capability string) *E {
	return New(venue, KindContract,
		WithReason(ReasonNotSupported),
		WithMessage(capability+" not supported"))
}

// UnknownSymbol returns the standardized failure for unresolvable symbols.
func UnknownSymbol(venue, symbol string) *E {
	return New(venue, KindContract,
		WithReason(ReasonUnknownSymbol),
		WithMessage("unknown symbol "+strings.TrimSpace(symbol)))
}
