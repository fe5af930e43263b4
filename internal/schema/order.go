package schema

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/venuelink/errs"
)

// OrderType identifies the execution style requested for an order.
type OrderType string

const (
	// OrderTypeLimit rests at the requested price.
	OrderTypeLimit OrderType = "limit"
	// OrderTypeMarket executes immediately at the prevailing price.
	OrderTypeMarket OrderType = "market"
	// OrderTypeStop triggers at the stop price.
	OrderTypeStop OrderType = "stop"
)

// Valid reports whether the order type is recognised.
func (ot OrderType) Valid() bool {
	switch ot {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeStop:
		return true
	default:
		return false
	}
}

// OrderStatus is the canonical order state machine:
// open -> {closed, canceled, expired, rejected}. Terminal states never
// transition further. A canceled order may retain partial fill.
type OrderStatus string

const (
	// OrderOpen marks a live order, including partially filled ones.
	OrderOpen OrderStatus = "open"
	// OrderClosed marks a fully filled order.
	OrderClosed OrderStatus = "closed"
	// OrderCanceled marks an order canceled by the caller or the venue.
	OrderCanceled OrderStatus = "canceled"
	// OrderExpired marks an order expired by the venue.
	OrderExpired OrderStatus = "expired"
	// OrderRejected marks an order refused at submission.
	OrderRejected OrderStatus = "rejected"
)

// Terminal reports whether no further transition is possible.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderClosed, OrderCanceled, OrderExpired, OrderRejected:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the status machine permits moving to next.
// Self-transitions on open (fill progress) are allowed.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	switch next {
	case OrderOpen, OrderClosed, OrderCanceled, OrderExpired, OrderRejected:
		return true
	default:
		return false
	}
}

// OrderRequest is the caller's order submission.
type OrderRequest struct {
	Symbol        string
	Type          OrderType
	Side          Side
	Amount        decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	ClientOrderID string
	ReduceOnly    bool
	PostOnly      bool
	Params        map[string]string
}

// Validate checks the request against the contract before it reaches a venue.
func (r OrderRequest) Validate(venue string) error {
	if !ValidSymbol(r.Symbol) {
		return errs.New(venue, errs.KindContract, errs.WithMessage("order symbol must follow BASE/QUOTE"))
	}
	if !r.Type.Valid() {
		return errs.New(venue, errs.KindContract, errs.WithMessage("unsupported order type "+string(r.Type)))
	}
	if !r.Side.Valid() {
		return errs.New(venue, errs.KindContract, errs.WithMessage("unsupported order side "+string(r.Side)))
	}
	if r.Amount.Sign() <= 0 {
		return errs.New(venue, errs.KindContract, errs.WithMessage("order amount must be positive"))
	}
	if r.Type == OrderTypeLimit && r.Price.Sign() <= 0 {
		return errs.New(venue, errs.KindContract, errs.WithMessage("limit order requires a positive price"))
	}
	if r.Type == OrderTypeStop && r.StopPrice.Sign() <= 0 {
		return errs.New(venue, errs.KindContract, errs.WithMessage("stop order requires a positive stop price"))
	}
	return nil
}

// Order is the canonical view of a venue order.
// Invariant: Filled + Remaining == Amount at every observed state.
type Order struct {
	ID            string
	ClientOrderID string
	Symbol        string
	Venue         string
	Type          OrderType
	Side          Side
	Amount        decimal.Decimal
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Status        OrderStatus
	Filled        decimal.Decimal
	Remaining     decimal.Decimal
	AveragePrice  decimal.Decimal
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Consistent reports whether filled + remaining == amount within tolerance.
func (o Order) Consistent() bool {
	return o.Filled.Add(o.Remaining).Sub(o.Amount).Abs().LessThan(decimal.New(1, -9))
}

// Normalize backfills Remaining from Amount and Filled when the venue omits it
// and clamps negatives introduced by venue rounding.
func (o *Order) Normalize() {
	if o == nil {
		return
	}
	if o.Filled.Sign() < 0 {
		o.Filled = decimal.Zero
	}
	if o.Remaining.IsZero() && o.Amount.Sign() > 0 {
		o.Remaining = o.Amount.Sub(o.Filled)
	}
	if o.Remaining.Sign() < 0 {
		o.Remaining = decimal.Zero
	}
}
