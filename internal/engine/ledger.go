package engine

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientFunds means a buy would overdraw cash. The policy
	// sizes orders so this should not happen; it is a defensive guard.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrInsufficientPosition means a sell exceeds the held quantity.
	ErrInsufficientPosition = errors.New("insufficient position")
)

// Ledger is the authoritative cash/position bookkeeping for one run.
// It uses average-cost accounting: one weighted-average entry price for
// the whole position, unchanged by partial sells. All state is decimal
// so repeated fee arithmetic does not accumulate float drift.
//
// The ledger performs no I/O and is not safe for concurrent use; the
// engine serializes ticks per run.
type Ledger struct {
	cash     decimal.Decimal
	quantity decimal.Decimal
	avgEntry decimal.Decimal
}

func NewLedger(startingCapital float64) *Ledger {
	return &Ledger{cash: decimal.NewFromFloat(startingCapital)}
}

// ApplyBuy spends qty*price+fee of cash and folds the lot into the
// weighted-average entry price.
func (l *Ledger) ApplyBuy(qty, price, fee float64) error {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	f := decimal.NewFromFloat(fee)
	if q.Sign() <= 0 || p.Sign() <= 0 || f.Sign() < 0 {
		return ErrInsufficientFunds
	}
	cost := q.Mul(p).Add(f)
	if cost.GreaterThan(l.cash) {
		return ErrInsufficientFunds
	}
	newQty := l.quantity.Add(q)
	// weighted average: (oldQty*oldAvg + qty*price) / (oldQty+qty)
	l.avgEntry = l.quantity.Mul(l.avgEntry).Add(q.Mul(p)).Div(newQty)
	l.quantity = newQty
	l.cash = l.cash.Sub(cost)
	return nil
}

// ApplySell releases qty at price, credits the net proceeds and returns
// the realized P/L: qty*(price - avgEntry) - fee. The average entry
// price is unchanged for the remainder.
func (l *Ledger) ApplySell(qty, price, fee float64) (float64, error) {
	q := decimal.NewFromFloat(qty)
	p := decimal.NewFromFloat(price)
	f := decimal.NewFromFloat(fee)
	if q.Sign() <= 0 || p.Sign() <= 0 || f.Sign() < 0 {
		return 0, ErrInsufficientPosition
	}
	if q.GreaterThan(l.quantity) {
		return 0, ErrInsufficientPosition
	}
	proceeds := q.Mul(p).Sub(f)
	realized := q.Mul(p.Sub(l.avgEntry)).Sub(f)
	l.quantity = l.quantity.Sub(q)
	if l.quantity.IsZero() {
		l.avgEntry = decimal.Zero
	}
	l.cash = l.cash.Add(proceeds)
	pl, _ := realized.Float64()
	return pl, nil
}

// MarkToMarket returns the unrealized P/L at price without mutating
// anything.
func (l *Ledger) MarkToMarket(price float64) float64 {
	if l.quantity.IsZero() {
		return 0
	}
	v, _ := l.quantity.Mul(decimal.NewFromFloat(price).Sub(l.avgEntry)).Float64()
	return v
}

// UnrealizedReturn is the mark-to-market return relative to cost basis,
// the quantity the stop-loss/take-profit rules are expressed in.
func (l *Ledger) UnrealizedReturn(price float64) float64 {
	if l.quantity.IsZero() || l.avgEntry.IsZero() {
		return 0
	}
	r, _ := decimal.NewFromFloat(price).Sub(l.avgEntry).Div(l.avgEntry).Float64()
	return r
}

// TotalValue is cash plus the position marked at price.
func (l *Ledger) TotalValue(price float64) float64 {
	v, _ := l.cash.Add(l.quantity.Mul(decimal.NewFromFloat(price))).Float64()
	return v
}

func (l *Ledger) Cash() float64 {
	v, _ := l.cash.Float64()
	return v
}

func (l *Ledger) Quantity() float64 {
	v, _ := l.quantity.Float64()
	return v
}

func (l *Ledger) AvgEntryPrice() float64 {
	v, _ := l.avgEntry.Float64()
	return v
}

func (l *Ledger) HasPosition() bool {
	return l.quantity.Sign() > 0
}
