// Package budget tracks cumulative LLM spend against a configured cap.
package budget

import (
	"fmt"
	"math"
	"sync/atomic"
)

// Ledger is an atomic spend accumulator with a hard cap.
//
// Amounts are stored as integer micro-dollars so concurrent increments
// from grouped stage bodies stay lock-free and exact. The total is
// monotonically non-decreasing; Reset is the only administrative
// decrement path.
type Ledger struct {
	capMicro   int64
	spentMicro atomic.Int64
}

// NewLedger creates a ledger with the given cap in USD.
// A cap of 0 means local/free models only: any nonzero planned cost
// must fail fast rather than proceed partially.
func NewLedger(capUSD float64) *Ledger {
	return &Ledger{capMicro: toMicro(capUSD)}
}

// RecordCost adds a successful call's reported cost to the total.
// Negative amounts are rejected; the total never decreases.
func (l *Ledger) RecordCost(amountUSD float64) error {
	if amountUSD < 0 {
		return fmt.Errorf("record cost: negative amount $%.6f", amountUSD)
	}
	l.spentMicro.Add(toMicro(amountUSD))
	return nil
}

// CheckBudget reports whether a planned call fits under the cap.
// The estimate is the call's worst-case cost; gating on it bounds
// overshoot to at most one in-flight call.
func (l *Ledger) CheckBudget(estimateUSD float64) bool {
	if estimateUSD < 0 {
		return false
	}
	return l.spentMicro.Load()+toMicro(estimateUSD) <= l.capMicro
}

// SpentUSD returns the cumulative spend.
func (l *Ledger) SpentUSD() float64 {
	return fromMicro(l.spentMicro.Load())
}

// CapUSD returns the configured cap.
func (l *Ledger) CapUSD() float64 {
	return fromMicro(l.capMicro)
}

// FreeOnly reports whether the cap permits only zero-cost calls.
func (l *Ledger) FreeOnly() bool {
	return l.capMicro == 0
}

// Reset zeroes the total. This is the explicit administrative reset;
// nothing in the pipeline calls it.
func (l *Ledger) Reset() {
	l.spentMicro.Store(0)
}

func toMicro(usd float64) int64 {
	return int64(math.Round(usd * 1e6))
}

func fromMicro(micro int64) float64 {
	return float64(micro) / 1e6
}
