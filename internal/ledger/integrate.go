package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Interval is a piecewise-constant rate segment. A nil End is open-ended.
type Interval struct {
	Start time.Time
	End   *time.Time
	Rate  decimal.Decimal
}

// Integrate recomputes the ongoing rate from intervals and books into Current
// everything they accrued between the last fold point (Ongoing.Updated) and
// now. Ends beyond now are clamped to now; an interval whose clamped end is now
// is still in effect and its rate becomes part of the ongoing rate.
func Integrate(now time.Time, s State, intervals []Interval) State {
	s.Ongoing.Income = decimal.Zero
	s.Ongoing.Expense = decimal.Zero
	s.Ongoing.Balance = decimal.Zero

	fold := s.Ongoing.Updated
	for _, iv := range intervals {
		if iv.Start.After(now) {
			continue
		}
		end := now
		if iv.End != nil && iv.End.Before(now) {
			end = *iv.End
		}
		if end.Before(iv.Start) {
			continue
		}

		var amount decimal.Decimal
		switch {
		case !iv.Start.After(fold) && end.After(fold):
			amount = iv.Rate.Mul(Millis(end.Sub(fold)))
		case iv.Start.After(fold):
			amount = iv.Rate.Mul(Millis(end.Sub(iv.Start)))
		}
		s.Current.post(amount)

		if end.Equal(now) {
			s.Ongoing.accrue(iv.Rate)
		}
	}

	s.Ongoing.Updated = now
	s.Current.Updated = now
	return s
}

// NextEdge returns the earliest interval start or end strictly after now, or
// nil when no edge is pending.
func NextEdge(now time.Time, intervals []Interval) *time.Time {
	var next *time.Time
	consider := func(t time.Time) {
		if !t.After(now) {
			return
		}
		if next == nil || t.Before(*next) {
			edge := t
			next = &edge
		}
	}
	for _, iv := range intervals {
		consider(iv.Start)
		if iv.End != nil {
			consider(*iv.End)
		}
	}
	return next
}

// Interval converts a flow leg into its rate segment.
func (l FlowLeg) Interval() Interval {
	return Interval{Start: l.Start, End: l.End, Rate: l.Amount}
}
