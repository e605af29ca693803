package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase classifies a flow interval against the reconciliation instant.
type Phase int

const (
	PhasePast Phase = iota
	PhaseOngoing
	PhaseFuture
)

func (p Phase) String() string {
	switch p {
	case PhasePast:
		return "past"
	case PhaseOngoing:
		return "ongoing"
	case PhaseFuture:
		return "future"
	default:
		return "unknown"
	}
}

// Millis converts a duration into the credit unit.
func Millis(d time.Duration) decimal.Decimal {
	return decimal.NewFromInt(d.Milliseconds())
}

func (c *Current) post(amount decimal.Decimal) {
	if amount.IsZero() {
		return
	}
	if amount.IsPositive() {
		c.Income = c.Income.Add(amount)
	} else {
		c.Expense = c.Expense.Add(amount)
	}
	c.Balance = c.Balance.Add(amount)
}

func (o *Ongoing) accrue(rate decimal.Decimal) {
	if rate.IsPositive() {
		o.Income = o.Income.Add(rate)
	} else {
		o.Expense = o.Expense.Add(rate)
	}
	o.Balance = o.Balance.Add(rate)
}

// tighten moves NextUpdate toward edge. Once now has reached the existing
// deadline the deadline is replaced instead of min'ed.
func (o *Ongoing) tighten(now, edge time.Time) {
	if o.NextUpdate == nil || !now.Before(*o.NextUpdate) {
		o.NextUpdate = &edge
		return
	}
	if edge.Before(*o.NextUpdate) {
		o.NextUpdate = &edge
	}
}

// Fold extrapolates the ongoing rate from Current.Updated to now into Current.
// now never moves the fold point backwards.
func (s *State) Fold(now time.Time) time.Time {
	if now.Before(s.Current.Updated) {
		now = s.Current.Updated
	}
	if !s.Ongoing.Balance.IsZero() {
		s.Current.post(s.Ongoing.Balance.Mul(Millis(now.Sub(s.Current.Updated))))
	}
	s.Current.Updated = now
	s.Ongoing.Updated = now
	return now
}

// Post folds the ongoing rate up to now and then books a signed delta.
func (s *State) Post(now time.Time, delta decimal.Decimal) {
	s.Fold(now)
	s.Current.post(delta)
}

// ApplyFlow folds the existing rate up to now and then accounts for a change
// of speed on a flow running over [start, end). A nil end is open-ended.
func (s *State) ApplyFlow(now time.Time, speed decimal.Decimal, start time.Time, end *time.Time) Phase {
	now = s.Fold(now)

	until := now
	if end != nil {
		until = *end
	}

	var phase Phase
	switch {
	case start.After(now):
		phase = PhaseFuture
		s.Ongoing.tighten(now, start)
	case until.Before(now):
		phase = PhasePast
		s.Current.post(speed.Mul(Millis(until.Sub(start))))
	default:
		phase = PhaseOngoing
		s.Current.post(speed.Mul(Millis(now.Sub(start))))
		s.Ongoing.accrue(speed)
		if end != nil {
			s.Ongoing.tighten(now, *end)
		}
		s.Ongoing.Updated = now
	}
	s.Current.Updated = now
	return phase
}

// Projected is the value of the account at now under the current rate.
func (s State) Projected(now time.Time) decimal.Decimal {
	if !now.After(s.Current.Updated) {
		return s.Current.Balance
	}
	return s.Current.Balance.Add(s.Ongoing.Balance.Mul(Millis(now.Sub(s.Current.Updated))))
}

// Stale reports whether a rate edge has passed since the last fold.
func (s State) Stale(now time.Time) bool {
	return s.Ongoing.NextUpdate != nil && !now.Before(*s.Ongoing.NextUpdate)
}

// AppliedAmount returns the amount already reflected for a posting key.
func (s State) AppliedAmount(key string) decimal.Decimal {
	return s.Applied[key]
}

// MarkApplied records the amount reflected for key. A zero amount forgets it.
func (s *State) MarkApplied(key string, amount decimal.Decimal) {
	if amount.IsZero() {
		delete(s.Applied, key)
		return
	}
	if s.Applied == nil {
		s.Applied = make(map[string]decimal.Decimal)
	}
	s.Applied[key] = amount
}
