// Package balance keeps every account's settled and ongoing balances in step
// with the payment and flow legs written under it.
package balance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/store"
)

// ErrAccountNotFound is returned when the account state is missing at commit
// time. It is a consistency fault and is not retried.
var ErrAccountNotFound = errors.New("account not found")

// Engine applies leg changes to account states under optimistic transactions.
type Engine struct {
	store  *store.Store
	logger *slog.Logger
	now    func() time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a reconciliation engine over s.
func NewEngine(s *store.Store, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{store: s, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now is the engine clock, UTC and truncated to the millisecond.
func (e *Engine) Now() time.Time {
	return e.now().UTC().Truncate(time.Millisecond)
}

func paymentKey(paymentID string) string { return "payments/" + paymentID }
func flowKey(flowID string) string { return "flows/" + flowID }

// PostPaymentLeg reconciles a change of the payment leg stored at
// accounts/{accountID}/payments/{paymentID}. leg is nil on deletion and prev
// is nil on creation. A change that leaves the amount untouched is a no-op.
func (e *Engine) PostPaymentLeg(ctx context.Context, accountID, paymentID string, leg, prev *ledger.PaymentLeg) error {
	var next, old decimal.Decimal
	if leg != nil {
		next = leg.Amount
	}
	if prev != nil {
		old = prev.Amount
	}
	if next.Sub(old).IsZero() {
		return nil
	}

	// The stored leg, not the event, is the target so that replayed or
	// reordered deliveries converge.
	var stored ledger.PaymentLeg
	ok, err := e.store.Get(ctx, ledger.PaymentLegPath(accountID, paymentID), &stored)
	if err != nil {
		return err
	}
	target := decimal.Zero
	if ok {
		target = stored.Amount
	}

	key := paymentKey(paymentID)
	return e.update(ctx, accountID, func(s *ledger.State, now time.Time) bool {
		delta := target.Sub(s.AppliedAmount(key))
		if delta.IsZero() {
			return false
		}
		s.Post(now, delta)
		s.MarkApplied(key, target)
		return true
	})
}

// ApplyFlowLeg reconciles a change of the flow leg stored at
// accounts/{accountID}/flows/{flowID}. The interval is taken from the stored
// leg, or from prev once the leg is gone.
func (e *Engine) ApplyFlowLeg(ctx context.Context, accountID, flowID string, leg, prev *ledger.FlowLeg) error {
	var next, old decimal.Decimal
	if leg != nil {
		next = leg.Amount
	}
	if prev != nil {
		old = prev.Amount
	}
	if next.Sub(old).IsZero() {
		return nil
	}

	var stored ledger.FlowLeg
	ok, err := e.store.Get(ctx, ledger.FlowLegPath(accountID, flowID), &stored)
	if err != nil {
		return err
	}
	target := decimal.Zero
	shape := stored
	switch {
	case ok:
		target = stored.Amount
	case prev != nil:
		shape = *prev
	case leg != nil:
		shape = *leg
	}

	key := flowKey(flowID)
	return e.update(ctx, accountID, func(s *ledger.State, now time.Time) bool {
		speed := target.Sub(s.AppliedAmount(key))
		if speed.IsZero() {
			return false
		}
		phase := s.ApplyFlow(now, speed, shape.Start, shape.End)
		s.MarkApplied(key, target)
		e.logger.Debug("balance.flow_applied",
			slog.String("account", accountID),
			slog.String("flow", flowID),
			slog.String("speed", speed.String()),
			slog.String("phase", phase.String()))
		return true
	})
}

// Refresh re-derives the account from the flow and universal legs it holds,
// folding in any rate edge that has passed and resetting NextUpdate to the
// next pending edge. A flow leg counts at the rate already applied to the
// account so that a leg whose change is still in flight is left to its own
// reconciliation.
func (e *Engine) Refresh(ctx context.Context, accountID string) (View, error) {
	legs, err := e.loadLegs(ctx, accountID)
	if err != nil {
		return View{}, err
	}

	var (
		out ledger.State
		at  time.Time
	)
	err = e.transact(ctx, accountID, func(s *ledger.State, now time.Time) (bool, error) {
		at = legs.integrate(s, now)
		out = *s
		return true, nil
	})
	if err != nil {
		return View{}, err
	}
	return newView(accountID, out, at), nil
}

type accountLegs struct {
	flows     map[string]ledger.FlowLeg
	universal map[string]ledger.FlowLeg
}

func (e *Engine) loadLegs(ctx context.Context, accountID string) (*accountLegs, error) {
	flows, err := e.legs(ctx, ledger.FlowLegsPath(accountID))
	if err != nil {
		return nil, err
	}
	universal, err := e.legs(ctx, ledger.UniversalLegsPath(accountID))
	if err != nil {
		return nil, err
	}
	return &accountLegs{flows: flows, universal: universal}, nil
}

// integrate books everything the legs accrued since the last fold point into
// s and returns the instant it folded to.
func (l *accountLegs) integrate(s *ledger.State, now time.Time) time.Time {
	if now.Before(s.Ongoing.Updated) {
		now = s.Ongoing.Updated
	}
	intervals := make([]ledger.Interval, 0, len(l.flows)+len(l.universal))
	for flowID, leg := range l.flows {
		rate := s.AppliedAmount(flowKey(flowID))
		if rate.IsZero() {
			continue
		}
		intervals = append(intervals, ledger.Interval{Start: leg.Start, End: leg.End, Rate: rate})
	}
	for _, leg := range l.universal {
		intervals = append(intervals, leg.Interval())
	}

	*s = ledger.Integrate(now, *s, intervals)
	s.Ongoing.NextUpdate = ledger.NextEdge(now, intervals)
	return now
}

// Balance reads the account and projects it to now without writing.
func (e *Engine) Balance(ctx context.Context, accountID string) (View, error) {
	var s ledger.State
	ok, err := e.store.Get(ctx, ledger.StatePath(accountID), &s)
	if err != nil {
		return View{}, err
	}
	if !ok {
		return View{}, ErrAccountNotFound
	}
	return newView(accountID, s, e.Now()), nil
}

// update applies fn to the account state. A state whose rate deadline has
// passed is first brought up to date from its legs so that the old rate is
// never extrapolated across an edge.
func (e *Engine) update(ctx context.Context, accountID string, fn func(s *ledger.State, now time.Time) bool) error {
	var legs *accountLegs
	return e.transact(ctx, accountID, func(s *ledger.State, now time.Time) (bool, error) {
		if s.Stale(now) {
			if legs == nil {
				var err error
				if legs, err = e.loadLegs(ctx, accountID); err != nil {
					return false, err
				}
			}
			legs.integrate(s, now)
			e.logger.Debug("balance.caught_up", slog.String("account", accountID), slog.Time("at", now))
		}
		return fn(s, now), nil
	})
}

func (e *Engine) transact(ctx context.Context, accountID string, fn func(s *ledger.State, now time.Time) (bool, error)) error {
	missing := false
	_, err := store.TransactJSON(ctx, e.store, ledger.StatePath(accountID), func(cur *ledger.State) (*ledger.State, error) {
		missing = cur == nil
		if missing {
			return nil, store.ErrAbort
		}
		changed, err := fn(cur, e.Now())
		if err != nil {
			return nil, err
		}
		if !changed {
			return nil, store.ErrAbort
		}
		return cur, nil
	})
	if err != nil {
		return fmt.Errorf("update account %s: %w", accountID, err)
	}
	if missing {
		e.logger.Error("balance.account_missing", slog.String("account", accountID))
		return fmt.Errorf("%s: %w", accountID, ErrAccountNotFound)
	}
	return nil
}

// View is a read-only projection of an account.
type View struct {
	AccountID string          `json:"accountId"`
	Type      string          `json:"type"`
	Current   ledger.Current  `json:"current"`
	Ongoing   ledger.Ongoing  `json:"ongoing"`
	Projected decimal.Decimal `json:"projected"`
	Stale     bool            `json:"stale"`
	At        time.Time       `json:"at"`
}

func newView(accountID string, s ledger.State, now time.Time) View {
	return View{
		AccountID: accountID,
		Type:      string(s.Type),
		Current:   s.Current,
		Ongoing:   s.Ongoing,
		Projected: s.Projected(now),
		Stale:     s.Stale(now),
		At:        now,
	}
}
