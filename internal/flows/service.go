// Package flows fans continuous-rate flows out to per-account legs and keeps
// group aggregates in step with membership.
package flows

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kompanio/timebank/internal/balance"
	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/store"
)

var (
	// ErrUnresolvedFlow reports a flow whose endpoints are both unresolved.
	ErrUnresolvedFlow = errors.New("flow has no concrete endpoint")
	// ErrInvalidFlow reports a flow that cannot be recorded.
	ErrInvalidFlow = errors.New("invalid flow")
	// ErrInvalidBudget reports a universal budget that cannot be recorded.
	ErrInvalidBudget = errors.New("invalid universal budget")
)

// Refresher re-derives an account from its legs.
type Refresher interface {
	Refresh(ctx context.Context, accountID string) (balance.View, error)
}

// Service records flows and reacts to flow, membership and universal budget
// changes.
type Service struct {
	store     *store.Store
	refresher Refresher
	logger    *slog.Logger
}

// NewService constructs a flow service.
func NewService(s *store.Store, refresher Refresher, logger *slog.Logger) *Service {
	return &Service{store: s, refresher: refresher, logger: logger}
}

// FanOut computes the legs a flow materialises. With two concrete endpoints it
// yields the two direct legs. With one unresolved endpoint every member of the
// concrete account gets a full-rate leg and the concrete account gets an
// aggregate leg scaled by the member count.
func (s *Service) FanOut(ctx context.Context, flowID string, flow ledger.Flow) ([]store.Write, error) {
	from, to := flow.From.Resolved(), flow.To.Resolved()
	switch {
	case from && to && flow.From.ID == flow.To.ID:
		return nil, fmt.Errorf("%w: flow from %s to itself", ErrInvalidFlow, flow.From.ID)
	case from && to:
		return []store.Write{
			{Path: ledger.FlowLegPath(flow.From.ID, flowID), Value: ledger.LegFrom(flow, nil)},
			{Path: ledger.FlowLegPath(flow.To.ID, flowID), Value: ledger.LegTo(flow, nil)},
		}, nil
	case !from && !to:
		return nil, ErrUnresolvedFlow
	}

	groupID := flow.To.ID
	if from {
		groupID = flow.From.ID
	}
	members, err := s.members(ctx, groupID)
	if err != nil {
		return nil, err
	}

	writes := make([]store.Write, 0, len(members)+1)
	for _, member := range members {
		if member == groupID {
			continue
		}
		writes = append(writes, store.Write{Path: ledger.FlowLegPath(member, flowID), Value: memberLeg(flow)})
	}
	n := len(members)
	aggregate := ledger.LegTo(flow, &n)
	if from {
		aggregate = ledger.LegFrom(flow, &n)
	}
	writes = append(writes, store.Write{Path: ledger.FlowLegPath(groupID, flowID), Value: aggregate})
	return writes, nil
}

// memberLeg is the leg a group member holds for a broadcast flow: members
// stand on the unresolved side.
func memberLeg(flow ledger.Flow) ledger.FlowLeg {
	if flow.From.Resolved() {
		return ledger.LegTo(flow, nil)
	}
	return ledger.LegFrom(flow, nil)
}

func (s *Service) members(ctx context.Context, accountID string) ([]string, error) {
	children, err := s.store.Children(ctx, ledger.MembersPath(accountID))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(children))
	for _, child := range children {
		ids = append(ids, store.Base(child.Path))
	}
	return ids, nil
}

// CreateFlow records a new flow under a generated id.
func (s *Service) CreateFlow(ctx context.Context, flow ledger.Flow) (string, error) {
	id := uuid.NewString()
	if err := s.PutFlow(ctx, id, flow); err != nil {
		return "", err
	}
	return id, nil
}

// PutFlow records flow at flows/{flowID}.
func (s *Service) PutFlow(ctx context.Context, flowID string, flow ledger.Flow) error {
	if !ledger.ValidID(flowID) {
		return fmt.Errorf("%w: malformed flow id", ErrInvalidFlow)
	}
	if !flow.From.Resolved() && !flow.To.Resolved() {
		return ErrUnresolvedFlow
	}
	for _, ref := range []ledger.Ref{flow.From, flow.To} {
		if ref.Resolved() && !ledger.ValidID(ref.ID) {
			return fmt.Errorf("%w: malformed account id %q", ErrInvalidFlow, ref.ID)
		}
	}
	if flow.From.Resolved() && flow.From.ID == flow.To.ID {
		return fmt.Errorf("%w: emitter and recipient are the same account", ErrInvalidFlow)
	}
	if flow.Amount.IsZero() {
		return fmt.Errorf("%w: amount must be non-zero", ErrInvalidFlow)
	}
	if flow.Start.IsZero() {
		return fmt.Errorf("%w: start is required", ErrInvalidFlow)
	}
	if flow.End != nil && flow.End.Before(flow.Start) {
		return fmt.Errorf("%w: end precedes start", ErrInvalidFlow)
	}
	flow.Start = flow.Start.UTC().Truncate(time.Millisecond)
	if flow.End != nil {
		end := flow.End.UTC().Truncate(time.Millisecond)
		flow.End = &end
	}
	return s.store.Set(ctx, ledger.FlowPath(flowID), flow)
}

// DeleteFlow removes the flow; its legs are removed by the flow trigger.
func (s *Service) DeleteFlow(ctx context.Context, flowID string) error {
	return s.store.Set(ctx, ledger.FlowPath(flowID), nil)
}

// Join adds memberID to the group account.
func (s *Service) Join(ctx context.Context, groupID, memberID string) error {
	if err := validMembership(groupID, memberID); err != nil {
		return err
	}
	return s.store.Set(ctx, ledger.MemberPath(groupID, memberID), true)
}

// Leave removes memberID from the group account.
func (s *Service) Leave(ctx context.Context, groupID, memberID string) error {
	if err := validMembership(groupID, memberID); err != nil {
		return err
	}
	return s.store.Set(ctx, ledger.MemberPath(groupID, memberID), nil)
}

func validMembership(groupID, memberID string) error {
	if !ledger.ValidID(groupID) || !ledger.ValidID(memberID) {
		return fmt.Errorf("%w: malformed account id", ErrInvalidFlow)
	}
	if groupID == memberID {
		return fmt.Errorf("%w: an account cannot join itself", ErrInvalidFlow)
	}
	return nil
}

// SetUniversalMembers records the member count used to scale the budgets of
// date.
func (s *Service) SetUniversalMembers(ctx context.Context, date string, members int) error {
	if _, err := parseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
	}
	if members < 0 {
		return fmt.Errorf("%w: negative member count", ErrInvalidBudget)
	}
	return s.store.Set(ctx, ledger.UniversalMembersPath(date), members)
}

// PutUniversalBudget records the per-member budget paid by accountID for date.
func (s *Service) PutUniversalBudget(ctx context.Context, date, accountID string, budget ledger.UniversalBudget) error {
	if _, err := parseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidBudget, err)
	}
	if !ledger.ValidID(accountID) {
		return fmt.Errorf("%w: malformed account id", ErrInvalidBudget)
	}
	return s.store.Set(ctx, ledger.UniversalBudgetPath(date, accountID), budget)
}

func parseDate(date string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, date); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, date)
}
