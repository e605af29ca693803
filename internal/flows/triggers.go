package flows

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/kompanio/timebank/internal/balance"
	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/store"
	"github.com/kompanio/timebank/internal/trigger"
)

const (
	FlowPattern      = "flows/{flowId}"
	MemberPattern    = "accounts/{accountId}/members/{memberId}"
	UniversalPattern = "universal/{date}/flows/{accountId}"
)

// Register wires the service to flow, membership and universal budget changes.
func (s *Service) Register(d *trigger.Dispatcher) {
	d.On(FlowPattern, s.onFlow)
	d.On(MemberPattern, s.onMember)
	d.On(UniversalPattern, s.onUniversal)
}

// onFlow writes the legs of the new fan-out and clears legs of the previous
// fan-out that are no longer produced.
func (s *Service) onFlow(ctx context.Context, ev trigger.Event) error {
	flowID := ev.Params["flowId"]

	var cur, prev ledger.Flow
	hasCur, err := ev.Decode(&cur)
	if err != nil {
		return err
	}
	hasPrev, err := ev.DecodePrevious(&prev)
	if err != nil {
		return err
	}

	var writes []store.Write
	keep := make(map[string]bool)
	if hasCur {
		writes, err = s.FanOut(ctx, flowID, cur)
		switch {
		case errors.Is(err, ErrUnresolvedFlow), errors.Is(err, ErrInvalidFlow):
			// Nothing is materialised; legs of the previous version still go.
			s.logger.Error("flows.rejected", slog.String("flow", flowID), slog.Any("error", err))
			writes = nil
		case err != nil:
			return err
		}
		for _, w := range writes {
			keep[w.Path] = true
		}
	}
	if hasPrev {
		stale, err := s.FanOut(ctx, flowID, prev)
		if err != nil && !errors.Is(err, ErrUnresolvedFlow) && !errors.Is(err, ErrInvalidFlow) {
			return err
		}
		for _, w := range stale {
			if !keep[w.Path] {
				writes = append(writes, store.Write{Path: w.Path})
			}
		}
	}

	if err := s.store.Update(ctx, writes); err != nil {
		return err
	}
	s.logger.Info("flows.fanned_out", slog.String("flow", flowID), slog.Int("legs", len(keep)))
	return nil
}

// onMember rescales the aggregate leg of every broadcast flow the group holds
// by one member and writes or clears the member's own leg.
func (s *Service) onMember(ctx context.Context, ev trigger.Event) error {
	if ev.Exists() == ev.Existed() {
		return nil
	}
	joined := ev.Exists()
	groupID, memberID := ev.Params["accountId"], ev.Params["memberId"]

	children, err := s.store.Children(ctx, ledger.FlowsPath)
	if err != nil {
		return err
	}
	for _, child := range children {
		var flow ledger.Flow
		if err := json.Unmarshal(child.Value, &flow); err != nil {
			s.logger.Warn("flows.decode_failed", slog.String("path", child.Path), slog.Any("error", err))
			continue
		}
		var perMember decimal.Decimal
		switch {
		case !flow.From.Resolved() && flow.To.ID == groupID:
			perMember = flow.Amount
		case !flow.To.Resolved() && flow.From.ID == groupID:
			perMember = flow.Amount.Neg()
		default:
			continue
		}
		if err := s.rescale(ctx, store.Base(child.Path), flow, groupID, memberID, perMember, joined); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) rescale(ctx context.Context, flowID string, flow ledger.Flow, groupID, memberID string, perMember decimal.Decimal, joined bool) error {
	legPath := ledger.FlowLegPath(memberID, flowID)
	var existing ledger.FlowLeg
	has, err := s.store.Get(ctx, legPath, &existing)
	if err != nil {
		return err
	}
	// The member leg records whether this change was already applied.
	if has == joined {
		return nil
	}

	if joined {
		err = s.store.Set(ctx, legPath, memberLeg(flow))
	} else {
		err = s.store.Set(ctx, legPath, nil)
	}
	if err != nil {
		return err
	}

	_, err = store.TransactJSON(ctx, s.store, ledger.FlowLegPath(groupID, flowID), func(agg *ledger.FlowLeg) (*ledger.FlowLeg, error) {
		if agg == nil {
			return nil, store.ErrAbort
		}
		if joined {
			agg.Amount = agg.Amount.Add(perMember)
			agg.NbAccount++
		} else {
			agg.Amount = agg.Amount.Sub(perMember)
			agg.NbAccount--
		}
		return agg, nil
	})
	return err
}

// onUniversal turns a universal budget into a leg on the paying GIG account
// and re-derives that account.
func (s *Service) onUniversal(ctx context.Context, ev trigger.Event) error {
	date, accountID := ev.Params["date"], ev.Params["accountId"]
	if !strings.HasPrefix(accountID, ledger.UniversalAccountPrefix) {
		s.logger.Warn("flows.universal_ignored", slog.String("account", accountID), slog.String("date", date))
		return nil
	}
	legPath := ledger.UniversalLegPath(accountID, date)

	var budget ledger.UniversalBudget
	ok, err := ev.Decode(&budget)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.store.Set(ctx, legPath, nil); err != nil {
			return err
		}
		return s.refresh(ctx, accountID)
	}

	var members int64
	found, err := s.store.Get(ctx, ledger.UniversalMembersPath(date), &members)
	if err != nil {
		return err
	}
	if !found {
		s.logger.Error("flows.universal_members_missing", slog.String("date", date))
		return nil
	}
	start, err := parseDate(date)
	if err != nil {
		s.logger.Error("flows.universal_bad_date", slog.String("date", date), slog.Any("error", err))
		return nil
	}

	leg := ledger.FlowLeg{
		Amount:  budget.Amount.Mul(decimal.NewFromInt(members)).Neg(),
		Account: ledger.NetworkAccountID,
		By:      &ledger.Holder{ID: ledger.NetworkAccountID, Name: ledger.NetworkName},
		Name:    ledger.NetworkName,
		Label:   budget.Label,
		Start:   start.UTC(),
		End:     budget.End,
	}
	if err := s.store.Set(ctx, legPath, leg); err != nil {
		return err
	}
	return s.refresh(ctx, accountID)
}

func (s *Service) refresh(ctx context.Context, accountID string) error {
	if s.refresher == nil {
		return nil
	}
	_, err := s.refresher.Refresh(ctx, accountID)
	if errors.Is(err, balance.ErrAccountNotFound) {
		return nil
	}
	return err
}
