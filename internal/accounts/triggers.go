package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/notification"
	"github.com/kompanio/timebank/internal/trigger"
)

// DelegationPattern matches delegations granted on an account.
const DelegationPattern = "accounts/{accountId}/delegations/{userId}"

// Register wires the service to delegation changes.
func (s *Service) Register(d *trigger.Dispatcher) {
	d.On(DelegationPattern, s.onDelegation)
}

// onDelegation mirrors a delegation under the delegate's profile.
func (s *Service) onDelegation(ctx context.Context, ev trigger.Event) error {
	accountID, userID := ev.Params["accountId"], ev.Params["userId"]
	mirror := ledger.UserDelegationPath(userID, accountID)

	if !ev.Exists() {
		return s.store.Set(ctx, mirror, nil)
	}
	if err := s.store.Set(ctx, mirror, json.RawMessage(ev.Value)); err != nil {
		return err
	}
	s.logger.Debug("accounts.delegation_mirrored", slog.String("account", accountID), slog.String("user", userID))

	if !ev.Existed() {
		var d ledger.Delegation
		if _, err := ev.Decode(&d); err != nil {
			return err
		}
		s.notify(ctx, notification.KindDelegationGranted, userID, fmt.Sprintf("You may now act for %s", d.Name))
	}
	return nil
}
