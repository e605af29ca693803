// Package accounts opens ledger accounts for approved members and groups and
// keeps delegations visible from both sides.
package accounts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/kompanio/timebank/internal/balance"
	"github.com/kompanio/timebank/internal/identity"
	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/notification"
	"github.com/kompanio/timebank/internal/store"
)

var (
	// ErrAccountExists indicates the account was already opened.
	ErrAccountExists = errors.New("account already exists")
	// ErrGroupNotFound indicates no pending group has the id.
	ErrGroupNotFound = errors.New("group not found")
	// ErrInvalidGroup reports a group request that cannot be recorded.
	ErrInvalidGroup = errors.New("invalid group")
	// ErrForbidden indicates the caller holds no delegation for the account.
	ErrForbidden = errors.New("no delegation for this account")
)

// Service provisions accounts.
type Service struct {
	store    *store.Store
	provider identity.Provider
	engine   *balance.Engine
	notifier notification.Notifier
	logger   *slog.Logger
	photoURL string
}

// NewService constructs an account service. photoURL is the public prefix of
// profile photos; the uid and "/photo" are appended to it.
func NewService(s *store.Store, provider identity.Provider, engine *balance.Engine, notifier notification.Notifier, logger *slog.Logger, photoURL string) *Service {
	return &Service{store: s, provider: provider, engine: engine, notifier: notifier, logger: logger, photoURL: photoURL}
}

// ApproveUser opens the personal account of a pending member, gives it every
// network-wide flow and enables the member. An approval that failed after the
// account was opened is resumed while the member is still disabled.
func (s *Service) ApproveUser(ctx context.Context, uid string) error {
	user, err := s.provider.GetUser(ctx, uid)
	if err != nil {
		return err
	}
	created, err := identity.CreatedFromUID(user.UID)
	if err != nil {
		return err
	}
	err = s.open(ctx, uid, ledger.NewState(ledger.AccountPersonal, created, s.engine.Now()))
	if errors.Is(err, ErrAccountExists) && user.Disabled {
		var existing ledger.State
		ok, getErr := s.store.Get(ctx, ledger.StatePath(uid), &existing)
		if getErr != nil {
			return getErr
		}
		if !ok || existing.Type != ledger.AccountPersonal {
			return err
		}
		s.logger.Warn("accounts.approval_resumed", slog.String("uid", uid))
		err = nil
	}
	if err != nil {
		return err
	}

	children, err := s.store.Children(ctx, ledger.FlowsPath)
	if err != nil {
		return err
	}
	var writes []store.Write
	for _, child := range children {
		var flow ledger.Flow
		if err := json.Unmarshal(child.Value, &flow); err != nil {
			s.logger.Warn("accounts.decode_failed", slog.String("path", child.Path), slog.Any("error", err))
			continue
		}
		if flow.To.Resolved() {
			continue
		}
		writes = append(writes, store.Write{Path: ledger.FlowLegPath(uid, store.Base(child.Path)), Value: ledger.LegTo(flow, nil)})
	}
	if err := s.store.Update(ctx, writes); err != nil {
		return fmt.Errorf("backfill flows: %w", err)
	}

	disabled := false
	photo := strings.TrimSuffix(s.photoURL, "/") + "/" + uid + "/photo"
	if _, err := s.provider.UpdateUser(ctx, uid, identity.UserUpdate{Disabled: &disabled, PhotoURL: &photo}); err != nil {
		return fmt.Errorf("enable user: %w", err)
	}
	s.logger.Info("accounts.user_approved", slog.String("uid", uid), slog.Int("flows", len(writes)))
	s.notify(ctx, notification.KindAccountApproved, uid, "Your account is open")
	return nil
}

// ApproveGroup opens the public account of a pending group and delegates every
// right on it to the owner.
func (s *Service) ApproveGroup(ctx context.Context, gid string) error {
	var group ledger.Group
	ok, err := s.store.Get(ctx, ledger.GroupPath(gid), &group)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrGroupNotFound, gid)
	}
	now := s.engine.Now()
	if err := s.open(ctx, gid, ledger.NewState(ledger.AccountPublic, now, now)); err != nil {
		return err
	}
	err = s.store.Set(ctx, ledger.DelegationPath(gid, group.Owner.ID), ledger.Delegation{
		Name:     group.Name,
		Delegate: group.Owner.Name,
		Manage:   true,
		Read:     true,
		Pay:      true,
		Collect:  true,
	})
	if err != nil {
		return err
	}
	s.logger.Info("accounts.group_approved", slog.String("gid", gid), slog.String("owner", group.Owner.ID))
	s.notify(ctx, notification.KindAccountApproved, group.Owner.ID, fmt.Sprintf("%s is open", group.Name))
	return nil
}

func (s *Service) open(ctx context.Context, id string, state ledger.State) error {
	committed, err := store.TransactJSON(ctx, s.store, ledger.StatePath(id), func(cur *ledger.State) (*ledger.State, error) {
		if cur != nil {
			return nil, store.ErrAbort
		}
		return &state, nil
	})
	if err != nil {
		return err
	}
	if !committed {
		return fmt.Errorf("%w: %s", ErrAccountExists, id)
	}
	return nil
}

// CreateGroup records a pending group owned by the caller.
func (s *Service) CreateGroup(ctx context.Context, ownerID, name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: name is required", ErrInvalidGroup)
	}
	owner, err := s.provider.GetUser(ctx, ownerID)
	if err != nil {
		return "", err
	}
	gid := uuid.NewString()
	group := ledger.Group{Name: name, Owner: ledger.Holder{ID: owner.UID, Name: owner.DisplayName}}
	if err := s.store.Set(ctx, ledger.GroupPath(gid), group); err != nil {
		return "", err
	}
	s.notify(ctx, notification.KindUserPending, notification.Moderators, fmt.Sprintf("group %s (%s) is waiting for approval", name, gid))
	return gid, nil
}

// Balance returns the projected balance of an account the caller may read.
func (s *Service) Balance(ctx context.Context, callerID, accountID string) (balance.View, error) {
	if err := s.authorizeRead(ctx, callerID, accountID); err != nil {
		return balance.View{}, err
	}
	return s.engine.Balance(ctx, accountID)
}

// Refresh re-derives an account the caller may read.
func (s *Service) Refresh(ctx context.Context, callerID, accountID string) (balance.View, error) {
	if err := s.authorizeRead(ctx, callerID, accountID); err != nil {
		return balance.View{}, err
	}
	return s.engine.Refresh(ctx, accountID)
}

func (s *Service) authorizeRead(ctx context.Context, callerID, accountID string) error {
	if callerID == "" {
		return ErrForbidden
	}
	if callerID == accountID {
		return nil
	}
	var d ledger.Delegation
	ok, err := s.store.Get(ctx, ledger.DelegationPath(accountID, callerID), &d)
	if err != nil {
		return err
	}
	if !ok || !(d.Read || d.Manage) {
		return ErrForbidden
	}
	return nil
}

func (s *Service) notify(ctx context.Context, kind, destination, body string) {
	if s.notifier == nil {
		return
	}
	_ = s.notifier.Send(ctx, notification.Message{Kind: kind, Destination: destination, Body: body})
}
