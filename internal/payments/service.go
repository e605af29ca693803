package payments

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/notification"
	"github.com/kompanio/timebank/internal/store"
	"github.com/kompanio/timebank/internal/trigger"
)

// PaymentPattern matches payment records.
const PaymentPattern = "payments/{paymentId}"

var (
	// ErrInvalidPayment reports a payment request that cannot be recorded.
	ErrInvalidPayment = errors.New("invalid payment")
	// ErrNotDelegate indicates the caller may not pay from the named account.
	ErrNotDelegate = errors.New("caller may not pay from this account")
	// ErrCardNotFound indicates the card id is unknown.
	ErrCardNotFound = errors.New("card not found")
)

// Service records payments and drives them from authorization to posting.
type Service struct {
	store      *store.Store
	authorizer *Authorizer
	notifier   notification.Notifier
	logger     *slog.Logger
	now        func() time.Time
}

// NewService constructs a payment service.
func NewService(s *store.Store, authorizer *Authorizer, notifier notification.Notifier, logger *slog.Logger) *Service {
	return &Service{store: s, authorizer: authorizer, notifier: notifier, logger: logger, now: authorizer.now}
}

// Register wires the service to payment changes.
func (s *Service) Register(d *trigger.Dispatcher) {
	d.On(PaymentPattern, s.onPayment)
}

// Authorize runs the authorization checks without recording anything.
func (s *Service) Authorize(ctx context.Context, p ledger.Payment) (ledger.Card, error) {
	return s.authorizer.Authorize(ctx, p)
}

// Create records p under a fresh id. A payment naming its emitter is only
// accepted from the account itself or a delegate allowed to pay, and is checked
// against the recipient and the emitter's funds before it is recorded.
func (s *Service) Create(ctx context.Context, callerID string, p ledger.Payment) (string, error) {
	if !p.Amount.IsPositive() {
		return "", fmt.Errorf("%w: amount must be positive", ErrInvalidPayment)
	}
	if !p.To.Resolved() {
		return "", fmt.Errorf("%w: recipient is required", ErrInvalidPayment)
	}
	if !ledger.ValidID(p.To.ID) || (p.From.Resolved() && !ledger.ValidID(p.From.ID)) {
		return "", fmt.Errorf("%w: malformed account id", ErrInvalidPayment)
	}
	if p.From.ID == p.To.ID {
		return "", fmt.Errorf("%w: emitter and recipient are the same account", ErrInvalidPayment)
	}
	if p.From.Resolved() {
		allowed, err := s.canPay(ctx, callerID, p.From.ID)
		if err != nil {
			return "", err
		}
		if !allowed {
			return "", ErrNotDelegate
		}
		if err := s.authorizer.CheckRecipient(ctx, p.To.ID); err != nil {
			return "", err
		}
		if err := s.authorizer.CheckFunds(ctx, p.From.ID, p.Amount); err != nil {
			return "", err
		}
	} else if p.Authorization == nil {
		return "", fmt.Errorf("%w: an authorization is required", ErrInvalidPayment)
	}

	p.Created = s.now().UTC().Truncate(time.Millisecond)
	p.Posted = false
	p.Rejected = ""
	id := uuid.NewString()
	if err := s.store.Set(ctx, ledger.PaymentPath(id), p); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) canPay(ctx context.Context, callerID, accountID string) (bool, error) {
	if callerID == accountID {
		return true, nil
	}
	var d ledger.Delegation
	ok, err := s.store.Get(ctx, ledger.DelegationPath(accountID, callerID), &d)
	if err != nil {
		return false, err
	}
	return ok && d.Pay, nil
}

// Get returns the payment record.
func (s *Service) Get(ctx context.Context, paymentID string) (ledger.Payment, bool, error) {
	var p ledger.Payment
	ok, err := s.store.Get(ctx, ledger.PaymentPath(paymentID), &p)
	return p, ok, err
}

// PutCard registers or replaces a card.
func (s *Service) PutCard(ctx context.Context, cardID string, card ledger.Card) error {
	if !ledger.ValidID(cardID) {
		return fmt.Errorf("%w: malformed card id", ErrInvalidPayment)
	}
	if card.Secret == "" || !card.Account.Resolved() {
		return fmt.Errorf("%w: card needs a secret and an account", ErrInvalidPayment)
	}
	if !ledger.ValidID(card.Account.ID) {
		return fmt.Errorf("%w: malformed account id", ErrInvalidPayment)
	}
	return s.store.Set(ctx, ledger.CardPath(cardID), card)
}

// CardAccount returns the account a card is bound to.
func (s *Service) CardAccount(ctx context.Context, cardID string) (ledger.Ref, error) {
	if !ledger.ValidID(cardID) {
		return ledger.Ref{}, ErrCardNotFound
	}
	var card ledger.Card
	ok, err := s.store.Get(ctx, ledger.CardPath(cardID), &card)
	if err != nil {
		return ledger.Ref{}, err
	}
	if !ok {
		return ledger.Ref{}, fmt.Errorf("%w: %s", ErrCardNotFound, cardID)
	}
	return card.Account, nil
}

func (s *Service) onPayment(ctx context.Context, ev trigger.Event) error {
	var p ledger.Payment
	ok, err := ev.Decode(&p)
	if err != nil || !ok {
		return err
	}
	id := ev.Params["paymentId"]

	switch {
	case p.Posted || p.Rejected != "":
		return nil
	case !p.From.Resolved():
		return s.resolve(ctx, id, p)
	case p.From.ID == p.To.ID || !ledger.ValidID(p.From.ID) || !ledger.ValidID(p.To.ID):
		// Both legs would land on one path, or on paths nothing reconciles.
		return s.reject(ctx, id, RejectBadRecipient, true)
	default:
		return s.post(ctx, id, p)
	}
}

// resolve authorizes an unresolved payment and names its emitter, or records
// why it was refused. The resulting change triggers posting.
func (s *Service) resolve(ctx context.Context, id string, p ledger.Payment) error {
	card, err := s.authorizer.Authorize(ctx, p)
	var rejection Rejection
	if errors.As(err, &rejection) {
		return s.reject(ctx, id, rejection, false)
	}
	if err != nil {
		return err
	}

	_, err = store.TransactJSON(ctx, s.store, ledger.PaymentPath(id), func(cur *ledger.Payment) (*ledger.Payment, error) {
		if cur == nil || cur.From.Resolved() || cur.Rejected != "" {
			return nil, store.ErrAbort
		}
		cur.From.ID = card.Account.ID
		cur.From.Name = card.Account.Name
		cur.By = card.Older
		return cur, nil
	})
	if err == nil {
		s.logger.Info("payments.authorized", slog.String("payment", id), slog.String("from", card.Account.ID))
	}
	return err
}

// reject records why a payment was refused. resolved is the emitter state the
// payment must still be in for the rejection to apply.
func (s *Service) reject(ctx context.Context, id string, rejection Rejection, resolved bool) error {
	s.logger.Info("payments.rejected", slog.String("payment", id), slog.String("reason", string(rejection)))
	_, err := store.TransactJSON(ctx, s.store, ledger.PaymentPath(id), func(cur *ledger.Payment) (*ledger.Payment, error) {
		if cur == nil || cur.Posted || cur.Rejected != "" || cur.From.Resolved() != resolved {
			return nil, store.ErrAbort
		}
		cur.Rejected = string(rejection)
		return cur, nil
	})
	return err
}

// post writes both payment legs and marks the payment posted.
func (s *Service) post(ctx context.Context, id string, p ledger.Payment) error {
	from, to := p.Legs()
	err := s.store.Update(ctx, []store.Write{
		{Path: ledger.PaymentLegPath(p.From.ID, id), Value: from},
		{Path: ledger.PaymentLegPath(p.To.ID, id), Value: to},
	})
	if err != nil {
		return fmt.Errorf("store payment legs: %w", err)
	}

	marked, err := store.TransactJSON(ctx, s.store, ledger.PaymentPath(id), func(cur *ledger.Payment) (*ledger.Payment, error) {
		if cur == nil || cur.Posted {
			return nil, store.ErrAbort
		}
		cur.Posted = true
		return cur, nil
	})
	if err != nil || !marked {
		return err
	}
	s.logger.Info("payments.posted", slog.String("payment", id), slog.String("from", p.From.ID), slog.String("to", p.To.ID))

	if s.notifier != nil {
		_ = s.notifier.Send(ctx, notification.Message{
			Kind:        notification.KindPaymentPosted,
			Destination: p.To.ID,
			Body:        fmt.Sprintf("You received %s from %s", p.Amount.String(), p.From.Name),
		})
	}
	return nil
}
