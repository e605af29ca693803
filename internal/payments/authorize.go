// Package payments authorizes card payments and books them as per-account
// payment legs.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/store"
)

// Rejection is the reason a payment was refused. It is returned as an error by
// Authorize and recorded on the payment.
type Rejection string

func (r Rejection) Error() string { return string(r) }

// Rejections in the order Authorize checks them.
const (
	RejectBadAmount         Rejection = "bad_amount"
	RejectBadAuthType       Rejection = "bad_auth_type"
	RejectInvalidCard       Rejection = "invalid_card_id"
	RejectCardBlacklisted   Rejection = "card_blacklisted"
	RejectBadSignature      Rejection = "bad_signature"
	RejectMissingSignature  Rejection = "missing_signature"
	RejectBadRecipient      Rejection = "bad_recipient"
	RejectRecipientQuota    Rejection = "recipient_quota_exceed"
	RejectBadCardAccount    Rejection = "bad_card_account"
	RejectInsufficientFunds Rejection = "insufisiant_funds"
)

// Authorizer validates card payments against the card registry and the states
// of both accounts. It never writes.
type Authorizer struct {
	store *store.Store
	now   func() time.Time
}

// NewAuthorizer constructs an authorizer reading from s.
func NewAuthorizer(s *store.Store, now func() time.Time) *Authorizer {
	if now == nil {
		now = time.Now
	}
	return &Authorizer{store: s, now: now}
}

// Sign computes the signature a card holder attaches to a payment:
// base64(HMAC-SHA256(secret, "card:to:amount")).
func Sign(secret, cardID, toID string, amount decimal.Decimal) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(cardID + ":" + toID + ":" + amount.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Authorize returns the card that backs p, or the first Rejection that applies.
// Any other error is a store failure.
func (a *Authorizer) Authorize(ctx context.Context, p ledger.Payment) (ledger.Card, error) {
	now := a.now().UTC().Truncate(time.Millisecond)

	if !p.Amount.IsPositive() {
		return ledger.Card{}, RejectBadAmount
	}
	if p.Authorization == nil || p.Authorization.Type != ledger.AuthorizationCard {
		return ledger.Card{}, RejectBadAuthType
	}
	auth := p.Authorization

	var card ledger.Card
	if !ledger.ValidID(auth.Card) {
		return ledger.Card{}, RejectInvalidCard
	}
	ok, err := a.store.Get(ctx, ledger.CardPath(auth.Card), &card)
	if err != nil {
		return ledger.Card{}, fmt.Errorf("load card: %w", err)
	}
	if !ok {
		return ledger.Card{}, RejectInvalidCard
	}
	if !card.Valid {
		return ledger.Card{}, RejectCardBlacklisted
	}

	if auth.Signature != "" {
		expected := Sign(card.Secret, auth.Card, p.To.ID, p.Amount)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(auth.Signature)) != 1 {
			return ledger.Card{}, RejectBadSignature
		}
	} else if p.Amount.GreaterThan(ledger.SecureAmountMin) {
		return ledger.Card{}, RejectMissingSignature
	}

	if err := a.checkRecipient(ctx, p.To.ID, now); err != nil {
		return ledger.Card{}, err
	}

	if card.Account.ID == "" {
		return ledger.Card{}, RejectBadCardAccount
	}
	if card.Account.ID == p.To.ID {
		return ledger.Card{}, RejectBadRecipient
	}
	if err := a.checkFunds(ctx, card.Account.ID, p.Amount, now); err != nil {
		return ledger.Card{}, err
	}
	return card, nil
}

// CheckRecipient rejects a recipient that has no account or, for a person,
// one that would exceed its income quota.
func (a *Authorizer) CheckRecipient(ctx context.Context, accountID string) error {
	return a.checkRecipient(ctx, accountID, a.now().UTC().Truncate(time.Millisecond))
}

func (a *Authorizer) checkRecipient(ctx context.Context, accountID string, now time.Time) error {
	if !ledger.ValidID(accountID) {
		return RejectBadRecipient
	}
	var to ledger.State
	ok, err := a.store.Get(ctx, ledger.StatePath(accountID), &to)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if !ok {
		return RejectBadRecipient
	}
	if to.Type == ledger.AccountPersonal {
		// A person cannot have earned more time than they have lived.
		income := to.Current.Income.Add(to.Ongoing.Income.Mul(ledger.Millis(now.Sub(to.Ongoing.Updated))))
		if income.GreaterThan(ledger.Millis(now.Sub(to.Created))) {
			return RejectRecipientQuota
		}
	}
	return nil
}

// CheckFunds rejects an amount the account's projected balance cannot cover.
func (a *Authorizer) CheckFunds(ctx context.Context, accountID string, amount decimal.Decimal) error {
	return a.checkFunds(ctx, accountID, amount, a.now().UTC().Truncate(time.Millisecond))
}

func (a *Authorizer) checkFunds(ctx context.Context, accountID string, amount decimal.Decimal, now time.Time) error {
	var from ledger.State
	ok, err := a.store.Get(ctx, ledger.StatePath(accountID), &from)
	if err != nil {
		return fmt.Errorf("load emitter: %w", err)
	}
	if !ok {
		return RejectBadCardAccount
	}
	if from.Projected(now).Sub(amount).IsNegative() {
		return RejectInsufficientFunds
	}
	return nil
}
