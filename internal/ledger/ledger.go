// Package ledger holds the time-credit data model and the pure arithmetic that
// keeps an account's settled and ongoing balances consistent. Nothing in this
// package performs I/O.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// NetworkAccountID is the implicit counterparty of unresolved flow endpoints.
	NetworkAccountID = "KOMPANIO-NETWORK"
	// NetworkName is the display name used on legs emitted by the network root.
	NetworkName = "Kompanio Network"

	// UniversalAccountPrefix marks accounts eligible for universal budgets.
	UniversalAccountPrefix = "GIG"
)

// SecureAmountMin is the largest amount a card may pay without a signature
// (five hours of time-credits).
var SecureAmountMin = decimal.NewFromInt((5 * time.Hour).Milliseconds())

// AccountType distinguishes personal, group and network accounts.
type AccountType string

const (
	AccountPersonal AccountType = "personal"
	AccountPublic   AccountType = "public"
	AccountNetwork  AccountType = "network"
)

// Current is the settled ledger snapshot as of Updated.
type Current struct {
	Balance decimal.Decimal `json:"balance"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Updated time.Time       `json:"updated"`
}

// Ongoing is the instantaneous rate in effect. Balance is the net rate in
// credits per millisecond, Updated the last time it was folded into Current.
// NextUpdate is the nearest rate edge not yet folded in.
type Ongoing struct {
	Balance    decimal.Decimal `json:"balance"`
	Income     decimal.Decimal `json:"income"`
	Expense    decimal.Decimal `json:"expense"`
	Updated    time.Time       `json:"updated"`
	NextUpdate *time.Time      `json:"nextUpdate,omitempty"`
}

// State is the document stored at accounts/{id}/state.
type State struct {
	Type    AccountType `json:"type"`
	Created time.Time   `json:"created"`
	Current Current     `json:"current"`
	Ongoing Ongoing     `json:"ongoing"`

	// Applied records, per posting key, the amount already reflected in the
	// balances so that a replayed change is recognised and skipped.
	Applied map[string]decimal.Decimal `json:"applied,omitempty"`
}

// NewState returns a zero-balance state stamped at created.
func NewState(kind AccountType, created, now time.Time) State {
	next := now
	return State{
		Type:    kind,
		Created: created,
		Current: Current{Updated: created},
		Ongoing: Ongoing{Updated: created, NextUpdate: &next},
	}
}

// Ref points at an account from a flow or payment endpoint. An empty ID is the
// unresolved sentinel.
type Ref struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Label string `json:"label,omitempty"`
}

// Resolved reports whether the endpoint names a concrete account.
func (r Ref) Resolved() bool { return r.ID != "" }

// Holder identifies the person acting for an account.
type Holder struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Flow is a continuous-rate transfer stored at flows/{flowId}.
type Flow struct {
	From   Ref             `json:"from"`
	To     Ref             `json:"to"`
	Amount decimal.Decimal `json:"amount"`
	Start  time.Time       `json:"start"`
	End    *time.Time      `json:"end,omitempty"`
	By     *Holder         `json:"by,omitempty"`
}

// FlowLeg is the per-account view of a flow, stored at
// accounts/{id}/flows/{flowId}.
type FlowLeg struct {
	Amount    decimal.Decimal `json:"amount"`
	Account   string          `json:"account"`
	By        *Holder         `json:"by,omitempty"`
	Name      string          `json:"name,omitempty"`
	Label     string          `json:"label,omitempty"`
	Start     time.Time       `json:"start"`
	End       *time.Time      `json:"end,omitempty"`
	NbAccount int             `json:"nbAccount,omitempty"`
}

// Authorization carries the credential used by an unresolved payment.
type Authorization struct {
	Type      string `json:"type"`
	Card      string `json:"card,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// AuthorizationCard is the only supported authorization type.
const AuthorizationCard = "card"

// Payment is a one-off transfer stored at payments/{paymentId}.
type Payment struct {
	From          Ref             `json:"from"`
	To            Ref             `json:"to"`
	Amount        decimal.Decimal `json:"amount"`
	Authorization *Authorization  `json:"authorization,omitempty"`
	Created       time.Time       `json:"created"`
	By            *Holder         `json:"by,omitempty"`
	Posted        bool            `json:"posted,omitempty"`
	Rejected      string          `json:"rejected,omitempty"`
}

// PaymentLeg is the per-account view of a payment, stored at
// accounts/{id}/payments/{paymentId}.
type PaymentLeg struct {
	Created time.Time       `json:"created"`
	Amount  decimal.Decimal `json:"amount"`
	Account string          `json:"account"`
	By      *Holder         `json:"by,omitempty"`
	Name    string          `json:"name,omitempty"`
	Label   string          `json:"label,omitempty"`
}

// Legs returns the emitter and recipient legs of a resolved payment.
func (p Payment) Legs() (from, to PaymentLeg) {
	from = PaymentLeg{
		Created: p.Created,
		Amount:  p.Amount.Neg(),
		Account: p.To.ID,
		By:      p.By,
		Name:    p.To.Name,
		Label:   p.From.Label,
	}
	to = PaymentLeg{
		Created: p.Created,
		Amount:  p.Amount,
		Account: p.From.ID,
		By:      p.By,
		Name:    p.From.Name,
		Label:   p.To.Label,
	}
	return from, to
}

// Card is a payment credential bound to one emitter account.
type Card struct {
	Secret  string  `json:"secret"`
	Valid   bool    `json:"valid"`
	Account Ref     `json:"account"`
	Older   *Holder `json:"older,omitempty"`
}

// UniversalBudget is the per-account entry of universal/{date}/flows/{accountId}.
type UniversalBudget struct {
	Amount decimal.Decimal `json:"amount"`
	End    *time.Time      `json:"end,omitempty"`
	Label  string          `json:"label,omitempty"`
}

// Delegation grants a user rights over an account.
type Delegation struct {
	Name     string `json:"name"`
	Delegate string `json:"delegate"`
	Manage   bool   `json:"manage"`
	Read     bool   `json:"read"`
	Pay      bool   `json:"pay"`
	Collect  bool   `json:"collect"`
}

// Group is a pending public account stored at groups/{gid}.
type Group struct {
	Name  string `json:"name"`
	Owner Holder `json:"owner"`
}
