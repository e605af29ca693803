package ledger

import "github.com/shopspring/decimal"

// LegTo is the leg recorded on the receiving side of f. Its counterparty is the
// emitter, or the network root while the emitter is unresolved. A non-nil
// multiplier scales the amount for a group aggregate and is kept in NbAccount.
func LegTo(f Flow, multiplier *int) FlowLeg {
	leg := FlowLeg{
		Amount:  f.Amount,
		Account: counterparty(f.From),
		By:      f.By,
		Name:    f.From.Name,
		Label:   f.To.Label,
		Start:   f.Start,
		End:     f.End,
	}
	scale(&leg, multiplier)
	return leg
}

// LegFrom is the leg recorded on the paying side of f.
func LegFrom(f Flow, multiplier *int) FlowLeg {
	leg := FlowLeg{
		Amount:  f.Amount.Neg(),
		Account: counterparty(f.To),
		By:      f.By,
		Name:    f.To.Name,
		Label:   f.From.Label,
		Start:   f.Start,
		End:     f.End,
	}
	scale(&leg, multiplier)
	return leg
}

func counterparty(r Ref) string {
	if r.Resolved() {
		return r.ID
	}
	return NetworkAccountID
}

func scale(leg *FlowLeg, multiplier *int) {
	if multiplier == nil {
		return
	}
	leg.Amount = leg.Amount.Mul(decimal.NewFromInt(int64(*multiplier)))
	leg.NbAccount = *multiplier
}
