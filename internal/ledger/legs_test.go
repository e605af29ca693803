package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func sampleFlow() Flow {
	return Flow{
		From:   Ref{ID: "alice", Name: "Alice", Label: "rent"},
		To:     Ref{ID: "bob", Name: "Bob", Label: "income"},
		Amount: dec(3),
		Start:  t0,
		End:    ptr(at(time.Hour)),
		By:     &Holder{ID: "alice", Name: "Alice"},
	}
}

func TestLegFromIsNegationOfLegTo(t *testing.T) {
	f := sampleFlow()

	to := LegTo(f, nil)
	from := LegFrom(f, nil)

	assert.True(t, from.Amount.Equal(to.Amount.Neg()))
	assert.Equal(t, "alice", to.Account)
	assert.Equal(t, "bob", from.Account)
	assert.Equal(t, "Alice", to.Name)
	assert.Equal(t, "Bob", from.Name)
	assert.Equal(t, "income", to.Label)
	assert.Equal(t, "rent", from.Label)
	assert.Equal(t, to.Start, from.Start)
	assert.Equal(t, to.End, from.End)
	assert.Equal(t, to.By, from.By)
	assert.Zero(t, to.NbAccount)
}

func TestLegFallsBackToNetworkRoot(t *testing.T) {
	f := sampleFlow()
	f.From = Ref{}

	assert.Equal(t, NetworkAccountID, LegTo(f, nil).Account)
}

func TestLegMultiplierScalesAmount(t *testing.T) {
	f := sampleFlow()
	n := 4

	leg := LegFrom(f, &n)

	assert.True(t, leg.Amount.Equal(dec(-12)))
	assert.Equal(t, 4, leg.NbAccount)
}

func TestPaymentLegs(t *testing.T) {
	p := Payment{
		From:    Ref{ID: "alice", Name: "Alice", Label: "gift"},
		To:      Ref{ID: "bob", Name: "Bob", Label: "thanks"},
		Amount:  dec(60),
		Created: t0,
		By:      &Holder{ID: "carol"},
	}

	from, to := p.Legs()

	assert.True(t, from.Amount.Equal(dec(-60)))
	assert.Equal(t, "bob", from.Account)
	assert.Equal(t, "gift", from.Label)
	assert.True(t, to.Amount.Equal(dec(60)))
	assert.Equal(t, "alice", to.Account)
	assert.Equal(t, "thanks", to.Label)
	assert.Equal(t, p.By, to.By)
}
