package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func at(d time.Duration) time.Time { return t0.Add(d) }

func ptr(t time.Time) *time.Time { return &t }

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func seeded(fold time.Time) State {
	return State{
		Type:    AccountPersonal,
		Created: t0,
		Current: Current{Balance: dec(500), Income: dec(700), Expense: dec(-200), Updated: fold},
		Ongoing: Ongoing{Balance: dec(3), Income: dec(3), Updated: fold},
	}
}

func requireBalanced(t *testing.T, s State) {
	t.Helper()
	require.True(t, s.Current.Balance.Equal(s.Current.Income.Add(s.Current.Expense)),
		"balance %s != income %s + expense %s", s.Current.Balance, s.Current.Income, s.Current.Expense)
	require.False(t, s.Current.Income.IsNegative())
	require.False(t, s.Current.Expense.IsPositive())
}

func TestIntegrateEmptyOnlyStampsTimestamps(t *testing.T) {
	s := seeded(at(time.Second))
	now := at(time.Minute)

	out := Integrate(now, s, nil)

	assert.True(t, out.Current.Balance.Equal(dec(500)))
	assert.True(t, out.Ongoing.Balance.IsZero())
	assert.Equal(t, now, out.Current.Updated)
	assert.Equal(t, now, out.Ongoing.Updated)
}

func TestIntegrateWithoutOverlapLeavesCurrentUnchanged(t *testing.T) {
	fold := at(10 * time.Second)
	now := at(20 * time.Second)
	s := seeded(fold)

	out := Integrate(now, s, []Interval{
		{Start: at(30 * time.Second), Rate: dec(4)},
		{Start: at(0), End: ptr(at(5 * time.Second)), Rate: dec(-2)},
		{Start: at(time.Second), End: ptr(fold), Rate: dec(9)},
	})

	assert.Equal(t, s.Current.Balance, out.Current.Balance)
	assert.Equal(t, s.Current.Income, out.Current.Income)
	assert.Equal(t, s.Current.Expense, out.Current.Expense)
	assert.True(t, out.Ongoing.Balance.IsZero())
	requireBalanced(t, out)
}

func TestIntegrateIntervalInsideWindow(t *testing.T) {
	fold := at(0)
	now := at(time.Minute)
	s := seeded(fold)

	out := Integrate(now, s, []Interval{
		{Start: at(10 * time.Second), End: ptr(at(25 * time.Second)), Rate: dec(2)},
	})

	want := dec(500).Add(dec(2).Mul(Millis(15 * time.Second)))
	assert.True(t, out.Current.Balance.Equal(want), "got %s want %s", out.Current.Balance, want)
	assert.True(t, out.Ongoing.Balance.IsZero())
	requireBalanced(t, out)
}

func TestIntegrateStraddlingFoldPointIsInEffect(t *testing.T) {
	fold := at(time.Minute)
	now := at(3 * time.Minute)
	s := seeded(fold)

	out := Integrate(now, s, []Interval{
		{Start: at(0), Rate: dec(-1)},
		{Start: at(0), End: ptr(at(time.Hour)), Rate: dec(5)},
	})

	span := Millis(2 * time.Minute)
	assert.True(t, out.Current.Income.Equal(dec(700).Add(dec(5).Mul(span))))
	assert.True(t, out.Current.Expense.Equal(dec(-200).Sub(span)))
	assert.True(t, out.Ongoing.Balance.Equal(dec(4)))
	assert.True(t, out.Ongoing.Income.Equal(dec(5)))
	assert.True(t, out.Ongoing.Expense.Equal(dec(-1)))
	requireBalanced(t, out)
}

func TestIntegrateSplitsBySignOfContribution(t *testing.T) {
	fold := at(0)
	now := at(10 * time.Millisecond)
	s := State{Current: Current{Updated: fold}, Ongoing: Ongoing{Updated: fold}}

	out := Integrate(now, s, []Interval{
		{Start: at(0), End: ptr(at(4 * time.Millisecond)), Rate: dec(-3)},
		{Start: at(2 * time.Millisecond), End: ptr(at(6 * time.Millisecond)), Rate: dec(2)},
	})

	assert.True(t, out.Current.Expense.Equal(dec(-12)))
	assert.True(t, out.Current.Income.Equal(dec(8)))
	assert.True(t, out.Current.Balance.Equal(dec(-4)))
	requireBalanced(t, out)
}

func TestNextEdge(t *testing.T) {
	now := at(time.Hour)
	intervals := []Interval{
		{Start: at(0), End: ptr(at(3 * time.Hour))},
		{Start: at(2 * time.Hour)},
		{Start: at(0), End: ptr(at(30 * time.Minute))},
	}

	next := NextEdge(now, intervals)
	require.NotNil(t, next)
	assert.Equal(t, at(2*time.Hour), *next)

	assert.Nil(t, NextEdge(at(4*time.Hour), intervals))
}
