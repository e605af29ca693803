package flows

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kompanio/timebank/internal/balance"
	"github.com/kompanio/timebank/internal/ledger"
	"github.com/kompanio/timebank/internal/logging"
	"github.com/kompanio/timebank/internal/store"
	"github.com/kompanio/timebank/internal/trigger"
)

var t0 = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

type fixture struct {
	ctx     context.Context
	store   *store.Store
	engine  *balance.Engine
	service *Service
	now     time.Time
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{ctx: context.Background(), now: t0}
	d := trigger.NewDispatcher(logging.Discard())
	f.store = store.New(store.NewMemoryBackend(), store.WithSink(d))
	f.engine = balance.NewEngine(f.store, logging.Discard(), balance.WithClock(func() time.Time { return f.now }))
	f.service = NewService(f.store, f.engine, logging.Discard())
	f.engine.Register(d)
	f.service.Register(d)
	return f
}

func (f *fixture) account(t *testing.T, id string, kind ledger.AccountType) {
	t.Helper()
	s := ledger.NewState(kind, f.now, f.now)
	s.Ongoing.NextUpdate = nil
	require.NoError(t, f.store.Set(f.ctx, ledger.StatePath(id), s))
}

func (f *fixture) leg(t *testing.T, accountID, flowID string) (ledger.FlowLeg, bool) {
	t.Helper()
	var leg ledger.FlowLeg
	ok, err := f.store.Get(f.ctx, ledger.FlowLegPath(accountID, flowID), &leg)
	require.NoError(t, err)
	return leg, ok
}

func (f *fixture) state(t *testing.T, id string) ledger.State {
	t.Helper()
	var s ledger.State
	ok, err := f.store.Get(f.ctx, ledger.StatePath(id), &s)
	require.NoError(t, err)
	require.True(t, ok)
	return s
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestFanOutDirectFlow(t *testing.T) {
	f := setup(t)
	flow := ledger.Flow{
		From:   ledger.Ref{ID: "alice", Name: "Alice"},
		To:     ledger.Ref{ID: "bob", Name: "Bob"},
		Amount: dec(2),
		Start:  t0,
	}

	writes, err := f.service.FanOut(f.ctx, "f1", flow)
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, ledger.FlowLegPath("alice", "f1"), writes[0].Path)
	assert.True(t, writes[0].Value.(ledger.FlowLeg).Amount.Equal(dec(-2)))
	assert.Equal(t, ledger.FlowLegPath("bob", "f1"), writes[1].Path)
	assert.True(t, writes[1].Value.(ledger.FlowLeg).Amount.Equal(dec(2)))
}

func TestFanOutRejectsUnresolvedEndpoints(t *testing.T) {
	f := setup(t)
	_, err := f.service.FanOut(f.ctx, "f1", ledger.Flow{Amount: dec(1), Start: t0})
	assert.ErrorIs(t, err, ErrUnresolvedFlow)

	err = f.service.PutFlow(f.ctx, "f1", ledger.Flow{Amount: dec(1), Start: t0})
	assert.ErrorIs(t, err, ErrUnresolvedFlow)
}

func TestFanOutBroadcastsToMembers(t *testing.T) {
	f := setup(t)
	for _, m := range []string{"m1", "m2", "m3"} {
		require.NoError(t, f.service.Join(f.ctx, "club", m))
	}
	flow := ledger.Flow{To: ledger.Ref{ID: "club", Name: "Club", Label: "dues"}, Amount: dec(5), Start: t0}

	writes, err := f.service.FanOut(f.ctx, "dues", flow)
	require.NoError(t, err)
	require.Len(t, writes, 4)
	for _, w := range writes[:3] {
		leg := w.Value.(ledger.FlowLeg)
		assert.True(t, leg.Amount.Equal(dec(-5)), "members pay the full rate")
		assert.Equal(t, "club", leg.Account)
		assert.Zero(t, leg.NbAccount)
	}
	agg := writes[3].Value.(ledger.FlowLeg)
	assert.Equal(t, ledger.FlowLegPath("club", "dues"), writes[3].Path)
	assert.True(t, agg.Amount.Equal(dec(15)))
	assert.Equal(t, 3, agg.NbAccount)
	assert.Equal(t, ledger.NetworkAccountID, agg.Account)
}

func TestMemberLeavingRescalesAggregate(t *testing.T) {
	f := setup(t)
	f.account(t, "club", ledger.AccountPublic)
	for _, m := range []string{"m1", "m2", "m3"} {
		f.account(t, m, ledger.AccountPersonal)
		require.NoError(t, f.service.Join(f.ctx, "club", m))
	}
	flow := ledger.Flow{To: ledger.Ref{ID: "club", Name: "Club"}, Amount: dec(5), Start: t0}
	require.NoError(t, f.service.PutFlow(f.ctx, "dues", flow))

	agg, ok := f.leg(t, "club", "dues")
	require.True(t, ok)
	assert.True(t, agg.Amount.Equal(dec(15)))
	assert.Equal(t, 3, agg.NbAccount)
	assert.True(t, f.state(t, "club").Ongoing.Balance.Equal(dec(15)))

	f.now = t0.Add(time.Minute)
	require.NoError(t, f.service.Leave(f.ctx, "club", "m2"))

	agg, ok = f.leg(t, "club", "dues")
	require.True(t, ok)
	assert.True(t, agg.Amount.Equal(dec(10)), "aggregate drops by exactly one member rate")
	assert.Equal(t, 2, agg.NbAccount)
	_, ok = f.leg(t, "m2", "dues")
	assert.False(t, ok, "departing member's leg is cleared")
	assert.True(t, f.state(t, "club").Ongoing.Balance.Equal(dec(10)))
	assert.True(t, f.state(t, "m2").Ongoing.Balance.IsZero())

	// A replayed leave must not rescale again.
	require.NoError(t, f.service.onMember(f.ctx, trigger.Event{
		Params:   map[string]string{"accountId": "club", "memberId": "m2"},
		Previous: []byte(`true`),
	}))
	agg, _ = f.leg(t, "club", "dues")
	assert.Equal(t, 2, agg.NbAccount)

	require.NoError(t, f.service.Join(f.ctx, "club", "m4"))
	agg, _ = f.leg(t, "club", "dues")
	assert.True(t, agg.Amount.Equal(dec(15)))
	assert.Equal(t, 3, agg.NbAccount)
	m4, ok := f.leg(t, "m4", "dues")
	require.True(t, ok)
	assert.True(t, m4.Amount.Equal(dec(-5)))
}

func TestMemberJoiningPayingGroup(t *testing.T) {
	f := setup(t)
	f.account(t, "fund", ledger.AccountPublic)
	require.NoError(t, f.service.PutFlow(f.ctx, "stipend", ledger.Flow{
		From:   ledger.Ref{ID: "fund", Name: "Fund"},
		Amount: dec(3),
		Start:  t0,
	}))

	agg, ok := f.leg(t, "fund", "stipend")
	require.True(t, ok)
	assert.True(t, agg.Amount.IsZero())

	require.NoError(t, f.service.Join(f.ctx, "fund", "m1"))
	agg, _ = f.leg(t, "fund", "stipend")
	assert.True(t, agg.Amount.Equal(dec(-3)))
	assert.Equal(t, 1, agg.NbAccount)
	m1, ok := f.leg(t, "m1", "stipend")
	require.True(t, ok)
	assert.True(t, m1.Amount.Equal(dec(3)))
}

func TestFlowDeletionRemovesLegsAndReversesRate(t *testing.T) {
	f := setup(t)
	f.account(t, "alice", ledger.AccountPersonal)
	f.account(t, "bob", ledger.AccountPersonal)

	flow := ledger.Flow{
		From:   ledger.Ref{ID: "alice"},
		To:     ledger.Ref{ID: "bob"},
		Amount: dec(2),
		Start:  t0,
	}
	require.NoError(t, f.service.PutFlow(f.ctx, "rent", flow))
	assert.True(t, f.state(t, "bob").Ongoing.Balance.Equal(dec(2)))
	assert.True(t, f.state(t, "alice").Ongoing.Balance.Equal(dec(-2)))

	f.now = t0.Add(time.Hour)
	require.NoError(t, f.service.DeleteFlow(f.ctx, "rent"))

	for _, id := range []string{"alice", "bob"} {
		_, ok := f.leg(t, id, "rent")
		assert.False(t, ok)
		s := f.state(t, id)
		assert.True(t, s.Ongoing.Balance.IsZero())
		assert.True(t, s.Current.Balance.IsZero())
	}
}

func TestFlowRetargetClearsStaleLeg(t *testing.T) {
	f := setup(t)
	flow := ledger.Flow{From: ledger.Ref{ID: "alice"}, To: ledger.Ref{ID: "bob"}, Amount: dec(1), Start: t0}
	require.NoError(t, f.service.PutFlow(f.ctx, "f1", flow))

	flow.To = ledger.Ref{ID: "carol"}
	require.NoError(t, f.service.PutFlow(f.ctx, "f1", flow))

	_, ok := f.leg(t, "bob", "f1")
	assert.False(t, ok)
	_, ok = f.leg(t, "carol", "f1")
	assert.True(t, ok)
	_, ok = f.leg(t, "alice", "f1")
	assert.True(t, ok)
}

func TestUniversalBudgetBecomesLegAndRefreshes(t *testing.T) {
	f := setup(t)
	f.account(t, "GIG-7", ledger.AccountPublic)

	require.NoError(t, f.service.SetUniversalMembers(f.ctx, "2024-05-01", 10))
	f.now = t0.Add(time.Second)
	require.NoError(t, f.service.PutUniversalBudget(f.ctx, "2024-05-01", "GIG-7", ledger.UniversalBudget{Amount: dec(2), Label: "ubi"}))

	var leg ledger.FlowLeg
	ok, err := f.store.Get(f.ctx, ledger.UniversalLegPath("GIG-7", "2024-05-01"), &leg)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, leg.Amount.Equal(dec(-20)))
	assert.Equal(t, ledger.NetworkAccountID, leg.Account)
	assert.Equal(t, "ubi", leg.Label)

	s := f.state(t, "GIG-7")
	assert.True(t, s.Ongoing.Balance.Equal(dec(-20)))
	assert.True(t, s.Current.Balance.Equal(dec(-20).Mul(ledger.Millis(time.Second))))
}

func TestUniversalBudgetSkipsNonGIGAndMissingMembers(t *testing.T) {
	f := setup(t)
	f.account(t, "plain", ledger.AccountPersonal)
	f.account(t, "GIG-8", ledger.AccountPublic)

	require.NoError(t, f.service.SetUniversalMembers(f.ctx, "2024-05-01", 4))
	require.NoError(t, f.service.PutUniversalBudget(f.ctx, "2024-05-01", "plain", ledger.UniversalBudget{Amount: dec(1)}))
	children, err := f.store.Children(f.ctx, ledger.UniversalLegsPath("plain"))
	require.NoError(t, err)
	assert.Empty(t, children)

	require.NoError(t, f.service.PutUniversalBudget(f.ctx, "2024-06-01", "GIG-8", ledger.UniversalBudget{Amount: dec(1)}))
	children, err = f.store.Children(f.ctx, ledger.UniversalLegsPath("GIG-8"))
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestPutFlowValidation(t *testing.T) {
	f := setup(t)
	end := t0.Add(-time.Hour)
	err := f.service.PutFlow(f.ctx, "f", ledger.Flow{From: ledger.Ref{ID: "a"}, Amount: dec(1), Start: t0, End: &end})
	assert.ErrorIs(t, err, ErrInvalidFlow)

	err = f.service.PutFlow(f.ctx, "f", ledger.Flow{From: ledger.Ref{ID: "a"}, Start: t0})
	assert.ErrorIs(t, err, ErrInvalidFlow)

	err = f.service.SetUniversalMembers(f.ctx, "not-a-date", 1)
	assert.ErrorIs(t, err, ErrInvalidBudget)
}

func TestSelfFlowIsRefused(t *testing.T) {
	f := setup(t)
	f.account(t, "alice", ledger.AccountPersonal)

	self := ledger.Flow{From: ledger.Ref{ID: "alice"}, To: ledger.Ref{ID: "alice"}, Amount: dec(3), Start: t0.Add(-time.Minute)}
	assert.ErrorIs(t, f.service.PutFlow(f.ctx, "f1", self), ErrInvalidFlow)
	_, err := f.service.FanOut(f.ctx, "f1", self)
	assert.ErrorIs(t, err, ErrInvalidFlow)

	// Retargeting a valid flow onto its own emitter clears the old legs.
	require.NoError(t, f.service.PutFlow(f.ctx, "f1", ledger.Flow{From: ledger.Ref{ID: "alice"}, To: ledger.Ref{ID: "bob"}, Amount: dec(3), Start: t0}))
	_, ok := f.leg(t, "alice", "f1")
	require.True(t, ok)
	require.NoError(t, f.store.Set(f.ctx, ledger.FlowPath("f1"), self))
	_, ok = f.leg(t, "alice", "f1")
	assert.False(t, ok)
	_, ok = f.leg(t, "bob", "f1")
	assert.False(t, ok)

	s := f.state(t, "alice")
	assert.True(t, s.Current.Balance.IsZero())
	assert.True(t, s.Ongoing.Balance.IsZero())
}

func TestMalformedIDsAreRefused(t *testing.T) {
	f := setup(t)
	flow := ledger.Flow{From: ledger.Ref{ID: "alice"}, To: ledger.Ref{ID: "bob/state"}, Amount: dec(1), Start: t0}
	assert.ErrorIs(t, f.service.PutFlow(f.ctx, "f1", flow), ErrInvalidFlow)

	flow.To.ID = "bob"
	assert.ErrorIs(t, f.service.PutFlow(f.ctx, "a/b", flow), ErrInvalidFlow)
	assert.ErrorIs(t, f.service.Join(f.ctx, "GIG-1", "../x"), ErrInvalidFlow)
	assert.ErrorIs(t, f.service.Join(f.ctx, "GIG-1", "GIG-1"), ErrInvalidFlow)
	assert.ErrorIs(t, f.service.PutUniversalBudget(f.ctx, "2024-05-01", "GIG/1", ledger.UniversalBudget{Amount: dec(1)}), ErrInvalidBudget)

	children, err := f.store.Children(f.ctx, ledger.FlowsPath)
	require.NoError(t, err)
	assert.Empty(t, children)
}
