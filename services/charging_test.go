package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"subsplit-backend/models"
	"subsplit-backend/store"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProcessor struct {
	mu    sync.Mutex
	calls []string          // idempotency keys, in submission order
	fail  map[string]string // customerRef -> "error" or a non-success status
	delay time.Duration
}

func (p *fakeProcessor) CreateCharge(ctx context.Context, customerRef string, amountCents int64, currency, idempotencyKey string, metadata map[string]string) (*ChargeResult, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.calls = append(p.calls, idempotencyKey)
	mode := p.fail[customerRef]
	p.mu.Unlock()
	switch mode {
	case "":
		return &ChargeResult{ExternalChargeID: "ch_" + idempotencyKey, Status: ChargeStatusSucceeded}, nil
	case "error":
		return nil, errors.New("card declined")
	default:
		return &ChargeResult{ExternalChargeID: "ch_" + idempotencyKey, Status: mode}, nil
	}
}

func (p *fakeProcessor) ListCharges(ctx context.Context, customerRef string) ([]ChargeResult, error) {
	return nil, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeIssuer struct {
	mu     sync.Mutex
	issued int
}

func (f *fakeIssuer) IssueCard(ctx context.Context, groupID, cardholderRef string) (*IssuedCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.issued++
	return &IssuedCard{CardID: "card_test", Last4: "4242", Expiry: "12/29"}, nil
}

// allConfirmedGroup walks a three-member group to all_confirmed.
func allConfirmedGroup(t *testing.T, db *gorm.DB, st *store.Store, l *Lifecycle) (*models.Group, *models.User, *models.User, *models.User) {
	t.Helper()
	group, leader, bob, carol := threeMemberGroup(t, db, st, l, 1000)
	require.NoError(t, l.Finalize(group.ID, leader.ID))
	require.NoError(t, l.ConfirmShare(group.ID, bob.ID))
	require.NoError(t, l.ConfirmShare(group.ID, carol.ID))
	return group, leader, bob, carol
}

func TestChargeAllSucceed(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, _, _ := allConfirmedGroup(t, db, st, l)

	proc := &fakeProcessor{}
	issuer := &fakeIssuer{}
	o := NewOrchestrator(st, proc, issuer, nil, nil, ChargingConfig{})

	round, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundSucceeded, round.Status)
	require.Len(t, round.Attempts, 3)

	var total int64
	for _, a := range round.Attempts {
		require.Equal(t, models.AttemptSucceeded, a.Outcome)
		require.NotEmpty(t, a.ExternalChargeID)
		total += a.AmountCharged
	}
	require.Equal(t, int64(1000), total)

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseActive, updated.Phase)
	require.NotNil(t, updated.StartDate)

	// card issuance runs off the round path
	require.Eventually(t, func() bool {
		g, err := st.GetGroup(group.ID)
		return err == nil && g.CardID == "card_test" && g.CardLast4 == "4242"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestChargePartialFailureRollsBack(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, _, carol := allConfirmedGroup(t, db, st, l)

	proc := &fakeProcessor{fail: map[string]string{"cus_carol": "error"}}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{})

	round, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundFailed, round.Status)

	// successful charges keep their outcome; nothing is reversed
	var succeeded, failed int
	for _, a := range round.Attempts {
		switch a.Outcome {
		case models.AttemptSucceeded:
			succeeded++
			require.NotEmpty(t, a.ExternalChargeID)
		case models.AttemptFailed:
			failed++
			require.Equal(t, carol.ID, a.UserID)
			require.Equal(t, "card declined", a.FailReason)
		}
	}
	require.Equal(t, 2, succeeded)
	require.Equal(t, 1, failed)

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseAllConfirmed, updated.Phase)
	require.Nil(t, updated.StartDate)
}

func TestChargeDeclinedStatusFailsRound(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, bob, _ := allConfirmedGroup(t, db, st, l)

	proc := &fakeProcessor{fail: map[string]string{"cus_bob": "requires_action"}}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{})

	round, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundFailed, round.Status)
	for _, a := range round.Attempts {
		if a.UserID == bob.ID {
			require.Equal(t, models.AttemptFailed, a.Outcome)
			require.Equal(t, "processor status requires_action", a.FailReason)
		}
	}
}

func TestChargeSecondRoundMovesToRenewing(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, bob, carol := allConfirmedGroup(t, db, st, l)

	o := NewOrchestrator(st, &fakeProcessor{}, nil, nil, nil, ChargingConfig{})
	_, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseActive, phase(t, st, group.ID))

	first, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	firstStart := *first.StartDate

	// next cycle: re-finalize, re-confirm, charge again
	require.NoError(t, l.Finalize(group.ID, leader.ID))
	require.NoError(t, l.ConfirmShare(group.ID, bob.ID))
	require.NoError(t, l.ConfirmShare(group.ID, carol.ID))

	round, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundSucceeded, round.Status)

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseRenewing, updated.Phase)
	require.False(t, updated.StartDate.Before(firstStart))
}

func TestChargeLeaderOnly(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, _, bob, _ := allConfirmedGroup(t, db, st, l)

	o := NewOrchestrator(st, &fakeProcessor{}, nil, nil, nil, ChargingConfig{})
	_, err := o.Charge(context.Background(), group.ID, bob.ID)
	require.ErrorIs(t, err, store.ErrForbidden)
}

func TestChargeRequiresAllConfirmed(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, _, _ := threeMemberGroup(t, db, st, l, 1000)

	o := NewOrchestrator(st, &fakeProcessor{}, nil, nil, nil, ChargingConfig{})
	_, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.ErrorIs(t, err, store.ErrConflict)
	require.Equal(t, models.PhaseForming, phase(t, st, group.ID))
}

func TestChargeRequiresPaymentMethods(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, bob, _ := allConfirmedGroup(t, db, st, l)

	require.NoError(t, db.Model(&models.User{}).Where("id = ?", bob.ID).
		Update("payment_method_ref", "").Error)

	proc := &fakeProcessor{}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{})
	_, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.ErrorIs(t, err, store.ErrValidation)
	require.Zero(t, proc.callCount())

	// refused before any phase change, so the leader can fix and retry
	require.Equal(t, models.PhaseAllConfirmed, phase(t, st, group.ID))
}

func TestChargeReplayKeepsOriginalOutcome(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, _, bob, _ := allConfirmedGroup(t, db, st, l)

	round, err := st.BeginRound(group.ID, group.CreatedBy)
	require.NoError(t, err)

	original := &models.ChargeAttempt{
		RoundID:          round.ID,
		GroupID:          group.ID,
		UserID:           bob.ID,
		IdempotencyKey:   IdempotencyKey(group.ID, bob.ID, round.ID),
		Outcome:          models.AttemptSucceeded,
		ExternalChargeID: "ch_original",
		AmountCharged:    333,
		AttemptedAt:      time.Now(),
	}
	created, err := st.InsertAttempt(original)
	require.NoError(t, err)
	require.True(t, created)

	proc := &fakeProcessor{}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{})

	var bobUser models.User
	require.NoError(t, db.First(&bobUser, "id = ?", bob.ID).Error)
	sem := make(chan struct{}, 1)
	var failures atomic.Int32
	o.chargeMember(context.Background(), group, round, bobUser, 333, sem, &failures)

	// the replayed submission never reaches the processor
	require.Zero(t, proc.callCount())
	full, err := st.GetRound(round.ID)
	require.NoError(t, err)
	require.Len(t, full.Attempts, 1)
	require.Equal(t, models.AttemptSucceeded, full.Attempts[0].Outcome)
	require.Equal(t, "ch_original", full.Attempts[0].ExternalChargeID)
}

func TestChargeCircuitBreakerSkipsRemainder(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, _, _ := threeMemberGroup(t, db, st, l, 1200)
	for _, name := range []string{"dave", "erin", "frank"} {
		u := newTestUser(t, db, name)
		inv, err := l.Invite(group.ID, leader.ID, u.ID)
		require.NoError(t, err)
		_, err = l.ResolveInvitation(inv.ID, u.ID, true)
		require.NoError(t, err)
	}
	require.NoError(t, l.Finalize(group.ID, leader.ID))
	confirmations, err := st.Confirmations(group.ID)
	require.NoError(t, err)
	for _, sc := range confirmations {
		require.NoError(t, l.ConfirmShare(group.ID, sc.UserID))
	}

	// every charge fails; fanout 1 serializes members so outcomes are exact
	proc := &fakeProcessor{fail: map[string]string{
		"cus_alice": "error", "cus_bob": "error", "cus_carol": "error",
		"cus_dave": "error", "cus_erin": "error", "cus_frank": "error",
	}}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{Fanout: 1, BreakerFailures: 2})

	round, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundFailed, round.Status)
	require.Len(t, round.Attempts, 6)

	var failed, skipped int
	for _, a := range round.Attempts {
		switch a.Outcome {
		case models.AttemptFailed:
			failed++
		case models.AttemptSkipped:
			skipped++
			require.Equal(t, "skipped: too many early failures", a.FailReason)
		}
	}
	require.Equal(t, 2, failed)
	require.Equal(t, 4, skipped)
	require.Equal(t, 2, proc.callCount())
}

func TestChargeSurvivesCallerDisconnect(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, _, _ := allConfirmedGroup(t, db, st, l)

	proc := &fakeProcessor{delay: 200 * time.Millisecond}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{})

	// the caller hangs up while charges are in flight; the round still runs
	// to completion
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	round, err := o.Charge(ctx, group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundSucceeded, round.Status)
	for _, a := range round.Attempts {
		require.Equal(t, models.AttemptSucceeded, a.Outcome)
	}
	require.Equal(t, models.PhaseActive, phase(t, st, group.ID))
}

func TestChargeRoundTimeout(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, leader, _, _ := allConfirmedGroup(t, db, st, l)

	proc := &fakeProcessor{delay: time.Second}
	o := NewOrchestrator(st, proc, nil, nil, nil, ChargingConfig{
		Fanout:          1,
		BreakerFailures: 100,
		RoundTimeout:    50 * time.Millisecond,
	})

	round, err := o.Charge(context.Background(), group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoundFailed, round.Status)
	require.Len(t, round.Attempts, 3)
	for _, a := range round.Attempts {
		require.Equal(t, models.AttemptFailed, a.Outcome)
		require.Equal(t, "timeout", a.FailReason)
	}
	require.Equal(t, models.PhaseAllConfirmed, phase(t, st, group.ID))
}

func TestChargeSummary(t *testing.T) {
	round := &models.ChargeRound{Attempts: []models.ChargeAttempt{
		{Outcome: models.AttemptSucceeded},
		{Outcome: models.AttemptSucceeded},
		{Outcome: models.AttemptFailed},
		{Outcome: models.AttemptSkipped},
	}}
	require.Equal(t, "2 of 4 members charged; 1 failed; 1 skipped", Summarize(round, 4))
}

func TestCancelRound(t *testing.T) {
	db, st := newTestStore(t)
	l := NewLifecycle(st, nil)
	group, _, bob, _ := allConfirmedGroup(t, db, st, l)

	round, err := st.BeginRound(group.ID, group.CreatedBy)
	require.NoError(t, err)
	require.Equal(t, models.PhaseCharging, phase(t, st, group.ID))

	// a second round cannot start while one is in flight
	_, err = st.BeginRound(group.ID, group.CreatedBy)
	require.ErrorIs(t, err, store.ErrConflict)

	require.NoError(t, st.CancelRound(round.ID))
	require.Equal(t, models.PhaseAllConfirmed, phase(t, st, group.ID))

	// once a charge has been submitted, cancellation is refused
	round2, err := st.BeginRound(group.ID, group.CreatedBy)
	require.NoError(t, err)
	_, err = st.InsertAttempt(&models.ChargeAttempt{
		RoundID:        round2.ID,
		GroupID:        group.ID,
		UserID:         bob.ID,
		IdempotencyKey: IdempotencyKey(group.ID, bob.ID, round2.ID),
		Outcome:        models.AttemptSucceeded,
		AmountCharged:  333,
		AttemptedAt:    time.Now(),
	})
	require.NoError(t, err)
	require.ErrorIs(t, st.CancelRound(round2.ID), store.ErrConflict)
}
