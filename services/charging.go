package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"subsplit-backend/billing"
	"subsplit-backend/models"
	"subsplit-backend/store"

	"github.com/google/uuid"
)

type ChargingConfig struct {
	Currency        string
	FeePct          float64       // processor percentage fee, e.g. 0.029
	FeeFixed        int64         // processor fixed fee in cents
	Fanout          int           // max concurrent charge requests
	BreakerFailures int           // early failures before remaining members are skipped
	RoundTimeout    time.Duration // whole-round deadline
}

// Orchestrator runs a charging round: one charge per member against the
// external processor, concurrently, with per-member outcomes. A single
// failure fails the round but already-succeeded charges are never reversed
// here; reversal is a leader decision, not a mechanical one.
type Orchestrator struct {
	store     *store.Store
	processor Processor
	cards     CardIssuer
	notifier  Notifier
	locks     *RoundLocker
	cfg       ChargingConfig
}

func NewOrchestrator(st *store.Store, processor Processor, cards CardIssuer, notifier Notifier, locks *RoundLocker, cfg ChargingConfig) *Orchestrator {
	if cfg.Fanout < 1 {
		cfg.Fanout = 4
	}
	if cfg.BreakerFailures < 1 {
		cfg.BreakerFailures = 3
	}
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = 2 * time.Minute
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	return &Orchestrator{store: st, processor: processor, cards: cards, notifier: notifier, locks: locks, cfg: cfg}
}

// Charge runs one collection round for the group. Leader-only; the group must
// be in all_confirmed. Blocks until every member's attempt has a terminal
// outcome or the round deadline passes.
func (o *Orchestrator) Charge(ctx context.Context, groupID, actorID uuid.UUID) (*models.ChargeRound, error) {
	if !o.store.IsLeader(groupID, actorID) {
		return nil, fmt.Errorf("%w: only the leader can start a charge round", store.ErrForbidden)
	}
	group, err := o.store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	members, err := o.store.Memberships(groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	users, err := o.store.UsersByIDs(ids)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if users[m.UserID].PaymentMethodRef == "" {
			return nil, fmt.Errorf("%w: member %s has no payment method on file", store.ErrValidation, m.UserID)
		}
	}

	release, err := o.acquireLock(ctx, groupID)
	if err != nil {
		return nil, err
	}
	defer release()

	round, err := o.store.BeginRound(groupID, actorID)
	if err != nil {
		return nil, err
	}

	shares := billing.FairShares(group.SubscriptionAmount, len(members))
	// Once the round is open, a client disconnect must not abort in-flight
	// charges; only the round deadline ends them early.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.RoundTimeout)
	defer cancel()

	sem := make(chan struct{}, o.cfg.Fanout)
	var earlyFailures atomic.Int32
	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(member models.Membership, net int64) {
			defer wg.Done()
			o.chargeMember(runCtx, group, round, users[member.UserID], net, sem, &earlyFailures)
		}(m, shares[i])
	}
	wg.Wait()
	cancel()

	full, err := o.store.GetRound(round.ID)
	if err != nil {
		return nil, err
	}
	succeeded := 0
	for _, a := range full.Attempts {
		if a.Outcome == models.AttemptSucceeded {
			succeeded++
		}
	}
	status := models.RoundFailed
	if succeeded == len(members) {
		status = models.RoundSucceeded
	}
	if err := o.store.CompleteRound(full, status); err != nil {
		return nil, err
	}

	summary := Summarize(full, len(members))
	log.Printf("💳 charge round %s for group %s: %s", round.ID, groupID, summary)

	if status == models.RoundSucceeded {
		o.afterSuccessfulRound(group, full, ids)
	} else {
		o.store.LogActivity(groupID, actorID, "round_failed", round.ID, summary)
		o.notifyAsync([]uuid.UUID{actorID}, "Charge round failed", summary,
			map[string]string{"group_id": groupID.String(), "round_id": round.ID.String()})
	}
	return full, nil
}

// chargeMember submits one member's gross charge. Every path leaves a
// terminal attempt row: succeeded, failed(reason) or skipped.
func (o *Orchestrator) chargeMember(ctx context.Context, group *models.Group, round *models.ChargeRound, user models.User, net int64, sem chan struct{}, earlyFailures *atomic.Int32) {
	gross := billing.GrossUp(net, o.cfg.FeePct, o.cfg.FeeFixed)
	attempt := &models.ChargeAttempt{
		RoundID:        round.ID,
		GroupID:        group.ID,
		UserID:         user.ID,
		IdempotencyKey: IdempotencyKey(group.ID, user.ID, round.ID),
		Outcome:        models.AttemptPending,
		AmountCharged:  gross,
		AttemptedAt:    time.Now(),
	}

	if int(earlyFailures.Load()) >= o.cfg.BreakerFailures {
		attempt.Outcome = models.AttemptSkipped
		attempt.FailReason = "skipped: too many early failures"
		o.store.InsertAttempt(attempt)
		return
	}

	select {
	case sem <- struct{}{}:
		defer func() { <-sem }()
	case <-ctx.Done():
		attempt.Outcome = models.AttemptFailed
		attempt.FailReason = failReason(ctx)
		o.store.InsertAttempt(attempt)
		earlyFailures.Add(1)
		return
	}

	if int(earlyFailures.Load()) >= o.cfg.BreakerFailures {
		attempt.Outcome = models.AttemptSkipped
		attempt.FailReason = "skipped: too many early failures"
		o.store.InsertAttempt(attempt)
		return
	}

	created, err := o.store.InsertAttempt(attempt)
	if err != nil {
		log.Printf("❌ failed to record charge attempt for %s: %v", user.ID, err)
		earlyFailures.Add(1)
		return
	}
	if !created && attempt.Outcome != models.AttemptPending {
		// Replayed submission; the original outcome stands.
		return
	}

	result, err := o.processor.CreateCharge(ctx, user.PaymentMethodRef, gross, o.cfg.Currency, attempt.IdempotencyKey, map[string]string{
		"group_id": group.ID.String(),
		"user_id":  user.ID.String(),
		"round_id": round.ID.String(),
	})
	switch {
	case err != nil:
		reason := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			reason = "timeout"
		}
		o.store.FinishAttempt(attempt.ID, models.AttemptFailed, "", reason)
		earlyFailures.Add(1)
	case result.Status != ChargeStatusSucceeded:
		o.store.FinishAttempt(attempt.ID, models.AttemptFailed, result.ExternalChargeID, "processor status "+result.Status)
		earlyFailures.Add(1)
	default:
		o.store.FinishAttempt(attempt.ID, models.AttemptSucceeded, result.ExternalChargeID, "")
	}
}

func (o *Orchestrator) afterSuccessfulRound(group *models.Group, round *models.ChargeRound, memberIDs []uuid.UUID) {
	firstRound := group.StartDate == nil
	if firstRound {
		o.store.LogActivity(group.ID, round.StartedBy, "cycle_started", round.ID, "Billing cycle started")
		if o.cards != nil {
			go o.issueCard(group)
		}
	} else {
		o.store.LogActivity(group.ID, round.StartedBy, "round_succeeded", round.ID, "All members charged")
	}
	next := billing.NextPaymentDate(round.StartedAt, group.CycleDays, time.Now())
	o.notifyAsync(memberIDs, "Payment collected",
		fmt.Sprintf("Your share for %q was collected; next payment on %s", group.Name, next.Format("Jan 2, 2006")),
		map[string]string{"group_id": group.ID.String(), "round_id": round.ID.String()})
}

func (o *Orchestrator) issueCard(group *models.Group) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	card, err := o.cards.IssueCard(ctx, group.ID.String(), group.CreatedBy.String())
	if err != nil {
		log.Printf("⚠️  card issuance failed for group %s: %v", group.ID, err)
		return
	}
	if err := o.store.SetGroupCard(group.ID, card.CardID, card.Last4); err != nil {
		log.Printf("⚠️  failed to store card for group %s: %v", group.ID, err)
	}
}

func (o *Orchestrator) acquireLock(ctx context.Context, groupID uuid.UUID) (func(), error) {
	if o.locks == nil {
		return func() {}, nil
	}
	return o.locks.Acquire(ctx, groupID, o.cfg.RoundTimeout+30*time.Second)
}

func (o *Orchestrator) notifyAsync(userIDs []uuid.UUID, title, body string, data map[string]string) {
	if o.notifier == nil {
		return
	}
	go o.notifier.Notify(userIDs, title, body, data)
}

// IdempotencyKey derives the per-attempt key from (group, user, round), so a
// network retry of the same attempt can never double-charge a member.
func IdempotencyKey(groupID, userID, roundID uuid.UUID) string {
	return fmt.Sprintf("round:%s:%s:%s", roundID, groupID, userID)
}

// Summarize renders the round result as a per-member tally, e.g.
// "3 of 5 members charged; 2 failed".
func Summarize(round *models.ChargeRound, total int) string {
	var succeeded, failed, skipped int
	for _, a := range round.Attempts {
		switch a.Outcome {
		case models.AttemptSucceeded:
			succeeded++
		case models.AttemptFailed:
			failed++
		case models.AttemptSkipped:
			skipped++
		}
	}
	s := fmt.Sprintf("%d of %d members charged", succeeded, total)
	if failed > 0 {
		s += fmt.Sprintf("; %d failed", failed)
	}
	if skipped > 0 {
		s += fmt.Sprintf("; %d skipped", skipped)
	}
	return s
}

func failReason(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timeout"
	}
	return "cancelled"
}
