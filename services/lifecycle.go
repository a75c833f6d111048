package services

import (
	"fmt"
	"log"
	"time"

	"subsplit-backend/billing"
	"subsplit-backend/models"
	"subsplit-backend/store"

	"github.com/google/uuid"
)

// Notifier is the notification dispatcher boundary. Calls are fire-and-forget;
// delivery is never awaited for correctness.
type Notifier interface {
	Notify(userIDs []uuid.UUID, title, body string, data map[string]string)
}

// Lifecycle drives a group through
// forming → confirming → all_confirmed → charging → active → renewing.
// Every transition goes through the store's transactional operations; nothing
// else writes membership, invitation or confirmation rows.
type Lifecycle struct {
	store    *store.Store
	notifier Notifier
}

func NewLifecycle(st *store.Store, notifier Notifier) *Lifecycle {
	return &Lifecycle{store: st, notifier: notifier}
}

func (l *Lifecycle) Store() *store.Store { return l.store }

// CreateGroup creates a group with the caller as leader.
func (l *Lifecycle) CreateGroup(group *models.Group, leaderID uuid.UUID) error {
	if err := l.store.CreateGroupWithLeader(group, leaderID); err != nil {
		return err
	}
	l.store.LogActivity(group.ID, leaderID, "group_created", group.ID,
		fmt.Sprintf("Group %q created", group.Name))
	return nil
}

// Invite is the leader-initiated path into a group.
func (l *Lifecycle) Invite(groupID, actorID, targetID uuid.UUID) (*models.Invitation, error) {
	if !l.store.IsLeader(groupID, actorID) {
		return nil, fmt.Errorf("%w: only the leader can invite members", store.ErrForbidden)
	}
	invitation, err := l.store.CreateInvitation(groupID, targetID, models.InviteKindInvitation, actorID)
	if err != nil {
		return nil, err
	}
	group, _ := l.store.GetGroup(groupID)
	if group != nil {
		l.notify([]uuid.UUID{targetID}, "You're invited",
			fmt.Sprintf("You've been invited to co-own %q", group.Name),
			map[string]string{"group_id": groupID.String(), "invitation_id": invitation.ID.String()})
	}
	return invitation, nil
}

// RequestJoin is the member-initiated path; the leader resolves it.
func (l *Lifecycle) RequestJoin(groupID, actorID uuid.UUID) (*models.Invitation, error) {
	request, err := l.store.CreateInvitation(groupID, actorID, models.InviteKindJoinRequest, actorID)
	if err != nil {
		return nil, err
	}
	if leader := l.leaderOf(groupID); leader != uuid.Nil {
		l.notify([]uuid.UUID{leader}, "Join request",
			"Someone asked to join your group",
			map[string]string{"group_id": groupID.String(), "invitation_id": request.ID.String()})
	}
	return request, nil
}

// ResolveInvitation accepts or declines. An invitation is resolved by the
// invited user; a join request is resolved by the leader. Both materialize a
// membership on accept.
func (l *Lifecycle) ResolveInvitation(invitationID, actorID uuid.UUID, accept bool) (*models.Invitation, error) {
	invitation, err := l.store.GetInvitation(invitationID)
	if err != nil {
		return nil, err
	}
	switch invitation.Kind {
	case models.InviteKindInvitation:
		if invitation.UserID != actorID {
			return nil, fmt.Errorf("%w: only the invited user can respond", store.ErrForbidden)
		}
	case models.InviteKindJoinRequest:
		if !l.store.IsLeader(invitation.GroupID, actorID) {
			return nil, fmt.Errorf("%w: only the leader can resolve join requests", store.ErrForbidden)
		}
	default:
		return nil, fmt.Errorf("%w: unknown invitation kind %q", store.ErrValidation, invitation.Kind)
	}

	resolved, err := l.store.ResolveInvitation(invitationID, accept)
	if err != nil {
		return nil, err
	}
	if accept {
		l.store.LogActivity(resolved.GroupID, resolved.UserID, "member_joined", resolved.ID, "A member joined the group")
		l.notify([]uuid.UUID{resolved.CreatedBy}, "Invitation accepted",
			"Your group has a new member",
			map[string]string{"group_id": resolved.GroupID.String()})
	}
	return resolved, nil
}

// RemoveMember drops a member. Leaders can remove anyone but themselves;
// members can leave on their own.
func (l *Lifecycle) RemoveMember(groupID, actorID, targetID uuid.UUID) error {
	if actorID != targetID && !l.store.IsLeader(groupID, actorID) {
		return fmt.Errorf("%w: only the leader can remove other members", store.ErrForbidden)
	}
	if err := l.store.RemoveMembership(groupID, targetID); err != nil {
		return err
	}
	l.store.LogActivity(groupID, targetID, "member_left", groupID, "A member left the group")
	return nil
}

func (l *Lifecycle) TransferLeadership(groupID, actorID, targetID uuid.UUID) error {
	return l.store.TransferLeadership(groupID, actorID, targetID)
}

// UpdateGroup edits group settings, leader-only.
func (l *Lifecycle) UpdateGroup(groupID, actorID uuid.UUID, name, visibility, kind string, subscriptionAmount int64) error {
	if !l.store.IsLeader(groupID, actorID) {
		return fmt.Errorf("%w: only the leader can update the group", store.ErrForbidden)
	}
	return l.store.UpdateGroupSettings(groupID, name, visibility, kind, subscriptionAmount)
}

// Finalize freezes the member list and opens a confirmation round. Allowed
// from forming (first round) and from confirming, active or renewing
// (explicit re-finalize for the next collection). A group with no non-leader
// members has nothing to confirm and lands in all_confirmed directly.
func (l *Lifecycle) Finalize(groupID, actorID uuid.UUID) error {
	if !l.store.IsLeader(groupID, actorID) {
		return fmt.Errorf("%w: only the leader can finalize the member list", store.ErrForbidden)
	}
	from := []string{models.PhaseForming, models.PhaseConfirming, models.PhaseAllConfirmed, models.PhaseActive, models.PhaseRenewing}
	if err := l.store.StartConfirmation(groupID, from); err != nil {
		return err
	}
	members, err := l.store.Memberships(groupID)
	if err != nil {
		return err
	}
	nonLeaders := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		if m.Role != models.RoleLeader {
			nonLeaders = append(nonLeaders, m.UserID)
		}
	}
	if len(nonLeaders) == 0 {
		if err := l.store.SetPhase(groupID, []string{models.PhaseConfirming}, models.PhaseAllConfirmed); err != nil {
			return err
		}
	} else {
		l.notify(nonLeaders, "Confirm your share",
			"The member list was finalized; please confirm your share",
			map[string]string{"group_id": groupID.String()})
	}
	l.store.LogActivity(groupID, actorID, "list_finalized", groupID, "Member list finalized")
	return nil
}

// ConfirmShare records a member's agreement. The transition to all_confirmed
// is automatic when the last pending confirmation flips true.
func (l *Lifecycle) ConfirmShare(groupID, actorID uuid.UUID) error {
	group, err := l.store.GetGroup(groupID)
	if err != nil {
		return err
	}
	if group.Phase != models.PhaseConfirming {
		return fmt.Errorf("%w: group is %s, not confirming", store.ErrConflict, group.Phase)
	}
	allConfirmed, err := l.store.ConfirmShare(groupID, actorID)
	if err != nil {
		return err
	}
	l.store.LogActivity(groupID, actorID, "share_confirmed", groupID, "A member confirmed their share")
	if allConfirmed {
		if err := l.store.SetPhase(groupID, []string{models.PhaseConfirming}, models.PhaseAllConfirmed); err != nil {
			return err
		}
		l.notify([]uuid.UUID{group.CreatedBy}, "Everyone confirmed",
			fmt.Sprintf("All members of %q confirmed; you can start the charge", group.Name),
			map[string]string{"group_id": groupID.String()})
	}
	return nil
}

// Billing computes the group's billing view. The next payment date is
// advanced on read with whole-cycle catch-up, never by a background timer.
func (l *Lifecycle) Billing(groupID uuid.UUID) (*models.BillingResponse, error) {
	group, err := l.store.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	resp := &models.BillingResponse{
		GroupID:    group.ID,
		AmountEach: group.AmountEach,
		CycleDays:  group.CycleDays,
		StartDate:  group.StartDate,
	}
	if group.StartDate != nil {
		next := billing.NextPaymentDate(*group.StartDate, group.CycleDays, time.Now())
		resp.NextPaymentDate = &next
		resp.DaysUntil = billing.DaysUntil(next, time.Now())
	}
	return resp, nil
}

func (l *Lifecycle) leaderOf(groupID uuid.UUID) uuid.UUID {
	members, err := l.store.Memberships(groupID)
	if err != nil {
		return uuid.Nil
	}
	for _, m := range members {
		if m.Role == models.RoleLeader {
			return m.UserID
		}
	}
	return uuid.Nil
}

func (l *Lifecycle) notify(userIDs []uuid.UUID, title, body string, data map[string]string) {
	if l.notifier == nil {
		return
	}
	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.Printf("⚠️  notification dispatch panicked: %v", r)
			}
		}()
		l.notifier.Notify(userIDs, title, body, data)
	}()
}
