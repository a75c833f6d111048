package store

import (
	"fmt"
	"sync"
	"testing"

	"subsplit-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestStore(t *testing.T) (*gorm.DB, *Store) {
	t.Helper()
	// Per-test in-memory database to avoid cross-test interference
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// sqlite is single-writer; serializing connections avoids lock errors
	// under the concurrent tests
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Group{},
		&models.Membership{},
		&models.Invitation{},
		&models.ShareConfirmation{},
		&models.ChargeRound{},
		&models.ChargeAttempt{},
		&models.Activity{},
	))
	return db, New(db)
}

func newTestUser(t *testing.T, db *gorm.DB, name string) *models.User {
	t.Helper()
	user := models.User{
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: "x",
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func newTestGroup(t *testing.T, st *Store, leaderID uuid.UUID, amount int64, maxMembers int) *models.Group {
	t.Helper()
	group := models.Group{
		Name:               "Streaming Plan",
		SubscriptionAmount: amount,
		CycleDays:          30,
		MaxMembers:         maxMembers,
	}
	require.NoError(t, st.CreateGroupWithLeader(&group, leaderID))
	return &group
}

func addAcceptedMember(t *testing.T, st *Store, groupID uuid.UUID, userID, leaderID uuid.UUID) {
	t.Helper()
	inv, err := st.CreateInvitation(groupID, userID, models.InviteKindInvitation, leaderID)
	require.NoError(t, err)
	_, err = st.ResolveInvitation(inv.ID, true)
	require.NoError(t, err)
}

func TestCreateGroupWithLeader(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")

	group := newTestGroup(t, st, leader.ID, 1000, 4)
	require.Equal(t, 1, group.MemberCount)
	require.Equal(t, int64(1000), group.AmountEach)
	require.Equal(t, models.PhaseForming, group.Phase)

	m, err := st.GetMembership(group.ID, leader.ID)
	require.NoError(t, err)
	require.Equal(t, models.RoleLeader, m.Role)
}

func TestCreateGroupValidation(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")

	err := st.CreateGroupWithLeader(&models.Group{SubscriptionAmount: 1000, CycleDays: 30, MaxMembers: 4}, leader.ID)
	require.ErrorIs(t, err, ErrValidation)

	err = st.CreateGroupWithLeader(&models.Group{Name: "x", SubscriptionAmount: 1000, CycleDays: 0, MaxMembers: 4}, leader.ID)
	require.ErrorIs(t, err, ErrValidation)
}

func TestDuplicateInvitationRejected(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)

	_, err := st.CreateInvitation(group.ID, bob.ID, models.InviteKindInvitation, leader.ID)
	require.NoError(t, err)

	_, err = st.CreateInvitation(group.ID, bob.ID, models.InviteKindInvitation, leader.ID)
	require.ErrorIs(t, err, ErrConflict)

	// a join request for the same pair is still the same active record
	_, err = st.CreateInvitation(group.ID, bob.ID, models.InviteKindJoinRequest, bob.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestInviteExistingMemberRejected(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	group := newTestGroup(t, st, leader.ID, 1000, 4)

	_, err := st.CreateInvitation(group.ID, leader.ID, models.InviteKindInvitation, leader.ID)
	require.ErrorIs(t, err, ErrConflict)
}

func TestResolveInvitationAccept(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)

	inv, err := st.CreateInvitation(group.ID, bob.ID, models.InviteKindInvitation, leader.ID)
	require.NoError(t, err)

	resolved, err := st.ResolveInvitation(inv.ID, true)
	require.NoError(t, err)
	require.Equal(t, models.InviteStatusAccepted, resolved.Status)

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, updated.MemberCount)
	require.Equal(t, int64(500), updated.AmountEach)

	// accepting twice is a conflict, never a silent success
	_, err = st.ResolveInvitation(inv.ID, true)
	require.ErrorIs(t, err, ErrConflict)
}

func TestResolveInvitationDecline(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)

	inv, err := st.CreateInvitation(group.ID, bob.ID, models.InviteKindInvitation, leader.ID)
	require.NoError(t, err)

	_, err = st.ResolveInvitation(inv.ID, false)
	require.NoError(t, err)

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.MemberCount)

	// the declined record is gone; bob can be invited again
	_, err = st.CreateInvitation(group.ID, bob.ID, models.InviteKindInvitation, leader.ID)
	require.NoError(t, err)
}

func TestNoOverfillUnderConcurrentJoins(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	group := newTestGroup(t, st, leader.ID, 1200, 3) // room for 2 more

	var invitations []uuid.UUID
	for i := 0; i < 8; i++ {
		user := newTestUser(t, db, fmt.Sprintf("member%d", i))
		inv, err := st.CreateInvitation(group.ID, user.ID, models.InviteKindInvitation, leader.ID)
		require.NoError(t, err)
		invitations = append(invitations, inv.ID)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for _, id := range invitations {
		wg.Add(1)
		go func(invID uuid.UUID) {
			defer wg.Done()
			if _, err := st.ResolveInvitation(invID, true); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}(id)
	}
	wg.Wait()

	require.Equal(t, 2, accepted)
	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, 3, updated.MemberCount)

	members, err := st.Memberships(group.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
}

func TestRemoveMembership(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	carol := newTestUser(t, db, "carol")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)
	addAcceptedMember(t, st, group.ID, carol.ID, leader.ID)

	require.NoError(t, st.RemoveMembership(group.ID, bob.ID))

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, 2, updated.MemberCount)
	require.Equal(t, int64(500), updated.AmountEach)

	// invitation history for bob is purged, so he can be re-invited
	_, err = st.CreateInvitation(group.ID, bob.ID, models.InviteKindInvitation, leader.ID)
	require.NoError(t, err)

	err = st.RemoveMembership(group.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLeaderCannotBeRemoved(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)

	err := st.RemoveMembership(group.ID, leader.ID)
	require.ErrorIs(t, err, ErrConflict)

	// after transferring leadership the old leader can leave
	require.NoError(t, st.TransferLeadership(group.ID, leader.ID, bob.ID))
	require.NoError(t, st.RemoveMembership(group.ID, leader.ID))
}

func TestTransferLeadershipGuards(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)

	err := st.TransferLeadership(group.ID, bob.ID, leader.ID)
	require.ErrorIs(t, err, ErrForbidden)

	err = st.TransferLeadership(group.ID, leader.ID, uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshotAndConfirm(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	carol := newTestUser(t, db, "carol")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)
	addAcceptedMember(t, st, group.ID, carol.ID, leader.ID)

	require.NoError(t, st.StartConfirmation(group.ID, []string{models.PhaseForming}))

	confirmations, err := st.Confirmations(group.ID)
	require.NoError(t, err)
	require.Len(t, confirmations, 2) // leader does not confirm

	all, err := st.ConfirmShare(group.ID, bob.ID)
	require.NoError(t, err)
	require.False(t, all)

	all, err = st.ConfirmShare(group.ID, carol.ID)
	require.NoError(t, err)
	require.True(t, all)

	_, err = st.ConfirmShare(group.ID, leader.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMembershipChangeInvalidatesConfirmations(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	dave := newTestUser(t, db, "dave")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)

	require.NoError(t, st.StartConfirmation(group.ID, []string{models.PhaseForming}))
	_, err := st.ConfirmShare(group.ID, bob.ID)
	require.NoError(t, err)

	// dave joins: the split changed, bob's confirmation no longer stands, and
	// dave owes a confirmation of his own
	addAcceptedMember(t, st, group.ID, dave.ID, leader.ID)

	confirmations, err := st.Confirmations(group.ID)
	require.NoError(t, err)
	require.Len(t, confirmations, 2)
	for _, sc := range confirmations {
		require.False(t, sc.Confirmed)
		require.Nil(t, sc.ConfirmedAt)
	}
}

func TestStartConfirmationIsAtomic(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)

	require.NoError(t, st.StartConfirmation(group.ID, []string{models.PhaseForming}))
	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, models.PhaseConfirming, updated.Phase)

	_, err = st.ConfirmShare(group.ID, bob.ID)
	require.NoError(t, err)

	// a stale caller expecting forming is refused, and the refusal leaves the
	// current round's rows untouched
	err = st.StartConfirmation(group.ID, []string{models.PhaseForming})
	require.ErrorIs(t, err, ErrConflict)

	confirmations, err := st.Confirmations(group.ID)
	require.NoError(t, err)
	require.Len(t, confirmations, 1)
	require.True(t, confirmations[0].Confirmed)
}

func TestAttemptIdempotency(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	group := newTestGroup(t, st, leader.ID, 1000, 4)

	round := models.ChargeRound{GroupID: group.ID, StartedBy: leader.ID, Status: models.RoundInFlight}
	require.NoError(t, db.Create(&round).Error)

	first := models.ChargeAttempt{
		RoundID:        round.ID,
		GroupID:        group.ID,
		UserID:         leader.ID,
		IdempotencyKey: "round:test:key",
		Outcome:        models.AttemptSucceeded,
		AmountCharged:  1061,
	}
	created, err := st.InsertAttempt(&first)
	require.NoError(t, err)
	require.True(t, created)

	// a retried submission with the same key returns the original row
	replay := models.ChargeAttempt{
		RoundID:        round.ID,
		GroupID:        group.ID,
		UserID:         leader.ID,
		IdempotencyKey: "round:test:key",
		Outcome:        models.AttemptPending,
		AmountCharged:  1061,
	}
	created, err = st.InsertAttempt(&replay)
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, first.ID, replay.ID)
	require.Equal(t, models.AttemptSucceeded, replay.Outcome)

	var count int64
	db.Model(&models.ChargeAttempt{}).Where("idempotency_key = ?", "round:test:key").Count(&count)
	require.Equal(t, int64(1), count)
}

func TestUpdateGroupSettingsImmutability(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	group := newTestGroup(t, st, leader.ID, 1000, 4)

	// amount edits are allowed before the cycle starts
	require.NoError(t, st.UpdateGroupSettings(group.ID, "", "", "", 1200))
	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1200), updated.SubscriptionAmount)
	require.Equal(t, int64(1200), updated.AmountEach)

	require.NoError(t, db.Model(&models.Group{}).Where("id = ?", group.ID).
		Update("start_date", gorm.Expr("CURRENT_TIMESTAMP")).Error)

	err = st.UpdateGroupSettings(group.ID, "", "", "", 1500)
	require.ErrorIs(t, err, ErrConflict)
	err = st.UpdateGroupSettings(group.ID, "", "", "personal", 0)
	require.ErrorIs(t, err, ErrConflict)

	// name stays editable
	require.NoError(t, st.UpdateGroupSettings(group.ID, "New Name", "", "", 0))
}

func TestDeleteUserCascades(t *testing.T) {
	db, st := newTestStore(t)
	leader := newTestUser(t, db, "alice")
	bob := newTestUser(t, db, "bob")
	group := newTestGroup(t, st, leader.ID, 1000, 4)
	addAcceptedMember(t, st, group.ID, bob.ID, leader.ID)

	// a leader must hand over the group first
	err := st.DeleteUser(leader.ID)
	require.ErrorIs(t, err, ErrConflict)

	require.NoError(t, st.DeleteUser(bob.ID))

	updated, err := st.GetGroup(group.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.MemberCount)
	_, err = st.GetMembership(group.ID, bob.ID)
	require.ErrorIs(t, err, ErrNotFound)
}
