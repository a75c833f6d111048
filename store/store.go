package store

import (
	"errors"
	"fmt"

	"subsplit-backend/billing"
	"subsplit-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store owns every write to Group and its child records. Mutations that touch
// member_count or shares run inside a single transaction so invariants hold
// under concurrent requests.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateGroupWithLeader creates the group and its leader membership together.
func (s *Store) CreateGroupWithLeader(group *models.Group, leaderID uuid.UUID) error {
	if group.Name == "" || group.SubscriptionAmount <= 0 {
		return fmt.Errorf("%w: name and subscription_amount are required", ErrValidation)
	}
	if group.CycleDays < 1 {
		return fmt.Errorf("%w: cycle_days must be at least 1", ErrValidation)
	}
	if group.MaxMembers < 1 {
		return fmt.Errorf("%w: max_members must be at least 1", ErrValidation)
	}

	err := s.db.Transaction(func(tx *gorm.DB) error {
		group.CreatedBy = leaderID
		group.MemberCount = 1
		group.AmountEach = billing.PerMemberShare(group.SubscriptionAmount, 1)
		group.Phase = models.PhaseForming
		if err := tx.Create(group).Error; err != nil {
			return err
		}
		return tx.Create(&models.Membership{
			GroupID: group.ID,
			UserID:  leaderID,
			Role:    models.RoleLeader,
		}).Error
	})
	return translate(err)
}

func (s *Store) GetGroup(id uuid.UUID) (*models.Group, error) {
	var group models.Group
	if err := s.db.First(&group, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &group, nil
}

func (s *Store) GroupsForUser(userID uuid.UUID) ([]models.Group, error) {
	var memberships []models.Membership
	if err := s.db.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return nil, translate(err)
	}
	ids := make([]uuid.UUID, 0, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.GroupID)
	}
	var groups []models.Group
	if len(ids) > 0 {
		if err := s.db.Where("id IN ?", ids).Order("created_at DESC").Find(&groups).Error; err != nil {
			return nil, translate(err)
		}
	}
	return groups, nil
}

// Memberships returns a group's members ordered by join time. Share lists are
// computed in this order, so the most recent joiner absorbs the rounding
// remainder.
func (s *Store) Memberships(groupID uuid.UUID) ([]models.Membership, error) {
	var members []models.Membership
	err := s.db.Where("group_id = ?", groupID).Order("joined_at ASC, user_id ASC").Find(&members).Error
	return members, translate(err)
}

func (s *Store) GetMembership(groupID, userID uuid.UUID) (*models.Membership, error) {
	var m models.Membership
	if err := s.db.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *Store) IsLeader(groupID, userID uuid.UUID) bool {
	m, err := s.GetMembership(groupID, userID)
	return err == nil && m.Role == models.RoleLeader
}

// DeleteUser removes a user and every membership, invitation and confirmation
// that references them. Driven by the identity provider's deletion event.
func (s *Store) DeleteUser(userID uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var memberships []models.Membership
		if err := tx.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
			return err
		}
		for _, m := range memberships {
			if m.Role == models.RoleLeader {
				return fmt.Errorf("%w: user leads a group; transfer leadership before deleting the account", ErrConflict)
			}
		}
		for _, m := range memberships {
			if err := removeMemberTx(tx, m.GroupID, userID); err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Invitation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, "id = ?", userID).Error
	})
	return translate(err)
}

// rebalanceTx recomputes the fair share after a membership change and
// invalidates every existing confirmation, since the split changed each
// member's obligation. Groups mid-confirmation fall back to confirming; an
// active cycle's phase is left alone.
func rebalanceTx(tx *gorm.DB, group *models.Group) error {
	group.AmountEach = billing.PerMemberShare(group.SubscriptionAmount, group.MemberCount)
	updates := map[string]interface{}{"amount_each": group.AmountEach}
	if group.Phase == models.PhaseAllConfirmed {
		group.Phase = models.PhaseConfirming
		updates["phase"] = group.Phase
	}
	if err := tx.Model(&models.Group{}).Where("id = ?", group.ID).Updates(updates).Error; err != nil {
		return err
	}
	return tx.Model(&models.ShareConfirmation{}).
		Where("group_id = ?", group.ID).
		Updates(map[string]interface{}{"confirmed": false, "confirmed_at": nil}).Error
}

// addMemberTx admits a user inside an open transaction. The conditional
// member_count update is the overfill guard: it only commits when the count
// is still below max_members, so concurrent joins cannot exceed the cap.
func addMemberTx(tx *gorm.DB, group *models.Group, userID uuid.UUID, role string) error {
	if group.Phase == models.PhaseCharging {
		return fmt.Errorf("%w: a charge round is in flight", ErrConflict)
	}
	res := tx.Model(&models.Group{}).
		Where("id = ? AND member_count < max_members", group.ID).
		UpdateColumn("member_count", gorm.Expr("member_count + 1"))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: group is full", ErrConflict)
	}
	if err := tx.Create(&models.Membership{GroupID: group.ID, UserID: userID, Role: role}).Error; err != nil {
		return err
	}
	group.MemberCount++
	if err := rebalanceTx(tx, group); err != nil {
		return err
	}
	// Joining mid-confirmation puts the new member on the hook too: the group
	// cannot reach all_confirmed until they agree to their share.
	if group.Phase == models.PhaseConfirming && role != models.RoleLeader {
		return tx.Create(&models.ShareConfirmation{GroupID: group.ID, UserID: userID}).Error
	}
	return nil
}

// removeMemberTx removes a membership inside an open transaction and purges
// the user's invitation and confirmation history for the group.
func removeMemberTx(tx *gorm.DB, groupID, userID uuid.UUID) error {
	var group models.Group
	if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
		return err
	}
	if group.Phase == models.PhaseCharging {
		return fmt.Errorf("%w: a charge round is in flight", ErrConflict)
	}
	var m models.Membership
	if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: membership", ErrNotFound)
		}
		return err
	}
	if m.Role == models.RoleLeader {
		return fmt.Errorf("%w: the leader cannot be removed; transfer leadership first", ErrConflict)
	}
	if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.Membership{}).Error; err != nil {
		return err
	}
	if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.Invitation{}).Error; err != nil {
		return err
	}
	if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).Delete(&models.ShareConfirmation{}).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Group{}).Where("id = ?", groupID).
		UpdateColumn("member_count", gorm.Expr("member_count - 1")).Error; err != nil {
		return err
	}
	group.MemberCount--
	return rebalanceTx(tx, &group)
}

// RemoveMembership drops a member and rebalances the remaining shares.
func (s *Store) RemoveMembership(groupID, userID uuid.UUID) error {
	return translate(s.db.Transaction(func(tx *gorm.DB) error {
		return removeMemberTx(tx, groupID, userID)
	}))
}

// UpdateGroupSettings edits mutable group fields. Kind and the subscription
// amount are frozen once the billing cycle has started; an amount change
// before that reprices every share and voids existing confirmations.
func (s *Store) UpdateGroupSettings(groupID uuid.UUID, name, visibility, kind string, subscriptionAmount int64) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if name != "" {
			updates["name"] = name
		}
		if visibility != "" {
			updates["visibility"] = visibility
		}
		amountChanged := subscriptionAmount > 0 && subscriptionAmount != group.SubscriptionAmount
		if kind != "" && kind != group.Kind || amountChanged {
			if group.StartDate != nil {
				return fmt.Errorf("%w: kind and subscription amount are immutable after the cycle starts", ErrConflict)
			}
		}
		if kind != "" {
			updates["kind"] = kind
		}
		if amountChanged {
			group.SubscriptionAmount = subscriptionAmount
			updates["subscription_amount"] = subscriptionAmount
		}
		if len(updates) == 0 {
			return nil
		}
		if err := tx.Model(&models.Group{}).Where("id = ?", groupID).Updates(updates).Error; err != nil {
			return err
		}
		if amountChanged {
			return rebalanceTx(tx, &group)
		}
		return nil
	})
	return translate(err)
}

// TransferLeadership promotes another member and demotes the current leader.
func (s *Store) TransferLeadership(groupID, fromID, toID uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var from models.Membership
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, fromID).First(&from).Error; err != nil {
			return err
		}
		if from.Role != models.RoleLeader {
			return fmt.Errorf("%w: only the leader can transfer leadership", ErrForbidden)
		}
		var to models.Membership
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, toID).First(&to).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.Membership{}).
			Where("group_id = ? AND user_id = ?", groupID, toID).
			Update("role", models.RoleLeader).Error; err != nil {
			return err
		}
		return tx.Model(&models.Membership{}).
			Where("group_id = ? AND user_id = ?", groupID, fromID).
			Update("role", models.RoleMember).Error
	})
	return translate(err)
}
