package store

import (
	"errors"
	"fmt"

	"subsplit-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CreateInvitation records a pending invitation or join request. At most one
// active record may exist per (group, user) pair; the composite unique index
// enforces this at the storage layer.
func (s *Store) CreateInvitation(groupID, userID uuid.UUID, kind string, createdBy uuid.UUID) (*models.Invitation, error) {
	if kind != models.InviteKindInvitation && kind != models.InviteKindJoinRequest {
		return nil, fmt.Errorf("%w: unknown invitation kind %q", ErrValidation, kind)
	}

	invitation := models.Invitation{
		GroupID:   groupID,
		UserID:    userID,
		CreatedBy: createdBy,
		Kind:      kind,
		Status:    models.InviteStatusPending,
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var group models.Group
		if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
			return err
		}
		var member models.Membership
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&member).Error; err == nil {
			return fmt.Errorf("%w: user is already a member", ErrConflict)
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if group.MemberCount >= group.MaxMembers {
			return fmt.Errorf("%w: group is full", ErrConflict)
		}
		return tx.Create(&invitation).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("%w: an active invitation already exists for this user", ErrConflict)
		}
		return nil, translate(err)
	}
	return &invitation, nil
}

func (s *Store) GetInvitation(id uuid.UUID) (*models.Invitation, error) {
	var invitation models.Invitation
	if err := s.db.First(&invitation, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &invitation, nil
}

func (s *Store) ListInvitations(groupID uuid.UUID) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.Where("group_id = ?", groupID).Order("created_at DESC").Find(&invitations).Error
	return invitations, translate(err)
}

func (s *Store) PendingInvitationsForUser(userID uuid.UUID) ([]models.Invitation, error) {
	var invitations []models.Invitation
	err := s.db.Where("user_id = ? AND status = ?", userID, models.InviteStatusPending).
		Order("created_at DESC").Find(&invitations).Error
	return invitations, translate(err)
}

// ResolveInvitation accepts or declines a pending invitation. Acceptance
// materializes the membership in the same transaction; declining deletes the
// record. Resolving twice is a conflict, never a silent no-op.
func (s *Store) ResolveInvitation(id uuid.UUID, accept bool) (*models.Invitation, error) {
	var invitation models.Invitation
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&invitation, "id = ?", id).Error; err != nil {
			return err
		}
		if invitation.Status != models.InviteStatusPending {
			return fmt.Errorf("%w: invitation already %s", ErrConflict, invitation.Status)
		}
		if !accept {
			invitation.Status = models.InviteStatusDeclined
			return tx.Delete(&models.Invitation{}, "id = ?", id).Error
		}
		var group models.Group
		if err := tx.First(&group, "id = ?", invitation.GroupID).Error; err != nil {
			return err
		}
		if err := addMemberTx(tx, &group, invitation.UserID, models.RoleMember); err != nil {
			return err
		}
		invitation.Status = models.InviteStatusAccepted
		return tx.Model(&models.Invitation{}).Where("id = ?", id).
			Update("status", models.InviteStatusAccepted).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &invitation, nil
}
