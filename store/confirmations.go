package store

import (
	"fmt"
	"time"

	"subsplit-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// StartConfirmation moves the group into confirming and freezes the current
// member list into unconfirmed ShareConfirmation rows, atomically. The phase
// update only commits from one of the expected phases, and the snapshot rides
// the same transaction so a racing ConfirmShare can never land on the previous
// round's rows. Non-leader members confirm; the leader's agreement is implied
// by finalizing.
func (s *Store) StartConfirmation(groupID uuid.UUID, from []string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Group{}).
			Where("id = ? AND phase IN ?", groupID, from).
			Update("phase", models.PhaseConfirming)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var group models.Group
			if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
				return err
			}
			return fmt.Errorf("%w: group is %s", ErrConflict, group.Phase)
		}
		return snapshotConfirmationsTx(tx, groupID)
	})
	return translate(err)
}

func snapshotConfirmationsTx(tx *gorm.DB, groupID uuid.UUID) error {
	var members []models.Membership
	if err := tx.Where("group_id = ?", groupID).Find(&members).Error; err != nil {
		return err
	}
	if err := tx.Where("group_id = ?", groupID).Delete(&models.ShareConfirmation{}).Error; err != nil {
		return err
	}
	for _, m := range members {
		if m.Role == models.RoleLeader {
			continue
		}
		if err := tx.Create(&models.ShareConfirmation{
			GroupID: groupID,
			UserID:  m.UserID,
		}).Error; err != nil {
			return err
		}
	}
	return nil
}

// ConfirmShare flips a member's confirmation and reports whether every
// confirmation row for the group is now true.
func (s *Store) ConfirmShare(groupID, userID uuid.UUID) (allConfirmed bool, err error) {
	err = s.db.Transaction(func(tx *gorm.DB) error {
		var confirmation models.ShareConfirmation
		if err := tx.Where("group_id = ? AND user_id = ?", groupID, userID).First(&confirmation).Error; err != nil {
			return fmt.Errorf("%w: no confirmation pending for this member", ErrNotFound)
		}
		now := time.Now()
		if err := tx.Model(&models.ShareConfirmation{}).
			Where("id = ?", confirmation.ID).
			Updates(map[string]interface{}{"confirmed": true, "confirmed_at": &now}).Error; err != nil {
			return err
		}
		var pending int64
		if err := tx.Model(&models.ShareConfirmation{}).
			Where("group_id = ? AND confirmed = ?", groupID, false).
			Count(&pending).Error; err != nil {
			return err
		}
		allConfirmed = pending == 0
		return nil
	})
	return allConfirmed, translate(err)
}

func (s *Store) Confirmations(groupID uuid.UUID) ([]models.ShareConfirmation, error) {
	var confirmations []models.ShareConfirmation
	err := s.db.Where("group_id = ?", groupID).Find(&confirmations).Error
	return confirmations, translate(err)
}
