package store

import (
	"errors"
	"fmt"
	"time"

	"subsplit-backend/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// BeginRound moves the group into charging and opens a round record. The
// conditional phase update is what blocks a second round from starting while
// one is in flight, even across instances.
func (s *Store) BeginRound(groupID, startedBy uuid.UUID) (*models.ChargeRound, error) {
	round := models.ChargeRound{
		GroupID:   groupID,
		StartedBy: startedBy,
		Status:    models.RoundInFlight,
		StartedAt: time.Now(),
	}
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Group{}).
			Where("id = ? AND phase = ?", groupID, models.PhaseAllConfirmed).
			Update("phase", models.PhaseCharging)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var group models.Group
			if err := tx.First(&group, "id = ?", groupID).Error; err != nil {
				return err
			}
			return fmt.Errorf("%w: group is %s, not all_confirmed", ErrConflict, group.Phase)
		}
		return tx.Create(&round).Error
	})
	if err != nil {
		return nil, translate(err)
	}
	return &round, nil
}

// InsertAttempt records a charge attempt. The idempotency-key unique index
// makes retried submissions return the original row instead of creating a
// duplicate.
func (s *Store) InsertAttempt(attempt *models.ChargeAttempt) (created bool, err error) {
	if err := s.db.Create(attempt).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			var existing models.ChargeAttempt
			if ferr := s.db.Where("idempotency_key = ?", attempt.IdempotencyKey).First(&existing).Error; ferr != nil {
				return false, translate(ferr)
			}
			*attempt = existing
			return false, nil
		}
		return false, translate(err)
	}
	return true, nil
}

func (s *Store) FinishAttempt(id uuid.UUID, outcome, externalChargeID, failReason string) error {
	err := s.db.Model(&models.ChargeAttempt{}).Where("id = ?", id).Updates(map[string]interface{}{
		"outcome":            outcome,
		"external_charge_id": externalChargeID,
		"fail_reason":        failReason,
	}).Error
	return translate(err)
}

// CompleteRound closes a round and applies the group-phase outcome: all
// charges succeeded moves the group to active (first cycle, start date set
// from the round timestamp) or renewing (later cycles); anything else rolls
// back to all_confirmed for an explicit leader retry.
func (s *Store) CompleteRound(round *models.ChargeRound, status string) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()
		if err := tx.Model(&models.ChargeRound{}).Where("id = ?", round.ID).Updates(map[string]interface{}{
			"status":       status,
			"completed_at": &now,
		}).Error; err != nil {
			return err
		}
		round.Status = status
		round.CompletedAt = &now

		var group models.Group
		if err := tx.First(&group, "id = ?", round.GroupID).Error; err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if status == models.RoundSucceeded {
			if group.StartDate == nil {
				updates["phase"] = models.PhaseActive
				updates["start_date"] = round.StartedAt
			} else {
				updates["phase"] = models.PhaseRenewing
				updates["start_date"] = round.StartedAt
			}
		} else {
			updates["phase"] = models.PhaseAllConfirmed
		}
		return tx.Model(&models.Group{}).Where("id = ?", group.ID).Updates(updates).Error
	})
	return translate(err)
}

// CancelRound aborts a round, allowed only before the first charge has been
// submitted. Once money is in flight the round must run to completion.
func (s *Store) CancelRound(roundID uuid.UUID) error {
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var round models.ChargeRound
		if err := tx.First(&round, "id = ?", roundID).Error; err != nil {
			return err
		}
		if round.Status != models.RoundInFlight {
			return fmt.Errorf("%w: round already %s", ErrConflict, round.Status)
		}
		var submitted int64
		if err := tx.Model(&models.ChargeAttempt{}).Where("round_id = ?", roundID).Count(&submitted).Error; err != nil {
			return err
		}
		if submitted > 0 {
			return fmt.Errorf("%w: charges already submitted; the round must run to completion", ErrConflict)
		}
		now := time.Now()
		if err := tx.Model(&models.ChargeRound{}).Where("id = ?", roundID).Updates(map[string]interface{}{
			"status":       models.RoundCancelled,
			"completed_at": &now,
		}).Error; err != nil {
			return err
		}
		return tx.Model(&models.Group{}).Where("id = ?", round.GroupID).
			Update("phase", models.PhaseAllConfirmed).Error
	})
	return translate(err)
}

func (s *Store) GetRound(id uuid.UUID) (*models.ChargeRound, error) {
	var round models.ChargeRound
	if err := s.db.First(&round, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	var attempts []models.ChargeAttempt
	if err := s.db.Where("round_id = ?", id).Order("attempted_at ASC").Find(&attempts).Error; err != nil {
		return nil, translate(err)
	}
	round.Attempts = attempts
	return &round, nil
}

// SetGroupCard stores the virtual card reference issued after the first
// successful round.
func (s *Store) SetGroupCard(groupID uuid.UUID, cardID, last4 string) error {
	err := s.db.Model(&models.Group{}).Where("id = ?", groupID).Updates(map[string]interface{}{
		"card_id":    cardID,
		"card_last4": last4,
	}).Error
	return translate(err)
}
