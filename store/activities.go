package store

import (
	"fmt"

	"subsplit-backend/models"

	"github.com/google/uuid"
)

// SetPhase moves the group between lifecycle phases. The update only commits
// when the group is still in one of the expected phases, so stale actors get
// a Conflict instead of clobbering a concurrent transition.
func (s *Store) SetPhase(groupID uuid.UUID, from []string, to string) error {
	res := s.db.Model(&models.Group{}).
		Where("id = ? AND phase IN ?", groupID, from).
		Update("phase", to)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		group, err := s.GetGroup(groupID)
		if err != nil {
			return err
		}
		return fmt.Errorf("%w: group is %s", ErrConflict, group.Phase)
	}
	return nil
}

func (s *Store) LogActivity(groupID, userID uuid.UUID, activityType string, referenceID uuid.UUID, description string) {
	// Best-effort: the feed never blocks a transition.
	s.db.Create(&models.Activity{
		GroupID:     groupID,
		UserID:      userID,
		Type:        activityType,
		ReferenceID: referenceID,
		Description: description,
	})
}

func (s *Store) GroupActivity(groupID uuid.UUID, limit int) ([]models.Activity, error) {
	var activities []models.Activity
	err := s.db.Where("group_id = ?", groupID).Order("created_at DESC").Limit(limit).Find(&activities).Error
	return activities, translate(err)
}

func (s *Store) UserActivity(userID uuid.UUID, limit int) ([]models.Activity, error) {
	groups, err := s.GroupsForUser(userID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	var activities []models.Activity
	if len(ids) == 0 {
		return activities, nil
	}
	err = s.db.Where("group_id IN ?", ids).Order("created_at DESC").Limit(limit).Find(&activities).Error
	return activities, translate(err)
}
