package handlers

import (
	"subsplit-backend/models"
	"subsplit-backend/services"
	"subsplit-backend/store"

	"github.com/google/uuid"
)

var (
	st           *store.Store
	lifecycle    *services.Lifecycle
	orchestrator *services.Orchestrator
	cache        *services.GroupCache
)

// Init wires the handler package. Called once from main, and from tests with
// an in-memory database.
func Init(s *store.Store, l *services.Lifecycle, o *services.Orchestrator, c *services.GroupCache) {
	st = s
	lifecycle = l
	orchestrator = o
	cache = c
}

// Helper: check group membership
func isMember(groupID, userID uuid.UUID) bool {
	_, err := st.GetMembership(groupID, userID)
	return err == nil
}

// Helper: build full group response with members and confirmation state
func buildGroupResponse(groupID uuid.UUID) (*models.GroupResponse, error) {
	group, err := st.GetGroup(groupID)
	if err != nil {
		return nil, err
	}
	members, err := st.Memberships(groupID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, len(members))
	for i, m := range members {
		ids[i] = m.UserID
	}
	users, err := st.UsersByIDs(ids)
	if err != nil {
		return nil, err
	}
	confirmations, err := st.Confirmations(groupID)
	if err != nil {
		return nil, err
	}
	confirmed := make(map[uuid.UUID]bool, len(confirmations))
	for _, sc := range confirmations {
		confirmed[sc.UserID] = sc.Confirmed
	}

	memberResponses := make([]models.MemberResponse, 0, len(members))
	for _, m := range members {
		user := users[m.UserID]
		resp := models.MemberResponse{
			UserID:   m.UserID,
			Name:     user.Name,
			Email:    user.Email,
			Role:     m.Role,
			JoinedAt: m.JoinedAt,
		}
		if ok, exists := confirmed[m.UserID]; exists {
			v := ok
			resp.Confirmed = &v
		}
		memberResponses = append(memberResponses, resp)
	}

	return &models.GroupResponse{
		ID:                 group.ID,
		Name:               group.Name,
		Kind:               group.Kind,
		Visibility:         group.Visibility,
		SubscriptionAmount: group.SubscriptionAmount,
		AmountEach:         group.AmountEach,
		CycleDays:          group.CycleDays,
		MaxMembers:         group.MaxMembers,
		MemberCount:        group.MemberCount,
		Phase:              group.Phase,
		StartDate:          group.StartDate,
		CardLast4:          group.CardLast4,
		CreatedBy:          group.CreatedBy,
		Members:            memberResponses,
		CreatedAt:          group.CreatedAt,
	}, nil
}
