package handlers

import (
	"net/http"

	"subsplit-backend/models"
	"subsplit-backend/services"
	"subsplit-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// POST /api/groups/:id/finalize
func FinalizeGroup(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}

	if err := lifecycle.Finalize(groupID, userID); err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)

	response, err := buildGroupResponse(groupID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Member list finalized", response)
}

// POST /api/groups/:id/confirm
func ConfirmShare(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}

	if err := lifecycle.ConfirmShare(groupID, userID); err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)

	response, err := buildGroupResponse(groupID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Share confirmed", response)
}

// POST /api/groups/:id/charge
func ChargeGroup(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}

	round, err := orchestrator.Charge(c.Request.Context(), groupID, userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)

	utils.SuccessResponse(c, http.StatusOK, "Charge round completed", roundResponse(round))
}

// GET /api/groups/:id/rounds/:rid
func GetRound(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}
	roundID, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		utils.BadRequest(c, "Invalid round ID")
		return
	}
	if !isMember(groupID, userID) {
		utils.Unauthorized(c, "You are not a member of this group")
		return
	}

	round, err := st.GetRound(roundID)
	if err != nil || round.GroupID != groupID {
		utils.NotFound(c, "Round not found")
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", roundResponse(round))
}

// POST /api/groups/:id/rounds/:rid/cancel
// Only possible before the first charge has been submitted.
func CancelRound(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}
	roundID, err := uuid.Parse(c.Param("rid"))
	if err != nil {
		utils.BadRequest(c, "Invalid round ID")
		return
	}
	if !st.IsLeader(groupID, userID) {
		utils.Unauthorized(c, "Only the leader can cancel a round")
		return
	}

	if err := st.CancelRound(roundID); err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)
	utils.SuccessResponse(c, http.StatusOK, "Round cancelled", nil)
}

// GET /api/groups/:id/billing
func GetBilling(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}
	if !isMember(groupID, userID) {
		utils.Unauthorized(c, "You are not a member of this group")
		return
	}

	billing, err := lifecycle.Billing(groupID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", billing)
}

func roundResponse(round *models.ChargeRound) models.RoundResponse {
	attempts := make([]models.AttemptResponse, 0, len(round.Attempts))
	for _, a := range round.Attempts {
		attempts = append(attempts, models.AttemptResponse{
			UserID:        a.UserID,
			Outcome:       a.Outcome,
			FailReason:    a.FailReason,
			AmountCharged: a.AmountCharged,
		})
	}
	return models.RoundResponse{
		ID:        round.ID,
		GroupID:   round.GroupID,
		Status:    round.Status,
		Summary:   services.Summarize(round, len(round.Attempts)),
		StartedAt: round.StartedAt,
		Attempts:  attempts,
	}
}
