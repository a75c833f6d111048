package handlers

import (
	"net/http"

	"subsplit-backend/models"
	"subsplit-backend/utils"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// POST /api/groups
func CreateGroup(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var req models.CreateGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	kind := req.Kind
	if kind == "" {
		kind = "shared"
	}
	visibility := req.Visibility
	if visibility == "" {
		visibility = "private"
	}
	cycleDays := req.CycleDays
	if cycleDays == 0 {
		cycleDays = 30
	}
	maxMembers := req.MaxMembers
	if maxMembers == 0 {
		maxMembers = 6
	}

	group := models.Group{
		Name:               req.Name,
		Kind:               kind,
		Visibility:         visibility,
		SubscriptionAmount: req.SubscriptionAmount,
		CycleDays:          cycleDays,
		MaxMembers:         maxMembers,
	}

	if err := lifecycle.CreateGroup(&group, userID); err != nil {
		utils.RespondError(c, err)
		return
	}

	response, err := buildGroupResponse(group.ID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Group created", response)
}

// GET /api/groups
func GetGroups(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	groups, err := st.GroupsForUser(userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}

	responses := make([]models.GroupResponse, 0, len(groups))
	for _, g := range groups {
		resp, err := buildGroupResponse(g.ID)
		if err != nil {
			utils.RespondError(c, err)
			return
		}
		responses = append(responses, *resp)
	}
	utils.SuccessResponse(c, http.StatusOK, "", responses)
}

// GET /api/groups/:id
func GetGroup(c *gin.Context) {
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

	if cached, ok := cache.Get(c.Request.Context(), groupID); ok {
		utils.SuccessResponse(c, http.StatusOK, "", cached)
		return
	}

	response, err := buildGroupResponse(groupID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Put(c.Request.Context(), response)
	utils.SuccessResponse(c, http.StatusOK, "", response)
}

// PUT /api/groups/:id
func UpdateGroup(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}

	var req struct {
		Name               string `json:"name"`
		Visibility         string `json:"visibility"`
		Kind               string `json:"kind"`
		SubscriptionAmount int64  `json:"subscription_amount"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	if err := lifecycle.UpdateGroup(groupID, userID, req.Name, req.Visibility, req.Kind, req.SubscriptionAmount); err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)

	response, err := buildGroupResponse(groupID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Group updated", response)
}

// POST /api/groups/:id/invitations
func InviteToGroup(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}

	var req models.InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	targetID, err := uuid.Parse(req.UserID)
	if err != nil {
		utils.BadRequest(c, "Invalid user ID")
		return
	}

	invitation, err := lifecycle.Invite(groupID, userID, targetID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Invitation sent", invitation)
}

// POST /api/groups/:id/join-requests
func RequestJoin(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}

	request, err := lifecycle.RequestJoin(groupID, userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusCreated, "Join request sent", request)
}

// POST /api/invitations/:id/accept
func AcceptInvitation(c *gin.Context) {
	resolveInvitation(c, true)
}

// POST /api/invitations/:id/decline
func DeclineInvitation(c *gin.Context) {
	resolveInvitation(c, false)
}

func resolveInvitation(c *gin.Context, accept bool) {
	userID := utils.GetCurrentUserID(c)
	invitationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid invitation ID")
		return
	}

	invitation, err := lifecycle.ResolveInvitation(invitationID, userID, accept)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), invitation.GroupID)

	message := "Invitation declined"
	if accept {
		message = "Invitation accepted"
	}
	utils.SuccessResponse(c, http.StatusOK, message, invitation)
}

// GET /api/invitations
func MyInvitations(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	invitations, err := st.PendingInvitationsForUser(userID)
	if err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "", invitations)
}

// DELETE /api/groups/:id/members/:uid
func RemoveMember(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}
	memberUID, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		utils.BadRequest(c, "Invalid user ID")
		return
	}

	if err := lifecycle.RemoveMember(groupID, userID, memberUID); err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)
	utils.SuccessResponse(c, http.StatusOK, "Member removed", nil)
}

// POST /api/groups/:id/leader/:uid
func TransferLeadership(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)
	groupID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.BadRequest(c, "Invalid group ID")
		return
	}
	targetUID, err := uuid.Parse(c.Param("uid"))
	if err != nil {
		utils.BadRequest(c, "Invalid user ID")
		return
	}

	if err := lifecycle.TransferLeadership(groupID, userID, targetUID); err != nil {
		utils.RespondError(c, err)
		return
	}
	cache.Invalidate(c.Request.Context(), groupID)
	utils.SuccessResponse(c, http.StatusOK, "Leadership transferred", nil)
}
