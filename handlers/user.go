package handlers

import (
	"net/http"

	"subsplit-backend/database"
	"subsplit-backend/models"
	"subsplit-backend/utils"

	"github.com/gin-gonic/gin"
)

// GET /api/users/me
func GetProfile(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var user models.User
	if err := database.DB.First(&user, "id = ?", userID).Error; err != nil {
		utils.NotFound(c, "User not found")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "", user.ToResponse())
}

// PUT /api/users/me
func UpdateProfile(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var req struct {
		Name             string `json:"name"`
		Currency         string `json:"currency"`
		PaymentMethodRef string `json:"payment_method_ref"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	updates := map[string]interface{}{}
	if req.Name != "" {
		updates["name"] = req.Name
	}
	if req.Currency != "" {
		updates["currency"] = req.Currency
	}
	if req.PaymentMethodRef != "" {
		updates["payment_method_ref"] = req.PaymentMethodRef
	}

	if len(updates) > 0 {
		database.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	}

	var user models.User
	database.DB.First(&user, "id = ?", userID)
	utils.SuccessResponse(c, http.StatusOK, "Profile updated", user.ToResponse())
}

// PUT /api/users/me/fcm-token
func UpdateFCMToken(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	var req struct {
		FCMToken string `json:"fcm_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	database.DB.Model(&models.User{}).Where("id = ?", userID).Update("fcm_token", req.FCMToken)
	utils.SuccessResponse(c, http.StatusOK, "Token updated", nil)
}

// POST /api/users/search
func SearchUsers(c *gin.Context) {
	var req struct {
		Query string `json:"query" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	var users []models.User
	database.DB.Where("email LIKE ? OR name LIKE ?", "%"+req.Query+"%", "%"+req.Query+"%").
		Limit(20).Find(&users)

	responses := make([]models.UserResponse, 0, len(users))
	for _, u := range users {
		responses = append(responses, u.ToResponse())
	}
	utils.SuccessResponse(c, http.StatusOK, "", responses)
}

// DELETE /api/users/me
// Account deletion cascades to memberships, invitations and confirmations,
// mirroring the identity provider's deletion event.
func DeleteAccount(c *gin.Context) {
	userID := utils.GetCurrentUserID(c)

	if err := st.DeleteUser(userID); err != nil {
		utils.RespondError(c, err)
		return
	}
	utils.SuccessResponse(c, http.StatusOK, "Account deleted", nil)
}
