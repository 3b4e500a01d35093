package reminder

import (
	"net/http"

	"carereminder/controller"
	"carereminder/dto"
	"carereminder/engine"
	"carereminder/middleware"
	"carereminder/model"

	"github.com/gin-gonic/gin"
)

func UpdateReminderController(router *gin.Engine, eng *engine.Engine, secret string) {
	router.PATCH("/reminders/:id", middleware.AccessTokenMiddleware(secret), func(c *gin.Context) {
		UpdateReminder(c, eng)
	})
}

// UpdateReminder changes label, description or follow-up minutes. Either
// party may edit.
func UpdateReminder(c *gin.Context, eng *engine.Engine) {
	var req dto.UpdateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if _, ok := load(c, eng); !ok {
		return
	}

	details := engine.Details{
		Description:     req.Description,
		FollowUpMinutes: req.FollowUpMinutes,
	}
	if req.Label != nil {
		label := model.Label(*req.Label)
		details.Label = &label
	}

	r, err := eng.UpdateDetails(c.Request.Context(), c.Param("id"), details)
	if err != nil {
		controller.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewReminderResponse(r))
}
