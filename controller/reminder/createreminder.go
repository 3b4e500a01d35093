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

func CreateReminderController(router *gin.Engine, eng *engine.Engine, secret string) {
	router.POST("/reminders", middleware.AccessTokenMiddleware(secret), func(c *gin.Context) {
		CreateReminder(c, eng)
	})
}

func CreateReminder(c *gin.Context, eng *engine.Engine) {
	var req dto.CreateReminderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}

	r, err := eng.Create(c.Request.Context(), engine.NewReminder{
		CreatedBy:       middleware.UserID(c),
		ForUser:         req.ForUser,
		DateTime:        req.DateTime,
		Repeat:          model.Repeat(req.Repeat),
		FollowUpMinutes: req.FollowUpMinutes,
		Label:           model.Label(req.Label),
		Description:     req.Description,
	})
	if err != nil {
		controller.RespondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, dto.NewReminderResponse(r))
}
