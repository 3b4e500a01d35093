package alarm

import (
	"net/http"

	"carereminder/controller"
	"carereminder/dto"
	"carereminder/engine"
	"carereminder/middleware"
	"carereminder/model"

	"github.com/gin-gonic/gin"
)

// AlarmController serves the ring screen. Only the recipient may see it or
// answer it.
func AlarmController(router *gin.Engine, eng *engine.Engine, secret string) {
	routes := router.Group("/alarm", middleware.AccessTokenMiddleware(secret))
	{
		routes.GET("/:id", func(c *gin.Context) {
			GetAlarm(c, eng)
		})
		routes.POST("/:id/decision", func(c *gin.Context) {
			ReportDecision(c, eng)
		})
	}
}

func recipientOnly(c *gin.Context, eng *engine.Engine) bool {
	r, err := eng.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		controller.RespondError(c, err)
		return false
	}
	if r.ForUser != middleware.UserID(c) {
		controller.RespondError(c, engine.ErrNotFound)
		return false
	}
	return true
}

// GetAlarm answers 204 when no ring screen should be shown any more.
func GetAlarm(c *gin.Context, eng *engine.Engine) {
	if !recipientOnly(c, eng) {
		return
	}
	r, ringing, err := eng.GetRingingReminder(c.Request.Context(), c.Param("id"))
	if err != nil {
		controller.RespondError(c, err)
		return
	}
	if !ringing {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, dto.NewAlarmResponse(r))
}

func ReportDecision(c *gin.Context, eng *engine.Engine) {
	var req dto.DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid input"})
		return
	}
	if !recipientOnly(c, eng) {
		return
	}

	r, err := eng.ReportDecision(c.Request.Context(), c.Param("id"), model.Decision{
		Kind:    model.DecisionKind(req.Decision),
		Minutes: req.Minutes,
	})
	if err != nil {
		controller.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dto.NewReminderResponse(r))
}
