package reminder

import (
	"net/http"

	"carereminder/controller"
	"carereminder/engine"
	"carereminder/middleware"

	"github.com/gin-gonic/gin"
)

func DeleteReminderController(router *gin.Engine, eng *engine.Engine, secret string) {
	router.DELETE("/reminders/:id", middleware.AccessTokenMiddleware(secret), func(c *gin.Context) {
		DeleteReminder(c, eng)
	})
}

func DeleteReminder(c *gin.Context, eng *engine.Engine) {
	r, ok := load(c, eng)
	if !ok {
		return
	}
	if r.CreatedBy != middleware.UserID(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "Only the author can delete a reminder"})
		return
	}
	if err := eng.Delete(c.Request.Context(), r.ID); err != nil {
		controller.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Reminder deleted successfully"})
}
