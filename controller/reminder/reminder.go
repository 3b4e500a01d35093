package reminder

import (
	"io"
	"net/http"

	"carereminder/controller"
	"carereminder/dto"
	"carereminder/engine"
	"carereminder/middleware"
	"carereminder/model"

	"github.com/gin-gonic/gin"
)

func ReminderController(router *gin.Engine, eng *engine.Engine, secret string) {
	routes := router.Group("/reminders", middleware.AccessTokenMiddleware(secret))
	{
		routes.GET("", func(c *gin.Context) {
			ListReminders(c, eng)
		})
		routes.GET("/stream", func(c *gin.Context) {
			StreamReminders(c, eng)
		})
		routes.GET("/:id", func(c *gin.Context) {
			GetReminder(c, eng)
		})
	}
}

// authorView reads ?view=author|recipient; recipient is the default.
func authorView(c *gin.Context) (bool, bool) {
	switch c.DefaultQuery("view", "recipient") {
	case "author":
		return true, true
	case "recipient":
		return false, true
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "view must be author or recipient"})
	return false, false
}

func ListReminders(c *gin.Context, eng *engine.Engine) {
	author, ok := authorView(c)
	if !ok {
		return
	}
	list, err := eng.List(c.Request.Context(), middleware.UserID(c), author)
	if err != nil {
		controller.RespondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reminders": dto.NewReminderListResponse(list)})
}

// StreamReminders sends the full list as a server-sent event every time it
// changes, until the client goes away.
func StreamReminders(c *gin.Context, eng *engine.Engine) {
	author, ok := authorView(c)
	if !ok {
		return
	}
	ch, err := eng.Subscribe(c.Request.Context(), middleware.UserID(c), author)
	if err != nil {
		controller.RespondError(c, err)
		return
	}
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		list, ok := <-ch
		if !ok {
			return false
		}
		c.SSEvent("reminders", dto.NewReminderListResponse(list))
		return true
	})
}

func GetReminder(c *gin.Context, eng *engine.Engine) {
	r, ok := load(c, eng)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, dto.NewReminderResponse(r))
}

// load fetches :id and makes sure the caller is its author or recipient.
// Reminders of other users look like missing ones.
func load(c *gin.Context, eng *engine.Engine) (*model.Reminder, bool) {
	r, err := eng.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		controller.RespondError(c, err)
		return nil, false
	}
	userID := middleware.UserID(c)
	if r.CreatedBy != userID && r.ForUser != userID {
		controller.RespondError(c, engine.ErrNotFound)
		return nil, false
	}
	return r, true
}
