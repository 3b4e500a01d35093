package controller

import (
	"errors"
	"log"
	"net/http"

	"carereminder/engine"
	"carereminder/store"

	"github.com/gin-gonic/gin"
)

func HealthController(router *gin.Engine) {
	router.GET("/", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "Api is running!"})
	})
}

// StatusFor maps engine and store errors to HTTP status codes.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidReminder), errors.Is(err, engine.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrInvalidTransition), errors.Is(err, store.ErrConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// RespondError writes err as {"error": ...}. Internal errors are logged and
// answered with a generic message.
func RespondError(c *gin.Context, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		log.Printf("[http] %s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(status, gin.H{"error": "Internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
