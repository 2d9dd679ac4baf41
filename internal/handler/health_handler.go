package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type HealthHandler struct {
	dbEnabled bool
}

func NewHealthHandler(dbEnabled bool) *HealthHandler {
	return &HealthHandler{dbEnabled: dbEnabled}
}

func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "ok",
		"database": h.dbEnabled,
	})
}
