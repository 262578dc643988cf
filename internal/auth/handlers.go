package auth

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handlers contains the auth HTTP handlers
type Handlers struct {
	service *Service
}

// NewHandlers creates a new Handlers instance
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// Login handles operator login
// POST /api/auth/login
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "VALIDATION_ERROR",
			"message": err.Error(),
		})
		return
	}

	resp, err := h.service.Login(req)
	if err != nil {
		authErr, ok := err.(AuthError)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "INTERNAL_ERROR",
				"message": "failed to issue token",
			})
			return
		}
		status := http.StatusUnauthorized
		switch authErr.Code {
		case ErrRateLimited.Code:
			status = http.StatusTooManyRequests
		case ErrNotConfigured.Code:
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"error":   authErr.Code,
			"message": authErr.Message,
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
