package v1

import (
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/handler/middleware"
	"github.com/dmehra2102/prod-golang-projects/medvision/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AuthHandler struct {
	auth *service.AuthService
	log  *zap.Logger
}

func NewAuthHandler(authSvc *service.AuthService, log *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: authSvc, log: log}
}

// Login handles POST /auth/login and returns a bearer token whose id claim names the clinician.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if !bindJSON(c, &req) {
		return
	}

	actor := service.Actor{IPAddress: c.ClientIP(), RequestID: middleware.RequestIDFrom(c)}
	pair, err := h.auth.Login(c.Request.Context(), actor, req.Email, req.Password)
	if err != nil {
		respondServiceError(c, h.log, err)
		return
	}
	respondOK(c, pair)
}
