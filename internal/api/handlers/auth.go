package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/peoplecounter/internal/auth"
	"github.com/your-org/peoplecounter/pkg/dto"
)

type AuthHandler struct {
	manager *auth.Manager
}

func NewAuthHandler(m *auth.Manager) *AuthHandler {
	return &AuthHandler{manager: m}
}

func (h *AuthHandler) Login(c *gin.Context) {
	var req dto.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", "username and password are required")
		return
	}

	token, err := h.manager.Login(req.Username, req.Password)
	if err != nil {
		// Never distinguish unknown user from wrong password.
		respondError(c, http.StatusUnauthorized, "invalid_credentials", "invalid username or password")
		return
	}

	c.JSON(http.StatusOK, dto.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (h *AuthHandler) Me(c *gin.Context) {
	c.JSON(http.StatusOK, dto.MeResponse{Username: auth.Subject(c)})
}
