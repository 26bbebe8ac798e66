package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"greendrake/housemarket/internal/api/middleware"
	"greendrake/housemarket/internal/services"
)

// RestAuthHandler handles sign-up, sign-in and sign-out.
type RestAuthHandler struct {
	authService services.IAuthService
}

// NewRestAuthHandler creates a new RestAuthHandler.
func NewRestAuthHandler(authService services.IAuthService) *RestAuthHandler {
	return &RestAuthHandler{authService: authService}
}

type signUpRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// SignUp handles POST /v1/auth/sign-up
func (h *RestAuthHandler) SignUp(c *gin.Context) {
	var req signUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	session, err := h.authService.SignUp(c.Request.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, session)
}

// SignIn handles POST /v1/auth/sign-in
func (h *RestAuthHandler) SignIn(c *gin.Context) {
	var req signInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format"})
		return
	}

	session, err := h.authService.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

// SignOut handles POST /v1/auth/sign-out
func (h *RestAuthHandler) SignOut(c *gin.Context) {
	h.authService.SignOut(c.Request.Context(), c.GetString(middleware.ContextKeyUserID))
	c.Status(http.StatusNoContent)
}

// Me handles GET /v1/users/me
func (h *RestAuthHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}
	user, err := h.authService.FindUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, user)
}
