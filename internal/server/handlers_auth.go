package server

import (
	"net/http"

	"github.com/aimerfeng/FinderMeister/internal/auth"
	"github.com/aimerfeng/FinderMeister/internal/logging"
	"github.com/gin-gonic/gin"
)

// handleRegister handles user registration
func (s *APIServer) handleRegister(c *gin.Context) {
	var req auth.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := s.authService.Register(c.Request.Context(), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// handleLogin handles user login
func (s *APIServer) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := s.authService.Login(c.Request.Context(), &req)
	if err != nil {
		logging.LogSecurityEvent("login_failed", "", c.ClientIP(), logging.SanitizeForLog(req.Email, 100))
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// handleRefresh handles token refresh
func (s *APIServer) handleRefresh(c *gin.Context) {
	var req auth.RefreshRequest
	if !bindJSON(c, &req) {
		return
	}

	tokens, err := s.authService.RefreshTokens(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokens)
}

func (s *APIServer) handleMe(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}

	user, err := s.authService.GetUserByID(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, auth.ToUserResponse(user))
}

func (s *APIServer) handleChangePassword(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req auth.ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}

	if err := s.authService.ChangePassword(c.Request.Context(), userID, &req); err != nil {
		respondError(c, err)
		return
	}

	logging.LogSecurityEvent("password_changed", userID.String(), c.ClientIP(), "")
	c.JSON(http.StatusOK, gin.H{"message": "Password changed successfully"})
}

func (s *APIServer) handleUpdateProfile(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req auth.UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}

	user, err := s.authService.UpdateProfile(c.Request.Context(), userID, &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, auth.ToUserResponse(user))
}
