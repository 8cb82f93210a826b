package api

import (
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Mr-kumar/pdf-toolkit/pkg/auth"
	"github.com/Mr-kumar/pdf-toolkit/pkg/errdefs"
	"github.com/Mr-kumar/pdf-toolkit/pkg/events"
	"github.com/Mr-kumar/pdf-toolkit/pkg/types"
)

const minAccountPasswordLen = 8

type registerRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
	FullName string `json:"full_name"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
}

// handleRegister creates an active, unverified account subscribed to
// the free plan and returns a token pair.
func (s *Server) handleRegister(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.New(errdefs.KindInvalidInput, "email and password are required"))
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(c, errdefs.New(errdefs.KindInvalidInput, "invalid email address"))
		return
	}
	if len(req.Password) < minAccountPasswordLen {
		writeError(c, errdefs.Newf(errdefs.KindInvalidInput,
			"password must be at least %d characters", minAccountPasswordLen))
		return
	}

	hash, err := s.auth.HashPassword(req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	ctx := c.Request.Context()
	now := time.Now().UTC()
	tenant := &types.Tenant{
		Email:        req.Email,
		PasswordHash: hash,
		FullName:     strings.TrimSpace(req.FullName),
		Active:       true,
		LastReset:    now,
	}
	if err := s.store.CreateTenant(ctx, tenant); err != nil {
		writeError(c, err)
		return
	}

	plan, err := s.store.GetPlanByName(ctx, "free")
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.store.Subscribe(ctx, tenant.ID, plan.ID, now); err != nil {
		writeError(c, err)
		return
	}

	s.broker.Publish(&events.Event{
		Type:    events.EventTenantRegistered,
		Message: "tenant registered",
	})

	tokens, err := s.issueTokens(tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"success":   true,
		"email":     tenant.Email,
		"full_name": tenant.FullName,
		"tokens":    tokens,
	})
}

func (s *Server) handleLogin(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.New(errdefs.KindInvalidInput, "email and password are required"))
		return
	}

	tenant, err := s.auth.AuthenticateTenant(c.Request.Context(),
		strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		writeError(c, err)
		return
	}

	tokens, err := s.issueTokens(tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokens)
}

// handleRefresh exchanges a valid refresh token for a new access
// token.
func (s *Server) handleRefresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.New(errdefs.KindInvalidInput, "refresh_token is required"))
		return
	}

	tenantID, err := s.auth.VerifyToken(req.RefreshToken, auth.TokenTypeRefresh)
	if err != nil {
		writeError(c, err)
		return
	}
	tenant, err := s.store.GetTenant(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, err)
		return
	}
	if !tenant.Active {
		writeError(c, errdefs.New(errdefs.KindUnauthenticated, "account is inactive"))
		return
	}

	access, err := s.auth.CreateAccessToken(tenant)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, tokenResponse{AccessToken: access, TokenType: "bearer"})
}

// handleLogout is stateless: tokens simply expire, the client
// discards its copies.
func (s *Server) handleLogout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "detail": "logged out"})
}

func (s *Server) handleProfile(c *gin.Context) {
	tenant := currentTenant(c)

	plan, err := s.store.GetPlanForTenant(c.Request.Context(), tenant.ID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"email":       tenant.Email,
		"full_name":   tenant.FullName,
		"is_verified": tenant.Verified,
		"usage": gin.H{
			"files_this_month": tenant.UsageCount,
			"last_reset":       tenant.LastReset.UTC(),
		},
		"plan": gin.H{
			"name":                plan.Name,
			"max_files_per_month": plan.MaxFilesPerMonth,
			"max_file_size_mb":    plan.MaxFileSizeMB,
		},
	})
}

type createAPIKeyRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleCreateAPIKey mints an API key. The raw key appears in this
// response only; the server keeps its hash.
func (s *Server) handleCreateAPIKey(c *gin.Context) {
	var req createAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, errdefs.New(errdefs.KindInvalidInput, "name is required"))
		return
	}

	raw, err := s.auth.GenerateAPIKey(c.Request.Context(), currentTenant(c).ID, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "name": req.Name, "api_key": raw})
}

func (s *Server) issueTokens(tenant *types.Tenant) (*tokenResponse, error) {
	access, err := s.auth.CreateAccessToken(tenant)
	if err != nil {
		return nil, err
	}
	refresh, err := s.auth.CreateRefreshToken(tenant)
	if err != nil {
		return nil, err
	}
	return &tokenResponse{AccessToken: access, RefreshToken: refresh, TokenType: "bearer"}, nil
}
