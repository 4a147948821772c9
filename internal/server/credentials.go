package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	credentialdomain "github.com/credgate/credgate/internal/credential/domain"
)

type upsertCredentialRequest struct {
	Provider string `json:"provider" binding:"required"`
	APIKey   string `json:"api_key" binding:"required"`
	BaseURL  string `json:"base_url"`
}

// UpsertCredential stores an organization's own provider key. Responses
// never echo the key back, only a masked suffix.
func (s *Server) UpsertCredential(c *gin.Context) {
	orgID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req upsertCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	stored, err := s.credentialSvc.Upsert(c.Request.Context(), credentialdomain.UpsertRequest{
		OrgID:    orgID,
		Provider: req.Provider,
		APIKey:   req.APIKey,
		BaseURL:  req.BaseURL,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, stored)
}

func (s *Server) ListCredentials(c *gin.Context) {
	orgID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	credentials, err := s.credentialSvc.List(c.Request.Context(), orgID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": credentials})
}

func (s *Server) DeleteCredential(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.credentialSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
