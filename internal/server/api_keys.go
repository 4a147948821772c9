package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apikeydomain "github.com/credgate/credgate/internal/apikey/domain"
)

// IssueAPIKey mints a new agent key. The plaintext key appears only in
// this response; at rest the gateway keeps the hash and a display suffix.
func (s *Server) IssueAPIKey(c *gin.Context) {
	var req apikeydomain.IssueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	secret, err := s.apiKeySvc.Issue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, secret)
}

type listAPIKeysQuery struct {
	AgentID string `form:"agent_id" binding:"required"`
}

func (s *Server) ListAPIKeys(c *gin.Context) {
	var query listAPIKeysQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	agentID, err := parseSnowflakeID(query.AgentID)
	if err != nil {
		AbortWithError(c, newValidationError("agent_id", "invalid_agent_id", "invalid agent_id"))
		return
	}

	keys, err := s.apiKeySvc.List(c.Request.Context(), agentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) RevokeAPIKey(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.apiKeySvc.Revoke(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
