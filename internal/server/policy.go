package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	policydomain "github.com/credgate/credgate/internal/policy/domain"
)

func (s *Server) CreatePolicy(c *gin.Context) {
	var req policydomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.policySvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListPolicies(c *gin.Context) {
	target, err := parseTargetQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	policies, err := s.policySvc.List(c.Request.Context(), target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": policies})
}

func (s *Server) DeletePolicy(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.policySvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// GetEffectivePolicy resolves the merged policy an agent is actually
// subject to, after walking its whole ancestor chain.
func (s *Server) GetEffectivePolicy(c *gin.Context) {
	agentID, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	effective, err := s.policySvc.Effective(c.Request.Context(), agentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, effective)
}
