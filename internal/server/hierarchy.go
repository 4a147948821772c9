package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	hierarchydomain "github.com/credgate/credgate/internal/hierarchy/domain"
)

func (s *Server) CreateOrg(c *gin.Context) {
	var req hierarchydomain.CreateOrgRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, err := s.hierarchySvc.CreateOrg(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, org)
}

func (s *Server) ListOrgs(c *gin.Context) {
	orgs, err := s.hierarchySvc.ListOrgs(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": orgs})
}

func (s *Server) GetOrgByID(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	org, err := s.hierarchySvc.GetOrg(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, org)
}

func (s *Server) CreateWorkspace(c *gin.Context) {
	var req hierarchydomain.CreateWorkspaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	workspace, err := s.hierarchySvc.CreateWorkspace(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, workspace)
}

func (s *Server) CreateAgentGroup(c *gin.Context) {
	var req hierarchydomain.CreateAgentGroupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	group, err := s.hierarchySvc.CreateAgentGroup(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, group)
}

func (s *Server) CreateAgent(c *gin.Context) {
	var req hierarchydomain.CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	agent, err := s.hierarchySvc.CreateAgent(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, agent)
}

func (s *Server) GetAgentByID(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	agent, err := s.hierarchySvc.GetAgent(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, agent)
}

type setAgentStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) SetAgentStatus(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	var req setAgentStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	status := hierarchydomain.AgentStatus(strings.ToUpper(strings.TrimSpace(req.Status)))
	if err := s.hierarchySvc.SetAgentStatus(c.Request.Context(), id, status); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": string(status)})
}
