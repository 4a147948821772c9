package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	usagedomain "github.com/credgate/credgate/internal/usage/domain"
	"github.com/credgate/credgate/pkg/db/pagination"
)

type listUsageEventsQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
	AgentID   string `form:"agent_id"`
	OrgID     string `form:"org_id"`
	Status    string `form:"status"`
}

func (s *Server) ListUsageEvents(c *gin.Context) {
	var query listUsageEventsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req := usagedomain.ListRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
	}

	if value := strings.TrimSpace(query.AgentID); value != "" {
		agentID, err := parseSnowflakeID(value)
		if err != nil {
			AbortWithError(c, newValidationError("agent_id", "invalid_agent_id", "invalid agent_id"))
			return
		}
		req.AgentID = agentID
	}

	if value := strings.TrimSpace(query.OrgID); value != "" {
		orgID, err := parseSnowflakeID(value)
		if err != nil {
			AbortWithError(c, newValidationError("org_id", "invalid_org_id", "invalid org_id"))
			return
		}
		req.OrgID = orgID
	}

	if value := strings.ToUpper(strings.TrimSpace(query.Status)); value != "" {
		status := usagedomain.Status(value)
		if !status.Valid() {
			AbortWithError(c, newValidationError("status", "invalid_status", "invalid status"))
			return
		}
		req.Status = status
	}

	resp, err := s.usageSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.UsageEvents, "page_info": resp.PageInfo})
}

// EnqueueUsageEvent accepts an out-of-band usage event for asynchronous
// recording. Duplicate request ids collapse into the already queued job.
func (s *Server) EnqueueUsageEvent(c *gin.Context) {
	var req usagedomain.RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.usageQueue.Enqueue(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id":     job.ID,
		"request_id": job.RequestID,
		"status":     job.Status,
	})
}
