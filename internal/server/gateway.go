package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	gatewaydomain "github.com/credgate/credgate/internal/gateway/domain"
)

// ChatCompletions is the metered completion endpoint. The bearer token is
// an agent API key; billing and admission happen inside the gateway
// service so every terminal outcome leaves exactly one usage event.
func (s *Server) ChatCompletions(c *gin.Context) {
	apiKey, ok := bearerToken(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req gatewaydomain.ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.gatewaySvc.Complete(c.Request.Context(), apiKey, req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func bearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return "", false
	}

	parts := strings.Fields(header)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}

	return parts[1], true
}
