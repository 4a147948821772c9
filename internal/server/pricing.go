package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	pricingdomain "github.com/credgate/credgate/internal/pricing/domain"
)

func (s *Server) UpsertPricingRule(c *gin.Context) {
	var req pricingdomain.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	rule, err := s.pricingSvc.Upsert(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

func (s *Server) ListPricingRules(c *gin.Context) {
	rules, err := s.pricingSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rules})
}
