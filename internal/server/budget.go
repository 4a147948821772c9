package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	budgetdomain "github.com/credgate/credgate/internal/budget/domain"
)

func (s *Server) CreateBudget(c *gin.Context) {
	var req budgetdomain.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	created, err := s.budgetSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, created)
}

func (s *Server) ListBudgets(c *gin.Context) {
	target, err := parseTargetQuery(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	budgets, err := s.budgetSvc.List(c.Request.Context(), target)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": budgets})
}

func (s *Server) DeleteBudget(c *gin.Context) {
	id, err := parseSnowflakeParam(c, "id")
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid id"))
		return
	}

	if err := s.budgetSvc.Delete(c.Request.Context(), id); err != nil {
		AbortWithError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
