package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	structuredomain "github.com/stackbay/agora/internal/structure/domain"
)

func (s *Server) createCustomer(c *gin.Context) {
	var req structuredomain.CreateCustomerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	customer, err := s.structureSvc.CreateCustomer(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, customer)
}

func (s *Server) createProject(c *gin.Context) {
	var req structuredomain.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	project, err := s.structureSvc.CreateProject(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, project)
}
