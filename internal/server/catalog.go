package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	catalogdomain "github.com/stackbay/agora/internal/catalog/domain"
)

func (s *Server) createCategory(c *gin.Context) {
	var req catalogdomain.CreateCategoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	category, err := s.catalogSvc.CreateCategory(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, category)
}

func (s *Server) listOfferings(c *gin.Context) {
	var customerID snowflake.ID
	if raw := c.Query("customer_id"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_customer_id"})
			return
		}
		customerID = id
	}

	offerings, err := s.catalogSvc.ListOfferings(c.Request.Context(), customerID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"offerings": offerings})
}

func (s *Server) createOffering(c *gin.Context) {
	var req catalogdomain.CreateOfferingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	offering, err := s.catalogSvc.CreateOffering(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, offering)
}

func (s *Server) transitionOffering(c *gin.Context) {
	offeringID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		State catalogdomain.OfferingState `json:"state"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	if err := s.catalogSvc.TransitionOffering(c.Request.Context(), offeringID, req.State); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) createPlan(c *gin.Context) {
	var req catalogdomain.CreatePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	plan, err := s.catalogSvc.CreatePlan(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, plan)
}
