package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	orderdomain "github.com/stackbay/agora/internal/order/domain"
)

func (s *Server) listResources(c *gin.Context) {
	var projectID snowflake.ID
	if raw := c.Query("project_id"); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_project_id"})
			return
		}
		projectID = id
	}

	resources, err := s.resourceSvc.ListResources(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"resources": resources})
}

func (s *Server) getResource(c *gin.Context) {
	resourceID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	resource, err := s.resourceSvc.GetResource(c.Request.Context(), resourceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resource)
}

// terminateResource submits a termination order for the resource rather
// than mutating resource state directly.
func (s *Server) terminateResource(c *gin.Context) {
	resourceID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		CreatedBy string `json:"created_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	resource, err := s.resourceSvc.GetResource(c.Request.Context(), resourceID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp, err := s.orderSvc.Submit(c.Request.Context(), orderdomain.SubmitOrderRequest{
		ProjectID: resource.ProjectID.String(),
		CreatedBy: req.CreatedBy,
		Items: []orderdomain.SubmitOrderItemRequest{{
			OfferingID: resource.OfferingID.String(),
			ResourceID: resource.ID.String(),
			Type:       orderdomain.OrderItemTypeTerminate,
		}},
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) moveResource(c *gin.Context) {
	resourceID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		ProjectID string `json:"project_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	targetProjectID, err := snowflake.ParseString(req.ProjectID)
	if err != nil || targetProjectID == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_project_id"})
		return
	}

	if err := s.resourceSvc.MoveResource(c.Request.Context(), resourceID, targetProjectID); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
