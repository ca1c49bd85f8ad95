package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	quotadomain "github.com/stackbay/agora/internal/quota/domain"
	resourcedomain "github.com/stackbay/agora/internal/resource/domain"
)

type reportUsageRequest struct {
	ResourceID    string     `json:"resource_id"`
	ComponentType string     `json:"component_type"`
	Amount        int64      `json:"amount"`
	Date          *time.Time `json:"date,omitempty"`
	Recurring     bool       `json:"recurring,omitempty"`
	Description   string     `json:"description,omitempty"`
}

// reportUsage validates a usage figure against the component limit and
// records it for the billing period.
func (s *Server) reportUsage(c *gin.Context) {
	var req reportUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	resourceID, err := snowflake.ParseString(req.ResourceID)
	if err != nil || resourceID == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_resource_id"})
		return
	}

	ctx := c.Request.Context()
	resource, err := s.resourceSvc.GetResource(ctx, resourceID)
	if err != nil {
		respondError(c, err)
		return
	}

	components, err := s.catalogSvc.GetComponents(ctx, resource.OfferingID)
	if err != nil {
		respondError(c, err)
		return
	}
	componentIdx := -1
	for i, component := range components {
		if component.Type == req.ComponentType {
			componentIdx = i
			break
		}
	}
	if componentIdx < 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown_component_type"})
		return
	}
	component := components[componentIdx]

	date := s.clock.Now()
	if req.Date != nil {
		date = *req.Date
	}

	if err := s.quotaSvc.ValidateAmount(ctx, component, resourceID, req.Amount, date); err != nil {
		respondError(c, err)
		return
	}

	var planPeriodID *snowflake.ID
	var period resourcedomain.ResourcePlanPeriod
	err = s.db.WithContext(ctx).
		Where("resource_id = ? AND \"end\" IS NULL", resourceID).
		First(&period).Error
	switch {
	case err == nil:
		planPeriodID = &period.ID
	case !errors.Is(err, gorm.ErrRecordNotFound):
		respondError(c, err)
		return
	}

	usage, err := s.quotaSvc.SetUsage(ctx, quotadomain.SetUsageRequest{
		ResourceID:   resourceID,
		ComponentID:  component.ID,
		PlanPeriodID: planPeriodID,
		Amount:       req.Amount,
		Date:         date,
		Recurring:    req.Recurring,
		Description:  req.Description,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, usage)
}
