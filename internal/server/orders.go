package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	orderdomain "github.com/stackbay/agora/internal/order/domain"
)

func (s *Server) submitOrder(c *gin.Context) {
	var req orderdomain.SubmitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	resp, err := s.orderSvc.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

func (s *Server) listOrders(c *gin.Context) {
	var req orderdomain.ListOrdersRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	resp, err := s.orderSvc.ListOrders(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getOrder(c *gin.Context) {
	orderID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	order, err := s.orderSvc.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (s *Server) listOrderItems(c *gin.Context) {
	orderID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	items, err := s.orderSvc.ListItems(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) approveOrder(c *gin.Context) {
	orderID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		ApprovedBy string `json:"approved_by"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	err := s.orderSvc.Approve(c.Request.Context(), orderdomain.ApproveOrderRequest{
		OrderID:    orderID.String(),
		ApprovedBy: req.ApprovedBy,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) rejectOrder(c *gin.Context) {
	orderID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	err := s.orderSvc.Reject(c.Request.Context(), orderdomain.RejectOrderRequest{
		OrderID: orderID.String(),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
