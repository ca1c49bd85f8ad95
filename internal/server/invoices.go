package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) getInvoice(c *gin.Context) {
	invoiceID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := s.invoicingSvc.GetInvoice(c.Request.Context(), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, invoice)
}

func (s *Server) listInvoiceItems(c *gin.Context) {
	invoiceID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	items, err := s.invoicingSvc.ListItems(c.Request.Context(), invoiceID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) updateInvoiceItemQuantity(c *gin.Context) {
	itemID, ok := s.parseIDParam(c, "id")
	if !ok {
		return
	}

	var req struct {
		Quantity float64 `json:"quantity"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid_request"})
		return
	}

	if err := s.invoicingSvc.UpdateItemQuantity(c.Request.Context(), itemID, req.Quantity); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
