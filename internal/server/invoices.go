package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type createInvoiceRequest struct {
	AccountID   string   `json:"account_id" binding:"required"`
	RegionID    string   `json:"region_id" binding:"required"`
	LineItemIDs []string `json:"line_item_ids" binding:"required"`
	DueAt       string   `json:"due_at"`
}

func (s *Server) HandleCreateInvoice(c *gin.Context) {
	var req createInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	accountID, err := snowflake.ParseString(req.AccountID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	regionID, err := snowflake.ParseString(req.RegionID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	lineItemIDs := make([]snowflake.ID, 0, len(req.LineItemIDs))
	for _, raw := range req.LineItemIDs {
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		lineItemIDs = append(lineItemIDs, id)
	}

	var dueAt *time.Time
	if strings.TrimSpace(req.DueAt) != "" {
		parsed, err := time.Parse(time.RFC3339, req.DueAt)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		dueAt = &parsed
	}

	invoice, err := s.invoiceSvc.CreateFromLineItems(c.Request.Context(), accountID, regionID, lineItemIDs, dueAt)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"invoice": invoice})
}

type payInvoiceRequest struct {
	ProviderCode     string `json:"provider_code"`
	PaymentSessionID string `json:"payment_session_id"`
}

func (s *Server) HandlePayInvoice(c *gin.Context) {
	invoiceID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req payInvoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	var sessionID *snowflake.ID
	if strings.TrimSpace(req.PaymentSessionID) != "" {
		parsed, err := snowflake.ParseString(req.PaymentSessionID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		sessionID = &parsed
	}
	if sessionID == nil && strings.TrimSpace(req.ProviderCode) == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	invoice, err := s.invoiceSvc.Pay(c.Request.Context(), invoiceID, req.ProviderCode, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"invoice": invoice})
}
