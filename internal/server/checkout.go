package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

type initiateSessionRequest struct {
	ProviderCode string `json:"provider_code" binding:"required"`
}

func (s *Server) HandleInitiatePaymentSession(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req initiateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	session, err := s.checkoutSvc.InitiateCartSession(c.Request.Context(), cartID, req.ProviderCode)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment_session": session})
}

func (s *Server) HandleSelectPaymentSession(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	sessionID, err := pathID(c, "sid")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	if err := s.checkoutSvc.SelectCartSession(c.Request.Context(), cartID, sessionID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type completeCartRequest struct {
	PaymentSessionID string `json:"payment_session_id"`
}

func (s *Server) HandleCompleteCart(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req completeCartRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
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

	order, err := s.checkoutSvc.CompleteCart(c.Request.Context(), cartID, sessionID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}
