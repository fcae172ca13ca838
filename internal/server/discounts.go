package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type applyDiscountRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) HandleApplyDiscount(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req applyDiscountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	discounts, err := s.discountSvc.ApplyToCart(c.Request.Context(), cartID, req.Code)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"discounts": discounts})
}

func (s *Server) HandleRemoveDiscount(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}
	code := strings.TrimSpace(c.Param("code"))
	if code == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	if err := s.discountSvc.RemoveFromCart(c.Request.Context(), cartID, code); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
