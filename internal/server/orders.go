package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandleGetOrder(c *gin.Context) {
	displayID, err := strconv.ParseInt(strings.TrimSpace(c.Param("display_id")), 10, 64)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	secretKey := strings.TrimSpace(c.Query("secret_key"))

	order, items, err := s.orderSvc.GetByDisplayID(c.Request.Context(), displayID, secretKey)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order, "line_items": items})
}
