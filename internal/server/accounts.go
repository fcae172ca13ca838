package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) HandleUnpaidByRegion(c *gin.Context) {
	accountID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	groups, err := s.accountSvc.UnpaidByRegion(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"regions": groups})
}
