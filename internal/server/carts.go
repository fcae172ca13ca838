package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	cartservice "github.com/smallbiznis/storefront/internal/cart/service"
)

type createCartRequest struct {
	RegionID   string `json:"region_id" binding:"required"`
	Email      string `json:"email"`
	CustomerID string `json:"customer_id"`
}

func (s *Server) HandleCreateCart(c *gin.Context) {
	var req createCartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	regionID, err := snowflake.ParseString(req.RegionID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	input := cartservice.CreateInput{
		RegionID: regionID,
		Email:    req.Email,
	}
	if strings.TrimSpace(req.CustomerID) != "" {
		customerID, err := snowflake.ParseString(req.CustomerID)
		if err != nil {
			AbortWithError(c, ErrInvalidRequest)
			return
		}
		input.CustomerID = &customerID
	}

	cart, err := s.cartSvc.Create(c.Request.Context(), input)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"cart": cart})
}

func (s *Server) HandleGetCart(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	cart, items, err := s.cartSvc.Get(c.Request.Context(), cartID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart, "line_items": items})
}

type addLineItemRequest struct {
	VariantID string `json:"variant_id" binding:"required"`
	Quantity  int64  `json:"quantity" binding:"required"`
}

func (s *Server) HandleAddLineItem(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req addLineItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	variantID, err := snowflake.ParseString(req.VariantID)
	if err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	item, err := s.cartSvc.AddLineItem(c.Request.Context(), cartID, variantID, req.Quantity)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"line_item": item})
}

type addressRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Line1       string `json:"line_1" binding:"required"`
	Line2       string `json:"line_2"`
	City        string `json:"city" binding:"required"`
	PostalCode  string `json:"postal_code"`
	CountryCode string `json:"country_code" binding:"required"`
}

type setAddressesRequest struct {
	Billing  addressRequest `json:"billing" binding:"required"`
	Shipping addressRequest `json:"shipping" binding:"required"`
}

func (s *Server) HandleSetAddresses(c *gin.Context) {
	cartID, err := pathID(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req setAddressesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	cart, err := s.cartSvc.SetAddresses(c.Request.Context(), cartID,
		toAddress(req.Billing), toAddress(req.Shipping))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cart": cart})
}

func toAddress(req addressRequest) cartdomain.Address {
	return cartdomain.Address{
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Line1:       req.Line1,
		Line2:       req.Line2,
		City:        req.City,
		PostalCode:  req.PostalCode,
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
	}
}

func pathID(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param(name)))
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}
