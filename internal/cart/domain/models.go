// Package domain contains persistence models for the pre-purchase cart.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Cart is the mutable draft of a purchase. Once linked to the order it
// produced the cart is consumed and no longer mutated.
type Cart struct {
	ID                  snowflake.ID  `gorm:"primaryKey"`
	RegionID            snowflake.ID  `gorm:"not null;index"`
	CurrencyCode        string        `gorm:"type:text;not null"`
	Email               string        `gorm:"type:text"`
	CustomerID          *snowflake.ID `gorm:"index"`
	BillingAddressID    *snowflake.ID `gorm:""`
	ShippingAddressID   *snowflake.ID `gorm:""`
	PaymentCollectionID *snowflake.ID `gorm:"index"`
	OrderID             *snowflake.ID `gorm:"uniqueIndex"`
	CompletedAt         *time.Time    `gorm:""`
	CreatedAt           time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt           time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Cart) TableName() string { return "carts" }

// LineItem is one variant/quantity row on a cart. Unit price and total
// are recomputed server-side, never trusted from the client.
type LineItem struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	CartID    snowflake.ID `gorm:"not null;index"`
	VariantID snowflake.ID `gorm:"not null;index"`
	Quantity  int64        `gorm:"not null"`
	UnitPrice int64        `gorm:"not null"`
	Total     int64        `gorm:"not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "cart_line_items" }

// Address is a billing or shipping address attached to a cart.
type Address struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	FirstName   string       `gorm:"type:text"`
	LastName    string       `gorm:"type:text"`
	Line1       string       `gorm:"type:text;not null"`
	Line2       string       `gorm:"type:text"`
	City        string       `gorm:"type:text;not null"`
	PostalCode  string       `gorm:"type:text"`
	CountryCode string       `gorm:"type:text;not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Address) TableName() string { return "addresses" }

// CartDiscount connects a discount code to a cart.
type CartDiscount struct {
	CartID     snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	DiscountID snowflake.ID `gorm:"primaryKey;autoIncrement:false"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (CartDiscount) TableName() string { return "cart_discounts" }

var (
	ErrCartNotFound     = errors.New("cart_not_found")
	ErrCartCompleted    = errors.New("cart_already_completed")
	ErrMissingRegion    = errors.New("cart_missing_region")
	ErrMissingAddresses = errors.New("cart_missing_addresses")
	ErrEmptyCart        = errors.New("cart_empty")
)
