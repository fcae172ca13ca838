// Package domain contains the immutable order models produced by cart
// finalization.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the order lifecycle. Transitions after creation are driven
// only by payment webhook routing.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Order is the immutable result of completing a cart. DisplayID is the
// human-facing monotonically increasing number; SecretKey authorizes
// guest retrieval when no customer is attached.
type Order struct {
	ID                snowflake.ID  `gorm:"primaryKey"`
	DisplayID         int64         `gorm:"not null;uniqueIndex"`
	CartID            snowflake.ID  `gorm:"not null;uniqueIndex"`
	RegionID          snowflake.ID  `gorm:"not null;index"`
	CustomerID        *snowflake.ID `gorm:"index"`
	AccountID         *snowflake.ID `gorm:"index"`
	Email             string        `gorm:"type:text"`
	CurrencyCode      string        `gorm:"type:text;not null"`
	Subtotal          int64         `gorm:"not null"`
	DiscountTotal     int64         `gorm:"not null;default:0"`
	TaxTotal          int64         `gorm:"not null;default:0"`
	Total             int64         `gorm:"not null"`
	Status            Status        `gorm:"type:text;not null;default:pending"`
	SecretKey         string        `gorm:"type:text"`
	BillingAddressID  *snowflake.ID `gorm:""`
	ShippingAddressID *snowflake.ID `gorm:""`
	CreatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Order) TableName() string { return "orders" }

// OrderLineItem snapshots everything the order needs from the catalog
// at completion time. Later catalog edits never reach it.
type OrderLineItem struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	OrderID      snowflake.ID `gorm:"not null;index"`
	VariantID    snowflake.ID `gorm:"not null"`
	ProductTitle string       `gorm:"type:text;not null"`
	VariantTitle string       `gorm:"type:text"`
	SKU          string       `gorm:"type:text"`
	Quantity     int64        `gorm:"not null"`
	UnitPrice    int64        `gorm:"not null"`
	Total        int64        `gorm:"not null"`
	Weight       int64        `gorm:"not null;default:0"`
	Length       int64        `gorm:"not null;default:0"`
	Height       int64        `gorm:"not null;default:0"`
	Width        int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (OrderLineItem) TableName() string { return "order_line_items" }

// PriceSnapshot records the authoritative price row a line item was
// settled against, for audit.
type PriceSnapshot struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	LineItemID   snowflake.ID `gorm:"not null;uniqueIndex"`
	PriceID      snowflake.ID `gorm:"not null"`
	RegionID     snowflake.ID `gorm:"not null"`
	CurrencyCode string       `gorm:"type:text;not null"`
	Amount       int64        `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (PriceSnapshot) TableName() string { return "order_price_snapshots" }

var ErrOrderNotFound = errors.New("order_not_found")
