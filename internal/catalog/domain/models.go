// Package domain contains persistence models for the catalog records
// settlement depends on.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Region pins a currency and tax rate for carts and orders.
type Region struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	Name         string       `gorm:"type:text;not null"`
	CurrencyCode string       `gorm:"type:text;not null"`
	TaxRate      int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Region) TableName() string { return "regions" }

// Product is the minimal product record snapshotted into orders.
type Product struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Title     string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Product) TableName() string { return "products" }

// ProductVariant carries the purchasable unit and its measurements.
type ProductVariant struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	ProductID snowflake.ID `gorm:"not null;index"`
	Title     string       `gorm:"type:text;not null"`
	SKU       string       `gorm:"type:text;not null;uniqueIndex"`
	Weight    int64        `gorm:"not null;default:0"`
	Length    int64        `gorm:"not null;default:0"`
	Height    int64        `gorm:"not null;default:0"`
	Width     int64        `gorm:"not null;default:0"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ProductVariant) TableName() string { return "product_variants" }
