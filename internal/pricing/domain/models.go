// Package domain contains persistence models for variant pricing.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Price is the authoritative unit price for (variant, region, currency).
type Price struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	VariantID    snowflake.ID `gorm:"not null;uniqueIndex:ux_prices_variant_region_currency,priority:1"`
	RegionID     snowflake.ID `gorm:"not null;uniqueIndex:ux_prices_variant_region_currency,priority:2"`
	CurrencyCode string       `gorm:"type:text;not null;uniqueIndex:ux_prices_variant_region_currency,priority:3"`
	Amount       int64        `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Price) TableName() string { return "prices" }

// Service resolves authoritative prices. A missing price is a hard
// failure, never a silent skip.
type Service interface {
	ResolvePrice(ctx context.Context, variantID, regionID snowflake.ID, currencyCode string) (*Price, error)
}

var (
	ErrPriceNotFound = errors.New("price_not_found")
	ErrInvalidPrice  = errors.New("invalid_price")
)
