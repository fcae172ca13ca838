// Package domain contains persistence models for currency conversion.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RateScale is the fixed-point denominator for stored conversion rates.
const RateScale int64 = 1_000_000

// Rate is one directed conversion rate between two currency codes.
type Rate struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	FromCode  string       `gorm:"type:text;not null;uniqueIndex:ux_currency_rates_pair,priority:1"`
	ToCode    string       `gorm:"type:text;not null;uniqueIndex:ux_currency_rates_pair,priority:2"`
	RateMicro int64        `gorm:"not null"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Rate) TableName() string { return "currency_rates" }

// Converter converts integer minor-unit amounts between currencies using
// the current stored rate. Rate exposes the micro-rate that Convert
// applies so callers can record it alongside the converted amount.
type Converter interface {
	Convert(ctx context.Context, amount int64, fromCode, toCode string) (int64, error)
	Rate(ctx context.Context, fromCode, toCode string) (int64, error)
}

var (
	ErrInvalidCurrency = errors.New("invalid_currency")
	ErrRateNotFound    = errors.New("currency_rate_not_found")
)
