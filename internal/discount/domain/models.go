// Package domain contains persistence models for discount codes.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// RuleType describes how a discount changes the cart total.
type RuleType string

const (
	RuleTypePercentage   RuleType = "percentage"
	RuleTypeFixed        RuleType = "fixed"
	RuleTypeFreeShipping RuleType = "free_shipping"
)

// Allocation describes what the discount value applies to.
type Allocation string

const (
	AllocationTotal Allocation = "total"
	AllocationItem  Allocation = "item"
)

// Discount is a redeemable code with a validity window and usage budget.
// UsageLimit of zero means unlimited.
type Discount struct {
	ID         snowflake.ID `gorm:"primaryKey"`
	Code       string       `gorm:"type:text;not null;uniqueIndex"`
	RuleType   RuleType     `gorm:"type:text;not null"`
	Value      int64        `gorm:"not null"`
	Allocation Allocation   `gorm:"type:text;not null;default:'total'"`
	Stackable  bool         `gorm:"not null;default:false"`
	UsageLimit int64        `gorm:"not null;default:0"`
	UsageCount int64        `gorm:"not null;default:0"`
	StartsAt   *time.Time   `gorm:""`
	EndsAt     *time.Time   `gorm:""`
	IsDisabled bool         `gorm:"not null;default:false"`
	CreatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Discount) TableName() string { return "discounts" }

// Service applies and removes discount codes on carts, enforcing the
// stacking rule.
type Service interface {
	ApplyToCart(ctx context.Context, cartID snowflake.ID, code string) ([]Discount, error)
	RemoveFromCart(ctx context.Context, cartID snowflake.ID, code string) error
	ListForCart(ctx context.Context, cartID snowflake.ID) ([]Discount, error)
}

var (
	ErrDiscountNotFound     = errors.New("discount_not_found")
	ErrDiscountDisabled     = errors.New("discount_disabled")
	ErrDiscountNotActive    = errors.New("discount_not_active")
	ErrDiscountLimitReached = errors.New("discount_limit_reached")
)

// Active reports whether the discount is inside its validity window.
func (d Discount) Active(now time.Time) bool {
	if d.StartsAt != nil && now.Before(*d.StartsAt) {
		return false
	}
	if d.EndsAt != nil && now.After(*d.EndsAt) {
		return false
	}
	return true
}
