// Package domain contains the credit account ledger models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account is a customer's credit account. All monetary columns are in
// the account's own currency; orders in other currencies are converted
// on admission.
type Account struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	CustomerID   snowflake.ID `gorm:"not null;index"`
	Name         string       `gorm:"type:text;not null"`
	CurrencyCode string       `gorm:"type:text;not null"`
	TotalAmount  int64        `gorm:"not null;default:0"`
	PaidAmount   int64        `gorm:"not null;default:0"`
	CreditLimit  int64        `gorm:"not null;default:0"`
	IsActive     bool         `gorm:"not null;default:true"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }

// LineItemStatus is the settlement state of one ledger entry.
type LineItemStatus string

const (
	LineItemUnpaid LineItemStatus = "unpaid"
	LineItemPaid   LineItemStatus = "paid"
)

// AccountLineItem is one order charged against an account. Amount is
// kept in the order's currency; the region groups entries for invoicing.
type AccountLineItem struct {
	ID             snowflake.ID   `gorm:"primaryKey"`
	AccountID      snowflake.ID   `gorm:"not null;index"`
	RegionID       snowflake.ID   `gorm:"not null;index"`
	OrderID        snowflake.ID   `gorm:"not null;uniqueIndex"`
	OrderDisplayID int64          `gorm:"not null"`
	Amount         int64          `gorm:"not null"`
	CurrencyCode   string         `gorm:"type:text;not null"`
	PaymentStatus  LineItemStatus `gorm:"type:text;not null;default:unpaid"`
	CreatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AccountLineItem) TableName() string { return "account_line_items" }

// RegionUnpaid is the read-only projection of outstanding entries for
// one region.
type RegionUnpaid struct {
	RegionID       snowflake.ID `json:"region_id"`
	CurrencyCode   string       `json:"currency_code"`
	ItemCount      int64        `json:"item_count"`
	Total          int64        `json:"total"`
	FormattedTotal string       `json:"formatted_total"`
}

var (
	ErrAccountNotFound        = errors.New("account_not_found")
	ErrAccountInactive        = errors.New("account_inactive")
	ErrNoActiveAccount        = errors.New("no_active_account")
	ErrMultipleActiveAccounts = errors.New("multiple_active_accounts")
	ErrInsufficientCredit     = errors.New("insufficient_credit")
)
