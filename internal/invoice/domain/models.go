// Package domain contains the invoice aggregation models.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

// Status is the invoice lifecycle.
type Status string

const (
	StatusOpen Status = "open"
	StatusPaid Status = "paid"
	StatusVoid Status = "void"
)

// Invoice aggregates unpaid account ledger entries of one region. The
// total is fixed at creation and never recomputed.
type Invoice struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	AccountID    snowflake.ID `gorm:"not null;index"`
	RegionID     snowflake.ID `gorm:"not null;index"`
	CurrencyCode string       `gorm:"type:text;not null"`
	TotalAmount  int64        `gorm:"not null"`
	Status       Status       `gorm:"type:text;not null;default:open"`
	DueAt        *time.Time   `gorm:""`
	PaidAt       *time.Time   `gorm:""`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// InvoiceLineItem joins an account ledger entry onto an invoice.
type InvoiceLineItem struct {
	ID                snowflake.ID `gorm:"primaryKey"`
	InvoiceID         snowflake.ID `gorm:"not null;index"`
	AccountLineItemID snowflake.ID `gorm:"not null;index"`
	Amount            int64        `gorm:"not null"`
	CreatedAt         time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceLineItem) TableName() string { return "invoice_line_items" }

var (
	ErrInvoiceNotFound = errors.New("invoice_not_found")
	ErrInvoiceNotOpen  = errors.New("invoice_not_open")
	ErrNoLineItems     = errors.New("invoice_no_line_items")
	ErrStaleLineItems  = errors.New("invoice_stale_line_items")
)
