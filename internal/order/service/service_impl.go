package service

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/google/uuid"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	"github.com/smallbiznis/storefront/pkg/currency"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// displayIDAttempts bounds the retries when concurrent completions of
// different carts race to the same next display id.
const displayIDAttempts = 3

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("order.service"),
		genID: p.GenID,
	}
}

// MaterializeInput carries everything checkout resolved for the order.
type MaterializeInput struct {
	Order     orderdomain.Order
	LineItems []orderdomain.OrderLineItem
	Snapshots []orderdomain.PriceSnapshot
}

// Materialize writes the order, its snapshotted line items and price
// snapshots inside the caller's transaction. The display id is the next
// number in sequence; the caller's cart lock serializes completions of
// the same cart, and a display-id collision with another cart's
// completion rolls back to a savepoint and picks the next number again.
func (s *Service) Materialize(ctx context.Context, tx *gorm.DB, input MaterializeInput) (*orderdomain.Order, error) {
	order := input.Order
	if order.ID == 0 {
		order.ID = s.genID.Generate()
	}
	if order.Status == "" {
		order.Status = orderdomain.StatusPending
	}
	if order.CustomerID == nil && order.SecretKey == "" {
		order.SecretKey = uuid.NewString()
	}
	order.CurrencyCode = currency.Normalize(order.CurrencyCode)

	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now

	for attempt := 1; ; attempt++ {
		var nextDisplayID int64
		if err := tx.WithContext(ctx).Raw(
			`SELECT COALESCE(MAX(display_id), 0) + 1 FROM orders`,
		).Scan(&nextDisplayID).Error; err != nil {
			return nil, err
		}
		order.DisplayID = nextDisplayID

		if err := tx.WithContext(ctx).SavePoint("order_materialize").Error; err != nil {
			return nil, err
		}
		err := tx.WithContext(ctx).Create(&order).Error
		if err == nil {
			break
		}
		if !db.IsDuplicateKeyErr(err) || attempt >= displayIDAttempts {
			return nil, err
		}
		if err := tx.WithContext(ctx).RollbackTo("order_materialize").Error; err != nil {
			return nil, err
		}
		s.log.Warn("display id taken, retrying",
			zap.Int64("display_id", order.DisplayID),
			zap.Int("attempt", attempt),
		)
	}

	for i := range input.LineItems {
		item := &input.LineItems[i]
		if item.ID == 0 {
			item.ID = s.genID.Generate()
		}
		item.OrderID = order.ID
		item.CreatedAt = now
		if err := tx.WithContext(ctx).Create(item).Error; err != nil {
			return nil, err
		}

		if i < len(input.Snapshots) {
			snapshot := &input.Snapshots[i]
			if snapshot.ID == 0 {
				snapshot.ID = s.genID.Generate()
			}
			snapshot.LineItemID = item.ID
			snapshot.CreatedAt = now
			if err := tx.WithContext(ctx).Create(snapshot).Error; err != nil {
				return nil, err
			}
		}
	}

	return &order, nil
}

// Get loads one order with its line items.
func (s *Service) Get(ctx context.Context, orderID snowflake.ID) (*orderdomain.Order, []orderdomain.OrderLineItem, error) {
	var order orderdomain.Order
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM orders WHERE id = ?`,
		orderID,
	).Scan(&order).Error; err != nil {
		return nil, nil, err
	}
	if order.ID == 0 {
		return nil, nil, orderdomain.ErrOrderNotFound
	}

	items, err := s.lineItems(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return &order, items, nil
}

// GetByDisplayID retrieves an order by its human-facing number. Guest
// orders additionally require the secret key issued at completion;
// lookups that fail the key check report not found, never a hint that
// the number exists.
func (s *Service) GetByDisplayID(ctx context.Context, displayID int64, secretKey string) (*orderdomain.Order, []orderdomain.OrderLineItem, error) {
	var order orderdomain.Order
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM orders WHERE display_id = ?`,
		displayID,
	).Scan(&order).Error; err != nil {
		return nil, nil, err
	}
	if order.ID == 0 {
		return nil, nil, orderdomain.ErrOrderNotFound
	}

	if order.CustomerID == nil {
		if subtle.ConstantTimeCompare([]byte(order.SecretKey), []byte(secretKey)) != 1 {
			return nil, nil, orderdomain.ErrOrderNotFound
		}
	}

	items, err := s.lineItems(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return &order, items, nil
}

func (s *Service) lineItems(ctx context.Context, orderID snowflake.ID) ([]orderdomain.OrderLineItem, error) {
	var items []orderdomain.OrderLineItem
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM order_line_items WHERE order_id = ? ORDER BY id ASC`,
		orderID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}
