package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

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

func NewService(p Params) discountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("discount.service"),
		genID: p.GenID,
	}
}

// ApplyToCart validates the code and resolves stacking against the
// cart's current discount set. A non-stackable discount on either side
// replaces the whole set; only an all-stackable combination appends.
func (s *Service) ApplyToCart(ctx context.Context, cartID snowflake.ID, code string) ([]discountdomain.Discount, error) {
	code = strings.TrimSpace(code)
	if cartID == 0 || code == "" {
		return nil, discountdomain.ErrDiscountNotFound
	}

	var result []discountdomain.Discount
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.lockCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if cart == nil {
			return cartdomain.ErrCartNotFound
		}
		if cart.CompletedAt != nil {
			return cartdomain.ErrCartCompleted
		}

		incoming, err := s.lockDiscountByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		if incoming == nil {
			return discountdomain.ErrDiscountNotFound
		}
		if incoming.IsDisabled {
			return discountdomain.ErrDiscountDisabled
		}
		now := time.Now().UTC()
		if !incoming.Active(now) {
			return discountdomain.ErrDiscountNotActive
		}
		if incoming.UsageLimit > 0 && incoming.UsageCount >= incoming.UsageLimit {
			return discountdomain.ErrDiscountLimitReached
		}

		existing, err := s.listForCart(ctx, tx, cartID)
		if err != nil {
			return err
		}

		replace := !incoming.Stackable
		for _, d := range existing {
			if !d.Stackable {
				replace = true
			}
			if d.ID == incoming.ID {
				// Re-applying an attached code is a no-op.
				result = existing
				return nil
			}
		}

		if replace {
			if err := tx.WithContext(ctx).Exec(
				`DELETE FROM cart_discounts WHERE cart_id = ?`,
				cartID,
			).Error; err != nil {
				return err
			}
			existing = nil
		}

		// Guarded increment keeps concurrent redemptions inside the budget.
		update := tx.WithContext(ctx).Exec(
			`UPDATE discounts
			 SET usage_count = usage_count + 1, updated_at = ?
			 WHERE id = ? AND (usage_limit = 0 OR usage_count < usage_limit)`,
			now,
			incoming.ID,
		)
		if update.Error != nil {
			return update.Error
		}
		if update.RowsAffected == 0 {
			return discountdomain.ErrDiscountLimitReached
		}

		if err := tx.WithContext(ctx).Exec(
			`INSERT INTO cart_discounts (cart_id, discount_id, created_at)
			 VALUES (?, ?, ?)`,
			cartID,
			incoming.ID,
			now,
		).Error; err != nil {
			return err
		}

		incoming.UsageCount++
		result = append(existing, *incoming)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RemoveFromCart disconnects the code unconditionally; usage counts are
// never decremented on removal.
func (s *Service) RemoveFromCart(ctx context.Context, cartID snowflake.ID, code string) error {
	code = strings.TrimSpace(code)
	if cartID == 0 || code == "" {
		return discountdomain.ErrDiscountNotFound
	}

	return s.db.WithContext(ctx).Exec(
		`DELETE FROM cart_discounts
		 WHERE cart_id = ?
		   AND discount_id IN (SELECT id FROM discounts WHERE code = ?)`,
		cartID,
		code,
	).Error
}

func (s *Service) ListForCart(ctx context.Context, cartID snowflake.ID) ([]discountdomain.Discount, error) {
	return s.listForCart(ctx, s.db, cartID)
}

func (s *Service) listForCart(ctx context.Context, tx *gorm.DB, cartID snowflake.ID) ([]discountdomain.Discount, error) {
	var discounts []discountdomain.Discount
	err := tx.WithContext(ctx).Raw(
		`SELECT d.*
		 FROM discounts d
		 JOIN cart_discounts cd ON cd.discount_id = d.id
		 WHERE cd.cart_id = ?
		 ORDER BY cd.created_at ASC`,
		cartID,
	).Scan(&discounts).Error
	if err != nil {
		return nil, err
	}
	return discounts, nil
}

func (s *Service) lockCart(ctx context.Context, tx *gorm.DB, cartID snowflake.ID) (*cartdomain.Cart, error) {
	var cart cartdomain.Cart
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM carts WHERE id = ?`+db.LockForUpdate(tx),
		cartID,
	).Scan(&cart).Error
	if err != nil {
		return nil, err
	}
	if cart.ID == 0 {
		return nil, nil
	}
	return &cart, nil
}

func (s *Service) lockDiscountByCode(ctx context.Context, tx *gorm.DB, code string) (*discountdomain.Discount, error) {
	var discount discountdomain.Discount
	err := tx.WithContext(ctx).Raw(
		`SELECT * FROM discounts WHERE code = ?`+db.LockForUpdate(tx),
		code,
	).Scan(&discount).Error
	if err != nil {
		return nil, err
	}
	if discount.ID == 0 {
		return nil, nil
	}
	return &discount, nil
}
