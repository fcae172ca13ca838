package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	pricingdomain "github.com/smallbiznis/storefront/internal/pricing/domain"
	"github.com/smallbiznis/storefront/pkg/currency"
	"github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Pricing pricingdomain.Service
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	pricing pricingdomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("cart.service"),
		genID:   p.GenID,
		pricing: p.Pricing,
	}
}

// CreateInput carries what a new cart starts from.
type CreateInput struct {
	RegionID   snowflake.ID
	Email      string
	CustomerID *snowflake.ID
}

// Create opens a cart pinned to a region; the cart's currency is the
// region's currency.
func (s *Service) Create(ctx context.Context, input CreateInput) (*cartdomain.Cart, error) {
	if input.RegionID == 0 {
		return nil, cartdomain.ErrMissingRegion
	}

	var region catalogdomain.Region
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM regions WHERE id = ?`,
		input.RegionID,
	).Scan(&region).Error; err != nil {
		return nil, err
	}
	if region.ID == 0 {
		return nil, cartdomain.ErrMissingRegion
	}

	now := time.Now().UTC()
	cart := cartdomain.Cart{
		ID:           s.genID.Generate(),
		RegionID:     region.ID,
		CurrencyCode: currency.Normalize(region.CurrencyCode),
		Email:        strings.TrimSpace(input.Email),
		CustomerID:   input.CustomerID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// AddLineItem puts a variant on the cart at the authoritative price for
// the cart's region and currency. Client-side prices are never trusted.
// Adding a variant already on the cart bumps its quantity.
func (s *Service) AddLineItem(ctx context.Context, cartID, variantID snowflake.ID, quantity int64) (*cartdomain.LineItem, error) {
	if quantity <= 0 {
		return nil, cartdomain.ErrEmptyCart
	}

	var item cartdomain.LineItem
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := s.lockCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if cart.CompletedAt != nil {
			return cartdomain.ErrCartCompleted
		}

		price, err := s.pricing.ResolvePrice(ctx, variantID, cart.RegionID, cart.CurrencyCode)
		if err != nil {
			return err
		}

		if err := tx.WithContext(ctx).Raw(
			`SELECT * FROM cart_line_items WHERE cart_id = ? AND variant_id = ?`,
			cartID,
			variantID,
		).Scan(&item).Error; err != nil {
			return err
		}

		now := time.Now().UTC()
		if item.ID != 0 {
			item.Quantity += quantity
			item.UnitPrice = price.Amount
			item.Total = item.UnitPrice * item.Quantity
			item.UpdatedAt = now
			return tx.WithContext(ctx).Exec(
				`UPDATE cart_line_items
				 SET quantity = ?, unit_price = ?, total = ?, updated_at = ?
				 WHERE id = ?`,
				item.Quantity,
				item.UnitPrice,
				item.Total,
				now,
				item.ID,
			).Error
		}

		item = cartdomain.LineItem{
			ID:        s.genID.Generate(),
			CartID:    cartID,
			VariantID: variantID,
			Quantity:  quantity,
			UnitPrice: price.Amount,
			Total:     price.Amount * quantity,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.WithContext(ctx).Create(&item).Error
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// SetAddresses attaches billing and shipping addresses to the cart.
func (s *Service) SetAddresses(ctx context.Context, cartID snowflake.ID, billing, shipping cartdomain.Address) (*cartdomain.Cart, error) {
	var cart *cartdomain.Cart
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.lockCart(ctx, tx, cartID)
		if err != nil {
			return err
		}
		if locked.CompletedAt != nil {
			return cartdomain.ErrCartCompleted
		}

		now := time.Now().UTC()
		billing.ID = s.genID.Generate()
		billing.CreatedAt = now
		if err := tx.WithContext(ctx).Create(&billing).Error; err != nil {
			return err
		}
		shipping.ID = s.genID.Generate()
		shipping.CreatedAt = now
		if err := tx.WithContext(ctx).Create(&shipping).Error; err != nil {
			return err
		}

		locked.BillingAddressID = &billing.ID
		locked.ShippingAddressID = &shipping.ID
		locked.UpdatedAt = now
		if err := tx.WithContext(ctx).Exec(
			`UPDATE carts
			 SET billing_address_id = ?, shipping_address_id = ?, updated_at = ?
			 WHERE id = ?`,
			billing.ID,
			shipping.ID,
			now,
			cartID,
		).Error; err != nil {
			return err
		}
		cart = locked
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Get loads a cart and its line items.
func (s *Service) Get(ctx context.Context, cartID snowflake.ID) (*cartdomain.Cart, []cartdomain.LineItem, error) {
	var cart cartdomain.Cart
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM carts WHERE id = ?`,
		cartID,
	).Scan(&cart).Error; err != nil {
		return nil, nil, err
	}
	if cart.ID == 0 {
		return nil, nil, cartdomain.ErrCartNotFound
	}

	items, err := s.LineItems(ctx, s.db, cartID)
	if err != nil {
		return nil, nil, err
	}
	return &cart, items, nil
}

// LineItems lists the cart's rows through the given handle so callers
// inside a transaction read their own view.
func (s *Service) LineItems(ctx context.Context, tx *gorm.DB, cartID snowflake.ID) ([]cartdomain.LineItem, error) {
	var items []cartdomain.LineItem
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM cart_line_items WHERE cart_id = ? ORDER BY id ASC`,
		cartID,
	).Scan(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// Lock loads the cart under a row lock inside the caller's transaction.
func (s *Service) Lock(ctx context.Context, tx *gorm.DB, cartID snowflake.ID) (*cartdomain.Cart, error) {
	return s.lockCart(ctx, tx, cartID)
}

// MarkCompleted freezes the cart and links it to the order it produced,
// inside the caller's transaction.
func (s *Service) MarkCompleted(ctx context.Context, tx *gorm.DB, cartID, orderID snowflake.ID) error {
	now := time.Now().UTC()
	result := tx.WithContext(ctx).Exec(
		`UPDATE carts
		 SET order_id = ?, completed_at = ?, updated_at = ?
		 WHERE id = ? AND completed_at IS NULL`,
		orderID,
		now,
		now,
		cartID,
	)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return cartdomain.ErrCartCompleted
	}
	return nil
}

func (s *Service) lockCart(ctx context.Context, tx *gorm.DB, cartID snowflake.ID) (*cartdomain.Cart, error) {
	var cart cartdomain.Cart
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM carts WHERE id = ?`+db.LockForUpdate(tx),
		cartID,
	).Scan(&cart).Error; err != nil {
		return nil, err
	}
	if cart.ID == 0 {
		return nil, cartdomain.ErrCartNotFound
	}
	return &cart, nil
}
