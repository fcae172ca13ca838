package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	accountservice "github.com/smallbiznis/storefront/internal/account/service"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	cartservice "github.com/smallbiznis/storefront/internal/cart/service"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderservice "github.com/smallbiznis/storefront/internal/order/service"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	pricingdomain "github.com/smallbiznis/storefront/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// taxRateScale is the basis-point denominator for region tax rates.
const taxRateScale int64 = 10_000

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Carts      *cartservice.Service
	Orders     *orderservice.Service
	Accounts   *accountservice.Service
	Payments   *paymentservice.Service
	Pricing    pricingdomain.Service
	Discounts  discountdomain.Service
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	carts      *cartservice.Service
	orders     *orderservice.Service
	accounts   *accountservice.Service
	payments   *paymentservice.Service
	pricing    pricingdomain.Service
	discounts  discountdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("checkout.service"),
		carts:      p.Carts,
		orders:     p.Orders,
		accounts:   p.Accounts,
		payments:   p.Payments,
		pricing:    p.Pricing,
		discounts:  p.Discounts,
		obsMetrics: p.ObsMetrics,
	}
}

// Totals is the settled breakdown of a cart.
type Totals struct {
	Subtotal      int64
	DiscountTotal int64
	TaxTotal      int64
	Total         int64
}

// CartTotals recomputes the cart's breakdown from authoritative prices
// and the attached discount set. Free-shipping discounts have no
// monetary effect here since shipping is settled outside the engine.
func (s *Service) CartTotals(ctx context.Context, cart *cartdomain.Cart, items []cartdomain.LineItem) (Totals, error) {
	var totals Totals
	for _, item := range items {
		price, err := s.pricing.ResolvePrice(ctx, item.VariantID, cart.RegionID, cart.CurrencyCode)
		if err != nil {
			return Totals{}, err
		}
		totals.Subtotal += price.Amount * item.Quantity
	}

	attached, err := s.discounts.ListForCart(ctx, cart.ID)
	if err != nil {
		return Totals{}, err
	}
	for _, d := range attached {
		switch d.RuleType {
		case discountdomain.RuleTypePercentage:
			totals.DiscountTotal += totals.Subtotal * d.Value / 100
		case discountdomain.RuleTypeFixed:
			totals.DiscountTotal += d.Value
		}
	}
	if totals.DiscountTotal > totals.Subtotal {
		totals.DiscountTotal = totals.Subtotal
	}

	region, err := s.region(ctx, cart.RegionID)
	if err != nil {
		return Totals{}, err
	}
	taxable := totals.Subtotal - totals.DiscountTotal
	totals.TaxTotal = taxable * region.TaxRate / taxRateScale
	totals.Total = taxable + totals.TaxTotal
	return totals, nil
}

// InitiateCartSession opens (or reuses) a payment session for the cart
// on the given provider. The cart's payment collection is created on
// first use and its amount tracks the current cart total.
func (s *Service) InitiateCartSession(ctx context.Context, cartID snowflake.ID, providerCode string) (*paymentdomain.PaymentSession, error) {
	cart, items, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.CompletedAt != nil {
		return nil, cartdomain.ErrCartCompleted
	}
	if len(items) == 0 {
		return nil, cartdomain.ErrEmptyCart
	}

	totals, err := s.CartTotals(ctx, cart, items)
	if err != nil {
		return nil, err
	}

	collection, err := s.payments.EnsureCollection(ctx, paymentdomain.ScopeCart, cart.ID, totals.Total, cart.CurrencyCode)
	if err != nil {
		return nil, err
	}
	if cart.PaymentCollectionID == nil {
		if err := s.db.WithContext(ctx).Exec(
			`UPDATE carts SET payment_collection_id = ? WHERE id = ?`,
			collection.ID,
			cart.ID,
		).Error; err != nil {
			return nil, err
		}
	}

	return s.payments.InitiateSession(ctx, collection.ID, providerCode)
}

// SelectCartSession marks one of the cart's sessions as the customer's
// choice.
func (s *Service) SelectCartSession(ctx context.Context, cartID, sessionID snowflake.ID) error {
	cart, _, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return err
	}
	if cart.PaymentCollectionID == nil {
		return paymentdomain.ErrCollectionNotFound
	}
	return s.payments.SelectSession(ctx, *cart.PaymentCollectionID, sessionID)
}

// CompleteCart finalizes a cart into an order. With a payment session
// the selected provider is charged first; without one the order is
// admitted against the customer's credit account. Validation failures
// and capture failures leave no partial order.
func (s *Service) CompleteCart(ctx context.Context, cartID snowflake.ID, sessionID *snowflake.ID) (*orderdomain.Order, error) {
	cart, items, err := s.carts.Get(ctx, cartID)
	if err != nil {
		return nil, err
	}
	if cart.CompletedAt != nil {
		return nil, cartdomain.ErrCartCompleted
	}
	if cart.RegionID == 0 {
		return nil, cartdomain.ErrMissingRegion
	}
	if cart.BillingAddressID == nil || cart.ShippingAddressID == nil {
		return nil, cartdomain.ErrMissingAddresses
	}
	if len(items) == 0 {
		return nil, cartdomain.ErrEmptyCart
	}

	totals, err := s.CartTotals(ctx, cart, items)
	if err != nil {
		return nil, err
	}

	lineItems, snapshots, err := s.snapshotLineItems(ctx, cart, items)
	if err != nil {
		return nil, err
	}

	input := orderservice.MaterializeInput{
		Order: orderdomain.Order{
			CartID:            cart.ID,
			RegionID:          cart.RegionID,
			CustomerID:        cart.CustomerID,
			Email:             cart.Email,
			CurrencyCode:      cart.CurrencyCode,
			Subtotal:          totals.Subtotal,
			DiscountTotal:     totals.DiscountTotal,
			TaxTotal:          totals.TaxTotal,
			Total:             totals.Total,
			BillingAddressID:  cart.BillingAddressID,
			ShippingAddressID: cart.ShippingAddressID,
		},
		LineItems: lineItems,
		Snapshots: snapshots,
	}

	if sessionID == nil {
		return s.completeOnAccount(ctx, cart, totals, input)
	}
	return s.completeWithSession(ctx, cart, totals, input, *sessionID)
}

// completeOnAccount charges the cart against the customer's single
// active credit account. Admission, materialization and the ledger
// write commit together or not at all.
func (s *Service) completeOnAccount(ctx context.Context, cart *cartdomain.Cart, totals Totals, input orderservice.MaterializeInput) (*orderdomain.Order, error) {
	if cart.CustomerID == nil {
		return nil, accountdomain.ErrNoActiveAccount
	}
	account, err := s.accounts.ActiveForCustomer(ctx, *cart.CustomerID)
	if err != nil {
		return nil, err
	}

	var order *orderdomain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.carts.Lock(ctx, tx, cart.ID)
		if err != nil {
			return err
		}
		if locked.CompletedAt != nil {
			return cartdomain.ErrCartCompleted
		}

		admitted, converted, err := s.accounts.Admit(ctx, tx, account.ID, totals.Total, cart.CurrencyCode)
		if err != nil {
			return err
		}

		input.Order.AccountID = &admitted.ID
		order, err = s.orders.Materialize(ctx, tx, input)
		if err != nil {
			return err
		}

		item := accountdomain.AccountLineItem{
			RegionID:       cart.RegionID,
			OrderID:        order.ID,
			OrderDisplayID: order.DisplayID,
			Amount:         totals.Total,
			CurrencyCode:   cart.CurrencyCode,
		}
		if err := s.accounts.AttachOrder(ctx, tx, admitted, &item, converted); err != nil {
			return err
		}

		return s.carts.MarkCompleted(ctx, tx, cart.ID, order.ID)
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordOrderCompleted(ctx, "account")
	}
	return order, nil
}

// completeWithSession captures the selected payment session, then
// materializes the order and its payment record in one transaction.
func (s *Service) completeWithSession(ctx context.Context, cart *cartdomain.Cart, totals Totals, input orderservice.MaterializeInput, sessionID snowflake.ID) (*orderdomain.Order, error) {
	session, err := s.payments.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if cart.PaymentCollectionID == nil || session.CollectionID != *cart.PaymentCollectionID {
		return nil, paymentdomain.ErrSessionNotFound
	}
	if !session.IsSelected {
		return nil, paymentdomain.ErrSessionNotSelected
	}

	result, err := s.payments.Capture(ctx, session, totals.Total, cart.CurrencyCode)
	if err != nil || !result.Status.CommitEligible() {
		if err == nil {
			err = paymentdomain.ErrCaptureFailed
		}
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrCaptureFailed, err)
	}

	var order *orderdomain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := s.carts.Lock(ctx, tx, cart.ID)
		if err != nil {
			return err
		}
		if locked.CompletedAt != nil {
			return cartdomain.ErrCartCompleted
		}

		order, err = s.orders.Materialize(ctx, tx, input)
		if err != nil {
			return err
		}

		payment := s.payments.NewPaymentFromCapture(result, session.ProviderCode, totals.Total, cart.CurrencyCode)
		payment.OrderID = &order.ID
		if err := s.payments.CreatePayment(ctx, tx, payment); err != nil {
			return err
		}

		return s.carts.MarkCompleted(ctx, tx, cart.ID, order.ID)
	})
	if err != nil {
		return nil, err
	}

	if s.obsMetrics != nil {
		s.obsMetrics.RecordOrderCompleted(ctx, session.ProviderCode)
	}
	return order, nil
}

// snapshotLineItems resolves the authoritative price per line item and
// copies the catalog fields the order keeps forever.
func (s *Service) snapshotLineItems(ctx context.Context, cart *cartdomain.Cart, items []cartdomain.LineItem) ([]orderdomain.OrderLineItem, []orderdomain.PriceSnapshot, error) {
	lineItems := make([]orderdomain.OrderLineItem, 0, len(items))
	snapshots := make([]orderdomain.PriceSnapshot, 0, len(items))

	for _, item := range items {
		price, err := s.pricing.ResolvePrice(ctx, item.VariantID, cart.RegionID, cart.CurrencyCode)
		if err != nil {
			return nil, nil, err
		}

		var variant catalogdomain.ProductVariant
		if err := s.db.WithContext(ctx).Raw(
			`SELECT * FROM product_variants WHERE id = ?`,
			item.VariantID,
		).Scan(&variant).Error; err != nil {
			return nil, nil, err
		}
		var product catalogdomain.Product
		if variant.ProductID != 0 {
			if err := s.db.WithContext(ctx).Raw(
				`SELECT * FROM products WHERE id = ?`,
				variant.ProductID,
			).Scan(&product).Error; err != nil {
				return nil, nil, err
			}
		}

		lineItems = append(lineItems, orderdomain.OrderLineItem{
			VariantID:    item.VariantID,
			ProductTitle: product.Title,
			VariantTitle: variant.Title,
			SKU:          variant.SKU,
			Quantity:     item.Quantity,
			UnitPrice:    price.Amount,
			Total:        price.Amount * item.Quantity,
			Weight:       variant.Weight,
			Length:       variant.Length,
			Height:       variant.Height,
			Width:        variant.Width,
		})
		snapshots = append(snapshots, orderdomain.PriceSnapshot{
			PriceID:      price.ID,
			RegionID:     price.RegionID,
			CurrencyCode: price.CurrencyCode,
			Amount:       price.Amount,
		})
	}

	return lineItems, snapshots, nil
}

func (s *Service) region(ctx context.Context, regionID snowflake.ID) (*catalogdomain.Region, error) {
	var region catalogdomain.Region
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM regions WHERE id = ?`,
		regionID,
	).Scan(&region).Error; err != nil {
		return nil, err
	}
	if region.ID == 0 {
		return nil, cartdomain.ErrMissingRegion
	}
	return &region, nil
}
