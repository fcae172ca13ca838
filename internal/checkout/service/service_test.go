package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	accountservice "github.com/smallbiznis/storefront/internal/account/service"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	cartservice "github.com/smallbiznis/storefront/internal/cart/service"
	catalogdomain "github.com/smallbiznis/storefront/internal/catalog/domain"
	currencydomain "github.com/smallbiznis/storefront/internal/currency/domain"
	currencyservice "github.com/smallbiznis/storefront/internal/currency/service"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	discountservice "github.com/smallbiznis/storefront/internal/discount/service"
	orderdomain "github.com/smallbiznis/storefront/internal/order/domain"
	orderservice "github.com/smallbiznis/storefront/internal/order/service"
	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	"github.com/smallbiznis/storefront/internal/payment/providers"
	"github.com/smallbiznis/storefront/internal/payment/providers/manual"
	paymentservice "github.com/smallbiznis/storefront/internal/payment/service"
	pricingdomain "github.com/smallbiznis/storefront/internal/pricing/domain"
	pricingservice "github.com/smallbiznis/storefront/internal/pricing/service"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type env struct {
	db       *gorm.DB
	node     *snowflake.Node
	checkout *Service
	carts    *cartservice.Service
	accounts *accountservice.Service
	payments *paymentservice.Service

	region  *catalogdomain.Region
	variant *catalogdomain.ProductVariant
	price   *pricingdomain.Price
}

func newEnv(t *testing.T) *env {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&catalogdomain.Region{},
		&catalogdomain.Product{},
		&catalogdomain.ProductVariant{},
		&pricingdomain.Price{},
		&cartdomain.Cart{},
		&cartdomain.LineItem{},
		&cartdomain.Address{},
		&cartdomain.CartDiscount{},
		&discountdomain.Discount{},
		&orderdomain.Order{},
		&orderdomain.OrderLineItem{},
		&orderdomain.PriceSnapshot{},
		&accountdomain.Account{},
		&accountdomain.AccountLineItem{},
		&currencydomain.Rate{},
		&paymentdomain.PaymentCollection{},
		&paymentdomain.PaymentSession{},
		&paymentdomain.Payment{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	logger := zap.NewNop()

	pricing := pricingservice.NewService(pricingservice.Params{DB: db, Log: logger})
	converter := currencyservice.NewService(currencyservice.Params{DB: db, Log: logger})
	discounts := discountservice.NewService(discountservice.Params{DB: db, Log: logger, GenID: node})
	carts := cartservice.NewService(cartservice.Params{DB: db, Log: logger, GenID: node, Pricing: pricing})
	orders := orderservice.NewService(orderservice.Params{DB: db, Log: logger, GenID: node})
	accounts := accountservice.NewService(accountservice.Params{DB: db, Log: logger, GenID: node, Converter: converter})
	registry := providers.NewRegistry(manual.NewProvider())
	payments := paymentservice.NewService(paymentservice.Params{DB: db, Log: logger, GenID: node, Registry: registry})

	checkout := NewService(Params{
		DB:        db,
		Log:       logger,
		Carts:     carts,
		Orders:    orders,
		Accounts:  accounts,
		Payments:  payments,
		Pricing:   pricing,
		Discounts: discounts,
	})

	e := &env{
		db:       db,
		node:     node,
		checkout: checkout,
		carts:    carts,
		accounts: accounts,
		payments: payments,
	}
	e.seedCatalog(t)
	return e
}

// seedCatalog creates one region (10% tax), one variant priced at 25.00
// USD.
func (e *env) seedCatalog(t *testing.T) {
	t.Helper()
	e.region = &catalogdomain.Region{
		ID:           e.node.Generate(),
		Name:         "United States",
		CurrencyCode: "USD",
		TaxRate:      1000,
	}
	product := &catalogdomain.Product{ID: e.node.Generate(), Title: "Trail Backpack"}
	e.variant = &catalogdomain.ProductVariant{
		ID:        e.node.Generate(),
		ProductID: product.ID,
		Title:     "40L / Green",
		SKU:       "PACK-40-GRN",
		Weight:    1200,
	}
	e.price = &pricingdomain.Price{
		ID:           e.node.Generate(),
		VariantID:    e.variant.ID,
		RegionID:     e.region.ID,
		CurrencyCode: "USD",
		Amount:       2500,
	}
	for _, record := range []any{e.region, product, e.variant, e.price} {
		if err := e.db.Create(record).Error; err != nil {
			t.Fatalf("seed catalog: %v", err)
		}
	}
}

func (e *env) readyCart(t *testing.T, customerID *snowflake.ID, quantity int64) *cartdomain.Cart {
	t.Helper()
	ctx := context.Background()
	cart, err := e.carts.Create(ctx, cartservice.CreateInput{
		RegionID:   e.region.ID,
		Email:      "buyer@example.com",
		CustomerID: customerID,
	})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if _, err := e.carts.AddLineItem(ctx, cart.ID, e.variant.ID, quantity); err != nil {
		t.Fatalf("add line item: %v", err)
	}
	address := cartdomain.Address{Line1: "1 Main St", City: "Springfield", CountryCode: "US"}
	cart, err = e.carts.SetAddresses(ctx, cart.ID, address, address)
	if err != nil {
		t.Fatalf("set addresses: %v", err)
	}
	return cart
}

func TestCompleteCart_ManualSessionPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cart := e.readyCart(t, nil, 2)

	session, err := e.checkout.InitiateCartSession(ctx, cart.ID, "manual")
	if err != nil {
		t.Fatalf("initiate session: %v", err)
	}
	if err := e.checkout.SelectCartSession(ctx, cart.ID, session.ID); err != nil {
		t.Fatalf("select session: %v", err)
	}

	order, err := e.checkout.CompleteCart(ctx, cart.ID, &session.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	// 2 x 25.00 subtotal, 10% tax.
	if order.Subtotal != 5000 || order.TaxTotal != 500 || order.Total != 5500 {
		t.Fatalf("unexpected totals: %+v", order)
	}
	if order.Status != orderdomain.StatusPending {
		t.Fatalf("manual capture must leave the order pending, got %s", order.Status)
	}
	if order.SecretKey == "" {
		t.Fatalf("guest order must carry a secret key")
	}
	if order.DisplayID != 1 {
		t.Fatalf("expected first display id, got %d", order.DisplayID)
	}

	var payment paymentdomain.Payment
	e.db.Raw(`SELECT * FROM payments WHERE order_id = ?`, order.ID).Scan(&payment)
	if payment.ID == 0 || payment.Status != paymentdomain.PaymentStatusPending {
		t.Fatalf("expected pending payment record, got %+v", payment)
	}
	if payment.CapturedAt != nil {
		t.Fatalf("manual payment must not be captured at completion")
	}

	var frozen cartdomain.Cart
	e.db.Raw(`SELECT * FROM carts WHERE id = ?`, cart.ID).Scan(&frozen)
	if frozen.CompletedAt == nil || frozen.OrderID == nil || *frozen.OrderID != order.ID {
		t.Fatalf("cart must be frozen and linked to its order")
	}

	var itemCount int64
	e.db.Raw(`SELECT COUNT(*) FROM order_line_items WHERE order_id = ?`, order.ID).Scan(&itemCount)
	if itemCount != 1 {
		t.Fatalf("expected 1 snapshotted line item, got %d", itemCount)
	}

	if _, err := e.checkout.CompleteCart(ctx, cart.ID, &session.ID); !errors.Is(err, cartdomain.ErrCartCompleted) {
		t.Fatalf("second completion must fail, got %v", err)
	}
}

func TestCompleteCart_AccountFundedPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	customerID := e.node.Generate()

	account := &accountdomain.Account{
		ID:           e.node.Generate(),
		CustomerID:   customerID,
		Name:         "Acme Ltd",
		CurrencyCode: "USD",
		CreditLimit:  10000,
		IsActive:     true,
	}
	if err := e.db.Create(account).Error; err != nil {
		t.Fatalf("seed account: %v", err)
	}

	cart := e.readyCart(t, &customerID, 2)
	order, err := e.checkout.CompleteCart(ctx, cart.ID, nil)
	if err != nil {
		t.Fatalf("complete on account: %v", err)
	}
	if order.AccountID == nil || *order.AccountID != account.ID {
		t.Fatalf("order must link its funding account")
	}
	if order.SecretKey != "" {
		t.Fatalf("customer order must not carry a secret key")
	}

	var got accountdomain.Account
	e.db.Raw(`SELECT * FROM accounts WHERE id = ?`, account.ID).Scan(&got)
	if got.TotalAmount != 5500 {
		t.Fatalf("expected outstanding total 5500, got %d", got.TotalAmount)
	}

	var item accountdomain.AccountLineItem
	e.db.Raw(`SELECT * FROM account_line_items WHERE order_id = ?`, order.ID).Scan(&item)
	if item.ID == 0 || item.PaymentStatus != accountdomain.LineItemUnpaid {
		t.Fatalf("expected unpaid ledger entry, got %+v", item)
	}
	if item.OrderDisplayID != order.DisplayID || item.Amount != order.Total {
		t.Fatalf("ledger entry must snapshot the order, got %+v", item)
	}

	// A second order past the remaining credit leaves nothing behind.
	second := e.readyCart(t, &customerID, 2)
	if _, err := e.checkout.CompleteCart(ctx, second.ID, nil); !errors.Is(err, accountdomain.ErrInsufficientCredit) {
		t.Fatalf("expected credit rejection, got %v", err)
	}

	var orderCount int64
	e.db.Raw(`SELECT COUNT(*) FROM orders`).Scan(&orderCount)
	if orderCount != 1 {
		t.Fatalf("rejected completion must create no order, got %d", orderCount)
	}
	var stillOpen cartdomain.Cart
	e.db.Raw(`SELECT * FROM carts WHERE id = ?`, second.ID).Scan(&stillOpen)
	if stillOpen.CompletedAt != nil {
		t.Fatalf("rejected cart must stay open")
	}
}

func TestCompleteCart_AccountBranchRequiresSingleActiveAccount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	customerID := e.node.Generate()
	cart := e.readyCart(t, &customerID, 1)

	if _, err := e.checkout.CompleteCart(ctx, cart.ID, nil); !errors.Is(err, accountdomain.ErrNoActiveAccount) {
		t.Fatalf("expected ErrNoActiveAccount, got %v", err)
	}

	for i := 0; i < 2; i++ {
		account := &accountdomain.Account{
			ID:           e.node.Generate(),
			CustomerID:   customerID,
			Name:         "Acme Ltd",
			CurrencyCode: "USD",
			CreditLimit:  10000,
			IsActive:     true,
		}
		if err := e.db.Create(account).Error; err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	if _, err := e.checkout.CompleteCart(ctx, cart.ID, nil); !errors.Is(err, accountdomain.ErrMultipleActiveAccounts) {
		t.Fatalf("expected ErrMultipleActiveAccounts, got %v", err)
	}
}

func TestCompleteCart_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	cart, err := e.carts.Create(ctx, cartservice.CreateInput{RegionID: e.region.ID, Email: "a@b.c"})
	if err != nil {
		t.Fatalf("create cart: %v", err)
	}
	if _, err := e.checkout.CompleteCart(ctx, cart.ID, nil); !errors.Is(err, cartdomain.ErrMissingAddresses) {
		t.Fatalf("expected ErrMissingAddresses, got %v", err)
	}

	address := cartdomain.Address{Line1: "1 Main St", City: "Springfield", CountryCode: "US"}
	if _, err := e.carts.SetAddresses(ctx, cart.ID, address, address); err != nil {
		t.Fatalf("set addresses: %v", err)
	}
	if _, err := e.checkout.CompleteCart(ctx, cart.ID, nil); !errors.Is(err, cartdomain.ErrEmptyCart) {
		t.Fatalf("expected ErrEmptyCart, got %v", err)
	}
}

func TestCompleteCart_DiscountLowersTotal(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cart := e.readyCart(t, nil, 2)

	discount := &discountdomain.Discount{
		ID:         e.node.Generate(),
		Code:       "TEN",
		RuleType:   discountdomain.RuleTypePercentage,
		Value:      10,
		Allocation: discountdomain.AllocationTotal,
		Stackable:  false,
	}
	if err := e.db.Create(discount).Error; err != nil {
		t.Fatalf("seed discount: %v", err)
	}
	discounts := discountservice.NewService(discountservice.Params{DB: e.db, Log: zap.NewNop(), GenID: e.node})
	if _, err := discounts.ApplyToCart(ctx, cart.ID, "TEN"); err != nil {
		t.Fatalf("apply discount: %v", err)
	}

	session, err := e.checkout.InitiateCartSession(ctx, cart.ID, "manual")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := e.checkout.SelectCartSession(ctx, cart.ID, session.ID); err != nil {
		t.Fatalf("select: %v", err)
	}

	order, err := e.checkout.CompleteCart(ctx, cart.ID, &session.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	// 5000 subtotal, 500 discount, 10% tax on 4500.
	if order.DiscountTotal != 500 || order.TaxTotal != 450 || order.Total != 4950 {
		t.Fatalf("unexpected discounted totals: %+v", order)
	}
}

func TestCompleteCart_RequiresSelectedSession(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	cart := e.readyCart(t, nil, 1)

	session, err := e.checkout.InitiateCartSession(ctx, cart.ID, "manual")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := e.checkout.CompleteCart(ctx, cart.ID, &session.ID); !errors.Is(err, paymentdomain.ErrSessionNotSelected) {
		t.Fatalf("expected ErrSessionNotSelected, got %v", err)
	}
}
