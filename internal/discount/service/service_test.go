package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	cartdomain "github.com/smallbiznis/storefront/internal/cart/domain"
	discountdomain "github.com/smallbiznis/storefront/internal/discount/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&cartdomain.Cart{},
		&cartdomain.CartDiscount{},
		&discountdomain.Discount{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, *snowflake.Node) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake: %v", err)
	}
	svc := NewService(Params{DB: db, Log: zap.NewNop(), GenID: node}).(*Service)
	return svc, node
}

func seedCart(t *testing.T, db *gorm.DB, node *snowflake.Node) *cartdomain.Cart {
	t.Helper()
	cart := &cartdomain.Cart{
		ID:           node.Generate(),
		RegionID:     node.Generate(),
		CurrencyCode: "USD",
	}
	if err := db.Create(cart).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	return cart
}

func seedDiscount(t *testing.T, db *gorm.DB, node *snowflake.Node, code string, stackable bool, limit int64) *discountdomain.Discount {
	t.Helper()
	d := &discountdomain.Discount{
		ID:         node.Generate(),
		Code:       code,
		RuleType:   discountdomain.RuleTypePercentage,
		Value:      10,
		Allocation: discountdomain.AllocationTotal,
		Stackable:  stackable,
		UsageLimit: limit,
	}
	if err := db.Create(d).Error; err != nil {
		t.Fatalf("seed discount %s: %v", code, err)
	}
	return d
}

func TestApplyToCart_StackableAppends(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	cart := seedCart(t, db, node)
	seedDiscount(t, db, node, "SPRING", true, 0)
	seedDiscount(t, db, node, "LOYAL", true, 0)

	ctx := context.Background()
	if _, err := svc.ApplyToCart(ctx, cart.ID, "SPRING"); err != nil {
		t.Fatalf("apply SPRING: %v", err)
	}
	attached, err := svc.ApplyToCart(ctx, cart.ID, "LOYAL")
	if err != nil {
		t.Fatalf("apply LOYAL: %v", err)
	}
	if len(attached) != 2 {
		t.Fatalf("expected 2 attached discounts, got %d", len(attached))
	}
}

func TestApplyToCart_NonStackableReplacesSet(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	cart := seedCart(t, db, node)
	seedDiscount(t, db, node, "SPRING", true, 0)
	seedDiscount(t, db, node, "LOYAL", true, 0)
	seedDiscount(t, db, node, "VIP50", false, 0)

	ctx := context.Background()
	if _, err := svc.ApplyToCart(ctx, cart.ID, "SPRING"); err != nil {
		t.Fatalf("apply SPRING: %v", err)
	}
	if _, err := svc.ApplyToCart(ctx, cart.ID, "LOYAL"); err != nil {
		t.Fatalf("apply LOYAL: %v", err)
	}

	attached, err := svc.ApplyToCart(ctx, cart.ID, "VIP50")
	if err != nil {
		t.Fatalf("apply VIP50: %v", err)
	}
	if len(attached) != 1 || attached[0].Code != "VIP50" {
		t.Fatalf("expected VIP50 to replace the set, got %+v", attached)
	}

	// A stackable code arriving after a non-stackable one also replaces.
	attached, err = svc.ApplyToCart(ctx, cart.ID, "SPRING")
	if err != nil {
		t.Fatalf("re-apply SPRING: %v", err)
	}
	if len(attached) != 1 || attached[0].Code != "SPRING" {
		t.Fatalf("expected SPRING alone after replacing VIP50, got %+v", attached)
	}
}

func TestApplyToCart_ReapplyIsNoop(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	cart := seedCart(t, db, node)
	seeded := seedDiscount(t, db, node, "SPRING", true, 0)

	ctx := context.Background()
	if _, err := svc.ApplyToCart(ctx, cart.ID, "SPRING"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if _, err := svc.ApplyToCart(ctx, cart.ID, "SPRING"); err != nil {
		t.Fatalf("re-apply: %v", err)
	}

	var usage int64
	db.Raw(`SELECT usage_count FROM discounts WHERE id = ?`, seeded.ID).Scan(&usage)
	if usage != 1 {
		t.Fatalf("expected usage_count 1 after re-apply, got %d", usage)
	}
}

func TestApplyToCart_UsageLimitFailClosed(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	first := seedCart(t, db, node)
	second := seedCart(t, db, node)
	seedDiscount(t, db, node, "ONCE", true, 1)

	ctx := context.Background()
	if _, err := svc.ApplyToCart(ctx, first.ID, "ONCE"); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	if _, err := svc.ApplyToCart(ctx, second.ID, "ONCE"); err != discountdomain.ErrDiscountLimitReached {
		t.Fatalf("expected ErrDiscountLimitReached, got %v", err)
	}
}

func TestApplyToCart_Validation(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	cart := seedCart(t, db, node)

	past := time.Now().UTC().Add(-time.Hour)
	expired := seedDiscount(t, db, node, "EXPIRED", true, 0)
	db.Exec(`UPDATE discounts SET ends_at = ? WHERE id = ?`, past, expired.ID)
	disabled := seedDiscount(t, db, node, "DISABLED", true, 0)
	db.Exec(`UPDATE discounts SET is_disabled = ? WHERE id = ?`, true, disabled.ID)

	ctx := context.Background()
	if _, err := svc.ApplyToCart(ctx, cart.ID, "NOPE"); err != discountdomain.ErrDiscountNotFound {
		t.Fatalf("expected ErrDiscountNotFound, got %v", err)
	}
	if _, err := svc.ApplyToCart(ctx, cart.ID, "EXPIRED"); err != discountdomain.ErrDiscountNotActive {
		t.Fatalf("expected ErrDiscountNotActive, got %v", err)
	}
	if _, err := svc.ApplyToCart(ctx, cart.ID, "DISABLED"); err != discountdomain.ErrDiscountDisabled {
		t.Fatalf("expected ErrDiscountDisabled, got %v", err)
	}
}

func TestRemoveFromCart_NeverDecrements(t *testing.T) {
	db := newTestDB(t)
	svc, node := newTestService(t, db)
	cart := seedCart(t, db, node)
	seeded := seedDiscount(t, db, node, "SPRING", true, 0)

	ctx := context.Background()
	if _, err := svc.ApplyToCart(ctx, cart.ID, "SPRING"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := svc.RemoveFromCart(ctx, cart.ID, "SPRING"); err != nil {
		t.Fatalf("remove: %v", err)
	}

	attached, err := svc.ListForCart(ctx, cart.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(attached) != 0 {
		t.Fatalf("expected no attached discounts, got %d", len(attached))
	}

	var usage int64
	db.Raw(`SELECT usage_count FROM discounts WHERE id = ?`, seeded.ID).Scan(&usage)
	if usage != 1 {
		t.Fatalf("expected usage_count to stay 1 after removal, got %d", usage)
	}
}
