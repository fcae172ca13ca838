package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/storefront/internal/account/domain"
	currencydomain "github.com/smallbiznis/storefront/internal/currency/domain"
	obsmetrics "github.com/smallbiznis/storefront/internal/observability/metrics"
	"github.com/smallbiznis/storefront/pkg/currency"
	"github.com/smallbiznis/storefront/pkg/db"
	"github.com/smallbiznis/storefront/pkg/db/option"
	"github.com/smallbiznis/storefront/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Converter  currencydomain.Converter
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	converter   currencydomain.Converter
	accountrepo repository.Repository[accountdomain.Account]
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) *Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("account.service"),
		genID:       p.GenID,
		converter:   p.Converter,
		accountrepo: repository.ProvideStore[accountdomain.Account](p.DB),
		obsMetrics:  p.ObsMetrics,
	}
}

// Get loads one account by id.
func (s *Service) Get(ctx context.Context, accountID snowflake.ID) (*accountdomain.Account, error) {
	var account accountdomain.Account
	if err := s.db.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE id = ?`,
		accountID,
	).Scan(&account).Error; err != nil {
		return nil, err
	}
	if account.ID == 0 {
		return nil, accountdomain.ErrAccountNotFound
	}
	return &account, nil
}

// ActiveForCustomer resolves the single active account charging is
// allowed against. Zero or more than one active account blocks
// account-funded checkout; two rows are enough to tell them apart.
func (s *Service) ActiveForCustomer(ctx context.Context, customerID snowflake.ID) (*accountdomain.Account, error) {
	accounts, err := s.accountrepo.Find(ctx,
		&accountdomain.Account{CustomerID: customerID, IsActive: true},
		option.WithSortBy(option.QuerySortBy{Field: "created_at"}),
		option.WithLimit(2),
	)
	if err != nil {
		return nil, err
	}
	switch len(accounts) {
	case 0:
		return nil, accountdomain.ErrNoActiveAccount
	case 1:
		return accounts[0], nil
	default:
		return nil, accountdomain.ErrMultipleActiveAccounts
	}
}

// Admit locks the account row and checks whether the charge fits the
// remaining credit. The returned amount is the charge converted into
// the account's currency. The row lock serializes concurrent
// admissions against the same account.
func (s *Service) Admit(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, amount int64, currencyCode string) (*accountdomain.Account, int64, error) {
	var account accountdomain.Account
	if err := tx.WithContext(ctx).Raw(
		`SELECT * FROM accounts WHERE id = ?`+db.LockForUpdate(tx),
		accountID,
	).Scan(&account).Error; err != nil {
		return nil, 0, err
	}
	if account.ID == 0 {
		return nil, 0, accountdomain.ErrAccountNotFound
	}
	if !account.IsActive {
		return nil, 0, accountdomain.ErrAccountInactive
	}

	converted, err := s.converter.Convert(ctx, amount, currencyCode, account.CurrencyCode)
	if err != nil {
		return nil, 0, err
	}

	available := account.CreditLimit - (account.TotalAmount - account.PaidAmount)
	if converted > available {
		if s.obsMetrics != nil {
			s.obsMetrics.RecordCreditRejection(ctx)
		}
		s.log.Info("credit admission rejected",
			zap.String("account_id", account.ID.String()),
			zap.Int64("available", available),
			zap.Int64("required", converted),
		)
		return nil, 0, fmt.Errorf("%w: available %s, required %s",
			accountdomain.ErrInsufficientCredit,
			currency.Format(available, account.CurrencyCode),
			currency.Format(converted, account.CurrencyCode),
		)
	}

	return &account, converted, nil
}

// AttachOrder writes the ledger entry for an admitted order and bumps
// the account's outstanding total, inside the caller's transaction.
func (s *Service) AttachOrder(ctx context.Context, tx *gorm.DB, account *accountdomain.Account, item *accountdomain.AccountLineItem, convertedAmount int64) error {
	now := time.Now().UTC()
	if item.ID == 0 {
		item.ID = s.genID.Generate()
	}
	item.AccountID = account.ID
	item.PaymentStatus = accountdomain.LineItemUnpaid
	item.CurrencyCode = currency.Normalize(item.CurrencyCode)
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := tx.WithContext(ctx).Create(item).Error; err != nil {
		return err
	}

	return tx.WithContext(ctx).Exec(
		`UPDATE accounts
		 SET total_amount = total_amount + ?, updated_at = ?
		 WHERE id = ?`,
		convertedAmount,
		now,
		account.ID,
	).Error
}

// UnpaidByRegion groups the account's outstanding ledger entries per
// region with formatted running totals.
func (s *Service) UnpaidByRegion(ctx context.Context, accountID snowflake.ID) ([]accountdomain.RegionUnpaid, error) {
	if _, err := s.Get(ctx, accountID); err != nil {
		return nil, err
	}

	var groups []accountdomain.RegionUnpaid
	err := s.db.WithContext(ctx).Raw(
		`SELECT region_id,
		        currency_code,
		        COUNT(*) AS item_count,
		        SUM(amount) AS total
		 FROM account_line_items
		 WHERE account_id = ? AND payment_status = ?
		 GROUP BY region_id, currency_code
		 ORDER BY region_id ASC`,
		accountID,
		accountdomain.LineItemUnpaid,
	).Scan(&groups).Error
	if err != nil {
		return nil, err
	}

	for i := range groups {
		groups[i].FormattedTotal = currency.Format(groups[i].Total, groups[i].CurrencyCode)
	}
	return groups, nil
}
