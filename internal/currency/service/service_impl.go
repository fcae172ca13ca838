package service

import (
	"context"
	"time"

	"github.com/smallbiznis/storefront/internal/cache"
	currencydomain "github.com/smallbiznis/storefront/internal/currency/domain"
	"github.com/smallbiznis/storefront/pkg/currency"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const rateTTL = 5 * time.Minute

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	rates cache.Cache[string, int64]
}

func NewService(p Params) currencydomain.Converter {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("currency.service"),
		rates: cache.NewTTLCache[string, int64](),
	}
}

// Convert converts a minor-unit amount using the current stored rate.
// Conversion between identical codes is the identity.
func (s *Service) Convert(ctx context.Context, amount int64, fromCode, toCode string) (int64, error) {
	fromCode = currency.Normalize(fromCode)
	toCode = currency.Normalize(toCode)
	if fromCode == "" || toCode == "" {
		return 0, currencydomain.ErrInvalidCurrency
	}
	if fromCode == toCode {
		return amount, nil
	}

	rateMicro, err := s.lookupRate(ctx, fromCode, toCode)
	if err != nil {
		return 0, err
	}

	// Round half up in the target currency's minor unit.
	converted := (amount*rateMicro + currencydomain.RateScale/2) / currencydomain.RateScale
	return converted, nil
}

// Rate reports the micro-rate Convert would apply for the pair. The
// identity pair reports RateScale.
func (s *Service) Rate(ctx context.Context, fromCode, toCode string) (int64, error) {
	fromCode = currency.Normalize(fromCode)
	toCode = currency.Normalize(toCode)
	if fromCode == "" || toCode == "" {
		return 0, currencydomain.ErrInvalidCurrency
	}
	if fromCode == toCode {
		return currencydomain.RateScale, nil
	}
	return s.lookupRate(ctx, fromCode, toCode)
}

func (s *Service) lookupRate(ctx context.Context, fromCode, toCode string) (int64, error) {
	key := fromCode + "/" + toCode
	if rate, ok := s.rates.Get(key); ok {
		return rate, nil
	}

	var rateMicro int64
	err := s.db.WithContext(ctx).Raw(
		`SELECT rate_micro
		 FROM currency_rates
		 WHERE from_code = ? AND to_code = ?`,
		fromCode,
		toCode,
	).Scan(&rateMicro).Error
	if err != nil {
		return 0, err
	}
	if rateMicro == 0 {
		return 0, currencydomain.ErrRateNotFound
	}

	s.rates.Set(key, rateMicro, rateTTL)
	return rateMicro, nil
}
