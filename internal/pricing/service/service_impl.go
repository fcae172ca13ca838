package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	pricingdomain "github.com/smallbiznis/storefront/internal/pricing/domain"
	"github.com/smallbiznis/storefront/pkg/currency"
	"github.com/smallbiznis/storefront/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB  *gorm.DB
	Log *zap.Logger
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	pricerepo repository.Repository[pricingdomain.Price]
}

func NewService(p Params) pricingdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("pricing.service"),
		pricerepo: repository.ProvideStore[pricingdomain.Price](p.DB),
	}
}

func (s *Service) ResolvePrice(ctx context.Context, variantID, regionID snowflake.ID, currencyCode string) (*pricingdomain.Price, error) {
	currencyCode = currency.Normalize(currencyCode)
	if variantID == 0 || regionID == 0 || currencyCode == "" {
		return nil, pricingdomain.ErrInvalidPrice
	}

	price, err := s.pricerepo.FindOne(ctx, &pricingdomain.Price{
		VariantID:    variantID,
		RegionID:     regionID,
		CurrencyCode: currencyCode,
	})
	if err != nil {
		return nil, err
	}
	if price == nil {
		return nil, pricingdomain.ErrPriceNotFound
	}

	return price, nil
}
