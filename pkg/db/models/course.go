package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/learnexity/learnexity-backend/pkg/enums"
)

// Course carries the per-track, per-currency price book an enrollment is quoted from.
type Course struct {
	ID    uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Title string    `gorm:"column:title;not null"`
	Slug  string    `gorm:"column:slug;not null;unique"`

	SelfPacedPriceUSD decimal.Decimal `gorm:"column:self_paced_price_usd;type:numeric(12,2);not null;default:0"`
	SelfPacedPriceNGN decimal.Decimal `gorm:"column:self_paced_price_ngn;type:numeric(12,2);not null;default:0"`
	GroupPriceUSD     decimal.Decimal `gorm:"column:group_price_usd;type:numeric(12,2);not null;default:0"`
	GroupPriceNGN     decimal.Decimal `gorm:"column:group_price_ngn;type:numeric(12,2);not null;default:0"`
	OneOnOnePriceUSD  decimal.Decimal `gorm:"column:one_on_one_price_usd;type:numeric(12,2);not null;default:0"`
	OneOnOnePriceNGN  decimal.Decimal `gorm:"column:one_on_one_price_ngn;type:numeric(12,2);not null;default:0"`

	// MaxInstallments caps how many parts an installment plan may split into.
	MaxInstallments int `gorm:"column:max_installments;not null;default:4"`

	Published bool      `gorm:"column:published;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// PriceFor resolves the list price for a track in the given currency.
func (c Course) PriceFor(track enums.LearningTrack, currency enums.Currency) (decimal.Decimal, error) {
	switch track {
	case enums.TrackSelfPaced:
		if currency == enums.CurrencyNGN {
			return c.SelfPacedPriceNGN, nil
		}
		return c.SelfPacedPriceUSD, nil
	case enums.TrackGroupMentorship:
		if currency == enums.CurrencyNGN {
			return c.GroupPriceNGN, nil
		}
		return c.GroupPriceUSD, nil
	case enums.TrackOneOnOne:
		if currency == enums.CurrencyNGN {
			return c.OneOnOnePriceNGN, nil
		}
		return c.OneOnOnePriceUSD, nil
	}
	return decimal.Zero, fmt.Errorf("no price configured for track %q", track)
}
