// Package points вычисляет бонусные баллы транзакции по правилам карты.
package points

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/notcolumbus/dime/internal/model"
)

// ErrUnknownCard возвращается, если для карты нет правил начисления.
var ErrUnknownCard = errors.New("unknown card")

// ZeroPointsRail — способ оплаты, по которому баллы не начисляются никогда.
const ZeroPointsRail = "paypal"

// CardBenefit описывает правила начисления баллов одной карты:
// множители по категориям трат и базовую ставку по умолчанию.
type CardBenefit struct {
	CardID      string
	Rates       map[string]decimal.Decimal
	DefaultRate decimal.Decimal
}

// Calculator применяет неизменяемую таблицу правил карт к транзакциям.
type Calculator struct {
	rules map[string]CardBenefit
}

// NewCalculator создаёт калькулятор с указанным набором правил.
func NewCalculator(benefits []CardBenefit) *Calculator {
	rules := make(map[string]CardBenefit, len(benefits))
	for _, b := range benefits {
		rules[b.CardID] = b
	}
	return &Calculator{rules: rules}
}

// Calculate возвращает число баллов для транзакции по правилам карты cardID.
// Для транзакций через PayPal всегда возвращается 0 независимо от карты и
// категории. Округление — половина вверх (decimal.Round), политика
// фиксирована: от неё зависит воспроизводимость итоговых сумм.
func (c *Calculator) Calculate(tx model.Transaction, cardID string) (int64, error) {
	if cardID == "" {
		return 0, ErrUnknownCard
	}

	benefit, ok := c.rules[cardID]
	if !ok {
		return 0, ErrUnknownCard
	}

	if strings.EqualFold(tx.PaymentMethod, ZeroPointsRail) {
		return 0, nil
	}

	rate := benefit.DefaultRate
	if tx.SpendCategory != nil {
		if r, ok := benefit.Rates[*tx.SpendCategory]; ok {
			rate = r
		}
	}

	pts := tx.TotalAmount.Mul(rate).Round(0).IntPart()
	if pts < 0 {
		pts = 0
	}

	return pts, nil
}

// DefaultBenefits возвращает встроенный каталог карт.
func DefaultBenefits() []CardBenefit {
	return []CardBenefit{
		{
			CardID: "chase_sapphire_preferred",
			Rates: map[string]decimal.Decimal{
				"travel":    decimal.NewFromInt(5),
				"dining":    decimal.NewFromInt(3),
				"streaming": decimal.NewFromInt(3),
			},
			DefaultRate: decimal.NewFromInt(1),
		},
		{
			CardID: "amex_gold",
			Rates: map[string]decimal.Decimal{
				"dining":    decimal.NewFromInt(4),
				"groceries": decimal.NewFromInt(4),
			},
			DefaultRate: decimal.NewFromInt(1),
		},
		{
			CardID:      "chase_freedom_unlimited",
			Rates:       map[string]decimal.Decimal{},
			DefaultRate: decimal.NewFromFloat(1.5),
		},
		{
			CardID: "capital_one_savor",
			Rates: map[string]decimal.Decimal{
				"dining":        decimal.NewFromInt(3),
				"entertainment": decimal.NewFromInt(3),
				"streaming":     decimal.NewFromInt(3),
				"groceries":     decimal.NewFromInt(3),
			},
			DefaultRate: decimal.NewFromInt(1),
		},
		{
			CardID:      "citi_custom_cash",
			Rates:       map[string]decimal.Decimal{},
			DefaultRate: decimal.NewFromInt(1),
		},
		{
			CardID: "amazon_prime_visa",
			Rates: map[string]decimal.Decimal{
				"shopping":  decimal.NewFromInt(5),
				"groceries": decimal.NewFromInt(5),
			},
			DefaultRate: decimal.NewFromInt(1),
		},
	}
}
