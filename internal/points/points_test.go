package points

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/notcolumbus/dime/internal/model"
)

func strPtr(s string) *string { return &s }

func TestCalculate_UnknownCard(t *testing.T) {
	calc := NewCalculator(DefaultBenefits())

	tx := model.Transaction{TotalAmount: decimal.NewFromInt(100)}

	if _, err := calc.Calculate(tx, "no_such_card"); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("expected ErrUnknownCard, got %v", err)
	}
	if _, err := calc.Calculate(tx, ""); !errors.Is(err, ErrUnknownCard) {
		t.Fatalf("expected ErrUnknownCard for empty card id, got %v", err)
	}
}

func TestCalculate_ZeroPointsRail(t *testing.T) {
	calc := NewCalculator(DefaultBenefits())

	rails := []string{"paypal", "PayPal", "PAYPAL"}
	for _, rail := range rails {
		for _, b := range DefaultBenefits() {
			tx := model.Transaction{
				TotalAmount:   decimal.NewFromInt(500),
				PaymentMethod: rail,
				SpendCategory: strPtr("dining"),
			}

			pts, err := calc.Calculate(tx, b.CardID)
			if err != nil {
				t.Fatalf("Calculate(%s, %s) error: %v", rail, b.CardID, err)
			}
			if pts != 0 {
				t.Fatalf("Calculate(%s, %s) = %d, want 0", rail, b.CardID, pts)
			}
		}
	}
}

func TestCalculate_CategoryMultiplier(t *testing.T) {
	calc := NewCalculator(DefaultBenefits())

	tests := []struct {
		name     string
		cardID   string
		category *string
		amount   decimal.Decimal
		want     int64
	}{
		{
			name:     "dining multiplier",
			cardID:   "amex_gold",
			category: strPtr("dining"),
			amount:   decimal.NewFromInt(25),
			want:     100,
		},
		{
			name:     "default rate when category has no rule",
			cardID:   "amex_gold",
			category: strPtr("travel"),
			amount:   decimal.NewFromInt(25),
			want:     25,
		},
		{
			name:     "default rate when uncategorized",
			cardID:   "chase_sapphire_preferred",
			category: nil,
			amount:   decimal.NewFromInt(40),
			want:     40,
		},
		{
			name:     "half rounds up",
			cardID:   "chase_freedom_unlimited",
			category: nil,
			amount:   decimal.NewFromInt(25), // 25 * 1.5 = 37.5
			want:     38,
		},
		{
			name:     "negative amount clamps to zero",
			cardID:   "amex_gold",
			category: strPtr("dining"),
			amount:   decimal.NewFromInt(-20),
			want:     0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := model.Transaction{
				TotalAmount:   tt.amount,
				PaymentMethod: "credit_card",
				SpendCategory: tt.category,
			}

			pts, err := calc.Calculate(tx, tt.cardID)
			if err != nil {
				t.Fatalf("Calculate error: %v", err)
			}
			if pts != tt.want {
				t.Fatalf("Calculate = %d, want %d", pts, tt.want)
			}
		})
	}
}
