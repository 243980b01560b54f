// Package model содержит доменные сущности сервиса dime.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CategoryUncategorized — категория-заглушка для транзакций, которые не удалось классифицировать.
const CategoryUncategorized = "uncategorized"

// Transaction описывает одну финансовую транзакцию пользователя.
// Пайплайн обогащения изменяет только SpendCategory и PointsEarned,
// остальные поля принадлежат источнику данных.
type Transaction struct {
	ID            string
	UserID        string
	Datetime      time.Time
	TotalAmount   decimal.Decimal
	MerchantID    int64
	MerchantName  string
	Description   string
	PaymentMethod string
	CardID        *string
	SpendCategory *string
	PointsEarned  *int64
}

// EnrichmentSummary содержит счётчики одного прогона массового обогащения.
// Счётчики независимы: строка может быть категоризирована, но остаться без
// баллов (например, из-за неизвестной карты).
type EnrichmentSummary struct {
	RunID             string `json:"run_id"`
	TransactionsFound int64  `json:"transactions_found"`
	Categorized       int64  `json:"categorized"`
	PointsCalculated  int64  `json:"points_calculated"`
}

// Failed возвращает число строк, для которых не удалось записать категорию.
func (s EnrichmentSummary) Failed() int64 {
	return s.TransactionsFound - s.Categorized
}

// CategorySpend описывает агрегат трат по одной категории.
type CategorySpend struct {
	Category         string          `json:"category"`
	TransactionCount int64           `json:"transaction_count"`
	TotalSpent       decimal.Decimal `json:"total_spent"`
	TotalPoints      int64           `json:"total_points"`
}

// Cashflow содержит агрегированные притоки и оттоки за окно времени.
type Cashflow struct {
	Inflow  decimal.Decimal `json:"inflow"`
	Outflow decimal.Decimal `json:"outflow"`
	Net     decimal.Decimal `json:"net"`
}

// TrendPoint — суммарные траты за один календарный месяц.
type TrendPoint struct {
	Month  string          `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

// MerchantMethods описывает способы оплаты, встречавшиеся у мерчанта.
type MerchantMethods struct {
	MerchantID     int64    `json:"merchant_id"`
	MerchantName   string   `json:"merchant_name"`
	PaymentMethods []string `json:"payment_methods"`
}
