// Package analytics вычисляет агрегированные представления по обогащённым транзакциям.
package analytics

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/notcolumbus/dime/internal/model"
)

// ErrNotConfigured возвращается, если хранилище транзакций не сконфигурировано.
var ErrNotConfigured = errors.New("store not configured")

// Source помечает происхождение данных в ответе аналитики.
type Source string

const (
	// SourceStore — данные получены из хранилища.
	SourceStore Source = "store"
	// SourceSample — данные заменены детерминированной синтетической серией.
	SourceSample Source = "sample"
)

// State описывает исход запроса агрегата. Решение о подстановке
// sample-данных принимает вызывающая сторона, а не агрегатор.
type State int

const (
	// StateOK — хранилище вернуло данные.
	StateOK State = iota
	// StateEmpty — запрос выполнен, но строк нет.
	StateEmpty
	// StateUnavailable — хранилище недоступно или запрос завершился ошибкой.
	StateUnavailable
)

// Repository описывает контракт чтения агрегатов из хранилища.
type Repository interface {
	CategoryBreakdown(ctx context.Context, userID string, days int) ([]model.CategorySpend, error)
	Cashflow(ctx context.Context, userID string, days int) (model.Cashflow, error)
	MonthlyTotals(ctx context.Context, userID string, months int) ([]model.TrendPoint, error)
	Merchants(ctx context.Context, userID string) ([]model.MerchantMethods, error)
}

// Aggregator выполняет независимые синхронные запросы агрегатов.
type Aggregator struct {
	repo   Repository
	logger *zap.Logger
}

// NewAggregator создаёт агрегатор. repo может быть nil, тогда каждый запрос
// возвращает StateUnavailable.
func NewAggregator(repo Repository, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		repo:   repo,
		logger: logger,
	}
}

// BreakdownResult — разбивка трат по категориям и исход запроса.
type BreakdownResult struct {
	State      State
	Categories []model.CategorySpend
	Err        error
}

// CashflowResult — агрегированный денежный поток и исход запроса.
type CashflowResult struct {
	State    State
	Cashflow model.Cashflow
	Err      error
}

// TrendsResult — помесячные траты и исход запроса.
type TrendsResult struct {
	State  State
	Trends []model.TrendPoint
	Err    error
}

// MerchantsResult — мерчанты со способами оплаты и исход запроса.
type MerchantsResult struct {
	State     State
	Merchants []model.MerchantMethods
	Err       error
}

// SpendingByCategory возвращает разбивку трат по категориям за окно в days дней.
func (a *Aggregator) SpendingByCategory(ctx context.Context, userID string, days int) BreakdownResult {
	if a.repo == nil {
		return BreakdownResult{State: StateUnavailable, Err: ErrNotConfigured}
	}

	categories, err := a.repo.CategoryBreakdown(ctx, userID, days)
	if err != nil {
		a.logger.Error("category breakdown query failed", zap.Error(err), zap.String("userID", userID))
		return BreakdownResult{State: StateUnavailable, Err: err}
	}

	if len(categories) == 0 {
		return BreakdownResult{State: StateEmpty}
	}

	return BreakdownResult{State: StateOK, Categories: categories}
}

// Cashflow возвращает притоки и оттоки за окно в days дней.
func (a *Aggregator) Cashflow(ctx context.Context, userID string, days int) CashflowResult {
	if a.repo == nil {
		return CashflowResult{State: StateUnavailable, Err: ErrNotConfigured}
	}

	cf, err := a.repo.Cashflow(ctx, userID, days)
	if err != nil {
		a.logger.Error("cashflow query failed", zap.Error(err), zap.String("userID", userID))
		return CashflowResult{State: StateUnavailable, Err: err}
	}

	if cf.Inflow.IsZero() && cf.Outflow.IsZero() {
		return CashflowResult{State: StateEmpty, Cashflow: cf}
	}

	return CashflowResult{State: StateOK, Cashflow: cf}
}

// SpendingTrends возвращает помесячные траты за последние months месяцев,
// от старых к новым.
func (a *Aggregator) SpendingTrends(ctx context.Context, userID string, months int) TrendsResult {
	if a.repo == nil {
		return TrendsResult{State: StateUnavailable, Err: ErrNotConfigured}
	}

	trends, err := a.repo.MonthlyTotals(ctx, userID, months)
	if err != nil {
		a.logger.Error("spending trends query failed", zap.Error(err), zap.String("userID", userID))
		return TrendsResult{State: StateUnavailable, Err: err}
	}

	if len(trends) == 0 {
		return TrendsResult{State: StateEmpty}
	}

	return TrendsResult{State: StateOK, Trends: trends}
}

// Merchants возвращает способы оплаты по мерчантам пользователя.
func (a *Aggregator) Merchants(ctx context.Context, userID string) MerchantsResult {
	if a.repo == nil {
		return MerchantsResult{State: StateUnavailable, Err: ErrNotConfigured}
	}

	merchants, err := a.repo.Merchants(ctx, userID)
	if err != nil {
		a.logger.Error("merchants query failed", zap.Error(err), zap.String("userID", userID))
		return MerchantsResult{State: StateUnavailable, Err: err}
	}

	if len(merchants) == 0 {
		return MerchantsResult{State: StateEmpty}
	}

	return MerchantsResult{State: StateOK, Merchants: merchants}
}

// samplePattern — фиксированный сезонный паттерн трат: умеренное начало,
// спад, праздничный пик, нормализация.
var samplePattern = [...]int64{2850, 2600, 3100, 3950, 3400, 2900}

// SampleTrends строит детерминированную синтетическую серию помесячных трат
// на months записей: паттерн зациклен, суммы округлены до двух знаков.
// Для одинакового months и момента времени серия побайтово воспроизводима.
func SampleTrends(months int, now time.Time) []model.TrendPoint {
	trends := make([]model.TrendPoint, 0, months)

	for i := months - 1; i >= 0; i-- {
		monthDate := now.AddDate(0, 0, -30*i)
		amount := decimal.NewFromInt(samplePattern[(months-1-i)%len(samplePattern)]).Round(2)

		trends = append(trends, model.TrendPoint{
			Month:  monthDate.Format("Jan"),
			Amount: amount,
		})
	}

	return trends
}
