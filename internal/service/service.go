// Package service реализует пайплайн обогащения транзакций сервиса dime.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/notcolumbus/dime/internal/metrics"
	"github.com/notcolumbus/dime/internal/model"
	"github.com/notcolumbus/dime/internal/points"
)

// ErrStoreUnavailable возвращается мутирующими операциями, когда хранилище не сконфигурировано.
var ErrStoreUnavailable = errors.New("store not configured")

// Repository описывает контракт доступа к хранилищу транзакций, используемый пайплайном.
type Repository interface {
	Close() error
	SelectUncategorized(ctx context.Context, userID *string) ([]model.Transaction, error)
	WriteCategory(ctx context.Context, txID, category string) error
	WritePoints(ctx context.Context, txID string, points int64) error
	GetTransaction(ctx context.Context, txID string) (*model.Transaction, error)
	GetTransactions(ctx context.Context, userID string, merchantID *int64, limit int) ([]model.Transaction, error)
	SelectRecalculable(ctx context.Context) ([]model.Transaction, error)
	BackfillPaymentMethods(ctx context.Context) (int64, error)
}

// Assigner определяет категорию трат для одной транзакции.
type Assigner interface {
	Assign(ctx context.Context, tx model.Transaction) string
}

// Calculator вычисляет баллы транзакции по правилам карты.
type Calculator interface {
	Calculate(tx model.Transaction, cardID string) (int64, error)
}

// Service содержит бизнес-логику обогащения транзакций.
type Service struct {
	repo       Repository
	assigner   Assigner
	calculator Calculator
	logger     *zap.Logger
	workers    int
}

// NewService создаёт сервис обогащения. repo может быть nil — тогда мутирующие
// операции возвращают ErrStoreUnavailable.
func NewService(repo Repository, assigner Assigner, calculator Calculator, logger *zap.Logger, workers int) *Service {
	if workers <= 0 {
		workers = 8
	}
	return &Service{
		repo:       repo,
		assigner:   assigner,
		calculator: calculator,
		logger:     logger,
		workers:    workers,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// ProcessAllUncategorized обогащает все транзакции без категории, ограничиваясь
// пользователем userID, если он задан. Строки обрабатываются конкурентно и
// независимо: сбой одной строки попадает в счётчики и не прерывает остальные.
// Пустая выборка — не ошибка, возвращается нулевая сводка.
func (s *Service) ProcessAllUncategorized(ctx context.Context, userID *string) (model.EnrichmentSummary, error) {
	if s.repo == nil {
		return model.EnrichmentSummary{}, ErrStoreUnavailable
	}

	start := time.Now()
	runID := uuid.NewString()

	candidates, err := s.repo.SelectUncategorized(ctx, userID)
	if err != nil {
		return model.EnrichmentSummary{}, fmt.Errorf("select uncategorized: %w", err)
	}

	metrics.EnrichmentRunsTotal.Inc()

	summary := model.EnrichmentSummary{
		RunID:             runID,
		TransactionsFound: int64(len(candidates)),
	}

	if len(candidates) == 0 {
		s.logger.Info("bulk enrichment: nothing to do", zap.String("runID", runID))
		return summary, nil
	}

	var categorized, pointsCalculated atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, tx := range candidates {
		g.Go(func() error {
			s.enrichRow(ctx, runID, tx, &categorized, &pointsCalculated)
			return nil
		})
	}

	// Воркеры не возвращают ошибок, сбои уже учтены per-row.
	_ = g.Wait()

	summary.Categorized = categorized.Load()
	summary.PointsCalculated = pointsCalculated.Load()

	metrics.RunDuration.Observe(time.Since(start).Seconds())

	s.logger.Info("bulk enrichment finished",
		zap.String("runID", runID),
		zap.Int64("found", summary.TransactionsFound),
		zap.Int64("categorized", summary.Categorized),
		zap.Int64("pointsCalculated", summary.PointsCalculated),
		zap.Int64("failed", summary.Failed()),
	)

	return summary, nil
}

// enrichRow обрабатывает одну транзакцию: категория записывается первой,
// баллы — отдельным шагом после успешного вычисления, поэтому строка никогда
// не остаётся полузаписанной.
func (s *Service) enrichRow(ctx context.Context, runID string, tx model.Transaction, categorized, pointsCalculated *atomic.Int64) {
	category := s.assigner.Assign(ctx, tx)

	if err := s.repo.WriteCategory(ctx, tx.ID, category); err != nil {
		metrics.RowsFailedTotal.Inc()
		s.logger.Warn("write category failed",
			zap.Error(err), zap.String("runID", runID), zap.String("txID", tx.ID))
		return
	}

	categorized.Add(1)
	metrics.RowsCategorizedTotal.Inc()

	if tx.CardID == nil || *tx.CardID == "" {
		return
	}

	tx.SpendCategory = &category

	pts, err := s.calculator.Calculate(tx, *tx.CardID)
	if err != nil {
		// Неизвестная карта — локальный сбой строки, категория уже записана.
		s.logger.Warn("points calculation skipped",
			zap.Error(err), zap.String("runID", runID), zap.String("txID", tx.ID))
		return
	}

	if err := s.repo.WritePoints(ctx, tx.ID, pts); err != nil {
		metrics.RowsFailedTotal.Inc()
		s.logger.Warn("write points failed",
			zap.Error(err), zap.String("runID", runID), zap.String("txID", tx.ID))
		return
	}

	pointsCalculated.Add(1)
	metrics.PointsCalculatedTotal.Inc()
}

// EnrichResult — результат обогащения одной транзакции по запросу.
type EnrichResult struct {
	TxID     string `json:"tx_id"`
	Category string `json:"category"`
	Points   *int64 `json:"points,omitempty"`
}

// CategorizeTransaction категоризирует одну транзакцию по идентификатору и,
// если карта известна, вычисляет баллы. Несуществующий идентификатор —
// ошибка repository.ErrTransactionNotFound, а не пустой успех.
func (s *Service) CategorizeTransaction(ctx context.Context, txID string) (*EnrichResult, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}

	tx, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return nil, err
	}

	category := s.assigner.Assign(ctx, *tx)

	if err := s.repo.WriteCategory(ctx, tx.ID, category); err != nil {
		return nil, err
	}

	result := &EnrichResult{TxID: tx.ID, Category: category}

	if tx.CardID != nil && *tx.CardID != "" {
		tx.SpendCategory = &category
		if pts, calcErr := s.calculator.Calculate(*tx, *tx.CardID); calcErr == nil {
			if err := s.repo.WritePoints(ctx, tx.ID, pts); err == nil {
				result.Points = &pts
			}
		}
	}

	return result, nil
}

// CalculatePoints вычисляет и сохраняет баллы одной транзакции по указанной карте.
// Неизвестная карта — points.ErrUnknownCard, решение о пропуске принимает вызывающий.
func (s *Service) CalculatePoints(ctx context.Context, txID, cardID string) (int64, error) {
	if s.repo == nil {
		return 0, ErrStoreUnavailable
	}

	tx, err := s.repo.GetTransaction(ctx, txID)
	if err != nil {
		return 0, err
	}

	pts, err := s.calculator.Calculate(*tx, cardID)
	if err != nil {
		return 0, err
	}

	if err := s.repo.WritePoints(ctx, tx.ID, pts); err != nil {
		return 0, err
	}

	return pts, nil
}

// RecalculateAllPoints пересчитывает баллы всех транзакций с известной картой.
// Транзакции через PayPal получают 0. Возвращает число обновлённых строк.
func (s *Service) RecalculateAllPoints(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, ErrStoreUnavailable
	}

	candidates, err := s.repo.SelectRecalculable(ctx)
	if err != nil {
		return 0, fmt.Errorf("select recalculable: %w", err)
	}

	var updated atomic.Int64

	var g errgroup.Group
	g.SetLimit(s.workers)

	for _, tx := range candidates {
		g.Go(func() error {
			pts, err := s.calculator.Calculate(tx, *tx.CardID)
			if err != nil {
				if !errors.Is(err, points.ErrUnknownCard) {
					s.logger.Warn("recalculate points failed", zap.Error(err), zap.String("txID", tx.ID))
				}
				return nil
			}
			if err := s.repo.WritePoints(ctx, tx.ID, pts); err != nil {
				s.logger.Warn("write recalculated points failed", zap.Error(err), zap.String("txID", tx.ID))
				return nil
			}
			updated.Add(1)
			return nil
		})
	}

	_ = g.Wait()

	return updated.Load(), nil
}

// BackfillPaymentMethods восстанавливает способ оплаты из сырых данных транзакций.
func (s *Service) BackfillPaymentMethods(ctx context.Context) (int64, error) {
	if s.repo == nil {
		return 0, ErrStoreUnavailable
	}
	return s.repo.BackfillPaymentMethods(ctx)
}

// GetTransactions возвращает транзакции пользователя с опциональным фильтром по мерчанту.
func (s *Service) GetTransactions(ctx context.Context, userID string, merchantID *int64, limit int) ([]model.Transaction, error) {
	if s.repo == nil {
		return nil, ErrStoreUnavailable
	}
	return s.repo.GetTransactions(ctx, userID, merchantID, limit)
}
