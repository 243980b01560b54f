package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/notcolumbus/dime/internal/analytics"
	"github.com/notcolumbus/dime/internal/categorizer"
	"github.com/notcolumbus/dime/internal/model"
	"github.com/notcolumbus/dime/internal/points"
	"github.com/notcolumbus/dime/internal/repository"
)

// memStore — потокобезопасное хранилище в памяти, реализующее контракт
// Repository для детерминированных тестов пайплайна.
type memStore struct {
	mu  sync.Mutex
	txs map[string]*model.Transaction

	writeCategoryErr map[string]error
}

func newMemStore(txs ...model.Transaction) *memStore {
	m := &memStore{
		txs:              make(map[string]*model.Transaction, len(txs)),
		writeCategoryErr: make(map[string]error),
	}
	for _, tx := range txs {
		cp := tx
		m.txs[tx.ID] = &cp
	}
	return m
}

func (m *memStore) Close() error { return nil }

func (m *memStore) SelectUncategorized(ctx context.Context, userID *string) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Transaction
	for _, tx := range m.txs {
		if tx.SpendCategory != nil {
			continue
		}
		if userID != nil && tx.UserID != *userID {
			continue
		}
		res = append(res, *tx)
	}
	return res, nil
}

func (m *memStore) WriteCategory(ctx context.Context, txID, category string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.writeCategoryErr[txID]; err != nil {
		return err
	}

	tx, ok := m.txs[txID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	tx.SpendCategory = &category
	return nil
}

func (m *memStore) WritePoints(ctx context.Context, txID string, pts int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return repository.ErrTransactionNotFound
	}
	tx.PointsEarned = &pts
	return nil
}

func (m *memStore) GetTransaction(ctx context.Context, txID string) (*model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx, ok := m.txs[txID]
	if !ok {
		return nil, repository.ErrTransactionNotFound
	}
	cp := *tx
	return &cp, nil
}

func (m *memStore) GetTransactions(ctx context.Context, userID string, merchantID *int64, limit int) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Transaction
	for _, tx := range m.txs {
		if tx.UserID != userID {
			continue
		}
		if merchantID != nil && tx.MerchantID != *merchantID {
			continue
		}
		if len(res) >= limit {
			break
		}
		res = append(res, *tx)
	}
	return res, nil
}

func (m *memStore) SelectRecalculable(ctx context.Context) ([]model.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.Transaction
	for _, tx := range m.txs {
		if tx.CardID != nil {
			res = append(res, *tx)
		}
	}
	return res, nil
}

func (m *memStore) BackfillPaymentMethods(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var updated int64
	for _, tx := range m.txs {
		if tx.PaymentMethod == "" {
			tx.PaymentMethod = "credit_card"
			updated++
		}
	}
	return updated, nil
}

// Read-агрегаты memStore повторяют контракт analytics.Repository.

func (m *memStore) CategoryBreakdown(ctx context.Context, userID string, days int) ([]model.CategorySpend, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buckets := make(map[string]*model.CategorySpend)
	for _, tx := range m.txs {
		if tx.UserID != userID {
			continue
		}
		category := model.CategoryUncategorized
		if tx.SpendCategory != nil {
			category = *tx.SpendCategory
		}
		b, ok := buckets[category]
		if !ok {
			b = &model.CategorySpend{Category: category}
			buckets[category] = b
		}
		b.TransactionCount++
		b.TotalSpent = b.TotalSpent.Add(tx.TotalAmount)
		if tx.PointsEarned != nil {
			b.TotalPoints += *tx.PointsEarned
		}
	}

	res := make([]model.CategorySpend, 0, len(buckets))
	for _, b := range buckets {
		res = append(res, *b)
	}
	return res, nil
}

func (m *memStore) Cashflow(ctx context.Context, userID string, days int) (model.Cashflow, error) {
	return model.Cashflow{}, nil
}

func (m *memStore) MonthlyTotals(ctx context.Context, userID string, months int) ([]model.TrendPoint, error) {
	return nil, nil
}

func (m *memStore) Merchants(ctx context.Context, userID string) ([]model.MerchantMethods, error) {
	return nil, nil
}

func strPtr(s string) *string { return &s }

func newTestService(store Repository) *Service {
	assigner := categorizer.NewAssigner(nil, zap.NewNop())
	calc := points.NewCalculator(points.DefaultBenefits())
	return NewService(store, assigner, calc, zap.NewNop(), 4)
}

func TestProcessAllUncategorized_Idempotent(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", MerchantName: "Starbucks", TotalAmount: decimal.NewFromInt(10)},
		model.Transaction{ID: "t2", UserID: "aman", MerchantName: "Whole Foods", TotalAmount: decimal.NewFromInt(50)},
		model.Transaction{ID: "t3", UserID: "aman", MerchantName: "ACME CORP", TotalAmount: decimal.NewFromInt(5)},
	)
	svc := newTestService(store)

	first, err := svc.ProcessAllUncategorized(context.Background(), nil)
	if err != nil {
		t.Fatalf("first run error: %v", err)
	}
	if first.TransactionsFound != 3 || first.Categorized != 3 {
		t.Fatalf("first run summary = %+v, want found=3 categorized=3", first)
	}

	second, err := svc.ProcessAllUncategorized(context.Background(), nil)
	if err != nil {
		t.Fatalf("second run error: %v", err)
	}
	if second.TransactionsFound != 0 {
		t.Fatalf("second run found = %d, want 0 (already enriched rows must not be re-selected)", second.TransactionsFound)
	}
}

func TestProcessAllUncategorized_CounterIndependence(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", MerchantName: "Starbucks", TotalAmount: decimal.NewFromInt(10), CardID: strPtr("amex_gold")},
		model.Transaction{ID: "t2", UserID: "aman", MerchantName: "Netflix", TotalAmount: decimal.NewFromInt(15), CardID: strPtr("amex_gold")},
		model.Transaction{ID: "t3", UserID: "aman", MerchantName: "Delta Airlines", TotalAmount: decimal.NewFromInt(400), CardID: strPtr("chase_sapphire_preferred")},
		model.Transaction{ID: "t4", UserID: "aman", MerchantName: "Walmart", TotalAmount: decimal.NewFromInt(80), CardID: strPtr("amex_gold")},
		model.Transaction{ID: "t5", UserID: "aman", MerchantName: "Uber", TotalAmount: decimal.NewFromInt(20), CardID: strPtr("no_such_card")},
	)
	svc := newTestService(store)

	summary, err := svc.ProcessAllUncategorized(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessAllUncategorized error: %v", err)
	}

	if summary.TransactionsFound != 5 {
		t.Fatalf("found = %d, want 5", summary.TransactionsFound)
	}
	if summary.Categorized != 5 {
		t.Fatalf("categorized = %d, want 5", summary.Categorized)
	}
	if summary.PointsCalculated != 4 {
		t.Fatalf("pointsCalculated = %d, want 4 (unknown card must not count)", summary.PointsCalculated)
	}
}

func TestProcessAllUncategorized_RowFailureDoesNotAbortBatch(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", MerchantName: "Starbucks", TotalAmount: decimal.NewFromInt(10)},
		model.Transaction{ID: "t2", UserID: "aman", MerchantName: "Netflix", TotalAmount: decimal.NewFromInt(15)},
	)
	store.writeCategoryErr["t1"] = errors.New("write failed")

	svc := newTestService(store)

	summary, err := svc.ProcessAllUncategorized(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessAllUncategorized error: %v", err)
	}
	if summary.TransactionsFound != 2 || summary.Categorized != 1 {
		t.Fatalf("summary = %+v, want found=2 categorized=1", summary)
	}
	if summary.Failed() != 1 {
		t.Fatalf("failed = %d, want 1", summary.Failed())
	}
}

func TestProcessAllUncategorized_EmptySelection(t *testing.T) {
	svc := newTestService(newMemStore())

	summary, err := svc.ProcessAllUncategorized(context.Background(), nil)
	if err != nil {
		t.Fatalf("ProcessAllUncategorized error: %v", err)
	}
	if summary.TransactionsFound != 0 || summary.Categorized != 0 || summary.PointsCalculated != 0 {
		t.Fatalf("summary = %+v, want all zero", summary)
	}
}

func TestProcessAllUncategorized_ScopedByUser(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", MerchantName: "Starbucks", TotalAmount: decimal.NewFromInt(10)},
		model.Transaction{ID: "t2", UserID: "denis", MerchantName: "Netflix", TotalAmount: decimal.NewFromInt(15)},
	)
	svc := newTestService(store)

	summary, err := svc.ProcessAllUncategorized(context.Background(), strPtr("aman"))
	if err != nil {
		t.Fatalf("ProcessAllUncategorized error: %v", err)
	}
	if summary.TransactionsFound != 1 {
		t.Fatalf("found = %d, want 1", summary.TransactionsFound)
	}

	other, err := store.GetTransaction(context.Background(), "t2")
	if err != nil {
		t.Fatalf("GetTransaction error: %v", err)
	}
	if other.SpendCategory != nil {
		t.Fatalf("transaction of another user was touched: %+v", other)
	}
}

func TestProcessAllUncategorized_NoStore(t *testing.T) {
	svc := newTestService(nil)

	if _, err := svc.ProcessAllUncategorized(context.Background(), nil); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestCategorizeTransaction_NotFound(t *testing.T) {
	svc := newTestService(newMemStore())

	_, err := svc.CategorizeTransaction(context.Background(), "missing")
	if !errors.Is(err, repository.ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
}

func TestCategorizeTransaction_WithCard(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", MerchantName: "Starbucks", TotalAmount: decimal.NewFromInt(25), CardID: strPtr("amex_gold")},
	)
	svc := newTestService(store)

	res, err := svc.CategorizeTransaction(context.Background(), "t1")
	if err != nil {
		t.Fatalf("CategorizeTransaction error: %v", err)
	}
	if res.Category != "dining" {
		t.Fatalf("category = %q, want dining", res.Category)
	}
	if res.Points == nil || *res.Points != 100 {
		t.Fatalf("points = %v, want 100", res.Points)
	}
}

func TestCalculatePoints_UnknownCard(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", TotalAmount: decimal.NewFromInt(10)},
	)
	svc := newTestService(store)

	_, err := svc.CalculatePoints(context.Background(), "t1", "no_such_card")
	if !errors.Is(err, points.ErrUnknownCard) {
		t.Fatalf("expected ErrUnknownCard, got %v", err)
	}
}

func TestRecalculateAllPoints_PayPalForcedToZero(t *testing.T) {
	store := newMemStore(
		model.Transaction{
			ID: "t1", UserID: "aman", MerchantName: "Starbucks",
			TotalAmount: decimal.NewFromInt(25), PaymentMethod: "paypal",
			CardID: strPtr("amex_gold"), SpendCategory: strPtr("dining"),
		},
		model.Transaction{
			ID: "t2", UserID: "aman", MerchantName: "Starbucks",
			TotalAmount: decimal.NewFromInt(25), PaymentMethod: "credit_card",
			CardID: strPtr("amex_gold"), SpendCategory: strPtr("dining"),
		},
	)
	svc := newTestService(store)

	updated, err := svc.RecalculateAllPoints(context.Background())
	if err != nil {
		t.Fatalf("RecalculateAllPoints error: %v", err)
	}
	if updated != 2 {
		t.Fatalf("updated = %d, want 2", updated)
	}

	paypalTx, _ := store.GetTransaction(context.Background(), "t1")
	if paypalTx.PointsEarned == nil || *paypalTx.PointsEarned != 0 {
		t.Fatalf("paypal points = %v, want 0", paypalTx.PointsEarned)
	}

	cardTx, _ := store.GetTransaction(context.Background(), "t2")
	if cardTx.PointsEarned == nil || *cardTx.PointsEarned != 100 {
		t.Fatalf("card points = %v, want 100", cardTx.PointsEarned)
	}
}

// После обогащения сумма total_spent по всем корзинам, включая uncategorized,
// равна сумме total_amount всех транзакций окна.
func TestCategoryBreakdown_Completeness(t *testing.T) {
	store := newMemStore(
		model.Transaction{ID: "t1", UserID: "aman", MerchantName: "Starbucks", TotalAmount: decimal.NewFromInt(10)},
		model.Transaction{ID: "t2", UserID: "aman", MerchantName: "Whole Foods", TotalAmount: decimal.NewFromInt(55)},
		model.Transaction{ID: "t3", UserID: "aman", MerchantName: "ACME CORP", TotalAmount: decimal.NewFromInt(7)},
	)
	svc := newTestService(store)

	if _, err := svc.ProcessAllUncategorized(context.Background(), nil); err != nil {
		t.Fatalf("ProcessAllUncategorized error: %v", err)
	}

	agg := analytics.NewAggregator(store, zap.NewNop())
	res := agg.SpendingByCategory(context.Background(), "aman", 30)
	if res.State != analytics.StateOK {
		t.Fatalf("state = %v, want StateOK", res.State)
	}

	var total decimal.Decimal
	var sawUncategorized bool
	for _, c := range res.Categories {
		total = total.Add(c.TotalSpent)
		if c.Category == model.CategoryUncategorized {
			sawUncategorized = true
		}
	}

	if !total.Equal(decimal.NewFromInt(72)) {
		t.Fatalf("sum of total_spent = %s, want 72", total)
	}
	if !sawUncategorized {
		t.Fatalf("uncategorized bucket missing from breakdown")
	}
}
