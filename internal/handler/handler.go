// Package handler содержит HTTP-обработчики API сервиса dime.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/notcolumbus/dime/internal/analytics"
	"github.com/notcolumbus/dime/internal/metrics"
	"github.com/notcolumbus/dime/internal/model"
	"github.com/notcolumbus/dime/internal/points"
	"github.com/notcolumbus/dime/internal/repository"
	"github.com/notcolumbus/dime/internal/service"
)

// EnrichmentService определяет контракт пайплайна обогащения, используемый обработчиками.
type EnrichmentService interface {
	ProcessAllUncategorized(ctx context.Context, userID *string) (model.EnrichmentSummary, error)
	CategorizeTransaction(ctx context.Context, txID string) (*service.EnrichResult, error)
	CalculatePoints(ctx context.Context, txID, cardID string) (int64, error)
	RecalculateAllPoints(ctx context.Context) (int64, error)
	BackfillPaymentMethods(ctx context.Context) (int64, error)
	GetTransactions(ctx context.Context, userID string, merchantID *int64, limit int) ([]model.Transaction, error)
}

// Analytics определяет контракт агрегатов, используемый обработчиками.
// Решение о подстановке sample-данных принимается здесь, на уровне представления.
type Analytics interface {
	SpendingByCategory(ctx context.Context, userID string, days int) analytics.BreakdownResult
	Cashflow(ctx context.Context, userID string, days int) analytics.CashflowResult
	SpendingTrends(ctx context.Context, userID string, months int) analytics.TrendsResult
	Merchants(ctx context.Context, userID string) analytics.MerchantsResult
}

// Handler реализует HTTP-обработчики API сервиса dime.
type Handler struct {
	service   EnrichmentService
	analytics Analytics
	logger    *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s EnrichmentService, a Analytics, logger *zap.Logger) *Handler {
	return &Handler{
		service:   s,
		analytics: a,
		logger:    logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// windowParams — общие параметры аналитических запросов. Принимаются как
// query-параметрами (GET), так и JSON-телом (POST), тело имеет приоритет.
type windowParams struct {
	UserID string `json:"user_id"`
	Days   *int   `json:"days"`
	Months *int   `json:"months"`
}

func readWindowParams(r *http.Request, defaultUserID string) (windowParams, error) {
	p := windowParams{UserID: defaultUserID}

	q := r.URL.Query()
	if v := q.Get("user_id"); v != "" {
		p.UserID = v
	}
	if v := q.Get("days"); v != "" {
		days, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("invalid days parameter")
		}
		p.Days = &days
	}
	if v := q.Get("months"); v != "" {
		months, err := strconv.Atoi(v)
		if err != nil {
			return p, errors.New("invalid months parameter")
		}
		p.Months = &months
	}

	if r.Method == http.MethodPost && r.Body != nil {
		var body windowParams
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			if body.UserID != "" {
				p.UserID = body.UserID
			}
			if body.Days != nil {
				p.Days = body.Days
			}
			if body.Months != nil {
				p.Months = body.Months
			}
		}
	}

	return p, nil
}

type bulkRequest struct {
	UserID *string `json:"user_id"`
}

type bulkResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	model.EnrichmentSummary
}

// CategorizeAll запускает массовое обогащение всех некатегоризированных транзакций.
func (h *Handler) CategorizeAll(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	summary, err := h.service.ProcessAllUncategorized(r.Context(), req.UserID)
	if err != nil {
		h.logger.Error("categorize all error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, bulkResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, bulkResponse{Success: true, EnrichmentSummary: summary})
}

// CategorizeTransaction категоризирует одну транзакцию по идентификатору из пути.
func (h *Handler) CategorizeTransaction(w http.ResponseWriter, r *http.Request) {
	txID := pathParam(r, "txID")
	if txID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing transaction id"})
		return
	}

	result, err := h.service.CategorizeTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, repository.ErrTransactionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
			return
		}
		h.logger.Error("categorize transaction error", zap.Error(err), zap.String("txID", txID))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type calculatePointsRequest struct {
	CardID string `json:"card_id"`
}

// CalculatePoints вычисляет баллы одной транзакции по указанной карте.
func (h *Handler) CalculatePoints(w http.ResponseWriter, r *http.Request) {
	txID := pathParam(r, "txID")

	var req calculatePointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.CardID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "card_id is required"})
		return
	}

	pts, err := h.service.CalculatePoints(r.Context(), txID, req.CardID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrTransactionNotFound):
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "transaction not found"})
		case errors.Is(err, points.ErrUnknownCard):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": "unknown card: " + req.CardID})
		default:
			h.logger.Error("calculate points error", zap.Error(err), zap.String("txID", txID))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tx_id":   txID,
		"card_id": req.CardID,
		"points":  pts,
	})
}

type countResponse struct {
	Success bool   `json:"success"`
	Updated int64  `json:"updated"`
	Error   string `json:"error,omitempty"`
}

// RecalculatePoints пересчитывает баллы всех транзакций (PayPal = 0).
func (h *Handler) RecalculatePoints(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.RecalculateAllPoints(r.Context())
	if err != nil {
		h.logger.Error("recalculate points error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, countResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, countResponse{Success: true, Updated: updated})
}

// BackfillPaymentMethods восстанавливает payment_method из сырых данных транзакций.
func (h *Handler) BackfillPaymentMethods(w http.ResponseWriter, r *http.Request) {
	updated, err := h.service.BackfillPaymentMethods(r.Context())
	if err != nil {
		h.logger.Error("backfill payment methods error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, countResponse{Success: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, countResponse{Success: true, Updated: updated})
}

type breakdownResponse struct {
	UserID     string                `json:"user_id"`
	Days       int                   `json:"days"`
	Source     analytics.Source      `json:"source"`
	Categories []model.CategorySpend `json:"categories"`
	Error      string                `json:"error,omitempty"`
}

// SpendingByCategory возвращает разбивку трат по категориям.
// Деградация хранилища не приводит к 5xx: ответ всегда 200, ошибка — в payload.
func (h *Handler) SpendingByCategory(w http.ResponseWriter, r *http.Request) {
	p, err := readWindowParams(r, "test_user")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	days := 30
	if p.Days != nil {
		days = *p.Days
	}

	resp := breakdownResponse{UserID: p.UserID, Days: days, Categories: []model.CategorySpend{}}

	res := h.analytics.SpendingByCategory(r.Context(), p.UserID, days)
	switch res.State {
	case analytics.StateOK:
		resp.Source = analytics.SourceStore
		resp.Categories = res.Categories
	case analytics.StateEmpty:
		resp.Source = analytics.SourceStore
	default:
		resp.Source = analytics.SourceSample
		metrics.SampleFallbacksTotal.WithLabelValues("spending_by_category").Inc()
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type cashflowResponse struct {
	UserID string           `json:"user_id"`
	Days   int              `json:"days"`
	Source analytics.Source `json:"source"`
	model.Cashflow
	Error string `json:"error,omitempty"`
}

// Cashflow возвращает агрегированный денежный поток за окно.
func (h *Handler) Cashflow(w http.ResponseWriter, r *http.Request) {
	p, err := readWindowParams(r, "test_user")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	days := 30
	if p.Days != nil {
		days = *p.Days
	}

	resp := cashflowResponse{UserID: p.UserID, Days: days}

	res := h.analytics.Cashflow(r.Context(), p.UserID, days)
	switch res.State {
	case analytics.StateOK, analytics.StateEmpty:
		resp.Source = analytics.SourceStore
		resp.Cashflow = res.Cashflow
	default:
		resp.Source = analytics.SourceSample
		metrics.SampleFallbacksTotal.WithLabelValues("cashflow").Inc()
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type trendsResponse struct {
	UserID  string             `json:"user_id"`
	Months  int                `json:"months"`
	Source  analytics.Source   `json:"source"`
	Trends  []model.TrendPoint `json:"trends"`
	Message string             `json:"message,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// SpendingTrends возвращает помесячные траты. Недоступное хранилище или пустая
// выборка подменяются детерминированной sample-серией с явной пометкой источника.
func (h *Handler) SpendingTrends(w http.ResponseWriter, r *http.Request) {
	p, err := readWindowParams(r, "aman")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	months := 6
	if p.Months != nil {
		months = *p.Months
	}

	resp := trendsResponse{UserID: p.UserID, Months: months}

	res := h.analytics.SpendingTrends(r.Context(), p.UserID, months)
	switch res.State {
	case analytics.StateOK:
		resp.Source = analytics.SourceStore
		resp.Trends = res.Trends
	case analytics.StateEmpty:
		resp.Source = analytics.SourceSample
		resp.Trends = analytics.SampleTrends(months, time.Now())
		resp.Message = "No spending data found. Using sample data."
		metrics.SampleFallbacksTotal.WithLabelValues("spending_trends").Inc()
	default:
		resp.Source = analytics.SourceSample
		resp.Trends = analytics.SampleTrends(months, time.Now())
		resp.Message = "Store unavailable. Using sample data."
		metrics.SampleFallbacksTotal.WithLabelValues("spending_trends").Inc()
		if res.Err != nil {
			resp.Error = res.Err.Error()
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

type transactionResponse struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	Datetime      string  `json:"datetime"`
	TotalAmount   string  `json:"total_amount"`
	MerchantID    int64   `json:"merchant_id"`
	MerchantName  string  `json:"merchant_name"`
	PaymentMethod string  `json:"payment_method"`
	CardID        *string `json:"card_id,omitempty"`
	SpendCategory *string `json:"spend_category,omitempty"`
	PointsEarned  *int64  `json:"points_earned,omitempty"`
}

// GetTransactions возвращает список транзакций пользователя.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	userID := q.Get("user_id")
	if userID == "" {
		userID = "aman"
	}

	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit parameter"})
			return
		}
		limit = n
	}

	var merchantID *int64
	if v := q.Get("merchant_id"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid merchant_id parameter"})
			return
		}
		merchantID = &n
	}

	txs, err := h.service.GetTransactions(r.Context(), userID, merchantID, limit)
	if err != nil {
		h.logger.Error("get transactions error", zap.Error(err), zap.String("userID", userID))
		writeJSON(w, http.StatusInternalServerError, map[string]any{
			"error":        err.Error(),
			"transactions": []transactionResponse{},
		})
		return
	}

	resp := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		resp = append(resp, transactionResponse{
			ID:            tx.ID,
			UserID:        tx.UserID,
			Datetime:      tx.Datetime.Format(time.RFC3339),
			TotalAmount:   tx.TotalAmount.String(),
			MerchantID:    tx.MerchantID,
			MerchantName:  tx.MerchantName,
			PaymentMethod: tx.PaymentMethod,
			CardID:        tx.CardID,
			SpendCategory: tx.SpendCategory,
			PointsEarned:  tx.PointsEarned,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"transactions": resp})
}

// TopOfFile возвращает способы оплаты по мерчантам пользователя.
func (h *Handler) TopOfFile(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "test_user"
	}

	res := h.analytics.Merchants(r.Context(), userID)
	if res.State == analytics.StateUnavailable {
		resp := map[string]any{"data": []model.MerchantMethods{}}
		if res.Err != nil {
			resp["error"] = res.Err.Error()
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}

	merchants := res.Merchants
	if merchants == nil {
		merchants = []model.MerchantMethods{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": merchants})
}

// Alerts возвращает список оповещений. Пока это заглушка: анализ аномалий трат
// и напоминания о счетах ещё не реализованы.
func (h *Handler) Alerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"alerts": []string{}})
}
