// Package categorizer присваивает транзакции категорию трат.
package categorizer

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/notcolumbus/dime/internal/model"
)

// Categories — конечный набор меток, которые может вернуть Assigner.
var Categories = []string{
	"dining",
	"groceries",
	"travel",
	"streaming",
	"entertainment",
	"shopping",
	"transportation",
	"food delivery",
	model.CategoryUncategorized,
}

// keywordRule сопоставляет подстроки в названии мерчанта или описании с категорией.
// Правила проверяются по порядку, поэтому результат детерминирован.
type keywordRule struct {
	category string
	keywords []string
}

var keywordRules = []keywordRule{
	{"food delivery", []string{"doordash", "ubereats", "uber eats", "grubhub", "postmates", "deliveroo"}},
	{"groceries", []string{"whole foods", "walmart", "trader joe", "safeway", "kroger", "costco", "aldi", "grocery"}},
	{"dining", []string{"restaurant", "cafe", "coffee", "starbucks", "mcdonald", "chipotle", "pizza", "sushi", "diner", "bar & grill"}},
	{"travel", []string{"airline", "airways", "delta", "united", "hotel", "marriott", "hilton", "airbnb", "expedia", "flight"}},
	{"streaming", []string{"netflix", "spotify", "hulu", "disney+", "hbo", "youtube premium", "apple tv"}},
	{"entertainment", []string{"cinema", "theater", "ticketmaster", "steam", "playstation", "xbox", "concert"}},
	{"transportation", []string{"uber", "lyft", "shell", "chevron", "exxon", "parking", "transit", "metro", "gas station"}},
	{"shopping", []string{"amazon", "target", "best buy", "ebay", "etsy", "nike", "apple store", "mall"}},
}

// Classifier описывает внешний сервис классификации транзакций.
type Classifier interface {
	Classify(ctx context.Context, tx model.Transaction) (string, error)
}

// Assigner определяет категорию трат транзакции. Классификация детерминирована
// для одинакового входа; неоднозначные транзакции получают категорию
// "uncategorized" и не прерывают пакетную обработку.
type Assigner struct {
	classifier Classifier
	logger     *zap.Logger
}

// NewAssigner создаёт Assigner. classifier может быть nil — тогда используется
// только встроенная таблица ключевых слов.
func NewAssigner(classifier Classifier, logger *zap.Logger) *Assigner {
	return &Assigner{
		classifier: classifier,
		logger:     logger,
	}
}

// Assign возвращает категорию трат для транзакции. Ошибки внешнего
// классификатора приводят к откату на таблицу ключевых слов, а не к сбою.
func (a *Assigner) Assign(ctx context.Context, tx model.Transaction) string {
	if a.classifier != nil {
		label, err := a.classifier.Classify(ctx, tx)
		if err == nil && isKnownCategory(label) {
			return label
		}
		if err != nil {
			a.logger.Warn("classifier unavailable, falling back to keyword rules",
				zap.Error(err), zap.String("txID", tx.ID))
		}
	}

	return assignByKeywords(tx)
}

func assignByKeywords(tx model.Transaction) string {
	haystack := strings.ToLower(tx.MerchantName + " " + tx.Description)

	for _, rule := range keywordRules {
		for _, kw := range rule.keywords {
			if strings.Contains(haystack, kw) {
				return rule.category
			}
		}
	}

	return model.CategoryUncategorized
}

func isKnownCategory(label string) bool {
	for _, c := range Categories {
		if c == label {
			return true
		}
	}
	return false
}
