package categorizer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/notcolumbus/dime/internal/model"
)

func TestClassify_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/classify" {
			t.Fatalf("path = %s, want /api/classify", r.URL.Path)
		}

		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Merchant != "Starbucks" {
			t.Fatalf("merchant = %q, want Starbucks", req.Merchant)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(classifyResponse{Category: "dining"}); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	tx := model.Transaction{
		MerchantName: "Starbucks",
		TotalAmount:  decimal.NewFromFloat(7.25),
	}

	label, err := client.Classify(ctx, tx)
	if err != nil {
		t.Fatalf("Classify error: %v", err)
	}
	if label != "dining" {
		t.Fatalf("label = %q, want dining", label)
	}
}

func TestClassify_NonOKStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Classify(ctx, model.Transaction{}); err == nil {
		t.Fatalf("expected error for non-200 status")
	}
}

func TestClassify_NotConfigured(t *testing.T) {
	client := NewClient("")

	if _, err := client.Classify(context.Background(), model.Transaction{}); err == nil {
		t.Fatalf("expected error for unconfigured client")
	}
}
