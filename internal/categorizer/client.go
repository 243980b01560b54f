package categorizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/notcolumbus/dime/internal/model"
)

// Client инкапсулирует HTTP-взаимодействие с внешним сервисом классификации.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

type classifyRequest struct {
	Merchant    string `json:"merchant"`
	Description string `json:"description"`
	Amount      string `json:"amount"`
}

type classifyResponse struct {
	Category string `json:"category"`
}

// NewClient создаёт HTTP-клиент классификатора по указанному адресу.
func NewClient(baseURL string) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.RetryWaitMin = 100 * time.Millisecond
	rc.RetryWaitMax = time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rc,
	}
}

// Classify запрашивает категорию для транзакции у внешнего сервиса.
func (c *Client) Classify(ctx context.Context, tx model.Transaction) (string, error) {
	if c == nil || c.baseURL == "" {
		return "", fmt.Errorf("classifier client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(classifyRequest{
		Merchant:    tx.MerchantName,
		Description: tx.Description,
		Amount:      tx.TotalAmount.String(),
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/classify", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if result.Category == "" {
		return "", fmt.Errorf("empty category in response")
	}

	return result.Category, nil
}
