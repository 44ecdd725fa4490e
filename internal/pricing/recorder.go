package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/item-price-sync/internal/models"
)

const priceHistoryPath = "/api/v1/price-history"

// HTTPRecorder posts price history records to a remote ledger store
type HTTPRecorder struct {
	client *resty.Client
}

// NewHTTPRecorder creates a recorder for the ledger store at baseURL
func NewHTTPRecorder(baseURL string, timeout time.Duration) *HTTPRecorder {
	return &HTTPRecorder{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
	}
}

type priceHistoryPayload struct {
	ItemID    int64           `json:"item_id"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// RecordPrice posts the record and copies the stored id back onto it
func (r *HTTPRecorder) RecordPrice(ctx context.Context, record *models.PriceHistoryRecord) error {
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(priceHistoryPayload{
			ItemID:    record.ItemID,
			Price:     record.Price,
			Timestamp: record.RecordedAt,
		}).
		Post(priceHistoryPath)
	if err != nil {
		return fmt.Errorf("failed to post price history: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("ledger store returned status %d: %s", resp.StatusCode(), resp.String())
	}

	var stored models.PriceHistoryRecord
	if err := json.Unmarshal(resp.Body(), &stored); err != nil {
		return fmt.Errorf("failed to decode stored price history: %w", err)
	}
	record.ID = stored.ID
	return nil
}
