// Package printerclient adapts the thermal-printer simulator's HTTP contract
// to the orchestrator's Printer port.
package printerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/orchestrator"
)

type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.With().Str("component", "printer_client").Logger(),
	}
}

type printRequest struct {
	SaleID      string `json:"sale_id"`
	ReceiptText string `json:"receipt_text"`
}

type printResponse struct {
	OK        bool   `json:"ok"`
	ReceiptID string `json:"receipt_id"`
}

func (c *Client) PrintReceipt(ctx context.Context, saleID, receiptText string) (*orchestrator.PrintResult, error) {
	body, err := json.Marshal(printRequest{SaleID: saleID, ReceiptText: receiptText})
	if err != nil {
		return nil, fmt.Errorf("marshal print request: %w", err)
	}
	return c.post(ctx, c.baseURL+"/print/receipt", body)
}

func (c *Client) Reprint(ctx context.Context, receiptID string) (*orchestrator.PrintResult, error) {
	return c.post(ctx, c.baseURL+"/print/reprint/"+receiptID, nil)
}

func (c *Client) post(ctx context.Context, url string, body []byte) (*orchestrator.PrintResult, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, reader)
	if err != nil {
		return nil, fmt.Errorf("build print request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("print request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("print request: printer returned status %d", resp.StatusCode)
	}

	var result printResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode printer response: %w", err)
	}
	return &orchestrator.PrintResult{OK: result.OK, ReceiptID: result.ReceiptID}, nil
}
