// Package tefclient adapts the TEF terminal simulator's HTTP contract to the
// orchestrator's PaymentProvider port.
package tefclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/totempos/kiosk/internal/domain/sale"
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
		logger:  logger.With().Str("component", "tef_client").Logger(),
	}
}

type chargeRequest struct {
	SaleID      string       `json:"sale_id"`
	AmountCents int64        `json:"amount_cents"`
	OrderRef    string       `json:"order_ref"`
	Items       []chargeItem `json:"items,omitempty"`
}

type chargeItem struct {
	SKU            string `json:"sku"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Quantity       int64  `json:"quantity"`
}

type chargeResponse struct {
	Status       string          `json:"status"`
	ApprovedData json.RawMessage `json:"approved_data,omitempty"`
	Error        string          `json:"error,omitempty"`
}

type approvedData struct {
	NSU       string `json:"nsu"`
	AuthCode  string `json:"auth_code"`
	Brand     string `json:"brand"`
	MaskedPAN string `json:"masked_pan"`
	Acquirer  string `json:"acquirer"`
}

// Charge sends the charge to the terminal. A 202 means the terminal accepted
// the charge for asynchronous processing.
func (c *Client) Charge(ctx context.Context, saleID string, amountCents int64, orderRef string, items []sale.CartItem) (*orchestrator.ChargeResult, error) {
	req := chargeRequest{
		SaleID:      saleID,
		AmountCents: amountCents,
		OrderRef:    orderRef,
	}
	for _, item := range items {
		req.Items = append(req.Items, chargeItem{
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Quantity:       item.Quantity,
		})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal charge request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tef/charge", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build charge request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("charge request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return nil, fmt.Errorf("charge request: terminal returned status %d", resp.StatusCode)
	}
	return c.decodeResult(resp)
}

// GetStatus polls the terminal for the charge outcome.
func (c *Client) GetStatus(ctx context.Context, saleID string) (*orchestrator.ChargeResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tef/status/"+saleID, nil)
	if err != nil {
		return nil, fmt.Errorf("build status request: %w", err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request: terminal returned status %d", resp.StatusCode)
	}
	return c.decodeResult(resp)
}

// decodeResult maps the raw provider JSON onto the tagged port result so
// provider payload shapes never leak past this adapter.
func (c *Client) decodeResult(resp *http.Response) (*orchestrator.ChargeResult, error) {
	var body chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode terminal response: %w", err)
	}

	result := &orchestrator.ChargeResult{ErrorMessage: body.Error}
	switch body.Status {
	case "IN_PROGRESS":
		result.Status = orchestrator.ChargeInProgress
	case "APPROVED":
		result.Status = orchestrator.ChargeApproved
	case "DECLINED":
		result.Status = orchestrator.ChargeDeclined
	default:
		result.Status = orchestrator.ChargeError
		if result.ErrorMessage == "" {
			result.ErrorMessage = fmt.Sprintf("unexpected terminal status %q", body.Status)
		}
	}

	if result.Status == orchestrator.ChargeApproved && len(body.ApprovedData) > 0 {
		var data approvedData
		if err := json.Unmarshal(body.ApprovedData, &data); err != nil {
			return nil, fmt.Errorf("decode approved data: %w", err)
		}
		raw := make(map[string]any)
		if err := json.Unmarshal(body.ApprovedData, &raw); err != nil {
			return nil, fmt.Errorf("decode approved data: %w", err)
		}
		result.Approved = &orchestrator.ApprovedData{
			NSU:       data.NSU,
			AuthCode:  data.AuthCode,
			Brand:     data.Brand,
			MaskedPAN: data.MaskedPAN,
			Acquirer:  data.Acquirer,
			Raw:       raw,
		}
	}
	return result, nil
}
