/**
 * @description
 * This package provides a client for interacting with the PayOS payment gateway.
 * It encapsulates the logic for making authenticated HTTP requests to PayOS's
 * endpoints, handling request body construction, and parsing responses.
 *
 * The client is used for one thing only: creating hosted checkout links for
 * pending payments. Payment outcomes arrive through the gateway webhook, not
 * through this client.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package payos

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the PayOS API.
type Client struct {
	BaseURL    string
	ClientID   string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new PayOS API client.
func NewClient(baseURL, clientID, apiKey string) *Client {
	return &Client{
		BaseURL:  baseURL,
		ClientID: clientID,
		APIKey:   apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreateLinkRequest represents the payload for creating a PayOS checkout link.
type CreateLinkRequest struct {
	OrderCode   int64  `json:"orderCode"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
	BuyerName   string `json:"buyerName,omitempty"`
	BuyerEmail  string `json:"buyerEmail,omitempty"`
	BuyerPhone  string `json:"buyerPhone,omitempty"`
	ReturnURL   string `json:"returnUrl"`
	CancelURL   string `json:"cancelUrl"`
}

// CreateLinkResponse is the expected response from the payment-requests endpoint.
// PayOS wraps failures in a 200 with a non-"00" code, so Code must be checked
// even on a 2xx status.
type CreateLinkResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		OrderCode     int64  `json:"orderCode"`
		Amount        int64  `json:"amount"`
		Status        string `json:"status"`
		CheckoutURL   string `json:"checkoutUrl"`
		PaymentLinkID string `json:"paymentLinkId"`
	} `json:"data"`
}

// ErrorResponse represents an error from the PayOS API.
type ErrorResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("payos api error: %s - %s", e.Code, e.Desc)
}

// CreatePaymentLink asks PayOS for a hosted checkout link for the given order.
func (c *Client) CreatePaymentLink(ctx context.Context, payload CreateLinkRequest) (*CreateLinkResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment link request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v2/payment-requests", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create payment link request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute payment link request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment link response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=payos_client op=create_link status=%d msg=\"non-2xx response (unparsable error body)\"", resp.StatusCode)
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=payos_client op=create_link status=%d code=%q desc=%q", resp.StatusCode, errResp.Code, errResp.Desc)
		return nil, &errResp
	}

	var successResp CreateLinkResponse
	if err := json.Unmarshal(bodyBytes, &successResp); err != nil {
		return nil, fmt.Errorf("failed to decode payment link response: %w", err)
	}
	if successResp.Code != "00" {
		log.Printf("level=warn component=payos_client op=create_link code=%q desc=%q msg=\"gateway declined link creation\"", successResp.Code, successResp.Desc)
		return nil, &ErrorResponse{Code: successResp.Code, Desc: successResp.Desc}
	}
	if successResp.Data.CheckoutURL == "" {
		return nil, fmt.Errorf("payos response missing checkout url for order %d", payload.OrderCode)
	}

	return &successResp, nil
}

// LinkInfoResponse is the expected response when querying a payment link.
type LinkInfoResponse struct {
	Code string `json:"code"`
	Desc string `json:"desc"`
	Data struct {
		OrderCode  int64  `json:"orderCode"`
		Amount     int64  `json:"amount"`
		AmountPaid int64  `json:"amountPaid"`
		Status     string `json:"status"`
	} `json:"data"`
}

// GetPaymentLinkInfo fetches the current state of a payment link. Used by the
// reconciliation endpoint when an operator suspects a missed webhook.
func (c *Client) GetPaymentLinkInfo(ctx context.Context, orderCode int64) (*LinkInfoResponse, error) {
	url := fmt.Sprintf("%s/v2/payment-requests/%d", c.BaseURL, orderCode)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create link info request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-client-id", c.ClientID)
	req.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute link info request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read link info response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			return nil, fmt.Errorf("failed to decode error response (status %d)", resp.StatusCode)
		}
		return nil, &errResp
	}

	var infoResp LinkInfoResponse
	if err := json.Unmarshal(bodyBytes, &infoResp); err != nil {
		return nil, fmt.Errorf("failed to decode link info response: %w", err)
	}
	if infoResp.Code != "00" {
		return nil, &ErrorResponse{Code: infoResp.Code, Desc: infoResp.Desc}
	}

	return &infoResp, nil
}
