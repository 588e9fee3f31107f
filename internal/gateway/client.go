// Package gateway provides the HTTP client for the external messaging
// provider. All outbound sends pass through a circuit breaker so a degraded
// provider cannot stall an entire scan cycle; a tripped breaker fails fast
// and the failure is recorded in the delivery ledger like any other.
//
// The client never retries a send. A failed send is an outcome, not a
// transient to be masked: the next natural occurrence of the schedule is
// the only remediation.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"

	"habitpulse/internal/delivery"
	"habitpulse/internal/types"
)

// sendRequest is the provider's wire format for an outbound message.
type sendRequest struct {
	To   string `json:"to"`
	From string `json:"from"`
	Body string `json:"body"`
}

// sendResponse is the provider's acknowledgment payload.
type sendResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

// Client is the production implementation of delivery.Gateway.
//
// Compile-time assertion that Client implements delivery.Gateway.
var _ delivery.Gateway = (*Client)(nil)

type Client struct {
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[*http.Response]
	baseURL string
	apiKey  types.SecretString
	sender  string
	logger  types.Logger
}

// ClientConfig holds the configuration for creating a gateway Client.
type ClientConfig struct {
	BaseURL    string
	APIKey     types.SecretString
	Sender     string
	HTTPClient *http.Client
	Logger     types.Logger
}

// NewClient creates a gateway Client. The circuit breaker opens after five
// consecutive failures and probes again after 30 seconds.
func NewClient(cfg ClientConfig) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = types.NewSlogLogger(nil)
	}

	cb := gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "messaging-gateway",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	return &Client{
		client:  httpClient,
		breaker: cb,
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		sender:  cfg.Sender,
		logger:  logger,
	}
}

// Send posts one message to the provider and returns its acknowledgment.
// 5xx and 429 responses count as breaker failures; any non-2xx response is
// mapped to a types.AppError with the matching upstream code.
func (c *Client) Send(ctx context.Context, toAddress, body string) (delivery.SendResult, error) {
	payload, err := json.Marshal(sendRequest{
		To:   toAddress,
		From: c.sender,
		Body: body,
	})
	if err != nil {
		return delivery.SendResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to encode send request",
			err,
		)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return delivery.SendResult{}, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to build send request",
			err,
		)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey.Unmask())

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, doErr := c.client.Do(req)
		if doErr != nil {
			return nil, doErr
		}
		// 5xx and 429 count as failures for the circuit breaker.
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, fmt.Errorf("gateway returned %d", r.StatusCode)
		}
		return r, nil
	})
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return delivery.SendResult{}, c.mapError(resp, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return delivery.SendResult{}, types.NewAppError(
			types.ErrCodeUpstreamGateway,
			fmt.Sprintf("gateway rejected message with %d: %s", resp.StatusCode, string(raw)),
			nil,
		)
	}

	var ack sendResponse
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return delivery.SendResult{}, types.NewAppError(
			types.ErrCodeUpstreamGateway,
			"failed to decode gateway acknowledgment",
			err,
		)
	}

	return delivery.SendResult{
		GatewayMessageID: ack.MessageID,
		Status:           ack.Status,
	}, nil
}

// mapError translates transport-level failures into domain AppErrors.
func (c *Client) mapError(resp *http.Response, err error) *types.AppError {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewAppError(
			types.ErrCodeUpstreamRateLimited,
			"circuit breaker is open; messaging gateway unavailable",
			err,
		)
	}

	if resp != nil {
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return types.NewAppError(
				types.ErrCodeUpstreamRateLimited,
				"messaging gateway rate limit exceeded",
				err,
			)
		case resp.StatusCode >= 500:
			return types.NewAppError(
				types.ErrCodeUpstreamGateway,
				fmt.Sprintf("messaging gateway returned %d", resp.StatusCode),
				err,
			)
		}
	}

	return types.NewAppError(
		types.ErrCodeUpstreamGateway,
		"messaging gateway request failed",
		err,
	)
}
