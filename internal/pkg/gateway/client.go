// Package gateway is the HTTP client for the external payment gateway's
// refund endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwork/booking-ledger/internal/pkg/errorhandler"
)

const defaultTimeout = 10 * time.Second

var (
	ErrTimeout     = errors.New("gateway timeout")
	ErrUnavailable = errors.New("gateway unavailable")
	ErrRejected    = errors.New("gateway rejected request")
)

// Client represents the payment gateway HTTP client.
type Client struct {
	baseURL string
	token   string
	ua      string
	http    *http.Client
}

// RefundRequest asks the gateway to return money on a captured payment.
type RefundRequest struct {
	RefundID      string
	TransactionID string
	CorrelationID string
	Amount        decimal.Decimal
}

type refundPayload struct {
	RefundID      string `json:"refundId"`
	TransactionID string `json:"transactionId"`
	CorrelationID string `json:"correlationId"`
	Amount        string `json:"amount"`
}

// RefundResult is the gateway's verdict. Raw keeps the body for archiving.
type RefundResult struct {
	Approved bool   `json:"approved"`
	TrnID    string `json:"trnId"`
	Message  string `json:"message,omitempty"`
	Raw      []byte `json:"-"`
}

// NewClient creates a new gateway client.
func NewClient(baseURL, token string, timeout time.Duration, ua string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ua:      ua,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// Refund posts a refund. A decline is a successful call with Approved=false;
// errors are reserved for transport failures and non-2xx answers.
func (c *Client) Refund(ctx context.Context, r RefundRequest) (*RefundResult, error) {
	if c == nil || c.http == nil {
		return nil, fmt.Errorf("gateway request error: client is nil")
	}
	if strings.TrimSpace(c.baseURL) == "" {
		return nil, fmt.Errorf("gateway config error: base_url is empty")
	}

	payload, err := json.Marshal(refundPayload{
		RefundID:      r.RefundID,
		TransactionID: r.TransactionID,
		CorrelationID: r.CorrelationID,
		Amount:        r.Amount.StringFixed(2),
	})
	if err != nil {
		return nil, fmt.Errorf("gateway request error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/refunds", bytes.NewBuffer(payload))
	if err != nil {
		return nil, fmt.Errorf("gateway request error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", r.RefundID)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classifyRequestError(ctx, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		errorhandler.LogExternalServiceError(ctx, "gateway", "/v1/refunds", resp.StatusCode, statusError(resp.StatusCode), string(body))
		if readErr != nil {
			return nil, fmt.Errorf("%w: status=%d body=<failed to read body: %v>", statusError(resp.StatusCode), resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("%w: status=%d body=%s", statusError(resp.StatusCode), resp.StatusCode, string(body))
	}
	if readErr != nil {
		return nil, classifyRequestError(ctx, readErr)
	}

	var result RefundResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("gateway response error: %w", err)
	}
	result.Raw = body
	return &result, nil
}

func statusError(status int) error {
	if status >= http.StatusInternalServerError || status == http.StatusTooManyRequests {
		return ErrUnavailable
	}
	return ErrRejected
}

func classifyRequestError(ctx context.Context, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: network error: %w", ErrUnavailable, err)
	}
	return fmt.Errorf("gateway request error: %w", err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	return false
}
