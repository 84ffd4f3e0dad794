package outreach

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/samijaber1/storepulse/internal/domain"
)

// CallRequest is everything a dialer needs to place one outbound call.
type CallRequest struct {
	RequestID      string `json:"requestId"`
	StoreID        string `json:"storeId"`
	RecipientName  string `json:"recipientName"`
	RecipientPhone string `json:"recipientPhone"`
	Script         string `json:"script"`
	CallbackURL    string `json:"callbackUrl,omitempty"`
}

// CallResult is the provider's synchronous answer to a dial attempt. The
// terminal status and any transcript arrive later via webhook.
type CallResult struct {
	ExternalCallID string            `json:"callId"`
	Status         domain.CallStatus `json:"status"`
}

// CallDialer places outbound voice calls.
type CallDialer interface {
	InitiateCall(ctx context.Context, req CallRequest) (CallResult, error)
}

// HTTPConfig holds voice provider client configuration.
type HTTPConfig struct {
	URL            string
	APIKey         string
	Timeout        time.Duration
	MaxConcurrency int64
}

// DefaultHTTPConfig returns default configuration for a provider URL.
func DefaultHTTPConfig(providerURL string) HTTPConfig {
	return HTTPConfig{
		URL:            providerURL,
		Timeout:        15 * time.Second,
		MaxConcurrency: 4,
	}
}

// HTTPDialer talks to an external voice call provider over HTTP.
type HTTPDialer struct {
	config HTTPConfig
	client *http.Client
	sem    *semaphore.Weighted
}

// NewHTTPDialer creates a dialer for the configured provider.
func NewHTTPDialer(config HTTPConfig) *HTTPDialer {
	return &HTTPDialer{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		sem: semaphore.NewWeighted(config.MaxConcurrency),
	}
}

// InitiateCall posts the call request to the provider. Each invocation
// is a single attempt: retry policy belongs to the caller, which records
// every attempt. A fresh RequestID is minted when the caller left it
// empty so the provider can dedupe replays of the same request.
func (d *HTTPDialer) InitiateCall(ctx context.Context, req CallRequest) (CallResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return CallResult{}, fmt.Errorf("semaphore acquire: %w", err)
	}
	defer d.sem.Release(1)

	return d.post(ctx, req)
}

func (d *HTTPDialer) post(ctx context.Context, req CallRequest) (CallResult, error) {
	callURL := fmt.Sprintf("%s/v1/calls", strings.TrimSuffix(d.config.URL, "/"))

	payload, err := json.Marshal(req)
	if err != nil {
		return CallResult{}, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", callURL, bytes.NewReader(payload))
	if err != nil {
		return CallResult{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if d.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.config.APIKey)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return CallResult{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return CallResult{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return CallResult{}, fmt.Errorf("http status %d: %s", resp.StatusCode, string(body))
	}

	var result CallResult
	if err := json.Unmarshal(body, &result); err != nil {
		return CallResult{}, fmt.Errorf("parse response: %w", err)
	}
	if result.ExternalCallID == "" {
		return CallResult{}, fmt.Errorf("provider returned no call id")
	}
	if result.Status == "" {
		result.Status = domain.CallInProgress
	}
	return result, nil
}

// LogDialer logs call requests instead of placing them. It stands in for
// the provider in development and in fleets run without voice outreach.
type LogDialer struct {
	// Status is reported for every call. Defaults to completed.
	Status domain.CallStatus
}

// NewLogDialer creates a dialer that records calls to the process log.
func NewLogDialer() *LogDialer {
	return &LogDialer{Status: domain.CallCompleted}
}

// InitiateCall logs the request and reports the configured status.
func (d *LogDialer) InitiateCall(_ context.Context, req CallRequest) (CallResult, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	log.Printf("outreach: would call %s (%s) for store %s: %.80s...",
		req.RecipientName, req.RecipientPhone, req.StoreID, req.Script)

	status := d.Status
	if status == "" {
		status = domain.CallCompleted
	}
	return CallResult{ExternalCallID: "log-" + req.RequestID, Status: status}, nil
}
