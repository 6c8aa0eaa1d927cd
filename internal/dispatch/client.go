// Package dispatch delivers flushed chunk batches to the capture endpoint.
package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	json "github.com/goccy/go-json"

	"github.com/thebtf/recall/pkg/models"
)

// TransientError marks a delivery failure worth retrying: network trouble
// or a 5xx from the endpoint. The accumulator requeues on these.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient dispatch failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err warrants requeueing the batch.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Client posts chunk batches to the capture endpoint.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a dispatch client for the given capture URL.
func NewClient(endpoint string) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Send delivers one batch. Network errors and 5xx responses come back as
// TransientError; any other non-2xx status is permanent and the caller
// should drop the batch rather than retry it forever.
func (c *Client) Send(ctx context.Context, chunks []models.Chunk) (*models.CaptureResponse, error) {
	body, err := json.Marshal(models.CaptureBatch{Chunks: chunks})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, &TransientError{Err: fmt.Errorf("capture endpoint returned %d", resp.StatusCode)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("capture endpoint rejected batch: status %d", resp.StatusCode)
	}

	var out models.CaptureResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &TransientError{Err: fmt.Errorf("decode response: %w", err)}
	}
	return &out, nil
}
