package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FailoverRequest asks the orchestrator to promote a pair's recovery
// environment. Requests are identified by ID for dedup and audit.
type FailoverRequest struct {
	ID          string    `json:"id"`
	Pair        string    `json:"pair"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
	TestMode    bool      `json:"testMode,omitempty"`
}

// NewFailoverRequest builds a request with a fresh ID and timestamp
func NewFailoverRequest(pair, reason string, testMode bool) FailoverRequest {
	return FailoverRequest{
		ID:          uuid.NewString(),
		Pair:        pair,
		Reason:      reason,
		RequestedAt: time.Now().UTC(),
		TestMode:    testMode,
	}
}

// Validate checks the request is complete enough to act on
func (r FailoverRequest) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("failover request missing id")
	}
	if r.Pair == "" {
		return fmt.Errorf("failover request %s missing pair", r.ID)
	}
	if r.Reason == "" {
		return fmt.Errorf("failover request %s missing reason", r.ID)
	}
	if r.RequestedAt.IsZero() {
		return fmt.Errorf("failover request %s missing requestedAt", r.ID)
	}
	return nil
}

// Decode parses a JSON failover request and validates it
func Decode(data []byte) (FailoverRequest, error) {
	var req FailoverRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return FailoverRequest{}, fmt.Errorf("malformed failover request: %w", err)
	}
	if err := req.Validate(); err != nil {
		return FailoverRequest{}, err
	}
	return req, nil
}

// Encode serializes a request for transport and storage
func (r FailoverRequest) Encode() ([]byte, error) {
	return json.Marshal(r)
}
