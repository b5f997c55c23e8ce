package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/opendict/lexicore/entry"
)

// Request is one structured-entry generation request. The service is a black
// box: no determinism is assumed, two calls with the same input may differ.
type Request struct {
	Headword       string       `json:"headword"`
	Kind           entry.Kind   `json:"kind"`
	Snippet        string       `json:"context_snippet,omitempty"`
	CorrectionNote string       `json:"correction_note,omitempty"`
	Prior          *entry.Entry `json:"prior_entry,omitempty"`
}

// Response carries the generated draft and the model that produced it.
type Response struct {
	Draft        *entry.Draft `json:"draft"`
	ModelVersion string       `json:"model_version"`
}

// Service is the external generation service interface. Implementations
// classify their failures as *Error so the Generator can pick retry policy.
type Service interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// HTTPService talks to a JSON-over-HTTP generation endpoint.
type HTTPService struct {
	endpoint string
	client   *http.Client
}

// NewHTTPService creates a service client for the given endpoint. If client
// is nil, http.DefaultClient is used; per-call timeouts come from the
// caller's context.
func NewHTTPService(endpoint string, client *http.Client) *HTTPService {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPService{endpoint: endpoint, client: client}
}

// Generate posts the request and decodes the draft. Failure classification:
// 429 is rate_limited (Retry-After honored), 5xx and transport errors are
// service_unavailable, an undecodable body is schema_invalid.
func (s *HTTPService) Generate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &Error{Kind: KindSchemaInvalid, Headword: req.Headword, cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindServiceUnavailable, Headword: req.Headword, cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: KindServiceUnavailable, Headword: req.Headword, cause: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{
			Kind:       KindRateLimited,
			Headword:   req.Headword,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return nil, &Error{
			Kind:     KindServiceUnavailable,
			Headword: req.Headword,
			cause:    fmt.Errorf("status %d", resp.StatusCode),
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &Error{
			Kind:     KindSchemaInvalid,
			Headword: req.Headword,
			cause:    fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: KindSchemaInvalid, Headword: req.Headword, cause: err}
	}
	if out.Draft == nil {
		return nil, &Error{Kind: KindSchemaInvalid, Headword: req.Headword, cause: fmt.Errorf("empty draft")}
	}
	return &out, nil
}

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
