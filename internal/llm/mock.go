package llm

import (
	"context"
	"encoding/json"
	"sync"
)

// MockResponse is a canned response for the MockProvider.
type MockResponse struct {
	Content json.RawMessage
	Usage   Usage
	Err     error
}

// MockProvider is a deterministic Provider for tests and offline runs.
// Canned responses are served in FIFO order. Once they run out it
// either fails with ErrProviderUnavailable or, in offline mode, answers
// with a stand-in document built from the request schema.
type MockProvider struct {
	mu        sync.Mutex
	responses []MockResponse
	offline   bool
	Calls     []Request
}

// NewMockProvider creates a MockProvider with the given canned responses.
func NewMockProvider(responses ...MockResponse) *MockProvider {
	return &MockProvider{responses: responses}
}

// NewOfflineProvider creates a MockProvider that never runs dry, for
// running the service without a model API key.
func NewOfflineProvider() *MockProvider {
	return &MockProvider{offline: true}
}

func (m *MockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var next MockResponse
	switch {
	case len(m.responses) > 0:
		next = m.responses[0]
		m.responses = m.responses[1:]
	case m.offline:
		next = MockResponse{Content: standIn(req.Schema)}
	default:
		return nil, &ErrProviderUnavailable{}
	}
	if next.Err != nil {
		return nil, next.Err
	}

	return &Response{
		Content:    next.Content,
		Usage:      next.Usage,
		Model:      "mock",
		StopReason: "end",
	}, nil
}

// ModelID returns "mock".
func (m *MockProvider) ModelID() string {
	return "mock"
}

// AddResponse appends a canned response to the queue.
func (m *MockProvider) AddResponse(resp MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
}

// CallCount returns the number of Generate calls made.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent request, or false if none was made.
func (m *MockProvider) LastCall() (Request, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return Request{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// standIn returns the smallest document that satisfies schema: required
// properties only, empty arrays, and the first enum value where one is
// listed.
func standIn(schema *Schema) json.RawMessage {
	if schema == nil {
		return json.RawMessage(`{}`)
	}
	raw, err := json.Marshal(standInValue(schema.Definition))
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func standInValue(def map[string]any) any {
	if enum, ok := def["enum"].([]any); ok && len(enum) > 0 {
		return enum[0]
	}

	switch def["type"] {
	case "object":
		props, _ := def["properties"].(map[string]any)
		out := map[string]any{}
		for _, name := range requiredNames(def["required"]) {
			sub, _ := props[name].(map[string]any)
			out[name] = standInValue(sub)
		}
		return out
	case "array":
		return []any{}
	case "number", "integer":
		if lo, ok := def["minimum"]; ok {
			return lo
		}
		return 50
	case "boolean":
		return false
	default:
		return "offline mode: no model configured"
	}
}

func requiredNames(v any) []string {
	switch r := v.(type) {
	case []string:
		return r
	case []any:
		names := make([]string, 0, len(r))
		for _, n := range r {
			if s, ok := n.(string); ok {
				names = append(names, s)
			}
		}
		return names
	}
	return nil
}
