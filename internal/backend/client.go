package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/CivicSim/CS-Gateway/internal/civic"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the local development backend.
	DefaultBaseURL = "http://localhost:8700"

	// requestsPerSecond caps outbound traffic. Poll loops run at 1.5s per
	// session, so 10/s leaves plenty of headroom for a handful of sessions
	// without letting a bug hammer the AI service.
	requestsPerSecond = 10
)

// Client is the HTTP client for the simulation backend.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a backend client for the given base URL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond),
	}
}

// doJSON performs one request with the shared error handling: 502 becomes
// ServiceUnavailableError, other non-2xx become APIError with structured
// kind, 2xx bodies decode into out when out is non-nil.
func (c *Client) doJSON(ctx context.Context, method, path string, body, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	logRequest(method, path)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logError(method+" "+path, err)
		return fmt.Errorf("backend request: %w", err)
	}
	defer resp.Body.Close()

	logResponse(path, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusBadGateway {
		detail := decodeDetail(resp.Body)
		return &ServiceUnavailableError{Detail: detail.Detail}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := decodeDetail(resp.Body)
		return &APIError{
			Status: resp.StatusCode,
			Kind:   ClassifyKind(detail.Kind, detail.Detail),
			Detail: detail.Detail,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

type errorPayload struct {
	Detail string `json:"detail"`
	Kind   string `json:"error_kind"`
}

func decodeDetail(r io.Reader) errorPayload {
	var p errorPayload
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return errorPayload{}
	}
	return p
}

// ListScenarios returns all scenarios known to the backend.
func (c *Client) ListScenarios(ctx context.Context) ([]ScenarioInfo, error) {
	var out []ScenarioInfo
	if err := c.doJSON(ctx, http.MethodGet, "/v1/scenarios", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetScenario fetches one scenario by id.
func (c *Client) GetScenario(ctx context.Context, id string) (*ScenarioInfo, error) {
	var out ScenarioInfo
	if err := c.doJSON(ctx, http.MethodGet, "/v1/scenario/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SeedKingston creates the Kingston scenario on the backend. A 409 means it
// already exists; in that case the existing scenario is looked up by name
// and returned as if freshly seeded.
func (c *Client) SeedKingston(ctx context.Context) (*ScenarioInfo, error) {
	var out ScenarioInfo
	err := c.doJSON(ctx, http.MethodPost, "/v1/scenario/seed-kingston", nil, &out)
	if err == nil {
		return &out, nil
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusConflict {
		return nil, err
	}

	scenarios, err := c.ListScenarios(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed conflict lookup: %w", err)
	}
	for _, s := range scenarios {
		if s.Name == "Kingston" || s.ID == "kingston" {
			return &s, nil
		}
	}
	return nil, fmt.Errorf("scenario exists but not found by name")
}

// Simulate runs the synchronous deterministic simulation.
func (c *Client) Simulate(ctx context.Context, req SimulateRequest) (*SimulateResult, error) {
	var out SimulateResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/simulate", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Chat runs the synchronous full agent-reaction simulation.
func (c *Client) Chat(ctx context.Context, req AIRequest) (*AIResult, error) {
	var out AIResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/chat", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateSimulationJob starts a progressive simulation and returns its job id.
func (c *Client) CreateSimulationJob(ctx context.Context, req AIRequest) (string, error) {
	var out JobCreated
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/simulate", req, &out); err != nil {
		return "", err
	}
	if out.JobID == "" {
		return "", fmt.Errorf("backend returned empty job id")
	}
	return out.JobID, nil
}

// GetSimulationJob polls a progressive simulation job.
func (c *Client) GetSimulationJob(ctx context.Context, jobID string) (*JobStatus, error) {
	var out JobStatus
	if err := c.doJSON(ctx, http.MethodGet, "/v1/ai/simulate/"+url.PathEscape(jobID), nil, &out); err != nil {
		return nil, err
	}
	if out.JobID == "" {
		out.JobID = jobID
	}
	return &out, nil
}

// DirectMessage sends an agent-to-agent DM.
func (c *Client) DirectMessage(ctx context.Context, req DMRequest) (*DMResult, error) {
	var out DMResult
	if err := c.doJSON(ctx, http.MethodPost, "/v1/ai/dm", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Relationships fetches the relationship graph for a session.
func (c *Client) Relationships(ctx context.Context, sessionID string) ([]civic.RelationshipEdge, error) {
	var out struct {
		Edges []civic.RelationshipEdge `json:"edges"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/ai/relationships/"+url.PathEscape(sessionID), nil, &out); err != nil {
		return nil, err
	}
	return out.Edges, nil
}

// Adopt persists an adopted policy event against the session's agent memory.
func (c *Client) Adopt(ctx context.Context, req AdoptRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/ai/adopt", req, nil)
}

// AgentOverrides returns all per-agent overrides of a scenario.
func (c *Client) AgentOverrides(ctx context.Context, scenarioID string) (map[string]AgentOverride, error) {
	var out map[string]AgentOverride
	path := "/v1/scenario/" + url.PathEscape(scenarioID) + "/agent-overrides"
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAgent fetches one agent's effective configuration.
func (c *Client) GetAgent(ctx context.Context, scenarioID, agentKey string) (*AgentOverride, error) {
	var out AgentOverride
	path := "/v1/scenario/" + url.PathEscape(scenarioID) + "/agents/" + url.PathEscape(agentKey)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PutAgent updates one agent's override.
func (c *Client) PutAgent(ctx context.Context, scenarioID string, ov AgentOverride) error {
	path := "/v1/scenario/" + url.PathEscape(scenarioID) + "/agents/" + url.PathEscape(ov.AgentKey)
	return c.doJSON(ctx, http.MethodPut, path, ov, nil)
}

// ResetAgent clears one agent's override.
func (c *Client) ResetAgent(ctx context.Context, scenarioID, agentKey string) error {
	path := "/v1/scenario/" + url.PathEscape(scenarioID) + "/agents/" + url.PathEscape(agentKey) + "/reset"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// ResetAllAgents clears every agent override of a scenario.
func (c *Client) ResetAllAgents(ctx context.Context, scenarioID string) error {
	path := "/v1/scenario/" + url.PathEscape(scenarioID) + "/agents/reset-all"
	return c.doJSON(ctx, http.MethodPost, path, nil, nil)
}

// CacheGet fetches a cached simulation result by key.
func (c *Client) CacheGet(ctx context.Context, key string) (*CacheEntry, error) {
	var out CacheEntry
	if err := c.doJSON(ctx, http.MethodGet, "/v1/cache/"+url.PathEscape(key), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CacheComputeKey asks the backend for the canonical cache key of a
// configuration.
func (c *Client) CacheComputeKey(ctx context.Context, req CacheKeyRequest) (string, error) {
	var out CacheKey
	if err := c.doJSON(ctx, http.MethodPost, "/v1/cache/compute-key", req, &out); err != nil {
		return "", err
	}
	return out.Key, nil
}

// CachePromote marks a cache entry as the canonical result for its key.
func (c *Client) CachePromote(ctx context.Context, key string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/cache/promote", CacheKey{Key: key}, nil)
}

// CacheInvalidate drops a cache entry.
func (c *Client) CacheInvalidate(ctx context.Context, key string) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/cache/invalidate", CacheKey{Key: key}, nil)
}
