// Package mcpclient is the typed client for the external project-generation
// backend, a plain HTTP+JSON RPC surface reached at MCP_SERVER_URL with one
// POST endpoint per operation. Every call carries a bounded timeout. The
// client never retries; callers decide whether a failed call is worth
// repeating.
package mcpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/conversation-orchestrator/pkg/orcherrors"
)

// DefaultTimeout is the per-call timeout used absent configuration.
const DefaultTimeout = 30 * time.Second

// ImpactAnalysis is the outcome of AnalyzeChangeImpact.
type ImpactAnalysis struct {
	AffectedComponents []string `json:"affectedComponents"`
	RiskLevel          string   `json:"riskLevel"`
	BreakingChanges    bool     `json:"breakingChanges"`
	RequiredUpdates    []string `json:"requiredUpdates"`
	Complexity         string   `json:"complexity"`
}

// StructureResult is the outcome of GenerateProjectStructure.
type StructureResult struct {
	ProjectID string         `json:"projectId"`
	Structure map[string]any `json:"structure"`
}

// ValidationResult is the outcome of ValidateConsistency.
type ValidationResult struct {
	Status string   `json:"status"`
	Issues []string `json:"issues"`
}

// Client is the HTTP+JSON MCP client. It does not retry; the caller
// (pkg/workflow) decides whether and how to retry a failed call.
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a Client against baseURL, defaulting timeout to DefaultTimeout
// when zero.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    timeout,
		logger:     slog.Default().With("component", "mcpclient"),
	}
}

// AnalyzeChangeImpact evaluates a proposed modification against the
// project's current state.
func (c *Client) AnalyzeChangeImpact(ctx context.Context, projectID, requestedChange string, currentState map[string]any) (ImpactAnalysis, error) {
	var out ImpactAnalysis
	err := c.call(ctx, "analyze-change-impact", map[string]any{
		"projectId":       projectID,
		"requestedChange": requestedChange,
		"currentState":    currentState,
	}, &out)
	return out, err
}

// GenerateProjectStructure creates a new project from requirements.
func (c *Client) GenerateProjectStructure(ctx context.Context, requirements map[string]any, projectType string) (StructureResult, error) {
	var out StructureResult
	err := c.call(ctx, "generate-project-structure", map[string]any{
		"requirements": requirements,
		"projectType":  projectType,
	}, &out)
	return out, err
}

// UpdateComponents applies updateType to the named components of projectID.
func (c *Client) UpdateComponents(ctx context.Context, projectID string, components []string, updateType string) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "update-components", map[string]any{
		"projectId":  projectID,
		"components": components,
		"updateType": updateType,
	}, &out)
	return out, err
}

// ValidateConsistency checks project consistency over scope ("full" or
// "modified").
func (c *Client) ValidateConsistency(ctx context.Context, projectID, scope string) (ValidationResult, error) {
	var out ValidationResult
	err := c.call(ctx, "validate-consistency", map[string]any{
		"projectId": projectID,
		"scope":     scope,
	}, &out)
	return out, err
}

// AnalyzeDomain is a single round-trip call.
func (c *Client) AnalyzeDomain(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "analyze-domain", map[string]any{
		"projectId":    projectID,
		"requirements": requirements,
	}, &out)
	return out, err
}

// GenerateBackend is a single round-trip call.
func (c *Client) GenerateBackend(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "generate-backend", map[string]any{
		"projectId":    projectID,
		"requirements": requirements,
	}, &out)
	return out, err
}

// GenerateFrontend is a single round-trip call.
func (c *Client) GenerateFrontend(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "generate-frontend", map[string]any{
		"projectId":    projectID,
		"requirements": requirements,
	}, &out)
	return out, err
}

// SetupInfrastructure is a single round-trip call.
func (c *Client) SetupInfrastructure(ctx context.Context, projectID string, requirements map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "setup-infrastructure", map[string]any{
		"projectId":    projectID,
		"requirements": requirements,
	}, &out)
	return out, err
}

// GetProjectStatus is a single round-trip call.
func (c *Client) GetProjectStatus(ctx context.Context, projectID string) (map[string]any, error) {
	var out map[string]any
	err := c.call(ctx, "get-project-status", map[string]any{
		"projectId": projectID,
	}, &out)
	return out, err
}

// call performs one POST /v1/{operation} round trip, mapping failures to
// orcherrors.KindMCPError (HTTP >= 400) or orcherrors.KindMCPUnreachable
// (transport/timeout failure).
func (c *Client) call(ctx context.Context, operation string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "marshal mcp request", err)
	}

	url := fmt.Sprintf("%s/v1/%s", c.baseURL, operation)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindInternal, "build mcp request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Warn("mcp call unreachable", "operation", operation, "error", err)
		return orcherrors.Wrap(orcherrors.KindMCPUnreachable, "mcp server unreachable: "+operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return orcherrors.Wrap(orcherrors.KindMCPUnreachable, "read mcp response: "+operation, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		c.logger.Warn("mcp call failed", "operation", operation, "status", resp.StatusCode)
		return orcherrors.Wrap(orcherrors.KindMCPError,
			fmt.Sprintf("mcp call %s failed with status %d: %s", operation, resp.StatusCode, string(respBody)),
			errors.New(http.StatusText(resp.StatusCode)))
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return orcherrors.Wrap(orcherrors.KindMCPError, "decode mcp response: "+operation, err)
	}
	return nil
}
