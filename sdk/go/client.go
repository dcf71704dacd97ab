package plcsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal PLC Gate HTTP API client. BaseURL includes the API
// base path, e.g. http://localhost:8000/api.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

type User struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type EvidenceLink struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Issue represents the API issue model (partial).
type Issue struct {
	ID               int64          `json:"id"`
	Key              string         `json:"key"`
	Type             string         `json:"type"`
	Summary          string         `json:"summary"`
	Description      string         `json:"description,omitempty"`
	Status           string         `json:"status"`
	PLCStage         string         `json:"plc_stage"`
	AssigneeID       *int64         `json:"assignee_id,omitempty"`
	Priority         string         `json:"priority"`
	RegulatoryImpact string         `json:"regulatory_impact"`
	EvidenceLinks    []EvidenceLink `json:"evidence_links"`
	UpdatedAt        string         `json:"updated_at"`
}

type MissingRequirement struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Transition is the result of a stage move. Blocked is set, with the unmet
// requirements, when the gate refused it.
type Transition struct {
	OK                  bool                 `json:"ok"`
	Blocked             bool                 `json:"blocked"`
	Message             string               `json:"message"`
	MissingRequirements []MissingRequirement `json:"missing_requirements"`
	From                string               `json:"from"`
	Issue               *Issue               `json:"issue"`
}

type Gate struct {
	IssueKey            string               `json:"issue_key"`
	CurrentStage        string               `json:"current_stage"`
	TargetStage         string               `json:"target_stage"`
	Allowed             bool                 `json:"allowed"`
	MissingRequirements []MissingRequirement `json:"missing_requirements"`
}

// Action keeps its args raw so a proposed plan can be sent back unchanged.
type Action struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

type ActionPlan struct {
	Intent               string               `json:"intent"`
	RequiresConfirmation bool                 `json:"requires_confirmation"`
	Actions              []Action             `json:"actions"`
	UserMessage          string               `json:"user_message"`
	MissingRequirements  []MissingRequirement `json:"missing_requirements"`
}

type Proposal struct {
	MessageID string     `json:"message_id"`
	Plan      ActionPlan `json:"action_plan"`
}

type ToolResult struct {
	Tool                string               `json:"tool"`
	OK                  bool                 `json:"ok"`
	Result              json.RawMessage      `json:"result,omitempty"`
	Error               string               `json:"error,omitempty"`
	Blocked             bool                 `json:"blocked,omitempty"`
	MissingRequirements []MissingRequirement `json:"missing_requirements,omitempty"`
}

// AuditEvent represents an audit log row.
type AuditEvent struct {
	ID          int64  `json:"id"`
	ActorUserID *int64 `json:"actor_user_id,omitempty"`
	ActionType  string `json:"action_type"`
	ObjectType  string `json:"object_type"`
	ObjectID    string `json:"object_id"`
	PayloadJSON string `json:"payload_json"`
	CreatedAt   string `json:"created_at"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given envelope code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (User, error) {
	var resp struct {
		AccessToken string `json:"access_token"`
		User        User   `json:"user"`
	}
	body := map[string]any{"email": email, "password": password}
	if err := c.do(ctx, http.MethodPost, "auth/login", body, &resp); err != nil {
		return User{}, err
	}
	c.BearerToken = resp.AccessToken
	return resp.User, nil
}

func (c *Client) Me(ctx context.Context) (User, error) {
	var resp User
	err := c.do(ctx, http.MethodGet, "me", nil, &resp)
	return resp, err
}

// IssueQuery filters ListIssues. Zero fields are not sent.
type IssueQuery struct {
	Stage  string
	Status string
	Type   string
	Text   string
	Limit  int
}

func (c *Client) ListIssues(ctx context.Context, projectKey string, q IssueQuery) ([]Issue, error) {
	params := url.Values{}
	for k, v := range map[string]string{"stage": q.Stage, "status": q.Status, "type": q.Type, "q": q.Text} {
		if v != "" {
			params.Set(k, v)
		}
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	endpoint := fmt.Sprintf("projects/%s/issues", url.PathEscape(projectKey))
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Issue
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// CreateIssue creates an issue; empty issueType takes the server default.
func (c *Client) CreateIssue(ctx context.Context, projectKey, summary, issueType string) (Issue, error) {
	body := map[string]any{"summary": summary}
	if issueType != "" {
		body["type"] = issueType
	}
	var resp Issue
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%s/issues", url.PathEscape(projectKey)), body, &resp)
	return resp, err
}

func (c *Client) GetIssue(ctx context.Context, key string) (Issue, error) {
	var resp Issue
	err := c.do(ctx, http.MethodGet, "issues/"+url.PathEscape(key), nil, &resp)
	return resp, err
}

// Transition asks the server to move an issue. A gate block is not an error.
func (c *Client) Transition(ctx context.Context, key, target, overrideReason string) (Transition, error) {
	body := map[string]any{"target_stage": target}
	if overrideReason != "" {
		body["override_reason"] = overrideReason
	}
	var resp Transition
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("issues/%s/transition", url.PathEscape(key)), body, &resp)
	return resp, err
}

func (c *Client) Gate(ctx context.Context, key, target string) (Gate, error) {
	endpoint := fmt.Sprintf("issues/%s/gate?target=%s", url.PathEscape(key), url.QueryEscape(target))
	var resp Gate
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Propose sends a copilot message. projectKey and issueKey may be empty.
func (c *Client) Propose(ctx context.Context, message, projectKey, issueKey string) (Proposal, error) {
	cc := map[string]string{}
	if projectKey != "" {
		cc["projectKey"] = projectKey
	}
	if issueKey != "" {
		cc["issueKey"] = issueKey
	}
	body := map[string]any{"message": message, "context": cc}
	var resp Proposal
	err := c.do(ctx, http.MethodPost, "copilot/message", body, &resp)
	return resp, err
}

func (c *Client) Execute(ctx context.Context, plan ActionPlan) ([]ToolResult, error) {
	var resp struct {
		Results []ToolResult `json:"results"`
	}
	err := c.do(ctx, http.MethodPost, "copilot/execute", map[string]any{"action_plan": plan}, &resp)
	return resp.Results, err
}

// IssueAudit returns the audit trail of an issue, newest first.
func (c *Client) IssueAudit(ctx context.Context, key string) ([]AuditEvent, error) {
	var resp []AuditEvent
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("issues/%s/audit", url.PathEscape(key)), nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
