// Package client is a small Go SDK for the wardgate HTTP API.
package client

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

// ActorHeader carries the acting user on mutating calls.
const ActorHeader = "X-Actor-ID"

// Client is a client for the wardgate API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
	ActorID    string
}

// Config holds configuration for the client.
type Config struct {
	BaseURL string
	ActorID string
	Timeout time.Duration
}

// New creates a new Client. BaseURL should include the API prefix, for
// example http://localhost:8080/api/v1.
func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(cfg.BaseURL, "/"),
		ActorID: cfg.ActorID,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetActor sets the acting user for subsequent requests.
func (c *Client) SetActor(actorID string) {
	c.ActorID = actorID
}

// APIError is returned for any response with status >= 400.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == status
}

// doRequest performs a request and decodes the JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ActorID != "" {
		req.Header.Set(ActorHeader, c.ActorID)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return err
		}
	}
	return nil
}

// CheckRequest is one access check.
type CheckRequest struct {
	UserID       string         `json:"user_id"`
	Resource     string         `json:"resource"`
	Action       string         `json:"action"`
	ResourceData map[string]any `json:"resource_data,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	IPAddress    string         `json:"ip_address,omitempty"`
	UserAgent    string         `json:"user_agent,omitempty"`
}

// Decision is the result of an access check.
type Decision struct {
	Allowed           bool   `json:"allowed"`
	Reason            string `json:"reason,omitempty"`
	RequiresMFA       bool   `json:"requires_mfa"`
	RequiresApproval  bool   `json:"requires_approval"`
	MatchedPermission string `json:"matched_permission,omitempty"`
	RiskScore         int    `json:"risk_score"`
	AuditID           string `json:"audit_id,omitempty"`
}

// CheckAccess asks for an access decision. A denial is a Decision, not an error.
func (c *Client) CheckAccess(ctx context.Context, req CheckRequest) (Decision, error) {
	var d Decision
	err := c.doRequest(ctx, http.MethodPost, "/authz/check", req, &d)
	return d, err
}

// Role is the subset of a role the SDK exposes.
type Role struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type"`
	Hierarchy   int    `json:"hierarchy"`
	IsActive    bool   `json:"is_active"`
}

// ListRoles lists every role.
func (c *Client) ListRoles(ctx context.Context) ([]Role, error) {
	var res struct {
		Roles []Role `json:"roles"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/roles", nil, &res); err != nil {
		return nil, err
	}
	return res.Roles, nil
}

// UserRoles lists the role IDs the user currently holds.
func (c *Client) UserRoles(ctx context.Context, userID string) ([]string, error) {
	var res struct {
		Roles []string `json:"roles"`
	}
	if err := c.doRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(userID)+"/roles", nil, &res); err != nil {
		return nil, err
	}
	return res.Roles, nil
}

// AssignOptions tunes a role assignment.
type AssignOptions struct {
	Reason          string     `json:"reason,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	TemporaryAccess bool       `json:"temporary_access,omitempty"`
}

// Assignment is a granted role.
type Assignment struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	RoleID     string     `json:"role_id"`
	AssignedBy string     `json:"assigned_by"`
	AssignedAt time.Time  `json:"assigned_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	IsActive   bool       `json:"is_active"`
}

// AssignRole grants roleID to userID.
func (c *Client) AssignRole(ctx context.Context, userID, roleID string, opts AssignOptions) (Assignment, error) {
	var a Assignment
	path := "/users/" + url.PathEscape(userID) + "/roles/" + url.PathEscape(roleID)
	err := c.doRequest(ctx, http.MethodPost, path, opts, &a)
	return a, err
}

// RemoveRole ends the active assignment. It reports false when there was none.
func (c *Client) RemoveRole(ctx context.Context, userID, roleID, reason string) (bool, error) {
	path := "/users/" + url.PathEscape(userID) + "/roles/" + url.PathEscape(roleID)
	if reason != "" {
		path += "?reason=" + url.QueryEscape(reason)
	}
	err := c.doRequest(ctx, http.MethodDelete, path, nil, nil)
	if IsStatus(err, http.StatusNotFound) {
		return false, nil
	}
	return err == nil, err
}

// AccessRequestInput opens an access request.
type AccessRequestInput struct {
	UserID               string   `json:"user_id"`
	RequestedPermissions []string `json:"requested_permissions,omitempty"`
	RequestedRoles       []string `json:"requested_roles,omitempty"`
	Reason               string   `json:"reason"`
	Justification        string   `json:"justification,omitempty"`
	Urgency              string   `json:"urgency,omitempty"`
	TemporaryAccess      bool     `json:"temporary_access,omitempty"`
	AccessDurationDays   int      `json:"access_duration_days,omitempty"`
}

// AccessRequest is an access request as stored.
type AccessRequest struct {
	ID                   string     `json:"id"`
	UserID               string     `json:"user_id"`
	RequestedBy          string     `json:"requested_by"`
	RequestedPermissions []string   `json:"requested_permissions"`
	RequestedRoles       []string   `json:"requested_roles"`
	Reason               string     `json:"reason"`
	Status               string     `json:"status"`
	ApprovedBy           string     `json:"approved_by,omitempty"`
	RejectedBy           string     `json:"rejected_by,omitempty"`
	RejectionReason      string     `json:"rejection_reason,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	ApprovedAt           *time.Time `json:"approved_at,omitempty"`
	RejectedAt           *time.Time `json:"rejected_at,omitempty"`
}

// CreateAccessRequest opens a pending access request.
func (c *Client) CreateAccessRequest(ctx context.Context, in AccessRequestInput) (AccessRequest, error) {
	var r AccessRequest
	err := c.doRequest(ctx, http.MethodPost, "/access-requests", in, &r)
	return r, err
}

// ListAccessRequests lists requests, optionally filtered by status.
func (c *Client) ListAccessRequests(ctx context.Context, status string) ([]AccessRequest, error) {
	path := "/access-requests"
	if status != "" {
		path += "?status=" + url.QueryEscape(status)
	}
	var res struct {
		Requests []AccessRequest `json:"requests"`
	}
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &res); err != nil {
		return nil, err
	}
	return res.Requests, nil
}

// ApproveAccessRequest approves a pending request. changed is false when the
// request had already been decided.
func (c *Client) ApproveAccessRequest(ctx context.Context, id string) (AccessRequest, bool, error) {
	return c.transition(ctx, "/access-requests/"+url.PathEscape(id)+"/approve", nil)
}

// RejectAccessRequest rejects a pending request.
func (c *Client) RejectAccessRequest(ctx context.Context, id, reason string) (AccessRequest, bool, error) {
	return c.transition(ctx, "/access-requests/"+url.PathEscape(id)+"/reject", map[string]string{"reason": reason})
}

type transitionResponse struct {
	Changed bool          `json:"changed"`
	Request AccessRequest `json:"request"`
}

// transition treats 409 with a decoded request as an unchanged result.
func (c *Client) transition(ctx context.Context, path string, body interface{}) (AccessRequest, bool, error) {
	var res transitionResponse
	err := c.doRequest(ctx, http.MethodPost, path, body, &res)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict {
		var conflict transitionResponse
		if json.Unmarshal([]byte(apiErr.Message), &conflict) == nil && conflict.Request.ID != "" {
			return conflict.Request, false, nil
		}
	}
	if err != nil {
		return AccessRequest{}, false, err
	}
	return res.Request, res.Changed, nil
}

// SecurityReport is the aggregated posture report.
type SecurityReport struct {
	GeneratedAt        time.Time `json:"generated_at"`
	TotalUsers         int       `json:"total_users"`
	ActiveUsers        int       `json:"active_users"`
	TotalRoles         int       `json:"total_roles"`
	ActiveAssignments  int       `json:"active_assignments"`
	PendingRequests    int       `json:"pending_requests"`
	FailedActions      int       `json:"failed_actions"`
	SuspiciousActivity int       `json:"suspicious_activity"`
	FailedLogins       int       `json:"failed_logins"`
	PrivilegedUsers    int       `json:"privileged_users"`
	PrivilegedRatio    float64   `json:"privileged_ratio"`
	RiskLevel          string    `json:"risk_level"`
	Recommendations    []string  `json:"recommendations"`
}

// SecurityReport fetches a freshly generated report.
func (c *Client) SecurityReport(ctx context.Context) (SecurityReport, error) {
	var r SecurityReport
	err := c.doRequest(ctx, http.MethodGet, "/reports/security", nil, &r)
	return r, err
}
