package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newServer(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api/v1/", ActorID: "admin-1"})
}

func TestCheckAccessSendsActorAndDecodesDecision(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/authz/check" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get(ActorHeader); got != "admin-1" {
			t.Errorf("actor header = %q", got)
		}
		var req CheckRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		_ = json.NewEncoder(w).Encode(Decision{Allowed: req.Action == "read", MatchedPermission: "properties:read", RiskScore: 5})
	})

	d, err := c.CheckAccess(context.Background(), CheckRequest{UserID: "u1", Resource: "properties", Action: "read"})
	if err != nil {
		t.Fatalf("CheckAccess: %v", err)
	}
	if !d.Allowed || d.MatchedPermission != "properties:read" {
		t.Fatalf("unexpected decision %+v", d)
	}
}

func TestErrorsCarryStatusAndMessage(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"rbac: validation failed"}`))
	})
	_, err := c.ListRoles(context.Background())
	if !IsStatus(err, http.StatusBadRequest) {
		t.Fatalf("expected a 400 APIError, got %v", err)
	}
	if err.(*APIError).Message != "rbac: validation failed" {
		t.Fatalf("message = %q", err.(*APIError).Message)
	}
}

func TestRemoveRoleReportsMissingAssignment(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("reason") != "offboarded" {
			t.Errorf("reason not sent: %s", r.URL.RawQuery)
		}
		if r.URL.Path == "/api/v1/users/u1/roles/admin" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"no active assignment"}`))
	})
	ok, err := c.RemoveRole(context.Background(), "u1", "admin", "offboarded")
	if err != nil || !ok {
		t.Fatalf("remove: %v %v", ok, err)
	}
	ok, err = c.RemoveRole(context.Background(), "u2", "admin", "offboarded")
	if err != nil || ok {
		t.Fatalf("remove missing: %v %v", ok, err)
	}
}

func TestApproveTreatsConflictAsUnchanged(t *testing.T) {
	c := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/access-requests/r1/approve":
			_ = json.NewEncoder(w).Encode(transitionResponse{Changed: true, Request: AccessRequest{ID: "r1", Status: "approved"}})
		case "/api/v1/access-requests/r2/approve":
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(transitionResponse{Request: AccessRequest{ID: "r2", Status: "rejected"}})
		default:
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"error":"governance: invalid state"}`))
		}
	})
	ctx := context.Background()

	r, changed, err := c.ApproveAccessRequest(ctx, "r1")
	if err != nil || !changed || r.Status != "approved" {
		t.Fatalf("approve r1: %+v %v %v", r, changed, err)
	}
	r, changed, err = c.ApproveAccessRequest(ctx, "r2")
	if err != nil || changed || r.Status != "rejected" {
		t.Fatalf("approve r2: %+v %v %v", r, changed, err)
	}
	if _, _, err := c.ApproveAccessRequest(ctx, "r3"); !IsStatus(err, http.StatusConflict) {
		t.Fatalf("approve r3: expected conflict error, got %v", err)
	}
}
