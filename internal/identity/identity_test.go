package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	d := NewMemoryDirectory(
		User{ID: "u2", Status: StatusActive},
		User{ID: "u1", Status: StatusSuspended, Department: "ops"},
	)

	u, err := d.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.Active() {
		t.Fatalf("suspended user must not be active")
	}
	if _, err := d.GetUser(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := d.SetStatus("u1", StatusActive); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	users, _ := d.ListUsers(ctx)
	if len(users) != 2 || users[0].ID != "u1" || !users[0].Active() {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func TestUserBag(t *testing.T) {
	u := User{ID: "u1", Status: StatusActive, Department: "finance", Attributes: map[string]any{"level": 3}}
	bag := u.Bag()
	if bag["department"] != "finance" || bag["status"] != "active" {
		t.Fatalf("unexpected bag: %v", bag)
	}
	attrs := bag["attributes"].(map[string]any)
	attrs["level"] = 9
	if u.Attributes["level"] != 3 {
		t.Fatalf("bag must not alias user attributes")
	}
}

func TestHTTPDirectory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer svc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/users":
			_, _ = w.Write([]byte(`[{"id":"u1","status":"active"},{"id":"u2","status":"inactive","metadata":{"department":"leasing"}}]`))
		case "/users/u3":
			_, _ = w.Write([]byte(`{"id":"u3","status":"active","department":"old","metadata":{"department":"leasing"}}`))
		case "/users/u1":
			_ = json.NewEncoder(w).Encode(User{ID: "u1", Status: StatusActive, Department: "ops"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	d := NewHTTPDirectory(srv.URL+"/", WithHeader("Authorization", "Bearer svc"))

	u, err := d.GetUser(ctx, "u1")
	if err != nil || u.Department != "ops" {
		t.Fatalf("GetUser = %+v, %v", u, err)
	}
	if _, err := d.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	u, err = d.GetUser(ctx, "u3")
	if err != nil || u.Department != "leasing" {
		t.Fatalf("metadata department not read: %+v, %v", u, err)
	}
	users, err := d.ListUsers(ctx)
	if err != nil || len(users) != 2 || users[1].Department != "leasing" {
		t.Fatalf("ListUsers = %+v, %v", users, err)
	}

	unauth := NewHTTPDirectory(srv.URL)
	if _, err := unauth.GetUser(ctx, "u1"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected transport error, got %v", err)
	}
}
