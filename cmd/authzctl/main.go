package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dhawalhost/wardgate/pkg/client"
)

const defaultBaseURL = "http://localhost:8080/api/v1"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "check":
		err = runCheck(os.Args[2:])
	case "roles":
		err = runRoles(os.Args[2:])
	case "assign":
		err = runAssign(os.Args[2:])
	case "revoke":
		err = runRevoke(os.Args[2:])
	case "request":
		err = runRequest(os.Args[2:])
	case "requests":
		err = runRequests(os.Args[2:])
	case "approve":
		err = runDecide(os.Args[2:], true)
	case "reject":
		err = runDecide(os.Args[2:], false)
	case "report":
		err = runReport(os.Args[2:])
	case "help", "-h", "--help":
		usage()
		return
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runCheck(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	c := addCommonFlags(fs)
	user := fs.String("user", "", "User identifier")
	resource := fs.String("resource", "", "Resource name")
	action := fs.String("action", "", "Action name")
	data := fs.String("data", "", "Resource data as a JSON object")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *resource == "" || *action == "" {
		return fmt.Errorf("user, resource and action are required")
	}

	req := client.CheckRequest{UserID: *user, Resource: *resource, Action: *action}
	if *data != "" {
		if err := json.Unmarshal([]byte(*data), &req.ResourceData); err != nil {
			return fmt.Errorf("invalid -data: %w", err)
		}
	}

	ctx, cancel := timeout()
	defer cancel()
	d, err := c().CheckAccess(ctx, req)
	if err != nil {
		return err
	}
	prettyPrint(d)
	if !d.Allowed {
		os.Exit(2)
	}
	return nil
}

func runRoles(args []string) error {
	fs := flag.NewFlagSet("roles", flag.ExitOnError)
	c := addCommonFlags(fs)
	user := fs.String("user", "", "List a user's roles instead of all roles")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := timeout()
	defer cancel()
	if *user != "" {
		roles, err := c().UserRoles(ctx, *user)
		if err != nil {
			return err
		}
		if len(roles) == 0 {
			fmt.Println("No roles for user", *user)
			return nil
		}
		fmt.Println(strings.Join(roles, "\n"))
		return nil
	}

	roles, err := c().ListRoles(ctx)
	if err != nil {
		return err
	}
	for _, r := range roles {
		state := "active"
		if !r.IsActive {
			state = "inactive"
		}
		fmt.Printf("- %s (%s) [%s, hierarchy %d, %s]\n", r.ID, r.Name, r.Type, r.Hierarchy, state)
	}
	return nil
}

func runAssign(args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	c := addCommonFlags(fs)
	user := fs.String("user", "", "User identifier")
	role := fs.String("role", "", "Role identifier")
	reason := fs.String("reason", "", "Why the role is granted")
	ttl := fs.Duration("ttl", 0, "Expire the assignment after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *role == "" {
		return fmt.Errorf("user and role are required")
	}

	opts := client.AssignOptions{Reason: *reason}
	if *ttl > 0 {
		exp := time.Now().Add(*ttl).UTC()
		opts.ExpiresAt = &exp
		opts.TemporaryAccess = true
	}

	ctx, cancel := timeout()
	defer cancel()
	a, err := c().AssignRole(ctx, *user, *role, opts)
	if err != nil {
		return err
	}
	fmt.Println("Role assigned:")
	prettyPrint(a)
	return nil
}

func runRevoke(args []string) error {
	fs := flag.NewFlagSet("revoke", flag.ExitOnError)
	c := addCommonFlags(fs)
	user := fs.String("user", "", "User identifier")
	role := fs.String("role", "", "Role identifier")
	reason := fs.String("reason", "", "Why the role is removed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *role == "" {
		return fmt.Errorf("user and role are required")
	}

	ctx, cancel := timeout()
	defer cancel()
	removed, err := c().RemoveRole(ctx, *user, *role, *reason)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Println("No active assignment")
		return nil
	}
	fmt.Println("Role removed")
	return nil
}

func runRequest(args []string) error {
	fs := flag.NewFlagSet("request", flag.ExitOnError)
	c := addCommonFlags(fs)
	user := fs.String("user", "", "User the access is for")
	roles := fs.String("roles", "", "Comma-separated role identifiers")
	perms := fs.String("permissions", "", "Comma-separated permission identifiers")
	reason := fs.String("reason", "", "Why access is needed")
	urgency := fs.String("urgency", "", "low, medium, high or critical")
	days := fs.Int("days", 0, "Grant temporary access for this many days")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" || *reason == "" {
		return fmt.Errorf("user and reason are required")
	}

	in := client.AccessRequestInput{
		UserID:               *user,
		RequestedRoles:       splitAndClean(*roles),
		RequestedPermissions: splitAndClean(*perms),
		Reason:               *reason,
		Urgency:              *urgency,
	}
	if *days > 0 {
		in.TemporaryAccess = true
		in.AccessDurationDays = *days
	}

	ctx, cancel := timeout()
	defer cancel()
	r, err := c().CreateAccessRequest(ctx, in)
	if err != nil {
		return err
	}
	fmt.Println("Access request created:")
	prettyPrint(r)
	return nil
}

func runRequests(args []string) error {
	fs := flag.NewFlagSet("requests", flag.ExitOnError)
	c := addCommonFlags(fs)
	status := fs.String("status", "pending", "Filter by status; empty lists all")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := timeout()
	defer cancel()
	requests, err := c().ListAccessRequests(ctx, *status)
	if err != nil {
		return err
	}
	if len(requests) == 0 {
		fmt.Println("No access requests")
		return nil
	}
	for _, r := range requests {
		fmt.Printf("- %s user=%s roles=%s [%s]\n", r.ID, r.UserID, strings.Join(r.RequestedRoles, ","), r.Status)
		fmt.Printf("  Reason: %s\n", r.Reason)
	}
	return nil
}

func runDecide(args []string, approve bool) error {
	name := "reject"
	if approve {
		name = "approve"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	c := addCommonFlags(fs)
	id := fs.String("id", "", "Access request identifier")
	reason := fs.String("reason", "", "Rejection reason")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == "" {
		return fmt.Errorf("id is required")
	}

	ctx, cancel := timeout()
	defer cancel()
	var (
		r       client.AccessRequest
		changed bool
		err     error
	)
	if approve {
		r, changed, err = c().ApproveAccessRequest(ctx, *id)
	} else {
		r, changed, err = c().RejectAccessRequest(ctx, *id, *reason)
	}
	if err != nil {
		return err
	}
	if !changed {
		fmt.Printf("Request already %s\n", r.Status)
		return nil
	}
	fmt.Printf("Request %s\n", r.Status)
	return nil
}

func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	c := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := timeout()
	defer cancel()
	r, err := c().SecurityReport(ctx)
	if err != nil {
		return err
	}
	prettyPrint(r)
	return nil
}

// addCommonFlags registers the connection flags and returns a constructor
// to call after parsing.
func addCommonFlags(fs *flag.FlagSet) func() *client.Client {
	baseURL := fs.String("base-url", envOr("AUTHZ_URL", defaultBaseURL), "API base URL")
	actor := fs.String("actor", os.Getenv("AUTHZ_ACTOR"), "Acting user identifier")
	return func() *client.Client {
		return client.New(client.Config{BaseURL: *baseURL, ActorID: *actor})
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func timeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 15*time.Second)
}

func splitAndClean(values string) []string {
	if strings.TrimSpace(values) == "" {
		return nil
	}
	parts := strings.Split(values, ",")
	var cleaned []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}

func prettyPrint(v interface{}) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(data))
}

func usage() {
	fmt.Print(`Usage: authzctl <command> [options]

Commands:
  check       Ask for an access decision (exit code 2 when denied)
  roles       List roles, or a user's roles with -user
  assign      Assign a role to a user
  revoke      Remove a role from a user
  request     Open an access request
  requests    List access requests
  approve     Approve a pending access request
  reject      Reject a pending access request
  report      Print the security report

Global options:
	-base-url   API base URL (default $AUTHZ_URL or http://localhost:8080/api/v1)
	-actor      Acting user sent as X-Actor-ID (default $AUTHZ_ACTOR)
`)
}
