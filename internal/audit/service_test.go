package audit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/dhawalhost/wardgate/internal/events"
)

func newTestService(t *testing.T, p Policy) (Service, clockwork.FakeClock, *events.Collector) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	collector := &events.Collector{}
	svc := NewService(Options{
		Store:     NewMemoryStore(p.MaxEntries),
		Publisher: collector,
		Clock:     clock,
		Policy:    func() Policy { return p },
	})
	return svc, clock, collector
}

func TestLogAssignsIdentityAndTimestamp(t *testing.T) {
	svc, clock, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	e, err := svc.Log(ctx, Entry{Action: ActionRoleCreated, Resource: "roles", Success: true})
	if err != nil {
		t.Fatalf("Log returned error: %v", err)
	}
	if e.ID == "" {
		t.Fatalf("expected generated id")
	}
	if !e.Timestamp.Equal(clock.Now()) {
		t.Fatalf("timestamp = %v, want %v", e.Timestamp, clock.Now())
	}
	if e.UserID != SystemActor {
		t.Fatalf("expected system actor, got %q", e.UserID)
	}

	got, err := svc.GetEvent(ctx, e.ID)
	if err != nil || got.ID != e.ID {
		t.Fatalf("GetEvent = %+v, %v", got, err)
	}
	if _, err := svc.GetEvent(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLogRejectsMissingAction(t *testing.T) {
	svc, _, _ := newTestService(t, DefaultPolicy())
	if _, err := svc.Log(context.Background(), Entry{UserID: "u1"}); !errors.Is(err, ErrInvalidEntry) {
		t.Fatalf("expected ErrInvalidEntry, got %v", err)
	}
}

func TestRetentionCapEvictsOldest(t *testing.T) {
	p := DefaultPolicy()
	p.MaxEntries = 5
	svc, clock, _ := newTestService(t, p)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		if _, err := svc.Log(ctx, Entry{UserID: fmt.Sprintf("u%d", i), Action: ActionAccessDenied}); err != nil {
			t.Fatalf("Log %d: %v", i, err)
		}
		clock.Advance(time.Second)
	}

	entries, total, err := svc.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if total != 5 || len(entries) != 5 {
		t.Fatalf("expected 5 retained entries, got total=%d len=%d", total, len(entries))
	}
	// Newest first: u7 .. u3.
	for i, e := range entries {
		want := fmt.Sprintf("u%d", 7-i)
		if e.UserID != want {
			t.Fatalf("entries[%d].UserID = %s, want %s", i, e.UserID, want)
		}
	}
}

func TestRetentionCapShrinksWithPolicy(t *testing.T) {
	p := DefaultPolicy()
	p.MaxEntries = 10
	store := NewMemoryStore(10)
	svc := NewService(Options{Store: store, Clock: clockwork.NewFakeClock(), Policy: func() Policy { return p }})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := svc.Log(ctx, Entry{UserID: fmt.Sprintf("u%d", i), Action: ActionLogin, Success: true}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	p.MaxEntries = 3
	if _, err := svc.Log(ctx, Entry{UserID: "last", Action: ActionLogout, Success: true}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, total, _ := svc.Query(ctx, Filter{})
	if total != 3 {
		t.Fatalf("expected 3 entries after shrink, got %d", total)
	}
	if entries[0].UserID != "last" || entries[2].UserID != "u8" {
		t.Fatalf("unexpected retained entries: %s .. %s", entries[0].UserID, entries[2].UserID)
	}
}

func TestQueryFiltersAndPagination(t *testing.T) {
	svc, clock, _ := newTestService(t, DefaultPolicy())
	ctx := context.Background()
	start := clock.Now()

	seed := []Entry{
		{UserID: "alice", Action: ActionPermissionGranted, Resource: "leases", Success: true},
		{UserID: "bob", Action: ActionAccessDenied, Resource: "leases"},
		{UserID: "alice", Action: ActionAccessDenied, Resource: "payments"},
		{UserID: "alice", Action: ActionPermissionGranted, Resource: "payments", Success: true},
		{UserID: "alice", Action: ActionAccessDenied, Resource: "leases", ResourceID: "L-1"},
	}
	for _, e := range seed {
		if _, err := svc.Log(ctx, e); err != nil {
			t.Fatalf("Log: %v", err)
		}
		clock.Advance(time.Minute)
	}

	tests := []struct {
		name  string
		f     Filter
		total int
	}{
		{"by user", Filter{UserID: "alice"}, 4},
		{"by user and resource", Filter{UserID: "alice", Resource: "leases"}, 2},
		{"by action", Filter{Action: ActionAccessDenied}, 3},
		{"by success", Filter{Success: BoolPtr(true)}, 2},
		{"by resource id", Filter{ResourceID: "L-1"}, 1},
		{"by window", Filter{From: start.Add(time.Minute), To: start.Add(3 * time.Minute)}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := svc.Query(ctx, tt.f)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			if total != tt.total {
				t.Fatalf("total = %d, want %d", total, tt.total)
			}
		})
	}

	page, total, _ := svc.Query(ctx, Filter{UserID: "alice", Limit: 2, Offset: 1})
	if total != 4 || len(page) != 2 {
		t.Fatalf("expected page of 2 out of 4, got %d of %d", len(page), total)
	}
	if page[0].Resource != "payments" || !page[0].Success {
		t.Fatalf("unexpected first entry on page: %+v", page[0])
	}
}

func TestPruneUsesRetentionDays(t *testing.T) {
	p := DefaultPolicy()
	p.RetentionDays = 30
	svc, clock, _ := newTestService(t, p)
	ctx := context.Background()

	if _, err := svc.Log(ctx, Entry{UserID: "old", Action: ActionLogin, Success: true}); err != nil {
		t.Fatalf("Log: %v", err)
	}
	clock.Advance(31 * 24 * time.Hour)
	if _, err := svc.Log(ctx, Entry{UserID: "new", Action: ActionLogin, Success: true}); err != nil {
		t.Fatalf("Log: %v", err)
	}

	removed, err := svc.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}
	entries, _, _ := svc.Query(ctx, Filter{})
	if len(entries) != 1 || entries[0].UserID != "new" {
		t.Fatalf("unexpected entries after prune: %+v", entries)
	}
}

// appendOnly behaves like the SQL store: appends never evict.
type appendOnly struct {
	Store
}

func (s appendOnly) Append(ctx context.Context, e Entry, _ int) error {
	return s.Store.Append(ctx, e, 0)
}

func TestPruneTrimsToMaxEntries(t *testing.T) {
	p := DefaultPolicy()
	p.MaxEntries = 3
	store := appendOnly{Store: NewMemoryStore(100)}
	svc := NewService(Options{Store: store, Clock: clockwork.NewFakeClock(), Policy: func() Policy { return p }})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := svc.Log(ctx, Entry{UserID: fmt.Sprintf("u%d", i), Action: ActionLogin, Success: true}); err != nil {
			t.Fatalf("Log: %v", err)
		}
	}
	if n, _ := store.Count(ctx); n != 5 {
		t.Fatalf("appends should not trim, count = %d", n)
	}

	removed, err := svc.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 trimmed entries, got %d", removed)
	}
	entries, _, _ := svc.Query(ctx, Filter{})
	if len(entries) != 3 || entries[0].UserID != "u4" || entries[2].UserID != "u2" {
		t.Fatalf("expected the newest 3 entries, got %+v", entries)
	}
}

func TestForwardingRespectsPolicy(t *testing.T) {
	ctx := context.Background()

	t.Run("failed only", func(t *testing.T) {
		p := DefaultPolicy()
		p.LogFailedOnly = true
		svc, _, collector := newTestService(t, p)
		_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionPermissionGranted, Success: true})
		_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionAccessDenied})

		if got := len(collector.Events()); got != 1 {
			t.Fatalf("expected 1 forwarded event, got %d", got)
		}
		if got := len(collector.OfType("audit.access_denied")); got != 1 {
			t.Fatalf("expected denial forwarded")
		}
		// The store still keeps both.
		if _, total, _ := svc.Query(ctx, Filter{}); total != 2 {
			t.Fatalf("expected both entries stored, got %d", total)
		}
	})

	t.Run("grants suppressed", func(t *testing.T) {
		p := DefaultPolicy()
		p.LogAllActions = false
		svc, _, collector := newTestService(t, p)
		_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionPermissionGranted, Success: true})
		_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionRoleCreated, Success: true})

		if len(collector.OfType("audit.permission_granted")) != 0 {
			t.Fatalf("grant should not be forwarded")
		}
		if len(collector.OfType("audit.role_created")) != 1 {
			t.Fatalf("administrative entry should be forwarded")
		}
	})
}

func TestSuspiciousActivityAlert(t *testing.T) {
	svc, _, collector := newTestService(t, DefaultPolicy())
	ctx := context.Background()

	_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionAccessDenied, RiskScore: IntPtr(40)})
	_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionAccessDenied, RiskScore: IntPtr(90)})
	_, _ = svc.Log(ctx, Entry{UserID: "u", Action: ActionPermissionGranted, Success: true, RiskScore: IntPtr(95)})

	alerts := collector.OfType("security.alert")
	if len(alerts) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(alerts))
	}
	payload, ok := alerts[0].Payload.(Entry)
	if !ok || *payload.RiskScore != 90 {
		t.Fatalf("unexpected alert payload: %#v", alerts[0].Payload)
	}
}
