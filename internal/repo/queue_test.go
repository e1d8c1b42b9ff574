package repo_test

import (
	"context"
	"fmt"
	"testing"

	"farehop/internal/db"
	"farehop/internal/domain"
	"farehop/internal/migrate"
	"farehop/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, string) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, dir
}

func entry(id string) domain.PendingEntry {
	return domain.PendingEntry{
		TempID:     id,
		Kind:       domain.EntryReport,
		Payload:    fmt.Sprintf(`{"type":"Traffic","location":"stop %s"}`, id),
		EnqueuedAt: "2026-01-01T00:00:00Z",
	}
}

func ids(entries []domain.PendingEntry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.TempID)
	}
	return out
}

func TestEnqueuePreservesOrder(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Enqueue(ctx, entry(id)); err != nil {
			t.Fatalf("enqueue %s: %v", id, err)
		}
	}
	got, err := r.PendingEntries(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	want := []string{"a", "b", "c"}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Fatalf("order %v, want %v", ids(got), want)
	}
}

func TestDrainClearsQueue(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b"} {
		if err := r.Enqueue(ctx, entry(id)); err != nil {
			t.Fatal(err)
		}
	}
	drained, err := r.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(drained) != 2 || drained[0].TempID != "a" || drained[1].TempID != "b" {
		t.Fatalf("drained %v", ids(drained))
	}
	n, err := r.QueueLen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("queue should be empty after drain, got %d", n)
	}
	// a second drain sees nothing
	again, err := r.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("second drain returned %v", ids(again))
	}
}

func TestRequeuePrependsAheadOfNewEntries(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		if err := r.Enqueue(ctx, entry(id)); err != nil {
			t.Fatal(err)
		}
	}
	drained, err := r.Drain(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// something arrives while the drain is in flight
	if err := r.Enqueue(ctx, entry("d")); err != nil {
		t.Fatal(err)
	}
	// b and c failed retryably
	if err := r.Requeue(ctx, drained[1:]); err != nil {
		t.Fatalf("requeue: %v", err)
	}
	got, err := r.PendingEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b", "c", "d"}
	if fmt.Sprint(ids(got)) != fmt.Sprint(want) {
		t.Fatalf("order %v, want %v", ids(got), want)
	}
}

func TestQueueSurvivesReopen(t *testing.T) {
	r, dir := newTestRepo(t)
	ctx := context.Background()
	if err := r.Enqueue(ctx, entry("a")); err != nil {
		t.Fatal(err)
	}
	if err := r.DB.Close(); err != nil {
		t.Fatal(err)
	}

	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer conn.Close()
	r2 := repo.Repo{DB: conn}
	got, err := r2.PendingEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].TempID != "a" {
		t.Fatalf("entry lost across reopen: %v", ids(got))
	}
	if got[0].Payload != entry("a").Payload {
		t.Fatalf("payload changed: %s", got[0].Payload)
	}
}

func TestTicketValidationIsOneWay(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	tk := domain.Ticket{
		ID:             "T1",
		RouteID:        "R01",
		RouteName:      "Route 1",
		FromStop:       "A",
		ToStop:         "B",
		PassengerCount: 1,
		TotalFare:      12,
		PurchaseDate:   "2026-01-01T00:00:00Z",
		ValidUntil:     "2026-01-01T03:00:00Z",
		TransactionID:  "TXN-1",
		Signature:      "SIG-1",
		Status:         domain.TicketActive,
	}
	if err := r.UpsertTicket(ctx, tk); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkTicketValidated(ctx, "T1", "2026-01-01T01:00:00Z", "Route 1", false); err != nil {
		t.Fatalf("first validation: %v", err)
	}
	err := r.MarkTicketValidated(ctx, "T1", "2026-01-01T02:00:00Z", "Route 1", false)
	if err != repo.ErrNotFound {
		t.Fatalf("second validation should not match an active row, got %v", err)
	}
	got, err := r.GetTicket(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.TicketValidated || got.ValidatedAt == nil || *got.ValidatedAt != "2026-01-01T01:00:00Z" {
		t.Fatalf("unexpected ticket after re-validation attempt: %+v", got)
	}
}

func TestSeededReferenceData(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	routes, err := r.ListRoutes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(routes) == 0 {
		t.Fatal("expected seeded routes")
	}
	for _, rt := range routes {
		if len(rt.Stops) == 0 {
			t.Fatalf("route %s has no stops", rt.ID)
		}
	}
	vehicles, err := r.ListVehicles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(vehicles) == 0 {
		t.Fatal("expected seeded vehicles")
	}
}
