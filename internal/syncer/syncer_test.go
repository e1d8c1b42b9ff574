package syncer_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"testing"

	"farehop/internal/db"
	"farehop/internal/domain"
	"farehop/internal/gateway"
	"farehop/internal/migrate"
	"farehop/internal/netmon"
	"farehop/internal/repo"
	"farehop/internal/syncer"
)

// fakeStore records writes and fails on demand, keyed by report location.
type fakeStore struct {
	created  []domain.ReportPayload
	updated  []string
	failWith map[string]error
	onCreate func()
}

func (f *fakeStore) Create(ctx context.Context, collection string, record any, out any) error {
	if f.onCreate != nil {
		f.onCreate()
	}
	data, _ := json.Marshal(record)
	var p domain.ReportPayload
	_ = json.Unmarshal(data, &p)
	if err, ok := f.failWith[p.Location]; ok {
		return err
	}
	f.created = append(f.created, p)
	if out != nil {
		confirmed := domain.Report{ID: fmt.Sprintf("srv-%d", len(f.created)), Type: p.Type, Location: p.Location}
		b, _ := json.Marshal(confirmed)
		_ = json.Unmarshal(b, out)
	}
	return nil
}

func (f *fakeStore) List(ctx context.Context, collection string, opts gateway.ListOptions, out any) error {
	return nil
}

func (f *fakeStore) Update(ctx context.Context, collection, id string, patch any) error {
	if err, ok := f.failWith[id]; ok {
		return err
	}
	f.updated = append(f.updated, id)
	return nil
}

func (f *fakeStore) CurrentUser(ctx context.Context) (string, error) { return "user-1", nil }

func (f *fakeStore) Subscribe(ctx context.Context, collection string, fn func()) (cancel func()) {
	return func() {}
}

func newTestSyncer(t *testing.T, store gateway.Store) (*syncer.Syncer, repo.Repo) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	s := syncer.New(r, store)
	s.Logger = log.New(io.Discard, "", 0)
	return s, r
}

func enqueueReport(t *testing.T, r repo.Repo, id, location string) {
	t.Helper()
	err := r.Enqueue(context.Background(), domain.PendingEntry{
		TempID:     id,
		Kind:       domain.EntryReport,
		Payload:    fmt.Sprintf(`{"type":"Traffic","location":%q}`, location),
		EnqueuedAt: "2026-01-01T00:00:00Z",
	})
	if err != nil {
		t.Fatalf("enqueue %s: %v", id, err)
	}
}

func TestDrainSendsInOrder(t *testing.T) {
	store := &fakeStore{}
	s, r := newTestSyncer(t, store)
	ctx := context.Background()
	enqueueReport(t, r, "tmp-1", "Anna Nagar")
	enqueueReport(t, r, "tmp-2", "Guindy")

	n, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 {
		t.Fatalf("synced %d, want 2", n)
	}
	if len(store.created) != 2 || store.created[0].Location != "Anna Nagar" || store.created[1].Location != "Guindy" {
		t.Fatalf("sends out of order: %+v", store.created)
	}
	left, _ := r.QueueLen(ctx)
	if left != 0 {
		t.Fatalf("%d entries left after clean drain", left)
	}
}

func TestRetryableFailureRequeuesInOrder(t *testing.T) {
	store := &fakeStore{failWith: map[string]error{
		"Guindy": &gateway.APIError{StatusCode: 503, Body: "unavailable"},
		"Adyar":  &gateway.APIError{StatusCode: 503, Body: "unavailable"},
	}}
	s, r := newTestSyncer(t, store)
	ctx := context.Background()
	enqueueReport(t, r, "tmp-1", "Anna Nagar")
	enqueueReport(t, r, "tmp-2", "Guindy")
	enqueueReport(t, r, "tmp-3", "Adyar")

	n, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("synced %d, want 1", n)
	}
	left, err := r.PendingEntries(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 2 || left[0].TempID != "tmp-2" || left[1].TempID != "tmp-3" {
		t.Fatalf("requeue broke order: %+v", left)
	}
	if left[0].Attempts != 1 {
		t.Fatalf("attempts not counted: %+v", left[0])
	}
}

func TestPermanentFailureDiscards(t *testing.T) {
	store := &fakeStore{failWith: map[string]error{
		"Guindy": &gateway.APIError{StatusCode: 422, Body: "bad payload"},
	}}
	s, r := newTestSyncer(t, store)
	ctx := context.Background()
	enqueueReport(t, r, "tmp-1", "Guindy")
	enqueueReport(t, r, "tmp-2", "Adyar")

	n, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 {
		t.Fatalf("synced %d, want 1", n)
	}
	left, _ := r.QueueLen(ctx)
	if left != 0 {
		t.Fatalf("permanently rejected entry must not requeue, %d left", left)
	}
}

func TestReentrantDrainIsDropped(t *testing.T) {
	store := &fakeStore{}
	s, r := newTestSyncer(t, store)
	ctx := context.Background()
	enqueueReport(t, r, "tmp-1", "Anna Nagar")

	var inner int
	store.onCreate = func() {
		// a trigger arriving mid-drain must be a no-op
		n, err := s.Drain(ctx)
		if err != nil {
			t.Errorf("inner drain: %v", err)
		}
		inner += n
	}
	n, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 || inner != 0 {
		t.Fatalf("outer=%d inner=%d, want 1 and 0", n, inner)
	}
	if len(store.created) != 1 {
		t.Fatalf("entry sent %d times", len(store.created))
	}
}

func TestValidationEntryMarksTicketSynced(t *testing.T) {
	store := &fakeStore{}
	s, r := newTestSyncer(t, store)
	ctx := context.Background()
	tk := domain.Ticket{
		ID: "T1", RouteID: "R01", RouteName: "Route 1", FromStop: "A", ToStop: "B",
		PassengerCount: 1, TotalFare: 12, PurchaseDate: "2026-01-01T00:00:00Z",
		ValidUntil: "2026-01-01T03:00:00Z", TransactionID: "TXN-1", Signature: "SIG-1",
		Status: domain.TicketActive,
	}
	if err := r.UpsertTicket(ctx, tk); err != nil {
		t.Fatal(err)
	}
	if err := r.MarkTicketValidated(ctx, "T1", "2026-01-01T01:00:00Z", "Route 1", false); err != nil {
		t.Fatal(err)
	}
	payload, _ := json.Marshal(domain.TicketValidationPayload{
		TicketID: "T1", ValidatedAt: "2026-01-01T01:00:00Z", ValidatedOnBus: "Route 1",
	})
	if err := r.Enqueue(ctx, domain.PendingEntry{
		TempID: "tmp-v1", Kind: domain.EntryTicketValidation,
		Payload: string(payload), EnqueuedAt: "2026-01-01T01:00:00Z",
	}); err != nil {
		t.Fatal(err)
	}

	n, err := s.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 1 || len(store.updated) != 1 || store.updated[0] != "T1" {
		t.Fatalf("validation not sent: n=%d updated=%v", n, store.updated)
	}
	got, err := r.GetTicket(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Synced {
		t.Fatal("ticket should be synced after drain")
	}
}

func TestAttachDrainsOnReconnect(t *testing.T) {
	store := &fakeStore{}
	s, r := newTestSyncer(t, store)
	ctx := context.Background()
	enqueueReport(t, r, "tmp-1", "Anna Nagar")

	m := netmon.New(false)
	cancel := s.Attach(m)
	defer cancel()

	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	// Attach drains synchronously inside the transition callback.
	left, _ := r.QueueLen(ctx)
	if left != 0 || len(store.created) != 1 {
		t.Fatalf("reconnect did not drain: left=%d sent=%d", left, len(store.created))
	}

	// going offline and online again with an empty queue sends nothing new
	if err := m.Set(false); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	if len(store.created) != 1 {
		t.Fatalf("duplicate send on second reconnect: %d", len(store.created))
	}
}
