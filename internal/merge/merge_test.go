package merge_test

import (
	"testing"
	"time"

	"farehop/internal/domain"
	"farehop/internal/merge"
)

func TestPendingComeFirst(t *testing.T) {
	confirmed := []domain.Report{
		{ID: "srv-1", Type: domain.ReportTraffic, Location: "Anna Nagar", Synced: true},
		{ID: "srv-2", Type: domain.ReportBreakdown, Location: "T Nagar", Synced: true},
	}
	pending := []domain.PendingEntry{
		{TempID: "tmp-1", Kind: domain.EntryReport, Payload: `{"type":"Overcrowded","location":"Guindy"}`},
		{TempID: "tmp-2", Kind: domain.EntryReport, Payload: `{"type":"Other","location":"Velachery"}`},
	}
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	got := merge.Reports(confirmed, pending, now)
	if len(got) != 4 {
		t.Fatalf("expected 4 reports, got %d", len(got))
	}
	if got[0].ID != "tmp-1" || got[1].ID != "tmp-2" || got[2].ID != "srv-1" {
		t.Fatalf("wrong order: %s %s %s %s", got[0].ID, got[1].ID, got[2].ID, got[3].ID)
	}
	if got[0].Synced || got[1].Synced {
		t.Fatal("pending reports must not read as synced")
	}
	if got[0].CreatedAt != "2026-02-01T12:00:00Z" {
		t.Fatalf("pending timestamp %s", got[0].CreatedAt)
	}
	if got[0].Location != "Guindy" || got[0].Type != domain.ReportOvercrowded {
		t.Fatalf("payload not carried over: %+v", got[0])
	}
}

func TestNonReportEntriesSkipped(t *testing.T) {
	pending := []domain.PendingEntry{
		{TempID: "tmp-1", Kind: domain.EntryTicketValidation, Payload: `{"ticket_id":"T1"}`},
		{TempID: "tmp-2", Kind: domain.EntryReport, Payload: `not json`},
		{TempID: "tmp-3", Kind: domain.EntryReport, Payload: `{"type":"Traffic","location":"Adyar"}`},
	}
	got := merge.Reports(nil, pending, time.Now())
	if len(got) != 1 || got[0].ID != "tmp-3" {
		t.Fatalf("expected only the well-formed report entry, got %d", len(got))
	}
}

func TestEmptyInputs(t *testing.T) {
	if got := merge.Reports(nil, nil, time.Now()); len(got) != 0 {
		t.Fatalf("expected empty, got %d", len(got))
	}
}
