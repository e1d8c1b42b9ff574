package netmon_test

import (
	"errors"
	"testing"

	"farehop/internal/netmon"
)

func TestEdgeTriggeredNotifications(t *testing.T) {
	m := netmon.New(false)
	var calls []bool
	m.Subscribe(func(online bool) { calls = append(calls, online) })

	if err := m.Set(false); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 0 {
		t.Fatalf("same-state set must not notify, got %v", calls)
	}
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	if err := m.Set(false); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 2 || calls[0] != true || calls[1] != false {
		t.Fatalf("expected [true false], got %v", calls)
	}
	if m.Online() {
		t.Fatal("expected offline")
	}
}

func TestSubscribeCancel(t *testing.T) {
	m := netmon.New(false)
	calls := 0
	cancel := m.Subscribe(func(bool) { calls++ })
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := m.Set(false); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call after cancel, got %d", calls)
	}
}

func TestPersistRunsBeforeSubscribers(t *testing.T) {
	m := netmon.New(false)
	var order []string
	m.Persist = func(online bool) error {
		order = append(order, "persist")
		return nil
	}
	m.Subscribe(func(bool) { order = append(order, "notify") })
	if err := m.Set(true); err != nil {
		t.Fatal(err)
	}
	if len(order) != 2 || order[0] != "persist" || order[1] != "notify" {
		t.Fatalf("expected persist before notify, got %v", order)
	}
}

func TestPersistFailureRollsBack(t *testing.T) {
	m := netmon.New(true)
	boom := errors.New("disk full")
	failing := true
	m.Persist = func(online bool) error {
		if failing {
			return boom
		}
		return nil
	}
	calls := 0
	m.Subscribe(func(bool) { calls++ })

	if err := m.Set(false); !errors.Is(err, boom) {
		t.Fatalf("expected persist error, got %v", err)
	}
	if !m.Online() {
		t.Fatal("failed transition must leave state online")
	}
	if calls != 0 {
		t.Fatalf("failed transition must not notify, got %d calls", calls)
	}

	// The retry is a real transition again.
	failing = false
	if err := m.Set(false); err != nil {
		t.Fatal(err)
	}
	if m.Online() {
		t.Fatal("expected offline after retry")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call after retry, got %d", calls)
	}
}
