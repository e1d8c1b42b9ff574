package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestRetryableClassification(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&APIError{StatusCode: 500}, true},
		{&APIError{StatusCode: 503}, true},
		{&APIError{StatusCode: 429}, true},
		{&APIError{StatusCode: 400}, false},
		{&APIError{StatusCode: 404}, false},
		{&APIError{StatusCode: 422}, false},
		{errors.New("dial tcp: connection refused"), true},
	}
	for _, c := range cases {
		if got := Retryable(c.err); got != c.want {
			t.Errorf("Retryable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestCreateDecodesConfirmedRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/reports" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			t.Errorf("missing bearer header")
		}
		var in map[string]any
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &in)
		in["id"] = "srv-1"
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(in)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "tok")
	var out struct {
		ID       string `json:"id"`
		Location string `json:"location"`
	}
	err := c.Create(context.Background(), CollectionReports, map[string]string{"location": "Guindy"}, &out)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if out.ID != "srv-1" || out.Location != "Guindy" {
		t.Fatalf("decoded %+v", out)
	}
}

func TestListBuildsQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`[{"id":"srv-1"}]`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	var out []struct {
		ID string `json:"id"`
	}
	err := c.List(context.Background(), CollectionReports, ListOptions{
		Filter:     map[string]string{"vehicle_id": "TN 01 N 1234"},
		OrderBy:    "created_at",
		Descending: true,
	}, &out)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(out) != 1 || out[0].ID != "srv-1" {
		t.Fatalf("decoded %+v", out)
	}
	for _, part := range []string{"filter.vehicle_id=", "order=created_at", "desc=true"} {
		if !strings.Contains(gotQuery, part) {
			t.Errorf("query %q missing %q", gotQuery, part)
		}
	}
}

func TestNon2xxBecomesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	err := c.Update(context.Background(), CollectionTickets, "T1", map[string]string{"status": "validated"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 APIError, got %v", err)
	}
	if Retryable(err) {
		t.Fatal("422 must not be retryable")
	}
}

func TestCurrentUserFromToken(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-42",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte("secret"))
	if err != nil {
		t.Fatal(err)
	}

	c := NewClient("http://unused", signed)
	sub, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("current user: %v", err)
	}
	if sub != "user-42" {
		t.Fatalf("subject %s", sub)
	}

	c.Token = ""
	if _, err := c.CurrentUser(context.Background()); !errors.Is(err, ErrNotAuthenticated) {
		t.Fatalf("expected ErrNotAuthenticated, got %v", err)
	}
}

func TestSubscribeFiresOnVersionChange(t *testing.T) {
	var version atomic.Value
	version.Store("1")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"version": version.Load().(string)})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	c.PollInterval = 10 * time.Millisecond
	fired := make(chan struct{}, 1)
	cancel := c.Subscribe(context.Background(), CollectionVehicles, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	})
	defer cancel()

	// first observation records the baseline without firing
	time.Sleep(30 * time.Millisecond)
	select {
	case <-fired:
		t.Fatal("baseline observation must not fire")
	default:
	}

	version.Store("2")
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("change never delivered")
	}
}
