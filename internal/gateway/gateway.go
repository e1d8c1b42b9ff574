// Package gateway abstracts the remote transit store. The core only ever
// talks to the Store interface; the HTTP client in this package is the one
// production implementation, tests substitute fakes.
package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Remote collections.
const (
	CollectionReports  = "reports"
	CollectionTickets  = "tickets"
	CollectionRoutes   = "routes"
	CollectionVehicles = "vehicles"
	CollectionProfiles = "profiles"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// ListOptions narrows and orders a collection read.
type ListOptions struct {
	Filter     map[string]string
	OrderBy    string
	Descending bool
}

// Store is the remote store contract consumed by the synchronizer and the
// engine. Every call is a suspension point: it may block on the network for
// up to the client timeout.
type Store interface {
	// Create inserts one record and decodes the server's confirmed record
	// (with server-assigned identity and timestamp) into out when out is
	// non-nil.
	Create(ctx context.Context, collection string, record any, out any) error

	// List reads a collection into out (a pointer to a slice).
	List(ctx context.Context, collection string, opts ListOptions, out any) error

	// Update applies a partial update to one record.
	Update(ctx context.Context, collection, id string, patch any) error

	// CurrentUser returns the identity the store scopes per-user data to.
	CurrentUser(ctx context.Context) (string, error)

	// Subscribe invokes fn whenever the collection changes remotely. The
	// subscriber re-fetches the full list; no incremental diff is delivered.
	// The returned cancel stops the subscription.
	Subscribe(ctx context.Context, collection string, fn func()) (cancel func())
}

// APIError wraps a non-2xx remote response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remote store: status=%d body=%s", e.StatusCode, e.Body)
}

// Retryable classifies a remote failure. Transport errors and server-side
// failures are transient and worth requeueing; any other 4xx is a permanent
// rejection of the payload.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	// Everything else is a transport-level failure.
	return true
}
