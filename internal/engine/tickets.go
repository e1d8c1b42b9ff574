package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farehop/internal/domain"
	"farehop/internal/events"
	"farehop/internal/gateway"
)

// Fare computes the total fare for a journey: (base + stops traversed ×
// per-stop) × passenger count, where stops traversed is the absolute
// difference of the stop indices along the route.
func (e Engine) Fare(route domain.Route, fromStop, toStop string, passengers int) (int, error) {
	if passengers < 1 {
		return 0, fmt.Errorf("%w: at least one passenger required", ErrInvalidInput)
	}
	fromIdx := route.StopIndex(fromStop)
	toIdx := route.StopIndex(toStop)
	if fromIdx < 0 {
		return 0, fmt.Errorf("%w: stop %q not on route %s", ErrInvalidInput, fromStop, route.ID)
	}
	if toIdx < 0 {
		return 0, fmt.Errorf("%w: stop %q not on route %s", ErrInvalidInput, toStop, route.ID)
	}
	traversed := toIdx - fromIdx
	if traversed < 0 {
		traversed = -traversed
	}
	return (e.Config.Fare.Base + traversed*e.Config.Fare.PerStop) * passengers, nil
}

// TicketOptions are parameters for purchasing a ticket.
type TicketOptions struct {
	RouteID    string
	FromStop   string
	ToStop     string
	Passengers int
}

// BuyTicket purchases a ticket. Purchase is online-only: it needs the remote
// store for identity assignment, so offline it is refused outright rather
// than queued.
func (e Engine) BuyTicket(ctx context.Context, opts TicketOptions) (domain.Ticket, error) {
	if !e.Net.Online() {
		return domain.Ticket{}, ErrOffline
	}
	route, err := e.Repo.GetRoute(ctx, opts.RouteID)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("route %s: %w", opts.RouteID, err)
	}
	fare, err := e.Fare(route, opts.FromStop, opts.ToStop, opts.Passengers)
	if err != nil {
		return domain.Ticket{}, err
	}

	now := e.now().UTC()
	ticket := domain.Ticket{
		ID:             fmt.Sprintf("T%d", now.UnixMilli()),
		RouteID:        route.ID,
		RouteName:      route.Name,
		FromStop:       opts.FromStop,
		ToStop:         opts.ToStop,
		PassengerCount: opts.Passengers,
		TotalFare:      fare,
		PurchaseDate:   now.Format(time.RFC3339),
		ValidUntil:     now.Add(e.Config.Ticket.Validity).Format(time.RFC3339),
		TransactionID:  "TXN-" + uuid.New().String(),
		Status:         domain.TicketActive,
	}
	ticket.Signature = signature(ticket.ID)
	if userID, err := e.Store.CurrentUser(ctx); err == nil {
		ticket.UserID = optionalString(userID)
	}

	var confirmed domain.Ticket
	if err := e.Store.Create(ctx, gateway.CollectionTickets, ticket, &confirmed); err != nil {
		return domain.Ticket{}, fmt.Errorf("buy ticket: %w", err)
	}
	confirmed.Synced = true
	if err := e.Repo.UpsertTicket(ctx, confirmed); err != nil {
		return domain.Ticket{}, err
	}
	_ = e.Events.Append(ctx, nil, "ticket.purchased", "ticket", confirmed.ID,
		events.EventPayload{"route": route.ID, "fare": fare})
	return confirmed, nil
}

// ValidateTicket applies the one-way active -> validated transition. A ticket
// already validated, or past its expiry while still active, is refused
// without any state change. The local row mutates first; the remote update
// happens directly when online and is queued as a pending write otherwise, so
// the validation still reaches the remote store eventually.
func (e Engine) ValidateTicket(ctx context.Context, ticketID, vehicle string) (domain.Ticket, error) {
	t, err := e.Repo.GetTicket(ctx, ticketID)
	if err != nil {
		return domain.Ticket{}, err
	}
	if t.Status == domain.TicketValidated {
		return t, ErrTicketValidated
	}
	now := e.now().UTC()
	if Expired(t, now) {
		return t, ErrTicketExpired
	}
	if vehicle == "" {
		vehicle = t.RouteName
	}
	validatedAt := now.Format(time.RFC3339)

	online := e.Net.Online()
	if err := e.Repo.MarkTicketValidated(ctx, ticketID, validatedAt, vehicle, false); err != nil {
		return domain.Ticket{}, err
	}

	patch := domain.TicketPatch{
		Status:         domain.TicketValidated,
		ValidatedAt:    validatedAt,
		ValidatedOnBus: vehicle,
	}
	synced := false
	queue := !online
	if online {
		err := e.Store.Update(ctx, gateway.CollectionTickets, ticketID, patch)
		switch {
		case err == nil:
			synced = true
			if err := e.Repo.MarkTicketSynced(ctx, ticketID); err != nil {
				return domain.Ticket{}, err
			}
		case gateway.Retryable(err):
			queue = true
		default:
			_ = e.Events.Append(ctx, nil, "ticket.validation_rejected", "ticket", ticketID,
				events.EventPayload{"error": err.Error()})
		}
	}
	if queue {
		if err := e.enqueueValidation(ctx, ticketID, validatedAt, vehicle); err != nil {
			return domain.Ticket{}, err
		}
	}

	_ = e.Events.Append(ctx, nil, "ticket.validated", "ticket", ticketID,
		events.EventPayload{"vehicle": vehicle, "synced": synced})
	return e.Repo.GetTicket(ctx, ticketID)
}

func (e Engine) enqueueValidation(ctx context.Context, ticketID, validatedAt, vehicle string) error {
	payload, err := json.Marshal(domain.TicketValidationPayload{
		TicketID:       ticketID,
		ValidatedAt:    validatedAt,
		ValidatedOnBus: vehicle,
	})
	if err != nil {
		return err
	}
	return e.Repo.Enqueue(ctx, domain.PendingEntry{
		TempID:     "tmp-" + uuid.New().String(),
		Kind:       domain.EntryTicketValidation,
		Payload:    string(payload),
		EnqueuedAt: e.now().UTC().Format(time.RFC3339),
	})
}

// Expired reports whether an active ticket is past its validity window.
// Expiry is derived, never stored.
func Expired(t domain.Ticket, now time.Time) bool {
	until, err := time.Parse(time.RFC3339, t.ValidUntil)
	if err != nil {
		return false
	}
	return now.After(until)
}

// ListTickets returns all locally known tickets, newest purchase first.
func (e Engine) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	return e.Repo.ListTickets(ctx)
}

// RefreshTickets pulls the user's tickets from the remote store into the
// local table. Rows validated locally but not yet synced are left alone so
// a stale remote copy cannot roll the status back.
func (e Engine) RefreshTickets(ctx context.Context) error {
	if !e.Net.Online() {
		return nil
	}
	userID, err := e.Store.CurrentUser(ctx)
	if err != nil {
		if errors.Is(err, gateway.ErrNotAuthenticated) {
			return nil
		}
		return err
	}
	var remote []domain.Ticket
	err = e.Store.List(ctx, gateway.CollectionTickets, gateway.ListOptions{
		Filter:     map[string]string{"user_id": userID},
		OrderBy:    "purchase_date",
		Descending: true,
	}, &remote)
	if err != nil {
		return fmt.Errorf("fetch tickets: %w", err)
	}
	for _, rt := range remote {
		local, err := e.Repo.GetTicket(ctx, rt.ID)
		if err == nil && local.Status == domain.TicketValidated && !local.Synced {
			continue
		}
		rt.Synced = true
		if err := e.Repo.UpsertTicket(ctx, rt); err != nil {
			return err
		}
	}
	return nil
}

// ClearTicketHistory deletes validated tickets locally.
func (e Engine) ClearTicketHistory(ctx context.Context) (int64, error) {
	return e.Repo.DeleteValidatedTickets(ctx)
}

// signature is a placeholder, not cryptography: an opaque string derived from
// the ticket id, matching the remote store's display expectations.
func signature(id string) string {
	data, _ := json.Marshal(map[string]string{"id": id})
	enc := base64.StdEncoding.EncodeToString(data)
	if len(enc) > 40 {
		enc = enc[10:40]
	}
	return "SIG-" + enc
}
