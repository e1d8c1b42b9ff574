package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"farehop/internal/config"
	"farehop/internal/domain"
	"farehop/internal/events"
	"farehop/internal/gateway"
	"farehop/internal/merge"
	"farehop/internal/netmon"
	"farehop/internal/repo"
)

var (
	// ErrOffline rejects online-only actions at the boundary, before any
	// write is attempted.
	ErrOffline = errors.New("action requires connectivity")

	ErrTicketValidated = errors.New("ticket already validated")
	ErrTicketExpired   = errors.New("ticket expired")

	// ErrInvalidInput wraps caller mistakes so the HTTP layer can map them to
	// 400 without inspecting message text.
	ErrInvalidInput = errors.New("invalid input")
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Store  gateway.Store
	Net    *netmon.Monitor
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, store gateway.Store, net *netmon.Monitor, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Store:  store,
		Net:    net,
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ReportOptions are parameters for submitting an incident report.
type ReportOptions struct {
	Type        domain.ReportType
	Location    string
	Description string
	VehicleID   string
}

// SubmitReport sends the report straight to the remote store when online, or
// enqueues it as a pending write when offline. The returned report is either
// the confirmed record (server id, Synced=true) or the synthesized pending
// one (temp id, Synced=false).
func (e Engine) SubmitReport(ctx context.Context, opts ReportOptions) (domain.Report, error) {
	if !opts.Type.Valid() {
		return domain.Report{}, fmt.Errorf("%w: unknown report type %q", ErrInvalidInput, opts.Type)
	}
	if opts.Location == "" {
		return domain.Report{}, fmt.Errorf("%w: location is required", ErrInvalidInput)
	}
	payload := domain.ReportPayload{
		Type:        opts.Type,
		Location:    opts.Location,
		Description: opts.Description,
		VehicleID:   optionalString(opts.VehicleID),
	}

	if !e.Net.Online() {
		return e.enqueueReport(ctx, payload)
	}

	var confirmed domain.Report
	if err := e.Store.Create(ctx, gateway.CollectionReports, payload, &confirmed); err != nil {
		return domain.Report{}, fmt.Errorf("submit report: %w", err)
	}
	confirmed.Synced = true
	_ = e.Events.Append(ctx, nil, "report.submitted", "report", confirmed.ID,
		events.EventPayload{"type": payload.Type})
	return confirmed, nil
}

func (e Engine) enqueueReport(ctx context.Context, payload domain.ReportPayload) (domain.Report, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return domain.Report{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	entry := domain.PendingEntry{
		TempID:     "tmp-" + uuid.New().String(),
		Kind:       domain.EntryReport,
		Payload:    string(data),
		EnqueuedAt: now,
	}
	if err := e.Repo.Enqueue(ctx, entry); err != nil {
		return domain.Report{}, err
	}
	_ = e.Events.Append(ctx, nil, "report.enqueued", "pending_entry", entry.TempID,
		events.EventPayload{"type": payload.Type})
	return domain.Report{
		ID:          entry.TempID,
		Type:        payload.Type,
		Location:    payload.Location,
		Description: payload.Description,
		VehicleID:   payload.VehicleID,
		CreatedAt:   now,
		Synced:      false,
	}, nil
}

// ListReports returns the merged display list: pending entries first, then
// confirmed records. Confirmed records come from the remote store when
// online (refreshing the local cache) and from the cache otherwise.
func (e Engine) ListReports(ctx context.Context) ([]domain.Report, error) {
	confirmed, err := e.confirmedReports(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := e.Repo.PendingEntries(ctx)
	if err != nil {
		return nil, err
	}
	return merge.Reports(confirmed, pending, e.now()), nil
}

func (e Engine) confirmedReports(ctx context.Context) ([]domain.Report, error) {
	if e.Net.Online() {
		var remote []domain.Report
		err := e.Store.List(ctx, gateway.CollectionReports,
			gateway.ListOptions{OrderBy: "created_at", Descending: true}, &remote)
		if err == nil {
			for i := range remote {
				remote[i].Synced = true
			}
			if cacheErr := e.Repo.ReplaceReportsCache(ctx, remote); cacheErr != nil {
				return nil, cacheErr
			}
			return remote, nil
		}
		if !gateway.Retryable(err) {
			return nil, err
		}
		// Transient remote failure: serve the cache.
	}
	return e.Repo.CachedReports(ctx)
}

// ListVehicleReports returns confirmed reports for one vehicle, newest first.
func (e Engine) ListVehicleReports(ctx context.Context, vehicleID string) ([]domain.Report, error) {
	if e.Net.Online() {
		var remote []domain.Report
		err := e.Store.List(ctx, gateway.CollectionReports, gateway.ListOptions{
			Filter:     map[string]string{"vehicle_id": vehicleID},
			OrderBy:    "created_at",
			Descending: true,
		}, &remote)
		if err == nil {
			for i := range remote {
				remote[i].Synced = true
			}
			return remote, nil
		}
		if !gateway.Retryable(err) {
			return nil, err
		}
	}
	cached, err := e.Repo.CachedReports(ctx)
	if err != nil {
		return nil, err
	}
	var res []domain.Report
	for _, r := range cached {
		if r.VehicleID != nil && *r.VehicleID == vehicleID {
			res = append(res, r)
		}
	}
	return res, nil
}

// RefreshReference re-fetches routes and vehicles into the local cache.
// Offline it is a no-op; the seeded cache keeps working.
func (e Engine) RefreshReference(ctx context.Context) error {
	if !e.Net.Online() {
		return nil
	}
	var routes []domain.Route
	if err := e.Store.List(ctx, gateway.CollectionRoutes, gateway.ListOptions{}, &routes); err != nil {
		return fmt.Errorf("fetch routes: %w", err)
	}
	if len(routes) > 0 {
		if err := e.Repo.ReplaceRoutes(ctx, routes); err != nil {
			return err
		}
	}
	var vehicles []domain.Vehicle
	if err := e.Store.List(ctx, gateway.CollectionVehicles, gateway.ListOptions{}, &vehicles); err != nil {
		return fmt.Errorf("fetch vehicles: %w", err)
	}
	if len(vehicles) > 0 {
		if err := e.Repo.ReplaceVehicles(ctx, vehicles); err != nil {
			return err
		}
	}
	return nil
}

// WatchVehicles keeps the vehicle cache current while the process runs. The
// remote change notification carries no diff; each callback re-fetches the
// full list.
func (e Engine) WatchVehicles(ctx context.Context) (cancel func()) {
	return e.Store.Subscribe(ctx, gateway.CollectionVehicles, func() {
		var vehicles []domain.Vehicle
		if err := e.Store.List(ctx, gateway.CollectionVehicles, gateway.ListOptions{}, &vehicles); err != nil {
			return
		}
		if len(vehicles) > 0 {
			_ = e.Repo.ReplaceVehicles(ctx, vehicles)
		}
	})
}

// Profile reads the remote profile when online, falling back to the local
// copy.
func (e Engine) Profile(ctx context.Context) (domain.Profile, error) {
	if e.Net.Online() {
		var profiles []domain.Profile
		userID, err := e.Store.CurrentUser(ctx)
		if err == nil {
			err = e.Store.List(ctx, gateway.CollectionProfiles,
				gateway.ListOptions{Filter: map[string]string{"id": userID}}, &profiles)
		}
		if err == nil && len(profiles) > 0 {
			_ = e.Repo.UpsertProfile(ctx, profiles[0])
			return profiles[0], nil
		}
	}
	return e.Repo.GetProfile(ctx)
}

// UpdateProfile writes the profile remotely and mirrors it locally.
func (e Engine) UpdateProfile(ctx context.Context, p domain.Profile) error {
	if !e.Net.Online() {
		return ErrOffline
	}
	userID, err := e.Store.CurrentUser(ctx)
	if err != nil {
		return err
	}
	if err := e.Store.Update(ctx, gateway.CollectionProfiles, userID, p); err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return e.Repo.UpsertProfile(ctx, p)
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
