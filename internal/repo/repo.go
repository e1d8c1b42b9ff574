package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"farehop/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- tickets ---

const ticketCols = `id,route_id,route_name,from_stop,to_stop,passenger_count,total_fare,purchase_date,valid_until,transaction_id,signature,status,validated_at,validated_on_bus,user_id,is_synced`

func scanTicket(s interface{ Scan(...any) error }) (domain.Ticket, error) {
	var t domain.Ticket
	var validatedAt, validatedOnBus, userID sql.NullString
	var synced int
	err := s.Scan(&t.ID, &t.RouteID, &t.RouteName, &t.FromStop, &t.ToStop, &t.PassengerCount,
		&t.TotalFare, &t.PurchaseDate, &t.ValidUntil, &t.TransactionID, &t.Signature, &t.Status,
		&validatedAt, &validatedOnBus, &userID, &synced)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	if validatedAt.Valid {
		t.ValidatedAt = &validatedAt.String
	}
	if validatedOnBus.Valid {
		t.ValidatedOnBus = &validatedOnBus.String
	}
	if userID.Valid {
		t.UserID = &userID.String
	}
	t.Synced = synced != 0
	return t, nil
}

func (r Repo) UpsertTicket(ctx context.Context, t domain.Ticket) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tickets(`+ticketCols+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, validated_at=excluded.validated_at,
		validated_on_bus=excluded.validated_on_bus, is_synced=excluded.is_synced`,
		t.ID, t.RouteID, t.RouteName, t.FromStop, t.ToStop, t.PassengerCount, t.TotalFare,
		t.PurchaseDate, t.ValidUntil, t.TransactionID, t.Signature, t.Status,
		nullablePtr(t.ValidatedAt), nullablePtr(t.ValidatedOnBus), nullablePtr(t.UserID), boolInt(t.Synced))
	return err
}

func (r Repo) GetTicket(ctx context.Context, id string) (domain.Ticket, error) {
	return scanTicket(r.DB.QueryRowContext(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id=?`, id))
}

// MarkTicketValidated applies the one-way status transition. ErrNotFound is
// returned when the ticket does not exist or is not active anymore.
func (r Repo) MarkTicketValidated(ctx context.Context, id, validatedAt, validatedOnBus string, synced bool) error {
	res, err := r.DB.ExecContext(ctx,
		`UPDATE tickets SET status=?, validated_at=?, validated_on_bus=?, is_synced=? WHERE id=? AND status=?`,
		domain.TicketValidated, validatedAt, validatedOnBus, boolInt(synced), id, domain.TicketActive)
	if err != nil {
		return err
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) MarkTicketSynced(ctx context.Context, id string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE tickets SET is_synced=1 WHERE id=?`, id)
	return err
}

func (r Repo) ListTickets(ctx context.Context) ([]domain.Ticket, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+ticketCols+` FROM tickets ORDER BY purchase_date DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// DeleteValidatedTickets clears local ticket history.
func (r Repo) DeleteValidatedTickets(ctx context.Context) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM tickets WHERE status=?`, domain.TicketValidated)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- reports cache ---

func (r Repo) ReplaceReportsCache(ctx context.Context, reports []domain.Report) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM reports_cache`); err != nil {
		return err
	}
	for _, rep := range reports {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO reports_cache(id,type,location,description,vehicle_id,reporter_id,created_at) VALUES (?,?,?,?,?,?,?)`,
			rep.ID, rep.Type, rep.Location, nullable(rep.Description), nullablePtr(rep.VehicleID),
			nullablePtr(rep.ReporterID), rep.CreatedAt); err != nil {
			return fmt.Errorf("cache report %s: %w", rep.ID, err)
		}
	}
	return tx.Commit()
}

func (r Repo) CachedReports(ctx context.Context) ([]domain.Report, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,type,location,COALESCE(description,''),vehicle_id,reporter_id,created_at FROM reports_cache ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Report
	for rows.Next() {
		var rep domain.Report
		var vehicleID, reporterID sql.NullString
		if err := rows.Scan(&rep.ID, &rep.Type, &rep.Location, &rep.Description, &vehicleID, &reporterID, &rep.CreatedAt); err != nil {
			return nil, err
		}
		if vehicleID.Valid {
			rep.VehicleID = &vehicleID.String
		}
		if reporterID.Valid {
			rep.ReporterID = &reporterID.String
		}
		rep.Synced = true
		res = append(res, rep)
	}
	return res, rows.Err()
}

// --- routes / vehicles ---

func (r Repo) ListRoutes(ctx context.Context) ([]domain.Route, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,name,from_stop,to_stop,fare,average_eta_minutes,stops_json FROM routes ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Route
	for rows.Next() {
		rt, err := scanRoute(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, rt)
	}
	return res, rows.Err()
}

func (r Repo) GetRoute(ctx context.Context, id string) (domain.Route, error) {
	row := r.DB.QueryRowContext(ctx,
		`SELECT id,name,from_stop,to_stop,fare,average_eta_minutes,stops_json FROM routes WHERE id=?`, id)
	return scanRoute(row)
}

func scanRoute(s interface{ Scan(...any) error }) (domain.Route, error) {
	var rt domain.Route
	var stopsJSON string
	err := s.Scan(&rt.ID, &rt.Name, &rt.From, &rt.To, &rt.Fare, &rt.AverageETAMinutes, &stopsJSON)
	if err == sql.ErrNoRows {
		return rt, ErrNotFound
	}
	if err != nil {
		return rt, err
	}
	if err := json.Unmarshal([]byte(stopsJSON), &rt.Stops); err != nil {
		return rt, fmt.Errorf("route %s stops: %w", rt.ID, err)
	}
	return rt, nil
}

func (r Repo) ReplaceRoutes(ctx context.Context, routes []domain.Route) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM routes`); err != nil {
		return err
	}
	for _, rt := range routes {
		stops, err := json.Marshal(rt.Stops)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO routes(id,name,from_stop,to_stop,fare,average_eta_minutes,stops_json) VALUES (?,?,?,?,?,?,?)`,
			rt.ID, rt.Name, rt.From, rt.To, rt.Fare, rt.AverageETAMinutes, string(stops)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r Repo) ListVehicles(ctx context.Context) ([]domain.Vehicle, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,route_id,type,status,COALESCE(location,''),lat,lng,COALESCE(driver_name,''),COALESCE(driver_phone,'') FROM vehicles ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Vehicle
	for rows.Next() {
		var v domain.Vehicle
		if err := rows.Scan(&v.ID, &v.RouteID, &v.Type, &v.Status, &v.Location, &v.Lat, &v.Lng, &v.DriverName, &v.DriverPhone); err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	return res, rows.Err()
}

func (r Repo) ReplaceVehicles(ctx context.Context, vehicles []domain.Vehicle) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM vehicles`); err != nil {
		return err
	}
	for _, v := range vehicles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vehicles(id,route_id,type,status,location,lat,lng,driver_name,driver_phone) VALUES (?,?,?,?,?,?,?,?,?)`,
			v.ID, v.RouteID, v.Type, v.Status, nullable(v.Location), v.Lat, v.Lng,
			nullable(v.DriverName), nullable(v.DriverPhone)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// --- profile ---

func (r Repo) GetProfile(ctx context.Context) (domain.Profile, error) {
	var p domain.Profile
	var name, email, phone, home, work sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT name,email,phone,home_address,work_address FROM profile WHERE id=1`).
		Scan(&name, &email, &phone, &home, &work)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Name, p.Email, p.Phone = name.String, email.String, phone.String
	p.HomeAddress, p.WorkAddress = home.String, work.String
	return p, nil
}

func (r Repo) UpsertProfile(ctx context.Context, p domain.Profile) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO profile(id,name,email,phone,home_address,work_address) VALUES (1,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, email=excluded.email, phone=excluded.phone,
		home_address=excluded.home_address, work_address=excluded.work_address`,
		nullable(p.Name), nullable(p.Email), nullable(p.Phone), nullable(p.HomeAddress), nullable(p.WorkAddress))
	return err
}

// --- app state ---

func (r Repo) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := r.DB.QueryRowContext(ctx, `SELECT value FROM app_state WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

func (r Repo) SetState(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO app_state(key,value) VALUES (?,?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	return err
}

// --- events ---

func (r Repo) TailEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id,ts,type,entity_kind,COALESCE(entity_id,''),payload_json FROM events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.EntityKind, &e.EntityID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// --- helpers ---

func nullable(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullablePtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
