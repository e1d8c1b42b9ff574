package domain

// ReportType is the fixed set of crowd-sourced report categories.
type ReportType string

const (
	ReportTraffic     ReportType = "Traffic"
	ReportBreakdown   ReportType = "Breakdown"
	ReportOvercrowded ReportType = "Overcrowded"
	ReportOther       ReportType = "Other"
)

// Valid reports whether t is one of the known categories.
func (t ReportType) Valid() bool {
	switch t {
	case ReportTraffic, ReportBreakdown, ReportOvercrowded, ReportOther:
		return true
	}
	return false
}

// Report is a confirmed incident report. While a report is still waiting to
// sync it exists only as a PendingEntry in the offline queue; the two never
// coexist for the same logical write.
type Report struct {
	ID          string     `json:"id"`
	Type        ReportType `json:"type" enum:"Traffic,Breakdown,Overcrowded,Other"`
	Location    string     `json:"location"`
	Description string     `json:"description,omitempty"`
	VehicleID   *string    `json:"vehicle_id,omitempty"`
	ReporterID  *string    `json:"reporter_id,omitempty"`
	CreatedAt   string     `json:"created_at" format:"date-time"`
	Synced      bool       `json:"is_synced"`
}

// ReportPayload is the client-side shape of a report write: everything the
// server does not assign itself.
type ReportPayload struct {
	Type        ReportType `json:"type"`
	Location    string     `json:"location"`
	Description string     `json:"description,omitempty"`
	VehicleID   *string    `json:"vehicle_id,omitempty"`
}

// Pending entry kinds.
const (
	EntryReport           = "report"
	EntryTicketValidation = "ticket_validation"
)

// PendingEntry is one element of the offline write queue. TempID is assigned
// locally at enqueue time and superseded by a server identifier on
// confirmation.
type PendingEntry struct {
	TempID     string `json:"temp_id"`
	Kind       string `json:"kind" enum:"report,ticket_validation"`
	Payload    string `json:"payload_json"`
	EnqueuedAt string `json:"enqueued_at" format:"date-time"`
	Attempts   int    `json:"attempts"`
}

// TicketValidationPayload is the queued form of an offline ticket validation.
type TicketValidationPayload struct {
	TicketID       string `json:"ticket_id"`
	ValidatedAt    string `json:"validated_at"`
	ValidatedOnBus string `json:"validated_on_bus"`
}

type TicketStatus string

const (
	TicketActive    TicketStatus = "active"
	TicketValidated TicketStatus = "validated"
)

// Ticket status moves one way, active -> validated. Expiry is derived from
// ValidUntil at read time, never stored as a status.
type Ticket struct {
	ID             string       `json:"id"`
	RouteID        string       `json:"route_id"`
	RouteName      string       `json:"route_name"`
	FromStop       string       `json:"from_stop"`
	ToStop         string       `json:"to_stop"`
	PassengerCount int          `json:"passenger_count"`
	TotalFare      int          `json:"total_fare"`
	PurchaseDate   string       `json:"purchase_date" format:"date-time"`
	ValidUntil     string       `json:"valid_until" format:"date-time"`
	TransactionID  string       `json:"transaction_id"`
	Signature      string       `json:"signature"`
	Status         TicketStatus `json:"status" enum:"active,validated"`
	ValidatedAt    *string      `json:"validated_at,omitempty" format:"date-time"`
	ValidatedOnBus *string      `json:"validated_on_bus,omitempty"`
	UserID         *string      `json:"user_id,omitempty"`
	Synced         bool         `json:"is_synced"`
}

// TicketPatch is the partial update sent to the remote store on validation.
type TicketPatch struct {
	Status         TicketStatus `json:"status"`
	ValidatedAt    string       `json:"validated_at,omitempty"`
	ValidatedOnBus string       `json:"validated_on_bus,omitempty"`
}

// Route is remote reference data, cached locally for offline reads.
type Route struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	From              string   `json:"from"`
	To                string   `json:"to"`
	Fare              int      `json:"fare"`
	AverageETAMinutes int      `json:"average_eta_minutes"`
	Stops             []string `json:"stops"`
}

// StopIndex returns the position of stop on the route, or -1.
func (r Route) StopIndex(stop string) int {
	for i, s := range r.Stops {
		if s == stop {
			return i
		}
	}
	return -1
}

type Vehicle struct {
	ID          string  `json:"id"`
	RouteID     string  `json:"route_id"`
	Type        string  `json:"type"`
	Status      string  `json:"status" enum:"On road,Failure,Pause"`
	Location    string  `json:"location"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	DriverName  string  `json:"driver_name,omitempty"`
	DriverPhone string  `json:"driver_phone,omitempty"`
}

type Profile struct {
	Name        string `json:"name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
	HomeAddress string `json:"home_address,omitempty"`
	WorkAddress string `json:"work_address,omitempty"`
}

// Event is one row of the local activity log.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}
