// Package merge composes confirmed remote records with still-pending local
// writes into one display list. The two sets are disjoint by construction — a
// queue entry is removed before its confirmed counterpart can appear — so no
// deduplication happens here.
package merge

import (
	"encoding/json"
	"time"

	"farehop/internal/domain"
)

// Reports places pending entries ahead of confirmed ones so unsynced user
// actions stay visible at the top. Pending entries are synthesized into the
// confirmed shape: temp id standing in for the server id, Synced forced
// false and the timestamp approximated as now.
func Reports(confirmed []domain.Report, pending []domain.PendingEntry, now time.Time) []domain.Report {
	out := make([]domain.Report, 0, len(confirmed)+len(pending))
	ts := now.UTC().Format(time.RFC3339)
	for _, e := range pending {
		if e.Kind != domain.EntryReport {
			continue
		}
		var p domain.ReportPayload
		if err := json.Unmarshal([]byte(e.Payload), &p); err != nil {
			continue
		}
		out = append(out, domain.Report{
			ID:          e.TempID,
			Type:        p.Type,
			Location:    p.Location,
			Description: p.Description,
			VehicleID:   p.VehicleID,
			CreatedAt:   ts,
			Synced:      false,
		})
	}
	return append(out, confirmed...)
}
