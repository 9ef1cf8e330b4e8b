package kpi

import (
	"encoding/json"
	"net/http"
	"time"

	core "github.com/kilianp07/flexneg/core/kpi"
)

type dayView struct {
	ParticipantID string  `json:"participant_id"`
	Date          string  `json:"date"`
	Supplied      float64 `json:"supplied"`
	Received      float64 `json:"received"`
	Net           float64 `json:"net"`
}

// NewHandler exposes daily energy KPIs via GET /api/kpis. The optional
// participant_id, start and end (RFC3339) query parameters narrow the
// result; end defaults to now.
func NewHandler(store core.Store) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		v := r.URL.Query()
		var start, end time.Time
		var err error
		if s := v.Get("start"); s != "" {
			if start, err = time.Parse(time.RFC3339, s); err != nil {
				http.Error(w, "invalid start", http.StatusBadRequest)
				return
			}
		}
		if s := v.Get("end"); s != "" {
			if end, err = time.Parse(time.RFC3339, s); err != nil {
				http.Error(w, "invalid end", http.StatusBadRequest)
				return
			}
		}
		if end.IsZero() {
			end = time.Now()
		}
		recs, err := store.Query(v.Get("participant_id"), start, end)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		out := make([]dayView, len(recs))
		for i, rec := range recs {
			out[i] = dayView{
				ParticipantID: rec.ParticipantID,
				Date:          rec.Date.Format("2006-01-02"),
				Supplied:      rec.Supplied,
				Received:      rec.Received,
				Net:           rec.Net(),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}
