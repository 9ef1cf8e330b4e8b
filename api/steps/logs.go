package steps

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/flexneg/core/steplog"
)

// NewLogHandler returns an HTTP handler exposing step logs via GET /api/steps/logs.
// Requests must include an Authorization header with "Bearer <token>" when token is non-empty.
func NewLogHandler(store steplog.LogStore, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		v := r.URL.Query()
		q := steplog.LogQuery{ParticipantID: v.Get("participant_id")}
		if s := v.Get("start"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.Start = t
			}
		}
		if s := v.Get("end"); s != "" {
			if t, err := time.Parse(time.RFC3339, s); err == nil {
				q.End = t
			}
		}
		var err error
		if q.FromStep, err = stepParam(v.Get("from_step")); err != nil {
			http.Error(w, "invalid from_step", http.StatusBadRequest)
			return
		}
		if q.ToStep, err = stepParam(v.Get("to_step")); err != nil {
			http.Error(w, "invalid to_step", http.StatusBadRequest)
			return
		}
		records, err := store.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if records == nil {
			records = []steplog.LogRecord{}
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(records); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}

func stepParam(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
