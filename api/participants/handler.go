package participants

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/kilianp07/flexneg/core/model"
)

// Source exposes the registered participants and their reputation.
type Source interface {
	Participants() []model.Participant
	Scores() map[string]float64
}

// Status is the JSON view of one participant.
type Status struct {
	ID         string  `json:"id"`
	Kind       string  `json:"kind"`
	Index      int     `json:"index"`
	Role       string  `json:"role"`
	Reputation float64 `json:"reputation"`
	Tier       int     `json:"tier"`
}

// NewStatusHandler returns an HTTP handler exposing participants via GET /api/participants.
// The optional role and kind query parameters filter the list.
func NewStatusHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		role := r.URL.Query().Get("role")
		kind := r.URL.Query().Get("kind")
		scores := src.Scores()
		out := []Status{}
		for _, p := range src.Participants() {
			if role != "" && p.Role().String() != role {
				continue
			}
			if kind != "" && p.Kind() != kind {
				continue
			}
			score := scores[p.ID()]
			out = append(out, Status{
				ID:         p.ID(),
				Kind:       p.Kind(),
				Index:      p.Index(),
				Role:       p.Role().String(),
				Reputation: score,
				Tier:       int(score),
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(out); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
