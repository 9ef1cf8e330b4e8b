package simnet

import (
	"encoding/json"
	"fmt"

	"github.com/kilianp07/flexneg/core/model"
)

// Topology is the payload the simulated network is bootstrapped from.
// Without links every participant reaches every other one directly.
type Topology struct {
	Participants []model.Agent `json:"participants"`
	Links        [][2]string   `json:"links"`
}

// ParseTopology decodes and validates a topology payload. Links must join
// participants of the payload itself.
func ParseTopology(payload string) (Topology, error) {
	t, err := decodeTopology(payload)
	if err != nil {
		return t, err
	}
	return t, t.checkLinks(nil)
}

func decodeTopology(payload string) (Topology, error) {
	var t Topology
	if err := json.Unmarshal([]byte(payload), &t); err != nil {
		return t, fmt.Errorf("decode topology: %w", err)
	}
	ids := make(map[string]struct{}, len(t.Participants))
	for _, a := range t.Participants {
		if err := a.Validate(); err != nil {
			return t, err
		}
		if _, dup := ids[a.AgentID]; dup {
			return t, fmt.Errorf("duplicate participant %s", a.AgentID)
		}
		ids[a.AgentID] = struct{}{}
	}
	return t, nil
}

// checkLinks verifies every link end is a participant of t or is accepted
// by known.
func (t Topology) checkLinks(known func(id string) bool) error {
	ids := make(map[string]struct{}, len(t.Participants))
	for _, a := range t.Participants {
		ids[a.AgentID] = struct{}{}
	}
	for _, l := range t.Links {
		for _, end := range l {
			if _, ok := ids[end]; ok {
				continue
			}
			if known != nil && known(end) {
				continue
			}
			return fmt.Errorf("link %s-%s: unknown participant %s", l[0], l[1], end)
		}
	}
	return nil
}

// hops returns the hop distance from src to every participant reachable
// within ttl hops.
func hops(adj map[string][]string, src string, ttl int) map[string]int {
	dist := map[string]int{src: 0}
	frontier := []string{src}
	for d := 1; d <= ttl && len(frontier) > 0; d++ {
		var next []string
		for _, n := range frontier {
			for _, m := range adj[n] {
				if _, seen := dist[m]; seen {
					continue
				}
				dist[m] = d
				next = append(next, m)
			}
		}
		frontier = next
	}
	return dist
}
