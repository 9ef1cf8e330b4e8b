package mqtt

import "strings"

// Message kinds, also used as keys of Config.QoS.
const (
	KindTopology    = "topology"
	KindDiscovery   = "discovery"
	KindAnnounce    = "announce"
	KindFlexibility = "flexibility"
	KindNegotiate   = "negotiate"
	KindDone        = "done"
	KindReputation  = "reputation"
	KindShutdown    = "shutdown"
	KindSettings    = "settings"
)

// Topics builds the topic tree rooted at Prefix:
//
//	<prefix>/settings                retained network settings
//	<prefix>/topology                retained topology payload
//	<prefix>/discovery               discovery broadcast
//	<prefix>/announce/<id>           participant announcements
//	<prefix>/agent/<id>/<kind>       per participant traffic
//	<prefix>/shutdown                network teardown
type Topics struct {
	Prefix string
}

func (t Topics) Topology() string  { return t.Prefix + "/" + KindTopology }
func (t Topics) Discovery() string { return t.Prefix + "/" + KindDiscovery }
func (t Topics) Settings() string  { return t.Prefix + "/" + KindSettings }
func (t Topics) Shutdown() string  { return t.Prefix + "/" + KindShutdown }
func (t Topics) Announce(id string) string {
	return t.Prefix + "/" + KindAnnounce + "/" + id
}
func (t Topics) Announcements() string { return t.Announce("+") }

// Agent returns the topic of kind traffic for participant id.
func (t Topics) Agent(id, kind string) string {
	return t.Prefix + "/agent/" + id + "/" + kind
}

// AllAgents matches kind traffic of every participant.
func (t Topics) AllAgents(kind string) string { return t.Agent("+", kind) }

// AgentID extracts the participant id from an agent or announce topic.
func (t Topics) AgentID(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.Prefix+"/")
	if !ok {
		return "", false
	}
	parts := strings.Split(rest, "/")
	switch {
	case len(parts) == 3 && parts[0] == "agent" && parts[1] != "":
		return parts[1], true
	case len(parts) == 2 && parts[0] == KindAnnounce && parts[1] != "":
		return parts[1], true
	}
	return "", false
}
