package model

import (
	"testing"
	"time"
)

func TestRoleForKind(t *testing.T) {
	cases := map[string]Role{
		KindLoad:      RoleConsumer,
		KindGenerator: RoleProducer,
		"trafo":       RoleUnknown,
	}
	for kind, want := range cases {
		if got := RoleForKind(kind); got != want {
			t.Errorf("%s: expected %v got %v", kind, want, got)
		}
	}
}

func TestAgentParticipant(t *testing.T) {
	a := Agent{AgentID: "agent1", Element: KindLoad, Position: 3, PatienceMS: 250, Reputation: 1.5}
	var p Participant = a
	if p.Role() != RoleConsumer || p.Index() != 3 {
		t.Fatalf("unexpected participant %+v", p)
	}
	if p.Patience() != 250*time.Millisecond {
		t.Fatalf("patience %v", p.Patience())
	}
	ir, ok := p.(InitialReputation)
	if !ok || ir.InitialReputation() != 1.5 {
		t.Fatalf("initial reputation not exposed")
	}
}

func TestAgentValidate(t *testing.T) {
	if err := (Agent{AgentID: "a", Element: KindGenerator}).Validate(); err != nil {
		t.Fatalf("valid agent rejected: %v", err)
	}
	if err := (Agent{Element: KindGenerator}).Validate(); err == nil {
		t.Fatal("expected missing id error")
	}
	if err := (Agent{AgentID: "a", Element: "bus"}).Validate(); err == nil {
		t.Fatal("expected kind error")
	}
}

func TestSlotSet(t *testing.T) {
	s := &Slot{ID: "act"}
	var a Actuator = s
	a.Set(0.4)
	if !s.Applied || s.Setpoint != 0.4 {
		t.Fatalf("slot not updated: %+v", s)
	}
}
