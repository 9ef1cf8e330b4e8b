package ident

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		id    string
		kind  string
		index int
		attr  string
	}{
		{"env.Powergrid-0.0-load-3-1.p_mw", "load", 3, AttrPower},
		{"env.Powergrid-0.0-sgen-12-0.p_mw_flex", "sgen", 12, AttrFlex},
		{"ctrl.Powergrid-0.0-sgen-4-0.scaling", "sgen", 4, AttrScaling},
		{"env.Powergrid-0.Grid-0.grid_json", "Grid", 0, AttrTopology},
	}
	for _, c := range cases {
		got, err := Parse(c.id)
		if err != nil {
			t.Fatalf("%s: %v", c.id, err)
		}
		if got.Kind != c.kind || got.Index != c.index || got.Attribute != c.attr {
			t.Errorf("%s: unexpected %+v", c.id, got)
		}
	}
}

func TestParseRoundTrip(t *testing.T) {
	for _, kind := range []string{"load", "sgen"} {
		for idx := 0; idx < 20; idx += 7 {
			for _, attr := range []string{AttrPower, AttrFlex, AttrScaling} {
				id := Identifier{Namespace: "env", Group: "Powergrid-0", Kind: kind, Index: idx, Attribute: attr}
				got, err := Parse(id.String())
				if err != nil {
					t.Fatalf("parse %s: %v", id, err)
				}
				if got != id {
					t.Fatalf("round trip mismatch: %+v != %+v", got, id)
				}
			}
		}
	}
}

func TestParseMalformed(t *testing.T) {
	bad := []string{
		"",
		"env.Powergrid-0.p_mw",
		"env.Powergrid-0.0-load-3-1.p_mw.extra",
		"env.Powergrid-0.0-load-3.p_mw",
		"env.Powergrid-0.0-load-x-1.p_mw",
		"env.Powergrid-0.load-.p_mw",
		"env..0-load-3-1.p_mw",
	}
	for _, id := range bad {
		if _, err := Parse(id); !errors.Is(err, ErrMalformedIdentifier) {
			t.Errorf("%q: expected ErrMalformedIdentifier, got %v", id, err)
		}
	}
}
