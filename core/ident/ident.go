// Package ident parses the hierarchical sensor and actuator identifiers used
// by the host simulation, e.g. "Powergrid-0.0-load-3-1.p_mw" prefixed by a
// namespace: "env.Powergrid-0.0-load-3-1.p_mw".
package ident

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedIdentifier is returned when an identifier does not follow the
// <namespace>.<group>-<n>.<slot>.<attribute> grammar.
var ErrMalformedIdentifier = errors.New("malformed identifier")

// Attributes understood by the controller.
const (
	AttrPower    = "p_mw"
	AttrFlex     = "p_mw_flex"
	AttrScaling  = "scaling"
	AttrTopology = "grid_json"
)

// Identifier is the decoded form of a sensor or actuator identifier.
type Identifier struct {
	Namespace string
	Group     string
	Kind      string
	Index     int
	Attribute string
}

// Parse decodes id. The slot segment is either "<bus>-<type>-<index>-<sub>"
// or the short form "<type>-<index>".
func Parse(id string) (Identifier, error) {
	parts := strings.Split(id, ".")
	if len(parts) != 4 {
		return Identifier{}, malformed(id, "expected 4 segments, got %d", len(parts))
	}
	for _, p := range parts {
		if p == "" {
			return Identifier{}, malformed(id, "empty segment")
		}
	}
	fields := strings.Split(parts[2], "-")
	var kind, index string
	switch len(fields) {
	case 4:
		kind, index = fields[1], fields[2]
	case 2:
		kind, index = fields[0], fields[1]
	default:
		return Identifier{}, malformed(id, "slot %q has %d fields", parts[2], len(fields))
	}
	if kind == "" {
		return Identifier{}, malformed(id, "empty element type")
	}
	n, err := strconv.Atoi(index)
	if err != nil || n < 0 {
		return Identifier{}, malformed(id, "index %q is not a non-negative integer", index)
	}
	return Identifier{
		Namespace: parts[0],
		Group:     parts[1],
		Kind:      kind,
		Index:     n,
		Attribute: parts[3],
	}, nil
}

// String renders the identifier using the long slot form.
func (i Identifier) String() string {
	return fmt.Sprintf("%s.%s.0-%s-%d-0.%s", i.Namespace, i.Group, i.Kind, i.Index, i.Attribute)
}

func malformed(id, format string, args ...any) error {
	return fmt.Errorf("%w %q: %s", ErrMalformedIdentifier, id, fmt.Sprintf(format, args...))
}
