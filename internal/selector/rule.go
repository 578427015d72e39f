package selector

import (
	"fmt"
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/densityaware/shockharness/internal/registry"
)

// #region rule-types
// Bound is the comparison a clause applies to a vehicle position.
type Bound string

const (
	Below Bound = "<"
	Above Bound = ">"
)

// Category groups edges by their role in the network.
type Category string

const (
	Inbound  Category = "inbound"
	Outbound Category = "outbound"
	Interior Category = "interior"
)

// Combine joins the clauses that apply to one edge.
type Combine string

const (
	Any Combine = "any"
	All Combine = "all"
)

// Clause restricts vehicles on Edge to positions on one side of Threshold.
type Clause struct {
	Edge      string  `json:"edge" yaml:"edge"`
	Bound     Bound   `json:"bound" yaml:"bound"`
	Threshold float64 `json:"threshold" yaml:"threshold"`
}

// CategoryRule is the clause set for one edge category.
type CategoryRule struct {
	Category Category `json:"category" yaml:"category"`
	Combine  Combine  `json:"combine" yaml:"combine"`
	Clauses  []Clause `json:"clauses" yaml:"clauses"`
}

// Rule decides which vehicles may be disturbed.
//
// A vehicle is eligible when its id contains one of IDContains (if set), its current
// control law is one of Laws (if set), and its (edge, position) passes the clauses of the
// edge it is on. Vehicles on edges no clause mentions are eligible only when
// AllowUnlisted is true. FixedIDs, when set, bypasses everything else and pins the
// eligible set to those ids, in that order.
type Rule struct {
	IDContains    []string       `json:"id_contains" yaml:"id_contains"`
	Laws          []string       `json:"laws" yaml:"laws"`
	Categories    []CategoryRule `json:"categories" yaml:"categories"`
	AllowUnlisted bool           `json:"allow_unlisted" yaml:"allow_unlisted"`
	FixedIDs      []string       `json:"fixed_ids" yaml:"fixed_ids"`
}

// RuleError reports a malformed eligibility rule.
type RuleError struct {
	Reason string
}

func (e *RuleError) Error() string {
	return "malformed eligibility rule: " + e.Reason
}

// #endregion rule-types

// #region rule-defaults
// IntersectionRule reproduces the shockable area of the two-way intersection scenario:
// human flows on the north/south approaches, outbound edges below 165 m, inbound edges
// above 135 m, and anything in the junction interior.
func IntersectionRule() Rule {
	return Rule{
		IDContains: []string{"flow_20.", "flow_00."},
		Categories: []CategoryRule{
			{Category: Outbound, Combine: Any, Clauses: []Clause{
				{Edge: "left0_0", Bound: Below, Threshold: 165},
				{Edge: "right1_0", Bound: Below, Threshold: 165},
			}},
			{Category: Inbound, Combine: Any, Clauses: []Clause{
				{Edge: "left1_0", Bound: Above, Threshold: 135},
				{Edge: "right0_0", Bound: Above, Threshold: 135},
			}},
		},
		AllowUnlisted: true,
	}
}

// RingRule allows every vehicle still driven by defaultLaw, anywhere on the ring.
func RingRule(defaultLaw string) Rule {
	return Rule{Laws: []string{defaultLaw}, AllowUnlisted: true}
}

// #endregion rule-defaults

// #region rule-validate
// Validate checks the rule shape. It is run before any rollout starts.
func (r Rule) Validate() error {
	seen := map[string]Category{}
	for _, cr := range r.Categories {
		switch cr.Category {
		case Inbound, Outbound, Interior:
		default:
			return &RuleError{Reason: fmt.Sprintf("unknown category %q", cr.Category)}
		}
		switch cr.Combine {
		case Any, All, "":
		default:
			return &RuleError{Reason: fmt.Sprintf("unknown combine %q in %s", cr.Combine, cr.Category)}
		}
		for _, c := range cr.Clauses {
			if c.Edge == "" {
				return &RuleError{Reason: fmt.Sprintf("empty edge in %s", cr.Category)}
			}
			if c.Bound != Below && c.Bound != Above {
				return &RuleError{Reason: fmt.Sprintf("unknown bound %q on edge %s", c.Bound, c.Edge)}
			}
			if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
				return &RuleError{Reason: fmt.Sprintf("non-finite threshold on edge %s", c.Edge)}
			}
			if prev, ok := seen[c.Edge]; ok && prev != cr.Category {
				return &RuleError{Reason: fmt.Sprintf("edge %s listed in %s and %s", c.Edge, prev, cr.Category)}
			}
			seen[c.Edge] = cr.Category
		}
	}
	if len(r.FixedIDs) > 0 && len(lo.Uniq(r.FixedIDs)) != len(r.FixedIDs) {
		return &RuleError{Reason: "duplicate fixed ids"}
	}
	return nil
}

// #endregion rule-validate

// #region rule-match
// Eligible reports whether one vehicle passes the rule. FixedIDs are handled by Filter.
func (r Rule) Eligible(id string, st registry.VehicleState) bool {
	if len(r.IDContains) > 0 && !lo.SomeBy(r.IDContains, func(s string) bool { return strings.Contains(id, s) }) {
		return false
	}
	if len(r.Laws) > 0 && !lo.Contains(r.Laws, st.Law) {
		return false
	}
	return r.positionAllowed(st.Edge, st.Position)
}

func (r Rule) positionAllowed(edge string, pos float64) bool {
	for _, cr := range r.Categories {
		clauses := lo.Filter(cr.Clauses, func(c Clause, _ int) bool { return c.Edge == edge })
		if len(clauses) == 0 {
			continue
		}
		pass := func(c Clause, _ int) bool { return c.test(pos) }
		if cr.Combine == All {
			return len(lo.Filter(clauses, pass)) == len(clauses)
		}
		return len(lo.Filter(clauses, pass)) > 0
	}
	return r.AllowUnlisted
}

func (c Clause) test(pos float64) bool {
	if c.Bound == Below {
		return pos < c.Threshold
	}
	return pos > c.Threshold
}

// Filter returns the eligible vehicles in snapshot order.
func (r Rule) Filter(snapshot []registry.Vehicle) []registry.Vehicle {
	if len(r.FixedIDs) > 0 {
		byID := lo.KeyBy(snapshot, func(v registry.Vehicle) string { return v.Handle.ID })
		out := make([]registry.Vehicle, 0, len(r.FixedIDs))
		for _, id := range r.FixedIDs {
			if v, ok := byID[id]; ok {
				out = append(out, v)
			}
		}
		return out
	}
	return lo.Filter(snapshot, func(v registry.Vehicle, _ int) bool {
		return r.Eligible(v.Handle.ID, v.State)
	})
}

// #endregion rule-match
