package stability

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// HumanPrefix marks uncontrolled vehicles in emission ids ("human_3").
const HumanPrefix = "human"

// SingleLawReferenceIndex is the follower compared against the leader when every
// vehicle runs the same law.
const SingleLawReferenceIndex = 2

// ConventionRoles derives roles from the id naming convention "<law>_<index>".
//
// Mixed fleet: leader human_0, then the controlled vehicles in index order, then the
// remaining humans in reverse index order; the reference is the first human behind the
// controlled platoon. Single-law fleet: ordered by index, leader at 0, reference at
// referenceIndex.
func ConventionRoles(ids []string, referenceIndex int) (RoleConfig, error) {
	ids = lo.Uniq(ids)
	humans := lo.Filter(ids, func(id string, _ int) bool { return strings.Contains(id, HumanPrefix) })
	controlled := lo.Filter(ids, func(id string, _ int) bool { return !strings.Contains(id, HumanPrefix) })

	if len(humans) == 0 || len(controlled) == 0 {
		ordered, err := byIndex(ids)
		if err != nil {
			return RoleConfig{}, err
		}
		if referenceIndex < 1 || referenceIndex >= len(ordered) {
			return RoleConfig{}, fmt.Errorf("roles: reference index %d outside fleet of %d", referenceIndex, len(ordered))
		}
		return RoleConfig{Leader: ordered[0], Reference: ordered[referenceIndex], Ordered: ordered}, nil
	}

	hs, err := byIndex(humans)
	if err != nil {
		return RoleConfig{}, err
	}
	cs, err := byIndex(controlled)
	if err != nil {
		return RoleConfig{}, err
	}
	if len(hs) < 2 {
		return RoleConfig{}, fmt.Errorf("roles: need a human behind the controlled vehicles, have %d humans", len(hs))
	}
	ordered := append([]string{hs[0]}, cs...)
	ordered = append(ordered, lo.Reverse(append([]string(nil), hs[1:]...))...)
	return RoleConfig{Leader: hs[0], Reference: ordered[len(cs)+1], Ordered: ordered}, nil
}

// byIndex sorts ids by their numeric suffix.
func byIndex(ids []string) ([]string, error) {
	type indexed struct {
		id string
		n  int
	}
	out := make([]indexed, 0, len(ids))
	for _, id := range ids {
		i := strings.LastIndex(id, "_")
		if i < 0 {
			return nil, fmt.Errorf("roles: id %q has no index suffix", id)
		}
		n, err := strconv.Atoi(id[i+1:])
		if err != nil {
			return nil, fmt.Errorf("roles: id %q: %w", id, err)
		}
		out = append(out, indexed{id: id, n: n})
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].n < out[b].n })
	return lo.Map(out, func(x indexed, _ int) string { return x.id }), nil
}
