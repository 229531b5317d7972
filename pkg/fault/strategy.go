// Package fault groups failed cavities with the cavities that compensate
// them and runs the compensation of every group.
package fault

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/kacperjurak/linaccore/pkg/element"
)

var (
	ErrNoCandidates    = errors.New("fault: no compensating cavity")
	ErrInvalidStrategy = errors.New("fault: invalid strategy")
)

// Strategy names.
const (
	StrategyKOutOfN              = "k out of n"
	StrategyLNeighboringLattices = "l neighboring lattices"
	StrategyManual               = "manual"
)

// Strategy picks the compensating cavities of a list of failed cavities.
// The i-th group of compensating cavities serves the i-th group of failed
// cavities.
type Strategy interface {
	Select(l *element.Linac, failed []int) (failedGroups, compGroups [][]int, err error)
}

// NewStrategy returns the strategy with the given name. k and lattices are
// only read by the strategy they belong to.
func NewStrategy(name string, k, lattices int, manualFailed, manualComp [][]int) (Strategy, error) {
	switch strings.ReplaceAll(strings.ToLower(name), "_", " ") {
	case StrategyKOutOfN:
		return KOutOfN{K: k}, nil
	case StrategyLNeighboringLattices:
		return LNeighboringLattices{L: lattices}, nil
	case StrategyManual:
		return Manual{Failed: manualFailed, Compensating: manualComp}, nil
	}
	return nil, fmt.Errorf("%w: unknown strategy %q", ErrInvalidStrategy, name)
}

// KOutOfN compensates every failed cavity with its K nearest working
// cavities. Groups whose zones overlap are merged and get K per failed
// cavity of the merged group.
type KOutOfN struct {
	K int
}

func (s KOutOfN) Select(l *element.Linac, failed []int) ([][]int, [][]int, error) {
	if s.K <= 0 {
		return nil, nil, fmt.Errorf("%w: k = %d", ErrNoCandidates, s.K)
	}
	ranks, err := cavityRanks(l, failed)
	if err != nil {
		return nil, nil, err
	}
	pick := func(group []int) ([]int, error) {
		return nearest(l, ranks, group, failed, s.K*len(group))
	}
	return gather(l, failed, pick)
}

// LNeighboringLattices compensates with every working cavity of the
// lattices of the failed cavities and of L lattices around them, upstream
// first.
type LNeighboringLattices struct {
	L int
}

func (s LNeighboringLattices) Select(l *element.Linac, failed []int) ([][]int, [][]int, error) {
	if s.L < 0 {
		return nil, nil, fmt.Errorf("%w: l = %d", ErrInvalidStrategy, s.L)
	}
	if _, err := cavityRanks(l, failed); err != nil {
		return nil, nil, err
	}
	maxLattice := -1
	for _, e := range l.Cavities() {
		if e.Lattice > maxLattice {
			maxLattice = e.Lattice
		}
	}
	if maxLattice < 0 {
		return nil, nil, fmt.Errorf("%w: linac %s has no lattice", ErrInvalidStrategy, l.Name())
	}
	isFailed := toSet(failed)

	pick := func(group []int) ([]int, error) {
		lo, hi := maxLattice+1, -1
		for _, idx := range group {
			e, _ := l.ByIndex(idx)
			if e.Lattice < 0 {
				return nil, fmt.Errorf("%w: cavity %d is outside of any lattice", ErrInvalidStrategy, idx)
			}
			lo, hi = min(lo, e.Lattice), max(hi, e.Lattice)
		}
		for n := 0; n < s.L; n++ {
			switch {
			case lo > 0 && (n%2 == 0 || hi == maxLattice):
				lo--
			case hi < maxLattice:
				hi++
			case lo > 0:
				lo--
			}
		}
		var comp []int
		for _, e := range l.Cavities() {
			if e.Lattice >= lo && e.Lattice <= hi && !isFailed[e.Index] {
				comp = append(comp, e.Index)
			}
		}
		if len(comp) == 0 {
			return nil, fmt.Errorf("%w: lattices %d to %d", ErrNoCandidates, lo, hi)
		}
		return comp, nil
	}
	return gather(l, failed, pick)
}

// Manual takes the groups from the user. When Failed is empty, every failed
// cavity forms one group and Compensating must hold a single list.
type Manual struct {
	Failed       [][]int
	Compensating [][]int
}

func (s Manual) Select(l *element.Linac, failed []int) ([][]int, [][]int, error) {
	groups := s.Failed
	if len(groups) == 0 {
		groups = [][]int{append([]int(nil), failed...)}
	}
	if len(groups) != len(s.Compensating) {
		return nil, nil, fmt.Errorf("%w: %d failed groups for %d compensating groups", ErrInvalidStrategy, len(groups), len(s.Compensating))
	}

	want := toSet(failed)
	seen := make(map[int]bool)
	for _, g := range groups {
		for _, idx := range g {
			if !want[idx] {
				return nil, nil, fmt.Errorf("%w: cavity %d is in a manual group but is not failed", ErrInvalidStrategy, idx)
			}
			seen[idx] = true
		}
	}
	if len(seen) != len(want) {
		return nil, nil, fmt.Errorf("%w: manual groups cover %d of %d failed cavities", ErrInvalidStrategy, len(seen), len(want))
	}
	if _, err := cavityRanks(l, failed); err != nil {
		return nil, nil, err
	}

	used := make(map[int]bool)
	var fg, cg [][]int
	for i, comp := range s.Compensating {
		if len(comp) == 0 {
			return nil, nil, fmt.Errorf("%w: group %d", ErrNoCandidates, i)
		}
		for _, idx := range comp {
			e, ok := l.ByIndex(idx)
			switch {
			case !ok || !e.IsCavity():
				return nil, nil, fmt.Errorf("%w: %d is not a cavity", ErrInvalidStrategy, idx)
			case want[idx]:
				return nil, nil, fmt.Errorf("%w: cavity %d is failed and compensating", ErrInvalidStrategy, idx)
			case used[idx]:
				return nil, nil, fmt.Errorf("%w: cavity %d compensates two groups", ErrInvalidStrategy, idx)
			}
			used[idx] = true
		}
		fg = append(fg, sorted(groups[i]))
		cg = append(cg, sorted(comp))
	}
	return fg, cg, nil
}

// cavityRanks maps each cavity index to its rank among the cavities and
// checks that every failed index is a cavity.
func cavityRanks(l *element.Linac, failed []int) (map[int]int, error) {
	ranks := make(map[int]int)
	for i, idx := range l.CavityIndices() {
		ranks[idx] = i
	}
	if len(failed) == 0 {
		return nil, fmt.Errorf("%w: no failed cavity", ErrInvalidStrategy)
	}
	for _, idx := range failed {
		if _, ok := ranks[idx]; !ok {
			return nil, fmt.Errorf("%w: %d is not a cavity of %s", ErrInvalidStrategy, idx, l.Name())
		}
	}
	return ranks, nil
}

// nearest returns the n working cavities closest in rank to the group.
// Ties go to the upstream cavity.
func nearest(l *element.Linac, ranks map[int]int, group, failed []int, n int) ([]int, error) {
	isFailed := toSet(failed)
	type candidate struct{ idx, dist int }
	var cands []candidate
	for _, idx := range l.CavityIndices() {
		if isFailed[idx] {
			continue
		}
		d := -1
		for _, f := range group {
			dist := ranks[idx] - ranks[f]
			if dist < 0 {
				dist = -dist
			}
			if d < 0 || dist < d {
				d = dist
			}
		}
		cands = append(cands, candidate{idx, d})
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: every cavity of %s is failed", ErrNoCandidates, l.Name())
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].idx < cands[j].idx
	})
	n = min(n, len(cands))
	out := make([]int, n)
	for i := range out {
		out[i] = cands[i].idx
	}
	return sorted(out), nil
}

// gather starts from one group per failed cavity and merges groups until no
// two of them share a compensating cavity or overlap in the linac.
func gather(l *element.Linac, failed []int, pick func(group []int) ([]int, error)) ([][]int, [][]int, error) {
	groups := make([][]int, 0, len(failed))
	for _, idx := range sorted(failed) {
		groups = append(groups, []int{idx})
	}
	for {
		comps := make([][]int, len(groups))
		zones := make([][2]int, len(groups))
		for i, g := range groups {
			c, err := pick(g)
			if err != nil {
				return nil, nil, err
			}
			comps[i] = c
			first, last, err := Zone(l, append(append([]int(nil), g...), c...))
			if err != nil {
				return nil, nil, err
			}
			zones[i] = [2]int{first, last}
		}
		i, j, ok := overlapping(comps, zones)
		if !ok {
			return groups, comps, nil
		}
		merged := sorted(append(groups[i], groups[j]...))
		groups[i] = merged
		groups = append(groups[:j], groups[j+1:]...)
	}
}

func overlapping(comps [][]int, zones [][2]int) (int, int, bool) {
	for i := range comps {
		used := toSet(comps[i])
		for j := i + 1; j < len(comps); j++ {
			if zones[i][1] >= zones[j][0] && zones[j][1] >= zones[i][0] {
				return i, j, true
			}
			for _, idx := range comps[j] {
				if used[idx] {
					return i, j, true
				}
			}
		}
	}
	return 0, 0, false
}

func toSet(idx []int) map[int]bool {
	out := make(map[int]bool, len(idx))
	for _, i := range idx {
		out[i] = true
	}
	return out
}

func sorted(idx []int) []int {
	out := append([]int(nil), idx...)
	sort.Ints(out)
	return out
}
