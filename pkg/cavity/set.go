package cavity

import "sort"

// Set maps a cavity element index to its settings.
type Set map[int]*Settings

// Clone deep copies every settings.
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v.Clone()
	}
	return out
}

// Merge returns a new set holding copies of other, completed with copies of
// the entries of s that other does not override.
func (s Set) Merge(other Set) Set {
	out := s.Clone()
	for k, v := range other {
		out[k] = v.Clone()
	}
	return out
}

// Indices returns the sorted element indices of the set.
func (s Set) Indices() []int {
	idx := make([]int, 0, len(s))
	for k := range s {
		idx = append(idx, k)
	}
	sort.Ints(idx)
	return idx
}

// WithStatus returns the sorted indices of cavities in status st.
func (s Set) WithStatus(st Status) []int {
	var idx []int
	for _, k := range s.Indices() {
		if s[k].Status() == st {
			idx = append(idx, k)
		}
	}
	return idx
}
