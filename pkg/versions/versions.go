package versions

import (
	"sort"
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// Compare orders two GNU-style dotted release versions, returning
// -1, 0 or +1. The first three components follow semver ordering;
// four-component releases like 0.19.8.1 tie-break on the remaining
// numeric fields. Strings that do not parse fall back to plain
// lexical order so sorting stays total.
func Compare(a, b string) int {
	aHead, aRest := split(a)
	bHead, bRest := split(b)

	if semver.IsValid(aHead) && semver.IsValid(bHead) {
		if c := semver.Compare(aHead, bHead); c != 0 {
			return c
		}
		if c := compareInts(aRest, bRest); c != 0 {
			return c
		}
		return 0
	}

	return strings.Compare(a, b)
}

// split separates a version into a canonical semver head covering the
// first three dotted components and the numeric remainder.
func split(v string) (string, []int) {
	fields := strings.Split(strings.TrimPrefix(v, "v"), ".")

	n := len(fields)
	if n > 3 {
		n = 3
	}
	head := semver.Canonical("v" + strings.Join(fields[:n], "."))

	var rest []int
	if len(fields) > 3 {
		for _, f := range fields[3:] {
			i, err := strconv.Atoi(f)
			if err != nil {
				return "", nil
			}
			rest = append(rest, i)
		}
	}
	return head, rest
}

func compareInts(a, b []int) int {
	for i := 0; i < len(a) || i < len(b); i++ {
		av, bv := 0, 0
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return +1
		}
	}
	return 0
}

// Sort orders versions in place, oldest first
func Sort(vs []string) {
	sort.Slice(vs, func(i, j int) bool {
		return Compare(vs[i], vs[j]) < 0
	})
}

// Latest returns the newest version, or "" for an empty slice
func Latest(vs []string) string {
	latest := ""
	for _, v := range vs {
		if latest == "" || Compare(v, latest) > 0 {
			latest = v
		}
	}
	return latest
}

// Missing returns the upstream versions absent from existing,
// deduplicated and sorted oldest first.
func Missing(upstream, existing []string) []string {
	have := make(map[string]struct{}, len(existing))
	for _, v := range existing {
		have[v] = struct{}{}
	}

	seen := make(map[string]struct{}, len(upstream))
	var missing []string
	for _, v := range upstream {
		if _, ok := have[v]; ok {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		missing = append(missing, v)
	}

	Sort(missing)
	return missing
}
