package versions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"0.21", "0.22", -1},
		{"0.22", "0.21", +1},
		{"0.22.5", "0.22.5", 0},
		{"0.22.4", "0.22.5", -1},
		{"0.21", "0.21.1", -1},
		{"0.19.8", "0.19.8.1", -1},
		{"0.19.8.1", "0.19.8.2", -1},
		{"0.19.8.1", "0.19.8.1", 0},
		{"0.19.8.1", "0.19.9", -1},
		{"0.19.8.1", "0.20", -1},
		{"0.20.1", "0.19.8.1", +1},
		{"1.0", "0.22.5", +1},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Compare(tc.a, tc.b), "Compare(%q, %q)", tc.a, tc.b)
	}
}

func TestCompareFallsBackToLexical(t *testing.T) {
	assert.Equal(t, -1, Compare("abc", "abd"))
	assert.Equal(t, 0, Compare("not-a-version", "not-a-version"))
}

func TestSort(t *testing.T) {
	vs := []string{"0.22.5", "0.19.8.1", "0.21.1", "0.20.2", "0.19.8"}
	Sort(vs)
	assert.Equal(t, []string{"0.19.8", "0.19.8.1", "0.20.2", "0.21.1", "0.22.5"}, vs)
}

func TestLatest(t *testing.T) {
	assert.Equal(t, "0.22.5", Latest([]string{"0.21", "0.22.5", "0.19.8.1"}))
	assert.Equal(t, "", Latest(nil))
}

func TestMissing(t *testing.T) {
	upstream := []string{"0.22.5", "0.21.1", "0.22.4", "0.22.5"}
	existing := []string{"0.22.4"}
	assert.Equal(t, []string{"0.21.1", "0.22.5"}, Missing(upstream, existing))
}

func TestMissingEmptyUpstream(t *testing.T) {
	assert.Empty(t, Missing(nil, []string{"0.22.4"}))
}

func TestMissingNothingPublishedYet(t *testing.T) {
	upstream := []string{"0.21", "0.20"}
	assert.Equal(t, []string{"0.20", "0.21"}, Missing(upstream, nil))
}
