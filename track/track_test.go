package track

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCombine(t *testing.T) {
	// s2 has no filter-stage entry (its file produced zero output); the
	// combined table fills it with 0 rather than omitting the sample.
	tab := Combine(
		[]string{"trim", "filter"},
		map[string]Counts{
			"trim":   {"s1": 100, "s2": 50},
			"filter": {"s1": 80},
		},
	)
	assert.Equal(t, []string{"trim", "filter"}, tab.Stages)
	assert.Equal(t, []string{"s1", "s2"}, tab.Samples)
	assert.Equal(t, [][]int{{100, 80}, {50, 0}}, tab.Counts)

	n, ok := tab.Get("s2", "filter")
	assert.True(t, ok)
	assert.Equal(t, 0, n)
	_, ok = tab.Get("s3", "trim")
	assert.False(t, ok)
}

func TestCombineColumnOrder(t *testing.T) {
	// Column order follows the canonical stage order, not join order.
	tab := Combine(
		[]string{"input", "trim", "filter", "denoise"},
		map[string]Counts{
			"denoise": {"s1": 10},
			"input":   {"s1": 100},
			"filter":  {"s1": 40},
			"trim":    {"s1": 90},
		},
	)
	assert.Equal(t, [][]int{{100, 90, 40, 10}}, tab.Counts)
}

func TestCheckMonotonic(t *testing.T) {
	tab := Combine(
		[]string{"trim", "filter"},
		map[string]Counts{
			"trim":   {"good": 10, "bad": 5},
			"filter": {"good": 10, "bad": 7},
		},
	)
	assert.Equal(t, []string{"bad"}, tab.CheckMonotonic())
}

func TestDecorateParams(t *testing.T) {
	tab := Combine(
		[]string{"trim"},
		map[string]Counts{"trim": {"ee2tl240__s1": 10, "s2": 3}},
	)
	tab.DecorateParams("__")
	assert.Equal(t, []string{"ee2tl240", ""}, tab.Params)
	// Identifiers themselves are untouched.
	assert.Equal(t, []string{"ee2tl240__s1", "s2"}, tab.Samples)
}

func TestMerge(t *testing.T) {
	a := Combine([]string{"trim"}, map[string]Counts{"trim": {"s1": 10}})
	b := Combine([]string{"trim"}, map[string]Counts{"trim": {"s2": 5}})
	assert.NoError(t, a.Merge(b))
	assert.Equal(t, []string{"s1", "s2"}, a.Samples)

	c := Combine([]string{"other"}, map[string]Counts{"other": {"s3": 1}})
	assert.Error(t, a.Merge(c))
}

func TestMergeDuplicateSample(t *testing.T) {
	a := Combine([]string{"trim"}, map[string]Counts{"trim": {"s1": 10}})
	b := Combine([]string{"trim"}, map[string]Counts{"trim": {"s1": 5}})
	assert.NoError(t, a.Merge(b))

	// Both rows are kept and both are addressable through Get.
	assert.Equal(t, []string{"s1", "s1.1"}, a.Samples)
	n, ok := a.Get("s1", "trim")
	assert.True(t, ok)
	assert.Equal(t, 10, n)
	n, ok = a.Get("s1.1", "trim")
	assert.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestTSVRoundTrip(t *testing.T) {
	tempDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	ctx := context.Background()

	tab := Combine(
		[]string{"input", "filtered"},
		map[string]Counts{
			"input":    {"s1": 100, "s2": 50},
			"filtered": {"s1": 80},
		},
	)
	tab.DecorateParams("__")
	path := filepath.Join(tempDir, "track.tsv")
	assert.NoError(t, WriteTSV(ctx, tab, path))

	got, err := ReadTSV(ctx, path)
	assert.NoError(t, err)
	assert.Equal(t, tab.Stages, got.Stages)
	assert.Equal(t, tab.Samples, got.Samples)
	assert.Equal(t, tab.Counts, got.Counts)
	assert.Equal(t, tab.Params, got.Params)
}
