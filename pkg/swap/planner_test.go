package swap_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/d3zd3z/swapcore/pkg/swap"
)

// Test_Planner_BuildSlide_Grows_By_One_Page checks the worked example from
// the design notes: a 3-page slot 0 image slides down by exactly one page,
// producing one step per existing page, highest page first.
func Test_Planner_BuildSlide_Grows_By_One_Page(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot0, _ := driver.Open(0)
	slot1, _ := driver.Open(1)

	imgA := make([]byte, 1500)
	for i := range imgA {
		imgA[i] = byte(i % 251) // 251 does not divide 512, so no two pages match
	}
	writePages(t, driver, 0, imgA, 512)
	writePages(t, driver, 1, make([]byte, 900), 512)

	fpr := swap.NewFingerprinter(slot0, slot1)
	var fp swap.Fingerprints
	require.NoError(t, fpr.Compute(&fp, swap.Sizes{1500, 900}, [4]byte{}))

	pl := swap.NewPlanner(slot0, slot1)
	list, err := pl.BuildSlide(&fp, true)
	require.NoError(t, err)

	items := list.Slice()
	require.Len(t, items, 3)
	for i, item := range items {
		require.Equal(t, 0, item.SrcSlot)
		require.Equal(t, 0, item.DestSlot)
		require.Equal(t, uint32(3-i), item.DestPage)
		require.Equal(t, item.DestPage-1, item.SrcPage)
	}
}

// Test_Planner_BuildSwap_Skips_Pages_That_Already_Match verifies the
// initial=true skip-on-fingerprint-match rule (§4.2): when slot 0's page
// already carries what slot 1 would move there, no work item is emitted.
func Test_Planner_BuildSwap_Skips_Pages_That_Already_Match(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot0, _ := driver.Open(0)
	slot1, _ := driver.Open(1)

	pl := swap.NewPlanner(slot0, slot1)

	var fp swap.Fingerprints
	fp.Sizes = swap.Sizes{1024, 1024}
	fp.Counts[0] = 2
	fp.Counts[1] = 2

	shared := swap.Fingerprint{1, 1, 1, 1}
	fp.Hashes[0][0] = shared
	fp.Hashes[0][1] = swap.Fingerprint{2, 2, 2, 2}
	fp.Hashes[1][0] = shared
	fp.Hashes[1][1] = swap.Fingerprint{3, 3, 3, 3}

	list, err := pl.BuildSwap(&fp, true)
	require.NoError(t, err)

	for _, item := range list.Slice() {
		require.False(t, item.SrcSlot == 1 && item.SrcPage == 0 && item.DestPage == 0,
			"page 0 already matches and must not be re-copied from slot 1")
	}
}

// Test_Planner_Builds_Are_Deterministic checks §5: the same inputs always
// produce byte-identical work lists.
func Test_Planner_Builds_Are_Deterministic(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot0, _ := driver.Open(0)
	slot1, _ := driver.Open(1)

	writePages(t, driver, 0, make([]byte, 1500), 512)
	writePages(t, driver, 1, make([]byte, 900), 512)

	fpr := swap.NewFingerprinter(slot0, slot1)
	var fp swap.Fingerprints
	require.NoError(t, fpr.Compute(&fp, swap.Sizes{1500, 900}, [4]byte{}))

	pl := swap.NewPlanner(slot0, slot1)

	a, err := pl.BuildSlide(&fp, true)
	require.NoError(t, err)
	b, err := pl.BuildSlide(&fp, true)
	require.NoError(t, err)
	if diff := cmp.Diff(a.Slice(), b.Slice()); diff != "" {
		t.Fatalf("BuildSlide not deterministic (-first +second):\n%s", diff)
	}

	c, err := pl.BuildSwap(&fp, true)
	require.NoError(t, err)
	d, err := pl.BuildSwap(&fp, true)
	require.NoError(t, err)
	if diff := cmp.Diff(c.Slice(), d.Slice()); diff != "" {
		t.Fatalf("BuildSwap not deterministic (-first +second):\n%s", diff)
	}
}
