package swap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/d3zd3z/swapcore/internal/flashsim"
	"github.com/d3zd3z/swapcore/pkg/swap"
)

func newTestDriver(t *testing.T, slot1Pages uint32) *flashsim.Driver {
	t.Helper()
	const pageSize = 512
	driver, err := flashsim.NewDriver([2]uint32{(slot1Pages + 1) * pageSize, slot1Pages * pageSize}, pageSize, nil, nil)
	require.NoError(t, err)
	return driver
}

func writePages(t *testing.T, driver *flashsim.Driver, id int, content []byte, pageSize uint32) {
	t.Helper()
	area, err := driver.Open(id)
	require.NoError(t, err)

	pos := uint32(0)
	for pos < uint32(len(content)) {
		buf := make([]byte, pageSize)
		copy(buf, content[pos:])
		require.NoError(t, area.Erase(pos, pageSize))
		require.NoError(t, area.Write(pos, buf))
		pos += pageSize
	}
}

func Test_Fingerprinter_Compute_Is_Deterministic(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot0, err := driver.Open(0)
	require.NoError(t, err)
	slot1, err := driver.Open(1)
	require.NoError(t, err)

	imgA := make([]byte, 1500)
	for i := range imgA {
		imgA[i] = byte(i)
	}
	imgB := make([]byte, 900)
	for i := range imgB {
		imgB[i] = byte(i * 3)
	}
	writePages(t, driver, 0, imgA, 512)
	writePages(t, driver, 1, imgB, 512)

	fpr := swap.NewFingerprinter(slot0, slot1)
	sizes := swap.Sizes{uint32(len(imgA)), uint32(len(imgB))}
	prefix := [4]byte{1, 0, 0, 0}

	var a, b swap.Fingerprints
	require.NoError(t, fpr.Compute(&a, sizes, prefix))
	require.NoError(t, fpr.Compute(&b, sizes, prefix))

	require.Equal(t, a.Counts, b.Counts)
	require.Equal(t, a.Hashes, b.Hashes)
	require.Equal(t, 3, a.Counts[0])
	require.Equal(t, 2, a.Counts[1])
}

func Test_Fingerprinter_Iter_Walks_Canonical_Order(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot0, _ := driver.Open(0)
	slot1, _ := driver.Open(1)

	writePages(t, driver, 0, make([]byte, 1200), 512)
	writePages(t, driver, 1, make([]byte, 600), 512)

	fpr := swap.NewFingerprinter(slot0, slot1)
	var fp swap.Fingerprints
	require.NoError(t, fpr.Compute(&fp, swap.Sizes{1200, 600}, [4]byte{}))

	it := fp.Iter()
	var slots []int
	for {
		_, slot, _, ok := it.Next()
		if !ok {
			break
		}
		slots = append(slots, slot)
	}
	require.Equal(t, []int{0, 0, 0, 1, 1}, slots)
}
