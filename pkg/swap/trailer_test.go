package swap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/d3zd3z/swapcore/pkg/swap"
)

func buildFingerprints(t *testing.T, sizeA, sizeB uint32) swap.Fingerprints {
	t.Helper()
	var fp swap.Fingerprints
	fp.Sizes = swap.Sizes{sizeA, sizeB}
	fp.Prefix = [4]byte{7, 7, 7, 7}
	fp.Counts[0] = 3
	fp.Counts[1] = 2
	for i := 0; i < fp.Counts[0]; i++ {
		fp.Hashes[0][i] = swap.Fingerprint{byte(i), 0, 0, 0}
	}
	for i := 0; i < fp.Counts[1]; i++ {
		fp.Hashes[1][i] = swap.Fingerprint{0, byte(i), 0, 0}
	}
	return fp
}

func Test_Trailer_Scan_Before_Any_Write_Is_Unknown(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot1, err := driver.Open(1)
	require.NoError(t, err)

	trailer, err := swap.NewTrailer(slot1)
	require.NoError(t, err)

	phase, err := trailer.Scan()
	require.NoError(t, err)
	require.Equal(t, swap.PhaseUnknown, phase)
}

func Test_Trailer_WriteMagic_Then_Scan_Is_Request(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot1, err := driver.Open(1)
	require.NoError(t, err)

	trailer, err := swap.NewTrailer(slot1)
	require.NoError(t, err)

	require.NoError(t, trailer.WriteMagic())

	phase, err := trailer.Scan()
	require.NoError(t, err)
	require.Equal(t, swap.PhaseRequest, phase)
}

func Test_Trailer_StartStatus_Round_Trips_Through_LoadStatus(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot1, err := driver.Open(1)
	require.NoError(t, err)

	trailer, err := swap.NewTrailer(slot1)
	require.NoError(t, err)

	want := buildFingerprints(t, 1500, 900)
	require.NoError(t, trailer.StartStatus(&want, swap.PhaseSlide))

	phase, err := trailer.Scan()
	require.NoError(t, err)
	require.Equal(t, swap.PhaseSlide, phase)

	var got swap.Fingerprints
	require.NoError(t, trailer.LoadStatus(&got))

	require.Equal(t, want.Sizes, got.Sizes)
	require.Equal(t, want.Prefix, got.Prefix)
	require.Equal(t, want.Counts, got.Counts)
	for i := 0; i < want.Counts[0]; i++ {
		require.Equal(t, want.Hashes[0][i], got.Hashes[0][i])
	}
	for i := 0; i < want.Counts[1]; i++ {
		require.Equal(t, want.Hashes[1][i], got.Hashes[1][i])
	}
}

func Test_Trailer_UpdateStatus_Advances_Phase_And_Survives_Reread(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot1, err := driver.Open(1)
	require.NoError(t, err)

	trailer, err := swap.NewTrailer(slot1)
	require.NoError(t, err)

	fp := buildFingerprints(t, 1500, 900)
	require.NoError(t, trailer.StartStatus(&fp, swap.PhaseSlide))

	require.NoError(t, trailer.UpdateStatus(swap.PhaseSwap))
	phase, err := trailer.Scan()
	require.NoError(t, err)
	require.Equal(t, swap.PhaseSwap, phase)

	require.NoError(t, trailer.UpdateStatus(swap.PhaseDone))
	phase, err = trailer.Scan()
	require.NoError(t, err)
	require.Equal(t, swap.PhaseDone, phase)
}

func Test_Trailer_UpdateStatus_Toggles_Physical_Page_Each_Time(t *testing.T) {
	t.Parallel()

	driver := newTestDriver(t, 8)
	slot1, err := driver.Open(1)
	require.NoError(t, err)

	trailer, err := swap.NewTrailer(slot1)
	require.NoError(t, err)

	fp := buildFingerprints(t, 1500, 900)
	require.NoError(t, trailer.StartStatus(&fp, swap.PhaseSlide))

	first, err := swap.DumpTrailer(slot1)
	require.NoError(t, err)

	require.NoError(t, trailer.UpdateStatus(swap.PhaseSwap))
	second, err := swap.DumpTrailer(slot1)
	require.NoError(t, err)

	require.NotEqual(t, first.Authoritative, second.Authoritative, "A/B toggle must flip physical page on every update")
	require.Equal(t, second.Phase, swap.PhaseSwap)
}
