package swap_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/d3zd3z/swapcore/pkg/swap"
)

func sumOf(t *testing.T, prefix [4]byte, data []byte) swap.Fingerprint {
	t.Helper()
	h := swap.NewHasher()
	h.Init(prefix)
	h.Update(data)
	return h.Final()
}

func Test_Hasher_Is_Deterministic_For_Same_Input(t *testing.T) {
	t.Parallel()

	prefix := [4]byte{1, 2, 3, 4}
	data := []byte("the quick brown fox jumps over the lazy dog")

	a := sumOf(t, prefix, data)
	b := sumOf(t, prefix, data)
	require.Equal(t, a, b, "same prefix and data must hash identically")
}

func Test_Hasher_Differs_By_Content(t *testing.T) {
	t.Parallel()

	prefix := [4]byte{}
	a := sumOf(t, prefix, []byte("page A content"))
	b := sumOf(t, prefix, []byte("page B content"))
	require.NotEqual(t, a, b)
}

func Test_Hasher_Differs_By_Prefix(t *testing.T) {
	t.Parallel()

	data := []byte("identical page content across a prefix bump")
	a := sumOf(t, [4]byte{0, 0, 0, 0}, data)
	b := sumOf(t, [4]byte{0, 0, 0, 1}, data)
	require.NotEqual(t, a, b, "bumping the prefix must change the fingerprint")
}

func Test_Hasher_Update_Can_Be_Called_Incrementally(t *testing.T) {
	t.Parallel()

	prefix := [4]byte{9, 9, 9, 9}
	data := []byte("split across two Update calls for the same page")

	h1 := swap.NewHasher()
	h1.Init(prefix)
	h1.Update(data)
	whole := h1.Final()

	h2 := swap.NewHasher()
	h2.Init(prefix)
	h2.Update(data[:10])
	h2.Update(data[10:])
	split := h2.Final()

	require.Equal(t, whole, split, "Update must be streamable without affecting the result")
}
