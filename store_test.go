// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestStoreCreateLookupDestroy(t *testing.T) {
	st := NewStore()
	s := NewSession("h1", zerolog.Nop())

	require.True(t, st.Create(s))
	require.False(t, st.Create(s)) // duplicate handle rejected

	require.Same(t, s, st.Lookup("h1"))

	now := time.Now()
	got := st.Destroy("h1", now)
	require.Same(t, s, got)
	require.Nil(t, st.Lookup("h1"))
	require.True(t, s.Destroyed())
}

func TestStoreDestroyUnknownIsNoop(t *testing.T) {
	st := NewStore()
	require.Nil(t, st.Destroy("missing", time.Now()))
}

func TestStoreSweepRespectsGrace(t *testing.T) {
	st := NewStore()
	s := NewSession("h2", zerolog.Nop())
	st.Create(s)

	destroyedAt := time.Now()
	st.Destroy("h2", destroyedAt)

	// Not yet past grace.
	freed := st.Sweep(destroyedAt.Add(1*time.Second), 5*time.Second)
	require.Empty(t, freed)

	// Past grace.
	freed = st.Sweep(destroyedAt.Add(6*time.Second), 5*time.Second)
	require.Len(t, freed, 1)
	require.Same(t, s, freed[0])

	// Already swept, nothing left.
	freed = st.Sweep(destroyedAt.Add(10*time.Second), 5*time.Second)
	require.Empty(t, freed)
}

func TestSessionHangupIsOneShot(t *testing.T) {
	s := NewSession("h3", zerolog.Nop())
	require.True(t, s.beginHangup())
	require.False(t, s.beginHangup())
}
