// SPDX-License-Identifier: BSD-2-Clause

package relay

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSequencerFirstStreamPassesThrough(t *testing.T) {
	var seq Sequencer
	outSeq, outTS := seq.Normalize(100, 8000)
	require.Equal(t, uint16(100), outSeq)
	require.Equal(t, uint32(8000), outTS)

	outSeq, outTS = seq.Normalize(101, 8160)
	require.Equal(t, uint16(101), outSeq)
	require.Equal(t, uint32(8160), outTS)
}

func TestSequencerReconnectSplicesContinuity(t *testing.T) {
	var seq Sequencer
	seq.Normalize(100, 8000)
	seq.Normalize(101, 8160) // bootstraps stride=160
	lastSeq, lastTS := seq.Normalize(102, 8320)
	require.Equal(t, uint16(102), lastSeq)
	require.Equal(t, uint32(8320), lastTS)

	seq.Reconnect()

	// New source restarts its own numbering from a fresh base.
	outSeq, outTS := seq.Normalize(5000, 900000)
	require.Equal(t, lastSeq+1, outSeq)
	require.Equal(t, lastTS+160, outTS)

	outSeq2, outTS2 := seq.Normalize(5001, 900160)
	require.Equal(t, outSeq+1, outSeq2)
	require.Equal(t, outTS+160, outTS2)
}
