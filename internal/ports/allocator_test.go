// SPDX-License-Identifier: BSD-2-Clause

package ports

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAllocatePairEvenOddEndian(t *testing.T) {
	a := &Allocator{Min: 30000, Max: 30100}
	pair, err := a.Allocate(net.IPv4(127, 0, 0, 1))
	require.NoError(t, err)
	defer pair.Close()

	require.Equal(t, 0, pair.RTPPort%2)
	require.Equal(t, pair.RTPPort+1, pair.RTCPPort)
	require.GreaterOrEqual(t, pair.RTPPort, a.Min)
	require.LessOrEqual(t, pair.RTCPPort, a.Max+1)
}

func TestAllocateExhaustsOnSinglePortInUse(t *testing.T) {
	held, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 30200})
	require.NoError(t, err)
	defer held.Close()

	a := &Allocator{Min: 30200, Max: 30200}
	_, err = a.Allocate(net.IPv4(127, 0, 0, 1))
	require.ErrorIs(t, err, ErrExhausted)
}

func TestPairCloseIsIdempotentOnNil(t *testing.T) {
	var pair *Pair
	require.NotPanics(t, func() { pair.Close() })
}
