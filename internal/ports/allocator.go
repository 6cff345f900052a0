// SPDX-License-Identifier: BSD-2-Clause

// Package ports reserves UDP port pairs for RTP/RTCP from a configured
// range, grounded on the teacher's media.MediaSession.createListeners
// retry-on-collision approach but adapted to the spec's even/odd
// RTP/RTCP pairing and fixed attempt budget.
package ports

import (
	"fmt"
	"math/rand"
	"net"
)

// MaxAttempts bounds how many random ports are tried before giving up.
const MaxAttempts = 100

// ErrExhausted is returned once MaxAttempts candidate ports have all
// failed to bind.
var ErrExhausted = fmt.Errorf("ports: could not allocate rtp/rtcp pair after %d attempts", MaxAttempts)

// Pair is a bound, not-yet-connected RTP/RTCP socket pair.
type Pair struct {
	RTP      *net.UDPConn
	RTCP     *net.UDPConn
	RTPPort  int
	RTCPPort int
}

// Close releases both sockets.
func (p *Pair) Close() {
	if p == nil {
		return
	}
	if p.RTP != nil {
		p.RTP.Close()
	}
	if p.RTCP != nil {
		p.RTCP.Close()
	}
}

// Allocator reserves even RTP ports plus the following odd RTCP port
// from [Min, Max].
type Allocator struct {
	Min int
	Max int
}

// Allocate binds a fresh RTP/RTCP pair on ip. It is safe for concurrent
// use by independent sessions; a single session should never call it
// twice without closing the previous pair first.
func (a *Allocator) Allocate(ip net.IP) (*Pair, error) {
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		rtpPort := a.randomEvenPort()

		rtpConn, err := bind(ip, rtpPort)
		if err != nil {
			continue
		}

		rtcpConn, err := bind(ip, rtpPort+1)
		if err != nil {
			rtpConn.Close()
			continue
		}

		return &Pair{
			RTP:      rtpConn,
			RTCP:     rtcpConn,
			RTPPort:  rtpPort,
			RTCPPort: rtpPort + 1,
		}, nil
	}
	return nil, ErrExhausted
}

func (a *Allocator) randomEvenPort() int {
	span := a.Max - a.Min
	if span <= 0 {
		return a.Min &^ 1
	}
	p := a.Min + rand.Intn(span+1)
	p &^= 1 // round down to even
	if p < a.Min {
		p += 2 // odd Min: the next even port is still <= Max
	}
	return p
}

func bind(ip net.IP, port int) (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
}
