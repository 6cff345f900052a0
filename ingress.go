// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"

	"github.com/shuiqin/janus-nosip/internal/relay"
	"github.com/shuiqin/janus-nosip/internal/sdprw"
)

// relayCallbacks adapts one session's relay.Session to the host
// contract: peer->WebRTC packets get forwarded via host.RelayRTP/RTCP,
// and a fatal socket error triggers the same teardown hangup would.
type relayCallbacks struct {
	plugin  *Plugin
	session *Session
}

var _ relay.Callbacks = (*relayCallbacks)(nil)

func (c *relayCallbacks) RelayRTP(kind sdprw.Kind, pkt *rtp.Packet) {
	buf, err := pkt.Marshal()
	if err != nil {
		return
	}
	c.plugin.host.RelayRTP(c.session.Handle, kind == sdprw.Video, buf)
}

func (c *relayCallbacks) RelayRTCP(kind sdprw.Kind, pkts []rtcp.Packet) {
	buf, err := rtcp.Marshal(pkts)
	if err != nil {
		return
	}
	c.plugin.host.RelayRTCP(c.session.Handle, kind == sdprw.Video, buf)
}

func (c *relayCallbacks) SavePeerFrame(kind sdprw.Kind, payload []byte) {
	slot := RecPeerAudio
	if kind == sdprw.Video {
		slot = RecPeerVideo
	}
	c.session.recMu.Lock()
	rec := c.session.Recorders[slot]
	c.session.recMu.Unlock()
	if rec != nil {
		rec.SaveFrame(payload)
	}
}

func (c *relayCallbacks) SessionGone(reason error) {
	c.session.Log.Warn().Err(reason).Msg("nosip: relay loop reported fatal socket error")
	// Called on the relay loop's own goroutine; teardown waits for that
	// loop to exit, so it has to run elsewhere.
	go func() {
		c.plugin.teardown(c.session)
		c.plugin.Store.Destroy(c.session.Handle, time.Now())
	}()
}

// IncomingRTP is the host-invoked ingress shim for WebRTC->peer audio
// or video RTP (§4.8). It may run concurrently with the relay loop;
// every field it touches (send gate, local SSRC, SRTP context, socket)
// is set once during setup and frozen thereafter until teardown.
func (p *Plugin) IncomingRTP(handle string, isVideo bool, buf []byte) {
	s := p.Store.Lookup(handle)
	if s == nil || s.Destroyed() {
		return
	}
	kind := sdprw.Audio
	if isVideo {
		kind = sdprw.Video
	}
	ks := s.Media.Kinds[kind]
	if ks == nil || !ks.HasKind || !ks.SendEnabled {
		return
	}
	if s.Media.Relay == nil {
		return
	}

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(buf); err != nil {
		return
	}

	slot := RecLocalAudio
	if isVideo {
		slot = RecLocalVideo
	}
	s.recMu.Lock()
	rec := s.Recorders[slot]
	s.recMu.Unlock()
	if rec != nil {
		rec.SaveFrame(pkt.Payload)
	}

	if err := s.Media.Relay.SendRTP(kind, pkt); err != nil {
		s.Log.Debug().Err(err).Str("kind", string(kind)).Msg("nosip: incoming_rtp send failed")
	}
}

// IncomingRTCP is the host-invoked ingress shim for WebRTC->peer RTCP.
// Per §4.8 the host is responsible for rewriting sender/receiver SSRC
// identifiers before handing the buffer here; this shim only applies
// the outbound SRTP transform and sends.
func (p *Plugin) IncomingRTCP(handle string, isVideo bool, buf []byte) {
	s := p.Store.Lookup(handle)
	if s == nil || s.Destroyed() {
		return
	}
	kind := sdprw.Audio
	if isVideo {
		kind = sdprw.Video
	}
	ks := s.Media.Kinds[kind]
	if ks == nil || !ks.HasKind {
		return
	}
	if s.Media.Relay == nil {
		return
	}

	pkts, err := rtcp.Unmarshal(buf)
	if err != nil {
		return
	}
	if err := s.Media.Relay.SendRTCP(kind, pkts); err != nil {
		s.Log.Debug().Err(err).Str("kind", string(kind)).Msg("nosip: incoming_rtcp send failed")
	}
}
