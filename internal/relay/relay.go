// SPDX-License-Identifier: BSD-2-Clause

// Package relay owns the mutable "hot path" state of one bridged
// session -- the bound sockets, SRTP contexts, learned SSRCs and
// sequencers for each negotiated media kind -- and runs the loop that
// shuttles packets between them and the host gateway's WebRTC side.
//
// It is grounded on the teacher's media.RTPSession read loop
// (media/rtp_session.go), generalized from "one socket pair, one
// direction" to "N media kinds, each independently reconnectable",
// and adapted from the original plugin's poll(2)+self-pipe event loop
// to goroutine-per-socket readers fanning into a single select loop
// driven by context.Context cancellation (see DESIGN.md).
package relay

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/rs/zerolog"

	"github.com/shuiqin/janus-nosip/internal/sdprw"
	"github.com/shuiqin/janus-nosip/internal/srtpctx"
)

// KindState is the per-media-kind runtime state of a session: its
// sockets, SRTP contexts, learned SSRCs, sequencer and counters.
// Fields set once at setup (Present, the local conns/ports) need no
// synchronization after Run starts; RemoteRTPAddr/RemoteRTCPAddr are
// replaced wholesale on reconnect under mu, and the atomics are safe
// for the reader goroutines and Run to touch concurrently.
type KindState struct {
	Kind sdprw.Kind

	Present bool

	LocalRTP     *net.UDPConn
	LocalRTCP    *net.UDPConn
	LocalRTPPort int
	LocalRTCPPort int

	mu             sync.Mutex
	RemoteRTPAddr  *net.UDPAddr
	RemoteRTCPAddr *net.UDPAddr
	connected      bool

	SRTP *srtpctx.Context
	Seq  *Sequencer

	// rtcpClosed is set once the RTCP socket has been soft-closed after
	// an ECONNREFUSED (peer never opened its RTCP port), so the reader
	// goroutine's resulting read error is recognized as expected
	// fallout instead of re-escalated.
	rtcpClosed atomic.Bool

	PeerSSRC  atomic.Uint32
	LocalSSRC atomic.Uint32

	RecvPackets atomic.Uint64
	RecvBytes   atomic.Uint64
	SendPackets atomic.Uint64
	SendBytes   atomic.Uint64
}

func (k *KindState) remotes() (rtpAddr, rtcpAddr *net.UDPAddr, connected bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.RemoteRTPAddr, k.RemoteRTCPAddr, k.connected
}

func (k *KindState) setRemotes(rtpAddr, rtcpAddr *net.UDPAddr) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.RemoteRTPAddr = rtpAddr
	k.RemoteRTCPAddr = rtcpAddr
	k.connected = false
}

// Callbacks is how the relay loop hands decoded media to, and learns
// teardown requests from, the owning nosip.Session without importing
// it directly (avoiding the package cycle described in DESIGN.md).
type Callbacks interface {
	// RelayRTP forwards a decrypted RTP packet for kind toward the
	// WebRTC side of the bridge.
	RelayRTP(kind sdprw.Kind, pkt *rtp.Packet)
	// RelayRTCP forwards a decrypted RTCP compound packet for kind.
	RelayRTCP(kind sdprw.Kind, pkts []rtcp.Packet)
	// SavePeerFrame hands a decrypted inbound RTP payload to any
	// enabled peer-side recorder for kind.
	SavePeerFrame(kind sdprw.Kind, payload []byte)
	// SessionGone is called from within Run when a socket error is
	// classified as session-fatal, so the owner can start the
	// hangup/destroy path. Run keeps running until its ctx is cancelled.
	SessionGone(reason error)
}

// Session is one bridged call's relay-side state: every negotiated
// media kind plus the machinery to run its I/O loop.
type Session struct {
	Handle string
	Log    zerolog.Logger

	Kinds map[sdprw.Kind]*KindState

	// Wake is signalled after MarkUpdated replaces a kind's remote
	// address and resets its sequencer, so Run reconnects sockets
	// without waiting on a timer.
	Wake chan struct{}

	Callbacks Callbacks
}

// NewSession builds a Session with an empty Kinds map; the owner adds
// one KindState per negotiated kind.
func NewSession(handle string, log zerolog.Logger, cb Callbacks) *Session {
	return &Session{
		Handle:    handle,
		Log:       log,
		Kinds:     make(map[sdprw.Kind]*KindState, len(sdprw.Kinds)),
		Wake:      make(chan struct{}, 1),
		Callbacks: cb,
	}
}

// MarkUpdated installs a new remote endpoint for kind and nudges Run
// to reconnect. Called by the request handler after processing a
// re-offer that changed the peer's advertised address.
func (s *Session) MarkUpdated(kind sdprw.Kind, rtpAddr, rtcpAddr *net.UDPAddr) {
	ks, ok := s.Kinds[kind]
	if !ok {
		return
	}
	ks.setRemotes(rtpAddr, rtcpAddr)
	if ks.Seq != nil {
		ks.Seq.Reconnect()
	}
	select {
	case s.Wake <- struct{}{}:
	default:
	}
}

type packetEvent struct {
	kind  sdprw.Kind
	rtcp  bool
	buf   []byte
	n     int
	err   error
}

const readBufSize = 1500

// Run drives the session's sockets until ctx is done; a session-fatal
// socket error is reported via Callbacks.SessionGone and does not by
// itself make Run return. It connects each kind's
// sockets to their currently configured remote address, spawns one
// reader goroutine per open socket, and forwards decoded packets via
// Callbacks.
func (s *Session) Run(ctx context.Context) error {
	events := make(chan packetEvent, 32)
	var wg sync.WaitGroup

	reconnectAll := func() {
		for kind, ks := range s.Kinds {
			if !ks.Present {
				continue
			}
			rtpAddr, rtcpAddr, connected := ks.remotes()
			if connected || rtpAddr == nil {
				continue
			}
			if err := connectUDP(ks.LocalRTP, rtpAddr); err != nil {
				s.Log.Warn().Err(err).Str("kind", string(kind)).Msg("relay: connect rtp socket")
				continue
			}
			if rtcpAddr != nil {
				if err := connectUDP(ks.LocalRTCP, rtcpAddr); err != nil {
					s.Log.Warn().Err(err).Str("kind", string(kind)).Msg("relay: connect rtcp socket")
				}
			}
			ks.mu.Lock()
			ks.connected = true
			ks.mu.Unlock()
		}
	}
	reconnectAll()

	readerCtx, cancelReaders := context.WithCancel(ctx)
	defer cancelReaders()

	for kind, ks := range s.Kinds {
		if !ks.Present {
			continue
		}
		wg.Add(2)
		go s.readLoop(readerCtx, &wg, kind, ks.LocalRTP, false, events)
		go s.readLoop(readerCtx, &wg, kind, ks.LocalRTCP, true, events)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	defer func() {
		cancelReaders()
		wg.Wait()
		close(events)
		for _, ks := range s.Kinds {
			ks.SRTP.Cleanup()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.Wake:
			reconnectAll()

		case <-ticker.C:
			// periodic tick reserved for future keepalive/stat logging;
			// nothing to do yet.

		case ev, ok := <-events:
			if !ok {
				return nil
			}
			s.handleEvent(ev)
		}
	}
}

func (s *Session) readLoop(ctx context.Context, wg *sync.WaitGroup, kind sdprw.Kind, conn *net.UDPConn, isRTCP bool, out chan<- packetEvent) {
	defer wg.Done()
	buf := make([]byte, readBufSize)
	for {
		if ctx.Err() != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case out <- packetEvent{kind: kind, rtcp: isRTCP, err: err}:
			case <-ctx.Done():
			}
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		select {
		case out <- packetEvent{kind: kind, rtcp: isRTCP, buf: cp, n: n}:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Session) handleEvent(ev packetEvent) {
	ks, ok := s.Kinds[ev.kind]
	if !ok {
		return
	}

	if ev.err != nil {
		if ev.rtcp && ks.rtcpClosed.Load() {
			return
		}
		s.handleSocketError(ks, ev)
		return
	}

	if ev.rtcp {
		s.handleRTCP(ks, ev.buf[:ev.n])
		return
	}
	s.handleRTP(ks, ev.buf[:ev.n])
}

// handleSocketError classifies one read-error event per §4.6's
// POLLERR/POLLHUP handling: if a reconnect is already pending for this
// kind, the error is stale fallout from the socket being replaced and
// is deferred to the next reconnectAll; otherwise SO_ERROR decides
// whether it's benign (0), an RTCP-only ECONNREFUSED (peer never
// opened that port), or session-fatal.
func (s *Session) handleSocketError(ks *KindState, ev packetEvent) {
	if _, _, connected := ks.remotes(); !connected {
		return
	}

	conn := ks.LocalRTP
	if ev.rtcp {
		conn = ks.LocalRTCP
	}

	errno, err := socketErrno(conn)
	if err != nil {
		s.Log.Warn().Err(err).Str("kind", string(ev.kind)).Msg("relay: socket error probe failed")
		if s.Callbacks != nil {
			s.Callbacks.SessionGone(ev.err)
		}
		return
	}
	if errno == 0 {
		return
	}
	if ev.rtcp && errno == syscall.ECONNREFUSED {
		s.Log.Debug().Str("kind", string(ev.kind)).Msg("relay: rtcp connection refused, closing rtcp socket only")
		ks.rtcpClosed.Store(true)
		conn.Close()
		return
	}

	s.Log.Warn().Err(errno).Str("kind", string(ev.kind)).Bool("rtcp", ev.rtcp).Msg("relay: socket error")
	if s.Callbacks != nil {
		s.Callbacks.SessionGone(errno)
	}
}

func (s *Session) handleRTP(ks *KindState, buf []byte) {
	plain := make([]byte, len(buf)+256)
	var hdr rtp.Header
	n, err := hdr.Unmarshal(buf)
	if err != nil {
		return
	}
	plain, err = ks.SRTP.UnprotectRTP(plain[:0], buf, &hdr)
	if err != nil {
		s.Log.Debug().Err(err).Str("kind", string(ks.Kind)).Msg("relay: srtp unprotect rtp failed")
		return
	}
	_ = n

	pkt := &rtp.Packet{}
	if err := pkt.Unmarshal(plain); err != nil {
		return
	}

	ks.PeerSSRC.Store(pkt.SSRC)
	ks.RecvPackets.Add(1)
	ks.RecvBytes.Add(uint64(len(plain)))

	if ks.Seq != nil {
		pkt.SequenceNumber, pkt.Timestamp = ks.Seq.Normalize(pkt.SequenceNumber, pkt.Timestamp)
	}

	if s.Callbacks != nil {
		s.Callbacks.SavePeerFrame(ks.Kind, pkt.Payload)
		s.Callbacks.RelayRTP(ks.Kind, pkt)
	}
}

func (s *Session) handleRTCP(ks *KindState, buf []byte) {
	plain := make([]byte, len(buf)+256)
	plain, err := ks.SRTP.UnprotectRTCP(plain[:0], buf)
	if err != nil {
		s.Log.Debug().Err(err).Str("kind", string(ks.Kind)).Msg("relay: srtp unprotect rtcp failed")
		return
	}

	pkts, err := rtcp.Unmarshal(plain)
	if err != nil {
		return
	}

	if s.Callbacks != nil {
		s.Callbacks.RelayRTCP(ks.Kind, pkts)
	}
}

// SendRTP protects and writes an outgoing RTP packet for kind, learning
// the local SSRC on first use as described in the session data model.
func (s *Session) SendRTP(kind sdprw.Kind, pkt *rtp.Packet) error {
	ks, ok := s.Kinds[kind]
	if !ok || !ks.Present {
		return nil
	}
	ks.LocalSSRC.CompareAndSwap(0, pkt.SSRC)

	raw, err := pkt.Marshal()
	if err != nil {
		return err
	}
	dst := make([]byte, len(raw)+256)
	dst, err = ks.SRTP.ProtectRTP(dst[:0], raw, &pkt.Header)
	if err != nil {
		return err
	}

	n, err := ks.LocalRTP.Write(dst)
	if err != nil {
		return err
	}
	ks.SendPackets.Add(1)
	ks.SendBytes.Add(uint64(n))
	return nil
}

// SendRTCP protects and writes an outgoing RTCP compound packet for kind.
func (s *Session) SendRTCP(kind sdprw.Kind, pkts []rtcp.Packet) error {
	ks, ok := s.Kinds[kind]
	if !ok || !ks.Present {
		return nil
	}
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}
	dst := make([]byte, len(raw)+256)
	dst, err = ks.SRTP.ProtectRTCP(dst[:0], raw)
	if err != nil {
		return err
	}
	n, err := ks.LocalRTCP.Write(dst)
	if err != nil {
		return err
	}
	ks.SendBytes.Add(uint64(n))
	return nil
}

// Close releases every kind's sockets. Safe to call after Run returns.
func (s *Session) Close() {
	for _, ks := range s.Kinds {
		if ks.LocalRTP != nil {
			ks.LocalRTP.Close()
		}
		if ks.LocalRTCP != nil {
			ks.LocalRTCP.Close()
		}
	}
}
