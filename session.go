// SPDX-License-Identifier: BSD-2-Clause

// Package nosip implements a media-bridging plugin that relays RTP and
// RTCP between a WebRTC endpoint (mediated by a host gateway) and a
// legacy peer speaking plain RTP/AVP or RTP/SAVP. It performs no
// signalling of its own; signalling is the calling application's job,
// which shuttles opaque SDP blobs across the Plugin boundary defined
// in plugin.go.
//
// The session type and its store live in this root package rather
// than under internal/, mirroring the teacher's own choice to keep
// DialogClientSession/DialogServerSession and their cache in the root
// diago package: the relay loop (internal/relay) and SDP layer
// (internal/sdprw) need to stay free of any dependency on Session, so
// Session is assembled here, one level up, from their exported types.
package nosip

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shuiqin/janus-nosip/internal/relay"
	"github.com/shuiqin/janus-nosip/internal/sdprw"
	"github.com/shuiqin/janus-nosip/internal/srtpctx"
)

// GracePeriod is how long a destroyed session stays in the deferred
// list before the reaper frees it.
const GracePeriod = 5 * time.Second

// Recorder is a sink for one {local,peer}x{audio,video} recording.
type Recorder interface {
	SaveFrame(payload []byte) error
	Close() error
}

// MediaKindState is the session-handler's view of one negotiated media
// kind: the parts of §3's MediaState a request needs to read or
// mutate, on top of the relay package's own KindState which owns the
// sockets/SRTP/sequencer.
type MediaKindState struct {
	Kind sdprw.Kind

	HasKind bool

	LocalRTPPort  int
	LocalRTCPPort int

	RemoteRTPPort  int
	RemoteRTCPPort int

	Formats     []string
	PayloadType int
	PayloadName string

	SendEnabled bool

	SRTPSuiteIn  srtpctx.Suite
	SRTPSuiteOut srtpctx.Suite
}

// MediaState is the session's media-bridge state, combining the
// handler-owned bookkeeping above with the relay package's live
// runtime state once sockets are allocated.
type MediaState struct {
	RemoteIP net.IP

	Kinds map[sdprw.Kind]*MediaKindState

	RequireSRTP     bool
	HasSRTPLocal    bool
	HasSRTPRemote   bool

	Ready   atomic.Bool
	updated atomic.Bool

	Relay *relay.Session
}

func newMediaState() *MediaState {
	ms := &MediaState{Kinds: make(map[sdprw.Kind]*MediaKindState, len(sdprw.Kinds))}
	for _, k := range sdprw.Kinds {
		ms.Kinds[k] = &MediaKindState{Kind: k}
	}
	return ms
}

// Session is the central entity per §3: one bridged call, identified
// by an opaque host-supplied handle.
type Session struct {
	Handle string

	mu  sync.Mutex
	SDP []byte // most recently accepted parsed SDP, offer or answer

	Media *MediaState

	recMu     sync.Mutex
	Recorders [4]Recorder // local-audio, local-video, peer-audio, peer-video

	destroyedAt atomic.Int64 // unix nano; 0 while live
	hangingUp   atomic.Bool

	runCancel context.CancelFunc
	runDone   chan struct{}

	Log zerolog.Logger
}

// Recorder slot indices.
const (
	RecLocalAudio = iota
	RecLocalVideo
	RecPeerAudio
	RecPeerVideo
)

// NewSession constructs a live Session for handle.
func NewSession(handle string, log zerolog.Logger) *Session {
	return &Session{
		Handle: handle,
		Media:  newMediaState(),
		Log:    log.With().Str("handle", handle).Logger(),
	}
}

// Destroyed reports whether the session has been moved to the store's
// destroyed list (destroy_session, or a fatal relay socket error). A
// hangup alone does not mark it destroyed.
func (s *Session) Destroyed() bool {
	return s.destroyedAt.Load() != 0
}

// markDestroyed sets destroyed_at once, idempotently.
func (s *Session) markDestroyed(now time.Time) {
	s.destroyedAt.CompareAndSwap(0, now.UnixNano())
}

// DestroyedAt returns the destruction timestamp, or the zero Time if still live.
func (s *Session) DestroyedAt() time.Time {
	ns := s.destroyedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// beginHangup flips hanging_up exactly once, returning true for the
// caller that won the race and must run teardown.
func (s *Session) beginHangup() bool {
	return s.hangingUp.CompareAndSwap(false, true)
}
