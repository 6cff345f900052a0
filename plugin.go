// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shuiqin/janus-nosip/internal/config"
	"github.com/shuiqin/janus-nosip/internal/ports"
	"github.com/shuiqin/janus-nosip/internal/relay"
)

// HostCallbacks is the host gateway contract this plugin consumes
// (§6, "Host gateway contract (consumed)"). The plugin never imports
// the host's own package; the caller supplies an implementation at
// Init.
type HostCallbacks interface {
	NotifyEvent(handle string, payload map[string]interface{})
	PushEvent(handle, transaction string, reply *EventReply, errReply *ErrorReply)
	RelayRTP(handle string, isVideo bool, buf []byte)
	RelayRTCP(handle string, isVideo bool, buf []byte)
	ClosePC(handle string)
	EventsEnabled() bool
}

// Plugin is the top-level, instance-scoped state the exposed plugin
// contract operates on. Per the DESIGN NOTES on global mutable state,
// everything the original kept at process scope (sessions, config,
// local IP, port range) lives here instead, created fresh in Init and
// threaded through every method -- there are no package-level
// variables.
type Plugin struct {
	Config *config.Config
	Store  *Store
	Log    zerolog.Logger

	allocator *ports.Allocator
	host      HostCallbacks
	handler   *RequestHandler

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Init loads the configuration file, builds the port allocator and
// request-handler worker, and starts the reaper. Mirrors the host
// ABI's init(callbacks, config_path).
func Init(configPath string, host HostCallbacks, log zerolog.Logger) (*Plugin, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("nosip: init: %w", err)
	}

	p := &Plugin{
		Config: cfg,
		Store:  NewStore(),
		Log:    log.With().Str("component", "nosip").Logger(),
		allocator: &ports.Allocator{
			Min: cfg.RTPPortMin,
			Max: cfg.RTPPortMax,
		},
		host: host,
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	p.handler = &RequestHandler{
		plugin: p,
		queue:  make(chan *Request, 256),
	}
	p.wg.Add(2)
	go func() { defer p.wg.Done(); p.handler.Run(ctx) }()
	go func() { defer p.wg.Done(); (&Reaper{Store: p.Store}).Run(ctx) }()

	return p, nil
}

// Destroy stops the request handler and reaper and tears down every
// live session.
func (p *Plugin) Destroy() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	p.Store.mu.Lock()
	live := make([]*Session, 0, len(p.Store.live))
	for _, s := range p.Store.live {
		live = append(live, s)
	}
	p.Store.mu.Unlock()
	for _, s := range live {
		p.teardown(s)
		p.Store.Destroy(s.Handle, time.Now())
	}
}

// CreateSession registers a new live session for handle.
func (p *Plugin) CreateSession(handle string) error {
	s := NewSession(handle, p.Log)
	s.Media.Relay = relay.NewSession(handle, s.Log, &relayCallbacks{plugin: p, session: s})
	if !p.Store.Create(s) {
		return fmt.Errorf("nosip: handle %q already exists", handle)
	}
	if p.Config.EventsEnabled && p.host.EventsEnabled() {
		p.host.NotifyEvent(handle, map[string]interface{}{"event": "created"})
	}
	return nil
}

// DestroySession runs the teardown path for handle: two-phase removal
// from the store, relay-loop cancellation, socket/SRTP release.
func (p *Plugin) DestroySession(handle string) {
	s := p.Store.Lookup(handle)
	if s == nil {
		return
	}
	p.teardown(s)
	p.Store.Destroy(handle, time.Now())
}

// QuerySession returns a snapshot of session state for diagnostics,
// supplementing the original spec's contract (§REDESIGN, supplemented
// features in SPEC_FULL.md).
func (p *Plugin) QuerySession(handle string) (map[string]interface{}, bool) {
	s := p.Store.Lookup(handle)
	if s == nil {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	kinds := make(map[string]interface{}, len(s.Media.Kinds))
	for k, ks := range s.Media.Kinds {
		entry := map[string]interface{}{
			"has_kind":         ks.HasKind,
			"local_rtp_port":   ks.LocalRTPPort,
			"local_rtcp_port":  ks.LocalRTCPPort,
			"remote_rtp_port":  ks.RemoteRTPPort,
			"remote_rtcp_port": ks.RemoteRTCPPort,
			"payload_type":     ks.PayloadType,
			"send":             ks.SendEnabled,
			"srtp_suite_in":    int(ks.SRTPSuiteIn),
			"srtp_suite_out":   int(ks.SRTPSuiteOut),
		}
		if s.Media.Relay != nil {
			if rs, ok := s.Media.Relay.Kinds[k]; ok {
				entry["recv_packets"] = rs.RecvPackets.Load()
				entry["recv_bytes"] = rs.RecvBytes.Load()
				entry["send_packets"] = rs.SendPackets.Load()
				entry["send_bytes"] = rs.SendBytes.Load()
			}
		}
		kinds[string(k)] = entry
	}
	return map[string]interface{}{
		"handle":          s.Handle,
		"ready":           s.Media.Ready.Load(),
		"hanging_up":      s.hangingUp.Load(),
		"require_srtp":    s.Media.RequireSRTP,
		"has_srtp_local":  s.Media.HasSRTPLocal,
		"has_srtp_remote": s.Media.HasSRTPRemote,
		"destroyed":       s.Destroyed(),
		"media":           kinds,
	}, true
}

// HandleMessage enqueues a request for the single FIFO worker and
// returns immediately, per the "ok_wait | error" contract: malformed
// envelopes are rejected synchronously; everything else is processed
// asynchronously and replied via PushEvent.
func (p *Plugin) HandleMessage(handle, transaction string, msg map[string]interface{}, jsep *Jsep) (wait bool, errReply *ErrorReply) {
	if msg == nil {
		return false, errorReply(ErrNoMessage, "missing message")
	}
	reqName, _ := msg["request"].(string)
	if reqName == "" {
		return false, errorReply(ErrInvalidRequest, "missing request field")
	}

	s := p.Store.Lookup(handle)
	if s == nil {
		return false, errorReply(ErrWrongState, "unknown session")
	}

	select {
	case p.handler.queue <- &Request{Handle: handle, Transaction: transaction, Name: reqName, Msg: msg, Jsep: jsep}:
		return true, nil
	default:
		return false, errorReply(ErrIO, "request queue full")
	}
}

// SetupMedia is called by the host once its side of the WebRTC media
// path is ready; for this bridge there is nothing further to set up
// (the relay loop is spawned from the answer-processing branch of
// generate/process), so this is a no-op retained for ABI symmetry.
func (p *Plugin) SetupMedia(handle string) {}

// HangupMedia runs the same teardown as DestroySession but leaves the
// session handle reusable-lookup-wise until destroy_session proper is
// called by the host, matching hangup's "closes WebRTC PC" contract
// without freeing the session.
func (p *Plugin) HangupMedia(handle string) {
	s := p.Store.Lookup(handle)
	if s == nil {
		return
	}
	p.teardown(s)
}

func (p *Plugin) teardown(s *Session) {
	if !s.beginHangup() {
		return
	}
	s.mu.Lock()
	cancel := s.runCancel
	done := s.runDone
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	if s.Media.Relay != nil {
		s.Media.Relay.Close()
	}
	p.host.ClosePC(s.Handle)
}
