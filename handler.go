// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/pion/rtcp"

	"github.com/shuiqin/janus-nosip/internal/relay"
	"github.com/shuiqin/janus-nosip/internal/sdprw"
	"github.com/shuiqin/janus-nosip/internal/srtpctx"
)

// Request is one FIFO entry the handler worker drains, per §4.5.
type Request struct {
	Handle      string
	Transaction string
	Name        string
	Msg         map[string]interface{}
	Jsep        *Jsep
}

// RequestHandler is the single worker draining the request FIFO and
// driving session state transitions, grounded on the teacher's own
// single-goroutine dialog-state-machine pattern (dialog_session.go)
// but generalized to a request-kind dispatch table instead of SIP
// method switching.
type RequestHandler struct {
	plugin *Plugin
	queue  chan *Request
}

// Run drains the queue until ctx is cancelled.
func (h *RequestHandler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-h.queue:
			h.process(req)
		}
	}
}

func (h *RequestHandler) process(req *Request) {
	s := h.plugin.Store.Lookup(req.Handle)
	if s == nil {
		h.plugin.host.PushEvent(req.Handle, req.Transaction, nil, errorReply(ErrWrongState, "unknown session"))
		return
	}

	var reply *EventReply
	var errReply *ErrorReply

	switch req.Name {
	case "generate":
		reply, errReply = h.generate(s, req)
	case "process":
		reply, errReply = h.processSDP(s, req)
	case "hangup":
		reply, errReply = h.hangup(s, req)
	case "recording":
		reply, errReply = h.recording(s, req)
	default:
		errReply = errorReply(ErrInvalidRequest, fmt.Sprintf("unknown request %q", req.Name))
	}

	h.plugin.host.PushEvent(req.Handle, req.Transaction, reply, errReply)
}

// parseSRTPMode reads the optional "srtp" field: sdes_optional or
// sdes_mandatory.
func parseSRTPMode(msg map[string]interface{}) (wantLocal, mandatory bool, rErr *ErrorReply) {
	v, ok := msg["srtp"]
	if !ok {
		return false, false, nil
	}
	mode, ok := v.(string)
	if !ok {
		return false, false, errorReply(ErrInvalidElement, "srtp must be a string")
	}
	switch mode {
	case "sdes_optional":
		return true, false, nil
	case "sdes_mandatory":
		return true, true, nil
	default:
		return false, false, errorReply(ErrInvalidElement, "srtp must be sdes_optional or sdes_mandatory")
	}
}

func srtpCleanup(s *Session) {
	for _, ks := range s.Media.Kinds {
		ks.SRTPSuiteIn = 0
		ks.SRTPSuiteOut = 0
	}
	s.Media.RequireSRTP = false
	s.Media.HasSRTPLocal = false
	s.Media.HasSRTPRemote = false
	if s.Media.Relay != nil {
		for _, ks := range s.Media.Relay.Kinds {
			ks.SRTP.Cleanup()
		}
	}
}

// generate implements §4.5's generate request: rewrite/synthesize the
// plugin's own SDP from a JSEP offer or answer.
func (h *RequestHandler) generate(s *Session, req *Request) (*EventReply, *ErrorReply) {
	if req.Jsep == nil || req.Jsep.SDP == "" {
		return nil, errorReply(ErrMissingSDP, "missing jsep sdp")
	}
	if req.Jsep.Type != "offer" && req.Jsep.Type != "answer" {
		return nil, errorReply(ErrInvalidElement, "jsep.type must be offer or answer")
	}
	isAnswer := req.Jsep.Type == "answer"

	wantLocal, mandatory, errReply := parseSRTPMode(req.Msg)
	if errReply != nil {
		return nil, errReply
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if isAnswer {
		if s.Media.RequireSRTP && !s.Media.HasSRTPRemote {
			return nil, errorReply(ErrTooStrict, "srtp mandatory but no remote crypto installed")
		}
		s.Media.HasSRTPLocal = s.Media.HasSRTPLocal || s.Media.HasSRTPRemote
	} else {
		srtpCleanup(s)
		s.Media.HasSRTPLocal = wantLocal
		s.Media.RequireSRTP = mandatory
	}

	ingest, err := sdprw.Process([]byte(req.Jsep.SDP), isAnswer)
	if err != nil {
		return nil, errorReply(ErrInvalidSDP, err.Error())
	}
	if strings.Contains(req.Jsep.SDP, "m=application") {
		return nil, errorReply(ErrMissingSDP, "application media sections not supported")
	}

	present := 0
	for kind, mi := range ingest.Media {
		ks := s.Media.Kinds[kind]
		ks.HasKind = mi.Present
		if mi.Present {
			present++
			ks.Formats = mi.Formats
		}
	}
	if present == 0 {
		return nil, errorReply(ErrInvalidSDP, "no audio or video media sections")
	}

	if err := h.allocateLocalPorts(s); err != nil {
		return nil, errorReply(ErrIO, err.Error())
	}

	media := make([]sdprw.LocalMedia, 0, present)
	for _, kind := range sdprw.Kinds {
		ks := s.Media.Kinds[kind]
		if !ks.HasKind {
			continue
		}
		proto := "RTP/AVP"
		if s.Media.RequireSRTP {
			proto = "RTP/SAVP"
		}

		lm := sdprw.LocalMedia{
			Kind:    kind,
			Port:    ks.LocalRTPPort,
			Proto:   proto,
			Formats: formatsFor(ks),
		}

		if s.Media.HasSRTPLocal {
			rs := s.relayKind(kind)
			cryptoB64, err := rs.SRTP.GenerateLocal()
			if err != nil {
				return nil, errorReply(ErrIO, err.Error())
			}
			ks.SRTPSuiteOut = srtpctx.Suite80
			lm.CryptoLine = fmt.Sprintf("1 %s inline:%s", srtpctx.Suite80, cryptoB64)
		}

		if isAnswer {
			if mi, ok := ingest.Media[kind]; ok && mi.PayloadType >= 0 {
				ks.PayloadType = mi.PayloadType
				ks.PayloadName = mi.PayloadName
			}
		}

		media = append(media, lm)
	}

	out, err := sdprw.Generate(sdprw.GenerateInput{LocalIP: h.plugin.Config.LocalIP, Media: media})
	if err != nil {
		return nil, errorReply(ErrInvalidSDP, err.Error())
	}
	s.SDP = out

	if isAnswer {
		h.startRelay(s)
	}

	return eventReply("generated", map[string]interface{}{
		"type": req.Jsep.Type,
		"sdp":  string(out),
	}, nil), nil
}

// formatsFor returns the payload-type token list to advertise for kind,
// preserving the ingested offer/answer's own PT ordering rather than
// collapsing it to a single format.
func formatsFor(ks *MediaKindState) []string {
	if len(ks.Formats) > 0 {
		return ks.Formats
	}
	if ks.PayloadName != "" {
		return []string{ks.PayloadName}
	}
	return []string{"0"}
}

// processSDP implements §4.5's process request: ingest a peer plain-SDP.
func (h *RequestHandler) processSDP(s *Session, req *Request) (*EventReply, *ErrorReply) {
	sdpText, _ := req.Msg["sdp"].(string)
	if sdpText == "" {
		return nil, errorReply(ErrMissingSDP, "missing sdp")
	}
	typ, _ := req.Msg["type"].(string)
	if typ != "offer" && typ != "answer" {
		return nil, errorReply(ErrInvalidElement, "type must be offer or answer")
	}
	isAnswer := typ == "answer"

	s.mu.Lock()
	defer s.mu.Unlock()

	if !isAnswer {
		srtpCleanup(s)
	}

	isUpdate := s.Media.Ready.Load()

	ingest, err := sdprw.Process([]byte(sdpText), isAnswer)
	if err != nil {
		return nil, errorReply(ErrInvalidSDP, err.Error())
	}

	present := 0
	changed := false
	for _, kind := range sdprw.Kinds {
		mi, ok := ingest.Media[kind]
		if !ok || !mi.Present {
			continue
		}
		present++
		ks := s.Media.Kinds[kind]

		if isUpdate {
			if !sameRemote(ingest.SessionRemoteIP, mi.RemoteIP, s.Media.RemoteIP, ks.RemoteRTPPort, mi.RemoteRTPPort) {
				changed = true
			}
			ks.RemoteRTPPort = mi.RemoteRTPPort
			ks.RemoteRTCPPort = mi.RemoteRTCPPort
			continue
		}

		ks.HasKind = true
		ks.RemoteRTPPort = mi.RemoteRTPPort
		ks.RemoteRTCPPort = mi.RemoteRTCPPort
		ks.SendEnabled = mi.SendEnabled
		if mi.RemoteIP != nil {
			s.Media.RemoteIP = mi.RemoteIP
		}
		if isAnswer && mi.PayloadType >= 0 {
			ks.PayloadType = mi.PayloadType
			ks.PayloadName = mi.PayloadName
		}
		for _, cc := range mi.CryptoCandidates {
			suite, ok := srtpctx.ParseSuite(cc.Suite)
			if !ok {
				continue
			}
			rs := s.relayKind(kind)
			if err := rs.SRTP.InstallRemote(cc.KeyB64, suite); err != nil {
				continue
			}
			ks.SRTPSuiteIn = suite
			s.Media.HasSRTPRemote = true
			break
		}
	}
	// Process already lets a media-level c= override the session-level one.
	if ingest.SessionRemoteIP != nil {
		s.Media.RemoteIP = ingest.SessionRemoteIP
	}
	if !isUpdate {
		if present == 0 {
			return nil, errorReply(ErrInvalidSDP, "no audio or video media sections negotiated")
		}
		if ingest.SessionRemoteIP == nil && s.Media.RemoteIP == nil {
			return nil, errorReply(ErrInvalidSDP, "no remote address in sdp")
		}
		if ingest.RequireSRTP {
			s.Media.RequireSRTP = true
		}
	}

	s.SDP = []byte(sdpText)

	if isUpdate && changed {
		s.Media.updated.Store(true)
		for kind, ks := range s.Media.Kinds {
			if !ks.HasKind {
				continue
			}
			rtpAddr := &net.UDPAddr{IP: s.Media.RemoteIP, Port: ks.RemoteRTPPort}
			var rtcpAddr *net.UDPAddr
			if ks.RemoteRTCPPort != 0 {
				rtcpAddr = &net.UDPAddr{IP: s.Media.RemoteIP, Port: ks.RemoteRTCPPort}
			}
			if s.Media.Relay != nil {
				s.Media.Relay.MarkUpdated(kind, rtpAddr, rtcpAddr)
			}
		}
	}

	fields := map[string]interface{}{"type": typ, "sdp": sdpText}
	if s.Media.HasSRTPRemote {
		fields["srtp"] = "sdes"
	}

	var jsep *Jsep
	if req.Jsep != nil {
		jsep = req.Jsep
	}

	if isAnswer && !isUpdate {
		s.Media.Ready.Store(true)
		h.startRelay(s)
	}

	return eventReply("processed", fields, jsep), nil
}

func sameRemote(newSessionIP, newMediaIP net.IP, oldIP net.IP, oldPort, newPort int) bool {
	ip := newMediaIP
	if ip == nil {
		ip = newSessionIP
	}
	if ip == nil {
		ip = oldIP
	}
	return ip.Equal(oldIP) && oldPort == newPort
}

func (h *RequestHandler) hangup(s *Session, req *Request) (*EventReply, *ErrorReply) {
	h.plugin.teardown(s)
	return eventReply("hangingup", nil, nil), nil
}

func (h *RequestHandler) recording(s *Session, req *Request) (*EventReply, *ErrorReply) {
	action, _ := req.Msg["action"].(string)
	if action != "start" && action != "stop" {
		return nil, errorReply(ErrInvalidElement, "action must be start or stop")
	}

	flags := map[int]bool{
		RecLocalAudio: boolField(req.Msg, "audio"),
		RecLocalVideo: boolField(req.Msg, "video"),
		RecPeerAudio:  boolField(req.Msg, "peer_audio"),
		RecPeerVideo:  boolField(req.Msg, "peer_video"),
	}
	any := false
	for _, v := range flags {
		any = any || v
	}
	if !any {
		return nil, errorReply(ErrMissingElement, "at least one of audio, video, peer_audio, peer_video required")
	}

	s.recMu.Lock()
	defer s.recMu.Unlock()

	if action == "start" {
		base, _ := req.Msg["filename"].(string)
		for slot, want := range flags {
			if !want || s.Recorders[slot] != nil {
				continue
			}
			rec, err := newRecorder(s, slot, base)
			if err != nil {
				s.Log.Warn().Err(err).Int("slot", slot).Msg("nosip: recorder open failed")
				continue
			}
			s.Recorders[slot] = rec
			if slot == RecLocalVideo || slot == RecPeerVideo {
				h.sendPLI(s)
			}
		}
	} else {
		for slot, want := range flags {
			if !want || s.Recorders[slot] == nil {
				continue
			}
			s.Recorders[slot].Close()
			s.Recorders[slot] = nil
		}
	}

	return eventReply("recordingupdated", nil, nil), nil
}

func boolField(msg map[string]interface{}, key string) bool {
	v, _ := msg[key].(bool)
	return v
}

// sendPLI kickstarts a keyframe on recording start per §4.5 scenario 4.
// The PLI's MediaSSRC targets the WebRTC-side SSRC that incoming_rtp's
// ingress shim latches into LocalSSRC from the first packet it sends.
func (h *RequestHandler) sendPLI(s *Session) {
	rs := s.relayKind(sdprw.Video)
	pli := &rtcp.PictureLossIndication{MediaSSRC: rs.LocalSSRC.Load()}
	buf, err := rtcp.Marshal([]rtcp.Packet{pli})
	if err != nil {
		return
	}
	h.plugin.host.RelayRTCP(s.Handle, true, buf)
}

// allocateLocalPorts implements §4.1: reserve sockets for every
// negotiated kind, closing any previously open ones first (idempotent
// re-entry).
func (h *RequestHandler) allocateLocalPorts(s *Session) error {
	for _, kind := range sdprw.Kinds {
		ks := s.Media.Kinds[kind]
		if !ks.HasKind {
			continue
		}
		rs := s.relayKind(kind)
		if rs.LocalRTP != nil {
			rs.LocalRTP.Close()
		}
		if rs.LocalRTCP != nil {
			rs.LocalRTCP.Close()
		}

		pair, err := h.plugin.allocator.Allocate(h.plugin.Config.LocalIP)
		if err != nil {
			return err
		}
		rs.Present = true
		rs.LocalRTP = pair.RTP
		rs.LocalRTCP = pair.RTCP
		rs.LocalRTPPort = pair.RTPPort
		rs.LocalRTCPPort = pair.RTCPPort
		ks.LocalRTPPort = pair.RTPPort
		ks.LocalRTCPPort = pair.RTCPPort
		if rs.Seq == nil {
			rs.Seq = &relay.Sequencer{}
		}
	}
	return nil
}

// relayKind returns (creating if necessary) the relay-side KindState
// mirroring the handler-side MediaKindState for kind. Session.Media.Relay
// itself is always non-nil: Plugin.CreateSession builds it up front so
// the callback wiring is fixed for the session's whole lifetime.
func (s *Session) relayKind(kind sdprw.Kind) *relay.KindState {
	ks, ok := s.Media.Relay.Kinds[kind]
	if !ok {
		ks = &relay.KindState{Kind: kind, SRTP: &srtpctx.Context{}}
		s.Media.Relay.Kinds[kind] = ks
	}
	return ks
}

// startRelay spawns the relay loop exactly once per session, per §3's
// "only one relay loop exists per session" invariant. The caller must
// hold s.mu.
func (h *RequestHandler) startRelay(s *Session) {
	if s.runCancel != nil {
		return
	}

	for kind, ks := range s.Media.Kinds {
		if !ks.HasKind || ks.RemoteRTPPort == 0 || s.Media.RemoteIP == nil {
			continue
		}
		rtpAddr := &net.UDPAddr{IP: s.Media.RemoteIP, Port: ks.RemoteRTPPort}
		var rtcpAddr *net.UDPAddr
		if ks.RemoteRTCPPort != 0 {
			rtcpAddr = &net.UDPAddr{IP: s.Media.RemoteIP, Port: ks.RemoteRTCPPort}
		}
		s.Media.Relay.MarkUpdated(kind, rtpAddr, rtcpAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.runCancel = cancel
	s.runDone = done

	go func() {
		defer close(done)
		if err := s.Media.Relay.Run(ctx); err != nil && err != context.Canceled {
			s.Log.Warn().Err(err).Msg("nosip: relay loop exited")
		}
	}()
}
