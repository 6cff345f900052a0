// SPDX-License-Identifier: BSD-2-Clause

// Package sdprw implements the two plain-SDP operations the bridge
// needs: rendering a locally-generated offer/answer (Generate) and
// extracting remote endpoint/keying information from a peer's SDP
// (Process). It is a pure translation layer between wire SDP and the
// small structs below — it never mutates a session and never touches
// SRTP context state, so the caller in package nosip stays the single
// place that owns session mutation (see the SDP/SRTP separation note in
// DESIGN.md for why that split was made).
//
// Grounded on the teacher's media/sdp package for the RFC 4566
// field layout, generalized onto github.com/pion/sdp/v3's fuller
// object model (see DESIGN.md) so session-level and media-level
// connection data, direction attributes, and multiple crypto lines
// are all addressable without hand-rolling a second SDP grammar.
package sdprw

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"
)

// Kind is a negotiated media kind.
type Kind string

const (
	Audio Kind = "audio"
	Video Kind = "video"
)

var Kinds = []Kind{Audio, Video}

// LocalMedia describes one media section to render in Generate. The
// caller (package nosip) has already decided the port, protocol and
// crypto material; this package only serializes them.
type LocalMedia struct {
	Kind       Kind
	Port       int
	Proto      string   // "RTP/AVP" or "RTP/SAVP"
	Formats    []string // payload type tokens, offer order or answer subset
	CryptoLine string   // full a=crypto value e.g. "1 AES_CM_128_HMAC_SHA1_80 inline:...", empty = no crypto attr
}

// GenerateInput is everything Generate needs to render an SDP body.
type GenerateInput struct {
	LocalIP net.IP
	Media   []LocalMedia
}

// Generate renders a plain-SDP offer/answer advertising the given
// local media sections. It never looks at any prior session state or
// at the SDP the media list was derived from: a fresh
// SessionDescription is built from scratch on every call, so attribute
// lines of the input SDP (rtpmap, fmtp, a=tool, ...) are not carried
// over; only the payload-type tokens passed in Formats are.
func Generate(in GenerateInput) ([]byte, error) {
	now := uint64(time.Now().Unix())

	addrType := "IP4"
	if in.LocalIP.To4() == nil {
		addrType = "IP6"
	}

	sd := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      now,
			SessionVersion: now,
			NetworkType:    "IN",
			AddressType:    addrType,
			UnicastAddress: in.LocalIP.String(),
		},
		SessionName: "-",
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: addrType,
			Address:     &sdp.Address{IP: in.LocalIP},
		},
		TimeDescriptions: []sdp.TimeDescription{{Timing: sdp.Timing{StartTime: 0, StopTime: 0}}},
	}

	for _, m := range in.Media {
		md := &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   string(m.Kind),
				Port:    sdp.RangedPort{Value: m.Port},
				Protos:  strings.Split(m.Proto, "/"),
				Formats: m.Formats,
			},
		}
		if m.CryptoLine != "" {
			md.Attributes = append(md.Attributes, sdp.NewAttribute("crypto", m.CryptoLine))
		}
		sd.MediaDescriptions = append(sd.MediaDescriptions, md)
	}

	return sd.Marshal()
}

// CryptoCandidate is one parsed a=crypto attribute.
type CryptoCandidate struct {
	Tag   int
	Suite string
	KeyB64 string
}

// MediaIngest is what Process learned about one media kind.
type MediaIngest struct {
	Present          bool
	RemoteIP         net.IP // media-level c=, nil if the section had none
	RemoteRTPPort    int
	RemoteRTCPPort   int
	Proto            string
	SendEnabled      bool
	Formats          []string // full payload type list, offer order, as advertised
	PayloadType      int      // first negotiated format; -1 if unavailable
	PayloadName      string   // raw format token, e.g. "0"
	CryptoCandidates []CryptoCandidate
}

// IngestResult is what Process extracted from a peer's plain SDP.
type IngestResult struct {
	SessionRemoteIP net.IP
	Media           map[Kind]MediaIngest
	RequireSRTP     bool
}

// Process parses raw plain-SDP and extracts remote addressing,
// direction and crypto information per §4.3's ingest path. isAnswer
// only affects payload-type latching (first format wins); it never
// changes what ports/direction/crypto are extracted.
func Process(raw []byte, isAnswer bool) (*IngestResult, error) {
	sd := &sdp.SessionDescription{}
	if err := sd.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("sdprw: unmarshal: %w", err)
	}

	res := &IngestResult{
		Media: make(map[Kind]MediaIngest, len(Kinds)),
	}
	if sd.ConnectionInformation != nil && sd.ConnectionInformation.Address != nil {
		res.SessionRemoteIP = sd.ConnectionInformation.Address.IP
	}

	for _, md := range sd.MediaDescriptions {
		kind := Kind(md.MediaName.Media)
		if kind != Audio && kind != Video {
			continue
		}

		mi := MediaIngest{PayloadType: -1}
		mi.Proto = strings.Join(md.MediaName.Protos, "/")
		if mi.Proto == "RTP/SAVP" {
			res.RequireSRTP = true
		}

		if port := md.MediaName.Port.Value; port != 0 {
			mi.Present = true
			mi.RemoteRTPPort = port
			mi.RemoteRTCPPort = port + 1
		}

		mi.SendEnabled = true
		if _, ok := md.Attribute("sendonly"); ok {
			mi.SendEnabled = false
		}
		if _, ok := md.Attribute("inactive"); ok {
			mi.SendEnabled = false
		}

		if md.ConnectionInformation != nil && md.ConnectionInformation.Address != nil {
			mi.RemoteIP = md.ConnectionInformation.Address.IP
			res.SessionRemoteIP = mi.RemoteIP
		}

		mi.Formats = append([]string(nil), md.MediaName.Formats...)

		if isAnswer && len(md.MediaName.Formats) > 0 {
			mi.PayloadName = md.MediaName.Formats[0]
			if pt, err := strconv.Atoi(mi.PayloadName); err == nil {
				mi.PayloadType = pt
			}
		}

		for _, attr := range md.Attributes {
			if attr.Key != "crypto" {
				continue
			}
			if cc, ok := parseCryptoLine(attr.Value); ok {
				mi.CryptoCandidates = append(mi.CryptoCandidates, cc)
			}
		}

		res.Media[kind] = mi
	}

	return res, nil
}

// parseCryptoLine parses "<tag> AES_CM_128_HMAC_SHA1_<32|80> inline:<b64>".
func parseCryptoLine(v string) (CryptoCandidate, bool) {
	fields := strings.Fields(v)
	if len(fields) < 3 {
		return CryptoCandidate{}, false
	}
	tag, err := strconv.Atoi(fields[0])
	if err != nil {
		return CryptoCandidate{}, false
	}
	suite := fields[1]
	if suite != "AES_CM_128_HMAC_SHA1_32" && suite != "AES_CM_128_HMAC_SHA1_80" {
		return CryptoCandidate{}, false
	}
	const prefix = "inline:"
	if !strings.HasPrefix(fields[2], prefix) {
		return CryptoCandidate{}, false
	}
	return CryptoCandidate{
		Tag:    tag,
		Suite:  suite,
		KeyB64: strings.TrimPrefix(fields[2], prefix),
	}, true
}
