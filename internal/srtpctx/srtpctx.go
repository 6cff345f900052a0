// SPDX-License-Identifier: BSD-2-Clause

// Package srtpctx manages SDES-SRTP keying material and protect/
// unprotect contexts for a single media kind, grounded on the
// teacher's media.MediaSession SRTP handling (media/media_session.go,
// media/srtp.go) but lifted out of MediaSession so a bridge session
// can own one per media kind independently of any RTP I/O.
package srtpctx

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/pion/rtp"
	"github.com/pion/srtp/v3"
)

// Suite identifies the negotiated SRTP auth tag length.
type Suite int

const (
	Suite32 Suite = 32
	Suite80 Suite = 80
)

func (s Suite) String() string {
	switch s {
	case Suite32:
		return "AES_CM_128_HMAC_SHA1_32"
	case Suite80:
		return "AES_CM_128_HMAC_SHA1_80"
	default:
		return "unknown"
	}
}

// ParseSuite maps a crypto-suite token from an SDP a=crypto line.
func ParseSuite(token string) (Suite, bool) {
	switch token {
	case "AES_CM_128_HMAC_SHA1_32":
		return Suite32, true
	case "AES_CM_128_HMAC_SHA1_80":
		return Suite80, true
	default:
		return 0, false
	}
}

func (s Suite) profile() srtp.ProtectionProfile {
	if s == Suite32 {
		return srtp.ProtectionProfileAes128CmHmacSha1_32
	}
	return srtp.ProtectionProfileAes128CmHmacSha1_80
}

// Context wraps the outbound (local) and inbound (remote) SRTP
// contexts for one media kind. Either side may be nil when SDES-SRTP
// was not negotiated in that direction.
type Context struct {
	Out      *srtp.Context
	OutSuite Suite
	In       *srtp.Context
	InSuite  Suite
}

// GenerateLocal creates fresh master key/salt material, installs the
// outbound context, and returns the base64 blob for an a=crypto line.
// The outbound suite is always 80, matching the spec's documented
// non-goal of negotiating 32 on the offering side.
func (c *Context) GenerateLocal() (cryptoB64 string, err error) {
	profile := Suite80.profile()
	keysalt, keyLen, err := generateMasterKeySalt(profile)
	if err != nil {
		return "", fmt.Errorf("srtpctx: generate local key: %w", err)
	}

	ctx, err := srtp.CreateContext(keysalt[:keyLen], keysalt[keyLen:], profile)
	if err != nil {
		return "", fmt.Errorf("srtpctx: create local context: %w", err)
	}

	c.Out = ctx
	c.OutSuite = Suite80
	return base64.StdEncoding.EncodeToString(keysalt), nil
}

// InstallRemote decodes a peer-supplied crypto blob and installs the
// inbound context at the given suite.
func (c *Context) InstallRemote(cryptoB64 string, suite Suite) error {
	keysalt, err := base64.StdEncoding.DecodeString(cryptoB64)
	if err != nil {
		return fmt.Errorf("srtpctx: decode remote key: %w", err)
	}

	profile := suite.profile()
	keyLen, err := profile.KeyLen()
	if err != nil {
		return fmt.Errorf("srtpctx: profile key len: %w", err)
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return fmt.Errorf("srtpctx: profile salt len: %w", err)
	}
	if len(keysalt) < keyLen+saltLen {
		return fmt.Errorf("srtpctx: remote key material too short: got %d want %d", len(keysalt), keyLen+saltLen)
	}

	ctx, err := srtp.CreateContext(keysalt[:keyLen], keysalt[keyLen:keyLen+saltLen], profile)
	if err != nil {
		return fmt.Errorf("srtpctx: create remote context: %w", err)
	}

	c.In = ctx
	c.InSuite = suite
	return nil
}

// ProtectRTP encrypts an RTP packet in place into dst using the
// outbound context. dst must be large enough to hold the auth tag
// growth (see srtp.Context.EncryptRTP).
func (c *Context) ProtectRTP(dst, src []byte, header *rtp.Header) ([]byte, error) {
	if c == nil || c.Out == nil {
		return src, nil
	}
	return c.Out.EncryptRTP(dst, src, header)
}

// UnprotectRTP decrypts an RTP packet using the inbound context.
func (c *Context) UnprotectRTP(dst, src []byte, header *rtp.Header) ([]byte, error) {
	if c == nil || c.In == nil {
		return src, nil
	}
	return c.In.DecryptRTP(dst, src, header)
}

// ProtectRTCP encrypts an RTCP compound packet using the outbound context.
func (c *Context) ProtectRTCP(dst, src []byte) ([]byte, error) {
	if c == nil || c.Out == nil {
		return src, nil
	}
	return c.Out.EncryptRTCP(dst, src, nil)
}

// UnprotectRTCP decrypts an RTCP compound packet using the inbound context.
func (c *Context) UnprotectRTCP(dst, src []byte) ([]byte, error) {
	if c == nil || c.In == nil {
		return src, nil
	}
	return c.In.DecryptRTCP(dst, src, nil)
}

// Cleanup discards both contexts. Safe to call repeatedly and on a
// partially-initialized Context.
func (c *Context) Cleanup() {
	if c == nil {
		return
	}
	c.Out = nil
	c.In = nil
	c.OutSuite = 0
	c.InSuite = 0
}

func generateMasterKeySalt(profile srtp.ProtectionProfile) ([]byte, int, error) {
	keyLen, err := profile.KeyLen()
	if err != nil {
		return nil, 0, err
	}
	saltLen, err := profile.SaltLen()
	if err != nil {
		return nil, 0, err
	}

	buf := make([]byte, keyLen+saltLen)
	if _, err := rand.Read(buf); err != nil {
		return nil, 0, err
	}
	return buf, keyLen, nil
}
