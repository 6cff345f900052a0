// SPDX-License-Identifier: BSD-2-Clause

package srtpctx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSuite(t *testing.T) {
	s, ok := ParseSuite("AES_CM_128_HMAC_SHA1_80")
	require.True(t, ok)
	require.Equal(t, Suite80, s)

	s, ok = ParseSuite("AES_CM_128_HMAC_SHA1_32")
	require.True(t, ok)
	require.Equal(t, Suite32, s)

	_, ok = ParseSuite("bogus")
	require.False(t, ok)
}

func TestSuiteString(t *testing.T) {
	require.Equal(t, "AES_CM_128_HMAC_SHA1_80", Suite80.String())
	require.Equal(t, "AES_CM_128_HMAC_SHA1_32", Suite32.String())
}

func TestGenerateLocalThenInstallRemoteRoundTrip(t *testing.T) {
	var out Context
	cryptoB64, err := out.GenerateLocal()
	require.NoError(t, err)
	require.NotEmpty(t, cryptoB64)
	require.Equal(t, Suite80, out.OutSuite)
	require.NotNil(t, out.Out)

	var in Context
	require.NoError(t, in.InstallRemote(cryptoB64, Suite80))
	require.Equal(t, Suite80, in.InSuite)
	require.NotNil(t, in.In)
}

func TestInstallRemoteRejectsShortKey(t *testing.T) {
	var ctx Context
	err := ctx.InstallRemote("dGVzdA==", Suite80) // "test", far too short
	require.Error(t, err)
}

func TestNilContextIsPassthrough(t *testing.T) {
	var ctx *Context
	out, err := ctx.ProtectRTP(nil, []byte("payload"), nil)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), out)

	out, err = ctx.UnprotectRTCP(nil, []byte("rtcp"))
	require.NoError(t, err)
	require.Equal(t, []byte("rtcp"), out)
}

func TestCleanupIsSafeOnPartialState(t *testing.T) {
	ctx := &Context{}
	require.NotPanics(t, func() { ctx.Cleanup() })
	require.NotPanics(t, func() { ctx.Cleanup() })

	var nilCtx *Context
	require.NotPanics(t, func() { nilCtx.Cleanup() })
}
