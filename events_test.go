// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEventReplyEnvelope(t *testing.T) {
	r := eventReply("generated", map[string]interface{}{"type": "offer", "sdp": "v=0"}, nil)
	require.Equal(t, "event", r.Nosip)
	require.Equal(t, "generated", r.Result["event"])
	require.Equal(t, "offer", r.Result["type"])
	require.Nil(t, r.Jsep)
}

func TestErrorReplyEnvelope(t *testing.T) {
	e := errorReply(ErrTooStrict, "srtp mandatory")
	require.Equal(t, ErrorCode(450), e.ErrorCode)
	require.Equal(t, "srtp mandatory", e.Error)
}
