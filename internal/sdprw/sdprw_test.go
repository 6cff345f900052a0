// SPDX-License-Identifier: BSD-2-Clause

package sdprw

import (
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateAudioOnlyAVP(t *testing.T) {
	out, err := Generate(GenerateInput{
		LocalIP: net.IPv4(192, 0, 2, 10),
		Media: []LocalMedia{
			{Kind: Audio, Port: 40000, Proto: "RTP/AVP", Formats: []string{"0"}},
		},
	})
	require.NoError(t, err)
	text := string(out)
	require.Contains(t, text, "m=audio 40000 RTP/AVP 0")
	require.Contains(t, text, "c=IN IP4 192.0.2.10")
	require.NotContains(t, text, "a=crypto")
}

func TestGenerateWithCryptoLine(t *testing.T) {
	out, err := Generate(GenerateInput{
		LocalIP: net.IPv4(192, 0, 2, 10),
		Media: []LocalMedia{
			{Kind: Audio, Port: 40000, Proto: "RTP/SAVP", Formats: []string{"0"},
				CryptoLine: "1 AES_CM_128_HMAC_SHA1_80 inline:AAAA"},
		},
	})
	require.NoError(t, err)
	text := string(out)
	require.Contains(t, text, "RTP/SAVP")
	require.Contains(t, text, "a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:AAAA")
}

const plainOfferSDP = "v=0\r\n" +
	"o=- 1 1 IN IP4 203.0.113.5\r\n" +
	"s=-\r\n" +
	"c=IN IP4 203.0.113.5\r\n" +
	"t=0 0\r\n" +
	"m=audio 40000 RTP/SAVP 0\r\n" +
	"a=crypto:1 AES_CM_128_HMAC_SHA1_80 inline:MTIzNDU2Nzg5MDEyMzQ1Njc4OTAxMjM0NTY3ODkwMTI=\r\n" +
	"m=video 0 RTP/AVP 96\r\n"

func TestProcessExtractsAudioAndSkipsZeroPortVideo(t *testing.T) {
	res, err := Process([]byte(plainOfferSDP), false)
	require.NoError(t, err)
	require.True(t, net.IPv4(203, 0, 113, 5).Equal(res.SessionRemoteIP))
	require.True(t, res.RequireSRTP)

	audio := res.Media[Audio]
	require.True(t, audio.Present)
	require.Equal(t, 40000, audio.RemoteRTPPort)
	require.Equal(t, 40001, audio.RemoteRTCPPort)
	require.True(t, audio.SendEnabled)
	require.Len(t, audio.CryptoCandidates, 1)
	require.Equal(t, "AES_CM_128_HMAC_SHA1_80", audio.CryptoCandidates[0].Suite)

	video := res.Media[Video]
	require.False(t, video.Present)
}

func TestProcessSendonlyDisablesDirection(t *testing.T) {
	sdp := strings.Replace(plainOfferSDP, "m=audio 40000 RTP/SAVP 0\r\n",
		"m=audio 40000 RTP/SAVP 0\r\na=sendonly\r\n", 1)
	res, err := Process([]byte(sdp), false)
	require.NoError(t, err)
	require.False(t, res.Media[Audio].SendEnabled)
}

func TestProcessLatchesPayloadTypeOnAnswerOnly(t *testing.T) {
	res, err := Process([]byte(plainOfferSDP), true)
	require.NoError(t, err)
	require.Equal(t, 0, res.Media[Audio].PayloadType)

	res, err = Process([]byte(plainOfferSDP), false)
	require.NoError(t, err)
	require.Equal(t, -1, res.Media[Audio].PayloadType)
}
