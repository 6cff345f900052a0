// SPDX-License-Identifier: BSD-2-Clause

// nosipd is a minimal standalone host harness for the nosip plugin,
// standing in for the real host gateway's plugin ABI so the bridge
// can be exercised outside of it. Grounded on the teacher's
// cmd/gopbx/main.go for the zerolog setup and signal-driven shutdown
// pattern.
package main

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shuiqin/janus-nosip"
)

// demoHost is a trivial HostCallbacks implementation that logs every
// call instead of bridging into a real WebRTC PeerConnection.
type demoHost struct {
	log zerolog.Logger
}

func (h *demoHost) NotifyEvent(handle string, payload map[string]interface{}) {
	b, _ := json.Marshal(payload)
	h.log.Info().Str("handle", handle).RawJSON("event", b).Msg("notify_event")
}

func (h *demoHost) PushEvent(handle, transaction string, reply *nosip.EventReply, errReply *nosip.ErrorReply) {
	if errReply != nil {
		h.log.Warn().Str("handle", handle).Str("tx", transaction).
			Int("error_code", int(errReply.ErrorCode)).Str("error", errReply.Error).Msg("push_event error")
		return
	}
	b, _ := json.Marshal(reply)
	h.log.Info().Str("handle", handle).Str("tx", transaction).RawJSON("reply", b).Msg("push_event")
}

func (h *demoHost) RelayRTP(handle string, isVideo bool, buf []byte) {
	h.log.Debug().Str("handle", handle).Bool("video", isVideo).Int("bytes", len(buf)).Msg("relay_rtp")
}

func (h *demoHost) RelayRTCP(handle string, isVideo bool, buf []byte) {
	h.log.Debug().Str("handle", handle).Bool("video", isVideo).Int("bytes", len(buf)).Msg("relay_rtcp")
}

func (h *demoHost) ClosePC(handle string) {
	h.log.Info().Str("handle", handle).Msg("close_pc")
}

func (h *demoHost) EventsEnabled() bool { return true }

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	lev, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil || lev == zerolog.NoLevel {
		lev = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	log.Logger = zerolog.New(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.StampMicro,
	}).With().Timestamp().Logger().Level(lev)

	configPath := "nosip.ini"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	host := &demoHost{log: log.Logger}
	plugin, err := nosip.Init(configPath, host, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("nosipd: init failed")
	}
	defer plugin.Destroy()

	handle := uuid.NewString()
	if err := plugin.CreateSession(handle); err != nil {
		log.Fatal().Err(err).Msg("nosipd: create_session failed")
	}
	log.Info().Str("handle", handle).IPAddr("local_ip", net.IP(plugin.Config.LocalIP)).Msg("nosipd: session created, waiting for signalling harness")

	<-ctx.Done()
	plugin.DestroySession(handle)
	log.Info().Msg("nosipd: shutting down")
}
