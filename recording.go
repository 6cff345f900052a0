// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// fileRecorder is a Recorder backed by a plain file of raw RTP
// payload bytes, one write per received frame. Grounded on the
// teacher's Recording type (recording.go) for the mutex-guarded
// WriteCloser shape, simplified because this bridge performs no
// transcoding (an explicit non-goal): payloads are written as
// received, and neither the file nor its name records the codec.
type fileRecorder struct {
	mu sync.Mutex
	f  *os.File
}

func newRecorder(s *Session, slot int, base string) (Recorder, error) {
	role, kind := slotName(slot)
	var name string
	if base != "" {
		name = fmt.Sprintf("%s-%s-%s.raw", base, role, kind)
	} else {
		name = fmt.Sprintf("nosip-%s-%d-%s-%s.raw", s.Handle, time.Now().Unix(), role, kind)
	}

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, fmt.Errorf("nosip: open recorder file %q: %w", name, err)
	}
	return &fileRecorder{f: f}, nil
}

func slotName(slot int) (role, kind string) {
	switch slot {
	case RecLocalAudio:
		return "local", "audio"
	case RecLocalVideo:
		return "local", "video"
	case RecPeerAudio:
		return "peer", "audio"
	case RecPeerVideo:
		return "peer", "video"
	default:
		return "unknown", "unknown"
	}
}

func (r *fileRecorder) SaveFrame(payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.f.Write(payload)
	return err
}

func (r *fileRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.f.Close()
}
