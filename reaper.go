// SPDX-License-Identifier: BSD-2-Clause

package nosip

import (
	"context"
	"time"
)

// ReaperInterval is how often the reaper sweeps the destroyed list.
const ReaperInterval = 500 * time.Millisecond

// Reaper periodically frees sessions that have sat in the destroyed
// list for longer than GracePeriod.
type Reaper struct {
	Store *Store
}

// Run blocks, sweeping every ReaperInterval, until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(ReaperInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range r.Store.Sweep(now, GracePeriod) {
				r.free(s)
			}
		}
	}
}

// free releases everything a destroyed session still holds. By the
// time a session reaches here its relay loop has already exited
// (Plugin.teardown cancels it and waits for it before the session is
// destroyed, see plugin.go), so
// this only needs to drop references and close recorders.
func (r *Reaper) free(s *Session) {
	s.recMu.Lock()
	for i, rec := range s.Recorders {
		if rec != nil {
			rec.Close()
			s.Recorders[i] = nil
		}
	}
	s.recMu.Unlock()

	s.mu.Lock()
	s.SDP = nil
	s.mu.Unlock()

	s.Log.Debug().Msg("nosip: session reaped")
}
