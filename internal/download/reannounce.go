package download

import (
	"context"
	"time"

	"github.com/lvbealr/gotorrent/internal/logx"
	"github.com/lvbealr/gotorrent/internal/peer"
	"github.com/lvbealr/gotorrent/internal/tracker"
)

// runReannounce re-contacts the tracker set on a fixed interval, connecting
// to any peer not already in the pool. Late-joining sessions are added to
// the registry and left for the endgame sweep to use: by the time a
// re-announce fires, Run's worker pool is already draining its result
// channel, and handing a brand new worker a send on that channel mid-drain
// would race its closure. A session the endgame sweep finds still alive is
// just as useful as one the worker pool had from the start.
func (c *Coordinator) runReannounce(ctx context.Context) {
	ticker := time.NewTicker(c.reannounce.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			resp, err := tracker.Announce(ctx, c.reannounce.req)
			if err != nil {
				logx.Warn("re-announce failed: %v", err)
				continue
			}
			c.connectNewPeers(ctx, resp.Peers)
		}
	}
}

func (c *Coordinator) connectNewPeers(ctx context.Context, candidates []tracker.Endpoint) {
	c.mu.Lock()
	known := make(map[string]struct{}, len(c.sessions))
	for _, s := range c.sessions {
		known[s.Addr()] = struct{}{}
	}
	live := len(c.sessions)
	c.mu.Unlock()

	for _, cand := range candidates {
		if live >= maxLiveSessions {
			return
		}

		addr := cand.String()
		if _, ok := known[addr]; ok {
			continue
		}

		s, err := peer.Connect(ctx, addr, c.infoHash, c.localPeerID)
		if err != nil {
			continue
		}

		slot := c.addSession(s)
		live++
		logx.Info("re-announce: connected to new peer %s (slot %d)", addr, slot)
	}
}
