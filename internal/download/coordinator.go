// Package download implements the coordinator that drives a whole transfer:
// establishing a session pool, running one worker per session against the
// shared piece registry, aggregating results, and sweeping any pieces the
// worker pool didn't finish through an endgame pass.
package download

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/lvbealr/gotorrent/internal/assembly"
	"github.com/lvbealr/gotorrent/internal/errs"
	"github.com/lvbealr/gotorrent/internal/logx"
	"github.com/lvbealr/gotorrent/internal/manifest"
	"github.com/lvbealr/gotorrent/internal/peer"
	"github.com/lvbealr/gotorrent/internal/piece"
	"github.com/lvbealr/gotorrent/internal/progressui"
	"github.com/lvbealr/gotorrent/internal/tracker"
)

const (
	maxParallelConnects   = 50
	maxLiveSessions       = 100
	maxCumulativeFailures = 200
	maxWorkerFailures     = 3
	resultBacklog         = 64
)

type resultKind int

const (
	resultCompleted resultKind = iota
	resultFailed
	resultDisconnected
)

type workerResult struct {
	kind  resultKind
	slot  int
	index int
	data  []byte
}

// Coordinator owns the live session pool, the piece registry, and the
// assembly buffer for one transfer.
type Coordinator struct {
	mu       sync.Mutex
	sessions map[int]*peer.Session
	nextSlot int

	registry *piece.Registry
	buffer   *assembly.Buffer
	bar      *progressui.Bar

	infoHash    [20]byte
	localPeerID [20]byte

	reannounce *reannounceConfig
}

// New builds a Coordinator for the torrent described by m, ready to pull
// pieces from whatever live sessions Run establishes.
func New(m *manifest.Manifest, localPeerID [20]byte) *Coordinator {
	registry := piece.New(m.PieceLength, m.PieceHashes, m.Length)
	return &Coordinator{
		sessions:    make(map[int]*peer.Session),
		registry:    registry,
		buffer:      assembly.New(m.Length, m.PieceLength),
		bar:         progressui.New(m.Name, int64(registry.NumPieces())),
		infoHash:    m.InfoHash,
		localPeerID: localPeerID,
	}
}

type reannounceConfig struct {
	req      tracker.Request
	interval time.Duration
}

// WithReannounce turns on periodic re-announce against req's tracker set
// every interval, feeding newly discovered peers into the live pool while
// Run is in progress. Off by default.
func (c *Coordinator) WithReannounce(req tracker.Request, interval time.Duration) *Coordinator {
	c.reannounce = &reannounceConfig{req: req, interval: interval}
	return c
}

// Run establishes sessions against candidates, drives the download to
// completion (or to a recoverable endgame, or to failure), and returns the
// assembled bytes.
func (c *Coordinator) Run(ctx context.Context, candidates []tracker.Endpoint) ([]byte, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := c.establishSessions(runCtx, candidates); err != nil {
		return nil, err
	}

	if c.reannounce != nil {
		go c.runReannounce(runCtx)
	}

	results := make(chan workerResult, resultBacklog)
	var wg sync.WaitGroup

	c.mu.Lock()
	for slot, s := range c.sessions {
		wg.Add(1)
		go func(slot int, s *peer.Session) {
			defer wg.Done()
			c.runWorker(slot, s, results)
		}(slot, s)
	}
	c.mu.Unlock()

	go func() {
		wg.Wait()
		close(results)
	}()

	err := c.aggregate(runCtx, results)

	// Either every piece completed or endgame gave up on the rest; in both
	// cases any worker still blocked on a peer read needs its connection
	// cut so its goroutine can notice and exit.
	cancel()
	c.closeAllSessions()
	for range results {
	}

	if err != nil {
		return nil, err
	}
	return c.buffer.Bytes(), nil
}

// establishSessions runs up to maxParallelConnects connect+handshake
// attempts concurrently, refilling from candidates as each finishes, until
// maxLiveSessions sessions are live, candidates are exhausted, or
// maxCumulativeFailures attempts have failed.
func (c *Coordinator) establishSessions(ctx context.Context, candidates []tracker.Endpoint) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	candidateCh := make(chan tracker.Endpoint)
	go func() {
		defer close(candidateCh)
		for _, cand := range candidates {
			select {
			case candidateCh <- cand:
			case <-ctx.Done():
				return
			}
		}
	}()

	type connectResult struct {
		session *peer.Session
		err     error
	}

	results := make(chan connectResult)
	var wg sync.WaitGroup

	for i := 0; i < maxParallelConnects; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range candidateCh {
				s, err := peer.Connect(ctx, cand.String(), c.infoHash, c.localPeerID)
				select {
				case results <- connectResult{session: s, err: err}:
				case <-ctx.Done():
					if s != nil {
						s.Close()
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var live, failed int
	for res := range results {
		if res.err != nil {
			failed++
			logx.Warn("connect failed: %v", res.err)
			if failed >= maxCumulativeFailures {
				cancel()
			}
			continue
		}

		slot := c.addSession(res.session)
		live++
		logx.Info("connected to %s (slot %d)", res.session.Addr(), slot)
		c.bar.Describe(fmt.Sprintf("peers: %d", live))
		if live >= maxLiveSessions {
			cancel()
		}
	}

	if live == 0 {
		return errs.WithReason(errs.Peer, errs.ReasonNoPeers, "establish_sessions",
			fmt.Errorf("no sessions established out of %d candidates (%d failed)", len(candidates), failed))
	}
	return nil
}

func (c *Coordinator) addSession(s *peer.Session) int {
	c.mu.Lock()
	slot := c.nextSlot
	c.nextSlot++
	c.sessions[slot] = s
	c.mu.Unlock()

	c.registry.RegisterPeer(slot)
	if bf, ok := s.GetBitfield(); ok {
		for i := 0; i < c.registry.NumPieces(); i++ {
			if bf.Has(i) {
				c.registry.AddPeerPiece(slot, i)
			}
		}
	}
	return slot
}

func (c *Coordinator) removeSession(slot int) {
	c.mu.Lock()
	delete(c.sessions, slot)
	c.mu.Unlock()
}

func (c *Coordinator) closeAllSessions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.sessions {
		s.Close()
	}
}

func (c *Coordinator) liveSessions() []*peer.Session {
	c.mu.Lock()
	defer c.mu.Unlock()

	sessions := make([]*peer.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	return sessions
}

// runWorker drives one session against the registry until it has no
// eligible piece left, hits three consecutive failures, or its connection
// becomes unusable. It always removes its slot from the registry on exit,
// but only closes and drops the session itself on a connection-level
// error: a worker that simply ran out of pieces to request leaves its
// session open for the endgame sweep.
func (c *Coordinator) runWorker(slot int, s *peer.Session, results chan<- workerResult) {
	blacklist := make(map[int]struct{})
	failures := 0

	for {
		desc, ok := c.registry.NextPieceExcluding(slot, blacklist)
		if !ok {
			break
		}

		data, err := s.RequestPiece(desc)
		if err != nil {
			if errs.IsConnectionError(err) {
				results <- workerResult{kind: resultDisconnected, slot: slot}
				c.registry.RemovePeer(slot)
				c.removeSession(slot)
				s.Close()
				return
			}

			blacklist[desc.Index] = struct{}{}
			results <- workerResult{kind: resultFailed, index: desc.Index}
			failures++
			if failures >= maxWorkerFailures {
				break
			}
			continue
		}

		if !c.registry.VerifyPiece(desc.Index, data) {
			blacklist[desc.Index] = struct{}{}
			results <- workerResult{kind: resultFailed, index: desc.Index}
			failures++
			if failures >= maxWorkerFailures {
				break
			}
			continue
		}

		results <- workerResult{kind: resultCompleted, index: desc.Index, data: data}
		failures = 0
	}

	c.registry.RemovePeer(slot)
}

func (c *Coordinator) aggregate(ctx context.Context, results <-chan workerResult) error {
	total := c.registry.NumPieces()
	completed := c.registry.CompletedCount()

	for {
		select {
		case res, ok := <-results:
			if !ok {
				if completed == total {
					return nil
				}
				return c.endgame(ctx)
			}

			switch res.kind {
			case resultCompleted:
				c.buffer.StorePiece(res.index, res.data)
				c.registry.MarkCompleted(res.index)
				if c.registry.CompletedCount() == completed {
					// A second verified copy of a piece already counted: a
					// worker can pick a piece again before its first result
					// has been marked here.
					break
				}
				completed++
				c.bar.Add(1)
				logx.Info("piece %d complete (%d/%d)", res.index, completed, total)
				if completed == total {
					c.bar.Finish()
					return nil
				}
			case resultFailed:
				logx.Warn("piece %d failed verification or transfer", res.index)
			case resultDisconnected:
				logx.Warn("peer slot %d disconnected", res.slot)
			}

		case <-ctx.Done():
			return errs.New(errs.Download, "aggregate", ctx.Err())
		}
	}
}
