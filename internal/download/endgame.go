package download

import (
	"context"
	"fmt"

	"github.com/lvbealr/gotorrent/internal/errs"
	"github.com/lvbealr/gotorrent/internal/logx"
	"github.com/lvbealr/gotorrent/internal/peer"
	"github.com/lvbealr/gotorrent/internal/piece"
)

// endgame sweeps every piece the worker pool left uncompleted, trying each
// remaining live session that advertises it until one delivers a verified
// copy. It runs sequentially per piece: only here does a single session
// ever handle more than one piece attempt outside its own worker loop.
func (c *Coordinator) endgame(ctx context.Context) error {
	missing := c.registry.MissingPieces()
	if len(missing) == 0 {
		return nil
	}

	sessions := c.liveSessions()
	logx.Warn("endgame: %d pieces missing, %d sessions remaining", len(missing), len(sessions))

	for _, index := range missing {
		if err := ctx.Err(); err != nil {
			return errs.New(errs.Download, "endgame", err)
		}

		desc, err := c.registry.GetPiece(index)
		if err != nil {
			return err
		}

		if !c.recoverPiece(desc, sessions) {
			return errs.New(errs.Download, "endgame",
				fmt.Errorf("piece %d unrecoverable: no remaining session could deliver it", index))
		}
		c.bar.Add(1)
	}

	c.bar.Finish()
	return nil
}

func (c *Coordinator) recoverPiece(desc piece.Descriptor, sessions []*peer.Session) bool {
	for _, s := range sessions {
		if !s.HasPiece(desc.Index) {
			continue
		}

		data, err := s.RequestPiece(desc)
		if err != nil {
			logx.Warn("endgame: %s failed piece %d: %v", s.Addr(), desc.Index, err)
			continue
		}

		if !c.registry.VerifyPiece(desc.Index, data) {
			logx.Warn("endgame: %s delivered bad data for piece %d", s.Addr(), desc.Index)
			continue
		}

		c.buffer.StorePiece(desc.Index, data)
		c.registry.MarkCompleted(desc.Index)
		return true
	}
	return false
}
