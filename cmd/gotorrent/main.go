// Command gotorrent downloads the resource described by a .torrent
// manifest and writes it next to the manifest with a .out extension.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/lvbealr/gotorrent/internal/download"
	"github.com/lvbealr/gotorrent/internal/errs"
	"github.com/lvbealr/gotorrent/internal/logx"
	"github.com/lvbealr/gotorrent/internal/manifest"
	"github.com/lvbealr/gotorrent/internal/peerid"
	"github.com/lvbealr/gotorrent/internal/tracker"
)

const listenPort = 6881

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: gotorrent <path-to-torrent-file>\n")
		os.Exit(1)
	}

	if err := run(os.Args[1]); err != nil {
		logx.Fail("%v", err)
		os.Exit(exitCode(err))
	}
}

func run(path string) error {
	m, err := manifest.Load(path)
	if err != nil {
		return err
	}

	localPeerID, err := peerid.Generate()
	if err != nil {
		return errs.New(errs.Client, "generate_peer_id", err)
	}

	logx.Info("loaded %s: %d pieces, %d bytes", m.Name, len(m.PieceHashes), m.Length)

	ctx := context.Background()

	req := tracker.Request{
		Announce:     m.Announce,
		AnnounceList: m.AnnounceList,
		InfoHash:     m.InfoHash,
		PeerID:       localPeerID,
		Port:         listenPort,
		Left:         m.Length,
		Event:        "started",
	}

	resp, err := tracker.Announce(ctx, req)
	if err != nil {
		return err
	}
	logx.Info("tracker returned %d peers", len(resp.Peers))

	coordinator := download.New(m, localPeerID)

	data, err := coordinator.Run(ctx, resp.Peers)
	if err != nil {
		return err
	}

	outPath := outputPath(path)
	if err := os.WriteFile(outPath, data, 0644); err != nil {
		return errs.New(errs.IO, "write_output", err)
	}

	logx.Info("wrote %s (%d bytes)", outPath, len(data))
	return nil
}

func outputPath(manifestPath string) string {
	ext := filepath.Ext(manifestPath)
	return strings.TrimSuffix(manifestPath, ext) + ".out"
}

func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.IO:
		return 2
	case errs.Network:
		return 3
	case errs.Tracker:
		return 4
	case errs.Peer:
		return 5
	case errs.Protocol:
		return 6
	case errs.Piece:
		return 7
	case errs.Download:
		return 8
	case errs.Timeout:
		return 9
	case errs.InvalidData:
		return 10
	default:
		return 1
	}
}
