// notmuch-sync-go
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, write to the Free Software Foundation, Inc.,
// 51 Franklin Street, Fifth Floor, Boston, MA 02110-1301 USA.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sgotti/notmuch-sync-go/config"
	"github.com/sgotti/notmuch-sync-go/internal/fpcache"
	"github.com/sgotti/notmuch-sync-go/internal/orchestrator"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/transport"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
	"github.com/sgotti/notmuch-sync-go/log"
)

func main() {
	logger := log.GetLogger("main", "info")

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		os.Exit(1)
	}

	loglevel := log.LevelFromVerbosity(cfg.Verbose, cfg.Quiet)
	logger = log.GetLogger("main", loglevel)

	s, err := openStore(loglevel)
	if err != nil {
		logger.Errorf("open store: %s", err)
		os.Exit(1)
	}

	if cfg.Remote {
		// Spawned as the far end of a transport-cmd invocation (spec
		// §6.1): stdin/stdout are already the duplex stream, there is
		// no child process to wait on.
		if err := runSession(s, wire.New(os.Stdin, os.Stdout), false, cfg, logger); err != nil {
			logger.Errorf("sync failed: %s", err)
			os.Exit(1)
		}
		return
	}

	peer, err := transport.Spawn(transport.Config{
		RemotePeer:   cfg.RemotePeer,
		User:         cfg.User,
		TransportCmd: cfg.TransportCmd,
		PathOnPeer:   cfg.PathOnPeer,
		RemoteCmd:    cfg.RemoteCmd,
	})
	if err != nil {
		logger.Errorf("spawn peer: %s", err)
		os.Exit(1)
	}

	runErr := runSession(s, wire.New(peer.Stream, peer.Stream), true, cfg, logger)
	_ = peer.Stream.Close()
	waitErr := peer.Wait(logger)

	if runErr != nil {
		logger.Errorf("sync failed: %s", runErr)
		os.Exit(1)
	}
	if waitErr != nil {
		logger.Errorf("%s", waitErr)
		os.Exit(1)
	}
}

// openStore resolves the notmuch database root (via `notmuch config get
// database.path`) once to find where the fingerprint cache lives, then
// reopens the store with that cache wired in (spec §9).
func openStore(loglevel string) (*store.NotmuchStore, error) {
	probe, err := store.Open("", loglevel, nil)
	if err != nil {
		return nil, err
	}

	cachePath := filepath.Join(probe.Root(), ".notmuch", "notmuch-sync-go-fpcache.db")
	fp, err := fpcache.Open(cachePath)
	if err != nil {
		return nil, fmt.Errorf("open fingerprint cache: %w", err)
	}

	return store.Open(probe.Root(), loglevel, fp)
}

func runSession(s *store.NotmuchStore, codec *wire.Codec, initiator bool, cfg *config.Config, logger *log.Logger) error {
	opts := orchestrator.Options{
		Initiator:      initiator,
		EnableDeletion: cfg.EnableDeletion,
		UnsafeDeletion: cfg.UnsafeDeletion,
		EnableSidecar:  cfg.EnableSidecar,
	}
	if cfg.Verbose >= 1 {
		opts.ProgressWriter = os.Stderr
	}

	summary, err := orchestrator.Run(codec, s, "", opts, logger)
	if err != nil {
		return err
	}

	printSummary(summary)
	return nil
}

// printSummary reports the counters spec §6.5 asks for: this node's own
// transfer counters, the session's total bytes moved, and — only the
// initiator sees these, since only the responder sends them (spec §4.11,
// §6.2 step 7) — the peer's counters.
func printSummary(summary *orchestrator.Summary) {
	fmt.Fprintf(os.Stderr, "local: %s\n", formatCounters(summary.Local))
	if summary.HasRemote {
		fmt.Fprintf(os.Stderr, "remote: %s\n", formatCounters(summary.Remote))
	}
	fmt.Fprintf(os.Stderr, "bytes read %d, bytes written %d\n", summary.BytesRead, summary.BytesWritten)
}

func formatCounters(c store.TransferCounters) string {
	return fmt.Sprintf("new_msg=%d new_file=%d tag_changes=%d copy_move=%d dup_del=%d msg_del=%d",
		c.NewMessages, c.NewFiles, c.TagChanges, c.CopyMove, c.DupDeletions, c.MsgDeletions)
}
