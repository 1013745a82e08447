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

// Package orchestrator sequences the sync phases as the state machine
// spec §4.11 describes: Init -> UuidExchange -> ChangeSetExchange ->
// TagMerge -> Reconcile -> FileTransfer -> Checkpoint -> (Deletion?) ->
// (Sidecar?) -> CountersExchange -> Done.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/changeset"
	"github.com/sgotti/notmuch-sync-go/internal/deletion"
	"github.com/sgotti/notmuch-sync-go/internal/reconcile"
	"github.com/sgotti/notmuch-sync-go/internal/sidecar"
	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/syncstate"
	"github.com/sgotti/notmuch-sync-go/internal/tagmerge"
	"github.com/sgotti/notmuch-sync-go/internal/transfer"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("orchestrator")

// Options toggles the two optional phases and the transfer progress bar.
// aggressiveMove is derived from Initiator, not set directly.
type Options struct {
	Initiator      bool
	EnableDeletion bool
	UnsafeDeletion bool
	EnableSidecar  bool

	// ProgressWriter, when non-nil, gets a cheggaaa/pb/v3 bar (spec
	// §4.7) sized to the fetch list Reconcile computes; Run owns the
	// bar's lifetime since the total isn't known until Reconcile runs.
	ProgressWriter io.Writer
}

// Summary is everything worth reporting to the user at the end of a run
// (spec §6.5): this node's own counters and the session's byte totals,
// and — only the initiator gets this, since only the responder sends it
// (spec §4.11, §6.2 step 7) — the peer's counters.
type Summary struct {
	Local        store.TransferCounters
	Remote       store.TransferCounters
	HasRemote    bool
	BytesRead    int64
	BytesWritten int64
}

// Run drives one full sync session for the local side of the duplex
// connection described by codec, against store s, identified to its peer
// by peerUUID (the bookmark file key, spec §6.3).
func Run(codec *wire.Codec, s store.Store, peerUUID string, opts Options, logger *log.Logger) (*Summary, error) {
	localRev, err := s.Revision()
	if err != nil {
		return nil, e.E(fmt.Errorf("read local revision: %w", err))
	}

	remoteUUID, err := exchangeUUIDs(codec, localRev.UUID)
	if err != nil {
		return nil, e.E(err)
	}
	if peerUUID == "" {
		peerUUID = remoteUUID
	}

	local, err := changeset.Build(s, peerUUID)
	if err != nil {
		return nil, e.E(fmt.Errorf("build local changeset: %w", err))
	}

	remote, err := exchangeChangeSets(codec, local)
	if err != nil {
		return nil, e.E(err)
	}

	var counters store.TransferCounters

	tagChanges, err := tagmerge.Apply(s, local, remote, logger)
	if err != nil {
		return nil, e.E(fmt.Errorf("tag merge: %w", err))
	}
	counters.TagChanges = tagChanges

	reconcileResult, err := reconcile.Reconcile(s, local, remote, opts.Initiator, logger)
	if err != nil {
		return nil, e.E(fmt.Errorf("reconcile: %w", err))
	}
	counters.CopyMove = reconcileResult.CopyMove
	counters.DupDeletions = reconcileResult.DupDeletions

	remoteTags := make(map[store.MessageId]map[store.Tag]bool, len(remote))
	for id, rec := range remote {
		remoteTags[id] = rec.Tags
	}

	var progress transfer.ProgressReporter
	if opts.ProgressWriter != nil {
		bar := transfer.NewProgressBar(len(reconcileResult.Fetch), opts.ProgressWriter)
		progress = bar
		defer bar.Finish()
	}
	transferResult, err := transfer.Run(codec, s, reconcileResult.Fetch, remoteTags, progress, logger)
	if err != nil {
		return nil, e.E(fmt.Errorf("file transfer: %w", err))
	}
	counters.NewFiles = transferResult.NewFiles
	counters.NewMessages = transferResult.NewMessages

	// Checkpoint (spec §4.8): rewrite the bookmark with the revision as
	// of right now — tag merge and file adoption both advanced it — before
	// the optional, more speculative phases below.
	checkpointRev, err := s.Revision()
	if err != nil {
		return nil, e.E(fmt.Errorf("read revision for checkpoint: %w", err))
	}
	if err := syncstate.Save(s.Root(), peerUUID, syncstate.State{Rev: checkpointRev.Rev, UUID: checkpointRev.UUID}); err != nil {
		return nil, e.E(fmt.Errorf("checkpoint: %w", err))
	}

	if opts.EnableDeletion {
		delOpts := deletion.Options{RequireDeletedTag: !opts.UnsafeDeletion}
		var delResult *deletion.Result
		if opts.Initiator {
			delResult, err = deletion.RunInitiator(codec, s, delOpts, logger)
		} else {
			delResult, err = deletion.RunResponder(codec, s, delOpts, logger)
		}
		if err != nil {
			return nil, e.E(fmt.Errorf("deletion sync: %w", err))
		}
		counters.MsgDeletions = delResult.MsgDeletions
	}

	if opts.EnableSidecar {
		if opts.Initiator {
			err = sidecar.RunInitiator(codec, s.Root(), logger)
		} else {
			err = sidecar.RunResponder(codec, s.Root(), logger)
		}
		if err != nil {
			return nil, e.E(fmt.Errorf("sidecar sync: %w", err))
		}
	}

	summary := &Summary{
		Local:        counters,
		BytesRead:    codec.Counters.Read(),
		BytesWritten: codec.Counters.Write(),
	}

	if opts.Initiator {
		remoteArr, err := codec.ReadCounters6()
		if err != nil {
			return nil, e.E(fmt.Errorf("receive peer counters: %w", err))
		}
		summary.Remote = store.CountersFromArray(remoteArr)
		summary.HasRemote = true
	} else {
		if err := codec.WriteCounters6(counters.Array()); err != nil {
			return nil, e.E(fmt.Errorf("send local counters: %w", err))
		}
	}
	summary.BytesRead = codec.Counters.Read()
	summary.BytesWritten = codec.Counters.Write()

	return summary, nil
}

func exchangeUUIDs(codec *wire.Codec, localUUID string) (string, error) {
	var remoteUUID string
	var writeErr, readErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		writeErr = codec.WriteUUID(localUUID)
	}()
	go func() {
		defer wg.Done()
		remoteUUID, readErr = codec.ReadUUID()
	}()
	wg.Wait()
	if writeErr != nil {
		return "", fmt.Errorf("send local uuid: %w", writeErr)
	}
	if readErr != nil {
		return "", fmt.Errorf("receive peer uuid: %w", readErr)
	}
	return remoteUUID, nil
}

func exchangeChangeSets(codec *wire.Codec, local store.ChangeSet) (store.ChangeSet, error) {
	var remote store.ChangeSet
	var writeErr, readErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		blob, err := json.Marshal(local)
		if err != nil {
			writeErr = fmt.Errorf("marshal local changeset: %w", err)
			return
		}
		writeErr = codec.WriteBlob(blob)
	}()
	go func() {
		defer wg.Done()
		blob, err := codec.ReadBlob()
		if err != nil {
			readErr = fmt.Errorf("receive remote changeset: %w", err)
			return
		}
		if err := json.Unmarshal(blob, &remote); err != nil {
			readErr = fmt.Errorf("parse remote changeset: %w", err)
		}
	}()
	wg.Wait()
	if writeErr != nil {
		return nil, writeErr
	}
	if readErr != nil {
		return nil, readErr
	}
	return remote, nil
}
