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

// Package sidecar implements the optional mtime-based reconciliation of
// maildir-state sidecar files (spec §4.10): opaque blobs an IMAP-sync
// tool writes alongside maildir folders, resolved purely by modification
// time since this module never parses their contents.
package sidecar

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/maildir"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("sidecar")

// patterns are the fixed basenames spec §4.10 recognizes.
var patterns = map[string]bool{
	".uidvalidity": true,
	".mbsyncstate": true,
}

// Manifest maps a RelPath to its mtime in whole seconds.
type Manifest map[string]int64

// Scan walks root and returns the manifest of every sidecar file found.
func Scan(root string) (Manifest, error) {
	m := make(Manifest)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !patterns[d.Name()] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		m[filepath.ToSlash(rel)] = info.ModTime().Unix()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan sidecar files under %s: %w", root, err)
	}
	return m, nil
}

// validateNames rejects any peer-supplied name that fails
// maildir.ValidateRelPath before it reaches exchangeBodies' filepath.Join
// against root — the same traversal guard store.MessageRecord applies to
// FileRecord.Name, applied here to the other wire path this module reads
// off the peer: the pull/push lists and the remote manifest.
func validateNames(names []string) error {
	for _, n := range names {
		if err := maildir.ValidateRelPath(n); err != nil {
			return fmt.Errorf("invalid sidecar file name %q: %w", n, err)
		}
	}
	return nil
}

func validateManifest(m Manifest) error {
	for name := range m {
		if err := maildir.ValidateRelPath(name); err != nil {
			return fmt.Errorf("invalid sidecar file name %q: %w", name, err)
		}
	}
	return nil
}

// RunResponder sends its manifest, then receives the names it must send
// and the names the initiator will send, then exchanges bodies.
func RunResponder(codec *wire.Codec, root string, logger *log.Logger) error {
	local, err := Scan(root)
	if err != nil {
		return e.E(err)
	}
	blob, err := json.Marshal(local)
	if err != nil {
		return e.E(fmt.Errorf("marshal local manifest: %w", err))
	}
	if err := codec.WriteBlob(blob); err != nil {
		return e.E(fmt.Errorf("send manifest: %w", err))
	}

	// Wire order (spec §6.2 step 6) is initiator sends pull, then push.
	// "pull" names what the initiator wants from us: we must send them.
	// "push" names what the initiator will send us: we must receive them.
	pullBlob, err := codec.ReadBlob()
	if err != nil {
		return e.E(fmt.Errorf("receive pull list: %w", err))
	}
	var mustSend []string
	if err := json.Unmarshal(pullBlob, &mustSend); err != nil {
		return e.E(fmt.Errorf("parse pull list: %w", err))
	}
	if err := validateNames(mustSend); err != nil {
		return e.E(fmt.Errorf("pull list: %w", err))
	}

	pushBlob, err := codec.ReadBlob()
	if err != nil {
		return e.E(fmt.Errorf("receive push list: %w", err))
	}
	var mustReceive []string
	if err := json.Unmarshal(pushBlob, &mustReceive); err != nil {
		return e.E(fmt.Errorf("parse push list: %w", err))
	}
	if err := validateNames(mustReceive); err != nil {
		return e.E(fmt.Errorf("push list: %w", err))
	}

	return exchangeBodies(codec, root, mustSend, mustReceive, logger)
}

// RunInitiator receives the responder's manifest, computes pull/push,
// sends both lists, then exchanges bodies.
func RunInitiator(codec *wire.Codec, root string, logger *log.Logger) error {
	local, err := Scan(root)
	if err != nil {
		return e.E(err)
	}

	remoteBlob, err := codec.ReadBlob()
	if err != nil {
		return e.E(fmt.Errorf("receive responder manifest: %w", err))
	}
	var remote Manifest
	if err := json.Unmarshal(remoteBlob, &remote); err != nil {
		return e.E(fmt.Errorf("parse responder manifest: %w", err))
	}
	if err := validateManifest(remote); err != nil {
		return e.E(fmt.Errorf("responder manifest: %w", err))
	}

	var pull, push []string
	for name, remoteMtime := range remote {
		localMtime, ok := local[name]
		if !ok || remoteMtime > localMtime {
			pull = append(pull, name)
		}
	}
	for name, localMtime := range local {
		remoteMtime, ok := remote[name]
		if !ok || localMtime > remoteMtime {
			push = append(push, name)
		}
	}

	pullBlob, err := json.Marshal(pull)
	if err != nil {
		return e.E(err)
	}
	if err := codec.WriteBlob(pullBlob); err != nil {
		return e.E(fmt.Errorf("send pull list: %w", err))
	}
	pushBlob, err := json.Marshal(push)
	if err != nil {
		return e.E(err)
	}
	if err := codec.WriteBlob(pushBlob); err != nil {
		return e.E(fmt.Errorf("send push list: %w", err))
	}

	return exchangeBodies(codec, root, push, pull, logger)
}

// exchangeBodies sends the files in sendNames, in order, concurrently
// with receiving the files in recvNames, in order, and overwrites any
// existing destination unconditionally (sidecar files are opaque state
// blobs whose authoritative ordering is mtime, not content identity).
func exchangeBodies(codec *wire.Codec, root string, sendNames, recvNames []string, logger *log.Logger) error {
	var sendErr, recvErr error
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, name := range sendNames {
			abs := filepath.Join(root, filepath.FromSlash(name))
			data, err := os.ReadFile(abs)
			if err != nil {
				sendErr = fmt.Errorf("read sidecar file %s: %w", name, err)
				return
			}
			if err := codec.WriteBlob(data); err != nil {
				sendErr = fmt.Errorf("send sidecar file %s: %w", name, err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for _, name := range recvNames {
			data, err := codec.ReadBlob()
			if err != nil {
				recvErr = fmt.Errorf("receive sidecar file %s: %w", name, err)
				return
			}
			abs := filepath.Join(root, filepath.FromSlash(name))
			if err := os.MkdirAll(filepath.Dir(abs), 0o777); err != nil {
				recvErr = fmt.Errorf("mkdir for sidecar file %s: %w", name, err)
				return
			}
			if err := os.WriteFile(abs, data, 0o644); err != nil {
				recvErr = fmt.Errorf("write sidecar file %s: %w", name, err)
				return
			}
			if logger != nil {
				logger.Debugf("sidecar: wrote %s", name)
			}
		}
	}()
	wg.Wait()
	if sendErr != nil {
		return e.E(sendErr)
	}
	if recvErr != nil {
		return e.E(recvErr)
	}
	return nil
}
