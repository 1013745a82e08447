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

// Package syncstate reads and writes the durable per-peer sync bookmark
// (spec §3, §6.3): <store_root>/.notmuch/notmuch-sync-<peer_uuid>,
// containing the ASCII string "<rev> <uuid>".
package syncstate

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/sgotti/notmuch-sync-go/internal/wire"
)

// State is the bookmark recorded after the most recent successful sync
// with one peer (the peer's uuid names the file): the local revision at
// that time and the local store's uuid, which changeset.Build compares
// against the store's current uuid to detect a rebuilt database.
type State struct {
	Rev  uint64
	UUID string
}

// Path returns the bookmark file path for peerUUID under storeRoot.
func Path(storeRoot, peerUUID string) string {
	return filepath.Join(storeRoot, ".notmuch", "notmuch-sync-"+peerUUID)
}

// Load reads the bookmark for peerUUID. ok is false if no bookmark file
// exists yet (a fresh pairing), which is not an error.
func Load(storeRoot, peerUUID string) (s State, ok bool, err error) {
	path := Path(storeRoot, peerUUID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, false, nil
		}
		return State{}, false, fmt.Errorf("read sync-state file %s: %w", path, err)
	}
	text := strings.TrimRight(string(data), "\r\n")
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return State{}, false, fmt.Errorf("sync-state file %s does not parse as \"<rev> <uuid>\": %q", path, text)
	}
	rev, err := strconv.ParseUint(fields[0], 10, 64)
	if err != nil {
		return State{}, false, fmt.Errorf("sync-state file %s: bad revision %q: %w", path, fields[0], err)
	}
	if len(fields[1]) != wire.UUIDLen {
		return State{}, false, fmt.Errorf("sync-state file %s: bad uuid %q", path, fields[1])
	}
	return State{Rev: rev, UUID: fields[1]}, true, nil
}

// Save rewrites the bookmark file using a rename-into-place discipline:
// write to a temporary file in the same directory, fsync, then rename.
// This is spec §5's durability requirement for the checkpoint.
func Save(storeRoot, peerUUID string, s State) error {
	path := Path(storeRoot, peerUUID)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".notmuch-sync-tmp-"+uuid.NewString())
	if err != nil {
		return fmt.Errorf("create temp sync-state file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	content := fmt.Sprintf("%d %s", s.Rev, s.UUID)
	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp sync-state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp sync-state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp sync-state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename sync-state file into place: %w", err)
	}
	return nil
}
