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

// Package store defines the abstract contract the sync core requires of a
// tag/message database (spec §4.1) and the data model it operates on
// (spec §3). NotmuchStore, in notmuch.go, is the one concrete backend;
// storetest.FakeStore is an in-memory stand-in used only by tests.
package store

// MessageId is an opaque, non-empty Message-ID; equality is byte-exact.
type MessageId string

// Tag is a non-empty string containing no NUL byte.
type Tag string

// RelPath is forward-slash separated, relative to the store's maildir
// root, never absolute, never containing "..". See maildir.ValidateRelPath.
type RelPath string

// Hex32 is a lower-case hex SHA-256 digest (64 hex characters).
type Hex32 = string

// FileRecord is one on-disk copy of a message.
type FileRecord struct {
	Name RelPath `json:"name"`
	Sha  Hex32   `json:"sha"`
}

// MessageRecord is everything the sync core cares about for one message.
// Files is non-empty for a live message; order is not significant.
type MessageRecord struct {
	Tags  map[Tag]bool `json:"-"`
	Files []FileRecord `json:"files"`
}

// wireMessageRecord backs MessageRecord's JSON wire encoding (spec
// §6.2's changeset JSON: {"tags":[...], "files":[...]}) since Go maps
// don't marshal as arrays.
type wireMessageRecord struct {
	Tags  []string     `json:"tags"`
	Files []FileRecord `json:"files"`
}

// ChangeSet is the set of messages whose tags or files changed since a
// revision (spec §3).
type ChangeSet map[MessageId]MessageRecord

// Revision identifies a point in a Store's history.
type Revision struct {
	Rev  uint64
	UUID string // exactly 36 ASCII bytes
}

// TransferCounters are the six counters spec §3/§6.2 exchange at the end
// of a sync: tag changes, copy/move count, duplicate deletions, new
// messages, whole-message deletions, new files.
type TransferCounters struct {
	TagChanges   uint32
	CopyMove     uint32
	DupDeletions uint32
	NewMessages  uint32
	MsgDeletions uint32
	NewFiles     uint32
}

// Array returns the counters in the wire order spec §6.2 step 7 specifies.
func (t TransferCounters) Array() [6]uint32 {
	return [6]uint32{t.TagChanges, t.CopyMove, t.DupDeletions, t.NewMessages, t.MsgDeletions, t.NewFiles}
}

// CountersFromArray is the inverse of Array.
func CountersFromArray(a [6]uint32) TransferCounters {
	return TransferCounters{
		TagChanges:   a[0],
		CopyMove:     a[1],
		DupDeletions: a[2],
		NewMessages:  a[3],
		MsgDeletions: a[4],
		NewFiles:     a[5],
	}
}

// Store is the abstract contract the sync core requires (spec §4.1). The
// store serializes its own writers; readers may proceed concurrently. The
// core holds a writer handle only during brief mutating windows.
type Store interface {
	// Revision returns the store's current revision.
	Revision() (Revision, error)

	// Root returns the absolute path of the store's maildir tree.
	Root() string

	// MessagesSince yields every message whose last-modified revision is
	// strictly greater than rev. rev == 0 yields every message.
	MessagesSince(rev uint64) (map[MessageId]MessageRecord, error)

	// AllIDs returns every MessageId currently in the store.
	AllIDs() ([]MessageId, error)

	// Find looks up a message by id. A ghost message (no files) is
	// reported as absent (ok == false), per spec §4.1.
	Find(id MessageId) (rec MessageRecord, ok bool, err error)

	// SetTags atomically replaces id's tag set, propagating the subset
	// of tags that map to maildir flag letters by rewriting file names.
	SetTags(id MessageId, tags map[Tag]bool) error

	// AddFile ingests a maildir file, linking it to the message with the
	// matching Message-ID. isDuplicate is true if that id already
	// existed.
	AddFile(absPath string) (id MessageId, isDuplicate bool, err error)

	// RemoveFile detaches a file from its message, destroying the
	// message if it was the last file.
	RemoveFile(absPath string) error

	// Fingerprint returns the content hash of the file at absPath. The
	// store may cache this (spec §9).
	Fingerprint(absPath string) (Hex32, error)
}
