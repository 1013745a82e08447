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

// Package storetest provides FakeStore, an in-memory stand-in for
// store.Store used only by tests — the role the teacher's
// tests/imapmock package played for a real IMAP server.
package storetest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/sgotti/notmuch-sync-go/internal/hash"
	"github.com/sgotti/notmuch-sync-go/internal/maildir"
	"github.com/sgotti/notmuch-sync-go/internal/store"
)

type fakeRecord struct {
	tags  map[store.Tag]bool
	files []store.FileRecord
	rev   uint64
}

// FakeStore is a deterministic, in-process store.Store. Every mutating
// method advances the store's revision by one, matching the monotonic
// per-store counter spec.md §3 describes. Files named by add_file/
// remove_file must exist under Root() on disk, the same as NotmuchStore,
// so content hashing and reconciliation behave identically under test.
type FakeStore struct {
	mu   sync.Mutex
	root string
	uuid string
	rev  uint64
	msgs map[store.MessageId]*fakeRecord
}

// NewFakeStore creates an empty store rooted at root, which must already
// exist (tests typically pass t.TempDir()).
func NewFakeStore(root string) *FakeStore {
	return &FakeStore{
		root: root,
		uuid: uuid.NewV4().String(),
		msgs: make(map[store.MessageId]*fakeRecord),
	}
}

func (f *FakeStore) Root() string { return f.root }

func (f *FakeStore) Revision() (store.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return store.Revision{Rev: f.rev, UUID: f.uuid}, nil
}

func (f *FakeStore) AllIDs() ([]store.MessageId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]store.MessageId, 0, len(f.msgs))
	for id := range f.msgs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f *FakeStore) Find(id store.MessageId) (store.MessageRecord, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.findLocked(id)
}

func (f *FakeStore) findLocked(id store.MessageId) (store.MessageRecord, bool, error) {
	rec, ok := f.msgs[id]
	if !ok || len(rec.files) == 0 {
		return store.MessageRecord{}, false, nil
	}
	tags := make(map[store.Tag]bool, len(rec.tags))
	for t := range rec.tags {
		tags[t] = true
	}
	files := make([]store.FileRecord, len(rec.files))
	copy(files, rec.files)
	return store.MessageRecord{Tags: tags, Files: files}, true, nil
}

func (f *FakeStore) MessagesSince(rev uint64) (map[store.MessageId]store.MessageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[store.MessageId]store.MessageRecord)
	for id, rec := range f.msgs {
		if rec.rev <= rev {
			continue
		}
		mr, ok, err := f.findLocked(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[id] = mr
	}
	return out, nil
}

func (f *FakeStore) SetTags(id store.MessageId, tags map[store.Tag]bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.msgs[id]
	if !ok || len(rec.files) == 0 {
		return fmt.Errorf("storetest: SetTags: message %q not found", id)
	}
	cp := make(map[store.Tag]bool, len(tags))
	for t := range tags {
		cp[t] = true
	}
	rec.tags = cp
	f.rev++
	rec.rev = f.rev

	plain := make(map[string]bool, len(tags))
	for t := range tags {
		plain[string(t)] = true
	}
	for i, fr := range rec.files {
		absPath := filepath.Join(f.root, filepath.FromSlash(string(fr.Name)))
		dir, base := filepath.Split(absPath)
		newBase, changed, err := maildir.Rename(base, plain)
		if err != nil {
			return fmt.Errorf("storetest: rewrite flags for %s: %w", fr.Name, err)
		}
		if !changed {
			continue
		}
		newAbs := filepath.Join(dir, newBase)
		if err := os.Rename(absPath, newAbs); err != nil {
			return fmt.Errorf("storetest: rename %s: %w", absPath, err)
		}
		rel, err := filepath.Rel(f.root, newAbs)
		if err != nil {
			return err
		}
		rec.files[i].Name = store.RelPath(filepath.ToSlash(rel))
	}
	return nil
}

func (f *FakeStore) idForFile(absPath string) (store.MessageId, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("storetest: read %s: %w", absPath, err)
	}
	id, ok := extractMessageID(data)
	if !ok {
		return "", fmt.Errorf("storetest: no Message-ID header in %s", absPath)
	}
	return store.MessageId(id), nil
}

func (f *FakeStore) AddFile(absPath string) (store.MessageId, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id, err := f.idForFile(absPath)
	if err != nil {
		return "", false, err
	}
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil {
		return "", false, fmt.Errorf("storetest: relativize %s: %w", absPath, err)
	}
	sha, err := hash.DigestFile(absPath)
	if err != nil {
		return "", false, err
	}

	rec, existed := f.msgs[id]
	if !existed {
		rec = &fakeRecord{tags: make(map[store.Tag]bool)}
		f.msgs[id] = rec
	}
	for _, fr := range rec.files {
		if fr.Name == store.RelPath(filepath.ToSlash(rel)) {
			f.rev++
			rec.rev = f.rev
			return id, existed, nil // same file re-added, no-op beyond bump
		}
	}
	rec.files = append(rec.files, store.FileRecord{Name: store.RelPath(filepath.ToSlash(rel)), Sha: sha})
	f.rev++
	rec.rev = f.rev
	return id, existed, nil
}

func (f *FakeStore) RemoveFile(absPath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rel, err := filepath.Rel(f.root, absPath)
	if err != nil {
		return fmt.Errorf("storetest: relativize %s: %w", absPath, err)
	}
	relPath := store.RelPath(filepath.ToSlash(rel))
	for id, rec := range f.msgs {
		for i, fr := range rec.files {
			if fr.Name == relPath {
				rec.files = append(rec.files[:i], rec.files[i+1:]...)
				f.rev++
				rec.rev = f.rev
				if len(rec.files) == 0 {
					delete(f.msgs, id)
				}
				return nil
			}
		}
	}
	return nil // already absent: consistent with notmuch remove on an unknown path being a no-op
}

func (f *FakeStore) Fingerprint(absPath string) (store.Hex32, error) {
	return hash.DigestFile(absPath)
}

func extractMessageID(data []byte) (string, bool) {
	const header = "Message-ID:"
	lines := splitLines(data)
	for _, line := range lines {
		if len(line) == 0 {
			break
		}
		if len(line) >= len(header) && eqFold([]byte(line[:len(header)]), header) {
			v := trimSpace([]byte(line[len(header):]))
			start, end := -1, -1
			for i, c := range v {
				if c == '<' && start == -1 {
					start = i
				}
				if c == '>' {
					end = i
				}
			}
			if start == -1 || end == -1 || end < start {
				return "", false
			}
			return string(v[start+1 : end]), true
		}
	}
	return "", false
}

func splitLines(data []byte) []string {
	var lines []string
	start := 0
	for i, b := range data {
		if b == '\n' {
			line := data[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, string(line))
			start = i + 1
		}
	}
	if start < len(data) {
		lines = append(lines, string(data[start:]))
	}
	return lines
}

func trimSpace(s []byte) []byte {
	i, j := 0, len(s)
	for i < j && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	for j > i && (s[j-1] == ' ' || s[j-1] == '\t') {
		j--
	}
	return s[i:j]
}

func eqFold(a []byte, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

var _ store.Store = (*FakeStore)(nil)
