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

package store

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	uuid "github.com/satori/go.uuid"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/hash"
	"github.com/sgotti/notmuch-sync-go/internal/maildir"
	"github.com/sgotti/notmuch-sync-go/log"
)

// Fingerprinter is implemented by an on-disk fingerprint cache; NotmuchStore
// uses one when given, falling back to hash.DigestFile otherwise (spec §9).
type Fingerprinter interface {
	Fingerprint(absPath string) (Hex32, error)
}

// NotmuchStore drives the `notmuch` CLI binary, the way the teacher's
// MaildirStore/ImapStore drive their own backends directly instead of
// through a library (see SPEC_FULL.md §4.1).
type NotmuchStore struct {
	root string
	fp   Fingerprinter
	logger *log.Logger
	e      *errors.Error
}

const uuidFileName = "notmuch-sync-go-uuid"

// Open resolves root (via `notmuch config get database.path` if root is
// empty) and ensures the store's persistent uuid file exists.
func Open(root string, loglevel string, fp Fingerprinter) (*NotmuchStore, error) {
	logger := log.GetLogger("store: notmuch", loglevel)
	e := errors.New("store: notmuch")

	if root == "" {
		out, err := exec.Command("notmuch", "config", "get", "database.path").Output()
		if err != nil {
			return nil, e.E(fmt.Errorf("resolve database.path: %w", err))
		}
		root = strings.TrimSpace(string(out))
		if root == "" {
			return nil, e.E(fmt.Errorf("notmuch reports an empty database.path"))
		}
	}

	s := &NotmuchStore{root: root, fp: fp, logger: logger, e: e}
	if err := s.ensureUUID(); err != nil {
		return nil, e.E(err)
	}
	return s, nil
}

func (s *NotmuchStore) uuidPath() string {
	return filepath.Join(s.root, ".notmuch", uuidFileName)
}

func (s *NotmuchStore) ensureUUID() error {
	if _, err := os.Stat(s.uuidPath()); err == nil {
		return nil
	}
	dir := filepath.Dir(s.uuidPath())
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	id := uuid.NewV4().String()
	return writeFileAtomic(s.uuidPath(), []byte(id))
}

func (s *NotmuchStore) readUUID() (string, error) {
	f, err := os.Open(s.uuidPath())
	if err != nil {
		return "", fmt.Errorf("open uuid file: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	scanner.Scan()
	id := strings.TrimSpace(scanner.Text())
	if len(id) != 36 {
		return "", fmt.Errorf("malformed store uuid %q", id)
	}
	return id, nil
}

func (s *NotmuchStore) Root() string { return s.root }

func (s *NotmuchStore) Revision() (Revision, error) {
	id, err := s.readUUID()
	if err != nil {
		return Revision{}, s.e.E(err)
	}
	out, err := exec.Command("notmuch", "count", "--lastmod", "--", "*").Output()
	if err != nil {
		return Revision{}, s.e.E(fmt.Errorf("notmuch count --lastmod: %w", err))
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 {
		return Revision{}, s.e.E(fmt.Errorf("unexpected notmuch count --lastmod output: %q", out))
	}
	rev, err := strconv.ParseUint(fields[1], 10, 64)
	if err != nil {
		return Revision{}, s.e.E(fmt.Errorf("parse revision %q: %w", fields[1], err))
	}
	return Revision{Rev: rev, UUID: id}, nil
}

// notmuchMessage mirrors the subset of `notmuch show --format=json` this
// store needs.
type notmuchMessage struct {
	ID       string   `json:"id"`
	Tags     []string `json:"tags"`
	Filename []string `json:"filename"`
}

func (s *NotmuchStore) relPath(absPath string) (RelPath, error) {
	rel, err := filepath.Rel(s.root, absPath)
	if err != nil {
		return "", fmt.Errorf("relativize %s against %s: %w", absPath, s.root, err)
	}
	return RelPath(filepath.ToSlash(rel)), nil
}

func (s *NotmuchStore) showMessage(id MessageId) (notmuchMessage, bool, error) {
	out, err := exec.Command("notmuch", "show", "--format=json", "--entire-thread=false", "--", "id:"+string(id)).Output()
	if err != nil {
		return notmuchMessage{}, false, nil // not found: treated as absent by callers
	}
	// `notmuch show` returns a nested thread structure; the root message of
	// the first (only, since entire-thread=false) top-level reply is ours.
	var threads [][]json.RawMessage
	if err := json.Unmarshal(out, &threads); err != nil {
		return notmuchMessage{}, false, fmt.Errorf("parse notmuch show output: %w", err)
	}
	if len(threads) == 0 || len(threads[0]) == 0 {
		return notmuchMessage{}, false, nil
	}
	var msg notmuchMessage
	if err := json.Unmarshal(threads[0][0], &msg); err != nil {
		return notmuchMessage{}, false, fmt.Errorf("parse notmuch message: %w", err)
	}
	return msg, true, nil
}

func (s *NotmuchStore) toRecord(msg notmuchMessage) (MessageRecord, error) {
	tags := make(map[Tag]bool, len(msg.Tags))
	for _, t := range msg.Tags {
		tags[Tag(t)] = true
	}
	files := make([]FileRecord, 0, len(msg.Filename))
	for _, fn := range msg.Filename {
		rel, err := s.relPath(fn)
		if err != nil {
			return MessageRecord{}, err
		}
		sha, err := s.Fingerprint(fn)
		if err != nil {
			return MessageRecord{}, err
		}
		files = append(files, FileRecord{Name: rel, Sha: sha})
	}
	return MessageRecord{Tags: tags, Files: files}, nil
}

func (s *NotmuchStore) Find(id MessageId) (MessageRecord, bool, error) {
	msg, ok, err := s.showMessage(id)
	if err != nil {
		return MessageRecord{}, false, s.e.E(err)
	}
	if !ok || len(msg.Filename) == 0 {
		return MessageRecord{}, false, nil // absent, or a ghost: spec §4.1
	}
	rec, err := s.toRecord(msg)
	if err != nil {
		return MessageRecord{}, false, s.e.E(err)
	}
	return rec, true, nil
}

func (s *NotmuchStore) searchIDs(query string) ([]MessageId, error) {
	out, err := exec.Command("notmuch", "search", "--format=json", "--output=messages", "--", query).Output()
	if err != nil {
		return nil, fmt.Errorf("notmuch search %q: %w", query, err)
	}
	var raw []string
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, fmt.Errorf("parse notmuch search output: %w", err)
	}
	ids := make([]MessageId, 0, len(raw))
	for _, r := range raw {
		ids = append(ids, MessageId(strings.TrimPrefix(r, "id:")))
	}
	return ids, nil
}

func (s *NotmuchStore) AllIDs() ([]MessageId, error) {
	ids, err := s.searchIDs("*")
	if err != nil {
		return nil, s.e.E(err)
	}
	return ids, nil
}

func (s *NotmuchStore) MessagesSince(rev uint64) (map[MessageId]MessageRecord, error) {
	query := "*"
	if rev > 0 {
		query = fmt.Sprintf("lastmod:%d..", rev+1)
	}
	ids, err := s.searchIDs(query)
	if err != nil {
		return nil, s.e.E(err)
	}
	out := make(map[MessageId]MessageRecord, len(ids))
	for _, id := range ids {
		rec, ok, err := s.Find(id)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue // ghost: skip, per spec §4.1/§9
		}
		out[id] = rec
	}
	return out, nil
}

func (s *NotmuchStore) SetTags(id MessageId, tags map[Tag]bool) error {
	rec, ok, err := s.Find(id)
	if err != nil {
		return err
	}
	if !ok {
		return s.e.E(fmt.Errorf("SetTags: message %q not found", id))
	}

	toAdd, toRemove := diffTags(rec.Tags, tags)
	args := []string{"tag"}
	for _, t := range toRemove {
		args = append(args, "-"+string(t))
	}
	for _, t := range toAdd {
		args = append(args, "+"+string(t))
	}
	if len(toAdd)+len(toRemove) > 0 {
		args = append(args, "--", "id:"+string(id))
		if err := exec.Command("notmuch", args...).Run(); err != nil {
			return s.e.E(fmt.Errorf("notmuch tag: %w", err))
		}
	}

	if err := s.syncFlags(rec.Files, tags); err != nil {
		return s.e.E(err)
	}
	return nil
}

func diffTags(from, to map[Tag]bool) (toAdd, toRemove []Tag) {
	for t := range to {
		if !from[t] {
			toAdd = append(toAdd, t)
		}
	}
	for t := range from {
		if !to[t] {
			toRemove = append(toRemove, t)
		}
	}
	return
}

// syncFlags rewrites each file's maildir flag suffix to reflect tags, via
// maildir.Rename, and relocates it between the new/ and cur/ subdirectories
// per maildir.TargetSubdir when the inbox tag's presence disagrees with
// where the file currently sits (SPEC_FULL.md's supplemented inbox<->new/
// cur mapping, alongside the existing unread<->Seen-flag one). Both changes
// are applied with a single os.Rename per file.
func (s *NotmuchStore) syncFlags(files []FileRecord, tags map[Tag]bool) error {
	plain := make(map[string]bool, len(tags))
	for t := range tags {
		plain[string(t)] = true
	}
	targetSubdir := maildir.TargetSubdir(plain)

	for _, f := range files {
		absPath := filepath.Join(s.root, filepath.FromSlash(string(f.Name)))
		dir, base := filepath.Split(absPath)

		newBase, flagsChanged, err := maildir.Rename(base, plain)
		if err != nil {
			return fmt.Errorf("rewrite flags for %s: %w", f.Name, err)
		}

		// Only relocate if the immediate parent directory is literally
		// "new" or "cur" — a store laid out any other way is left alone.
		newDir := dir
		parent, sub := filepath.Split(filepath.Clean(dir))
		if (sub == maildir.SubdirNew || sub == maildir.SubdirCur) && sub != targetSubdir {
			newDir = filepath.Join(parent, targetSubdir) + string(filepath.Separator)
		}

		newAbs := filepath.Join(newDir, newBase)
		if !flagsChanged && newAbs == absPath {
			continue
		}
		if newDir != dir {
			if err := os.MkdirAll(filepath.Dir(newAbs), 0o777); err != nil {
				return fmt.Errorf("mkdir %s: %w", filepath.Dir(newAbs), err)
			}
		}
		if err := os.Rename(absPath, newAbs); err != nil {
			return fmt.Errorf("rename %s to %s: %w", absPath, newAbs, err)
		}
		// Tell notmuch about the new path for this already-indexed file.
		if err := exec.Command("notmuch", "new", "--no-hooks").Run(); err != nil {
			return fmt.Errorf("notmuch new after flag rename: %w", err)
		}
	}
	return nil
}

func (s *NotmuchStore) AddFile(absPath string) (MessageId, bool, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", false, s.e.E(fmt.Errorf("read %s: %w", absPath, err))
	}
	id, err := parseMessageID(data)
	if err != nil {
		return "", false, s.e.E(err)
	}

	_, existedBefore, err := s.Find(MessageId(id))
	if err != nil {
		return "", false, err
	}

	if err := exec.Command("notmuch", "new", "--no-hooks").Run(); err != nil {
		return "", false, s.e.E(fmt.Errorf("notmuch new: %w", err))
	}

	return MessageId(id), existedBefore, nil
}

func (s *NotmuchStore) RemoveFile(absPath string) error {
	rel, err := s.relPath(absPath)
	if err != nil {
		return s.e.E(err)
	}
	if err := exec.Command("notmuch", "remove", "--", string(rel)).Run(); err != nil {
		return s.e.E(fmt.Errorf("notmuch remove %s: %w", rel, err))
	}
	return nil
}

func (s *NotmuchStore) Fingerprint(absPath string) (Hex32, error) {
	if s.fp != nil {
		return s.fp.Fingerprint(absPath)
	}
	sha, err := hash.DigestFile(absPath)
	if err != nil {
		return "", s.e.E(err)
	}
	return sha, nil
}

var messageIDHeader = []byte("Message-ID:")

// parseMessageID extracts the RFC-822 Message-ID header's bracketed value
// from raw mail bytes, unfolding one continuation line if present.
func parseMessageID(data []byte) (string, error) {
	lines := bytes.Split(data, []byte("\n"))
	for i, line := range lines {
		trimmed := bytes.TrimRight(line, "\r")
		if bytes.HasPrefix(bytes.ToUpper(bytes.TrimSpace(trimmed)), bytes.ToUpper(messageIDHeader)) {
			value := bytes.TrimSpace(trimmed[len(messageIDHeader):])
			for i+1 < len(lines) && len(lines[i+1]) > 0 && (lines[i+1][0] == ' ' || lines[i+1][0] == '\t') {
				i++
				value = append(value, bytes.TrimSpace(lines[i])...)
			}
			start := bytes.IndexByte(value, '<')
			end := bytes.IndexByte(value, '>')
			if start == -1 || end == -1 || end < start {
				return "", fmt.Errorf("malformed Message-ID header: %q", value)
			}
			return string(value[start+1 : end]), nil
		}
		if len(trimmed) == 0 {
			break // end of headers, no Message-ID found
		}
	}
	return "", fmt.Errorf("no Message-ID header found")
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
