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

// Package fpcache is an on-disk cache of content-hash fingerprints,
// keyed on a file's device, inode, modification time, and size so a
// fingerprint recomputes automatically the moment any of those change
// (spec §9, "fingerprint caching" open question).
package fpcache

import (
	"database/sql"
	"fmt"
	"os"
	"syscall"

	_ "github.com/mattn/go-sqlite3"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/internal/fpcache/migrations"
	"github.com/sgotti/notmuch-sync-go/internal/hash"
	"github.com/sgotti/notmuch-sync-go/internal/store"
)

var e = errors.New("fpcache")

// Cache is a sqlite-backed Fingerprinter (internal/store.Fingerprinter).
// A miss is never fatal to the caller: it just means recomputing the
// digest from file bytes, so the cache can be safely deleted or
// corrupted without affecting sync correctness, only its speed.
type Cache struct {
	db *sql.DB
}

// Open opens (creating if absent) the sqlite database at path and brings
// its schema up to date.
func Open(path string) (*Cache, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, e.E(fmt.Errorf("open %s: %w", path, err))
	}
	if _, err := db.Exec("pragma journal_mode = wal"); err != nil {
		db.Close()
		return nil, e.E(fmt.Errorf("enable wal mode: %w", err))
	}
	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, e.E(err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Fingerprint returns the cached digest of absPath if the file's
// identity (device, inode, size) and mtime match a cached row exactly;
// otherwise it computes the digest from the file's bytes and stores the
// result for next time.
func (c *Cache) Fingerprint(absPath string) (store.Hex32, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return "", e.E(fmt.Errorf("stat %s: %w", absPath, err))
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		// Platform without a usable Stat_t (not Linux): skip the cache.
		return hash.DigestFile(absPath)
	}
	dev, ino, mtimeNs, size := int64(st.Dev), int64(st.Ino), st.Mtim.Nano(), info.Size()

	var sha string
	row := c.db.QueryRow(
		`select sha from fingerprints where path = ? and dev = ? and ino = ? and mtime_ns = ? and size = ?`,
		absPath, dev, ino, mtimeNs, size,
	)
	switch err := row.Scan(&sha); err {
	case nil:
		return sha, nil
	case sql.ErrNoRows:
		// fall through to recompute
	default:
		return "", e.E(fmt.Errorf("query fingerprint cache: %w", err))
	}

	sha, err = hash.DigestFile(absPath)
	if err != nil {
		return "", e.E(err)
	}
	if _, err := c.db.Exec(
		`delete from fingerprints where path = ?`, absPath,
	); err != nil {
		return "", e.E(fmt.Errorf("evict stale fingerprint cache row: %w", err))
	}
	if _, err := c.db.Exec(
		`insert into fingerprints (path, dev, ino, mtime_ns, size, sha) values (?, ?, ?, ?, ?, ?)`,
		absPath, dev, ino, mtimeNs, size, sha,
	); err != nil {
		return "", e.E(fmt.Errorf("store fingerprint cache row: %w", err))
	}
	return sha, nil
}

var _ store.Fingerprinter = (*Cache)(nil)
