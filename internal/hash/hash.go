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

// Package hash implements the canonicalizing content hash used to decide
// whether two maildir files are the same logical message (spec §4.2).
package hash

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
)

// tuidPrefix is the header some MUAs (mbsync in particular) stamp onto a
// message after delivery to track in-flight state. Two copies of the same
// logical message on two hosts otherwise hash identically; this line must
// not count.
var tuidPrefix = []byte("X-TUID: ")

// Digest returns the lower-case hex SHA-256 of data, after stripping the
// first "X-TUID: ...\n" line if present. Only the first occurrence is
// removed; everything else is hashed verbatim.
func Digest(data []byte) string {
	toHash := data
	if start := bytes.Index(data, tuidPrefix); start != -1 {
		if nl := bytes.IndexByte(data[start:], '\n'); nl != -1 {
			end := start + nl + 1
			stripped := make([]byte, 0, len(data)-(end-start))
			stripped = append(stripped, data[:start]...)
			stripped = append(stripped, data[end:]...)
			toHash = stripped
		}
	}
	sum := sha256.Sum256(toHash)
	return fmt.Sprintf("%x", sum)
}

// DigestFile reads absPath fully and returns Digest of its contents.
func DigestFile(absPath string) (string, error) {
	data, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", absPath, err)
	}
	return Digest(data), nil
}
