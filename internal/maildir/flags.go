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

// Package maildir implements the slice of the maildir convention this
// module needs directly: the "uniq:2,FLAGS" filename suffix, the tag to
// flag-letter mapping that backs spec §4.1's "flag synchronization", and
// RelPath validation (spec §3).
package maildir

import (
	"fmt"
	"sort"
	"strings"
)

// infoSeparator is fixed at ':' per the maildir convention; unlike the
// folder-hierarchy separator (which varies by store), this one never
// changes.
const infoSeparator = ':'

// TagFlags maps notmuch tags to maildir flag letters (spec §4.1, §4.5
// step 3). "unread" is inverted: its ABSENCE sets the Seen flag.
var TagFlags = map[string]rune{
	"replied": 'R',
	"flagged": 'F',
	"passed":  'P',
	"draft":   'D',
}

const seenFlag = 'S'
const unreadTag = "unread"
const inboxTag = "inbox"

// Maildir subdirectory names the inbox pseudo-tag toggles a file between.
const (
	SubdirNew = "new"
	SubdirCur = "cur"
)

// TargetSubdir reports which of a message's two per-folder maildir
// subdirectories a file with this tag set belongs in: the presence of
// "inbox" keeps it in new, its absence means it's been filed away and it
// belongs in cur. This is notmuch's own convention, the same way absence
// of "unread" maps to the Seen flag.
func TargetSubdir(tags map[string]bool) string {
	if tags[inboxTag] {
		return SubdirNew
	}
	return SubdirCur
}

// SplitName splits a maildir filename into its unique part and its sorted,
// deduplicated flag letters. Filenames without an info separator (plain
// "new" deliveries) return an empty flag string and no error.
func SplitName(name string) (uniq string, flags string, err error) {
	idx := strings.IndexRune(name, infoSeparator)
	if idx == -1 {
		return name, "", nil
	}
	uniq = name[:idx]
	rest := name[idx+1:]
	if !strings.HasPrefix(rest, "2,") {
		return "", "", fmt.Errorf("maildir filename %q: info field does not start with \"2,\"", name)
	}
	return uniq, CleanFlags(rest[2:]), nil
}

// JoinName is the inverse of SplitName, given already-clean flags.
func JoinName(uniq string, flags string) string {
	if flags == "" {
		return uniq
	}
	return uniq + string(infoSeparator) + "2," + flags
}

// CleanFlags dedups and sorts the runes of flags, per the maildir spec's
// requirement that flag letters appear in ASCII order.
func CleanFlags(flags string) string {
	seen := make(map[rune]bool)
	for _, r := range flags {
		seen[r] = true
	}
	out := make([]rune, 0, len(seen))
	for r := range seen {
		out = append(out, r)
	}
	sort.Sort(runeSlice(out))
	return string(out)
}

type runeSlice []rune

func (s runeSlice) Len() int           { return len(s) }
func (s runeSlice) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s runeSlice) Less(i, j int) bool { return s[i] < s[j] }

// FlagsForTags projects a tag set onto the maildir flag letters it
// controls, preserving any flag letters already present that this module
// doesn't model (e.g. a vendor-specific letter) by passing them through
// via keepUnknown.
func FlagsForTags(tags map[string]bool, keepUnknown string) string {
	set := make(map[rune]bool)
	for _, r := range keepUnknown {
		if _, known := flagToTag(r); !known {
			set[r] = true
		}
	}
	for tag, flag := range TagFlags {
		if tags[tag] {
			set[flag] = true
		}
	}
	if !tags[unreadTag] {
		set[seenFlag] = true
	}
	out := make([]rune, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Sort(runeSlice(out))
	return string(out)
}

func flagToTag(flag rune) (tag string, known bool) {
	if flag == seenFlag {
		return unreadTag, true
	}
	for tag, f := range TagFlags {
		if f == flag {
			return tag, true
		}
	}
	return "", false
}

// Rename computes the new filename for name given a tag set, returning the
// same name unchanged if no flag-mapped tag changed.
func Rename(name string, tags map[string]bool) (newName string, changed bool, err error) {
	uniq, flags, err := SplitName(name)
	if err != nil {
		return "", false, err
	}
	newFlags := FlagsForTags(tags, flags)
	if newFlags == flags {
		return name, false, nil
	}
	return JoinName(uniq, newFlags), true, nil
}
