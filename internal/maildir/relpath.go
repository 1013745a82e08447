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

package maildir

import (
	"fmt"
	"strings"
)

// ValidateRelPath enforces spec §3's RelPath invariant: forward-slash
// separated, never absolute, never containing a ".." component.
func ValidateRelPath(p string) error {
	if p == "" {
		return fmt.Errorf("relpath is empty")
	}
	if strings.HasPrefix(p, "/") {
		return fmt.Errorf("relpath %q is absolute", p)
	}
	if strings.Contains(p, "\\") {
		return fmt.Errorf("relpath %q contains a backslash", p)
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return fmt.Errorf("relpath %q contains a \"..\" component", p)
		}
	}
	return nil
}
