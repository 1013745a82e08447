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

package transfer

import (
	"io"

	"github.com/cheggaaa/pb/v3"
)

// barReporter adapts a cheggaaa/pb/v3 bar to the ProgressReporter
// interface Run advances once per framed blob (SPEC_FULL.md §4.7). It is
// purely observability: it never affects protocol bytes or ordering.
type barReporter struct {
	bar *pb.ProgressBar
}

// NewProgressBar starts a bar counting total bodies to send/receive,
// written to w. Callers finish it with Finish once Run returns.
func NewProgressBar(total int, w io.Writer) *barReporter {
	bar := pb.New(total)
	bar.SetWriter(w)
	bar.SetTemplateString(`{{counters . }} bodies {{bar . }} {{percent . }}`)
	bar.Start()
	return &barReporter{bar: bar}
}

func (b *barReporter) Increment() {
	b.bar.Increment()
}

func (b *barReporter) Finish() {
	b.bar.Finish()
}
