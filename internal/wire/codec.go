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

// Package wire implements the length-prefixed, big-endian framing used by
// the duplex sync protocol (spec §4.3, §6.2): fixed-width integer I/O,
// framed blobs, and byte counters for the session summary.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
	"sync/atomic"
)

// UUIDLen is the exact wire width of a Store/Revision uuid field.
const UUIDLen = 36

// Counters tracks bytes read and written on one Codec. It is scoped to a
// single sync run and passed through explicitly rather than kept as
// package-global state (spec §9 "Global state").
type Counters struct {
	read  int64
	write int64
}

func (c *Counters) Read() int64  { return atomic.LoadInt64(&c.read) }
func (c *Counters) Write() int64 { return atomic.LoadInt64(&c.write) }

func (c *Counters) addRead(n int)  { atomic.AddInt64(&c.read, int64(n)) }
func (c *Counters) addWrite(n int) { atomic.AddInt64(&c.write, int64(n)) }

// Codec wraps a duplex byte stream with the framing primitives. Reads and
// writes are safe to call concurrently with each other (one goroutine
// reading, one writing, per spec §5) but not safe for concurrent reads
// with reads, or concurrent writes with writes.
type Codec struct {
	r        io.Reader
	w        io.Writer
	Counters *Counters
}

// flusher is implemented by buffered writers the codec is asked to wrap;
// every logical write flushes to avoid deadlocking the duplex handshake.
type flusher interface {
	Flush() error
}

func New(r io.Reader, w io.Writer) *Codec {
	return &Codec{r: r, w: w, Counters: &Counters{}}
}

// ReadFull reads exactly len(buf) bytes, blocking until satisfied. A short
// read (stream closed early) is an error.
func (c *Codec) ReadFull(buf []byte) error {
	n, err := io.ReadFull(c.r, buf)
	c.Counters.addRead(n)
	if err != nil {
		return fmt.Errorf("short read: got %d of %d bytes: %w", n, len(buf), err)
	}
	return nil
}

// WriteFull writes all of buf and flushes.
func (c *Codec) WriteFull(buf []byte) error {
	n, err := c.w.Write(buf)
	c.Counters.addWrite(n)
	if err != nil {
		return fmt.Errorf("short write: wrote %d of %d bytes: %w", n, len(buf), err)
	}
	if f, ok := c.w.(flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

// ReadUint32 reads one big-endian uint32.
func (c *Codec) ReadUint32() (uint32, error) {
	var buf [4]byte
	if err := c.ReadFull(buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes one big-endian uint32.
func (c *Codec) WriteUint32(v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return c.WriteFull(buf[:])
}

// ReadBlob reads a framed blob: a uint32 length prefix followed by that
// many bytes.
func (c *Codec) ReadBlob() ([]byte, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("read blob length: %w", err)
	}
	buf := make([]byte, n)
	if n > 0 {
		if err := c.ReadFull(buf); err != nil {
			return nil, fmt.Errorf("read blob body: %w", err)
		}
	}
	return buf, nil
}

// WriteBlob writes data as a framed blob.
func (c *Codec) WriteBlob(data []byte) error {
	if err := c.WriteUint32(uint32(len(data))); err != nil {
		return fmt.Errorf("write blob length: %w", err)
	}
	if len(data) == 0 {
		return nil
	}
	return c.WriteFull(data)
}

// ReadUUID reads the exact 36-byte unframed uuid field.
func (c *Codec) ReadUUID() (string, error) {
	buf := make([]byte, UUIDLen)
	if err := c.ReadFull(buf); err != nil {
		return "", fmt.Errorf("read uuid: %w", err)
	}
	return string(buf), nil
}

// WriteUUID writes the exact 36-byte unframed uuid field. uuid must
// already be exactly UUIDLen bytes.
func (c *Codec) WriteUUID(uuid string) error {
	if len(uuid) != UUIDLen {
		return fmt.Errorf("uuid %q is not %d bytes", uuid, UUIDLen)
	}
	return c.WriteFull([]byte(uuid))
}

// ReadNames reads { u32 N ; N x framed_blob(utf8 name) }.
func (c *Codec) ReadNames() ([]string, error) {
	n, err := c.ReadUint32()
	if err != nil {
		return nil, fmt.Errorf("read name count: %w", err)
	}
	names := make([]string, 0, n)
	for i := uint32(0); i < n; i++ {
		blob, err := c.ReadBlob()
		if err != nil {
			return nil, fmt.Errorf("read name %d/%d: %w", i, n, err)
		}
		names = append(names, string(blob))
	}
	return names, nil
}

// WriteNames writes { u32 N ; N x framed_blob(utf8 name) }.
func (c *Codec) WriteNames(names []string) error {
	if err := c.WriteUint32(uint32(len(names))); err != nil {
		return fmt.Errorf("write name count: %w", err)
	}
	for _, n := range names {
		if err := c.WriteBlob([]byte(n)); err != nil {
			return fmt.Errorf("write name %q: %w", n, err)
		}
	}
	return nil
}

// ReadCounters6 reads six big-endian uint32 counters (spec §6.2 step 7).
func (c *Codec) ReadCounters6() ([6]uint32, error) {
	var out [6]uint32
	for i := range out {
		v, err := c.ReadUint32()
		if err != nil {
			return out, fmt.Errorf("read counter %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

// WriteCounters6 writes six big-endian uint32 counters.
func (c *Codec) WriteCounters6(vals [6]uint32) error {
	for i, v := range vals {
		if err := c.WriteUint32(v); err != nil {
			return fmt.Errorf("write counter %d: %w", i, err)
		}
	}
	return nil
}
