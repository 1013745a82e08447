package wire

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestBlobRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)

	if err := c.WriteBlob([]byte("hello")); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if err := c.WriteBlob(nil); err != nil {
		t.Fatalf("WriteBlob empty: %v", err)
	}

	got, err := c.ReadBlob()
	if err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("got %q, want %q", got, "hello")
	}

	got, err = c.ReadBlob()
	if err != nil {
		t.Fatalf("ReadBlob empty: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestUUIDRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)
	uuid := strings.Repeat("a", UUIDLen)

	if err := c.WriteUUID(uuid); err != nil {
		t.Fatalf("WriteUUID: %v", err)
	}
	got, err := c.ReadUUID()
	if err != nil {
		t.Fatalf("ReadUUID: %v", err)
	}
	if got != uuid {
		t.Fatalf("got %q, want %q", got, uuid)
	}
}

func TestWriteUUIDWrongLength(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)
	if err := c.WriteUUID("short"); err == nil {
		t.Fatalf("expected error for short uuid")
	}
}

func TestNamesRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)
	names := []string{"cur/a.mail", "new/b.mail", ""}

	if err := c.WriteNames(names); err != nil {
		t.Fatalf("WriteNames: %v", err)
	}
	got, err := c.ReadNames()
	if err != nil {
		t.Fatalf("ReadNames: %v", err)
	}
	if len(got) != len(names) {
		t.Fatalf("got %d names, want %d", len(got), len(names))
	}
	for i := range names {
		if got[i] != names[i] {
			t.Fatalf("name %d: got %q, want %q", i, got[i], names[i])
		}
	}
}

func TestCounters6Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)
	want := [6]uint32{1, 2, 3, 4, 5, 6}

	if err := c.WriteCounters6(want); err != nil {
		t.Fatalf("WriteCounters6: %v", err)
	}
	got, err := c.ReadCounters6()
	if err != nil {
		t.Fatalf("ReadCounters6: %v", err)
	}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestCountersTrackBytes(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &buf)

	if err := c.WriteBlob([]byte("abcd")); err != nil {
		t.Fatalf("WriteBlob: %v", err)
	}
	if c.Counters.Write() != 8 {
		t.Fatalf("write counter = %d, want 8", c.Counters.Write())
	}

	if _, err := c.ReadBlob(); err != nil {
		t.Fatalf("ReadBlob: %v", err)
	}
	if c.Counters.Read() != 8 {
		t.Fatalf("read counter = %d, want 8", c.Counters.Read())
	}
}

func TestShortReadIsError(t *testing.T) {
	r := bytes.NewReader([]byte{0, 0, 0, 10, 1, 2, 3})
	c := New(r, io.Discard)
	if _, err := c.ReadBlob(); err == nil {
		t.Fatalf("expected error on short blob body")
	}
}
