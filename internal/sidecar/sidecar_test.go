package sidecar

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sgotti/notmuch-sync-go/internal/wire"
)

func pipePair() (*wire.Codec, *wire.Codec) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return wire.New(ar, aw), wire.New(br, bw)
}

// S6: both hold INBOX/.mbsyncstate; local mtime 1000, remote mtime 500.
// After sync: both files have identical bytes equal to local's original
// bytes; local mtime unchanged.
func TestSidecarPullsOlderPushesNewer(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()

	writeWithMtime(t, aRoot, "INBOX/.mbsyncstate", "A's bytes", time.Unix(1000, 0))
	writeWithMtime(t, bRoot, "INBOX/.mbsyncstate", "B's bytes", time.Unix(500, 0))

	codecA, codecB := pipePair()
	errCh := make(chan error, 2)
	go func() { errCh <- RunInitiator(codecA, aRoot, nil) }()
	go func() { errCh <- RunResponder(codecB, bRoot, nil) }()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("sidecar run failed: %v", err)
		}
	}

	gotA := mustRead(t, filepath.Join(aRoot, "INBOX/.mbsyncstate"))
	gotB := mustRead(t, filepath.Join(bRoot, "INBOX/.mbsyncstate"))
	if string(gotA) != "A's bytes" {
		t.Fatalf("A's file changed to %q, want unchanged \"A's bytes\" (A is newer)", gotA)
	}
	if string(gotB) != "A's bytes" {
		t.Fatalf("B's file = %q, want A's bytes (B pulls the newer copy)", gotB)
	}
}

func TestSidecarSkipsIdenticalMtimes(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()
	same := time.Unix(12345, 0)
	writeWithMtime(t, aRoot, "INBOX/.uidvalidity", "same age", same)
	writeWithMtime(t, bRoot, "INBOX/.uidvalidity", "same age but different bytes", same)

	codecA, codecB := pipePair()
	errCh := make(chan error, 2)
	go func() { errCh <- RunInitiator(codecA, aRoot, nil) }()
	go func() { errCh <- RunResponder(codecB, bRoot, nil) }()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("sidecar run failed: %v", err)
		}
	}

	gotB := mustRead(t, filepath.Join(bRoot, "INBOX/.uidvalidity"))
	if string(gotB) != "same age but different bytes" {
		t.Fatalf("B's file should be untouched when mtimes tie, got %q", gotB)
	}
}

// A malicious or buggy peer's manifest must never reach exchangeBodies'
// filepath.Join against root: a traversal name here would let it write
// outside the maildir the responder scoped the session to.
func TestRunInitiatorRejectsTraversalInResponderManifest(t *testing.T) {
	aRoot := t.TempDir()
	codecA, codecB := pipePair()

	malicious := Manifest{"../escaped": 999999}
	blob, err := json.Marshal(malicious)
	if err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- RunInitiator(codecA, aRoot, nil) }()

	if err := codecB.WriteBlob(blob); err != nil {
		t.Fatalf("write malicious manifest: %v", err)
	}

	if err := <-errCh; err == nil {
		t.Fatalf("RunInitiator accepted a manifest with a path-traversal name, want error")
	}
	if _, err := os.Stat(filepath.Join(aRoot, "..", "escaped")); !os.IsNotExist(err) {
		t.Fatalf("traversal target should not exist: stat err = %v", err)
	}
}

func TestRunResponderRejectsTraversalInPullPushLists(t *testing.T) {
	bRoot := t.TempDir()
	codecA, codecB := pipePair()

	errCh := make(chan error, 1)
	go func() { errCh <- RunResponder(codecB, bRoot, nil) }()

	// Drain the responder's own manifest so it isn't left blocked on a
	// full pipe.
	if _, err := codecA.ReadBlob(); err != nil {
		t.Fatalf("read responder manifest: %v", err)
	}

	maliciousPull, err := json.Marshal([]string{"../../outside"})
	if err != nil {
		t.Fatal(err)
	}
	if err := codecA.WriteBlob(maliciousPull); err != nil {
		t.Fatalf("write malicious pull list: %v", err)
	}

	if err := <-errCh; err == nil {
		t.Fatalf("RunResponder accepted a pull list with a path-traversal name, want error")
	}
}

func writeWithMtime(t *testing.T, root, rel, content string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o777); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(abs, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

func mustRead(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}
