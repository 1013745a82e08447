package orchestrator

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/store/storetest"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
)

func pipePair() (*wire.Codec, *wire.Codec) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return wire.New(ar, aw), wire.New(br, bw)
}

func writeMail(t *testing.T, root, rel, msgID, body string) string {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o777); err != nil {
		t.Fatal(err)
	}
	content := "Message-ID: <" + msgID + ">\n\n" + body
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return abs
}

func runBothSides(t *testing.T, a, b store.Store, opts Options) (*Summary, *Summary) {
	t.Helper()
	codecA, codecB := pipePair()
	optsA, optsB := opts, opts
	optsA.Initiator = true
	optsB.Initiator = false

	type outcome struct {
		summary *Summary
		err     error
	}
	chA := make(chan outcome, 1)
	chB := make(chan outcome, 1)
	go func() {
		s, err := Run(codecA, a, "", optsA, nil)
		chA <- outcome{s, err}
	}()
	go func() {
		s, err := Run(codecB, b, "", optsB, nil)
		chB <- outcome{s, err}
	}()
	oa, ob := <-chA, <-chB
	if oa.err != nil {
		t.Fatalf("initiator run failed: %v", oa.err)
	}
	if ob.err != nil {
		t.Fatalf("responder run failed: %v", ob.err)
	}
	return oa.summary, ob.summary
}

// S1: A has <a@x> tagged {inbox,unread} with file cur/a.mail ("hello"); B
// is empty. After sync both hold it; the initiator (A) reports zero
// new_msg/new_file of its own, and the responder's counters it receives
// show new_msg=1, new_file=1.
func TestOneSidedAddConverges(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a := storetest.NewFakeStore(aRoot)
	b := storetest.NewFakeStore(bRoot)

	abs := writeMail(t, aRoot, "cur/a.mail", "a@x", "hello")
	idA, _, err := a.AddFile(abs)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetTags(idA, store.TagSet("inbox", "unread")); err != nil {
		t.Fatal(err)
	}

	summaryA, _ := runBothSides(t, a, b, Options{})

	if summaryA.Local.NewMessages != 0 || summaryA.Local.NewFiles != 0 {
		t.Fatalf("initiator (A, already has the message) counters = %+v, want zero new_msg/new_file on A", summaryA.Local)
	}
	if !summaryA.HasRemote {
		t.Fatalf("initiator summary missing remote counters")
	}
	if summaryA.Remote.NewMessages != 1 || summaryA.Remote.NewFiles != 1 {
		t.Fatalf("responder (B) counters = %+v, want new_msg=1, new_file=1", summaryA.Remote)
	}

	recB, ok, err := b.Find(idA)
	if err != nil || !ok {
		t.Fatalf("expected a@x adopted on B: ok=%v err=%v", ok, err)
	}
	if !store.TagsEqual(recB.Tags, store.TagSet("inbox", "unread")) {
		t.Fatalf("B's tags = %v, want {inbox,unread}", recB.Tags)
	}
	if len(recB.Files) != 1 {
		t.Fatalf("B has %d files for a@x, want 1", len(recB.Files))
	}
}

// Idempotence (invariant 1): running the sync again with nothing changed
// on either side produces zero counters on both.
func TestRerunWithNoChangesIsIdempotent(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a := storetest.NewFakeStore(aRoot)
	b := storetest.NewFakeStore(bRoot)

	abs := writeMail(t, aRoot, "cur/a.mail", "a@x", "hello")
	idA, _, err := a.AddFile(abs)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetTags(idA, store.TagSet("inbox")); err != nil {
		t.Fatal(err)
	}

	runBothSides(t, a, b, Options{})
	summaryA, summaryB := runBothSides(t, a, b, Options{})

	zero := store.TransferCounters{}
	if summaryA.Local != zero {
		t.Fatalf("second run initiator counters = %+v, want all zero", summaryA.Local)
	}
	if summaryB.Local != zero {
		t.Fatalf("second run responder counters = %+v, want all zero", summaryB.Local)
	}
}

// S2: both stores hold <m@x>; A tags {a,b}, B tags {b,c}. After sync both
// hold {a,b,c}.
func TestTagUnionConverges(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a := storetest.NewFakeStore(aRoot)
	b := storetest.NewFakeStore(bRoot)

	absA := writeMail(t, aRoot, "cur/m.mail", "m@x", "body")
	idA, _, err := a.AddFile(absA)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetTags(idA, store.TagSet("a", "b")); err != nil {
		t.Fatal(err)
	}
	absB := writeMail(t, bRoot, "cur/m.mail", "m@x", "body")
	idB, _, err := b.AddFile(absB)
	if err != nil {
		t.Fatal(err)
	}
	if err := b.SetTags(idB, store.TagSet("b", "c")); err != nil {
		t.Fatal(err)
	}

	runBothSides(t, a, b, Options{})

	recA, _, err := a.Find(idA)
	if err != nil {
		t.Fatal(err)
	}
	recB, _, err := b.Find(idB)
	if err != nil {
		t.Fatal(err)
	}
	want := store.TagSet("a", "b", "c")
	if !store.TagsEqual(recA.Tags, want) {
		t.Fatalf("A's tags = %v, want %v", recA.Tags, want)
	}
	if !store.TagsEqual(recB.Tags, want) {
		t.Fatalf("B's tags = %v, want %v", recB.Tags, want)
	}
}
