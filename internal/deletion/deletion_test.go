package deletion

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sgotti/notmuch-sync-go/internal/store"
	"github.com/sgotti/notmuch-sync-go/internal/store/storetest"
	"github.com/sgotti/notmuch-sync-go/internal/wire"
)

func writeMail(t *testing.T, root, rel, msgID string) string {
	t.Helper()
	abs := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o777); err != nil {
		t.Fatal(err)
	}
	content := "Message-ID: <" + msgID + ">\n\nbody"
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return abs
}

func pipePair() (*wire.Codec, *wire.Codec) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return wire.New(ar, aw), wire.New(br, bw)
}

// S4: both stores hold <d@x>; A tags it {deleted}; after sync with
// deletion enabled it is absent from both stores.
func TestDeletionRemovesTaggedMessageFromBothSides(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a := storetest.NewFakeStore(aRoot)
	b := storetest.NewFakeStore(bRoot)

	absA := writeMail(t, aRoot, "cur/d.mail", "d@x")
	idA, _, err := a.AddFile(absA)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.SetTags(idA, store.TagSet("deleted")); err != nil {
		t.Fatal(err)
	}
	absB := writeMail(t, bRoot, "cur/d.mail", "d@x")
	idB, _, err := b.AddFile(absB)
	if err != nil {
		t.Fatal(err)
	}
	// In a real run, TagMerge (which precedes DeletionSync in the
	// orchestrator's state machine) would already have unioned A's
	// "deleted" tag onto B before this phase runs; simulate that here.
	if err := b.SetTags(idB, store.TagSet("deleted")); err != nil {
		t.Fatal(err)
	}

	codecA, codecB := pipePair()
	opts := Options{RequireDeletedTag: true}

	resA := make(chan *Result, 1)
	resB := make(chan *Result, 1)
	errCh := make(chan error, 2)
	go func() {
		r, err := RunInitiator(codecA, a, opts, nil)
		if err != nil {
			errCh <- err
			return
		}
		resA <- r
		errCh <- nil
	}()
	go func() {
		r, err := RunResponder(codecB, b, opts, nil)
		if err != nil {
			errCh <- err
			return
		}
		resB <- r
		errCh <- nil
	}()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("deletion run failed: %v", err)
		}
	}

	if _, ok, err := a.Find(idA); err != nil || ok {
		t.Fatalf("expected d@x absent on A: ok=%v err=%v", ok, err)
	}
	if _, ok, err := b.Find(idA); err != nil || ok {
		t.Fatalf("expected d@x absent on B: ok=%v err=%v", ok, err)
	}
	ra, rb := <-resA, <-resB
	if ra.MsgDeletions != 1 {
		t.Fatalf("initiator MsgDeletions = %d, want 1", ra.MsgDeletions)
	}
	_ = rb
}

// S5: A has <k@x> deleted from its store without the deleted tag; B
// still has it. The initiator's diff puts an id that only B holds on B's
// delete list (delete_remote), and B's require-deleted-tag mode spares it
// because it lacks the tag. What this test checks directly is that
// safety rule: an id slated for deletion that lacks the tag survives.
func TestDeletionSparesUntaggedMessageInSafeMode(t *testing.T) {
	aRoot, bRoot := t.TempDir(), t.TempDir()
	a := storetest.NewFakeStore(aRoot)
	b := storetest.NewFakeStore(bRoot)

	absA := writeMail(t, aRoot, "cur/k.mail", "k@x")
	idA, _, err := a.AddFile(absA)
	if err != nil {
		t.Fatal(err)
	}
	// B does not have k@x, so A's diff would schedule it as "delete_local"
	// (present only locally); this test does not run the exchange and
	// instead exercises deleteOne's safety rule in isolation.
	rec, _, err := a.Find(idA)
	if err != nil {
		t.Fatal(err)
	}
	deleted, err := deleteOne(a, idA, Options{RequireDeletedTag: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if deleted {
		t.Fatalf("expected the message to survive without the deleted tag")
	}
	if _, ok, err := a.Find(idA); err != nil || !ok {
		t.Fatalf("expected k@x to still be present: ok=%v err=%v", ok, err)
	}
	_ = rec
	_ = b
}

func TestDeletionUnsafeModeDeletesWithoutTag(t *testing.T) {
	root := t.TempDir()
	s := storetest.NewFakeStore(root)
	abs := writeMail(t, root, "cur/u.mail", "u@x")
	id, _, err := s.AddFile(abs)
	if err != nil {
		t.Fatal(err)
	}

	deleted, err := deleteOne(s, id, Options{RequireDeletedTag: false}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !deleted {
		t.Fatalf("expected unsafe mode to delete without the tag")
	}
	if _, ok, err := s.Find(id); err != nil || ok {
		t.Fatalf("expected message gone: ok=%v err=%v", ok, err)
	}
}
