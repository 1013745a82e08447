package changeset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sgotti/notmuch-sync-go/internal/store/storetest"
	"github.com/sgotti/notmuch-sync-go/internal/syncstate"
)

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

func TestBuildWithNoBookmarkReturnsEverything(t *testing.T) {
	root := t.TempDir()
	s := storetest.NewFakeStore(root)
	abs := writeMail(t, root, "cur/a.mail", "a@x", "hello")
	if _, _, err := s.AddFile(abs); err != nil {
		t.Fatal(err)
	}

	cs, err := Build(s, "00000000-0000-0000-0000-000000000000")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(cs))
	}
}

func TestBuildRejectsUUIDMismatch(t *testing.T) {
	root := t.TempDir()
	s := storetest.NewFakeStore(root)
	rev, err := s.Revision()
	if err != nil {
		t.Fatal(err)
	}
	peer := "00000000-0000-0000-0000-000000000000"
	if err := syncstate.Save(root, peer, syncstate.State{Rev: 0, UUID: "ffffffff-ffff-ffff-ffff-ffffffffffff"}); err != nil {
		t.Fatal(err)
	}
	_ = rev

	_, err = Build(s, peer)
	if err == nil {
		t.Fatalf("expected an error for a mismatched store uuid")
	}
	var incompatible *Incompatible
	if !errors.As(err, &incompatible) {
		t.Fatalf("expected *Incompatible in the chain, got %v", err)
	}
}

func TestBuildRejectsFutureRevision(t *testing.T) {
	root := t.TempDir()
	s := storetest.NewFakeStore(root)
	rev, err := s.Revision()
	if err != nil {
		t.Fatal(err)
	}
	peer := "00000000-0000-0000-0000-000000000000"
	if err := syncstate.Save(root, peer, syncstate.State{Rev: rev.Rev + 100, UUID: rev.UUID}); err != nil {
		t.Fatal(err)
	}

	_, err = Build(s, peer)
	if err == nil {
		t.Fatalf("expected an error for a from-the-future revision")
	}
	if !strings.Contains(err.Error(), "exceeds current revision") {
		t.Fatalf("error = %v, want mention of exceeding current revision", err)
	}
}

func TestBuildOnlyReturnsMessagesSinceBookmark(t *testing.T) {
	root := t.TempDir()
	s := storetest.NewFakeStore(root)
	peer := "00000000-0000-0000-0000-000000000000"

	abs1 := writeMail(t, root, "cur/a.mail", "a@x", "hello")
	if _, _, err := s.AddFile(abs1); err != nil {
		t.Fatal(err)
	}
	rev, err := s.Revision()
	if err != nil {
		t.Fatal(err)
	}
	if err := syncstate.Save(root, peer, syncstate.State{Rev: rev.Rev, UUID: rev.UUID}); err != nil {
		t.Fatal(err)
	}

	abs2 := writeMail(t, root, "cur/b.mail", "b@x", "world")
	if _, _, err := s.AddFile(abs2); err != nil {
		t.Fatal(err)
	}

	cs, err := Build(s, peer)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(cs) != 1 {
		t.Fatalf("expected 1 message since bookmark, got %d", len(cs))
	}
	if _, ok := cs["b@x"]; !ok {
		t.Fatalf("expected b@x in the changeset")
	}
}
