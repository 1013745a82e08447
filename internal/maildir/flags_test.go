package maildir

import "testing"

func TestSplitJoinRoundtrip(t *testing.T) {
	name := "1690000000.123_45.host,u=1,f=abc:2,FRS"
	uniq, flags, err := SplitName(name)
	if err != nil {
		t.Fatalf("SplitName: %v", err)
	}
	if flags != "FRS" {
		t.Fatalf("flags = %q, want FRS", flags)
	}
	if got := JoinName(uniq, flags); got != name {
		t.Fatalf("JoinName = %q, want %q", got, name)
	}
}

func TestSplitNameNoSeparator(t *testing.T) {
	uniq, flags, err := SplitName("plainfile")
	if err != nil {
		t.Fatalf("SplitName: %v", err)
	}
	if uniq != "plainfile" || flags != "" {
		t.Fatalf("got (%q, %q), want (\"plainfile\", \"\")", uniq, flags)
	}
}

func TestCleanFlagsDedupsAndSorts(t *testing.T) {
	if got := CleanFlags("SFRFS"); got != "FRS" {
		t.Fatalf("CleanFlags = %q, want FRS", got)
	}
}

func TestFlagsForTagsUnreadInvertsSeen(t *testing.T) {
	read := FlagsForTags(map[string]bool{}, "")
	if read != "S" {
		t.Fatalf("read flags = %q, want S (no unread tag => Seen)", read)
	}
	unread := FlagsForTags(map[string]bool{"unread": true}, "")
	if unread != "" {
		t.Fatalf("unread flags = %q, want empty (unread tag => no Seen)", unread)
	}
}

func TestFlagsForTagsMapsKnownTags(t *testing.T) {
	tags := map[string]bool{"replied": true, "flagged": true}
	got := FlagsForTags(tags, "")
	if got != "FRS" {
		t.Fatalf("got %q, want FRS", got)
	}
}

func TestFlagsForTagsKeepsUnknownFlags(t *testing.T) {
	got := FlagsForTags(map[string]bool{}, "X")
	if got != "SX" {
		t.Fatalf("got %q, want SX (unknown flag X preserved)", got)
	}
}

func TestRenameNoChange(t *testing.T) {
	name := "a:2,S"
	_, changed, err := Rename(name, map[string]bool{})
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if changed {
		t.Fatalf("expected no change")
	}
}

func TestRenameAppliesNewFlags(t *testing.T) {
	name := "a:2,S"
	newName, changed, err := Rename(name, map[string]bool{"flagged": true})
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if !changed {
		t.Fatalf("expected a change")
	}
	if newName != "a:2,FS" {
		t.Fatalf("newName = %q, want a:2,FS", newName)
	}
}

func TestTargetSubdirMapsInboxTag(t *testing.T) {
	if got := TargetSubdir(map[string]bool{"inbox": true}); got != SubdirNew {
		t.Fatalf("TargetSubdir(inbox) = %q, want %q", got, SubdirNew)
	}
	if got := TargetSubdir(map[string]bool{}); got != SubdirCur {
		t.Fatalf("TargetSubdir(no inbox) = %q, want %q", got, SubdirCur)
	}
}

func TestValidateRelPath(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"cur/a.mail", false},
		{"", true},
		{"/abs/path", true},
		{"cur/../escape", true},
		{"cur\\a.mail", true},
	}
	for _, c := range cases {
		err := ValidateRelPath(c.path)
		if (err != nil) != c.wantErr {
			t.Errorf("ValidateRelPath(%q) err=%v, wantErr=%v", c.path, err, c.wantErr)
		}
	}
}
