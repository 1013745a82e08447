package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlagsOnly(t *testing.T) {
	cfg, err := Parse([]string{"-r", "otherhost", "-vv", "-d", "-x"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.RemotePeer != "otherhost" {
		t.Fatalf("RemotePeer = %q, want otherhost", cfg.RemotePeer)
	}
	if cfg.Verbose != 2 {
		t.Fatalf("Verbose = %d, want 2", cfg.Verbose)
	}
	if !cfg.EnableDeletion || !cfg.UnsafeDeletion {
		t.Fatalf("EnableDeletion/UnsafeDeletion = %v/%v, want true/true", cfg.EnableDeletion, cfg.UnsafeDeletion)
	}
	if cfg.EnableSidecar {
		t.Fatalf("EnableSidecar = true, want false (not passed)")
	}
}

func TestParseFlagOverridesDefaultsFile(t *testing.T) {
	dir := t.TempDir()
	rc := filepath.Join(dir, "rc.toml")
	content := "remote-peer = \"fromfile\"\nuser = \"filer\"\nenable-sidecar = true\n"
	if err := os.WriteFile(rc, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]string{"-f", rc, "-r", "fromflag"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.RemotePeer != "fromflag" {
		t.Fatalf("RemotePeer = %q, want fromflag (flag overrides file)", cfg.RemotePeer)
	}
	if cfg.User != "filer" {
		t.Fatalf("User = %q, want filer (from defaults file, no flag given)", cfg.User)
	}
	if !cfg.EnableSidecar {
		t.Fatalf("EnableSidecar = false, want true (from defaults file)")
	}
}

func TestParseRemoteHiddenFlag(t *testing.T) {
	cfg, err := Parse([]string{"--remote"})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !cfg.Remote {
		t.Fatalf("Remote = false, want true")
	}
}
