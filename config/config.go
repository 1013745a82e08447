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

// Package config parses the CLI options spec §6.4 recognizes, with an
// optional TOML defaults file loaded first and overridden by whatever
// flags the invocation actually sets.
package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/BurntSushi/toml"
	flags "github.com/jessevdk/go-flags"
)

// Options is the raw flag struct, parsed with go-flags the way the
// teacher's gomailsync.go parses its own opts struct. Verbose is a
// repeatable count flag: each -v appends one element.
type Options struct {
	ConfigFile string `short:"f" long:"config" description:"Defaults file location. Default: ~/.notmuch-sync-gorc"`

	RemotePeer   string `short:"r" long:"remote-peer" description:"Remote host to connect to"`
	User         string `short:"u" long:"user" description:"Identity passed to the transport"`
	TransportCmd string `long:"transport-cmd" description:"Command template for spawning the responder ({path} is substituted)"`
	PathOnPeer   string `short:"p" long:"path-on-peer" description:"Responder binary path on the remote host"`
	RemoteCmd    string `short:"c" long:"remote-cmd" description:"Fully custom spawn command, overrides the transport options above"`

	Verbose []bool `short:"v" long:"verbose" description:"Increase logging verbosity (repeatable: -v info, -vv debug)"`
	Quiet   bool   `short:"q" long:"quiet" description:"Disable logging entirely, overrides verbose"`

	EnableDeletion bool `short:"d" long:"enable-deletion" description:"Enable the whole-message deletion phase"`
	UnsafeDeletion bool `short:"x" long:"unsafe-deletion" description:"Delete without requiring the deleted tag (unsafe)"`
	EnableSidecar  bool `short:"m" long:"enable-sidecar" description:"Enable the maildir-state sidecar sync phase"`

	// Remote selects the responder role directly: this process's own
	// stdin/stdout are the duplex stream, rather than spawning a child.
	// Not a user-facing option (spec.md §6.4 never lists it) — it is how
	// the far end of a transport-cmd invocation knows to behave as the
	// peer instead of spawning one of its own.
	Remote bool `long:"remote" hidden:"true"`
}

// Defaults is what the optional TOML file may set, one field per
// transport/behavior option a user would otherwise repeat on every
// invocation.
type Defaults struct {
	RemotePeer     string `toml:"remote-peer"`
	User           string `toml:"user"`
	TransportCmd   string `toml:"transport-cmd"`
	PathOnPeer     string `toml:"path-on-peer"`
	RemoteCmd      string `toml:"remote-cmd"`
	EnableDeletion bool   `toml:"enable-deletion"`
	UnsafeDeletion bool   `toml:"unsafe-deletion"`
	EnableSidecar  bool   `toml:"enable-sidecar"`
}

// Config is the merged, ready-to-use result: file defaults overridden by
// whatever flags were actually passed.
type Config struct {
	RemotePeer     string
	User           string
	TransportCmd   string
	PathOnPeer     string
	RemoteCmd      string
	Verbose        int
	Quiet          bool
	EnableDeletion bool
	UnsafeDeletion bool
	EnableSidecar  bool
	Remote         bool
}

// Parse parses argv (excluding the program name) into a Config, loading
// the TOML defaults file first if one exists.
func Parse(argv []string) (*Config, error) {
	var opts Options
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.ParseArgs(argv); err != nil {
		return nil, err
	}

	defaultsPath := opts.ConfigFile
	if defaultsPath == "" {
		defaultsPath = defaultRCPath()
	}

	var defaults Defaults
	if defaultsPath != "" {
		if _, err := os.Stat(defaultsPath); err == nil {
			if _, err := toml.DecodeFile(defaultsPath, &defaults); err != nil {
				return nil, fmt.Errorf("parse defaults file %s: %w", defaultsPath, err)
			}
		}
	}

	cfg := &Config{
		RemotePeer:     defaults.RemotePeer,
		User:           defaults.User,
		TransportCmd:   defaults.TransportCmd,
		PathOnPeer:     defaults.PathOnPeer,
		RemoteCmd:      defaults.RemoteCmd,
		EnableDeletion: defaults.EnableDeletion,
		UnsafeDeletion: defaults.UnsafeDeletion,
		EnableSidecar:  defaults.EnableSidecar,
	}

	if opts.RemotePeer != "" {
		cfg.RemotePeer = opts.RemotePeer
	}
	if opts.User != "" {
		cfg.User = opts.User
	}
	if opts.TransportCmd != "" {
		cfg.TransportCmd = opts.TransportCmd
	}
	if opts.PathOnPeer != "" {
		cfg.PathOnPeer = opts.PathOnPeer
	}
	if opts.RemoteCmd != "" {
		cfg.RemoteCmd = opts.RemoteCmd
	}
	cfg.EnableDeletion = cfg.EnableDeletion || opts.EnableDeletion
	cfg.UnsafeDeletion = cfg.UnsafeDeletion || opts.UnsafeDeletion
	cfg.EnableSidecar = cfg.EnableSidecar || opts.EnableSidecar

	cfg.Verbose = len(opts.Verbose)
	cfg.Quiet = opts.Quiet
	cfg.Remote = opts.Remote

	return cfg, nil
}

func defaultRCPath() string {
	u, err := user.Current()
	if err != nil {
		return ""
	}
	return filepath.Join(u.HomeDir, ".notmuch-sync-gorc")
}
