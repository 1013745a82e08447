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

// Package transport spawns the responder peer process and hands its
// stdin/stdout to the caller as a duplex byte stream (spec §6.1).
package transport

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/sgotti/notmuch-sync-go/errors"
	"github.com/sgotti/notmuch-sync-go/log"
)

var e = errors.New("transport")

// Config is the subset of CLI options that decide how to spawn the peer
// (SPEC_FULL.md §6.1).
type Config struct {
	RemotePeer   string
	User         string
	TransportCmd string
	PathOnPeer   string
	RemoteCmd    string
}

// Peer is a spawned responder process and its duplex stream.
type Peer struct {
	Stream io.ReadWriteCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

// stdioStream joins a process's stdin/stdout into one io.ReadWriteCloser.
type stdioStream struct {
	io.Reader
	io.WriteCloser
}

func (s stdioStream) Close() error {
	return s.WriteCloser.Close()
}

const defaultBinaryName = "notmuch-sync-go"

// Spawn builds the argv for the responder per SPEC_FULL.md §6.1 and
// starts it, connecting its stdio as the duplex stream.
func Spawn(cfg Config) (*Peer, error) {
	argv, err := buildArgv(cfg)
	if err != nil {
		return nil, e.E(err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, e.E(fmt.Errorf("open stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, e.E(fmt.Errorf("open stdout pipe: %w", err))
	}
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Start(); err != nil {
		return nil, e.E(fmt.Errorf("start peer process %v: %w", argv, err))
	}

	return &Peer{
		Stream: stdioStream{Reader: stdout, WriteCloser: stdin},
		cmd:    cmd,
		stderr: &stderrBuf,
	}, nil
}

// Wait blocks until the peer process exits. Its standard error, if any,
// is surfaced as a single warning line (spec §6.1, §7).
func (p *Peer) Wait(logger *log.Logger) error {
	err := p.cmd.Wait()
	if p.stderr.Len() > 0 && logger != nil {
		logger.Warningf("peer stderr: %s", strings.TrimRight(p.stderr.String(), "\n"))
	}
	if err != nil {
		return e.E(fmt.Errorf("peer process exited: %w", err))
	}
	return nil
}

func buildArgv(cfg Config) ([]string, error) {
	if cfg.RemoteCmd != "" {
		fields := strings.Fields(cfg.RemoteCmd)
		if len(fields) == 0 {
			return nil, fmt.Errorf("remote-cmd is empty after splitting on whitespace")
		}
		return fields, nil
	}

	if cfg.RemotePeer == "" {
		return nil, fmt.Errorf("remote-peer is required when remote-cmd is not set")
	}

	pathOnPeer := cfg.PathOnPeer
	if pathOnPeer == "" {
		pathOnPeer = defaultBinaryName
		if len(os.Args) > 0 {
			if base := lastSlash(os.Args[0]); base != "" {
				pathOnPeer = base
			}
		}
	}

	template := cfg.TransportCmd
	if template == "" {
		template = "{path} --remote"
	}
	remoteCommand := strings.ReplaceAll(template, "{path}", pathOnPeer)

	target := cfg.RemotePeer
	if cfg.User != "" {
		target = cfg.User + "@" + cfg.RemotePeer
	}

	return []string{"ssh", "-CTaxq", target, remoteCommand}, nil
}

func lastSlash(path string) string {
	i := strings.LastIndexByte(path, '/')
	if i == -1 {
		return path
	}
	return path[i+1:]
}
