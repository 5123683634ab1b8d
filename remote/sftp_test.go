package remote

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/zap/zaptest"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// writeKey stores a fresh ed25519 private key in OpenSSH format.
func writeKey(t *testing.T, dir string) (string, ssh.PublicKey) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, "")
	if err != nil {
		t.Fatalf("marshal key: %v", err)
	}
	path := filepath.Join(dir, "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("write key: %v", err)
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		t.Fatalf("signer: %v", err)
	}
	return path, signer.PublicKey()
}

// startServer runs an in-process SSH server with the sftp subsystem that
// accepts only the authorized key.
func startServer(t *testing.T, authorized ssh.PublicKey) (string, ssh.PublicKey) {
	addr, hostKey, _ := startCountingServer(t, authorized)
	return addr, hostKey
}

// startCountingServer is startServer that also counts accepted connections.
func startCountingServer(t *testing.T, authorized ssh.PublicKey) (string, ssh.PublicKey, *atomic.Int32) {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	conf := &ssh.ServerConfig{
		PublicKeyCallback: func(_ ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			if bytes.Equal(key.Marshal(), authorized.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unauthorized key")
		},
	}
	conf.AddHostKey(hostSigner)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	var conns atomic.Int32
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns.Add(1)
			go serveConn(conn, conf)
		}
	}()
	return ln.Addr().String(), hostSigner.PublicKey(), &conns
}

func serveConn(conn net.Conn, conf *ssh.ServerConfig) {
	defer conn.Close()
	_, chans, reqs, err := ssh.NewServerConn(conn, conf)
	if err != nil {
		return
	}
	go ssh.DiscardRequests(reqs)

	for nc := range chans {
		if nc.ChannelType() != "session" {
			_ = nc.Reject(ssh.UnknownChannelType, "unsupported channel")
			continue
		}
		ch, requests, err := nc.Accept()
		if err != nil {
			return
		}
		go func() {
			for req := range requests {
				ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
				_ = req.Reply(ok, nil)
				if !ok {
					continue
				}
				go func() {
					defer ch.Close()
					srv, err := sftp.NewServer(ch)
					if err != nil {
						return
					}
					_ = srv.Serve()
				}()
			}
		}()
	}
}

func writeKnownHosts(t *testing.T, dir, addr string, key ssh.PublicKey) string {
	t.Helper()
	path := filepath.Join(dir, "known_hosts")
	if err := os.WriteFile(path, []byte(knownhosts.Line([]string{addr}, key)+"\n"), 0o600); err != nil {
		t.Fatalf("write known_hosts: %v", err)
	}
	return path
}

func TestValidate(t *testing.T) {
	err := (&Fetcher{Addr: "host:22"}).Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"user", "key path", "remote path"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected %q in %v", want, err)
		}
	}
	ok := &Fetcher{Addr: "host:22", User: "u", KeyPath: "k", RemotePath: "/p"}
	if err := ok.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestClientConfig(t *testing.T) {
	dir := t.TempDir()
	keyPath, _ := writeKey(t, dir)

	f := &Fetcher{User: "player", KeyPath: keyPath, Log: zaptest.NewLogger(t)}
	conf, err := f.ClientConfig()
	if err != nil {
		t.Fatalf("client config: %v", err)
	}
	if conf.User != "player" || conf.Timeout != 10*time.Second || len(conf.Auth) != 1 {
		t.Fatalf("unexpected config %+v", conf)
	}

	f.KeyPath = filepath.Join(dir, "missing")
	if _, err := f.ClientConfig(); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestFetch(t *testing.T) {
	dir := t.TempDir()
	keyPath, pub := writeKey(t, dir)
	addr, hostKey := startServer(t, pub)

	remotePath := filepath.Join(dir, "AuroraDB.db")
	content := []byte("SQLite format 3\x00 pretend save")
	if err := os.WriteFile(remotePath, content, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(remotePath, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	f := &Fetcher{
		Addr:           addr,
		User:           "player",
		KeyPath:        keyPath,
		KnownHostsPath: writeKnownHosts(t, dir, addr, hostKey),
		RemotePath:     remotePath,
		Log:            zaptest.NewLogger(t),
	}
	ctx := context.Background()

	statMod, err := f.Stat(ctx)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !statMod.Equal(mod) {
		t.Errorf("expected mod time %v, got %v", mod, statMod)
	}

	dst := filepath.Join(dir, "cache", "copy.db")
	fetchedMod, err := f.Fetch(ctx, dst)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !fetchedMod.Equal(mod) {
		t.Errorf("expected mod time %v, got %v", mod, fetchedMod)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("copy differs: %q", got)
	}

	leftovers, _ := filepath.Glob(filepath.Join(dir, "cache", "*.part"))
	if len(leftovers) != 0 {
		t.Errorf("expected no temp files, got %v", leftovers)
	}
}

func TestFetchRejectsUnknownHost(t *testing.T) {
	dir := t.TempDir()
	keyPath, pub := writeKey(t, dir)
	addr, _ := startServer(t, pub)
	_, otherKey := writeKey(t, t.TempDir())

	f := &Fetcher{
		Addr:           addr,
		User:           "player",
		KeyPath:        keyPath,
		KnownHostsPath: writeKnownHosts(t, dir, addr, otherKey),
		RemotePath:     "/nowhere",
		Log:            zaptest.NewLogger(t),
	}
	if _, err := f.Stat(context.Background()); err == nil {
		t.Fatal("expected host key mismatch")
	}
}

func TestFetchRejectsUnauthorizedKey(t *testing.T) {
	dir := t.TempDir()
	_, pub := writeKey(t, dir)
	addr, _ := startServer(t, pub)
	otherKey, _ := writeKey(t, t.TempDir())

	f := &Fetcher{
		Addr:       addr,
		User:       "player",
		KeyPath:    otherKey,
		RemotePath: "/nowhere",
		Log:        zaptest.NewLogger(t),
	}
	if _, err := f.Fetch(context.Background(), filepath.Join(dir, "copy.db")); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestFetchIfNewerUsesOneConnection(t *testing.T) {
	dir := t.TempDir()
	keyPath, pub := writeKey(t, dir)
	addr, hostKey, conns := startCountingServer(t, pub)

	remotePath := filepath.Join(dir, "AuroraDB.db")
	if err := os.WriteFile(remotePath, []byte("save"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	mod := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	if err := os.Chtimes(remotePath, mod, mod); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	f := &Fetcher{
		Addr:           addr,
		User:           "player",
		KeyPath:        keyPath,
		KnownHostsPath: writeKnownHosts(t, dir, addr, hostKey),
		RemotePath:     remotePath,
		Log:            zaptest.NewLogger(t),
	}
	dst := filepath.Join(dir, "cache", "copy.db")
	ctx := context.Background()

	got, fetched, err := f.FetchIfNewer(ctx, dst, time.Time{})
	if err != nil || !fetched || !got.Equal(mod) {
		t.Fatalf("first fetch: mod=%v fetched=%v err=%v", got, fetched, err)
	}
	if n := conns.Load(); n != 1 {
		t.Fatalf("expected 1 connection, got %d", n)
	}

	if err := os.Remove(dst); err != nil {
		t.Fatalf("remove: %v", err)
	}
	got, fetched, err = f.FetchIfNewer(ctx, dst, mod)
	if err != nil || fetched || !got.Equal(mod) {
		t.Fatalf("unchanged fetch: mod=%v fetched=%v err=%v", got, fetched, err)
	}
	if _, err := os.Stat(dst); !os.IsNotExist(err) {
		t.Errorf("expected no download for an unchanged file, stat err=%v", err)
	}
	if n := conns.Load(); n != 2 {
		t.Fatalf("expected 2 connections, got %d", n)
	}
}
