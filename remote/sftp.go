// Package remote downloads a save file from another machine over SFTP.
package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Fetcher copies RemotePath from the SSH host at Addr.
type Fetcher struct {
	Addr           string // host:port, e.g. "10.0.0.5:22"
	User           string
	KeyPath        string // private key used for public-key auth
	KnownHostsPath string // empty disables host key checking
	RemotePath     string
	DialTimeout    time.Duration
	Log            *zap.Logger
}

// Validate reports missing connection settings.
func (f *Fetcher) Validate() error {
	var err error
	if f.Addr == "" {
		err = multierr.Append(err, errors.New("remote addr must not be empty"))
	}
	if f.User == "" {
		err = multierr.Append(err, errors.New("remote user must not be empty"))
	}
	if f.KeyPath == "" {
		err = multierr.Append(err, errors.New("remote key path must not be empty"))
	}
	if f.RemotePath == "" {
		err = multierr.Append(err, errors.New("remote path must not be empty"))
	}
	return err
}

// ClientConfig builds the ssh configuration for username and private key
// authentication.
func (f *Fetcher) ClientConfig() (*ssh.ClientConfig, error) {
	keyByte, err := os.ReadFile(f.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}
	key, err := ssh.ParsePrivateKey(keyByte)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if f.KnownHostsPath != "" {
		hostKeys, err = knownhosts.New(f.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("load known hosts: %w", err)
		}
	} else {
		f.Log.Warn("host key checking disabled", zap.String("addr", f.Addr))
	}

	timeout := f.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ssh.ClientConfig{
		User: f.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(key),
		},
		HostKeyCallback: hostKeys,
		Timeout:         timeout,
	}, nil
}

// session is an open ssh connection with its sftp subsystem.
type session struct {
	ssh  *ssh.Client
	sftp *sftp.Client
}

func (s *session) Close() error {
	return multierr.Combine(s.sftp.Close(), s.ssh.Close())
}

func (f *Fetcher) dial(ctx context.Context) (*session, error) {
	conf, err := f.ClientConfig()
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: conf.Timeout}
	conn, err := d.DialContext(ctx, "tcp", f.Addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", f.Addr, err)
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, f.Addr, conf)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake %s: %w", f.Addr, err)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	sftpClient, err := sftp.NewClient(sshClient)
	if err != nil {
		_ = sshClient.Close()
		return nil, fmt.Errorf("open sftp: %w", err)
	}
	return &session{ssh: sshClient, sftp: sftpClient}, nil
}

// Stat returns the modification time of the remote file.
func (f *Fetcher) Stat(ctx context.Context) (time.Time, error) {
	s, err := f.dial(ctx)
	if err != nil {
		return time.Time{}, err
	}
	defer s.Close()

	fi, err := s.sftp.Stat(f.RemotePath)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat %s: %w", f.RemotePath, err)
	}
	return fi.ModTime(), nil
}

// Fetch downloads the remote file to dst and returns its modification time.
// The download goes to a temporary file next to dst which is renamed into
// place once complete, so a reader never sees a partial copy.
func (f *Fetcher) Fetch(ctx context.Context, dst string) (time.Time, error) {
	mod, _, err := f.FetchIfNewer(ctx, dst, time.Time{})
	return mod, err
}

// FetchIfNewer downloads the remote file to dst when its modification time
// is after since, over a single connection. It returns the remote
// modification time and whether a download happened. A zero since always
// downloads.
func (f *Fetcher) FetchIfNewer(ctx context.Context, dst string, since time.Time) (modTime time.Time, fetched bool, err error) {
	s, err := f.dial(ctx)
	if err != nil {
		return time.Time{}, false, err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	remoteFile, err := s.sftp.Open(f.RemotePath)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("open remote %s: %w", f.RemotePath, err)
	}
	defer remoteFile.Close()

	fi, err := remoteFile.Stat()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("stat remote %s: %w", f.RemotePath, err)
	}
	if !since.IsZero() && !fi.ModTime().After(since) {
		return fi.ModTime(), false, nil
	}

	n, err := download(remoteFile, dst)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("download %s: %w", f.RemotePath, err)
	}
	f.Log.Debug("save file downloaded",
		zap.String("remote", f.RemotePath),
		zap.String("local", dst),
		zap.Int64("bytes", n),
	)
	return fi.ModTime(), true, nil
}

func download(src io.Reader, dst string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, fmt.Errorf("create cache dir: %w", err)
	}
	localFile, err := os.CreateTemp(filepath.Dir(dst), filepath.Base(dst)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create local copy: %w", err)
	}
	tmpPath := localFile.Name()
	defer os.Remove(tmpPath)

	n, err := io.Copy(localFile, src)
	if err != nil {
		_ = localFile.Close()
		return 0, err
	}
	if err := localFile.Close(); err != nil {
		return 0, fmt.Errorf("close local copy: %w", err)
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		return 0, fmt.Errorf("replace %s: %w", dst, err)
	}
	return n, nil
}
