// Package remote executes export server command lines on a remote host over
// SSH. It implements the remote executor capability consumed by the qemu
// package: run a command line, then recover the pid of the forked server by
// polling the remote pid-file.
package remote

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/valvemist/nbdexport/proc"
)

// Config describes the SSH endpoint used for remote export operations.
type Config struct {
	Host           string
	Port           int // 0 means 22
	User           string
	PrivateKeyFile string
	Password       string
}

// ExecError reports a failed remote invocation: the command could not be
// started or its pid-file never materialized. LogFile points at the remote
// diagnostics when the invocation captured any.
type ExecError struct {
	LogFile string
	Err     error
}

func (e *ExecError) Error() string {
	if e.LogFile != "" {
		return fmt.Sprintf("remote execution failed (see [%s] on the remote host): %v", e.LogFile, e.Err)
	}
	return fmt.Sprintf("remote execution failed: %v", e.Err)
}

func (e *ExecError) Unwrap() error { return e.Err }

// Client is an SSH session to one remote host. It is safe to reuse for
// multiple invocations; every command runs in its own session.
type Client struct {
	host         string
	conn         *ssh.Client
	log          *slog.Logger
	startTimeout time.Duration
	pollInterval time.Duration
}

// Connect dials the configured host. Authentication tries the private key
// first, then the password, whichever is set.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var auth []ssh.AuthMethod
	if cfg.PrivateKeyFile != "" {
		key, err := os.ReadFile(cfg.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("no authentication method configured for host [%s]", cfg.Host)
	}

	port := cfg.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	conn, err := ssh.Dial("tcp", addr, &ssh.ClientConfig{
		User: cfg.User,
		Auth: auth,
		// Host identity is pinned by the operator's key material, not by
		// known_hosts lookup.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("connect [%s]: %w", addr, err)
	}
	logger.Info("connected to remote host", "host", addr, "user", cfg.User)
	return &Client{
		host:         cfg.Host,
		conn:         conn,
		log:          logger,
		startTimeout: proc.DefaultStartTimeout,
		pollInterval: 200 * time.Millisecond,
	}, nil
}

// Run executes a command line on the remote host. When pidFile is set the
// call polls it until the forked server's pid appears, bounded by the
// startup timeout. Failures wrap in an ExecError carrying logFile.
func (c *Client) Run(cmd, pidFile, logFile string) (proc.Handle, error) {
	c.log.Debug("running remote command", "host", c.host, "cmd", cmd)
	out, err := c.output(cmd)
	if err != nil {
		return proc.Handle{}, &ExecError{
			LogFile: logFile,
			Err:     fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out))),
		}
	}

	handle := proc.Handle{PidFile: pidFile, LogFile: logFile}
	if pidFile != "" {
		pid, err := c.waitPidFile(pidFile)
		if err != nil {
			return proc.Handle{}, &ExecError{LogFile: logFile, Err: err}
		}
		handle.Pid = pid
	}
	return handle, nil
}

// Close shuts down the SSH connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// output runs one command in a fresh session and returns its combined
// output.
func (c *Client) output(cmd string) ([]byte, error) {
	session, err := c.conn.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()
	return session.CombinedOutput(cmd)
}

// waitPidFile polls the remote pid-file until it holds a parseable pid or
// the startup bound elapses.
func (c *Client) waitPidFile(path string) (int, error) {
	deadline := time.Now().Add(c.startTimeout)
	for {
		out, err := c.output("cat " + path)
		if err == nil {
			if pid, perr := strconv.Atoi(strings.TrimSpace(string(out))); perr == nil && pid > 0 {
				return pid, nil
			}
		}
		if time.Now().After(deadline) {
			return 0, &proc.StartupTimeoutError{PidFile: path, Waited: c.startTimeout}
		}
		time.Sleep(c.pollInterval)
	}
}
