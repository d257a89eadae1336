// Package remote is the backup channel to the game host. It fires the
// backup-and-stop script, checks the host is reachable, and works with
// the world archives the script leaves behind. Connections are opened
// per call: the instance gets a fresh address on every boot, so there is
// nothing durable to pool.
package remote

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Dardin-dale/huginbot-sub000/pkg/compute"
)

// TransportError classifies a backup-channel failure.
type TransportError struct {
	// Op is the operation that failed (e.g. "dial", "exec", "fetch").
	Op string

	// Err is the underlying error.
	Err error

	// IsTemporary indicates the error may clear on retry.
	IsTemporary bool

	// IsAuthError indicates the failure is credential-related.
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may help.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Config holds the SSH side of the backup channel.
type Config struct {
	// Host overrides address discovery, for hosts behind a static or
	// elastic IP. When empty the live instance address is used.
	Host string

	// Port is the SSH port.
	Port int

	// User is the SSH username on the game host.
	User string

	// PrivateKeyPath is the path to the private key file. When empty the
	// usual ~/.ssh key locations are probed.
	PrivateKeyPath string

	// PrivateKeyPassphrase decrypts an encrypted private key.
	PrivateKeyPassphrase string

	// KnownHostsPath is the path to the known_hosts file.
	KnownHostsPath string

	// StrictHostKeyChecking rejects hosts missing from known_hosts.
	// Disabling it accepts any host key.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// CommandTimeout bounds a single remote command.
	CommandTimeout time.Duration

	// BackupDir is where the backup script writes world archives.
	BackupDir string
}

// DefaultConfig returns a Config with the usual defaults.
func DefaultConfig(user string) Config {
	return Config{
		Port:                  22,
		User:                  user,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectTimeout:        10 * time.Second,
		CommandTimeout:        30 * time.Second,
		BackupDir:             "/opt/valheim/backups",
	}
}

// Validate checks the configuration and fills in a discoverable key path.
func (c *Config) Validate() error {
	if c.User == "" {
		return fmt.Errorf("ssh user is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid ssh port: %d", c.Port)
	}

	if c.PrivateKeyPath == "" {
		home := os.Getenv("HOME")
		for _, candidate := range []string{
			filepath.Join(home, ".ssh", "id_ed25519"),
			filepath.Join(home, ".ssh", "id_rsa"),
			filepath.Join(home, ".ssh", "id_ecdsa"),
		} {
			if _, err := os.Stat(candidate); err == nil {
				c.PrivateKeyPath = candidate
				break
			}
		}
		if c.PrivateKeyPath == "" {
			return fmt.Errorf("no private key configured and no default key found")
		}
	}
	if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
		return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive")
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout must be positive")
	}
	if c.BackupDir == "" {
		return fmt.Errorf("backup directory is required")
	}

	return nil
}

// clientConfig builds the ssh.ClientConfig for a connection attempt.
func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	keyBytes, err := os.ReadFile(c.PrivateKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if c.PrivateKeyPassphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.StrictHostKeyChecking && c.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// Client talks to the game host over SSH and SFTP.
type Client struct {
	cfg      Config
	provider compute.Provider
}

// NewClient validates the configuration and returns a ready client. The
// provider supplies the instance address unless Config.Host pins one.
func NewClient(provider compute.Provider, cfg Config) (*Client, error) {
	if provider == nil && cfg.Host == "" {
		return nil, fmt.Errorf("backup channel requires a compute provider or a fixed host")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid backup channel config: %w", err)
	}
	return &Client{cfg: cfg, provider: provider}, nil
}

// address resolves where to connect for this call.
func (c *Client) address(ctx context.Context) (string, error) {
	if c.cfg.Host != "" {
		return fmt.Sprintf("%s:%d", c.cfg.Host, c.cfg.Port), nil
	}

	inst, err := c.provider.Describe(ctx)
	if err != nil {
		return "", &TransportError{
			Op:          "resolve-address",
			Err:         err,
			IsTemporary: compute.IsTemporary(err),
		}
	}
	if inst.PublicAddress == "" {
		return "", &TransportError{
			Op:  "resolve-address",
			Err: fmt.Errorf("instance %s has no public address in state %s", inst.ID, inst.State),
		}
	}
	return fmt.Sprintf("%s:%d", inst.PublicAddress, c.cfg.Port), nil
}

// dial opens a fresh SSH connection, honoring ctx cancellation.
func (c *Client) dial(ctx context.Context) (*ssh.Client, error) {
	address, err := c.address(ctx)
	if err != nil {
		return nil, err
	}

	clientConfig, err := c.cfg.clientConfig()
	if err != nil {
		return nil, &TransportError{Op: "dial", Err: err, IsAuthError: true}
	}

	log.Debug().Str("address", address).Msg("Dialing game host")

	connCh := make(chan *ssh.Client, 1)
	errCh := make(chan error, 1)
	go func() {
		conn, dialErr := ssh.Dial("tcp", address, clientConfig)
		if dialErr != nil {
			errCh <- dialErr
			return
		}
		connCh <- conn
	}()

	select {
	case <-ctx.Done():
		return nil, &TransportError{Op: "dial", Err: ctx.Err(), IsTemporary: true}
	case err := <-errCh:
		return nil, &TransportError{Op: "dial", Err: err, IsTemporary: true}
	case conn := <-connCh:
		return conn, nil
	}
}

// run executes one command in its own session and returns its output.
func (c *Client) run(ctx context.Context, command string) (string, string, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return "", "", err
	}
	defer conn.Close()

	session, err := conn.NewSession()
	if err != nil {
		return "", "", &TransportError{
			Op:          "exec",
			Err:         fmt.Errorf("failed to create session: %w", err),
			IsTemporary: true,
		}
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		runErr = ctx.Err()
	case runErr = <-done:
	}

	if runErr != nil {
		if exitErr, ok := runErr.(*ssh.ExitError); ok {
			return stdout.String(), stderr.String(), &TransportError{
				Op:  "exec",
				Err: fmt.Errorf("command exited with code %d: %s", exitErr.ExitStatus(), stderr.String()),
			}
		}
		return stdout.String(), stderr.String(), &TransportError{
			Op:          "exec",
			Err:         runErr,
			IsTemporary: true,
		}
	}

	return stdout.String(), stderr.String(), nil
}

// detachedCommand wraps a command so it survives the session closing.
func detachedCommand(command string) string {
	return fmt.Sprintf("nohup %s >/dev/null 2>&1 &", command)
}

// RunDetached fires a command on the game host without awaiting its
// result. The shell backgrounds the command and the call returns as soon
// as the host has accepted it.
func (c *Client) RunDetached(ctx context.Context, command string) error {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	_, stderr, err := c.run(runCtx, detachedCommand(command))
	if err != nil {
		return err
	}

	log.Info().Str("command", command).Msg("Detached command accepted by game host")
	if stderr != "" {
		log.Warn().Str("stderr", stderr).Msg("Detached command produced stderr output")
	}
	return nil
}

// Ping verifies the host is reachable and accepting commands.
func (c *Client) Ping(ctx context.Context) error {
	runCtx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()

	_, _, err := c.run(runCtx, "true")
	return err
}
