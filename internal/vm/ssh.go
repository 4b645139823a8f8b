package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

// SSHExecutor runs commands on one pre-provisioned host. Create does not
// provision anything; it hands out the host's fixed ID.
type SSHExecutor struct {
	Addr     string
	HostID   string
	PublicAt string
	config   *ssh.ClientConfig
}

type SSHOptions struct {
	Addr       string // host:port
	User       string
	PrivateKey []byte // PEM
	// HostKey is an authorized_keys style line. Empty disables host key
	// checking, which is only acceptable on a private network.
	HostKey   string
	HostID    string
	PublicURL string
}

func NewSSHExecutor(o SSHOptions) (*SSHExecutor, error) {
	if o.Addr == "" {
		return nil, errors.New("ssh executor: addr is required")
	}
	signer, err := ssh.ParsePrivateKey(o.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("ssh executor: parse private key: %w", err)
	}
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if strings.TrimSpace(o.HostKey) != "" {
		pub, _, _, _, err := ssh.ParseAuthorizedKey([]byte(o.HostKey))
		if err != nil {
			return nil, fmt.Errorf("ssh executor: parse host key: %w", err)
		}
		hostKeyCallback = ssh.FixedHostKey(pub)
	}
	id := o.HostID
	if id == "" {
		id = o.Addr
	}
	return &SSHExecutor{
		Addr:     o.Addr,
		HostID:   id,
		PublicAt: strings.TrimRight(o.PublicURL, "/"),
		config: &ssh.ClientConfig{
			User:            o.User,
			Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
			HostKeyCallback: hostKeyCallback,
			Timeout:         15 * time.Second,
		},
	}, nil
}

func (e *SSHExecutor) Create(ctx context.Context) (VM, error) {
	return VM{ID: e.HostID}, ctx.Err()
}

func (e *SSHExecutor) PublicURL(vmID string) string { return e.PublicAt }

// Exec pipes command into a login-less bash so multi-line scripts and
// heredocs behave the same as on the HTTP executor.
func (e *SSHExecutor) Exec(ctx context.Context, vmID, command string) (ExecResult, error) {
	if vmID != e.HostID {
		return ExecResult{}, fmt.Errorf("ssh executor: unknown vm %q", vmID)
	}
	client, err := ssh.Dial("tcp", e.Addr, e.config)
	if err != nil {
		return ExecResult{}, fmt.Errorf("ssh dial %s: %w", e.Addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return ExecResult{}, fmt.Errorf("ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr
	session.Stdin = strings.NewReader(command)

	done := make(chan error, 1)
	go func() { done <- session.Run("bash -s") }()

	select {
	case <-ctx.Done():
		_ = session.Close()
		return ExecResult{}, ctx.Err()
	case err := <-done:
		res := ExecResult{Stdout: stdout.String(), Stderr: stderr.String()}
		if err != nil {
			var exitErr *ssh.ExitError
			if !errors.As(err, &exitErr) {
				return ExecResult{}, fmt.Errorf("ssh run: %w", err)
			}
			res.StatusCode = exitErr.ExitStatus()
		}
		return res, nil
	}
}
