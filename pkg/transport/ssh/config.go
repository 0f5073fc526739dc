package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	gossh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DefaultDialTimeout bounds the TCP connect and SSH handshake.
const DefaultDialTimeout = 30 * time.Second

// Config describes how to reach the cluster login node.
type Config struct {
	// Host is the login node hostname or IP.
	Host string

	// Port defaults to 22.
	Port int

	// User is the remote account.
	User string

	// PrivateKeyFile is a PEM/OpenSSH private key. Preferred over Password.
	PrivateKeyFile string

	// KeyPassphrase decrypts PrivateKeyFile when it is protected.
	KeyPassphrase string

	// Password enables password authentication.
	Password string

	// KnownHostsFile enables host key verification. When empty the host key
	// is not verified.
	KnownHostsFile string

	// DialTimeout defaults to DefaultDialTimeout.
	DialTimeout time.Duration
}

// Validate checks the fields required to dial.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return errors.New("ssh host is required")
	}
	if strings.TrimSpace(c.User) == "" {
		return errors.New("ssh user is required")
	}
	if c.PrivateKeyFile == "" && c.Password == "" {
		return errors.New("ssh private key file or password is required")
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid ssh port %d", c.Port)
	}
	return nil
}

// Addr returns host:port with the default port applied.
func (c Config) Addr() string {
	port := c.Port
	if port == 0 {
		port = 22
	}
	return net.JoinHostPort(c.Host, strconv.Itoa(port))
}

func (c Config) clientConfig() (*gossh.ClientConfig, error) {
	var auth []gossh.AuthMethod

	if c.PrivateKeyFile != "" {
		pem, err := os.ReadFile(c.PrivateKeyFile)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer gossh.Signer
		if c.KeyPassphrase != "" {
			signer, err = gossh.ParsePrivateKeyWithPassphrase(pem, []byte(c.KeyPassphrase))
		} else {
			signer, err = gossh.ParsePrivateKey(pem)
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		auth = append(auth, gossh.PublicKeys(signer))
	}
	if c.Password != "" {
		auth = append(auth, gossh.Password(c.Password))
	}

	hostKeyCallback := gossh.InsecureIgnoreHostKey() // #nosec G106 -- opt-in verification via KnownHostsFile
	if c.KnownHostsFile != "" {
		cb, err := knownhosts.New(c.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	timeout := c.DialTimeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	return &gossh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         timeout,
	}, nil
}
