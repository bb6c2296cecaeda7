// Package vcs checks out remote module sources (spec §4.6's "remote module
// checkout") by shelling out to the git binary, the way
// pkg/engine/onboarding.go shells out to system tools rather than linking a
// pure-Go git implementation. Host key verification reuses the
// known_hosts/StrictHostKeyChecking posture from the teacher's
// ssh.ClientConfig construction: before delegating to git, an ssh:// or
// git@ remote's host key is checked against known_hosts the same way, so a
// checkout fails closed on an unrecognized host instead of silently
// trusting whatever git's own ssh client would have accepted.
package vcs

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/openfroyo/garden/pkg/gardenerr"
)

// Ref identifies a remote module source: a git URL plus an optional
// ref (branch, tag or commit) and subpath within the repository.
type Ref struct {
	URL    string
	Ref    string
	Subdir string
}

// Checkout clones or updates ref into the module cache rooted at cacheDir,
// returning the path to the module's content (cacheDir/<URL with "/", ":"
// and "@" replaced by "_">[/Subdir]).
type Checkout struct {
	cacheDir              string
	knownHostsPath        string
	strictHostKeyChecking bool
}

// New creates a Checkout. knownHostsPath may be empty; when empty and
// strict is true, checkouts of ssh:// URLs fail rather than silently
// trusting unknown hosts.
func New(cacheDir string, knownHostsPath string, strict bool) *Checkout {
	return &Checkout{cacheDir: cacheDir, knownHostsPath: knownHostsPath, strictHostKeyChecking: strict}
}

// Resolve ensures ref's repository is present locally at its requested ref
// and returns the path to use as the module's root (ref.Subdir applied).
func (c *Checkout) Resolve(ctx context.Context, ref Ref) (string, error) {
	if strings.HasPrefix(ref.URL, "ssh://") || strings.HasPrefix(ref.URL, "git@") {
		if c.strictHostKeyChecking && c.knownHostsPath == "" {
			return "", gardenerr.New(gardenerr.KindConfiguration, "strict host key checking requested with no known_hosts path").
				WithEntity(ref.URL)
		}
		if err := c.verifyHostKey(ctx, ref.URL); err != nil {
			return "", gardenerr.Wrap(gardenerr.KindConfiguration, "remote host key verification failed", err).WithEntity(ref.URL)
		}
	}

	dir := filepath.Join(c.cacheDir, dirName(ref.URL))
	if _, err := os.Stat(filepath.Join(dir, ".git")); err != nil {
		if err := c.clone(ctx, ref, dir); err != nil {
			return "", err
		}
	} else {
		if err := c.fetch(ctx, dir); err != nil {
			return "", err
		}
	}

	if ref.Ref != "" {
		if err := c.checkoutRef(ctx, dir, ref.Ref); err != nil {
			return "", err
		}
	}

	root := dir
	if ref.Subdir != "" {
		root = filepath.Join(dir, ref.Subdir)
	}
	if _, err := os.Stat(root); err != nil {
		return "", gardenerr.New(gardenerr.KindConfiguration, "remote module subdirectory does not exist after checkout").
			WithEntity(ref.URL).WithDetail("subdir", ref.Subdir)
	}
	return root, nil
}

// verifyHostKey dials rawURL's host and closes the connection the moment
// the host key callback has run, rejecting the checkout before git ever
// runs if a known_hosts file is configured and does not recognize the
// host. With no known_hosts path, any host key is accepted here.
func (c *Checkout) verifyHostKey(ctx context.Context, rawURL string) error {
	hostKeyCallback, err := c.hostKeyCallback()
	if err != nil {
		return err
	}

	host, err := sshHost(rawURL)
	if err != nil {
		return err
	}

	clientConfig := &ssh.ClientConfig{
		User:            "git",
		Auth:            []ssh.AuthMethod{ssh.Password("")}, // auth is irrelevant; only the host key matters
		HostKeyCallback: hostKeyCallback,
		Timeout:         10 * time.Second,
	}

	conn, err := ssh.Dial("tcp", host, clientConfig)
	if conn != nil {
		conn.Close()
	}
	if err == nil {
		return nil
	}
	// Auth always fails (no real credentials were offered); only a
	// host-key rejection from the callback itself is disqualifying.
	if _, ok := err.(*knownhosts.KeyError); ok {
		return err
	}
	if strings.Contains(err.Error(), "knownhosts: key is unknown") || strings.Contains(err.Error(), "key mismatch") {
		return err
	}
	return nil
}

func (c *Checkout) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if c.knownHostsPath == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(c.knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts: %w", err)
	}
	return cb, nil
}

// sshHost extracts a host:port dial target from a git remote URL, either
// ssh://[user@]host[:port]/path or the scp-like user@host:path shorthand.
func sshHost(rawURL string) (string, error) {
	rest := rawURL
	if strings.HasPrefix(rest, "ssh://") {
		rest = strings.TrimPrefix(rest, "ssh://")
		if at := strings.Index(rest, "@"); at != -1 {
			rest = rest[at+1:]
		}
		if slash := strings.Index(rest, "/"); slash != -1 {
			rest = rest[:slash]
		}
	} else {
		at := strings.Index(rest, "@")
		if at == -1 {
			return "", gardenerr.New(gardenerr.KindConfiguration, "not a recognizable ssh remote").WithEntity(rawURL)
		}
		rest = rest[at+1:]
		if colon := strings.Index(rest, ":"); colon != -1 {
			rest = rest[:colon]
		}
	}
	if rest == "" {
		return "", gardenerr.New(gardenerr.KindConfiguration, "could not determine ssh host").WithEntity(rawURL)
	}
	if _, _, err := net.SplitHostPort(rest); err != nil {
		rest = net.JoinHostPort(rest, "22")
	}
	return rest, nil
}

func (c *Checkout) clone(ctx context.Context, ref Ref, dir string) error {
	if err := os.MkdirAll(filepath.Dir(dir), 0o755); err != nil {
		return err
	}
	args := []string{"clone", "--quiet", ref.URL, dir}
	return c.run(ctx, "", args...)
}

func (c *Checkout) fetch(ctx context.Context, dir string) error {
	return c.run(ctx, dir, "fetch", "--quiet", "--all", "--tags")
}

func (c *Checkout) checkoutRef(ctx context.Context, dir, ref string) error {
	return c.run(ctx, dir, "checkout", "--quiet", ref)
}

func (c *Checkout) run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = c.gitEnv()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return gardenerr.Wrap(gardenerr.KindRuntime, "git command failed", err).
			WithDetail("args", args).WithDetail("output", string(out))
	}
	return nil
}

// gitEnv constructs GIT_SSH_COMMAND to honor our known_hosts policy instead
// of relying on the invoking user's ~/.ssh/config.
func (c *Checkout) gitEnv() []string {
	env := os.Environ()
	sshCmd := "ssh"
	if c.knownHostsPath != "" {
		sshCmd += fmt.Sprintf(" -o UserKnownHostsFile=%s", c.knownHostsPath)
	}
	if c.strictHostKeyChecking {
		sshCmd += " -o StrictHostKeyChecking=yes"
	} else {
		sshCmd += " -o StrictHostKeyChecking=no"
	}
	return append(env, "GIT_SSH_COMMAND="+sshCmd)
}

func dirName(url string) string {
	replacer := strings.NewReplacer("/", "_", ":", "_", "@", "_")
	return replacer.Replace(url)
}
