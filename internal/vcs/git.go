// Package vcs stages, commits and pushes the published tree with git.
package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os/exec"
	"strings"
)

var commandContext = exec.CommandContext

// ErrVCSFailure is matched by every *VCSFailureError.
var ErrVCSFailure = errors.New("vcs failure")

// VCSFailureError reports a git invocation that did not succeed. ExitCode is
// -1 when the process could not be started.
type VCSFailureError struct {
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *VCSFailureError) Error() string {
	msg := fmt.Sprintf("git %s failed (exit %d)", strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *VCSFailureError) Unwrap() error { return e.Err }

// Is reports whether target is ErrVCSFailure.
func (e *VCSFailureError) Is(target error) bool {
	return target == ErrVCSFailure
}

// Option configures the Git client.
type Option func(*Git)

// WithBinary overrides the git executable.
func WithBinary(binary string) Option {
	return func(g *Git) {
		if binary != "" {
			g.binary = binary
		}
	}
}

// WithRemote sets the remote and branch to push to.
func WithRemote(remote, branch string) Option {
	return func(g *Git) {
		if remote != "" {
			g.remote = remote
		}
		if branch != "" {
			g.branch = branch
		}
	}
}

// WithLogger sets the logger used for progress messages.
func WithLogger(logger *log.Logger) Option {
	return func(g *Git) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// Git runs git commands inside a work tree.
type Git struct {
	dir    string
	binary string
	remote string
	branch string
	logger *log.Logger
}

// NewGit creates a client for the work tree at dir, pushing to origin/main
// unless configured otherwise.
func NewGit(dir string, opts ...Option) *Git {
	g := &Git{
		dir:    dir,
		binary: "git",
		remote: "origin",
		branch: "main",
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HasChanges reports whether the work tree has anything to commit.
func (g *Git) HasChanges(ctx context.Context) (bool, error) {
	out, err := g.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

// Publish stages every change (deletions included), commits with message and
// pushes to the configured remote branch.
func (g *Git) Publish(ctx context.Context, message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("commit message required")
	}

	if _, err := g.run(ctx, "add", "-A"); err != nil {
		return err
	}
	g.logger.Printf("git: staged all changes")

	if _, err := g.run(ctx, "commit", "-m", message); err != nil {
		return err
	}
	g.logger.Printf("git: committed changes")

	if _, err := g.run(ctx, "push", g.remote, g.branch); err != nil {
		return err
	}
	g.logger.Printf("git: pushed to %s/%s", g.remote, g.branch)
	return nil
}

func (g *Git) run(ctx context.Context, args ...string) (string, error) {
	cmd := commandContext(ctx, g.binary, args...) //nolint:gosec
	cmd.Dir = g.dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		failure := &VCSFailureError{
			Args:     append([]string(nil), args...),
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			failure.ExitCode = exitErr.ExitCode()
		}
		return "", failure
	}
	return stdout.String(), nil
}
