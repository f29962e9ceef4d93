package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"podcast-publisher/internal/config"
	"podcast-publisher/internal/feed"
	"podcast-publisher/internal/metadata"
	"podcast-publisher/internal/staging"
	"podcast-publisher/internal/vcs"
)

func setPublisherEnv(t *testing.T, publishDir string) {
	t.Helper()
	t.Setenv("PODCAST_ENV_FILE", filepath.Join(publishDir, "absent.env"))
	t.Setenv("PODCAST_PUBLISH_DIR", publishDir)
	t.Setenv("PODCAST_BASE_URL", "https://example.github.io/pod")
	t.Setenv("PODCAST_GIT_ENABLED", "false")
	t.Setenv("PODCAST_STAGING_DIR", "")
	t.Setenv("PODCAST_FEED_FILE", "")
	t.Setenv("PODCAST_FEED_CONFIG", "")
	t.Setenv("PODCAST_FEED_TITLE", "CLI Feed")
	t.Setenv("PODCAST_FEED_AUTHOR", "")
	t.Setenv("PODCAST_PRUNE_MISSING", "")
}

func TestRootCommandPublishes(t *testing.T) {
	publishDir := t.TempDir()
	setPublisherEnv(t, publishDir)

	stagingDir := filepath.Join(publishDir, "_new_uploads")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	// Non-mp3 formats publish without decoding frames.
	if err := os.WriteFile(filepath.Join(stagingDir, "ep1_Intro.m4a"), []byte("audio"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cmd := newRootCmd(log.New(io.Discard, "", 0))
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(publishDir, "feed.xml"))
	if err != nil {
		t.Fatalf("read feed: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "<title>CLI Feed</title>") {
		t.Fatalf("expected configured channel title:\n%s", text)
	}
	if !strings.Contains(text, `url="https://example.github.io/pod/ep1_Intro.m4a"`) {
		t.Fatalf("expected enclosure under base url:\n%s", text)
	}
	if !strings.Contains(text, `href="https://example.github.io/pod/feed.xml"`) {
		t.Fatalf("expected self link to the feed file:\n%s", text)
	}
	if _, err := os.Stat(filepath.Join(publishDir, "ep1_Intro.m4a")); err != nil {
		t.Fatalf("expected audio to be moved: %v", err)
	}
}

func TestRootCommandFailsOnUnreadableMedia(t *testing.T) {
	publishDir := t.TempDir()
	setPublisherEnv(t, publishDir)

	stagingDir := filepath.Join(publishDir, "_new_uploads")
	if err := os.MkdirAll(stagingDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(stagingDir, "notes.txt"), []byte("text"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cmd := newRootCmd(log.New(io.Discard, "", 0))
	cmd.SetArgs([]string{})
	err := cmd.Execute()
	if !errors.Is(err, metadata.ErrUnreadableMedia) {
		t.Fatalf("expected ErrUnreadableMedia, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(publishDir, "feed.xml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected no feed to be written, got %v", err)
	}
}

func TestRootCommandRequiresBaseURL(t *testing.T) {
	publishDir := t.TempDir()
	setPublisherEnv(t, publishDir)
	t.Setenv("PODCAST_BASE_URL", "")

	cmd := newRootCmd(log.New(io.Discard, "", 0))
	cmd.SetArgs([]string{})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error without base url")
	}
}

func TestRootCommandRejectsArguments(t *testing.T) {
	cmd := newRootCmd(log.New(io.Discard, "", 0))
	cmd.SetArgs([]string{"unexpected"})
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for positional arguments")
	}
}

func TestVersionFlag(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd(log.New(io.Discard, "", 0))
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--version"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out.String(); got != "podcast-publisher version "+version+"\n" {
		t.Fatalf("unexpected version output %q", got)
	}
}

func TestFeedURL(t *testing.T) {
	root := filepath.Join(string(filepath.Separator), "srv", "pod")
	cfg := config.Config{PublishDir: root, BaseURL: "https://example.github.io/pod/"}

	cfg.FeedFile = filepath.Join(root, "public", "rss.xml")
	if got := feedURL(cfg); got != "https://example.github.io/pod/public/rss.xml" {
		t.Fatalf("unexpected feed url %s", got)
	}

	cfg.FeedFile = filepath.Join(string(filepath.Separator), "elsewhere", "feed.xml")
	if got := feedURL(cfg); got != "https://example.github.io/pod/feed.xml" {
		t.Fatalf("unexpected feed url %s", got)
	}
}

func TestDiagnose(t *testing.T) {
	cases := []struct {
		err    error
		prefix string
	}{
		{fmt.Errorf("feed.xml: %w", feed.ErrMalformedFeed), "malformed feed: "},
		{&feed.DuplicateGUIDError{GUID: "104"}, "duplicate episode: "},
		{&metadata.UnreadableMediaError{Path: "a.mp3", Err: errors.New("bad")}, "unreadable audio: "},
		{&staging.IOFailureError{Op: "move", Path: "a.mp3", Err: staging.ErrDestinationExists}, "file error: "},
		{&vcs.VCSFailureError{Args: []string{"push"}, ExitCode: 1}, "git error"},
		{errors.New("boom"), "error: "},
	}
	for _, tc := range cases {
		if got := diagnose(tc.err); !strings.HasPrefix(got, tc.prefix) {
			t.Fatalf("diagnose(%v) = %q, want prefix %q", tc.err, got, tc.prefix)
		}
	}
	if got := diagnose(&feed.DuplicateGUIDError{GUID: "104"}); !strings.Contains(got, `"104"`) {
		t.Fatalf("expected guid in diagnostic, got %q", got)
	}
}
