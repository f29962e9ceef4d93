// Package publisher runs the publish pipeline: scan the staging directory,
// read metadata, update the feed, move the audio into place and push.
package publisher

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"podcast-publisher/internal/feed"
	"podcast-publisher/internal/metadata"
	"podcast-publisher/internal/models"
	"podcast-publisher/internal/staging"
)

// ErrAlreadyRunning is wrapped when another run holds the publish lock.
var ErrAlreadyRunning = errors.New("another publish run is in progress")

// MetadataReader reads the metadata of one staged audio file.
type MetadataReader interface {
	Read(path string) (metadata.Media, error)
}

// VersionControl commits and pushes the published tree.
type VersionControl interface {
	HasChanges(ctx context.Context) (bool, error)
	Publish(ctx context.Context, message string) error
}

// pendingMessage commits work a previous run wrote but failed to commit.
const pendingMessage = "Automated podcast update: pending changes"

// defaultFeedPerm applies when the feed file is created.
const defaultFeedPerm os.FileMode = 0o644

// Options locates the published tree and describes the feed.
type Options struct {
	PublishDir string
	StagingDir string
	FeedFile   string
	// LockFile defaults to a per-feed file in the system temp directory so it
	// never ends up in the published tree.
	LockFile     string
	Render       feed.RenderOptions
	Channel      feed.ChannelMetadata
	PruneMissing bool
}

// Result summarises one run.
type Result struct {
	Added          []models.AudioItem
	Removed        []feed.Removed
	FeedCreated    bool
	StagingCreated bool
	Pushed         bool
}

// Changed reports whether the run modified the published tree.
func (r Result) Changed() bool {
	return len(r.Added) > 0 || len(r.Removed) > 0 || r.FeedCreated
}

// Publisher runs the pipeline. It holds no state between runs.
type Publisher struct {
	opts   Options
	reader MetadataReader
	vcs    VersionControl
	logger *log.Logger
	now    func() time.Time
}

// New creates a Publisher. A nil vcs skips the commit and push.
func New(opts Options, reader MetadataReader, vcs VersionControl, logger *log.Logger) *Publisher {
	if logger == nil {
		logger = log.Default()
	}
	if opts.LockFile == "" {
		opts.LockFile = defaultLockFile(opts.FeedFile)
	}
	return &Publisher{
		opts:   opts,
		reader: reader,
		vcs:    vcs,
		logger: logger,
		now:    time.Now,
	}
}

// Run publishes everything in the staging directory. Nothing is written
// unless every staged file has readable metadata and the feed accepts every
// entry; the push happens only after the feed and audio are in place.
func (p *Publisher) Run(ctx context.Context) (Result, error) {
	lock := flock.New(p.opts.LockFile)
	locked, err := lock.TryLock()
	if err != nil {
		return Result{}, &staging.IOFailureError{Op: "lock", Path: p.opts.LockFile, Err: err}
	}
	if !locked {
		return Result{}, &staging.IOFailureError{Op: "lock", Path: p.opts.LockFile, Err: ErrAlreadyRunning}
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			p.logger.Printf("release lock %s: %v", p.opts.LockFile, err)
		}
	}()

	var result Result

	if _, err := os.Stat(p.opts.StagingDir); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(p.opts.StagingDir, 0o755); err != nil {
			return result, &staging.IOFailureError{Op: "mkdir", Path: p.opts.StagingDir, Err: err}
		}
		p.logger.Printf("created staging directory %s; place audio files inside it and run again", p.opts.StagingDir)
		result.StagingCreated = true
		return result, nil
	}

	files, err := staging.Scan(p.opts.StagingDir)
	if err != nil {
		return result, err
	}

	runAt := p.now().UTC()
	items := make([]models.AudioItem, 0, len(files))
	for _, path := range files {
		media, err := p.reader.Read(path)
		if err != nil {
			return result, err
		}
		name := filepath.Base(path)
		items = append(items, models.AudioItem{
			FilePath:        path,
			Filename:        name,
			Title:           media.Title,
			DurationSeconds: media.DurationSeconds,
			SizeBytes:       media.SizeBytes,
			PublishedAt:     runAt,
			GUID:            metadata.GUIDFromFilename(name),
		})
	}

	text, perm, created, err := p.loadFeed()
	if err != nil {
		return result, err
	}

	var removed []feed.Removed
	if p.opts.PruneMissing && !created {
		text, removed, err = feed.Prune(text, p.audioPublished)
		if err != nil {
			return result, fmt.Errorf("%s: %w", p.opts.FeedFile, err)
		}
	}

	text, err = feed.Publish(text, items, p.opts.Render)
	if err != nil {
		return result, fmt.Errorf("%s: %w", p.opts.FeedFile, err)
	}

	if len(items) == 0 && len(removed) == 0 && !created {
		p.logger.Printf("no new episodes in %s", p.opts.StagingDir)
		return p.publishPending(ctx, result)
	}

	text, err = feed.StampLastBuildDate(text, runAt)
	if err != nil {
		return result, fmt.Errorf("%s: %w", p.opts.FeedFile, err)
	}

	if err := ctx.Err(); err != nil {
		return result, err
	}

	moves := make([]staging.Move, 0, len(items))
	for _, item := range items {
		moves = append(moves, staging.Move{
			Source:      item.FilePath,
			Destination: filepath.Join(p.opts.PublishDir, item.Filename),
		})
	}
	if err := staging.CheckDestinations(moves); err != nil {
		return result, err
	}

	done, err := p.moveAll(moves)
	if err != nil {
		p.rollback(done)
		return result, err
	}

	if err := staging.WriteFileAtomic(p.opts.FeedFile, []byte(text), perm); err != nil {
		p.rollback(done)
		return result, err
	}

	result.Added = items
	result.Removed = removed
	result.FeedCreated = created
	for _, r := range removed {
		p.logger.Printf("removed %q from feed (audio file %s is missing)", r.Title, r.Filename)
	}
	for _, item := range items {
		p.logger.Printf("published %s as %q (guid %s)", item.Filename, item.Title, item.GUID)
	}
	p.logger.Printf("updated %s with %d new episodes", p.opts.FeedFile, len(items))

	if p.vcs == nil {
		return result, nil
	}
	if err := p.vcs.Publish(ctx, commitMessage(result)); err != nil {
		return result, err
	}
	result.Pushed = true
	return result, nil
}

// loadFeed returns the feed text and the permissions to write it back with.
func (p *Publisher) loadFeed() (string, os.FileMode, bool, error) {
	info, err := os.Stat(p.opts.FeedFile)
	if err == nil {
		data, err := os.ReadFile(p.opts.FeedFile)
		if err != nil {
			return "", 0, false, &staging.IOFailureError{Op: "read", Path: p.opts.FeedFile, Err: err}
		}
		return string(data), info.Mode().Perm(), false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", 0, false, &staging.IOFailureError{Op: "read", Path: p.opts.FeedFile, Err: err}
	}

	p.logger.Printf("%s not found; creating a new feed", p.opts.FeedFile)
	text, err := feed.NewDocument(p.opts.Channel)
	if err != nil {
		return "", 0, false, err
	}
	return text, defaultFeedPerm, true, nil
}

// publishPending retries the commit and push when an earlier run left
// changes in the work tree.
func (p *Publisher) publishPending(ctx context.Context, result Result) (Result, error) {
	if p.vcs == nil {
		return result, nil
	}
	pending, err := p.vcs.HasChanges(ctx)
	if err != nil {
		return result, err
	}
	if !pending {
		return result, nil
	}
	p.logger.Printf("work tree has unpublished changes; committing them")
	if err := p.vcs.Publish(ctx, pendingMessage); err != nil {
		return result, err
	}
	result.Pushed = true
	return result, nil
}

func (p *Publisher) audioPublished(filename string) bool {
	_, err := os.Stat(filepath.Join(p.opts.PublishDir, filename))
	return !errors.Is(err, os.ErrNotExist)
}

func (p *Publisher) moveAll(moves []staging.Move) ([]staging.Move, error) {
	done := make([]staging.Move, 0, len(moves))
	for _, m := range moves {
		if err := staging.MoveFile(m.Source, m.Destination); err != nil {
			return done, err
		}
		done = append(done, m)
	}
	return done, nil
}

func (p *Publisher) rollback(done []staging.Move) {
	for i := len(done) - 1; i >= 0; i-- {
		m := done[i]
		if err := staging.MoveFile(m.Destination, m.Source); err != nil {
			p.logger.Printf("rollback %s -> %s: %v", m.Destination, m.Source, err)
		}
	}
}

func commitMessage(r Result) string {
	return fmt.Sprintf("Automated podcast update: %d added, %d removed", len(r.Added), len(r.Removed))
}

func defaultLockFile(feedFile string) string {
	abs, err := filepath.Abs(feedFile)
	if err != nil {
		abs = feedFile
	}
	sum := sha1.Sum([]byte(abs))
	return filepath.Join(os.TempDir(), "podcast-publisher-"+hex.EncodeToString(sum[:6])+".lock")
}
