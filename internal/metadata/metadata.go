package metadata

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dhowden/tag"
	"github.com/tcolgate/mp3"
)

// ErrUnreadableMedia is matched by every *UnreadableMediaError.
var ErrUnreadableMedia = errors.New("unreadable media")

// UnreadableMediaError names the audio file whose metadata could not be read.
type UnreadableMediaError struct {
	Path string
	Err  error
}

func (e *UnreadableMediaError) Error() string {
	return fmt.Sprintf("unreadable media %s: %v", e.Path, e.Err)
}

func (e *UnreadableMediaError) Unwrap() error { return e.Err }

// Is reports whether target is ErrUnreadableMedia.
func (e *UnreadableMediaError) Is(target error) bool {
	return target == ErrUnreadableMedia
}

// Media is the metadata needed to publish one audio file.
type Media struct {
	Title           string
	DurationSeconds float64
	SizeBytes       int64
}

// Reader extracts Media from audio files with an allowed extension.
type Reader struct {
	allowed map[string]struct{}
}

// NewReader creates a Reader accepting the given extensions (with leading dot).
func NewReader(allowed []string) *Reader {
	r := &Reader{allowed: make(map[string]struct{}, len(allowed))}
	for _, ext := range allowed {
		r.allowed[strings.ToLower(ext)] = struct{}{}
	}
	return r
}

// Read returns the title, duration and size of the audio file at path.
// MP3 files must decode; other allowed formats report a zero duration.
func (r *Reader) Read(path string) (Media, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if _, ok := r.allowed[ext]; !ok {
		return Media{}, &UnreadableMediaError{Path: path, Err: fmt.Errorf("unsupported extension %q", ext)}
	}

	info, err := os.Stat(path)
	if err != nil {
		return Media{}, &UnreadableMediaError{Path: path, Err: err}
	}
	if !info.Mode().IsRegular() {
		return Media{}, &UnreadableMediaError{Path: path, Err: errors.New("not a regular file")}
	}

	title := readTitle(path)
	if title == "" {
		title = TitleFromFilename(filepath.Base(path))
	}

	var duration float64
	if ext == ".mp3" {
		duration, err = computeMP3Duration(path)
		if err != nil {
			return Media{}, &UnreadableMediaError{Path: path, Err: err}
		}
	}

	return Media{
		Title:           title,
		DurationSeconds: duration,
		SizeBytes:       info.Size(),
	}, nil
}

// TitleFromFilename turns "104_British_Isles.mp3" into "104 British Isles".
func TitleFromFilename(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimSpace(strings.ReplaceAll(stem, "_", " "))
}

// GUIDFromFilename returns the filename prefix before the first underscore
// ("104_British_Isles.mp3" -> "104"), or the whole stem without one.
func GUIDFromFilename(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if prefix, _, found := strings.Cut(stem, "_"); found && prefix != "" {
		return prefix
	}
	return stem
}

func readTitle(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	meta, err := tag.ReadFrom(f)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(meta.Title())
}

func computeMP3Duration(path string) (float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	decoder := mp3.NewDecoder(f)
	var frame mp3.Frame
	var skipped int
	var total float64
	var frames int

	for {
		err := decoder.Decode(&frame, &skipped)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		frames++
		total += frame.Duration().Seconds()
	}

	if frames == 0 {
		return 0, errors.New("no mp3 frames found")
	}
	return total, nil
}
