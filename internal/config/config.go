package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

var allowedExtensions = []string{
	".mp3",
	".m4a",
	".aac",
	".wav",
	".flac",
	".ogg",
}

const (
	defaultStagingDir        = "_new_uploads"
	defaultFeedFile          = "feed.xml"
	defaultEnvFile           = ".env"
	defaultRefreshDebounceMS = 500
	defaultGitRemote         = "origin"
	defaultGitBranch         = "main"
	defaultGitBinary         = "git"
	defaultFeedTitle         = "My Private History Audio Feed"
	defaultFeedDescription   = "My personal audio collection."
	defaultFeedLanguage      = "en-us"
)

// Config is the resolved configuration for one publisher process.
type Config struct {
	PublishDir      string
	StagingDir      string
	FeedFile        string
	BaseURL         string
	Feed            FeedMetadata
	Extensions      []string
	PruneMissing    bool
	GitEnabled      bool
	GitRemote       string
	GitBranch       string
	GitBinary       string
	RefreshDebounce time.Duration
}

// Load reads the optional .env file and resolves every setting.
func Load() (Config, error) {
	if err := LoadEnvFile(); err != nil {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	publishDir, err := ResolvePublishDir()
	if err != nil {
		return Config{}, fmt.Errorf("resolve publish dir: %w", err)
	}

	baseURL, err := BaseURL()
	if err != nil {
		return Config{}, err
	}

	feedMeta, err := ResolveFeedMetadata()
	if err != nil {
		return Config{}, fmt.Errorf("resolve feed metadata: %w", err)
	}

	return Config{
		PublishDir:      publishDir,
		StagingDir:      ResolveStagingDir(publishDir),
		FeedFile:        ResolveFeedFile(publishDir),
		BaseURL:         baseURL,
		Feed:            feedMeta,
		Extensions:      AllowedExtensions(),
		PruneMissing:    boolEnv("PODCAST_PRUNE_MISSING", true),
		GitEnabled:      boolEnv("PODCAST_GIT_ENABLED", true),
		GitRemote:       stringEnv("PODCAST_GIT_REMOTE", defaultGitRemote),
		GitBranch:       stringEnv("PODCAST_GIT_BRANCH", defaultGitBranch),
		GitBinary:       stringEnv("PODCAST_GIT_BINARY", defaultGitBinary),
		RefreshDebounce: RefreshDebounce(),
	}, nil
}

// LoadEnvFile loads PODCAST_ENV_FILE (default ".env") when it exists.
// Variables already present in the environment win.
func LoadEnvFile() error {
	path := expandHome(stringEnv("PODCAST_ENV_FILE", defaultEnvFile))
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// AllowedExtensions returns the list of supported audio file extensions (lowercase).
func AllowedExtensions() []string {
	result := make([]string, len(allowedExtensions))
	copy(result, allowedExtensions)
	return result
}

// ResolvePublishDir returns the git work tree that holds feed.xml and the
// published audio. It defaults to the working directory.
func ResolvePublishDir() (string, error) {
	dir := strings.TrimSpace(os.Getenv("PODCAST_PUBLISH_DIR"))
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		dir = cwd
	}

	abs, err := filepath.Abs(expandHome(dir))
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", abs)
	}
	return abs, nil
}

// ResolveStagingDir returns the directory new audio files are dropped into.
// Relative paths are resolved against publishDir.
func ResolveStagingDir(publishDir string) string {
	return resolveWithin(publishDir, stringEnv("PODCAST_STAGING_DIR", defaultStagingDir))
}

// ResolveFeedFile returns the path of the RSS feed file. Relative paths are
// resolved against publishDir.
func ResolveFeedFile(publishDir string) string {
	return resolveWithin(publishDir, stringEnv("PODCAST_FEED_FILE", defaultFeedFile))
}

// BaseURL returns the public URL of the published directory, always ending
// with a slash.
func BaseURL() (string, error) {
	raw := strings.TrimSpace(os.Getenv("PODCAST_BASE_URL"))
	if raw == "" {
		return "", errors.New("PODCAST_BASE_URL is required")
	}
	if err := ValidateBaseURL(raw); err != nil {
		return "", fmt.Errorf("invalid PODCAST_BASE_URL %q: %w", raw, err)
	}
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	return raw, nil
}

// ValidateBaseURL ensures the base URL is an absolute http(s) URL.
func ValidateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("base url must use http or https")
	}
	if u.Host == "" {
		return errors.New("base url must include a host")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return errors.New("base url must not carry a query or fragment")
	}
	return nil
}

// RefreshDebounce returns the duration to wait before publishing after
// file-system change events in watch mode.
func RefreshDebounce() time.Duration {
	value := strings.TrimSpace(os.Getenv("PODCAST_REFRESH_DEBOUNCE_MS"))
	if value == "" {
		return time.Duration(defaultRefreshDebounceMS) * time.Millisecond
	}

	ms, err := strconv.Atoi(value)
	if err != nil || ms < 0 {
		return time.Duration(defaultRefreshDebounceMS) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// FeedMetadata represents the channel metadata used when a feed is created.
type FeedMetadata struct {
	Title       string
	Description string
	Language    string
	Author      string
}

type feedMetadataYAML struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	Language    string `yaml:"language"`
	Author      string `yaml:"author"`
}

// ResolveFeedMetadata returns the podcast feed metadata after applying defaults,
// YAML configuration (when enabled), and environment variable overrides.
func ResolveFeedMetadata() (FeedMetadata, error) {
	meta := FeedMetadata{
		Title:       defaultFeedTitle,
		Description: defaultFeedDescription,
		Language:    defaultFeedLanguage,
	}

	configPath := strings.TrimSpace(os.Getenv("PODCAST_FEED_CONFIG"))
	if configPath != "" {
		resolved, err := filepath.Abs(expandHome(configPath))
		if err != nil {
			return FeedMetadata{}, err
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return FeedMetadata{}, err
		}
		var yamlConfig feedMetadataYAML
		if err := yaml.Unmarshal(data, &yamlConfig); err != nil {
			return FeedMetadata{}, err
		}
		if value := strings.TrimSpace(yamlConfig.Title); value != "" {
			meta.Title = value
		}
		if value := strings.TrimSpace(yamlConfig.Description); value != "" {
			meta.Description = value
		}
		if value := strings.TrimSpace(yamlConfig.Language); value != "" {
			meta.Language = value
		}
		if value := strings.TrimSpace(yamlConfig.Author); value != "" {
			meta.Author = value
		}
	}

	if value := strings.TrimSpace(os.Getenv("PODCAST_FEED_TITLE")); value != "" {
		meta.Title = value
	}
	if value := strings.TrimSpace(os.Getenv("PODCAST_FEED_DESCRIPTION")); value != "" {
		meta.Description = value
	}
	if value := strings.TrimSpace(os.Getenv("PODCAST_FEED_LANGUAGE")); value != "" {
		meta.Language = value
	}
	if value := strings.TrimSpace(os.Getenv("PODCAST_FEED_AUTHOR")); value != "" {
		meta.Author = value
	}

	return meta, nil
}

func stringEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func resolveWithin(base, path string) string {
	path = expandHome(path)
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(base, path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
