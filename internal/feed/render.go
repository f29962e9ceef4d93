package feed

import (
	"encoding/xml"
	"fmt"
	"mime"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"podcast-publisher/internal/models"
)

const (
	itunesNamespace = "http://www.itunes.com/dtds/podcast-1.0.dtd"
	atomNamespace   = "http://www.w3.org/2005/Atom"
)

// RenderOptions carries the feed-wide values needed to render entries.
type RenderOptions struct {
	// BaseURL is the public location of the published directory. Enclosure
	// URLs are BaseURL joined with the audio filename.
	BaseURL string
	// Author is written as itunes:author on every entry when set.
	Author string
}

func renderItem(item models.AudioItem, opts RenderOptions, declareITunes bool, prefix string) (string, error) {
	enclosureURL, err := enclosureURL(opts.BaseURL, item.Filename)
	if err != nil {
		return "", err
	}

	entry := rssItem{
		Title:       item.Title,
		PubDate:     formatPubDate(item.PublishedAt),
		Description: "Automated upload for: " + item.Title,
		GUID:        rssGUID{IsPermaLink: "false", Value: item.GUID},
		Enclosure: rssEnclosure{
			URL:    enclosureURL,
			Length: item.SizeBytes,
			Type:   mimeTypeForFilename(item.Filename),
		},
		ITunesDuration: formatDuration(item.DurationSeconds),
		ITunesAuthor:   opts.Author,
	}
	if declareITunes {
		entry.ITunesNS = itunesNamespace
	}

	output, err := xml.MarshalIndent(entry, prefix, "  ")
	if err != nil {
		return "", fmt.Errorf("render entry %q: %w", item.GUID, err)
	}
	return string(output), nil
}

func enclosureURL(base, filename string) (string, error) {
	if strings.TrimSpace(base) == "" {
		return "", fmt.Errorf("base url required to render enclosure for %q", filename)
	}
	joined, err := url.JoinPath(base, url.PathEscape(filename))
	if err != nil {
		return "", fmt.Errorf("build enclosure url for %q: %w", filename, err)
	}
	return joined, nil
}

func formatPubDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC1123Z)
}

// formatDuration renders seconds as HH:MM:SS. Unknown durations render empty
// so the element is omitted.
func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return ""
	}
	total := int64(seconds + 0.5)
	hours := total / 3600
	minutes := (total % 3600) / 60
	secs := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, secs)
}

func mimeTypeForFilename(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" {
		if fallback, ok := audioMIMETypes[ext]; ok {
			return fallback
		}
		if value := mime.TypeByExtension(ext); value != "" {
			return value
		}
	}
	return "application/octet-stream"
}

// audioMIMETypes takes precedence over the host mime database, which differs
// between platforms for audio extensions.
var audioMIMETypes = map[string]string{
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
}

type rssFeed struct {
	XMLName  xml.Name   `xml:"rss"`
	Version  string     `xml:"version,attr"`
	AtomNS   string     `xml:"xmlns:atom,attr"`
	ITunesNS string     `xml:"xmlns:itunes,attr"`
	Channel  rssChannel `xml:"channel"`
}

// rssChannel carries no lastBuildDate; StampLastBuildDate adds it to the text.
type rssChannel struct {
	Title        string      `xml:"title"`
	Link         string      `xml:"link"`
	Description  string      `xml:"description"`
	Language     string      `xml:"language,omitempty"`
	Generator    string      `xml:"generator,omitempty"`
	AtomLink     rssAtomLink `xml:"atom:link"`
	ITunesAuthor string      `xml:"itunes:author,omitempty"`
}

type rssAtomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

type rssItem struct {
	XMLName        xml.Name     `xml:"item"`
	ITunesNS       string       `xml:"xmlns:itunes,attr,omitempty"`
	Title          string       `xml:"title"`
	PubDate        string       `xml:"pubDate,omitempty"`
	Description    string       `xml:"description"`
	GUID           rssGUID      `xml:"guid"`
	Enclosure      rssEnclosure `xml:"enclosure"`
	ITunesDuration string       `xml:"itunes:duration,omitempty"`
	ITunesAuthor   string       `xml:"itunes:author,omitempty"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr"`
	Value       string `xml:",chardata"`
}

type rssEnclosure struct {
	URL    string `xml:"url,attr"`
	Length int64  `xml:"length,attr"`
	Type   string `xml:"type,attr"`
}
