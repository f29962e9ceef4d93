package feed

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"
	"time"
)

// ChannelMetadata describes a new feed's channel header.
type ChannelMetadata struct {
	Title       string
	Link        string
	Description string
	Language    string
	Author      string
	// FeedURL is the public URL of the feed file itself.
	FeedURL string
}

// NewDocument renders an RSS 2.0 document with the given channel header and
// no entries.
func NewDocument(meta ChannelMetadata) (string, error) {
	rss := rssFeed{
		Version:  "2.0",
		AtomNS:   atomNamespace,
		ITunesNS: itunesNamespace,
		Channel: rssChannel{
			Title:        meta.Title,
			Link:         meta.Link,
			Description:  meta.Description,
			Language:     meta.Language,
			Generator:    "podcast-publisher",
			ITunesAuthor: meta.Author,
			AtomLink: rssAtomLink{
				Href: meta.FeedURL,
				Rel:  "self",
				Type: "application/rss+xml",
			},
		},
	}

	output, err := xml.MarshalIndent(rss, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(output) + "\n", nil
}

// Removed identifies an entry dropped by Prune.
type Removed struct {
	GUID     string
	Title    string
	Filename string
}

// Prune drops every entry whose enclosure filename is rejected by keep.
// Entries without an enclosure URL are always kept.
func Prune(existing string, keep func(filename string) bool) (string, []Removed, error) {
	doc, err := parseDocument(existing)
	if err != nil {
		return "", nil, err
	}

	var (
		removed []Removed
		cuts    []span
	)
	for _, e := range doc.entries {
		if e.enclosure == "" {
			continue
		}
		filename := enclosureFilename(e.enclosure)
		if filename == "" || keep(filename) {
			continue
		}
		title := e.title
		if title == "" {
			title = "Untitled"
		}
		removed = append(removed, Removed{GUID: e.guid, Title: title, Filename: filename})
		cuts = append(cuts, wholeLines(existing, e.span))
	}
	if len(cuts) == 0 {
		return existing, nil, nil
	}

	sort.Slice(cuts, func(i, j int) bool { return cuts[i].start > cuts[j].start })
	text := existing
	for _, cut := range cuts {
		text = splice(text, cut.start, cut.end, "")
	}
	return text, removed, nil
}

// StampLastBuildDate sets the channel's lastBuildDate to at. An existing
// element is replaced; otherwise one is added after language, or ahead of the
// entries when the channel has no language.
func StampLastBuildDate(existing string, at time.Time) (string, error) {
	doc, err := parseDocument(existing)
	if err != nil {
		return "", err
	}

	element := fmt.Sprintf("<lastBuildDate>%s</lastBuildDate>", at.UTC().Format(time.RFC1123Z))

	if doc.lastBuildDate != nil {
		return splice(existing, doc.lastBuildDate.start, doc.lastBuildDate.end, element), nil
	}

	if doc.language != nil {
		pos := doc.language.end
		if indent, _, ok := lineIndent(existing, doc.language.start); ok {
			return splice(existing, pos, pos, "\n"+indent+element), nil
		}
		return splice(existing, pos, pos, element), nil
	}

	return doc.insertAhead(func(indent string) ([]string, error) {
		return []string{indent + element}, nil
	})
}

func enclosureFilename(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return ""
	}
	return name
}

// wholeLines widens s to its full lines when s is the only thing on them.
func wholeLines(text string, s span) span {
	_, lineStart, ok := lineIndent(text, s.start)
	if !ok {
		return s
	}
	rest := text[s.end:]
	trimmed := strings.TrimLeft(rest, " \t")
	switch {
	case strings.HasPrefix(trimmed, "\r\n"):
		return span{start: lineStart, end: s.end + len(rest) - len(trimmed) + 2}
	case strings.HasPrefix(trimmed, "\n"):
		return span{start: lineStart, end: s.end + len(rest) - len(trimmed) + 1}
	}
	return s
}
