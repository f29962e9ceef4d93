package feed

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
)

// span is a byte range [start, end) of the feed text.
type span struct {
	start int
	end   int
}

type entry struct {
	span
	guid      string
	title     string
	enclosure string
}

// document indexes the channel of a feed without re-serializing it, so edits
// can be spliced into the original text and everything else stays untouched.
type document struct {
	text string

	channelClose int // offset of "</channel>"
	firstChild   int // offset of the channel's first child element, -1 if none
	entries      []entry

	language      *span
	lastBuildDate *span

	itunesDeclared bool
}

func parseDocument(text string) (*document, error) {
	dec := xml.NewDecoder(strings.NewReader(text))

	doc := &document{text: text, channelClose: -1, firstChild: -1}

	var (
		depth     int
		roots     int
		channels  int
		inChannel bool
		current   *entry
		capture   *strings.Builder
		target    *string
		stamp     int
	)

	for {
		offset := int(dec.InputOffset())
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, malformed("%v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			switch {
			case depth == 1:
				roots++
				for _, attr := range t.Attr {
					if attr.Name.Space == "xmlns" && attr.Name.Local == "itunes" {
						doc.itunesDeclared = true
					}
				}
			case depth == 2 && t.Name.Local == "channel":
				channels++
				inChannel = channels == 1
			case depth == 3 && inChannel:
				if doc.firstChild < 0 {
					doc.firstChild = offset
				}
				switch t.Name.Local {
				case "item":
					current = &entry{span: span{start: offset}}
				case "language":
					doc.language = &span{start: offset}
				case "lastBuildDate":
					stamp = offset
				}
			case depth == 4 && current != nil:
				switch t.Name.Local {
				case "guid":
					capture, target = &strings.Builder{}, &current.guid
				case "title":
					capture, target = &strings.Builder{}, &current.title
				case "enclosure":
					for _, attr := range t.Attr {
						if attr.Name.Local == "url" {
							current.enclosure = strings.TrimSpace(attr.Value)
						}
					}
				}
			}
		case xml.EndElement:
			end := int(dec.InputOffset())
			switch {
			case depth == 2 && inChannel && t.Name.Local == "channel":
				doc.channelClose = offset
				inChannel = false
			case depth == 3 && inChannel:
				switch t.Name.Local {
				case "item":
					if current != nil {
						current.end = end
						doc.entries = append(doc.entries, *current)
						current = nil
					}
				case "language":
					doc.language.end = end
				case "lastBuildDate":
					doc.lastBuildDate = &span{start: stamp, end: end}
				}
			case depth == 4 && capture != nil:
				*target = strings.TrimSpace(capture.String())
				capture, target = nil, nil
			}
			depth--
		case xml.CharData:
			if depth == 0 && strings.TrimSpace(string(t)) != "" {
				return nil, malformed("text outside the root element at offset %d", offset)
			}
			if capture != nil {
				capture.Write(t)
			}
		}
	}

	if roots != 1 {
		return nil, malformed("expected one root element, found %d", roots)
	}
	if channels != 1 {
		return nil, malformed("expected exactly one channel element, found %d", channels)
	}
	return doc, nil
}

func (d *document) hasGUID(guid string) bool {
	for _, e := range d.entries {
		if e.guid == guid {
			return true
		}
	}
	return false
}

// insertAhead splices elements in front of the channel's first item, or at the
// end of the channel when it has none. render is called with the indentation
// the new elements should carry and returns one fragment per element, each
// starting with that indentation.
func (d *document) insertAhead(render func(indent string) ([]string, error)) (string, error) {
	if len(d.entries) > 0 {
		at := d.entries[0].start
		indent, _, ok := lineIndent(d.text, at)
		fragments, err := render(indent)
		if err != nil {
			return "", err
		}
		var b strings.Builder
		for _, fragment := range fragments {
			if ok {
				b.WriteString(strings.TrimPrefix(fragment, indent))
				b.WriteString("\n")
				b.WriteString(indent)
			} else {
				b.WriteString(fragment)
			}
		}
		return splice(d.text, at, at, b.String()), nil
	}

	at := d.channelClose
	closeIndent, lineStart, ok := lineIndent(d.text, at)
	if !ok {
		fragments, err := render("")
		if err != nil {
			return "", err
		}
		return splice(d.text, at, at, strings.Join(fragments, "")), nil
	}

	indent := closeIndent + "  "
	if d.firstChild >= 0 {
		if childIndent, _, childOK := lineIndent(d.text, d.firstChild); childOK {
			indent = childIndent
		}
	}
	fragments, err := render(indent)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	for _, fragment := range fragments {
		b.WriteString(fragment)
		b.WriteString("\n")
	}
	return splice(d.text, lineStart, lineStart, b.String()), nil
}

// lineIndent returns the whitespace between the start of offset's line and
// offset. ok is false when anything other than blanks precedes offset.
func lineIndent(text string, offset int) (indent string, lineStart int, ok bool) {
	lineStart = strings.LastIndexByte(text[:offset], '\n') + 1
	indent = text[lineStart:offset]
	if strings.Trim(indent, " \t") != "" {
		return "", offset, false
	}
	return indent, lineStart, true
}

func splice(text string, start, end int, replacement string) string {
	var b strings.Builder
	b.Grow(len(text) - (end - start) + len(replacement))
	b.WriteString(text[:start])
	b.WriteString(replacement)
	b.WriteString(text[end:])
	return b.String()
}
