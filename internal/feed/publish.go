// Package feed edits podcast RSS documents in place. Every operation takes
// the current feed text and returns new text; nothing here touches the disk.
package feed

import (
	"podcast-publisher/internal/models"
)

// Publish inserts one entry per item ahead of the feed's existing entries.
// The new entries keep the order of items, and every byte of existing outside
// the insertion point is preserved. When any GUID is already in the feed or
// repeats within items, Publish returns a *DuplicateGUIDError and no text.
func Publish(existing string, items []models.AudioItem, opts RenderOptions) (string, error) {
	doc, err := parseDocument(existing)
	if err != nil {
		return "", err
	}
	if len(items) == 0 {
		return existing, nil
	}

	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, dup := seen[item.GUID]; dup || doc.hasGUID(item.GUID) {
			return "", &DuplicateGUIDError{GUID: item.GUID}
		}
		seen[item.GUID] = struct{}{}
	}

	return doc.insertAhead(func(indent string) ([]string, error) {
		fragments := make([]string, 0, len(items))
		for _, item := range items {
			fragment, err := renderItem(item, opts, !doc.itunesDeclared, indent)
			if err != nil {
				return nil, err
			}
			fragments = append(fragments, fragment)
		}
		return fragments, nil
	})
}

// GUIDs returns the GUIDs of the channel's entries in document order.
// Entries without a guid element are skipped.
func GUIDs(existing string) ([]string, error) {
	doc, err := parseDocument(existing)
	if err != nil {
		return nil, err
	}
	guids := make([]string, 0, len(doc.entries))
	for _, e := range doc.entries {
		if e.guid != "" {
			guids = append(guids, e.guid)
		}
	}
	return guids, nil
}
