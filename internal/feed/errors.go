package feed

import (
	"errors"
	"fmt"
)

// ErrMalformedFeed reports feed text that is not well-formed XML or that does
// not contain exactly one channel element.
var ErrMalformedFeed = errors.New("malformed feed")

// ErrDuplicateGUID is matched by every *DuplicateGUIDError.
var ErrDuplicateGUID = errors.New("duplicate guid")

// DuplicateGUIDError names the GUID that would appear twice in the feed.
type DuplicateGUIDError struct {
	GUID string
}

func (e *DuplicateGUIDError) Error() string {
	return fmt.Sprintf("duplicate guid %q", e.GUID)
}

// Is reports whether target is ErrDuplicateGUID.
func (e *DuplicateGUIDError) Is(target error) bool {
	return target == ErrDuplicateGUID
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFeed, fmt.Sprintf(format, args...))
}
