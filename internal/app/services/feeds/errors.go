package feeds

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrFeedNotFound          = errors.New("feed not found")
	ErrFeedExists            = errors.New("feed already exists")
	ErrInvalidFeedID         = errors.New("invalid feed id")
	ErrInvalidFeed           = errors.New("invalid feed")
	ErrNoRateValue           = errors.New("no rate value got from sources")
	ErrValueTypeIncompatible = errors.New("value type is not compatible with feed type")
	ErrUnableToConvertRate   = errors.New("unable to convert rate")
	ErrNotFeedOwner          = errors.New("not feed owner")
)

// SourceFailure is one source that could not be fetched or resolved.
type SourceFailure struct {
	URI string
	Err error
}

// SourcesError lists every failed source of a custom resolution run under
// the strict policy.
type SourcesError struct {
	FeedID   string
	Failures []SourceFailure
}

func (e *SourcesError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s: %v", f.URI, f.Err))
	}
	return fmt.Sprintf("feed %s: %d source(s) failed: %s", e.FeedID, len(e.Failures), strings.Join(parts, "; "))
}

func (e *SourcesError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidFeed, fmt.Sprintf(format, args...))
}
