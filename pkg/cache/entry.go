package cache

import (
	"net/http"
	"time"
)

// FreshnessWindow is how long an entry is served without revalidation.
const FreshnessWindow = 7 * 24 * time.Hour

// Field names of an entry in the store.
const (
	FieldSavedDate    = "saved_date"
	FieldLastModified = "last_modified_date"
	FieldEntityBody   = "entity_body"
)

// Entry represents a cached origin response.
type Entry struct {
	// SavedDate is when the entry was stored or last revalidated.
	SavedDate time.Time

	// LastModified is the origin's Last-Modified value, kept opaque.
	// Empty when the origin sent none.
	LastModified string

	// Body is the response payload.
	Body []byte
}

// IsFresh reports whether an entry saved at saved may be served at now
// without revalidation.
func IsFresh(saved, now time.Time) bool {
	return now.Before(saved.Add(FreshnessWindow))
}

// IsFresh reports whether the entry is fresh at now.
func (e *Entry) IsFresh(now time.Time) bool {
	return IsFresh(e.SavedDate, now)
}

// FormatDate renders t in the origin-clock format used for saved_date.
func FormatDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// ParseDate parses a saved_date value written by FormatDate.
func ParseDate(s string) (time.Time, error) {
	return time.Parse(http.TimeFormat, s)
}
