// Package streams defines the Shippo collections the extractor syncs, the
// fixed order they are synced in, and URL-to-stream routing for resume
// cursors.
package streams

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// KeyProperty is the declared key field for every stream.
const KeyProperty = "object_id"

// ReplicationKey is the record field the incremental filter compares.
const ReplicationKey = "object_updated"

// Stream describes one Shippo collection. Immutable for the process
// lifetime.
type Stream struct {
	// Name identifies the stream ("addresses", "parcels", ...).
	Name string

	// Path is the endpoint path segment under the API base URL.
	Path string

	// Position is the stream's ordinal in the fixed global sync order.
	Position int
}

// The fixed sync order. A run is a single forward pass over this list;
// resuming mid-run skips everything before the resumed stream.
var order = []Stream{
	{Name: "addresses", Path: "addresses", Position: 0},
	{Name: "parcels", Path: "parcels", Position: 1},
	{Name: "shipments", Path: "shipments", Position: 2},
	{Name: "transactions", Path: "transactions", Position: 3},
	{Name: "refunds", Path: "refunds", Position: 4},
}

// UnknownStreamError indicates a URL that cannot be mapped to any
// configured stream, typically a corrupted or stale resume cursor.
type UnknownStreamError struct {
	URL string
}

// Error implements the error interface.
func (e *UnknownStreamError) Error() string {
	return fmt.Sprintf("no known stream for URL %q", e.URL)
}

// All returns the full fixed sync order.
func All() []Stream {
	out := make([]Stream, len(order))
	copy(out, order)
	return out
}

// Lookup returns the stream with the given name.
func Lookup(name string) (Stream, bool) {
	for _, s := range order {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// FromURL maps a page URL to the stream it belongs to, by the first path
// segment. Fails with UnknownStreamError when the segment matches no
// configured stream.
func FromURL(rawURL string) (Stream, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Stream{}, &UnknownStreamError{URL: rawURL}
	}

	segment := strings.Trim(u.Path, "/")
	if i := strings.IndexByte(segment, '/'); i >= 0 {
		segment = segment[:i]
	}

	s, ok := Lookup(segment)
	if !ok {
		return Stream{}, &UnknownStreamError{URL: rawURL}
	}
	return s, nil
}

// ResumeOrder returns the streams still pending given a resume cursor
// left by a prior interrupted run. An empty cursor yields the full sync
// order. Otherwise the cursor's stream comes first (to be resumed from
// the cursor, not from its first page), followed by every stream after
// it; streams before it are treated as already complete for this run.
func ResumeOrder(cursorURL string) ([]Stream, error) {
	if cursorURL == "" {
		return All(), nil
	}

	s, err := FromURL(cursorURL)
	if err != nil {
		return nil, err
	}

	return All()[s.Position:], nil
}

// FirstPageURL builds the stream's default first-page URL.
func (s Stream) FirstPageURL(baseURL string, pageSize int) string {
	return strings.TrimRight(baseURL, "/") + "/" + s.Path + "?results=" + strconv.Itoa(pageSize)
}
