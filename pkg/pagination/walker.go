package pagination

import (
	"context"
	"errors"

	"github.com/parcelworks/shippo-extract/pkg/client"
)

// ErrExhausted is returned by Next after the terminal page has been
// consumed. Callers that respect More never see it.
var ErrExhausted = errors.New("walker exhausted")

// Walker produces the pages of one collection on demand, following the
// next-page cursor embedded in each response until none remains.
type Walker struct {
	fetcher client.Fetcher
	next    string
	done    bool
}

// NewWalker creates a walker rooted at startURL. To resume an interrupted
// walk, pass the persisted resume cursor as startURL.
func NewWalker(fetcher client.Fetcher, startURL string) *Walker {
	return &Walker{
		fetcher: fetcher,
		next:    startURL,
		done:    startURL == "",
	}
}

// More reports whether another page remains to be fetched.
func (w *Walker) More() bool {
	return !w.done
}

// Next fetches the next page in the chain. A fetch error does not advance
// the cursor; the walker stays positioned at the failed URL, but callers
// are expected to abort and resume later from their persisted checkpoint.
func (w *Walker) Next(ctx context.Context) (*client.Page, error) {
	if w.done {
		return nil, ErrExhausted
	}

	page, err := w.fetcher.FetchPage(ctx, w.next)
	if err != nil {
		return nil, err
	}

	w.next = page.Next
	if page.Terminal() {
		w.done = true
	}

	return page, nil
}
