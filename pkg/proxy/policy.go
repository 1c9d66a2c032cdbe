package proxy

import (
	"net/http"
	"time"

	"github.com/Sternrassler/web-cache/pkg/cache"
	"github.com/Sternrassler/web-cache/pkg/message"
)

// Mutation is the store change an origin response calls for.
type Mutation int

const (
	// MutationNone leaves the store untouched.
	MutationNone Mutation = iota

	// MutationStore writes a whole new entry.
	MutationStore

	// MutationTouch refreshes saved_date of the existing entry.
	MutationTouch
)

func (m Mutation) String() string {
	switch m {
	case MutationStore:
		return "store"
	case MutationTouch:
		return "touch"
	default:
		return "none"
	}
}

// Decision is what to do with an origin response.
type Decision struct {
	Mutation Mutation

	// Entry is the entry to write for MutationStore.
	Entry *cache.Entry

	// StatusCode and Body are what the client receives.
	StatusCode int
	Body       []byte
}

// Decide applies the cache update policy to resp. cached is the entry
// being revalidated, or nil on a miss.
//
//   - 304 while revalidating: touch, reply 200 with the cached body
//   - 200: store, reply 200 with the new body
//   - anything else: relay status and body, store untouched
func Decide(resp *message.Response, cached *cache.Entry, now time.Time) Decision {
	switch {
	case resp.StatusCode == http.StatusNotModified && cached != nil:
		return Decision{
			Mutation:   MutationTouch,
			StatusCode: http.StatusOK,
			Body:       cached.Body,
		}
	case resp.StatusCode == http.StatusOK:
		return Decision{
			Mutation: MutationStore,
			Entry: &cache.Entry{
				SavedDate:    now,
				LastModified: resp.LastModified(),
				Body:         resp.Body,
			},
			StatusCode: http.StatusOK,
			Body:       resp.Body,
		}
	default:
		return Decision{
			Mutation:   MutationNone,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
		}
	}
}
