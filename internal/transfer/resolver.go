package transfer

import (
	"context"
	"log"

	"github.com/kolcenter/import-transfer-service/internal/storage"
)

// Resolver maps normalized post links to production post ids. One Resolver
// lives for the duration of one transfer run; its cache is shared by every
// row of that run and remembers misses too, so repeated references to the
// same link cost at most one storage lookup.
type Resolver struct {
	store storage.Storage
	cache map[string]string // normalized link -> post id, "" = known missing
}

func newResolver(store storage.Storage) *Resolver {
	return &Resolver{
		store: store,
		cache: make(map[string]string),
	}
}

// Resolve returns the production post id for a normalized link, or "" when no
// post matches. A storage failure is returned to the caller, which reports it
// as a row-level error rather than aborting the run; failed lookups are not
// cached so a later row can retry.
func (r *Resolver) Resolve(ctx context.Context, link string) (string, error) {
	if id, ok := r.cache[link]; ok {
		return id, nil
	}

	post, err := r.store.FindPostByLink(ctx, link)
	if err != nil {
		log.Printf("post lookup failed for %s: %v", link, err)
		return "", err
	}

	id := ""
	if post != nil {
		id = post.ID
	}
	r.cache[link] = id
	return id, nil
}

// Lookups reports how many distinct links have been resolved so far.
func (r *Resolver) Lookups() int {
	return len(r.cache)
}
