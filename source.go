package fwp

import (
	"context"
)

// SourceInfo is metadata about a source, available after a successful
// Recon. Title is best-effort; an empty title is not an error.
type SourceInfo struct {
	ID    string
	Title string
}

// A Source is a matched, canonicalized upstream asset locator.
type Source interface {
	// URL returns the canonical URL for this source. Two requests for the
	// same upstream asset must canonicalize to the same URL, since it is
	// the deduplication key.
	URL() string
	// Recon fetches metadata about the source without downloading it.
	// Implementations may hit the network; callers treat failure as
	// missing metadata, never as a fatal condition.
	Recon(ctx context.Context) (*SourceInfo, error)
}
