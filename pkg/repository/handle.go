package repository

import (
	"context"

	"github.com/curator-health/curator/pkg/artifact"
)

// DefaultPageSize is used when a Query does not set PageSize.
const DefaultPageSize = 50

// Reader reads single artifacts.
type Reader interface {
	// Read returns the artifact identified by ref. An unversioned reference
	// returns the handle's current version of that url.
	Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error)
}

// Writer commits artifacts.
type Writer interface {
	// Write creates or updates node and returns the committed copy carrying
	// the store-assigned ID and Revision.
	Write(ctx context.Context, node artifact.Node) (artifact.Node, error)
}

// Searcher runs paged searches.
type Searcher interface {
	Search(ctx context.Context, q Query) (*Iterator, error)
}

// Handle is a connection to one artifact repository.
type Handle interface {
	Reader
	Writer
	Searcher

	// Name identifies the handle in logs, metrics and Node.Source.
	Name() string
}

// Query narrows a search. Empty fields match anything.
type Query struct {
	URL      string `json:"url,omitempty" yaml:"url,omitempty"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Type     string `json:"type,omitempty" yaml:"type,omitempty"`
	Status   string `json:"status,omitempty" yaml:"status,omitempty"`
	PageSize int    `json:"page_size,omitempty" yaml:"page_size,omitempty"`
}

func (q Query) pageSize() int {
	if q.PageSize <= 0 {
		return DefaultPageSize
	}
	return q.PageSize
}

// Versions returns every version of url known to h, in store order.
func Versions(ctx context.Context, h Searcher, url string) ([]artifact.Node, error) {
	it, err := h.Search(ctx, Query{URL: url})
	if err != nil {
		return nil, err
	}
	return it.Collect()
}

// ReadOptional reads ref and reports whether it exists. Errors other than
// not-found are returned unchanged.
func ReadOptional(ctx context.Context, h Reader, ref artifact.Reference) (artifact.Node, bool, error) {
	node, err := h.Read(ctx, ref)
	if err != nil {
		if artifact.IsNotFound(err) {
			return artifact.Node{}, false, nil
		}
		return artifact.Node{}, false, err
	}
	return node, true, nil
}
