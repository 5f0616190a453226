package repository

import (
	"context"
	"iter"

	"github.com/curator-health/curator/pkg/artifact"
)

// Page is one page of search results. An empty Next ends pagination.
type Page struct {
	Items []artifact.Node `json:"items"`
	Next  string          `json:"next,omitempty"`
}

// PageFetcher loads the page identified by cursor.
type PageFetcher func(ctx context.Context, cursor string) (Page, error)

// Iterator is a lazy, forward-only sequence of artifacts spread over pages.
// Pages are fetched only when the consumer advances past the last item of the
// current page. After a fetch error the iterator stays exhausted and Err
// reports the failure.
//
//	for it.Next() {
//	    node := it.Node()
//	}
//	if err := it.Err(); err != nil { ... }
type Iterator struct {
	ctx   context.Context
	fetch PageFetcher

	page    Page
	idx     int
	current artifact.Node
	pages   int
	err     error
	done    bool
}

// NewIterator creates an iterator over first and the pages fetch returns.
// A nil fetch limits the iterator to first.
func NewIterator(ctx context.Context, first Page, fetch PageFetcher) *Iterator {
	return &Iterator{
		ctx:   ctx,
		fetch: fetch,
		page:  first,
		idx:   -1,
		pages: 1,
	}
}

// SliceIterator serves nodes from memory in pages of pageSize.
func SliceIterator(ctx context.Context, nodes []artifact.Node, pageSize int) *Iterator {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageAt := func(offset int) Page {
		end := min(offset+pageSize, len(nodes))
		p := Page{Items: nodes[offset:end]}
		if end < len(nodes) {
			p.Next = encodeOffset(end)
		}
		return p
	}
	return NewIterator(ctx, pageAt(0), func(_ context.Context, cursor string) (Page, error) {
		offset, err := decodeOffset(cursor)
		if err != nil {
			return Page{}, err
		}
		if offset > len(nodes) {
			offset = len(nodes)
		}
		return pageAt(offset), nil
	})
}

// Next advances to the next artifact and reports whether one is available.
func (it *Iterator) Next() bool {
	if it.err != nil || it.done {
		return false
	}
	for {
		if it.idx+1 < len(it.page.Items) {
			it.idx++
			it.current = it.page.Items[it.idx]
			return true
		}
		if it.page.Next == "" || it.fetch == nil {
			it.done = true
			it.current = artifact.Node{}
			return false
		}
		if err := it.ctx.Err(); err != nil {
			it.err = err
			return false
		}
		page, err := it.fetch(it.ctx, it.page.Next)
		if err != nil {
			it.err = err
			it.current = artifact.Node{}
			return false
		}
		it.page = page
		it.idx = -1
		it.pages++
	}
}

// Node returns the artifact at the current position.
func (it *Iterator) Node() artifact.Node {
	return it.current
}

// Err returns the error that stopped iteration, if any.
func (it *Iterator) Err() error {
	return it.err
}

// Pages returns the number of pages loaded so far, including the first.
func (it *Iterator) Pages() int {
	return it.pages
}

// All returns the remaining artifacts as a sequence. A failure is yielded
// once, as the final pair, with a zero node.
func (it *Iterator) All() iter.Seq2[artifact.Node, error] {
	return func(yield func(artifact.Node, error) bool) {
		for it.Next() {
			if !yield(it.Node(), nil) {
				return
			}
		}
		if err := it.Err(); err != nil {
			yield(artifact.Node{}, err)
		}
	}
}

// Collect drains the iterator. On failure the artifacts read before the
// failing page are returned with the error.
func (it *Iterator) Collect() ([]artifact.Node, error) {
	var nodes []artifact.Node
	for it.Next() {
		nodes = append(nodes, it.Node())
	}
	return nodes, it.Err()
}

// Map returns an iterator over the unread remainder of it with mapNode applied
// to every artifact and mapErr applied to fetch failures. it must not be used
// afterwards.
func (it *Iterator) Map(mapNode func(artifact.Node) artifact.Node, mapErr func(error) error) *Iterator {
	rest := it.page.Items
	if it.idx+1 <= len(rest) {
		rest = rest[it.idx+1:]
	}
	first := Page{Items: mapNodes(rest, mapNode), Next: it.page.Next}

	var fetch PageFetcher
	if it.fetch != nil && !it.done {
		inner := it.fetch
		fetch = func(ctx context.Context, cursor string) (Page, error) {
			p, err := inner(ctx, cursor)
			if err != nil {
				if mapErr != nil {
					err = mapErr(err)
				}
				return Page{}, err
			}
			p.Items = mapNodes(p.Items, mapNode)
			return p, nil
		}
	}

	out := NewIterator(it.ctx, first, fetch)
	if it.err != nil {
		out.err = it.err
		if mapErr != nil {
			out.err = mapErr(it.err)
		}
	}
	return out
}

func mapNodes(nodes []artifact.Node, fn func(artifact.Node) artifact.Node) []artifact.Node {
	out := make([]artifact.Node, len(nodes))
	for i, n := range nodes {
		out[i] = fn(n)
	}
	return out
}
