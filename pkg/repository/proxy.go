package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/curator-health/curator/pkg/artifact"
)

// Rewrite maps a caller-facing URL prefix to the prefix used by the backing
// repository.
type Rewrite struct {
	// From is the prefix callers use.
	From string `json:"from" yaml:"from" validate:"required"`

	// To is the prefix the backing handle stores.
	To string `json:"to" yaml:"to" validate:"required"`
}

// Proxy delegates to another handle, rewriting URLs in both directions.
// Failures pass through unchanged apart from the artifact addresses they carry.
type Proxy struct {
	name     string
	inner    Handle
	rewrites []Rewrite
}

// NewProxy creates a proxy over inner. The first matching rewrite wins.
func NewProxy(name string, inner Handle, rewrites ...Rewrite) *Proxy {
	return &Proxy{name: name, inner: inner, rewrites: rewrites}
}

// Name implements Handle.
func (p *Proxy) Name() string {
	return p.name
}

// Read implements Reader.
func (p *Proxy) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	node, err := p.inner.Read(ctx, p.outboundRef(ref))
	if err != nil {
		return artifact.Node{}, p.inboundErr(err)
	}
	return p.inboundNode(node), nil
}

// Search implements Searcher.
func (p *Proxy) Search(ctx context.Context, q Query) (*Iterator, error) {
	if q.URL != "" {
		q.URL = p.outbound(q.URL)
	}
	it, err := p.inner.Search(ctx, q)
	if err != nil {
		return nil, p.inboundErr(err)
	}
	return it.Map(p.inboundNode, p.inboundErr), nil
}

// Write implements Writer.
func (p *Proxy) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	out := node.Clone()
	out.Reference = p.outboundRef(node.Reference)
	for i := range out.Relationships {
		out.Relationships[i].Target = p.outboundRef(out.Relationships[i].Target)
	}
	committed, err := p.inner.Write(ctx, out)
	if err != nil {
		return artifact.Node{}, p.inboundErr(err)
	}
	return p.inboundNode(committed), nil
}

func (p *Proxy) outbound(url string) string {
	for _, rw := range p.rewrites {
		if strings.HasPrefix(url, rw.From) {
			return rw.To + strings.TrimPrefix(url, rw.From)
		}
	}
	return url
}

func (p *Proxy) inbound(url string) string {
	for _, rw := range p.rewrites {
		if strings.HasPrefix(url, rw.To) {
			return rw.From + strings.TrimPrefix(url, rw.To)
		}
	}
	return url
}

func (p *Proxy) outboundRef(ref artifact.Reference) artifact.Reference {
	ref.URL = p.outbound(ref.URL)
	return ref
}

func (p *Proxy) inboundRef(ref artifact.Reference) artifact.Reference {
	ref.URL = p.inbound(ref.URL)
	return ref
}

func (p *Proxy) inboundNode(node artifact.Node) artifact.Node {
	out := node.Clone()
	out.Reference = p.inboundRef(node.Reference)
	for i := range out.Relationships {
		out.Relationships[i].Target = p.inboundRef(out.Relationships[i].Target)
	}
	out.Source = p.name
	return out
}

// inboundErr rewrites the addresses on a classified error. The error is
// copied; the backing handle's value is left untouched. Context the inner
// handle wrapped around the classified error is kept.
func (p *Proxy) inboundErr(err error) error {
	var e *artifact.Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	cp.Reference = p.inboundRef(e.Reference)
	if len(e.Path) > 0 {
		cp.Path = make([]artifact.Reference, len(e.Path))
		for i, ref := range e.Path {
			cp.Path[i] = p.inboundRef(ref)
		}
	}
	if err == error(e) {
		return &cp
	}
	return &rewrittenError{outer: err, inner: e, rewritten: &cp}
}

// rewrittenError is a wrapped error whose classified cause was rewritten.
// errors.As finds the rewritten cause first; errors.Is still sees the
// original chain.
type rewrittenError struct {
	outer     error
	inner     *artifact.Error
	rewritten *artifact.Error
}

func (e *rewrittenError) Error() string {
	return strings.Replace(e.outer.Error(), e.inner.Error(), e.rewritten.Error(), 1)
}

func (e *rewrittenError) Unwrap() []error {
	return []error{e.rewritten, e.outer}
}
