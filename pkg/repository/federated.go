package repository

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/curator-health/curator/pkg/artifact"
)

// Member is one repository in a federation. Prefixes list the URL prefixes
// the member owns for write routing.
type Member struct {
	Handle   Handle
	Prefixes []string
}

// AmbiguityReporter is told about every identity served with different
// payloads by more than one member. members lists the member names in
// priority order; the first one's copy was kept.
type AmbiguityReporter func(ctx context.Context, key string, members []string)

// FederatedOption configures a Federated handle.
type FederatedOption func(*Federated)

// WithCallTimeout bounds each member call.
func WithCallTimeout(d time.Duration) FederatedOption {
	return func(f *Federated) {
		f.timeout = d
	}
}

// WithAmbiguityReporter registers a hook for duplicate identities.
func WithAmbiguityReporter(r AmbiguityReporter) FederatedOption {
	return func(f *Federated) {
		f.reporter = r
	}
}

// WithFederatedLogger sets the logger for ambiguity warnings.
func WithFederatedLogger(logger zerolog.Logger) FederatedOption {
	return func(f *Federated) {
		f.logger = logger.With().Str("component", "repository").Str("repository", f.name).Logger()
	}
}

// Federated fans reads and searches out to every member and merges the
// results. Member order is priority order.
type Federated struct {
	name     string
	members  []Member
	timeout  time.Duration
	reporter AmbiguityReporter
	logger   zerolog.Logger
}

// NewFederated creates a federated handle over members.
func NewFederated(name string, members []Member, opts ...FederatedOption) *Federated {
	f := &Federated{
		name:    name,
		members: members,
		timeout: 30 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Name implements Handle.
func (f *Federated) Name() string {
	return f.name
}

// Members returns the member names in priority order.
func (f *Federated) Members() []string {
	names := make([]string, len(f.members))
	for i, m := range f.members {
		names[i] = m.Handle.Name()
	}
	return names
}

type memberRead struct {
	node artifact.Node
	err  error
}

// Read implements Reader. Every member is asked; the highest-priority member
// that has the artifact wins. When none has it, a failure other than
// not-found takes precedence over not-found.
func (f *Federated) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	results := make([]memberRead, len(f.members))

	var g errgroup.Group
	for i, m := range f.members {
		g.Go(func() error {
			callCtx, cancel := f.callContext(ctx)
			defer cancel()
			node, err := m.Handle.Read(callCtx, ref)
			results[i] = memberRead{node: node, err: err}
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return artifact.Node{}, err
	}

	winner := -1
	var failure error
	for i, r := range results {
		if r.err == nil {
			if winner < 0 {
				winner = i
			}
			continue
		}
		if !artifact.IsNotFound(r.err) && failure == nil {
			failure = fmt.Errorf("member %s: %w", f.members[i].Handle.Name(), r.err)
		}
	}

	if winner < 0 {
		if failure != nil {
			return artifact.Node{}, failure
		}
		return artifact.Node{}, artifact.NewNotFoundError(ref)
	}

	chosen := results[winner].node
	sources := []string{f.members[winner].Handle.Name()}
	ambiguous := false
	for i, r := range results {
		if i == winner || r.err != nil || r.node.Key() != chosen.Key() {
			continue
		}
		sources = append(sources, f.members[i].Handle.Name())
		if !samePayload(chosen, r.node) {
			ambiguous = true
		}
	}
	if ambiguous {
		f.reportAmbiguity(ctx, chosen.Key(), sources)
	}
	return chosen, nil
}

// Search implements Searcher. Every member's results are read in full and
// merged in priority order, keeping the first copy of each identity. A
// failing member fails the search.
func (f *Federated) Search(ctx context.Context, q Query) (*Iterator, error) {
	results := make([][]artifact.Node, len(f.members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range f.members {
		g.Go(func() error {
			callCtx, cancel := f.callContext(gctx)
			defer cancel()
			it, err := m.Handle.Search(callCtx, q)
			if err != nil {
				return fmt.Errorf("member %s: %w", m.Handle.Name(), err)
			}
			nodes, err := it.Collect()
			if err != nil {
				return fmt.Errorf("member %s: %w", m.Handle.Name(), err)
			}
			results[i] = nodes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]artifact.Node, 0)
	index := make(map[string]int)
	sources := make(map[string][]string)
	var ambiguous []string
	for i, nodes := range results {
		name := f.members[i].Handle.Name()
		for _, node := range nodes {
			key := node.Key()
			at, dup := index[key]
			if !dup {
				index[key] = len(merged)
				merged = append(merged, node)
				sources[key] = []string{name}
				continue
			}
			sources[key] = append(sources[key], name)
			if !samePayload(merged[at], node) && !slices.Contains(ambiguous, key) {
				ambiguous = append(ambiguous, key)
			}
		}
	}
	for _, key := range ambiguous {
		f.reportAmbiguity(ctx, key, sources[key])
	}

	return SliceIterator(ctx, merged, q.pageSize()), nil
}

// Write implements Writer. The node goes to the member named by node.Source,
// else to the single member owning a prefix of its URL.
func (f *Federated) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	owner, err := f.owner(node)
	if err != nil {
		return artifact.Node{}, err
	}
	callCtx, cancel := f.callContext(ctx)
	defer cancel()
	return owner.Handle.Write(callCtx, node)
}

func (f *Federated) owner(node artifact.Node) (Member, error) {
	if node.Source != "" {
		for _, m := range f.members {
			if m.Handle.Name() == node.Source {
				return m, nil
			}
		}
	}

	var matches []Member
	for _, m := range f.members {
		for _, prefix := range m.Prefixes {
			if prefix != "" && strings.HasPrefix(node.Reference.URL, prefix) {
				matches = append(matches, m)
				break
			}
		}
	}
	if len(matches) == 1 {
		return matches[0], nil
	}

	names := make([]string, len(matches))
	for i, m := range matches {
		names[i] = m.Handle.Name()
	}
	return Member{}, artifact.NewError(artifact.KindAmbiguousTarget,
		fmt.Sprintf("no single member of %s owns the artifact (%d candidates)", f.name, len(matches)), nil).
		WithReference(node.Reference).
		WithOperation("write").
		WithDetail("candidates", names)
}

func (f *Federated) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if f.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, f.timeout)
}

func (f *Federated) reportAmbiguity(ctx context.Context, key string, members []string) {
	f.logger.Warn().
		Str("artifact", key).
		Strs("members", members).
		Msg("artifact served by several members with different content, keeping the first")
	if f.reporter != nil {
		f.reporter(ctx, key, members)
	}
}

// samePayload compares two copies of an artifact, ignoring where they came from.
func samePayload(a, b artifact.Node) bool {
	a.ID, b.ID = "", ""
	a.Source, b.Source = "", ""
	a.Revision, b.Revision = 0, 0
	return reflect.DeepEqual(a, b)
}

