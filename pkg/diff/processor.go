package diff

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/repository"
	"github.com/curator-health/curator/pkg/telemetry"
)

// DefaultCacheSize bounds the number of diffs a Processor keeps.
const DefaultCacheSize = 256

// Option configures a Processor.
type Option func(*Processor)

// WithMetrics records cache lookups on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(p *Processor) {
		p.metrics = m
	}
}

// WithCacheSize sets the number of cached diffs.
func WithCacheSize(size int) Option {
	return func(p *Processor) {
		p.size = size
	}
}

// Processor computes and caches diffs. A Processor is meant to live for one
// operation; the cache is never persisted.
type Processor struct {
	cache   *lru.Cache[cacheKey, []Change]
	dmp     *diffmatchpatch.DiffMatchPatch
	metrics *telemetry.Metrics
	size    int
}

// cacheKey names a diff by the content of both sides. Version and revision
// alone do not identify a payload: callers may diff unsaved nodes.
type cacheKey struct {
	url          string
	fingerprintA [sha256.Size]byte
	fingerprintB [sha256.Size]byte
}

func fingerprint(n artifact.Node) [sha256.Size]byte {
	data, err := json.Marshal(n)
	if err != nil {
		data = fmt.Appendf(nil, "%#v", n)
	}
	return sha256.Sum256(data)
}

// NewProcessor creates a diff processor.
func NewProcessor(opts ...Option) (*Processor, error) {
	p := &Processor{
		dmp:  diffmatchpatch.New(),
		size: DefaultCacheSize,
	}
	for _, opt := range opts {
		opt(p)
	}

	cache, err := lru.New[cacheKey, []Change](p.size)
	if err != nil {
		return nil, fmt.Errorf("failed to create diff cache: %w", err)
	}
	p.cache = cache
	return p, nil
}

// Diff returns the changes that turn a into b. Both must share the same url.
func (p *Processor) Diff(a, b artifact.Node) ([]Change, error) {
	if a.Reference.URL != b.Reference.URL {
		return nil, artifact.NewInvalidStateError(
			fmt.Sprintf("cannot diff %s against %s: different artifacts", a.Reference.Canonical(), b.Reference.Canonical())).
			WithOperation("diff")
	}

	key := cacheKey{
		url:          a.Reference.URL,
		fingerprintA: fingerprint(a),
		fingerprintB: fingerprint(b),
	}
	if cached, ok := p.cache.Get(key); ok {
		p.metrics.RecordDiffCacheLookup(true)
		return append([]Change(nil), cached...), nil
	}
	p.metrics.RecordDiffCacheLookup(false)

	changes := p.compute(a, b)
	p.cache.Add(key, changes)
	return append([]Change(nil), changes...), nil
}

// VersionsOption configures DiffVersions.
type VersionsOption func(*versionsConfig)

type versionsConfig struct {
	children bool
}

// WithChildren makes DiffVersions descend into dependencies whose pinned
// version changed. Child changes are reported under the path of the edge,
// for example "relationships[depends-on http://x/b].status".
func WithChildren() VersionsOption {
	return func(c *versionsConfig) {
		c.children = true
	}
}

// DiffVersions reads two versions of url and diffs them.
func (p *Processor) DiffVersions(ctx context.Context, reader repository.Reader, url, versionA, versionB string, opts ...VersionsOption) ([]Change, error) {
	var cfg versionsConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return p.diffVersions(ctx, reader, cfg, url, versionA, versionB, "", make(map[string]bool))
}

func (p *Processor) diffVersions(ctx context.Context, reader repository.Reader, cfg versionsConfig, url, versionA, versionB, prefix string, seen map[string]bool) ([]Change, error) {
	seen[url+"|"+versionA+"|"+versionB] = true

	a, err := reader.Read(ctx, artifact.Reference{URL: url, Version: versionA})
	if err != nil {
		return nil, err
	}
	b, err := reader.Read(ctx, artifact.Reference{URL: url, Version: versionB})
	if err != nil {
		return nil, err
	}
	changes, err := p.Diff(a, b)
	if err != nil {
		return nil, err
	}
	if prefix != "" {
		for i := range changes {
			changes[i].Path = prefix + "." + changes[i].Path
		}
	}
	if !cfg.children {
		return changes, nil
	}

	for _, pair := range repinned(a.Dependencies(), b.Dependencies()) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		old, cur := pair[0].Target, pair[1].Target
		if old.Version == "" || cur.Version == "" || seen[old.URL+"|"+old.Version+"|"+cur.Version] {
			continue
		}
		path := relPath(edgeKey(pair[1]))
		if prefix != "" {
			path = prefix + "." + path
		}
		nested, err := p.diffVersions(ctx, reader, cfg, cur.URL, old.Version, cur.Version, path, seen)
		if err != nil {
			return nil, fmt.Errorf("diff %s: %w", cur.URL, err)
		}
		changes = append(changes, nested...)
	}
	return changes, nil
}

// Len returns the number of cached diffs.
func (p *Processor) Len() int {
	return p.cache.Len()
}

func (p *Processor) compute(a, b artifact.Node) []Change {
	var changes []Change

	changes = appendScalar(changes, "version", a.Reference.Version, b.Reference.Version)
	changes = appendScalar(changes, "type", a.Reference.Type, b.Reference.Type)
	changes = appendScalar(changes, "status", string(a.Status), string(b.Status))
	if a.Experimental != b.Experimental {
		changes = append(changes, Change{Op: OpModify, Path: "experimental", Old: a.Experimental, New: b.Experimental})
	}
	changes = p.appendText(changes, "title", a.Title, b.Title)
	changes = p.appendText(changes, "description", a.Description, b.Description)
	changes = appendTime(changes, "date", a.Date, b.Date)
	changes = appendTime(changes, "approval_date", a.ApprovalDate, b.ApprovalDate)
	changes = appendPeriod(changes, a.EffectivePeriod, b.EffectivePeriod)
	changes = appendScalar(changes, "release_label", a.ReleaseLabel, b.ReleaseLabel)
	changes = p.appendText(changes, "logic", a.Logic, b.Logic)
	changes = appendApprovals(changes, a.Approvals, b.Approvals)
	changes = appendRelationships(changes, a.Relationships, b.Relationships)

	return changes
}

func appendScalar(changes []Change, path, old, new string) []Change {
	switch {
	case old == new:
		return changes
	case old == "":
		return append(changes, Change{Op: OpAdd, Path: path, New: new})
	case new == "":
		return append(changes, Change{Op: OpRemove, Path: path, Old: old})
	default:
		return append(changes, Change{Op: OpModify, Path: path, Old: old, New: new})
	}
}

func (p *Processor) appendText(changes []Change, path, old, new string) []Change {
	before := len(changes)
	changes = appendScalar(changes, path, old, new)
	if len(changes) > before {
		patches := p.dmp.PatchMake(old, new)
		changes[len(changes)-1].Patch = p.dmp.PatchToText(patches)
	}
	return changes
}

func appendTime(changes []Change, path string, old, new *time.Time) []Change {
	switch {
	case old == nil && new == nil:
		return changes
	case old == nil:
		return append(changes, Change{Op: OpAdd, Path: path, New: new.UTC().Format(time.RFC3339)})
	case new == nil:
		return append(changes, Change{Op: OpRemove, Path: path, Old: old.UTC().Format(time.RFC3339)})
	case old.Equal(*new):
		return changes
	default:
		return append(changes, Change{
			Op:   OpModify,
			Path: path,
			Old:  old.UTC().Format(time.RFC3339),
			New:  new.UTC().Format(time.RFC3339),
		})
	}
}

func appendPeriod(changes []Change, old, new *artifact.Period) []Change {
	changes = appendTime(changes, "effective_period.start", periodStart(old), periodStart(new))
	return appendTime(changes, "effective_period.end", periodEnd(old), periodEnd(new))
}

func periodStart(p *artifact.Period) *time.Time {
	if p == nil {
		return nil
	}
	return p.Start
}

func periodEnd(p *artifact.Period) *time.Time {
	if p == nil {
		return nil
	}
	return p.End
}

// appendApprovals compares approvals as a set keyed by id. Reordering the
// list is not a change.
func appendApprovals(changes []Change, old, new []artifact.Approval) []Change {
	oldByID := make(map[string]artifact.Approval, len(old))
	for _, ap := range old {
		oldByID[ap.ID] = ap
	}
	newByID := make(map[string]artifact.Approval, len(new))
	for _, ap := range new {
		newByID[ap.ID] = ap
	}

	for _, ap := range old {
		if _, ok := newByID[ap.ID]; !ok {
			changes = append(changes, Change{Op: OpRemove, Path: approvalPath(ap.ID), Old: ap})
		}
	}
	for _, ap := range new {
		prev, ok := oldByID[ap.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Op: OpAdd, Path: approvalPath(ap.ID), New: ap})
		case !sameApproval(prev, ap):
			changes = append(changes, Change{Op: OpModify, Path: approvalPath(ap.ID), Old: prev, New: ap})
		}
	}
	return changes
}

func sameApproval(a, b artifact.Approval) bool {
	return a.ID == b.ID && a.Date.Equal(b.Date) && a.Type == b.Type &&
		a.Summary == b.Summary && a.Author == b.Author && a.Target == b.Target
}

func approvalPath(id string) string {
	return "approvals[" + id + "]"
}

// edgeKey groups relationships that point at the same artifact. The target
// version is left out so a re-pinned edge shows up as a modification.
func edgeKey(rel artifact.Relationship) string {
	return string(rel.Kind) + " " + rel.Target.URL
}

func sameTarget(a, b artifact.Relationship) bool {
	return a.Kind == b.Kind && a.Target.URL == b.Target.URL && a.Target.Version == b.Target.Version
}

// matchEdges pairs new relationships with old ones. Identical targets pair
// first. A key that occurs once on each side then pairs across versions; a
// key pinned more than once on either side only pairs exact targets, so
// every other edge in that group is an add or a remove. pairs[j] is the old
// index matched to new[j], or -1.
func matchEdges(old, new []artifact.Relationship) (pairs []int, dup map[string]bool) {
	counts := make(map[string][2]int)
	for _, rel := range old {
		c := counts[edgeKey(rel)]
		c[0]++
		counts[edgeKey(rel)] = c
	}
	for _, rel := range new {
		c := counts[edgeKey(rel)]
		c[1]++
		counts[edgeKey(rel)] = c
	}
	dup = make(map[string]bool)
	for key, c := range counts {
		if c[0] > 1 || c[1] > 1 {
			dup[key] = true
		}
	}

	used := make([]bool, len(old))
	pairs = make([]int, len(new))
	for j, rel := range new {
		pairs[j] = -1
		for i, prev := range old {
			if !used[i] && sameTarget(prev, rel) {
				pairs[j], used[i] = i, true
				break
			}
		}
	}
	for j, rel := range new {
		if pairs[j] >= 0 || dup[edgeKey(rel)] {
			continue
		}
		for i, prev := range old {
			if !used[i] && edgeKey(prev) == edgeKey(rel) {
				pairs[j], used[i] = i, true
				break
			}
		}
	}
	return pairs, dup
}

// edgePath names a relationship in a change. Keys pinned more than once
// carry the target version so their paths stay distinct.
func edgePath(rel artifact.Relationship, dup map[string]bool) string {
	key := edgeKey(rel)
	if dup[key] {
		return relPath(key + "|" + rel.Target.Version)
	}
	return relPath(key)
}

func appendRelationships(changes []Change, old, new []artifact.Relationship) []Change {
	pairs, dup := matchEdges(old, new)
	oldToNew := make([]int, len(old))
	for i := range oldToNew {
		oldToNew[i] = -1
	}
	for j, i := range pairs {
		if i >= 0 {
			oldToNew[i] = j
		}
	}

	// Removals in old order, then additions and modifications in new order.
	var oldCommon, newCommon []string
	for i, rel := range old {
		if oldToNew[i] < 0 {
			changes = append(changes, Change{Op: OpRemove, Path: edgePath(rel, dup), Old: rel.Target.Canonical()})
			continue
		}
		oldCommon = append(oldCommon, edgeID(new[oldToNew[i]], dup))
	}
	for j, rel := range new {
		if pairs[j] < 0 {
			changes = append(changes, Change{Op: OpAdd, Path: edgePath(rel, dup), New: rel.Target.Canonical()})
			continue
		}
		prev := old[pairs[j]]
		newCommon = append(newCommon, edgeID(rel, dup))
		if prev.Target.Version != rel.Target.Version {
			changes = append(changes, Change{
				Op:   OpModify,
				Path: edgePath(rel, dup),
				Old:  prev.Target.Canonical(),
				New:  rel.Target.Canonical(),
			})
		}
		if prev.Owned != rel.Owned {
			changes = append(changes, Change{Op: OpModify, Path: edgePath(rel, dup) + ".owned", Old: prev.Owned, New: rel.Owned})
		}
	}

	if !slices.Equal(oldCommon, newCommon) {
		changes = append(changes, Change{Op: OpModify, Path: "relationships.order", Old: oldCommon, New: newCommon})
	}
	return changes
}

// edgeID names a matched pair in the order list.
func edgeID(rel artifact.Relationship, dup map[string]bool) string {
	if dup[edgeKey(rel)] {
		return edgeKey(rel) + "|" + rel.Target.Version
	}
	return edgeKey(rel)
}

// repinned returns the dependency edges present on both sides whose pinned
// version differs.
func repinned(old, new []artifact.Relationship) [][2]artifact.Relationship {
	pairs, dup := matchEdges(old, new)
	var out [][2]artifact.Relationship
	for j, i := range pairs {
		if i < 0 || dup[edgeKey(new[j])] || old[i].Target.Version == new[j].Target.Version {
			continue
		}
		out = append(out, [2]artifact.Relationship{old[i], new[j]})
	}
	return out
}

func relPath(key string) string {
	return "relationships[" + key + "]"
}
