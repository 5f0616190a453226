package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/curator-health/curator/pkg/artifact"
	"github.com/curator-health/curator/pkg/policy"
	"github.com/curator-health/curator/pkg/stores"
)

// Local is a handle backed by a stores.Store.
type Local struct {
	name   string
	store  stores.Store
	logger zerolog.Logger
}

// NewLocal creates a handle over store. The store must already be initialized
// and migrated.
func NewLocal(name string, store stores.Store, logger zerolog.Logger) *Local {
	return &Local{
		name:   name,
		store:  store,
		logger: logger.With().Str("component", "repository").Str("repository", name).Logger(),
	}
}

// Name implements Handle.
func (l *Local) Name() string {
	return l.name
}

// Read implements Reader. An unversioned reference resolves to the highest
// active version, or to the highest version of any status when none is active.
func (l *Local) Read(ctx context.Context, ref artifact.Reference) (artifact.Node, error) {
	if ref.IsZero() {
		return artifact.Node{}, artifact.NewError(artifact.KindNotFound, "reference has no url", nil)
	}

	version := ref.Version
	if version == "" {
		infos, err := l.store.ListVersions(ctx, ref.URL)
		if err != nil {
			return artifact.Node{}, l.storeError("read", ref, err)
		}
		current, ok := CurrentVersion(infos)
		if !ok {
			return artifact.Node{}, artifact.NewNotFoundError(ref)
		}
		version = current
	}

	rec, err := l.store.GetArtifactByCanonical(ctx, ref.URL, version)
	if err != nil {
		return artifact.Node{}, l.storeError("read", ref, err)
	}

	node, err := nodeFromRecord(rec)
	if err != nil {
		return artifact.Node{}, artifact.NewRepositoryError("failed to decode stored artifact", err).WithReference(ref)
	}
	node.Source = l.name
	return node, nil
}

// Search implements Searcher using an offset cursor.
func (l *Local) Search(ctx context.Context, q Query) (*Iterator, error) {
	filter := stores.ArtifactFilter{
		URL:     q.URL,
		Version: q.Version,
		Type:    q.Type,
		Status:  q.Status,
	}
	size := q.pageSize()

	fetch := func(ctx context.Context, cursor string) (Page, error) {
		offset, err := decodeOffset(cursor)
		if err != nil {
			return Page{}, err
		}
		// One extra row tells us whether another page exists.
		recs, err := l.store.SearchArtifacts(ctx, filter, size+1, offset)
		if err != nil {
			return Page{}, artifact.NewRepositoryError("search failed", err).WithOperation("search")
		}

		page := Page{}
		if len(recs) > size {
			recs = recs[:size]
			page.Next = encodeOffset(offset + size)
		}
		for _, rec := range recs {
			node, err := nodeFromRecord(rec)
			if err != nil {
				return Page{}, artifact.NewRepositoryError("failed to decode stored artifact", err)
			}
			node.Source = l.name
			page.Items = append(page.Items, node)
		}
		return page, nil
	}

	first, err := fetch(ctx, encodeOffset(0))
	if err != nil {
		return nil, err
	}
	return NewIterator(ctx, first, fetch), nil
}

// Write implements Writer. A node without ID is created; otherwise it
// replaces the stored record if node.Revision is still current.
func (l *Local) Write(ctx context.Context, node artifact.Node) (artifact.Node, error) {
	rec, err := recordFromNode(node)
	if err != nil {
		return artifact.Node{}, artifact.NewError(artifact.KindRepository, "failed to encode artifact", err).WithReference(node.Reference)
	}

	if node.ID == "" {
		err = l.store.CreateArtifact(ctx, rec)
	} else {
		err = l.store.UpdateArtifact(ctx, rec, node.Revision)
	}
	if err != nil {
		return artifact.Node{}, l.storeError("write", node.Reference, err)
	}

	l.logger.Debug().
		Str("artifact", node.Reference.Key()).
		Str("id", rec.ID).
		Int64("revision", rec.Revision).
		Msg("artifact written")

	committed, err := nodeFromRecord(rec)
	if err != nil {
		return artifact.Node{}, artifact.NewRepositoryError("failed to decode written artifact", err)
	}
	committed.Source = l.name
	return committed, nil
}

func (l *Local) storeError(op string, ref artifact.Reference, err error) error {
	switch {
	case errors.Is(err, stores.ErrNotFound):
		return artifact.NewNotFoundError(ref).WithOperation(op)
	case errors.Is(err, stores.ErrConflict):
		return artifact.NewConflictError("write rejected", err).WithReference(ref).WithOperation(op)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return artifact.NewRepositoryError(fmt.Sprintf("%s failed", op), err).WithReference(ref).WithOperation(op)
	}
}

// CurrentVersion picks the version an unversioned read resolves to: the
// highest active version, else the highest version of any status.
func CurrentVersion(infos []stores.VersionInfo) (string, bool) {
	var active, all []string
	for _, info := range infos {
		all = append(all, info.Version)
		if artifact.ParseStatus(info.Status) == artifact.StatusActive {
			active = append(active, info.Version)
		}
	}
	if v, ok := highestVersion(active); ok {
		return v, true
	}
	return highestVersion(all)
}

func highestVersion(versions []string) (string, bool) {
	if len(versions) == 0 {
		return "", false
	}
	best := versions[0]
	for _, v := range versions[1:] {
		if policy.CompareVersions(v, best) > 0 {
			best = v
		}
	}
	return best, true
}

func recordFromNode(node artifact.Node) (*stores.ArtifactRecord, error) {
	approvals := "[]"
	if len(node.Approvals) > 0 {
		data, err := json.Marshal(node.Approvals)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal approvals: %w", err)
		}
		approvals = string(data)
	}

	rec := &stores.ArtifactRecord{
		ID:           node.ID,
		URL:          node.Reference.URL,
		Version:      node.Reference.Version,
		Type:         node.Reference.Type,
		Status:       string(node.Status),
		Experimental: node.Experimental,
		Title:        node.Title,
		Description:  node.Description,
		Date:         node.Date,
		ApprovalDate: node.ApprovalDate,
		ReleaseLabel: node.ReleaseLabel,
		Logic:        node.Logic,
		Approvals:    approvals,
		Revision:     node.Revision,
	}
	if node.EffectivePeriod != nil {
		rec.EffectiveStart = node.EffectivePeriod.Start
		rec.EffectiveEnd = node.EffectivePeriod.End
	}
	for i, rel := range node.Relationships {
		rec.Relationships = append(rec.Relationships, stores.RelationshipRecord{
			Position:      i,
			Kind:          string(rel.Kind),
			TargetURL:     rel.Target.URL,
			TargetVersion: rel.Target.Version,
			TargetType:    rel.Target.Type,
			Owned:         rel.Owned,
		})
	}
	return rec, nil
}

func nodeFromRecord(rec *stores.ArtifactRecord) (artifact.Node, error) {
	node := artifact.Node{
		ID:           rec.ID,
		Reference:    artifact.NewReference(rec.URL, rec.Version, rec.Type),
		Status:       artifact.ParseStatus(rec.Status),
		Experimental: rec.Experimental,
		Title:        rec.Title,
		Description:  rec.Description,
		Date:         rec.Date,
		ApprovalDate: rec.ApprovalDate,
		ReleaseLabel: rec.ReleaseLabel,
		Logic:        rec.Logic,
		Revision:     rec.Revision,
	}
	if rec.EffectiveStart != nil || rec.EffectiveEnd != nil {
		node.EffectivePeriod = &artifact.Period{Start: rec.EffectiveStart, End: rec.EffectiveEnd}
	}
	if rec.Approvals != "" && rec.Approvals != "[]" {
		if err := json.Unmarshal([]byte(rec.Approvals), &node.Approvals); err != nil {
			return artifact.Node{}, fmt.Errorf("failed to unmarshal approvals: %w", err)
		}
	}
	for _, r := range rec.Relationships {
		node.Relationships = append(node.Relationships, artifact.Relationship{
			Kind:   artifact.RelationshipKind(r.Kind),
			Target: artifact.NewReference(r.TargetURL, r.TargetVersion, r.TargetType),
			Owned:  r.Owned,
		})
	}
	return node, nil
}
