package index

import (
	"context"

	"github.com/noah-isme/calcore/internal/models"
)

// Entry is the indexed summary of an entity, keyed by href.
type Entry struct {
	Href    string `json:"href"`
	Kind    string `json:"kind"` // "event" or "collection"
	Path    string `json:"path"`
	Name    string `json:"name"`
	UID     string `json:"uid,omitempty"`
	Summary string `json:"summary,omitempty"`
	Owner   string `json:"owner"`
	Token   string `json:"token,omitempty"`
}

// FetchResult distinguishes not-found from no-access on indexer reads.
type FetchResult int

const (
	FetchOK FetchResult = iota
	FetchNotFound
	FetchNoAccess
)

// Indexer is the external search/listing collaborator. The core reads through
// it for collection listing when configured and always falls back to direct
// store queries otherwise.
type Indexer interface {
	IndexEntity(ctx context.Context, entry Entry) error
	UnindexEntity(ctx context.Context, href string) error
	UnindexContained(ctx context.Context, pathPrefix string) error
	FetchChildren(ctx context.Context, path string) ([]Entry, error)
	FetchCollection(ctx context.Context, path string) (*Entry, FetchResult, error)
}

// EventEntry builds the index entry for a master event.
func EventEntry(e *models.MasterEvent) Entry {
	return Entry{
		Href:    e.Href(),
		Kind:    "event",
		Path:    e.ColPath,
		Name:    e.Name,
		UID:     e.UID,
		Summary: e.Summary,
		Owner:   e.Owner,
	}
}

// CollectionEntry builds the index entry for a collection.
func CollectionEntry(c *models.Collection) Entry {
	return Entry{
		Href:  c.Path,
		Kind:  "collection",
		Path:  c.ParentPath,
		Name:  c.Name,
		Owner: c.Owner,
		Token: c.Token(),
	}
}

// Noop satisfies Indexer when no indexer is configured; callers detect it and
// use direct store queries for reads.
type Noop struct{}

func (Noop) IndexEntity(context.Context, Entry) error         { return nil }
func (Noop) UnindexEntity(context.Context, string) error      { return nil }
func (Noop) UnindexContained(context.Context, string) error   { return nil }
func (Noop) FetchChildren(context.Context, string) ([]Entry, error) {
	return nil, nil
}
func (Noop) FetchCollection(context.Context, string) (*Entry, FetchResult, error) {
	return nil, FetchNotFound, nil
}
