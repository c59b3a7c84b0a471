package models

import (
	"strings"
	"time"
)

// CollectionType distinguishes the node kinds of the collection hierarchy.
type CollectionType string

const (
	ColFolder        CollectionType = "folder"
	ColCalendar      CollectionType = "calendar"
	ColAlias         CollectionType = "alias"
	ColResources     CollectionType = "resources"
	ColInbox         CollectionType = "inbox"
	ColOutbox        CollectionType = "outbox"
	ColNotifications CollectionType = "notifications"
)

// Collection is one node of the hierarchical calendar tree. Paths are
// slash-separated and unique. An alias collection references another
// collection via AliasTarget; a disabled alias resolves to no target.
type Collection struct {
	ID          string         `db:"id" json:"id"`
	Path        string         `db:"path" json:"path"`
	ParentPath  string         `db:"parent_path" json:"parent_path"`
	Name        string         `db:"name" json:"name"`
	Type        CollectionType `db:"col_type" json:"type"`
	Owner       string         `db:"owner" json:"owner"`
	Creator     string         `db:"creator" json:"creator"`
	AliasTarget *string        `db:"alias_target" json:"alias_target,omitempty"`
	UniqueUID   bool           `db:"unique_uid" json:"unique_uid"`
	Disabled    bool           `db:"disabled" json:"disabled"`
	Tombstoned  bool           `db:"tombstoned" json:"tombstoned"`
	Shared      bool           `db:"shared" json:"shared"`
	Public      bool           `db:"public" json:"public"`
	Sequence    int            `db:"sequence" json:"sequence"`
	LastMod     time.Time      `db:"lastmod" json:"lastmod"`

	// Target caches the resolved alias target for the lifetime of this
	// in-memory object; it is never persisted.
	Target *Collection `db:"-" json:"-"`
	// AliasOrigin points back at the alias that produced this collection when
	// it was reached through alias resolution.
	AliasOrigin *Collection `db:"-" json:"-"`
}

// IsAlias reports whether this collection is a symbolic reference.
func (c *Collection) IsAlias() bool { return c.Type == ColAlias }

// CanContainEvents reports whether events may live directly in this node.
func (c *Collection) CanContainEvents() bool {
	return c.Type == ColCalendar || c.Type == ColInbox || c.Type == ColOutbox
}

// Token returns the collection's current sync token.
func (c *Collection) Token() string {
	return FormatSyncToken(c.LastMod, c.Sequence)
}

// AccessPath implements access.Entity.
func (c *Collection) AccessPath() string { return c.Path }

// AccessOwner implements access.Entity.
func (c *Collection) AccessOwner() string { return c.Owner }

// ChildPath joins a child name onto this collection's path.
func (c *Collection) ChildPath(name string) string {
	return JoinPath(c.Path, name)
}

// JoinPath joins path segments with single slashes.
func JoinPath(parent, name string) string {
	return strings.TrimRight(parent, "/") + "/" + strings.Trim(name, "/")
}

// ValidPath reports whether a collection path is well formed: absolute,
// no empty or dot segments.
func ValidPath(path string) bool {
	if path == "" || !strings.HasPrefix(path, "/") {
		return false
	}
	if path == "/" {
		return true
	}
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg == "" || seg == "." || seg == ".." {
			return false
		}
	}
	return !strings.HasSuffix(path, "/")
}
